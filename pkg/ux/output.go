// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders changeguard CLI output.
//
// A Printer writes either rich output (lipgloss boxes, coloured diffs,
// bordered tables) or plain tab-separated lines for scripts. DetectMode
// picks rich output only for terminals.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
)

// Changeguard color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title   lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Success: lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// =============================================================================
// Mode
// =============================================================================

// Mode selects rich or plain output.
type Mode string

const (
	// ModeRich uses colour, boxes and bordered tables.
	ModeRich Mode = "rich"

	// ModePlain writes stable, prefix-tagged lines for scripting.
	ModePlain Mode = "plain"
)

// ParseMode converts a flag or env value. Unknown values are plain.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rich", "full", "standard":
		return ModeRich
	default:
		return ModePlain
	}
}

// DetectMode returns the mode for f.
//
// CHANGEGUARD_OUTPUT overrides detection. Otherwise NO_COLOR or a
// non-terminal f yields ModePlain.
func DetectMode(f *os.File) Mode {
	if env := os.Getenv("CHANGEGUARD_OUTPUT"); env != "" {
		return ParseMode(env)
	}
	if os.Getenv("NO_COLOR") != "" {
		return ModePlain
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return ModeRich
	}
	return ModePlain
}

// =============================================================================
// Printer
// =============================================================================

// Printer writes CLI output.
//
// # Thread Safety
//
// Not safe for concurrent use; commands print from one goroutine.
type Printer struct {
	out  io.Writer
	err  io.Writer
	mode Mode

	added   *color.Color
	removed *color.Color
	hunk    *color.Color
}

// NewPrinter creates a Printer. Warnings and errors go to errOut.
func NewPrinter(out, errOut io.Writer, mode Mode) *Printer {
	p := &Printer{
		out:     out,
		err:     errOut,
		mode:    mode,
		added:   color.New(color.FgGreen),
		removed: color.New(color.FgRed),
		hunk:    color.New(color.FgCyan, color.Bold),
	}
	if mode == ModeRich {
		p.added.EnableColor()
		p.removed.EnableColor()
		p.hunk.EnableColor()
	} else {
		p.added.DisableColor()
		p.removed.DisableColor()
		p.hunk.DisableColor()
	}
	return p
}

// Mode returns the output mode.
func (p *Printer) Mode() Mode { return p.mode }

// Title prints a styled title. Plain mode prints nothing.
func (p *Printer) Title(text string) {
	if p.mode == ModePlain {
		return
	}
	fmt.Fprintln(p.out, Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.out, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.err, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.err, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error message
func (p *Printer) Error(text string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.err, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.err, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	if p.mode == ModePlain {
		fmt.Fprintln(p.out, text)
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Box prints text in a rounded box
func (p *Printer) Box(title, content string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.out, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.out, Styles.Box.Width(72).Render(Styles.Title.Render(title)+"\n"+content))
}

// Diff prints a unified diff, colouring added, removed and hunk lines.
func (p *Printer) Diff(unified string) {
	if unified == "" {
		return
	}
	for _, line := range strings.SplitAfter(unified, "\n") {
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			fmt.Fprint(p.out, line)
		case strings.HasPrefix(line, "@@"):
			p.hunk.Fprint(p.out, line)
		case strings.HasPrefix(line, "+"):
			p.added.Fprint(p.out, line)
		case strings.HasPrefix(line, "-"):
			p.removed.Fprint(p.out, line)
		default:
			fmt.Fprint(p.out, line)
		}
	}
	if !strings.HasSuffix(unified, "\n") {
		fmt.Fprintln(p.out)
	}
}

// Table prints rows under a header. Plain mode writes tab-separated lines
// with the header first.
func (p *Printer) Table(header []string, rows [][]string) {
	if p.mode == ModePlain {
		fmt.Fprintln(p.out, strings.Join(header, "\t"))
		for _, row := range rows {
			fmt.Fprintln(p.out, strings.Join(row, "\t"))
		}
		return
	}
	table := tablewriter.NewWriter(p.out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator(" ")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk(rows)
	table.Render()
}

// Summary prints a summary line with counts
func (p *Printer) Summary(applied, failed, total int) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.out, "SUMMARY: applied=%d failed=%d total=%d\n", applied, failed, total)
		return
	}
	fmt.Fprintf(p.out, "\n%s %s  %s %s  %s %s\n",
		Styles.Success.Render(fmt.Sprintf("%d", applied)), Styles.Muted.Render("applied"),
		Styles.Error.Render(fmt.Sprintf("%d", failed)), Styles.Muted.Render("failed"),
		Styles.Title.Render(fmt.Sprintf("%d", total)), Styles.Muted.Render("total"),
	)
}
