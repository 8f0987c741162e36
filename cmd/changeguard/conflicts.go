// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/AleutianAI/changeguard/pkg/ux"
	"github.com/AleutianAI/changeguard/services/changeguard/conflict"
)

func (a *app) newConflictsCmd() *cobra.Command {
	var (
		asJSON         bool
		failUnresolved bool
	)
	cmd := &cobra.Command{
		Use:   "conflicts <changes.json>",
		Short: "Detect and auto-resolve conflicts between edits",
		Long: `Reads a JSON array of edits, or an object with a "changes" array, and
reports every conflicting pair. Conflicts at or below the configured
severity ceiling are resolved automatically.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := readChanges(args[0])
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}

			quiet := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelError}))
			engine := conflict.NewEngine(cfg.Conflicts, conflict.WithLogger(quiet))
			report, err := engine.DetectAndResolve(cmd.Context(), changes)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				a.printReport(report)
			}

			if failUnresolved && len(report.Unresolved) > 0 {
				return errChangeRejected
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	cmd.Flags().BoolVar(&failUnresolved, "fail-on-unresolved", false, "Exit non-zero when any conflict needs manual resolution")
	return cmd
}

// readChanges accepts a bare array or {"changes": [...]}.
func readChanges(path string) ([]conflict.CodeChange, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read changes: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%s: invalid JSON", path)
	}
	raw := data
	if wrapped := gjson.GetBytes(data, "changes"); wrapped.IsArray() {
		raw = []byte(wrapped.Raw)
	}

	var changes []conflict.CodeChange
	if err := json.Unmarshal(raw, &changes); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return changes, nil
}

func (a *app) printReport(report *conflict.Report) {
	p := a.printer
	p.Title("changeguard conflicts")

	if len(report.Conflicts) == 0 {
		p.Success(fmt.Sprintf("no conflicts in %d change(s)", report.Stats.TotalChanges))
		return
	}

	rows := make([][]string, 0, len(report.Conflicts))
	for _, c := range report.Conflicts {
		rows = append(rows, []string{
			c.ID,
			c.First.ID + " " + string(ux.IconArrow) + " " + c.Second.ID,
			c.First.FilePath,
			string(c.Kind),
			c.Severity.String(),
			string(c.Strategy),
			c.Description,
		})
	}
	p.Table([]string{"CONFLICT", "CHANGES", "FILE", "KIND", "SEVERITY", "STRATEGY", "DESCRIPTION"}, rows)

	for _, rc := range report.AutoResolved {
		msg := fmt.Sprintf("%s resolved with %s", rc.Conflict.ID, rc.Resolution.Strategy)
		if len(rc.Resolution.Notes) > 0 {
			msg += " (" + strings.Join(rc.Resolution.Notes, "; ") + ")"
		}
		p.Success(msg)
	}
	for _, c := range report.Unresolved {
		alts := make([]string, len(c.Alternatives))
		for i, s := range c.Alternatives {
			alts[i] = string(s)
		}
		p.Warning(fmt.Sprintf("%s needs review, options: %s", c.ID, strings.Join(alts, ", ")))
	}
	p.Info(fmt.Sprintf("%d conflict(s), %d auto-resolved, %d unresolved, %d clean change(s)",
		report.Stats.Conflicts, report.Stats.AutoResolved, report.Stats.Unresolved, len(report.NonConflicting)))
}
