// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func newPlain() (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewPrinter(&out, &errOut, ModePlain), &out, &errOut
}

// =============================================================================
// Icon.Render Tests
// =============================================================================

func TestIcon_Render(t *testing.T) {
	for _, icon := range []Icon{IconSuccess, IconWarning, IconError} {
		if !strings.Contains(icon.Render(), string(icon)) {
			t.Errorf("Render(%q) lost the glyph", icon)
		}
	}
	if IconArrow.Render() != string(IconArrow) {
		t.Errorf("unstyled icon changed: %q", IconArrow.Render())
	}
}

// =============================================================================
// Mode Tests
// =============================================================================

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"rich": ModeRich, "FULL": ModeRich, " standard ": ModeRich,
		"plain": ModePlain, "machine": ModePlain, "": ModePlain,
	}
	for in, want := range tests {
		if got := ParseMode(in); got != want {
			t.Errorf("ParseMode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDetectMode(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	t.Setenv("CHANGEGUARD_OUTPUT", "")
	t.Setenv("NO_COLOR", "")
	if got := DetectMode(f); got != ModePlain {
		t.Errorf("regular file: got %q, want plain", got)
	}

	t.Setenv("CHANGEGUARD_OUTPUT", "rich")
	if got := DetectMode(f); got != ModeRich {
		t.Errorf("env override: got %q, want rich", got)
	}
}

// =============================================================================
// Printer Tests
// =============================================================================

func TestPrinter_PlainMessages(t *testing.T) {
	p, out, errOut := newPlain()
	p.Title("hidden")
	p.Success("applied header")
	p.Info("2 issues")
	p.Box("Unit", "header")
	p.Warning("dependents affected")
	p.Error("sandbox failed")
	p.Summary(1, 2, 3)

	wantOut := "OK: applied header\n2 issues\nUnit: header\nSUMMARY: applied=1 failed=2 total=3\n"
	if out.String() != wantOut {
		t.Errorf("stdout = %q, want %q", out.String(), wantOut)
	}
	wantErr := "WARN: dependents affected\nERROR: sandbox failed\n"
	if errOut.String() != wantErr {
		t.Errorf("stderr = %q, want %q", errOut.String(), wantErr)
	}
}

func TestPrinter_Diff(t *testing.T) {
	unified := "--- a/x\n+++ b/x\n@@ -1 +1 @@\n-old\n+new\n"

	p, out, _ := newPlain()
	p.Diff(unified)
	if out.String() != unified {
		t.Errorf("plain diff altered: %q", out.String())
	}

	out.Reset()
	p.Diff("")
	if out.Len() != 0 {
		t.Errorf("empty diff wrote %q", out.String())
	}

	var rich bytes.Buffer
	NewPrinter(&rich, &rich, ModeRich).Diff(unified)
	if !strings.Contains(rich.String(), "\x1b[") {
		t.Errorf("rich diff has no colour codes: %q", rich.String())
	}
	if !strings.Contains(rich.String(), "+new") {
		t.Errorf("rich diff lost content: %q", rich.String())
	}
}

func TestPrinter_Table(t *testing.T) {
	header := []string{"ID", "KIND"}
	rows := [][]string{{"c1", "overlapping"}, {"c2", "import"}}

	p, out, _ := newPlain()
	p.Table(header, rows)
	want := "ID\tKIND\nc1\toverlapping\nc2\timport\n"
	if out.String() != want {
		t.Errorf("plain table = %q, want %q", out.String(), want)
	}

	var rich bytes.Buffer
	NewPrinter(&rich, &rich, ModeRich).Table(header, rows)
	for _, s := range []string{"KIND", "c1", "overlapping", "import"} {
		if !strings.Contains(rich.String(), s) {
			t.Errorf("rich table missing %q: %q", s, rich.String())
		}
	}
}
