// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]Level{
		"debug": LevelDebug, "INFO": LevelInfo, " warn ": LevelWarn,
		"warning": LevelWarn, "Error": LevelError,
	} {
		got, err := ParseLevel(name)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); !errors.Is(err, ErrUnknownLevel) {
		t.Errorf("ParseLevel(loud) error = %v, want ErrUnknownLevel", err)
	}
}

func TestConfig_YAML(t *testing.T) {
	var cfg Config
	err := yaml.Unmarshal([]byte("level: debug\njson: true\nservice: changeguard\n"), &cfg)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if cfg.Level != LevelDebug || !cfg.JSON || cfg.Service != "changeguard" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Service: "svc"})
	logger.Slog().Info("applied", "unit", "btn")

	out := buf.String()
	for _, want := range []string{"msg=applied", "unit=btn", "service=svc"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Output: &buf, JSON: true}).Slog().Warn("slow", "ms", 12)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if record["msg"] != "slow" || record["level"] != "WARN" {
		t.Errorf("unexpected record: %v", record)
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf, Level: LevelWarn})
	logger.Slog().Debug("hidden")
	logger.Slog().Info("hidden")
	logger.Slog().Error("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("records below Warn were written: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("error record missing: %q", buf.String())
	}
}

func TestNew_WithLogDir(t *testing.T) {
	var buf bytes.Buffer
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Service: "test", Output: &buf})
	logger.Slog().Info("to both")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if filepath.Dir(logger.FilePath()) != dir {
		t.Errorf("FilePath() = %q, want a file in %q", logger.FilePath(), dir)
	}
	if !strings.HasPrefix(filepath.Base(logger.FilePath()), "test_") {
		t.Errorf("file name %q missing service prefix", logger.FilePath())
	}
	data, err := os.ReadFile(logger.FilePath())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"to both"`) {
		t.Errorf("file missing JSON record: %q", data)
	}
	if !strings.Contains(buf.String(), "to both") {
		t.Errorf("stderr copy missing: %q", buf.String())
	}
}

func TestNew_UnwritableLogDir(t *testing.T) {
	var buf bytes.Buffer
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0600); err != nil {
		t.Fatal(err)
	}

	logger := New(Config{LogDir: filepath.Join(blocker, "logs"), Output: &buf})
	if logger.FilePath() != "" {
		t.Errorf("FilePath() = %q, want empty", logger.FilePath())
	}
	if !strings.Contains(buf.String(), "file logging disabled") {
		t.Errorf("missing warning: %q", buf.String())
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestLogger_CloseTwice(t *testing.T) {
	logger := New(Config{LogDir: t.TempDir(), Quiet: true})
	child := logger.With("k", "v")
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := child.Close(); err != nil {
		t.Errorf("child Close after parent: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Output: &buf}).With("request_id", "r-1")
	logger.Slog().Info("handled")
	if !strings.Contains(buf.String(), "request_id=r-1") {
		t.Errorf("child attribute missing: %q", buf.String())
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	logger := New(Config{LogDir: t.TempDir(), Quiet: true})
	defer logger.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				logger.Slog().Info("concurrent", slog.Int("g", n), slog.Int("i", j))
			}
		}(i)
	}
	wg.Wait()
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestMultiHandler_Enabled(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelError}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}}
	slog.New(h).Info("only b")
	if a.Len() != 0 {
		t.Errorf("error-level handler wrote an info record: %q", a.String())
	}
	if !strings.Contains(b.String(), "only b") {
		t.Errorf("debug-level handler missed the record: %q", b.String())
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q", got)
	}
}
