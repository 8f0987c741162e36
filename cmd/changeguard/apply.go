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
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/changeguard/services/changeguard"
	"github.com/AleutianAI/changeguard/services/changeguard/change"
)

type applyOptions struct {
	unit       string
	current    string
	proposed   string
	dependents []string
	write      bool
	asJSON     bool
}

func (a *app) newApplyCmd() *cobra.Command {
	var opts applyOptions
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Validate and apply a proposed source file to a unit",
		Long: `Runs the proposed source through validation, dependency impact
analysis and the sandbox against the current source.

Dependents are given as id=path pairs; their sources are used to report
which of them the change may break.`,
		Example: `  changeguard apply --unit Header --current Header.tsx --proposed Header.new.tsx
  changeguard apply --unit Header --current Header.tsx --proposed Header.new.tsx \
      --dependent Page=Page.tsx --write`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runApply(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.unit, "unit", "", "Unit id (required)")
	cmd.Flags().StringVar(&opts.current, "current", "", "File with the current source (required)")
	cmd.Flags().StringVar(&opts.proposed, "proposed", "", "File with the proposed source (required)")
	cmd.Flags().StringArrayVar(&opts.dependents, "dependent", nil, "Dependent unit as id=path, repeatable")
	cmd.Flags().BoolVar(&opts.write, "write", false, "Write the proposed source over --current on success")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "Print the result as JSON")
	_ = cmd.MarkFlagRequired("unit")
	_ = cmd.MarkFlagRequired("current")
	_ = cmd.MarkFlagRequired("proposed")
	return cmd
}

func (a *app) runApply(cmd *cobra.Command, opts applyOptions) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	current, err := os.ReadFile(opts.current)
	if err != nil {
		return fmt.Errorf("read current source: %w", err)
	}
	proposed, err := os.ReadFile(opts.proposed)
	if err != nil {
		return fmt.Errorf("read proposed source: %w", err)
	}

	// Only error-level library logs reach stderr.
	quiet := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelError}))
	svc, err := changeguard.NewService(changeguard.ServiceConfig{
		Applier:   cfg.Applier,
		Conflicts: cfg.Conflicts,
	}, changeguard.WithLogger(quiet))
	if err != nil {
		return err
	}

	var depIDs []string
	for _, pair := range opts.dependents {
		id, path, ok := strings.Cut(pair, "=")
		if !ok || id == "" || path == "" {
			return fmt.Errorf("invalid --dependent %q, want id=path", pair)
		}
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read dependent %s: %w", id, err)
		}
		if _, _, err := svc.PutUnit(id, changeguard.PutUnitRequest{Source: string(src)}); err != nil {
			return err
		}
		depIDs = append(depIDs, id)
	}
	if _, _, err := svc.PutUnit(opts.unit, changeguard.PutUnitRequest{
		Source:     string(current),
		Dependents: depIDs,
	}); err != nil {
		return err
	}

	res, _ := svc.Apply(cmd.Context(), change.NewRequest(opts.unit, string(proposed)))

	if res.Success && opts.write {
		info, err := os.Stat(opts.current)
		if err != nil {
			return fmt.Errorf("stat current source: %w", err)
		}
		if err := os.WriteFile(opts.current, []byte(res.NewSource), info.Mode().Perm()); err != nil {
			return fmt.Errorf("write current source: %w", err)
		}
	}

	if opts.asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(changeguard.ApplyResponse{Result: res, Committed: res.Success && opts.write}); err != nil {
			return err
		}
	} else {
		a.printApplyResult(res, opts)
	}

	if !res.Success {
		return errChangeRejected
	}
	return nil
}

func (a *app) printApplyResult(res *change.ChangeResult, opts applyOptions) {
	p := a.printer
	p.Title("changeguard apply " + opts.unit)

	if res.Success {
		p.Success("change accepted for " + res.UnitID)
	} else {
		p.Error(fmt.Sprintf("%s: %s", res.Kind, res.Error))
	}
	p.Diff(res.Diff)

	if len(res.Issues) > 0 {
		rows := make([][]string, 0, len(res.Issues))
		for _, is := range res.Issues {
			line := ""
			if is.Line > 0 {
				line = strconv.Itoa(is.Line)
			}
			rows = append(rows, []string{string(is.Severity), is.Stage, line, is.Message})
		}
		p.Table([]string{"SEVERITY", "STAGE", "LINE", "MESSAGE"}, rows)
	}
	for _, dep := range res.AffectedDependents {
		p.Warning("dependent may break: " + dep)
	}
	if res.Success && opts.write {
		p.Info("wrote " + opts.current)
	}
}
