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
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AleutianAI/changeguard/pkg/ux"
	"github.com/AleutianAI/changeguard/services/changeguard/config"
)

// errChangeRejected makes the process exit non-zero after the rejection
// was already printed.
var errChangeRejected = errors.New("change rejected")

// app carries per-invocation state shared by subcommands.
type app struct {
	v       *viper.Viper
	printer *ux.Printer
}

// newRootCmd builds the command tree. Each call returns a fresh tree so
// tests can run commands in isolation.
func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	a.v.SetEnvPrefix("CHANGEGUARD")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "changeguard",
		Short: "Validate, apply and reconcile code changes",
		Long: `changeguard runs proposed source changes through syntax, security and
pattern validation, dependency impact analysis and a sandbox before
accepting them, and detects conflicts between concurrent edits.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			mode := ux.DetectMode(os.Stdout)
			if out := a.v.GetString("output"); out != "" {
				mode = ux.ParseMode(out)
			}
			a.printer = ux.NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode)
		},
	}

	root.PersistentFlags().String("config", "", "Path to a YAML config file (env CHANGEGUARD_CONFIG)")
	root.PersistentFlags().String("output", "", "Output style: rich or plain (env CHANGEGUARD_OUTPUT)")
	_ = a.v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = a.v.BindPFlag("output", root.PersistentFlags().Lookup("output"))

	root.AddCommand(a.newServeCmd(), a.newApplyCmd(), a.newConflictsCmd())
	return root
}

// loadConfig loads the configured file over the embedded defaults.
func (a *app) loadConfig() (*config.Config, error) {
	return config.Load(a.v.GetString("config"))
}
