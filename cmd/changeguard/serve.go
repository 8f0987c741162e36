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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/changeguard/pkg/logging"
	"github.com/AleutianAI/changeguard/services/changeguard"
	"github.com/AleutianAI/changeguard/services/changeguard/apply"
	"github.com/AleutianAI/changeguard/services/changeguard/config"
	"github.com/AleutianAI/changeguard/services/changeguard/coordinate"
	"github.com/AleutianAI/changeguard/services/changeguard/journal"
	"github.com/AleutianAI/changeguard/services/changeguard/telemetry"
)

func (a *app) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the changeguard HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.runServe(ctx)
		},
	}
	cmd.Flags().String("addr", "", "Listen address, overrides server.addr (env CHANGEGUARD_ADDR)")
	cmd.Flags().Bool("debug", false, "Run gin in debug mode")
	_ = a.v.BindPFlag("addr", cmd.Flags().Lookup("addr"))
	_ = a.v.BindPFlag("debug", cmd.Flags().Lookup("debug"))
	return cmd
}

// runServe wires config, logging, telemetry, the journal and the HTTP
// server, then blocks until ctx is done and shuts down gracefully.
func (a *app) runServe(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if addr := a.v.GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	logger := logging.New(cfg.Logging)
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("Telemetry shutdown error", "error", err)
		}
	}()
	metricsOn := cfg.Telemetry.MetricExporter != telemetry.ExporterNone
	apply.SetMetricsEnabled(metricsOn)
	coordinate.SetMetricsEnabled(metricsOn)

	opts := []changeguard.ServiceOption{changeguard.WithLogger(logger.Slog())}
	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal, logger.Slog())
		if err != nil {
			return err
		}
		defer func() {
			if err := j.Close(); err != nil {
				slog.Warn("Journal close error", "error", err)
			}
		}()
		opts = append(opts, changeguard.WithJournal(j))
	}

	svc, err := changeguard.NewService(changeguard.ServiceConfig{
		Applier:   cfg.Applier,
		Conflicts: cfg.Conflicts,
		Tracing:   cfg.Telemetry.TraceExporter != telemetry.ExporterNone,
	}, opts...)
	if err != nil {
		return err
	}

	if path := a.v.GetString("config"); path != "" {
		err := config.Watch(ctx, path, func(next *config.Config) {
			svc.SetConflictConfig(next.Conflicts)
		}, logger.Slog())
		if err != nil {
			slog.Warn("Config hot reload disabled", "error", err)
		}
	}

	if a.v.GetBool("debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := changeguard.NewRouter(svc, cfg.Server)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting changeguard server",
			"addr", cfg.Server.Addr,
			"version", changeguard.ServiceVersion,
			"journal", cfg.Journal.Enabled,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	slog.Info("Server stopped")
	return nil
}
