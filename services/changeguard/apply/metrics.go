// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package apply

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/changeguard/services/changeguard/change"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for apply metrics.
var meter = otel.Meter("changeguard.apply")

// Metric instruments, initialized lazily.
var (
	applyTotal    metric.Int64Counter
	applyDuration metric.Float64Histogram
	issuesTotal   metric.Int64Counter
	rollbackTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// metricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Uses atomic operations for safe concurrent access.
var metricsEnabled atomic.Bool

func init() {
	metricsEnabled.Store(true)
}

// SetMetricsEnabled controls whether metrics are recorded.
//
// Thread Safety: Safe for concurrent use.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// initMetrics initializes all metric instruments.
// Safe to call multiple times; uses sync.Once internally.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		applyTotal, err = meter.Int64Counter(
			"changeguard_apply_total",
			metric.WithDescription("Total number of change applications"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		applyDuration, err = meter.Float64Histogram(
			"changeguard_apply_duration_seconds",
			metric.WithDescription("Duration of change applications in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		issuesTotal, err = meter.Int64Counter(
			"changeguard_validation_issues_total",
			metric.WithDescription("Total number of validation issues reported"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rollbackTotal, err = meter.Int64Counter(
			"changeguard_rollback_total",
			metric.WithDescription("Total number of rollbacks"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordApply records one apply call.
//
// # Inputs
//
//   - ctx: Context for metric recording.
//   - applier: Applier name.
//   - result: The apply result. Nil is ignored.
//   - duration: Wall time of the call.
func recordApply(ctx context.Context, applier string, result *change.ChangeResult, duration time.Duration) {
	if result == nil || !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	status := "success"
	if !result.Success {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("applier", applier),
		attribute.String("status", status),
		attribute.String("kind", string(result.Kind)),
	)
	applyTotal.Add(ctx, 1, attrs)
	applyDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("status", status)))

	for _, issue := range result.Issues {
		issuesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", issue.Stage),
			attribute.String("severity", string(issue.Severity)),
		))
	}
}

// recordRollback records an explicit or compensating rollback.
func recordRollback(ctx context.Context, applier string, compensating, success bool) {
	if !metricsEnabled.Load() {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}
	rollbackTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("applier", applier),
		attribute.String("compensating", strconv.FormatBool(compensating)),
		attribute.String("status", status),
	))
}
