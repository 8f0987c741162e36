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
	"errors"
	"log/slog"

	"github.com/AleutianAI/changeguard/services/changeguard/change"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const applyTracerName = "changeguard.apply"

// Tracer provides OpenTelemetry tracing for apply, rollback, and batch
// operations.
//
// # Description
//
// Wraps the OpenTelemetry tracer with pipeline-specific span creation.
// When disabled, returns noop spans.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a new tracer.
//
// # Inputs
//
//   - logger: Logger for structured logging. Uses slog.Default() if nil.
//   - enabled: Whether tracing is enabled. When false, uses noop spans.
func NewTracer(logger *slog.Logger, enabled bool) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(applyTracerName),
		logger:  logger,
		enabled: enabled,
	}
}

// StartApply starts a span for one apply call.
func (t *Tracer) StartApply(ctx context.Context, applier, unitID string) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	ctx, span := t.tracer.Start(ctx, "changeguard.apply",
		trace.WithAttributes(
			attribute.String("change.applier", applier),
			attribute.String("change.unit_id", truncateForTrace(unitID, 64)),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	t.logger.DebugContext(ctx, "applying change", slog.String("unit_id", unitID))
	return ctx, span
}

// EndApply completes an apply span.
//
// # Inputs
//
//   - span: The span to end.
//   - result: The apply result (may be nil after a panic).
func (t *Tracer) EndApply(span trace.Span, result *change.ChangeResult) {
	if span == nil {
		return
	}
	defer span.End()

	if result == nil {
		span.SetStatus(codes.Error, "no result")
		return
	}
	span.SetAttributes(
		attribute.Bool("change.success", result.Success),
		attribute.Int("change.issues", len(result.Issues)),
		attribute.Int("change.affected", len(result.AffectedDependents)),
	)
	if !result.Success {
		span.SetAttributes(attribute.String("change.kind", string(result.Kind)))
		span.RecordError(errors.New(truncateForTrace(result.Error, 200)))
		span.SetStatus(codes.Error, truncateForTrace(result.Error, 200))
		return
	}
	span.SetStatus(codes.Ok, "")
}

// StartRollback starts a span for a rollback or compensation.
func (t *Tracer) StartRollback(ctx context.Context, unitID string, compensating bool) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	return t.tracer.Start(ctx, "changeguard.rollback",
		trace.WithAttributes(
			attribute.String("change.unit_id", truncateForTrace(unitID, 64)),
			attribute.Bool("change.compensating", compensating),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndRollback completes a rollback span.
func (t *Tracer) EndRollback(span trace.Span, err error) {
	if span == nil {
		return
	}
	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// StartBatch starts a span for a batch of changes.
func (t *Tracer) StartBatch(ctx context.Context, batchID string, size int, transactional bool) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	ctx, span := t.tracer.Start(ctx, "changeguard.batch",
		trace.WithAttributes(
			attribute.String("batch.id", batchID),
			attribute.Int("batch.size", size),
			attribute.Bool("batch.transactional", transactional),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	t.logger.DebugContext(ctx, "applying batch",
		slog.String("batch_id", batchID),
		slog.Int("size", size),
	)
	return ctx, span
}

// EndBatch completes a batch span.
//
// # Inputs
//
//   - span: The span to end.
//   - applied: Number of members accepted.
//   - failed: Number of members reported as failed.
func (t *Tracer) EndBatch(span trace.Span, applied, failed int) {
	if span == nil {
		return
	}
	defer span.End()

	span.SetAttributes(
		attribute.Int("batch.applied", applied),
		attribute.Int("batch.failed", failed),
	)
	if failed > 0 {
		span.SetStatus(codes.Error, "batch had failures")
		return
	}
	span.SetStatus(codes.Ok, "")
}

// truncateForTrace truncates a string for use in span attributes.
//
// If maxLen is less than 4, returns at most maxLen characters without suffix.
func truncateForTrace(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 4 {
		if maxLen <= 0 {
			return ""
		}
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// LoggerWithTrace returns a logger with trace_id and span_id from ctx, if
// the context carries a valid span.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
