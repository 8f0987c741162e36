// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package coordinate routes changes to appliers and runs batches.
//
// A Coordinator is constructed and injected by its owner. It picks an
// applier per unit from the capability registry, caches the choice by unit
// id, and implements transactional batches with compensation.
package coordinate

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/changeguard/services/changeguard/apply"
	"github.com/AleutianAI/changeguard/services/changeguard/change"
	"github.com/AleutianAI/changeguard/services/changeguard/events"
)

// MessageBatchAborted is the error of members skipped because another
// member of a transactional batch failed validation.
const MessageBatchAborted = "not applied: batch validation failed"

// Coordinator routes changes to the applier that supports each unit.
//
// # Thread Safety
//
// Safe for concurrent use. The applier cache is read/insert only and cache
// fills for the same unit id are de-duplicated.
type Coordinator struct {
	registry  *apply.Registry
	publisher events.Publisher
	logger    *slog.Logger
	tracer    *apply.Tracer

	mu       sync.RWMutex
	appliers []*apply.Applier
	cache    map[string]*apply.Applier
	fill     singleflight.Group
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPublisher sets the publisher for coordinator-level events.
func WithPublisher(p events.Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithTracer sets the tracer used for batch spans.
func WithTracer(t *apply.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// New creates a coordinator over a capability registry. Appliers are added
// with Register.
func New(registry *apply.Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry: registry,
		cache:    make(map[string]*apply.Applier),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.publisher == nil {
		c.publisher = events.NewEmitter()
	}
	if c.logger == nil {
		c.logger = slog.Default().With("component", "coordinate.Coordinator")
	}
	if c.tracer == nil {
		c.tracer = apply.NewTracer(c.logger, false)
	}
	return c
}

// NewDefault builds the default registry, one applier for every registered
// type sharing the publisher, and a coordinator over them.
func NewDefault(cfg apply.Config, publisher events.Publisher, logger *slog.Logger, tracer *apply.Tracer, sandboxGlobals ...string) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	registry := apply.DefaultRegistry(sandboxGlobals...)
	a, err := apply.NewApplier("components", registry, cfg, registry.Types(),
		apply.WithPublisher(publisher),
		apply.WithLogger(logger.With("component", "apply.Applier")),
		apply.WithTracer(tracer),
	)
	if err != nil {
		return nil, err
	}

	c := New(registry,
		WithPublisher(publisher),
		WithLogger(logger.With("component", "coordinate.Coordinator")),
		WithTracer(tracer),
	)
	c.Register(a)
	return c, nil
}

// Register adds an applier. Appliers are consulted in registration order.
func (c *Coordinator) Register(a *apply.Applier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appliers = append(c.appliers, a)
}

// Appliers returns the registered appliers in order.
func (c *Coordinator) Appliers() []*apply.Applier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.appliers)
}

// ApplyOne applies a single change.
//
// # Description
//
// Resolves the unit, selects its applier (cached by unit id) and delegates.
// The unit type is detected from the current source, falling back to the
// proposed source for units not yet recognisable.
//
// # Inputs
//
//   - ctx: Cancellation and trace context.
//   - req: The change request.
//   - lookup: Resolves unit ids.
//   - dependents: Lists dependents. Nil skips the impact step.
//
// # Outputs
//
//   - *change.ChangeResult: Never nil. KindNoApplier when no applier
//     supports the unit type.
func (c *Coordinator) ApplyOne(ctx context.Context, req change.ChangeRequest, lookup change.LookupFunc, dependents change.DependentsFunc) (result *change.ChangeResult) {
	defer c.recoverResult(req.UnitID, &result)
	result, _ = c.applyOne(ctx, req, lookup, dependents)
	return result
}

func (c *Coordinator) applyOne(ctx context.Context, req change.ChangeRequest, lookup change.LookupFunc, dependents change.DependentsFunc) (*change.ChangeResult, *apply.Applier) {
	if lookup == nil {
		return change.Failed(req.UnitID, change.KindNotFound, change.ErrUnitNotFound.Error()), nil
	}
	unit, ok := lookup(req.UnitID)
	if !ok {
		return change.Failed(req.UnitID, change.KindNotFound,
			fmt.Sprintf("%v: %s", change.ErrUnitNotFound, req.UnitID)), nil
	}
	proposed, _ := req.ProposedText()

	a, err := c.applierFor(unit, proposed)
	if err != nil {
		return change.Failed(req.UnitID, change.KindNoApplier, err.Error()), nil
	}
	return a.Apply(ctx, req, lookup, dependents), a
}

// applierFor returns the cached applier for a unit or selects one.
func (c *Coordinator) applierFor(unit change.CodeUnit, proposed string) (*apply.Applier, error) {
	c.mu.RLock()
	a, ok := c.cache[unit.ID]
	c.mu.RUnlock()
	if ok {
		return a, nil
	}

	v, err, _ := c.fill.Do(unit.ID, func() (any, error) {
		t := c.registry.Detect(unit.Source)
		if t == apply.TypeUnknown {
			t = c.registry.Detect(proposed)
		}
		selected := c.findApplier(t)
		if selected == nil {
			return nil, fmt.Errorf("%w: unit %s has type %s", change.ErrNoApplier, unit.ID, t)
		}

		c.mu.Lock()
		c.cache[unit.ID] = selected
		c.mu.Unlock()
		c.logger.Debug("applier selected",
			slog.String("unit_id", unit.ID),
			slog.String("type", string(t)),
			slog.String("applier", selected.Name()),
		)
		return selected, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*apply.Applier), nil
}

// findApplier returns the first applier supporting every given type.
func (c *Coordinator) findApplier(types ...apply.UnitType) *apply.Applier {
	if slices.Contains(types, apply.TypeUnknown) {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, a := range c.appliers {
		if a.Supports(types...) {
			return a
		}
	}
	return nil
}

// commonApplier returns one applier able to handle every batch member, or
// nil when members need different appliers.
func (c *Coordinator) commonApplier(ids []string, changes map[string]change.ChangeRequest, lookup change.LookupFunc) *apply.Applier {
	if lookup == nil {
		return nil
	}
	var types []apply.UnitType
	for _, id := range ids {
		unit, ok := lookup(id)
		if !ok {
			return nil
		}
		t := c.registry.Detect(unit.Source)
		if t == apply.TypeUnknown {
			proposed, _ := changes[id].ProposedText()
			t = c.registry.Detect(proposed)
		}
		if !slices.Contains(types, t) {
			types = append(types, t)
		}
	}
	return c.findApplier(types...)
}

// ValidateChanges runs only the validation stages for each member.
//
// Nothing is mutated: no backups are pushed and no events are published.
//
// # Outputs
//
//   - map[string]*change.ValidationResult: One result per id.
func (c *Coordinator) ValidateChanges(ctx context.Context, ids []string, changes map[string]change.ChangeRequest, lookup change.LookupFunc) map[string]*change.ValidationResult {
	out := make(map[string]*change.ValidationResult, len(ids))
	for _, id := range ids {
		out[id] = c.validateOne(ctx, id, changes, lookup)
	}
	return out
}

func (c *Coordinator) validateOne(ctx context.Context, id string, changes map[string]change.ChangeRequest, lookup change.LookupFunc) (vr *change.ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic during validation",
				slog.String("unit_id", id),
				slog.Any("panic", r),
			)
			vr = change.NewValidationResult()
			vr.Fail(fmt.Sprintf("internal error: %v", r))
			vr.Kind = change.KindInternal
		}
	}()

	vr = change.NewValidationResult()
	req, ok := changes[id]
	if !ok {
		vr.Fail(fmt.Sprintf("no change supplied for unit %s", id))
		vr.Kind = change.KindInvalidRequest
		return vr
	}
	proposed, ok := req.ProposedText()
	if !ok {
		vr.Fail(change.ErrUndefinedSource.Error())
		vr.Kind = change.KindInvalidRequest
		return vr
	}
	var unit change.CodeUnit
	if lookup != nil {
		unit, ok = lookup(id)
	}
	if !ok {
		vr.Fail(fmt.Sprintf("%v: %s", change.ErrUnitNotFound, id))
		vr.Kind = change.KindNotFound
		return vr
	}
	a, err := c.applierFor(unit, proposed)
	if err != nil {
		vr.Fail(err.Error())
		vr.Kind = change.KindNoApplier
		return vr
	}
	return a.Validate(ctx, unit, proposed)
}

// ApplyBatch applies several changes, optionally as one transaction.
//
// # Description
//
// Transactional batches are validated up front; if any member fails
// validation every member is reported and nothing is applied. Members are
// then applied in ids order. On the first failure in a transactional batch
// every member applied so far is compensated from its backup and reported
// with change.KindRolledBack, and processing stops: members after the
// failing one get no result.
//
// Non-transactional batches apply every member and report each result.
//
// # Inputs
//
//   - ctx: Cancellation and trace context.
//   - ids: Member unit ids in application order.
//   - changes: Change request per id.
//   - transactional: All-or-nothing semantics.
//   - lookup: Resolves unit ids.
//   - dependents: Lists dependents. Nil skips the impact step.
//
// # Outputs
//
//   - map[string]*change.ChangeResult: Results keyed by unit id.
//
// # Example
//
//	results := coord.ApplyBatch(ctx, []string{"x", "y"}, reqs, true, reg.Lookup, reg.Dependents)
func (c *Coordinator) ApplyBatch(ctx context.Context, ids []string, changes map[string]change.ChangeRequest, transactional bool, lookup change.LookupFunc, dependents change.DependentsFunc) (results map[string]*change.ChangeResult) {
	start := time.Now()
	batchID := uuid.NewString()
	ctx, span := c.tracer.StartBatch(ctx, batchID, len(ids), transactional)
	results = make(map[string]*change.ChangeResult, len(ids))

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic during batch",
				slog.String("batch_id", batchID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			for _, id := range ids {
				if _, done := results[id]; !done {
					results[id] = change.Failed(id, change.KindInternal, fmt.Sprintf("internal error: %v", r))
					break
				}
			}
		}
		applied, failed := tally(results)
		c.tracer.EndBatch(span, applied, failed)
		recordBatch(ctx, transactional, len(ids), failed == 0, time.Since(start))
	}()

	logger := apply.LoggerWithTrace(ctx, c.logger).With(
		slog.String("batch_id", batchID),
		slog.Bool("transactional", transactional),
	)

	if transactional && c.abortOnValidation(ctx, ids, changes, lookup, results) {
		logger.Info("batch rejected during validation", slog.Int("size", len(ids)))
		return results
	}

	common := c.commonApplier(ids, changes, lookup)
	var done []member
	for _, id := range ids {
		req, ok := changes[id]
		if !ok {
			req = change.ChangeRequest{UnitID: id}
		}
		if req.UnitID == "" {
			req.UnitID = id
		}

		var (
			res  *change.ChangeResult
			used *apply.Applier
		)
		if common != nil {
			res, used = common.Apply(ctx, req, lookup, dependents), common
		} else {
			res, used = c.applyOne(ctx, req, lookup, dependents)
		}
		results[id] = res

		if res.Success {
			done = append(done, member{id: id, applier: used})
			continue
		}
		if transactional {
			logger.Warn("batch member failed, compensating",
				slog.String("unit_id", id),
				slog.String("kind", string(res.Kind)),
				slog.Int("compensating", len(done)),
			)
			c.compensate(ctx, batchID, done, results)
			return results
		}
	}
	return results
}

type member struct {
	id      string
	applier *apply.Applier
}

// abortOnValidation fills results and returns true when any member of a
// transactional batch fails validation.
func (c *Coordinator) abortOnValidation(ctx context.Context, ids []string, changes map[string]change.ChangeRequest, lookup change.LookupFunc, results map[string]*change.ChangeResult) bool {
	validations := c.ValidateChanges(ctx, ids, changes, lookup)
	failed := false
	for _, vr := range validations {
		if !vr.Success {
			failed = true
			break
		}
	}
	if !failed {
		return false
	}

	for _, id := range ids {
		vr := validations[id]
		if vr.Success {
			results[id] = change.Failed(id, change.KindBatchAborted, MessageBatchAborted)
			results[id].Issues = vr.Issues
			continue
		}
		results[id] = &change.ChangeResult{
			UnitID: id,
			Issues: vr.Issues,
			Error:  vr.Error,
			Kind:   vr.Kind,
		}
	}
	return true
}

// compensate undoes already-applied members in reverse order. Failures are
// logged and do not stop compensation of the remaining members.
func (c *Coordinator) compensate(ctx context.Context, batchID string, done []member, results map[string]*change.ChangeResult) {
	for i := len(done) - 1; i >= 0; i-- {
		m := done[i]
		prior := results[m.id]
		if _, err := m.applier.Compensate(ctx, m.id, batchID); err != nil {
			c.logger.Error("compensation failed",
				slog.String("batch_id", batchID),
				slog.String("unit_id", m.id),
				slog.String("error", err.Error()),
			)
		}
		results[m.id] = &change.ChangeResult{
			UnitID:             m.id,
			Diff:               prior.Diff,
			AffectedDependents: prior.AffectedDependents,
			Issues:             prior.Issues,
			Error:              change.MessageRolledBack,
			Kind:               change.KindRolledBack,
		}
	}
}

// Rollback pops the most recent backup of a unit.
//
// # Description
//
// Uses the unit's cached applier. For uncached units every registered
// applier is tried in order and the first holding a backup wins. When none
// holds one, rollback_failed is published and ("", false) returned.
//
// # Outputs
//
//   - string: Restored source for the caller to re-apply.
//   - bool: False when no backup exists.
func (c *Coordinator) Rollback(ctx context.Context, unitID string) (src string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic during rollback",
				slog.String("unit_id", unitID),
				slog.Any("panic", r),
			)
			src, ok = "", false
		}
	}()

	c.mu.RLock()
	cached, isCached := c.cache[unitID]
	appliers := slices.Clone(c.appliers)
	c.mu.RUnlock()

	if isCached {
		return cached.Rollback(ctx, unitID)
	}
	for _, a := range appliers {
		if a.Backups().Depth(unitID) > 0 {
			return a.Rollback(ctx, unitID)
		}
	}

	c.publisher.Emit(events.TypeRollbackStarted, unitID, events.RollbackData{})
	c.publisher.Emit(events.TypeRollbackFailed, unitID, events.RollbackData{
		Error: change.ErrNoBackup.Error(),
	})
	return "", false
}

func (c *Coordinator) recoverResult(unitID string, result **change.ChangeResult) {
	if r := recover(); r != nil {
		c.logger.Error("panic during apply",
			slog.String("unit_id", unitID),
			slog.Any("panic", r),
			slog.String("stack", string(debug.Stack())),
		)
		*result = change.Failed(unitID, change.KindInternal, fmt.Sprintf("internal error: %v", r))
	}
}

func tally(results map[string]*change.ChangeResult) (applied, failed int) {
	for _, r := range results {
		if r.Success {
			applied++
		} else {
			failed++
		}
	}
	return applied, failed
}
