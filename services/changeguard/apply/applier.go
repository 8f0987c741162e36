// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package apply runs a single proposed change through the safe-change
// pipeline: resolve, back up, validate, check dependents, dry run, accept.
//
// Appliers never write to the unit registry. An accepted change is returned
// as ChangeResult.NewSource and committing it is the caller's job; likewise
// Rollback returns the restored text without re-applying it.
package apply

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/AleutianAI/changeguard/services/changeguard/ast"
	"github.com/AleutianAI/changeguard/services/changeguard/backup"
	"github.com/AleutianAI/changeguard/services/changeguard/change"
	"github.com/AleutianAI/changeguard/services/changeguard/diff"
	"github.com/AleutianAI/changeguard/services/changeguard/events"
	"github.com/AleutianAI/changeguard/services/changeguard/validate"
)

// Config tunes one applier.
type Config struct {
	// EnableBackups pushes the current source before every apply.
	EnableBackups bool `yaml:"backups_enabled" json:"backups_enabled"`

	// MaxBackups bounds each unit's backup stack.
	MaxBackups int `yaml:"max_backups" json:"max_backups" validate:"gte=1,lte=1000"`

	// StrictMode enables the security stage.
	StrictMode bool `yaml:"strict_mode" json:"strict_mode"`

	// CheckDependencies enables the dependency impact step.
	CheckDependencies bool `yaml:"check_dependencies" json:"check_dependencies"`

	// EnableSandbox enables the dry-run step.
	EnableSandbox bool `yaml:"sandbox_enabled" json:"sandbox_enabled"`

	// Language selects the parser grammar.
	Language ast.Language `yaml:"language" json:"language" validate:"omitempty,oneof=tsx typescript javascript"`

	// DiffContextLines is the unified diff context size.
	DiffContextLines int `yaml:"diff_context_lines" json:"diff_context_lines" validate:"gte=0,lte=20"`
}

// DefaultConfig returns every safety step enabled.
func DefaultConfig() Config {
	return Config{
		EnableBackups:     true,
		MaxBackups:        backup.DefaultMaxEntries,
		StrictMode:        true,
		CheckDependencies: true,
		EnableSandbox:     true,
		Language:          ast.LanguageTSX,
		DiffContextLines:  diff.DefaultContextLines,
	}
}

// Applier validates and accepts changes for a set of unit types.
//
// # Description
//
// Each call runs the ordered, short-circuiting pipeline:
//
//  1. resolve the unit through the lookup
//  2. push the current source onto the backup stack
//  3. validate: syntax, security (strict mode), the type's pattern stage
//  4. dependency impact (optional)
//  5. sandbox dry run (optional)
//  6. accept the proposed source
//
// Lifecycle events are published at each step. All expected failures are
// reported through ChangeResult, and panics are recovered.
//
// # Thread Safety
//
// Safe for concurrent use. Calls for the same unit id are serialised by a
// per-unit lock held from backup push to result.
type Applier struct {
	name     string
	types    []UnitType
	registry *Registry
	config   Config

	pipelines map[UnitType]*validate.Pipeline
	backups   *backup.Store
	publisher events.Publisher
	logger    *slog.Logger
	tracer    *Tracer

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Option configures an Applier.
type Option func(*Applier)

// WithPublisher sets the event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(a *Applier) { a.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Applier) { a.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t *Tracer) Option {
	return func(a *Applier) { a.tracer = t }
}

// WithBackupStore shares a backup store instead of creating one.
func WithBackupStore(s *backup.Store) Option {
	return func(a *Applier) { a.backups = s }
}

// NewApplier creates an applier for the given unit types.
//
// # Inputs
//
//   - name: Applier name used in logs and metrics.
//   - registry: Capability table. Every type must be registered.
//   - config: Pipeline tuning.
//   - types: Supported unit types, first one is the fallback.
//   - opts: Optional publisher, logger, tracer, backup store.
//
// # Outputs
//
//   - *Applier: Ready to use.
//   - error: ErrInvalidCapabilities if types is empty, ErrUnknownType if a
//     type is not registered.
func NewApplier(name string, registry *Registry, config Config, types []UnitType, opts ...Option) (*Applier, error) {
	if len(types) == 0 {
		return nil, fmt.Errorf("%w: applier %s supports no types", ErrInvalidCapabilities, name)
	}
	if config.Language == "" {
		config.Language = ast.LanguageTSX
	}

	a := &Applier{
		name:      name,
		types:     slices.Clone(types),
		registry:  registry,
		config:    config,
		pipelines: make(map[UnitType]*validate.Pipeline, len(types)),
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.publisher == nil {
		a.publisher = events.NewEmitter()
	}
	if a.logger == nil {
		a.logger = slog.Default().With("component", "apply.Applier", "applier", name)
	}
	if a.tracer == nil {
		a.tracer = NewTracer(a.logger, false)
	}
	if a.backups == nil {
		a.backups = backup.NewStore(config.MaxBackups)
	}

	for _, t := range types {
		caps, ok := registry.Lookup(t)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
		}
		stages := []validate.Stage{validate.NewSyntaxStage()}
		if config.StrictMode {
			stages = append(stages, validate.NewSecurityStage(nil))
		}
		if caps.Pattern != nil {
			stages = append(stages, caps.Pattern)
		}
		a.pipelines[t] = validate.NewPipeline(config.Language, stages...)
	}
	return a, nil
}

// Name returns the applier name.
func (a *Applier) Name() string { return a.name }

// Types returns the supported unit types.
func (a *Applier) Types() []UnitType { return slices.Clone(a.types) }

// Supports reports whether every given type is supported.
func (a *Applier) Supports(types ...UnitType) bool {
	for _, t := range types {
		if !slices.Contains(a.types, t) {
			return false
		}
	}
	return true
}

// Backups exposes the applier's backup store.
func (a *Applier) Backups() *backup.Store { return a.backups }

// Apply runs one change through the pipeline.
//
// # Description
//
// See the Applier doc for the step order. A backup is pushed before any
// validation, so even a rejected change leaves one backup entry. Warning
// and info issues are returned on success.
//
// # Inputs
//
//   - ctx: Checked before every step.
//   - req: The change. A nil Proposed is rejected.
//   - lookup: Resolves unit ids. Required.
//   - dependents: Lists dependents of a unit. Nil skips the impact step.
//
// # Outputs
//
//   - *change.ChangeResult: Never nil.
//
// # Example
//
//	res := applier.Apply(ctx, change.NewRequest("btn", src), registry.Lookup, registry.Dependents)
//	if res.Success {
//	    registry.Commit(res.UnitID, res.NewSource)
//	}
func (a *Applier) Apply(ctx context.Context, req change.ChangeRequest, lookup change.LookupFunc, dependents change.DependentsFunc) (result *change.ChangeResult) {
	start := time.Now()
	ctx, span := a.tracer.StartApply(ctx, a.name, req.UnitID)

	defer func() {
		if r := recover(); r != nil {
			LoggerWithTrace(ctx, a.logger).Error("panic during apply",
				slog.String("unit_id", req.UnitID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			result = change.Failed(req.UnitID, change.KindInternal, fmt.Sprintf("internal error: %v", r))
			a.publisher.Emit(events.TypeApplicationFailed, req.UnitID, events.ApplicationData{
				Kind:  string(result.Kind),
				Error: result.Error,
			})
		}
		a.tracer.EndApply(span, result)
		recordApply(ctx, a.name, result, time.Since(start))
	}()

	return a.apply(ctx, req, lookup, dependents)
}

func (a *Applier) apply(ctx context.Context, req change.ChangeRequest, lookup change.LookupFunc, dependents change.DependentsFunc) *change.ChangeResult {
	proposed, ok := req.ProposedText()
	if !ok {
		return change.Failed(req.UnitID, change.KindInvalidRequest, change.ErrUndefinedSource.Error())
	}
	if lookup == nil {
		return change.Failed(req.UnitID, change.KindNotFound, change.ErrUnitNotFound.Error())
	}

	// The lookup runs under the unit lock so a waiting call sees the source
	// committed by the call ahead of it.
	unlock := a.lockUnit(req.UnitID)
	defer unlock()

	unit, found := lookup(req.UnitID)
	if !found {
		return change.Failed(req.UnitID, change.KindNotFound,
			fmt.Sprintf("%v: %s", change.ErrUnitNotFound, req.UnitID))
	}

	if err := ctx.Err(); err != nil {
		return change.Failed(unit.ID, change.KindCanceled, err.Error())
	}

	if a.config.EnableBackups {
		a.backups.Push(unit.ID, unit.Source)
	}

	logger := LoggerWithTrace(ctx, a.logger).With(slog.String("unit_id", unit.ID))
	unitType := a.resolveType(unit.Source, proposed)
	caps, _ := a.registry.Lookup(unitType)

	result := &change.ChangeResult{UnitID: unit.ID}
	if text, err := diff.Unified(unit.ID, unit.Source, proposed, a.config.DiffContextLines); err != nil {
		logger.Warn("diff rendering failed", slog.String("error", err.Error()))
	} else {
		result.Diff = text
	}

	// Validation.
	a.publisher.Emit(events.TypeValidationStarted, unit.ID, events.ValidationData{})
	vr := a.pipelines[unitType].Run(ctx, unit, proposed)
	result.Issues = vr.Issues
	if !vr.Success {
		a.publisher.Emit(events.TypeValidationFailed, unit.ID, events.ValidationData{
			Stage:  vr.Stage,
			Issues: len(vr.Issues),
			Error:  vr.Error,
		})
		logger.Info("change rejected",
			slog.String("stage", vr.Stage),
			slog.String("kind", string(vr.Kind)),
			slog.String("error", vr.Error),
		)
		result.Error = vr.Error
		result.Kind = vr.Kind
		return result
	}
	a.publisher.Emit(events.TypeValidationCompleted, unit.ID, events.ValidationData{Issues: len(vr.Issues)})

	// Dependency impact.
	if a.config.CheckDependencies && dependents != nil {
		affected, issues := a.checkDependencies(ctx, unit, proposed, lookup, dependents)
		result.AffectedDependents = affected
		result.Issues = append(result.Issues, issues...)
	}

	// Sandbox and accept.
	a.publisher.Emit(events.TypeApplicationStarted, unit.ID, events.ApplicationData{})
	if a.config.EnableSandbox && caps.Sandbox != nil {
		sr := validate.NewPipeline(a.config.Language, caps.Sandbox).Run(ctx, unit, proposed)
		result.Issues = append(result.Issues, sr.Issues...)
		if !sr.Success {
			a.publisher.Emit(events.TypeApplicationFailed, unit.ID, events.ApplicationData{
				Kind:  string(sr.Kind),
				Error: sr.Error,
			})
			logger.Info("sandbox rejected change", slog.String("error", sr.Error))
			result.Error = sr.Error
			result.Kind = sr.Kind
			return result
		}
	}

	result.Success = true
	result.NewSource = proposed
	a.publisher.Emit(events.TypeApplicationCompleted, unit.ID, events.ApplicationData{
		Affected: result.AffectedDependents,
	})
	logger.Debug("change accepted",
		slog.String("type", string(unitType)),
		slog.Int("issues", len(result.Issues)),
		slog.Int("affected", len(result.AffectedDependents)),
	)
	return result
}

// Validate runs only the validation stages, without backups or events.
func (a *Applier) Validate(ctx context.Context, unit change.CodeUnit, proposed string) *change.ValidationResult {
	return a.pipelines[a.resolveType(unit.Source, proposed)].Run(ctx, unit, proposed)
}

// Rollback pops the unit's most recent backup.
//
// # Description
//
// Returns the restored text for the caller to re-apply. No validation is
// performed. An empty stack publishes rollback_failed and returns false.
//
// # Inputs
//
//   - ctx: Used for tracing and metrics only.
//   - unitID: Unit to roll back.
//
// # Outputs
//
//   - string: The restored source.
//   - bool: False when no backup exists.
func (a *Applier) Rollback(ctx context.Context, unitID string) (string, bool) {
	ctx, span := a.tracer.StartRollback(ctx, unitID, false)
	unlock := a.lockUnit(unitID)
	defer unlock()

	a.publisher.Emit(events.TypeRollbackStarted, unitID, events.RollbackData{})
	entry, err := a.backups.Pop(unitID)
	a.tracer.EndRollback(span, err)
	recordRollback(ctx, a.name, false, err == nil)

	if err != nil {
		a.publisher.Emit(events.TypeRollbackFailed, unitID, events.RollbackData{
			Error: change.ErrNoBackup.Error(),
		})
		return "", false
	}
	a.publisher.Emit(events.TypeRollbackCompleted, unitID, events.RollbackData{})
	return entry.Source, true
}

// Compensate reads the unit's most recent backup without consuming it.
//
// # Description
//
// Used by transactional batches to undo a member whose apply succeeded
// before a later member failed. The entry stays on the stack so the caller
// can still roll the unit back explicitly afterwards.
//
// # Outputs
//
//   - string: The pre-apply source.
//   - error: change.ErrNoBackup when the stack is empty.
func (a *Applier) Compensate(ctx context.Context, unitID, batchID string) (string, error) {
	ctx, span := a.tracer.StartRollback(ctx, unitID, true)
	unlock := a.lockUnit(unitID)
	defer unlock()

	a.publisher.Emit(events.TypeRollbackStarted, unitID, events.RollbackData{
		Compensating: true, BatchID: batchID,
	})
	entry, err := a.backups.Peek(unitID)
	a.tracer.EndRollback(span, err)
	recordRollback(ctx, a.name, true, err == nil)

	if err != nil {
		a.publisher.Emit(events.TypeRollbackFailed, unitID, events.RollbackData{
			Compensating: true, BatchID: batchID, Error: change.ErrNoBackup.Error(),
		})
		return "", fmt.Errorf("%w: %s", change.ErrNoBackup, unitID)
	}
	a.publisher.Emit(events.TypeRollbackCompleted, unitID, events.RollbackData{
		Compensating: true, BatchID: batchID,
	})
	return entry.Source, nil
}

// resolveType picks the unit type from the current source, falling back to
// the proposed source and then to the applier's first type.
func (a *Applier) resolveType(current, proposed string) UnitType {
	if t := a.registry.Detect(current); a.Supports(t) {
		return t
	}
	if t := a.registry.Detect(proposed); a.Supports(t) {
		return t
	}
	return a.types[0]
}

// lockUnit acquires the per-unit mutex and returns its release.
func (a *Applier) lockUnit(unitID string) func() {
	a.locksMu.Lock()
	mu, ok := a.locks[unitID]
	if !ok {
		mu = &sync.Mutex{}
		a.locks[unitID] = mu
	}
	a.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
