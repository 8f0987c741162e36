// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package changeguard serves the change pipeline over HTTP.
//
// The Service owns an in-memory unit registry and wires it into the
// coordinator as the lookup and dependents source. Successful applies are
// committed to the registry; the applier itself never writes. Each unit
// is locked from lookup until commit, so concurrent requests for one
// unit run one after another.
package changeguard

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/AleutianAI/changeguard/services/changeguard/apply"
	"github.com/AleutianAI/changeguard/services/changeguard/change"
	"github.com/AleutianAI/changeguard/services/changeguard/conflict"
	"github.com/AleutianAI/changeguard/services/changeguard/coordinate"
	"github.com/AleutianAI/changeguard/services/changeguard/events"
	"github.com/AleutianAI/changeguard/services/changeguard/journal"
)

// ServiceVersion is the changeguard service version.
const ServiceVersion = "0.1.0"

// DefaultHistoryLimit and MaxHistoryLimit bound history queries.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Applier   apply.Config
	Conflicts conflict.Config

	// Tracing enables apply and batch spans.
	Tracing bool
}

// DefaultServiceConfig returns the package defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Applier:   apply.DefaultConfig(),
		Conflicts: conflict.DefaultConfig(),
	}
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*Service)

// WithJournal records every emitted event in j. The caller owns j.
func WithJournal(j *journal.Journal) ServiceOption {
	return func(s *Service) { s.journal = j }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithEmitter shares an existing emitter.
func WithEmitter(e *events.Emitter) ServiceOption {
	return func(s *Service) { s.emitter = e }
}

type unitRecord struct {
	unit       change.CodeUnit
	dependents []string
	updatedAt  time.Time
}

// Service coordinates changes against registered units.
//
// # Thread Safety
//
// Safe for concurrent use. Registry reads and commits are guarded by one
// RWMutex; the conflict engine is swapped atomically on reload. Apply,
// batch, rollback and put hold a per-unit lock across lookup and commit.
type Service struct {
	coord   *coordinate.Coordinator
	emitter *events.Emitter
	journal *journal.Journal
	logger  *slog.Logger
	started time.Time

	mu    sync.RWMutex
	units map[string]*unitRecord

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	engineMu sync.RWMutex
	engine   *conflict.Engine
}

// NewService creates a Service.
//
// # Outputs
//
//   - *Service: Ready to serve.
//   - error: Non-nil when the applier configuration is rejected.
func NewService(cfg ServiceConfig, opts ...ServiceOption) (*Service, error) {
	s := &Service{
		units:   make(map[string]*unitRecord),
		locks:   make(map[string]*sync.Mutex),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.emitter == nil {
		s.emitter = events.NewEmitter(events.WithSource("changeguard"))
	}

	tracer := apply.NewTracer(s.logger, cfg.Tracing)
	coord, err := coordinate.NewDefault(cfg.Applier, s.emitter, s.logger, tracer)
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}
	s.coord = coord
	s.engine = s.newEngine(cfg.Conflicts)

	if s.journal != nil {
		s.journal.Attach(s.emitter)
	}
	return s, nil
}

// Emitter returns the event emitter.
func (s *Service) Emitter() *events.Emitter { return s.emitter }

// =============================================================================
// Unit Registry
// =============================================================================

// PutUnit registers or replaces a unit. Backups held for an existing unit
// are kept.
func (s *Service) PutUnit(id string, req PutUnitRequest) (Unit, bool, error) {
	if id == "" {
		return Unit{}, false, ErrEmptyUnitID
	}
	name := req.Name
	if name == "" {
		name = id
	}

	unlock := s.lockUnits(id)
	defer unlock()

	s.mu.Lock()
	_, exists := s.units[id]
	rec := &unitRecord{
		unit:       change.CodeUnit{ID: id, Name: name, Source: req.Source},
		dependents: slices.Clone(req.Dependents),
		updatedAt:  time.Now(),
	}
	s.units[id] = rec
	s.mu.Unlock()

	return s.toUnit(rec), !exists, nil
}

// GetUnit returns a registered unit.
func (s *Service) GetUnit(id string) (Unit, error) {
	s.mu.RLock()
	rec, ok := s.units[id]
	var snapshot unitRecord
	if ok {
		snapshot = *rec
	}
	s.mu.RUnlock()
	if !ok {
		return Unit{}, fmt.Errorf("%w: %s", ErrUnitNotFound, id)
	}
	return s.toUnit(&snapshot), nil
}

// UnitCount returns the number of registered units.
func (s *Service) UnitCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.units)
}

func (s *Service) toUnit(rec *unitRecord) Unit {
	return Unit{
		ID:          rec.unit.ID,
		Name:        rec.unit.Name,
		Source:      rec.unit.Source,
		Dependents:  slices.Clone(rec.dependents),
		UpdatedAt:   rec.updatedAt,
		BackupDepth: s.backupDepth(rec.unit.ID),
	}
}

func (s *Service) lookup(id string) (change.CodeUnit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.units[id]
	if !ok {
		return change.CodeUnit{}, false
	}
	return rec.unit, true
}

func (s *Service) dependents(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.units[id]; ok {
		return slices.Clone(rec.dependents)
	}
	return nil
}

// commit stores src as the unit's source. Units removed meanwhile are not
// recreated.
func (s *Service) commit(id, src string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.units[id]
	if !ok {
		return false
	}
	rec.unit.Source = src
	rec.updatedAt = time.Now()
	return true
}

// lockUnits takes the per-unit locks of ids in sorted order and returns
// their release. Sorting keeps overlapping batches from deadlocking.
func (s *Service) lockUnits(ids ...string) func() {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	s.locksMu.Lock()
	held := make([]*sync.Mutex, 0, len(sorted))
	for _, id := range sorted {
		mu, ok := s.locks[id]
		if !ok {
			mu = &sync.Mutex{}
			s.locks[id] = mu
		}
		held = append(held, mu)
	}
	s.locksMu.Unlock()

	for _, mu := range held {
		mu.Lock()
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func (s *Service) backupDepth(id string) int {
	depth := 0
	for _, a := range s.coord.Appliers() {
		depth += a.Backups().Depth(id)
	}
	return depth
}

// =============================================================================
// Change Operations
// =============================================================================

// Apply runs one change through the pipeline and commits it on success.
func (s *Service) Apply(ctx context.Context, req change.ChangeRequest) (*change.ChangeResult, bool) {
	unlock := s.lockUnits(req.UnitID)
	defer unlock()

	res := s.coord.ApplyOne(ctx, req, s.lookup, s.dependents)
	if !res.Success {
		return res, false
	}
	return res, s.commit(res.UnitID, res.NewSource)
}

// ApplyBatch applies changes in request order and commits every member
// that succeeded.
//
// # Outputs
//
//   - BatchResponse: Results in request order.
//   - error: ErrEmptyUnitID or ErrDuplicateUnit for malformed batches.
func (s *Service) ApplyBatch(ctx context.Context, reqs []change.ChangeRequest, transactional bool) (BatchResponse, error) {
	ids := make([]string, 0, len(reqs))
	byID := make(map[string]change.ChangeRequest, len(reqs))
	for _, r := range reqs {
		if r.UnitID == "" {
			return BatchResponse{}, ErrEmptyUnitID
		}
		if _, dup := byID[r.UnitID]; dup {
			return BatchResponse{}, fmt.Errorf("%w: %s", ErrDuplicateUnit, r.UnitID)
		}
		ids = append(ids, r.UnitID)
		byID[r.UnitID] = r
	}

	unlock := s.lockUnits(ids...)
	defer unlock()

	results := s.coord.ApplyBatch(ctx, ids, byID, transactional, s.lookup, s.dependents)

	resp := BatchResponse{
		Results:       make([]*change.ChangeResult, 0, len(results)),
		Transactional: transactional,
	}
	for _, id := range ids {
		res, ok := results[id]
		if !ok {
			resp.Unreported = append(resp.Unreported, id)
			continue
		}
		resp.Results = append(resp.Results, res)
		if res.Success {
			resp.Applied++
			s.commit(id, res.NewSource)
		} else {
			resp.Failed++
		}
	}
	return resp, nil
}

// Rollback restores the most recent backup of a unit and stores it as the
// unit's source.
//
// # Outputs
//
//   - RollbackResponse: Restored source and remaining depth.
//   - error: ErrUnitNotFound or ErrNoBackup.
func (s *Service) Rollback(ctx context.Context, id string) (RollbackResponse, error) {
	unlock := s.lockUnits(id)
	defer unlock()

	if _, ok := s.lookup(id); !ok {
		return RollbackResponse{}, fmt.Errorf("%w: %s", ErrUnitNotFound, id)
	}
	src, ok := s.coord.Rollback(ctx, id)
	if !ok {
		return RollbackResponse{}, fmt.Errorf("%w: %s", ErrNoBackup, id)
	}
	s.commit(id, src)
	return RollbackResponse{UnitID: id, Source: src, Remaining: s.backupDepth(id)}, nil
}

// =============================================================================
// Conflicts
// =============================================================================

// DetectConflicts classifies and auto-resolves conflicts between edits.
// Units registered under an edit's file path supply the base text for
// sequential replay.
func (s *Service) DetectConflicts(ctx context.Context, changes []conflict.CodeChange) (*conflict.Report, error) {
	s.engineMu.RLock()
	engine := s.engine
	s.engineMu.RUnlock()
	return engine.DetectAndResolve(ctx, changes)
}

// SetConflictConfig swaps in an engine built from cfg. In-flight
// detections finish on the previous engine.
func (s *Service) SetConflictConfig(cfg conflict.Config) {
	engine := s.newEngine(cfg)
	s.engineMu.Lock()
	s.engine = engine
	s.engineMu.Unlock()
	s.logger.Info("conflict thresholds updated",
		slog.Int("adjacent_gap", cfg.AdjacentGap),
		slog.String("auto_resolve_ceiling", cfg.AutoResolveCeiling.String()),
		slog.Bool("allow_merge", cfg.AllowMerge),
	)
}

func (s *Service) newEngine(cfg conflict.Config) *conflict.Engine {
	return conflict.NewEngine(cfg,
		conflict.WithBaseText(s.baseText),
		conflict.WithLogger(s.logger.With("component", "conflict.Engine")),
	)
}

func (s *Service) baseText(path string) (string, bool) {
	u, ok := s.lookup(path)
	if !ok {
		return "", false
	}
	return u.Source, true
}

// =============================================================================
// History and Health
// =============================================================================

// History returns up to limit journal entries for a unit, oldest first.
func (s *Service) History(ctx context.Context, id string, limit int) ([]journal.Entry, error) {
	if s.journal == nil {
		return nil, ErrJournalDisabled
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.journal.List(ctx, id, limit)
}

// Health reports liveness and registry size.
func (s *Service) Health() HealthResponse {
	return HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
		Units:   s.UnitCount(),
		Journal: s.journal != nil,
		Uptime:  time.Since(s.started).Round(time.Second).String(),
	}
}

