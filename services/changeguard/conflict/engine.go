// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config tunes the engine.
type Config struct {
	// AdjacentGap is the largest gap in lines for adjacency.
	AdjacentGap int `yaml:"adjacent_gap" json:"adjacent_gap" validate:"gte=0,lte=100"`

	// AutoResolveCeiling is the highest severity resolved automatically.
	AutoResolveCeiling Severity `yaml:"auto_resolve_ceiling" json:"auto_resolve_ceiling" validate:"gte=0,lte=4"`

	// AllowMerge lets medium overlaps suggest merge.
	AllowMerge bool `yaml:"allow_merge" json:"allow_merge"`

	// Manifests are dependency manifest file names.
	Manifests []string `yaml:"manifest_files" json:"manifest_files"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		AdjacentGap:        DefaultAdjacentGap,
		AutoResolveCeiling: SeverityLow,
		AllowMerge:         true,
		Manifests:          slices.Clone(DefaultManifests),
	}
}

// Engine detects and resolves conflicts between edits.
//
// # Description
//
// Edits are grouped by file path and sorted by start line. Every unordered
// pair in a group is tested by the detectors in priority order and the
// first that fires classifies the pair. On manifest files the dependency
// detector is consulted first, so version clashes on the same line are
// reported as dependency conflicts rather than overlaps.
//
// # Thread Safety
//
// Safe for concurrent use. Nothing is cached between calls.
type Engine struct {
	config    Config
	detectors []Detector
	manifest  DependencyDetector
	resolvers map[Strategy]Resolver
	validate  *validator.Validate
	logger    *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	base   BaseText
	logger *slog.Logger
}

// WithBaseText supplies full file texts for sequential replay.
func WithBaseText(base BaseText) EngineOption {
	return func(o *engineOptions) { o.base = base }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(o *engineOptions) { o.logger = l }
}

// NewEngine creates an engine.
func NewEngine(cfg Config, opts ...EngineOption) *Engine {
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default().With("component", "conflict.Engine")
	}
	if cfg.Manifests == nil {
		cfg.Manifests = slices.Clone(DefaultManifests)
	}

	manifest := DependencyDetector{Manifests: cfg.Manifests}
	return &Engine{
		config: cfg,
		detectors: []Detector{
			OverlapDetector{AllowMerge: cfg.AllowMerge},
			AdjacentDetector{Gap: cfg.AdjacentGap},
			RelatedDetector{},
			SemanticDetector{},
			ImportDetector{},
			manifest,
		},
		manifest:  manifest,
		resolvers: DefaultResolvers(o.base),
		validate:  validator.New(),
		logger:    o.logger,
	}
}

// Detect classifies every conflicting pair without resolving anything.
//
// # Outputs
//
//   - []Conflict: One per conflicting pair, grouped by file in input order.
//   - []CodeChange: Edits involved in no conflict, in input order.
//   - error: ErrInvalidChange for malformed edits, or ctx errors.
func (e *Engine) Detect(ctx context.Context, changes []CodeChange) ([]Conflict, []CodeChange, error) {
	changes, err := e.prepare(changes)
	if err != nil {
		return nil, nil, err
	}

	var (
		conflicts  []Conflict
		conflicted = make(map[string]bool)
	)
	for _, group := range groupByFile(changes) {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if len(group) < 2 {
			continue
		}
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				c, ok := e.classify(group[i], group[j])
				if !ok {
					continue
				}
				conflicts = append(conflicts, c)
				conflicted[group[i].ID] = true
				conflicted[group[j].ID] = true
				conflictsDetected.WithLabelValues(string(c.Kind), c.Severity.String()).Inc()
			}
		}
	}

	var clean []CodeChange
	for _, ch := range changes {
		if !conflicted[ch.ID] {
			clean = append(clean, ch)
		}
	}
	return conflicts, clean, nil
}

// DetectAndResolve detects conflicts and resolves those within the
// auto-resolve ceiling.
//
// # Description
//
// A conflict is resolved automatically when its severity is at or below
// the configured ceiling and its strategy is not manual. Merge-strategy
// conflicts that stay unresolved still carry a pre-computed Merged text.
//
// # Inputs
//
//   - ctx: Cancellation.
//   - changes: Edits in any order, across any number of files.
//
// # Outputs
//
//   - *Report: Conflicts, clean edits, auto-resolved and unresolved lists.
//   - error: ErrInvalidChange for malformed edits, or ctx errors.
//
// # Example
//
//	report, err := engine.DetectAndResolve(ctx, changes)
//	for _, c := range report.Unresolved {
//	    fmt.Println(c.Kind, c.Severity, c.Alternatives)
//	}
func (e *Engine) DetectAndResolve(ctx context.Context, changes []CodeChange) (*Report, error) {
	start := time.Now()
	defer func() { detectionLatency.Observe(time.Since(start).Seconds()) }()

	conflicts, clean, err := e.Detect(ctx, changes)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Conflicts:      conflicts,
		NonConflicting: clean,
		Stats: Stats{
			TotalChanges: len(changes),
			Files:        len(groupByFile(changes)),
			Conflicts:    len(conflicts),
			ByKind:       make(map[Kind]int),
			BySeverity:   make(map[Severity]int),
		},
	}

	for i := range report.Conflicts {
		c := &report.Conflicts[i]
		report.Stats.ByKind[c.Kind]++
		report.Stats.BySeverity[c.Severity]++

		if c.Strategy == StrategyMerge {
			if res, err := e.resolvers[StrategyMerge].Resolve(ctx, *c); err == nil {
				c.Merged = res.Content
			}
		}

		if !e.autoResolvable(*c) {
			conflictsResolved.WithLabelValues(string(c.Strategy), "deferred").Inc()
			report.Unresolved = append(report.Unresolved, *c)
			continue
		}
		res, err := e.Resolve(ctx, *c, c.Strategy)
		if err != nil {
			e.logger.Warn("auto-resolution failed",
				slog.String("conflict_id", c.ID),
				slog.String("strategy", string(c.Strategy)),
				slog.String("error", err.Error()),
			)
			report.Unresolved = append(report.Unresolved, *c)
			continue
		}
		report.AutoResolved = append(report.AutoResolved, ResolvedConflict{Conflict: *c, Resolution: res})
	}

	report.Stats.AutoResolved = len(report.AutoResolved)
	report.Stats.Unresolved = len(report.Unresolved)
	e.logger.Debug("conflict detection complete",
		slog.Int("changes", len(changes)),
		slog.Int("conflicts", len(conflicts)),
		slog.Int("auto_resolved", report.Stats.AutoResolved),
		slog.Duration("duration", time.Since(start)),
	)
	return report, nil
}

// Resolve applies a strategy to a conflict. An empty strategy uses the
// conflict's suggested one.
func (e *Engine) Resolve(ctx context.Context, c Conflict, strategy Strategy) (Resolution, error) {
	if strategy == "" {
		strategy = c.Strategy
	}
	r, ok := e.resolvers[strategy]
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	res, err := r.Resolve(ctx, c)
	switch {
	case errors.Is(err, ErrManualResolution):
		conflictsResolved.WithLabelValues(string(strategy), "manual").Inc()
	case err != nil:
		conflictsResolved.WithLabelValues(string(strategy), "error").Inc()
	default:
		conflictsResolved.WithLabelValues(string(strategy), "auto").Inc()
	}
	return res, err
}

func (e *Engine) autoResolvable(c Conflict) bool {
	return c.Severity <= e.config.AutoResolveCeiling && c.Strategy != StrategyManual
}

// classify runs the detectors over an ordered pair.
func (e *Engine) classify(a, b CodeChange) (Conflict, bool) {
	detectors := e.detectors
	if e.manifest.Applies(a.FilePath) {
		detectors = append([]Detector{e.manifest}, e.detectors...)
	}

	for _, d := range detectors {
		c, ok := d.Detect(a, b)
		if !ok {
			continue
		}
		if a.ModifiedCode == b.ModifiedCode {
			c.Severity = SeverityNone
			c.Strategy = StrategyTakeFirst
		}
		c.ID = a.ID + ":" + b.ID
		c.First, c.Second = a, b
		c.Alternatives = alternativesTo(c.Strategy)
		return c, true
	}
	return Conflict{}, false
}

// prepare validates edits and assigns missing ids.
func (e *Engine) prepare(changes []CodeChange) ([]CodeChange, error) {
	out := make([]CodeChange, len(changes))
	seen := make(map[string]bool, len(changes))
	for i, ch := range changes {
		if err := e.validate.Struct(ch); err != nil {
			return nil, fmt.Errorf("%w: change %d: %v", ErrInvalidChange, i, err)
		}
		if ch.ID == "" || seen[ch.ID] {
			ch.ID = fmt.Sprintf("change-%d", i+1)
		}
		seen[ch.ID] = true
		out[i] = ch
	}
	return out, nil
}

// groupByFile groups edits by path in first-seen order, each group sorted
// by start line.
func groupByFile(changes []CodeChange) [][]CodeChange {
	index := make(map[string]int)
	var groups [][]CodeChange
	for _, ch := range changes {
		i, ok := index[ch.FilePath]
		if !ok {
			i = len(groups)
			index[ch.FilePath] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], ch)
	}
	for _, g := range groups {
		slices.SortStableFunc(g, func(a, b CodeChange) int {
			if a.StartLine != b.StartLine {
				return a.StartLine - b.StartLine
			}
			return a.EndLine - b.EndLine
		})
	}
	return groups
}
