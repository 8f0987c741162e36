// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conflict detects and resolves collisions between proposed edits
// to the same file.
//
// Edits are grouped by file and tested pairwise by an ordered list of
// detectors. The first detector that fires classifies the pair. Conflicts
// at or below a severity ceiling are resolved automatically by the
// resolver for their suggested strategy.
package conflict

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Errors returned by the engine and resolvers.
var (
	ErrInvalidChange    = errors.New("invalid code change")
	ErrManualResolution = errors.New("conflict requires manual resolution")
	ErrUnknownStrategy  = errors.New("unknown resolution strategy")
	ErrSequentialReplay = errors.New("cannot replay change onto merged text")
	ErrNoBaseText       = errors.New("no base text to replay changes onto")
	ErrUnknownSeverity  = errors.New("unknown severity")
	ErrNothingToResolve = errors.New("conflict has no changes")
)

// CodeChange is one proposed edit to a line range of a file.
type CodeChange struct {
	// ID is caller supplied. Missing ids are assigned by the engine.
	ID string `json:"id"`

	FilePath string `json:"file_path" validate:"required"`

	// StartLine and EndLine are 1-based and inclusive.
	StartLine int `json:"start_line" validate:"gte=1"`
	EndLine   int `json:"end_line" validate:"gtefield=StartLine"`

	OriginalCode string `json:"original_code"`
	ModifiedCode string `json:"modified_code"`

	Author      string    `json:"author,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Kind classifies how two edits collide.
type Kind string

const (
	KindOverlapping Kind = "overlapping"
	KindAdjacent    Kind = "adjacent"
	KindRelated     Kind = "related"
	KindSemantic    Kind = "semantic"
	KindImport      Kind = "import"
	KindDependency  Kind = "dependency"
)

// Severity is the ordinal risk of a conflict.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"none", "low", "medium", "high", "critical"}

// String returns the lower-case severity name.
func (s Severity) String() string {
	if s < SeverityNone || s > SeverityCritical {
		return fmt.Sprintf("severity(%d)", int(s))
	}
	return severityNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity parses a severity name, case-insensitively.
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if strings.EqualFold(strings.TrimSpace(name), n) {
			return Severity(i), nil
		}
	}
	return SeverityNone, fmt.Errorf("%w: %q", ErrUnknownSeverity, name)
}

// Strategy names a way of resolving a conflict.
type Strategy string

const (
	StrategyTakeFirst  Strategy = "take_first"
	StrategyTakeSecond Strategy = "take_second"
	StrategyMerge      Strategy = "merge"
	StrategySequential Strategy = "sequential"
	StrategySkipBoth   Strategy = "skip_both"
	StrategyManual     Strategy = "manual"
)

// AllStrategies lists every strategy.
var AllStrategies = []Strategy{
	StrategyTakeFirst, StrategyTakeSecond, StrategyMerge,
	StrategySequential, StrategySkipBoth, StrategyManual,
}

// Conflict is a classified collision between two edits.
type Conflict struct {
	ID string `json:"id"`

	// First starts at or before Second.
	First  CodeChange `json:"first"`
	Second CodeChange `json:"second"`

	Kind         Kind       `json:"kind"`
	Severity     Severity   `json:"severity"`
	Strategy     Strategy   `json:"strategy"`
	Alternatives []Strategy `json:"alternatives"`

	AffectedLines   []int    `json:"affected_lines,omitempty"`
	AffectedSymbols []string `json:"affected_symbols,omitempty"`

	// Similarity of the two modified texts, set for overlapping edits.
	Similarity float64 `json:"similarity,omitempty"`

	// Merged is a pre-computed merge for merge-strategy conflicts.
	Merged string `json:"merged,omitempty"`

	Description string `json:"description"`
}

// Resolution is the outcome of applying a strategy to a conflict.
type Resolution struct {
	ConflictID string   `json:"conflict_id"`
	Strategy   Strategy `json:"strategy"`

	// Content is the resolved text covering both edits, if one exists.
	Content string `json:"content"`

	// Default is the version to use when a flagged merge is not reviewed.
	Default string `json:"default,omitempty"`

	// NeedsReview marks merges that contain both versions side by side.
	NeedsReview bool `json:"needs_review"`

	// Changes are the edits to apply in order.
	Changes []CodeChange `json:"changes"`

	Notes []string `json:"notes,omitempty"`
}

// ResolvedConflict pairs a conflict with its automatic resolution.
type ResolvedConflict struct {
	Conflict   Conflict   `json:"conflict"`
	Resolution Resolution `json:"resolution"`
}

// Stats summarises a detection run.
type Stats struct {
	TotalChanges int              `json:"total_changes"`
	Files        int              `json:"files"`
	Conflicts    int              `json:"conflicts"`
	AutoResolved int              `json:"auto_resolved"`
	Unresolved   int              `json:"unresolved"`
	ByKind       map[Kind]int     `json:"by_kind"`
	BySeverity   map[Severity]int `json:"by_severity"`
}

// Report is the result of DetectAndResolve.
type Report struct {
	Conflicts      []Conflict         `json:"conflicts"`
	NonConflicting []CodeChange       `json:"non_conflicting"`
	AutoResolved   []ResolvedConflict `json:"auto_resolved"`
	Unresolved     []Conflict         `json:"unresolved"`
	Stats          Stats              `json:"stats"`
}

// alternativesTo returns every strategy except s.
func alternativesTo(s Strategy) []Strategy {
	out := make([]Strategy, 0, len(AllStrategies)-1)
	for _, alt := range AllStrategies {
		if alt != s {
			out = append(out, alt)
		}
	}
	return out
}

// lineCount counts lines the way diff.SplitLines splits them.
func lineCount(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Split(strings.TrimSuffix(text, "\n"), "\n"))
}
