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
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/AleutianAI/changeguard/services/changeguard/diff"
)

// Heuristic thresholds.
const (
	// DefaultAdjacentGap is the largest line gap at which two edits are
	// still adjacent.
	DefaultAdjacentGap = 3

	// TightAdjacentGap is the gap at or below which adjacency is medium.
	TightAdjacentGap = 1

	// Similarity bounds for overlapping edits. Above LowSimilarity the
	// severity is low, above MediumSimilarity medium, above HighSimilarity
	// high, otherwise critical.
	LowSimilarity    = 0.9
	MediumSimilarity = 0.7
	HighSimilarity   = 0.4
)

// DefaultManifests are the file names treated as dependency manifests.
var DefaultManifests = []string{"package.json"}

// Detector tests one ordered pair of edits to the same file.
//
// Detect receives a and b with a.StartLine <= b.StartLine and returns a
// partially filled Conflict (kind, severity, strategy, affected lines and
// symbols, description). The engine fills the rest.
type Detector interface {
	Kind() Kind
	Detect(a, b CodeChange) (Conflict, bool)
}

// ===== Overlapping =====

// OverlapDetector fires when line ranges intersect.
type OverlapDetector struct {
	// AllowMerge lets medium-severity overlaps suggest merge instead of
	// manual.
	AllowMerge bool
}

// Kind implements Detector.
func (d OverlapDetector) Kind() Kind { return KindOverlapping }

// Detect implements Detector.
func (d OverlapDetector) Detect(a, b CodeChange) (Conflict, bool) {
	if a.StartLine > b.EndLine || b.StartLine > a.EndLine {
		return Conflict{}, false
	}

	sim := diff.Similarity(a.ModifiedCode, b.ModifiedCode)
	sev := overlapSeverity(a.ModifiedCode == b.ModifiedCode, sim)
	from, to := max(a.StartLine, b.StartLine), min(a.EndLine, b.EndLine)

	return Conflict{
		Kind:          KindOverlapping,
		Severity:      sev,
		Strategy:      d.overlapStrategy(sev),
		Similarity:    sim,
		AffectedLines: lineRange(from, to),
		Description: fmt.Sprintf("edits overlap on lines %d-%d (similarity %.2f)",
			from, to, sim),
	}, true
}

func overlapSeverity(identical bool, sim float64) Severity {
	switch {
	case identical:
		return SeverityNone
	case sim > LowSimilarity:
		return SeverityLow
	case sim > MediumSimilarity:
		return SeverityMedium
	case sim > HighSimilarity:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

func (d OverlapDetector) overlapStrategy(sev Severity) Strategy {
	switch sev {
	case SeverityNone:
		return StrategyTakeFirst
	case SeverityLow:
		return StrategyMerge
	case SeverityMedium:
		if d.AllowMerge {
			return StrategyMerge
		}
		return StrategyManual
	default:
		return StrategyManual
	}
}

// ===== Adjacent =====

// AdjacentDetector fires when ranges are disjoint but within Gap lines.
type AdjacentDetector struct {
	Gap int
}

// Kind implements Detector.
func (d AdjacentDetector) Kind() Kind { return KindAdjacent }

// Detect implements Detector.
func (d AdjacentDetector) Detect(a, b CodeChange) (Conflict, bool) {
	gap := b.StartLine - a.EndLine
	if gap < 1 || gap > d.Gap {
		return Conflict{}, false
	}

	sev := SeverityLow
	if gap <= TightAdjacentGap {
		sev = SeverityMedium
	}
	return Conflict{
		Kind:          KindAdjacent,
		Severity:      sev,
		Strategy:      StrategySequential,
		AffectedLines: lineRange(a.EndLine, b.StartLine),
		Description:   fmt.Sprintf("edits are %d line(s) apart", gap),
	}, true
}

// ===== Related =====

// RelatedDetector fires when the original texts share a declared symbol
// or one references a symbol the other declares.
type RelatedDetector struct{}

// Kind implements Detector.
func (RelatedDetector) Kind() Kind { return KindRelated }

// Detect implements Detector.
func (RelatedDetector) Detect(a, b CodeChange) (Conflict, bool) {
	declA, declB := DeclaredSymbols(a.OriginalCode), DeclaredSymbols(b.OriginalCode)

	var symbols []string
	add := func(s string) {
		if !slices.Contains(symbols, s) {
			symbols = append(symbols, s)
		}
	}
	for _, s := range declA {
		if slices.Contains(declB, s) || References(b.OriginalCode, s) {
			add(s)
		}
	}
	for _, s := range declB {
		if References(a.OriginalCode, s) {
			add(s)
		}
	}
	if len(symbols) == 0 {
		return Conflict{}, false
	}
	slices.Sort(symbols)

	return Conflict{
		Kind:            KindRelated,
		Severity:        SeverityMedium,
		Strategy:        StrategySequential,
		AffectedSymbols: symbols,
		Description:     "edits touch related symbols: " + strings.Join(symbols, ", "),
	}, true
}

// ===== Semantic =====

// SemanticDetector fires when the new texts give a same-named function
// different parameters or a same-named variable a different type.
type SemanticDetector struct{}

// Kind implements Detector.
func (SemanticDetector) Kind() Kind { return KindSemantic }

// Detect implements Detector.
func (SemanticDetector) Detect(a, b CodeChange) (Conflict, bool) {
	var symbols []string
	symbols = append(symbols, differingKeys(
		FunctionSignatures(a.ModifiedCode), FunctionSignatures(b.ModifiedCode))...)
	for _, s := range differingKeys(VariableTypes(a.ModifiedCode), VariableTypes(b.ModifiedCode)) {
		if !slices.Contains(symbols, s) {
			symbols = append(symbols, s)
		}
	}
	if len(symbols) == 0 {
		return Conflict{}, false
	}
	slices.Sort(symbols)

	return Conflict{
		Kind:            KindSemantic,
		Severity:        SeverityHigh,
		Strategy:        StrategyManual,
		AffectedSymbols: symbols,
		Description:     "incompatible signatures for: " + strings.Join(symbols, ", "),
	}, true
}

// ===== Import =====

// ImportDetector fires when both new texts import the same module with
// different bindings.
type ImportDetector struct{}

// Kind implements Detector.
func (ImportDetector) Kind() Kind { return KindImport }

// Detect implements Detector.
func (ImportDetector) Detect(a, b CodeChange) (Conflict, bool) {
	ia, ib := ParseImports(a.ModifiedCode), ParseImports(b.ModifiedCode)

	var modules []string
	for _, mod := range ia.Order {
		other, ok := ib.Bindings[mod]
		if ok && !slices.Equal(ia.Bindings[mod].names(), other.names()) {
			modules = append(modules, mod)
		}
	}
	if len(modules) == 0 {
		return Conflict{}, false
	}

	return Conflict{
		Kind:            KindImport,
		Severity:        SeverityLow,
		Strategy:        StrategyMerge,
		AffectedSymbols: modules,
		Description:     "edits import different bindings from: " + strings.Join(modules, ", "),
	}, true
}

// ===== Dependency =====

// DependencyDetector fires on manifest files when both new texts pin the
// same dependency to different versions.
type DependencyDetector struct {
	Manifests []string
}

// Kind implements Detector.
func (d DependencyDetector) Kind() Kind { return KindDependency }

// Applies reports whether path is a manifest file.
func (d DependencyDetector) Applies(path string) bool {
	return slices.Contains(d.Manifests, filepath.Base(path))
}

// Detect implements Detector.
func (d DependencyDetector) Detect(a, b CodeChange) (Conflict, bool) {
	if !d.Applies(a.FilePath) {
		return Conflict{}, false
	}
	names := differingKeys(Dependencies(a.ModifiedCode), Dependencies(b.ModifiedCode))
	if len(names) == 0 {
		return Conflict{}, false
	}

	return Conflict{
		Kind:            KindDependency,
		Severity:        SeverityMedium,
		Strategy:        StrategyMerge,
		AffectedSymbols: names,
		Description:     "conflicting versions for: " + strings.Join(names, ", "),
	}, true
}

// differingKeys returns sorted keys present in both maps with different
// values.
func differingKeys(a, b map[string]string) []string {
	var out []string
	for k, va := range a {
		if vb, ok := b[k]; ok && va != vb {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

func lineRange(from, to int) []int {
	if to < from {
		return nil
	}
	out := make([]int, 0, to-from+1)
	for l := from; l <= to; l++ {
		out = append(out, l)
	}
	return out
}
