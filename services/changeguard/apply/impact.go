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
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/AleutianAI/changeguard/services/changeguard/ast"
	"github.com/AleutianAI/changeguard/services/changeguard/change"
	"github.com/AleutianAI/changeguard/services/changeguard/events"
)

// StageDependencies tags dependency impact issues.
const StageDependencies = "dependencies"

// Impact describes how a change alters a unit's public surface.
type Impact struct {
	// ExportsChanged is set when the exported names differ.
	ExportsChanged bool

	// ChangedProps lists props added or removed on the unit's component.
	ChangedProps []string
}

// Breaking reports whether any dependent could be affected.
func (i Impact) Breaking() bool {
	return i.ExportsChanged || len(i.ChangedProps) > 0
}

// AnalyzeImpact compares the public surface of the current and proposed
// source.
//
// # Description
//
// Exports are compared as sorted name sets. Props are the component's
// destructured or accessed prop names, compared as a symmetric difference.
//
// # Inputs
//
//   - ctx: Cancellation for parsing.
//   - lang: Grammar to parse with.
//   - unit: The unit before the change. Its Name selects the component.
//   - proposed: The replacement source.
//
// # Outputs
//
//   - Impact: The surface changes.
//   - error: Parse failures (unsupported language or cancellation).
func AnalyzeImpact(ctx context.Context, lang ast.Language, unit change.CodeUnit, proposed string) (Impact, error) {
	oldMod, err := ast.Parse(ctx, lang, unit.Source)
	if err != nil {
		return Impact{}, err
	}
	defer oldMod.Close()
	newMod, err := ast.Parse(ctx, lang, proposed)
	if err != nil {
		return Impact{}, err
	}
	defer newMod.Close()

	var impact Impact
	impact.ExportsChanged = !slices.Equal(oldMod.Exports().Sorted(), newMod.Exports().Sorted())
	impact.ChangedProps = symmetricDifference(oldMod.Props(unit.Name), newMod.Props(unit.Name))
	return impact, nil
}

// Affected selects the dependents a change may break.
//
// An export change affects every dependent. A prop change affects only
// dependents whose source mentions both the unit name and a changed prop.
func (i Impact) Affected(unitName string, dependents []string, lookup change.LookupFunc) []string {
	if i.ExportsChanged {
		return slices.Clone(dependents)
	}
	if len(i.ChangedProps) == 0 || lookup == nil {
		return nil
	}

	namePattern := wordRegexp(unitName)
	propPatterns := make([]*regexp.Regexp, len(i.ChangedProps))
	for j, p := range i.ChangedProps {
		propPatterns[j] = wordRegexp(p)
	}

	var affected []string
	for _, id := range dependents {
		dep, ok := lookup(id)
		if !ok || unitName == "" || !namePattern.MatchString(dep.Source) {
			continue
		}
		for _, re := range propPatterns {
			if re.MatchString(dep.Source) {
				affected = append(affected, id)
				break
			}
		}
	}
	return affected
}

// checkDependencies runs the impact step and publishes its events.
func (a *Applier) checkDependencies(ctx context.Context, unit change.CodeUnit, proposed string, lookup change.LookupFunc, dependents change.DependentsFunc) ([]string, []change.ValidationIssue) {
	ids := dependents(unit.ID)
	a.publisher.Emit(events.TypeDependencyCheckStarted, unit.ID, events.DependencyData{Dependents: ids})

	impact, err := AnalyzeImpact(ctx, a.config.Language, unit, proposed)
	if err != nil {
		LoggerWithTrace(ctx, a.logger).Warn("dependency analysis failed",
			slog.String("unit_id", unit.ID),
			slog.String("error", err.Error()),
		)
	}
	affected := impact.Affected(unit.Name, ids, lookup)

	data := events.DependencyData{
		Dependents:     ids,
		Affected:       affected,
		ExportsChanged: impact.ExportsChanged,
		PropsChanged:   impact.ChangedProps,
	}
	a.publisher.Emit(events.TypeDependencyCheckCompleted, unit.ID, data)
	if len(affected) == 0 {
		return nil, nil
	}

	a.publisher.Emit(events.TypeDependenciesAffected, unit.ID, data)
	issue := change.ValidationIssue{
		Message: fmt.Sprintf("change may affect %d dependent unit(s): %s",
			len(affected), strings.Join(affected, ", ")),
		Severity: change.SeverityWarning,
		Stage:    StageDependencies,
	}
	return affected, []change.ValidationIssue{issue}
}

func symmetricDifference(a, b []string) []string {
	var out []string
	for _, s := range a {
		if !slices.Contains(b, s) {
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !slices.Contains(a, s) {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func wordRegexp(word string) *regexp.Regexp {
	return regexp.MustCompile(`(^|[^\w$])` + regexp.QuoteMeta(word) + `($|[^\w$])`)
}
