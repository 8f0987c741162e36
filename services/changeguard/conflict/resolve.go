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
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/AleutianAI/changeguard/services/changeguard/diff"
)

// Resolver applies one strategy to a conflict.
type Resolver interface {
	Strategy() Strategy
	Resolve(ctx context.Context, c Conflict) (Resolution, error)
}

// BaseText returns the current full text of a file, if known.
type BaseText func(path string) (string, bool)

// Compile-time checks.
var (
	_ Resolver = TakeFirstResolver{}
	_ Resolver = TakeSecondResolver{}
	_ Resolver = SkipBothResolver{}
	_ Resolver = SequentialResolver{}
	_ Resolver = MergeResolver{}
	_ Resolver = ManualResolver{}
)

// DefaultResolvers returns one resolver per strategy.
func DefaultResolvers(base BaseText) map[Strategy]Resolver {
	return map[Strategy]Resolver{
		StrategyTakeFirst:  TakeFirstResolver{},
		StrategyTakeSecond: TakeSecondResolver{},
		StrategySkipBoth:   SkipBothResolver{},
		StrategySequential: SequentialResolver{Base: base},
		StrategyMerge:      MergeResolver{},
		StrategyManual:     ManualResolver{},
	}
}

// ===== Trivial strategies =====

// TakeFirstResolver keeps the first edit.
type TakeFirstResolver struct{}

func (TakeFirstResolver) Strategy() Strategy { return StrategyTakeFirst }

func (TakeFirstResolver) Resolve(_ context.Context, c Conflict) (Resolution, error) {
	return Resolution{
		ConflictID: c.ID,
		Strategy:   StrategyTakeFirst,
		Content:    c.First.ModifiedCode,
		Changes:    []CodeChange{c.First},
	}, nil
}

// TakeSecondResolver keeps the second edit.
type TakeSecondResolver struct{}

func (TakeSecondResolver) Strategy() Strategy { return StrategyTakeSecond }

func (TakeSecondResolver) Resolve(_ context.Context, c Conflict) (Resolution, error) {
	return Resolution{
		ConflictID: c.ID,
		Strategy:   StrategyTakeSecond,
		Content:    c.Second.ModifiedCode,
		Changes:    []CodeChange{c.Second},
	}, nil
}

// SkipBothResolver drops both edits.
type SkipBothResolver struct{}

func (SkipBothResolver) Strategy() Strategy { return StrategySkipBoth }

func (SkipBothResolver) Resolve(_ context.Context, c Conflict) (Resolution, error) {
	return Resolution{ConflictID: c.ID, Strategy: StrategySkipBoth}, nil
}

// ManualResolver always refuses.
type ManualResolver struct{}

func (ManualResolver) Strategy() Strategy { return StrategyManual }

func (ManualResolver) Resolve(_ context.Context, c Conflict) (Resolution, error) {
	return Resolution{}, fmt.Errorf("%w: %s", ErrManualResolution, c.ID)
}

// ===== Sequential =====

// SequentialResolver applies the first edit, then replays the second
// edit's line diff onto the result shifted by the first edit's net line
// delta.
//
// The replay needs a base text. It comes from Base when set, otherwise it
// is reconstructed from the two original fragments when they are
// contiguous. Without a base the conflict cannot be merged and
// ErrNoBaseText is returned, which leaves it unresolved.
type SequentialResolver struct {
	Base BaseText
}

func (SequentialResolver) Strategy() Strategy { return StrategySequential }

func (r SequentialResolver) Resolve(ctx context.Context, c Conflict) (Resolution, error) {
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}
	a, b := c.First, c.Second
	delta := lineCount(a.ModifiedCode) - lineCount(a.OriginalCode)

	base, firstLine, ok := r.baseFor(a, b)
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrNoBaseText, a.FilePath)
	}

	shifted := b
	if b.StartLine > a.EndLine {
		shifted.StartLine += delta
		shifted.EndLine += delta
	}
	res := Resolution{
		ConflictID: c.ID,
		Strategy:   StrategySequential,
		Changes:    []CodeChange{a, shifted},
	}

	lines := diff.SplitLines(base)
	lines, err := replay(lines, a.StartLine-firstLine, diff.Compute(a.OriginalCode, a.ModifiedCode))
	if err != nil {
		return Resolution{}, fmt.Errorf("first change %s: %w", a.ID, err)
	}
	lines, err = replay(lines, shifted.StartLine-firstLine, diff.Compute(b.OriginalCode, b.ModifiedCode))
	if err != nil {
		return Resolution{}, fmt.Errorf("second change %s: %w", b.ID, err)
	}

	res.Content = joinLines(lines, strings.HasSuffix(base, "\n"))
	return res, nil
}

// baseFor returns the text to replay onto and its first line number.
func (r SequentialResolver) baseFor(a, b CodeChange) (string, int, bool) {
	if r.Base != nil {
		if text, ok := r.Base(a.FilePath); ok {
			return text, 1, true
		}
	}
	contiguous := b.StartLine == a.EndLine+1 &&
		lineCount(a.OriginalCode) == a.EndLine-a.StartLine+1 &&
		lineCount(b.OriginalCode) == b.EndLine-b.StartLine+1
	if !contiguous {
		return "", 0, false
	}
	return ensureNewline(a.OriginalCode) + ensureNewline(b.OriginalCode), a.StartLine, true
}

// replay applies ops at offset, checking that kept and deleted lines match.
func replay(lines []string, offset int, ops []diff.Op) ([]string, error) {
	if offset < 0 || offset > len(lines) {
		return nil, fmt.Errorf("%w: offset %d outside %d lines", ErrSequentialReplay, offset, len(lines))
	}
	out := slices.Clone(lines[:offset])
	cursor := offset
	for _, op := range ops {
		switch op.Kind {
		case diff.OpEqual, diff.OpDelete:
			if cursor >= len(lines) || lines[cursor] != op.Line {
				return nil, fmt.Errorf("%w: line %d does not match", ErrSequentialReplay, cursor+1)
			}
			if op.Kind == diff.OpEqual {
				out = append(out, lines[cursor])
			}
			cursor++
		case diff.OpInsert:
			out = append(out, op.Line)
		}
	}
	return append(out, lines[cursor:]...), nil
}

// ===== Merge =====

// MergeResolver merges both edits structurally according to the conflict
// kind: import sets are unioned, dependency versions keep the higher one,
// and everything else uses the overlap merge.
type MergeResolver struct{}

func (MergeResolver) Strategy() Strategy { return StrategyMerge }

func (MergeResolver) Resolve(ctx context.Context, c Conflict) (Resolution, error) {
	if err := ctx.Err(); err != nil {
		return Resolution{}, err
	}
	switch c.Kind {
	case KindImport:
		return mergeImports(c), nil
	case KindDependency:
		return mergeDependencies(c)
	default:
		return mergeOverlap(c), nil
	}
}

// mergeOverlap splices both edits when their overlapping lines agree and
// otherwise produces a flagged side-by-side merge defaulting to the first.
func mergeOverlap(c Conflict) Resolution {
	a, b := c.First, c.Second
	from, to := max(a.StartLine, b.StartLine), min(a.EndLine, b.EndLine)
	la, lb := diff.SplitLines(a.ModifiedCode), diff.SplitLines(b.ModifiedCode)
	sa := clampSlice(la, from-a.StartLine, to-a.StartLine+1)
	sb := clampSlice(lb, from-b.StartLine, to-b.StartLine+1)

	if to >= from && len(sa) > 0 && slices.Equal(sa, sb) {
		merged := slices.Clone(clampSlice(la, 0, from-a.StartLine))
		merged = append(merged, sa...)
		if b.EndLine >= a.EndLine {
			merged = append(merged, clampSlice(lb, to-b.StartLine+1, len(lb))...)
		} else {
			merged = append(merged, clampSlice(la, to-a.StartLine+1, len(la))...)
		}
		content := joinLines(merged, true)
		return Resolution{
			ConflictID: c.ID,
			Strategy:   StrategyMerge,
			Content:    content,
			Changes: []CodeChange{{
				ID:           a.ID + "+" + b.ID,
				FilePath:     a.FilePath,
				StartLine:    a.StartLine,
				EndLine:      max(a.EndLine, b.EndLine),
				ModifiedCode: content,
			}},
		}
	}

	markers := fmt.Sprintf("<<<<<<< %s\n%s=======\n%s>>>>>>> %s\n",
		a.ID, ensureNewline(a.ModifiedCode), ensureNewline(b.ModifiedCode), b.ID)
	return Resolution{
		ConflictID:  c.ID,
		Strategy:    StrategyMerge,
		Content:     markers,
		Default:     a.ModifiedCode,
		NeedsReview: true,
		Changes:     []CodeChange{a},
		Notes:       []string{"overlapping lines differ; defaulting to " + a.ID},
	}
}

// mergeImports unions import bindings per module. Non-import lines of the
// first edit are kept, followed by new non-import lines of the second.
func mergeImports(c Conflict) Resolution {
	ia, ib := ParseImports(c.First.ModifiedCode), ParseImports(c.Second.ModifiedCode)

	order := slices.Clone(ia.Order)
	for _, mod := range ib.Order {
		if !slices.Contains(order, mod) {
			order = append(order, mod)
		}
	}

	var out []string
	for _, mod := range order {
		out = append(out, formatImport(mod, ia.Bindings[mod].merge(ib.Bindings[mod])))
	}

	var seen []string
	for _, text := range []string{c.First.ModifiedCode, c.Second.ModifiedCode} {
		for _, line := range diff.SplitLines(text) {
			trimmed := strings.TrimSpace(line)
			if isImportLine(line) || (trimmed != "" && slices.Contains(seen, trimmed)) {
				continue
			}
			if trimmed != "" {
				seen = append(seen, trimmed)
			}
			out = append(out, line)
		}
	}

	content := joinLines(out, true)
	return Resolution{
		ConflictID: c.ID,
		Strategy:   StrategyMerge,
		Content:    content,
		Changes:    []CodeChange{withModified(c.First, content, c.Second)},
	}
}

func formatImport(module string, b ImportBinding) string {
	var parts []string
	if b.Default != "" {
		parts = append(parts, b.Default)
	}
	if b.Namespace != "" {
		parts = append(parts, "* as "+b.Namespace)
	}
	if len(b.Named) > 0 {
		parts = append(parts, "{ "+strings.Join(b.Named, ", ")+" }")
	}
	if len(parts) == 0 {
		return fmt.Sprintf("import '%s';", module)
	}
	return fmt.Sprintf("import %s from '%s';", strings.Join(parts, ", "), module)
}

func isImportLine(line string) bool {
	return importStatement.MatchString(line) ||
		sideEffectImport.MatchString(line) ||
		requireCall.MatchString(line)
}

// mergeDependencies keeps, per dependency, the higher version. The first
// edit's text is the base; entries only the second edit has are added.
func mergeDependencies(c Conflict) (Resolution, error) {
	a, b := c.First, c.Second
	da, db := Dependencies(a.ModifiedCode), Dependencies(b.ModifiedCode)
	content := a.ModifiedCode
	isDoc := gjson.Valid(content) && strings.HasPrefix(strings.TrimSpace(content), "{")

	names := make([]string, 0, len(db))
	for name := range db {
		names = append(names, name)
	}
	slices.Sort(names)

	var notes []string
	for _, name := range names {
		vb := db[name]
		va, inFirst := da[name]
		winner := vb
		if inFirst {
			winner = HigherVersion(va, vb)
			if va != vb {
				notes = append(notes, fmt.Sprintf("%s: kept %s over %s", name, winner, loser(winner, va, vb)))
			}
			if winner == va {
				continue
			}
		}

		var err error
		switch {
		case isDoc:
			content, err = sjson.Set(content, sectionFor(content, b.ModifiedCode, name)+"."+escapePath(name), winner)
			if err != nil {
				return Resolution{}, fmt.Errorf("set %s: %w", name, err)
			}
		case inFirst:
			entry := regexp.MustCompile(`("` + regexp.QuoteMeta(name) + `"\s*:\s*)"` + regexp.QuoteMeta(va) + `"`)
			content = entry.ReplaceAllString(content, `${1}"`+strings.ReplaceAll(winner, "$", "$$")+`"`)
		default:
			content = ensureNewline(content) + entryLine(b.ModifiedCode, name)
		}
	}

	return Resolution{
		ConflictID: c.ID,
		Strategy:   StrategyMerge,
		Content:    content,
		Changes:    []CodeChange{withModified(a, content, b)},
		Notes:      notes,
	}, nil
}

func loser(winner, a, b string) string {
	if winner == a {
		return b
	}
	return a
}

// sectionFor finds the dependency section holding name, preferring the
// first document.
func sectionFor(first, second, name string) string {
	path := escapePath(name)
	for _, doc := range []string{first, second} {
		for _, s := range manifestSections {
			if gjson.Get(doc, s+"."+path).Exists() {
				return s
			}
		}
	}
	return manifestSections[0]
}

func escapePath(name string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(name)
}

// entryLine returns the line of text declaring name.
func entryLine(text, name string) string {
	for _, line := range diff.SplitLines(text) {
		if strings.Contains(line, `"`+name+`"`) {
			return line + "\n"
		}
	}
	return ""
}

// withModified builds one edit spanning a and b with the given text.
func withModified(a CodeChange, content string, b CodeChange) CodeChange {
	merged := a
	merged.ID = a.ID + "+" + b.ID
	merged.StartLine = min(a.StartLine, b.StartLine)
	merged.EndLine = max(a.EndLine, b.EndLine)
	merged.ModifiedCode = content
	return merged
}

func clampSlice(lines []string, from, to int) []string {
	from = max(0, min(from, len(lines)))
	to = max(from, min(to, len(lines)))
	return lines[from:to]
}

func joinLines(lines []string, trailingNewline bool) string {
	if len(lines) == 0 {
		return ""
	}
	s := strings.Join(lines, "\n")
	if trailingNewline {
		s += "\n"
	}
	return s
}

func ensureNewline(s string) string {
	if s == "" || strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}
