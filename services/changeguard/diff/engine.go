// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diff provides the line diff engine, the similarity scorer, and
// unified diff rendering used across the change pipeline.
//
// The line diff is a greedy two-cursor walk. It is not a minimal (LCS)
// diff: on a mismatch it looks forward on both sides and takes whichever
// resynchronisation skips fewer lines.
package diff

import "strings"

// OpKind is the kind of a single line operation.
type OpKind int

const (
	// OpEqual keeps a line present on both sides.
	OpEqual OpKind = iota

	// OpDelete removes a line from the old side.
	OpDelete

	// OpInsert adds a line from the new side.
	OpInsert
)

// String returns the unified-diff prefix character of the kind.
func (k OpKind) String() string {
	switch k {
	case OpDelete:
		return "-"
	case OpInsert:
		return "+"
	default:
		return " "
	}
}

// Op is one line operation.
//
// OldIndex and NewIndex are 0-based cursor positions at the time the op was
// emitted. For an insert OldIndex is the old-side position the line goes
// before; for a delete NewIndex is the matching new-side position.
type Op struct {
	Kind     OpKind
	Line     string
	OldIndex int
	NewIndex int
}

// SplitLines splits text into lines. A trailing newline does not produce an
// extra empty line and empty text has no lines.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Compute diffs two texts line by line.
//
// # Description
//
// Splits both texts with SplitLines and runs ComputeLines.
//
// # Inputs
//
//   - oldText: The original text.
//   - newText: The proposed text.
//
// # Outputs
//
//   - []Op: Ordered operations transforming oldText into newText.
func Compute(oldText, newText string) []Op {
	return ComputeLines(SplitLines(oldText), SplitLines(newText))
}

// ComputeLines diffs two line slices with the greedy two-cursor walk.
//
// # Description
//
// While both cursors are in range: equal lines are emitted as OpEqual and
// both cursors advance. Otherwise the walk searches forward in the old side
// for the current new line (a deletion run) and forward in the new side for
// the current old line (an insertion run). The shorter run wins, a tie
// favours the deletion, and when neither side finds a match one delete and
// one insert are emitted. Leftover old lines become deletes and leftover new
// lines become inserts.
//
// # Inputs
//
//   - a: Old lines.
//   - b: New lines.
//
// # Outputs
//
//   - []Op: Ordered operations. Applying them to a yields b.
//
// # Example
//
//	ops := ComputeLines([]string{"a", "b", "c"}, []string{"a", "c"})
//	// equal "a", delete "b", equal "c"
func ComputeLines(a, b []string) []Op {
	ops := make([]Op, 0, len(a)+len(b))
	i, j := 0, 0

	for i < len(a) && j < len(b) {
		if a[i] == b[j] {
			ops = append(ops, Op{Kind: OpEqual, Line: a[i], OldIndex: i, NewIndex: j})
			i++
			j++
			continue
		}

		delAt := indexFrom(a, i+1, b[j])
		insAt := indexFrom(b, j+1, a[i])

		switch {
		case delAt < 0 && insAt < 0:
			ops = append(ops,
				Op{Kind: OpDelete, Line: a[i], OldIndex: i, NewIndex: j},
				Op{Kind: OpInsert, Line: b[j], OldIndex: i + 1, NewIndex: j},
			)
			i++
			j++

		case insAt < 0 || (delAt >= 0 && delAt-i <= insAt-j):
			for ; i < delAt; i++ {
				ops = append(ops, Op{Kind: OpDelete, Line: a[i], OldIndex: i, NewIndex: j})
			}

		default:
			for ; j < insAt; j++ {
				ops = append(ops, Op{Kind: OpInsert, Line: b[j], OldIndex: i, NewIndex: j})
			}
		}
	}

	for ; i < len(a); i++ {
		ops = append(ops, Op{Kind: OpDelete, Line: a[i], OldIndex: i, NewIndex: j})
	}
	for ; j < len(b); j++ {
		ops = append(ops, Op{Kind: OpInsert, Line: b[j], OldIndex: i, NewIndex: j})
	}

	return ops
}

// Apply replays ops and returns the new-side lines.
func Apply(ops []Op) []string {
	out := make([]string, 0, len(ops))
	for _, op := range ops {
		if op.Kind != OpDelete {
			out = append(out, op.Line)
		}
	}
	return out
}

// HasChanges reports whether ops contain any insert or delete.
func HasChanges(ops []Op) bool {
	for _, op := range ops {
		if op.Kind != OpEqual {
			return true
		}
	}
	return false
}

// Counts returns the number of inserted and deleted lines.
func Counts(ops []Op) (inserted, deleted int) {
	for _, op := range ops {
		switch op.Kind {
		case OpInsert:
			inserted++
		case OpDelete:
			deleted++
		}
	}
	return inserted, deleted
}

func indexFrom(lines []string, from int, target string) int {
	for k := from; k < len(lines); k++ {
		if lines[k] == target {
			return k
		}
	}
	return -1
}
