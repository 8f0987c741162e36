// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diff

import (
	"bytes"
	"fmt"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// DefaultContextLines is the number of unchanged lines around each hunk.
const DefaultContextLines = 3

// Unified renders the diff of two texts in unified format.
//
// # Description
//
// Computes the greedy line diff, groups changed ops into hunks with
// contextLines of surrounding context, and prints them through go-diff.
// Identical texts render as the empty string.
//
// # Inputs
//
//   - name: File or unit name used for the --- and +++ headers.
//   - oldText, newText: Texts to compare.
//   - contextLines: Context size; negative values use DefaultContextLines.
//
// # Outputs
//
//   - string: Unified diff, or "" when there are no changes.
//   - error: Non-nil if go-diff fails to print the file diff.
func Unified(name, oldText, newText string, contextLines int) (string, error) {
	fd := FileDiff(name, Compute(oldText, newText), contextLines)
	if len(fd.Hunks) == 0 {
		return "", nil
	}
	out, err := godiff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("print diff for %s: %w", name, err)
	}
	return string(out), nil
}

// Stats summarises a unified diff as reported by go-diff.
func Stats(name, oldText, newText string) godiff.Stat {
	return FileDiff(name, Compute(oldText, newText), DefaultContextLines).Stat()
}

// FileDiff converts ops into a go-diff FileDiff with a/ and b/ names.
func FileDiff(name string, ops []Op, contextLines int) *godiff.FileDiff {
	if contextLines < 0 {
		contextLines = DefaultContextLines
	}
	return &godiff.FileDiff{
		OrigName: "a/" + name,
		NewName:  "b/" + name,
		Hunks:    buildHunks(ops, contextLines),
	}
}

// buildHunks groups changed ops, merging groups whose context windows touch.
func buildHunks(ops []Op, ctx int) []*godiff.Hunk {
	var hunks []*godiff.Hunk
	start, end := -1, -1

	for idx, op := range ops {
		if op.Kind == OpEqual {
			continue
		}
		lo := max(0, idx-ctx)
		hi := min(len(ops)-1, idx+ctx)
		if start >= 0 && lo <= end+1 {
			end = hi
			continue
		}
		if start >= 0 {
			hunks = append(hunks, makeHunk(ops[start:end+1]))
		}
		start, end = lo, hi
	}
	if start >= 0 {
		hunks = append(hunks, makeHunk(ops[start:end+1]))
	}
	return hunks
}

func makeHunk(ops []Op) *godiff.Hunk {
	var body bytes.Buffer
	var origLines, newLines int32

	for _, op := range ops {
		body.WriteString(op.Kind.String())
		body.WriteString(op.Line)
		body.WriteByte('\n')
		switch op.Kind {
		case OpEqual:
			origLines++
			newLines++
		case OpDelete:
			origLines++
		case OpInsert:
			newLines++
		}
	}

	first := ops[0]
	origStart := int32(first.OldIndex)
	if origLines > 0 {
		origStart++
	}
	newStart := int32(first.NewIndex)
	if newLines > 0 {
		newStart++
	}

	return &godiff.Hunk{
		OrigStartLine: origStart,
		OrigLines:     origLines,
		NewStartLine:  newStart,
		NewLines:      newLines,
		Body:          body.Bytes(),
	}
}
