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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func edit(id, path string, start, end int, original, modified string) CodeChange {
	return CodeChange{
		ID:           id,
		FilePath:     path,
		StartLine:    start,
		EndLine:      end,
		OriginalCode: original,
		ModifiedCode: modified,
	}
}

func TestEngine_DetectAndResolve(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(DefaultConfig())

	t.Run("distant symbol-disjoint edits do not conflict", func(t *testing.T) {
		report, err := engine.DetectAndResolve(ctx, []CodeChange{
			edit("c1", "file.ts", 1, 1, "const alpha = 1;", "const alpha = 2;"),
			edit("c2", "file.ts", 20, 20, "const beta = 3;", "const beta = 4;"),
		})
		require.NoError(t, err)
		assert.Empty(t, report.Conflicts)
		assert.Len(t, report.NonConflicting, 2)
		assert.Equal(t, 1, report.Stats.Files)
	})

	t.Run("different files never conflict", func(t *testing.T) {
		report, err := engine.DetectAndResolve(ctx, []CodeChange{
			edit("c1", "a.ts", 10, 12, "a", "x"),
			edit("c2", "b.ts", 10, 12, "a", "y"),
		})
		require.NoError(t, err)
		assert.Empty(t, report.Conflicts)
		assert.Equal(t, 2, report.Stats.Files)
	})

	t.Run("overlapping dissimilar edits are critical and manual", func(t *testing.T) {
		report, err := engine.DetectAndResolve(ctx, []CodeChange{
			edit("c1", "file.ts", 10, 12, "a\nb\nc", "x = 1\n"),
			edit("c2", "file.ts", 11, 13, "b\nc\nd", "completely unrelated replacement text\n"),
		})
		require.NoError(t, err)
		require.Len(t, report.Conflicts, 1)

		c := report.Conflicts[0]
		assert.Equal(t, KindOverlapping, c.Kind)
		assert.Equal(t, SeverityCritical, c.Severity)
		assert.Equal(t, StrategyManual, c.Strategy)
		assert.Less(t, c.Similarity, HighSimilarity)
		assert.Equal(t, []int{11, 12}, c.AffectedLines)
		assert.NotContains(t, c.Alternatives, StrategyManual)
		assert.Len(t, c.Alternatives, len(AllStrategies)-1)
		assert.Empty(t, report.AutoResolved)
		require.Len(t, report.Unresolved, 1)
		assert.Equal(t, c.ID, report.Unresolved[0].ID)
	})

	t.Run("identical modified code is none and take-first", func(t *testing.T) {
		for name, pair := range map[string][2]CodeChange{
			"overlapping": {
				edit("c1", "file.ts", 5, 6, "a\nb", "same\n"),
				edit("c2", "file.ts", 6, 7, "b\nc", "same\n"),
			},
			"adjacent": {
				edit("c1", "file.ts", 5, 5, "a", "same\n"),
				edit("c2", "file.ts", 6, 6, "b", "same\n"),
			},
		} {
			t.Run(name, func(t *testing.T) {
				report, err := engine.DetectAndResolve(ctx, pair[:])
				require.NoError(t, err)
				require.Len(t, report.Conflicts, 1)
				assert.Equal(t, SeverityNone, report.Conflicts[0].Severity)
				assert.Equal(t, StrategyTakeFirst, report.Conflicts[0].Strategy)
				require.Len(t, report.AutoResolved, 1)
				assert.Equal(t, "same\n", report.AutoResolved[0].Resolution.Content)
			})
		}
	})

	t.Run("package.json version clash keeps the caret range", func(t *testing.T) {
		for name, versions := range map[string][2]string{
			"caret first":  {`"lodash": "^4.17.0",`, `"lodash": "4.16.0",`},
			"caret second": {`"lodash": "4.16.0",`, `"lodash": "^4.17.0",`},
		} {
			t.Run(name, func(t *testing.T) {
				report, err := engine.DetectAndResolve(ctx, []CodeChange{
					edit("c1", "web/package.json", 5, 5, `"lodash": "4.15.0",`, versions[0]),
					edit("c2", "web/package.json", 5, 5, `"lodash": "4.15.0",`, versions[1]),
				})
				require.NoError(t, err)
				require.Len(t, report.Conflicts, 1)

				c := report.Conflicts[0]
				assert.Equal(t, KindDependency, c.Kind)
				assert.Equal(t, SeverityMedium, c.Severity)
				assert.Equal(t, StrategyMerge, c.Strategy)
				assert.Equal(t, []string{"lodash"}, c.AffectedSymbols)
				assert.Contains(t, c.Merged, `"lodash": "^4.17.0"`)
				assert.NotContains(t, c.Merged, "4.16.0")
			})
		}
	})

	t.Run("adjacent edits resolve sequentially onto the base", func(t *testing.T) {
		engine := NewEngine(DefaultConfig(), WithBaseText(func(path string) (string, bool) {
			return "a\nb\nc\nd\ne\n", path == "file.ts"
		}))
		report, err := engine.DetectAndResolve(ctx, []CodeChange{
			edit("c1", "file.ts", 1, 2, "a\nb", "a\nb\nextra"),
			edit("c2", "file.ts", 4, 5, "d\ne", "D\nE"),
		})
		require.NoError(t, err)
		require.Len(t, report.Conflicts, 1)
		assert.Equal(t, KindAdjacent, report.Conflicts[0].Kind)
		assert.Equal(t, SeverityLow, report.Conflicts[0].Severity)

		require.Len(t, report.AutoResolved, 1)
		res := report.AutoResolved[0].Resolution
		assert.Equal(t, "a\nb\nextra\nc\nD\nE\n", res.Content)
		require.Len(t, res.Changes, 2)
		assert.Equal(t, 5, res.Changes[1].StartLine)
		assert.Equal(t, 6, res.Changes[1].EndLine)
	})

	t.Run("adjacent edits without a base stay unresolved", func(t *testing.T) {
		report, err := engine.DetectAndResolve(ctx, []CodeChange{
			edit("c1", "f.ts", 1, 1, "a", "A"),
			edit("c2", "f.ts", 3, 3, "c", "C"),
		})
		require.NoError(t, err)
		require.Len(t, report.Conflicts, 1)
		c := report.Conflicts[0]
		assert.Equal(t, KindAdjacent, c.Kind)
		assert.Equal(t, SeverityLow, c.Severity)
		assert.Equal(t, StrategySequential, c.Strategy)

		assert.Empty(t, report.AutoResolved)
		require.Len(t, report.Unresolved, 1)
		assert.Equal(t, "c1:c2", report.Unresolved[0].ID)
		assert.Equal(t, 1, report.Stats.Unresolved)

		_, err = engine.Resolve(ctx, c, StrategySequential)
		assert.ErrorIs(t, err, ErrNoBaseText)
	})

	t.Run("tight adjacency is medium", func(t *testing.T) {
		report, err := engine.DetectAndResolve(ctx, []CodeChange{
			edit("c1", "file.ts", 1, 1, "a", "A"),
			edit("c2", "file.ts", 2, 2, "b", "B"),
		})
		require.NoError(t, err)
		require.Len(t, report.Conflicts, 1)
		assert.Equal(t, SeverityMedium, report.Conflicts[0].Severity)
		assert.Len(t, report.Unresolved, 1)
	})

	t.Run("related by referenced symbol", func(t *testing.T) {
		report, err := engine.DetectAndResolve(ctx, []CodeChange{
			edit("c1", "file.ts", 1, 3, "function formatDate(d) {\n  return d;\n}", "function formatDate(d) {\n  return String(d);\n}"),
			edit("c2", "file.ts", 30, 30, "const label = formatDate(now);", "const label = formatDate(today);"),
		})
		require.NoError(t, err)
		require.Len(t, report.Conflicts, 1)
		c := report.Conflicts[0]
		assert.Equal(t, KindRelated, c.Kind)
		assert.Equal(t, SeverityMedium, c.Severity)
		assert.Equal(t, StrategySequential, c.Strategy)
		assert.Equal(t, []string{"formatDate"}, c.AffectedSymbols)
	})

	t.Run("semantic signature clash", func(t *testing.T) {
		report, err := engine.DetectAndResolve(ctx, []CodeChange{
			edit("c1", "file.ts", 1, 1, "// a", "function load(id) { return id; }"),
			edit("c2", "file.ts", 40, 40, "// b", "function load(id, opts) { return opts; }"),
		})
		require.NoError(t, err)
		require.Len(t, report.Conflicts, 1)
		c := report.Conflicts[0]
		assert.Equal(t, KindSemantic, c.Kind)
		assert.Equal(t, SeverityHigh, c.Severity)
		assert.Equal(t, StrategyManual, c.Strategy)
		assert.Equal(t, []string{"load"}, c.AffectedSymbols)
	})

	t.Run("typed variable clash", func(t *testing.T) {
		report, err := engine.DetectAndResolve(ctx, []CodeChange{
			edit("c1", "file.ts", 1, 1, "// a", "let count: number = 0;"),
			edit("c2", "file.ts", 40, 40, "// b", "let count: string = '0';"),
		})
		require.NoError(t, err)
		require.Len(t, report.Conflicts, 1)
		assert.Equal(t, KindSemantic, report.Conflicts[0].Kind)
	})

	t.Run("import clash is merged automatically", func(t *testing.T) {
		report, err := engine.DetectAndResolve(ctx, []CodeChange{
			edit("c1", "file.ts", 1, 1, "// a", "import { useState } from 'react';"),
			edit("c2", "file.ts", 40, 40, "// b", "import React, { useEffect } from 'react';"),
		})
		require.NoError(t, err)
		require.Len(t, report.Conflicts, 1)
		assert.Equal(t, KindImport, report.Conflicts[0].Kind)
		require.Len(t, report.AutoResolved, 1)
		assert.Equal(t, "import React, { useEffect, useState } from 'react';\n",
			report.AutoResolved[0].Resolution.Content)
	})

	t.Run("non conflicting edits are reported alongside conflicts", func(t *testing.T) {
		report, err := engine.DetectAndResolve(ctx, []CodeChange{
			edit("c1", "file.ts", 10, 12, "a", "x = 1\n"),
			edit("c2", "file.ts", 11, 13, "b", "something else entirely different\n"),
			edit("c3", "file.ts", 80, 80, "const gamma = 1;", "const gamma = 2;"),
		})
		require.NoError(t, err)
		require.Len(t, report.NonConflicting, 1)
		assert.Equal(t, "c3", report.NonConflicting[0].ID)
		assert.Equal(t, 1, report.Stats.ByKind[KindOverlapping])
	})

	t.Run("invalid edit", func(t *testing.T) {
		_, err := engine.DetectAndResolve(ctx, []CodeChange{edit("c1", "file.ts", 0, 1, "", "")})
		assert.ErrorIs(t, err, ErrInvalidChange)

		_, err = engine.DetectAndResolve(ctx, []CodeChange{edit("c1", "file.ts", 5, 2, "", "")})
		assert.ErrorIs(t, err, ErrInvalidChange)
	})

	t.Run("missing ids are assigned", func(t *testing.T) {
		report, err := engine.DetectAndResolve(ctx, []CodeChange{
			edit("", "file.ts", 1, 1, "a", "A"),
			edit("", "file.ts", 50, 50, "b", "B"),
		})
		require.NoError(t, err)
		require.Len(t, report.NonConflicting, 2)
		assert.Equal(t, "change-1", report.NonConflicting[0].ID)
		assert.Equal(t, "change-2", report.NonConflicting[1].ID)
	})

	t.Run("canceled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := engine.DetectAndResolve(cctx, []CodeChange{edit("c1", "file.ts", 1, 1, "a", "b")})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestEngine_AutoResolveCeiling(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoResolveCeiling = SeverityMedium
	engine := NewEngine(cfg)

	report, err := engine.DetectAndResolve(context.Background(), []CodeChange{
		edit("c1", "file.ts", 1, 1, "a", "A"),
		edit("c2", "file.ts", 2, 2, "b", "B"),
	})
	require.NoError(t, err)
	require.Len(t, report.AutoResolved, 1)
	assert.Equal(t, "A\nB\n", report.AutoResolved[0].Resolution.Content)
}

func TestEngine_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("manual always refuses", func(t *testing.T) {
		_, err := NewEngine(DefaultConfig()).Resolve(ctx, Conflict{ID: "x"}, StrategyManual)
		assert.ErrorIs(t, err, ErrManualResolution)
	})

	t.Run("unknown strategy", func(t *testing.T) {
		_, err := NewEngine(DefaultConfig()).Resolve(ctx, Conflict{ID: "x"}, "coin_flip")
		assert.ErrorIs(t, err, ErrUnknownStrategy)
	})

	t.Run("sequential replays onto base text", func(t *testing.T) {
		base := "a\nb\nc\nd\ne\nf\n"
		engine := NewEngine(DefaultConfig(), WithBaseText(func(path string) (string, bool) {
			return base, path == "file.ts"
		}))
		c := Conflict{
			ID:     "c1:c2",
			First:  edit("c1", "file.ts", 2, 2, "b", "B\nB2"),
			Second: edit("c2", "file.ts", 5, 5, "e", "E"),
			Kind:   KindAdjacent,
		}

		res, err := engine.Resolve(ctx, c, StrategySequential)
		require.NoError(t, err)
		assert.Equal(t, "a\nB\nB2\nc\nd\nE\nf\n", res.Content)
	})

	t.Run("sequential replay detects drift", func(t *testing.T) {
		engine := NewEngine(DefaultConfig(), WithBaseText(func(string) (string, bool) {
			return "a\nb\nc\n", true
		}))
		c := Conflict{
			First:  edit("c1", "file.ts", 1, 1, "zzz", "Z"),
			Second: edit("c2", "file.ts", 3, 3, "c", "C"),
		}
		_, err := engine.Resolve(ctx, c, StrategySequential)
		assert.ErrorIs(t, err, ErrSequentialReplay)
	})

	t.Run("take first and second", func(t *testing.T) {
		engine := NewEngine(DefaultConfig())
		c := Conflict{First: edit("c1", "f", 1, 1, "", "one"), Second: edit("c2", "f", 1, 1, "", "two")}

		first, err := engine.Resolve(ctx, c, StrategyTakeFirst)
		require.NoError(t, err)
		assert.Equal(t, "one", first.Content)

		second, err := engine.Resolve(ctx, c, StrategyTakeSecond)
		require.NoError(t, err)
		assert.Equal(t, "two", second.Content)

		skipped, err := engine.Resolve(ctx, c, StrategySkipBoth)
		require.NoError(t, err)
		assert.Empty(t, skipped.Changes)
	})
}

func TestMergeResolver_Overlap(t *testing.T) {
	ctx := context.Background()

	t.Run("identical overlap is spliced", func(t *testing.T) {
		c := Conflict{
			Kind:   KindOverlapping,
			First:  edit("c1", "f", 1, 3, "", "x\ny\nz"),
			Second: edit("c2", "f", 2, 4, "", "y\nz\nw"),
		}
		res, err := MergeResolver{}.Resolve(ctx, c)
		require.NoError(t, err)
		assert.False(t, res.NeedsReview)
		assert.Equal(t, "x\ny\nz\nw\n", res.Content)
		require.Len(t, res.Changes, 1)
		assert.Equal(t, 4, res.Changes[0].EndLine)
	})

	t.Run("differing overlap is flagged", func(t *testing.T) {
		c := Conflict{
			Kind:   KindOverlapping,
			First:  edit("c1", "f", 1, 2, "", "left\n"),
			Second: edit("c2", "f", 2, 3, "", "right\n"),
		}
		res, err := MergeResolver{}.Resolve(ctx, c)
		require.NoError(t, err)
		assert.True(t, res.NeedsReview)
		assert.Equal(t, "left\n", res.Default)
		assert.Equal(t, "<<<<<<< c1\nleft\n=======\nright\n>>>>>>> c2\n", res.Content)
	})
}

func TestMergeResolver_Dependencies(t *testing.T) {
	first := `{
  "name": "web",
  "dependencies": {
    "lodash": "4.16.0",
    "react": "^18.2.0"
  }
}`
	second := `{
  "name": "web",
  "dependencies": {
    "lodash": "^4.17.0",
    "react": "^18.2.0",
    "zod": "3.22.0"
  }
}`
	res, err := MergeResolver{}.Resolve(context.Background(), Conflict{
		Kind:   KindDependency,
		First:  edit("c1", "package.json", 1, 7, "", first),
		Second: edit("c2", "package.json", 1, 8, "", second),
	})
	require.NoError(t, err)

	deps := Dependencies(res.Content)
	assert.Equal(t, "^4.17.0", deps["lodash"])
	assert.Equal(t, "^18.2.0", deps["react"])
	assert.Equal(t, "3.22.0", deps["zod"])
	assert.Contains(t, res.Notes, "lodash: kept ^4.17.0 over 4.16.0")
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"4.17.0", "4.16.0", 1},
		{"4.16.0", "4.17.0", -1},
		{"^4.17.0", "4.17.0", 1},
		{"4.17.0", "^4.17.0", -1},
		{"~1.2.3", "1.2.3", 0},
		{"1.10.0", "1.9.0", 1},
		{"v2", "1.99.99", 1},
		{"latest", "latest", 0},
		{"1.2.3.4", "1.2.3.5", -1},
	}
	for _, tt := range tests {
		t.Run(tt.a+" vs "+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareVersions(tt.a, tt.b))
		})
	}
	assert.Equal(t, "^4.17.0", HigherVersion("4.17.0", "^4.17.0"))
}

func TestParseSeverity(t *testing.T) {
	s, err := ParseSeverity("Medium")
	require.NoError(t, err)
	assert.Equal(t, SeverityMedium, s)

	_, err = ParseSeverity("extreme")
	assert.ErrorIs(t, err, ErrUnknownSeverity)

	var parsed Severity
	require.NoError(t, parsed.UnmarshalText([]byte("critical")))
	assert.Equal(t, SeverityCritical, parsed)
	assert.True(t, SeverityLow < SeverityCritical)
}
