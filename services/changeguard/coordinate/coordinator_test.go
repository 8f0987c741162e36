// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package coordinate

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/changeguard/services/changeguard/apply"
	"github.com/AleutianAI/changeguard/services/changeguard/change"
	"github.com/AleutianAI/changeguard/services/changeguard/events"
)

const (
	xOriginal = `export function X({ title }) {
  return <h1>{title}</h1>;
}
`
	xProposed = `export function X({ title }) {
  return <h2>{title}</h2>;
}
`
	yOriginal = `export function Y() {
  return <p>ok</p>;
}
`
	yUndefined = `export function Y() {
  return <p>{missingHelper()}</p>;
}
`
	yMissingDecl = `export const Z = () => <p />;
`
	panelSrc = `import React from 'react';

class Panel extends React.Component {
  render() {
    return <div>{this.props.children}</div>;
  }
}

export default Panel;
`
)

type memUnits struct {
	mu   sync.Mutex
	byID map[string]change.CodeUnit
}

func newMemUnits(us ...change.CodeUnit) *memUnits {
	m := &memUnits{byID: make(map[string]change.CodeUnit)}
	for _, u := range us {
		m.byID[u.ID] = u
	}
	return m
}

func (m *memUnits) lookup(id string) (change.CodeUnit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	return u, ok
}

func newCoordinator(t *testing.T) (*Coordinator, *events.MockEmitter) {
	t.Helper()
	mock := events.NewMockEmitter()
	c, err := NewDefault(apply.DefaultConfig(), mock, nil, nil)
	require.NoError(t, err)
	return c, mock
}

func xyUnits() *memUnits {
	return newMemUnits(
		change.CodeUnit{ID: "x", Name: "X", Source: xOriginal},
		change.CodeUnit{ID: "y", Name: "Y", Source: yOriginal},
	)
}

func TestCoordinator_ApplyOne(t *testing.T) {
	ctx := context.Background()

	t.Run("delegates to the supporting applier", func(t *testing.T) {
		c, _ := newCoordinator(t)
		reg := xyUnits()

		res := c.ApplyOne(ctx, change.NewRequest("x", xProposed), reg.lookup, nil)
		require.True(t, res.Success, res.Error)
		assert.Equal(t, xProposed, res.NewSource)
	})

	t.Run("unknown unit", func(t *testing.T) {
		c, _ := newCoordinator(t)
		res := c.ApplyOne(ctx, change.NewRequest("ghost", xProposed), xyUnits().lookup, nil)
		assert.Equal(t, change.KindNotFound, res.Kind)
	})

	t.Run("no applier for unrecognised source", func(t *testing.T) {
		c, _ := newCoordinator(t)
		reg := newMemUnits(change.CodeUnit{ID: "cfg", Name: "cfg", Source: "export const a = 1;"})

		res := c.ApplyOne(ctx, change.NewRequest("cfg", "export const a = 2;"), reg.lookup, nil)
		assert.False(t, res.Success)
		assert.Equal(t, change.KindNoApplier, res.Kind)
	})

	t.Run("class and function units share the default applier", func(t *testing.T) {
		c, _ := newCoordinator(t)
		reg := newMemUnits(
			change.CodeUnit{ID: "panel", Name: "Panel", Source: panelSrc},
			change.CodeUnit{ID: "x", Name: "X", Source: xOriginal},
		)

		assert.True(t, c.ApplyOne(ctx, change.NewRequest("panel", panelSrc), reg.lookup, nil).Success)
		assert.True(t, c.ApplyOne(ctx, change.NewRequest("x", xProposed), reg.lookup, nil).Success)
		assert.Len(t, c.Appliers(), 1)
	})

	t.Run("pattern failure then rollback restores original", func(t *testing.T) {
		c, _ := newCoordinator(t)
		reg := newMemUnits(change.CodeUnit{ID: "btn", Name: "Btn", Source: "export function Btn() {\n  return <button />;\n}\n"})

		res := c.ApplyOne(ctx, change.NewRequest("btn", "export const Other = () => <i />;\n"), reg.lookup, nil)
		require.False(t, res.Success)
		assert.Contains(t, res.Error, "could not find a proper Btn")
		assert.Equal(t, 1, c.Appliers()[0].Backups().Depth("btn"))

		src, ok := c.Rollback(ctx, "btn")
		require.True(t, ok)
		assert.Equal(t, "export function Btn() {\n  return <button />;\n}\n", src)
	})
}

func TestCoordinator_ApplyBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("transactional sandbox failure compensates earlier members", func(t *testing.T) {
		c, mock := newCoordinator(t)
		reg := xyUnits()
		changes := map[string]change.ChangeRequest{
			"x": change.NewRequest("x", xProposed),
			"y": change.NewRequest("y", yUndefined),
		}

		results := c.ApplyBatch(ctx, []string{"x", "y"}, changes, true, reg.lookup, nil)

		require.Len(t, results, 2)
		assert.False(t, results["x"].Success)
		assert.Equal(t, change.KindRolledBack, results["x"].Kind)
		assert.Contains(t, results["x"].Error, "rolled back")
		assert.False(t, results["y"].Success)
		assert.Equal(t, change.KindSandbox, results["y"].Kind)
		assert.Contains(t, results["y"].Error, "missingHelper")

		compensations := mock.GetEventsByType(events.TypeRollbackCompleted)
		require.Len(t, compensations, 1)
		assert.True(t, compensations[0].Data.(events.RollbackData).Compensating)

		src, ok := c.Rollback(ctx, "x")
		require.True(t, ok)
		assert.Equal(t, xOriginal, src)
	})

	t.Run("later members are not reported after a failure", func(t *testing.T) {
		c, _ := newCoordinator(t)
		reg := newMemUnits(
			change.CodeUnit{ID: "x", Name: "X", Source: xOriginal},
			change.CodeUnit{ID: "y", Name: "Y", Source: yOriginal},
			change.CodeUnit{ID: "w", Name: "W", Source: "export function W() {\n  return <b />;\n}\n"},
		)
		changes := map[string]change.ChangeRequest{
			"x": change.NewRequest("x", xProposed),
			"y": change.NewRequest("y", yUndefined),
			"w": change.NewRequest("w", "export function W() {\n  return <i />;\n}\n"),
		}

		results := c.ApplyBatch(ctx, []string{"x", "y", "w"}, changes, true, reg.lookup, nil)

		assert.Len(t, results, 2)
		assert.NotContains(t, results, "w")
		assert.Equal(t, 0, c.Appliers()[0].Backups().Depth("w"))
	})

	t.Run("transactional validation failure applies nothing", func(t *testing.T) {
		c, mock := newCoordinator(t)
		reg := xyUnits()
		changes := map[string]change.ChangeRequest{
			"x": change.NewRequest("x", xProposed),
			"y": change.NewRequest("y", yMissingDecl),
		}

		results := c.ApplyBatch(ctx, []string{"x", "y"}, changes, true, reg.lookup, nil)

		require.Len(t, results, 2)
		assert.Equal(t, change.KindBatchAborted, results["x"].Kind)
		assert.Equal(t, change.KindPattern, results["y"].Kind)
		assert.Empty(t, mock.Types())
		assert.Equal(t, 0, c.Appliers()[0].Backups().Depth("x"))
	})

	t.Run("non-transactional applies every member", func(t *testing.T) {
		c, _ := newCoordinator(t)
		reg := xyUnits()
		changes := map[string]change.ChangeRequest{
			"x": change.NewRequest("x", xProposed),
			"y": change.NewRequest("y", yUndefined),
		}

		results := c.ApplyBatch(ctx, []string{"x", "y"}, changes, false, reg.lookup, nil)

		assert.True(t, results["x"].Success)
		assert.Equal(t, xProposed, results["x"].NewSource)
		assert.Equal(t, change.KindSandbox, results["y"].Kind)
	})

	t.Run("missing change for an id", func(t *testing.T) {
		c, _ := newCoordinator(t)
		results := c.ApplyBatch(ctx, []string{"x"}, nil, false, xyUnits().lookup, nil)
		assert.Equal(t, change.KindInvalidRequest, results["x"].Kind)
	})

	t.Run("all succeed", func(t *testing.T) {
		c, _ := newCoordinator(t)
		reg := xyUnits()
		changes := map[string]change.ChangeRequest{
			"x": change.NewRequest("x", xProposed),
			"y": change.NewRequest("y", yOriginal),
		}

		results := c.ApplyBatch(ctx, []string{"x", "y"}, changes, true, reg.lookup, nil)
		assert.True(t, results["x"].Success)
		assert.True(t, results["y"].Success)
	})
}

func TestCoordinator_ValidateChanges(t *testing.T) {
	c, mock := newCoordinator(t)
	reg := xyUnits()
	changes := map[string]change.ChangeRequest{
		"x": change.NewRequest("x", xProposed),
		"y": {UnitID: "y"},
	}

	out := c.ValidateChanges(context.Background(), []string{"x", "y", "ghost"}, changes, reg.lookup)

	assert.True(t, out["x"].Success)
	assert.Equal(t, change.KindInvalidRequest, out["y"].Kind)
	assert.False(t, out["ghost"].Success)
	assert.Empty(t, mock.Types())
}

func TestCoordinator_Rollback(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown unit publishes failure", func(t *testing.T) {
		c, mock := newCoordinator(t)
		src, ok := c.Rollback(ctx, "ghost")

		assert.False(t, ok)
		assert.Empty(t, src)
		assert.Equal(t, []events.Type{events.TypeRollbackStarted, events.TypeRollbackFailed}, mock.Types())
	})

	t.Run("second rollback after one apply fails", func(t *testing.T) {
		c, _ := newCoordinator(t)
		reg := xyUnits()
		c.ApplyOne(ctx, change.NewRequest("x", xProposed), reg.lookup, nil)

		_, ok := c.Rollback(ctx, "x")
		assert.True(t, ok)
		_, ok = c.Rollback(ctx, "x")
		assert.False(t, ok)
	})
}
