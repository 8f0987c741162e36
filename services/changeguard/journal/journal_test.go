// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package journal

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/changeguard/services/changeguard/events"
)

func openTest(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func event(id, unit string, typ events.Type, at time.Time) events.Event {
	return events.Event{ID: id, Type: typ, UnitID: unit, Timestamp: at}
}

func TestJournal_RecordAndList(t *testing.T) {
	ctx := context.Background()
	j := openTest(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, event("e2", "btn", events.TypeApplicationStarted, base.Add(time.Second))))
	require.NoError(t, j.Record(ctx, event("e1", "btn", events.TypeValidationStarted, base)))
	require.NoError(t, j.Record(ctx, event("e3", "btn", events.TypeApplicationCompleted, base.Add(2*time.Second))))
	require.NoError(t, j.Record(ctx, event("x1", "btn-group", events.TypeValidationStarted, base)))

	t.Run("chronological per unit", func(t *testing.T) {
		entries, err := j.List(ctx, "btn", 0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "e1", entries[0].ID)
		assert.Equal(t, "e2", entries[1].ID)
		assert.Equal(t, "e3", entries[2].ID)
		assert.Equal(t, events.TypeApplicationCompleted, entries[2].Type)
		assert.True(t, entries[0].Timestamp.Equal(base))
	})

	t.Run("limit keeps the most recent", func(t *testing.T) {
		entries, err := j.List(ctx, "btn", 2)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "e2", entries[0].ID)
		assert.Equal(t, "e3", entries[1].ID)
	})

	t.Run("unknown unit", func(t *testing.T) {
		entries, err := j.List(ctx, "nope", 0)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("unit ids with separators do not collide", func(t *testing.T) {
		require.NoError(t, j.Record(ctx, event("s1", "a/b", events.TypeRollbackStarted, base)))
		require.NoError(t, j.Record(ctx, event("s2", "a", events.TypeRollbackStarted, base)))

		entries, err := j.List(ctx, "a", 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "s2", entries[0].ID)
	})
}

func TestJournal_PayloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	j := openTest(t)

	ev := event("e1", "page", events.TypeDependenciesAffected, time.Now())
	ev.Data = events.DependencyData{Affected: []string{"header"}, PropsChanged: []string{"size"}}
	ev.Metadata = &events.EventMetadata{Source: "test"}
	require.NoError(t, j.Record(ctx, ev))

	entries, err := j.List(ctx, "page", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var data events.DependencyData
	require.NoError(t, json.Unmarshal(entries[0].Data, &data))
	assert.Equal(t, []string{"header"}, data.Affected)
	assert.Equal(t, []string{"size"}, data.PropsChanged)
	require.NotNil(t, entries[0].Metadata)
	assert.Equal(t, "test", entries[0].Metadata.Source)
}

func TestJournal_Attach(t *testing.T) {
	ctx := context.Background()
	j := openTest(t)
	emitter := events.NewEmitter()

	j.Attach(emitter)
	j.Attach(emitter)
	assert.Equal(t, 1, emitter.SubscriptionCount())

	emitter.Emit(events.TypeValidationStarted, "btn", nil)
	emitter.Emit(events.TypeValidationCompleted, "btn", events.ValidationData{Stage: "syntax"})
	emitter.Emit(events.TypeValidationStarted, "", nil)

	entries, err := j.List(ctx, "btn", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, events.TypeValidationStarted, entries[0].Type)
	assert.Equal(t, events.TypeValidationCompleted, entries[1].Type)

	require.NoError(t, j.Close())
	assert.Equal(t, 0, emitter.SubscriptionCount())
	emitter.Emit(events.TypeRollbackStarted, "btn", nil)
}

func TestJournal_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("path required", func(t *testing.T) {
		_, err := Open(Config{}, nil)
		assert.ErrorIs(t, err, ErrPathRequired)
	})

	t.Run("empty unit id", func(t *testing.T) {
		j := openTest(t)
		assert.ErrorIs(t, j.Record(ctx, event("e", "", events.TypeRollbackStarted, time.Now())), ErrEmptyUnitID)
		_, err := j.List(ctx, "", 0)
		assert.ErrorIs(t, err, ErrEmptyUnitID)
	})

	t.Run("closed", func(t *testing.T) {
		j, err := OpenInMemory()
		require.NoError(t, err)
		require.NoError(t, j.Close())
		require.NoError(t, j.Close())

		assert.ErrorIs(t, j.Record(ctx, event("e", "u", events.TypeRollbackStarted, time.Now())), ErrClosed)
		_, err = j.List(ctx, "u", 0)
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("canceled context", func(t *testing.T) {
		j := openTest(t)
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, j.Record(cctx, event("e", "u", events.TypeRollbackStarted, time.Now())), context.Canceled)
	})
}

func TestJournal_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{Path: dir, SyncWrites: true, GCInterval: time.Hour}

	j, err := Open(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, event("e1", "btn", events.TypeApplicationCompleted, time.Now())))
	require.NoError(t, j.Close())

	reopened, err := Open(cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.List(ctx, "btn", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e1", entries[0].ID)
}
