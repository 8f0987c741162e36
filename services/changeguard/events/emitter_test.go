// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter_Subscribe(t *testing.T) {
	t.Run("handlers see events in order", func(t *testing.T) {
		e := NewEmitter()
		var got []Type
		e.Subscribe(func(ev *Event) { got = append(got, ev.Type) })

		e.Emit(TypeValidationStarted, "u1", nil)
		e.Emit(TypeValidationCompleted, "u1", ValidationData{})

		assert.Equal(t, []Type{TypeValidationStarted, TypeValidationCompleted}, got)
	})

	t.Run("type filter", func(t *testing.T) {
		e := NewEmitter()
		count := 0
		e.Subscribe(func(*Event) { count++ }, TypeRollbackFailed)

		e.Emit(TypeRollbackStarted, "u1", nil)
		e.Emit(TypeRollbackFailed, "u1", RollbackData{Error: "empty"})

		assert.Equal(t, 1, count)
	})

	t.Run("custom filter", func(t *testing.T) {
		e := NewEmitter()
		var units []string
		e.SubscribeWithFilter(func(ev *Event) { units = append(units, ev.UnitID) },
			func(ev *Event) bool { return ev.UnitID == "b" })

		e.Emit(TypeApplicationStarted, "a", nil)
		e.Emit(TypeApplicationStarted, "b", nil)

		assert.Equal(t, []string{"b"}, units)
	})

	t.Run("unsubscribe", func(t *testing.T) {
		e := NewEmitter()
		count := 0
		id := e.Subscribe(func(*Event) { count++ })

		assert.True(t, e.Unsubscribe(id))
		assert.False(t, e.Unsubscribe(id))
		e.Emit(TypeApplicationStarted, "a", nil)

		assert.Equal(t, 0, count)
		assert.Equal(t, 0, e.SubscriptionCount())
	})

	t.Run("panicking handler does not stop delivery", func(t *testing.T) {
		e := NewEmitter()
		delivered := false
		e.Subscribe(func(*Event) { panic("bad handler") })
		e.Subscribe(func(*Event) { delivered = true })

		assert.NotPanics(t, func() { e.Emit(TypeApplicationFailed, "a", nil) })
		assert.True(t, delivered)
	})
}

func TestEmitter_Buffer(t *testing.T) {
	e := NewEmitter(WithBufferSize(2), WithSource("test"))
	e.Emit(TypeValidationStarted, "a", nil)
	e.Emit(TypeValidationStarted, "b", nil)
	e.Emit(TypeValidationStarted, "a", nil)

	buf := e.Buffer()
	require.Len(t, buf, 2)
	assert.Equal(t, "b", buf[0].UnitID)
	require.NotNil(t, buf[0].Metadata)
	assert.Equal(t, "test", buf[0].Metadata.Source)
	assert.Len(t, e.BufferForUnit("a"), 1)
}

func TestEmitter_Channel(t *testing.T) {
	t.Run("delivers matching events", func(t *testing.T) {
		e := NewEmitter()
		ch, cancel := e.Channel(4, TypeDependenciesAffected)
		defer cancel()

		e.Emit(TypeDependencyCheckStarted, "a", nil)
		e.Emit(TypeDependenciesAffected, "a", DependencyData{Affected: []string{"b"}})

		ev := <-ch
		assert.Equal(t, TypeDependenciesAffected, ev.Type)
		data, ok := ev.Data.(DependencyData)
		require.True(t, ok)
		assert.Equal(t, []string{"b"}, data.Affected)
	})

	t.Run("full channel drops instead of blocking", func(t *testing.T) {
		e := NewEmitter()
		ch, cancel := e.Channel(1)
		e.Emit(TypeApplicationStarted, "a", nil)
		e.Emit(TypeApplicationStarted, "a", nil)
		assert.Len(t, ch, 1)

		cancel()
		cancel()
		_, open := <-ch
		assert.True(t, open)
		_, open = <-ch
		assert.False(t, open)
	})
}

func TestMockEmitter(t *testing.T) {
	m := NewMockEmitter()
	var p Publisher = m
	p.Emit(TypeRollbackStarted, "u", nil)
	p.Emit(TypeRollbackCompleted, "u", nil)

	assert.Equal(t, []Type{TypeRollbackStarted, TypeRollbackCompleted}, m.Types())
	assert.Len(t, m.GetEventsByType(TypeRollbackCompleted), 1)
	m.Clear()
	assert.Empty(t, m.Types())
}
