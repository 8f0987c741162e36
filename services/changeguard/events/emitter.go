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
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventMetadata names the process that emitted an event.
type EventMetadata struct {
	Source string `json:"source,omitempty"`
}

// Publisher is the emitting side used by the pipeline.
type Publisher interface {
	Emit(eventType Type, unitID string, data any)
	EmitWithMetadata(eventType Type, unitID string, data any, metadata *EventMetadata)
}

// Handler receives one lifecycle event. The pointer is only valid for the
// duration of the call.
type Handler func(event *Event)

// Filter narrows a subscription beyond its event types.
type Filter func(event *Event) bool

// Subscription is one registered observer. Empty Types means every type.
type Subscription struct {
	ID      string
	Handler Handler
	Filter  Filter
	Types   []Type
}

// Emitter delivers lifecycle events to observers synchronously, in
// subscription order, and keeps the most recent events for replay.
//
// # Thread Safety
//
// Safe for concurrent use. Handlers run outside the emitter lock.
type Emitter struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	order         []string
	buffer        []Event
	bufferSize    int
	source        string
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithBufferSize sets how many recent events are kept. Zero disables the
// replay buffer.
func WithBufferSize(size int) EmitterOption {
	return func(e *Emitter) {
		e.bufferSize = size
	}
}

// WithSource stamps every event with a source name in its metadata.
func WithSource(source string) EmitterOption {
	return func(e *Emitter) {
		e.source = source
	}
}

// NewEmitter creates an emitter keeping the last 1000 events.
func NewEmitter(opts ...EmitterOption) *Emitter {
	e := &Emitter{
		subscriptions: make(map[string]*Subscription),
		bufferSize:    1000,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bufferSize < 0 {
		e.bufferSize = 0
	}
	e.buffer = make([]Event, 0, e.bufferSize)
	return e
}

// Subscribe registers handler for the given types, or for every type when
// none are given, and returns the id to pass to Unsubscribe.
func (e *Emitter) Subscribe(handler Handler, types ...Type) string {
	return e.SubscribeWithFilter(handler, nil, types...)
}

// SubscribeWithFilter is Subscribe with an extra predicate.
func (e *Emitter) SubscribeWithFilter(handler Handler, filter Filter, types ...Type) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &Subscription{
		ID:      uuid.NewString(),
		Handler: handler,
		Filter:  filter,
		Types:   types,
	}
	e.subscriptions[sub.ID] = sub
	e.order = append(e.order, sub.ID)
	return sub.ID
}

// Channel subscribes through a buffered channel.
//
// # Description
//
// Events are delivered with a non-blocking send: when the channel is full
// the event is dropped for this subscriber and a warning is logged. The
// returned cancel function unsubscribes and closes the channel.
//
// # Inputs
//
//   - size: Channel capacity. Values below 1 use 64.
//   - types: Event types to deliver (none = all types).
//
// # Outputs
//
//   - <-chan Event: Receives matching events.
//   - func(): Unsubscribes and closes the channel. Safe to call twice.
func (e *Emitter) Channel(size int, types ...Type) (<-chan Event, func()) {
	if size < 1 {
		size = 64
	}
	ch := make(chan Event, size)

	var (
		mu     sync.Mutex
		closed bool
	)
	id := e.Subscribe(func(ev *Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- *ev:
		default:
			slog.Warn("event channel full, dropping event",
				"event_type", ev.Type,
				"event_id", ev.ID,
			)
		}
	}, types...)

	cancel := func() {
		e.Unsubscribe(id)
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}
	return ch, cancel
}

// Unsubscribe removes a subscription and reports whether it existed.
func (e *Emitter) Unsubscribe(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subscriptions[id]; !ok {
		return false
	}
	delete(e.subscriptions, id)
	e.order = slices.DeleteFunc(e.order, func(s string) bool { return s == id })
	return true
}

// Emit implements Publisher.
func (e *Emitter) Emit(eventType Type, unitID string, data any) {
	e.EmitWithMetadata(eventType, unitID, data, nil)
}

// EmitWithMetadata implements Publisher. The emitter's source is filled in
// when metadata carries none. A panicking handler is logged and skipped.
func (e *Emitter) EmitWithMetadata(eventType Type, unitID string, data any, metadata *EventMetadata) {
	e.mu.Lock()
	if e.source != "" {
		if metadata == nil {
			metadata = &EventMetadata{}
		}
		if metadata.Source == "" {
			metadata.Source = e.source
		}
	}
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UnitID:    unitID,
		Timestamp: time.Now(),
		Data:      data,
		Metadata:  metadata,
	}
	if e.bufferSize > 0 {
		if len(e.buffer) >= e.bufferSize {
			e.buffer = e.buffer[1:]
		}
		e.buffer = append(e.buffer, event)
	}
	subs := make([]*Subscription, 0, len(e.order))
	for _, id := range e.order {
		subs = append(subs, e.subscriptions[id])
	}
	e.mu.Unlock()

	for _, sub := range subs {
		if shouldHandle(sub, &event) {
			safeInvokeHandler(sub.Handler, &event)
		}
	}
}

func safeInvokeHandler(handler Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked",
				"event_type", event.Type,
				"event_id", event.ID,
				"panic", r,
			)
		}
	}()
	handler(event)
}

func shouldHandle(sub *Subscription, event *Event) bool {
	if len(sub.Types) > 0 && !slices.Contains(sub.Types, event.Type) {
		return false
	}
	if sub.Filter != nil && !sub.Filter(event) {
		return false
	}
	return true
}

// Buffer returns a copy of buffered events, oldest first.
func (e *Emitter) Buffer() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Event, len(e.buffer))
	copy(out, e.buffer)
	return out
}

// BufferForUnit returns buffered events for one unit.
func (e *Emitter) BufferForUnit(unitID string) []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []Event
	for _, ev := range e.buffer {
		if ev.UnitID == unitID {
			out = append(out, ev)
		}
	}
	return out
}

// SubscriptionCount returns the number of active subscriptions.
func (e *Emitter) SubscriptionCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscriptions)
}

// MockEmitter is a Publisher that records events for pipeline tests.
type MockEmitter struct {
	mu     sync.RWMutex
	Events []Event
}

// NewMockEmitter creates a new mock emitter.
func NewMockEmitter() *MockEmitter {
	return &MockEmitter{Events: make([]Event, 0)}
}

// Emit records an event.
func (m *MockEmitter) Emit(eventType Type, unitID string, data any) {
	m.EmitWithMetadata(eventType, unitID, data, nil)
}

// EmitWithMetadata records an event with metadata.
func (m *MockEmitter) EmitWithMetadata(eventType Type, unitID string, data any, metadata *EventMetadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UnitID:    unitID,
		Timestamp: time.Now(),
		Data:      data,
		Metadata:  metadata,
	})
}

// Types returns the recorded event types in order.
func (m *MockEmitter) Types() []Type {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Type, len(m.Events))
	for i, ev := range m.Events {
		out[i] = ev.Type
	}
	return out
}

// GetEventsByType returns the recorded events of one type.
func (m *MockEmitter) GetEventsByType(eventType Type) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Event
	for _, ev := range m.Events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Clear removes all recorded events.
func (m *MockEmitter) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = make([]Event, 0)
}
