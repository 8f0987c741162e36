// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backup keeps bounded per-unit stacks of prior source text.
package backup

import (
	"errors"
	"sync"
	"time"
)

// DefaultMaxEntries is the default stack depth per unit.
const DefaultMaxEntries = 10

// ErrEmpty indicates the unit has no backups.
var ErrEmpty = errors.New("no backups for unit")

// Entry is one saved source text.
type Entry struct {
	Source  string    `json:"source"`
	SavedAt time.Time `json:"saved_at"`
}

// Store holds one bounded stack of prior sources per unit id.
//
// Pushing onto a full stack evicts the oldest entry. Stacks live only in
// memory for the lifetime of the store.
//
// Thread Safety: Store is safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	stacks     map[string][]Entry
	maxEntries int
	now        func() time.Time
}

// NewStore creates a store. maxEntries <= 0 uses DefaultMaxEntries.
func NewStore(maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		stacks:     make(map[string][]Entry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// MaxEntries returns the per-unit bound.
func (s *Store) MaxEntries() int {
	return s.maxEntries
}

// Push saves source on top of the unit's stack.
func (s *Store) Push(unitID, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stack := append(s.stacks[unitID], Entry{Source: source, SavedAt: s.now()})
	if len(stack) > s.maxEntries {
		excess := len(stack) - s.maxEntries
		stack = append([]Entry(nil), stack[excess:]...)
	}
	s.stacks[unitID] = stack
}

// Pop removes and returns the most recent entry for the unit.
func (s *Store) Pop(unitID string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stack := s.stacks[unitID]
	if len(stack) == 0 {
		return Entry{}, ErrEmpty
	}

	top := stack[len(stack)-1]
	if len(stack) == 1 {
		delete(s.stacks, unitID)
	} else {
		s.stacks[unitID] = stack[:len(stack)-1]
	}
	return top, nil
}

// Peek returns the most recent entry without removing it.
func (s *Store) Peek(unitID string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stack := s.stacks[unitID]
	if len(stack) == 0 {
		return Entry{}, ErrEmpty
	}
	return stack[len(stack)-1], nil
}

// Depth returns the number of entries for the unit.
func (s *Store) Depth(unitID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stacks[unitID])
}

// History returns a copy of the unit's stack, oldest first.
func (s *Store) History(unitID string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	stack := s.stacks[unitID]
	out := make([]Entry, len(stack))
	copy(out, stack)
	return out
}

// Clear drops every entry for the unit.
func (s *Store) Clear(unitID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stacks, unitID)
}
