// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package journal persists lifecycle events to BadgerDB as an audit trail.
//
// The journal is a subscriber: attach it to an events.Emitter and every
// event is written under a key ordered by unit and time. Backups are not
// stored here; they live in the in-memory backup store owned by each
// applier.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/changeguard/services/changeguard/events"
)

var (
	// ErrPathRequired is returned when a persistent journal has no path.
	ErrPathRequired = errors.New("journal path is required")

	// ErrEmptyUnitID is returned for events or queries without a unit id.
	ErrEmptyUnitID = errors.New("unit id is required")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("journal is closed")
)

const keyPrefix = "evt/"

// Config configures the journal.
type Config struct {
	// Enabled turns the journal on for the server.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Path is the database directory. Ignored when InMemory is set.
	Path string `yaml:"path" json:"path"`

	// InMemory keeps everything in RAM.
	InMemory bool `yaml:"in_memory" json:"in_memory"`

	// SyncWrites makes every write durable before returning.
	SyncWrites bool `yaml:"sync_writes" json:"sync_writes"`

	// Retention expires entries after this long. Zero keeps them forever.
	Retention time.Duration `yaml:"retention" json:"retention" validate:"gte=0"`

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration `yaml:"gc_interval" json:"gc_interval" validate:"gte=0"`
}

// DefaultConfig returns a disabled, persistent configuration.
func DefaultConfig() Config {
	return Config{
		Path:       "~/.changeguard/journal",
		SyncWrites: true,
		Retention:  30 * 24 * time.Hour,
		GCInterval: 5 * time.Minute,
	}
}

// Entry is one stored event. Data keeps the raw JSON payload because its
// shape depends on Type.
type Entry struct {
	ID        string                `json:"id"`
	Type      events.Type           `json:"type"`
	UnitID    string                `json:"unit_id"`
	Timestamp time.Time             `json:"timestamp"`
	Data      json.RawMessage       `json:"data,omitempty"`
	Metadata  *events.EventMetadata `json:"metadata,omitempty"`
}

// Journal stores events in BadgerDB.
//
// # Thread Safety
//
// Safe for concurrent use.
type Journal struct {
	db        *badger.DB
	gc        *gcRunner
	retention time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	closed  bool
	emitter *events.Emitter
	subID   string
}

// Open opens or creates a journal.
//
// # Inputs
//
//   - cfg: Path is required unless InMemory is set. A leading ~ is
//     expanded.
//   - logger: Receives badger's own messages. Nil silences badger.
//
// # Outputs
//
//   - *Journal: Call Close when done.
//   - error: ErrPathRequired or a badger open failure.
func Open(cfg Config, logger *slog.Logger) (*Journal, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, ErrPathRequired
		}
		path := expandPath(cfg.Path)
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{
		db:        db,
		retention: cfg.Retention,
		logger:    logger.With("component", "journal.Journal"),
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		j.gc = newGCRunner(db, cfg.GCInterval, 0.5, j.logger)
		j.gc.start()
	}
	return j, nil
}

// OpenInMemory opens a volatile journal for tests and one-shot commands.
func OpenInMemory() (*Journal, error) {
	return Open(Config{InMemory: true}, nil)
}

// Record stores one event.
func (j *Journal) Record(ctx context.Context, ev events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ev.UnitID == "" {
		return ErrEmptyUnitID
	}
	if j.isClosed() {
		return ErrClosed
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	entry := badger.NewEntry(eventKey(ev), value)
	if j.retention > 0 {
		entry = entry.WithTTL(j.retention)
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(entry)
	})
}

// List returns a unit's entries in chronological order. When limit is
// positive only the most recent limit entries are returned.
func (j *Journal) List(ctx context.Context, unitID string, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if unitID == "" {
		return nil, ErrEmptyUnitID
	}
	if j.isClosed() {
		return nil, ErrClosed
	}

	prefix := unitPrefix(unitID)
	var entries []Entry
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(bytes.Clone(prefix), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var e Entry
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &e)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for l, r := 0, len(entries)-1; l < r; l, r = l+1, r-1 {
		entries[l], entries[r] = entries[r], entries[l]
	}
	return entries, nil
}

// Attach subscribes the journal to every event of the emitter. A second
// call replaces the first subscription.
func (j *Journal) Attach(emitter *events.Emitter) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.emitter != nil {
		j.emitter.Unsubscribe(j.subID)
	}
	j.emitter = emitter
	j.subID = emitter.Subscribe(func(ev *events.Event) {
		if ev.UnitID == "" {
			return
		}
		if err := j.Record(context.Background(), *ev); err != nil && !errors.Is(err, ErrClosed) {
			j.logger.Warn("journal write failed",
				slog.String("event_id", ev.ID),
				slog.String("event_type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	})
}

// Close detaches from the emitter, stops GC and closes the database.
// Safe to call more than once.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	if j.emitter != nil {
		j.emitter.Unsubscribe(j.subID)
		j.emitter = nil
	}
	j.mu.Unlock()

	if j.gc != nil {
		j.gc.stop()
	}
	return j.db.Close()
}

func (j *Journal) isClosed() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closed
}

// Keys are evt/{escaped unit id}/{20-digit unix nanos}/{event id}, so a
// prefix scan per unit is time ordered.
func eventKey(ev events.Event) []byte {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Appendf(unitPrefix(ev.UnitID), "%020d/%s", ts.UnixNano(), ev.ID)
}

func unitPrefix(unitID string) []byte {
	return []byte(keyPrefix + url.PathEscape(unitID) + "/")
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
