// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore implements the watch store on embedded BadgerDB.
//
// BadgerDB gives low-latency local persistence (~100µs) without an
// external database process. Records are stored as JSON under a "watch/"
// key prefix, and the 24-hour purge grace rides on Badger's native entry
// TTL: each entry expires at watch.expires plus the grace window.
//
// Serializable transactions provide the atomicity the Store contract
// needs; commit conflicts are retried a bounded number of times.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianNotify/services/notify/store"
)

// keyPrefix namespaces watch records inside the database.
const keyPrefix = "watch/"

// conflictRetries bounds commit retries on transaction conflicts.
const conflictRetries = 3

// Config holds configuration for a BadgerStore.
type Config struct {
	// Path is the directory for database files. Required unless
	// InMemory is true.
	Path string

	// InMemory enables in-memory mode, for tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: durable writes at the given
// path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests: no disk, no sync.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore is the embedded persistent Store.
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

// Open creates and opens a BadgerStore with the given configuration.
func Open(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db, now: time.Now}, nil
}

// Close releases the database. The store is unusable afterwards.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// SetNowFunc replaces the store's clock, for tests.
func (s *BadgerStore) SetNowFunc(now func() time.Time) {
	s.now = now
}

// Create implements store.Store.
func (s *BadgerStore) Create(_ context.Context, watch store.Watch) (store.Record, error) {
	var out store.Record
	err := s.update(func(txn *badger.Txn) error {
		key := recordKey(watch.ID)
		if _, err := txn.Get(key); err == nil {
			return store.ErrDuplicate
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check existing record: %w", err)
		}

		now := s.now()
		rec := store.Record{
			Watch: store.Watch{
				ID:      watch.ID,
				Watcher: watch.Watcher,
				Expires: watch.Expires,
			},
			Meta: store.Meta{Created: now, Updated: now},
		}
		out = rec
		return s.setRecord(txn, &rec)
	})
	if err != nil {
		return store.Record{}, err
	}
	return out, nil
}

// Get implements store.Store.
func (s *BadgerStore) Get(_ context.Context, id string) (store.Record, error) {
	var out store.Record
	err := s.db.View(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		out = *rec
		return nil
	})
	if err != nil {
		return store.Record{}, err
	}
	return out, nil
}

// Find implements store.Store.
//
// The id dimension is a point lookup; every other query dimension scans
// the watch/ prefix. Record counts are bounded by the poll and watch
// caches upstream, so a prefix scan stays cheap.
func (s *BadgerStore) Find(ctx context.Context, q store.Query) ([]store.Record, error) {
	if q.ID != "" {
		rec, err := s.Get(ctx, q.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if !queryMatches(&rec, q) {
			return nil, nil
		}
		return []store.Record{rec}, nil
	}

	var out []store.Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec store.Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			if !queryMatches(&rec, q) {
				continue
			}
			out = append(out, rec)
			if q.Limit > 0 && len(out) >= q.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update implements store.Store.
func (s *BadgerStore) Update(_ context.Context, watch store.Watch) (store.Record, error) {
	var out store.Record
	err := s.update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, watch.ID)
		if errors.Is(err, store.ErrNotFound) {
			return &store.InvalidStateError{ID: watch.ID, Expected: watch.Sequence - 1}
		}
		if err != nil {
			return err
		}
		if rec.Watch.Sequence != watch.Sequence-1 {
			return &store.InvalidStateError{ID: watch.ID, Expected: watch.Sequence - 1}
		}

		rec.Watch = watch
		rec.Meta.Updated = s.now()
		out = *rec
		return s.setRecord(txn, rec)
	})
	if err != nil {
		return store.Record{}, err
	}
	return out, nil
}

// Remove implements store.Store.
func (s *BadgerStore) Remove(_ context.Context, id string) error {
	return s.update(func(txn *badger.Txn) error {
		err := txn.Delete(recordKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Mark implements store.Store.
func (s *BadgerStore) Mark(_ context.Context, lock store.WatcherLock, opts store.MarkOptions) (int, error) {
	marked := 0
	err := s.update(func(txn *badger.Txn) error {
		marked = 0
		now := s.now()

		if opts.ID != "" {
			rec, err := getRecord(txn, opts.ID)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			rec.Meta.WatcherLock = &store.WatcherLock{ID: lock.ID, Expires: lock.Expires}
			rec.Meta.Updated = now
			if err := s.setRecord(txn, rec); err != nil {
				return err
			}
			marked = 1
			return nil
		}

		limit := opts.Limit
		if limit <= 0 {
			limit = store.DefaultMarkLimit
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix) && marked < limit; it.Next() {
			var rec store.Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			if rec.Meta.WatcherLock != nil && !rec.Meta.WatcherLock.Expired(now) {
				continue
			}
			rec.Meta.WatcherLock = &store.WatcherLock{ID: lock.ID, Expires: lock.Expires}
			rec.Meta.Updated = now
			if err := s.setRecord(txn, &rec); err != nil {
				return err
			}
			marked++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return marked, nil
}

// update runs fn in a read-write transaction, retrying bounded times on
// commit conflicts from concurrent sweeps.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("transaction conflict persisted: %w", err)
}

// setRecord writes rec with an entry TTL of expires + grace.
func (s *BadgerStore) setRecord(txn *badger.Txn, rec *store.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	entry := badger.NewEntry(recordKey(rec.Watch.ID), raw)
	if purgeAt := rec.Watch.Expires.Add(store.PurgeGrace); purgeAt.After(s.now()) {
		entry = entry.WithTTL(time.Until(purgeAt))
	}
	return txn.SetEntry(entry)
}

// getRecord reads and decodes one record.
func getRecord(txn *badger.Txn, id string) (*store.Record, error) {
	item, err := txn.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}

	rec := &store.Record{}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, rec)
	}); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func recordKey(id string) []byte {
	return []byte(keyPrefix + id)
}

// queryMatches applies a store.Query to a record.
func queryMatches(rec *store.Record, q store.Query) bool {
	if q.ID != "" && rec.Watch.ID != q.ID {
		return false
	}
	if q.LockID != "" {
		if rec.Meta.WatcherLock == nil || rec.Meta.WatcherLock.ID != q.LockID {
			return false
		}
	}
	if !q.ExpiresBefore.IsZero() && !rec.Watch.Expires.Before(q.ExpiresBefore) {
		return false
	}
	if !q.LockExpiresBefore.IsZero() {
		if rec.Meta.WatcherLock == nil || !rec.Meta.WatcherLock.Expires.Before(q.LockExpiresBefore) {
			return false
		}
	}
	return true
}

var _ store.Store = (*BadgerStore)(nil)
