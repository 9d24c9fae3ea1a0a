// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store defines the durable watch-record store shared by every
// worker process, plus an in-memory implementation for single-process use
// and tests. The embedded persistent implementation lives in the
// badgerstore subpackage.
//
// The store is the only cross-process shared state in the notification
// substrate. Workers coordinate exclusively through two mechanisms here:
// the optimistic sequence check in Update and the advisory watcher lock
// set by Mark.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// PurgeGrace is how long an expired record survives before the store may
// purge it. The grace window keeps recently expired watches inspectable.
const PurgeGrace = 24 * time.Hour

// MaxWatchTTL caps the TTL a watch may be created with.
const MaxWatchTTL = time.Hour

// DefaultMarkLimit is the number of records a single Mark call leases
// when the caller does not choose one.
const DefaultMarkLimit = 10

// Watch is the application-visible half of a record.
type Watch struct {
	// ID is the exchange identifier, globally unique in the store.
	ID string `json:"id"`

	// Sequence starts at 0 and advances by exactly 1 per successful
	// Update. It is the CAS token for optimistic concurrency.
	Sequence uint64 `json:"sequence"`

	// Watcher names the registered watcher function that drives this
	// watch.
	Watcher string `json:"watcher"`

	// Value is the last observed filtered snapshot, nil until the first
	// successful update.
	Value json.RawMessage `json:"value,omitempty"`

	// Expires is the record expiry. The store purges the record after
	// Expires + PurgeGrace.
	Expires time.Time `json:"expires"`
}

// WatcherLock is the advisory lease a worker attaches while processing a
// record. A record whose lock is absent or expired is eligible for lease.
type WatcherLock struct {
	// ID is the lease UUID, fresh per sweep.
	ID string `json:"id"`

	// Expires is the lease expiry. Short by design so a crashed worker's
	// records become eligible again quickly.
	Expires time.Time `json:"expires"`
}

// Expired reports whether the lease has lapsed at now.
func (l *WatcherLock) Expired(now time.Time) bool {
	return !l.Expires.After(now)
}

// Meta is the store-managed half of a record.
type Meta struct {
	Created     time.Time    `json:"created"`
	Updated     time.Time    `json:"updated"`
	WatcherLock *WatcherLock `json:"watcherLock,omitempty"`
}

// Record is a persisted watch.
type Record struct {
	Watch Watch `json:"watch"`
	Meta  Meta  `json:"meta"`
}

// Query selects records in Find. Zero-valued fields do not constrain.
type Query struct {
	// ID matches watch.id exactly.
	ID string

	// LockID matches meta.watcherLock.id exactly.
	LockID string

	// ExpiresBefore matches records with watch.expires before the given
	// time.
	ExpiresBefore time.Time

	// LockExpiresBefore matches records whose lock exists and expires
	// before the given time.
	LockExpiresBefore time.Time

	// Limit caps the result set; 0 means no cap.
	Limit int
}

// MarkOptions tunes Mark.
type MarkOptions struct {
	// ID, when set, marks that single record unconditionally and forces
	// Limit to 1.
	ID string

	// Limit caps how many eligible records are leased. 0 selects
	// DefaultMarkLimit.
	Limit int
}

// Store is the watch-record persistence contract.
//
// Implementations must make Create, Update, and Mark atomic with respect
// to each other so that the sequence CAS and the lease predicate hold
// across concurrent workers.
type Store interface {
	// Create inserts a fresh record for watch with sequence forced to 0
	// and value cleared. A colliding id yields ErrDuplicate.
	Create(ctx context.Context, watch Watch) (Record, error)

	// Get returns the record for id or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// Find returns records matching q.
	Find(ctx context.Context, q Query) ([]Record, error)

	// Update replaces the watch half of a record iff the stored sequence
	// equals watch.Sequence - 1. A non-matching sequence yields an
	// *InvalidStateError carrying the expected prior sequence; callers
	// treat it as a conflict, not a retry.
	Update(ctx context.Context, watch Watch) (Record, error)

	// Remove deletes the record for id. Removing a missing record is not
	// an error.
	Remove(ctx context.Context, id string) error

	// Mark leases eligible records by setting meta.watcherLock to lock.
	// A record is eligible when its lock is absent or expired. It
	// returns the number of records marked.
	Mark(ctx context.Context, lock WatcherLock, opts MarkOptions) (int, error)
}
