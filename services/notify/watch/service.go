// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianNotify/services/notify/store"
)

// Service exposes the application-facing watch operations on top of the
// store: create with TTL validation, lookup, and removal. The scheduler
// handles everything between creation and expiry.
type Service struct {
	store store.Store
}

// NewService creates a Service over st.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Watch creates a durable watch on the exchange identified by id.
//
// # Inputs
//
//   - id: Exchange identifier, unique across the store.
//   - watcher: Name of the watcher function that will drive this watch.
//     The name is checked against the registry at lease time, not here;
//     another worker process may carry the registration.
//   - ttl: Record lifetime, at most one hour.
//
// # Outputs
//
//   - store.Record: The created record at sequence 0.
//   - error: store.ErrConstraint for a TTL out of range,
//     store.ErrDuplicate for an existing id.
func (s *Service) Watch(ctx context.Context, id, watcher string, ttl time.Duration) (store.Record, error) {
	if id == "" || watcher == "" {
		return store.Record{}, fmt.Errorf("%w: id and watcher are required", store.ErrConstraint)
	}
	if ttl <= 0 || ttl > store.MaxWatchTTL {
		return store.Record{}, fmt.Errorf(
			"%w: ttl must be in (0, %s]", store.ErrConstraint, store.MaxWatchTTL)
	}

	return s.store.Create(ctx, store.Watch{
		ID:      id,
		Watcher: watcher,
		Expires: time.Now().Add(ttl),
	})
}

// Get returns the watch record for id.
func (s *Service) Get(ctx context.Context, id string) (store.Record, error) {
	return s.store.Get(ctx, id)
}

// Remove deletes the watch record for id. Removing a missing watch is
// not an error, so create + remove leaves the store unchanged.
func (s *Service) Remove(ctx context.Context, id string) error {
	return s.store.Remove(ctx, id)
}
