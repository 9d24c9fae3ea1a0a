// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch drives durable watches: persisted watch intents are
// leased from the store by a periodic sweep, executed through registered
// watcher functions, and written back under an optimistic sequence
// check.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/AleutianAI/AleutianNotify/services/notify/store"
)

// Update is what a watcher observed for a record.
type Update struct {
	// Value is the filtered snapshot to persist. Nil means "nothing
	// new": no update is written and the record's lease simply expires.
	Value json.RawMessage

	// Mutable is false once the watched resource is terminal. The
	// scheduler does not persist it: only Value is written back, and
	// the store keeps the record either way until its TTL purges it.
	Mutable bool
}

// Watcher observes the resource behind one watch record.
type Watcher func(ctx context.Context, rec store.Record) (Update, error)

// Registry maps watcher names to functions.
//
// Registration happens once at startup; after that the scheduler and
// request handlers read concurrently.
type Registry struct {
	mu       sync.RWMutex
	watchers map[string]Watcher
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{watchers: make(map[string]Watcher)}
}

// Register adds a named watcher. Re-registering a name is a programming
// error and is rejected.
func (r *Registry) Register(name string, watcher Watcher) error {
	if name == "" || watcher == nil {
		return fmt.Errorf("register watcher: name and function are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.watchers[name]; ok {
		return fmt.Errorf("register watcher: %q already registered", name)
	}
	r.watchers[name] = watcher
	return nil
}

// Get returns the watcher for name.
func (r *Registry) Get(name string) (Watcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	watcher, ok := r.watchers[name]
	return watcher, ok
}

// Names returns the registered watcher names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.watchers))
	for name := range r.watchers {
		names = append(names, name)
	}
	return names
}
