// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package poll provides the coalesced polling cache: at most one fetch
// per resource id is in flight in this process at any moment, and every
// concurrent caller for that id shares its outcome.
//
// Two structures cooperate. A singleflight group keyed by resource id
// deduplicates fetches, backed by an admission table that enforces the
// in-flight quota. A separate LRU result cache holds the latest Result
// per id with a mutability-aware TTL: mutable results expire quickly,
// terminal results are latched for MaxTTL. The two stay separate because
// result lifetimes outlive fetch durations; collapsing them would retain
// settled fetch state for the full result TTL.
package poll

import (
	"bytes"
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// resultEntry is one result cache slot.
type resultEntry struct {
	result    *Result
	expiresAt time.Time
	lruElem   *list.Element
}

// Coalescer implements the coalesced polling cache.
//
// # Thread Safety
//
// Safe for concurrent use. The mutex guards the result cache and the
// admission table; fetches themselves run outside it.
type Coalescer struct {
	opts Options

	mu       sync.Mutex
	results  map[string]*resultEntry
	lru      *list.List // front = most recently used
	inflight map[string]struct{}

	flight singleflight.Group
	now    func() time.Time
}

// NewCoalescer creates a Coalescer with the given options.
func NewCoalescer(opts ...Option) *Coalescer {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Coalescer{
		opts:     options,
		results:  make(map[string]*resultEntry),
		lru:      list.New(),
		inflight: make(map[string]struct{}),
		now:      time.Now,
	}
}

// SetNowFunc replaces the coalescer's clock, for TTL tests.
func (c *Coalescer) SetNowFunc(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Poll returns a fresh-enough result for req.ID.
//
// # Description
//
// With UseCache set, a live cached result is returned without fetching.
// Otherwise the call joins the in-flight fetch for the id, starting one
// if none is active. Within the fetch: a cached terminal result
// short-circuits the poller and has its TTL extended to MaxTTL; an
// unchanged observation collapses back to the prior result without
// advancing the sequence; anything else becomes a new Result at
// sequence+1 and is cached with the mutability-appropriate TTL.
//
// # Outputs
//
//   - *Result: Shared by every coalesced caller of this fetch.
//   - error: ErrQuotaExceeded when the in-flight table is full and the
//     id is not already being fetched; ErrNoPoller on a malformed
//     request; otherwise whatever the poller returned.
//
// Cancellation of req's caller does not cancel the shared fetch: other
// waiters still expect a result, so the poller runs under a context
// detached from the caller's cancellation.
func (c *Coalescer) Poll(ctx context.Context, req Request) (*Result, error) {
	if req.Poller == nil {
		return nil, ErrNoPoller
	}

	if req.UseCache {
		if result, ok := c.cached(req.ID); ok {
			recordPollHit(ctx)
			return result, nil
		}
	}
	recordPollMiss(ctx)

	// Admission: a new id needs a free slot; an id already in flight
	// always coalesces.
	c.mu.Lock()
	if _, active := c.inflight[req.ID]; !active {
		if len(c.inflight) >= c.opts.MaxInFlight {
			c.mu.Unlock()
			recordPollRejected(ctx)
			return nil, ErrQuotaExceeded
		}
		c.inflight[req.ID] = struct{}{}
	}
	c.mu.Unlock()

	// The fetch must survive this caller's cancellation; coalesced
	// waiters share it.
	fetchCtx := context.WithoutCancel(ctx)

	value, err, shared := c.flight.Do(req.ID, func() (any, error) {
		defer func() {
			c.mu.Lock()
			delete(c.inflight, req.ID)
			c.mu.Unlock()
		}()
		return c.refresh(fetchCtx, req)
	})
	if shared {
		recordPollCoalesced(ctx)
	}
	if err != nil {
		return nil, err
	}
	return value.(*Result), nil
}

// Cached returns the live cached result for id without fetching.
func (c *Coalescer) Cached(id string) (*Result, bool) {
	return c.cached(id)
}

// refresh is the uncached fetch path. It runs inside the singleflight
// group, so at most one refresh per id is active.
func (c *Coalescer) refresh(ctx context.Context, req Request) (*Result, error) {
	// The current result matters even when the caller bypassed the
	// cache: it carries the sequence and the terminal latch.
	current, _ := c.cached(req.ID)

	if current != nil && !current.Mutable {
		c.extendTTL(req.ID, MaxTTL)
		return current, nil
	}

	var sequence uint64
	if current != nil {
		sequence = current.Sequence
	}

	update, err := req.Poller(ctx, req.ID, current)
	if err != nil {
		return nil, err
	}

	result := current
	if current == nil || current.Mutable != update.Mutable || !bytes.Equal(current.Value, update.Value) {
		result = &Result{
			ID:       req.ID,
			Sequence: sequence + 1,
			Mutable:  update.Mutable,
			Value:    update.Value,
		}
	}

	c.store(result)
	return result, nil
}

// cached returns the live result for id, lazily dropping expired slots.
func (c *Coalescer) cached(id string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.results[id]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.removeLocked(id, entry)
		return nil, false
	}
	c.lru.MoveToFront(entry.lruElem)
	return entry.result, true
}

// store writes result with a mutability-aware TTL.
func (c *Coalescer) store(result *Result) {
	ttl := c.opts.ResultTTL
	if !result.Mutable {
		ttl = MaxTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.results[result.ID]; ok {
		// A terminal result is never displaced by a mutable one. The
		// terminal short-circuit in refresh already prevents this; the
		// check keeps the invariant local to the cache as well.
		if !entry.result.Mutable && result.Mutable {
			return
		}
		entry.result = result
		entry.expiresAt = c.now().Add(ttl)
		c.lru.MoveToFront(entry.lruElem)
		return
	}

	for len(c.results) >= c.opts.MaxResults {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		id := oldest.Value.(string)
		c.removeLocked(id, c.results[id])
	}

	entry := &resultEntry{
		result:    result,
		expiresAt: c.now().Add(ttl),
		lruElem:   c.lru.PushFront(result.ID),
	}
	c.results[result.ID] = entry
}

// extendTTL pushes a cached result's expiry out to now + ttl.
func (c *Coalescer) extendTTL(id string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.results[id]; ok {
		entry.expiresAt = c.now().Add(ttl)
		c.lru.MoveToFront(entry.lruElem)
	}
}

// removeLocked drops a cache slot. Caller holds the mutex.
func (c *Coalescer) removeLocked(id string, entry *resultEntry) {
	if entry == nil {
		return
	}
	if entry.lruElem != nil {
		c.lru.Remove(entry.lruElem)
	}
	delete(c.results, id)
}

// InFlight returns the number of active fetches. Test helper.
func (c *Coalescer) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}
