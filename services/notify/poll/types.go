// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package poll

import (
	"context"
	"encoding/json"
	"time"
)

// Defaults for the coalescer caches.
const (
	// DefaultMaxInFlight caps concurrent distinct fetches per process.
	DefaultMaxInFlight = 10_000

	// DefaultMaxResults caps the result cache.
	DefaultMaxResults = 100

	// DefaultResultTTL is how long a mutable result stays fresh.
	DefaultResultTTL = 30 * time.Second

	// MaxTTL is the cache lifetime of a terminal result. Once a result
	// is immutable there is nothing new to fetch, so it is held for the
	// longest interval the process tolerates.
	MaxTTL = 15 * time.Minute
)

// Result is one observed snapshot of a resource.
type Result struct {
	// ID is the resource identifier.
	ID string `json:"id"`

	// Sequence starts at 1 and increments once per distinct observed
	// value within this process. It is process-local; two processes
	// polling the same resource keep independent sequences.
	Sequence uint64 `json:"sequence"`

	// Mutable is false once the resource has reached a terminal state.
	// A terminal result is never overwritten by a mutable one.
	Mutable bool `json:"mutable"`

	// Value is the application-defined filtered snapshot.
	Value json.RawMessage `json:"value"`
}

// Update is what a poller observed on one fetch.
type Update struct {
	// Value is the filtered snapshot. Returning the current result's
	// value unchanged collapses back to the prior result without
	// advancing the sequence.
	Value json.RawMessage

	// Mutable is false when the resource can no longer change.
	Mutable bool
}

// Poller fetches a fresh snapshot of the resource identified by id.
// current is the last cached result, nil on the first fetch. Errors
// propagate to every coalesced caller.
type Poller func(ctx context.Context, id string, current *Result) (Update, error)

// Request describes one Poll call.
type Request struct {
	// ID is the resource to poll.
	ID string

	// Poller computes a fresh result when the cache cannot serve one.
	Poller Poller

	// UseCache, when true, lets a live cached result satisfy the call
	// without fetching. Push callbacks pass false to force a re-poll.
	UseCache bool
}

// Options tunes a Coalescer.
type Options struct {
	// MaxInFlight bounds concurrent distinct fetches; exceeding it
	// yields ErrQuotaExceeded.
	MaxInFlight int

	// MaxResults bounds the result cache.
	MaxResults int

	// ResultTTL is the default freshness window for mutable results.
	ResultTTL time.Duration
}

// Option mutates Options. Invalid values are ignored.
type Option func(*Options)

// WithMaxInFlight overrides the in-flight fetch cap.
func WithMaxInFlight(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxInFlight = n
		}
	}
}

// WithMaxResults overrides the result cache capacity.
func WithMaxResults(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxResults = n
		}
	}
}

// WithResultTTL overrides the default result TTL.
func WithResultTTL(ttl time.Duration) Option {
	return func(o *Options) {
		if ttl > 0 {
			o.ResultTTL = ttl
		}
	}
}

// defaultOptions returns the documented defaults.
func defaultOptions() Options {
	return Options{
		MaxInFlight: DefaultMaxInFlight,
		MaxResults:  DefaultMaxResults,
		ResultTTL:   DefaultResultTTL,
	}
}
