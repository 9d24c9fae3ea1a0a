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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianNotify/services/notify/exchange"
	"github.com/AleutianAI/AleutianNotify/services/notify/poll"
	"github.com/AleutianAI/AleutianNotify/services/notify/store"
)

// WatcherFilter shapes an observed exchange into the snapshot a watch
// record persists. Returning nil, nil suppresses the update.
type WatcherFilter func(rec store.Record, ex *exchange.Exchange) (json.RawMessage, error)

// PollerFilter shapes an observed exchange into a poll result value.
// current is the previously cached result, nil on first fetch.
// Returning nil, nil keeps the current value.
type PollerFilter func(current *poll.Result, ex *exchange.Exchange) (json.RawMessage, error)

// ExchangeAdapterConfig configures the exchange watcher and poller
// factories.
type ExchangeAdapterConfig struct {
	// Client reads the remote exchange.
	Client exchange.Client

	// Capability authorizes reads.
	Capability string
}

// NewExchangeWatcher builds a Watcher that re-reads the exchange behind
// a record.
//
// # Description
//
// The watcher reads the exchange at the record's id, derives mutability
// from its state (terminal states are complete and invalid), and applies
// filter. A nil filter persists the whole exchange document; a filter
// returning nil signals "no update" and nothing is written back. Any
// fetch or filter failure surfaces wrapped in exchange.ErrOperation.
func NewExchangeWatcher(cfg ExchangeAdapterConfig, filter WatcherFilter) Watcher {
	return func(ctx context.Context, rec store.Record) (Update, error) {
		ex, err := cfg.Client.Read(ctx, rec.Watch.ID, cfg.Capability)
		if err != nil {
			if errors.Is(err, exchange.ErrOperation) {
				return Update{}, err
			}
			return Update{}, fmt.Errorf("%w: read exchange: %w", exchange.ErrOperation, err)
		}
		mutable := !ex.Terminal()

		if filter != nil {
			value, err := filter(rec, ex)
			if err != nil {
				return Update{}, fmt.Errorf("%w: watcher filter: %w", exchange.ErrOperation, err)
			}
			return Update{Value: value, Mutable: mutable}, nil
		}

		value, err := json.Marshal(ex)
		if err != nil {
			return Update{}, fmt.Errorf("%w: encode exchange: %w", exchange.ErrOperation, err)
		}
		return Update{Value: value, Mutable: mutable}, nil
	}
}

// NewExchangePoller is the poll-path analogue of NewExchangeWatcher.
//
// The returned poller feeds the coalescer: same read, same mutability
// rule, same filter semantics. A filter returning nil keeps the current
// value, which the coalescer collapses into the prior result.
func NewExchangePoller(cfg ExchangeAdapterConfig, filter PollerFilter) poll.Poller {
	return func(ctx context.Context, id string, current *poll.Result) (poll.Update, error) {
		ex, err := cfg.Client.Read(ctx, id, cfg.Capability)
		if err != nil {
			return poll.Update{}, err
		}
		mutable := !ex.Terminal()

		if filter != nil {
			value, err := filter(current, ex)
			if err != nil {
				return poll.Update{}, fmt.Errorf("%w: poller filter: %w", exchange.ErrOperation, err)
			}
			if value == nil && current != nil {
				return poll.Update{Value: current.Value, Mutable: mutable}, nil
			}
			return poll.Update{Value: value, Mutable: mutable}, nil
		}

		value, err := json.Marshal(ex)
		if err != nil {
			return poll.Update{}, fmt.Errorf("%w: encode exchange: %w", exchange.ErrOperation, err)
		}
		return poll.Update{Value: value, Mutable: mutable}, nil
	}
}
