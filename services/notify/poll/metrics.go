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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Package-level meter for poll operations.
var meter = otel.Meter("notify.poll")

// Metrics for poll operations.
var (
	pollHits      metric.Int64Counter
	pollMisses    metric.Int64Counter
	pollCoalesced metric.Int64Counter
	pollRejected  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		pollHits, err = meter.Int64Counter(
			"poll_cache_hits_total",
			metric.WithDescription("Polls served from the result cache"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		pollMisses, err = meter.Int64Counter(
			"poll_cache_misses_total",
			metric.WithDescription("Polls that reached the fetch path"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		pollCoalesced, err = meter.Int64Counter(
			"poll_coalesced_total",
			metric.WithDescription("Polls that shared another caller's fetch"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		pollRejected, err = meter.Int64Counter(
			"poll_quota_rejections_total",
			metric.WithDescription("Polls rejected because the in-flight table was full"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordPollHit(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	pollHits.Add(ctx, 1)
}

func recordPollMiss(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	pollMisses.Add(ctx, 1)
}

func recordPollCoalesced(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	pollCoalesced.Add(ctx, 1)
}

func recordPollRejected(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	pollRejected.Add(ctx, 1)
}
