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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianNotify/services/notify/store"
)

// SchedulerConfig holds configuration for the sweep loop.
//
// # Fields
//
//   - MarkLimit: Records leased per sweep. Default: 10.
//   - LockTTL: Lease lifetime. Short, so a crashed worker's records
//     become eligible again quickly. Default: 5 seconds.
//   - Baseline: Reschedule delay after a productive sweep, and the
//     starting point for exponential back-off. Default: 1 second.
//   - MaxDelay: Cap on the back-off delay. 0 means uncapped.
type SchedulerConfig struct {
	MarkLimit int
	LockTTL   time.Duration
	Baseline  time.Duration
	MaxDelay  time.Duration
}

// DefaultSchedulerConfig returns the documented defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MarkLimit: store.DefaultMarkLimit,
		LockTTL:   5 * time.Second,
		Baseline:  time.Second,
	}
}

// SweepResult summarizes one sweep tick.
type SweepResult struct {
	// Marked is how many records the sweep leased.
	Marked int

	// Executed is how many leased records had a registered watcher run.
	Executed int

	// Updated is how many records were written back.
	Updated int

	// Conflicts is how many write-backs lost the sequence CAS.
	Conflicts int

	// NextDelay is the reschedule delay the sweep computed.
	NextDelay time.Duration
}

// Scheduler is the per-process sweep loop over persisted watches.
//
// # Description
//
// Each tick leases up to MarkLimit eligible records under a fresh lease
// UUID, runs their watchers in parallel, and writes results back via the
// store's sequence CAS. Every failure is logged and absorbed; the loop
// never terminates because of a record or sweep error. The reschedule
// delay self-tunes: zero after a saturated sweep, exponential back-off
// from the baseline across consecutive empty sweeps.
//
// Leases are advisory. They stop workers from re-polling the same watch
// concurrently; correctness comes from the CAS on write-back.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
type Scheduler struct {
	store    store.Store
	registry *Registry
	config   SchedulerConfig

	// Test hooks. The scheduler's timing is driven entirely through
	// these two functions so tests can replace them.
	lockExpires func(now time.Time) time.Time
	reschedule  func(marked, limit int, previous time.Duration) time.Duration

	mu        sync.Mutex
	running   bool
	done      chan struct{}
	prevDelay time.Duration
}

// NewScheduler creates a Scheduler over st and registry.
func NewScheduler(st store.Store, registry *Registry, config SchedulerConfig) *Scheduler {
	if config.MarkLimit <= 0 {
		config.MarkLimit = store.DefaultMarkLimit
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 5 * time.Second
	}
	if config.Baseline <= 0 {
		config.Baseline = time.Second
	}

	s := &Scheduler{
		store:     st,
		registry:  registry,
		config:    config,
		done:      make(chan struct{}),
		prevDelay: config.Baseline,
	}
	s.lockExpires = func(now time.Time) time.Time {
		return now.Add(s.config.LockTTL)
	}
	s.reschedule = s.defaultReschedule
	return s
}

// SetLockExpiresHook replaces the lease-expiry computation. Tests use a
// zero-TTL hook so leases lapse immediately.
func (s *Scheduler) SetLockExpiresHook(hook func(now time.Time) time.Time) {
	if hook != nil {
		s.lockExpires = hook
	}
}

// SetRescheduleHook replaces the reschedule-delay computation, letting
// tests drive the timer deterministically.
func (s *Scheduler) SetRescheduleHook(hook func(marked, limit int, previous time.Duration) time.Duration) {
	if hook != nil {
		s.reschedule = hook
	}
}

// Start begins the sweep loop.
//
// # Outputs
//
//   - error: Non-nil if the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{})
	s.mu.Unlock()

	slog.Info("watch scheduler starting",
		"mark_limit", s.config.MarkLimit,
		"lock_ttl", s.config.LockTTL.String(),
		"baseline", s.config.Baseline.String(),
	)

	go s.runLoop(ctx)
	return nil
}

// Stop signals the loop to exit after the in-flight tick, if any,
// completes. Safe to call multiple times.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	slog.Info("watch scheduler stopping")
	close(s.done)
	s.running = false
	return nil
}

// RunNow executes a single sweep immediately, outside the loop's timing.
func (s *Scheduler) RunNow(ctx context.Context) SweepResult {
	return s.sweep(ctx)
}

// runLoop ticks until stopped. In-flight ticks are not cancelled
// mid-record; on shutdown the current tick completes and the loop is
// simply not rescheduled.
func (s *Scheduler) runLoop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("watch scheduler stopped (context cancelled)")
			return
		case <-s.done:
			slog.Info("watch scheduler stopped (stop requested)")
			return
		case <-timer.C:
			result := s.sweep(ctx)
			timer.Reset(result.NextDelay)
		}
	}
}

// sweep performs one tick: lease, execute, write back.
func (s *Scheduler) sweep(ctx context.Context) SweepResult {
	limit := s.config.MarkLimit
	now := time.Now()
	lock := store.WatcherLock{
		ID:      uuid.NewString(),
		Expires: s.lockExpires(now),
	}

	result := SweepResult{}

	marked, err := s.store.Mark(ctx, lock, store.MarkOptions{Limit: limit})
	if err != nil {
		slog.Error("watch sweep: mark failed", "error", err)
		result.NextDelay = s.nextDelay(0, limit)
		return result
	}
	result.Marked = marked
	result.NextDelay = s.nextDelay(marked, limit)

	if marked == 0 {
		return result
	}

	records, err := s.store.Find(ctx, store.Query{LockID: lock.ID, Limit: limit})
	if err != nil {
		slog.Error("watch sweep: find leased records failed", "lease", lock.ID, "error", err)
		return result
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, rec := range records {
		wg.Add(1)
		go func(rec store.Record) {
			defer wg.Done()
			executed, updated, conflict := s.process(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			if executed {
				result.Executed++
			}
			if updated {
				result.Updated++
			}
			if conflict {
				result.Conflicts++
			}
		}(rec)
	}
	wg.Wait()

	return result
}

// process runs one leased record's watcher and writes back the result.
func (s *Scheduler) process(ctx context.Context, rec store.Record) (executed, updated, conflict bool) {
	watcher, ok := s.registry.Get(rec.Watch.Watcher)
	if !ok {
		// The lease is left to expire on its own; another worker with
		// the watcher registered may pick the record up.
		slog.Warn("watch sweep: watcher not registered",
			"watch_id", rec.Watch.ID,
			"watcher", rec.Watch.Watcher,
		)
		return false, false, false
	}

	update, err := watcher(ctx, rec)
	if err != nil {
		slog.Error("watch sweep: watcher failed",
			"watch_id", rec.Watch.ID,
			"watcher", rec.Watch.Watcher,
			"error", err,
		)
		return true, false, false
	}

	if update.Value == nil {
		// Nothing new observed; no write, the lease expires on its own.
		return true, false, false
	}

	newWatch := rec.Watch
	newWatch.Sequence++
	newWatch.Value = update.Value

	if _, err := s.store.Update(ctx, newWatch); err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			// Another worker advanced the record first; the next sweep
			// observes the new sequence.
			slog.Info("watch sweep: update lost sequence race",
				"watch_id", rec.Watch.ID,
				"sequence", newWatch.Sequence,
			)
			return true, false, true
		}
		slog.Error("watch sweep: update failed",
			"watch_id", rec.Watch.ID,
			"error", err,
		)
		return true, false, false
	}
	return true, true, false
}

// nextDelay applies the reschedule hook and records the delay for the
// back-off chain.
func (s *Scheduler) nextDelay(marked, limit int) time.Duration {
	s.mu.Lock()
	previous := s.prevDelay
	s.mu.Unlock()

	delay := s.reschedule(marked, limit, previous)

	s.mu.Lock()
	s.prevDelay = delay
	s.mu.Unlock()
	return delay
}

// defaultReschedule implements the self-tuning schedule: immediate when
// saturated, doubling back-off while idle, baseline otherwise.
func (s *Scheduler) defaultReschedule(marked, limit int, previous time.Duration) time.Duration {
	switch {
	case marked == limit:
		return 0
	case marked == 0:
		delay := previous * 2
		if delay < s.config.Baseline {
			delay = s.config.Baseline
		}
		if s.config.MaxDelay > 0 && delay > s.config.MaxDelay {
			delay = s.config.MaxDelay
		}
		return delay
	default:
		return s.config.Baseline
	}
}
