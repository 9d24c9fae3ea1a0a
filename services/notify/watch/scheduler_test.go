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
	"testing"
	"time"

	"github.com/AleutianAI/AleutianNotify/services/notify/store"
)

// newTestScheduler wires a memory store, a registry, and a scheduler
// whose leases lapse immediately so consecutive sweeps can re-lease.
func newTestScheduler(t *testing.T) (*Scheduler, *store.MemoryStore, *Registry) {
	t.Helper()
	st := store.NewMemoryStore()
	registry := NewRegistry()
	s := NewScheduler(st, registry, DefaultSchedulerConfig())
	s.SetLockExpiresHook(func(now time.Time) time.Time { return now })
	return s, st, registry
}

func createWatch(t *testing.T, st *store.MemoryStore, id, watcher string) store.Record {
	t.Helper()
	rec, err := st.Create(context.Background(), store.Watch{
		ID:      id,
		Watcher: watcher,
		Expires: time.Now().Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return rec
}

func TestScheduler_SweepDrivesUpdate(t *testing.T) {
	ctx := context.Background()
	s, st, registry := newTestScheduler(t)

	err := registry.Register("watchExchange", func(ctx context.Context, rec store.Record) (Update, error) {
		return Update{Value: json.RawMessage(`{"state":"complete"}`), Mutable: false}, nil
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	createWatch(t, st, "E", "watchExchange")

	result := s.RunNow(ctx)
	if result.Marked != 1 {
		t.Errorf("marked = %d, want 1", result.Marked)
	}
	if result.Executed != 1 || result.Updated != 1 {
		t.Errorf("executed/updated = %d/%d, want 1/1", result.Executed, result.Updated)
	}

	rec, err := st.Get(ctx, "E")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Watch.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", rec.Watch.Sequence)
	}
	if string(rec.Watch.Value) != `{"state":"complete"}` {
		t.Errorf("value = %s, want the watcher's snapshot", rec.Watch.Value)
	}
}

func TestScheduler_NoUpdateWhenWatcherReturnsNothing(t *testing.T) {
	ctx := context.Background()
	s, st, registry := newTestScheduler(t)

	if err := registry.Register("quiet", func(ctx context.Context, rec store.Record) (Update, error) {
		return Update{Value: nil, Mutable: true}, nil
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	createWatch(t, st, "E", "quiet")

	result := s.RunNow(ctx)
	if result.Executed != 1 || result.Updated != 0 {
		t.Errorf("executed/updated = %d/%d, want 1/0", result.Executed, result.Updated)
	}

	rec, err := st.Get(ctx, "E")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Watch.Sequence != 0 {
		t.Errorf("sequence = %d, want 0: no update must be written", rec.Watch.Sequence)
	}
}

func TestScheduler_UnregisteredWatcherIsSkipped(t *testing.T) {
	ctx := context.Background()
	s, st, _ := newTestScheduler(t)

	createWatch(t, st, "E", "nobodyHome")

	result := s.RunNow(ctx)
	if result.Marked != 1 {
		t.Errorf("marked = %d, want 1", result.Marked)
	}
	if result.Executed != 0 {
		t.Errorf("executed = %d, want 0: unregistered watcher must be skipped", result.Executed)
	}
}

func TestScheduler_SequenceConflictIsDropped(t *testing.T) {
	ctx := context.Background()
	s, st, registry := newTestScheduler(t)

	// The watcher advances the record itself before returning, so the
	// scheduler's own write-back loses the CAS, as a concurrent sweep
	// on another worker would make it lose.
	err := registry.Register("racer", func(ctx context.Context, rec store.Record) (Update, error) {
		racing := rec.Watch
		racing.Sequence++
		racing.Value = json.RawMessage(`{"state":"active"}`)
		if _, err := st.Update(ctx, racing); err != nil {
			t.Errorf("racing update failed: %v", err)
		}
		return Update{Value: json.RawMessage(`{"state":"pending"}`), Mutable: true}, nil
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	createWatch(t, st, "E", "racer")

	result := s.RunNow(ctx)
	if result.Conflicts != 1 {
		t.Errorf("conflicts = %d, want 1", result.Conflicts)
	}
	if result.Updated != 0 {
		t.Errorf("updated = %d, want 0", result.Updated)
	}

	rec, err := st.Get(ctx, "E")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.Watch.Sequence != 1 {
		t.Errorf("sequence = %d, want 1: the racing write must stand", rec.Watch.Sequence)
	}
	if string(rec.Watch.Value) != `{"state":"active"}` {
		t.Errorf("value = %s, want the racing write's value", rec.Watch.Value)
	}
}

func TestScheduler_ActiveLeaseExcludesRecord(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	registry := NewRegistry()

	if err := registry.Register("quiet", func(ctx context.Context, rec store.Record) (Update, error) {
		return Update{}, nil
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Default lock expiry (5s) stays active across back-to-back sweeps.
	s := NewScheduler(st, registry, DefaultSchedulerConfig())
	createWatch(t, st, "E", "quiet")

	first := s.RunNow(ctx)
	if first.Marked != 1 {
		t.Fatalf("first sweep marked = %d, want 1", first.Marked)
	}
	second := s.RunNow(ctx)
	if second.Marked != 0 {
		t.Errorf("second sweep marked = %d, want 0 while the lease is active", second.Marked)
	}
}

func TestScheduler_RescheduleBackoff(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	baseline := s.config.Baseline

	t.Run("saturated sweeps reschedule immediately", func(t *testing.T) {
		if d := s.defaultReschedule(s.config.MarkLimit, s.config.MarkLimit, baseline); d != 0 {
			t.Errorf("delay = %v, want 0", d)
		}
	})

	t.Run("productive sweeps return to baseline", func(t *testing.T) {
		if d := s.defaultReschedule(3, s.config.MarkLimit, 8*time.Second); d != baseline {
			t.Errorf("delay = %v, want %v", d, baseline)
		}
	})

	t.Run("empty sweeps double", func(t *testing.T) {
		// After k consecutive empty sweeps the delay is 2^k seconds.
		delay := baseline
		for k := 1; k <= 5; k++ {
			delay = s.defaultReschedule(0, s.config.MarkLimit, delay)
			want := time.Duration(1<<k) * time.Second
			if delay != want {
				t.Errorf("delay after %d empty sweeps = %v, want %v", k, delay, want)
			}
		}
	})

	t.Run("backoff restarts at baseline after zero delay", func(t *testing.T) {
		if d := s.defaultReschedule(0, s.config.MarkLimit, 0); d != baseline {
			t.Errorf("delay = %v, want %v", d, baseline)
		}
	})
}

func TestScheduler_EmptySweepChainViaRunNow(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestScheduler(t)

	// No records: consecutive sweeps walk the back-off chain.
	delays := []time.Duration{
		s.RunNow(ctx).NextDelay,
		s.RunNow(ctx).NextDelay,
		s.RunNow(ctx).NextDelay,
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("sweep %d delay = %v, want %v", i+1, delays[i], want[i])
		}
	}
}

func TestScheduler_StartStop(t *testing.T) {
	ctx := context.Background()
	s, st, registry := newTestScheduler(t)

	updated := make(chan struct{}, 1)
	if err := registry.Register("watchExchange", func(ctx context.Context, rec store.Record) (Update, error) {
		select {
		case updated <- struct{}{}:
		default:
		}
		return Update{Value: json.RawMessage(`{"state":"complete"}`), Mutable: false}, nil
	}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	createWatch(t, st, "E", "watchExchange")

	// Drive the loop quickly regardless of sweep outcomes.
	s.SetRescheduleHook(func(marked, limit int, previous time.Duration) time.Duration {
		return 10 * time.Millisecond
	})

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("second Start should fail while running")
	}

	select {
	case <-updated:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler never executed the watcher")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}

func TestService_WatchValidation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := NewService(st)

	t.Run("ttl over an hour is rejected", func(t *testing.T) {
		_, err := svc.Watch(ctx, "E", "watchExchange", 2*time.Hour)
		if err == nil {
			t.Fatal("expected constraint error")
		}
	})

	t.Run("create get remove round trip", func(t *testing.T) {
		rec, err := svc.Watch(ctx, "E", "watchExchange", 5*time.Minute)
		if err != nil {
			t.Fatalf("Watch failed: %v", err)
		}
		if rec.Watch.Sequence != 0 {
			t.Errorf("sequence = %d, want 0", rec.Watch.Sequence)
		}

		if _, err := svc.Get(ctx, "E"); err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if err := svc.Remove(ctx, "E"); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if err := svc.Remove(ctx, "E"); err != nil {
			t.Fatalf("second Remove failed: %v", err)
		}
		if st.Len() != 0 {
			t.Errorf("store has %d records after remove, want 0", st.Len())
		}
	})
}
