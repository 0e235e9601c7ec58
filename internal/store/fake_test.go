// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"testing"
	"time"
)

const testOnion = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.onion"

// TestEnqueueNeverRaisesPriority enforces invariant 5.
func TestEnqueueNeverRaisesPriority(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore()

	url := "http://" + testOnion + "/x"
	if err := s.Enqueue(ctx, QueueItem{Pipeline: PipelineCrawl, Key: url, Onion: testOnion, Priority: 100}); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(ctx, QueueItem{Pipeline: PipelineCrawl, Key: url, Onion: testOnion, Priority: 200}); err != nil {
		t.Fatal(err)
	}
	items := s.Dump(PipelineCrawl)
	if len(items) != 1 || items[0].Priority != 100 {
		t.Fatalf("expected priority to stay 100, got %+v", items)
	}

	if err := s.Enqueue(ctx, QueueItem{Pipeline: PipelineCrawl, Key: url, Onion: testOnion, Priority: 50}); err != nil {
		t.Fatal(err)
	}
	items = s.Dump(PipelineCrawl)
	if items[0].Priority != 50 {
		t.Fatalf("expected priority to lower to 50, got %+v", items)
	}
}

func TestEnqueueNeverRevertsCompleted(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore()
	url := "http://" + testOnion + "/x"

	s.Enqueue(ctx, QueueItem{Pipeline: PipelineCrawl, Key: url, Onion: testOnion, Priority: 100})
	leased, _ := s.DequeueWithLease(ctx, PipelineCrawl, "w1", 1)
	if len(leased) != 1 {
		t.Fatal("expected one leased item")
	}
	s.MarkCompleted(ctx, PipelineCrawl, url, "w1")

	// Re-enqueueing a completed row must not revert it to pending.
	s.Enqueue(ctx, QueueItem{Pipeline: PipelineCrawl, Key: url, Onion: testOnion, Priority: 10})
	items := s.Dump(PipelineCrawl)
	if items[0].Status != StatusCompleted {
		t.Fatalf("expected completed row to stay completed, got %+v", items)
	}
}

// TestDequeueSettlementIsWorkerScoped enforces that only the leasing worker can settle a row.
func TestDequeueSettlementIsWorkerScoped(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore()
	url := "http://" + testOnion + "/x"
	s.Enqueue(ctx, QueueItem{Pipeline: PipelineCrawl, Key: url, Onion: testOnion, Priority: 100})
	s.DequeueWithLease(ctx, PipelineCrawl, "owner", 1)

	if err := s.MarkCompleted(ctx, PipelineCrawl, url, "impostor"); err != ErrNotOwner {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := s.MarkCompleted(ctx, PipelineCrawl, url, "owner"); err != nil {
		t.Fatalf("owner should be able to settle: %v", err)
	}
}

// TestLockExclusivity covers the lock-exclusivity scenario.
func TestLockExclusivity(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore()

	okA, _ := s.AcquireLock(ctx, PipelineCrawl, testOnion, "A", time.Minute)
	okB, _ := s.AcquireLock(ctx, PipelineCrawl, testOnion, "B", time.Minute)
	if !okA || okB {
		t.Fatalf("expected exactly one acquire to succeed, got A=%v B=%v", okA, okB)
	}

	released, _ := s.ReleaseLock(ctx, PipelineCrawl, testOnion, "A")
	if !released {
		t.Fatal("expected A's release to succeed")
	}
	okB2, _ := s.AcquireLock(ctx, PipelineCrawl, testOnion, "B", time.Minute)
	if !okB2 {
		t.Fatal("expected B to acquire after A released")
	}
}

// TestMarkDomainFailed covers the domain-wide-failure scenario.
func TestMarkDomainFailed(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore()
	s.UpsertTarget(ctx, testOnion)

	for i := 0; i < 3; i++ {
		url := "http://" + testOnion + "/p" + string(rune('a'+i))
		s.Enqueue(ctx, QueueItem{Pipeline: PipelineCrawl, Key: url, Onion: testOnion, Priority: 100})
	}
	if err := s.MarkDomainFailed(ctx, testOnion); err != nil {
		t.Fatal(err)
	}
	for _, item := range s.Dump(PipelineCrawl) {
		if item.Status != StatusFailed {
			t.Errorf("expected %s failed, got %s", item.Key, item.Status)
		}
	}
	target, _ := s.Target(testOnion)
	if target.Active {
		t.Error("expected target deactivated")
	}
}

// TestBackoffGate covers the exponential backoff gate.
func TestBackoffGate(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore()
	url := "http://" + testOnion + "/x"
	s.Enqueue(ctx, QueueItem{Pipeline: PipelineCrawl, Key: url, Onion: testOnion, Priority: 100})

	item := s.queues[PipelineCrawl][url]
	item.Attempts = 2
	item.LastAttempt = time.Now().Add(-30 * time.Second)

	leased, _ := s.DequeueWithLease(ctx, PipelineCrawl, "w1", 10)
	if len(leased) != 0 {
		t.Fatalf("expected row ineligible at 30s since 2^2=4min backoff, got %+v", leased)
	}

	item.LastAttempt = time.Now().Add(-5 * time.Minute)
	leased, _ = s.DequeueWithLease(ctx, PipelineCrawl, "w1", 10)
	if len(leased) != 1 {
		t.Fatalf("expected row eligible at 5min, got %+v", leased)
	}
}

func TestAttemptsTerminalAfterThree(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore()
	url := "http://" + testOnion + "/x"
	s.Enqueue(ctx, QueueItem{Pipeline: PipelineCrawl, Key: url, Onion: testOnion, Priority: 100})

	for i := 0; i < MaxAttempts; i++ {
		item := s.queues[PipelineCrawl][url]
		item.LastAttempt = time.Time{}
		leased, err := s.DequeueWithLease(ctx, PipelineCrawl, "w1", 1)
		if err != nil || len(leased) != 1 {
			t.Fatalf("attempt %d: expected lease, got %v %v", i, leased, err)
		}
		s.MarkFailed(ctx, PipelineCrawl, url, "w1", "boom")
	}
	items := s.Dump(PipelineCrawl)
	if items[0].Status != StatusFailed || items[0].Attempts != MaxAttempts {
		t.Fatalf("expected terminal failed at %d attempts, got %+v", MaxAttempts, items[0])
	}
}

func TestUpsertPortObservationPreservesBannerOnNilUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewFakeStore()
	s.UpsertPortObservation(ctx, PortObservation{Onion: testOnion, Port: 22, State: PortOpen, Banner: []byte("SSH-2.0-x")})
	s.UpsertPortObservation(ctx, PortObservation{Onion: testOnion, Port: 22, State: PortOpen, Banner: nil})

	got := s.ports[testOnion][22]
	if string(got.Banner) != "SSH-2.0-x" {
		t.Fatalf("expected banner preserved, got %q", got.Banner)
	}
}
