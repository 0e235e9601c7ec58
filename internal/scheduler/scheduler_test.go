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

package scheduler

import (
	"context"
	"testing"

	"asherah/internal/store"
)

func TestClassify_TierTable(t *testing.T) {
	cases := []struct {
		name         string
		crawlCount   int
		pendingCount int
		isRoot       bool
		minutesSince float64
		reliability  float64
		want         int
	}{
		{"best discovery signal", 0, 0, true, 0, 0.8, 0},
		{"general discovery", 0, 0, true, 0, 0.2, 1},
		{"fairness across fleet", 5, 0, false, 45, 0.3, 2},
		{"shallow depth", 5, 0, false, 0, 0.3, 3},
		{"moderate depth", 20, 0, false, 0, 0.3, 4},
		{"spammy site penalty", 20, 150, true, 0, 0.3, 6}, // not new, root URL: falls through to the pending check
		{"catch-all", 80, 0, false, 0, 0.3, 5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.crawlCount, tc.pendingCount, tc.isRoot, tc.minutesSince, tc.reliability)
			if got != tc.want {
				t.Fatalf("classify(%+v) = %d, want %d", tc, got, tc.want)
			}
		})
	}
}

func seedCrawlCandidate(t *testing.T, s *store.FakeStore, onion, url string, priority int) {
	t.Helper()
	if err := s.UpsertTarget(context.Background(), onion); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(context.Background(), store.QueueItem{
		Pipeline: store.PipelineCrawl,
		Key:      url,
		Onion:    onion,
		Priority: priority,
		Status:   store.StatusPending,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestCrawlScheduler_RootSeedFavoredOverDeepPath(t *testing.T) {
	s := store.NewFakeStore()
	seedCrawlCandidate(t, s, "root1234567890ab.onion", "http://root1234567890ab.onion/", 100)
	seedCrawlCandidate(t, s, "deep1234567890abc.onion", "http://deep1234567890abc.onion/some/deep/path", 100)
	// Give the deep target some crawl history so it doesn't tie on tier 1.
	if err := s.UpsertDocument(context.Background(), store.Document{URL: "http://deep1234567890abc.onion/", Onion: "deep1234567890abc.onion"}); err != nil {
		t.Fatal(err)
	}

	sched := NewCrawlScheduler(s)
	leased, err := sched.Next(context.Background(), "worker-1", 2)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(leased) == 0 {
		t.Fatal("expected at least one leased item")
	}
	foundRoot := false
	for _, item := range leased {
		if item.Key == "http://root1234567890ab.onion/" {
			foundRoot = true
		}
	}
	if !foundRoot {
		t.Fatal("expected the root-path seed to be leased")
	}
}

func TestCrawlScheduler_NextRespectsExclusivity(t *testing.T) {
	s := store.NewFakeStore()
	for i := 0; i < 5; i++ {
		onion := "target0000000000" + string(rune('a'+i)) + ".onion"
		seedCrawlCandidate(t, s, onion, "http://"+onion+"/", 100)
	}

	sched := NewCrawlScheduler(s)
	firstBatch, err := sched.Next(context.Background(), "worker-a", 3)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(firstBatch) != 3 {
		t.Fatalf("len(firstBatch) = %d, want 3", len(firstBatch))
	}

	secondBatch, err := sched.Next(context.Background(), "worker-b", 5)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	seen := make(map[string]bool)
	for _, item := range firstBatch {
		seen[item.Key] = true
	}
	for _, item := range secondBatch {
		if seen[item.Key] {
			t.Fatalf("item %s leased by both worker-a and worker-b", item.Key)
		}
	}
}

func TestScanScheduler_SimpleOrder(t *testing.T) {
	s := store.NewFakeStore()
	if err := s.Enqueue(context.Background(), store.QueueItem{
		Pipeline: store.PipelineScan, Key: "abc1234567890def.onion", Onion: "abc1234567890def.onion",
		Priority: 50, Status: store.StatusPending,
	}); err != nil {
		t.Fatal(err)
	}

	sched := NewScanScheduler(s)
	leased, err := sched.Next(context.Background(), "worker-1", 1)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(leased) != 1 {
		t.Fatalf("len(leased) = %d, want 1", len(leased))
	}
}

func TestEnqueuePriority_BaseDomainBoost(t *testing.T) {
	if got := EnqueuePriority(100, "/"); got != 50 {
		t.Fatalf("EnqueuePriority(100, \"/\") = %d, want 50", got)
	}
	if got := EnqueuePriority(100, ""); got != 50 {
		t.Fatalf("EnqueuePriority(100, \"\") = %d, want 50", got)
	}
	if got := EnqueuePriority(100, "/deep/path"); got != 100 {
		t.Fatalf("EnqueuePriority(100, deep) = %d, want 100", got)
	}
}

func TestReliabilityCache_CachesWithinTTL(t *testing.T) {
	s := store.NewFakeStore()
	s.RecordSourceOutcome("sourcedomain1234.onion", true)
	s.RecordSourceOutcome("sourcedomain1234.onion", true)
	s.RecordSourceOutcome("sourcedomain1234.onion", false)

	cache := newReliabilityCache(s)
	got := cache.get(context.Background(), "sourcedomain1234.onion")
	if got < 0.6 || got > 0.7 {
		t.Fatalf("get() = %v, want ~0.666", got)
	}

	// A second call within the TTL should hit the cache, not recompute; we
	// can't observe that directly through FakeStore, so just assert
	// stability of the value.
	got2 := cache.get(context.Background(), "sourcedomain1234.onion")
	if got != got2 {
		t.Fatalf("cached value changed: %v != %v", got, got2)
	}
}
