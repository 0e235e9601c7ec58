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

package lock

import (
	"context"
	"testing"

	"asherah/internal/store"
)

func TestTTLForMatchesSpec(t *testing.T) {
	cases := map[store.Pipeline]struct{}{
		store.PipelineCrawl:   {},
		store.PipelineScan:    {},
		store.PipelineDirscan: {},
	}
	for p := range cases {
		if got := TTLFor(p); got <= 0 {
			t.Errorf("TTLFor(%s) = %v, want positive", p, got)
		}
	}
	if TTLFor(store.PipelineCrawl) != CrawlTTL {
		t.Errorf("crawl TTL = %v, want %v", TTLFor(store.PipelineCrawl), CrawlTTL)
	}
	if TTLFor(store.PipelineScan) != ScanTTL || TTLFor(store.PipelineDirscan) != DirscanTTL {
		t.Error("scan/dirscan TTLs should both be 30 minutes")
	}
}

// TestStoreLockerExclusivity mirrors the lock-exclusivity scenario through the Locker
// interface rather than the Store directly.
func TestStoreLockerExclusivity(t *testing.T) {
	ctx := context.Background()
	s := store.NewFakeStore()
	locker := NewStoreLocker(s)

	const onion = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.onion"
	okA, err := locker.Acquire(ctx, store.PipelineScan, onion, "A")
	if err != nil || !okA {
		t.Fatalf("A acquire = %v, %v", okA, err)
	}
	okB, err := locker.Acquire(ctx, store.PipelineScan, onion, "B")
	if err != nil || okB {
		t.Fatalf("B acquire should fail while A holds the lock, got %v, %v", okB, err)
	}

	// A different pipeline's lock on the same onion is independent.
	okCrawl, err := locker.Acquire(ctx, store.PipelineCrawl, onion, "B")
	if err != nil || !okCrawl {
		t.Fatalf("cross-pipeline lock should be independent, got %v, %v", okCrawl, err)
	}

	released, _ := locker.Release(ctx, store.PipelineScan, onion, "A")
	if !released {
		t.Fatal("expected A's release to succeed")
	}
	okB2, _ := locker.Acquire(ctx, store.PipelineScan, onion, "B")
	if !okB2 {
		t.Fatal("expected B to acquire after A released")
	}
}

func TestStoreLockerClearAll(t *testing.T) {
	ctx := context.Background()
	s := store.NewFakeStore()
	locker := NewStoreLocker(s)
	const onion = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb.onion"

	locker.Acquire(ctx, store.PipelineCrawl, onion, "A")
	if err := locker.ClearAll(ctx); err != nil {
		t.Fatal(err)
	}
	ok, _ := locker.Acquire(ctx, store.PipelineCrawl, onion, "B")
	if !ok {
		t.Fatal("expected lock to be clear after ClearAll, allowing a fresh acquire")
	}
}
