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

// Package scheduler ranks and leases work from the three queues. The crawl
// scheduler does the hard part: tiered scoring over source reliability and
// domain activity, then a rendezvous-hashed shuffle of the top candidates
// before leasing, to spread contention across a worker fleet. The scan and
// dirscan schedulers are thin priority/created_at wrappers over the store.
package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"

	"asherah/internal/store"
)

// candidateWindow bounds how many eligible rows the scheduler pulls per
// tick before ranking; ranking cost is O(n log n) over this window, not the
// whole pending queue.
const candidateWindow = 500

// shuffleWindow is the top-K slice that gets rendezvous-shuffled before
// leasing — the contention-avoidance mechanism.
const shuffleWindow = 50

// baseDomainBoost is subtracted from the requested priority when the
// enqueued path is root, biasing root URLs ahead of deep paths at equal
// requested priority.
const baseDomainBoost = 50

// defaultSourceReliability is used for domains that haven't sourced at
// least 3 distinct outbound onion targets yet.
const defaultSourceReliability = 0.3

// CrawlScheduler implements the tiered crawl-queue ranking.
type CrawlScheduler struct {
	store            store.Store
	reliabilityCache *reliabilityCache
}

// NewCrawlScheduler builds a CrawlScheduler backed by s.
func NewCrawlScheduler(s store.Store) *CrawlScheduler {
	return &CrawlScheduler{store: s, reliabilityCache: newReliabilityCache(s)}
}

// scored pairs a queue item with its computed ranking keys.
type scored struct {
	item               store.QueueItem
	tier               int
	minutesSinceDomain float64
	reliability        float64
}

// Next fetches up to candidateWindow eligible rows, ranks them, rendezvous-
// shuffles the top shuffleWindow, and leases up to n of the shuffled order,
// so the ranking only decides a preference order — the store's SKIP LOCKED
// lease is still what enforces exclusivity.
func (c *CrawlScheduler) Next(ctx context.Context, workerID string, n int) ([]store.QueueItem, error) {
	candidates, err := c.store.EligibleCrawlCandidates(ctx, candidateWindow)
	if err != nil {
		return nil, fmt.Errorf("scheduler: fetch eligible candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ranked := make([]scored, 0, len(candidates))
	for _, item := range candidates {
		s, err := c.score(ctx, item)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, s)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.tier != b.tier {
			return a.tier < b.tier
		}
		if a.minutesSinceDomain != b.minutesSinceDomain {
			return a.minutesSinceDomain > b.minutesSinceDomain
		}
		if a.reliability != b.reliability {
			return a.reliability > b.reliability
		}
		if a.item.Priority != b.item.Priority {
			return a.item.Priority < b.item.Priority
		}
		if a.item.Attempts != b.item.Attempts {
			return a.item.Attempts < b.item.Attempts
		}
		return a.item.CreatedAt.Before(b.item.CreatedAt)
	})

	top := ranked
	if len(top) > shuffleWindow {
		top = top[:shuffleWindow]
	}
	shuffled, err := rendezvousShuffle(top)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(shuffled))
	for _, s := range shuffled {
		keys = append(keys, s.item.Key)
	}
	if n >= 0 && len(keys) > n {
		keys = keys[:n]
	}
	return c.store.DequeueKeysWithLease(ctx, store.PipelineCrawl, workerID, keys)
}

// score computes one candidate's tier and secondary sort keys.
func (c *CrawlScheduler) score(ctx context.Context, item store.QueueItem) (scored, error) {
	target, ok, err := c.store.TargetSnapshot(ctx, item.Onion)
	if err != nil {
		return scored{}, fmt.Errorf("scheduler: target snapshot %s: %w", item.Onion, err)
	}

	isRoot := item.Key == "" || isRootPath(item.Key)
	minutesSince := 0.0
	if ok && !target.LastProcess.IsZero() {
		minutesSince = time.Since(target.LastProcess).Minutes()
	} else if !ok {
		minutesSince = 1 << 20 // never seen: treat as maximally stale for fairness ranking
	}

	reliability := defaultSourceReliability
	if domain, found, err := c.store.SourceDomainFor(ctx, item.Onion); err == nil && found {
		reliability = c.reliabilityCache.get(ctx, domain)
	}

	crawlCount := 0
	pendingCount := 0
	if ok {
		crawlCount = target.CrawlCount
		pendingCount = target.PendingCount
	}

	tier := classify(crawlCount, pendingCount, isRoot, minutesSince, reliability)

	return scored{item: item, tier: tier, minutesSinceDomain: minutesSince, reliability: reliability}, nil
}

// classify implements the tier table: 0 best discovery signal through 6
// penalizing huge/spammy sites, 5 the catch-all.
func classify(crawlCount, pendingCount int, isRoot bool, minutesSinceDomain, reliability float64) int {
	switch {
	case crawlCount == 0 && isRoot && reliability > 0.5:
		return 0
	case crawlCount == 0 && isRoot:
		return 1
	case minutesSinceDomain > 30:
		return 2
	case crawlCount > 0 && crawlCount < 10 && !isRoot:
		return 3
	case crawlCount < 50 && !isRoot:
		return 4
	case pendingCount > 100:
		return 6
	default:
		return 5
	}
}

func isRootPath(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Path == "" || u.Path == "/"
}

// rendezvousShuffle reorders candidates using rendezvous hashing seeded
// with a fresh random string per call: each round looks up a synthetic key
// against the remaining node set and removes the winner, producing a
// pseudo-random permutation that decorrelates which candidates concurrent
// scheduler instances would pick, rather than sharding keys across nodes
// (the library's usual purpose).
func rendezvousShuffle(ranked []scored) ([]scored, error) {
	if len(ranked) <= 1 {
		return ranked, nil
	}
	seed, err := randomSeed()
	if err != nil {
		return ranked, nil // fall back to ranked order rather than fail the schedule tick
	}

	byKey := make(map[string]scored, len(ranked))
	nodes := make([]string, 0, len(ranked))
	for _, s := range ranked {
		nodes = append(nodes, s.item.Key)
		byKey[s.item.Key] = s
	}

	ring := rendezvous.New(nodes, hashNode)
	out := make([]scored, 0, len(ranked))
	for i := 0; i < len(nodes); i++ {
		pick := ring.Lookup(fmt.Sprintf("%s-%d", seed, i))
		out = append(out, byKey[pick])
		ring.Remove(pick)
	}
	return out, nil
}

func hashNode(b []byte) uint64 { return xxhash.Sum64(b) }

func randomSeed() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// ScanScheduler is a thin wrapper: no cross-domain reliability computation,
// simple priority/created_at order enforced by the store itself.
type ScanScheduler struct {
	store store.Store
}

func NewScanScheduler(s store.Store) *ScanScheduler { return &ScanScheduler{store: s} }

func (s *ScanScheduler) Next(ctx context.Context, workerID string, n int) ([]store.QueueItem, error) {
	return s.store.DequeueWithLease(ctx, store.PipelineScan, workerID, n)
}

// DirscanScheduler is a thin wrapper over the store, identical in shape to
// ScanScheduler but over the dirscan queue.
type DirscanScheduler struct {
	store store.Store
}

func NewDirscanScheduler(s store.Store) *DirscanScheduler { return &DirscanScheduler{store: s} }

func (s *DirscanScheduler) Next(ctx context.Context, workerID string, n int) ([]store.QueueItem, error) {
	return s.store.DequeueWithLease(ctx, store.PipelineDirscan, workerID, n)
}

// EnqueuePriority applies the base-domain boost: root paths are biased
// ahead of deep paths at equal requested priority.
func EnqueuePriority(requested int, path string) int {
	if path == "" || path == "/" {
		return requested - baseDomainBoost
	}
	return requested
}
