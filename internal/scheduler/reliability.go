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
	"sync"
	"time"

	"asherah/internal/store"
)

// reliabilityCacheTTL bounds how often a domain's source reliability is
// recomputed. The aggregation is a GROUP BY over edges/documents/targets;
// recomputing it every schedule tick for every candidate would be wasted
// work since the underlying counts move slowly relative to a tick.
const reliabilityCacheTTL = time.Minute

type reliabilityEntry struct {
	value     float64
	expiresAt time.Time
}

// reliabilityCache memoizes Store.SourceReliability per domain. It adds no
// new invariant over the store's own computation — a stale read for up to
// a minute is acceptable because reliability only ever informs a secondary
// sort key, never eligibility.
type reliabilityCache struct {
	store store.Store

	mu      sync.Mutex
	entries map[string]reliabilityEntry
}

func newReliabilityCache(s store.Store) *reliabilityCache {
	return &reliabilityCache{store: s, entries: make(map[string]reliabilityEntry)}
}

func (c *reliabilityCache) get(ctx context.Context, domain string) float64 {
	c.mu.Lock()
	if e, ok := c.entries[domain]; ok && time.Now().Before(e.expiresAt) {
		c.mu.Unlock()
		return e.value
	}
	c.mu.Unlock()

	value, _ := c.store.SourceReliability(ctx, domain)

	c.mu.Lock()
	c.entries[domain] = reliabilityEntry{value: value, expiresAt: time.Now().Add(reliabilityCacheTTL)}
	c.mu.Unlock()
	return value
}
