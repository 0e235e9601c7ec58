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
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// lockEntry is one held lock.
type lockEntry struct {
	workerID  string
	expiresAt time.Time
}

// FakeStore is an in-memory Store, the in-memory analogue vsa's core.Store
// plays to its own Persister: schedulers and workers are unit-tested against
// this rather than a live Postgres instance.
type FakeStore struct {
	mu sync.Mutex

	targets   map[string]*Target
	documents map[string]Document
	edges     []Edge
	headers   []HeaderRecord

	queues map[Pipeline]map[string]*QueueItem // pipeline -> key -> item

	locks map[Pipeline]map[string]lockEntry // pipeline -> onion -> lock

	ports       map[string]map[int]PortObservation // onion -> port -> obs
	services    []DetectedService
	dirObs      map[string]map[string]DirObservation // onion -> path -> obs

	domainSuccess map[string]int
	domainTotal   map[string]int

	crawlLog []CrawlLogEntry
}

// NewFakeStore constructs an empty in-memory store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		targets:       make(map[string]*Target),
		documents:     make(map[string]Document),
		queues:        map[Pipeline]map[string]*QueueItem{PipelineCrawl: {}, PipelineScan: {}, PipelineDirscan: {}},
		locks:         map[Pipeline]map[string]lockEntry{PipelineCrawl: {}, PipelineScan: {}, PipelineDirscan: {}},
		ports:         make(map[string]map[int]PortObservation),
		dirObs:        make(map[string]map[string]DirObservation),
		domainSuccess: make(map[string]int),
		domainTotal:   make(map[string]int),
	}
}

func (s *FakeStore) Close() {}

func (s *FakeStore) UpsertTarget(ctx context.Context, onion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.targets[onion]; ok {
		t.LastProcess = time.Now()
		return nil
	}
	s.targets[onion] = &Target{Onion: onion, FirstSeen: time.Now(), LastProcess: time.Now(), Active: true, CrawlStatus: StatusPending}
	return nil
}

func (s *FakeStore) UpsertDocument(ctx context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc.FetchedAt = time.Now()
	s.documents[doc.URL] = doc
	if t, ok := s.targets[doc.Onion]; ok {
		t.CrawlCount++
	}
	return nil
}

func (s *FakeStore) AppendEdges(ctx context.Context, edges []Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(s.edges))
	for _, e := range s.edges {
		seen[e.SourceURL+"|"+e.TargetURL] = struct{}{}
	}
	for _, e := range edges {
		key := e.SourceURL + "|" + e.TargetURL
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		s.edges = append(s.edges, e)
	}
	return nil
}

func (s *FakeStore) AppendHeaders(ctx context.Context, headers []HeaderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers = append(s.headers, headers...)
	return nil
}

// Enqueue holds priority as a monotone minimum: a cheaper re-enqueue lowers
// an existing row's priority but never raises it; failed rows reset to
// pending, processing/completed rows are left untouched.
func (s *FakeStore) Enqueue(ctx context.Context, item QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[item.Pipeline]
	existing, ok := q[item.Key]
	if !ok {
		item.CreatedAt = time.Now()
		item.Status = StatusPending
		cp := item
		q[item.Key] = &cp
		return nil
	}
	if item.Priority < existing.Priority {
		existing.Priority = item.Priority
	}
	if existing.Status == StatusFailed {
		existing.Status = StatusPending
	}
	return nil
}

func backoffEligible(item *QueueItem, now time.Time) bool {
	if item.LastAttempt.IsZero() {
		return true
	}
	exp := item.Attempts
	if exp > 6 {
		exp = 6
	}
	wait := time.Duration(1*math.Pow(2, float64(exp))) * time.Minute
	return now.Sub(item.LastAttempt) >= wait
}

// DequeueWithLease leases up to n pending, backoff-eligible, unlocked rows,
// ordered by priority then creation time (the "simple" path the scanner and
// dirscanner schedulers use directly; the crawler scheduler re-ranks its own
// candidate set and leases through DequeueKeysWithLease instead).
func (s *FakeStore) DequeueWithLease(ctx context.Context, pipeline Pipeline, workerID string, n int) ([]QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var candidates []*QueueItem
	for _, item := range s.queues[pipeline] {
		if item.Status != StatusPending {
			continue
		}
		if item.Attempts >= MaxAttempts {
			continue
		}
		if !backoffEligible(item, now) {
			continue
		}
		if lock, locked := s.locks[pipeline][item.Onion]; locked && lock.workerID != workerID && now.Before(lock.expiresAt) {
			continue
		}
		candidates = append(candidates, item)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	leased := make([]QueueItem, 0, len(candidates))
	for _, item := range candidates {
		item.Status = StatusProcessing
		item.WorkerID = workerID
		item.Attempts++
		item.LastAttempt = now
		leased = append(leased, *item)
	}
	return leased, nil
}

// DequeueKeysWithLease leases exactly the given keys, in order, skipping
// any that are no longer eligible (already leased, locked by another
// worker, or exhausted) — the same skip-locked discipline DequeueWithLease
// applies over its own priority/created_at order, but over a caller-chosen
// candidate set. Used by the crawl scheduler after ranking and shuffling.
func (s *FakeStore) DequeueKeysWithLease(ctx context.Context, pipeline Pipeline, workerID string, keys []string) ([]QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	leased := make([]QueueItem, 0, len(keys))
	for _, key := range keys {
		item, ok := s.queues[pipeline][key]
		if !ok || item.Status != StatusPending || item.Attempts >= MaxAttempts {
			continue
		}
		if !backoffEligible(item, now) {
			continue
		}
		if lock, locked := s.locks[pipeline][item.Onion]; locked && lock.workerID != workerID && now.Before(lock.expiresAt) {
			continue
		}
		item.Status = StatusProcessing
		item.WorkerID = workerID
		item.Attempts++
		item.LastAttempt = now
		leased = append(leased, *item)
	}
	return leased, nil
}

func (s *FakeStore) MarkCompleted(ctx context.Context, pipeline Pipeline, key, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queues[pipeline][key]
	if !ok || item.WorkerID != workerID {
		return ErrNotOwner
	}
	item.Status = StatusCompleted
	return nil
}

func (s *FakeStore) MarkFailed(ctx context.Context, pipeline Pipeline, key, workerID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.queues[pipeline][key]
	if !ok || item.WorkerID != workerID {
		return ErrNotOwner
	}
	item.ErrorMsg = errMsg
	if item.Attempts >= MaxAttempts {
		item.Status = StatusFailed
	} else {
		item.Status = StatusPending
	}
	return nil
}

func (s *FakeStore) MarkDomainFailed(ctx context.Context, onion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.queues[PipelineCrawl] {
		if item.Onion != onion {
			continue
		}
		if item.Status == StatusPending || item.Status == StatusProcessing {
			item.Status = StatusFailed
		}
	}
	if t, ok := s.targets[onion]; ok {
		t.Active = false
	}
	return nil
}

func (s *FakeStore) AcquireLock(ctx context.Context, pipeline Pipeline, onion, workerID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquireLockLocked(pipeline, onion, workerID, ttl), nil
}

func (s *FakeStore) acquireLockLocked(pipeline Pipeline, onion, workerID string, ttl time.Duration) bool {
	now := time.Now()
	locks := s.locks[pipeline]
	if existing, ok := locks[onion]; ok {
		if now.Before(existing.expiresAt) && existing.workerID != workerID {
			return false
		}
	}
	locks[onion] = lockEntry{workerID: workerID, expiresAt: now.Add(ttl)}
	return true
}

func (s *FakeStore) ReleaseLock(ctx context.Context, pipeline Pipeline, onion, workerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	locks := s.locks[pipeline]
	existing, ok := locks[onion]
	if !ok || existing.workerID != workerID {
		return false, nil
	}
	delete(locks, onion)
	return true, nil
}

func (s *FakeStore) ExtendLock(ctx context.Context, pipeline Pipeline, onion, workerID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	locks := s.locks[pipeline]
	existing, ok := locks[onion]
	if !ok || existing.workerID != workerID {
		return false, nil
	}
	existing.expiresAt = time.Now().Add(ttl)
	locks[onion] = existing
	return true, nil
}

func (s *FakeStore) AcquireAndMarkCrawling(ctx context.Context, onion, workerID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.acquireLockLocked(PipelineCrawl, onion, workerID, ttl) {
		return false, nil
	}
	if t, ok := s.targets[onion]; ok {
		t.CrawlStatus = StatusProcessing
	}
	return true, nil
}

func (s *FakeStore) ReleaseAndMarkCompleted(ctx context.Context, onion, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	locks := s.locks[PipelineCrawl]
	if existing, ok := locks[onion]; ok && existing.workerID == workerID {
		delete(locks, onion)
	}
	if t, ok := s.targets[onion]; ok {
		t.CrawlStatus = StatusCompleted
	}
	return nil
}

func (s *FakeStore) ClearAllLocks(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.locks {
		s.locks[p] = map[string]lockEntry{}
	}
	return nil
}

func (s *FakeStore) UpsertPortObservation(ctx context.Context, obs PortObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.ports[obs.Onion]
	if !ok {
		m = map[int]PortObservation{}
		s.ports[obs.Onion] = m
	}
	if prior, exists := m[obs.Port]; exists && obs.Banner == nil {
		obs.Banner = prior.Banner
	}
	obs.ObservedAt = time.Now()
	m[obs.Port] = obs
	return nil
}

func (s *FakeStore) AppendDetectedServices(ctx context.Context, services []DetectedService) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = append(s.services, services...)
	return nil
}

func (s *FakeStore) UpsertDirObservation(ctx context.Context, obs DirObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.dirObs[obs.Onion]
	if !ok {
		m = map[string]DirObservation{}
		s.dirObs[obs.Onion] = m
	}
	obs.ObservedAt = time.Now()
	m[obs.Path] = obs
	return nil
}

func (s *FakeStore) EligibleCrawlCandidates(ctx context.Context, limit int) ([]QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var out []QueueItem
	for _, item := range s.queues[PipelineCrawl] {
		if item.Status != StatusPending || item.Attempts >= MaxAttempts {
			continue
		}
		if !backoffEligible(item, now) {
			continue
		}
		if t, ok := s.targets[item.Onion]; ok && (!t.Active || t.CrawlStatus == StatusFailed) {
			continue
		}
		out = append(out, *item)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *FakeStore) SourceReliability(ctx context.Context, domain string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := s.domainTotal[domain]
	if total < 3 {
		return 0.3, false
	}
	return float64(s.domainSuccess[domain]) / float64(total), true
}

func (s *FakeStore) TargetSnapshot(ctx context.Context, onion string) (Target, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[onion]
	if !ok {
		return Target{}, false, nil
	}
	snap := *t
	snap.PendingCount = 0
	for _, item := range s.queues[PipelineCrawl] {
		if item.Onion == onion && item.Status == StatusPending {
			snap.PendingCount++
		}
	}
	return snap, true, nil
}

// SourceDomainFor returns the onion of the document whose most recently
// recorded edge discovered target, mirroring the edges/documents join the
// Postgres implementation runs instead of reading any column on the queue
// row itself.
func (s *FakeStore) SourceDomainFor(ctx context.Context, onion string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best Edge
	var bestFetched time.Time
	found := false
	for _, e := range s.edges {
		if e.TargetOnion != onion {
			continue
		}
		doc, ok := s.documents[e.SourceURL]
		if !ok {
			continue
		}
		if !found || doc.FetchedAt.After(bestFetched) {
			best = e
			bestFetched = doc.FetchedAt
			found = true
		}
	}
	if !found {
		return "", false, nil
	}
	srcDoc := s.documents[best.SourceURL]
	return srcDoc.Onion, true, nil
}

// RecordSourceOutcome lets tests and the crawler worker feed the source
// reliability tracker directly, bypassing SQL aggregation.
func (s *FakeStore) RecordSourceOutcome(domain string, crawled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domainTotal[domain]++
	if crawled {
		s.domainSuccess[domain]++
	}
}

// QueueDepth counts pending items for pipeline.
func (s *FakeStore) QueueDepth(ctx context.Context, pipeline Pipeline) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.queues[pipeline] {
		if item.Status == StatusPending {
			n++
		}
	}
	return n, nil
}

// Dump is a test helper returning a queue's items for assertions.
func (s *FakeStore) Dump(pipeline Pipeline) []QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QueueItem, 0, len(s.queues[pipeline]))
	for _, item := range s.queues[pipeline] {
		out = append(out, *item)
	}
	return out
}

// Target is a test helper exposing a target's current state.
func (s *FakeStore) Target(onion string) (Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.targets[onion]
	if !ok {
		return Target{}, false
	}
	return *t, true
}

// PortObservations is a test helper returning every port observed for onion.
func (s *FakeStore) PortObservations(onion string) map[int]PortObservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]PortObservation, len(s.ports[onion]))
	for port, obs := range s.ports[onion] {
		out[port] = obs
	}
	return out
}

// DetectedServices is a test helper returning every detected service across
// all scanned targets.
func (s *FakeStore) DetectedServices() []DetectedService {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DetectedService, len(s.services))
	copy(out, s.services)
	return out
}

// DirObservations is a test helper returning every observed path for onion.
func (s *FakeStore) DirObservations(onion string) map[string]DirObservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]DirObservation, len(s.dirObs[onion]))
	for path, obs := range s.dirObs[onion] {
		out[path] = obs
	}
	return out
}

// AppendCrawlLog satisfies CrawlLogSink so tests can drive a BufferedWriter
// against a FakeStore instead of a live Postgres instance.
func (s *FakeStore) AppendCrawlLog(ctx context.Context, entries []CrawlLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.crawlLog = append(s.crawlLog, entries...)
	return nil
}

// CrawlLog is a test helper returning every appended crawl-log entry.
func (s *FakeStore) CrawlLog() []CrawlLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CrawlLogEntry, len(s.crawlLog))
	copy(out, s.crawlLog)
	return out
}

var _ Store = (*FakeStore)(nil)
var _ CrawlLogSink = (*FakeStore)(nil)
var _ ScanEnqueuer = (*FakeStore)(nil)

func (s *FakeStore) String() string {
	return fmt.Sprintf("FakeStore{targets=%d}", len(s.targets))
}
