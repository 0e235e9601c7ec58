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

// Package lock implements the three independent lock namespaces (crawl,
// scan, dirscan), behind a common Locker interface so workers never know
// whether the backend is Postgres or Redis.
package lock

import (
	"context"
	"time"

	"asherah/internal/store"
)

// Default per-pipeline lease durations.
const (
	CrawlTTL   = 10 * time.Minute
	ScanTTL    = 30 * time.Minute
	DirscanTTL = 30 * time.Minute
)

// TTLFor returns the default lease duration for a pipeline.
func TTLFor(p store.Pipeline) time.Duration {
	switch p {
	case store.PipelineCrawl:
		return CrawlTTL
	case store.PipelineScan:
		return ScanTTL
	default:
		return DirscanTTL
	}
}

// Locker is the narrow interface workers depend on; it never leaks whether
// the backend is Postgres advisory rows or Redis keys.
type Locker interface {
	Acquire(ctx context.Context, pipeline store.Pipeline, onion, workerID string) (bool, error)
	Release(ctx context.Context, pipeline store.Pipeline, onion, workerID string) (bool, error)
	Extend(ctx context.Context, pipeline store.Pipeline, onion, workerID string) (bool, error)
	ClearAll(ctx context.Context) error
}

// StoreLocker delegates to the Store's own lock operations (the Postgres
// "delete expired, then conditional insert" shape). This is the default
// backend; RedisLocker is used only when --lock-backend=redis is set.
type StoreLocker struct {
	Store store.Store
}

func NewStoreLocker(s store.Store) *StoreLocker {
	return &StoreLocker{Store: s}
}

func (l *StoreLocker) Acquire(ctx context.Context, pipeline store.Pipeline, onion, workerID string) (bool, error) {
	return l.Store.AcquireLock(ctx, pipeline, onion, workerID, TTLFor(pipeline))
}

func (l *StoreLocker) Release(ctx context.Context, pipeline store.Pipeline, onion, workerID string) (bool, error) {
	return l.Store.ReleaseLock(ctx, pipeline, onion, workerID)
}

func (l *StoreLocker) Extend(ctx context.Context, pipeline store.Pipeline, onion, workerID string) (bool, error) {
	return l.Store.ExtendLock(ctx, pipeline, onion, workerID, TTLFor(pipeline))
}

func (l *StoreLocker) ClearAll(ctx context.Context) error {
	return l.Store.ClearAllLocks(ctx)
}

var _ Locker = (*StoreLocker)(nil)
