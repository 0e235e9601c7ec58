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
	"errors"
	"time"
)

// ErrNotOwner is returned by settlement operations when the calling worker
// does not hold the row it is trying to settle.
var ErrNotOwner = errors.New("store: caller does not own this row")

// ErrLockHeld names the lock-contention condition. AcquireLock
// implementations report contention as (false, nil) and do not return it.
var ErrLockHeld = errors.New("store: lock held by another worker")

// Store is the narrow interface every pipeline depends on. It mirrors the
// vsa Persister/RedisEvaler pattern of a small, explicit method set rather
// than a general-purpose repository.
type Store interface {
	// Document graph

	UpsertTarget(ctx context.Context, onion string) error
	UpsertDocument(ctx context.Context, doc Document) error
	AppendEdges(ctx context.Context, edges []Edge) error
	AppendHeaders(ctx context.Context, headers []HeaderRecord) error

	// Queues

	Enqueue(ctx context.Context, item QueueItem) error
	DequeueWithLease(ctx context.Context, pipeline Pipeline, workerID string, n int) ([]QueueItem, error)
	DequeueKeysWithLease(ctx context.Context, pipeline Pipeline, workerID string, keys []string) ([]QueueItem, error)
	MarkCompleted(ctx context.Context, pipeline Pipeline, key, workerID string) error
	MarkFailed(ctx context.Context, pipeline Pipeline, key, workerID, errMsg string) error
	MarkDomainFailed(ctx context.Context, onion string) error
	QueueDepth(ctx context.Context, pipeline Pipeline) (int, error)

	// Locks

	AcquireLock(ctx context.Context, pipeline Pipeline, onion, workerID string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, pipeline Pipeline, onion, workerID string) (bool, error)
	ExtendLock(ctx context.Context, pipeline Pipeline, onion, workerID string, ttl time.Duration) (bool, error)
	AcquireAndMarkCrawling(ctx context.Context, onion, workerID string, ttl time.Duration) (bool, error)
	ReleaseAndMarkCompleted(ctx context.Context, onion, workerID string) error
	ClearAllLocks(ctx context.Context) error

	// Scanner/dirscanner results

	UpsertPortObservation(ctx context.Context, obs PortObservation) error
	AppendDetectedServices(ctx context.Context, services []DetectedService) error
	UpsertDirObservation(ctx context.Context, obs DirObservation) error

	// Scheduler support. TargetSnapshot and SourceDomainFor both read through
	// edges/documents/targets directly rather than any column cached on the
	// queue row itself, so the scheduler's tiering never drifts from the
	// document graph's actual state.

	EligibleCrawlCandidates(ctx context.Context, limit int) ([]QueueItem, error)
	SourceReliability(ctx context.Context, domain string) (float64, bool)
	TargetSnapshot(ctx context.Context, onion string) (Target, bool, error)
	SourceDomainFor(ctx context.Context, onion string) (string, bool, error)

	Close()
}
