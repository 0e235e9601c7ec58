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

// Package worker implements the three pipeline workers (crawler, scanner,
// dirscanner). Each is a struct holding its Store, Locker, scheduler,
// transport, and metrics handle, run N-wide by the orchestrator's
// errgroup.Group. Every worker's Run loop shares the same shape: dequeue a
// batch, process each item serially (acquire-lock, process, persist,
// release-lock, settle), sleep a randomized 500-1500ms between items, and
// sleep an outer pipeline-specific delay between batches, doubling that
// delay after a batch-fetch error — shaped after vsa's Worker.commitLoop
// ticker+stopChan pattern, generalized to N goroutines driven by ctx
// cancellation rather than a shared stop channel.
package worker

import (
	"context"
	"math/rand"
	"strconv"
	"time"
)

// itemJitter returns a random 500-1500ms delay applied between items within
// a batch, so a fleet of workers doesn't hammer the relay in lockstep.
func itemJitter() time.Duration {
	return time.Duration(500+rand.Intn(1000)) * time.Millisecond
}

// sleepCtx sleeps for d or returns early if ctx is done, reporting which
// happened.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

const randomPathAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomPath generates a 16-character random path segment suffixed with a
// nanosecond timestamp, used by the dirscanner's baseline probe against a
// path that provably does not exist.
func randomPath(now time.Time) string {
	b := make([]byte, 16)
	for i := range b {
		b[i] = randomPathAlphabet[rand.Intn(len(randomPathAlphabet))]
	}
	return string(b) + "-definitely-not-a-real-path-" + strconv.FormatInt(now.UnixNano(), 10)
}
