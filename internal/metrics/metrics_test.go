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

package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMarkCompletedAndFailed(t *testing.T) {
	before := testutil.ToFloat64(ItemsCompletedTotal.WithLabelValues("crawl-test"))
	MarkCompleted("crawl-test")
	after := testutil.ToFloat64(ItemsCompletedTotal.WithLabelValues("crawl-test"))
	if after-before != 1 {
		t.Fatalf("ItemsCompletedTotal delta = %v, want 1", after-before)
	}

	beforeFailed := testutil.ToFloat64(ItemsFailedTotal.WithLabelValues("crawl-test"))
	MarkFailed("crawl-test")
	afterFailed := testutil.ToFloat64(ItemsFailedTotal.WithLabelValues("crawl-test"))
	if afterFailed-beforeFailed != 1 {
		t.Fatalf("ItemsFailedTotal delta = %v, want 1", afterFailed-beforeFailed)
	}
}

func TestMarkLockContention(t *testing.T) {
	before := testutil.ToFloat64(LockContentionTotal.WithLabelValues("scan-test"))
	MarkLockContention("scan-test")
	after := testutil.ToFloat64(LockContentionTotal.WithLabelValues("scan-test"))
	if after-before != 1 {
		t.Fatalf("LockContentionTotal delta = %v, want 1", after-before)
	}
}

func TestSetQueueDepthAndActiveWorkers(t *testing.T) {
	SetQueueDepth("dirscan-test", 42)
	if got := testutil.ToFloat64(QueueDepth.WithLabelValues("dirscan-test")); got != 42 {
		t.Fatalf("QueueDepth = %v, want 42", got)
	}

	SetActiveWorkers("dirscan-test", 3)
	if got := testutil.ToFloat64(ActiveWorkers.WithLabelValues("dirscan-test")); got != 3 {
		t.Fatalf("ActiveWorkers = %v, want 3", got)
	}
}

func TestObserveFetchDuration(t *testing.T) {
	// Observing should not panic and should land in some bucket.
	ObserveFetchDuration("crawl-hist-test", 1500*time.Millisecond)
}

func TestPollQueueDepth_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan string, 8)
	done := make(chan struct{})

	go func() {
		PollQueueDepth(ctx, 5*time.Millisecond, []string{"crawl-poll-test"}, func(ctx context.Context, pipeline string) (int, error) {
			select {
			case calls <- pipeline:
			default:
			}
			return 1, nil
		})
		close(done)
	}()

	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("depthFn was never called")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("PollQueueDepth did not return after context cancellation")
	}
}
