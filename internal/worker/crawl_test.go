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

package worker

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"asherah/internal/scheduler"
	"asherah/internal/store"
	"asherah/internal/transport"
)

const testOnion = "testexampleaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.onion"

func newTestCrawlWorker(t *testing.T, s *store.FakeStore, srv *httptest.Server) (*CrawlWorker, *store.BufferedWriter) {
	t.Helper()
	fetcher := transport.NewDirectHTTPFetcher(srv.Listener.Addr().String())
	bw := store.NewBufferedWriter(s, s, nil)
	bw.Start(context.Background())
	t.Cleanup(bw.Stop)
	return &CrawlWorker{
		Store:          s,
		Scheduler:      scheduler.NewCrawlScheduler(s),
		Fetcher:        fetcher,
		BufferedWriter: bw,
		MaxContentSize: 1 << 20,
		RequestTimeout: 5 * time.Second,
	}, bw
}

// TestCrawlWorker_ErrorPageLinksStillExtracted covers a 404 response whose
// body still carries an anchor: the document persists at status 404 and the
// linked target is enqueued into both the crawl queue (at the error-page
// link priority 150)
// and, via the buffered writer, the scan queue.
func TestCrawlWorker_ErrorPageLinksStillExtracted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `<html><body><a href="/secret-page">hidden</a></body></html>`)
	}))
	defer srv.Close()

	s := store.NewFakeStore()
	defer s.Close()

	w, bw := newTestCrawlWorker(t, s, srv)
	item := store.QueueItem{Pipeline: store.PipelineCrawl, Key: "http://" + testOnion + "/missing", Onion: testOnion, Status: store.StatusPending}
	w.processItem(context.Background(), item)

	target, found := s.Target(testOnion)
	if !found {
		t.Fatalf("target %s not created", testOnion)
	}
	if target.CrawlCount != 1 {
		t.Errorf("CrawlCount = %d, want 1", target.CrawlCount)
	}

	crawlQueue := s.Dump(store.PipelineCrawl)
	var foundLink bool
	for _, qi := range crawlQueue {
		if qi.Key == "http://"+testOnion+"/secret-page" {
			foundLink = true
			// /secret-page is not a root path, so no base-domain boost applies.
			if qi.Priority != 150 {
				t.Errorf("linked crawl priority = %d, want %d", qi.Priority, 150)
			}
		}
	}
	if !foundLink {
		t.Fatalf("discovered link was not enqueued into the crawl queue: %+v", crawlQueue)
	}

	bw.Stop()
	scanQueue := s.Dump(store.PipelineScan)
	if len(scanQueue) != 1 || scanQueue[0].Onion != testOnion {
		t.Fatalf("expected %s enqueued into scan queue, got %+v", testOnion, scanQueue)
	}
}

// TestCrawlWorker_DomainWideFailure covers three queued URLs for one target
// where the first fetch fails with a connection-refused transport error:
// all three should transition to failed and the target should go inactive.
func TestCrawlWorker_DomainWideFailure(t *testing.T) {
	s := store.NewFakeStore()
	defer s.Close()

	// No listener on this port: every dial is refused.
	unreachable := "127.0.0.1:1"
	fetcher := transport.NewDirectHTTPFetcher(unreachable)
	bw := store.NewBufferedWriter(s, s, nil)
	bw.Start(context.Background())
	defer bw.Stop()

	w := &CrawlWorker{
		Store:          s,
		Scheduler:      scheduler.NewCrawlScheduler(s),
		Fetcher:        fetcher,
		BufferedWriter: bw,
		MaxContentSize: 1 << 20,
		// Long enough to outlast the fetcher's built-in retries (2 retries
		// at crawlRetryDelay*attempt backoff) so the final returned error is
		// the classified connection-refused failure, not a context timeout.
		RequestTimeout: 15 * time.Second,
	}

	onion := "deadexampleaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa.onion"
	if err := s.UpsertTarget(context.Background(), onion); err != nil {
		t.Fatalf("seed target: %v", err)
	}
	urls := []string{
		"http://" + onion + "/a",
		"http://" + onion + "/b",
		"http://" + onion + "/c",
	}
	for _, u := range urls {
		if err := s.Enqueue(context.Background(), store.QueueItem{Pipeline: store.PipelineCrawl, Key: u, Onion: onion, Status: store.StatusPending}); err != nil {
			t.Fatalf("seed enqueue: %v", err)
		}
	}

	batch, err := s.DequeueWithLease(context.Background(), store.PipelineCrawl, "w1", 3)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(batch) != 3 {
		t.Fatalf("dequeued %d items, want 3", len(batch))
	}

	w.processItem(context.Background(), batch[0])

	for _, item := range s.Dump(store.PipelineCrawl) {
		if item.Onion != onion {
			continue
		}
		if item.Status != store.StatusFailed {
			t.Errorf("item %s status = %s, want failed", item.Key, item.Status)
		}
	}

	target, found := s.Target(onion)
	if !found {
		t.Fatalf("target %s not found", onion)
	}
	if target.Active {
		t.Errorf("target Active = true, want false after domain-wide failure")
	}
}
