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
	"log/slog"
	"time"

	"asherah/internal/config"
	"asherah/internal/lock"
	"asherah/internal/metrics"
	"asherah/internal/scheduler"
	"asherah/internal/store"
	"asherah/internal/transport"
	"asherah/pkg/onion"
)

const dirscanBatchSize = 1
const dirscanBatchDelay = 3 * time.Second
const defaultDirscanPathDelay = 1 * time.Second
const baselineSnippetMax = 512

// DirscanWorker brute-forces a fixed path list against a hidden service,
// using a baseline probe against a path that provably does not exist to
// detect custom soft-404 pages before classifying each real probe.
type DirscanWorker struct {
	Store     store.Store
	Scheduler *scheduler.DirscanScheduler
	Fetcher   *transport.HTTPFetcher
	Locker    lock.Locker
	Profile   config.DirscanProfile
	PathDelay time.Duration
	WorkerID  string
	Logger    *slog.Logger
}

func (w *DirscanWorker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// Run dequeues one dirscan target at a time until ctx is cancelled.
func (w *DirscanWorker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		batch, err := w.Scheduler.Next(ctx, w.WorkerID, dirscanBatchSize)
		if err != nil {
			w.logger().Error("dirscan scheduler fetch failed", "err", err)
			if !sleepCtx(ctx, dirscanBatchDelay*2) {
				return nil
			}
			continue
		}
		for _, item := range batch {
			w.processItem(ctx, item)
			if !sleepCtx(ctx, itemJitter()) {
				return nil
			}
		}
		if !sleepCtx(ctx, dirscanBatchDelay) {
			return nil
		}
	}
}

func (w *DirscanWorker) processItem(ctx context.Context, item store.QueueItem) {
	acquired, err := w.Locker.Acquire(ctx, store.PipelineDirscan, item.Onion, w.WorkerID)
	if err != nil {
		w.logger().Error("acquire dirscan lock failed", "onion", item.Onion, "err", err)
		return
	}
	if !acquired {
		metrics.MarkLockContention("dirscan")
		if err := w.Store.MarkFailed(ctx, store.PipelineDirscan, item.Key, w.WorkerID, "lock held"); err != nil {
			w.logger().Warn("return contended dirscan row to pending failed", "onion", item.Onion, "err", err)
		}
		return
	}
	defer func() {
		if _, err := w.Locker.Release(ctx, store.PipelineDirscan, item.Onion, w.WorkerID); err != nil {
			w.logger().Warn("release dirscan lock", "onion", item.Onion, "err", err)
		}
	}()

	pathDelay := w.PathDelay
	if pathDelay <= 0 {
		pathDelay = defaultDirscanPathDelay
	}

	base := fmt.Sprintf("http://%s", item.Onion)
	start := time.Now()

	baseline := w.probeBaseline(ctx, base)

	paths := PathsForProfile(w.Profile)
	for i, path := range paths {
		if i > 0 {
			if !sleepCtx(ctx, pathDelay) {
				break
			}
		}
		w.probePath(ctx, item.Onion, base, path, baseline)
	}
	metrics.ObserveFetchDuration("dirscan", time.Since(start))

	if err := w.Store.MarkCompleted(ctx, store.PipelineDirscan, item.Key, w.WorkerID); err != nil {
		w.logger().Warn("mark dirscan completed", "onion", item.Onion, "err", err)
	}
	metrics.MarkCompleted("dirscan")
}

// probeBaseline fetches a random, provably nonexistent path so soft-404
// pages can be told apart from genuinely interesting responses.
func (w *DirscanWorker) probeBaseline(ctx context.Context, base string) *onion.Baseline {
	url := base + "/" + randomPath(time.Now())
	result, err := w.Fetcher.Fetch(ctx, url, transport.FetchOptions{})
	if err != nil {
		w.logger().Warn("baseline probe failed", "url", url, "err", err)
		return nil
	}
	body := string(result.Body)
	snippet := body
	if len(snippet) > baselineSnippetMax {
		snippet = snippet[:baselineSnippetMax]
	}
	return &onion.Baseline{Status: result.Status, Length: len(result.Body), Snippet: snippet}
}

func (w *DirscanWorker) probePath(ctx context.Context, onionAddr, base, path string, baseline *onion.Baseline) {
	url := base + "/" + path
	result, err := w.Fetcher.Fetch(ctx, url, transport.FetchOptions{})
	if err != nil {
		w.logger().Warn("dirscan path probe failed", "url", url, "err", err)
		return
	}

	body := string(result.Body)
	probe := onion.ProbeResult{
		Path:         path,
		Status:       result.Status,
		Length:       len(result.Body),
		ContentType:  result.ContentType,
		ResponseTime: result.Elapsed,
		ServerHeader: result.Header.Get("Server"),
		RedirectURL:  result.Header.Get("Location"),
		Body:         body,
	}
	verdict := onion.ClassifyResponse(baseline, probe)

	snippet := body
	if len(snippet) > baselineSnippetMax {
		snippet = snippet[:baselineSnippetMax]
	}

	obs := store.DirObservation{
		Onion:            onionAddr,
		Path:             path,
		Status:           result.Status,
		ContentLength:    len(result.Body),
		ContentType:      result.ContentType,
		ResponseTime:     result.Elapsed,
		ServerHeader:     probe.ServerHeader,
		RedirectURL:      probe.RedirectURL,
		BodySnippet:      snippet,
		Interesting:      verdict.Interesting,
		InterestCategory: string(verdict.Category),
		ObservedAt:       time.Now(),
	}
	if err := w.Store.UpsertDirObservation(ctx, obs); err != nil {
		w.logger().Error("upsert dir observation", "onion", onionAddr, "path", path, "err", err)
	}
}
