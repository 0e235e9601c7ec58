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
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"asherah/internal/lock"
	"asherah/internal/metrics"
	"asherah/internal/scheduler"
	"asherah/internal/store"
	"asherah/internal/transport"
	"asherah/pkg/onion"
)

const crawlBatchSize = 3
const crawlRetries = 2
const crawlRetryDelay = 3 * time.Second
const crawlBatchDelay = 2 * time.Second

// CrawlWorker fetches queued URLs through Tor, extracts links and metadata,
// and feeds the document graph and sibling queues.
type CrawlWorker struct {
	Store          store.Store
	Scheduler      *scheduler.CrawlScheduler
	Fetcher        *transport.HTTPFetcher
	BufferedWriter *store.BufferedWriter
	MaxContentSize int64
	RequestTimeout time.Duration
	CrawlDelay     time.Duration
	WorkerID       string
	Logger         *slog.Logger
}

func (w *CrawlWorker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// Run dequeues batches of crawlBatchSize until ctx is cancelled. Items in a
// batch are spaced by the random jitter, never less than CrawlDelay.
// Batch-fetch errors double the outer delay for that iteration; per-item
// failures never abort the batch.
func (w *CrawlWorker) Run(ctx context.Context) error {
	delay := w.CrawlDelay
	if delay <= 0 {
		delay = crawlBatchDelay
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		batch, err := w.Scheduler.Next(ctx, w.WorkerID, crawlBatchSize)
		if err != nil {
			w.logger().Error("crawl scheduler fetch failed", "err", err)
			if !sleepCtx(ctx, delay*2) {
				return nil
			}
			continue
		}
		for _, item := range batch {
			w.processItem(ctx, item)
			gap := itemJitter()
			if gap < w.CrawlDelay {
				gap = w.CrawlDelay
			}
			if !sleepCtx(ctx, gap) {
				return nil
			}
		}
		if !sleepCtx(ctx, delay) {
			return nil
		}
	}
}

func (w *CrawlWorker) processItem(ctx context.Context, item store.QueueItem) {
	acquired, err := w.Store.AcquireAndMarkCrawling(ctx, item.Onion, w.WorkerID, lock.CrawlTTL)
	if err != nil {
		w.logger().Error("acquire-and-mark-crawling failed", "onion", item.Onion, "err", err)
		return
	}
	if !acquired {
		metrics.MarkLockContention("crawl")
		if err := w.Store.MarkFailed(ctx, store.PipelineCrawl, item.Key, w.WorkerID, "lock held"); err != nil {
			w.logger().Warn("return contended row to pending failed", "url", item.Key, "err", err)
		}
		return
	}

	start := time.Now()
	result, fetchErr := w.Fetcher.Fetch(ctx, item.Key, transport.FetchOptions{
		MaxBytes:       w.MaxContentSize,
		Retries:        crawlRetries,
		RetryDelay:     crawlRetryDelay,
		OverallTimeout: w.RequestTimeout,
	})
	metrics.ObserveFetchDuration("crawl", time.Since(start))

	if fetchErr != nil {
		w.BufferedWriter.LogCrawl(store.CrawlLogEntry{URL: item.Key, Onion: item.Onion, Err: fetchErr.Error(), Timestamp: time.Now()})
		var te *transport.TransportError
		if errors.As(fetchErr, &te) && te.IsDomainFailure() {
			if err := w.Store.MarkDomainFailed(ctx, item.Onion); err != nil {
				w.logger().Error("mark domain failed", "onion", item.Onion, "err", err)
			}
			metrics.MarkFailed("crawl")
			if _, err := w.Store.ReleaseLock(ctx, store.PipelineCrawl, item.Onion, w.WorkerID); err != nil {
				w.logger().Warn("release lock after domain failure", "onion", item.Onion, "err", err)
			}
			return
		}
		if err := w.Store.MarkFailed(ctx, store.PipelineCrawl, item.Key, w.WorkerID, fetchErr.Error()); err != nil {
			w.logger().Warn("mark transient failure", "url", item.Key, "err", err)
		}
		metrics.MarkFailed("crawl")
		if _, err := w.Store.ReleaseLock(ctx, store.PipelineCrawl, item.Onion, w.WorkerID); err != nil {
			w.logger().Warn("release lock after transient failure", "onion", item.Onion, "err", err)
		}
		return
	}

	w.persist(ctx, item, result)

	if err := w.Store.MarkCompleted(ctx, store.PipelineCrawl, item.Key, w.WorkerID); err != nil {
		w.logger().Warn("mark completed", "url", item.Key, "err", err)
	}
	if err := w.Store.ReleaseAndMarkCompleted(ctx, item.Onion, w.WorkerID); err != nil {
		w.logger().Warn("release-and-mark-completed", "onion", item.Onion, "err", err)
	}
	w.BufferedWriter.LogCrawl(store.CrawlLogEntry{URL: item.Key, Onion: item.Onion, Status: result.Status, Timestamp: time.Now()})
	metrics.MarkCompleted("crawl")
}

func (w *CrawlWorker) persist(ctx context.Context, item store.QueueItem, result *transport.FetchResult) {
	base, err := url.Parse(item.Key)
	if err != nil {
		w.logger().Warn("parse fetched URL", "url", item.Key, "err", err)
		return
	}

	isHTML := strings.Contains(strings.ToLower(result.ContentType), "html")
	isErrorPage := result.Status >= 400

	doc := store.Document{
		URL:         item.Key,
		Onion:       item.Onion,
		Path:        base.Path,
		Status:      result.Status,
		ContentSize: len(result.Body),
	}

	var edges []store.Edge
	var discoveredOnions []string

	if isHTML {
		gqDoc, parseErr := goquery.NewDocumentFromReader(bytes.NewReader(result.Body))
		if parseErr != nil {
			w.logger().Warn("parse HTML", "url", item.Key, "err", parseErr)
			doc.Title = fmt.Sprintf("[%d] %s", result.Status, result.ContentType)
		} else {
			meta := onion.ExtractMetadata(gqDoc)
			title := meta.Title
			if isErrorPage {
				title = fmt.Sprintf("[%d] %s", result.Status, title)
			}
			doc.Title = title
			doc.Description = meta.Description
			doc.Lang = meta.Lang
			doc.TextBody = meta.Text
			doc.HTMLBody = string(result.Body)

			linkPriority := 100
			if isErrorPage {
				linkPriority = 150
			}
			for _, e := range onion.ExtractLinks(gqDoc, base, item.Onion) {
				if e.Classification == onion.ClassificationExternal {
					continue
				}
				edges = append(edges, store.Edge{
					SourceURL:      item.Key,
					TargetURL:      e.TargetURL,
					TargetOnion:    e.TargetOnion,
					AnchorText:     e.AnchorText,
					Classification: classificationToStore(e.Classification),
					SourceKind:     string(e.SourceKind),
					Ordinal:        e.Ordinal,
				})
				priority := scheduler.EnqueuePriority(linkPriority, pathOf(e.TargetURL))
				if err := w.Store.Enqueue(ctx, store.QueueItem{
					Pipeline: store.PipelineCrawl,
					Key:      e.TargetURL,
					Onion:    e.TargetOnion,
					Priority: priority,
					Status:   store.StatusPending,
				}); err != nil {
					w.logger().Warn("enqueue discovered link", "url", e.TargetURL, "err", err)
				}
				if e.TargetOnion != "" {
					discoveredOnions = append(discoveredOnions, e.TargetOnion)
				}
			}

			for _, mentioned := range onion.ExtractAllOnions(meta.Text) {
				if mentioned == item.Onion {
					continue
				}
				rootURL := "http://" + mentioned + "/"
				if err := w.Store.Enqueue(ctx, store.QueueItem{
					Pipeline: store.PipelineCrawl,
					Key:      rootURL,
					Onion:    mentioned,
					Priority: 50,
					Status:   store.StatusPending,
				}); err != nil {
					w.logger().Warn("enqueue text-mentioned onion", "onion", mentioned, "err", err)
				}
				discoveredOnions = append(discoveredOnions, mentioned)
			}
		}
	} else {
		doc.Title = fmt.Sprintf("[%d] %s", result.Status, result.ContentType)
	}

	if err := w.Store.UpsertTarget(ctx, item.Onion); err != nil {
		w.logger().Error("upsert target", "onion", item.Onion, "err", err)
	}
	if err := w.Store.UpsertDocument(ctx, doc); err != nil {
		w.logger().Error("upsert document", "url", item.Key, "err", err)
	}
	if len(edges) > 0 {
		if err := w.Store.AppendEdges(ctx, edges); err != nil {
			w.logger().Error("append edges", "url", item.Key, "err", err)
		}
	}
	if headers := headerRecords(item.Key, result.Header); len(headers) > 0 {
		if err := w.Store.AppendHeaders(ctx, headers); err != nil {
			w.logger().Error("append headers", "url", item.Key, "err", err)
		}
	}

	for _, onionAddr := range dedupeStrings(discoveredOnions) {
		w.BufferedWriter.EnqueueScan(store.ScanEnqueueRequest{Onion: onionAddr, Priority: 100})
	}
}

func classificationToStore(c onion.Classification) store.LinkClassification {
	switch c {
	case onion.ClassificationInternal:
		return store.LinkInternal
	case onion.ClassificationOnion:
		return store.LinkOnion
	default:
		return store.LinkExternal
	}
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}

func headerRecords(docURL string, h map[string][]string) []store.HeaderRecord {
	if len(h) == 0 {
		return nil
	}
	out := make([]store.HeaderRecord, 0, len(h))
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values := h[name]
		if len(values) == 0 {
			continue
		}
		out = append(out, store.HeaderRecord{DocumentURL: docURL, Name: strings.ToLower(name), Value: values[0]})
	}
	return out
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
