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
	"log/slog"
	"sync"
	"time"
)

const (
	bufferedFlushInterval = 2 * time.Second
	bufferedFlushSize     = 50
)

// CrawlLogSink persists crawl-log entries. PostgresStore satisfies a wider
// interface than this; BufferedWriter only needs these two operations.
type CrawlLogSink interface {
	AppendCrawlLog(ctx context.Context, entries []CrawlLogEntry) error
}

// ScanEnqueuer accepts buffered scan-queue enqueue requests.
type ScanEnqueuer interface {
	Enqueue(ctx context.Context, item QueueItem) error
}

// BufferedWriter is an actor — a single goroutine owning two append-only
// channels — that batches crawl-log entries and scan-queue enqueues and
// flushes on a ticker or at a size threshold, reinjecting a failed flush's
// entries at the front of its next batch, shaped after vsa's
// Worker.commitLoop ticker+batch pattern.
type BufferedWriter struct {
	logSink  CrawlLogSink
	enqueuer ScanEnqueuer
	logger   *slog.Logger

	logCh     chan CrawlLogEntry
	enqueueCh chan ScanEnqueueRequest

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewBufferedWriter starts no goroutine; call Start to launch the actor.
func NewBufferedWriter(logSink CrawlLogSink, enqueuer ScanEnqueuer, logger *slog.Logger) *BufferedWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &BufferedWriter{
		logSink:   logSink,
		enqueuer:  enqueuer,
		logger:    logger,
		logCh:     make(chan CrawlLogEntry, 512),
		enqueueCh: make(chan ScanEnqueueRequest, 512),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// LogCrawl enqueues a crawl-log entry for the next flush. Non-blocking
// unless the channel is saturated, in which case it applies backpressure.
func (w *BufferedWriter) LogCrawl(entry CrawlLogEntry) {
	w.logCh <- entry
}

// EnqueueScan enqueues a discovered onion for the next scan-queue flush.
func (w *BufferedWriter) EnqueueScan(req ScanEnqueueRequest) {
	w.enqueueCh <- req
}

// Start launches the actor goroutine.
func (w *BufferedWriter) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the actor through its stop channel and blocks until it drains
// whatever is already queued and performs a final flush, mirroring vsa's Worker.Stop stopChan+WaitGroup
// shutdown shape.
func (w *BufferedWriter) Stop() {
	w.once.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

func (w *BufferedWriter) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(bufferedFlushInterval)
	defer ticker.Stop()

	var logBuf []CrawlLogEntry
	var enqueueBuf []ScanEnqueueRequest

	flush := func() {
		if len(logBuf) > 0 {
			if err := w.logSink.AppendCrawlLog(ctx, logBuf); err != nil {
				w.logger.Error("crawl log flush failed, reinjecting", "err", err, "count", len(logBuf))
				// Leave logBuf untouched: failed entries stay at the front
				// of the next flush attempt.
			} else {
				logBuf = logBuf[:0]
			}
		}
		if len(enqueueBuf) > 0 {
			failed := enqueueBuf[:0:0]
			for _, req := range enqueueBuf {
				if err := w.enqueuer.Enqueue(ctx, QueueItem{Pipeline: PipelineScan, Key: req.Onion, Onion: req.Onion, Priority: req.Priority, Profile: req.Profile}); err != nil {
					w.logger.Error("scan enqueue flush failed, reinjecting", "err", err, "onion", req.Onion)
					failed = append(failed, req)
				}
			}
			enqueueBuf = failed
		}
	}

	for {
		select {
		case e := <-w.logCh:
			logBuf = append(logBuf, e)
			if len(logBuf) >= bufferedFlushSize {
				flush()
			}
		case r := <-w.enqueueCh:
			enqueueBuf = append(enqueueBuf, r)
			if len(enqueueBuf) >= bufferedFlushSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.stopCh:
			// Drain whatever is already queued without blocking forever.
			drain:
			for {
				select {
				case e := <-w.logCh:
					logBuf = append(logBuf, e)
				case r := <-w.enqueueCh:
					enqueueBuf = append(enqueueBuf, r)
				default:
					break drain
				}
			}
			flush()
			return
		case <-ctx.Done():
			flush()
			return
		}
	}
}
