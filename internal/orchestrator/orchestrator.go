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

// Package orchestrator wires configuration, store, locks, and transport into
// a running fleet of pipeline workers, and owns their startup and graceful
// shutdown sequence: clear stale locks, optionally seed the queues, spawn N
// workers per pipeline, poll stats, and on signal drain everything down in
// the order that keeps data durable.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"asherah/internal/config"
	"asherah/internal/lock"
	"asherah/internal/metrics"
	"asherah/internal/scheduler"
	"asherah/internal/store"
	"asherah/internal/transport"
	"asherah/internal/worker"
	"asherah/pkg/onion"
)

// Supervisor owns every shared dependency the three pipelines need and
// drives their worker fleets, mirroring the way cmd/ratelimiter-api/main.go
// builds its Store/Persister/Worker/api.Server once and then only starts
// and stops them.
type Supervisor struct {
	Config  config.Config
	Store   store.Store
	Locker  lock.Locker
	Dialer  *transport.Dialer
	Fetcher *transport.HTTPFetcher
	Writer  *store.BufferedWriter
	Logger  *slog.Logger
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// New builds a Supervisor from cfg, constructing the BufferedWriter but not
// starting it; call Run to start everything.
func New(cfg config.Config, st store.Store, locker lock.Locker, dialer *transport.Dialer, fetcher *transport.HTTPFetcher, logger *slog.Logger) *Supervisor {
	writer := store.NewBufferedWriter(st, st, logger)
	return &Supervisor{
		Config:  cfg,
		Store:   st,
		Locker:  locker,
		Dialer:  dialer,
		Fetcher: fetcher,
		Writer:  writer,
		Logger:  logger,
	}
}

// Run clears stale locks, optionally seeds the queues, starts the requested
// pipelines' worker fleets plus the stats poller, and blocks until ctx is
// cancelled. On return every worker goroutine has exited and the buffered
// writer has performed its final flush; the caller still owns closing the
// Store itself.
func (s *Supervisor) Run(ctx context.Context, pipelines []store.Pipeline) error {
	if err := s.Locker.ClearAll(ctx); err != nil {
		return fmt.Errorf("orchestrator: clear stale locks: %w", err)
	}

	if len(s.Config.Seeds) > 0 {
		if err := s.seed(ctx); err != nil {
			s.logger().Error("seed queues failed", "err", err)
		}
	}

	s.Writer.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	active := make(map[string]int)
	for _, p := range pipelines {
		n := s.workerCount(p)
		active[string(p)] = n
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("%s-%s", p, uuid.NewString())
			s.spawn(g, gctx, p, id)
		}
	}

	statsCtx, stopStats := context.WithCancel(gctx)
	defer stopStats()
	go s.pollStats(statsCtx, pipelines, active)

	err := g.Wait()
	stopStats()
	s.Writer.Stop()
	if err != nil {
		return fmt.Errorf("orchestrator: worker fleet: %w", err)
	}
	return nil
}

// workerCount resolves the configured fleet size for a pipeline, falling
// back to 1 for an unconfigured value so a misconfigured zero never silently
// runs no workers at all.
func (s *Supervisor) workerCount(p store.Pipeline) int {
	var n int
	switch p {
	case store.PipelineCrawl:
		n = s.Config.WorkerCount
	case store.PipelineScan:
		n = s.Config.ScannerWorkers
	default:
		n = s.Config.DirscanWorkers
	}
	if n <= 0 {
		return 1
	}
	return n
}

func (s *Supervisor) spawn(g *errgroup.Group, ctx context.Context, p store.Pipeline, workerID string) {
	switch p {
	case store.PipelineCrawl:
		w := &worker.CrawlWorker{
			Store:          s.Store,
			Scheduler:      scheduler.NewCrawlScheduler(s.Store),
			Fetcher:        s.Fetcher,
			BufferedWriter: s.Writer,
			MaxContentSize: s.Config.MaxContentSize,
			RequestTimeout: s.Config.RequestTimeout,
			CrawlDelay:     s.Config.CrawlDelay,
			WorkerID:       workerID,
			Logger:         s.logger().With("pipeline", "crawl", "worker", workerID),
		}
		g.Go(func() error { return w.Run(ctx) })
	case store.PipelineScan:
		w := &worker.ScanWorker{
			Store:         s.Store,
			Scheduler:     scheduler.NewScanScheduler(s.Store),
			Dialer:        s.Dialer,
			Locker:        s.Locker,
			Profile:       s.Config.ScannerProfile,
			MaxConcurrent: s.Config.ScannerMaxConcurrent,
			ProbeDelay:    s.Config.ScannerProbeDelay,
			Timeout:       s.Config.ScannerTimeout,
			WorkerID:      workerID,
			Logger:        s.logger().With("pipeline", "scan", "worker", workerID),
		}
		g.Go(func() error { return w.Run(ctx) })
	default:
		w := &worker.DirscanWorker{
			Store:     s.Store,
			Scheduler: scheduler.NewDirscanScheduler(s.Store),
			Fetcher:   s.Fetcher,
			Locker:    s.Locker,
			Profile:   s.Config.DirscanProfile,
			PathDelay: s.Config.DirscanPathDelay,
			WorkerID:  workerID,
			Logger:    s.logger().With("pipeline", "dirscan", "worker", workerID),
		}
		g.Go(func() error { return w.Run(ctx) })
	}
}

// pollStats keeps the active-worker gauges current and drives
// metrics.PollQueueDepth on StatsInterval, the same periodic-reporting role
// cmd/ratelimiter-api/main.go's persister.PrintFinalMetrics plays at
// shutdown, generalized here to a running ticker rather than a one-shot
// summary, with a log line alongside each gauge update.
func (s *Supervisor) pollStats(ctx context.Context, pipelines []store.Pipeline, active map[string]int) {
	interval := s.Config.StatsInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	names := make([]string, len(pipelines))
	for i, p := range pipelines {
		names[i] = string(p)
		metrics.SetActiveWorkers(string(p), active[string(p)])
	}

	depthFn := func(ctx context.Context, pipeline string) (int, error) {
		depth, err := s.Store.QueueDepth(ctx, store.Pipeline(pipeline))
		if err != nil {
			s.logger().Warn("queue depth poll failed", "pipeline", pipeline, "err", err)
			return 0, err
		}
		s.logger().Info("pipeline stats", "pipeline", pipeline, "queue_depth", depth, "workers", active[pipeline])
		return depth, nil
	}

	metrics.PollQueueDepth(ctx, interval, names, depthFn)
}

// seed enqueues each configured seed onto the crawl queue at the highest
// priority. A seed may be a bare onion address or a full URL; either way the
// onion address is extracted so the target row and the scan-queue fan-out
// downstream stay consistent.
func (s *Supervisor) seed(ctx context.Context) error {
	for _, raw := range s.Config.Seeds {
		seed := strings.TrimSpace(raw)
		if seed == "" {
			continue
		}
		host, ok := onion.ExtractOnion(seed)
		if !ok {
			s.logger().Warn("seed does not contain a valid onion address, skipping", "seed", seed)
			continue
		}
		url := seed
		if !strings.Contains(seed, "://") {
			url = "http://" + host + "/"
		}
		if err := s.Store.UpsertTarget(ctx, host); err != nil {
			return fmt.Errorf("orchestrator: seed upsert target %s: %w", host, err)
		}
		if err := s.Store.Enqueue(ctx, store.QueueItem{
			Pipeline: store.PipelineCrawl,
			Key:      url,
			Onion:    host,
			Priority: 0,
			Status:   store.StatusPending,
		}); err != nil {
			return fmt.Errorf("orchestrator: seed enqueue %s: %w", host, err)
		}
		s.Writer.EnqueueScan(store.ScanEnqueueRequest{Onion: host, Priority: 50})
	}
	return nil
}
