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
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"asherah/internal/config"
	"asherah/internal/lock"
	"asherah/internal/metrics"
	"asherah/internal/scheduler"
	"asherah/internal/store"
	"asherah/internal/transport"
	"asherah/pkg/onion"
)

const scanBatchSize = 1
const scanBatchDelay = 3 * time.Second
const defaultScanMaxConcurrent = 5
const defaultScanProbeDelay = 200 * time.Millisecond

// ScanWorker probes a fixed port list against a hidden service and records
// per-port state plus any service signature matches.
type ScanWorker struct {
	Store         store.Store
	Scheduler     *scheduler.ScanScheduler
	Dialer        *transport.Dialer
	Locker        lock.Locker
	Profile       config.ScannerProfile
	MaxConcurrent int
	ProbeDelay    time.Duration
	Timeout       time.Duration
	WorkerID      string
	Logger        *slog.Logger
}

func (w *ScanWorker) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// Run dequeues one scan target at a time until ctx is cancelled.
func (w *ScanWorker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		batch, err := w.Scheduler.Next(ctx, w.WorkerID, scanBatchSize)
		if err != nil {
			w.logger().Error("scan scheduler fetch failed", "err", err)
			if !sleepCtx(ctx, scanBatchDelay*2) {
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
		if !sleepCtx(ctx, scanBatchDelay) {
			return nil
		}
	}
}

func (w *ScanWorker) processItem(ctx context.Context, item store.QueueItem) {
	acquired, err := w.Locker.Acquire(ctx, store.PipelineScan, item.Onion, w.WorkerID)
	if err != nil {
		w.logger().Error("acquire scan lock failed", "onion", item.Onion, "err", err)
		return
	}
	if !acquired {
		metrics.MarkLockContention("scan")
		if err := w.Store.MarkFailed(ctx, store.PipelineScan, item.Key, w.WorkerID, "lock held"); err != nil {
			w.logger().Warn("return contended scan row to pending failed", "onion", item.Onion, "err", err)
		}
		return
	}
	defer func() {
		if _, err := w.Locker.Release(ctx, store.PipelineScan, item.Onion, w.WorkerID); err != nil {
			w.logger().Warn("release scan lock", "onion", item.Onion, "err", err)
		}
	}()

	ports := item.Ports
	if len(ports) == 0 {
		profile := w.Profile
		if item.Profile != "" {
			profile = config.ScannerProfile(item.Profile)
		}
		ports = PortsForProfile(profile)
	}

	maxConcurrent := w.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultScanMaxConcurrent
	}
	probeDelay := w.ProbeDelay
	if probeDelay <= 0 {
		probeDelay = defaultScanProbeDelay
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	var mu sync.Mutex
	var services []store.DetectedService

	for i, port := range ports {
		if i > 0 {
			if !sleepCtx(ctx, probeDelay) {
				break
			}
		}
		port := port
		g.Go(func() error {
			obs, det, ok := w.probePort(gctx, item.Onion, port)
			if err := w.Store.UpsertPortObservation(gctx, obs); err != nil {
				w.logger().Error("upsert port observation", "onion", item.Onion, "port", port, "err", err)
			}
			if ok {
				mu.Lock()
				services = append(services, store.DetectedService{
					Onion:      item.Onion,
					Port:       port,
					Service:    det.Service,
					Version:    det.Version,
					Confidence: det.Confidence,
					RawBanner:  det.RawBanner,
				})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	metrics.ObserveFetchDuration("scan", time.Since(start))

	if len(services) > 0 {
		if err := w.Store.AppendDetectedServices(ctx, services); err != nil {
			w.logger().Error("append detected services", "onion", item.Onion, "err", err)
		}
	}

	if err := w.Store.MarkCompleted(ctx, store.PipelineScan, item.Key, w.WorkerID); err != nil {
		w.logger().Warn("mark scan completed", "onion", item.Onion, "err", err)
	}
	metrics.MarkCompleted("scan")
}

// probePort dials a single port, classifies its reachability, and grabs a
// banner on success for signature detection.
func (w *ScanWorker) probePort(ctx context.Context, onionAddr string, port int) (store.PortObservation, onion.Detection, bool) {
	addr := fmt.Sprintf("%s:%d", onionAddr, port)
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	conn, err := w.Dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		obs := store.PortObservation{
			Onion:        onionAddr,
			Port:         port,
			State:        stateForErr(err),
			ResponseTime: time.Since(started),
			ObservedAt:   time.Now(),
		}
		return obs, onion.Detection{}, false
	}
	defer conn.Close()

	banner, _ := transport.BannerGrab(conn, onion.ProbeString(port), timeout)
	obs := store.PortObservation{
		Onion:        onionAddr,
		Port:         port,
		State:        store.PortOpen,
		ResponseTime: time.Since(started),
		Banner:       banner,
		ObservedAt:   time.Now(),
	}
	det, ok := onion.Detect(port, banner)
	return obs, det, ok
}

func stateForErr(err error) store.PortState {
	te := transport.Classify(err)
	if te == nil {
		return store.PortClosed
	}
	switch te.Kind {
	case transport.KindTimeout:
		return store.PortTimeout
	case transport.KindRefused, transport.KindReset:
		return store.PortClosed
	default:
		return store.PortFiltered
	}
}
