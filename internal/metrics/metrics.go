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

// Package metrics exposes the Prometheus counters and gauges shared by the
// three pipelines. Metrics are global (no unbounded label cardinality beyond
// pipeline name) and registered eagerly; ServeMetrics only needs to be called
// once, from whichever command wants to expose /metrics.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "asherah_queue_depth",
		Help: "Pending items per pipeline queue",
	}, []string{"pipeline"})

	ItemsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "asherah_items_completed_total",
		Help: "Total queue items that completed successfully, by pipeline",
	}, []string{"pipeline"})

	ItemsFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "asherah_items_failed_total",
		Help: "Total queue items that ended in failed status, by pipeline",
	}, []string{"pipeline"})

	FetchDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "asherah_fetch_duration_seconds",
		Help:    "Time spent performing a single outbound fetch/probe, by pipeline",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 45},
	}, []string{"pipeline"})

	LockContentionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "asherah_lock_contention_total",
		Help: "Total times acquiring a distributed lock failed because another worker held it",
	}, []string{"pipeline"})

	ActiveWorkers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "asherah_active_workers",
		Help: "Number of worker goroutines currently running, by pipeline",
	}, []string{"pipeline"})
)

func init() {
	prometheus.MustRegister(
		QueueDepth,
		ItemsCompletedTotal,
		ItemsFailedTotal,
		FetchDurationSeconds,
		LockContentionTotal,
		ActiveWorkers,
	)
}

// ServeMetrics starts a background HTTP server exposing /metrics on addr. It
// returns immediately; the caller is expected to shut the process down via
// its own signal handling rather than stopping this server individually.
func ServeMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = server.ListenAndServe()
	}()
}

// ObserveFetchDuration records how long a single fetch/probe took for pipeline.
func ObserveFetchDuration(pipeline string, d time.Duration) {
	FetchDurationSeconds.WithLabelValues(pipeline).Observe(d.Seconds())
}

// MarkCompleted increments the completed counter for pipeline.
func MarkCompleted(pipeline string) {
	ItemsCompletedTotal.WithLabelValues(pipeline).Inc()
}

// MarkFailed increments the failed counter for pipeline.
func MarkFailed(pipeline string) {
	ItemsFailedTotal.WithLabelValues(pipeline).Inc()
}

// MarkLockContention increments the lock-contention counter for pipeline.
func MarkLockContention(pipeline string) {
	LockContentionTotal.WithLabelValues(pipeline).Inc()
}

// SetQueueDepth records the current pending depth for pipeline.
func SetQueueDepth(pipeline string, depth int) {
	QueueDepth.WithLabelValues(pipeline).Set(float64(depth))
}

// SetActiveWorkers records how many worker goroutines are currently running
// for pipeline.
func SetActiveWorkers(pipeline string, n int) {
	ActiveWorkers.WithLabelValues(pipeline).Set(float64(n))
}

// PollQueueDepth runs until ctx is done, periodically writing each pipeline's
// pending depth into QueueDepth via depthFn. depthFn is supplied by the
// caller (the orchestrator) since only it has a Store handle.
func PollQueueDepth(ctx context.Context, interval time.Duration, pipelines []string, depthFn func(ctx context.Context, pipeline string) (int, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range pipelines {
				if depth, err := depthFn(ctx, p); err == nil {
					SetQueueDepth(p, depth)
				}
			}
		}
	}
}
