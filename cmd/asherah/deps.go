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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"asherah/internal/config"
	"asherah/internal/lock"
	"asherah/internal/metrics"
	"asherah/internal/orchestrator"
	"asherah/internal/store"
	"asherah/internal/transport"
)

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func newLocker(cfg config.Config, st store.Store) lock.Locker {
	if cfg.LockBackend == config.LockBackendRedis {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return lock.NewRedisLocker(client)
	}
	return lock.NewStoreLocker(st)
}

// buildSupervisor connects to the store, builds the SOCKS5 dialer/fetcher,
// and assembles an orchestrator.Supervisor. The caller owns closing the
// returned Store once the supervisor's Run has returned.
func buildSupervisor(ctx context.Context, cfg config.Config) (*orchestrator.Supervisor, store.Store, error) {
	logger := newLogger(cfg)

	st, err := store.NewPostgresStore(ctx, cfg.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("asherah: connect store: %w", err)
	}

	dialer, err := transport.NewDialer(cfg.RelayAddr())
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("asherah: build relay dialer: %w", err)
	}
	fetcher := transport.NewHTTPFetcher(dialer)

	if err := fetcher.ProbeReachable(ctx); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("asherah: SOCKS5 relay %s not reachable: %w", cfg.RelayAddr(), err)
	}

	if cfg.MetricsAddr != "" {
		metrics.ServeMetrics(cfg.MetricsAddr)
		logger.Info("metrics server started", "addr", cfg.MetricsAddr)
	}

	locker := newLocker(cfg, st)
	sup := orchestrator.New(cfg, st, locker, dialer, fetcher, logger)
	return sup, st, nil
}
