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

// Package config centralizes Asherah's runtime configuration into one
// authoritative struct, bound from flags, environment variables, and
// defaults (flag > env > default) via cobra/viper.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ScannerProfile is a closed variant naming a TCP port list.
type ScannerProfile string

const (
	ScannerProfileQuick    ScannerProfile = "quick"
	ScannerProfileStandard ScannerProfile = "standard"
	ScannerProfileFull     ScannerProfile = "full"
	ScannerProfileCrypto   ScannerProfile = "crypto"
)

// DirscanProfile is a closed variant naming a wordlist.
type DirscanProfile string

const (
	DirscanProfileQuick    DirscanProfile = "quick"
	DirscanProfileStandard DirscanProfile = "standard"
	DirscanProfileFull     DirscanProfile = "full"
)

// LockBackend selects which Locker implementation the orchestrators use.
type LockBackend string

const (
	LockBackendPostgres LockBackend = "postgres"
	LockBackendRedis    LockBackend = "redis"
)

// Config is the single source of runtime configuration for every pipeline.
// There is deliberately no dynamically-typed config map: every knob is a
// named, typed field with an explicit default.
type Config struct {
	// SOCKS5 relay (env: TOR_HOST, TOR_PORT)
	TorHost string
	TorPort int

	// Store connection (env: DB_HOST/PORT/NAME/USER/PASSWORD)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string

	LockBackend LockBackend
	RedisAddr   string

	// Per-pipeline worker counts (env: WORKER_COUNT, SCANNER_WORKERS, DIRSCAN_WORKERS)
	WorkerCount     int
	ScannerWorkers  int
	DirscanWorkers  int

	// Inter-item / inter-probe floors (env: CRAWL_DELAY, SCANNER_PROBE_DELAY, DIRSCAN_PATH_DELAY)
	CrawlDelay        time.Duration
	ScannerProbeDelay time.Duration
	DirscanPathDelay  time.Duration

	// Overall fetch/connect deadlines (env: REQUEST_TIMEOUT, SCANNER_TIMEOUT, DIRSCAN_TIMEOUT)
	RequestTimeout time.Duration
	ScannerTimeout time.Duration
	DirscanTimeout time.Duration

	// MaxContentSize caps the crawler's response body (env: MAX_CONTENT_SIZE)
	MaxContentSize int64

	// ScannerMaxConcurrent bounds per-target parallel port probes (env: SCANNER_MAX_CONCURRENT)
	ScannerMaxConcurrent int

	ScannerProfile ScannerProfile
	DirscanProfile DirscanProfile

	// StatsInterval controls how often the orchestrator logs/exports queue stats.
	StatsInterval time.Duration

	// MetricsAddr, if non-empty, exposes Prometheus metrics on this address.
	MetricsAddr string

	// LogFormat selects "json" or "text" for the slog handler.
	LogFormat string

	// Seeds are root URLs or bare onion addresses enqueued once at startup.
	Seeds []string
}

// Defaults returns the configuration's baseline values, which BindFlags
// also uses as the flag defaults.
func Defaults() Config {
	return Config{
		TorHost: "127.0.0.1",
		TorPort: 9050,

		DBHost: "127.0.0.1",
		DBPort: 5432,
		DBName: "asherah",
		DBUser: "asherah",

		LockBackend: LockBackendPostgres,
		RedisAddr:   "127.0.0.1:6379",

		WorkerCount:    10,
		ScannerWorkers: 3,
		DirscanWorkers: 3,

		CrawlDelay:        750 * time.Millisecond,
		ScannerProbeDelay: 200 * time.Millisecond,
		DirscanPathDelay:  1 * time.Second,

		RequestTimeout: 45 * time.Second,
		ScannerTimeout: 10 * time.Second,
		DirscanTimeout: 10 * time.Second,

		MaxContentSize: 1 << 20, // 1 MiB

		ScannerMaxConcurrent: 5,
		ScannerProfile:       ScannerProfileStandard,
		DirscanProfile:       DirscanProfileStandard,

		StatsInterval: 30 * time.Second,
		LogFormat:     "json",
	}
}

// DSN renders the Postgres connection string pgxpool expects.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword)
}

// RelayAddr renders the SOCKS5 relay's host:port.
func (c Config) RelayAddr() string {
	return fmt.Sprintf("%s:%d", c.TorHost, c.TorPort)
}

// BindFlags registers every knob above as a persistent flag on cmd and binds
// viper to both that flag and the matching environment
// variable, flag values taking precedence over env, env over the default
// already set on the flag (cobra/viper's standard precedence chain).
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.PersistentFlags()
	d := Defaults()

	f.String("tor-host", d.TorHost, "SOCKS5 relay host")
	f.Int("tor-port", d.TorPort, "SOCKS5 relay port")

	f.String("db-host", d.DBHost, "store host")
	f.Int("db-port", d.DBPort, "store port")
	f.String("db-name", d.DBName, "store database name")
	f.String("db-user", d.DBUser, "store user")
	f.String("db-password", d.DBPassword, "store password")

	f.String("lock-backend", string(d.LockBackend), "lock backend: postgres|redis")
	f.String("redis-addr", d.RedisAddr, "redis address when lock-backend=redis")

	f.Int("worker-count", d.WorkerCount, "crawler worker count")
	f.Int("scanner-workers", d.ScannerWorkers, "scanner worker count")
	f.Int("dirscan-workers", d.DirscanWorkers, "dirscanner worker count")

	f.Duration("crawl-delay", d.CrawlDelay, "inter-item delay floor for the crawler")
	f.Duration("scanner-probe-delay", d.ScannerProbeDelay, "inter-probe delay floor for the scanner")
	f.Duration("dirscan-path-delay", d.DirscanPathDelay, "inter-path delay floor for the dirscanner")

	f.Duration("request-timeout", d.RequestTimeout, "crawler overall fetch timeout")
	f.Duration("scanner-timeout", d.ScannerTimeout, "scanner per-port connect timeout")
	f.Duration("dirscan-timeout", d.DirscanTimeout, "dirscanner per-path fetch timeout")

	f.Int64("max-content-size", d.MaxContentSize, "crawler body cap in bytes")
	f.Int("scanner-max-concurrent", d.ScannerMaxConcurrent, "per-target parallel port probes")

	f.String("scanner-profile", string(d.ScannerProfile), "scanner port profile: quick|standard|full|crypto")
	f.String("dirscan-profile", string(d.DirscanProfile), "dirscanner wordlist profile: quick|standard|full")

	f.Duration("stats-interval", d.StatsInterval, "orchestrator stats log interval")
	f.String("metrics-addr", d.MetricsAddr, "Prometheus /metrics listen address (empty disables)")
	f.String("log-format", d.LogFormat, "log handler: json|text")
	f.StringSlice("seed", nil, "seed URL or onion address (repeatable)")

	v.BindPFlags(f)

	envBindings := map[string]string{
		"tor-host":               "TOR_HOST",
		"tor-port":                "TOR_PORT",
		"db-host":                 "DB_HOST",
		"db-port":                 "DB_PORT",
		"db-name":                 "DB_NAME",
		"db-user":                 "DB_USER",
		"db-password":             "DB_PASSWORD",
		"worker-count":            "WORKER_COUNT",
		"scanner-workers":         "SCANNER_WORKERS",
		"dirscan-workers":         "DIRSCAN_WORKERS",
		"crawl-delay":             "CRAWL_DELAY",
		"scanner-probe-delay":     "SCANNER_PROBE_DELAY",
		"dirscan-path-delay":      "DIRSCAN_PATH_DELAY",
		"request-timeout":         "REQUEST_TIMEOUT",
		"scanner-timeout":         "SCANNER_TIMEOUT",
		"dirscan-timeout":         "DIRSCAN_TIMEOUT",
		"max-content-size":        "MAX_CONTENT_SIZE",
		"scanner-max-concurrent":  "SCANNER_MAX_CONCURRENT",
	}
	for flagName, envName := range envBindings {
		_ = v.BindEnv(flagName, envName)
	}
}

// FromViper materializes a Config from a bound viper instance.
func FromViper(v *viper.Viper) Config {
	return Config{
		TorHost: v.GetString("tor-host"),
		TorPort: v.GetInt("tor-port"),

		DBHost:     v.GetString("db-host"),
		DBPort:     v.GetInt("db-port"),
		DBName:     v.GetString("db-name"),
		DBUser:     v.GetString("db-user"),
		DBPassword: v.GetString("db-password"),

		LockBackend: LockBackend(v.GetString("lock-backend")),
		RedisAddr:   v.GetString("redis-addr"),

		WorkerCount:    v.GetInt("worker-count"),
		ScannerWorkers: v.GetInt("scanner-workers"),
		DirscanWorkers: v.GetInt("dirscan-workers"),

		CrawlDelay:        v.GetDuration("crawl-delay"),
		ScannerProbeDelay: v.GetDuration("scanner-probe-delay"),
		DirscanPathDelay:  v.GetDuration("dirscan-path-delay"),

		RequestTimeout: v.GetDuration("request-timeout"),
		ScannerTimeout: v.GetDuration("scanner-timeout"),
		DirscanTimeout: v.GetDuration("dirscan-timeout"),

		MaxContentSize: v.GetInt64("max-content-size"),

		ScannerMaxConcurrent: v.GetInt("scanner-max-concurrent"),
		ScannerProfile:       ScannerProfile(v.GetString("scanner-profile")),
		DirscanProfile:       DirscanProfile(v.GetString("dirscan-profile")),

		StatsInterval: v.GetDuration("stats-interval"),
		MetricsAddr:   v.GetString("metrics-addr"),
		LogFormat:     v.GetString("log-format"),
		Seeds:         v.GetStringSlice("seed"),
	}
}
