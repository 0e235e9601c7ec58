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

// Package store defines the durable store's narrow interface and its
// Postgres and in-memory implementations. The pipelines depend only on the
// Store interface below; nothing in internal/scheduler or internal/worker
// imports pgx directly.
package store

import "time"

// Pipeline names one of the three independent queue/lock namespaces.
type Pipeline string

const (
	PipelineCrawl   Pipeline = "crawl"
	PipelineScan    Pipeline = "scan"
	PipelineDirscan Pipeline = "dirscan"
)

// QueueStatus is a queue row's lifecycle state.
type QueueStatus string

const (
	StatusPending    QueueStatus = "pending"
	StatusProcessing QueueStatus = "processing"
	StatusCompleted  QueueStatus = "completed"
	StatusFailed     QueueStatus = "failed"
)

// MaxAttempts is the attempt ceiling after which a queue row becomes
// terminally failed.
const MaxAttempts = 3

// Target is a hidden service identified by its onion address.
type Target struct {
	Onion        string
	FirstSeen    time.Time
	LastProcess  time.Time
	Active       bool
	CrawlStatus  QueueStatus
	CrawlCount   int
	PendingCount int
}

// Document is one fetched URL's persisted result.
type Document struct {
	URL          string
	Onion        string
	Path         string
	Status       int
	ContentSize  int
	TextBody     string
	HTMLBody     string
	Title        string
	Description  string
	Lang         string
	FetchedAt    time.Time
}

// LinkClassification mirrors pkg/onion.Classification as a storage-layer
// value so internal/store has no dependency on pkg/onion.
type LinkClassification string

const (
	LinkInternal LinkClassification = "internal"
	LinkExternal LinkClassification = "external"
	LinkOnion    LinkClassification = "onion"
)

// Edge is one extracted outbound reference from a document.
type Edge struct {
	SourceURL      string
	TargetURL      string
	TargetOnion    string
	AnchorText     string
	Classification LinkClassification
	SourceKind     string
	Ordinal        int
}

// HeaderRecord is one normalized response header captured for a document.
type HeaderRecord struct {
	DocumentURL string
	Name        string
	Value       string
}

// QueueItem is one row leased from any of the three queues.
type QueueItem struct {
	Pipeline    Pipeline
	Key         string // URL for crawl, onion address for scan/dirscan
	Onion       string
	Priority    int
	Attempts    int
	LastAttempt time.Time
	Status      QueueStatus
	WorkerID    string
	Profile     string
	Ports       []int // explicit port list override, scan pipeline only
	ErrorMsg    string
	CreatedAt   time.Time

	// SourceDomain is advisory only: the crawl scheduler's source-reliability
	// computation joins edges/documents directly rather than reading this
	// column back.
	SourceDomain string
}

// PortState is the scanner's per-port classification.
type PortState string

const (
	PortOpen     PortState = "open"
	PortClosed   PortState = "closed"
	PortFiltered PortState = "filtered"
	PortTimeout  PortState = "timeout"
)

// PortObservation is one scanned port's result, upserted per (onion, port).
type PortObservation struct {
	Onion        string
	Port         int
	State        PortState
	ResponseTime time.Duration
	Banner       []byte // <=4KiB; nil preserves the prior banner on upsert
	ObservedAt   time.Time
}

// DetectedService is one service-signature match for a port observation.
type DetectedService struct {
	Onion      string
	Port       int
	Service    string
	Version    string
	Confidence int
	RawBanner  []byte
}

// DirObservation is one brute-forced path's classified response.
type DirObservation struct {
	Onion           string
	Path            string
	Status          int
	ContentLength   int
	ContentType     string
	ResponseTime    time.Duration
	ServerHeader    string
	RedirectURL     string
	BodySnippet     string // <=512B
	Interesting     bool
	InterestCategory string
	ObservedAt      time.Time
}

// CrawlLogEntry is one buffered append-only record of a completed/failed
// crawl attempt, written by the BufferedWriter actor.
type CrawlLogEntry struct {
	URL       string
	Onion     string
	Status    int
	Err       string
	Timestamp time.Time
}

// ScanEnqueueRequest is one buffered request to add an onion address to the
// scan queue, emitted by the crawler worker for every discovered onion.
type ScanEnqueueRequest struct {
	Onion    string
	Priority int
	Profile  string
}
