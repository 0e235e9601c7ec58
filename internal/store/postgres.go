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
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres schema (reference):
//
// CREATE TABLE IF NOT EXISTS targets (
//   onion TEXT PRIMARY KEY,
//   first_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
//   last_process TIMESTAMPTZ,
//   active BOOLEAN NOT NULL DEFAULT true,
//   crawl_status TEXT NOT NULL DEFAULT 'pending',
//   crawl_count INT NOT NULL DEFAULT 0
// );
//
// CREATE TABLE IF NOT EXISTS documents (
//   url TEXT PRIMARY KEY,
//   onion TEXT NOT NULL REFERENCES targets(onion),
//   path TEXT, status INT, content_size INT,
//   text_body TEXT, html_body TEXT,
//   title TEXT, description TEXT, lang TEXT,
//   fetched_at TIMESTAMPTZ NOT NULL DEFAULT now()
// );
//
// CREATE TABLE IF NOT EXISTS edges (
//   source_url TEXT, target_url TEXT, target_onion TEXT,
//   anchor_text TEXT, classification TEXT, source_kind TEXT, ordinal INT,
//   PRIMARY KEY (source_url, target_url)
// );
//
// CREATE TABLE IF NOT EXISTS headers (
//   document_url TEXT, name TEXT, value TEXT
// );
//
// CREATE TABLE IF NOT EXISTS crawl_queue (
//   url TEXT PRIMARY KEY, onion TEXT NOT NULL, priority INT NOT NULL,
//   attempts INT NOT NULL DEFAULT 0, last_attempt TIMESTAMPTZ,
//   status TEXT NOT NULL DEFAULT 'pending', worker_id TEXT, error_msg TEXT,
//   source_domain TEXT, profile TEXT, created_at TIMESTAMPTZ NOT NULL DEFAULT now()
// );
// CREATE INDEX IF NOT EXISTS idx_crawl_queue_priority ON crawl_queue(priority, status);
//
// CREATE TABLE IF NOT EXISTS scan_queue (
//   onion TEXT PRIMARY KEY, profile TEXT, ports INT[], priority INT NOT NULL,
//   attempts INT NOT NULL DEFAULT 0, last_attempt TIMESTAMPTZ,
//   status TEXT NOT NULL DEFAULT 'pending', worker_id TEXT, error_msg TEXT,
//   created_at TIMESTAMPTZ NOT NULL DEFAULT now()
// );
//
// CREATE TABLE IF NOT EXISTS dirscan_queue (
//   onion TEXT PRIMARY KEY, profile TEXT, priority INT NOT NULL,
//   attempts INT NOT NULL DEFAULT 0, last_attempt TIMESTAMPTZ,
//   status TEXT NOT NULL DEFAULT 'pending', worker_id TEXT, error_msg TEXT,
//   created_at TIMESTAMPTZ NOT NULL DEFAULT now()
// );
//
// CREATE TABLE IF NOT EXISTS crawl_log (
//   url TEXT, onion TEXT, status INT, err TEXT, ts TIMESTAMPTZ NOT NULL DEFAULT now()
// );
//
// CREATE TABLE IF NOT EXISTS crawl_locks (onion TEXT PRIMARY KEY, worker_id TEXT NOT NULL, expires_at TIMESTAMPTZ NOT NULL);
// CREATE TABLE IF NOT EXISTS scan_locks (onion TEXT PRIMARY KEY, worker_id TEXT NOT NULL, expires_at TIMESTAMPTZ NOT NULL);
// CREATE TABLE IF NOT EXISTS dirscan_locks (onion TEXT PRIMARY KEY, worker_id TEXT NOT NULL, expires_at TIMESTAMPTZ NOT NULL);
//
// CREATE TABLE IF NOT EXISTS port_observations (
//   onion TEXT, port INT, state TEXT, response_time_ms INT, banner BYTEA,
//   observed_at TIMESTAMPTZ NOT NULL DEFAULT now(), PRIMARY KEY (onion, port)
// );
// CREATE TABLE IF NOT EXISTS detected_services (
//   onion TEXT, port INT, service TEXT, version TEXT, confidence INT, raw_banner BYTEA
// );
// CREATE TABLE IF NOT EXISTS dir_observations (
//   onion TEXT, path TEXT, status INT, content_length INT, content_type TEXT,
//   response_time_ms INT, server_header TEXT, redirect_url TEXT, body_snippet TEXT,
//   interesting BOOLEAN, interest_category TEXT, observed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
//   PRIMARY KEY (onion, path)
// );

// lockTable maps a pipeline to its lock table name.
func lockTable(p Pipeline) string {
	switch p {
	case PipelineCrawl:
		return "crawl_locks"
	case PipelineScan:
		return "scan_locks"
	default:
		return "dirscan_locks"
	}
}

// queueTable maps a pipeline to its queue table and key column.
func queueTable(p Pipeline) (table, keyCol string) {
	switch p {
	case PipelineCrawl:
		return "crawl_queue", "url"
	case PipelineScan:
		return "scan_queue", "onion"
	default:
		return "dirscan_queue", "onion"
	}
}

// PostgresStore implements Store over a pgxpool.Pool, following the same
// idempotent-transaction shape as persistence/postgres.go: one INSERT ...
// ON CONFLICT DO UPDATE round trip per logical operation, wrapped in an
// explicit transaction wherever more than one statement must commit atomically.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and verifies connectivity with Ping.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) UpsertTarget(ctx context.Context, onion string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO targets (onion, last_process, active)
		VALUES ($1, now(), true)
		ON CONFLICT (onion) DO UPDATE SET last_process = now()`, onion)
	if err != nil {
		return fmt.Errorf("store: upsert target %s: %w", onion, err)
	}
	return nil
}

func (s *PostgresStore) UpsertDocument(ctx context.Context, doc Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (url, onion, path, status, content_size, text_body, html_body, title, description, lang, fetched_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())
		ON CONFLICT (url) DO UPDATE SET
			status = EXCLUDED.status, content_size = EXCLUDED.content_size,
			text_body = EXCLUDED.text_body, html_body = EXCLUDED.html_body,
			title = EXCLUDED.title, description = EXCLUDED.description,
			lang = EXCLUDED.lang, fetched_at = now()`,
		doc.URL, doc.Onion, doc.Path, doc.Status, doc.ContentSize, doc.TextBody, doc.HTMLBody, doc.Title, doc.Description, doc.Lang)
	if err != nil {
		return fmt.Errorf("store: upsert document %s: %w", doc.URL, err)
	}
	// crawl_count advances on every document upsert, including a re-fetch of
	// a URL that is already stored.
	_, err = s.pool.Exec(ctx, `UPDATE targets SET crawl_count = crawl_count + 1 WHERE onion = $1`, doc.Onion)
	if err != nil {
		return fmt.Errorf("store: bump crawl_count %s: %w", doc.Onion, err)
	}
	return nil
}

func (s *PostgresStore) AppendEdges(ctx context.Context, edges []Edge) error {
	if len(edges) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range edges {
		batch.Queue(`
			INSERT INTO edges (source_url, target_url, target_onion, anchor_text, classification, source_kind, ordinal)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (source_url, target_url) DO NOTHING`,
			e.SourceURL, e.TargetURL, e.TargetOnion, e.AnchorText, e.Classification, e.SourceKind, e.Ordinal)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range edges {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: append edges: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) AppendHeaders(ctx context.Context, headers []HeaderRecord) error {
	if len(headers) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, h := range headers {
		batch.Queue(`INSERT INTO headers (document_url, name, value) VALUES ($1,$2,$3)`, h.DocumentURL, h.Name, h.Value)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range headers {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: append headers: %w", err)
		}
	}
	return nil
}

// Enqueue holds priority as a monotone minimum in a single server-evaluated
// statement: minimum priority, failed->pending reset, processing/completed
// untouched — the same "one statement beats read-modify-write" idiom
// persistence/postgres.go uses for counter updates.
func (s *PostgresStore) Enqueue(ctx context.Context, item QueueItem) error {
	table, keyCol := queueTable(item.Pipeline)
	switch item.Pipeline {
	case PipelineCrawl:
		_, err := s.pool.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (%s, onion, priority, status, source_domain, created_at)
			VALUES ($1,$2,$3,'pending',$4, now())
			ON CONFLICT (%s) DO UPDATE SET
				priority = LEAST(%s.priority, EXCLUDED.priority),
				status = CASE WHEN %s.status = 'failed' THEN 'pending' ELSE %s.status END`,
			table, keyCol, table, table, table, table),
			item.Key, item.Onion, item.Priority, item.SourceDomain)
		if err != nil {
			return fmt.Errorf("store: enqueue %s %s: %w", item.Pipeline, item.Key, err)
		}
		return nil
	default:
		_, err := s.pool.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (%s, profile, priority, status, created_at)
			VALUES ($1,$2,$3,'pending', now())
			ON CONFLICT (%s) DO UPDATE SET
				priority = LEAST(%s.priority, EXCLUDED.priority),
				status = CASE WHEN %s.status = 'failed' THEN 'pending' ELSE %s.status END`,
			table, keyCol, table, table, table, table),
			item.Key, item.Profile, item.Priority)
		if err != nil {
			return fmt.Errorf("store: enqueue %s %s: %w", item.Pipeline, item.Key, err)
		}
		return nil
	}
}

// QueueDepth counts pending rows for pipeline, used by the stats poller.
func (s *PostgresStore) QueueDepth(ctx context.Context, pipeline Pipeline) (int, error) {
	table, _ := queueTable(pipeline)
	var n int
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s WHERE status = 'pending'`, table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: queue depth %s: %w", pipeline, err)
	}
	return n, nil
}

// DequeueWithLease selects up to n eligible rows with SKIP LOCKED and
// stamps them processing in the same round trip, one statement replacing
// the ForEach-then-settle split core/store.go uses.
func (s *PostgresStore) DequeueWithLease(ctx context.Context, pipeline Pipeline, workerID string, n int) ([]QueueItem, error) {
	table, keyCol := queueTable(pipeline)
	lt := lockTable(pipeline)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		WITH eligible AS (
			SELECT %s AS k FROM %s q
			WHERE q.status = 'pending'
			  AND q.attempts < %d
			  AND (q.last_attempt IS NULL OR q.last_attempt < now() - (interval '1 minute' * power(2, LEAST(q.attempts, 6))))
			  AND NOT EXISTS (SELECT 1 FROM %s l WHERE l.onion = q.onion AND l.worker_id <> $1 AND l.expires_at > now())
			ORDER BY q.priority ASC, q.created_at ASC
			LIMIT %d
			FOR UPDATE OF q SKIP LOCKED
		)
		UPDATE %s SET status = 'processing', worker_id = $1, attempts = attempts + 1, last_attempt = now()
		WHERE %s IN (SELECT k FROM eligible)
		RETURNING %s, onion, priority, attempts, last_attempt, status, worker_id, profile, created_at`,
		keyCol, table, MaxAttempts, lt, n, table, keyCol, keyCol),
		workerID)
	if err != nil {
		return nil, fmt.Errorf("store: dequeue %s: %w", pipeline, err)
	}
	defer rows.Close()

	var out []QueueItem
	for rows.Next() {
		var item QueueItem
		var profile *string
		if err := rows.Scan(&item.Key, &item.Onion, &item.Priority, &item.Attempts, &item.LastAttempt, &item.Status, &item.WorkerID, &profile, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan dequeued row: %w", err)
		}
		if profile != nil {
			item.Profile = *profile
		}
		item.Pipeline = pipeline
		out = append(out, item)
	}
	return out, rows.Err()
}

// DequeueKeysWithLease leases exactly the given keys, skipping any that are
// no longer pending or are held by another worker's live lock — the same
// SKIP LOCKED discipline as DequeueWithLease, scoped to a caller-chosen
// candidate set rather than the full priority-ordered queue.
func (s *PostgresStore) DequeueKeysWithLease(ctx context.Context, pipeline Pipeline, workerID string, keys []string) ([]QueueItem, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	table, keyCol := queueTable(pipeline)
	lt := lockTable(pipeline)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		WITH eligible AS (
			SELECT %s AS k FROM %s q
			WHERE %s = ANY($2)
			  AND q.status = 'pending'
			  AND q.attempts < %d
			  AND (q.last_attempt IS NULL OR q.last_attempt < now() - (interval '1 minute' * power(2, LEAST(q.attempts, 6))))
			  AND NOT EXISTS (SELECT 1 FROM %s l WHERE l.onion = q.onion AND l.worker_id <> $1 AND l.expires_at > now())
			FOR UPDATE OF q SKIP LOCKED
		)
		UPDATE %s SET status = 'processing', worker_id = $1, attempts = attempts + 1, last_attempt = now()
		WHERE %s IN (SELECT k FROM eligible)
		RETURNING %s, onion, priority, attempts, last_attempt, status, worker_id, profile, created_at`,
		keyCol, table, keyCol, MaxAttempts, lt, table, keyCol, keyCol),
		workerID, keys)
	if err != nil {
		return nil, fmt.Errorf("store: dequeue keys %s: %w", pipeline, err)
	}
	defer rows.Close()

	var out []QueueItem
	for rows.Next() {
		var item QueueItem
		var profile *string
		if err := rows.Scan(&item.Key, &item.Onion, &item.Priority, &item.Attempts, &item.LastAttempt, &item.Status, &item.WorkerID, &profile, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan dequeued row: %w", err)
		}
		if profile != nil {
			item.Profile = *profile
		}
		item.Pipeline = pipeline
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, pipeline Pipeline, key, workerID string) error {
	table, keyCol := queueTable(pipeline)
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET status = 'completed' WHERE %s = $1 AND worker_id = $2`, table, keyCol), key, workerID)
	if err != nil {
		return fmt.Errorf("store: mark completed %s %s: %w", pipeline, key, err)
	}
	if tag.RowsAffected() != 1 {
		return ErrNotOwner
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, pipeline Pipeline, key, workerID, errMsg string) error {
	table, keyCol := queueTable(pipeline)
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET error_msg = $3,
			status = CASE WHEN attempts >= %d THEN 'failed' ELSE 'pending' END
		WHERE %s = $1 AND worker_id = $2`, table, MaxAttempts, keyCol), key, workerID, errMsg)
	if err != nil {
		return fmt.Errorf("store: mark failed %s %s: %w", pipeline, key, err)
	}
	if tag.RowsAffected() != 1 {
		return ErrNotOwner
	}
	return nil
}

// MarkDomainFailed runs as one transaction, the same
// "short-circuit every pending URL for a dead target" shape scenario 5 tests.
func (s *PostgresStore) MarkDomainFailed(ctx context.Context, onion string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin domain-failed tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE crawl_queue SET status = 'failed' WHERE onion = $1 AND status IN ('pending','processing')`, onion); err != nil {
		return fmt.Errorf("store: mark crawl_queue domain failed: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE targets SET active = false WHERE onion = $1`, onion); err != nil {
		return fmt.Errorf("store: deactivate target: %w", err)
	}
	return tx.Commit(ctx)
}

// AcquireLock: delete expired, then conditional
// insert, same "delete expired, then conditional insert" shape as the
// lease protocol design note.
func (s *PostgresStore) AcquireLock(ctx context.Context, pipeline Pipeline, onion, workerID string, ttl time.Duration) (bool, error) {
	lt := lockTable(pipeline)
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("store: begin acquire-lock tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE expires_at < now()`, lt)); err != nil {
		return false, fmt.Errorf("store: reap expired locks: %w", err)
	}
	tag, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (onion, worker_id, expires_at) VALUES ($1,$2, now() + $3::interval)
		ON CONFLICT (onion) DO UPDATE SET worker_id = $2, expires_at = now() + $3::interval
		WHERE %s.worker_id = $2`, lt, lt), onion, workerID, ttl.String())
	if err != nil {
		return false, fmt.Errorf("store: acquire lock %s: %w", onion, err)
	}
	if tag.RowsAffected() != 1 {
		// Either the row already existed with a different owner (WHERE
		// filtered it out) or the INSERT collided; check who owns it now.
		var owner string
		err := tx.QueryRow(ctx, fmt.Sprintf(`SELECT worker_id FROM %s WHERE onion = $1`, lt), onion).Scan(&owner)
		if err == pgx.ErrNoRows {
			return false, tx.Commit(ctx)
		}
		if err != nil {
			return false, fmt.Errorf("store: check lock owner: %w", err)
		}
		return false, tx.Commit(ctx)
	}
	return true, tx.Commit(ctx)
}

func (s *PostgresStore) ReleaseLock(ctx context.Context, pipeline Pipeline, onion, workerID string) (bool, error) {
	lt := lockTable(pipeline)
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE onion = $1 AND worker_id = $2`, lt), onion, workerID)
	if err != nil {
		return false, fmt.Errorf("store: release lock %s: %w", onion, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ExtendLock(ctx context.Context, pipeline Pipeline, onion, workerID string, ttl time.Duration) (bool, error) {
	lt := lockTable(pipeline)
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET expires_at = now() + $3::interval WHERE onion = $1 AND worker_id = $2`, lt),
		onion, workerID, ttl.String())
	if err != nil {
		return false, fmt.Errorf("store: extend lock %s: %w", onion, err)
	}
	return tag.RowsAffected() == 1, nil
}

// AcquireAndMarkCrawling combines the lock acquire and status flip into a
// single round trip.
func (s *PostgresStore) AcquireAndMarkCrawling(ctx context.Context, onion, workerID string, ttl time.Duration) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("store: begin acquire-and-mark tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM crawl_locks WHERE expires_at < now()`); err != nil {
		return false, fmt.Errorf("store: reap expired crawl locks: %w", err)
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO crawl_locks (onion, worker_id, expires_at) VALUES ($1,$2, now() + $3::interval)
		ON CONFLICT (onion) DO UPDATE SET worker_id = $2, expires_at = now() + $3::interval
		WHERE crawl_locks.worker_id = $2`, onion, workerID, ttl.String())
	if err != nil {
		return false, fmt.Errorf("store: acquire crawl lock %s: %w", onion, err)
	}
	if tag.RowsAffected() != 1 {
		return false, tx.Commit(ctx)
	}
	if _, err := tx.Exec(ctx, `UPDATE targets SET crawl_status = 'processing' WHERE onion = $1`, onion); err != nil {
		return false, fmt.Errorf("store: mark crawling %s: %w", onion, err)
	}
	return true, tx.Commit(ctx)
}

func (s *PostgresStore) ReleaseAndMarkCompleted(ctx context.Context, onion, workerID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin release-and-mark tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM crawl_locks WHERE onion = $1 AND worker_id = $2`, onion, workerID); err != nil {
		return fmt.Errorf("store: release crawl lock %s: %w", onion, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE targets SET crawl_status = 'completed' WHERE onion = $1`, onion); err != nil {
		return fmt.Errorf("store: mark completed %s: %w", onion, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ClearAllLocks(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE crawl_locks, scan_locks, dirscan_locks`)
	if err != nil {
		return fmt.Errorf("store: clear all locks: %w", err)
	}
	return nil
}

// UpsertPortObservation preserves the prior banner when the new one is nil,
// via COALESCE, preserving any prior banner when the new probe found none.
func (s *PostgresStore) UpsertPortObservation(ctx context.Context, obs PortObservation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO port_observations (onion, port, state, response_time_ms, banner, observed_at)
		VALUES ($1,$2,$3,$4,$5, now())
		ON CONFLICT (onion, port) DO UPDATE SET
			state = EXCLUDED.state,
			response_time_ms = EXCLUDED.response_time_ms,
			banner = COALESCE(EXCLUDED.banner, port_observations.banner),
			observed_at = now()`,
		obs.Onion, obs.Port, obs.State, obs.ResponseTime.Milliseconds(), obs.Banner)
	if err != nil {
		return fmt.Errorf("store: upsert port observation %s:%d: %w", obs.Onion, obs.Port, err)
	}
	return nil
}

func (s *PostgresStore) AppendDetectedServices(ctx context.Context, services []DetectedService) error {
	if len(services) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, svc := range services {
		batch.Queue(`INSERT INTO detected_services (onion, port, service, version, confidence, raw_banner) VALUES ($1,$2,$3,$4,$5,$6)`,
			svc.Onion, svc.Port, svc.Service, svc.Version, svc.Confidence, svc.RawBanner)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range services {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: append detected services: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertDirObservation(ctx context.Context, obs DirObservation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dir_observations (onion, path, status, content_length, content_type, response_time_ms, server_header, redirect_url, body_snippet, interesting, interest_category, observed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11, now())
		ON CONFLICT (onion, path) DO UPDATE SET
			status = EXCLUDED.status, content_length = EXCLUDED.content_length,
			content_type = EXCLUDED.content_type, response_time_ms = EXCLUDED.response_time_ms,
			server_header = EXCLUDED.server_header, redirect_url = EXCLUDED.redirect_url,
			body_snippet = EXCLUDED.body_snippet, interesting = EXCLUDED.interesting,
			interest_category = EXCLUDED.interest_category, observed_at = now()`,
		obs.Onion, obs.Path, obs.Status, obs.ContentLength, obs.ContentType, obs.ResponseTime.Milliseconds(),
		obs.ServerHeader, obs.RedirectURL, obs.BodySnippet, obs.Interesting, obs.InterestCategory)
	if err != nil {
		return fmt.Errorf("store: upsert dir observation %s%s: %w", obs.Onion, obs.Path, err)
	}
	return nil
}

// EligibleCrawlCandidates fetches a wide (caller-bounded) candidate set for
// the crawl scheduler to rank in Go, since the
// tier computation is clearer in application code than as a single query.
func (s *PostgresStore) EligibleCrawlCandidates(ctx context.Context, limit int) ([]QueueItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT q.url, q.onion, q.priority, q.attempts, q.last_attempt, q.status, q.source_domain, q.created_at
		FROM crawl_queue q
		JOIN targets t ON t.onion = q.onion
		WHERE q.status = 'pending'
		  AND q.attempts < $1
		  AND (q.last_attempt IS NULL OR q.last_attempt < now() - (interval '1 minute' * power(2, LEAST(q.attempts, 6))))
		  AND t.active AND t.crawl_status <> 'failed'
		  AND NOT EXISTS (SELECT 1 FROM crawl_locks l WHERE l.onion = q.onion AND l.expires_at > now())
		ORDER BY q.priority ASC, q.created_at ASC
		LIMIT $2`, MaxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("store: eligible crawl candidates: %w", err)
	}
	defer rows.Close()

	var out []QueueItem
	for rows.Next() {
		var item QueueItem
		var domain *string
		if err := rows.Scan(&item.Key, &item.Onion, &item.Priority, &item.Attempts, &item.LastAttempt, &item.Status, &domain, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan candidate row: %w", err)
		}
		item.Pipeline = PipelineCrawl
		out = append(out, item)
	}
	return out, rows.Err()
}

// AppendCrawlLog satisfies CrawlLogSink for BufferedWriter.
func (s *PostgresStore) AppendCrawlLog(ctx context.Context, entries []CrawlLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO crawl_log (url, onion, status, err, ts) VALUES ($1,$2,$3,$4,$5)`,
			e.URL, e.Onion, e.Status, e.Err, e.Timestamp)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("store: append crawl log: %w", err)
		}
	}
	return nil
}

// SourceReliability computes the ratio, cached by the scheduler
// (not here) for one minute per domain.
func (s *PostgresStore) SourceReliability(ctx context.Context, domain string) (float64, bool) {
	var total, crawled int
	err := s.pool.QueryRow(ctx, `
		SELECT count(DISTINCT e.target_onion),
		       count(DISTINCT e.target_onion) FILTER (WHERE t.crawl_count > 0)
		FROM edges e
		JOIN documents d ON d.url = e.source_url
		JOIN targets t ON t.onion = e.target_onion
		WHERE e.classification = 'onion' AND split_part(d.url, '/', 3) = $1`, domain).
		Scan(&total, &crawled)
	if err != nil || total < 3 {
		return 0.3, false
	}
	return float64(crawled) / float64(total), true
}

func (s *PostgresStore) TargetSnapshot(ctx context.Context, onion string) (Target, bool, error) {
	var t Target
	var lastProcess *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT t.onion, t.first_seen, t.last_process, t.active, t.crawl_status, t.crawl_count,
		       (SELECT count(*) FROM crawl_queue q WHERE q.onion = t.onion AND q.status = 'pending')
		FROM targets t WHERE t.onion = $1`, onion).
		Scan(&t.Onion, &t.FirstSeen, &lastProcess, &t.Active, &t.CrawlStatus, &t.CrawlCount, &t.PendingCount)
	if err == pgx.ErrNoRows {
		return Target{}, false, nil
	}
	if err != nil {
		return Target{}, false, fmt.Errorf("store: target snapshot %s: %w", onion, err)
	}
	if lastProcess != nil {
		t.LastProcess = *lastProcess
	}
	return t, true, nil
}

// SourceDomainFor joins edges to documents to find the onion of the page
// whose link most recently introduced target, rather than reading any
// column persisted on the crawl queue row.
func (s *PostgresStore) SourceDomainFor(ctx context.Context, onion string) (string, bool, error) {
	var domain string
	err := s.pool.QueryRow(ctx, `
		SELECT d.onion
		FROM edges e
		JOIN documents d ON d.url = e.source_url
		WHERE e.target_onion = $1
		ORDER BY d.fetched_at DESC
		LIMIT 1`, onion).Scan(&domain)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: source domain for %s: %w", onion, err)
	}
	return domain, true, nil
}
