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

package lock

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"asherah/internal/store"
)

// acquireScript implements the classic single-node Redlock pattern: SET NX
// PX with the owner id as the value. Returns 1 if acquired, 0 if a
// different owner already holds it (re-acquiring your own lock extends it).
const acquireScript = `
local key = KEYS[1]
local owner = ARGV[1]
local ttlMs = ARGV[2]
local current = redis.call('GET', key)
if current == false or current == owner then
  redis.call('SET', key, owner, 'PX', ttlMs)
  return 1
end
return 0
`

// releaseScript deletes the key only if the caller still owns it, avoiding
// a benign race where ownership changed between a plain GET and DEL.
const releaseScript = `
local key = KEYS[1]
local owner = ARGV[1]
if redis.call('GET', key) == owner then
  redis.call('DEL', key)
  return 1
end
return 0
`

// extendScript resets the TTL only if the caller still owns the key, the
// same compare-then-expire shape as releaseScript.
const extendScript = `
local key = KEYS[1]
local owner = ARGV[1]
local ttlMs = ARGV[2]
if redis.call('GET', key) == owner then
  redis.call('PEXPIRE', key, ttlMs)
  return 1
end
return 0
`

func redisKey(pipeline store.Pipeline, onion string) string {
	return fmt.Sprintf("lock:%s:%s", pipeline, onion)
}

// RedisLocker implements Locker with go-redis/v9 and the Lua scripts above,
// the same acquire/release-via-script idiom persistence/redis.go uses for
// idempotent commits (SETNX marker + conditional effect), adapted here to
// an owner-checked mutex instead of a write-once marker.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, pipeline store.Pipeline, onion, workerID string) (bool, error) {
	ttl := TTLFor(pipeline)
	res, err := l.client.Eval(ctx, acquireScript, []string{redisKey(pipeline, onion)}, workerID, ttl.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("lock: redis acquire %s/%s: %w", pipeline, onion, err)
	}
	return toBool(res), nil
}

func (l *RedisLocker) Release(ctx context.Context, pipeline store.Pipeline, onion, workerID string) (bool, error) {
	res, err := l.client.Eval(ctx, releaseScript, []string{redisKey(pipeline, onion)}, workerID).Result()
	if err != nil {
		return false, fmt.Errorf("lock: redis release %s/%s: %w", pipeline, onion, err)
	}
	return toBool(res), nil
}

func (l *RedisLocker) Extend(ctx context.Context, pipeline store.Pipeline, onion, workerID string) (bool, error) {
	ttl := TTLFor(pipeline)
	res, err := l.client.Eval(ctx, extendScript, []string{redisKey(pipeline, onion)}, workerID, ttl.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("lock: redis extend %s/%s: %w", pipeline, onion, err)
	}
	return toBool(res), nil
}

// ClearAll deletes every key under each pipeline's namespace via SCAN+DEL,
// never KEYS (KEYS blocks the whole instance on a
// large keyspace; SCAN is the production-safe equivalent).
func (l *RedisLocker) ClearAll(ctx context.Context) error {
	for _, p := range []store.Pipeline{store.PipelineCrawl, store.PipelineScan, store.PipelineDirscan} {
		pattern := fmt.Sprintf("lock:%s:*", p)
		iter := l.client.Scan(ctx, 0, pattern, 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("lock: scan %s: %w", pattern, err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := l.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("lock: del %s: %w", pattern, err)
		}
	}
	return nil
}

func toBool(res interface{}) bool {
	switch v := res.(type) {
	case int64:
		return v == 1
	case int:
		return v == 1
	default:
		return false
	}
}

var _ Locker = (*RedisLocker)(nil)
