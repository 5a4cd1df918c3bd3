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

package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// bindScript is the Redis-side enforcement of bind-once: SETNX a marker
// key, and only on success write the JSON payload under the companion
// value key. Running both in one script keeps the publish atomic across
// competing instances.
const bindScript = `
local marker = KEYS[1]
local payload = KEYS[2]
local set = redis.call('SETNX', marker, 1)
if set == 1 then
  redis.call('SET', payload, ARGV[1])
  return 1
else
  return 0
end
`

// RedisKB is a KnowledgeBase backend shared across independent HammerTime
// processes via Redis, for instances configured to agree on shared state.
// Values must be JSON-marshalable; rule state that holds live
// pointers (timeout managers, body-size estimators, ...) belongs in the
// in-memory Memory KB instead; RedisKB is for simple shared facts like a
// dead-host blacklist or a warm-started soft-404 signature cache.
type RedisKB struct {
	client   *redis.Client
	prefix   string
	entryTTL time.Duration
}

// NewRedisKB returns a RedisKB using addr as the Redis server address. ttl
// of zero disables expiry on bound keys.
func NewRedisKB(addr, prefix string, ttl time.Duration) *RedisKB {
	return &RedisKB{
		client:   redis.NewClient(&redis.Options{Addr: addr}),
		prefix:   prefix,
		entryTTL: ttl,
	}
}

func (r *RedisKB) markerKey(key string) string  { return fmt.Sprintf("%s:kb:marker:%s", r.prefix, key) }
func (r *RedisKB) payloadKey(key string) string { return fmt.Sprintf("%s:kb:value:%s", r.prefix, key) }

// Contains reports whether key has been bound by any participating
// instance.
func (r *RedisKB) Contains(key string) bool {
	ctx := context.Background()
	n, err := r.client.Exists(ctx, r.markerKey(key)).Result()
	return err == nil && n > 0
}

// Set attempts to publish key; only the first caller across all instances
// succeeds, matching the in-memory KB's bind-once contract.
func (r *RedisKB) Set(key string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kb: marshal %q: %w", key, err)
	}
	ctx := context.Background()
	res, err := r.client.Eval(ctx, bindScript, []string{r.markerKey(key), r.payloadKey(key)}, string(payload)).Result()
	if err != nil {
		return fmt.Errorf("kb: bind %q: %w", key, err)
	}
	applied, _ := res.(int64)
	if applied != 1 {
		return &ErrAlreadyBound{Key: key}
	}
	if r.entryTTL > 0 {
		r.client.Expire(ctx, r.markerKey(key), r.entryTTL)
		r.client.Expire(ctx, r.payloadKey(key), r.entryTTL)
	}
	return nil
}

// Get returns the JSON-decoded value bound for key as a generic
// interface{} (map[string]interface{}, []interface{}, or a scalar,
// following encoding/json's default decode shape).
func (r *RedisKB) Get(key string) (interface{}, error) {
	ctx := context.Background()
	raw, err := r.client.Get(ctx, r.payloadKey(key)).Bytes()
	if err == redis.Nil {
		return nil, &ErrUnbound{Key: key}
	} else if err != nil {
		return nil, fmt.Errorf("kb: get %q: %w", key, err)
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("kb: decode %q: %w", key, err)
	}
	return value, nil
}

// Close releases the underlying Redis connection pool.
func (r *RedisKB) Close() error { return r.client.Close() }
