// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/releasewatch/internal/platform/apperr"
	"github.com/taibuivan/releasewatch/internal/platform/constants"
)

// windowScript checks the penalty key, evicts expired entries and admits the
// request when the set has room. It returns {1, 0} on admission and
// {0, wait_ms} otherwise.
var windowScript = redis.NewScript(`
	local key = KEYS[1]
	local block = KEYS[2]
	local now = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])

	local blocked = redis.call("pttl", block)
	if blocked > 0 then
		return {0, blocked}
	end

	redis.call("zremrangebyscore", key, "-inf", now - window_ms)

	local current = redis.call("zcard", key)
	if current < limit then
		redis.call("zadd", key, now, ARGV[4])
		redis.call("pexpire", key, window_ms)
		return {1, 0}
	end

	local oldest = redis.call("zrange", key, 0, 0, "WITHSCORES")
	return {0, tonumber(oldest[2]) + window_ms - now}
`)

// RedisSlidingWindow is a [SlidingWindow] whose log lives in Redis, so several
// replicas draw from one upstream quota.
type RedisSlidingWindow struct {
	client   *redis.Client
	name     string
	key      string
	blockKey string
	quota    int
	window   time.Duration
	clock    Clock
}

// NewRedisSlidingWindow creates a limiter keyed by name.
func NewRedisSlidingWindow(client *redis.Client, name string, quota int, window time.Duration, opts ...Option) *RedisSlidingWindow {
	o := buildOptions(opts)
	key := constants.RedisPrefixRateLimit + name
	return &RedisSlidingWindow{
		client:   client,
		name:     name,
		key:      key,
		blockKey: key + ":block",
		quota:    quota,
		window:   window,
		clock:    o.clock,
	}
}

// Acquire blocks until the shared window has room.
func (r *RedisSlidingWindow) Acquire(ctx context.Context) error {
	for {
		now := r.clock.Now()
		result, err := windowScript.Run(ctx, r.client,
			[]string{r.key, r.blockKey},
			now.UnixMilli(),
			r.window.Milliseconds(),
			r.quota,
			uuid.NewString(),
		).Int64Slice()
		if err != nil {
			if ctx.Err() != nil {
				return apperr.RateLimitTimeout(r.name, ctx.Err())
			}
			return fmt.Errorf("ratelimit: %s: %w", r.name, err)
		}

		if result[0] == 1 {
			return nil
		}

		wait := time.Duration(result[1]) * time.Millisecond
		if exceedsDeadline(ctx, r.clock.Now(), wait) {
			return apperr.RateLimitTimeout(r.name, context.DeadlineExceeded)
		}
		if err := r.clock.Sleep(ctx, wait); err != nil {
			return apperr.RateLimitTimeout(r.name, err)
		}
	}
}

// Penalize blocks every replica for d.
func (r *RedisSlidingWindow) Penalize(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.blockKey, "1", d).Err()
}

// Window returns the configured window length.
func (r *RedisSlidingWindow) Window() time.Duration { return r.window }
