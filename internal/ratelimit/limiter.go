// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package ratelimit bounds how fast the job calls each upstream API.

Every upstream gets exactly one [Limiter] instance, shared by all goroutines that
call it. Limiters never reject a request: they delay the caller until the request
fits the quota, or fail with RATE_LIMIT_TIMEOUT when the caller's deadline would
pass first.

Implementations:

  - SlidingWindow: in-process log of request timestamps (Q requests per rolling W).
  - RedisSlidingWindow: the same window kept in a Redis sorted set, shared by replicas.
  - TokenBucket: golang.org/x/time/rate pacing for per-second send limits.
*/
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Limiter blocks until one more request may be issued.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Penalizer is implemented by limiters that can be told to hold every caller
// back for a while, e.g. after an upstream answered 429.
type Penalizer interface {
	Penalize(ctx context.Context, d time.Duration) error
}

// Windowed is implemented by limiters that enforce a quota over a rolling window.
type Windowed interface {
	Window() time.Duration
}

// Clock abstracts time so window arithmetic can be tested without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Option configures a window limiter.
type Option func(*options)

type options struct {
	clock Clock
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

func buildOptions(opts []Option) options {
	o := options{clock: realClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// exceedsDeadline reports whether waiting d from now would pass ctx's deadline.
func exceedsDeadline(ctx context.Context, now time.Time, d time.Duration) bool {
	deadline, ok := ctx.Deadline()
	return ok && now.Add(d).After(deadline)
}

// ParseRetryAfter parses a Retry-After header value given in seconds or as an
// HTTP date.
func ParseRetryAfter(value string, now time.Time) (time.Duration, error) {
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	if t, err := time.Parse(time.RFC1123, value); err == nil {
		return t.Sub(now), nil
	}

	return 0, fmt.Errorf("invalid Retry-After value: %s", value)
}
