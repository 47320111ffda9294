// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/taibuivan/releasewatch/internal/platform/apperr"
)

// SlidingWindow admits at most quota requests in any rolling window.
//
// # Concurrency
//
// Safe for concurrent use. The mutex is never held while sleeping.
type SlidingWindow struct {
	name   string
	quota  int
	window time.Duration
	clock  Clock

	mu           sync.Mutex
	stamps       []time.Time
	blockedUntil time.Time
}

// NewSlidingWindow creates a limiter admitting quota requests per window.
func NewSlidingWindow(name string, quota int, window time.Duration, opts ...Option) *SlidingWindow {
	o := buildOptions(opts)
	return &SlidingWindow{
		name:   name,
		quota:  quota,
		window: window,
		clock:  o.clock,
		stamps: make([]time.Time, 0, quota),
	}
}

// Acquire blocks until a slot is free and records the request.
func (s *SlidingWindow) Acquire(ctx context.Context) error {
	for {
		wait, ok := s.reserve()
		if ok {
			return nil
		}

		if exceedsDeadline(ctx, s.clock.Now(), wait) {
			return apperr.RateLimitTimeout(s.name, context.DeadlineExceeded)
		}
		if err := s.clock.Sleep(ctx, wait); err != nil {
			return apperr.RateLimitTimeout(s.name, err)
		}
	}
}

// reserve records a request if the window has room, otherwise it returns how
// long until the oldest request ages out.
func (s *SlidingWindow) reserve() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if now.Before(s.blockedUntil) {
		return s.blockedUntil.Sub(now), false
	}

	cutoff := now.Add(-s.window)
	drop := 0
	for drop < len(s.stamps) && !s.stamps[drop].After(cutoff) {
		drop++
	}
	s.stamps = s.stamps[drop:]

	if len(s.stamps) < s.quota {
		s.stamps = append(s.stamps, now)
		return 0, true
	}

	return s.stamps[0].Add(s.window).Sub(now), false
}

// Penalize holds every caller back for d. Overlapping penalties keep the later end.
func (s *SlidingWindow) Penalize(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	until := s.clock.Now().Add(d)
	if until.After(s.blockedUntil) {
		s.blockedUntil = until
	}
	return nil
}

// Window returns the configured window length.
func (s *SlidingWindow) Window() time.Duration { return s.window }
