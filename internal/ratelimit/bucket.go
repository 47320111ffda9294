// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package ratelimit

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/taibuivan/releasewatch/internal/platform/apperr"
)

// TokenBucket paces requests to a steady rate with a small burst.
type TokenBucket struct {
	name    string
	limiter *rate.Limiter
}

// NewTokenBucket allows perSecond requests per second with the given burst.
func NewTokenBucket(name string, perSecond float64, burst int) *TokenBucket {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Acquire waits for a token. rate.Limiter refuses upfront when the wait would
// pass the deadline.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return apperr.RateLimitTimeout(b.name, err)
	}
	return nil
}
