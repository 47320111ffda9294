// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package pipeline

import (
	"context"
	"errors"
	"time"

	redisstore "github.com/taibuivan/releasewatch/internal/platform/redis"
)

// ErrLocked is returned by a [Locker] when another run is in progress.
var ErrLocked = errors.New("pipeline: another run holds the lock")

// Locker keeps scheduled runs from overlapping.
type Locker interface {
	// TryLock takes the run lock without waiting. The returned function releases it.
	TryLock(ctx context.Context) (func(context.Context) error, error)
}

// RedisLocker is a [Locker] backed by a Redis key.
type RedisLocker struct {
	locker *redisstore.Locker
	key    string
	ttl    time.Duration
}

// NewRedisLocker locks key for at most ttl.
func NewRedisLocker(locker *redisstore.Locker, key string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{locker: locker, key: key, ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context) (func(context.Context) error, error) {
	lock, err := l.locker.Acquire(ctx, l.key, l.ttl)
	if errors.Is(err, redisstore.ErrLockNotAcquired) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}
