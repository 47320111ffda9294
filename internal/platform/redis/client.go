// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package redis provides the optional Redis client shared by job replicas.

When configured, replicas coordinate through it on two things: the AniList
request window and the lock that keeps scheduled runs from overlapping. Both
live in short-lived keys under [constants.RedisPrefixRateLimit] and
[constants.RedisKeyRunLock].
*/
package redis

import (
	stdctx "context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/releasewatch/internal/platform/constants"
)

// A run issues a handful of commands per AniList page and one lock round trip,
// so a tiny pool is enough.
const (
	poolSize    = 2
	dialTimeout = 3 * time.Second
	ioTimeout   = 2 * time.Second
	pingTimeout = 2 * time.Second
	maxRetries  = 2
)

// Options parses redisURL and applies the job's client settings. Connections
// are named after the job so they can be told apart in CLIENT LIST.
func Options(redisURL string) (*redis.Options, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid URL: %w", err)
	}

	if options.ClientName == "" {
		options.ClientName = constants.AppName
	}
	options.PoolSize = poolSize
	options.MaxRetries = maxRetries
	options.DialTimeout = dialTimeout
	options.ReadTimeout = ioTimeout
	options.WriteTimeout = ioTimeout
	options.ContextTimeoutEnabled = true

	return options, nil
}

// NewClient connects to redisURL and pings it before returning.
func NewClient(context stdctx.Context, redisURL string, logger *slog.Logger) (*redis.Client, error) {
	options, err := Options(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(options)

	pingCtx, cancel := stdctx.WithTimeout(context, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}

	logger.Info("redis client connected",
		slog.String("addr", options.Addr),
		slog.Int("db", options.DB),
		slog.String("client_name", options.ClientName),
	)
	return client, nil
}
