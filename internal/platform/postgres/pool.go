// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package postgres provides the PostgreSQL connection pool behind the release
// repository.
//
// # Architecture
//
// This package is part of the Infrastructure layer. It owns connection setup
// (pgxpool); the queries live in the release package.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/releasewatch/internal/platform/constants"
)

// Pool settings sized for a short-lived batch job. The pool lives for one run,
// so connections are never recycled by age.
const (
	// maxConns covers the calendar workers, the email channel and the persist stage.
	maxConns = 8
	// connectTimeout bounds establishing a new connection.
	connectTimeout = 5 * time.Second
	// pingTimeout bounds the startup reachability check.
	pingTimeout = 2 * time.Second
)

// Config parses dsn and applies the job's pool settings.
//
// Sessions are tagged with application_name so the job's connections are
// visible in pg_stat_activity, unless the DSN already names one. Every session
// carries [constants.StatementTimeout] as its statement_timeout.
func Config(dsn string) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid DSN: %w", err)
	}

	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = 0
	poolConfig.ConnConfig.ConnectTimeout = connectTimeout

	params := poolConfig.ConnConfig.RuntimeParams
	if params["application_name"] == "" {
		params["application_name"] = constants.AppName
	}
	params["statement_timeout"] = strconv.FormatInt(constants.StatementTimeout.Milliseconds(), 10)

	return poolConfig, nil
}

// NewPool creates a pool from dsn and checks the database is reachable.
func NewPool(ctx context.Context, dsn string, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := Config(dsn)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}

	logger.Info("postgres pool connected",
		slog.String("database", poolConfig.ConnConfig.Database),
		slog.String("application_name", poolConfig.ConnConfig.RuntimeParams["application_name"]),
		slog.Int("max_conns", int(poolConfig.MaxConns)),
	)
	return pool, nil
}
