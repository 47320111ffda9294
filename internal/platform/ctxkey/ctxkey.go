// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package ctxkey defines typed context keys used across the pipeline.
//
// # Safety
//
// Using a private, unexported type for keys prevents collisions with third-party
// packages that might also use context for storage.
package ctxkey

// key is an unexported type used for context keys to ensure type safety.
type key string

const (
	// KeyRunID is the context key for the identifier of the current pipeline run.
	KeyRunID key = "run_id"

	// KeyLogger is the context key for the per-run [*log/slog.Logger].
	KeyLogger key = "logger"
)
