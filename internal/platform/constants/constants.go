// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package constants provides centralized, immutable values for the entire job.

It defines default timeouts, limits, and cross-cutting keys that are shared
between different layers of the system.

Categories:

  - Metadata: Name and version stamped on logs and metrics.
  - Timing: Connection and statement timeouts for infrastructure clients.
  - Limits: Response size caps and retry budgets for upstream calls.
  - Keys: Redis key prefixes and source identifiers.

Using this package ensures Magic Strings and Magic Numbers are eliminated
from the pipeline logic.
*/
package constants

import "time"

// # Metadata

const (
	AppName    = "releasewatch"
	AppVersion = "0.1.0-dev"
)

// # Timing

const (
	// StatementTimeout bounds every SQL statement issued by the repository.
	StatementTimeout = 30 * time.Second

	// LockTTL is how long a run lock survives if the holder dies without releasing it.
	LockTTL = 30 * time.Minute

	// ShutdownTimeout bounds the final report, metrics push and connection cleanup.
	ShutdownTimeout = 15 * time.Second
)

// # Upstream Limits

const (
	// MaxResponseBytes caps how much of a single upstream response body is read.
	MaxResponseBytes = 10 << 20

	// PageRetryAttempts is how many times a failed GraphQL page is retried.
	PageRetryAttempts = 3

	// DefaultRetryBase is the first backoff delay between page retries.
	DefaultRetryBase = time.Second
)

// # Source Identifiers

const (
	// SourceAniList is the source key stamped on releases from the metadata API.
	SourceAniList = "anilist"
)

// # Redis Prefixes (Key Taxonomy)

const (
	RedisPrefixRateLimit = "releasewatch:ratelimit:"
	RedisKeyRunLock      = "releasewatch:lock:run"
)
