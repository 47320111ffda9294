// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package config handles job-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to collectors, the repository and the dispatcher via constructors.
  - Zero Hidden State: No global variables are used to store config.

The scheduler owns the environment; the job only consumes it.
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// # Store Drivers

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// # Configuration Schema

// Config holds all runtime configuration for one releasewatch run.
type Config struct {

	// Runtime settings
	Environment string        `env:"ENVIRONMENT" envDefault:"development"`
	Debug       bool          `env:"DEBUG"       envDefault:"false"`
	RunTimeout  time.Duration `env:"RUN_TIMEOUT" envDefault:"10m"`
	Timezone    string        `env:"TIMEZONE"    envDefault:"Asia/Tokyo"`

	// Persistence
	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH"  envDefault:"./data/releasewatch.db"`

	// RedisURL enables the shared AniList limiter and the run lock when set.
	RedisURL string `env:"REDIS_URL"`

	// Metadata API (AniList GraphQL)
	AniListEndpoint   string        `env:"ANILIST_ENDPOINT"    envDefault:"https://graphql.anilist.co"`
	AniListPageSize   int           `env:"ANILIST_PAGE_SIZE"   envDefault:"50"`
	AniListRateQuota  int           `env:"ANILIST_RATE_QUOTA"  envDefault:"90"`
	AniListRateWindow time.Duration `env:"ANILIST_RATE_WINDOW" envDefault:"60s"`
	AniListRetryBase  time.Duration `env:"ANILIST_RETRY_BASE"  envDefault:"1s"`
	AniListTimeout    time.Duration `env:"ANILIST_TIMEOUT"     envDefault:"30s"` // Per request; a timed-out page is retried

	// Season overrides. Empty values derive the season from the run clock.
	Season     string `env:"SEASON"`
	SeasonYear int    `env:"SEASON_YEAR"`

	// RSS / Atom feeds
	FeedSources []FeedDescriptor `env:"FEED_SOURCES" envSeparator:","`
	FeedTimeout time.Duration    `env:"FEED_TIMEOUT" envDefault:"15s"`
	FeedWorkers int              `env:"FEED_WORKERS" envDefault:"4"`

	// Filtering
	NGKeywords []string `env:"NG_KEYWORDS" envSeparator:","`
	NGGenres   []string `env:"NG_GENRES"   envSeparator:","`
	NGTags     []string `env:"NG_TAGS"     envSeparator:","`
	DropAdult  bool     `env:"DROP_ADULT"  envDefault:"true"`

	// Dispatch
	Channels        []string        `env:"CHANNELS"         envSeparator:"," envDefault:"email,calendar"`
	RetrySchedule   []time.Duration `env:"RETRY_SCHEDULE"   envSeparator:"," envDefault:"1m,5m,15m"`
	EmailBatchSize  int             `env:"EMAIL_BATCH_SIZE" envDefault:"20"`
	LookaheadDays   int             `env:"LOOKAHEAD_DAYS"   envDefault:"14"`
	DispatchWorkers int             `env:"DISPATCH_WORKERS" envDefault:"4"`

	// Mail (SMTP)
	SMTPHost          string   `env:"SMTP_HOST"`
	SMTPPort          int      `env:"SMTP_PORT"            envDefault:"587"`
	SMTPUsername      string   `env:"SMTP_USERNAME"`
	SMTPPassword      string   `env:"SMTP_PASSWORD"`
	MailFrom          string   `env:"MAIL_FROM"`
	MailTo            []string `env:"MAIL_TO"              envSeparator:","`
	MailRatePerSecond float64  `env:"MAIL_RATE_PER_SECOND" envDefault:"1"`

	// Calendar (Google Calendar)
	GoogleCredentialsFile string        `env:"GOOGLE_CREDENTIALS_FILE"`
	CalendarID            string        `env:"CALENDAR_ID"          envDefault:"primary"`
	CalendarRateQuota     int           `env:"CALENDAR_RATE_QUOTA"  envDefault:"10"`
	CalendarRateWindow    time.Duration `env:"CALENDAR_RATE_WINDOW" envDefault:"1s"`

	// Metrics
	PushgatewayURL string `env:"PUSHGATEWAY_URL"`
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct and validates it.
func Load() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// Use the 'env' package to map environment variables to struct fields.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field rules that struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if c.AniListPageSize <= 0 || c.AniListRateQuota <= 0 || c.AniListRateWindow <= 0 {
		errs = append(errs, errors.New("ANILIST_PAGE_SIZE, ANILIST_RATE_QUOTA and ANILIST_RATE_WINDOW must be positive"))
	}
	if c.AniListTimeout <= 0 || c.FeedTimeout <= 0 {
		errs = append(errs, errors.New("ANILIST_TIMEOUT and FEED_TIMEOUT must be positive"))
	}
	if c.Season != "" && !isSeason(c.Season) {
		errs = append(errs, fmt.Errorf("unknown SEASON %q", c.Season))
	}
	if len(c.RetrySchedule) == 0 {
		errs = append(errs, errors.New("RETRY_SCHEDULE must contain at least one delay"))
	}
	if c.EmailBatchSize <= 0 || c.DispatchWorkers <= 0 || c.FeedWorkers <= 0 {
		errs = append(errs, errors.New("EMAIL_BATCH_SIZE, DISPATCH_WORKERS and FEED_WORKERS must be positive"))
	}
	if c.LookaheadDays < 0 {
		errs = append(errs, errors.New("LOOKAHEAD_DAYS cannot be negative"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid TIMEZONE: %w", err))
	}

	for _, ch := range c.Channels {
		switch ch {
		case "email":
			if c.SMTPHost == "" || c.MailFrom == "" || len(c.MailTo) == 0 {
				errs = append(errs, errors.New("email channel requires SMTP_HOST, MAIL_FROM and MAIL_TO"))
			}
		case "calendar":
			if c.GoogleCredentialsFile == "" {
				errs = append(errs, errors.New("calendar channel requires GOOGLE_CREDENTIALS_FILE"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown channel %q", ch))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Location returns the timezone release dates are expressed in.
// Validate guarantees the name resolves.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment reports whether the job is running in development mode, where
// logs are written as text for a terminal instead of JSON.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// HasChannel reports whether the named dispatch channel is enabled.
func (c *Config) HasChannel(name string) bool {
	for _, ch := range c.Channels {
		if ch == name {
			return true
		}
	}
	return false
}

func isSeason(s string) bool {
	switch strings.ToUpper(s) {
	case "WINTER", "SPRING", "SUMMER", "FALL":
		return true
	}
	return false
}
