// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Command releasewatch runs one release ingestion and notification job, then exits.
//
// It is meant to be started by a scheduler (cron, a Kubernetes CronJob, systemd
// timers). The process exit status is non-zero when the run failed.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Open the store (SQLite or PostgreSQL) and run migrations.
//  4. Connect to Redis when configured (shared limiter, run lock).
//  5. Wire collectors, normalizer, filter and dispatcher.
//  6. Run the pipeline under the run deadline.
//  7. Push metrics and exit with the run's status.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/api/option"

	"github.com/taibuivan/releasewatch/internal/collector"
	"github.com/taibuivan/releasewatch/internal/filter"
	"github.com/taibuivan/releasewatch/internal/normalize"
	"github.com/taibuivan/releasewatch/internal/notify"
	"github.com/taibuivan/releasewatch/internal/pipeline"
	"github.com/taibuivan/releasewatch/internal/platform/config"
	"github.com/taibuivan/releasewatch/internal/platform/constants"
	"github.com/taibuivan/releasewatch/internal/platform/httpclient"
	"github.com/taibuivan/releasewatch/internal/platform/metrics"
	"github.com/taibuivan/releasewatch/internal/platform/migration"
	pgstore "github.com/taibuivan/releasewatch/internal/platform/postgres"
	redisstore "github.com/taibuivan/releasewatch/internal/platform/redis"
	"github.com/taibuivan/releasewatch/internal/platform/sqlite"
	"github.com/taibuivan/releasewatch/internal/ratelimit"
	"github.com/taibuivan/releasewatch/internal/release"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	log := newLogger(slog.LevelInfo, false)
	slog.SetDefault(log)

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return startupFailure(log, err, "load configuration")
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log = newLogger(level, cfg.IsDevelopment())
	slog.SetDefault(log)
	log.Debug("debug_logging_enabled")

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("store", cfg.StoreDriver),
		slog.Any("channels", cfg.Channels),
		slog.Int("feeds", len(cfg.FeedSources)),
	)

	// Scheduler stop signals cancel the run; in-flight pairs stay pending.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	runMetrics := metrics.NewRun()

	// ── 3. Store ──────────────────────────────────────────────────────────
	repository, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return startupFailure(log, err, "open store")
	}
	defer closeStore()

	// ── 4. Redis (optional) ───────────────────────────────────────────────
	var (
		anilistLimiter ratelimit.Limiter = ratelimit.NewSlidingWindow("anilist", cfg.AniListRateQuota, cfg.AniListRateWindow)
		locker         pipeline.Locker
	)
	if cfg.RedisURL != "" {
		rdb, err := redisstore.NewClient(ctx, cfg.RedisURL, log)
		if err != nil {
			return startupFailure(log, err, "connect to redis")
		}
		defer func() {
			log.Info("closing redis client")
			if cerr := rdb.Close(); cerr != nil {
				log.Error("redis close error", slog.Any("error", cerr))
			}
		}()

		anilistLimiter = ratelimit.NewRedisSlidingWindow(rdb, "anilist", cfg.AniListRateQuota, cfg.AniListRateWindow)
		locker = pipeline.NewRedisLocker(redisstore.NewLocker(rdb), constants.RedisKeyRunLock, constants.LockTTL)
	}

	// ── 5. Domain Wiring ──────────────────────────────────────────────────
	loc := cfg.Location()

	anilist := collector.NewAniListCollector(
		httpclient.New("anilist", cfg.AniListTimeout, runMetrics.UpstreamRequests),
		anilistLimiter,
		collector.AniListConfig{
			Endpoint:  cfg.AniListEndpoint,
			PageSize:  cfg.AniListPageSize,
			RetryBase: cfg.AniListRetryBase,
		},
	)
	feeds := collector.NewFeedCollector(httpclient.New("feed", 0, runMetrics.UpstreamRequests), cfg.FeedTimeout, cfg.FeedWorkers)

	var (
		mail     notify.MailTransport
		calendar notify.CalendarTransport
		channels []release.Channel
	)
	if cfg.HasChannel(string(release.ChannelEmail)) {
		mail = notify.NewSMTPTransport(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
		channels = append(channels, release.ChannelEmail)
	}
	if cfg.HasChannel(string(release.ChannelCalendar)) {
		gcal, err := notify.NewGoogleCalendar(ctx, cfg.CalendarID, option.WithCredentialsFile(cfg.GoogleCredentialsFile))
		if err != nil {
			return startupFailure(log, err, "create calendar client")
		}
		calendar = gcal
		channels = append(channels, release.ChannelCalendar)
	}

	dispatcher := notify.NewDispatcher(repository, repository, mail, calendar, notify.Options{
		Recipients:      cfg.MailTo,
		BatchSize:       cfg.EmailBatchSize,
		Workers:         cfg.DispatchWorkers,
		LookaheadDays:   cfg.LookaheadDays,
		Location:        loc,
		Schedule:        notify.RetrySchedule(cfg.RetrySchedule),
		MailLimiter:     ratelimit.NewTokenBucket("smtp", cfg.MailRatePerSecond, 1),
		CalendarLimiter: ratelimit.NewSlidingWindow("calendar", cfg.CalendarRateQuota, cfg.CalendarRateWindow),
		Attempts:        runMetrics.DispatchAttempts,
	})

	orchestrator := pipeline.New(pipeline.Deps{
		AniList:    anilist,
		Feeds:      feeds,
		Normalizer: normalize.New(loc),
		Filter: filter.New(filter.Rules{
			Keywords:  cfg.NGKeywords,
			Genres:    cfg.NGGenres,
			Tags:      cfg.NGTags,
			DropAdult: cfg.DropAdult,
		}),
		Store:      repository,
		Dispatcher: dispatcher,
		Locker:     locker,
		Metrics:    runMetrics,
	}, pipeline.Options{
		Season:      collector.ResolveSeason(time.Now(), loc, cfg.Season, cfg.SeasonYear),
		FeedSources: cfg.FeedSources,
		Channels:    channels,
		Timeout:     cfg.RunTimeout,
	})

	// ── 6. Run ────────────────────────────────────────────────────────────
	report := orchestrator.Run(ctx)

	// ── 7. Metrics ────────────────────────────────────────────────────────
	if cfg.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShutdownTimeout)
		defer cancel()
		if err := runMetrics.Push(pushCtx, cfg.PushgatewayURL); err != nil {
			log.Warn("metrics_push_failed", slog.Any("error", err))
		}
	}

	return report.ExitCode()
}

// openStore opens the configured backend, applies migrations and returns the
// repository with its cleanup.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (release.Repository, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		if err := migration.RunUp(cfg.DatabaseURL, log); err != nil {
			return nil, nil, err
		}
		pool, err := pgstore.NewPool(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, nil, err
		}
		return release.NewPostgresRepository(pool), func() {
			log.Info("closing postgres pool")
			pool.Close()
		}, nil

	default:
		db, err := sqlite.Open(ctx, cfg.SQLitePath, log)
		if err != nil {
			return nil, nil, err
		}
		if err := migration.RunUpSQLite(db, log); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return release.NewSQLiteRepository(db), func() {
			log.Info("closing sqlite database")
			if cerr := db.Close(); cerr != nil {
				log.Error("sqlite close error", slog.Any("error", cerr))
			}
		}, nil
	}
}

// newLogger writes JSON for log collectors, or text when a developer runs the
// job from a terminal.
func newLogger(level slog.Level, text bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if text {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler).With(slog.String("app", constants.AppName))
}

// startupFailure logs a structured fatal error and returns the exit status.
//
// It is limited to startup wiring. Once the pipeline runs, failures are carried
// in its report.
func startupFailure(log *slog.Logger, err error, context string) int {
	log.Error("startup failure",
		slog.String("context", context),
		slog.Any("error", err),
	)
	return 1
}
