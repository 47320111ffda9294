// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package pipeline runs one end-to-end releasewatch job.

A run moves through fixed stages and always ends with a [Report]:

	collecting → normalizing → persisting → dispatching → reporting → done
	                                                         (any) → failed

Fatal:

  - AniList COLLECTION_ERROR or RATE_LIMIT_TIMEOUT.
  - Any PERSISTENCE_ERROR.
  - The run deadline passing while collecting or persisting.

Never fatal: a broken feed, an invalid or filtered candidate, a failed delivery,
the deadline passing while dispatching.
*/
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/taibuivan/releasewatch/internal/collector"
	"github.com/taibuivan/releasewatch/internal/filter"
	"github.com/taibuivan/releasewatch/internal/normalize"
	"github.com/taibuivan/releasewatch/internal/notify"
	"github.com/taibuivan/releasewatch/internal/platform/apperr"
	"github.com/taibuivan/releasewatch/internal/platform/config"
	"github.com/taibuivan/releasewatch/internal/platform/constants"
	"github.com/taibuivan/releasewatch/internal/platform/ctxutil"
	"github.com/taibuivan/releasewatch/internal/platform/metrics"
	"github.com/taibuivan/releasewatch/internal/release"
	"github.com/taibuivan/releasewatch/pkg/uuid"
)

// # Collaborators

// MetadataSource yields the season's airings. *collector.AniListCollector satisfies it.
type MetadataSource interface {
	Collect(ctx context.Context, season collector.Season) iter.Seq2[collector.RawRecord, error]
}

// FeedSource fetches every configured feed. *collector.FeedCollector satisfies it.
type FeedSource interface {
	Collect(ctx context.Context, feeds []config.FeedDescriptor) collector.FeedResult
}

// Store is the persistence slice the orchestrator writes through.
type Store interface {
	UpsertWork(ctx context.Context, input release.WorkInput) (string, bool, error)
	GetWork(ctx context.Context, id string) (*release.Work, error)
	UpsertRelease(ctx context.Context, workID string, candidate release.Candidate) (string, bool, error)
}

// Dispatcher delivers pending releases. *notify.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, channels []release.Channel) (notify.DispatchSummary, error)
}

// Deps groups the collaborators of an [Orchestrator]. Feeds, Dispatcher,
// Locker and Metrics are optional.
type Deps struct {
	AniList    MetadataSource
	Feeds      FeedSource
	Normalizer *normalize.Normalizer
	Filter     *filter.Filter
	Store      Store
	Dispatcher Dispatcher
	Locker     Locker
	Metrics    *metrics.Run
}

// Options tunes one run.
type Options struct {
	Season      collector.Season
	FeedSources []config.FeedDescriptor
	Channels    []release.Channel
	Timeout     time.Duration // Whole-run deadline; zero means none
	Clock       func() time.Time
}

// Orchestrator wires the stages together. Build one per process.
type Orchestrator struct {
	deps Deps
	opts Options
}

// New creates an orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRun()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Orchestrator{deps: deps, opts: opts}
}

// run carries the mutable state of one execution.
type run struct {
	report *Report
	logger *slog.Logger
	stage  State
	mark   time.Time
	clock  func() time.Time
}

func (r *run) enter(stage State) {
	now := r.clock()
	if r.stage != "" {
		r.report.Stages[r.stage] += now.Sub(r.mark)
	}
	r.stage, r.mark = stage, now
	r.logger.Debug("stage_entered", slog.String("stage", string(stage)))
}

// Run executes one job and returns its report. It never panics on component
// failure; the report's State tells how far the run got.
func (o *Orchestrator) Run(ctx context.Context) *Report {
	runID := uuid.New()
	logger := ctxutil.GetLogger(ctx).With(slog.String("run_id", runID))
	ctx = ctxutil.WithLogger(ctxutil.WithRunID(ctx, runID), logger)

	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	r := &run{
		report: newReport(runID, o.opts.Clock()),
		logger: logger,
		clock:  o.opts.Clock,
	}
	r.report.Season = o.opts.Season.String()

	logger.Info("run_started", slog.String("season", r.report.Season))

	if o.deps.Locker != nil {
		unlock, err := o.deps.Locker.TryLock(ctx)
		if errors.Is(err, ErrLocked) {
			r.report.State = StateSkipped
			return o.finish(ctx, r)
		}
		if err != nil {
			return o.fail(ctx, r, err)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShutdownTimeout)
			defer cancel()
			if err := unlock(releaseCtx); err != nil {
				logger.Warn("run_lock_release_failed", slog.Any("error", err))
			}
		}()
	}

	r.enter(StateCollecting)
	records, err := o.collect(ctx, r)
	if err != nil {
		return o.fail(ctx, r, err)
	}

	r.enter(StateNormalizing)
	candidates := o.prepare(r, records)

	r.enter(StatePersisting)
	if err := o.persist(ctx, r, candidates); err != nil {
		return o.fail(ctx, r, err)
	}

	r.enter(StateDispatching)
	if o.deps.Dispatcher != nil && len(o.opts.Channels) > 0 {
		summary, err := o.deps.Dispatcher.Dispatch(ctx, o.opts.Channels)
		r.report.Channels = summary.Channels
		switch {
		case err != nil && ctx.Err() != nil:
			// Undelivered pairs stay pending for the next run.
			logger.Warn("dispatch_interrupted", slog.Any("error", err))
		case err != nil:
			return o.fail(ctx, r, err)
		}
	}

	r.enter(StateReporting)
	r.report.State = StateDone
	return o.finish(ctx, r)
}

// # Stages

// collect drains AniList while the feeds are fetched concurrently.
func (o *Orchestrator) collect(ctx context.Context, r *run) ([]collector.RawRecord, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg    sync.WaitGroup
		feeds collector.FeedResult
	)
	if o.deps.Feeds != nil && len(o.opts.FeedSources) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			feeds = o.deps.Feeds.Collect(ctx, o.opts.FeedSources)
		}()
	}

	var records []collector.RawRecord
	var collectErr error
	for record, err := range o.deps.AniList.Collect(ctx, o.opts.Season) {
		if err != nil {
			collectErr = err
			break
		}
		records = append(records, record)
	}

	if collectErr != nil {
		// Feeds are worthless once the run is lost.
		cancel()
	}
	wg.Wait()

	if collectErr != nil {
		return nil, collectErr
	}

	for record := range feeds.All() {
		records = append(records, record)
	}
	for _, failure := range feeds.Failures {
		r.report.FeedFailures = append(r.report.FeedFailures, FeedFailure{Feed: failure.Feed, Error: failure.Err.Error()})
		o.deps.Metrics.FeedFailures.Inc()
	}

	for _, record := range records {
		r.report.Collected[record.Source]++
		o.deps.Metrics.RecordsCollected.WithLabelValues(record.Source).Inc()
	}

	r.logger.Info("collect_finished",
		slog.Int("records", len(records)),
		slog.Int("feed_failures", len(feeds.Failures)),
	)
	return records, nil
}

// prepare normalizes and filters records. Rejections are counted, never fatal.
func (o *Orchestrator) prepare(r *run, records []collector.RawRecord) []release.Candidate {
	candidates := make([]release.Candidate, 0, len(records))

	for _, record := range records {
		candidate, err := o.deps.Normalizer.Normalize(record)
		if err != nil {
			r.report.Invalid++
			o.deps.Metrics.CandidatesRejected.WithLabelValues("invalid").Inc()
			r.logger.Debug("candidate_invalid", slog.String("source", record.Source), slog.Any("error", err))
			continue
		}
		candidates = append(candidates, candidate)
	}

	if o.deps.Filter == nil {
		return candidates
	}

	kept, rejected := o.deps.Filter.Apply(candidates)
	for _, rejection := range rejected {
		r.report.Filtered[rejection.Decision.Reason]++
		o.deps.Metrics.CandidatesRejected.WithLabelValues(rejection.Decision.Rule).Inc()
		r.logger.Debug("candidate_filtered",
			slog.String("title", rejection.Candidate.Work.Title),
			slog.String("reason", rejection.Decision.Reason),
		)
	}
	return kept
}

// cachedWork is the id and stored kind of a work resolved during this run.
type cachedWork struct {
	id   string
	kind release.Kind
}

// persist upserts works and releases. Any storage error aborts the run.
//
// Works are identified by title alone, so a candidate may land on an existing
// work of the other kind. That is kept but logged and counted.
func (o *Orchestrator) persist(ctx context.Context, r *run, candidates []release.Candidate) error {
	works := make(map[string]cachedWork)

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return apperr.Persistence("run deadline reached while persisting", err)
		}

		work, ok := works[candidate.Work.Title]
		if !ok {
			resolved, err := o.resolveWork(ctx, r, candidate.Work)
			if err != nil {
				return err
			}
			works[candidate.Work.Title] = resolved
			work = resolved
		}

		if work.kind != candidate.Work.Kind {
			r.report.KindMismatches++
			r.logger.Warn("work_kind_mismatch",
				slog.String("title", candidate.Work.Title),
				slog.String("work_kind", string(work.kind)),
				slog.String("candidate_kind", string(candidate.Work.Kind)),
				slog.String("source", candidate.Source),
			)
		}

		_, isNew, err := o.deps.Store.UpsertRelease(ctx, work.id, candidate)
		if err != nil {
			return err
		}
		if isNew {
			r.report.Persisted++
			o.deps.Metrics.ReleasesPersisted.WithLabelValues("new").Inc()
		} else {
			r.report.Duplicates++
			o.deps.Metrics.ReleasesPersisted.WithLabelValues("duplicate").Inc()
		}
	}

	r.logger.Info("persist_finished",
		slog.Int("new", r.report.Persisted),
		slog.Int("duplicates", r.report.Duplicates),
		slog.Int("works_created", r.report.WorksCreated),
		slog.Int("kind_mismatches", r.report.KindMismatches),
	)
	return nil
}

// resolveWork upserts a work and reads back the stored kind when it already existed.
func (o *Orchestrator) resolveWork(ctx context.Context, r *run, input release.WorkInput) (cachedWork, error) {
	id, created, err := o.deps.Store.UpsertWork(ctx, input)
	if err != nil {
		return cachedWork{}, err
	}
	if created {
		r.report.WorksCreated++
		return cachedWork{id: id, kind: input.Kind}, nil
	}

	stored, err := o.deps.Store.GetWork(ctx, id)
	if err != nil {
		return cachedWork{}, err
	}
	if stored == nil {
		return cachedWork{}, apperr.Persistence(fmt.Sprintf("work %s vanished after upsert", id), nil)
	}
	return cachedWork{id: id, kind: stored.Kind}, nil
}

// # Termination

func (o *Orchestrator) fail(ctx context.Context, r *run, err error) *Report {
	r.report.State = StateFailed
	r.report.FailedAt = r.stage
	r.report.Err = err
	r.report.Error = err.Error()
	return o.finish(ctx, r)
}

func (o *Orchestrator) finish(ctx context.Context, r *run) *Report {
	r.enter(r.report.State)
	r.report.FinishedAt = o.opts.Clock()
	delete(r.report.Stages, r.report.State)

	o.deps.Metrics.RunDuration.Set(r.report.Duration().Seconds())
	if r.report.State == StateDone {
		o.deps.Metrics.LastSuccess.Set(float64(r.report.FinishedAt.Unix()))
	}

	attrs := []any{slog.Any("report", r.report)}
	switch r.report.State {
	case StateFailed:
		r.logger.ErrorContext(ctx, "run_failed", append(attrs, slog.Bool("fatal", apperr.IsFatal(r.report.Err)))...)
	case StateSkipped:
		r.logger.InfoContext(ctx, "run_skipped", attrs...)
	default:
		r.logger.InfoContext(ctx, "run_finished", attrs...)
	}
	return r.report
}
