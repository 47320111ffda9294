// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/taibuivan/releasewatch/internal/platform/apperr"
	"github.com/taibuivan/releasewatch/internal/platform/constants"
	"github.com/taibuivan/releasewatch/internal/platform/ctxutil"
	"github.com/taibuivan/releasewatch/internal/ratelimit"
	"github.com/taibuivan/releasewatch/internal/release"
)

// Options tunes a [Dispatcher].
type Options struct {
	Recipients    []string
	BatchSize     int // Releases per email
	Workers       int // Concurrent calendar calls
	LookaheadDays int
	Location      *time.Location
	Schedule      RetrySchedule

	MailLimiter     ratelimit.Limiter
	CalendarLimiter ratelimit.Limiter

	// Attempts counts outcomes by channel and status. Optional.
	Attempts *prometheus.CounterVec

	// Clock replaces time.Now in tests.
	Clock func() time.Time
}

// ChannelSummary counts one channel's work in a dispatch.
type ChannelSummary struct {
	Pending   int // Pairs due at the start
	Attempted int
	Synced    int
	Failed    int // Retryable failures
	Permanent int
	Skipped   int // Left pending by cancellation or a limiter timeout
}

// DispatchSummary is the per-channel result of [Dispatcher.Dispatch].
type DispatchSummary struct {
	Channels map[release.Channel]ChannelSummary
}

// Dispatcher delivers pending releases on every enabled channel.
//
// # Concurrency
//
// Channels run concurrently. Calendar events are created by up to
// Options.Workers goroutines behind the calendar limiter. Emails are sent one
// batch at a time.
type Dispatcher struct {
	store    Store
	audit    AuditSink
	mail     MailTransport
	calendar CalendarTransport
	opts     Options
}

// NewDispatcher creates a dispatcher. A nil transport disables its channel.
func NewDispatcher(store Store, audit AuditSink, mail MailTransport, calendar CalendarTransport, opts Options) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if len(opts.Schedule) == 0 {
		opts.Schedule = DefaultSchedule
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Dispatcher{store: store, audit: audit, mail: mail, calendar: calendar, opts: opts}
}

// Dispatch delivers every due pair on channels.
//
// Delivery failures are recorded and counted, never returned. The error is
// non-nil only when bookkeeping fails (PERSISTENCE_ERROR), which aborts the run.
func (d *Dispatcher) Dispatch(ctx context.Context, channels []release.Channel) (DispatchSummary, error) {
	summaries := make([]ChannelSummary, len(channels))

	g, gctx := errgroup.WithContext(ctx)
	for i, channel := range channels {
		g.Go(func() error {
			var err error
			switch channel {
			case release.ChannelEmail:
				summaries[i], err = d.dispatchEmail(gctx)
			case release.ChannelCalendar:
				summaries[i], err = d.dispatchCalendar(gctx)
			default:
				ctxutil.GetLogger(ctx).Warn("dispatch_unknown_channel", slog.String("channel", string(channel)))
			}
			return err
		})
	}

	err := g.Wait()

	summary := DispatchSummary{Channels: make(map[release.Channel]ChannelSummary, len(channels))}
	for i, channel := range channels {
		summary.Channels[channel] = summaries[i]
	}
	return summary, err
}

// pending lists the pairs of channel due now within the lookahead window.
func (d *Dispatcher) pending(ctx context.Context, channel release.Channel) ([]release.Pending, error) {
	now := d.opts.Clock()
	today := release.Date(now, d.opts.Location)

	return d.store.ListPendingForChannel(ctx, release.PendingQuery{
		Channel: channel,
		From:    today,
		To:      today.AddDate(0, 0, d.opts.LookaheadDays),
		Now:     now,
	})
}

// # Outcome Bookkeeping

// record stores the outcome of one attempt and appends its audit entry.
func (d *Dispatcher) record(ctx context.Context, p release.Pending, channel release.Channel, ref string, sendErr error, attemptedAt time.Time) (release.Outcome, error) {
	logger := ctxutil.GetLogger(ctx)

	outcome := release.Outcome{
		Status:      release.StatusSynced,
		ExternalRef: ref,
		AttemptedAt: attemptedAt,
	}
	if sendErr != nil {
		failures := 1
		if p.State != nil {
			failures = p.State.AttemptCount + 1
		}
		next, permanent := d.opts.Schedule.Next(failures, attemptedAt)

		outcome.Status = release.StatusFailed
		outcome.Error = sendErr.Error()
		outcome.NextAttemptAt = next
		outcome.Permanent = permanent
	}

	// The remote side already acted; the result is stored even if the run was
	// cancelled meanwhile.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShutdownTimeout)
	defer cancel()

	state, err := d.store.RecordChannelOutcome(bctx, p.Release.ID, channel, outcome)
	if err != nil {
		return outcome, err
	}

	err = d.audit.AppendNotificationLog(bctx, release.NotificationRecord{
		RunID:       ctxutil.GetRunID(ctx),
		ReleaseID:   p.Release.ID,
		Channel:     channel,
		Status:      outcome.Status,
		Attempt:     state.AttemptCount,
		Error:       outcome.Error,
		ExternalRef: state.ExternalRef,
		Permanent:   outcome.Permanent,
		RecordedAt:  attemptedAt,
	})
	if err != nil {
		return outcome, err
	}

	attrs := []any{
		slog.String("release_id", p.Release.ID),
		slog.String("channel", string(channel)),
		slog.Int("attempt", state.AttemptCount),
	}
	switch {
	case outcome.Status == release.StatusSynced:
		logger.Info("dispatch_synced", attrs...)
	case outcome.Permanent:
		logger.Error("dispatch_permanent", append(attrs, slog.Any("error", apperr.Dispatch(string(channel), sendErr)))...)
	default:
		logger.Warn("dispatch_failed", append(attrs, slog.Any("error", sendErr), slog.Time("next_attempt_at", *outcome.NextAttemptAt))...)
	}

	d.count(channel, outcome)
	return outcome, nil
}

func (d *Dispatcher) count(channel release.Channel, outcome release.Outcome) {
	if d.opts.Attempts == nil {
		return
	}
	status := string(outcome.Status)
	if outcome.Permanent {
		status = "permanent"
	}
	d.opts.Attempts.WithLabelValues(string(channel), status).Inc()
}

// tally accumulates a ChannelSummary from concurrent workers.
type tally struct {
	mu  sync.Mutex
	sum ChannelSummary
}

func (t *tally) add(outcome release.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sum.Attempted++
	switch {
	case outcome.Status == release.StatusSynced:
		t.sum.Synced++
	case outcome.Permanent:
		t.sum.Permanent++
	default:
		t.sum.Failed++
	}
}

func (t *tally) skip(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sum.Skipped += n
}

func (t *tally) summary() ChannelSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sum
}
