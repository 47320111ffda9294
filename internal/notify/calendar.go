// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package notify

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/taibuivan/releasewatch/internal/platform/constants"
	"github.com/taibuivan/releasewatch/internal/platform/ctxutil"
	"github.com/taibuivan/releasewatch/internal/release"
)

// EventFor builds the calendar event of a dated release.
func EventFor(r release.Release) CalendarEvent {
	var lines []string
	if r.WorkTitleEn != "" {
		lines = append(lines, r.WorkTitleEn)
	}
	if r.Platform != "" {
		lines = append(lines, "Platform: "+r.Platform)
	}
	if r.SourceURL != "" {
		lines = append(lines, r.SourceURL)
	}

	event := CalendarEvent{
		ReleaseID:   r.ID,
		Summary:     Headline(r),
		Description: strings.Join(lines, "\n"),
		URL:         r.SourceURL,
	}
	if r.ReleaseDate != nil {
		event.Date = *r.ReleaseDate
	}
	return event
}

// dispatchCalendar creates or updates one event per due release.
func (d *Dispatcher) dispatchCalendar(ctx context.Context) (ChannelSummary, error) {
	t := &tally{}
	if d.calendar == nil {
		return t.summary(), nil
	}

	pending, err := d.pending(ctx, release.ChannelCalendar)
	if err != nil {
		return t.summary(), err
	}
	t.sum.Pending = len(pending)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)

	for _, p := range pending {
		if gctx.Err() != nil {
			t.skip(1)
			continue
		}
		g.Go(func() error {
			return d.syncEvent(gctx, p, t)
		})
	}

	err = g.Wait()
	return t.summary(), err
}

// syncEvent delivers one release. Only bookkeeping errors are returned.
func (d *Dispatcher) syncEvent(ctx context.Context, p release.Pending, t *tally) error {
	logger := ctxutil.GetLogger(ctx)

	if d.opts.CalendarLimiter != nil {
		if err := d.opts.CalendarLimiter.Acquire(ctx); err != nil {
			logger.Debug("dispatch_deferred", slog.String("release_id", p.Release.ID), slog.Any("error", err))
			t.skip(1)
			return nil
		}
	}

	event := EventFor(p.Release)

	var (
		ref     string
		sendErr error
	)
	if p.State != nil && p.State.ExternalRef != "" {
		ref = p.State.ExternalRef
		sendErr = d.calendar.Update(ctx, ref, event)
	} else {
		ref, sendErr = d.calendar.Create(ctx, event)
	}

	if sendErr != nil && ctx.Err() != nil {
		t.skip(1)
		return nil
	}

	attemptedAt := d.opts.Clock()

	if sendErr == nil && (p.State == nil || p.State.ExternalRef == "") {
		// Checkpoint the new event id before marking synced, so a crash in
		// between leads to an update instead of a second event.
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShutdownTimeout)
		_, err := d.store.RecordChannelOutcome(bctx, p.Release.ID, release.ChannelCalendar, release.Outcome{
			Status:      release.StatusPending,
			ExternalRef: ref,
			AttemptedAt: attemptedAt,
		})
		cancel()
		if err != nil {
			return err
		}
	}

	outcome, err := d.record(ctx, p, release.ChannelCalendar, ref, sendErr, attemptedAt)
	if err != nil {
		return err
	}
	t.add(outcome)
	return nil
}
