// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package notify_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/releasewatch/internal/notify"
	"github.com/taibuivan/releasewatch/internal/platform/migration"
	"github.com/taibuivan/releasewatch/internal/platform/sqlite"
	"github.com/taibuivan/releasewatch/internal/release"
	"github.com/taibuivan/releasewatch/pkg/pointer"
)

// # Fixtures

var start = time.Date(2026, 10, 15, 3, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeMail struct {
	mu       sync.Mutex
	failures int
	sent     []notify.Message
	calls    int
}

func (f *fakeMail) Send(_ context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("421 service not available")
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeCalendar struct {
	mu       sync.Mutex
	failures int
	creates  []notify.CalendarEvent
	updates  map[string]notify.CalendarEvent
	calls    int
	onCall   func()
}

func (f *fakeCalendar) Create(ctx context.Context, event notify.CalendarEvent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onCall != nil {
		f.onCall()
		return "", ctx.Err()
	}
	if f.failures > 0 {
		f.failures--
		return "", errors.New("503 backend error")
	}
	f.creates = append(f.creates, event)
	return "evt-" + event.ReleaseID, nil
}

func (f *fakeCalendar) Update(_ context.Context, ref string, event notify.CalendarEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.updates == nil {
		f.updates = make(map[string]notify.CalendarEvent)
	}
	f.updates[ref] = event
	return nil
}

func (f *fakeCalendar) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newRepository(t *testing.T) *release.SQLiteRepository {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sqlite.Open(context.Background(), "file:"+name+"?mode=memory&cache=shared", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migration.RunUpSQLite(db, logger))
	return release.NewSQLiteRepository(db)
}

// seed inserts count dated episodes of one work and returns their ids.
func seed(t *testing.T, repo *release.SQLiteRepository, count int) []string {
	t.Helper()
	ctx := context.Background()

	workID, _, err := repo.UpsertWork(ctx, release.WorkInput{Title: "葬送のフリーレン", TitleEn: "Frieren", Kind: release.KindAnime})
	require.NoError(t, err)

	ids := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		id, _, err := repo.UpsertRelease(ctx, workID, release.Candidate{
			Kind:        release.ReleaseEpisode,
			Number:      fmt.Sprint(i),
			Platform:    "Crunchyroll",
			ReleaseDate: pointer.To(time.Date(2026, 10, 15+i, 0, 0, 0, 0, time.UTC)),
			Source:      "anilist",
			SourceURL:   "https://anilist.co/anime/1",
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func newDispatcher(repo *release.SQLiteRepository, mail notify.MailTransport, cal notify.CalendarTransport, c *clock) *notify.Dispatcher {
	return notify.NewDispatcher(repo, repo, mail, cal, notify.Options{
		Recipients:    []string{"me@example.com"},
		BatchSize:     2,
		Workers:       2,
		LookaheadDays: 14,
		Location:      time.UTC,
		Clock:         c.Now,
	})
}

// # Calendar

/*
TestDispatch_CalendarRetriesUntilSynced follows one pair through three failures and a success.
*/
func TestDispatch_CalendarRetriesUntilSynced(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	ids := seed(t, repo, 1)

	c := &clock{now: start}
	cal := &fakeCalendar{failures: 3}
	d := newDispatcher(repo, nil, cal, c)
	channels := []release.Channel{release.ChannelCalendar}

	waits := []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}
	for i, wait := range waits {
		summary, err := d.Dispatch(ctx, channels)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Channels[release.ChannelCalendar].Failed, "run %d", i+1)

		state, err := repo.GetChannelState(ctx, ids[0], release.ChannelCalendar)
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Equal(t, release.StatusFailed, state.Status)
		assert.Equal(t, i+1, state.AttemptCount)
		require.NotNil(t, state.NextAttemptAt)
		assert.True(t, state.NextAttemptAt.Equal(c.Now().Add(wait)))

		// Not due yet.
		calls := cal.Calls()
		_, err = d.Dispatch(ctx, channels)
		require.NoError(t, err)
		assert.Equal(t, calls, cal.Calls())

		c.Advance(wait)
	}

	summary, err := d.Dispatch(ctx, channels)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Channels[release.ChannelCalendar].Synced)

	state, err := repo.GetChannelState(ctx, ids[0], release.ChannelCalendar)
	require.NoError(t, err)
	assert.Equal(t, release.StatusSynced, state.Status)
	assert.Equal(t, 4, state.AttemptCount)
	assert.Equal(t, "evt-"+ids[0], state.ExternalRef)

	// Synced pairs are never delivered again.
	c.Advance(time.Hour)
	calls := cal.Calls()
	summary, err = d.Dispatch(ctx, channels)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Channels[release.ChannelCalendar].Pending)
	assert.Equal(t, calls, cal.Calls())

	records, err := repo.ListNotificationLog(ctx, ids[0], release.ChannelCalendar)
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

/*
TestDispatch_CalendarPermanentFailure verifies the fourth failure is terminal.
*/
func TestDispatch_CalendarPermanentFailure(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	ids := seed(t, repo, 1)

	c := &clock{now: start}
	cal := &fakeCalendar{failures: 100}
	d := newDispatcher(repo, nil, cal, c)
	channels := []release.Channel{release.ChannelCalendar}

	var summary notify.DispatchSummary
	var err error
	for range 4 {
		summary, err = d.Dispatch(ctx, channels)
		require.NoError(t, err)
		c.Advance(time.Hour)
	}
	assert.Equal(t, 1, summary.Channels[release.ChannelCalendar].Permanent)

	state, err := repo.GetChannelState(ctx, ids[0], release.ChannelCalendar)
	require.NoError(t, err)
	assert.Equal(t, release.StatusFailed, state.Status)
	assert.True(t, state.Permanent)
	assert.Equal(t, 4, state.AttemptCount)
	assert.Nil(t, state.NextAttemptAt)

	calls := cal.Calls()
	c.Advance(24 * time.Hour)
	_, err = d.Dispatch(ctx, channels)
	require.NoError(t, err)
	assert.Equal(t, calls, cal.Calls())

	records, err := repo.ListNotificationLog(ctx, ids[0], release.ChannelCalendar)
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.True(t, records[3].Permanent)
	assert.Equal(t, 4, records[3].Attempt)
}

/*
TestDispatch_CalendarCancellationLeavesPending verifies an aborted call records nothing.
*/
func TestDispatch_CalendarCancellationLeavesPending(t *testing.T) {
	repo := newRepository(t)
	ids := seed(t, repo, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cal := &fakeCalendar{onCall: cancel}
	d := newDispatcher(repo, nil, cal, &clock{now: start})

	summary, err := d.Dispatch(ctx, []release.Channel{release.ChannelCalendar})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Channels[release.ChannelCalendar].Skipped)
	assert.Equal(t, 0, summary.Channels[release.ChannelCalendar].Attempted)

	state, err := repo.GetChannelState(context.Background(), ids[0], release.ChannelCalendar)
	require.NoError(t, err)
	assert.Nil(t, state)

	pending, err := repo.ListPendingForChannel(context.Background(), release.PendingQuery{
		Channel: release.ChannelCalendar,
		From:    time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		To:      time.Date(2026, 10, 31, 0, 0, 0, 0, time.UTC),
		Now:     start,
	})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

/*
TestDispatch_CalendarUpdatesCheckpointedEvent verifies a stored event id leads to an update.
*/
func TestDispatch_CalendarUpdatesCheckpointedEvent(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	ids := seed(t, repo, 1)

	// A previous run created the event and crashed before marking it synced.
	_, err := repo.RecordChannelOutcome(ctx, ids[0], release.ChannelCalendar, release.Outcome{
		Status:      release.StatusPending,
		ExternalRef: "evt-existing",
		AttemptedAt: start,
	})
	require.NoError(t, err)

	cal := &fakeCalendar{}
	d := newDispatcher(repo, nil, cal, &clock{now: start})

	summary, err := d.Dispatch(ctx, []release.Channel{release.ChannelCalendar})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Channels[release.ChannelCalendar].Synced)

	assert.Empty(t, cal.creates)
	require.Contains(t, cal.updates, "evt-existing")
	assert.Equal(t, "葬送のフリーレン Ep. 1", cal.updates["evt-existing"].Summary)

	state, err := repo.GetChannelState(ctx, ids[0], release.ChannelCalendar)
	require.NoError(t, err)
	assert.Equal(t, release.StatusSynced, state.Status)
	assert.Equal(t, "evt-existing", state.ExternalRef)
	assert.Equal(t, 1, state.AttemptCount)
}

// # Email

/*
TestDispatch_EmailBatches verifies releases are grouped into digests of BatchSize.
*/
func TestDispatch_EmailBatches(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	ids := seed(t, repo, 5)

	mail := &fakeMail{}
	d := newDispatcher(repo, mail, nil, &clock{now: start})

	summary, err := d.Dispatch(ctx, []release.Channel{release.ChannelEmail})
	require.NoError(t, err)

	email := summary.Channels[release.ChannelEmail]
	assert.Equal(t, 5, email.Pending)
	assert.Equal(t, 5, email.Synced)
	require.Len(t, mail.sent, 3)
	assert.Equal(t, []string{"me@example.com"}, mail.sent[0].To)
	assert.Contains(t, mail.sent[0].Subject, "and 1 more")
	assert.Contains(t, mail.sent[2].HTMLBody, "Ep. 5")

	for _, id := range ids {
		state, err := repo.GetChannelState(ctx, id, release.ChannelEmail)
		require.NoError(t, err)
		assert.Equal(t, release.StatusSynced, state.Status)
	}
}

/*
TestDispatch_EmailBatchFailure verifies a failed send fails every release in the batch.
*/
func TestDispatch_EmailBatchFailure(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	ids := seed(t, repo, 3)

	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "attempts"}, []string{"channel", "status"})
	mail := &fakeMail{failures: 1}
	d := notify.NewDispatcher(repo, repo, mail, nil, notify.Options{
		Recipients:    []string{"me@example.com"},
		BatchSize:     2,
		LookaheadDays: 14,
		Location:      time.UTC,
		Clock:         (&clock{now: start}).Now,
		Attempts:      attempts,
	})

	summary, err := d.Dispatch(ctx, []release.Channel{release.ChannelEmail})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Channels[release.ChannelEmail].Failed)
	assert.Equal(t, 1, summary.Channels[release.ChannelEmail].Synced)

	for _, id := range ids[:2] {
		state, err := repo.GetChannelState(ctx, id, release.ChannelEmail)
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Equal(t, release.StatusFailed, state.Status)
		assert.Equal(t, 1, state.AttemptCount)
		assert.False(t, state.Permanent)
		assert.Contains(t, state.LastError, "421")
		require.NotNil(t, state.NextAttemptAt)
		assert.True(t, state.NextAttemptAt.Equal(start.Add(time.Minute)))
	}

	last, err := repo.GetChannelState(ctx, ids[2], release.ChannelEmail)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, release.StatusSynced, last.Status)

	assert.Equal(t, 2.0, testutil.ToFloat64(attempts.WithLabelValues("email", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(attempts.WithLabelValues("email", "synced")))
}

/*
TestDispatch_ChannelsIndependent verifies email and calendar state do not interfere.
*/
func TestDispatch_ChannelsIndependent(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	ids := seed(t, repo, 1)

	d := newDispatcher(repo, &fakeMail{}, &fakeCalendar{failures: 1}, &clock{now: start})

	summary, err := d.Dispatch(ctx, []release.Channel{release.ChannelEmail, release.ChannelCalendar})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Channels[release.ChannelEmail].Synced)
	assert.Equal(t, 1, summary.Channels[release.ChannelCalendar].Failed)

	email, err := repo.GetChannelState(ctx, ids[0], release.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, release.StatusSynced, email.Status)

	calendar, err := repo.GetChannelState(ctx, ids[0], release.ChannelCalendar)
	require.NoError(t, err)
	assert.Equal(t, release.StatusFailed, calendar.Status)
}
