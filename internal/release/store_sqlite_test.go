// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package release_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/releasewatch/internal/platform/apperr"
	"github.com/taibuivan/releasewatch/internal/platform/migration"
	"github.com/taibuivan/releasewatch/internal/platform/sqlite"
	"github.com/taibuivan/releasewatch/internal/release"
	"github.com/taibuivan/releasewatch/pkg/pointer"
)

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

func day(y int, m time.Month, d int) *time.Time {
	return pointer.To(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

func episode(number string, date *time.Time) release.Candidate {
	return release.Candidate{
		Work:        release.WorkInput{Title: "葬送のフリーレン", Kind: release.KindAnime},
		Kind:        release.ReleaseEpisode,
		Number:      number,
		Platform:    "Crunchyroll",
		ReleaseDate: date,
		Source:      "anilist",
	}
}

func seedRelease(t *testing.T, repo *release.SQLiteRepository, c release.Candidate) string {
	t.Helper()
	ctx := context.Background()
	workID, _, err := repo.UpsertWork(ctx, c.Work)
	require.NoError(t, err)
	id, _, err := repo.UpsertRelease(ctx, workID, c)
	require.NoError(t, err)
	return id
}

/*
TestUpsertWork_ExactTitle verifies lookup is by exact, case-sensitive title.
*/
func TestUpsertWork_ExactTitle(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	first, created, err := repo.UpsertWork(ctx, release.WorkInput{Title: "Dandadan", Kind: release.KindAnime})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := repo.UpsertWork(ctx, release.WorkInput{Title: "Dandadan", Kind: release.KindManga})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, again)

	other, created, err := repo.UpsertWork(ctx, release.WorkInput{Title: "DANDADAN", Kind: release.KindAnime})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first, other)
}

/*
TestUpsertRelease_Idempotent verifies the dedup boundary across repeated observations.
*/
func TestUpsertRelease_Idempotent(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	c := episode("5", day(2026, 4, 10))
	workID, _, err := repo.UpsertWork(ctx, c.Work)
	require.NoError(t, err)

	id, isNew, err := repo.UpsertRelease(ctx, workID, c)
	require.NoError(t, err)
	assert.True(t, isNew)

	for i := 0; i < 3; i++ {
		again, isNew, err := repo.UpsertRelease(ctx, workID, c)
		require.NoError(t, err)
		assert.False(t, isNew)
		assert.Equal(t, id, again)
	}
}

/*
TestUpsertRelease_NaturalKey verifies every key component participates and NULLs collapse.
*/
func TestUpsertRelease_NaturalKey(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	base := episode("5", day(2026, 4, 10))
	workID, _, err := repo.UpsertWork(ctx, base.Work)
	require.NoError(t, err)
	baseID, _, err := repo.UpsertRelease(ctx, workID, base)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *release.Candidate)
		isNew  bool
	}{
		{"different_number", func(c *release.Candidate) { c.Number = "6" }, true},
		{"different_platform", func(c *release.Candidate) { c.Platform = "Netflix" }, true},
		{"different_date", func(c *release.Candidate) { c.ReleaseDate = day(2026, 4, 11) }, true},
		{"different_kind", func(c *release.Candidate) { c.Kind = release.ReleaseVolume }, true},
		{"different_source_only", func(c *release.Candidate) { c.Source = "feed-x"; c.SourceURL = "https://x.example.com" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			id, isNew, err := repo.UpsertRelease(ctx, workID, c)
			require.NoError(t, err)
			assert.Equal(t, tt.isNew, isNew)
			if !tt.isNew {
				assert.Equal(t, baseID, id)
			}
		})
	}

	t.Run("missing_components_collapse", func(t *testing.T) {
		c := base
		c.ReleaseDate = nil
		c.Platform = ""

		first, isNew, err := repo.UpsertRelease(ctx, workID, c)
		require.NoError(t, err)
		assert.True(t, isNew)

		second, isNew, err := repo.UpsertRelease(ctx, workID, c)
		require.NoError(t, err)
		assert.False(t, isNew)
		assert.Equal(t, first, second)
	})
}

/*
TestRecordChannelOutcome_Transitions walks a pair through failure, checkpoint and success.
*/
func TestRecordChannelOutcome_Transitions(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	id := seedRelease(t, repo, episode("1", day(2026, 4, 10)))
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	state, err := repo.GetChannelState(ctx, id, release.ChannelCalendar)
	require.NoError(t, err)
	assert.Nil(t, state)

	// 1. Failure schedules a retry.
	failed, err := repo.RecordChannelOutcome(ctx, id, release.ChannelCalendar, release.Outcome{
		Status:        release.StatusFailed,
		Error:         "503 backend error",
		AttemptedAt:   now,
		NextAttemptAt: pointer.To(now.Add(time.Minute)),
	})
	require.NoError(t, err)
	assert.Equal(t, release.StatusFailed, failed.Status)
	assert.Equal(t, 1, failed.AttemptCount)
	assert.Equal(t, "503 backend error", failed.LastError)
	require.NotNil(t, failed.NextAttemptAt)
	assert.True(t, failed.NextAttemptAt.Equal(now.Add(time.Minute)))

	// 2. Pending checkpoint stores the ref without counting an attempt.
	checkpoint, err := repo.RecordChannelOutcome(ctx, id, release.ChannelCalendar, release.Outcome{
		Status:      release.StatusPending,
		ExternalRef: "evt-1",
	})
	require.NoError(t, err)
	assert.Equal(t, release.StatusPending, checkpoint.Status)
	assert.Equal(t, 1, checkpoint.AttemptCount)
	assert.Equal(t, "evt-1", checkpoint.ExternalRef)
	assert.Equal(t, "503 backend error", checkpoint.LastError)

	// 3. Success keeps the ref even when the outcome carries none.
	synced, err := repo.RecordChannelOutcome(ctx, id, release.ChannelCalendar, release.Outcome{
		Status:      release.StatusSynced,
		AttemptedAt: now.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, release.StatusSynced, synced.Status)
	assert.Equal(t, 2, synced.AttemptCount)
	assert.Equal(t, "evt-1", synced.ExternalRef)
	assert.Empty(t, synced.LastError)

	// 4. Synced rows are immutable.
	after, err := repo.RecordChannelOutcome(ctx, id, release.ChannelCalendar, release.Outcome{
		Status:      release.StatusFailed,
		Error:       "late failure",
		AttemptedAt: now.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, release.StatusSynced, after.Status)
	assert.Equal(t, 2, after.AttemptCount)

	// Other channels are independent.
	email, err := repo.GetChannelState(ctx, id, release.ChannelEmail)
	require.NoError(t, err)
	assert.Nil(t, email)
}

/*
TestRecordChannelOutcome_PermanentIsTerminal verifies permanent failures are never rewritten.
*/
func TestRecordChannelOutcome_PermanentIsTerminal(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	id := seedRelease(t, repo, episode("1", day(2026, 4, 10)))
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	_, err := repo.RecordChannelOutcome(ctx, id, release.ChannelEmail, release.Outcome{
		Status: release.StatusFailed, Error: "smtp down", AttemptedAt: now, Permanent: true,
	})
	require.NoError(t, err)

	state, err := repo.RecordChannelOutcome(ctx, id, release.ChannelEmail, release.Outcome{
		Status: release.StatusSynced, AttemptedAt: now.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, release.StatusFailed, state.Status)
	assert.True(t, state.Permanent)
	assert.Equal(t, 1, state.AttemptCount)
}

/*
TestRecordChannelOutcome_Invalid rejects malformed outcomes.
*/
func TestRecordChannelOutcome_Invalid(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	id := seedRelease(t, repo, episode("1", day(2026, 4, 10)))

	_, err := repo.RecordChannelOutcome(ctx, id, release.ChannelEmail, release.Outcome{Status: "done"})
	assert.ErrorIs(t, err, release.ErrInvalidOutcome)

	_, err = repo.RecordChannelOutcome(ctx, id, release.ChannelEmail, release.Outcome{Status: release.StatusSynced, Permanent: true})
	assert.ErrorIs(t, err, release.ErrInvalidOutcome)
}

/*
TestListPendingForChannel_Selection covers every state the pending query distinguishes.
*/
func TestListPendingForChannel_Selection(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	fresh := seedRelease(t, repo, episode("1", day(2026, 4, 2)))
	checkpointed := seedRelease(t, repo, episode("2", day(2026, 4, 3)))
	dueRetry := seedRelease(t, repo, episode("3", day(2026, 4, 4)))
	notYetDue := seedRelease(t, repo, episode("4", day(2026, 4, 5)))
	synced := seedRelease(t, repo, episode("5", day(2026, 4, 6)))
	permanent := seedRelease(t, repo, episode("6", day(2026, 4, 7)))
	_ = seedRelease(t, repo, episode("7", day(2026, 5, 30))) // outside window
	_ = seedRelease(t, repo, episode("8", nil))              // undated

	record := func(id string, o release.Outcome) {
		_, err := repo.RecordChannelOutcome(ctx, id, release.ChannelCalendar, o)
		require.NoError(t, err)
	}
	record(checkpointed, release.Outcome{Status: release.StatusPending, ExternalRef: "evt-2"})
	record(dueRetry, release.Outcome{Status: release.StatusFailed, AttemptedAt: now.Add(-2 * time.Minute), NextAttemptAt: pointer.To(now.Add(-time.Minute))})
	record(notYetDue, release.Outcome{Status: release.StatusFailed, AttemptedAt: now, NextAttemptAt: pointer.To(now.Add(5 * time.Minute))})
	record(synced, release.Outcome{Status: release.StatusSynced, AttemptedAt: now})
	record(permanent, release.Outcome{Status: release.StatusFailed, AttemptedAt: now, Permanent: true})

	pending, err := repo.ListPendingForChannel(ctx, release.PendingQuery{
		Channel: release.ChannelCalendar,
		From:    *day(2026, 4, 1),
		To:      *day(2026, 4, 15),
		Now:     now,
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.Release.ID)
	}
	assert.Equal(t, []string{fresh, checkpointed, dueRetry}, ids)

	assert.Nil(t, pending[0].State)
	require.NotNil(t, pending[1].State)
	assert.Equal(t, "evt-2", pending[1].State.ExternalRef)
	assert.Equal(t, "葬送のフリーレン", pending[0].Release.WorkTitle)
	assert.Equal(t, "Crunchyroll", pending[0].Release.Platform)
	require.NotNil(t, pending[0].Release.ReleaseDate)
	assert.True(t, pending[0].Release.ReleaseDate.Equal(*day(2026, 4, 2)))

	// The email channel has no state rows, so every dated release in the window is pending.
	emailPending, err := repo.ListPendingForChannel(ctx, release.PendingQuery{
		Channel: release.ChannelEmail,
		From:    *day(2026, 4, 1),
		To:      *day(2026, 4, 15),
		Now:     now,
		Limit:   4,
	})
	require.NoError(t, err)
	assert.Len(t, emailPending, 4)
}

/*
TestAppendNotificationLog verifies audit records are appended, never replaced.
*/
func TestAppendNotificationLog(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	id := seedRelease(t, repo, episode("1", day(2026, 4, 10)))
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	for attempt := 1; attempt <= 2; attempt++ {
		err := repo.AppendNotificationLog(ctx, release.NotificationRecord{
			RunID:      "run-1",
			ReleaseID:  id,
			Channel:    release.ChannelEmail,
			Status:     release.StatusFailed,
			Attempt:    attempt,
			Error:      "timeout",
			RecordedAt: now.Add(time.Duration(attempt) * time.Minute),
		})
		require.NoError(t, err)
	}

	records, err := repo.ListNotificationLog(ctx, id, release.ChannelEmail)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Attempt)
	assert.Equal(t, 2, records[1].Attempt)
	assert.Equal(t, "timeout", records[1].Error)
	assert.NotEmpty(t, records[0].ID)
}

/*
TestAppendNotificationLog_DuplicateID verifies a reused record id is a persistence error naming the constraint.
*/
func TestAppendNotificationLog_DuplicateID(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)
	id := seedRelease(t, repo, episode("1", day(2026, 4, 10)))

	record := release.NotificationRecord{
		ID:         "01900000-0000-7000-8000-000000000001",
		RunID:      "run-1",
		ReleaseID:  id,
		Channel:    release.ChannelCalendar,
		Status:     release.StatusSynced,
		Attempt:    1,
		RecordedAt: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.AppendNotificationLog(ctx, record))

	err := repo.AppendNotificationLog(ctx, record)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodePersistence))
	assert.Contains(t, err.Error(), "unique constraint violated")
}

/*
TestGetWork verifies a stored work is read back with its original kind.
*/
func TestGetWork(t *testing.T) {
	ctx := context.Background()
	repo := newRepository(t)

	id, _, err := repo.UpsertWork(ctx, release.WorkInput{
		Title:       "ダンジョン飯",
		TitleEn:     "Delicious in Dungeon",
		Kind:        release.KindManga,
		OfficialURL: "https://example.com/meshi",
	})
	require.NoError(t, err)

	// A later anime observation reuses the work without changing it.
	again, created, err := repo.UpsertWork(ctx, release.WorkInput{Title: "ダンジョン飯", Kind: release.KindAnime})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)

	work, err := repo.GetWork(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, work)
	assert.Equal(t, release.KindManga, work.Kind)
	assert.Equal(t, "Delicious in Dungeon", work.TitleEn)
	assert.Equal(t, "", work.TitleKana)
	assert.Equal(t, "https://example.com/meshi", work.OfficialURL)
	assert.False(t, work.CreatedAt.IsZero())

	missing, err := repo.GetWork(ctx, "01900000-0000-7000-8000-00000000ffff")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
