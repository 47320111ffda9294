// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package release

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/taibuivan/releasewatch/internal/platform/database/schema"
	"github.com/taibuivan/releasewatch/internal/platform/dberr"
	"github.com/taibuivan/releasewatch/pkg/pointer"
	"github.com/taibuivan/releasewatch/pkg/uuid"
)

// SQLiteRepository implements [Repository] on an embedded SQLite database.
//
// Timestamps are stored as unix milliseconds and release dates as ISO text, so
// both compare correctly as plain column values.
type SQLiteRepository struct {
	db    *sql.DB
	clock func() time.Time
}

// NewSQLiteRepository wraps a handle opened by platform/sqlite.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, clock: time.Now}
}

// # Works & Releases

func (repository *SQLiteRepository) UpsertWork(ctx context.Context, input WorkInput) (string, bool, error) {
	w := schema.Work
	insert := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, NULLIF(?, ''), ?)
		ON CONFLICT (%s) DO NOTHING
		RETURNING %s`,
		w.Table, w.ID, w.Title, w.TitleKana, w.TitleEn, w.Kind, w.OfficialURL, w.CreatedAt,
		w.Title, w.ID,
	)

	var id string
	err := repository.db.QueryRowContext(ctx, insert,
		uuid.New(), input.Title, input.TitleKana, input.TitleEn, string(input.Kind), input.OfficialURL,
		repository.clock().UnixMilli(),
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !dberr.IsNoRows(err) {
		return "", false, dberr.Wrap(err, "upsert_work")
	}

	lookup := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`, w.ID, w.Table, w.Title)
	if err := repository.db.QueryRowContext(ctx, lookup, input.Title).Scan(&id); err != nil {
		return "", false, dberr.Wrap(err, "find_work_by_title")
	}
	return id, false, nil
}

func (repository *SQLiteRepository) GetWork(ctx context.Context, id string) (*Work, error) {
	w := schema.Work
	query := fmt.Sprintf(`SELECT %s, %s, %s, %s, %s, %s, %s FROM %s WHERE %s = ?`,
		w.ID, w.Title, w.TitleKana, w.TitleEn, w.Kind, w.OfficialURL, w.CreatedAt, w.Table, w.ID)

	var (
		work                       Work
		kind                       string
		kana, titleEn, officialURL sql.NullString
		createdAt                  int64
	)
	err := repository.db.QueryRowContext(ctx, query, id).Scan(
		&work.ID, &work.Title, &kana, &titleEn, &kind, &officialURL, &createdAt,
	)
	if err != nil {
		if dberr.IsNoRows(err) {
			return nil, nil
		}
		return nil, dberr.Wrap(err, "get_work")
	}

	work.Kind = Kind(kind)
	work.TitleKana, work.TitleEn, work.OfficialURL = kana.String, titleEn.String, officialURL.String
	work.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &work, nil
}

func (repository *SQLiteRepository) UpsertRelease(ctx context.Context, workID string, candidate Candidate) (string, bool, error) {
	r := schema.WorkRelease
	insert := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s)
		VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''), ?, NULLIF(?, ''), ?)
		ON CONFLICT DO NOTHING
		RETURNING %s`,
		r.Table, r.ID, r.WorkID, r.ReleaseKind, r.Number, r.Platform, r.ReleaseDate, r.Source, r.SourceURL, r.CreatedAt,
		r.ID,
	)

	date := formatDate(candidate.ReleaseDate)

	var id string
	err := repository.db.QueryRowContext(ctx, insert,
		uuid.New(), workID, string(candidate.Kind), candidate.Number, candidate.Platform,
		date, candidate.Source, candidate.SourceURL, repository.clock().UnixMilli(),
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !dberr.IsNoRows(err) {
		return "", false, dberr.Wrap(err, "upsert_release")
	}

	lookup := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE %s = ? AND %s = ?
		  AND COALESCE(%s, '') = ?
		  AND COALESCE(%s, '') = ?
		  AND COALESCE(%s, '') = ?`,
		r.ID, r.Table, r.WorkID, r.ReleaseKind, r.Number, r.Platform, r.ReleaseDate,
	)
	err = repository.db.QueryRowContext(ctx, lookup,
		workID, string(candidate.Kind), candidate.Number, candidate.Platform, date,
	).Scan(&id)
	if err != nil {
		return "", false, dberr.Wrap(err, "find_release_by_key")
	}
	return id, false, nil
}

// # Channel State

func (repository *SQLiteRepository) ListPendingForChannel(ctx context.Context, query PendingQuery) ([]Pending, error) {
	r, w, s := schema.WorkRelease, schema.Work, schema.ChannelSyncState
	statement := fmt.Sprintf(`
		SELECT r.%s, r.%s, w.%s, COALESCE(w.%s, ''), w.%s, r.%s,
		       COALESCE(r.%s, ''), COALESCE(r.%s, ''), r.%s, r.%s, COALESCE(r.%s, ''), r.%s,
		       s.%s, s.%s, s.%s, s.%s, s.%s, s.%s, s.%s, s.%s
		FROM %s r
		JOIN %s w ON w.%s = r.%s
		LEFT JOIN %s s ON s.%s = r.%s AND s.%s = ?
		WHERE r.%s BETWEEN ? AND ?
		  AND (s.%s IS NULL
		       OR s.%s = 'pending'
		       OR (s.%s = 'failed' AND s.%s = 0 AND (s.%s IS NULL OR s.%s <= ?)))
		ORDER BY r.%s, r.%s
		LIMIT ?`,
		r.ID, r.WorkID, w.Title, w.TitleEn, w.Kind, r.ReleaseKind,
		r.Number, r.Platform, r.ReleaseDate, r.Source, r.SourceURL, r.CreatedAt,
		s.Status, s.ExternalRef, s.AttemptCount, s.LastAttemptAt, s.NextAttemptAt, s.LastError, s.Permanent, s.UpdatedAt,
		r.Table,
		w.Table, w.ID, r.WorkID,
		s.Table, s.ReleaseID, r.ID, s.Channel,
		r.ReleaseDate,
		s.ReleaseID,
		s.Status,
		s.Status, s.Permanent, s.NextAttemptAt, s.NextAttemptAt,
		r.ReleaseDate, r.ID,
	)

	limit := query.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := repository.db.QueryContext(ctx, statement,
		string(query.Channel),
		query.From.Format(dateLayout), query.To.Format(dateLayout),
		query.Now.UnixMilli(), limit,
	)
	if err != nil {
		return nil, dberr.Wrap(err, "list_pending")
	}
	defer rows.Close()

	pending := make([]Pending, 0)
	for rows.Next() {
		var (
			rel       Release
			kind      string
			workKind  string
			date      sql.NullString
			createdAt int64
			status    sql.NullString
			ref       sql.NullString
			attempts  sql.NullInt64
			lastAt    sql.NullInt64
			nextAt    sql.NullInt64
			lastErr   sql.NullString
			permanent sql.NullBool
			updatedAt sql.NullInt64
		)
		err := rows.Scan(
			&rel.ID, &rel.WorkID, &rel.WorkTitle, &rel.WorkTitleEn, &workKind, &kind,
			&rel.Number, &rel.Platform, &date, &rel.Source, &rel.SourceURL, &createdAt,
			&status, &ref, &attempts, &lastAt, &nextAt, &lastErr, &permanent, &updatedAt,
		)
		if err != nil {
			return nil, dberr.Wrap(err, "scan_pending")
		}
		rel.Kind = ReleaseKind(kind)
		rel.WorkKind = Kind(workKind)
		rel.ReleaseDate = parseDate(date)
		rel.CreatedAt = time.UnixMilli(createdAt).UTC()

		item := Pending{Release: rel}
		if status.Valid {
			item.State = &ChannelSyncState{
				ReleaseID:     rel.ID,
				Channel:       query.Channel,
				Status:        SyncStatus(status.String),
				ExternalRef:   ref.String,
				AttemptCount:  int(attempts.Int64),
				LastAttemptAt: fromMillis(lastAt),
				NextAttemptAt: fromMillis(nextAt),
				LastError:     lastErr.String,
				Permanent:     permanent.Bool,
				UpdatedAt:     pointer.Val(fromMillis(updatedAt)),
			}
		}
		pending = append(pending, item)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.Wrap(err, "iterate_pending")
	}

	return pending, nil
}

func (repository *SQLiteRepository) GetChannelState(ctx context.Context, releaseID string, channel Channel) (*ChannelSyncState, error) {
	s := schema.ChannelSyncState
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ? AND %s = ?`,
		stateColumns(), s.Table, s.ReleaseID, s.Channel)

	state, err := scanSQLiteState(repository.db.QueryRowContext(ctx, query, releaseID, string(channel)))
	if err != nil {
		if dberr.IsNoRows(err) {
			return nil, nil
		}
		return nil, dberr.Wrap(err, "get_channel_state")
	}
	return &state, nil
}

func (repository *SQLiteRepository) RecordChannelOutcome(ctx context.Context, releaseID string, channel Channel, outcome Outcome) (ChannelSyncState, error) {
	if err := validateOutcome(outcome); err != nil {
		return ChannelSyncState{}, err
	}

	s := schema.ChannelSyncState
	upsert := fmt.Sprintf(`
		INSERT INTO %[1]s AS s (%[2]s, %[3]s, %[4]s, %[5]s, %[6]s, %[7]s, %[8]s, %[9]s, %[10]s, %[11]s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (%[2]s, %[3]s) DO UPDATE SET
			%[4]s = excluded.%[4]s,
			%[5]s = COALESCE(excluded.%[5]s, s.%[5]s),
			%[6]s = s.%[6]s + excluded.%[6]s,
			%[7]s = COALESCE(excluded.%[7]s, s.%[7]s),
			%[8]s = excluded.%[8]s,
			%[9]s = CASE WHEN excluded.%[4]s = 'pending' THEN s.%[9]s ELSE excluded.%[9]s END,
			%[10]s = excluded.%[10]s,
			%[11]s = excluded.%[11]s
		WHERE s.%[4]s <> 'synced' AND s.%[10]s = 0
		RETURNING %[12]s`,
		s.Table, s.ReleaseID, s.Channel, s.Status, s.ExternalRef, s.AttemptCount,
		s.LastAttemptAt, s.NextAttemptAt, s.LastError, s.Permanent, s.UpdatedAt,
		stateColumns(),
	)

	var attemptedAt *time.Time
	if outcome.countsAsAttempt() {
		attemptedAt = &outcome.AttemptedAt
	}

	state, err := scanSQLiteState(repository.db.QueryRowContext(ctx, upsert,
		releaseID, string(channel), string(outcome.Status), pointer.NonZero(outcome.ExternalRef),
		attemptDelta(outcome), toMillis(attemptedAt), toMillis(outcome.NextAttemptAt),
		pointer.NonZero(outcome.Error), outcome.Permanent, repository.clock().UnixMilli(),
	))
	if err == nil {
		return state, nil
	}
	if !dberr.IsNoRows(err) {
		return ChannelSyncState{}, dberr.Wrap(err, "record_channel_outcome")
	}

	current, err := repository.GetChannelState(ctx, releaseID, channel)
	if err != nil {
		return ChannelSyncState{}, err
	}
	return pointer.Val(current), nil
}

// # Audit

func (repository *SQLiteRepository) AppendNotificationLog(ctx context.Context, record NotificationRecord) error {
	n := schema.NotificationLog
	insert := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
		VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)`,
		n.Table, n.ID, n.RunID, n.ReleaseID, n.Channel, n.Status, n.Attempt, n.Error, n.ExternalRef, n.Permanent, n.RecordedAt,
	)

	if record.ID == "" {
		record.ID = uuid.New()
	}

	_, err := repository.db.ExecContext(ctx, insert,
		record.ID, record.RunID, record.ReleaseID, string(record.Channel), string(record.Status),
		record.Attempt, record.Error, record.ExternalRef, record.Permanent, record.RecordedAt.UnixMilli(),
	)
	return dberr.Wrap(err, "append_notification_log")
}

// ListNotificationLog returns the audit trail of one pair, oldest first.
func (repository *SQLiteRepository) ListNotificationLog(ctx context.Context, releaseID string, channel Channel) ([]NotificationRecord, error) {
	n := schema.NotificationLog
	query := fmt.Sprintf(`
		SELECT %s, %s, %s, %s, %s, %s, COALESCE(%s, ''), COALESCE(%s, ''), %s, %s
		FROM %s WHERE %s = ? AND %s = ?
		ORDER BY %s, %s`,
		n.ID, n.RunID, n.ReleaseID, n.Channel, n.Status, n.Attempt, n.Error, n.ExternalRef, n.Permanent, n.RecordedAt,
		n.Table, n.ReleaseID, n.Channel,
		n.RecordedAt, n.ID,
	)

	rows, err := repository.db.QueryContext(ctx, query, releaseID, string(channel))
	if err != nil {
		return nil, dberr.Wrap(err, "list_notification_log")
	}
	defer rows.Close()

	records := make([]NotificationRecord, 0)
	for rows.Next() {
		var (
			rec        NotificationRecord
			ch, status string
			recordedAt int64
		)
		err := rows.Scan(&rec.ID, &rec.RunID, &rec.ReleaseID, &ch, &status, &rec.Attempt,
			&rec.Error, &rec.ExternalRef, &rec.Permanent, &recordedAt)
		if err != nil {
			return nil, dberr.Wrap(err, "scan_notification_log")
		}
		rec.Channel = Channel(ch)
		rec.Status = SyncStatus(status)
		rec.RecordedAt = time.UnixMilli(recordedAt).UTC()
		records = append(records, rec)
	}
	return records, dberr.Wrap(rows.Err(), "iterate_notification_log")
}

// # Conversions

func scanSQLiteState(row *sql.Row) (ChannelSyncState, error) {
	var (
		state     ChannelSyncState
		channel   string
		status    string
		lastAt    sql.NullInt64
		nextAt    sql.NullInt64
		updatedAt int64
	)
	err := row.Scan(
		&state.ReleaseID, &channel, &status, &state.ExternalRef, &state.AttemptCount,
		&lastAt, &nextAt, &state.LastError, &state.Permanent, &updatedAt,
	)
	state.Channel = Channel(channel)
	state.Status = SyncStatus(status)
	state.LastAttemptAt = fromMillis(lastAt)
	state.NextAttemptAt = fromMillis(nextAt)
	state.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return state, err
}

func toMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	return pointer.To(time.UnixMilli(v.Int64).UTC())
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func parseDate(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, err := time.ParseInLocation(dateLayout, v.String, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}
