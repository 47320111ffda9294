// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package release

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/releasewatch/internal/platform/database/schema"
	"github.com/taibuivan/releasewatch/internal/platform/dberr"
	"github.com/taibuivan/releasewatch/pkg/pointer"
	"github.com/taibuivan/releasewatch/pkg/uuid"
)

// PostgresRepository implements [Repository] on PostgreSQL via pgxpool.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository wraps an open pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// # Works & Releases

func (repository *PostgresRepository) UpsertWork(ctx context.Context, input WorkInput) (string, bool, error) {
	w := schema.Work
	insert := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, NULLIF($6, ''), now())
		ON CONFLICT (%s) DO NOTHING
		RETURNING %s`,
		w.Table, w.ID, w.Title, w.TitleKana, w.TitleEn, w.Kind, w.OfficialURL, w.CreatedAt,
		w.Title, w.ID,
	)

	var id string
	err := repository.db.QueryRow(ctx, insert,
		uuid.New(), input.Title, input.TitleKana, input.TitleEn, string(input.Kind), input.OfficialURL,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !dberr.IsNoRows(err) {
		return "", false, dberr.Wrap(err, "upsert_work")
	}

	lookup := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`, w.ID, w.Table, w.Title)
	if err := repository.db.QueryRow(ctx, lookup, input.Title).Scan(&id); err != nil {
		return "", false, dberr.Wrap(err, "find_work_by_title")
	}
	return id, false, nil
}

func (repository *PostgresRepository) GetWork(ctx context.Context, id string) (*Work, error) {
	w := schema.Work
	query := fmt.Sprintf(`SELECT %s, %s, %s, %s, %s, %s, %s FROM %s WHERE %s = $1`,
		w.ID, w.Title, w.TitleKana, w.TitleEn, w.Kind, w.OfficialURL, w.CreatedAt, w.Table, w.ID)

	var (
		work                       Work
		kind                       string
		kana, titleEn, officialURL *string
	)
	err := repository.db.QueryRow(ctx, query, id).Scan(
		&work.ID, &work.Title, &kana, &titleEn, &kind, &officialURL, &work.CreatedAt,
	)
	if err != nil {
		if dberr.IsNoRows(err) {
			return nil, nil
		}
		return nil, dberr.Wrap(err, "get_work")
	}

	work.Kind = Kind(kind)
	work.TitleKana, work.TitleEn, work.OfficialURL = pointer.Val(kana), pointer.Val(titleEn), pointer.Val(officialURL)
	return &work, nil
}

func (repository *PostgresRepository) UpsertRelease(ctx context.Context, workID string, candidate Candidate) (string, bool, error) {
	r := schema.WorkRelease
	insert := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, NULLIF($8, ''), now())
		ON CONFLICT DO NOTHING
		RETURNING %s`,
		r.Table, r.ID, r.WorkID, r.ReleaseKind, r.Number, r.Platform, r.ReleaseDate, r.Source, r.SourceURL, r.CreatedAt,
		r.ID,
	)

	var id string
	err := repository.db.QueryRow(ctx, insert,
		uuid.New(), workID, string(candidate.Kind), candidate.Number, candidate.Platform,
		candidate.ReleaseDate, candidate.Source, candidate.SourceURL,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !dberr.IsNoRows(err) {
		return "", false, dberr.Wrap(err, "upsert_release")
	}

	// The natural key matches the expression index: NULL components compare equal.
	lookup := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE %s = $1 AND %s = $2
		  AND COALESCE(%s, '') = $3
		  AND COALESCE(%s, '') = $4
		  AND COALESCE(%s, DATE '0001-01-01') = COALESCE($5::date, DATE '0001-01-01')`,
		r.ID, r.Table, r.WorkID, r.ReleaseKind, r.Number, r.Platform, r.ReleaseDate,
	)
	err = repository.db.QueryRow(ctx, lookup,
		workID, string(candidate.Kind), candidate.Number, candidate.Platform, candidate.ReleaseDate,
	).Scan(&id)
	if err != nil {
		return "", false, dberr.Wrap(err, "find_release_by_key")
	}
	return id, false, nil
}

// # Channel State

func (repository *PostgresRepository) ListPendingForChannel(ctx context.Context, query PendingQuery) ([]Pending, error) {
	r, w, s := schema.WorkRelease, schema.Work, schema.ChannelSyncState
	sql := fmt.Sprintf(`
		SELECT r.%s, r.%s, w.%s, COALESCE(w.%s, ''), w.%s, r.%s,
		       COALESCE(r.%s, ''), COALESCE(r.%s, ''), r.%s, r.%s, COALESCE(r.%s, ''), r.%s,
		       s.%s, s.%s, s.%s, s.%s, s.%s, s.%s, s.%s, s.%s
		FROM %s r
		JOIN %s w ON w.%s = r.%s
		LEFT JOIN %s s ON s.%s = r.%s AND s.%s = $1
		WHERE r.%s BETWEEN $2 AND $3
		  AND (s.%s IS NULL
		       OR s.%s = 'pending'
		       OR (s.%s = 'failed' AND NOT s.%s AND (s.%s IS NULL OR s.%s <= $4)))
		ORDER BY r.%s, r.%s
		LIMIT $5`,
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

	var limit any
	if query.Limit > 0 {
		limit = query.Limit
	}

	rows, err := repository.db.Query(ctx, sql, string(query.Channel), query.From, query.To, query.Now, limit)
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
			status    *string
			ref       *string
			attempts  *int
			lastAt    *time.Time
			nextAt    *time.Time
			lastErr   *string
			permanent *bool
			updatedAt *time.Time
		)
		err := rows.Scan(
			&rel.ID, &rel.WorkID, &rel.WorkTitle, &rel.WorkTitleEn, &workKind, &kind,
			&rel.Number, &rel.Platform, &rel.ReleaseDate, &rel.Source, &rel.SourceURL, &rel.CreatedAt,
			&status, &ref, &attempts, &lastAt, &nextAt, &lastErr, &permanent, &updatedAt,
		)
		if err != nil {
			return nil, dberr.Wrap(err, "scan_pending")
		}
		rel.Kind = ReleaseKind(kind)
		rel.WorkKind = Kind(workKind)

		item := Pending{Release: rel}
		if status != nil {
			item.State = &ChannelSyncState{
				ReleaseID:     rel.ID,
				Channel:       query.Channel,
				Status:        SyncStatus(*status),
				ExternalRef:   pointer.Val(ref),
				AttemptCount:  pointer.Val(attempts),
				LastAttemptAt: lastAt,
				NextAttemptAt: nextAt,
				LastError:     pointer.Val(lastErr),
				Permanent:     pointer.Val(permanent),
				UpdatedAt:     pointer.Val(updatedAt),
			}
		}
		pending = append(pending, item)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.Wrap(err, "iterate_pending")
	}

	return pending, nil
}

func (repository *PostgresRepository) GetChannelState(ctx context.Context, releaseID string, channel Channel) (*ChannelSyncState, error) {
	s := schema.ChannelSyncState
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 AND %s = $2`,
		stateColumns(), s.Table, s.ReleaseID, s.Channel)

	state, err := scanPgState(repository.db.QueryRow(ctx, query, releaseID, string(channel)))
	if err != nil {
		if dberr.IsNoRows(err) {
			return nil, nil
		}
		return nil, dberr.Wrap(err, "get_channel_state")
	}
	return &state, nil
}

func (repository *PostgresRepository) RecordChannelOutcome(ctx context.Context, releaseID string, channel Channel, outcome Outcome) (ChannelSyncState, error) {
	if err := validateOutcome(outcome); err != nil {
		return ChannelSyncState{}, err
	}

	s := schema.ChannelSyncState
	upsert := fmt.Sprintf(`
		INSERT INTO %[1]s AS s (%[2]s, %[3]s, %[4]s, %[5]s, %[6]s, %[7]s, %[8]s, %[9]s, %[10]s, %[11]s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (%[2]s, %[3]s) DO UPDATE SET
			%[4]s = EXCLUDED.%[4]s,
			%[5]s = COALESCE(EXCLUDED.%[5]s, s.%[5]s),
			%[6]s = s.%[6]s + EXCLUDED.%[6]s,
			%[7]s = COALESCE(EXCLUDED.%[7]s, s.%[7]s),
			%[8]s = EXCLUDED.%[8]s,
			%[9]s = CASE WHEN EXCLUDED.%[4]s = 'pending' THEN s.%[9]s ELSE EXCLUDED.%[9]s END,
			%[10]s = EXCLUDED.%[10]s,
			%[11]s = now()
		WHERE s.%[4]s <> 'synced' AND NOT s.%[10]s
		RETURNING %[12]s`,
		s.Table, s.ReleaseID, s.Channel, s.Status, s.ExternalRef, s.AttemptCount,
		s.LastAttemptAt, s.NextAttemptAt, s.LastError, s.Permanent, s.UpdatedAt,
		stateColumns(),
	)

	var attemptedAt *time.Time
	if outcome.countsAsAttempt() {
		attemptedAt = &outcome.AttemptedAt
	}

	state, err := scanPgState(repository.db.QueryRow(ctx, upsert,
		releaseID, string(channel), string(outcome.Status), pointer.NonZero(outcome.ExternalRef),
		attemptDelta(outcome), attemptedAt, outcome.NextAttemptAt, pointer.NonZero(outcome.Error), outcome.Permanent,
	))
	if err == nil {
		return state, nil
	}
	if !dberr.IsNoRows(err) {
		return ChannelSyncState{}, dberr.Wrap(err, "record_channel_outcome")
	}

	// The row is synced or permanent and was left as is.
	current, err := repository.GetChannelState(ctx, releaseID, channel)
	if err != nil {
		return ChannelSyncState{}, err
	}
	return pointer.Val(current), nil
}

// # Audit

func (repository *PostgresRepository) AppendNotificationLog(ctx context.Context, record NotificationRecord) error {
	n := schema.NotificationLog
	insert := fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10)`,
		n.Table, n.ID, n.RunID, n.ReleaseID, n.Channel, n.Status, n.Attempt, n.Error, n.ExternalRef, n.Permanent, n.RecordedAt,
	)

	if record.ID == "" {
		record.ID = uuid.New()
	}

	_, err := repository.db.Exec(ctx, insert,
		record.ID, record.RunID, record.ReleaseID, string(record.Channel), string(record.Status),
		record.Attempt, record.Error, record.ExternalRef, record.Permanent, record.RecordedAt,
	)
	return dberr.Wrap(err, "append_notification_log")
}

// # Scanning

// stateColumns lists channel state columns in scan order.
func stateColumns() string {
	s := schema.ChannelSyncState
	return fmt.Sprintf("%s, %s, %s, COALESCE(%s, ''), %s, %s, %s, COALESCE(%s, ''), %s, %s",
		s.ReleaseID, s.Channel, s.Status, s.ExternalRef, s.AttemptCount,
		s.LastAttemptAt, s.NextAttemptAt, s.LastError, s.Permanent, s.UpdatedAt)
}

func scanPgState(row pgx.Row) (ChannelSyncState, error) {
	var (
		state   ChannelSyncState
		channel string
		status  string
	)
	err := row.Scan(
		&state.ReleaseID, &channel, &status, &state.ExternalRef, &state.AttemptCount,
		&state.LastAttemptAt, &state.NextAttemptAt, &state.LastError, &state.Permanent, &state.UpdatedAt,
	)
	state.Channel = Channel(channel)
	state.Status = SyncStatus(status)
	return state, err
}
