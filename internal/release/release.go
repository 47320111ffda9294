// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package release provides the domain models and persistence for works, their
releases and per-channel delivery state.

# Core Responsibility

  - Dedup boundary: a [Release] is identified by its natural key
    (work, kind, number, platform, date). Re-observing it is a no-op.
  - Delivery bookkeeping: one [ChannelSyncState] per (release, channel) drives
    retries and guarantees a synced pair is never delivered again.
  - Audit: every delivery attempt appends a [NotificationRecord].

Releases are immutable once created. Only sync state changes after insert.
*/
package release

import "time"

// # Enumerations

// Kind distinguishes the medium of a work. Immutable once the work exists.
type Kind string

const (
	KindAnime Kind = "anime"
	KindManga Kind = "manga"
)

// ReleaseKind distinguishes the unit being released.
type ReleaseKind string

const (
	ReleaseEpisode ReleaseKind = "episode"
	ReleaseVolume  ReleaseKind = "volume"
)

// Channel is a notification delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelCalendar Channel = "calendar"
)

// SyncStatus is the delivery state of one (release, channel) pair.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSynced  SyncStatus = "synced"
	StatusFailed  SyncStatus = "failed"
)

// # Aggregates

// Work is a series or title that releases belong to.
type Work struct {
	ID          string
	Title       string // Exact, case-sensitive identity of the work
	TitleKana   string // Optional reading
	TitleEn     string // Optional English title
	Kind        Kind
	OfficialURL string
	CreatedAt   time.Time
}

// Release is one episode or volume of a [Work].
type Release struct {
	ID          string
	WorkID      string
	WorkTitle   string // Denormalized from the work for rendering
	WorkTitleEn string
	WorkKind    Kind
	Kind        ReleaseKind
	Number      string     // Empty when unknown
	Platform    string     // Empty when unknown
	ReleaseDate *time.Time // Calendar date at 00:00 UTC; nil when unknown
	Source      string
	SourceURL   string
	CreatedAt   time.Time
}

// ChannelSyncState tracks delivery of one release on one channel.
type ChannelSyncState struct {
	ReleaseID     string
	Channel       Channel
	Status        SyncStatus
	ExternalRef   string // Remote identifier, e.g. a calendar event id
	AttemptCount  int
	LastAttemptAt *time.Time
	NextAttemptAt *time.Time // nil means due immediately
	LastError     string
	Permanent     bool // Retries exhausted; never picked up again
	UpdatedAt     time.Time
}

// NotificationRecord is one append-only audit entry per delivery attempt.
type NotificationRecord struct {
	ID          string
	RunID       string
	ReleaseID   string
	Channel     Channel
	Status      SyncStatus
	Attempt     int
	Error       string
	ExternalRef string
	Permanent   bool
	RecordedAt  time.Time
}

// # Inputs

// WorkInput carries the work attributes known when a candidate is persisted.
type WorkInput struct {
	Title       string
	TitleKana   string
	TitleEn     string
	Kind        Kind
	OfficialURL string
}

// Candidate is a normalized release that has not been persisted yet.
//
// Description, Genres, Tags and IsAdult are read by the filter and never stored.
type Candidate struct {
	Work        WorkInput
	Kind        ReleaseKind
	Number      string
	Platform    string
	ReleaseDate *time.Time
	Source      string
	SourceURL   string

	Description string
	Genres      []string
	Tags        []string
	IsAdult     bool
}

// Outcome is the result of one delivery step for a pair.
//
// A pending outcome is a checkpoint (e.g. a calendar event id returned by a
// create) and does not count as an attempt.
type Outcome struct {
	Status        SyncStatus
	ExternalRef   string
	Error         string
	AttemptedAt   time.Time
	NextAttemptAt *time.Time
	Permanent     bool
}

// countsAsAttempt reports whether the outcome finishes a delivery attempt.
func (o Outcome) countsAsAttempt() bool {
	return o.Status == StatusSynced || o.Status == StatusFailed
}

// PendingQuery selects releases due for delivery on one channel.
type PendingQuery struct {
	Channel Channel
	From    time.Time // Inclusive first release date
	To      time.Time // Inclusive last release date
	Now     time.Time // Failed pairs are due when NextAttemptAt <= Now
	Limit   int       // 0 means no limit
}

// Pending is a release due for delivery together with its current state.
// State is nil when the pair has never been attempted.
type Pending struct {
	Release Release
	State   *ChannelSyncState
}

// # Date Helpers

// Date truncates t to its calendar date in loc and returns it at 00:00 UTC.
func Date(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

const dateLayout = "2006-01-02"
