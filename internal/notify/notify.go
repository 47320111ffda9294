// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package notify delivers persisted releases to the user's notification channels.

Channels:

  - Email: pending releases are batched into digest messages and sent over SMTP.
  - Calendar: every pending release becomes one all-day event.

Delivery state lives in the repository, one row per (release, channel). The
dispatcher only ever reads pending pairs and writes outcomes, so a pair that
reached synced is never delivered twice, and a pair interrupted by cancellation
is simply picked up by the next run.

Retries follow a fixed schedule. Once it is exhausted the pair is marked
permanently failed and left for a human.
*/
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/taibuivan/releasewatch/internal/release"
)

// # Transports

// Message is one email addressed to the deployment's recipients.
type Message struct {
	To       []string
	Subject  string
	HTMLBody string
}

// MailTransport sends one message.
type MailTransport interface {
	Send(ctx context.Context, msg Message) error
}

// CalendarEvent is one all-day event for a release.
type CalendarEvent struct {
	ReleaseID   string
	Summary     string
	Description string
	URL         string
	Date        time.Time // Calendar date at 00:00 UTC
}

// CalendarTransport creates and updates events.
type CalendarTransport interface {
	// Create inserts the event and returns its remote id.
	Create(ctx context.Context, event CalendarEvent) (string, error)

	// Update overwrites the event identified by ref.
	Update(ctx context.Context, ref string, event CalendarEvent) error
}

// # Collaborators

// Store is the slice of [release.Repository] the dispatcher needs.
type Store interface {
	ListPendingForChannel(ctx context.Context, query release.PendingQuery) ([]release.Pending, error)
	RecordChannelOutcome(ctx context.Context, releaseID string, channel release.Channel, outcome release.Outcome) (release.ChannelSyncState, error)
}

// AuditSink receives one record per delivery attempt.
type AuditSink interface {
	AppendNotificationLog(ctx context.Context, record release.NotificationRecord) error
}

// # Rendering Helpers

// Label renders the release unit, e.g. "Ep. 5" or "Vol. 14". Empty when the
// number is unknown.
func Label(r release.Release) string {
	if r.Number == "" {
		return ""
	}
	if r.Kind == release.ReleaseVolume {
		return "Vol. " + r.Number
	}
	return "Ep. " + r.Number
}

// Headline is the one-line title of a release.
func Headline(r release.Release) string {
	if label := Label(r); label != "" {
		return fmt.Sprintf("%s %s", r.WorkTitle, label)
	}
	return r.WorkTitle
}
