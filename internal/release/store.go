// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package release

import (
	"context"
	"errors"
)

// ErrInvalidOutcome is returned when an outcome carries an unknown status or a
// permanent flag on a non-failed status.
var ErrInvalidOutcome = errors.New("release: invalid channel outcome")

// # Release Data Access

// Repository defines the persistence contract consumed by the pipeline.
type Repository interface {

	/*
		UpsertWork returns the id of the work with exactly this title, creating it
		when absent. An existing work is never modified.

		Parameters:
		  - context: context.Context
		  - input: WorkInput (Title is the identity)

		Returns:
		  - string: Work id
		  - bool: true if the work was created by this call
		  - error: PERSISTENCE_ERROR on storage failure
	*/
	UpsertWork(context context.Context, input WorkInput) (string, bool, error)

	/*
		GetWork returns the work with the given id.

		Parameters:
		  - context: context.Context
		  - id: string (UUID)

		Returns:
		  - *Work: nil if no work has this id
		  - error: PERSISTENCE_ERROR on storage failure
	*/
	GetWork(context context.Context, id string) (*Work, error)

	/*
		UpsertRelease inserts the release if its natural key is absent.

		Parameters:
		  - context: context.Context
		  - workID: string (UUID)
		  - candidate: Candidate

		Returns:
		  - string: Release id (existing or new)
		  - bool: true if inserted by this call
		  - error: PERSISTENCE_ERROR on storage failure
	*/
	UpsertRelease(context context.Context, workID string, candidate Candidate) (string, bool, error)

	/*
		ListPendingForChannel returns releases dated within [From, To] whose pair
		has no state row, a pending row, or a retryable failed row that is due.

		Parameters:
		  - context: context.Context
		  - query: PendingQuery

		Returns:
		  - []Pending: Ordered by release date, then release id
		  - error: PERSISTENCE_ERROR on storage failure
	*/
	ListPendingForChannel(context context.Context, query PendingQuery) ([]Pending, error)

	/*
		GetChannelState returns the state of one pair.

		Parameters:
		  - context: context.Context
		  - releaseID: string (UUID)
		  - channel: Channel

		Returns:
		  - *ChannelSyncState: nil if the pair was never attempted
		  - error: PERSISTENCE_ERROR on storage failure
	*/
	GetChannelState(context context.Context, releaseID string, channel Channel) (*ChannelSyncState, error)

	/*
		RecordChannelOutcome applies an outcome to one pair in a single atomic
		upsert. Synced and permanently failed rows are left untouched.

		Parameters:
		  - context: context.Context
		  - releaseID: string (UUID)
		  - channel: Channel
		  - outcome: Outcome

		Returns:
		  - ChannelSyncState: The state after the write
		  - error: ErrInvalidOutcome, or PERSISTENCE_ERROR on storage failure
	*/
	RecordChannelOutcome(context context.Context, releaseID string, channel Channel, outcome Outcome) (ChannelSyncState, error)

	/*
		AppendNotificationLog appends one audit record.

		Parameters:
		  - context: context.Context
		  - record: NotificationRecord (ID is generated when empty)

		Returns:
		  - error: PERSISTENCE_ERROR on storage failure
	*/
	AppendNotificationLog(context context.Context, record NotificationRecord) error
}

// validateOutcome rejects outcomes that cannot be stored.
func validateOutcome(outcome Outcome) error {
	switch outcome.Status {
	case StatusPending, StatusSynced:
		if outcome.Permanent {
			return ErrInvalidOutcome
		}
	case StatusFailed:
	default:
		return ErrInvalidOutcome
	}
	return nil
}

// attemptDelta is added to attempt_count for an outcome.
func attemptDelta(outcome Outcome) int {
	if outcome.countsAsAttempt() {
		return 1
	}
	return 0
}
