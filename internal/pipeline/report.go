// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package pipeline

import (
	"time"

	"github.com/taibuivan/releasewatch/internal/notify"
	"github.com/taibuivan/releasewatch/internal/release"
)

// State is a stage of one run.
type State string

const (
	StateCollecting  State = "collecting"
	StateNormalizing State = "normalizing"
	StatePersisting  State = "persisting"
	StateDispatching State = "dispatching"
	StateReporting   State = "reporting"
	StateDone        State = "done"
	StateFailed      State = "failed"
	StateSkipped     State = "skipped" // Another run holds the lock
)

// FeedFailure is one skipped feed in the report.
type FeedFailure struct {
	Feed  string `json:"feed"`
	Error string `json:"error"`
}

// Report is the single structured summary every run ends with.
type Report struct {
	RunID      string                  `json:"run_id"`
	State      State                   `json:"state"`
	FailedAt   State                   `json:"failed_at,omitempty"`
	Season     string                  `json:"season"`
	StartedAt  time.Time               `json:"started_at"`
	FinishedAt time.Time               `json:"finished_at"`
	Stages     map[State]time.Duration `json:"stages"`

	Collected      map[string]int `json:"collected"`
	FeedFailures   []FeedFailure  `json:"feed_failures,omitempty"`
	Invalid        int            `json:"invalid"`
	Filtered       map[string]int `json:"filtered"`
	Persisted      int            `json:"persisted"`
	Duplicates     int            `json:"duplicates"`
	WorksCreated   int            `json:"works_created"`
	KindMismatches int            `json:"kind_mismatches"` // Candidates attached to a work of another kind

	Channels map[release.Channel]notify.ChannelSummary `json:"channels"`

	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

func newReport(runID string, startedAt time.Time) *Report {
	return &Report{
		RunID:     runID,
		StartedAt: startedAt,
		Stages:    make(map[State]time.Duration),
		Collected: make(map[string]int),
		Filtered:  make(map[string]int),
		Channels:  make(map[release.Channel]notify.ChannelSummary),
	}
}

// Duration is the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// TotalCollected sums records over every source.
func (r *Report) TotalCollected() int {
	total := 0
	for _, n := range r.Collected {
		total += n
	}
	return total
}

// ExitCode is the process exit status for this run.
func (r *Report) ExitCode() int {
	if r.State == StateFailed {
		return 1
	}
	return 0
}
