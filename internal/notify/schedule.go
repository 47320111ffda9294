// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package notify

import "time"

// DefaultSchedule is the delay before retries 1, 2 and 3.
var DefaultSchedule = RetrySchedule{time.Minute, 5 * time.Minute, 15 * time.Minute}

// RetrySchedule lists the delay after each failed attempt.
//
// After failure n (1-based) the next attempt is due schedule[n-1] later.
// Failure len(schedule)+1 is permanent.
type RetrySchedule []time.Duration

// Next returns when a pair that has now failed failures times is due again.
// It reports permanent when the schedule is exhausted.
func (s RetrySchedule) Next(failures int, at time.Time) (*time.Time, bool) {
	if failures < 1 {
		failures = 1
	}
	if failures > len(s) {
		return nil, true
	}
	next := at.Add(s[failures-1])
	return &next, false
}
