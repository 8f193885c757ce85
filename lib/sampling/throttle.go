// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sampling

import (
	"time"

	"github.com/bureau-foundation/sysmond/lib/clock"
)

// MinRefreshInterval is the shortest interval between two accepted
// refreshes of the same cache. It is independent of the snapshot tick.
const MinRefreshInterval = 200 * time.Millisecond

// Throttle admits at most one refresh per interval. The zero last
// value is older than any interval, so the first Allow always
// succeeds.
type Throttle struct {
	clock    clock.Clock
	interval time.Duration
	last     time.Time
	primed   bool
}

// NewThrottle returns a Throttle that admits a refresh when at least
// interval has passed since the last admitted one.
func NewThrottle(c clock.Clock, interval time.Duration) *Throttle {
	return &Throttle{clock: c, interval: interval}
}

// Allow reports whether a refresh may run now and, if so, records now
// as the last refresh time.
func (t *Throttle) Allow() bool {
	now := t.clock.Now()
	if t.primed && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	t.primed = true
	return true
}

// Last returns the time of the last admitted refresh, or the zero time
// if none has been admitted.
func (t *Throttle) Last() time.Time { return t.last }
