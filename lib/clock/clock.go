// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the time source for every sampler and for the tick loop.
// Production code uses Real(); tests use Fake() and move time by hand.
//
// Readings returned by Now are only ever compared against other
// readings from the same Clock. Real() returns time.Time values that
// carry the runtime's monotonic reading, so Sub between two of them is
// immune to wall-clock steps (NTP, settimeofday).
type Clock interface {
	// Now returns the current reading.
	Now() time.Time

	// After returns a channel that receives once d has elapsed. If
	// d <= 0, the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep blocks the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Since returns the time elapsed on c since an earlier reading. A
// negative result (an earlier reading taken from a different clock) is
// reported as zero.
func Since(c Clock, earlier time.Time) time.Duration {
	elapsed := c.Now().Sub(earlier)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
