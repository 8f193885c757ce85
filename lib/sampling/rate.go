// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sampling

import (
	"math"
	"time"
)

// Delta returns current - min(previous, current). A counter that went
// backwards produces 0 instead of underflowing.
func Delta(previous, current uint64) uint64 {
	if previous > current {
		previous = current
	}
	return current - previous
}

// Rate converts a counter delta into units per second. When elapsed is
// not positive, last (the previously computed rate) is returned
// unchanged.
func Rate(delta uint64, elapsed time.Duration, last float64) float64 {
	if elapsed <= 0 {
		return last
	}
	return float64(delta) / elapsed.Seconds()
}

// Utilization returns busy as a percentage of elapsed, clamped to
// [0, limit]. A single-threaded consumer pinned for the whole window
// reads 100; limit allows values above 100 for multi-core consumers.
// last is returned when elapsed is not positive.
func Utilization(busy, elapsed time.Duration, limit, last float64) float64 {
	if elapsed <= 0 {
		return last
	}
	return Clamp(busy.Seconds()/elapsed.Seconds()*100, 0, limit)
}

// Share returns part as a percentage of total, or 0 when total is 0.
// Used for tick-share metrics where both counters advance on the same
// clock (CPU jiffies) and elapsed wall time plays no part.
func Share(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return Clamp(float64(part)/float64(total)*100, 0, 100)
}

// Ratio returns numerator/denominator, or 0 when denominator is 0.
func Ratio(numerator, denominator uint64) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

// Clamp limits value to [low, high]. NaN is reported as low.
func Clamp(value, low, high float64) float64 {
	if math.IsNaN(value) || value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
