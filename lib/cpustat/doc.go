// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cpustat samples CPU utilization from /proc/stat and collects
// static and dynamic processor information from /proc and /sys.
//
// Utilization is a tick share: the busy fraction of all ticks the
// kernel accounted between two reads of the same /proc/stat line. Both
// counters advance on the same clock, so wall time does not enter the
// calculation. Busy time is every field except idle and iowait; the
// irq and softirq fields are additionally reported as kernel time.
//
// The first refresh reports zero utilization for every line, and a
// refresh in which no ticks elapsed keeps the previous values.
package cpustat
