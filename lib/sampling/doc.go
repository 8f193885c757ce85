// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sampling holds the stateful pieces shared by every
// subsystem sampler: delta-rate arithmetic over cumulative kernel
// counters, the per-entity previous-sample cache, and the minimum
// refresh interval throttle.
//
// # Counters and rates
//
// Kernel counters (jiffies in /proc/stat, sectors in
// /sys/block/*/stat, bytes in /proc/<pid>/io) only ever increase,
// except when the entity behind them is reset: a device is
// re-enumerated, a driver reloads, a 32-bit counter wraps. A
// rate is computed from two readings of the same entity:
//
//	rate = Delta(previous, current) / elapsed
//
// Delta clamps the previous value to min(previous, current), so a
// counter that went backwards yields a zero delta for that tick and
// never a negative or astronomically large rate. The new value becomes
// the baseline for the next tick. Wraparound and reset are not told
// apart; both read as a single zero-rate tick.
//
// When no time has elapsed between two readings (a coarse clock, two
// refreshes inside one clock quantum) the previous computed value is
// kept rather than dividing by zero.
//
// # Entity cache
//
// [Cache] keeps exactly one entry per live entity: the raw counters of
// the latest reading and the record computed from it. A refresh opens
// a [Generation], takes each previous entry out as the entity is seen
// again, and commits. Entities not seen in this pass are dropped at
// commit, which is how exited processes and unplugged devices leave.
// An entity seen for the first time has no previous entry and reports
// zero rates; its raw counters become the baseline.
//
// # Throttle
//
// [Throttle] rejects refreshes that arrive less than
// [MinRefreshInterval] after the last accepted one. Deltas over very
// short windows are dominated by counter quantization (one jiffy is
// 10ms), so a throttled refresh keeps the previous data untouched.
package sampling
