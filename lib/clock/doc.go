// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the monotonic time source used by the
// samplers and the snapshot loop.
//
// Every delta-rate computation divides a counter delta by the elapsed
// time between two readings of the same Clock. Components hold a Clock
// field instead of calling time.Now directly:
//
//	sampler := cpustat.New(cpustat.Options{Clock: clock.Real()})
//
// Tests inject a FakeClock and advance it explicitly, so elapsed time
// in rate tests is exact:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	sampler := cpustat.New(cpustat.Options{Clock: fake})
//	sampler.Refresh(ctx, table)
//	fake.Advance(time.Second)
//	sampler.Refresh(ctx, table)
//
// # FakeClock Synchronization
//
// A goroutine blocked in After or Sleep registers a pending waiter.
// WaitForTimers blocks until a given number of waiters exist, which
// removes the race between the loop arming its timer and the test
// calling Advance.
package clock
