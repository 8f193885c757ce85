// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gatherer owns one instance of every sampler and refreshes
// them in a fixed order on each tick:
//
//	processes, cpu, disks, network, gpu, fans, services
//
// CPU reads the process table for its process and thread counts; GPU
// writes per-process GPU usage back into it. Each subsystem sits
// behind its own RWMutex, held for writing for the whole of its
// refresh, so a reader sees either the previous tick or the new one.
// A failing step is logged and the next step still runs.
//
// Run is the only goroutine that refreshes samplers. Commands (signals
// to processes, service control) run on the caller's goroutine through
// a bounded pool and never touch sampler state.
package gatherer
