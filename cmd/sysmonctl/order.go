// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bureau-foundation/sysmond/lib/procs"
)

type processLess func(a, b procs.Process) bool

// processOrder returns the ordering for a --sort key. Usage keys sort
// descending, pid and name ascending.
func processOrder(key string) (processLess, error) {
	switch key {
	case "cpu":
		return func(a, b procs.Process) bool { return a.Usage.CPUPercent > b.Usage.CPUPercent }, nil
	case "memory", "mem":
		return func(a, b procs.Process) bool { return a.Usage.MemoryBytes > b.Usage.MemoryBytes }, nil
	case "disk":
		return func(a, b procs.Process) bool { return a.Usage.DiskBytesPerSecond > b.Usage.DiskBytesPerSecond }, nil
	case "gpu":
		return func(a, b procs.Process) bool { return a.Usage.GPUPercent > b.Usage.GPUPercent }, nil
	case "pid":
		return func(a, b procs.Process) bool { return a.PID < b.PID }, nil
	case "name":
		return func(a, b procs.Process) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }, nil
	}
	return nil, fmt.Errorf("unknown sort key %q (want cpu, memory, disk, gpu, pid or name)", key)
}

// topProcesses sorts a copy of processes and keeps the first limit.
// Equal keys fall back to PID order. limit <= 0 keeps everything.
func topProcesses(processes []procs.Process, less processLess, limit int) []procs.Process {
	sorted := slices.Clone(processes)
	slices.SortStableFunc(sorted, func(a, b procs.Process) int {
		switch {
		case less(a, b):
			return -1
		case less(b, a):
			return 1
		}
		return a.PID - b.PID
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}
