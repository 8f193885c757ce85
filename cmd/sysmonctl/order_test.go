// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"slices"
	"testing"

	"github.com/bureau-foundation/sysmond/lib/procs"
)

func sampleProcesses() []procs.Process {
	return []procs.Process{
		{PID: 30, Name: "firefox", Usage: procs.Usage{CPUPercent: 12, MemoryBytes: 900 << 20, GPUPercent: 4}},
		{PID: 10, Name: "Xorg", Usage: procs.Usage{CPUPercent: 3, MemoryBytes: 200 << 20, GPUPercent: 9}},
		{PID: 20, Name: "bash", Usage: procs.Usage{CPUPercent: 12, MemoryBytes: 4 << 20, DiskBytesPerSecond: 4096}},
		{PID: 40, Name: "kworker/0:1"},
	}
}

func pids(processes []procs.Process) []int {
	result := make([]int, len(processes))
	for i, p := range processes {
		result[i] = p.PID
	}
	return result
}

func TestTopProcesses(t *testing.T) {
	tests := []struct {
		key   string
		limit int
		want  []int
	}{
		// Equal CPU shares fall back to PID order.
		{"cpu", 0, []int{20, 30, 10, 40}},
		{"memory", 2, []int{30, 10}},
		{"mem", 1, []int{30}},
		{"disk", 1, []int{20}},
		{"gpu", 0, []int{10, 30, 20, 40}},
		{"pid", 3, []int{10, 20, 30}},
		{"name", 0, []int{20, 30, 40, 10}},
		{"pid", 10, []int{10, 20, 30, 40}},
	}
	for _, tt := range tests {
		less, err := processOrder(tt.key)
		if err != nil {
			t.Fatalf("processOrder(%q): %v", tt.key, err)
		}
		input := sampleProcesses()
		got := pids(topProcesses(input, less, tt.limit))
		if !slices.Equal(got, tt.want) {
			t.Errorf("sort %s limit %d = %v, want %v", tt.key, tt.limit, got, tt.want)
		}
		if input[0].PID != 30 {
			t.Errorf("sort %s reordered the input slice", tt.key)
		}
	}
}

func TestProcessOrderUnknownKey(t *testing.T) {
	if _, err := processOrder("threads"); err == nil {
		t.Error("processOrder accepted an unknown key")
	}
}
