// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cpustat

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bureau-foundation/sysmond/lib/sampling"
)

// Ticks is one /proc/stat "cpu" line split into the three buckets the
// utilization calculation needs. All values are cumulative USER_HZ
// ticks since boot.
type Ticks struct {
	// Used is user + nice + system + steal + guest + guest_nice.
	Used uint64

	// Idle is the idle field. iowait is not counted anywhere: it is
	// idle time the kernel attributes to a blocked task, and it is
	// not monotonic on all kernels.
	Idle uint64

	// Kernel is irq + softirq.
	Kernel uint64
}

// Field positions on a /proc/stat cpu line, label at 0.
const (
	fieldIdle    = 4
	fieldIOWait  = 5
	fieldIRQ     = 6
	fieldSoftIRQ = 7
)

// ParseTicks parses one line of /proc/stat beginning with "cpu". It
// returns the label ("cpu" for the aggregate, "cpuN" per logical CPU).
func ParseTicks(line string) (string, Ticks, error) {
	fields := strings.Fields(line)
	if len(fields) <= fieldIdle || !strings.HasPrefix(fields[0], "cpu") {
		return "", Ticks{}, fmt.Errorf("malformed cpu line %q", line)
	}

	var ticks Ticks
	for position, field := range fields[1:] {
		position++
		value, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return "", Ticks{}, fmt.Errorf("parsing field %d of %q: %w", position, fields[0], err)
		}
		switch position {
		case fieldIdle:
			ticks.Idle += value
		case fieldIOWait:
		case fieldIRQ, fieldSoftIRQ:
			ticks.Kernel += value
		default:
			ticks.Used += value
		}
	}
	return fields[0], ticks, nil
}

// ReadTicks reads every cpu line of a /proc/stat stream in file order.
func ReadTicks(reader io.Reader) ([]string, map[string]Ticks, error) {
	var labels []string
	all := make(map[string]Ticks)

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "cpu") {
			continue
		}
		label, ticks, err := ParseTicks(line)
		if err != nil {
			return nil, nil, err
		}
		labels = append(labels, label)
		all[label] = ticks
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	if len(labels) == 0 {
		return nil, nil, fmt.Errorf("no cpu lines")
	}
	return labels, all, nil
}

// Utilization returns the busy and kernel percentages of the ticks
// that elapsed between previous and current. ok is false when no ticks
// elapsed, in which case the caller keeps its previous values.
func Utilization(previous, current Ticks) (busy, kernel float64, ok bool) {
	used := sampling.Delta(previous.Used, current.Used)
	kernelTicks := sampling.Delta(previous.Kernel, current.Kernel)
	idle := sampling.Delta(previous.Idle, current.Idle)

	total := used + kernelTicks + idle
	if total == 0 {
		return 0, 0, false
	}
	return sampling.Share(used+kernelTicks, total), sampling.Share(kernelTicks, total), true
}
