// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package diskstat

import (
	"fmt"
	"strconv"
	"strings"
)

// SectorSize is the unit of the sector fields of /sys/block/*/stat,
// independent of the device's logical block size.
const SectorSize = 512

// Counters is one read of /sys/block/<name>/stat. Times are in
// milliseconds. Discard and flush fields are zero on kernels that do
// not report them.
type Counters struct {
	ReadIOs        uint64
	SectorsRead    uint64
	ReadTicks      uint64
	WriteIOs       uint64
	SectorsWritten uint64
	WriteTicks     uint64
	IOTicks        uint64
	DiscardIOs     uint64
	DiscardTicks   uint64
	FlushIOs       uint64
	FlushTicks     uint64
}

// Field positions in /sys/block/<name>/stat (Documentation/block/stat.rst).
const (
	statReadIOs        = 0
	statSectorsRead    = 2
	statReadTicks      = 3
	statWriteIOs       = 4
	statSectorsWritten = 6
	statWriteTicks     = 7
	statIOTicks        = 9
	statDiscardIOs     = 11
	statDiscardTicks   = 14
	statFlushIOs       = 15
	statFlushTicks     = 16

	// statMinimumFields is the field count of pre-4.18 kernels.
	statMinimumFields = 11
)

// ParseStat parses the content of a block device stat file.
func ParseStat(data string) (Counters, error) {
	fields := strings.Fields(data)
	if len(fields) < statMinimumFields {
		return Counters{}, fmt.Errorf("malformed block stat: %d fields", len(fields))
	}

	values := make([]uint64, len(fields))
	for index, field := range fields {
		value, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return Counters{}, fmt.Errorf("parsing block stat field %d: %w", index, err)
		}
		values[index] = value
	}
	at := func(index int) uint64 {
		if index < len(values) {
			return values[index]
		}
		return 0
	}

	return Counters{
		ReadIOs:        at(statReadIOs),
		SectorsRead:    at(statSectorsRead),
		ReadTicks:      at(statReadTicks),
		WriteIOs:       at(statWriteIOs),
		SectorsWritten: at(statSectorsWritten),
		WriteTicks:     at(statWriteTicks),
		IOTicks:        at(statIOTicks),
		DiscardIOs:     at(statDiscardIOs),
		DiscardTicks:   at(statDiscardTicks),
		FlushIOs:       at(statFlushIOs),
		FlushTicks:     at(statFlushTicks),
	}, nil
}
