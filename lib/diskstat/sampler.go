// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package diskstat

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bureau-foundation/sysmond/lib/clock"
	"github.com/bureau-foundation/sysmond/lib/sampling"
)

// Disk is the public record for one block device.
type Disk struct {
	ID             string `json:"id"`
	Model          string `json:"model,omitempty"`
	Type           Type   `json:"type"`
	CapacityBytes  uint64 `json:"capacity_bytes"`
	FormattedBytes uint64 `json:"formatted_bytes"`
	SystemDisk     bool   `json:"system_disk"`

	BusyPercent         float64 `json:"busy_percent"`
	ResponseTimeMillis  float64 `json:"response_time_ms"`
	ReadBytesPerSecond  float64 `json:"read_bytes_per_second"`
	WriteBytesPerSecond float64 `json:"write_bytes_per_second"`
}

// Options configures a Sampler. Zero fields take system defaults.
type Options struct {
	SysRoot string
	Clock   clock.Clock
	Logger  *slog.Logger

	// RootDevice locates the root filesystem for Disk.SystemDisk. nil
	// leaves every disk marked as non-system.
	RootDevice RootDeviceFunc
}

// Sampler samples /sys/block. It is not safe for concurrent use.
type Sampler struct {
	sysRoot    string
	clock      clock.Clock
	logger     *slog.Logger
	rootDevice RootDeviceFunc

	throttle *sampling.Throttle
	cache    *sampling.Cache[string, Counters, Disk]
}

// New creates a Sampler with an empty cache.
func New(options Options) *Sampler {
	if options.SysRoot == "" {
		options.SysRoot = "/sys"
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Sampler{
		sysRoot:    options.SysRoot,
		clock:      options.Clock,
		logger:     options.Logger,
		rootDevice: options.RootDevice,
		throttle:   sampling.NewThrottle(options.Clock, sampling.MinRefreshInterval),
		cache:      sampling.NewCache[string, Counters, Disk](),
	}
}

// Refresh re-reads every block device. It returns false when
// throttled. A device whose stat cannot be read keeps its previous
// entry; failure to list /sys/block leaves the cache unchanged and is
// returned.
func (s *Sampler) Refresh(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !s.throttle.Allow() {
		return false, nil
	}

	blockDir := filepath.Join(s.sysRoot, "block")
	entries, err := os.ReadDir(blockDir)
	if err != nil {
		return true, fmt.Errorf("listing %s: %w", blockDir, err)
	}

	now := s.clock.Now()
	generation := s.cache.Begin()
	var systemDisks map[string]bool

	for _, entry := range entries {
		name := entry.Name()
		if Skipped(name) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(blockDir, name, "stat"))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Debug("reading block stat", "device", name, "error", err)
				generation.Keep(name)
			}
			continue
		}
		counters, err := ParseStat(string(data))
		if err != nil {
			s.logger.Debug("parsing block stat", "device", name, "error", err)
			generation.Keep(name)
			continue
		}

		previous, found := generation.Take(name)
		var record Disk
		if found {
			record = compute(previous.Record, previous.Raw, counters, now.Sub(previous.Sampled))
		} else {
			if systemDisks == nil {
				systemDisks = s.findSystemDisks(ctx)
			}
			record = s.describe(name, systemDisks[name])
		}
		generation.Put(name, sampling.Entry[Counters, Disk]{Raw: counters, Sampled: now, Record: record})
	}

	dropped := generation.Commit()
	s.logger.Debug("disks refreshed",
		"devices", s.cache.Len(),
		"removed", dropped,
		"duration", clock.Since(s.clock, now))
	return true, nil
}

// describe builds the cold-start record of a newly observed device.
// Rates are zero.
func (s *Sampler) describe(name string, systemDisk bool) Disk {
	return Disk{
		ID:             name,
		Model:          readModel(s.sysRoot, name),
		Type:           DetectType(s.sysRoot, name),
		CapacityBytes:  readCapacity(s.sysRoot, name),
		FormattedBytes: readFormatted(s.sysRoot, name),
		SystemDisk:     systemDisk,
	}
}

func (s *Sampler) findSystemDisks(ctx context.Context) map[string]bool {
	disks := make(map[string]bool)
	if s.rootDevice == nil {
		return disks
	}
	device, err := s.rootDevice(ctx)
	if err != nil {
		s.logger.Debug("locating root filesystem", "error", err)
		return disks
	}
	for _, name := range BackingDisks(s.sysRoot, device) {
		disks[name] = true
	}
	return disks
}

// busyDivisor scales weighted queue milliseconds per elapsed second
// into a percentage that saturates at a queue depth of 8.
const busyDivisor = 8

// compute derives the rate fields of record from two counter reads.
// Descriptive fields are carried over from last.
func compute(last Disk, previous, current Counters, elapsed time.Duration) Disk {
	record := last
	if elapsed <= 0 {
		return record
	}

	weighted := sampling.Delta(previous.ReadTicks, current.ReadTicks) +
		sampling.Delta(previous.WriteTicks, current.WriteTicks) +
		sampling.Delta(previous.DiscardTicks, current.DiscardTicks) +
		sampling.Delta(previous.FlushTicks, current.FlushTicks)
	record.BusyPercent = sampling.Clamp(float64(weighted)/(elapsed.Seconds()*busyDivisor), 0, 100)

	ios := sampling.Delta(previous.ReadIOs, current.ReadIOs) +
		sampling.Delta(previous.WriteIOs, current.WriteIOs) +
		sampling.Delta(previous.DiscardIOs, current.DiscardIOs) +
		sampling.Delta(previous.FlushIOs, current.FlushIOs)
	record.ResponseTimeMillis = sampling.Ratio(sampling.Delta(previous.IOTicks, current.IOTicks), ios)

	record.ReadBytesPerSecond = sampling.Rate(
		sampling.Delta(previous.SectorsRead, current.SectorsRead)*SectorSize, elapsed, last.ReadBytesPerSecond)
	record.WriteBytesPerSecond = sampling.Rate(
		sampling.Delta(previous.SectorsWritten, current.SectorsWritten)*SectorSize, elapsed, last.WriteBytesPerSecond)
	return record
}

// Disks returns every sampled device ordered by ID.
func (s *Sampler) Disks() []Disk {
	return s.cache.Records(func(a, b Disk) bool { return a.ID < b.ID })
}

// Get returns the record for one device.
func (s *Sampler) Get(name string) (Disk, bool) {
	entry, ok := s.cache.Get(name)
	return entry.Record, ok
}
