// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nvidia

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"

	"github.com/bureau-foundation/sysmond/lib/hwinfo"
)

var dynamicFields = []string{
	"pci.bus_id",
	"utilization.gpu",
	"utilization.memory",
	"memory.used",
	"temperature.gpu",
	"power.draw",
	"clocks.gr",
	"clocks.mem",
	"fan.speed",
	"utilization.encoder",
	"utilization.decoder",
}

var computeAppFields = []string{"pid", "used_memory", "gpu_bus_id"}

// ProcessUsage is one process's VRAM allocation on one GPU.
type ProcessUsage struct {
	PID         int
	PCISlot     string
	MemoryBytes uint64
}

// Collector implements hwinfo.GPUCollector for NVIDIA GPUs by running
// nvidia-smi on each Collect. When nvidia-smi is not installed the
// collector disables itself after the first attempt.
type Collector struct {
	run    Runner
	logger *slog.Logger

	mu       sync.Mutex
	disabled bool
}

// NewCollector creates a Collector that executes nvidia-smi via run.
func NewCollector(run Runner, logger *slog.Logger) *Collector {
	return &Collector{run: run, logger: logger}
}

// Collect returns current dynamic stats for every GPU nvidia-smi
// reports, or nil when nvidia-smi is unavailable or fails.
func (c *Collector) Collect() []hwinfo.GPUStatus {
	records, ok := c.query("gpu", dynamicFields)
	if !ok {
		return nil
	}

	stats := make([]hwinfo.GPUStatus, 0, len(records))
	for _, record := range records {
		status := hwinfo.GPUStatus{
			PCISlot:         NormalizeBusID(record[0]),
			FanSpeedPercent: -1,
		}
		if value, ok := parseNumber(record[1]); ok {
			status.UtilizationPercent = value
		}
		if value, ok := parseNumber(record[2]); ok {
			status.MemoryBusyPercent = value
		}
		if mebibytes, ok := parseNumber(record[3]); ok {
			status.VRAMUsedBytes = int64(mebibytes) * 1024 * 1024
		}
		if celsius, ok := parseNumber(record[4]); ok {
			status.TemperatureMillidegrees = int(celsius * 1000)
		}
		if watts, ok := parseNumber(record[5]); ok {
			status.PowerDrawWatts = watts
		}
		if megahertz, ok := parseNumber(record[6]); ok {
			status.GraphicsClockMHz = int(megahertz)
		}
		if megahertz, ok := parseNumber(record[7]); ok {
			status.MemoryClockMHz = int(megahertz)
		}
		if percent, ok := parseNumber(record[8]); ok {
			status.FanSpeedPercent = percent
		}
		if percent, ok := parseNumber(record[9]); ok {
			status.EncoderPercent = percent
		}
		if percent, ok := parseNumber(record[10]); ok {
			status.DecoderPercent = percent
		}
		stats = append(stats, status)
	}
	return stats
}

// ComputeApps returns per-process VRAM usage for processes with a
// compute context. Graphics-only clients are not listed by nvidia-smi.
func (c *Collector) ComputeApps() []ProcessUsage {
	records, ok := c.query("compute-apps", computeAppFields)
	if !ok {
		return nil
	}

	usage := make([]ProcessUsage, 0, len(records))
	for _, record := range records {
		pid, err := strconv.Atoi(record[0])
		if err != nil {
			continue
		}
		entry := ProcessUsage{PID: pid, PCISlot: NormalizeBusID(record[2])}
		if mebibytes, ok := parseNumber(record[1]); ok {
			entry.MemoryBytes = uint64(mebibytes) * 1024 * 1024
		}
		usage = append(usage, entry)
	}
	return usage
}

func (c *Collector) query(kind string, fields []string) ([][]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return nil, false
	}

	records, err := querySMI(context.Background(), c.run, kind, fields)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			c.logger.Info("nvidia-smi not found, NVIDIA dynamic metrics disabled")
			c.disabled = true
			return nil, false
		}
		c.logger.Debug("nvidia-smi query failed", "query", kind, "error", err)
		return nil, false
	}
	return records, true
}

// Close is a no-op; nvidia-smi holds no state between calls.
func (c *Collector) Close() {}
