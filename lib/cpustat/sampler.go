// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cpustat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bureau-foundation/sysmond/lib/clock"
	"github.com/bureau-foundation/sysmond/lib/hwinfo"
	"github.com/bureau-foundation/sysmond/lib/sampling"
)

// aggregateLabel is the /proc/stat line summing every CPU.
const aggregateLabel = "cpu"

// CoreUsage is the utilization of one /proc/stat cpu line.
type CoreUsage struct {
	CPU                      string  `json:"cpu"`
	UtilizationPercent       float64 `json:"utilization_percent"`
	KernelUtilizationPercent float64 `json:"kernel_utilization_percent"`
}

// Dynamic is the per-tick CPU state.
type Dynamic struct {
	UtilizationPercent       float64     `json:"utilization_percent"`
	KernelUtilizationPercent float64     `json:"kernel_utilization_percent"`
	PerCPU                   []CoreUsage `json:"per_cpu"`

	FrequencyMHz                uint64 `json:"frequency_mhz"`
	Driver                      string `json:"driver,omitempty"`
	Governor                    string `json:"governor,omitempty"`
	EnergyPerformancePreference string `json:"energy_performance_preference,omitempty"`

	// TemperatureCelsius is nil without a known CPU hwmon sensor.
	TemperatureCelsius *float64 `json:"temperature_celsius,omitempty"`

	Processes     int    `json:"processes"`
	Threads       int    `json:"threads"`
	Handles       uint64 `json:"handles"`
	UptimeSeconds uint64 `json:"uptime_seconds"`
}

// ProcessCounter reports process and thread totals. *procs.Table
// satisfies it.
type ProcessCounter interface {
	Counts() (processes, threads int)
}

// Options configures a Sampler. Zero fields take system defaults.
type Options struct {
	ProcRoot string
	SysRoot  string
	DevRoot  string

	Clock  clock.Clock
	Logger *slog.Logger

	// DetectVirtualization decides Static.VirtualMachine. nil leaves
	// it unknown.
	DetectVirtualization VirtualizationFunc

	// ModelFallback is consulted when /proc/cpuinfo has no model name.
	ModelFallback ModelFunc
}

// Sampler samples /proc/stat. It is not safe for concurrent use.
type Sampler struct {
	procRoot string
	sysRoot  string
	devRoot  string
	clock    clock.Clock
	logger   *slog.Logger

	detectVirtualization VirtualizationFunc
	modelFallback        ModelFunc

	throttle *sampling.Throttle
	cache    *sampling.Cache[string, Ticks, CoreUsage]

	static  Static
	dynamic Dynamic
}

// New creates a Sampler with an empty cache.
func New(options Options) *Sampler {
	if options.ProcRoot == "" {
		options.ProcRoot = "/proc"
	}
	if options.SysRoot == "" {
		options.SysRoot = "/sys"
	}
	if options.DevRoot == "" {
		options.DevRoot = "/dev"
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Sampler{
		procRoot:             options.ProcRoot,
		sysRoot:              options.SysRoot,
		devRoot:              options.DevRoot,
		clock:                options.Clock,
		logger:               options.Logger,
		detectVirtualization: options.DetectVirtualization,
		modelFallback:        options.ModelFallback,
		throttle:             sampling.NewThrottle(options.Clock, sampling.MinRefreshInterval),
		cache:                sampling.NewCache[string, Ticks, CoreUsage](),
	}
}

// ProbeStatic collects static processor information and returns it.
// The result is also available from Static.
func (s *Sampler) ProbeStatic(ctx context.Context) Static {
	s.static = s.probeStatic(ctx)
	return s.static
}

// Static returns the last ProbeStatic result.
func (s *Sampler) Static() Static { return s.static }

// Dynamic returns the state computed by the last successful Refresh.
func (s *Sampler) Dynamic() Dynamic { return s.dynamic }

// Refresh reads /proc/stat and the dynamic sources. processes may be
// nil. It returns false when throttled. When /proc/stat cannot be
// read the previous Dynamic is kept and the error returned.
func (s *Sampler) Refresh(ctx context.Context, processes ProcessCounter) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !s.throttle.Allow() {
		return false, nil
	}

	file, err := os.Open(filepath.Join(s.procRoot, "stat"))
	if err != nil {
		return true, fmt.Errorf("opening stat: %w", err)
	}
	labels, current, err := ReadTicks(file)
	file.Close()
	if err != nil {
		return true, fmt.Errorf("reading stat: %w", err)
	}

	now := s.clock.Now()
	generation := s.cache.Begin()
	for _, label := range labels {
		ticks := current[label]
		usage := CoreUsage{CPU: label}
		if previous, found := generation.Take(label); found {
			busy, kernel, ok := Utilization(previous.Raw, ticks)
			if ok {
				usage.UtilizationPercent, usage.KernelUtilizationPercent = busy, kernel
			} else {
				usage = previous.Record
			}
		}
		generation.Put(label, sampling.Entry[Ticks, CoreUsage]{Raw: ticks, Sampled: now, Record: usage})
	}
	generation.Commit()

	dynamic := Dynamic{
		PerCPU: make([]CoreUsage, 0, len(labels)),
	}
	for _, label := range labels {
		entry, _ := s.cache.Get(label)
		if label == aggregateLabel {
			dynamic.UtilizationPercent = entry.Record.UtilizationPercent
			dynamic.KernelUtilizationPercent = entry.Record.KernelUtilizationPercent
			continue
		}
		dynamic.PerCPU = append(dynamic.PerCPU, entry.Record)
	}

	s.readDynamicSources(&dynamic)
	if processes != nil {
		dynamic.Processes, dynamic.Threads = processes.Counts()
	}

	s.dynamic = dynamic
	s.logger.Debug("cpu refreshed",
		"utilization", dynamic.UtilizationPercent,
		"duration", clock.Since(s.clock, now))
	return true, nil
}

func (s *Sampler) readDynamicSources(dynamic *Dynamic) {
	dynamic.FrequencyMHz = readFrequencyMHz(s.procRoot, s.sysRoot)

	cpufreq := filepath.Join(s.sysRoot, "devices/system/cpu/cpu0/cpufreq")
	dynamic.Driver = hwinfo.ReadSysfsString(filepath.Join(cpufreq, "scaling_driver"))
	dynamic.Governor = hwinfo.ReadSysfsString(filepath.Join(cpufreq, "scaling_governor"))
	dynamic.EnergyPerformancePreference = hwinfo.ReadSysfsString(filepath.Join(cpufreq, "energy_performance_preference"))

	if celsius, ok := hwinfo.ReadCPUTemperature(s.sysRoot); ok {
		dynamic.TemperatureCelsius = &celsius
	}

	dynamic.Handles = readFirstUint(filepath.Join(s.procRoot, "sys/fs/file-nr"))
	dynamic.UptimeSeconds = readUptime(filepath.Join(s.procRoot, "uptime"))
}

// readFirstUint parses the first whitespace-separated field of a file.
func readFirstUint(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	value, _ := strconv.ParseUint(fields[0], 10, 64)
	return value
}

func readUptime(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || seconds < 0 {
		return 0
	}
	return uint64(seconds)
}
