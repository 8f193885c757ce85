// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gpustat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/sysmond/lib/clock"
	"github.com/bureau-foundation/sysmond/lib/hwinfo"
	"github.com/bureau-foundation/sysmond/lib/hwinfo/amdgpu"
	"github.com/bureau-foundation/sysmond/lib/hwinfo/nvidia"
	"github.com/bureau-foundation/sysmond/lib/isolate"
	"github.com/bureau-foundation/sysmond/lib/procs"
	"github.com/bureau-foundation/sysmond/lib/sampling"
)

// GPU is the static record of one GPU.
type GPU struct {
	Info         hwinfo.GPUInfo `json:"info"`
	Capabilities Capabilities   `json:"capabilities"`
}

// ProcessGPU is one process's GPU usage over the last refresh.
type ProcessGPU struct {
	PID int `json:"pid"`

	// GPUPercent is the busiest graphics or compute engine the process
	// used, on any GPU.
	GPUPercent     float64 `json:"gpu_percent"`
	EncoderPercent float64 `json:"encoder_percent"`
	DecoderPercent float64 `json:"decoder_percent"`
	MemoryBytes    uint64  `json:"memory_bytes"`

	slots map[string]engineLoad
}

// engineLoad is busy percent per engine class on one GPU.
type engineLoad struct {
	graphics float64
	encoder  float64
	decoder  float64
	memory   uint64
}

// ProcessAnnotator is the process table as the GPU sampler sees it.
// *procs.Table satisfies it.
type ProcessAnnotator interface {
	Processes() []procs.Process
	Annotate(pid int, fn func(usage *procs.Usage)) bool
}

// ComputeAppsFunc returns per-process VRAM for GPUs whose driver does
// not expose DRM fdinfo memory.
type ComputeAppsFunc func() []nvidia.ProcessUsage

// Options configures a Sampler.
type Options struct {
	SysRoot  string
	ProcRoot string
	Clock    clock.Clock
	Logger   *slog.Logger

	// Probers enumerate GPUs. Nil selects amdgpu, nvidia, and the
	// generic DRM prober.
	Probers []hwinfo.GPUProber

	// Collectors read dynamic state. Nil selects the amdgpu and nvidia
	// collectors, and sets ComputeApps to the nvidia one.
	Collectors  []hwinfo.GPUCollector
	ComputeApps ComputeAppsFunc

	// Executor runs capability probes. Nil disables them.
	Executor *isolate.Executor

	// ICDDirs are searched for Vulkan driver manifests. Nil selects
	// DefaultICDDirs.
	ICDDirs []string
}

// Sampler is the GPU sampler. It is not safe for concurrent use.
type Sampler struct {
	procRoot    string
	clock       clock.Clock
	logger      *slog.Logger
	probers     []hwinfo.GPUProber
	collectors  []hwinfo.GPUCollector
	computeApps ComputeAppsFunc
	executor    *isolate.Executor
	icdDirs     []string

	throttle *sampling.Throttle
	gpus     []GPU
	probed   map[string]bool
	status   map[string]hwinfo.GPUStatus
	cache    *sampling.Cache[procs.Identity, engineCounters, ProcessGPU]
}

// New creates a Sampler. No device is enumerated until RefreshList.
func New(options Options) *Sampler {
	if options.SysRoot == "" {
		options.SysRoot = "/sys"
	}
	if options.ProcRoot == "" {
		options.ProcRoot = "/proc"
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Probers == nil {
		options.Probers = []hwinfo.GPUProber{
			amdgpu.NewProber(options.SysRoot),
			nvidia.NewProber(options.SysRoot, options.ProcRoot, nvidia.ExecRunner),
			NewGenericProber(options.SysRoot, "amdgpu", "nvidia", "nouveau"),
		}
	}
	if options.Collectors == nil {
		nvidiaCollector := nvidia.NewCollector(nvidia.ExecRunner, options.Logger)
		options.Collectors = []hwinfo.GPUCollector{
			amdgpu.NewCollector(options.SysRoot, options.Logger),
			nvidiaCollector,
		}
		if options.ComputeApps == nil {
			options.ComputeApps = nvidiaCollector.ComputeApps
		}
	}
	if options.ICDDirs == nil {
		options.ICDDirs = DefaultICDDirs
	}

	return &Sampler{
		procRoot:    options.ProcRoot,
		clock:       options.Clock,
		logger:      options.Logger,
		probers:     options.Probers,
		collectors:  options.Collectors,
		computeApps: options.ComputeApps,
		executor:    options.Executor,
		icdDirs:     options.ICDDirs,
		throttle:    sampling.NewThrottle(options.Clock, sampling.MinRefreshInterval),
		probed:      make(map[string]bool),
		status:      make(map[string]hwinfo.GPUStatus),
		cache:       sampling.NewCache[procs.Identity, engineCounters, ProcessGPU](),
	}
}

// RefreshList re-enumerates GPUs. Probers run concurrently; a GPU
// reported by more than one prober keeps the first prober's record.
// Capabilities already probed for a PCI slot are carried over.
func (s *Sampler) RefreshList(ctx context.Context) {
	results := make([][]hwinfo.GPUInfo, len(s.probers))
	group, _ := errgroup.WithContext(ctx)
	for i, prober := range s.probers {
		group.Go(func() error {
			results[i] = prober.Enumerate()
			return nil
		})
	}
	_ = group.Wait()

	previous := make(map[string]Capabilities, len(s.gpus))
	for _, gpu := range s.gpus {
		previous[gpu.Info.PCISlot] = gpu.Capabilities
	}

	seen := make(map[string]bool)
	var gpus []GPU
	for _, infos := range results {
		for _, info := range infos {
			if info.PCISlot == "" || seen[info.PCISlot] {
				continue
			}
			seen[info.PCISlot] = true
			gpus = append(gpus, GPU{Info: info, Capabilities: previous[info.PCISlot]})
		}
	}
	sort.Slice(gpus, func(i, j int) bool { return gpus[i].Info.PCISlot < gpus[j].Info.PCISlot })
	s.gpus = gpus
	s.logger.Debug("gpu list refreshed", "gpus", len(gpus))
}

// ProbeCapabilities runs the isolated capability probe once for every
// GPU not yet probed. A failed probe leaves that GPU's capabilities
// empty and is not retried; the returned error joins every failure.
func (s *Sampler) ProbeCapabilities(ctx context.Context) error {
	if s.executor == nil {
		return nil
	}
	var errs []error
	for i := range s.gpus {
		gpu := &s.gpus[i]
		if s.probed[gpu.Info.PCISlot] {
			continue
		}
		s.probed[gpu.Info.PCISlot] = true

		capabilities, err := isolate.Run[Capabilities](ctx, s.executor, CapabilityProbe, capabilityRequest{
			RenderNode: gpu.Info.RenderNode,
			Driver:     gpu.Info.Driver,
			ICDDirs:    s.icdDirs,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("gpu capability probe failed", "pci_slot", gpu.Info.PCISlot, "error", err)
			errs = append(errs, fmt.Errorf("gpu %s: %w", gpu.Info.PCISlot, err))
			continue
		}
		gpu.Capabilities = capabilities
	}
	return errors.Join(errs...)
}

// Refresh reads dynamic GPU state and per-process usage, then annotates
// the process table. Returns false when throttled. processes may be
// nil to skip per-process accounting.
func (s *Sampler) Refresh(ctx context.Context, processes ProcessAnnotator) (bool, error) {
	if !s.throttle.Allow() {
		return false, nil
	}
	now := s.clock.Now()

	collected, apps := s.collect(ctx)

	var loads map[string]engineLoad
	if processes != nil {
		if err := s.refreshProcesses(ctx, processes, now); err != nil {
			return true, err
		}
		loads = s.annotate(processes, apps)
	}

	status := make(map[string]hwinfo.GPUStatus, len(s.gpus))
	for _, reading := range collected {
		status[reading.PCISlot] = reading
	}
	for _, gpu := range s.gpus {
		slot := gpu.Info.PCISlot
		reading, found := status[slot]
		load := loads[slot]
		if !found {
			reading = hwinfo.GPUStatus{
				PCISlot:            slot,
				UtilizationPercent: load.graphics,
				VRAMUsedBytes:      int64(load.memory),
				FanSpeedPercent:    -1,
			}
		}
		if reading.EncoderPercent == 0 {
			reading.EncoderPercent = load.encoder
		}
		if reading.DecoderPercent == 0 {
			reading.DecoderPercent = load.decoder
		}
		status[slot] = reading
	}
	s.status = status

	s.logger.Debug("gpu refresh", "gpus", len(status), "clients", s.cache.Len(), "duration", clock.Since(s.clock, now))
	return true, nil
}

func (s *Sampler) collect(ctx context.Context) ([]hwinfo.GPUStatus, []nvidia.ProcessUsage) {
	results := make([][]hwinfo.GPUStatus, len(s.collectors))
	var apps []nvidia.ProcessUsage

	group, _ := errgroup.WithContext(ctx)
	for i, collector := range s.collectors {
		group.Go(func() error {
			results[i] = collector.Collect()
			return nil
		})
	}
	if s.computeApps != nil {
		group.Go(func() error {
			apps = s.computeApps()
			return nil
		})
	}
	_ = group.Wait()

	var all []hwinfo.GPUStatus
	for _, readings := range results {
		all = append(all, readings...)
	}
	return all, apps
}

// refreshProcesses reads DRM fdinfo for every process in the table.
// Processes holding no DRM client drop out of the cache.
func (s *Sampler) refreshProcesses(ctx context.Context, processes ProcessAnnotator, now time.Time) error {
	generation := s.cache.Begin()
	for _, process := range processes.Processes() {
		if err := ctx.Err(); err != nil {
			generation.Abort()
			return err
		}
		clients := readClients(filepath.Join(s.procRoot, strconv.Itoa(process.PID)))
		if len(clients) == 0 {
			continue
		}
		current := engineCounters{clients: clients}
		identity := process.Identity()

		previous, found := generation.Take(identity)
		if !found {
			previous = sampling.Entry[engineCounters, ProcessGPU]{Sampled: now, Record: ProcessGPU{PID: process.PID}}
		}
		record := computeUsage(previous.Raw, current, now.Sub(previous.Sampled), previous.Record)
		generation.Put(identity, sampling.Entry[engineCounters, ProcessGPU]{Raw: current, Sampled: now, Record: record})
	}
	generation.Commit()
	return nil
}

// computeUsage turns two fdinfo readings into per-engine percentages.
// A client absent from previous is cold and contributes memory only. A
// zero elapsed interval keeps the last percentages.
func computeUsage(previous, current engineCounters, elapsed time.Duration, last ProcessGPU) ProcessGPU {
	record := ProcessGPU{PID: last.PID, slots: make(map[string]engineLoad)}

	for key, usage := range current.clients {
		load := record.slots[key.pciSlot]
		load.memory += usage.memoryBytes
		record.MemoryBytes += usage.memoryBytes

		prior, found := previous.clients[key]
		if found && elapsed > 0 {
			for engine, busy := range usage.engines {
				priorBusy, ok := prior.engines[engine]
				if !ok {
					continue
				}
				delta := sampling.Delta(priorBusy, busy)
				if capacity := usage.capacity[engine]; capacity > 1 {
					delta /= capacity
				}
				percent := sampling.Utilization(time.Duration(delta), elapsed, 100, 0)
				switch classifyEngine(engine) {
				case engineEncoder:
					load.encoder = max(load.encoder, percent)
				case engineDecoder:
					load.decoder = max(load.decoder, percent)
				default:
					load.graphics = max(load.graphics, percent)
				}
			}
		}
		record.slots[key.pciSlot] = load
	}

	if elapsed <= 0 && last.slots != nil {
		for slot, load := range record.slots {
			lastLoad := last.slots[slot]
			load.graphics, load.encoder, load.decoder = lastLoad.graphics, lastLoad.encoder, lastLoad.decoder
			record.slots[slot] = load
		}
	}

	for _, load := range record.slots {
		record.GPUPercent = max(record.GPUPercent, load.graphics)
		record.EncoderPercent = max(record.EncoderPercent, load.encoder)
		record.DecoderPercent = max(record.DecoderPercent, load.decoder)
	}
	return record
}

// annotate writes per-process GPU usage into the process table and
// returns the per-GPU totals.
func (s *Sampler) annotate(processes ProcessAnnotator, apps []nvidia.ProcessUsage) map[string]engineLoad {
	loads := make(map[string]engineLoad)
	memory := make(map[int]uint64)

	s.cache.Range(func(identity procs.Identity, entry sampling.Entry[engineCounters, ProcessGPU]) bool {
		record := entry.Record
		memory[record.PID] = record.MemoryBytes
		processes.Annotate(record.PID, func(usage *procs.Usage) {
			usage.GPUPercent = record.GPUPercent
			usage.GPUEncoderPercent = record.EncoderPercent
			usage.GPUDecoderPercent = record.DecoderPercent
			usage.GPUMemoryBytes = record.MemoryBytes
		})
		for slot, load := range record.slots {
			total := loads[slot]
			total.graphics = sampling.Clamp(total.graphics+load.graphics, 0, 100)
			total.encoder = sampling.Clamp(total.encoder+load.encoder, 0, 100)
			total.decoder = sampling.Clamp(total.decoder+load.decoder, 0, 100)
			total.memory += load.memory
			loads[slot] = total
		}
		return true
	})

	appMemory := make(map[int]uint64)
	for _, app := range apps {
		appMemory[app.PID] += app.MemoryBytes
	}
	for pid, bytes := range appMemory {
		if bytes <= memory[pid] {
			continue
		}
		processes.Annotate(pid, func(usage *procs.Usage) {
			usage.GPUMemoryBytes = bytes
		})
	}
	return loads
}

// GPUs returns the enumerated GPUs in PCI slot order.
func (s *Sampler) GPUs() []GPU {
	gpus := make([]GPU, len(s.gpus))
	copy(gpus, s.gpus)
	return gpus
}

// GPU returns the static record for a PCI slot.
func (s *Sampler) GPU(slot string) (GPU, bool) {
	for _, gpu := range s.gpus {
		if gpu.Info.PCISlot == slot {
			return gpu, true
		}
	}
	return GPU{}, false
}

// Status returns the latest dynamic reading for a PCI slot.
func (s *Sampler) Status(slot string) (hwinfo.GPUStatus, bool) {
	reading, ok := s.status[slot]
	return reading, ok
}

// Statuses returns every dynamic reading in PCI slot order.
func (s *Sampler) Statuses() []hwinfo.GPUStatus {
	readings := make([]hwinfo.GPUStatus, 0, len(s.status))
	for _, reading := range s.status {
		readings = append(readings, reading)
	}
	sort.Slice(readings, func(i, j int) bool { return readings[i].PCISlot < readings[j].PCISlot })
	return readings
}

// Processes returns per-process GPU usage for processes holding a DRM
// client, in PID order.
func (s *Sampler) Processes() []ProcessGPU {
	return s.cache.Records(func(a, b ProcessGPU) bool { return a.PID < b.PID })
}

// Close releases collector device handles.
func (s *Sampler) Close() {
	for _, collector := range s.collectors {
		collector.Close()
	}
}
