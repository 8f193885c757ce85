// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatherer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bureau-foundation/sysmond/lib/clock"
	"github.com/bureau-foundation/sysmond/lib/cpustat"
	"github.com/bureau-foundation/sysmond/lib/diskstat"
	"github.com/bureau-foundation/sysmond/lib/fanstat"
	"github.com/bureau-foundation/sysmond/lib/gpustat"
	"github.com/bureau-foundation/sysmond/lib/hwinfo"
	"github.com/bureau-foundation/sysmond/lib/isolate"
	"github.com/bureau-foundation/sysmond/lib/netstat"
	"github.com/bureau-foundation/sysmond/lib/procs"
	"github.com/bureau-foundation/sysmond/lib/sampling"
	"github.com/bureau-foundation/sysmond/lib/services"
)

// Settings are the runtime-mutable gatherer settings.
type Settings struct {
	// RefreshInterval is the time between snapshots.
	RefreshInterval time.Duration `json:"refresh_interval" cbor:"refresh_interval"`

	// CoreCountAffectsPercentages leaves per-process CPU percent on a
	// 100-per-core scale. When false, it is divided by the logical CPU
	// count so a fully busy machine reads 100.
	CoreCountAffectsPercentages bool `json:"core_count_affects_percentages" cbor:"core_count_affects_percentages"`
}

// ErrInvalidSettings is wrapped by SetSettings and SetRefreshInterval.
var ErrInvalidSettings = errors.New("invalid settings")

// Validate checks that the interval is positive.
func (s Settings) Validate() error {
	if s.RefreshInterval <= 0 {
		return fmt.Errorf("%w: refresh interval must be positive, got %v", ErrInvalidSettings, s.RefreshInterval)
	}
	return nil
}

// Options configures a Gatherer. Sampler fields left nil are built
// from the roots with their defaults.
type Options struct {
	ProcRoot string
	SysRoot  string
	DevRoot  string

	Clock  clock.Clock
	Logger *slog.Logger

	Settings Settings

	// CommandWorkers bounds concurrently running commands. Defaults
	// to 4.
	CommandWorkers int64

	// RescanSchedule is a cron expression ("@every 10m", "0 * * * *")
	// for re-enumerating GPUs and re-reading static CPU information.
	// Empty disables rescans.
	RescanSchedule string

	// Executor runs GPU capability probes in a child process. Nil
	// disables them.
	Executor *isolate.Executor

	// Services is the service manager. Nil reports every service
	// operation as unsupported.
	Services services.Manager

	Processes *procs.Table
	CPU       *cpustat.Sampler
	Disks     *diskstat.Sampler
	Network   *netstat.Sampler
	GPU       *gpustat.Sampler
	Fans      *fanstat.Sampler
}

// Gatherer is the snapshot orchestrator. Accessors are safe for
// concurrent use with Run.
type Gatherer struct {
	clock    clock.Clock
	logger   *slog.Logger
	sysRoot  string
	rescan   cron.Schedule
	commands *semaphore.Weighted

	terminate signalFunc
	kill      signalFunc

	settingsMu sync.RWMutex
	settings   Settings

	systemMu sync.RWMutex
	system   hwinfo.SystemInfo

	processMu sync.RWMutex
	processes *procs.Table

	cpuMu sync.RWMutex
	cpu   *cpustat.Sampler

	diskMu sync.RWMutex
	disks  *diskstat.Sampler

	networkMu sync.RWMutex
	network   *netstat.Sampler

	gpuMu sync.RWMutex
	gpu   *gpustat.Sampler

	fanMu sync.RWMutex
	fans  *fanstat.Sampler

	serviceMu       sync.RWMutex
	serviceManager  services.Manager
	serviceThrottle *sampling.Throttle
	serviceList     []services.Service
	serviceErr      error
}

// New builds a Gatherer. It reads nothing until Prime or Snapshot.
func New(options Options) (*Gatherer, error) {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.SysRoot == "" {
		options.SysRoot = "/sys"
	}
	if options.Settings.RefreshInterval == 0 {
		options.Settings.RefreshInterval = time.Second
	}
	if err := options.Settings.Validate(); err != nil {
		return nil, err
	}
	if options.CommandWorkers <= 0 {
		options.CommandWorkers = 4
	}

	var rescan cron.Schedule
	if options.RescanSchedule != "" {
		schedule, err := cron.ParseStandard(options.RescanSchedule)
		if err != nil {
			return nil, fmt.Errorf("parsing rescan schedule %q: %w", options.RescanSchedule, err)
		}
		rescan = schedule
	}

	logger := options.Logger
	if options.Processes == nil {
		options.Processes = procs.New(procs.Options{
			ProcRoot: options.ProcRoot,
			SysRoot:  options.SysRoot,
			Clock:    options.Clock,
			Logger:   logger.With("subsystem", "processes"),
		})
	}
	if options.CPU == nil {
		options.CPU = cpustat.New(cpustat.Options{
			ProcRoot:             options.ProcRoot,
			SysRoot:              options.SysRoot,
			DevRoot:              options.DevRoot,
			Clock:                options.Clock,
			Logger:               logger.With("subsystem", "cpu"),
			DetectVirtualization: cpustat.GopsutilVirtualization,
			ModelFallback:        cpustat.GopsutilModel,
		})
	}
	if options.Disks == nil {
		options.Disks = diskstat.New(diskstat.Options{
			SysRoot:    options.SysRoot,
			Clock:      options.Clock,
			Logger:     logger.With("subsystem", "disks"),
			RootDevice: diskstat.GopsutilRootDevice,
		})
	}
	if options.Network == nil {
		options.Network = netstat.New(netstat.Options{
			SysRoot: options.SysRoot,
			Clock:   options.Clock,
			Logger:  logger.With("subsystem", "network"),
		})
	}
	if options.GPU == nil {
		options.GPU = gpustat.New(gpustat.Options{
			SysRoot:  options.SysRoot,
			ProcRoot: options.ProcRoot,
			Clock:    options.Clock,
			Logger:   logger.With("subsystem", "gpu"),
			Executor: options.Executor,
		})
	}
	if options.Fans == nil {
		options.Fans = fanstat.New(options.SysRoot, options.Clock, logger.With("subsystem", "fans"))
	}

	return &Gatherer{
		clock:           options.Clock,
		logger:          logger,
		sysRoot:         options.SysRoot,
		rescan:          rescan,
		commands:        semaphore.NewWeighted(options.CommandWorkers),
		terminate:       procs.Terminate,
		kill:            procs.Kill,
		settings:        options.Settings,
		processes:       options.Processes,
		cpu:             options.CPU,
		disks:           options.Disks,
		network:         options.Network,
		gpu:             options.GPU,
		fans:            options.Fans,
		serviceManager:  options.Services,
		serviceThrottle: sampling.NewThrottle(options.Clock, sampling.MinRefreshInterval),
	}, nil
}

// Prime reads static information (CPU description, GPU list, GPU
// capabilities) and takes the first snapshot.
func (g *Gatherer) Prime(ctx context.Context) error {
	g.RefreshStatic(ctx)
	return g.Snapshot(ctx)
}

// RefreshStatic re-reads information that changes only with hardware
// or configuration changes. Capability probes run once per GPU.
func (g *Gatherer) RefreshStatic(ctx context.Context) {
	started := g.clock.Now()

	system := hwinfo.ProbeSystem(g.sysRoot)
	g.systemMu.Lock()
	g.system = system
	g.systemMu.Unlock()

	g.cpuMu.Lock()
	static := g.cpu.ProbeStatic(ctx)
	g.cpuMu.Unlock()

	g.gpuMu.Lock()
	g.gpu.RefreshList(ctx)
	err := g.gpu.ProbeCapabilities(ctx)
	gpus := len(g.gpu.GPUs())
	g.gpuMu.Unlock()
	if err != nil {
		g.logger.Warn("gpu capability probes failed", "error", err)
	}

	g.logger.Info("static information refreshed",
		"hostname", system.Hostname,
		"kernel", system.KernelVersion,
		"cpu_model", static.Model,
		"logical_cpus", static.LogicalCPUs,
		"gpus", gpus,
		"duration", clock.Since(g.clock, started),
	)
}

// Snapshot refreshes every subsystem in order. A failing step is
// logged and does not stop later steps; the returned error joins every
// step failure. Only context cancellation ends a snapshot early.
func (g *Gatherer) Snapshot(ctx context.Context) error {
	started := g.clock.Now()
	coreCount := g.CoreCountAffectsPercentages()

	var errs []error
	step := func(name string, refresh func() (bool, error)) {
		if ctx.Err() != nil {
			return
		}
		stepStarted := g.clock.Now()
		refreshed, err := refresh()
		if err != nil {
			g.logger.Error("refresh failed", "subsystem", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		g.logger.Debug("subsystem refreshed",
			"subsystem", name,
			"refreshed", refreshed,
			"duration", clock.Since(g.clock, stepStarted),
		)
	}

	step("processes", func() (bool, error) {
		g.processMu.Lock()
		defer g.processMu.Unlock()
		return g.processes.Refresh(ctx, coreCount)
	})
	step("cpu", func() (bool, error) {
		g.cpuMu.Lock()
		defer g.cpuMu.Unlock()
		g.processMu.RLock()
		defer g.processMu.RUnlock()
		return g.cpu.Refresh(ctx, g.processes)
	})
	step("disks", func() (bool, error) {
		g.diskMu.Lock()
		defer g.diskMu.Unlock()
		return g.disks.Refresh(ctx)
	})
	step("network", func() (bool, error) {
		g.networkMu.Lock()
		defer g.networkMu.Unlock()
		return g.network.Refresh(ctx)
	})
	step("gpu", func() (bool, error) {
		g.gpuMu.Lock()
		defer g.gpuMu.Unlock()
		g.processMu.Lock()
		defer g.processMu.Unlock()
		return g.gpu.Refresh(ctx, g.processes)
	})
	step("fans", func() (bool, error) {
		g.fanMu.Lock()
		defer g.fanMu.Unlock()
		return g.fans.Refresh(ctx)
	})
	step("services", func() (bool, error) {
		return g.refreshServices(ctx)
	})

	if err := ctx.Err(); err != nil {
		return err
	}
	g.logger.Debug("snapshot complete", "duration", clock.Since(g.clock, started), "failures", len(errs))
	return errors.Join(errs...)
}

// refreshServices reloads the cached service list. A failure keeps
// the previous list and is reported by Services until the next
// successful refresh.
func (g *Gatherer) refreshServices(ctx context.Context) (bool, error) {
	if g.serviceManager == nil {
		return false, nil
	}
	g.serviceMu.Lock()
	defer g.serviceMu.Unlock()
	if !g.serviceThrottle.Allow() {
		return false, nil
	}
	list, err := g.serviceManager.List(ctx)
	g.serviceErr = err
	if err != nil {
		return true, err
	}
	g.serviceList = list
	return true, nil
}

// Run takes a snapshot every refresh interval until ctx is cancelled,
// and refreshes static information on the rescan schedule. Snapshots
// and rescans share one goroutine so samplers have a single writer.
func (g *Gatherer) Run(ctx context.Context) error {
	rescans := make(chan struct{}, 1)

	group, groupCtx := errgroup.WithContext(ctx)
	if g.rescan != nil {
		group.Go(func() error {
			g.scheduleRescans(groupCtx, rescans)
			return nil
		})
	}
	group.Go(func() error {
		tick := g.clock.After(g.RefreshInterval())
		for {
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			case <-rescans:
				g.RefreshStatic(groupCtx)
			case <-tick:
				// Step failures are logged inside Snapshot.
				_ = g.Snapshot(groupCtx)
				tick = g.clock.After(g.RefreshInterval())
			}
		}
	})

	err := group.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// scheduleRescans signals rescans whenever the cron schedule fires. A
// rescan still pending when the next one fires is not queued twice.
func (g *Gatherer) scheduleRescans(ctx context.Context, rescans chan<- struct{}) {
	for {
		now := g.clock.Now()
		next := g.rescan.Next(now)
		select {
		case <-ctx.Done():
			return
		case <-g.clock.After(next.Sub(now)):
		}
		select {
		case rescans <- struct{}{}:
		default:
		}
	}
}
