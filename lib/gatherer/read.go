// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatherer

import (
	"context"
	"time"

	"github.com/bureau-foundation/sysmond/lib/cpustat"
	"github.com/bureau-foundation/sysmond/lib/diskstat"
	"github.com/bureau-foundation/sysmond/lib/fanstat"
	"github.com/bureau-foundation/sysmond/lib/gpustat"
	"github.com/bureau-foundation/sysmond/lib/hwinfo"
	"github.com/bureau-foundation/sysmond/lib/netstat"
	"github.com/bureau-foundation/sysmond/lib/procs"
	"github.com/bureau-foundation/sysmond/lib/services"
)

// Settings returns the current settings.
func (g *Gatherer) Settings() Settings {
	g.settingsMu.RLock()
	defer g.settingsMu.RUnlock()
	return g.settings
}

// SetSettings replaces the settings. Invalid settings are rejected and
// the previous ones stay in effect. A new interval applies from the
// next tick.
func (g *Gatherer) SetSettings(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	g.settingsMu.Lock()
	g.settings = settings
	g.settingsMu.Unlock()
	g.logger.Info("settings changed",
		"refresh_interval", settings.RefreshInterval,
		"core_count_affects_percentages", settings.CoreCountAffectsPercentages,
	)
	return nil
}

func (g *Gatherer) RefreshInterval() time.Duration {
	return g.Settings().RefreshInterval
}

func (g *Gatherer) SetRefreshInterval(interval time.Duration) error {
	settings := g.Settings()
	settings.RefreshInterval = interval
	return g.SetSettings(settings)
}

func (g *Gatherer) CoreCountAffectsPercentages() bool {
	return g.Settings().CoreCountAffectsPercentages
}

func (g *Gatherer) SetCoreCountAffectsPercentages(enabled bool) error {
	settings := g.Settings()
	settings.CoreCountAffectsPercentages = enabled
	return g.SetSettings(settings)
}

// System returns the host identity read by the last static refresh.
func (g *Gatherer) System() hwinfo.SystemInfo {
	g.systemMu.RLock()
	defer g.systemMu.RUnlock()
	return g.system
}

func (g *Gatherer) CPUStatic() cpustat.Static {
	g.cpuMu.RLock()
	defer g.cpuMu.RUnlock()
	return g.cpu.Static()
}

func (g *Gatherer) CPUDynamic() cpustat.Dynamic {
	g.cpuMu.RLock()
	defer g.cpuMu.RUnlock()
	return g.cpu.Dynamic()
}

func (g *Gatherer) Disks() []diskstat.Disk {
	g.diskMu.RLock()
	defer g.diskMu.RUnlock()
	return g.disks.Disks()
}

func (g *Gatherer) Interfaces() []netstat.Interface {
	g.networkMu.RLock()
	defer g.networkMu.RUnlock()
	return g.network.Interfaces()
}

func (g *Gatherer) Fans() []fanstat.Fan {
	g.fanMu.RLock()
	defer g.fanMu.RUnlock()
	return g.fans.Fans()
}

// GPUs returns the PCI slots of the known GPUs in slot order.
func (g *Gatherer) GPUs() []string {
	g.gpuMu.RLock()
	defer g.gpuMu.RUnlock()
	gpus := g.gpu.GPUs()
	slots := make([]string, len(gpus))
	for i, gpu := range gpus {
		slots[i] = gpu.Info.PCISlot
	}
	return slots
}

// GPUStatic returns the static description of the GPU in slot.
func (g *Gatherer) GPUStatic(slot string) (gpustat.GPU, bool) {
	g.gpuMu.RLock()
	defer g.gpuMu.RUnlock()
	return g.gpu.GPU(slot)
}

// GPUDynamic returns the latest status of the GPU in slot.
func (g *Gatherer) GPUDynamic(slot string) (hwinfo.GPUStatus, bool) {
	g.gpuMu.RLock()
	defer g.gpuMu.RUnlock()
	return g.gpu.Status(slot)
}

func (g *Gatherer) Processes() []procs.Process {
	g.processMu.RLock()
	defer g.processMu.RUnlock()
	return g.processes.Processes()
}

// Process returns one process by PID.
func (g *Gatherer) Process(pid int) (procs.Process, bool) {
	g.processMu.RLock()
	defer g.processMu.RUnlock()
	return g.processes.Get(pid)
}

// Apps groups the current processes by app scope.
func (g *Gatherer) Apps() []procs.App {
	return procs.GroupApps(g.Processes())
}

// Services returns the service list of the last successful refresh.
// The error is that of the most recent refresh attempt.
func (g *Gatherer) Services() ([]services.Service, error) {
	if g.serviceManager == nil {
		return nil, &services.Error{Kind: services.KindUnsupported, Op: "list"}
	}
	g.serviceMu.RLock()
	defer g.serviceMu.RUnlock()
	return g.serviceList, g.serviceErr
}

// ServiceLogs returns the recent log lines of a service.
func (g *Gatherer) ServiceLogs(ctx context.Context, name string, pid int) (string, error) {
	if g.serviceManager == nil {
		return "", &services.Error{Kind: services.KindUnsupported, Op: "logs", Name: name}
	}
	return g.serviceManager.Logs(ctx, name, pid)
}

// ServiceBackend names the service manager in use, or "none".
func (g *Gatherer) ServiceBackend() string {
	if g.serviceManager == nil {
		return "none"
	}
	return g.serviceManager.Backend()
}

// Close releases GPU device handles and the service manager
// connection. The Gatherer must not be used afterwards.
func (g *Gatherer) Close() error {
	g.gpuMu.Lock()
	g.gpu.Close()
	g.gpuMu.Unlock()
	if g.serviceManager != nil {
		return g.serviceManager.Close()
	}
	return nil
}
