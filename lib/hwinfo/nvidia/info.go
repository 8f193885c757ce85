// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package nvidia provides GPU enumeration and metrics for NVIDIA GPUs
// using the nvidia (proprietary) or nouveau (open-source) kernel
// drivers. Static information is read from sysfs (/sys/class/drm/card*)
// and, when the proprietary driver is loaded, from
// /proc/driver/nvidia/gpus/ and nvidia-smi.
//
// Dynamic metrics come from nvidia-smi in CSV mode. NVML would need
// cgo or dlopen, and NVIDIA's kernel ioctl interface (NV_ESC_* on
// /dev/nvidiactl) changes between driver versions, so direct ioctl
// access (as for amdgpu) is not viable.
package nvidia

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/sysmond/lib/hwinfo"
)

// Prober implements hwinfo.GPUProber for NVIDIA GPUs.
type Prober struct {
	sysRoot  string
	procRoot string

	// run executes nvidia-smi. Nil disables nvidia-smi enrichment.
	run Runner
}

// NewProber creates a Prober reading the given /sys and /proc roots.
// run may be nil.
func NewProber(sysRoot, procRoot string, run Runner) *Prober {
	return &Prober{sysRoot: sysRoot, procRoot: procRoot, run: run}
}

// Enumerate returns static information for every GPU bound to nvidia
// or nouveau. Returns nil if none are found.
func (p *Prober) Enumerate() []hwinfo.GPUInfo {
	var gpus []hwinfo.GPUInfo
	proprietary := false
	for _, card := range hwinfo.ListCards(p.sysRoot, "") {
		if card.Driver != "nvidia" && card.Driver != "nouveau" {
			continue
		}

		gpu := readGPUInfo(card.DevicePath, card.Driver)
		gpu.RenderNode = hwinfo.RenderNodeForDevice(card.DevicePath, p.sysRoot)
		if card.Driver == "nvidia" && gpu.PCISlot != "" {
			p.enrichFromProc(&gpu)
			proprietary = true
		}
		gpus = append(gpus, gpu)
	}

	if proprietary && p.run != nil {
		p.enrichFromSMI(gpus)
	}
	return gpus
}

func readGPUInfo(devicePath, driver string) hwinfo.GPUInfo {
	gpu := hwinfo.GPUInfo{
		Driver:     driver,
		DevicePath: devicePath,
	}

	gpu.Vendor, gpu.PCIDeviceID, gpu.PCISlot = hwinfo.ParsePCIUevent(devicePath)
	gpu.PCIeGeneration, gpu.PCIeLinkWidth = hwinfo.ReadPCIeLink(devicePath)

	// nouveau exposes hwmon limits; the proprietary driver does not.
	gpu.ThermalLimitCriticalMillidegrees, gpu.ThermalLimitEmergencyMillidegrees =
		hwinfo.ReadThermalLimits(devicePath)

	return gpu
}

// enrichFromProc reads /proc/driver/nvidia/gpus/<slot>/information,
// which holds lines like:
//
//	Model:           NVIDIA GeForce RTX 4090
//	GPU UUID:        GPU-xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx
//	Video BIOS:      95.02.3c.80.b8
func (p *Prober) enrichFromProc(gpu *hwinfo.GPUInfo) {
	infoPath := filepath.Join(p.procRoot, "driver/nvidia/gpus", gpu.PCISlot, "information")
	data, err := os.ReadFile(infoPath)
	if err != nil {
		return
	}

	for _, line := range strings.Split(string(data), "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Model":
			gpu.ModelName = value
		case "GPU UUID":
			gpu.UniqueID = value
		case "Video BIOS":
			gpu.VBIOSVersion = value
		}
	}
}

var staticFields = []string{
	"pci.bus_id",
	"memory.total",
	"clocks.max.graphics",
	"clocks.max.memory",
	"power.limit",
}

// enrichFromSMI fills VRAM size, clock ceilings, and the power cap,
// none of which the proprietary driver puts in sysfs. Failure leaves
// the sysfs-only view.
func (p *Prober) enrichFromSMI(gpus []hwinfo.GPUInfo) {
	records, err := querySMI(context.Background(), p.run, "gpu", staticFields)
	if err != nil {
		return
	}

	bySlot := make(map[string][]string, len(records))
	for _, record := range records {
		bySlot[NormalizeBusID(record[0])] = record
	}

	for i := range gpus {
		record, found := bySlot[gpus[i].PCISlot]
		if !found {
			continue
		}
		if mebibytes, ok := parseNumber(record[1]); ok {
			gpus[i].VRAMTotalBytes = int64(mebibytes) * 1024 * 1024
		}
		if megahertz, ok := parseNumber(record[2]); ok {
			gpus[i].MaxGraphicsClockMHz = int(megahertz)
		}
		if megahertz, ok := parseNumber(record[3]); ok {
			gpus[i].MaxMemoryClockMHz = int(megahertz)
		}
		if watts, ok := parseNumber(record[4]); ok {
			gpus[i].PowerCapWatts = watts
		}
	}
}
