// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package amdgpu provides GPU enumeration and metrics collection for
// AMD GPUs using the amdgpu kernel driver. Static information is read
// from sysfs (/sys/class/drm/card*). Dynamic metrics (utilization,
// temperature, power, clocks) come from DRM ioctls on render nodes
// (/dev/dri/renderD*), with sysfs and hwmon fallbacks when the render
// node cannot be opened. Requires video or render group membership for
// ioctl access.
//
// No cgo is required. Ioctls use golang.org/x/sys/unix with struct
// layouts matching include/uapi/drm/amdgpu_drm.h, which is stable ABI.
package amdgpu

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bureau-foundation/sysmond/lib/hwinfo"
)

// driverName is the kernel driver amdgpu cards are bound to.
const driverName = "amdgpu"

// Prober implements hwinfo.GPUProber for AMD GPUs.
type Prober struct {
	sysRoot string
}

// NewProber creates a Prober that reads from sysRoot (normally "/sys").
func NewProber(sysRoot string) *Prober {
	return &Prober{sysRoot: sysRoot}
}

// Enumerate returns static information for every amdgpu card. Returns
// nil if none are found.
func (p *Prober) Enumerate() []hwinfo.GPUInfo {
	var gpus []hwinfo.GPUInfo
	for _, card := range hwinfo.ListCards(p.sysRoot, driverName) {
		gpu := readGPUInfo(card.DevicePath)
		gpu.RenderNode = hwinfo.RenderNodeForDevice(card.DevicePath, p.sysRoot)
		gpus = append(gpus, gpu)
	}
	return gpus
}

func readGPUInfo(devicePath string) hwinfo.GPUInfo {
	gpu := hwinfo.GPUInfo{
		Driver:     driverName,
		DevicePath: devicePath,
	}

	gpu.Vendor, gpu.PCIDeviceID, gpu.PCISlot = hwinfo.ParsePCIUevent(devicePath)
	gpu.ModelName = hwinfo.ReadSysfsString(filepath.Join(devicePath, "product_name"))

	gpu.VRAMTotalBytes = hwinfo.ReadSysfsInt64(filepath.Join(devicePath, "mem_info_vram_total"))
	gpu.GTTTotalBytes = hwinfo.ReadSysfsInt64(filepath.Join(devicePath, "mem_info_gtt_total"))
	gpu.VRAMVendor = hwinfo.ReadSysfsString(filepath.Join(devicePath, "mem_info_vram_vendor"))

	gpu.UniqueID = hwinfo.ReadSysfsString(filepath.Join(devicePath, "unique_id"))
	gpu.VBIOSVersion = hwinfo.ReadSysfsString(filepath.Join(devicePath, "vbios_version"))

	gpu.PCIeGeneration, gpu.PCIeLinkWidth = hwinfo.ReadPCIeLink(devicePath)

	gpu.MaxGraphicsClockMHz = maxDPMClock(filepath.Join(devicePath, "pp_dpm_sclk"))
	gpu.MaxMemoryClockMHz = maxDPMClock(filepath.Join(devicePath, "pp_dpm_mclk"))

	if hwmon := hwinfo.DeviceHwmon(devicePath); hwmon != "" {
		// power1_cap is in microwatts.
		gpu.PowerCapWatts = float64(hwinfo.ReadSysfsInt64(filepath.Join(hwmon, "power1_cap"))) / 1e6
	}

	gpu.ThermalLimitCriticalMillidegrees, gpu.ThermalLimitEmergencyMillidegrees =
		hwinfo.ReadThermalLimits(devicePath)

	return gpu
}

// maxDPMClock returns the highest level of a pp_dpm_* table. Lines
// look like "1: 2500Mhz *", the star marking the active level.
func maxDPMClock(path string) int {
	file, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer file.Close()

	highest := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		_, level, found := strings.Cut(scanner.Text(), ":")
		if !found {
			continue
		}
		fields := strings.Fields(level)
		if len(fields) == 0 {
			continue
		}
		megahertz, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(fields[0]), "mhz"))
		if err == nil && megahertz > highest {
			highest = megahertz
		}
	}
	return highest
}
