// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package amdgpu

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bureau-foundation/sysmond/lib/hwinfo"
)

// gpuDevice holds the state for collecting metrics from a single GPU.
type gpuDevice struct {
	pciSlot string

	// renderFile is held open for the collector's lifetime. Nil when
	// the render node could not be opened.
	renderFile *os.File

	devicePath string
	hwmonPath  string
}

// Collector implements hwinfo.GPUCollector for AMD GPUs. VRAM and GTT
// usage always come from sysfs; sensors come from the
// AMDGPU_INFO_SENSOR ioctl when the render node is open, otherwise
// from gpu_busy_percent and the device's hwmon directory.
type Collector struct {
	devices []gpuDevice
	logger  *slog.Logger
}

// NewCollector discovers amdgpu cards under sysRoot and opens their
// render nodes. A render node that cannot be opened (the daemon is not
// in the video or render group) is logged and that GPU falls back to
// sysfs readings. Call Close at shutdown.
func NewCollector(sysRoot string, logger *slog.Logger) *Collector {
	return newCollector(sysRoot, true, logger)
}

func newCollector(sysRoot string, openRenderNodes bool, logger *slog.Logger) *Collector {
	collector := &Collector{logger: logger}

	for _, card := range hwinfo.ListCards(sysRoot, driverName) {
		_, _, pciSlot := hwinfo.ParsePCIUevent(card.DevicePath)
		if pciSlot == "" {
			continue
		}

		device := gpuDevice{
			pciSlot:    pciSlot,
			devicePath: card.DevicePath,
			hwmonPath:  hwinfo.DeviceHwmon(card.DevicePath),
		}

		if openRenderNodes {
			renderPath := hwinfo.RenderNodeForDevice(card.DevicePath, sysRoot)
			if renderPath == "" {
				logger.Warn("no render node found for amdgpu device", "pci_slot", pciSlot)
			} else if file, err := os.OpenFile(renderPath, os.O_RDWR, 0); err != nil {
				logger.Warn("cannot open amdgpu render node, falling back to sysfs",
					"render_node", renderPath,
					"pci_slot", pciSlot,
					"error", err)
			} else {
				device.renderFile = file
			}
		}

		collector.devices = append(collector.devices, device)
	}

	if len(collector.devices) > 0 {
		withIoctl := 0
		for _, device := range collector.devices {
			if device.renderFile != nil {
				withIoctl++
			}
		}
		logger.Info("amdgpu collector initialized",
			"gpu_count", len(collector.devices),
			"ioctl_capable", withIoctl)
	}

	return collector
}

// Collect returns current dynamic stats for every amdgpu device. A
// sensor that fails (unsupported on a given ASIC) logs at debug and
// falls back or stays at zero.
func (c *Collector) Collect() []hwinfo.GPUStatus {
	if len(c.devices) == 0 {
		return nil
	}

	stats := make([]hwinfo.GPUStatus, 0, len(c.devices))
	for _, device := range c.devices {
		stats = append(stats, c.collectDevice(device))
	}
	return stats
}

func (c *Collector) collectDevice(device gpuDevice) hwinfo.GPUStatus {
	status := hwinfo.GPUStatus{
		PCISlot:         device.pciSlot,
		FanSpeedPercent: -1,
	}

	status.VRAMUsedBytes = hwinfo.ReadSysfsInt64(filepath.Join(device.devicePath, "mem_info_vram_used"))
	status.GTTUsedBytes = hwinfo.ReadSysfsInt64(filepath.Join(device.devicePath, "mem_info_gtt_used"))
	status.MemoryBusyPercent = float64(hwinfo.ReadSysfsInt(filepath.Join(device.devicePath, "mem_busy_percent")))
	status.UtilizationPercent = float64(hwinfo.ReadSysfsInt(filepath.Join(device.devicePath, "gpu_busy_percent")))

	if device.hwmonPath != "" {
		status.TemperatureMillidegrees = hwinfo.ReadSysfsInt(filepath.Join(device.hwmonPath, "temp1_input"))
		// power1_average is in microwatts; newer kernels expose power1_input instead.
		power := hwinfo.ReadSysfsInt64(filepath.Join(device.hwmonPath, "power1_average"))
		if power == 0 {
			power = hwinfo.ReadSysfsInt64(filepath.Join(device.hwmonPath, "power1_input"))
		}
		status.PowerDrawWatts = float64(power) / 1e6
		if pwm, err := strconv.Atoi(hwinfo.ReadSysfsString(filepath.Join(device.hwmonPath, "pwm1"))); err == nil {
			status.FanSpeedPercent = float64(pwm) * 100 / 255
		}
		// freq1_input and freq2_input are sclk and mclk in hertz.
		status.GraphicsClockMHz = int(hwinfo.ReadSysfsInt64(filepath.Join(device.hwmonPath, "freq1_input")) / 1e6)
		status.MemoryClockMHz = int(hwinfo.ReadSysfsInt64(filepath.Join(device.hwmonPath, "freq2_input")) / 1e6)
	}

	if device.renderFile == nil {
		return status
	}
	fd := device.renderFile.Fd()

	if value, ok := c.sensor(fd, device.pciSlot, sensorLoad); ok {
		status.UtilizationPercent = float64(value)
	}
	if value, ok := c.sensor(fd, device.pciSlot, sensorTemperature); ok {
		status.TemperatureMillidegrees = int(value)
	}
	if value, ok := c.sensor(fd, device.pciSlot, sensorAveragePower); ok {
		status.PowerDrawWatts = float64(value)
	}
	if value, ok := c.sensor(fd, device.pciSlot, sensorGraphicsClock); ok {
		status.GraphicsClockMHz = int(value)
	}
	if value, ok := c.sensor(fd, device.pciSlot, sensorMemoryClock); ok {
		status.MemoryClockMHz = int(value)
	}
	return status
}

func (c *Collector) sensor(fd uintptr, pciSlot string, which sensor) (uint32, bool) {
	value, err := readSensor(fd, which)
	if err != nil {
		c.logger.Debug("amdgpu sensor query failed", "sensor", which.String(), "pci_slot", pciSlot, "error", err)
		return 0, false
	}
	return value, true
}

// Close releases all open render node file descriptors.
func (c *Collector) Close() {
	for _, device := range c.devices {
		if device.renderFile != nil {
			device.renderFile.Close()
		}
	}
	c.devices = nil
}
