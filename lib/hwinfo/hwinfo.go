// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

// GPUInfo is the static description of one GPU. PCISlot is the join
// key with GPUStatus and with per-process DRM accounting.
type GPUInfo struct {
	// Vendor is "AMD", "NVIDIA", "Intel", or "0x<id>" for others.
	Vendor string `json:"vendor"`

	// ModelName is the marketing name when the driver exposes one.
	ModelName string `json:"model_name,omitempty"`

	PCIDeviceID string `json:"pci_device_id"`
	PCISlot     string `json:"pci_slot"`
	Driver      string `json:"driver"`

	VRAMTotalBytes int64 `json:"vram_total_bytes"`
	GTTTotalBytes  int64 `json:"gtt_total_bytes,omitempty"`

	VRAMVendor   string `json:"vram_vendor,omitempty"`
	UniqueID     string `json:"unique_id,omitempty"`
	VBIOSVersion string `json:"vbios_version,omitempty"`

	PCIeGeneration int `json:"pcie_generation,omitempty"`
	PCIeLinkWidth  int `json:"pcie_link_width,omitempty"`

	MaxGraphicsClockMHz int     `json:"max_graphics_clock_mhz,omitempty"`
	MaxMemoryClockMHz   int     `json:"max_memory_clock_mhz,omitempty"`
	PowerCapWatts       float64 `json:"power_cap_watts,omitempty"`

	ThermalLimitCriticalMillidegrees  int `json:"thermal_limit_critical_millidegrees,omitempty"`
	ThermalLimitEmergencyMillidegrees int `json:"thermal_limit_emergency_millidegrees,omitempty"`

	// DevicePath is the sysfs device directory (card*/device). Not sent
	// over the wire.
	DevicePath string `json:"-"`

	// RenderNode is the /dev/dri/renderD* path for this GPU, or "".
	RenderNode string `json:"render_node,omitempty"`
}

// GPUStatus is one reading of a GPU's dynamic state. Fields a driver
// cannot report stay at zero, except FanSpeedPercent which is -1 when
// unknown (a stopped fan reads 0).
type GPUStatus struct {
	PCISlot string `json:"pci_slot"`

	UtilizationPercent float64 `json:"utilization_percent"`
	MemoryBusyPercent  float64 `json:"memory_busy_percent"`

	VRAMUsedBytes int64 `json:"vram_used_bytes"`
	GTTUsedBytes  int64 `json:"gtt_used_bytes"`

	TemperatureMillidegrees int     `json:"temperature_millidegrees"`
	PowerDrawWatts          float64 `json:"power_draw_watts"`
	GraphicsClockMHz        int     `json:"graphics_clock_mhz"`
	MemoryClockMHz          int     `json:"memory_clock_mhz"`
	FanSpeedPercent         float64 `json:"fan_speed_percent"`

	EncoderPercent float64 `json:"encoder_percent"`
	DecoderPercent float64 `json:"decoder_percent"`
}

// GPUProber enumerates the GPUs bound to one vendor's driver. Returns
// nil, not an error, when there are none.
type GPUProber interface {
	Enumerate() []GPUInfo
}

// GPUCollector reads dynamic state for one vendor's GPUs on every
// Collect. Close releases held device handles.
type GPUCollector interface {
	Collect() []GPUStatus
	Close()
}
