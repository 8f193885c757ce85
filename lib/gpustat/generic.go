// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gpustat

import (
	"github.com/bureau-foundation/sysmond/lib/hwinfo"
)

// GenericProber enumerates DRM cards bound to drivers without a
// dedicated prober (i915, xe, virtio_gpu, ...). Only PCI identity and
// link information is available for them; dynamic state comes from
// fdinfo accounting.
type GenericProber struct {
	sysRoot string
	skip    map[string]bool
}

// NewGenericProber creates a prober that ignores cards bound to any of
// the skipped drivers.
func NewGenericProber(sysRoot string, skipDrivers ...string) *GenericProber {
	skip := make(map[string]bool, len(skipDrivers))
	for _, driver := range skipDrivers {
		skip[driver] = true
	}
	return &GenericProber{sysRoot: sysRoot, skip: skip}
}

func (p *GenericProber) Enumerate() []hwinfo.GPUInfo {
	var gpus []hwinfo.GPUInfo
	for _, card := range hwinfo.ListCards(p.sysRoot, "") {
		if card.Driver == "" || p.skip[card.Driver] {
			continue
		}
		gpu := hwinfo.GPUInfo{Driver: card.Driver, DevicePath: card.DevicePath}
		gpu.Vendor, gpu.PCIDeviceID, gpu.PCISlot = hwinfo.ParsePCIUevent(card.DevicePath)
		if gpu.PCISlot == "" {
			continue
		}
		gpu.PCIeGeneration, gpu.PCIeLinkWidth = hwinfo.ReadPCIeLink(card.DevicePath)
		gpu.ThermalLimitCriticalMillidegrees, gpu.ThermalLimitEmergencyMillidegrees =
			hwinfo.ReadThermalLimits(card.DevicePath)
		gpu.RenderNode = hwinfo.RenderNodeForDevice(card.DevicePath, p.sysRoot)
		gpus = append(gpus, gpu)
	}
	return gpus
}
