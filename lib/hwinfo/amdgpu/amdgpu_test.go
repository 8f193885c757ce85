// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package amdgpu

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"unsafe"
)

// writeSyntheticFile creates a file at the given path within root,
// creating parent directories as needed.
func writeSyntheticFile(t *testing.T, root, path, content string) {
	t.Helper()
	fullPath := filepath.Join(root, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(fullPath), err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", fullPath, err)
	}
}

// writeSyntheticSymlink creates a symlink at the given path within root.
func writeSyntheticSymlink(t *testing.T, root, path, target string) {
	t.Helper()
	fullPath := filepath.Join(root, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(fullPath), err)
	}
	if err := os.Symlink(target, fullPath); err != nil {
		t.Fatalf("symlink %s -> %s: %v", fullPath, target, err)
	}
}

// createSyntheticAMDGPU sets up a synthetic sysfs tree for one amdgpu device.
func createSyntheticAMDGPU(t *testing.T, root string, cardIndex int, pciSlot string) {
	t.Helper()

	cardName := "card" + string(rune('0'+cardIndex))
	cardPath := filepath.Join("sys/class/drm", cardName)

	driverDir := filepath.Join(root, "sys/bus/pci/drivers/amdgpu")
	if err := os.MkdirAll(driverDir, 0755); err != nil {
		t.Fatalf("mkdir driver: %v", err)
	}
	// Create the device directory first (symlink target).
	deviceDir := filepath.Join(root, cardPath, "device")
	if err := os.MkdirAll(deviceDir, 0755); err != nil {
		t.Fatalf("mkdir device: %v", err)
	}
	writeSyntheticSymlink(t, root, filepath.Join(cardPath, "device", "driver"), driverDir)

	// PCI uevent.
	writeSyntheticFile(t, root, filepath.Join(cardPath, "device", "uevent"),
		"DRIVER=amdgpu\nPCI_CLASS=30000\nPCI_ID=1002:744A\nPCI_SUBSYS_ID=1458:241A\nPCI_SLOT_NAME="+pciSlot+"\n")

	// VRAM.
	writeSyntheticFile(t, root, filepath.Join(cardPath, "device", "mem_info_vram_total"), "48301604864\n")
	writeSyntheticFile(t, root, filepath.Join(cardPath, "device", "mem_info_vram_used"), "27860992\n")
	writeSyntheticFile(t, root, filepath.Join(cardPath, "device", "mem_info_vram_vendor"), "samsung\n")

	// Identity.
	writeSyntheticFile(t, root, filepath.Join(cardPath, "device", "unique_id"), "30437a849c458574\n")
	writeSyntheticFile(t, root, filepath.Join(cardPath, "device", "vbios_version"), "113-APM7489-DS2-100\n")
	writeSyntheticFile(t, root, filepath.Join(cardPath, "device", "current_link_width"), "16\n")
	writeSyntheticFile(t, root, filepath.Join(cardPath, "device", "current_link_speed"), "16.0 GT/s PCIe\n")
	writeSyntheticFile(t, root, filepath.Join(cardPath, "device", "mem_info_gtt_total"), "67108864000\n")
	writeSyntheticFile(t, root, filepath.Join(cardPath, "device", "mem_info_gtt_used"), "16777216\n")
	writeSyntheticFile(t, root, filepath.Join(cardPath, "device", "gpu_busy_percent"), "37\n")
	writeSyntheticFile(t, root, filepath.Join(cardPath, "device", "mem_busy_percent"), "12\n")
	writeSyntheticFile(t, root, filepath.Join(cardPath, "device", "pp_dpm_sclk"), "0: 500Mhz\n1: 1800Mhz *\n2: 2400Mhz\n")
	writeSyntheticFile(t, root, filepath.Join(cardPath, "device", "pp_dpm_mclk"), "0: 96Mhz\n1: 1250Mhz *\n")

	// Hwmon thermal limits.
	hwmonDir := filepath.Join(cardPath, "device", "hwmon", "hwmon0")
	writeSyntheticFile(t, root, filepath.Join(hwmonDir, "temp1_crit"), "100000\n")
	writeSyntheticFile(t, root, filepath.Join(hwmonDir, "temp1_emergency"), "105000\n")
	writeSyntheticFile(t, root, filepath.Join(hwmonDir, "name"), "amdgpu\n")
	writeSyntheticFile(t, root, filepath.Join(hwmonDir, "temp1_input"), "61000\n")
	writeSyntheticFile(t, root, filepath.Join(hwmonDir, "power1_average"), "143000000\n")
	writeSyntheticFile(t, root, filepath.Join(hwmonDir, "power1_cap"), "300000000\n")
	writeSyntheticFile(t, root, filepath.Join(hwmonDir, "pwm1"), "51\n")
	writeSyntheticFile(t, root, filepath.Join(hwmonDir, "freq1_input"), "1800000000\n")
	writeSyntheticFile(t, root, filepath.Join(hwmonDir, "freq2_input"), "1250000000\n")
}

func TestEnumerateSingleGPU(t *testing.T) {
	root := t.TempDir()
	createSyntheticAMDGPU(t, root, 0, "0000:c3:00.0")

	prober := NewProber(filepath.Join(root, "sys"))
	gpus := prober.Enumerate()

	if len(gpus) != 1 {
		t.Fatalf("Enumerate() returned %d GPUs, want 1", len(gpus))
	}

	gpu := gpus[0]
	if gpu.Vendor != "AMD" {
		t.Errorf("Vendor = %q, want AMD", gpu.Vendor)
	}
	if gpu.PCIDeviceID != "0x744a" {
		t.Errorf("PCIDeviceID = %q, want 0x744a", gpu.PCIDeviceID)
	}
	if gpu.PCISlot != "0000:c3:00.0" {
		t.Errorf("PCISlot = %q, want 0000:c3:00.0", gpu.PCISlot)
	}
	if gpu.VRAMTotalBytes != 48301604864 {
		t.Errorf("VRAMTotalBytes = %d, want 48301604864", gpu.VRAMTotalBytes)
	}
	if gpu.UniqueID != "30437a849c458574" {
		t.Errorf("UniqueID = %q, want 30437a849c458574", gpu.UniqueID)
	}
	if gpu.VBIOSVersion != "113-APM7489-DS2-100" {
		t.Errorf("VBIOSVersion = %q, want 113-APM7489-DS2-100", gpu.VBIOSVersion)
	}
	if gpu.VRAMVendor != "samsung" {
		t.Errorf("VRAMVendor = %q, want samsung", gpu.VRAMVendor)
	}
	if gpu.PCIeLinkWidth != 16 {
		t.Errorf("PCIeLinkWidth = %d, want 16", gpu.PCIeLinkWidth)
	}
	if gpu.ThermalLimitCriticalMillidegrees != 100000 {
		t.Errorf("ThermalLimitCritical = %d, want 100000", gpu.ThermalLimitCriticalMillidegrees)
	}
	if gpu.ThermalLimitEmergencyMillidegrees != 105000 {
		t.Errorf("ThermalLimitEmergency = %d, want 105000", gpu.ThermalLimitEmergencyMillidegrees)
	}
	if gpu.Driver != "amdgpu" {
		t.Errorf("Driver = %q, want amdgpu", gpu.Driver)
	}
	if gpu.PCIeGeneration != 4 {
		t.Errorf("PCIeGeneration = %d, want 4", gpu.PCIeGeneration)
	}
	if gpu.GTTTotalBytes != 67108864000 {
		t.Errorf("GTTTotalBytes = %d, want 67108864000", gpu.GTTTotalBytes)
	}
	if gpu.MaxGraphicsClockMHz != 2400 || gpu.MaxMemoryClockMHz != 1250 {
		t.Errorf("max clocks = %d/%d MHz, want 2400/1250", gpu.MaxGraphicsClockMHz, gpu.MaxMemoryClockMHz)
	}
	if gpu.PowerCapWatts != 300 {
		t.Errorf("PowerCapWatts = %v, want 300", gpu.PowerCapWatts)
	}
}

func TestEnumerateMultipleGPUs(t *testing.T) {
	root := t.TempDir()
	createSyntheticAMDGPU(t, root, 0, "0000:c3:00.0")
	createSyntheticAMDGPU(t, root, 1, "0000:e3:00.0")

	prober := NewProber(filepath.Join(root, "sys"))
	gpus := prober.Enumerate()

	if len(gpus) != 2 {
		t.Fatalf("Enumerate() returned %d GPUs, want 2", len(gpus))
	}

	// Verify both PCI slots are present (order may vary).
	slots := make(map[string]bool)
	for _, gpu := range gpus {
		slots[gpu.PCISlot] = true
	}
	if !slots["0000:c3:00.0"] {
		t.Error("missing GPU at PCI slot 0000:c3:00.0")
	}
	if !slots["0000:e3:00.0"] {
		t.Error("missing GPU at PCI slot 0000:e3:00.0")
	}
}

func TestEnumerateSkipsNonAMDGPU(t *testing.T) {
	root := t.TempDir()
	createSyntheticAMDGPU(t, root, 0, "0000:c3:00.0")

	// Create a non-amdgpu card (AST BMC graphics).
	cardPath := "sys/class/drm/card1"
	astDriverDir := filepath.Join(root, "sys/bus/pci/drivers/ast")
	if err := os.MkdirAll(astDriverDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	deviceDir := filepath.Join(root, cardPath, "device")
	if err := os.MkdirAll(deviceDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeSyntheticSymlink(t, root, filepath.Join(cardPath, "device", "driver"), astDriverDir)

	prober := NewProber(filepath.Join(root, "sys"))
	gpus := prober.Enumerate()

	if len(gpus) != 1 {
		t.Fatalf("Enumerate() returned %d GPUs, want 1 (should skip ast)", len(gpus))
	}
	if gpus[0].Vendor != "AMD" {
		t.Errorf("Vendor = %q, want AMD", gpus[0].Vendor)
	}
}

func TestEnumerateNoGPUs(t *testing.T) {
	root := t.TempDir()
	// Empty sysfs, no DRM directory at all.
	prober := NewProber(filepath.Join(root, "sys"))
	gpus := prober.Enumerate()

	if len(gpus) != 0 {
		t.Errorf("Enumerate() returned %d GPUs, want 0", len(gpus))
	}
}

func TestEnumerateSkipsConnectors(t *testing.T) {
	root := t.TempDir()
	createSyntheticAMDGPU(t, root, 0, "0000:c3:00.0")

	// Create connector entries that should be ignored (card0-DP-1, etc.).
	connectorPath := filepath.Join(root, "sys/class/drm/card0-DP-1")
	if err := os.MkdirAll(connectorPath, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	prober := NewProber(filepath.Join(root, "sys"))
	gpus := prober.Enumerate()

	if len(gpus) != 1 {
		t.Fatalf("Enumerate() returned %d GPUs, want 1", len(gpus))
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCollectorSysfsFallback(t *testing.T) {
	// Without a render node every reading comes from sysfs and hwmon.
	root := t.TempDir()
	createSyntheticAMDGPU(t, root, 0, "0000:c3:00.0")

	collector := newCollector(filepath.Join(root, "sys"), false, discardLogger())
	defer collector.Close()

	stats := collector.Collect()
	if len(stats) != 1 {
		t.Fatalf("Collect() returned %d stats, want 1", len(stats))
	}

	status := stats[0]
	if status.PCISlot != "0000:c3:00.0" {
		t.Errorf("PCISlot = %q, want 0000:c3:00.0", status.PCISlot)
	}
	if status.VRAMUsedBytes != 27860992 {
		t.Errorf("VRAMUsedBytes = %d, want 27860992", status.VRAMUsedBytes)
	}
	if status.GTTUsedBytes != 16777216 {
		t.Errorf("GTTUsedBytes = %d, want 16777216", status.GTTUsedBytes)
	}
	if status.UtilizationPercent != 37 {
		t.Errorf("UtilizationPercent = %v, want 37", status.UtilizationPercent)
	}
	if status.MemoryBusyPercent != 12 {
		t.Errorf("MemoryBusyPercent = %v, want 12", status.MemoryBusyPercent)
	}
	if status.TemperatureMillidegrees != 61000 {
		t.Errorf("TemperatureMillidegrees = %d, want 61000", status.TemperatureMillidegrees)
	}
	if status.PowerDrawWatts != 143 {
		t.Errorf("PowerDrawWatts = %v, want 143", status.PowerDrawWatts)
	}
	if status.FanSpeedPercent != 20 {
		t.Errorf("FanSpeedPercent = %v, want 20", status.FanSpeedPercent)
	}
	if status.GraphicsClockMHz != 1800 || status.MemoryClockMHz != 1250 {
		t.Errorf("clocks = %d/%d MHz, want 1800/1250", status.GraphicsClockMHz, status.MemoryClockMHz)
	}
}

func TestCollectorUnknownFan(t *testing.T) {
	root := t.TempDir()
	createSyntheticAMDGPU(t, root, 0, "0000:c3:00.0")
	if err := os.Remove(filepath.Join(root, "sys/class/drm/card0/device/hwmon/hwmon0/pwm1")); err != nil {
		t.Fatalf("remove pwm1: %v", err)
	}

	collector := newCollector(filepath.Join(root, "sys"), false, discardLogger())
	defer collector.Close()

	stats := collector.Collect()
	if len(stats) != 1 || stats[0].FanSpeedPercent != -1 {
		t.Errorf("FanSpeedPercent = %v, want -1 when pwm1 is absent", stats)
	}
}

func TestCollectorNoDevices(t *testing.T) {
	root := t.TempDir()
	collector := newCollector(filepath.Join(root, "sys"), false, discardLogger())
	defer collector.Close()

	stats := collector.Collect()
	if stats != nil {
		t.Errorf("Collect() = %v, want nil", stats)
	}
}

// TestLiveEnumerate runs against real sysfs on a machine with amdgpu devices.
// Skipped when no amdgpu devices are present.
func TestInfoRequestLayout(t *testing.T) {
	// The ioctl number encodes a 64-byte argument.
	if size := unsafe.Sizeof(infoRequest{}); size != 64 {
		t.Errorf("infoRequest is %d bytes, want 64", size)
	}
	if size := (ioctlAMDGPUInfo >> 16) & 0x3fff; size != 64 {
		t.Errorf("ioctl number encodes a %d-byte argument", size)
	}
}

func TestSensorNames(t *testing.T) {
	tests := map[sensor]string{
		sensorLoad:          "GPU_LOAD",
		sensorTemperature:   "GPU_TEMP",
		sensorAveragePower:  "GPU_AVG_POWER",
		sensorGraphicsClock: "GFX_SCLK",
		sensorMemoryClock:   "GFX_MCLK",
		sensor(0x99):        "sensor(0x99)",
	}
	for which, want := range tests {
		if got := which.String(); got != want {
			t.Errorf("sensor %d String = %q, want %q", uint32(which), got, want)
		}
	}
}

func TestLiveEnumerate(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("skipping: requires Linux sysfs")
	}

	prober := NewProber("/sys")
	gpus := prober.Enumerate()

	if len(gpus) == 0 {
		t.Skip("skipping: no amdgpu devices found")
	}

	for i, gpu := range gpus {
		if gpu.Vendor != "AMD" {
			t.Errorf("GPU[%d].Vendor = %q, want AMD", i, gpu.Vendor)
		}
		if gpu.PCISlot == "" {
			t.Errorf("GPU[%d].PCISlot is empty", i)
		}
		if gpu.PCIDeviceID == "" {
			t.Errorf("GPU[%d].PCIDeviceID is empty", i)
		}
		if gpu.Driver != "amdgpu" {
			t.Errorf("GPU[%d].Driver = %q, want amdgpu", i, gpu.Driver)
		}
		if gpu.VRAMTotalBytes <= 0 {
			t.Errorf("GPU[%d].VRAMTotalBytes = %d, want > 0", i, gpu.VRAMTotalBytes)
		}
		t.Logf("GPU[%d]: %s device=%s slot=%s vram=%d MB uid=%s",
			i, gpu.Vendor, gpu.PCIDeviceID, gpu.PCISlot,
			gpu.VRAMTotalBytes/(1024*1024), gpu.UniqueID)
	}
}

// TestLiveCollect runs against real GPU hardware via DRM ioctls.
// Skipped when no amdgpu devices are present.
func TestLiveCollect(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("skipping: requires Linux DRM")
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	collector := NewCollector("/sys", logger)
	defer collector.Close()

	stats := collector.Collect()
	if len(stats) == 0 {
		t.Skip("skipping: no amdgpu devices found or no render node access")
	}

	for i, status := range stats {
		if status.PCISlot == "" {
			t.Errorf("stats[%d].PCISlot is empty", i)
		}
		// VRAM used should be non-negative (even idle GPUs allocate some VRAM).
		if status.VRAMUsedBytes < 0 {
			t.Errorf("stats[%d].VRAMUsedBytes = %d, want >= 0", i, status.VRAMUsedBytes)
		}
		// Temperature should be plausible (1-120C = 1000-120000 millidegrees).
		if status.TemperatureMillidegrees > 0 && status.TemperatureMillidegrees < 1000 {
			t.Errorf("stats[%d].TemperatureMillidegrees = %d, implausibly low", i, status.TemperatureMillidegrees)
		}
		t.Logf("stats[%d]: slot=%s util=%.0f%% vram_used=%d MB temp=%d mC power=%.1f W gfx=%d MHz mem=%d MHz",
			i, status.PCISlot, status.UtilizationPercent,
			status.VRAMUsedBytes/(1024*1024),
			status.TemperatureMillidegrees, status.PowerDrawWatts,
			status.GraphicsClockMHz, status.MemoryClockMHz)
	}
}
