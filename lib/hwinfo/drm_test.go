// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"os"
	"path/filepath"
	"testing"
)

func symlink(t *testing.T, root, path, target string) {
	t.Helper()
	fullPath := filepath.Join(root, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(target, fullPath); err != nil {
		t.Fatalf("symlink %s -> %s: %v", fullPath, target, err)
	}
}

// syntheticCard creates sysRoot/class/drm/<card> and a matching render
// node, both pointing at one PCI device directory.
func syntheticCard(t *testing.T, root, card, render, driver, pciSlot string) {
	t.Helper()
	pciDir := filepath.Join(root, "sys/devices/pci0000:00", pciSlot)
	writeSyntheticFile(t, root, filepath.Join("sys/devices/pci0000:00", pciSlot, "uevent"),
		"DRIVER="+driver+"\nPCI_ID=1002:744C\nPCI_SLOT_NAME="+pciSlot+"\n")
	symlink(t, root, filepath.Join("sys/devices/pci0000:00", pciSlot, "driver"), "../../../bus/pci/drivers/"+driver)
	symlink(t, root, filepath.Join("sys/class/drm", card, "device"), pciDir)
	if render != "" {
		symlink(t, root, filepath.Join("sys/class/drm", render, "device"), pciDir)
	}
}

func TestIsCardDevice(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"card0", true},
		{"card12", true},
		{"card", false},
		{"card0-DP-1", false},
		{"renderD128", false},
		{"cardX", false},
	}
	for _, test := range tests {
		if got := IsCardDevice(test.name); got != test.want {
			t.Errorf("IsCardDevice(%q) = %v, want %v", test.name, got, test.want)
		}
	}
}

func TestListCardsAndRenderNode(t *testing.T) {
	root := t.TempDir()
	sysRoot := filepath.Join(root, "sys")
	syntheticCard(t, root, "card0", "renderD129", "amdgpu", "0000:c3:00.0")
	syntheticCard(t, root, "card1", "renderD128", "i915", "0000:00:02.0")
	writeSyntheticFile(t, root, "sys/class/drm/card0-DP-1/status", "connected")

	all := ListCards(sysRoot, "")
	if len(all) != 2 {
		t.Fatalf("ListCards(all) = %d cards, want 2", len(all))
	}

	amd := ListCards(sysRoot, "amdgpu")
	if len(amd) != 1 || amd[0].Name != "card0" || amd[0].Driver != "amdgpu" {
		t.Fatalf("ListCards(amdgpu) = %+v, want card0", amd)
	}

	if got := RenderNodeForDevice(amd[0].DevicePath, sysRoot); got != "/dev/dri/renderD129" {
		t.Errorf("RenderNodeForDevice = %q, want /dev/dri/renderD129", got)
	}

	vendor, deviceID, slot := ParsePCIUevent(amd[0].DevicePath)
	if vendor != "AMD" || deviceID != "0x744c" || slot != "0000:c3:00.0" {
		t.Errorf("ParsePCIUevent = %q %q %q", vendor, deviceID, slot)
	}
}

func TestPCIVendorName(t *testing.T) {
	tests := map[string]string{
		"1002": "AMD",
		"10de": "NVIDIA",
		"8086": "Intel",
		"1af4": "0x1af4",
		"":     "",
	}
	for input, want := range tests {
		if got := PCIVendorName(input); got != want {
			t.Errorf("PCIVendorName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestReadPCIeLink(t *testing.T) {
	root := t.TempDir()
	writeSyntheticFile(t, root, "dev/current_link_speed", "16.0 GT/s PCIe\n")
	writeSyntheticFile(t, root, "dev/current_link_width", "16\n")

	generation, width := ReadPCIeLink(filepath.Join(root, "dev"))
	if generation != 4 || width != 16 {
		t.Errorf("ReadPCIeLink = gen %d x%d, want gen 4 x16", generation, width)
	}

	generation, width = ReadPCIeLink(filepath.Join(root, "missing"))
	if generation != 0 || width != 0 {
		t.Errorf("ReadPCIeLink(missing) = gen %d x%d, want zeros", generation, width)
	}
}

func TestPCIeGeneration(t *testing.T) {
	tests := []struct {
		rate float64
		want int
	}{
		{2.5, 1}, {5, 2}, {8, 3}, {16, 4}, {32, 5}, {64, 6}, {1, 0},
	}
	for _, test := range tests {
		if got := PCIeGeneration(test.rate); got != test.want {
			t.Errorf("PCIeGeneration(%v) = %d, want %d", test.rate, got, test.want)
		}
	}
}

func TestReadThermalLimits(t *testing.T) {
	root := t.TempDir()
	writeSyntheticFile(t, root, "dev/hwmon/hwmon4/temp1_crit", "100000\n")
	writeSyntheticFile(t, root, "dev/hwmon/hwmon4/temp1_emergency", "105000\n")

	critical, emergency := ReadThermalLimits(filepath.Join(root, "dev"))
	if critical != 100000 || emergency != 105000 {
		t.Errorf("ReadThermalLimits = %d, %d", critical, emergency)
	}
	if got := DeviceHwmon(filepath.Join(root, "dev")); got != filepath.Join(root, "dev/hwmon/hwmon4") {
		t.Errorf("DeviceHwmon = %q", got)
	}
}

func TestReadSysfsNumbers(t *testing.T) {
	root := t.TempDir()
	writeSyntheticFile(t, root, "int", "42\n")
	writeSyntheticFile(t, root, "big", "18446744073709551615\n")
	writeSyntheticFile(t, root, "bad", "n/a\n")

	if got := ReadSysfsInt(filepath.Join(root, "int")); got != 42 {
		t.Errorf("ReadSysfsInt = %d, want 42", got)
	}
	if got := ReadSysfsUint64(filepath.Join(root, "big")); got != 18446744073709551615 {
		t.Errorf("ReadSysfsUint64 = %d", got)
	}
	if got := ReadSysfsInt64(filepath.Join(root, "bad")); got != 0 {
		t.Errorf("ReadSysfsInt64(bad) = %d, want 0", got)
	}
	if got := ReadSysfsString(filepath.Join(root, "missing")); got != "" {
		t.Errorf("ReadSysfsString(missing) = %q, want empty", got)
	}
}
