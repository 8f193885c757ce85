// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Hwmon is one /sys/class/hwmon device.
type Hwmon struct {
	// Dir is the hwmon directory name (hwmon3).
	Dir string

	// Path is the full sysfs path of the directory.
	Path string

	// Name is the driver-reported sensor name (k10temp, nct6798, amdgpu).
	Name string

	// Index is N of hwmonN, or -1.
	Index int
}

// CPUTemperatureDrivers are the hwmon names that report CPU package
// temperature on temp1_input.
var CPUTemperatureDrivers = []string{"k10temp", "coretemp", "zenpower"}

// ListHwmon returns every hwmon device under sysRoot ordered by index.
func ListHwmon(sysRoot string) []Hwmon {
	base := filepath.Join(sysRoot, "class/hwmon")
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil
	}

	var devices []Hwmon
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "hwmon") {
			continue
		}
		path := filepath.Join(base, name)
		devices = append(devices, Hwmon{
			Dir:   name,
			Path:  path,
			Name:  ReadSysfsString(filepath.Join(path, "name")),
			Index: hwmonIndex(name),
		})
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Index < devices[j].Index
	})
	return devices
}

func hwmonIndex(dir string) int {
	index, err := strconv.Atoi(strings.TrimPrefix(dir, "hwmon"))
	if err != nil {
		return -1
	}
	return index
}

// FindHwmon returns the first hwmon device whose name is in names.
func FindHwmon(sysRoot string, names ...string) (Hwmon, bool) {
	for _, device := range ListHwmon(sysRoot) {
		for _, name := range names {
			if device.Name == name {
				return device, true
			}
		}
	}
	return Hwmon{}, false
}

// ReadCPUTemperature returns the CPU package temperature in degrees
// Celsius, or false when no known CPU sensor is present.
func ReadCPUTemperature(sysRoot string) (float64, bool) {
	device, found := FindHwmon(sysRoot, CPUTemperatureDrivers...)
	if !found {
		return 0, false
	}
	value := ReadSysfsString(filepath.Join(device.Path, "temp1_input"))
	millidegrees, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	return millidegrees / 1000, true
}

// SensorIndices returns the sorted N values of every <prefix>N_<suffix>
// file in an hwmon directory, e.g. prefix "fan" and suffix "input"
// match fan1_input and fan2_input.
func SensorIndices(path, prefix, suffix string) []int {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil
	}
	var indices []int
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, "_"+suffix) {
			continue
		}
		number := strings.TrimSuffix(strings.TrimPrefix(name, prefix), "_"+suffix)
		index, err := strconv.Atoi(number)
		if err != nil {
			continue
		}
		indices = append(indices, index)
	}
	sort.Ints(indices)
	return indices
}

// DeviceHwmon returns the first hwmon directory of a PCI device
// (devicePath/hwmon/hwmonN), or "".
func DeviceHwmon(devicePath string) string {
	entries, err := os.ReadDir(filepath.Join(devicePath, "hwmon"))
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "hwmon") {
			return filepath.Join(devicePath, "hwmon", entry.Name())
		}
	}
	return ""
}
