// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package diskstat

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bureau-foundation/sysmond/lib/hwinfo"
)

// Type is the kind of storage behind a block device.
type Type string

const (
	TypeUnknown Type = "unknown"
	TypeHDD     Type = "hdd"
	TypeSSD     Type = "ssd"
	TypeNVMe    Type = "nvme"
	TypeOptical Type = "optical"
	TypeSD      Type = "sd"
	TypeEMMC    Type = "emmc"
)

// skippedPrefixes are virtual or stacked devices whose I/O is already
// counted on the physical devices beneath them.
var skippedPrefixes = []string{"loop", "ram", "zram", "fd", "md", "dm", "zd"}

// Skipped reports whether a block device is excluded from sampling.
func Skipped(name string) bool {
	for _, prefix := range skippedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// DetectType classifies a device from its queue/rotational flag and
// kernel name.
func DetectType(sysRoot, name string) Type {
	value := hwinfo.ReadSysfsString(filepath.Join(sysRoot, "block", name, "queue/rotational"))
	if value == "" {
		return TypeUnknown
	}
	rotational, err := strconv.Atoi(value)
	if err != nil {
		return TypeUnknown
	}

	if rotational == 0 {
		switch {
		case strings.HasPrefix(name, "nvme"):
			return TypeNVMe
		case strings.HasPrefix(name, "mmc"):
			return mmcType(sysRoot, name)
		default:
			return TypeSSD
		}
	}
	if strings.HasPrefix(name, "sr") {
		return TypeOptical
	}
	if rotational == 1 {
		return TypeHDD
	}
	return TypeUnknown
}

// mmcType reads the card type of mmcblkN from its host controller.
func mmcType(sysRoot, name string) Type {
	index, err := strconv.Atoi(strings.TrimPrefix(name, "mmcblk"))
	if err != nil {
		return TypeUnknown
	}
	host := "mmc" + strconv.Itoa(index)
	matches, _ := filepath.Glob(filepath.Join(sysRoot, "class/mmc_host", host, host+"*", "type"))

	result := TypeUnknown
	for _, path := range matches {
		switch hwinfo.ReadSysfsString(path) {
		case "SD":
			result = TypeSD
		case "MMC":
			result = TypeEMMC
		}
	}
	return result
}

// readModel joins the device vendor and model strings.
func readModel(sysRoot, name string) string {
	device := filepath.Join(sysRoot, "block", name, "device")
	vendor := hwinfo.ReadSysfsString(filepath.Join(device, "vendor"))
	model := hwinfo.ReadSysfsString(filepath.Join(device, "model"))
	return strings.TrimSpace(vendor + " " + model)
}

// readCapacity returns the device size in bytes.
func readCapacity(sysRoot, name string) uint64 {
	return hwinfo.ReadSysfsUint64(filepath.Join(sysRoot, "block", name, "size")) * SectorSize
}

// Partitions returns the partition names of a device ("sda1",
// "nvme0n1p2"), found as subdirectories carrying the device's name.
func Partitions(sysRoot, name string) []string {
	entries, err := os.ReadDir(filepath.Join(sysRoot, "block", name))
	if err != nil {
		return nil
	}
	var partitions []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), name) {
			partitions = append(partitions, entry.Name())
		}
	}
	return partitions
}

// readFormatted sums the sizes of a device's partitions in bytes.
func readFormatted(sysRoot, name string) uint64 {
	var total uint64
	for _, partition := range Partitions(sysRoot, name) {
		total += hwinfo.ReadSysfsUint64(filepath.Join(sysRoot, "block", name, partition, "size")) * SectorSize
	}
	return total
}
