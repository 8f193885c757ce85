// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package diskstat

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
)

// RootDeviceFunc returns the device path mounted at "/", for example
// "/dev/nvme0n1p2" or "/dev/mapper/root".
type RootDeviceFunc func(ctx context.Context) (string, error)

// GopsutilRootDevice finds the root filesystem's device in the mount
// table with gopsutil.
func GopsutilRootDevice(ctx context.Context) (string, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return "", err
	}
	for _, partition := range partitions {
		if partition.Mountpoint == "/" {
			return partition.Device, nil
		}
	}
	return "", errors.New("no filesystem mounted at /")
}

// maxStackDepth bounds device-mapper and md slave traversal.
const maxStackDepth = 8

// BackingDisks resolves a device path to the whole-disk kernel names
// under it. Partitions map to their disk; device-mapper and md devices
// are followed through their slaves.
func BackingDisks(sysRoot, device string) []string {
	if resolved, err := filepath.EvalSymlinks(device); err == nil {
		device = resolved
	}
	return backingDisks(sysRoot, filepath.Base(device), 0)
}

func backingDisks(sysRoot, name string, depth int) []string {
	if depth > maxStackDepth || name == "" || name == "." || name == "/" {
		return nil
	}

	blockDir := filepath.Join(sysRoot, "block", name)
	if _, err := os.Stat(blockDir); err == nil {
		slaves, _ := os.ReadDir(filepath.Join(blockDir, "slaves"))
		if len(slaves) == 0 {
			return []string{name}
		}
		var disks []string
		for _, slave := range slaves {
			disks = append(disks, backingDisks(sysRoot, slave.Name(), depth+1)...)
		}
		return disks
	}

	// Not a whole device: find the disk holding this partition.
	entries, err := os.ReadDir(filepath.Join(sysRoot, "block"))
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if _, err := os.Stat(filepath.Join(sysRoot, "block", entry.Name(), name)); err == nil {
			return []string{entry.Name()}
		}
	}
	return nil
}
