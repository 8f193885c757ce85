// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hwinfo reads hardware identity and sensor data from /proc
// and /sys for the samplers.
//
// # CPU topology
//
// [ProbeCPU] reports model name, socket/core/thread counts, and the
// total L1 through L4 cache sizes (each cache instance counted once,
// using shared_cpu_list to skip CPUs that share it).
//
// # System
//
// [ProbeSystem] reports hostname, kernel release, and total memory.
//
// # hwmon
//
// [ListHwmon] enumerates /sys/class/hwmon devices with their driver
// name, used to find CPU package temperature (k10temp, coretemp,
// zenpower) and every fan sensor.
//
// # DRM helpers
//
// Shared helpers (drm.go) used by the GPU vendor subpackages: card
// device filtering, PCI uevent parsing, driver identification, render
// node lookup, PCIe link decoding, thermal limits, and the
// DRM_IOCTL_VERSION query.
//
// # Subpackages
//
//   - hwinfo/amdgpu: enumeration from sysfs, dynamic metrics from the
//     AMDGPU_INFO_SENSOR ioctl on render nodes with sysfs fallbacks.
//   - hwinfo/nvidia: enumeration from sysfs and /proc/driver/nvidia,
//     dynamic metrics from nvidia-smi.
//
// Every reader takes its filesystem roots as parameters so tests can
// point them at synthetic trees under t.TempDir().
package hwinfo
