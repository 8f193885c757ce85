// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// CPUInfo is the static CPU topology of the machine.
type CPUInfo struct {
	Model          string `json:"model"`
	Sockets        int    `json:"sockets"`
	Cores          int    `json:"cores"`
	LogicalCPUs    int    `json:"logical_cpus"`
	ThreadsPerCore int    `json:"threads_per_core"`
	NUMANodes      int    `json:"numa_nodes"`

	// Cache totals in bytes, summed over every distinct cache instance.
	L1DataBytes        int64 `json:"l1_data_bytes"`
	L1InstructionBytes int64 `json:"l1_instruction_bytes"`
	L2Bytes            int64 `json:"l2_bytes"`
	L3Bytes            int64 `json:"l3_bytes"`
	L4Bytes            int64 `json:"l4_bytes"`
}

// SystemInfo identifies the host.
type SystemInfo struct {
	Hostname         string `json:"hostname"`
	KernelVersion    string `json:"kernel_version"`
	BoardVendor      string `json:"board_vendor,omitempty"`
	BoardName        string `json:"board_name,omitempty"`
	MemoryTotalBytes uint64 `json:"memory_total_bytes"`
	SwapTotalBytes   uint64 `json:"swap_total_bytes"`
}

// ProbeCPU reads CPU topology from procRoot/cpuinfo and
// sysRoot/devices/system/cpu. Missing files produce zero fields.
func ProbeCPU(procRoot, sysRoot string) CPUInfo {
	info := CPUInfo{}
	info.Model = ReadCPUModel(filepath.Join(procRoot, "cpuinfo"))

	cpuBase := filepath.Join(sysRoot, "devices/system/cpu")
	cpus := ListCPUDirs(cpuBase)
	info.LogicalCPUs = len(cpus)

	info.Sockets = countUniqueTopologyValues(cpuBase, cpus, "physical_package_id")
	info.Cores = countUniqueCoreIDs(cpuBase, cpus)
	info.ThreadsPerCore = probeThreadsPerCore(cpuBase)
	info.NUMANodes = countNUMANodes(sysRoot)

	caches := sumCaches(cpuBase, cpus)
	info.L1DataBytes = caches[cacheKind{1, "Data"}]
	info.L1InstructionBytes = caches[cacheKind{1, "Instruction"}]
	info.L2Bytes = caches[cacheKind{2, "Unified"}]
	info.L3Bytes = caches[cacheKind{3, "Unified"}]
	info.L4Bytes = caches[cacheKind{4, "Unified"}]
	return info
}

// ProbeSystem reads host identity. sysRoot is used for DMI strings;
// memory and kernel release come from sysinfo(2) and uname(2).
func ProbeSystem(sysRoot string) SystemInfo {
	info := SystemInfo{}
	info.Hostname, _ = os.Hostname()
	info.KernelVersion = readKernelVersion()
	info.BoardVendor = ReadSysfsString(filepath.Join(sysRoot, "class/dmi/id/sys_vendor"))
	info.BoardName = ReadSysfsString(filepath.Join(sysRoot, "class/dmi/id/board_name"))
	info.MemoryTotalBytes, info.SwapTotalBytes = probeMemory()
	return info
}

func readKernelVersion() string {
	var utsname unix.Utsname
	if err := unix.Uname(&utsname); err != nil {
		return ""
	}
	return unix.ByteSliceToString(utsname.Release[:])
}

func probeMemory() (memoryTotal, swapTotal uint64) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, 0
	}
	unit := uint64(info.Unit)
	return uint64(info.Totalram) * unit, uint64(info.Totalswap) * unit
}

// ReadCPUModel extracts the first "model name" line from a cpuinfo file.
func ReadCPUModel(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "model name") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				return strings.TrimSpace(parts[1])
			}
		}
	}
	return ""
}

// ListCPUDirs returns the cpuN directory names under cpuBase, skipping
// cpufreq, cpuidle, and other non-CPU entries.
func ListCPUDirs(cpuBase string) []string {
	entries, err := os.ReadDir(cpuBase)
	if err != nil {
		return nil
	}
	var cpus []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "cpu") {
			continue
		}
		if _, err := strconv.Atoi(name[3:]); err != nil {
			continue
		}
		cpus = append(cpus, name)
	}
	return cpus
}

func countUniqueTopologyValues(cpuBase string, cpus []string, field string) int {
	unique := make(map[string]struct{})
	for _, name := range cpus {
		value := ReadSysfsString(filepath.Join(cpuBase, name, "topology", field))
		if value != "" {
			unique[value] = struct{}{}
		}
	}
	return len(unique)
}

// countUniqueCoreIDs counts unique (physical_package_id, core_id)
// pairs, which is the physical core count across all sockets. Core IDs
// repeat between sockets.
func countUniqueCoreIDs(cpuBase string, cpus []string) int {
	type coreKey struct {
		packageID string
		coreID    string
	}
	unique := make(map[coreKey]struct{})
	for _, name := range cpus {
		topologyDir := filepath.Join(cpuBase, name, "topology")
		packageID := ReadSysfsString(filepath.Join(topologyDir, "physical_package_id"))
		coreID := ReadSysfsString(filepath.Join(topologyDir, "core_id"))
		if packageID != "" && coreID != "" {
			unique[coreKey{packageID, coreID}] = struct{}{}
		}
	}
	return len(unique)
}

// probeThreadsPerCore counts the entries of cpu0's
// thread_siblings_list ("0,96" is 2, "0" is 1, "0-1" is 2).
func probeThreadsPerCore(cpuBase string) int {
	siblings := ReadSysfsString(filepath.Join(cpuBase, "cpu0/topology/thread_siblings_list"))
	if count := len(ParseCPUList(siblings)); count > 0 {
		return count
	}
	return 1
}

type cacheKind struct {
	level     int
	cacheType string
}

// sumCaches totals cache sizes by level and type. A cache shared by
// several CPUs is listed under each of them with the same
// shared_cpu_list, so each (level, type, shared_cpu_list) is counted once.
func sumCaches(cpuBase string, cpus []string) map[cacheKind]int64 {
	type instance struct {
		kind   cacheKind
		shared string
	}
	seen := make(map[instance]struct{})
	totals := make(map[cacheKind]int64)

	for _, name := range cpus {
		cacheBase := filepath.Join(cpuBase, name, "cache")
		entries, err := os.ReadDir(cacheBase)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !strings.HasPrefix(entry.Name(), "index") {
				continue
			}
			dir := filepath.Join(cacheBase, entry.Name())
			kind := cacheKind{
				level:     ReadSysfsInt(filepath.Join(dir, "level")),
				cacheType: ReadSysfsString(filepath.Join(dir, "type")),
			}
			if kind.level == 0 {
				continue
			}
			key := instance{kind: kind, shared: ReadSysfsString(filepath.Join(dir, "shared_cpu_list"))}
			if key.shared == "" {
				key.shared = name
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			totals[kind] += ParseCacheSize(ReadSysfsString(filepath.Join(dir, "size")))
		}
	}
	return totals
}

// ParseCacheSize parses a sysfs cache size ("32K", "8M", "512") into
// bytes. Returns 0 on malformed input.
func ParseCacheSize(value string) int64 {
	if value == "" {
		return 0
	}
	multiplier := int64(1)
	switch value[len(value)-1] {
	case 'K':
		multiplier = 1024
	case 'M':
		multiplier = 1024 * 1024
	case 'G':
		multiplier = 1024 * 1024 * 1024
	}
	if multiplier != 1 {
		value = value[:len(value)-1]
	}
	number, err := strconv.ParseInt(value, 10, 64)
	if err != nil || number < 0 {
		return 0
	}
	return number * multiplier
}

// ParseCPUList expands a kernel CPU list ("0-3,8,10-11") into CPU
// numbers. Malformed ranges are skipped.
func ParseCPUList(list string) []int {
	var cpus []int
	for _, part := range strings.Split(strings.TrimSpace(list), ",") {
		if part == "" {
			continue
		}
		low, high, isRange := strings.Cut(part, "-")
		first, err := strconv.Atoi(low)
		if err != nil {
			continue
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(high); err != nil || last < first {
				continue
			}
		}
		for cpu := first; cpu <= last; cpu++ {
			cpus = append(cpus, cpu)
		}
	}
	return cpus
}

func countNUMANodes(sysRoot string) int {
	entries, err := os.ReadDir(filepath.Join(sysRoot, "devices/system/node"))
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "node") {
			continue
		}
		if _, err := strconv.Atoi(entry.Name()[4:]); err == nil {
			count++
		}
	}
	return count
}
