// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cpustat

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/bureau-foundation/sysmond/lib/hwinfo"
)

// Static is processor information that does not change while the
// daemon runs.
type Static struct {
	Model          string `json:"model"`
	LogicalCPUs    int    `json:"logical_cpus"`
	Sockets        int    `json:"sockets"`
	Cores          int    `json:"cores"`
	ThreadsPerCore int    `json:"threads_per_core"`
	NUMANodes      int    `json:"numa_nodes"`

	// BaseFrequencyKHz is 0 when neither cpufreq base_frequency nor
	// bios_limit is exposed.
	BaseFrequencyKHz uint64 `json:"base_frequency_khz,omitempty"`

	// Virtualization names the hardware virtualization support
	// ("AMD-V", "KVM / Intel VT-x", "Xen"), or "".
	Virtualization string `json:"virtualization,omitempty"`

	// VirtualMachine is nil when detection failed.
	VirtualMachine *bool `json:"virtual_machine,omitempty"`

	// L1CacheBytes is data plus instruction L1.
	L1CacheBytes int64 `json:"l1_cache_bytes,omitempty"`
	L2CacheBytes int64 `json:"l2_cache_bytes,omitempty"`
	L3CacheBytes int64 `json:"l3_cache_bytes,omitempty"`
	L4CacheBytes int64 `json:"l4_cache_bytes,omitempty"`
}

// VirtualizationFunc reports the virtualization system and role
// ("guest" or "host") of the running machine.
type VirtualizationFunc func(ctx context.Context) (system, role string, err error)

// ModelFunc returns the processor model name from an alternate source.
type ModelFunc func(ctx context.Context) (string, error)

// GopsutilVirtualization detects virtualization with gopsutil's host
// package.
func GopsutilVirtualization(ctx context.Context) (string, string, error) {
	return host.VirtualizationWithContext(ctx)
}

// GopsutilModel returns the first CPU's model name from gopsutil. On
// ARM, gopsutil decodes the implementer and part registers that
// /proc/cpuinfo leaves as hex.
func GopsutilModel(ctx context.Context) (string, error) {
	infos, err := cpu.InfoWithContext(ctx)
	if err != nil {
		return "", err
	}
	for _, info := range infos {
		if info.ModelName != "" {
			return info.ModelName, nil
		}
	}
	return "", nil
}

func (s *Sampler) probeStatic(ctx context.Context) Static {
	topology := hwinfo.ProbeCPU(s.procRoot, s.sysRoot)
	static := Static{
		Model:            topology.Model,
		LogicalCPUs:      topology.LogicalCPUs,
		Sockets:          topology.Sockets,
		Cores:            topology.Cores,
		ThreadsPerCore:   topology.ThreadsPerCore,
		NUMANodes:        topology.NUMANodes,
		BaseFrequencyKHz: readBaseFrequency(s.sysRoot),
		Virtualization:   readVirtualization(s.procRoot, s.devRoot),
		L1CacheBytes:     topology.L1DataBytes + topology.L1InstructionBytes,
		L2CacheBytes:     topology.L2Bytes,
		L3CacheBytes:     topology.L3Bytes,
		L4CacheBytes:     topology.L4Bytes,
	}

	if static.Model == "" && s.modelFallback != nil {
		model, err := s.modelFallback(ctx)
		if err != nil {
			s.logger.Debug("cpu model fallback failed", "error", err)
		}
		static.Model = model
	}

	if s.detectVirtualization != nil {
		_, role, err := s.detectVirtualization(ctx)
		if err != nil {
			s.logger.Warn("detecting virtual machine", "error", err)
		} else {
			guest := role == "guest"
			static.VirtualMachine = &guest
		}
	}
	return static
}

// readBaseFrequency returns cpu0's base frequency in kHz, falling back
// to the firmware limit.
func readBaseFrequency(sysRoot string) uint64 {
	cpufreq := filepath.Join(sysRoot, "devices/system/cpu/cpu0/cpufreq")
	for _, name := range []string{"base_frequency", "bios_limit"} {
		if value := hwinfo.ReadSysfsUint64(filepath.Join(cpufreq, name)); value > 0 {
			return value
		}
	}
	return 0
}

// readVirtualization combines the CPU flags with the presence of KVM
// and a Xen control domain.
func readVirtualization(procRoot, devRoot string) string {
	var technology string
	for _, flag := range readCPUFlags(filepath.Join(procRoot, "cpuinfo")) {
		if flag == "vmx" {
			technology = "Intel VT-x"
			break
		}
		if flag == "svm" {
			technology = "AMD-V"
		}
	}

	if _, err := os.Stat(filepath.Join(devRoot, "kvm")); err == nil {
		if technology != "" {
			technology = "KVM / " + technology
		} else {
			technology = "KVM"
		}
	}

	capabilities := hwinfo.ReadSysfsString(filepath.Join(procRoot, "xen/capabilities"))
	if strings.HasPrefix(capabilities, "control_d") {
		switch {
		case strings.HasPrefix(technology, "KVM"):
			technology = "KVM & Xen / " + technology
		case technology != "":
			technology = "Xen / " + technology
		default:
			technology = "Xen"
		}
	}
	return technology
}

// readCPUFlags returns the flags of the first processor in cpuinfo.
func readCPUFlags(path string) []string {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), ":")
		if found && strings.TrimSpace(key) == "flags" {
			return strings.Fields(value)
		}
	}
	return nil
}

// readFrequencyMHz returns the highest current scaling frequency
// across CPUs, falling back to the "cpu MHz" lines of cpuinfo.
func readFrequencyMHz(procRoot, sysRoot string) uint64 {
	cpuBase := filepath.Join(sysRoot, "devices/system/cpu")
	var highestKHz uint64
	for _, name := range hwinfo.ListCPUDirs(cpuBase) {
		highestKHz = max(highestKHz, hwinfo.ReadSysfsUint64(filepath.Join(cpuBase, name, "cpufreq/scaling_cur_freq")))
	}
	if highestKHz > 0 {
		return highestKHz / 1000
	}

	file, err := os.Open(filepath.Join(procRoot, "cpuinfo"))
	if err != nil {
		return 0
	}
	defer file.Close()

	var highestMHz float64
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key != "cpu MHz" && key != "clock" {
			continue
		}
		megahertz, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(value), "MHz"), 64)
		if err == nil {
			highestMHz = max(highestMHz, megahertz)
		}
	}
	return uint64(highestMHz)
}
