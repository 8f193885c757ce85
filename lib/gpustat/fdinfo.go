// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gpustat

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// clientKey identifies one DRM client. Several file descriptors (dup,
// fork) can share a client; its counters are counted once.
type clientKey struct {
	pciSlot  string
	clientID uint64
}

// clientUsage is one fdinfo reading of a DRM client.
type clientUsage struct {
	driver string

	// engines holds cumulative busy nanoseconds per engine name
	// ("gfx", "compute", "enc", "render", "video").
	engines map[string]uint64

	// capacity is the number of engines of a class when the driver
	// reports more than one (i915 drm-engine-capacity-*).
	capacity map[string]uint64

	memoryBytes uint64
}

// engineCounters is the raw per-process sample: every DRM client the
// process held at read time.
type engineCounters struct {
	clients map[clientKey]clientUsage
}

// memoryKeys are the fdinfo memory regions counted as GPU memory, in
// preference order. Newer kernels report drm-resident-*, older amdgpu
// drm-memory-*; xe calls device memory vram0.
var memoryKeys = []string{
	"drm-resident-vram",
	"drm-memory-vram",
	"drm-resident-vram0",
	"drm-resident-local0",
	"drm-resident-system",
	"drm-resident-system0",
	"drm-memory-gtt",
}

// parseFDInfo parses the fdinfo of one DRM file descriptor. ok is false
// for descriptors without DRM client accounting.
func parseFDInfo(data string) (clientKey, clientUsage, bool) {
	var key clientKey
	usage := clientUsage{engines: make(map[string]uint64)}
	memory := make(map[string]uint64)
	hasClient := false

	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		name, value, found := strings.Cut(scanner.Text(), ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)

		switch {
		case name == "drm-driver":
			usage.driver = value
		case name == "drm-pdev":
			key.pciSlot = strings.ToLower(value)
		case name == "drm-client-id":
			id, err := strconv.ParseUint(value, 10, 64)
			if err == nil {
				key.clientID = id
				hasClient = true
			}
		case strings.HasPrefix(name, "drm-engine-capacity-"):
			if count, err := strconv.ParseUint(value, 10, 64); err == nil && count > 0 {
				if usage.capacity == nil {
					usage.capacity = make(map[string]uint64)
				}
				usage.capacity[strings.TrimPrefix(name, "drm-engine-capacity-")] = count
			}
		case strings.HasPrefix(name, "drm-engine-"):
			if nanoseconds, ok := parseQuantity(value, "ns"); ok {
				usage.engines[strings.TrimPrefix(name, "drm-engine-")] = nanoseconds
			}
		case strings.HasPrefix(name, "drm-memory-") || strings.HasPrefix(name, "drm-resident-"):
			if bytes, ok := parseMemory(value); ok {
				memory[name] = bytes
			}
		}
	}
	if !hasClient || key.pciSlot == "" {
		return clientKey{}, clientUsage{}, false
	}

	for _, memoryKey := range memoryKeys {
		if bytes, ok := memory[memoryKey]; ok {
			usage.memoryBytes = bytes
			break
		}
	}
	return key, usage, true
}

// parseQuantity parses "<number> <unit>" where unit must match.
func parseQuantity(value, unit string) (uint64, bool) {
	number, suffix, _ := strings.Cut(value, " ")
	if strings.TrimSpace(suffix) != unit {
		return 0, false
	}
	parsed, err := strconv.ParseUint(number, 10, 64)
	return parsed, err == nil
}

// parseMemory parses a memory size with an optional KiB, MiB, or GiB unit.
func parseMemory(value string) (uint64, bool) {
	number, unit, _ := strings.Cut(value, " ")
	parsed, err := strconv.ParseUint(number, 10, 64)
	if err != nil {
		return 0, false
	}
	switch strings.TrimSpace(unit) {
	case "", "B":
		return parsed, true
	case "KiB":
		return parsed << 10, true
	case "MiB":
		return parsed << 20, true
	case "GiB":
		return parsed << 30, true
	}
	return 0, false
}

// readClients returns the DRM clients held open by one process. A
// process without DRM files (the common case) returns an empty map.
func readClients(processDir string) map[clientKey]clientUsage {
	clients := make(map[clientKey]clientUsage)

	fdDir := filepath.Join(processDir, "fd")
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		return clients
	}
	for _, entry := range entries {
		target, err := os.Readlink(filepath.Join(fdDir, entry.Name()))
		if err != nil || !strings.HasPrefix(target, "/dev/dri/") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(processDir, "fdinfo", entry.Name()))
		if err != nil {
			continue
		}
		key, usage, ok := parseFDInfo(string(data))
		if !ok {
			continue
		}
		clients[key] = usage
	}
	return clients
}

// engineClass buckets an engine name.
type engineClass int

const (
	engineGraphics engineClass = iota
	engineEncoder
	engineDecoder
)

// classifyEngine maps driver engine names to a class. amdgpu reports
// "enc" and "dec"; i915 "video" (decode and encode share it) and
// "video-enhance"; msm and others use their own names, which count as
// graphics.
func classifyEngine(name string) engineClass {
	switch {
	case strings.Contains(name, "enc") && !strings.Contains(name, "enhance"):
		return engineEncoder
	case strings.Contains(name, "dec") || name == "video":
		return engineDecoder
	default:
		return engineGraphics
	}
}
