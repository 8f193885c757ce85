// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gpustat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/sysmond/lib/codec"
	"github.com/bureau-foundation/sysmond/lib/hwinfo"
	"github.com/bureau-foundation/sysmond/lib/isolate"
)

// CapabilityProbe is the isolated probe name for GPU API detection.
const CapabilityProbe = "gpu-capabilities"

// DefaultICDDirs are the Vulkan loader's system manifest directories.
var DefaultICDDirs = []string{
	"/usr/share/vulkan/icd.d",
	"/etc/vulkan/icd.d",
}

// Capabilities describes the graphics APIs available for one GPU.
// Fields stay empty when the corresponding probe finds nothing.
type Capabilities struct {
	// KernelDriver is the DRM driver name and version reported by the
	// render node ("amdgpu 3.57.0").
	KernelDriver string `json:"kernel_driver,omitempty" cbor:"kernel_driver,omitempty"`

	// VulkanVersion is the highest API version advertised by an
	// installed Vulkan driver manifest for this GPU's driver.
	VulkanVersion string `json:"vulkan_version,omitempty" cbor:"vulkan_version,omitempty"`

	// VulkanDriver is the library of that manifest.
	VulkanDriver string `json:"vulkan_driver,omitempty" cbor:"vulkan_driver,omitempty"`
}

type capabilityRequest struct {
	RenderNode string   `cbor:"render_node,omitempty"`
	Driver     string   `cbor:"driver"`
	ICDDirs    []string `cbor:"icd_dirs"`
}

func init() {
	isolate.Register(CapabilityProbe, probeCapabilities)
}

// probeCapabilities runs in the isolated child. Opening the render
// node and issuing DRM ioctls executes driver code, which is why this
// does not run in the daemon.
func probeCapabilities(ctx context.Context, raw []byte) (any, error) {
	var request capabilityRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, err
	}

	var capabilities Capabilities
	if request.RenderNode != "" {
		version, err := queryRenderNode(request.RenderNode)
		if err != nil {
			return nil, err
		}
		capabilities.KernelDriver = fmt.Sprintf("%s %d.%d.%d",
			version.Name, version.Major, version.Minor, version.PatchLevel)
	}
	capabilities.VulkanVersion, capabilities.VulkanDriver = vulkanDriver(request.ICDDirs, request.Driver)
	return capabilities, nil
}

func queryRenderNode(path string) (hwinfo.DRMVersion, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return hwinfo.DRMVersion{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer unix.Close(fd)
	return hwinfo.QueryDRMVersion(uintptr(fd))
}

// icdLibraryHints maps a kernel driver to the substrings that identify
// its Vulkan driver library.
var icdLibraryHints = map[string][]string{
	"amdgpu":     {"radeon", "amdvlk"},
	"radeon":     {"radeon"},
	"nvidia":     {"nvidia"},
	"nouveau":    {"nouveau"},
	"i915":       {"intel"},
	"xe":         {"intel"},
	"virtio_gpu": {"virtio"},
	"msm":        {"freedreno"},
	"panfrost":   {"panfrost"},
	"v3d":        {"broadcom"},
}

// vulkanDriver scans Vulkan ICD manifests for the kernel driver and
// returns the highest api_version found with its library path.
func vulkanDriver(dirs []string, driver string) (version, library string) {
	hints := icdLibraryHints[driver]
	if len(hints) == 0 {
		return "", ""
	}

	var manifests []string
	for _, dir := range dirs {
		matches, _ := filepath.Glob(filepath.Join(dir, "*.json"))
		manifests = append(manifests, matches...)
	}
	sort.Strings(manifests)

	var best []int
	for _, manifest := range manifests {
		data, err := os.ReadFile(manifest)
		if err != nil || !gjson.ValidBytes(data) {
			continue
		}
		libraryPath := gjson.GetBytes(data, "ICD.library_path").String()
		if !matchesAny(strings.ToLower(filepath.Base(libraryPath)), hints) {
			continue
		}
		apiVersion := gjson.GetBytes(data, "ICD.api_version").String()
		parsed, ok := parseVersion(apiVersion)
		if !ok {
			continue
		}
		if best == nil || compareVersions(parsed, best) > 0 {
			best = parsed
			version = apiVersion
			library = libraryPath
		}
	}
	return version, library
}

func matchesAny(name string, hints []string) bool {
	for _, hint := range hints {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}

func parseVersion(text string) ([]int, bool) {
	parts := strings.Split(text, ".")
	parsed := make([]int, 0, len(parts))
	for _, part := range parts {
		number, err := strconv.Atoi(part)
		if err != nil {
			return nil, false
		}
		parsed = append(parsed, number)
	}
	return parsed, len(parsed) > 0
}

func compareVersions(a, b []int) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}
