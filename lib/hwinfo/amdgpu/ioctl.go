// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package amdgpu

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DRM_IOCTL_AMDGPU_INFO, _IOW('d', 0x40+0x05, struct drm_amdgpu_info)
// with a 64-byte struct (include/uapi/drm/amdgpu_drm.h).
const (
	ioctlAMDGPUInfo  = 0x40406445
	amdgpuInfoSensor = 0x1D
)

// sensor is an AMDGPU_INFO_SENSOR sub-query.
type sensor uint32

const (
	sensorGraphicsClock sensor = 0x1 // MHz
	sensorMemoryClock   sensor = 0x2 // MHz
	sensorTemperature   sensor = 0x3 // millidegrees Celsius
	sensorLoad          sensor = 0x4 // percent
	sensorAveragePower  sensor = 0x5 // watts
)

func (s sensor) String() string {
	switch s {
	case sensorGraphicsClock:
		return "GFX_SCLK"
	case sensorMemoryClock:
		return "GFX_MCLK"
	case sensorTemperature:
		return "GPU_TEMP"
	case sensorLoad:
		return "GPU_LOAD"
	case sensorAveragePower:
		return "GPU_AVG_POWER"
	default:
		return fmt.Sprintf("sensor(0x%x)", uint32(s))
	}
}

// infoRequest is struct drm_amdgpu_info: return pointer, return size,
// query, then a 48-byte union whose first word selects the sensor.
type infoRequest struct {
	returnPointer uint64
	returnSize    uint32
	query         uint32
	union         [48]byte
}

// readSensor runs one sensor query against an open render node.
func readSensor(fd uintptr, which sensor) (uint32, error) {
	var value uint32
	request := infoRequest{
		returnPointer: uint64(uintptr(unsafe.Pointer(&value))),
		returnSize:    uint32(unsafe.Sizeof(value)),
		query:         amdgpuInfoSensor,
	}
	binary.LittleEndian.PutUint32(request.union[:4], uint32(which))

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, ioctlAMDGPUInfo, uintptr(unsafe.Pointer(&request))); errno != 0 {
		return 0, fmt.Errorf("AMDGPU_INFO %s: %w", which, errno)
	}
	return value, nil
}
