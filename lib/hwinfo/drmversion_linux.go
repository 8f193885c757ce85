// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hwinfo

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctlDRMVersion is DRM_IOCTL_VERSION, _IOWR('d', 0x00, struct
// drm_version) with a 64-byte struct on 64-bit kernels.
const ioctlDRMVersion = 0xC0406400

// drmVersionRequest mirrors struct drm_version from
// include/uapi/drm/drm.h.
type drmVersionRequest struct {
	major      int32
	minor      int32
	patchLevel int32
	_          int32
	nameLength uint64
	name       uintptr
	dateLength uint64
	date       uintptr
	descLength uint64
	desc       uintptr
}

// DRMVersion is the driver identification a DRM device node reports.
type DRMVersion struct {
	Major       int    `json:"major"`
	Minor       int    `json:"minor"`
	PatchLevel  int    `json:"patch_level"`
	Name        string `json:"name"`
	Date        string `json:"date,omitempty"`
	Description string `json:"description,omitempty"`
}

// String renders the version as "name major.minor.patch".
func (v DRMVersion) String() string {
	return fmt.Sprintf("%s %d.%d.%d", v.Name, v.Major, v.Minor, v.PatchLevel)
}

// QueryDRMVersion issues DRM_IOCTL_VERSION on an open card or render
// node. The kernel fills the string lengths on the first call and the
// strings on the second.
func QueryDRMVersion(fd uintptr) (DRMVersion, error) {
	var request drmVersionRequest
	if err := drmVersionIoctl(fd, &request); err != nil {
		return DRMVersion{}, err
	}

	name := make([]byte, request.nameLength+1)
	date := make([]byte, request.dateLength+1)
	desc := make([]byte, request.descLength+1)
	request.name = uintptr(unsafe.Pointer(&name[0]))
	request.date = uintptr(unsafe.Pointer(&date[0]))
	request.desc = uintptr(unsafe.Pointer(&desc[0]))
	if err := drmVersionIoctl(fd, &request); err != nil {
		return DRMVersion{}, err
	}

	return DRMVersion{
		Major:       int(request.major),
		Minor:       int(request.minor),
		PatchLevel:  int(request.patchLevel),
		Name:        unix.ByteSliceToString(name),
		Date:        unix.ByteSliceToString(date),
		Description: unix.ByteSliceToString(desc),
	}, nil
}

func drmVersionIoctl(fd uintptr, request *drmVersionRequest) error {
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		fd,
		uintptr(ioctlDRMVersion),
		uintptr(unsafe.Pointer(request)),
	)
	if errno != 0 {
		return fmt.Errorf("drm version ioctl: %w", errno)
	}
	return nil
}
