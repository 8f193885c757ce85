// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package diskstat samples block device throughput and load from
// /sys/block.
//
// Each refresh reads every /sys/block/<name>/stat and derives read and
// write throughput (512-byte sectors per second), a busy percentage
// from the weighted time-in-queue counters, and the mean response
// time per completed request. Devices are keyed by kernel name. A
// counter that goes backwards (a device reset, or a removed and
// re-added device under the same name) yields zero for that interval.
//
// Virtual devices (loop, ram, zram, fd, md, dm, zd) are not reported.
package diskstat
