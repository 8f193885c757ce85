// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package procs samples the process table from /proc.
//
// A [Table] keeps one cache entry per live process, keyed by
// [Identity]: the PID together with the kernel start time from
// /proc/<pid>/stat. A PID that the kernel hands to a new process after
// the old one exited is therefore a different entity, and its first
// observation reports zero rates like any other newly seen process.
//
// Each [Table.Refresh] computes per-process CPU percent from user and
// system jiffies, disk read and write rates from /proc/<pid>/io, and
// resident memory from statm. Fields other samplers own (GPU usage)
// are written back through [Table.Annotate] by whoever holds the
// table's write side during a tick.
//
// [GroupApps] collapses processes into applications by their systemd
// app scope cgroup. [Terminate] and [Kill] signal a process.
package procs
