// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package gpustat assembles GPU state from the vendor collectors in
// lib/hwinfo and attributes GPU time to processes.
//
// Static information comes from the hwinfo probers (amdgpu, nvidia,
// and a generic DRM prober for every other driver). Capability probes
// that open device nodes run in a child process through lib/isolate so
// a misbehaving driver cannot take the daemon down.
//
// Per-process GPU usage comes from DRM client accounting in
// /proc/<pid>/fdinfo: each open DRM file reports cumulative busy
// nanoseconds per engine. The delta between two refreshes over the
// elapsed wall time is the process's share of that engine. The
// process table is annotated in place after the process refresh.
package gpustat
