// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package procs

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrNoSuchProcess is returned when the target process does not exist.
var ErrNoSuchProcess = errors.New("no such process")

// ErrPermission is returned when the daemon may not signal the target.
var ErrPermission = errors.New("permission denied")

// Terminate sends SIGTERM to pid.
func Terminate(pid int) error {
	return signal(pid, unix.SIGTERM)
}

// Kill sends SIGKILL to pid.
func Kill(pid int) error {
	return signal(pid, unix.SIGKILL)
}

func signal(pid int, sig unix.Signal) error {
	// kill(2) treats 0 and negative pids as process groups.
	if pid <= 0 {
		return fmt.Errorf("pid %d: %w", pid, ErrNoSuchProcess)
	}
	err := unix.Kill(pid, sig)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.ESRCH):
		return fmt.Errorf("pid %d: %w", pid, ErrNoSuchProcess)
	case errors.Is(err, unix.EPERM):
		return fmt.Errorf("sending %s to pid %d: %w", unix.SignalName(sig), pid, ErrPermission)
	default:
		return fmt.Errorf("sending %s to pid %d: %w", unix.SignalName(sig), pid, err)
	}
}
