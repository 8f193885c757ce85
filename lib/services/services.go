// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package services lists and controls system services through the
// running service manager: systemd over D-Bus, or OpenRC through its
// command-line tools. Backend errors are translated to *Error at the
// adapter so callers see one taxonomy.
package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/util"
)

// Service is one service as reported by the manager.
type Service struct {
	Name        string `json:"name" cbor:"name"`
	Description string `json:"description" cbor:"description"`

	// Enabled is true when the service starts at boot.
	Enabled bool `json:"enabled" cbor:"enabled"`
	Running bool `json:"running" cbor:"running"`

	// Failed is true when the service is not running and its last
	// run did not finish successfully.
	Failed bool `json:"failed" cbor:"failed"`

	// PID is the main process, or 0.
	PID   int    `json:"pid,omitempty" cbor:"pid,omitempty"`
	User  string `json:"user,omitempty" cbor:"user,omitempty"`
	Group string `json:"group,omitempty" cbor:"group,omitempty"`
}

// Manager is a service manager backend. Implementations are safe for
// concurrent use.
type Manager interface {
	// Backend names the implementation ("systemd", "openrc").
	Backend() string

	List(ctx context.Context) ([]Service, error)

	// Logs returns the most recent log lines of a service in
	// chronological order. pid, when non-zero, also matches messages
	// logged by that process outside the unit.
	Logs(ctx context.Context, name string, pid int) (string, error)

	Enable(ctx context.Context, name string) error
	Disable(ctx context.Context, name string) error
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error

	Close() error
}

// Runner executes a command and returns its stdout. A non-zero exit
// returns a *CommandError.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	command := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	output, err := command.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return output, &CommandError{
				Command:  name,
				ExitCode: exitErr.ExitCode(),
				Stderr:   strings.TrimSpace(stderr.String()),
			}
		}
		return output, err
	}
	return output, nil
}

// Options configures Detect and the backends.
type Options struct {
	// Backend selects the manager: "auto", "systemd", "openrc", or
	// "none". Empty means "auto".
	Backend string

	Logger *slog.Logger

	// Run executes journalctl and the OpenRC tools. Defaults to
	// ExecRunner.
	Run Runner

	// Elevate is prepended to control commands that need privileges,
	// for example ["pkexec"] when the daemon does not run as root.
	Elevate []string

	// LogLines bounds the lines returned by Logs. Defaults to 5.
	LogLines int

	// LogCacheTTL is how long Logs results are reused. Defaults to 5s.
	LogCacheTTL time.Duration

	// OpenRCRoot is the filesystem root for OpenRC state and init
	// scripts. Defaults to "/".
	OpenRCRoot string
}

func (o *Options) applyDefaults() {
	if o.Backend == "" {
		o.Backend = "auto"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Run == nil {
		o.Run = ExecRunner
	}
	if o.LogLines <= 0 {
		o.LogLines = 5
	}
	if o.LogCacheTTL <= 0 {
		o.LogCacheTTL = 5 * time.Second
	}
	if o.OpenRCRoot == "" {
		o.OpenRCRoot = "/"
	}
}

// Detect returns the manager selected by options.Backend. In "auto"
// mode OpenRC wins when its tools are installed, then systemd when it
// is the running init. Returns an *Error of KindUnsupported when none
// applies.
func Detect(ctx context.Context, options Options) (Manager, error) {
	options.applyDefaults()

	switch options.Backend {
	case "systemd":
		return connectSystemd(ctx, options)
	case "openrc":
		return NewOpenRC(options), nil
	case "none":
		return nil, &Error{Kind: KindUnsupported, Op: "detect", Err: errors.New("service management disabled")}
	case "auto":
		if openRCInstalled(options.OpenRCRoot) {
			return NewOpenRC(options), nil
		}
		if util.IsRunningSystemd() {
			return connectSystemd(ctx, options)
		}
		return nil, &Error{Kind: KindUnsupported, Op: "detect", Err: errors.New("no supported service manager found")}
	default:
		return nil, &Error{Kind: KindUnsupported, Op: "detect", Err: fmt.Errorf("unknown backend %q", options.Backend)}
	}
}

// connectSystemd keeps a failed connection from becoming a non-nil
// Manager holding a nil *Systemd.
func connectSystemd(ctx context.Context, options Options) (Manager, error) {
	manager, err := NewSystemd(ctx, options)
	if err != nil {
		return nil, err
	}
	return manager, nil
}

func openRCInstalled(root string) bool {
	for _, path := range []string{"sbin/rc-service", "sbin/openrc"} {
		if _, err := os.Stat(filepath.Join(root, path)); err != nil {
			return false
		}
	}
	return true
}

// validateName rejects names that would be parsed as an option or a
// path by the control tools.
func validateName(op, name string) error {
	if name == "" || strings.HasPrefix(name, "-") || strings.ContainsAny(name, "/\x00") {
		return &Error{Kind: KindNotFound, Op: op, Name: name, Err: ErrInvalidName}
	}
	return nil
}

// elevated prefixes a command with options.Elevate.
func elevated(elevate []string, name string, args ...string) (string, []string) {
	if len(elevate) == 0 {
		return name, args
	}
	full := append(append([]string{}, elevate[1:]...), name)
	return elevate[0], append(full, args...)
}
