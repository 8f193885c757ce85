// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"errors"
	"fmt"
)

// Kind classifies a service manager failure.
type Kind int

const (
	// KindUnsupported: no supported service manager is running, or the
	// backend cannot perform the operation.
	KindUnsupported Kind = iota + 1

	// KindNotFound: the named service does not exist.
	KindNotFound

	// KindTransient: the manager could not be reached (bus timeout,
	// connection lost). Retrying may succeed.
	KindTransient

	// KindCommandFailed: the manager rejected the request or the
	// control command exited non-zero.
	KindCommandFailed
)

func (k Kind) String() string {
	switch k {
	case KindUnsupported:
		return "unsupported"
	case KindNotFound:
		return "not found"
	case KindTransient:
		return "transient"
	case KindCommandFailed:
		return "command failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by every Manager method.
type Error struct {
	Kind Kind

	// Op is the operation: "list", "logs", "enable", "disable",
	// "start", "stop", "restart".
	Op string

	// Name is the service, or "" for list.
	Name string

	Err error
}

func (e *Error) Error() string {
	message := "services: " + e.Op
	if e.Name != "" {
		message += " " + e.Name
	}
	message += ": " + e.Kind.String()
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind alone, so callers can write
// errors.Is(err, &services.Error{Kind: services.KindNotFound}).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind && other.Op == "" && other.Name == ""
}

// ErrInvalidName is wrapped when a service name could be mistaken for
// a command-line option or a path.
var ErrInvalidName = errors.New("invalid service name")

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var serviceErr *Error
	return errors.As(err, &serviceErr) && serviceErr.Kind == kind
}

// CommandError is a control command that exited non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.ExitCode, e.Stderr)
}
