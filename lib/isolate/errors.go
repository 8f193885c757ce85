// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package isolate

import "fmt"

// Kind classifies an isolated probe failure.
type Kind int

const (
	// KindCrashed: the child was killed by a signal or exited without
	// writing a reply.
	KindCrashed Kind = iota + 1

	// KindProbeFailed: the probe ran to completion and returned an
	// error.
	KindProbeFailed

	// KindSerialization: the request could not be encoded, or the
	// reply could not be decoded.
	KindSerialization

	// KindTimeout: the child did not finish within the executor's
	// timeout and was killed.
	KindTimeout

	// KindUnknownProbe: the child binary has no probe registered
	// under the requested name.
	KindUnknownProbe
)

func (k Kind) String() string {
	switch k {
	case KindCrashed:
		return "crashed"
	case KindProbeFailed:
		return "probe failed"
	case KindSerialization:
		return "serialization"
	case KindTimeout:
		return "timeout"
	case KindUnknownProbe:
		return "unknown probe"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by Executor.Call for every failure that involves
// the child process.
type Error struct {
	Kind  Kind
	Probe string

	// Detail is the probe's error message for KindProbeFailed, or the
	// signal name / exit status for KindCrashed.
	Detail string

	// Stderr holds the tail of the child's stderr, if any. For a Go
	// panic this is the panic message and stack.
	Stderr string

	Err error
}

func (e *Error) Error() string {
	message := fmt.Sprintf("isolated probe %q: %s", e.Probe, e.Kind)
	if e.Detail != "" {
		message += ": " + e.Detail
	}
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind alone, so callers can write
// errors.Is(err, &isolate.Error{Kind: isolate.KindTimeout}).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind && other.Probe == "" && other.Detail == ""
}
