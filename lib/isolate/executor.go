// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package isolate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/sysmond/lib/codec"
)

// DefaultTimeout bounds a child when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// maxReplySize caps how much of the child's stdout is read.
const maxReplySize = 4 * 1024 * 1024

// stderrTail is how much of the child's stderr is kept for the error.
const stderrTail = 2048

// Options configures an Executor.
type Options struct {
	// Binary is the executable to re-run. Defaults to os.Executable().
	Binary string

	// Timeout bounds each child. Defaults to DefaultTimeout.
	Timeout time.Duration

	Logger *slog.Logger
}

// Executor runs registered probes in child processes. Each Call blocks
// until its child exits or is killed. An Executor is safe for
// concurrent use.
type Executor struct {
	binary  string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecutor returns an Executor for the given options.
func NewExecutor(options Options) (*Executor, error) {
	binary := options.Binary
	if binary == "" {
		path, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving own executable: %w", err)
		}
		binary = path
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Executor{binary: binary, timeout: timeout, logger: logger}, nil
}

// Timeout returns the per-child time limit.
func (e *Executor) Timeout() time.Duration { return e.timeout }

// Call runs probe in a child with request as its input and decodes the
// reply value into result (which may be nil to discard it). Failures
// involving the child are *Error. Cancellation of ctx kills the child
// and returns ctx.Err().
func (e *Executor) Call(ctx context.Context, probe string, request any, result any) error {
	encodedRequest, err := codec.Marshal(request)
	if err != nil {
		return &Error{Kind: KindSerialization, Probe: probe, Detail: "encoding request", Err: err}
	}

	childCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	command := exec.CommandContext(childCtx, e.binary)
	command.Env = append(os.Environ(), probeEnvironment+"="+probe)
	command.Stdin = bytes.NewReader(encodedRequest)
	var stdout, stderr bytes.Buffer
	command.Stdout = &limitedBuffer{buffer: &stdout, remaining: maxReplySize}
	command.Stderr = &limitedBuffer{buffer: &stderr, remaining: 64 * 1024}
	command.WaitDelay = time.Second

	started := time.Now()
	runErr := command.Run()
	e.logger.Debug("isolated probe finished",
		"probe", probe,
		"duration", time.Since(started),
		"error", runErr,
	)

	if runErr != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("isolated probe %q: %w", probe, ctx.Err())
		}
		if errors.Is(childCtx.Err(), context.DeadlineExceeded) {
			e.logger.Warn("isolated probe timed out", "probe", probe, "timeout", e.timeout)
			return &Error{Kind: KindTimeout, Probe: probe, Detail: e.timeout.String(), Stderr: tail(stderr.String())}
		}
		return e.classifyExit(probe, runErr, stderr.String())
	}

	var message reply
	if err := codec.Unmarshal(stdout.Bytes(), &message); err != nil {
		return &Error{Kind: KindSerialization, Probe: probe, Detail: "decoding reply", Stderr: tail(stderr.String()), Err: err}
	}
	if message.Error != "" {
		return &Error{Kind: KindProbeFailed, Probe: probe, Detail: message.Error}
	}
	if result != nil && len(message.Value) > 0 {
		if err := codec.Unmarshal(message.Value, result); err != nil {
			return &Error{Kind: KindSerialization, Probe: probe, Detail: "decoding reply value", Err: err}
		}
	}
	return nil
}

// classifyExit converts a failed child's exit status into an *Error.
func (e *Executor) classifyExit(probe string, runErr error, stderr string) error {
	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return &Error{Kind: KindCrashed, Probe: probe, Detail: "starting child", Err: runErr}
	}

	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		signal := status.Signal()
		name := unix.SignalName(signal)
		if name == "" {
			name = signal.String()
		}
		e.logger.Warn("isolated probe crashed", "probe", probe, "signal", name)
		return &Error{Kind: KindCrashed, Probe: probe, Detail: "killed by " + name, Stderr: tail(stderr)}
	}

	code := exitErr.ExitCode()
	if code == exitUnknownProbe {
		return &Error{Kind: KindUnknownProbe, Probe: probe}
	}
	e.logger.Warn("isolated probe exited abnormally", "probe", probe, "exit_code", code)
	return &Error{Kind: KindCrashed, Probe: probe, Detail: fmt.Sprintf("exit status %d", code), Stderr: tail(stderr)}
}

// Run is the typed form of Executor.Call.
func Run[T any](ctx context.Context, executor *Executor, probe string, request any) (T, error) {
	var result T
	err := executor.Call(ctx, probe, request, &result)
	return result, err
}

func tail(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= stderrTail {
		return text
	}
	return text[len(text)-stderrTail:]
}

// limitedBuffer discards writes beyond its limit while still reporting
// them as written, so a chatty child never blocks on a full pipe.
type limitedBuffer struct {
	buffer    *bytes.Buffer
	remaining int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.remaining > 0 {
		chunk := p
		if len(chunk) > b.remaining {
			chunk = chunk[:b.remaining]
		}
		b.buffer.Write(chunk)
		b.remaining -= len(chunk)
	}
	return len(p), nil
}
