// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package isolate

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/bureau-foundation/sysmond/lib/codec"
)

// probeEnvironment names the environment variable that switches a
// re-executed binary into probe mode.
const probeEnvironment = "SYSMOND_ISOLATE_PROBE"

// Child exit codes. A Go panic exits with 2, so the probe-mode codes
// stay clear of it.
const (
	exitReplied      = 0
	exitWriteFailed  = 70
	exitUnknownProbe = 64
)

// ProbeFunc runs inside the child. request is the CBOR encoding of the
// value the parent passed to Call. The returned value is CBOR-encoded
// back to the parent; a returned error reaches the parent as
// KindProbeFailed.
type ProbeFunc func(ctx context.Context, request []byte) (any, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]ProbeFunc)
)

// Register makes a probe available to children under name. Call it
// from package init so the registration exists in the child before
// Main runs. Panics on a duplicate name.
func Register(name string, probe ProbeFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("isolate: duplicate probe %q", name))
	}
	registry[name] = probe
}

func lookup(name string) (ProbeFunc, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	probe, ok := registry[name]
	return probe, ok
}

// reply is the single CBOR value a child writes to stdout.
type reply struct {
	Value codec.RawMessage `cbor:"value,omitempty"`
	Error string           `cbor:"error,omitempty"`
}

// Main turns the current process into a probe child when
// SYSMOND_ISOLATE_PROBE is set, and exits when the probe is done. It
// returns immediately in a normal daemon or test process.
func Main() {
	name := os.Getenv(probeEnvironment)
	if name == "" {
		return
	}
	os.Exit(serveProbe(context.Background(), name, os.Stdin, os.Stdout))
}

// serveProbe runs one probe and writes its reply. Returns the process
// exit code.
func serveProbe(ctx context.Context, name string, input io.Reader, output io.Writer) int {
	probe, ok := lookup(name)
	if !ok {
		return exitUnknownProbe
	}

	request, err := io.ReadAll(input)
	if err != nil {
		return writeReply(output, reply{Error: fmt.Sprintf("reading request: %v", err)})
	}

	value, err := probe(ctx, request)
	if err != nil {
		return writeReply(output, reply{Error: err.Error()})
	}

	encoded, err := codec.Marshal(value)
	if err != nil {
		return writeReply(output, reply{Error: fmt.Sprintf("encoding probe result: %v", err)})
	}
	return writeReply(output, reply{Value: encoded})
}

func writeReply(output io.Writer, message reply) int {
	if err := codec.NewEncoder(output).Encode(message); err != nil {
		return exitWriteFailed
	}
	return exitReplied
}
