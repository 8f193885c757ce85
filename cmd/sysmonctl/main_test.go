// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/sysmond/lib/codec"
	"github.com/bureau-foundation/sysmond/lib/ipc"
	"github.com/bureau-foundation/sysmond/lib/procs"
	"github.com/bureau-foundation/sysmond/lib/services"
	"github.com/bureau-foundation/sysmond/lib/testutil"
)

// daemon is a socket server with canned replies standing in for sysmond.
type daemon struct {
	socket string

	mu       sync.Mutex
	requests map[string][]byte
}

func (d *daemon) request(action string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[action]
}

func startDaemon(t *testing.T) *daemon {
	t.Helper()
	d := &daemon{
		socket:   filepath.Join(testutil.SocketDir(t), "sysmond.sock"),
		requests: make(map[string][]byte),
	}
	server := ipc.NewServer(d.socket, slog.New(slog.NewTextHandler(io.Discard, nil)))
	reply := func(action string, result any, err error) {
		server.Handle(action, func(ctx context.Context, raw []byte) (any, error) {
			d.mu.Lock()
			d.requests[action] = raw
			d.mu.Unlock()
			return result, err
		})
	}
	reply(ipc.ActionStatus, ipc.StatusReply{
		Version:        "1.2.3",
		ServiceBackend: "systemd",
		Settings:       ipc.Settings{RefreshInterval: codec.Duration(time.Second), CoreCountAffectsPercentages: true},
	}, nil)
	reply(ipc.ActionProcesses, sampleProcesses(), nil)
	reply(ipc.ActionServices, []services.Service{{Name: "sshd.service", Running: true}}, nil)
	reply(ipc.ActionServiceLogs, ipc.ServiceLogsReply{Logs: "line one\nline two"}, nil)
	reply(ipc.ActionKillProcess, nil, nil)
	reply(ipc.ActionStartService, nil, &services.Error{Kind: services.KindNotFound, Op: "start", Name: "ghost.service"})
	reply(ipc.ActionSetSettings, ipc.Settings{RefreshInterval: codec.Duration(3 * time.Second)}, nil)
	server.SetCodeFunc(func(err error) string {
		if services.IsKind(err, services.KindNotFound) {
			return ipc.CodeNotFound
		}
		return ipc.CodeInternal
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 5*time.Second, "server shutdown"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server ready")
	return d
}

func (d *daemon) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(append([]string{"--socket", d.socket}, args...), &out)
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	d := startDaemon(t)
	output, err := d.run(t, "status")
	if err != nil {
		t.Fatal(err)
	}
	requireContains(t, output, "1.2.3", "systemd", "1s")
}

func TestProcessListing(t *testing.T) {
	d := startDaemon(t)
	output, err := d.run(t, "--json", "ps", "--sort", "pid", "--limit", "2")
	if err != nil {
		t.Fatal(err)
	}
	var processes []procs.Process
	if err := json.Unmarshal([]byte(output), &processes); err != nil {
		t.Fatalf("decoding --json output: %v\n%s", err, output)
	}
	if len(processes) != 2 || processes[0].PID != 10 || processes[1].PID != 20 {
		t.Errorf("ps --sort pid --limit 2 = %+v", processes)
	}

	if _, err := d.run(t, "ps", "--sort", "threads"); err == nil {
		t.Error("ps accepted an unknown sort key")
	}
}

func TestRawOutput(t *testing.T) {
	d := startDaemon(t)
	output, err := d.run(t, "--raw", "status")
	if err != nil {
		t.Fatal(err)
	}
	requireContains(t, output, `"version"`, `"1.2.3"`, `"refresh_interval_ms"`, "1000")
}

func TestServiceLogsCommand(t *testing.T) {
	d := startDaemon(t)
	output, err := d.run(t, "logs", "sshd.service", "--pid", "812")
	if err != nil {
		t.Fatal(err)
	}
	if output != "line one\nline two\n" {
		t.Errorf("logs output = %q", output)
	}

	var request ipc.ServiceLogsRequest
	if err := codec.Unmarshal(d.request(ipc.ActionServiceLogs), &request); err != nil {
		t.Fatal(err)
	}
	if request.Name != "sshd.service" || request.PID != 812 {
		t.Errorf("service-logs request = %+v", request)
	}
}

func TestControlCommands(t *testing.T) {
	d := startDaemon(t)

	output, err := d.run(t, "kill", "4242")
	if err != nil {
		t.Fatal(err)
	}
	if output != "killed 4242\n" {
		t.Errorf("kill output = %q", output)
	}
	var request ipc.PIDRequest
	if err := codec.Unmarshal(d.request(ipc.ActionKillProcess), &request); err != nil {
		t.Fatal(err)
	}
	if request.PID != 4242 {
		t.Errorf("kill-process request pid = %d", request.PID)
	}

	_, err = d.run(t, "start", "ghost.service")
	if !errors.Is(err, &ipc.Error{Code: ipc.CodeNotFound}) {
		t.Errorf("start unknown service: got %v, want a not_found error", err)
	}

	if _, err := d.run(t, "kill", "-5"); err == nil {
		t.Error("kill accepted a negative PID")
	}
	if _, err := d.run(t, "term"); err == nil {
		t.Error("term accepted a missing PID")
	}
}

func TestSettingsCommand(t *testing.T) {
	d := startDaemon(t)
	output, err := d.run(t, "settings", "--interval", "3s")
	if err != nil {
		t.Fatal(err)
	}
	requireContains(t, output, "3s")

	var request ipc.SetSettingsRequest
	if err := codec.Unmarshal(d.request(ipc.ActionSetSettings), &request); err != nil {
		t.Fatal(err)
	}
	if request.RefreshInterval == nil || time.Duration(*request.RefreshInterval) != 3*time.Second {
		t.Errorf("set-settings interval = %v", request.RefreshInterval)
	}
	if request.CoreCountAffectsPercentages != nil {
		t.Error("set-settings sent core_count_affects_percentages without --core-count")
	}
}

func TestUsageErrors(t *testing.T) {
	d := startDaemon(t)
	tests := [][]string{
		{"frobnicate"},
		{"--json", "--raw", "status"},
		{"status", "extra"},
		{"logs"},
	}
	for _, args := range tests {
		if _, err := d.run(t, args...); err == nil {
			t.Errorf("sysmonctl %s: expected an error", strings.Join(args, " "))
		}
	}
}

func TestDumpAndInspect(t *testing.T) {
	d := startDaemon(t)
	path := filepath.Join(t.TempDir(), "snapshot.sysmond")

	output, err := d.run(t, "dump", path, "--compression", "lz4")
	if err != nil {
		t.Fatal(err)
	}
	// The fake daemon has no disks handler, so that section is
	// recorded as skipped rather than failing the dump.
	requireContains(t, output, "wrote "+path, "blake3", "skipped disks:", "unknown")

	output, err = d.run(t, "inspect", path)
	if err != nil {
		t.Fatal(err)
	}
	requireContains(t, output, "Snapshot bundle", "processes", "status", "services", "disks")

	output, err = d.run(t, "inspect", path, ipc.ActionProcesses)
	if err != nil {
		t.Fatal(err)
	}
	var processes []procs.Process
	if err := json.Unmarshal([]byte(output), &processes); err != nil {
		t.Fatalf("decoding section: %v\n%s", err, output)
	}
	if len(processes) != len(sampleProcesses()) {
		t.Errorf("section holds %d processes, want %d", len(processes), len(sampleProcesses()))
	}

	if _, err := d.run(t, "inspect", path, ipc.ActionDisks); err == nil {
		t.Error("inspect of a skipped section succeeded")
	}
	if _, err := d.run(t, "dump", path, "--compression", "gzip"); err == nil {
		t.Error("dump accepted an unknown compression")
	}
}

func TestDumpWithoutDaemon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.sysmond")
	socket := filepath.Join(testutil.SocketDir(t), "absent.sock")
	var out bytes.Buffer
	if err := run([]string{"--socket", socket, "dump", path}, &out); err == nil {
		t.Fatal("dump succeeded with no daemon")
	}
}
