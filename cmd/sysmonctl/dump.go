// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sysmond/lib/bundle"
	"github.com/bureau-foundation/sysmond/lib/codec"
	"github.com/bureau-foundation/sysmond/lib/ipc"
	"github.com/bureau-foundation/sysmond/lib/version"
)

// dumpActions are the read actions captured into a bundle.
var dumpActions = []string{
	ipc.ActionStatus,
	ipc.ActionGetSettings,
	ipc.ActionCPUStatic,
	ipc.ActionCPUDynamic,
	ipc.ActionDisks,
	ipc.ActionNetwork,
	ipc.ActionGPUs,
	ipc.ActionFans,
	ipc.ActionProcesses,
	ipc.ActionApps,
	ipc.ActionServices,
}

// captureBundle calls every dump action. A failed action is recorded
// in the bundle's Errors and does not stop the capture; the capture
// fails only when nothing could be read.
func captureBundle(ctx context.Context, client *ipc.Client, now time.Time) (*bundle.Bundle, error) {
	captured := &bundle.Bundle{
		CapturedAt: now.UTC(),
		Version:    version.Info(),
		Sections:   make(map[string]codec.RawMessage),
		Errors:     make(map[string]string),
	}
	captured.Hostname, _ = os.Hostname()

	var failures []error
	for _, action := range dumpActions {
		var raw codec.RawMessage
		if err := client.Call(ctx, action, nil, &raw); err != nil {
			captured.Errors[action] = err.Error()
			failures = append(failures, err)
			continue
		}
		captured.Sections[action] = raw
	}
	if len(captured.Sections) == 0 {
		return nil, fmt.Errorf("nothing captured: %w", errors.Join(failures...))
	}
	return captured, nil
}

func runDump(ctx context.Context, s *session, args []string) error {
	flagSet := pflag.NewFlagSet("dump", pflag.ContinueOnError)
	compressionName := flagSet.String("compression", "zstd", "payload compression: zstd, lz4 or none")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return errors.New("usage: sysmonctl dump FILE [--compression zstd|lz4|none]")
	}
	compression, err := bundle.ParseCompression(*compressionName)
	if err != nil {
		return err
	}

	captured, err := captureBundle(ctx, s.client, time.Now())
	if err != nil {
		return err
	}

	path := flagSet.Arg(0)
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	info, err := bundle.Write(file, captured, compression)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("writing %s: %w", path, err)
	}

	if s.json {
		return writeJSON(s.out, map[string]any{
			"path":            path,
			"sections":        len(captured.Sections),
			"errors":          captured.Errors,
			"compression":     info.Compression.String(),
			"payload_bytes":   info.PayloadSize,
			"compressed_size": info.CompressedSize,
			"blake3":          info.Digest.String(),
		})
	}
	fmt.Fprintf(s.out, "wrote %s: %d sections, %s (%s %s), blake3 %s\n",
		path, len(captured.Sections), formatBytes(uint64(info.PayloadSize)),
		info.Compression, formatBytes(uint64(info.CompressedSize)), info.Digest)
	for _, action := range dumpActions {
		if message, failed := captured.Errors[action]; failed {
			fmt.Fprintf(s.out, "  %s %s\n", failedStyle.Render("skipped "+action+":"), message)
		}
	}
	return nil
}

func runInspect(ctx context.Context, s *session, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: sysmonctl inspect FILE [SECTION]")
	}
	file, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer file.Close()
	captured, info, err := bundle.Read(file)
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	if len(args) == 2 {
		return printSection(s, captured, args[1])
	}
	if s.json || s.raw {
		sections := make(map[string]any, len(captured.Sections))
		for name := range captured.Sections {
			var value any
			if err := captured.Decode(name, &value); err != nil {
				return fmt.Errorf("decoding section %s: %w", name, err)
			}
			sections[name] = value
		}
		return writeJSON(s.out, map[string]any{
			"captured_at": captured.CapturedAt,
			"hostname":    captured.Hostname,
			"version":     captured.Version,
			"sections":    sections,
			"errors":      captured.Errors,
		})
	}
	return renderBundle(s.out, captured, info)
}

func printSection(s *session, captured *bundle.Bundle, name string) error {
	if s.raw {
		data, ok := captured.Sections[name]
		if !ok {
			var ignored any
			return captured.Decode(name, &ignored)
		}
		text, err := codec.Diagnose(data)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, text)
		return nil
	}
	var value any
	if err := captured.Decode(name, &value); err != nil {
		return err
	}
	return writeJSON(s.out, value)
}

func renderBundle(out io.Writer, captured *bundle.Bundle, info bundle.Info) error {
	err := keyValues(out, "Snapshot bundle", [][2]string{
		{"Captured", captured.CapturedAt.Format(time.RFC3339)},
		{"Host", captured.Hostname},
		{"Captured by", captured.Version},
		{"Payload", fmt.Sprintf("%s, %s %s", formatBytes(uint64(info.PayloadSize)), info.Compression, formatBytes(uint64(info.CompressedSize)))},
		{"BLAKE3", info.Digest.String()},
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	t := newTable(out, "SECTION", "SIZE", "STATUS")
	for _, name := range captured.Names() {
		if data, ok := captured.Sections[name]; ok {
			t.row(name, formatBytes(uint64(len(data))), "ok")
			continue
		}
		t.row(name, "-", failedStyle.Render(truncate(captured.Errors[name], 60)))
	}
	return t.flush()
}
