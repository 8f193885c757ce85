// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package nvidia

import (
	"context"
	"encoding/csv"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// smiTimeout bounds one nvidia-smi invocation. A wedged driver can
// make nvidia-smi hang indefinitely.
const smiTimeout = 2 * time.Second

// Runner executes a command and returns its standard output. Tests
// substitute canned output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// querySMI runs "nvidia-smi --query-<kind>=<fields>" in CSV mode and
// returns one record per GPU (or per process). Every record has
// exactly len(fields) columns.
func querySMI(ctx context.Context, run Runner, kind string, fields []string) ([][]string, error) {
	ctx, cancel := context.WithTimeout(ctx, smiTimeout)
	defer cancel()

	output, err := run(ctx, "nvidia-smi",
		"--query-"+kind+"="+strings.Join(fields, ","),
		"--format=csv,noheader,nounits")
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi --query-%s: %w", kind, err)
	}

	reader := csv.NewReader(strings.NewReader(string(output)))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = len(fields)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing nvidia-smi --query-%s output: %w", kind, err)
	}
	return records, nil
}

// NormalizeBusID converts nvidia-smi's bus ID ("00000000:41:00.0") to
// the sysfs PCI slot form ("0000:41:00.0").
func NormalizeBusID(busID string) string {
	busID = strings.ToLower(strings.TrimSpace(busID))
	domain, rest, found := strings.Cut(busID, ":")
	if !found {
		return busID
	}
	if len(domain) > 4 {
		domain = domain[len(domain)-4:]
	}
	return domain + ":" + rest
}

// parseNumber parses a numeric nvidia-smi field. "[N/A]" and
// "[Not Supported]" report false.
func parseNumber(field string) (float64, bool) {
	field = strings.TrimSpace(field)
	if field == "" || strings.HasPrefix(field, "[") || field == "N/A" {
		return 0, false
	}
	value, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
