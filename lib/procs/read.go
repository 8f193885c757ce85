// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package procs

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// statFields is the subset of /proc/<pid>/stat the sampler uses.
type statFields struct {
	name        string
	state       State
	parentPID   int
	userTicks   uint64
	systemTicks uint64
	threads     int
	startTicks  uint64
}

// Field positions in /proc/<pid>/stat, counted from 0 with the pid at
// 0 and comm at 1. Fields after comm are located relative to the
// closing parenthesis since comm may contain spaces and parentheses.
const (
	statState      = 2
	statParentPID  = 3
	statUserTicks  = 13
	statSysTicks   = 14
	statNumThreads = 19
	statStartTime  = 21

	// statFirstAfterComm is the index of the first field after comm.
	statFirstAfterComm = 2
)

func parseStat(data string) (statFields, error) {
	open := strings.IndexByte(data, '(')
	closing := strings.LastIndexByte(data, ')')
	if open < 0 || closing < open {
		return statFields{}, fmt.Errorf("malformed stat: no comm field")
	}

	rest := strings.Fields(data[closing+1:])
	field := func(index int) string {
		return rest[index-statFirstAfterComm]
	}
	if len(rest) <= statStartTime-statFirstAfterComm {
		return statFields{}, fmt.Errorf("malformed stat: %d fields after comm", len(rest))
	}

	parsed := statFields{
		name:  data[open+1 : closing],
		state: ParseState(field(statState)),
	}
	var err error
	if parsed.parentPID, err = strconv.Atoi(field(statParentPID)); err != nil {
		return statFields{}, fmt.Errorf("parsing ppid: %w", err)
	}
	if parsed.userTicks, err = strconv.ParseUint(field(statUserTicks), 10, 64); err != nil {
		return statFields{}, fmt.Errorf("parsing utime: %w", err)
	}
	if parsed.systemTicks, err = strconv.ParseUint(field(statSysTicks), 10, 64); err != nil {
		return statFields{}, fmt.Errorf("parsing stime: %w", err)
	}
	parsed.threads, _ = strconv.Atoi(field(statNumThreads))
	if parsed.startTicks, err = strconv.ParseUint(field(statStartTime), 10, 64); err != nil {
		return statFields{}, fmt.Errorf("parsing starttime: %w", err)
	}
	return parsed, nil
}

func readStat(processDir string) (statFields, error) {
	data, err := os.ReadFile(filepath.Join(processDir, "stat"))
	if err != nil {
		return statFields{}, err
	}
	return parseStat(string(data))
}

// exited reports whether a read error means the process is gone.
func exited(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, unix.ESRCH)
}

// readResident returns resident memory in bytes from statm.
func readResident(processDir string, pageSize uint64) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(processDir, "statm"))
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed statm: %q", data)
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing statm resident: %w", err)
	}
	return pages * pageSize, nil
}

// readIO returns read_bytes and write_bytes from /proc/<pid>/io. The
// file is only readable for processes the daemon may ptrace.
func readIO(processDir string) (readBytes, writeBytes uint64, err error) {
	file, err := os.Open(filepath.Join(processDir, "io"))
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), ":")
		if !found {
			continue
		}
		number, parseErr := strconv.ParseUint(strings.TrimSpace(value), 10, 64)
		if parseErr != nil {
			continue
		}
		switch key {
		case "read_bytes":
			readBytes = number
		case "write_bytes":
			writeBytes = number
		}
	}
	return readBytes, writeBytes, scanner.Err()
}

// readCmdline splits /proc/<pid>/cmdline on NUL, dropping empty
// arguments. Kernel threads have an empty cmdline.
func readCmdline(processDir string) []string {
	data, err := os.ReadFile(filepath.Join(processDir, "cmdline"))
	if err != nil {
		return nil
	}
	var arguments []string
	for _, argument := range strings.Split(string(data), "\x00") {
		if argument = strings.TrimSpace(argument); argument != "" {
			arguments = append(arguments, argument)
		}
	}
	return arguments
}

func readExe(processDir string) string {
	target, err := os.Readlink(filepath.Join(processDir, "exe"))
	if err != nil {
		return ""
	}
	return target
}

// countTasks counts the thread directories under task/. Returns -1 if
// the directory cannot be read.
func countTasks(processDir string) int {
	entries, err := os.ReadDir(filepath.Join(processDir, "task"))
	if err != nil {
		return -1
	}
	count := 0
	for _, entry := range entries {
		if _, err := strconv.Atoi(entry.Name()); err == nil {
			count++
		}
	}
	return count
}

// readAppScope returns the cgroup directory of the systemd app or snap
// scope the process belongs to, or "". The unified hierarchy line
// ("0::/user.slice/.../app-gnome-firefox-1234.scope") is preferred;
// on v1-only systems the first line is used.
func readAppScope(processDir, sysRoot string, pid int) string {
	data, err := os.ReadFile(filepath.Join(processDir, "cgroup"))
	if err != nil {
		return ""
	}
	return appScopeFromCgroup(string(data), sysRoot, pid)
}

func appScopeFromCgroup(data, sysRoot string, pid int) string {
	lines := strings.Split(strings.TrimSpace(data), "\n")
	if len(lines) == 0 {
		return ""
	}
	line := lines[0]
	for _, candidate := range lines {
		if strings.HasPrefix(candidate, "0::") {
			line = candidate
			break
		}
	}

	parts := strings.SplitN(line, ":", 3)
	if len(parts) != 3 {
		return ""
	}
	path := strings.TrimPrefix(strings.TrimSpace(parts[2]), "/")
	path = strings.TrimSuffix(path, "/"+strconv.Itoa(pid))
	if path == "" {
		return ""
	}

	scope := path[strings.LastIndexByte(path, '/')+1:]
	if !(strings.HasPrefix(scope, "app") || strings.HasPrefix(scope, "snap")) || !strings.HasSuffix(scope, ".scope") {
		return ""
	}

	full := filepath.Join(sysRoot, "fs/cgroup", path)
	if info, err := os.Stat(full); err != nil || !info.IsDir() {
		return ""
	}
	return full
}
