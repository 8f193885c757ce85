// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package procs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/tklauser/go-sysconf"
	"github.com/tklauser/numcpus"

	"github.com/bureau-foundation/sysmond/lib/clock"
	"github.com/bureau-foundation/sysmond/lib/sampling"
)

// Options configures a Table. Zero fields take system defaults.
type Options struct {
	// ProcRoot is the procfs mount, normally "/proc".
	ProcRoot string

	// SysRoot is the sysfs mount, normally "/sys". Used to resolve
	// cgroup app scopes.
	SysRoot string

	Clock  clock.Clock
	Logger *slog.Logger

	// ClockTicks is USER_HZ, the unit of utime and stime. Defaults to
	// sysconf(_SC_CLK_TCK).
	ClockTicks int64

	// PageSize converts statm pages to bytes. Defaults to
	// sysconf(_SC_PAGESIZE).
	PageSize int64

	// LogicalCPUs bounds per-process CPU percent at 100 per CPU.
	// Defaults to the online CPU count.
	LogicalCPUs int
}

// Table is the process sampler. It is not safe for concurrent use;
// the gatherer serializes access.
type Table struct {
	procRoot    string
	sysRoot     string
	clock       clock.Clock
	logger      *slog.Logger
	clockTicks  float64
	pageSize    uint64
	logicalCPUs int

	throttle *sampling.Throttle
	cache    *sampling.Cache[Identity, rawCounters, Process]

	// byPID indexes the committed generation for PID lookups.
	byPID map[int]Identity
}

// New creates an empty process table.
func New(options Options) *Table {
	if options.ProcRoot == "" {
		options.ProcRoot = "/proc"
	}
	if options.SysRoot == "" {
		options.SysRoot = "/sys"
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.ClockTicks <= 0 {
		options.ClockTicks = sysconfOr(sysconf.SC_CLK_TCK, 100)
	}
	if options.PageSize <= 0 {
		options.PageSize = sysconfOr(sysconf.SC_PAGESIZE, int64(os.Getpagesize()))
	}
	if options.LogicalCPUs <= 0 {
		options.LogicalCPUs = OnlineCPUs()
	}

	return &Table{
		procRoot:    options.ProcRoot,
		sysRoot:     options.SysRoot,
		clock:       options.Clock,
		logger:      options.Logger,
		clockTicks:  float64(options.ClockTicks),
		pageSize:    uint64(options.PageSize),
		logicalCPUs: options.LogicalCPUs,
		throttle:    sampling.NewThrottle(options.Clock, sampling.MinRefreshInterval),
		cache:       sampling.NewCache[Identity, rawCounters, Process](),
		byPID:       make(map[int]Identity),
	}
}

func sysconfOr(name int, fallback int64) int64 {
	value, err := sysconf.Sysconf(name)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

// OnlineCPUs returns the number of online logical CPUs, falling back
// to runtime.NumCPU.
func OnlineCPUs() int {
	count, err := numcpus.GetOnline()
	if err != nil || count <= 0 {
		return runtime.NumCPU()
	}
	return count
}

// LogicalCPUs returns the CPU count used for percent limits.
func (t *Table) LogicalCPUs() int { return t.logicalCPUs }

// Refresh re-reads every process under the proc root. It returns
// false without touching the cache when the previous refresh was less
// than sampling.MinRefreshInterval ago.
//
// When coreCountAffectsPercentages is false, CPU percent is divided by
// the logical CPU count so a fully busy machine reads 100.
//
// A process whose stat cannot be read for a reason other than exiting
// keeps its previous entry. Failure to list the proc root leaves the
// whole table unchanged and is returned.
func (t *Table) Refresh(ctx context.Context, coreCountAffectsPercentages bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !t.throttle.Allow() {
		return false, nil
	}

	entries, err := os.ReadDir(t.procRoot)
	if err != nil {
		return true, fmt.Errorf("listing %s: %w", t.procRoot, err)
	}

	now := t.clock.Now()
	generation := t.cache.Begin()
	byPID := make(map[int]Identity, len(t.byPID))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		processDir := filepath.Join(t.procRoot, entry.Name())
		stat, err := readStat(processDir)
		if err != nil {
			if exited(err) {
				continue
			}
			t.logger.Debug("reading process stat", "pid", pid, "error", err)
			if identity, known := t.byPID[pid]; known && generation.Keep(identity) {
				byPID[pid] = identity
			}
			continue
		}

		identity := Identity{PID: pid, StartTicks: stat.startTicks}
		previous, found := generation.Take(identity)
		raw, record := t.sample(processDir, pid, stat, previous, found, now)

		record.Usage.CPUPercent = record.unscaledCPU
		if !coreCountAffectsPercentages {
			record.Usage.CPUPercent /= float64(t.logicalCPUs)
		}

		generation.Put(identity, sampling.Entry[rawCounters, Process]{
			Raw:     raw,
			Sampled: now,
			Record:  record,
		})
		byPID[pid] = identity
	}

	dropped := generation.Commit()
	t.byPID = byPID
	t.logger.Debug("process table refreshed",
		"processes", len(byPID),
		"exited", dropped,
		"duration", t.clock.Now().Sub(now))
	return true, nil
}

// sample reads the remaining per-process files and computes rates
// against previous when found.
func (t *Table) sample(processDir string, pid int, stat statFields, previous sampling.Entry[rawCounters, Process], found bool, now time.Time) (rawCounters, Process) {
	raw := rawCounters{
		userTicks:   stat.userTicks,
		systemTicks: stat.systemTicks,
	}
	readBytes, writeBytes, err := readIO(processDir)
	if err != nil {
		// Unreadable io (another user's process) contributes no I/O.
		if found {
			readBytes, writeBytes = previous.Raw.readBytes, previous.Raw.writeBytes
		}
	}
	raw.readBytes, raw.writeBytes = readBytes, writeBytes

	record := Process{
		PID:        pid,
		ParentPID:  stat.parentPID,
		Name:       stat.name,
		Cmdline:    readCmdline(processDir),
		Exe:        readExe(processDir),
		State:      stat.state,
		Tasks:      countTasks(processDir),
		AppScope:   readAppScope(processDir, t.sysRoot, pid),
		StartTicks: stat.startTicks,
	}
	if record.Tasks < 0 {
		record.Tasks = stat.threads
	}
	if memory, err := readResident(processDir, t.pageSize); err == nil {
		record.Usage.MemoryBytes = memory
	} else if !exited(err) {
		t.logger.Debug("reading process statm", "pid", pid, "error", err)
	}

	if !found {
		return raw, record
	}

	elapsed := now.Sub(previous.Sampled)
	last := previous.Record

	cpuTicks := sampling.Delta(previous.Raw.userTicks, raw.userTicks) +
		sampling.Delta(previous.Raw.systemTicks, raw.systemTicks)
	busy := time.Duration(float64(cpuTicks) / t.clockTicks * float64(time.Second))
	record.unscaledCPU = sampling.Utilization(busy, elapsed, 100*float64(t.logicalCPUs), last.unscaledCPU)

	record.Usage.DiskReadBytesPerSecond = sampling.Rate(
		sampling.Delta(previous.Raw.readBytes, raw.readBytes), elapsed, last.Usage.DiskReadBytesPerSecond)
	record.Usage.DiskWriteBytesPerSecond = sampling.Rate(
		sampling.Delta(previous.Raw.writeBytes, raw.writeBytes), elapsed, last.Usage.DiskWriteBytesPerSecond)
	record.Usage.DiskBytesPerSecond = (record.Usage.DiskReadBytesPerSecond + record.Usage.DiskWriteBytesPerSecond) / 2

	return raw, record
}

// Len returns the number of live processes.
func (t *Table) Len() int { return t.cache.Len() }

// Get returns the record for pid.
func (t *Table) Get(pid int) (Process, bool) {
	identity, ok := t.byPID[pid]
	if !ok {
		return Process{}, false
	}
	entry, ok := t.cache.Get(identity)
	return entry.Record, ok
}

// Processes returns every record ordered by PID.
func (t *Table) Processes() []Process {
	return t.cache.Records(func(a, b Process) bool { return a.PID < b.PID })
}

// Counts returns the number of processes and the sum of their tasks.
func (t *Table) Counts() (processes, threads int) {
	t.cache.Range(func(_ Identity, entry sampling.Entry[rawCounters, Process]) bool {
		processes++
		threads += entry.Record.Tasks
		return true
	})
	return processes, threads
}

// Annotate applies fn to the usage of pid's current record. Returns
// false if pid is not in the table. Raw counters are not affected.
func (t *Table) Annotate(pid int, fn func(usage *Usage)) bool {
	identity, ok := t.byPID[pid]
	if !ok {
		return false
	}
	return t.cache.Mutate(identity, func(record *Process) {
		fn(&record.Usage)
	})
}
