// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatherer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/sysmond/lib/clock"
	"github.com/bureau-foundation/sysmond/lib/cpustat"
	"github.com/bureau-foundation/sysmond/lib/diskstat"
	"github.com/bureau-foundation/sysmond/lib/gpustat"
	"github.com/bureau-foundation/sysmond/lib/hwinfo"
	"github.com/bureau-foundation/sysmond/lib/netstat"
	"github.com/bureau-foundation/sysmond/lib/procs"
	"github.com/bureau-foundation/sysmond/lib/services"
	"github.com/bureau-foundation/sysmond/lib/testutil"
)

const gpuSlot = "0000:03:00.0"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func writeProcess(t *testing.T, procRoot string, pid, tasks int, cgroup string) {
	t.Helper()
	dir := filepath.Join(procRoot, strconv.Itoa(pid))
	writeFile(t, filepath.Join(dir, "stat"), fmt.Sprintf(
		"%d (worker) S 1 1 1 0 -1 4194304 0 0 0 0 10 5 0 0 20 0 %d 0 %d 1000 200\n",
		pid, tasks, 500+pid))
	writeFile(t, filepath.Join(dir, "statm"), "1000 25 50 10 0 100 0\n")
	writeFile(t, filepath.Join(dir, "io"), "read_bytes: 0\nwrite_bytes: 0\n")
	writeFile(t, filepath.Join(dir, "cmdline"), "worker\x00")
	writeFile(t, filepath.Join(dir, "cgroup"), cgroup)
	for task := 0; task < tasks; task++ {
		if err := os.MkdirAll(filepath.Join(dir, "task", strconv.Itoa(pid+task)), 0755); err != nil {
			t.Fatalf("mkdir task: %v", err)
		}
	}
}

type fakeProber struct {
	enumerated chan struct{}
}

func (p *fakeProber) Enumerate() []hwinfo.GPUInfo {
	if p.enumerated != nil {
		select {
		case p.enumerated <- struct{}{}:
		default:
		}
	}
	return []hwinfo.GPUInfo{{PCISlot: gpuSlot, Vendor: "AMD", Driver: "amdgpu"}}
}

type fakeCollector struct{}

func (fakeCollector) Collect() []hwinfo.GPUStatus {
	return []hwinfo.GPUStatus{{PCISlot: gpuSlot, UtilizationPercent: 42, TemperatureMillidegrees: 55000}}
}

func (fakeCollector) Close() {}

type fakeManager struct {
	mu       sync.Mutex
	listed   chan struct{}
	list     []services.Service
	listErr  error
	controls []string
	closed   bool
}

func (m *fakeManager) Backend() string { return "fake" }

func (m *fakeManager) List(ctx context.Context) ([]services.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listed != nil {
		select {
		case m.listed <- struct{}{}:
		default:
		}
	}
	return m.list, m.listErr
}

func (m *fakeManager) Logs(ctx context.Context, name string, pid int) (string, error) {
	return "log of " + name, nil
}

func (m *fakeManager) control(op, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name == "missing.service" {
		return &services.Error{Kind: services.KindNotFound, Op: op, Name: name}
	}
	m.controls = append(m.controls, op+" "+name)
	return nil
}

func (m *fakeManager) Enable(ctx context.Context, name string) error {
	return m.control("enable", name)
}
func (m *fakeManager) Disable(ctx context.Context, name string) error {
	return m.control("disable", name)
}
func (m *fakeManager) Start(ctx context.Context, name string) error { return m.control("start", name) }
func (m *fakeManager) Stop(ctx context.Context, name string) error  { return m.control("stop", name) }
func (m *fakeManager) Restart(ctx context.Context, name string) error {
	return m.control("restart", name)
}

func (m *fakeManager) Close() error {
	m.closed = true
	return nil
}

type fixture struct {
	root     string
	procRoot string
	sysRoot  string
	clock    *clock.FakeClock
	prober   *fakeProber
	manager  *fakeManager
	gatherer *Gatherer
}

type fixtureOption func(*Options)

func newFixture(t *testing.T, options ...fixtureOption) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		root:     root,
		procRoot: filepath.Join(root, "proc"),
		sysRoot:  filepath.Join(root, "sys"),
		clock:    clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		prober:   &fakeProber{},
		manager: &fakeManager{list: []services.Service{
			{Name: "sshd.service", Enabled: true, Running: true, PID: 812},
		}},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	scope := "user.slice/app.slice/app-gnome-org.gnome.Terminal-300.scope"
	if err := os.MkdirAll(filepath.Join(f.sysRoot, "fs/cgroup", scope), 0755); err != nil {
		t.Fatalf("mkdir scope: %v", err)
	}
	writeFile(t, filepath.Join(f.procRoot, "stat"),
		"cpu  100 0 100 800 0 0 0 0 0 0\ncpu0 100 0 100 800 0 0 0 0 0 0\nintr 0\n")
	writeProcess(t, f.procRoot, 100, 2, "0::/system.slice/sshd.service\n")
	writeProcess(t, f.procRoot, 300, 3, "0::/"+scope+"\n")
	writeFile(t, filepath.Join(f.sysRoot, "block/sda/stat"),
		"100 0 2000 50 200 0 4000 80 0 300 130 0 0 0 0 0 0\n")
	writeFile(t, filepath.Join(f.sysRoot, "class/dmi/id/sys_vendor"), "Framework\n")
	writeFile(t, filepath.Join(f.sysRoot, "class/dmi/id/board_name"), "FRANMACP04\n")

	opts := Options{
		ProcRoot: f.procRoot,
		SysRoot:  f.sysRoot,
		Clock:    f.clock,
		Logger:   logger,
		Settings: Settings{RefreshInterval: time.Second, CoreCountAffectsPercentages: true},
		Services: f.manager,
		Processes: procs.New(procs.Options{
			ProcRoot:    f.procRoot,
			SysRoot:     f.sysRoot,
			Clock:       f.clock,
			Logger:      logger,
			ClockTicks:  100,
			PageSize:    4096,
			LogicalCPUs: 4,
		}),
		CPU: cpustat.New(cpustat.Options{
			ProcRoot: f.procRoot,
			SysRoot:  f.sysRoot,
			DevRoot:  filepath.Join(root, "dev"),
			Clock:    f.clock,
			Logger:   logger,
		}),
		Disks: diskstat.New(diskstat.Options{SysRoot: f.sysRoot, Clock: f.clock, Logger: logger}),
		Network: netstat.New(netstat.Options{
			SysRoot: f.sysRoot,
			Clock:   f.clock,
			Logger:  logger,
			Counters: func(context.Context) ([]netstat.Counters, error) {
				return []netstat.Counters{{Name: "eth0", BytesRecv: 1000, BytesSent: 500}}, nil
			},
		}),
		GPU: gpustat.New(gpustat.Options{
			SysRoot:    f.sysRoot,
			ProcRoot:   f.procRoot,
			Clock:      f.clock,
			Logger:     logger,
			Probers:    []hwinfo.GPUProber{f.prober},
			Collectors: []hwinfo.GPUCollector{fakeCollector{}},
		}),
	}
	for _, option := range options {
		option(&opts)
	}

	g, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.gatherer = g
	return f
}

func TestPrimeFillsEverySubsystem(t *testing.T) {
	f := newFixture(t)
	if err := f.gatherer.Prime(context.Background()); err != nil {
		t.Fatalf("Prime: %v", err)
	}

	if got := len(f.gatherer.Processes()); got != 2 {
		t.Errorf("Processes = %d, want 2", got)
	}
	// CPU runs after processes and reads their totals.
	dynamic := f.gatherer.CPUDynamic()
	if dynamic.Processes != 2 || dynamic.Threads != 5 {
		t.Errorf("CPU counts = %d processes %d threads, want 2 and 5", dynamic.Processes, dynamic.Threads)
	}
	if disks := f.gatherer.Disks(); len(disks) != 1 || disks[0].ID != "sda" {
		t.Errorf("Disks = %+v, want sda", disks)
	}
	if interfaces := f.gatherer.Interfaces(); len(interfaces) != 1 || interfaces[0].Name != "eth0" {
		t.Errorf("Interfaces = %+v, want eth0", interfaces)
	}
	if slots := f.gatherer.GPUs(); len(slots) != 1 || slots[0] != gpuSlot {
		t.Fatalf("GPUs = %v, want [%s]", slots, gpuSlot)
	}
	if gpu, ok := f.gatherer.GPUStatic(gpuSlot); !ok || gpu.Info.Vendor != "AMD" {
		t.Errorf("GPUStatic = %+v, %v", gpu, ok)
	}
	if status, ok := f.gatherer.GPUDynamic(gpuSlot); !ok || status.UtilizationPercent != 42 {
		t.Errorf("GPUDynamic = %+v, %v, want utilization 42", status, ok)
	}
	if _, ok := f.gatherer.GPUDynamic("0000:ff:00.0"); ok {
		t.Error("GPUDynamic reported an unknown slot")
	}
	if fans := f.gatherer.Fans(); len(fans) != 0 {
		t.Errorf("Fans = %+v, want none", fans)
	}
	system := f.gatherer.System()
	if system.BoardVendor != "Framework" || system.BoardName != "FRANMACP04" {
		t.Errorf("System board = %q %q, want Framework FRANMACP04", system.BoardVendor, system.BoardName)
	}
	if system.KernelVersion == "" || system.MemoryTotalBytes == 0 {
		t.Errorf("System = %+v, want kernel release and memory from the running host", system)
	}

	list, err := f.gatherer.Services()
	if err != nil || len(list) != 1 || list[0].Name != "sshd.service" {
		t.Errorf("Services = %+v, %v", list, err)
	}

	apps := f.gatherer.Apps()
	if len(apps) != 1 || apps[0].Name != "org.gnome.Terminal" {
		t.Fatalf("Apps = %+v, want org.gnome.Terminal", apps)
	}
	if len(apps[0].PIDs) != 1 || apps[0].PIDs[0] != 300 {
		t.Errorf("App PIDs = %v, want [300]", apps[0].PIDs)
	}
}

func TestSnapshotContinuesAfterFailedStep(t *testing.T) {
	f := newFixture(t, func(options *Options) {
		options.Network = netstat.New(netstat.Options{
			SysRoot: options.SysRoot,
			Clock:   options.Clock,
			Logger:  options.Logger,
			Counters: func(context.Context) ([]netstat.Counters, error) {
				return nil, errors.New("counters unavailable")
			},
		})
	})
	if err := os.RemoveAll(filepath.Join(f.sysRoot, "block")); err != nil {
		t.Fatalf("remove block: %v", err)
	}

	err := f.gatherer.Snapshot(context.Background())
	if err == nil {
		t.Fatal("Snapshot succeeded with failing disk and network steps")
	}
	for _, subsystem := range []string{"disks", "network"} {
		if !strings.Contains(err.Error(), subsystem) {
			t.Errorf("error %q does not name %s", err, subsystem)
		}
	}
	if !strings.Contains(err.Error(), "counters unavailable") {
		t.Errorf("error %q lost the cause", err)
	}

	// Steps after the failures still ran.
	if _, ok := f.gatherer.GPUDynamic(gpuSlot); !ok {
		t.Error("GPU step did not run")
	}
	if list, err := f.gatherer.Services(); err != nil || len(list) != 1 {
		t.Errorf("Services = %+v, %v, want refreshed list", list, err)
	}
	if got := len(f.gatherer.Processes()); got != 2 {
		t.Errorf("Processes = %d, want 2", got)
	}
}

func TestSnapshotCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.gatherer.Snapshot(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Snapshot = %v, want context.Canceled", err)
	}
	if got := len(f.gatherer.Processes()); got != 0 {
		t.Errorf("Processes = %d after cancelled snapshot, want 0", got)
	}
}

func TestServiceRefreshFailureKeepsList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.gatherer.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	f.manager.mu.Lock()
	f.manager.listErr = &services.Error{Kind: services.KindTransient, Op: "list"}
	f.manager.mu.Unlock()
	f.clock.Advance(time.Second)
	if err := f.gatherer.Snapshot(ctx); err == nil {
		t.Fatal("Snapshot succeeded with failing service list")
	}

	list, err := f.gatherer.Services()
	if !services.IsKind(err, services.KindTransient) {
		t.Errorf("Services error = %v, want transient", err)
	}
	if len(list) != 1 {
		t.Errorf("Services list = %+v, want previous list kept", list)
	}
}

func TestServicesUnsupportedWithoutManager(t *testing.T) {
	f := newFixture(t, func(options *Options) { options.Services = nil })
	ctx := context.Background()
	if err := f.gatherer.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if _, err := f.gatherer.Services(); !services.IsKind(err, services.KindUnsupported) {
		t.Errorf("Services error = %v, want unsupported", err)
	}
	if _, err := f.gatherer.ServiceLogs(ctx, "sshd.service", 0); !services.IsKind(err, services.KindUnsupported) {
		t.Errorf("ServiceLogs error = %v, want unsupported", err)
	}
	if err := f.gatherer.StartService(ctx, "sshd.service"); !services.IsKind(err, services.KindUnsupported) {
		t.Errorf("StartService error = %v, want unsupported", err)
	}
	if backend := f.gatherer.ServiceBackend(); backend != "none" {
		t.Errorf("ServiceBackend = %q, want none", backend)
	}
}

func TestServiceCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	commands := []struct {
		name string
		run  func(context.Context, string) error
	}{
		{"enable", f.gatherer.EnableService},
		{"disable", f.gatherer.DisableService},
		{"start", f.gatherer.StartService},
		{"stop", f.gatherer.StopService},
		{"restart", f.gatherer.RestartService},
	}
	for _, command := range commands {
		if err := command.run(ctx, "sshd.service"); err != nil {
			t.Errorf("%s: %v", command.name, err)
		}
		if err := command.run(ctx, "missing.service"); !services.IsKind(err, services.KindNotFound) {
			t.Errorf("%s missing.service = %v, want not found", command.name, err)
		}
	}

	want := []string{
		"enable sshd.service", "disable sshd.service", "start sshd.service",
		"stop sshd.service", "restart sshd.service",
	}
	if strings.Join(f.manager.controls, ",") != strings.Join(want, ",") {
		t.Errorf("controls = %v, want %v", f.manager.controls, want)
	}

	logs, err := f.gatherer.ServiceLogs(ctx, "sshd.service", 812)
	if err != nil || logs != "log of sshd.service" {
		t.Errorf("ServiceLogs = %q, %v", logs, err)
	}
}

func TestProcessCommands(t *testing.T) {
	f := newFixture(t)
	var signalled []string
	f.gatherer.terminate = func(pid int) error {
		signalled = append(signalled, "term "+strconv.Itoa(pid))
		return nil
	}
	f.gatherer.kill = func(pid int) error {
		return fmt.Errorf("pid %d: %w", pid, procs.ErrNoSuchProcess)
	}

	ctx := context.Background()
	if err := f.gatherer.TerminateProcess(ctx, 300); err != nil {
		t.Errorf("TerminateProcess: %v", err)
	}
	err := f.gatherer.KillProcess(ctx, 999)
	if !errors.Is(err, procs.ErrNoSuchProcess) {
		t.Errorf("KillProcess = %v, want ErrNoSuchProcess", err)
	}
	if err != nil && !strings.Contains(err.Error(), "999") {
		t.Errorf("KillProcess error %q does not name the pid", err)
	}
	if len(signalled) != 1 || signalled[0] != "term 300" {
		t.Errorf("signalled = %v", signalled)
	}
}

func TestCommandWaitsForPoolSlot(t *testing.T) {
	f := newFixture(t, func(options *Options) { options.CommandWorkers = 1 })

	release := make(chan struct{})
	started := make(chan struct{})
	f.gatherer.terminate = func(pid int) error {
		close(started)
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- f.gatherer.TerminateProcess(context.Background(), 1) }()
	testutil.RequireClosed(t, started, 5*time.Second, "first command started")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.gatherer.KillProcess(ctx, 2); !errors.Is(err, context.Canceled) {
		t.Errorf("KillProcess with full pool = %v, want context.Canceled", err)
	}

	close(release)
	if err := testutil.RequireReceive(t, done, 5*time.Second, "first command"); err != nil {
		t.Errorf("TerminateProcess: %v", err)
	}
}

func TestSettings(t *testing.T) {
	f := newFixture(t)

	if got := f.gatherer.RefreshInterval(); got != time.Second {
		t.Errorf("RefreshInterval = %v, want 1s", got)
	}
	if err := f.gatherer.SetRefreshInterval(250 * time.Millisecond); err != nil {
		t.Fatalf("SetRefreshInterval: %v", err)
	}
	if err := f.gatherer.SetCoreCountAffectsPercentages(false); err != nil {
		t.Fatalf("SetCoreCountAffectsPercentages: %v", err)
	}
	want := Settings{RefreshInterval: 250 * time.Millisecond, CoreCountAffectsPercentages: false}
	if got := f.gatherer.Settings(); got != want {
		t.Errorf("Settings = %+v, want %+v", got, want)
	}

	for _, interval := range []time.Duration{0, -time.Second} {
		if err := f.gatherer.SetRefreshInterval(interval); !errors.Is(err, ErrInvalidSettings) {
			t.Errorf("SetRefreshInterval(%v) = %v, want ErrInvalidSettings", interval, err)
		}
	}
	if got := f.gatherer.RefreshInterval(); got != 250*time.Millisecond {
		t.Errorf("RefreshInterval after rejected change = %v", got)
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"negative interval", func(options *Options) { options.Settings.RefreshInterval = -time.Second }},
		{"bad schedule", func(options *Options) { options.RescanSchedule = "every so often" }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			options := Options{Settings: Settings{RefreshInterval: time.Second}}
			test.modify(&options)
			if _, err := New(options); err == nil {
				t.Error("New succeeded")
			}
		})
	}
}

func TestRunTicksOnInterval(t *testing.T) {
	f := newFixture(t)
	f.manager.listed = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.gatherer.Run(ctx) }()

	for tick := 0; tick < 3; tick++ {
		f.clock.WaitForTimers(1)
		f.clock.Advance(time.Second)
		testutil.RequireReceive(t, f.manager.listed, 5*time.Second, "snapshot tick %d", tick)
	}

	cancel()
	if err := testutil.RequireReceive(t, done, 5*time.Second, "Run exit"); err != nil {
		t.Errorf("Run = %v, want nil after cancellation", err)
	}
	if got := len(f.gatherer.Processes()); got != 2 {
		t.Errorf("Processes = %d, want 2", got)
	}
}

func TestRunRescansOnSchedule(t *testing.T) {
	f := newFixture(t, func(options *Options) {
		options.RescanSchedule = "@every 1h"
		options.Settings.RefreshInterval = 2 * time.Hour
	})
	f.prober.enumerated = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.gatherer.Run(ctx) }()

	// The tick timer and the rescan timer.
	f.clock.WaitForTimers(2)
	f.clock.Advance(time.Hour)
	testutil.RequireReceive(t, f.prober.enumerated, 5*time.Second, "scheduled rescan")

	if slots := f.gatherer.GPUs(); len(slots) != 1 {
		t.Errorf("GPUs after rescan = %v, want one", slots)
	}
	cancel()
	testutil.RequireReceive(t, done, 5*time.Second, "Run exit")
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	if err := f.gatherer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !f.manager.closed {
		t.Error("service manager not closed")
	}
}
