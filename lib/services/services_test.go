// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	sddbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/godbus/dbus/v5"
)

type fakeConn struct {
	units      []sddbus.UnitStatus
	files      []sddbus.UnitFile
	properties map[string]map[string]interface{}

	jobResult string
	jobErr    error
	jobs      []string
	enabled   []string
	disabled  []string
	reloads   int
	closed    bool
}

func (f *fakeConn) ListUnitsByPatternsContext(ctx context.Context, states, patterns []string) ([]sddbus.UnitStatus, error) {
	return f.units, nil
}

func (f *fakeConn) ListUnitFilesByPatternsContext(ctx context.Context, states, patterns []string) ([]sddbus.UnitFile, error) {
	return f.files, nil
}

func (f *fakeConn) GetUnitTypePropertiesContext(ctx context.Context, unit, unitType string) (map[string]interface{}, error) {
	properties, ok := f.properties[unit]
	if !ok {
		return nil, dbus.Error{Name: "org.freedesktop.DBus.Error.AccessDenied"}
	}
	return properties, nil
}

func (f *fakeConn) EnableUnitFilesContext(ctx context.Context, files []string, runtime, force bool) (bool, []sddbus.EnableUnitFileChange, error) {
	f.enabled = append(f.enabled, files...)
	return false, nil, nil
}

func (f *fakeConn) DisableUnitFilesContext(ctx context.Context, files []string, runtime bool) ([]sddbus.DisableUnitFileChange, error) {
	f.disabled = append(f.disabled, files...)
	return nil, nil
}

func (f *fakeConn) queue(kind, name, mode string, ch chan<- string) (int, error) {
	f.jobs = append(f.jobs, kind+" "+name+" "+mode)
	if f.jobErr != nil {
		return 0, f.jobErr
	}
	ch <- f.jobResult
	return len(f.jobs), nil
}

func (f *fakeConn) StartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
	return f.queue("start", name, mode, ch)
}

func (f *fakeConn) StopUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
	return f.queue("stop", name, mode, ch)
}

func (f *fakeConn) RestartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
	return f.queue("restart", name, mode, ch)
}

func (f *fakeConn) ReloadContext(ctx context.Context) error {
	f.reloads++
	return nil
}

func (f *fakeConn) Close() { f.closed = true }

// fakeRunner records commands and answers them from a table keyed by
// the joined command line.
type fakeRunner struct {
	mu       sync.Mutex
	outputs  map[string]string
	failures map[string]error
	calls    []string
}

func (f *fakeRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	line := strings.Join(append([]string{name}, args...), " ")
	f.calls = append(f.calls, line)
	if err, ok := f.failures[line]; ok {
		return nil, err
	}
	return []byte(f.outputs[line]), nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func requireKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	var serviceErr *Error
	if !errors.As(err, &serviceErr) {
		t.Fatalf("error = %v (%T), want *services.Error", err, err)
	}
	if serviceErr.Kind != kind {
		t.Fatalf("Kind = %v, want %v (error: %v)", serviceErr.Kind, kind, err)
	}
}

func TestSystemdList(t *testing.T) {
	conn := &fakeConn{
		units: []sddbus.UnitStatus{
			{Name: "sshd.service", Description: "OpenSSH Daemon", LoadState: "loaded", ActiveState: "active", SubState: "running"},
			{Name: "cups.service", Description: "CUPS Scheduler", LoadState: "loaded", ActiveState: "failed", SubState: "failed"},
			{Name: "ghost.service", LoadState: "not-found", ActiveState: "inactive", SubState: "dead"},
			{Name: "cups.socket", LoadState: "loaded", ActiveState: "active", SubState: "listening"},
		},
		files: []sddbus.UnitFile{
			{Path: "/usr/lib/systemd/system/sshd.service", Type: "enabled"},
			{Path: "/usr/lib/systemd/system/cups.service", Type: "disabled"},
		},
		properties: map[string]map[string]interface{}{
			"sshd.service": {"MainPID": uint32(812), "User": "", "Group": ""},
		},
	}
	manager := newSystemd(conn, Options{Logger: quietLogger()})

	services, err := manager.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []Service{
		{Name: "cups.service", Description: "CUPS Scheduler", Failed: true},
		{Name: "sshd.service", Description: "OpenSSH Daemon", Enabled: true, Running: true, PID: 812},
	}
	if !reflect.DeepEqual(services, want) {
		t.Errorf("List =\n  %+v\nwant\n  %+v", services, want)
	}
}

func TestSystemdJobs(t *testing.T) {
	tests := []struct {
		name      string
		jobResult string
		jobErr    error
		wantKind  Kind
	}{
		{name: "done", jobResult: "done"},
		{name: "job failed", jobResult: "failed", wantKind: KindCommandFailed},
		{name: "no such unit", jobErr: dbus.Error{Name: "org.freedesktop.systemd1.NoSuchUnit"}, wantKind: KindNotFound},
		{name: "bus timeout", jobErr: dbus.Error{Name: "org.freedesktop.DBus.Error.NoReply"}, wantKind: KindTransient},
		{name: "access denied", jobErr: dbus.Error{Name: "org.freedesktop.DBus.Error.AccessDenied"}, wantKind: KindCommandFailed},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			conn := &fakeConn{jobResult: test.jobResult, jobErr: test.jobErr}
			manager := newSystemd(conn, Options{Logger: quietLogger()})

			err := manager.Restart(context.Background(), "sshd.service")
			if test.wantKind == 0 {
				if err != nil {
					t.Fatalf("Restart: %v", err)
				}
			} else {
				requireKind(t, err, test.wantKind)
			}
			if len(conn.jobs) != 1 || conn.jobs[0] != "restart sshd.service fail" {
				t.Errorf("jobs = %v", conn.jobs)
			}
		})
	}
}

func TestSystemdStartStopModes(t *testing.T) {
	conn := &fakeConn{jobResult: "done"}
	manager := newSystemd(conn, Options{Logger: quietLogger()})

	if err := manager.Start(context.Background(), "nginx.service"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := manager.Stop(context.Background(), "nginx.service"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	want := []string{"start nginx.service fail", "stop nginx.service replace"}
	if !reflect.DeepEqual(conn.jobs, want) {
		t.Errorf("jobs = %v, want %v", conn.jobs, want)
	}
}

func TestSystemdEnableDisableReload(t *testing.T) {
	conn := &fakeConn{}
	manager := newSystemd(conn, Options{Logger: quietLogger()})

	if err := manager.Enable(context.Background(), "sshd.service"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if err := manager.Disable(context.Background(), "cups.service"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if !reflect.DeepEqual(conn.enabled, []string{"sshd.service"}) || !reflect.DeepEqual(conn.disabled, []string{"cups.service"}) {
		t.Errorf("enabled = %v, disabled = %v", conn.enabled, conn.disabled)
	}
	if conn.reloads != 2 {
		t.Errorf("reloads = %d, want 2", conn.reloads)
	}

	manager.Close()
	if !conn.closed {
		t.Error("Close did not close the bus connection")
	}
}

func TestSystemdLogsCached(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"journalctl --boot --no-pager --quiet --output=cat --lines=5 _SYSTEMD_UNIT=sshd.service + _PID=812": "Server listening on 0.0.0.0 port 22.\nAccepted publickey for ops\n",
		"journalctl --boot --no-pager --quiet --output=cat --lines=5 _SYSTEMD_UNIT=sshd.service":            "Server listening on 0.0.0.0 port 22.\n",
	}}
	manager := newSystemd(&fakeConn{}, Options{Logger: quietLogger(), Run: runner.run})

	logs, err := manager.Logs(context.Background(), "sshd.service", 812)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if logs != "Server listening on 0.0.0.0 port 22.\nAccepted publickey for ops" {
		t.Errorf("Logs = %q", logs)
	}
	if _, err := manager.Logs(context.Background(), "sshd.service", 812); err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(runner.calls) != 1 {
		t.Errorf("journalctl ran %d times, want 1 (second call cached)", len(runner.calls))
	}

	if logs, _ := manager.Logs(context.Background(), "sshd.service", 0); logs != "Server listening on 0.0.0.0 port 22." {
		t.Errorf("Logs without pid = %q", logs)
	}
	if len(runner.calls) != 2 {
		t.Errorf("journalctl ran %d times, want 2", len(runner.calls))
	}
}

func TestSystemdLogsCommandFailure(t *testing.T) {
	runner := &fakeRunner{failures: map[string]error{
		"journalctl --boot --no-pager --quiet --output=cat --lines=5 _SYSTEMD_UNIT=sshd.service": &CommandError{Command: "journalctl", ExitCode: 1, Stderr: "No journal files were found."},
	}}
	manager := newSystemd(&fakeConn{}, Options{Logger: quietLogger(), Run: runner.run})

	_, err := manager.Logs(context.Background(), "sshd.service", 0)
	requireKind(t, err, KindCommandFailed)
}

func TestInvalidNames(t *testing.T) {
	manager := newSystemd(&fakeConn{jobResult: "done"}, Options{Logger: quietLogger()})
	for _, name := range []string{"", "-rf", "../../etc/passwd", "a\x00b"} {
		err := manager.Start(context.Background(), name)
		requireKind(t, err, KindNotFound)
		if !errors.Is(err, ErrInvalidName) {
			t.Errorf("Start(%q) error = %v, want ErrInvalidName", name, err)
		}
	}
}

func TestParseRCStatus(t *testing.T) {
	output := `Runlevel: default
 sshd                                                              [  started  ]
 crond                                                             [  started 2 day(s) 03:10:44 (0) ]
Dynamic Runlevel: hotplugged
Dynamic Runlevel: needed/wanted
 sysfs                                                             [  started  ]
Dynamic Runlevel: manual
 nginx                                                             [  crashed  ]
`
	want := map[string]openRCState{
		"sshd":  {state: "started", runlevel: "default"},
		"crond": {state: "started", runlevel: "default"},
		"sysfs": {state: "started"},
		"nginx": {state: "crashed"},
	}
	if got := parseRCStatus(output); !reflect.DeepEqual(got, want) {
		t.Errorf("parseRCStatus =\n  %+v\nwant\n  %+v", got, want)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestOpenRCList(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "etc/init.d/sshd"), "#!/sbin/openrc-run\ndescription=\"OpenBSD Secure Shell server\"\n")
	writeFile(t, filepath.Join(root, "run/openrc/daemons/sshd/001"), "exec=/usr/sbin/sshd\nargv_0=/usr/sbin/sshd\npidfile=/run/sshd.pid\n")
	writeFile(t, filepath.Join(root, "run/sshd.pid"), "4242\n")

	runner := &fakeRunner{outputs: map[string]string{
		"rc-service --list":         "sshd\nnginx\nlocal\n",
		"rc-status --all --nocolor": "Runlevel: default\n sshd   [  started  ]\n local  [  stopped  ]\nDynamic Runlevel: manual\n nginx  [  crashed  ]\n",
	}}
	manager := NewOpenRC(Options{Logger: quietLogger(), Run: runner.run, OpenRCRoot: root})

	services, err := manager.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []Service{
		{Name: "local", Enabled: true, User: "root", Group: "root"},
		{Name: "nginx", Failed: true, User: "root", Group: "root"},
		{Name: "sshd", Description: "OpenBSD Secure Shell server", Enabled: true, Running: true, PID: 4242, User: "root", Group: "root"},
	}
	if !reflect.DeepEqual(services, want) {
		t.Errorf("List =\n  %+v\nwant\n  %+v", services, want)
	}

	if logs, err := manager.Logs(context.Background(), "sshd", 4242); logs != "" || err != nil {
		t.Errorf("Logs = %q, %v; want empty", logs, err)
	}
}

func TestOpenRCControl(t *testing.T) {
	runner := &fakeRunner{failures: map[string]error{
		"pkexec rc-service nope stop": &CommandError{Command: "rc-service", ExitCode: 1, Stderr: " * rc-service: service `nope' does not exist"},
		"pkexec rc-update add sshd":   &CommandError{Command: "rc-update", ExitCode: 1, Stderr: "permission denied"},
	}}
	manager := NewOpenRC(Options{Logger: quietLogger(), Run: runner.run, Elevate: []string{"pkexec"}})

	if err := manager.Start(context.Background(), "sshd"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := manager.Disable(context.Background(), "sshd"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	requireKind(t, manager.Stop(context.Background(), "nope"), KindNotFound)
	requireKind(t, manager.Enable(context.Background(), "sshd"), KindCommandFailed)

	want := []string{
		"pkexec rc-service sshd start",
		"pkexec rc-update del sshd",
		"pkexec rc-service nope stop",
		"pkexec rc-update add sshd",
	}
	if !reflect.DeepEqual(runner.calls, want) {
		t.Errorf("calls =\n  %v\nwant\n  %v", runner.calls, want)
	}
}

func TestDetect(t *testing.T) {
	_, err := Detect(context.Background(), Options{Backend: "none", Logger: quietLogger()})
	requireKind(t, err, KindUnsupported)

	_, err = Detect(context.Background(), Options{Backend: "launchd", Logger: quietLogger()})
	requireKind(t, err, KindUnsupported)

	manager, err := Detect(context.Background(), Options{Backend: "openrc", Logger: quietLogger()})
	if err != nil || manager.Backend() != "openrc" {
		t.Errorf("Detect(openrc) = %v, %v", manager, err)
	}

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "sbin/rc-service"), "")
	writeFile(t, filepath.Join(root, "sbin/openrc"), "")
	manager, err = Detect(context.Background(), Options{Logger: quietLogger(), OpenRCRoot: root})
	if err != nil || manager.Backend() != "openrc" {
		t.Errorf("Detect(auto) with OpenRC installed = %v, %v", manager, err)
	}
}

func TestErrorIs(t *testing.T) {
	err := translate("start", "sshd.service", dbus.Error{Name: "org.freedesktop.systemd1.NoSuchUnit"})
	if !errors.Is(err, &Error{Kind: KindNotFound}) {
		t.Errorf("errors.Is(%v, NotFound) = false", err)
	}
	if errors.Is(err, &Error{Kind: KindTransient}) {
		t.Errorf("errors.Is(%v, Transient) = true", err)
	}
	if !IsKind(err, KindNotFound) {
		t.Error("IsKind(NotFound) = false")
	}
	if got := err.Error(); !strings.Contains(got, "start sshd.service: not found") {
		t.Errorf("Error() = %q", got)
	}
}
