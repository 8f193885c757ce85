// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	sddbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/godbus/dbus/v5"
	gocache "github.com/patrickmn/go-cache"
)

// systemdConn is the subset of the go-systemd D-Bus connection the
// backend uses.
type systemdConn interface {
	ListUnitsByPatternsContext(ctx context.Context, states []string, patterns []string) ([]sddbus.UnitStatus, error)
	ListUnitFilesByPatternsContext(ctx context.Context, states []string, patterns []string) ([]sddbus.UnitFile, error)
	GetUnitTypePropertiesContext(ctx context.Context, unit string, unitType string) (map[string]interface{}, error)
	EnableUnitFilesContext(ctx context.Context, files []string, runtime bool, force bool) (bool, []sddbus.EnableUnitFileChange, error)
	DisableUnitFilesContext(ctx context.Context, files []string, runtime bool) ([]sddbus.DisableUnitFileChange, error)
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	RestartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	ReloadContext(ctx context.Context) error
	Close()
}

// Systemd manages services through the systemd D-Bus API. Logs come
// from journalctl.
type Systemd struct {
	conn     systemdConn
	logger   *slog.Logger
	run      Runner
	logLines int
	logs     *gocache.Cache
}

// NewSystemd connects to the system bus.
func NewSystemd(ctx context.Context, options Options) (*Systemd, error) {
	options.applyDefaults()
	conn, err := sddbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, translate("connect", "", err)
	}
	return newSystemd(conn, options), nil
}

func newSystemd(conn systemdConn, options Options) *Systemd {
	options.applyDefaults()
	return &Systemd{
		conn:     conn,
		logger:   options.Logger,
		run:      options.Run,
		logLines: options.LogLines,
		logs:     gocache.New(options.LogCacheTTL, 2*options.LogCacheTTL),
	}
}

func (s *Systemd) Backend() string { return "systemd" }

// List returns every loaded service unit in name order. Units whose
// file is missing (load state not-found) are omitted. Per-unit property
// failures leave PID, user, and group empty.
func (s *Systemd) List(ctx context.Context) ([]Service, error) {
	units, err := s.conn.ListUnitsByPatternsContext(ctx, nil, []string{"*.service"})
	if err != nil {
		return nil, translate("list", "", err)
	}

	enablement := make(map[string]string)
	files, err := s.conn.ListUnitFilesByPatternsContext(ctx, nil, []string{"*.service"})
	if err != nil {
		s.logger.Debug("listing unit files failed", "error", err)
	}
	for _, file := range files {
		enablement[filepath.Base(file.Path)] = file.Type
	}

	services := make([]Service, 0, len(units))
	for _, unit := range units {
		if unit.LoadState == "not-found" || !strings.HasSuffix(unit.Name, ".service") {
			continue
		}
		service := Service{
			Name:        unit.Name,
			Description: unit.Description,
			Enabled:     enablement[unit.Name] == "enabled",
			Running:     unit.ActiveState == "active" && unit.SubState == "running",
			Failed:      unit.ActiveState == "failed",
		}

		properties, err := s.conn.GetUnitTypePropertiesContext(ctx, unit.Name, "Service")
		if err != nil {
			if ctx.Err() != nil {
				return nil, translate("list", "", ctx.Err())
			}
			s.logger.Debug("reading service properties failed", "service", unit.Name, "error", err)
		} else {
			if pid, ok := properties["MainPID"].(uint32); ok {
				service.PID = int(pid)
			}
			service.User, _ = properties["User"].(string)
			service.Group, _ = properties["Group"].(string)
		}
		services = append(services, service)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}

// Logs returns the last lines the journal holds for the unit in the
// current boot. Results are cached briefly per (name, pid).
func (s *Systemd) Logs(ctx context.Context, name string, pid int) (string, error) {
	if err := validateName("logs", name); err != nil {
		return "", err
	}
	key := name + "\x00" + strconv.Itoa(pid)
	if cached, found := s.logs.Get(key); found {
		return cached.(string), nil
	}

	args := []string{
		"--boot", "--no-pager", "--quiet", "--output=cat",
		"--lines=" + strconv.Itoa(s.logLines),
		"_SYSTEMD_UNIT=" + name,
	}
	if pid > 0 {
		args = append(args, "+", "_PID="+strconv.Itoa(pid))
	}
	output, err := s.run(ctx, "journalctl", args...)
	if err != nil {
		return "", translate("logs", name, err)
	}

	logs := strings.TrimRight(string(output), "\n")
	s.logs.SetDefault(key, logs)
	return logs, nil
}

// Enable enables the unit file and reloads the manager configuration.
func (s *Systemd) Enable(ctx context.Context, name string) error {
	if err := validateName("enable", name); err != nil {
		return err
	}
	if _, _, err := s.conn.EnableUnitFilesContext(ctx, []string{name}, false, false); err != nil {
		return translate("enable", name, err)
	}
	if err := s.conn.ReloadContext(ctx); err != nil {
		return translate("enable", name, err)
	}
	return nil
}

// Disable disables the unit file and reloads the manager configuration.
func (s *Systemd) Disable(ctx context.Context, name string) error {
	if err := validateName("disable", name); err != nil {
		return err
	}
	if _, err := s.conn.DisableUnitFilesContext(ctx, []string{name}, false); err != nil {
		return translate("disable", name, err)
	}
	if err := s.conn.ReloadContext(ctx); err != nil {
		return translate("disable", name, err)
	}
	return nil
}

func (s *Systemd) Start(ctx context.Context, name string) error {
	return s.job(ctx, "start", name, s.conn.StartUnitContext, "fail")
}

func (s *Systemd) Stop(ctx context.Context, name string) error {
	return s.job(ctx, "stop", name, s.conn.StopUnitContext, "replace")
}

func (s *Systemd) Restart(ctx context.Context, name string) error {
	return s.job(ctx, "restart", name, s.conn.RestartUnitContext, "fail")
}

type jobFunc func(ctx context.Context, name string, mode string, ch chan<- string) (int, error)

// job queues a unit job and waits for its result.
func (s *Systemd) job(ctx context.Context, op, name string, queue jobFunc, mode string) error {
	if err := validateName(op, name); err != nil {
		return err
	}
	result := make(chan string, 1)
	if _, err := queue(ctx, name, mode, result); err != nil {
		return translate(op, name, err)
	}
	select {
	case outcome := <-result:
		if outcome != "done" {
			return &Error{Kind: KindCommandFailed, Op: op, Name: name, Err: fmt.Errorf("job %s", outcome)}
		}
		return nil
	case <-ctx.Done():
		return translate(op, name, ctx.Err())
	}
}

func (s *Systemd) Close() error {
	s.conn.Close()
	return nil
}

// D-Bus error names that identify a missing unit.
var notFoundErrors = map[string]bool{
	"org.freedesktop.systemd1.NoSuchUnit":     true,
	"org.freedesktop.systemd1.LoadFailed":     true,
	"org.freedesktop.DBus.Error.FileNotFound": true,
}

// D-Bus error names worth retrying.
var transientErrors = map[string]bool{
	"org.freedesktop.DBus.Error.NoReply":        true,
	"org.freedesktop.DBus.Error.Timeout":        true,
	"org.freedesktop.DBus.Error.TimedOut":       true,
	"org.freedesktop.DBus.Error.ServiceUnknown": true,
	"org.freedesktop.DBus.Error.Disconnected":   true,
}

// translate maps a backend error to *Error.
func translate(op, name string, err error) error {
	var serviceErr *Error
	if errors.As(err, &serviceErr) {
		return err
	}

	kind := KindCommandFailed
	var busErr dbus.Error
	var busErrPointer *dbus.Error
	var commandErr *CommandError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		kind = KindTransient
	case errors.As(err, &busErr):
		kind = busErrorKind(busErr.Name)
	case errors.As(err, &busErrPointer):
		kind = busErrorKind(busErrPointer.Name)
	case errors.As(err, &commandErr):
		kind = KindCommandFailed
	case errors.Is(err, ErrInvalidName):
		kind = KindNotFound
	default:
		// Connection setup and transport failures carry no D-Bus
		// error name.
		if op == "connect" {
			kind = KindUnsupported
		} else {
			kind = KindTransient
		}
	}
	return &Error{Kind: kind, Op: op, Name: name, Err: err}
}

func busErrorKind(name string) Kind {
	switch {
	case notFoundErrors[name]:
		return KindNotFound
	case transientErrors[name]:
		return KindTransient
	default:
		return KindCommandFailed
	}
}
