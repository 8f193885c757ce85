// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/sysmond/lib/clock"
	"github.com/bureau-foundation/sysmond/lib/codec"
	"github.com/bureau-foundation/sysmond/lib/cpustat"
	"github.com/bureau-foundation/sysmond/lib/diskstat"
	"github.com/bureau-foundation/sysmond/lib/fanstat"
	"github.com/bureau-foundation/sysmond/lib/gatherer"
	"github.com/bureau-foundation/sysmond/lib/gpustat"
	"github.com/bureau-foundation/sysmond/lib/hwinfo"
	"github.com/bureau-foundation/sysmond/lib/netstat"
	"github.com/bureau-foundation/sysmond/lib/procs"
	"github.com/bureau-foundation/sysmond/lib/services"
	"github.com/bureau-foundation/sysmond/lib/version"
)

// Backend is the state and command surface served over the socket.
// *gatherer.Gatherer implements it.
type Backend interface {
	CPUStatic() cpustat.Static
	CPUDynamic() cpustat.Dynamic
	Disks() []diskstat.Disk
	Interfaces() []netstat.Interface
	GPUs() []string
	GPUStatic(slot string) (gpustat.GPU, bool)
	GPUDynamic(slot string) (hwinfo.GPUStatus, bool)
	Fans() []fanstat.Fan
	Processes() []procs.Process
	Apps() []procs.App
	Services() ([]services.Service, error)
	ServiceLogs(ctx context.Context, name string, pid int) (string, error)
	ServiceBackend() string
	System() hwinfo.SystemInfo

	TerminateProcess(ctx context.Context, pid int) error
	KillProcess(ctx context.Context, pid int) error
	EnableService(ctx context.Context, name string) error
	DisableService(ctx context.Context, name string) error
	StartService(ctx context.Context, name string) error
	StopService(ctx context.Context, name string) error
	RestartService(ctx context.Context, name string) error

	Settings() gatherer.Settings
	SetSettings(settings gatherer.Settings) error
}

var _ Backend = (*gatherer.Gatherer)(nil)

// errInvalidRequest marks request decoding failures.
var errInvalidRequest = errors.New("invalid request")

// Register binds every action to backend and installs the error
// classifier. status reports uptime from the time of registration.
func Register(server *Server, backend Backend, c clock.Clock) {
	h := &handlers{backend: backend, clock: c, logger: server.logger, started: c.Now()}

	server.SetCodeFunc(ErrorCode)

	server.Handle(ActionStatus, h.status)
	server.Handle(ActionCPUStatic, reader(func() any { return backend.CPUStatic() }))
	server.Handle(ActionCPUDynamic, reader(func() any { return backend.CPUDynamic() }))
	server.Handle(ActionDisks, reader(func() any { return backend.Disks() }))
	server.Handle(ActionNetwork, reader(func() any { return backend.Interfaces() }))
	server.Handle(ActionGPUs, h.gpus)
	server.Handle(ActionFans, reader(func() any { return backend.Fans() }))
	server.Handle(ActionProcesses, reader(func() any { return backend.Processes() }))
	server.Handle(ActionApps, reader(func() any { return backend.Apps() }))
	server.Handle(ActionServices, h.services)
	server.Handle(ActionServiceLogs, h.serviceLogs)

	server.Handle(ActionTerminateProcess, pidCommand(backend.TerminateProcess))
	server.Handle(ActionKillProcess, pidCommand(backend.KillProcess))
	server.Handle(ActionEnableService, serviceCommand(backend.EnableService))
	server.Handle(ActionDisableService, serviceCommand(backend.DisableService))
	server.Handle(ActionStartService, serviceCommand(backend.StartService))
	server.Handle(ActionStopService, serviceCommand(backend.StopService))
	server.Handle(ActionRestartService, serviceCommand(backend.RestartService))

	server.Handle(ActionGetSettings, h.getSettings)
	server.Handle(ActionSetSettings, h.setSettings)
}

// ErrorCode classifies errors returned by Backend methods.
func ErrorCode(err error) string {
	var serviceErr *services.Error
	switch {
	case errors.Is(err, errInvalidRequest), errors.Is(err, gatherer.ErrInvalidSettings):
		return CodeInvalidRequest
	case errors.Is(err, procs.ErrNoSuchProcess):
		return CodeNotFound
	case errors.As(err, &serviceErr):
		switch serviceErr.Kind {
		case services.KindNotFound:
			return CodeNotFound
		case services.KindUnsupported:
			return CodeUnsupported
		case services.KindTransient:
			return CodeTransient
		default:
			return CodeCommandFailed
		}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return CodeTransient
	}
	return CodeInternal
}

type handlers struct {
	backend Backend
	clock   clock.Clock
	logger  *slog.Logger
	started time.Time
}

func reader(read func() any) ActionFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		return read(), nil
	}
}

func decode[T any](raw []byte) (T, error) {
	var request T
	if err := codec.Unmarshal(raw, &request); err != nil {
		return request, fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return request, nil
}

func pidCommand(run func(ctx context.Context, pid int) error) ActionFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		request, err := decode[PIDRequest](raw)
		if err != nil {
			return nil, err
		}
		if request.PID <= 0 {
			return nil, fmt.Errorf("%w: pid must be positive", errInvalidRequest)
		}
		return nil, run(ctx, request.PID)
	}
}

func serviceCommand(run func(ctx context.Context, name string) error) ActionFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		request, err := decode[ServiceRequest](raw)
		if err != nil {
			return nil, err
		}
		if request.Name == "" {
			return nil, fmt.Errorf("%w: missing required field: name", errInvalidRequest)
		}
		return nil, run(ctx, request.Name)
	}
}

func (h *handlers) status(ctx context.Context, raw []byte) (any, error) {
	settings := h.backend.Settings()
	uptime := clock.Since(h.clock, h.started)
	return StatusReply{
		Version:        version.Info(),
		ServiceBackend: h.backend.ServiceBackend(),
		GPUs:           h.backend.GPUs(),
		Settings:       settingsToWire(settings.RefreshInterval, settings.CoreCountAffectsPercentages),
		UptimeSeconds:  uint64(uptime / time.Second),
		System:         h.backend.System(),
	}, nil
}

func (h *handlers) gpus(ctx context.Context, raw []byte) (any, error) {
	slots := h.backend.GPUs()
	reports := make([]GPUReport, 0, len(slots))
	for _, slot := range slots {
		static, ok := h.backend.GPUStatic(slot)
		if !ok {
			continue
		}
		dynamic, _ := h.backend.GPUDynamic(slot)
		reports = append(reports, GPUReport{Static: static, Dynamic: dynamic})
	}
	return reports, nil
}

// services serves the list kept from the last successful refresh even
// when the latest refresh failed. It fails only when nothing is cached.
func (h *handlers) services(ctx context.Context, raw []byte) (any, error) {
	list, err := h.backend.Services()
	if err != nil {
		if list == nil {
			return nil, err
		}
		h.logger.Debug("serving cached service list", "services", len(list), "error", err)
	}
	return list, nil
}

func (h *handlers) serviceLogs(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[ServiceLogsRequest](raw)
	if err != nil {
		return nil, err
	}
	if request.Name == "" {
		return nil, fmt.Errorf("%w: missing required field: name", errInvalidRequest)
	}
	logs, err := h.backend.ServiceLogs(ctx, request.Name, request.PID)
	if err != nil {
		return nil, err
	}
	return ServiceLogsReply{Logs: logs}, nil
}

func (h *handlers) getSettings(ctx context.Context, raw []byte) (any, error) {
	settings := h.backend.Settings()
	return settingsToWire(settings.RefreshInterval, settings.CoreCountAffectsPercentages), nil
}

func (h *handlers) setSettings(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[SetSettingsRequest](raw)
	if err != nil {
		return nil, err
	}
	settings := h.backend.Settings()
	if request.RefreshInterval != nil {
		settings.RefreshInterval = time.Duration(*request.RefreshInterval)
	}
	if request.CoreCountAffectsPercentages != nil {
		settings.CoreCountAffectsPercentages = *request.CoreCountAffectsPercentages
	}
	if err := h.backend.SetSettings(settings); err != nil {
		return nil, err
	}
	return settingsToWire(settings.RefreshInterval, settings.CoreCountAffectsPercentages), nil
}
