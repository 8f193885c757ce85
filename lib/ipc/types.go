// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"time"

	"github.com/bureau-foundation/sysmond/lib/codec"
	"github.com/bureau-foundation/sysmond/lib/gpustat"
	"github.com/bureau-foundation/sysmond/lib/hwinfo"
)

// Action names.
const (
	ActionStatus           = "status"
	ActionCPUStatic        = "cpu-static"
	ActionCPUDynamic       = "cpu-dynamic"
	ActionDisks            = "disks"
	ActionNetwork          = "network"
	ActionGPUs             = "gpus"
	ActionFans             = "fans"
	ActionProcesses        = "processes"
	ActionApps             = "apps"
	ActionServices         = "services"
	ActionServiceLogs      = "service-logs"
	ActionTerminateProcess = "terminate-process"
	ActionKillProcess      = "kill-process"
	ActionEnableService    = "enable-service"
	ActionDisableService   = "disable-service"
	ActionStartService     = "start-service"
	ActionStopService      = "stop-service"
	ActionRestartService   = "restart-service"
	ActionGetSettings      = "get-settings"
	ActionSetSettings      = "set-settings"
)

// Error codes carried in Response.Code.
const (
	CodeInvalidRequest = "invalid_request"
	CodeUnknownAction  = "unknown_action"
	CodeNotFound       = "not_found"
	CodeUnsupported    = "unsupported"
	CodeTransient      = "transient"
	CodeCommandFailed  = "command_failed"
	CodeInternal       = "internal"
)

// PIDRequest carries the target of terminate-process and kill-process.
type PIDRequest struct {
	PID int `cbor:"pid" json:"pid"`
}

// ServiceRequest carries the target of a service control action.
type ServiceRequest struct {
	Name string `cbor:"name" json:"name"`
}

// ServiceLogsRequest selects the log lines of a service. PID 0 selects
// every process of the unit.
type ServiceLogsRequest struct {
	Name string `cbor:"name" json:"name"`
	PID  int    `cbor:"pid,omitempty" json:"pid,omitempty"`
}

// ServiceLogsReply is the reply to service-logs.
type ServiceLogsReply struct {
	Logs string `cbor:"logs" json:"logs"`
}

// Settings is the wire form of the runtime settings.
type Settings struct {
	RefreshInterval             codec.Duration `cbor:"refresh_interval_ms" json:"refresh_interval_ms"`
	CoreCountAffectsPercentages bool           `cbor:"core_count_affects_percentages" json:"core_count_affects_percentages"`
}

// SetSettingsRequest changes the runtime settings. Nil fields are left
// unchanged.
type SetSettingsRequest struct {
	RefreshInterval             *codec.Duration `cbor:"refresh_interval_ms,omitempty" json:"refresh_interval_ms,omitempty"`
	CoreCountAffectsPercentages *bool           `cbor:"core_count_affects_percentages,omitempty" json:"core_count_affects_percentages,omitempty"`
}

// StatusReply is the reply to status.
type StatusReply struct {
	Version        string   `cbor:"version" json:"version"`
	ServiceBackend string   `cbor:"service_backend" json:"service_backend"`
	GPUs           []string `cbor:"gpus" json:"gpus"`
	Settings       Settings `cbor:"settings" json:"settings"`
	UptimeSeconds  uint64   `cbor:"uptime_seconds" json:"uptime_seconds"`

	// System identifies the host the daemon runs on.
	System hwinfo.SystemInfo `cbor:"system" json:"system"`
}

// GPUReport is one entry of the gpus reply.
type GPUReport struct {
	Static  gpustat.GPU      `cbor:"static" json:"static"`
	Dynamic hwinfo.GPUStatus `cbor:"dynamic" json:"dynamic"`
}

func settingsToWire(refresh time.Duration, coreCount bool) Settings {
	return Settings{RefreshInterval: codec.Duration(refresh), CoreCountAffectsPercentages: coreCount}
}
