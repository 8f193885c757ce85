// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sysmond/lib/codec"
	"github.com/bureau-foundation/sysmond/lib/cpustat"
	"github.com/bureau-foundation/sysmond/lib/diskstat"
	"github.com/bureau-foundation/sysmond/lib/fanstat"
	"github.com/bureau-foundation/sysmond/lib/ipc"
	"github.com/bureau-foundation/sysmond/lib/netstat"
	"github.com/bureau-foundation/sysmond/lib/procs"
	"github.com/bureau-foundation/sysmond/lib/services"
)

type command struct {
	args    string
	summary string
	run     func(ctx context.Context, s *session, args []string) error

	// interactive commands run until the user quits and get no call
	// timeout.
	interactive bool
}

var commands = map[string]command{
	"status":   {"", "daemon version, uptime and settings", runStatus, false},
	"cpu":      {"", "processor model and utilization", runCPU, false},
	"disks":    {"", "block devices and throughput", runDisks, false},
	"net":      {"", "network interfaces and throughput", runNetwork, false},
	"gpus":     {"", "GPUs with their current readings", runGPUs, false},
	"fans":     {"", "fan speeds", runFans, false},
	"ps":       {"[--sort KEY] [--limit N]", "processes by resource usage", runProcesses, false},
	"apps":     {"", "running applications", runApps, false},
	"services": {"", "system services", runServices, false},
	"logs":     {"NAME [--pid PID]", "recent log lines of a service", runServiceLogs, false},
	"term":     {"PID", "send SIGTERM to a process", pidCommand(ipc.ActionTerminateProcess, "terminated"), false},
	"kill":     {"PID", "send SIGKILL to a process", pidCommand(ipc.ActionKillProcess, "killed"), false},
	"enable":   {"NAME", "enable a service at boot", serviceCommand(ipc.ActionEnableService, "enabled"), false},
	"disable":  {"NAME", "disable a service at boot", serviceCommand(ipc.ActionDisableService, "disabled"), false},
	"start":    {"NAME", "start a service", serviceCommand(ipc.ActionStartService, "started"), false},
	"stop":     {"NAME", "stop a service", serviceCommand(ipc.ActionStopService, "stopped"), false},
	"restart":  {"NAME", "restart a service", serviceCommand(ipc.ActionRestartService, "restarted"), false},
	"settings": {"[--interval D] [--core-count=BOOL]", "show or change runtime settings", runSettings, false},
	"top":      {"[--interval D]", "live process view", runTop, true},
	"dump":     {"FILE [--compression C]", "save every reply to a snapshot bundle", runDump, false},
	"inspect":  {"FILE [SECTION]", "show a snapshot bundle", runInspect, false},
}

// noArgs rejects positional arguments for commands that take none.
func noArgs(name string, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("%s takes no arguments", name)
	}
	return nil
}

func runStatus(ctx context.Context, s *session, args []string) error {
	if err := noArgs("status", args); err != nil {
		return err
	}
	var status ipc.StatusReply
	if printed, err := s.fetch(ctx, ipc.ActionStatus, nil, &status); err != nil || printed {
		return err
	}
	if s.json {
		return writeJSON(s.out, status)
	}
	return renderStatus(s.out, status)
}

func runCPU(ctx context.Context, s *session, args []string) error {
	if err := noArgs("cpu", args); err != nil {
		return err
	}
	var static cpustat.Static
	var dynamic cpustat.Dynamic
	if printed, err := s.fetch(ctx, ipc.ActionCPUStatic, nil, &static); err != nil {
		return err
	} else if printed {
		_, err := s.fetch(ctx, ipc.ActionCPUDynamic, nil, &dynamic)
		return err
	}
	if err := s.client.Call(ctx, ipc.ActionCPUDynamic, nil, &dynamic); err != nil {
		return err
	}
	if s.json {
		return writeJSON(s.out, struct {
			Static  cpustat.Static  `json:"static"`
			Dynamic cpustat.Dynamic `json:"dynamic"`
		}{static, dynamic})
	}
	return renderCPU(s.out, static, dynamic)
}

func runDisks(ctx context.Context, s *session, args []string) error {
	if err := noArgs("disks", args); err != nil {
		return err
	}
	var disks []diskstat.Disk
	if printed, err := s.fetch(ctx, ipc.ActionDisks, nil, &disks); err != nil || printed {
		return err
	}
	if s.json {
		return writeJSON(s.out, disks)
	}
	return renderDisks(s.out, disks)
}

func runNetwork(ctx context.Context, s *session, args []string) error {
	if err := noArgs("net", args); err != nil {
		return err
	}
	var interfaces []netstat.Interface
	if printed, err := s.fetch(ctx, ipc.ActionNetwork, nil, &interfaces); err != nil || printed {
		return err
	}
	if s.json {
		return writeJSON(s.out, interfaces)
	}
	return renderNetwork(s.out, interfaces)
}

func runGPUs(ctx context.Context, s *session, args []string) error {
	if err := noArgs("gpus", args); err != nil {
		return err
	}
	var gpus []ipc.GPUReport
	if printed, err := s.fetch(ctx, ipc.ActionGPUs, nil, &gpus); err != nil || printed {
		return err
	}
	if s.json {
		return writeJSON(s.out, gpus)
	}
	return renderGPUs(s.out, gpus)
}

func runFans(ctx context.Context, s *session, args []string) error {
	if err := noArgs("fans", args); err != nil {
		return err
	}
	var fans []fanstat.Fan
	if printed, err := s.fetch(ctx, ipc.ActionFans, nil, &fans); err != nil || printed {
		return err
	}
	if s.json {
		return writeJSON(s.out, fans)
	}
	return renderFans(s.out, fans)
}

func runProcesses(ctx context.Context, s *session, args []string) error {
	flagSet := pflag.NewFlagSet("ps", pflag.ContinueOnError)
	sortKey := flagSet.String("sort", "cpu", "sort by cpu, memory, disk, gpu, pid or name")
	limit := flagSet.Int("limit", 20, "rows to show (0 for all)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if err := noArgs("ps", flagSet.Args()); err != nil {
		return err
	}
	less, err := processOrder(*sortKey)
	if err != nil {
		return err
	}

	var processes []procs.Process
	if printed, err := s.fetch(ctx, ipc.ActionProcesses, nil, &processes); err != nil || printed {
		return err
	}
	processes = topProcesses(processes, less, *limit)
	if s.json {
		return writeJSON(s.out, processes)
	}
	return renderProcesses(s.out, processes)
}

func runApps(ctx context.Context, s *session, args []string) error {
	if err := noArgs("apps", args); err != nil {
		return err
	}
	var apps []procs.App
	if printed, err := s.fetch(ctx, ipc.ActionApps, nil, &apps); err != nil || printed {
		return err
	}
	if s.json {
		return writeJSON(s.out, apps)
	}
	return renderApps(s.out, apps)
}

func runServices(ctx context.Context, s *session, args []string) error {
	if err := noArgs("services", args); err != nil {
		return err
	}
	var list []services.Service
	if printed, err := s.fetch(ctx, ipc.ActionServices, nil, &list); err != nil || printed {
		return err
	}
	if s.json {
		return writeJSON(s.out, list)
	}
	return renderServices(s.out, list)
}

func runServiceLogs(ctx context.Context, s *session, args []string) error {
	flagSet := pflag.NewFlagSet("logs", pflag.ContinueOnError)
	pid := flagSet.Int("pid", 0, "restrict to one process of the service")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: sysmonctl logs NAME [--pid PID]")
	}

	var reply ipc.ServiceLogsReply
	request := ipc.ServiceLogsRequest{Name: flagSet.Arg(0), PID: *pid}
	if printed, err := s.fetch(ctx, ipc.ActionServiceLogs, request, &reply); err != nil || printed {
		return err
	}
	if s.json {
		return writeJSON(s.out, reply)
	}
	fmt.Fprint(s.out, reply.Logs)
	if reply.Logs != "" && reply.Logs[len(reply.Logs)-1] != '\n' {
		fmt.Fprintln(s.out)
	}
	return nil
}

func pidCommand(action, done string) func(context.Context, *session, []string) error {
	return func(ctx context.Context, s *session, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("%s needs exactly one PID", action)
		}
		pid, err := strconv.Atoi(args[0])
		if err != nil || pid <= 0 {
			return fmt.Errorf("invalid PID %q", args[0])
		}
		if err := s.client.Call(ctx, action, ipc.PIDRequest{PID: pid}, nil); err != nil {
			return err
		}
		if !s.json && !s.raw {
			fmt.Fprintf(s.out, "%s %d\n", done, pid)
		}
		return nil
	}
}

func serviceCommand(action, done string) func(context.Context, *session, []string) error {
	return func(ctx context.Context, s *session, args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("%s needs exactly one service name", action)
		}
		if err := s.client.Call(ctx, action, ipc.ServiceRequest{Name: args[0]}, nil); err != nil {
			return err
		}
		if !s.json && !s.raw {
			fmt.Fprintf(s.out, "%s %s\n", done, args[0])
		}
		return nil
	}
}

func runSettings(ctx context.Context, s *session, args []string) error {
	flagSet := pflag.NewFlagSet("settings", pflag.ContinueOnError)
	interval := flagSet.Duration("interval", 0, "new refresh interval")
	coreCount := flagSet.Bool("core-count", true, "report process CPU up to 100% per core")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if err := noArgs("settings", flagSet.Args()); err != nil {
		return err
	}

	action := ipc.ActionGetSettings
	var request any
	if flagSet.Changed("interval") || flagSet.Changed("core-count") {
		var change ipc.SetSettingsRequest
		if flagSet.Changed("interval") {
			duration := codec.Duration(*interval)
			change.RefreshInterval = &duration
		}
		if flagSet.Changed("core-count") {
			change.CoreCountAffectsPercentages = coreCount
		}
		action, request = ipc.ActionSetSettings, change
	}

	var settings ipc.Settings
	if printed, err := s.fetch(ctx, action, request, &settings); err != nil || printed {
		return err
	}
	if s.json {
		return writeJSON(s.out, settings)
	}
	return renderSettings(s.out, settings)
}
