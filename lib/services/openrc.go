// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// OpenRC manages services with rc-service, rc-status, and rc-update.
type OpenRC struct {
	run     Runner
	elevate []string
	root    string
	logger  *slog.Logger
}

// NewOpenRC creates an OpenRC backend. It does not check that OpenRC
// is installed; Detect does.
func NewOpenRC(options Options) *OpenRC {
	options.applyDefaults()
	return &OpenRC{
		run:     options.Run,
		elevate: options.Elevate,
		root:    options.OpenRCRoot,
		logger:  options.Logger,
	}
}

func (o *OpenRC) Backend() string { return "openrc" }

// openRCState is a service's state and runlevel from rc-status.
type openRCState struct {
	state    string
	runlevel string
}

// List returns every init script known to rc-service, in name order.
func (o *OpenRC) List(ctx context.Context) ([]Service, error) {
	output, err := o.run(ctx, "rc-service", "--list")
	if err != nil {
		return nil, translateOpenRC("list", "", err)
	}
	status, err := o.run(ctx, "rc-status", "--all", "--nocolor")
	if err != nil {
		return nil, translateOpenRC("list", "", err)
	}
	states := parseRCStatus(string(status))

	var services []Service
	for _, name := range strings.Fields(string(output)) {
		state := states[name]
		service := Service{
			Name:        name,
			Description: o.description(name),
			Enabled:     state.runlevel != "",
			Running:     state.state == "started",
			Failed:      state.state == "crashed" || state.state == "failed",
			User:        "root",
			Group:       "root",
		}
		if service.Running {
			service.PID = o.mainPID(name)
		}
		services = append(services, service)
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}

// parseRCStatus parses `rc-status --all --nocolor`:
//
//	Runlevel: default
//	 sshd                         [  started  ]
//	Dynamic Runlevel: manual
//	 nginx                        [  crashed  ]
//
// Services under a "Runlevel:" header are enabled in that runlevel;
// dynamic runlevels do not enable anything.
func parseRCStatus(output string) map[string]openRCState {
	states := make(map[string]openRCState)
	runlevel := ""
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "Runlevel:"):
			runlevel = strings.TrimSpace(strings.TrimPrefix(line, "Runlevel:"))
			continue
		case strings.HasPrefix(line, "Dynamic Runlevel:"):
			runlevel = ""
			continue
		}

		open := strings.IndexByte(line, '[')
		closing := strings.LastIndexByte(line, ']')
		if open < 0 || closing < open {
			continue
		}
		name := strings.TrimSpace(line[:open])
		fields := strings.Fields(line[open+1 : closing])
		if name == "" || len(fields) == 0 {
			continue
		}

		existing := states[name]
		existing.state = fields[0]
		if existing.runlevel == "" {
			existing.runlevel = runlevel
		}
		states[name] = existing
	}
	return states
}

// description reads the description variable of an init script.
func (o *OpenRC) description(name string) string {
	file, err := os.Open(filepath.Join(o.root, "etc/init.d", name))
	if err != nil {
		return ""
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		value, found := strings.CutPrefix(line, "description=")
		if !found {
			continue
		}
		return strings.Trim(value, `"'`)
	}
	return ""
}

// mainPID reads the pidfile recorded for a daemon started through
// start-stop-daemon or supervise-daemon. Returns 0 when unknown.
func (o *OpenRC) mainPID(name string) int {
	records, _ := filepath.Glob(filepath.Join(o.root, "run/openrc/daemons", name, "*"))
	for _, record := range records {
		data, err := os.ReadFile(record)
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			pidfile, found := strings.CutPrefix(line, "pidfile=")
			if !found || pidfile == "" {
				continue
			}
			contents, err := os.ReadFile(filepath.Join(o.root, pidfile))
			if err != nil {
				continue
			}
			if pid, err := strconv.Atoi(strings.TrimSpace(string(contents))); err == nil && pid > 0 {
				return pid
			}
		}
	}
	return 0
}

// Logs returns "": OpenRC has no central log store.
func (o *OpenRC) Logs(ctx context.Context, name string, pid int) (string, error) {
	if err := validateName("logs", name); err != nil {
		return "", err
	}
	return "", nil
}

func (o *OpenRC) Enable(ctx context.Context, name string) error {
	return o.control(ctx, "enable", name, "rc-update", "add", name)
}

func (o *OpenRC) Disable(ctx context.Context, name string) error {
	return o.control(ctx, "disable", name, "rc-update", "del", name)
}

func (o *OpenRC) Start(ctx context.Context, name string) error {
	return o.control(ctx, "start", name, "rc-service", name, "start")
}

func (o *OpenRC) Stop(ctx context.Context, name string) error {
	return o.control(ctx, "stop", name, "rc-service", name, "stop")
}

func (o *OpenRC) Restart(ctx context.Context, name string) error {
	return o.control(ctx, "restart", name, "rc-service", name, "restart")
}

func (o *OpenRC) control(ctx context.Context, op, name, command string, args ...string) error {
	if err := validateName(op, name); err != nil {
		return err
	}
	program, arguments := elevated(o.elevate, command, args...)
	if _, err := o.run(ctx, program, arguments...); err != nil {
		o.logger.Debug("openrc command failed", "command", command, "service", name, "error", err)
		return translateOpenRC(op, name, err)
	}
	return nil
}

func (o *OpenRC) Close() error { return nil }

// translateOpenRC maps a command failure to *Error. rc-service and
// rc-update report unknown services on stderr with exit status 1.
func translateOpenRC(op, name string, err error) error {
	var commandErr *CommandError
	switch {
	case errors.As(err, &commandErr):
		if strings.Contains(commandErr.Stderr, "does not exist") {
			return &Error{Kind: KindNotFound, Op: op, Name: name, Err: err}
		}
		return &Error{Kind: KindCommandFailed, Op: op, Name: name, Err: err}
	case errors.Is(err, os.ErrNotExist), errors.Is(err, exec.ErrNotFound):
		return &Error{Kind: KindUnsupported, Op: op, Name: name, Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &Error{Kind: KindTransient, Op: op, Name: name, Err: err}
	default:
		return &Error{Kind: KindCommandFailed, Op: op, Name: name, Err: err}
	}
}
