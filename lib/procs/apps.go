// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package procs

import (
	"path/filepath"
	"sort"
	"strings"
)

// App is a group of processes sharing one systemd app or snap scope.
type App struct {
	// ID is the scope unit name ("app-gnome-org.gnome.Terminal-4242.scope").
	ID string `json:"id"`

	// Name is the application identifier extracted from the scope
	// ("org.gnome.Terminal").
	Name string `json:"name"`

	// Command is the executable of the scope's root process.
	Command string `json:"command,omitempty"`

	PIDs  []int `json:"pids"`
	Usage Usage `json:"usage"`
}

// GroupApps groups processes by AppScope and sums their usage.
// Processes outside an app scope are not part of any app. The result
// is ordered by Name, then ID.
func GroupApps(processes []Process) []App {
	scopeOf := make(map[int]string, len(processes))
	for _, process := range processes {
		scopeOf[process.PID] = process.AppScope
	}

	byScope := make(map[string]*App)
	for _, process := range processes {
		if process.AppScope == "" {
			continue
		}
		app, ok := byScope[process.AppScope]
		if !ok {
			id := filepath.Base(process.AppScope)
			app = &App{ID: id, Name: ScopeAppName(id)}
			byScope[process.AppScope] = app
		}
		app.PIDs = append(app.PIDs, process.PID)
		addUsage(&app.Usage, process.Usage)

		// The scope's root process is the one whose parent lives
		// outside the scope.
		if app.Command == "" && scopeOf[process.ParentPID] != process.AppScope {
			app.Command = process.Exe
		}
	}

	apps := make([]App, 0, len(byScope))
	for _, app := range byScope {
		sort.Ints(app.PIDs)
		apps = append(apps, *app)
	}
	sort.Slice(apps, func(i, j int) bool {
		if apps[i].Name != apps[j].Name {
			return apps[i].Name < apps[j].Name
		}
		return apps[i].ID < apps[j].ID
	})
	return apps
}

func addUsage(total *Usage, usage Usage) {
	total.CPUPercent += usage.CPUPercent
	total.MemoryBytes += usage.MemoryBytes
	total.DiskReadBytesPerSecond += usage.DiskReadBytesPerSecond
	total.DiskWriteBytesPerSecond += usage.DiskWriteBytesPerSecond
	total.DiskBytesPerSecond += usage.DiskBytesPerSecond
	total.GPUPercent += usage.GPUPercent
	total.GPUMemoryBytes += usage.GPUMemoryBytes
	total.GPUEncoderPercent += usage.GPUEncoderPercent
	total.GPUDecoderPercent += usage.GPUDecoderPercent
}

// ScopeAppName extracts the application identifier from a scope unit
// name. systemd names app scopes "app-<launcher>-<app id>-<suffix>.scope"
// and snapd names them "snap.<snap>.<app>-<uuid>.scope". Escaped dashes
// ("\x2d") are decoded. Unrecognized names are returned without the
// ".scope" suffix.
func ScopeAppName(scope string) string {
	name := strings.TrimSuffix(scope, ".scope")

	if rest, ok := strings.CutPrefix(name, "snap."); ok {
		snap, _, _ := strings.Cut(rest, ".")
		return snap
	}

	rest, ok := strings.CutPrefix(name, "app-")
	if !ok {
		return name
	}
	parts := strings.Split(rest, "-")
	switch {
	case len(parts) >= 3:
		parts = parts[1 : len(parts)-1]
	case len(parts) == 2:
		parts = parts[:1]
	}
	return strings.ReplaceAll(strings.Join(parts, "-"), `\x2d`, "-")
}
