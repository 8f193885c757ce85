// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sysmond/lib/cpustat"
	"github.com/bureau-foundation/sysmond/lib/ipc"
	"github.com/bureau-foundation/sysmond/lib/procs"
)

// topSample is one poll of the daemon.
type topSample struct {
	static    cpustat.Static
	dynamic   cpustat.Dynamic
	processes []procs.Process
}

type topSource func(ctx context.Context) (topSample, error)

type topKeyMap struct {
	Up         key.Binding
	Down       key.Binding
	PageUp     key.Binding
	PageDown   key.Binding
	Home       key.Binding
	SortCPU    key.Binding
	SortMemory key.Binding
	SortDisk   key.Binding
	SortGPU    key.Binding
	SortPID    key.Binding
	SortName   key.Binding
	Quit       key.Binding
}

var topKeys = topKeyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "down"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("ctrl+u", "pgup"),
		key.WithHelp("C-u", "page up"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("ctrl+d", "pgdown"),
		key.WithHelp("C-d", "page down"),
	),
	Home: key.NewBinding(
		key.WithKeys("g", "home"),
		key.WithHelp("g", "top"),
	),
	SortCPU:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "cpu")),
	SortMemory: key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "memory")),
	SortDisk:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "disk")),
	SortGPU:    key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "gpu")),
	SortPID:    key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pid")),
	SortName:   key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "name")),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

type sampleMsg struct {
	sample topSample
	err    error
}

type tickMsg struct{}

// headerLines is the number of rows above the process viewport.
const headerLines = 3

type topModel struct {
	source   topSource
	interval time.Duration

	sortKey string
	less    processLess

	sample  topSample
	err     error
	polled  bool
	ready   bool
	width   int
	content viewport.Model
}

func newTopModel(source topSource, interval time.Duration) topModel {
	less, _ := processOrder("cpu")
	return topModel{source: source, interval: interval, sortKey: "cpu", less: less}
}

func (model topModel) Init() tea.Cmd {
	return model.poll()
}

func (model topModel) poll() tea.Cmd {
	source := model.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		sample, err := source(ctx)
		return sampleMsg{sample: sample, err: err}
	}
}

func (model topModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(message, topKeys.Quit):
			return model, tea.Quit
		case key.Matches(message, topKeys.Up):
			model.content.SetYOffset(model.content.YOffset - 1)
		case key.Matches(message, topKeys.Down):
			model.content.SetYOffset(model.content.YOffset + 1)
		case key.Matches(message, topKeys.PageUp):
			model.content.HalfViewUp()
		case key.Matches(message, topKeys.PageDown):
			model.content.HalfViewDown()
		case key.Matches(message, topKeys.Home):
			model.content.GotoTop()
		case key.Matches(message, topKeys.SortCPU):
			model.setSort("cpu")
		case key.Matches(message, topKeys.SortMemory):
			model.setSort("memory")
		case key.Matches(message, topKeys.SortDisk):
			model.setSort("disk")
		case key.Matches(message, topKeys.SortGPU):
			model.setSort("gpu")
		case key.Matches(message, topKeys.SortPID):
			model.setSort("pid")
		case key.Matches(message, topKeys.SortName):
			model.setSort("name")
		}
		return model, nil

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.content.Width = message.Width
		model.content.Height = max(message.Height-headerLines-1, 1)
		model.ready = true
		model.refreshContent()
		return model, nil

	case sampleMsg:
		model.polled = true
		model.err = message.err
		if message.err == nil {
			model.sample = message.sample
		}
		model.refreshContent()
		return model, tea.Tick(model.interval, func(time.Time) tea.Msg { return tickMsg{} })

	case tickMsg:
		return model, model.poll()
	}
	return model, nil
}

func (model *topModel) setSort(sortKey string) {
	less, err := processOrder(sortKey)
	if err != nil {
		return
	}
	model.sortKey, model.less = sortKey, less
	model.refreshContent()
	model.content.GotoTop()
}

// refreshContent re-renders the process table into the viewport,
// keeping the scroll position where the new content allows.
func (model *topModel) refreshContent() {
	var buffer bytes.Buffer
	processes := topProcesses(model.sample.processes, model.less, 0)
	renderProcesses(&buffer, processes)

	lines := strings.Split(strings.TrimRight(buffer.String(), "\n"), "\n")
	if model.width > 0 {
		for i, line := range lines {
			lines[i] = truncate(line, model.width)
		}
	}
	offset := model.content.YOffset
	model.content.SetContent(strings.Join(lines, "\n"))
	model.content.SetYOffset(offset)
}

func (model topModel) View() string {
	if !model.ready || !model.polled {
		return "Connecting..."
	}

	dynamic := model.sample.dynamic
	summary := fmt.Sprintf("%s   cpu %s   kernel %s   %d processes   %d threads   up %s",
		titleStyle.Render(model.sample.static.Model),
		formatPercent(dynamic.UtilizationPercent),
		formatPercent(dynamic.KernelUtilizationPercent),
		dynamic.Processes, dynamic.Threads,
		formatUptime(dynamic.UptimeSeconds))

	status := mutedStyle.Render(fmt.Sprintf("sorted by %s, refreshing every %s", model.sortKey, model.interval))
	if model.err != nil {
		status = failedStyle.Render(model.err.Error())
	}

	help := mutedStyle.Render(fmt.Sprintf("%s  %s  sort: %s %s %s %s %s %s  %s",
		bindingHelp(topKeys.Up), bindingHelp(topKeys.Down),
		bindingHelp(topKeys.SortCPU), bindingHelp(topKeys.SortMemory), bindingHelp(topKeys.SortDisk),
		bindingHelp(topKeys.SortGPU), bindingHelp(topKeys.SortPID), bindingHelp(topKeys.SortName),
		bindingHelp(topKeys.Quit)))

	return lipgloss.JoinVertical(lipgloss.Left,
		truncate(summary, model.width),
		truncate(status, model.width),
		"",
		model.content.View(),
		truncate(help, model.width),
	)
}

func bindingHelp(binding key.Binding) string {
	help := binding.Help()
	return help.Key + " " + help.Desc
}

// daemonSource polls the cpu and processes actions.
func daemonSource(client *ipc.Client) topSource {
	return func(ctx context.Context) (topSample, error) {
		var sample topSample
		if err := client.Call(ctx, ipc.ActionCPUStatic, nil, &sample.static); err != nil {
			return sample, err
		}
		if err := client.Call(ctx, ipc.ActionCPUDynamic, nil, &sample.dynamic); err != nil {
			return sample, err
		}
		if err := client.Call(ctx, ipc.ActionProcesses, nil, &sample.processes); err != nil {
			return sample, err
		}
		return sample, nil
	}
}

func runTop(ctx context.Context, s *session, args []string) error {
	flagSet := pflag.NewFlagSet("top", pflag.ContinueOnError)
	interval := flagSet.Duration("interval", 0, "poll interval (default: the daemon's refresh interval)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if err := noArgs("top", flagSet.Args()); err != nil {
		return err
	}
	if s.json || s.raw {
		return fmt.Errorf("top is interactive and has no --json or --raw form")
	}

	if *interval <= 0 {
		var settings ipc.Settings
		if err := s.client.Call(ctx, ipc.ActionGetSettings, nil, &settings); err != nil {
			return err
		}
		*interval = max(time.Duration(settings.RefreshInterval), time.Second)
	}

	program := tea.NewProgram(newTopModel(daemonSource(s.client), *interval), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := program.Run()
	return err
}
