// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bureau-foundation/sysmond/lib/cpustat"
)

func staticSource(sample topSample, err error) topSource {
	return func(context.Context) (topSample, error) { return sample, err }
}

func readyTopModel(t *testing.T, source topSource) topModel {
	t.Helper()
	model := newTopModel(source, time.Second)
	updated, _ := model.Update(tea.WindowSizeMsg{Width: 160, Height: 20})
	model = updated.(topModel)

	message := model.Init()()
	updated, command := model.Update(message)
	if command == nil {
		t.Fatal("sample did not schedule the next poll")
	}
	return updated.(topModel)
}

func TestTopModelShowsSample(t *testing.T) {
	sample := topSample{
		static:    cpustat.Static{Model: "Intel Core i7-1260P"},
		dynamic:   cpustat.Dynamic{UtilizationPercent: 25, Processes: 4, Threads: 90},
		processes: sampleProcesses(),
	}
	model := readyTopModel(t, staticSource(sample, nil))

	view := model.View()
	requireContains(t, view, "Intel Core i7-1260P", "25.0%", "4 processes", "sorted by cpu", "firefox")
	if strings.Index(view, "bash") > strings.Index(view, "Xorg") {
		t.Error("cpu sort did not place bash above Xorg")
	}

	updated, _ := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'n'}})
	view = updated.(topModel).View()
	requireContains(t, view, "sorted by name")
	if strings.Index(view, "Xorg") < strings.Index(view, "kworker") {
		t.Error("name sort did not place Xorg last")
	}
}

func TestTopModelKeepsLastSampleOnError(t *testing.T) {
	model := readyTopModel(t, staticSource(topSample{processes: sampleProcesses()}, nil))

	updated, command := model.Update(sampleMsg{err: errors.New("connecting: no such file")})
	if command == nil {
		t.Fatal("failed poll did not schedule a retry")
	}
	view := updated.(topModel).View()
	requireContains(t, view, "no such file", "firefox")
}

func TestTopModelConnecting(t *testing.T) {
	model := newTopModel(staticSource(topSample{}, nil), time.Second)
	if view := model.View(); view != "Connecting..." {
		t.Errorf("View before the first sample = %q", view)
	}
}

func TestTopModelTickPolls(t *testing.T) {
	polls := 0
	source := func(context.Context) (topSample, error) {
		polls++
		return topSample{}, nil
	}
	model := readyTopModel(t, source)
	_, command := model.Update(tickMsg{})
	if command == nil {
		t.Fatal("tick did not start a poll")
	}
	if _, ok := command().(sampleMsg); !ok {
		t.Error("poll command did not produce a sampleMsg")
	}
	if polls != 2 {
		t.Errorf("polls = %d, want 2", polls)
	}
}

func TestTopModelQuit(t *testing.T) {
	model := readyTopModel(t, staticSource(topSample{}, nil))
	_, command := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if command == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := command().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}
