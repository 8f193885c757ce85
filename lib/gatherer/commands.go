// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package gatherer

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/sysmond/lib/services"
)

// signalFunc sends a signal to a process. Replaced in tests.
type signalFunc func(pid int) error

// command runs fn on the command pool, waiting for a free slot.
func (g *Gatherer) command(ctx context.Context, name string, attrs []any, fn func() error) error {
	if err := g.commands.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.commands.Release(1)

	err := fn()
	if err != nil {
		g.logger.Warn("command failed", append([]any{"command", name, "error", err}, attrs...)...)
		return err
	}
	g.logger.Info("command completed", append([]any{"command", name}, attrs...)...)
	return nil
}

func (g *Gatherer) signalProcess(ctx context.Context, name string, pid int, send signalFunc) error {
	return g.command(ctx, name, []any{"pid", pid}, func() error {
		if err := send(pid); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

// TerminateProcess sends SIGTERM. A process that no longer exists
// yields an error wrapping procs.ErrNoSuchProcess.
func (g *Gatherer) TerminateProcess(ctx context.Context, pid int) error {
	return g.signalProcess(ctx, "terminate", pid, g.terminate)
}

// KillProcess sends SIGKILL.
func (g *Gatherer) KillProcess(ctx context.Context, pid int) error {
	return g.signalProcess(ctx, "kill", pid, g.kill)
}

func (g *Gatherer) serviceCommand(ctx context.Context, op, name string, fn func(services.Manager) error) error {
	if g.serviceManager == nil {
		return &services.Error{Kind: services.KindUnsupported, Op: op, Name: name}
	}
	return g.command(ctx, op, []any{"service", name}, func() error {
		return fn(g.serviceManager)
	})
}

func (g *Gatherer) EnableService(ctx context.Context, name string) error {
	return g.serviceCommand(ctx, "enable", name, func(manager services.Manager) error {
		return manager.Enable(ctx, name)
	})
}

func (g *Gatherer) DisableService(ctx context.Context, name string) error {
	return g.serviceCommand(ctx, "disable", name, func(manager services.Manager) error {
		return manager.Disable(ctx, name)
	})
}

func (g *Gatherer) StartService(ctx context.Context, name string) error {
	return g.serviceCommand(ctx, "start", name, func(manager services.Manager) error {
		return manager.Start(ctx, name)
	})
}

func (g *Gatherer) StopService(ctx context.Context, name string) error {
	return g.serviceCommand(ctx, "stop", name, func(manager services.Manager) error {
		return manager.Stop(ctx, name)
	})
}

func (g *Gatherer) RestartService(ctx context.Context, name string) error {
	return g.serviceCommand(ctx, "restart", name, func(manager services.Manager) error {
		return manager.Restart(ctx, name)
	})
}
