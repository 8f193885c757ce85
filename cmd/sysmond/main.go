// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// sysmond samples CPU, disks, processes, network, GPUs, fans and
// services on a fixed interval and serves the results on a Unix
// socket. Configuration comes from the file named by --config or
// SYSMOND_CONFIG; flags override individual values.
//
// The binary doubles as its own probe runner: when started by the
// isolated executor it runs one hardware probe and exits before any
// flag parsing.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/sysmond/lib/clock"
	"github.com/bureau-foundation/sysmond/lib/config"
	"github.com/bureau-foundation/sysmond/lib/gatherer"
	"github.com/bureau-foundation/sysmond/lib/ipc"
	"github.com/bureau-foundation/sysmond/lib/isolate"
	"github.com/bureau-foundation/sysmond/lib/process"
	"github.com/bureau-foundation/sysmond/lib/services"
	"github.com/bureau-foundation/sysmond/lib/version"
)

func main() {
	isolate.Main()

	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("sysmond", pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "configuration file (default: $SYSMOND_CONFIG, else built-in defaults)")
	socketPath := flagSet.String("socket", "", "IPC socket path")
	logLevel := flagSet.String("log-level", "", "log level: debug, info, warn, error")
	interval := flagSet.Duration("interval", 0, "refresh interval")
	procRoot := flagSet.String("proc-root", "", "procfs mount")
	sysRoot := flagSet.String("sys-root", "", "sysfs mount")
	serviceBackend := flagSet.String("services", "", "service manager: auto, systemd, openrc, none")
	showVersion := flagSet.Bool("version", false, "print version information and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		version.Print("sysmond")
		return nil
	}

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	overrides := map[string]func(){
		"socket":    func() { cfg.SocketPath = *socketPath },
		"log-level": func() { cfg.LogLevel = *logLevel },
		"interval":  func() { cfg.RefreshInterval = *interval },
		"proc-root": func() { cfg.Sources.ProcRoot = *procRoot },
		"sys-root":  func() { cfg.Sources.SysRoot = *sysRoot },
		"services":  func() { cfg.Services.Backend = *serviceBackend },
	}
	flagSet.Visit(func(flag *pflag.Flag) {
		if apply, ok := overrides[flag.Name]; ok {
			apply()
		}
	})
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := process.SignalContext(context.Background())
	defer stop()

	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	realClock := clock.Real()

	executor, err := isolate.NewExecutor(isolate.Options{
		Timeout: cfg.Isolate.Timeout,
		Logger:  logger.With("subsystem", "isolate"),
	})
	if err != nil {
		return err
	}

	manager, err := services.Detect(ctx, services.Options{
		Backend:  cfg.Services.Backend,
		Logger:   logger.With("subsystem", "services"),
		Elevate:  cfg.Services.Elevate,
		LogLines: cfg.Services.LogLines,
	})
	if err != nil {
		// Sampling continues without service information.
		level := slog.LevelWarn
		if cfg.Services.Backend == "none" {
			level = slog.LevelInfo
		}
		logger.Log(ctx, level, "service manager unavailable", "backend", cfg.Services.Backend, "error", err)
		manager = nil
	}

	g, err := gatherer.New(gatherer.Options{
		ProcRoot: cfg.Sources.ProcRoot,
		SysRoot:  cfg.Sources.SysRoot,
		DevRoot:  cfg.Sources.DevRoot,
		Clock:    realClock,
		Logger:   logger,
		Settings: gatherer.Settings{
			RefreshInterval:             cfg.RefreshInterval,
			CoreCountAffectsPercentages: cfg.CoreCountAffectsPercentages,
		},
		CommandWorkers: int64(cfg.CommandWorkers),
		RescanSchedule: cfg.RescanSchedule,
		Executor:       executor,
		Services:       manager,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := g.Close(); err != nil {
			logger.Warn("closing gatherer", "error", err)
		}
	}()

	started := realClock.Now()
	if err := g.Prime(ctx); err != nil {
		// Partial data is still served; failed subsystems retry next tick.
		logger.Warn("initial snapshot incomplete", "error", err)
	}
	logger.Info("sysmond started",
		"version", version.Info(),
		"socket", cfg.SocketPath,
		"interval", cfg.RefreshInterval,
		"services", g.ServiceBackend(),
		"gpus", len(g.GPUs()),
		"prime_duration", clock.Since(realClock, started),
	)

	server := ipc.NewServer(cfg.SocketPath, logger.With("subsystem", "ipc"))
	ipc.Register(server, g, realClock)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return server.Serve(groupCtx) })
	group.Go(func() error { return g.Run(groupCtx) })

	<-groupCtx.Done()
	logger.Info("shutting down")

	shutdownStarted := realClock.Now()
	err = group.Wait()
	logger.Info("stopped", "drain_duration", clock.Since(realClock, shutdownStarted))
	return err
}
