// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file read by Load.
const EnvironmentVariable = "SYSMOND_CONFIG"

// Config is the daemon configuration.
type Config struct {
	// RefreshInterval is the time between snapshots. Runtime
	// changes through set-settings are not written back.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// CoreCountAffectsPercentages reports per-process CPU up to 100
	// per logical CPU rather than 100 for the whole machine.
	CoreCountAffectsPercentages bool `yaml:"core_count_affects_percentages"`

	// SocketPath is the IPC socket.
	SocketPath string `yaml:"socket_path"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	// CommandWorkers bounds concurrently running commands.
	CommandWorkers int `yaml:"command_workers"`

	// RescanSchedule is a cron expression for re-enumerating hardware.
	// Empty disables rescans.
	RescanSchedule string `yaml:"rescan_schedule"`

	Isolate  IsolateConfig  `yaml:"isolate"`
	Sources  SourcesConfig  `yaml:"sources"`
	Services ServicesConfig `yaml:"services"`
}

// IsolateConfig configures the crash-isolated probe executor.
type IsolateConfig struct {
	// Timeout bounds one probe child process.
	Timeout time.Duration `yaml:"timeout"`
}

// SourcesConfig locates the kernel interfaces. Tests and containers
// point these at other trees.
type SourcesConfig struct {
	ProcRoot string `yaml:"proc_root"`
	SysRoot  string `yaml:"sys_root"`
	DevRoot  string `yaml:"dev_root"`
}

// ServicesConfig selects the service manager backend.
type ServicesConfig struct {
	// Backend is auto, systemd, openrc or none.
	Backend string `yaml:"backend"`

	// Elevate prefixes OpenRC control commands, e.g. [pkexec].
	Elevate []string `yaml:"elevate"`

	// LogLines is the number of journal lines returned per service.
	LogLines int `yaml:"log_lines"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		RefreshInterval:             time.Second,
		CoreCountAffectsPercentages: true,
		SocketPath:                  "/run/sysmond/sysmond.sock",
		LogLevel:                    "info",
		CommandWorkers:              4,
		RescanSchedule:              "@every 10m",
		Isolate:                     IsolateConfig{Timeout: 5 * time.Second},
		Sources: SourcesConfig{
			ProcRoot: "/proc",
			SysRoot:  "/sys",
			DevRoot:  "/dev",
		},
		Services: ServicesConfig{
			Backend:  "auto",
			LogLines: 5,
		},
	}
}

// Load reads the file named by SYSMOND_CONFIG, or returns Default when
// the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile overlays the file at path on Default and expands path
// variables. It does not validate.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		// JSON is YAML once comments and trailing commas are gone.
		data = jsonc.ToJSON(data)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) expandVariables() {
	c.SocketPath = expandVars(c.SocketPath)
	c.Sources.ProcRoot = expandVars(c.Sources.ProcRoot)
	c.Sources.SysRoot = expandVars(c.Sources.SysRoot)
	c.Sources.DevRoot = expandVars(c.Sources.DevRoot)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

var (
	logLevels       = []string{"debug", "info", "warn", "error"}
	serviceBackends = []string{"auto", "systemd", "openrc", "none"}
)

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error

	if c.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("refresh_interval must be positive, got %v", c.RefreshInterval))
	}
	if c.Isolate.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("isolate.timeout must be positive, got %v", c.Isolate.Timeout))
	}
	if c.CommandWorkers <= 0 {
		errs = append(errs, fmt.Errorf("command_workers must be positive, got %d", c.CommandWorkers))
	}
	if c.SocketPath == "" {
		errs = append(errs, errors.New("socket_path is required"))
	}
	if c.Sources.ProcRoot == "" || c.Sources.SysRoot == "" {
		errs = append(errs, errors.New("sources.proc_root and sources.sys_root are required"))
	}
	if !contains(logLevels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level must be one of: %v", logLevels))
	}
	if !contains(serviceBackends, c.Services.Backend) {
		errs = append(errs, fmt.Errorf("services.backend must be one of: %v", serviceBackends))
	}
	if c.RescanSchedule != "" {
		if _, err := cron.ParseStandard(c.RescanSchedule); err != nil {
			errs = append(errs, fmt.Errorf("rescan_schedule: %w", err))
		}
	}
	if c.Services.LogLines < 0 {
		errs = append(errs, fmt.Errorf("services.log_lines must not be negative, got %d", c.Services.LogLines))
	}

	return errors.Join(errs...)
}

// SlogLevel returns LogLevel as a slog.Level. Unknown levels map to
// info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func contains(slice []string, s string) bool {
	for _, item := range slice {
		if item == s {
			return true
		}
	}
	return false
}
