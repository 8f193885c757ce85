// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netstat samples per-interface network throughput.
//
// Counters come from gopsutil (which reads /proc/net/dev); descriptive
// attributes come from /sys/class/net. Interfaces are keyed by name.
package netstat

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	gopsutilnet "github.com/shirou/gopsutil/v3/net"

	"github.com/bureau-foundation/sysmond/lib/clock"
	"github.com/bureau-foundation/sysmond/lib/hwinfo"
	"github.com/bureau-foundation/sysmond/lib/sampling"
)

// Counters are the cumulative totals for one interface.
type Counters struct {
	Name        string
	BytesRecv   uint64
	BytesSent   uint64
	PacketsRecv uint64
	PacketsSent uint64
	ErrorsIn    uint64
	ErrorsOut   uint64
	DropsIn     uint64
	DropsOut    uint64
}

// Kind classifies an interface.
type Kind string

const (
	KindLoopback Kind = "loopback"
	KindEthernet Kind = "ethernet"
	KindWireless Kind = "wireless"
	KindBridge   Kind = "bridge"
	KindVirtual  Kind = "virtual"
)

// Interface is the public record for one network interface.
type Interface struct {
	Name       string `json:"name"`
	Kind       Kind   `json:"kind"`
	Address    string `json:"address,omitempty"`
	OperState  string `json:"oper_state,omitempty"`
	SpeedMbits int    `json:"speed_mbits,omitempty"`

	RecvBytesPerSecond float64 `json:"recv_bytes_per_second"`
	SentBytesPerSecond float64 `json:"sent_bytes_per_second"`
	RecvBytesTotal     uint64  `json:"recv_bytes_total"`
	SentBytesTotal     uint64  `json:"sent_bytes_total"`
	ErrorsTotal        uint64  `json:"errors_total"`
	DropsTotal         uint64  `json:"drops_total"`
}

// CounterFunc returns the current counters of every interface.
type CounterFunc func(ctx context.Context) ([]Counters, error)

// GopsutilCounters reads per-interface counters with gopsutil.
func GopsutilCounters(ctx context.Context) ([]Counters, error) {
	stats, err := gopsutilnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, err
	}
	counters := make([]Counters, 0, len(stats))
	for _, stat := range stats {
		counters = append(counters, Counters{
			Name:        stat.Name,
			BytesRecv:   stat.BytesRecv,
			BytesSent:   stat.BytesSent,
			PacketsRecv: stat.PacketsRecv,
			PacketsSent: stat.PacketsSent,
			ErrorsIn:    stat.Errin,
			ErrorsOut:   stat.Errout,
			DropsIn:     stat.Dropin,
			DropsOut:    stat.Dropout,
		})
	}
	return counters, nil
}

// Options configures a Sampler.
type Options struct {
	SysRoot  string
	Clock    clock.Clock
	Logger   *slog.Logger
	Counters CounterFunc

	// IncludeLoopback keeps "lo" in the results.
	IncludeLoopback bool
}

// Sampler samples network interfaces. It is not safe for concurrent use.
type Sampler struct {
	sysRoot         string
	clock           clock.Clock
	logger          *slog.Logger
	counters        CounterFunc
	includeLoopback bool

	throttle *sampling.Throttle
	cache    *sampling.Cache[string, Counters, Interface]
}

// New creates a Sampler with an empty cache.
func New(options Options) *Sampler {
	if options.SysRoot == "" {
		options.SysRoot = "/sys"
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Counters == nil {
		options.Counters = GopsutilCounters
	}
	return &Sampler{
		sysRoot:         options.SysRoot,
		clock:           options.Clock,
		logger:          options.Logger,
		counters:        options.Counters,
		includeLoopback: options.IncludeLoopback,
		throttle:        sampling.NewThrottle(options.Clock, sampling.MinRefreshInterval),
		cache:           sampling.NewCache[string, Counters, Interface](),
	}
}

// Refresh reads the interface counters. It returns false when
// throttled; a counter read failure leaves the cache unchanged.
func (s *Sampler) Refresh(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !s.throttle.Allow() {
		return false, nil
	}

	current, err := s.counters(ctx)
	if err != nil {
		return true, fmt.Errorf("reading interface counters: %w", err)
	}

	now := s.clock.Now()
	generation := s.cache.Begin()
	for _, counters := range current {
		if counters.Name == "lo" && !s.includeLoopback {
			continue
		}
		record := s.describe(counters.Name)
		if previous, found := generation.Take(counters.Name); found {
			elapsed := now.Sub(previous.Sampled)
			record.RecvBytesPerSecond = sampling.Rate(
				sampling.Delta(previous.Raw.BytesRecv, counters.BytesRecv), elapsed, previous.Record.RecvBytesPerSecond)
			record.SentBytesPerSecond = sampling.Rate(
				sampling.Delta(previous.Raw.BytesSent, counters.BytesSent), elapsed, previous.Record.SentBytesPerSecond)
		}
		record.RecvBytesTotal = counters.BytesRecv
		record.SentBytesTotal = counters.BytesSent
		record.ErrorsTotal = counters.ErrorsIn + counters.ErrorsOut
		record.DropsTotal = counters.DropsIn + counters.DropsOut

		generation.Put(counters.Name, sampling.Entry[Counters, Interface]{Raw: counters, Sampled: now, Record: record})
	}
	generation.Commit()
	return true, nil
}

// describe reads the sysfs attributes of an interface. The link state
// and speed change at runtime, so they are read every refresh.
func (s *Sampler) describe(name string) Interface {
	base := filepath.Join(s.sysRoot, "class/net", name)
	record := Interface{
		Name:      name,
		Kind:      classify(base, name),
		Address:   hwinfo.ReadSysfsString(filepath.Join(base, "address")),
		OperState: hwinfo.ReadSysfsString(filepath.Join(base, "operstate")),
	}
	// Down links report -1.
	if speed := hwinfo.ReadSysfsInt(filepath.Join(base, "speed")); speed > 0 {
		record.SpeedMbits = speed
	}
	return record
}

func classify(base, name string) Kind {
	if name == "lo" {
		return KindLoopback
	}
	if exists(filepath.Join(base, "wireless")) || exists(filepath.Join(base, "phy80211")) {
		return KindWireless
	}
	if exists(filepath.Join(base, "bridge")) {
		return KindBridge
	}
	if !exists(filepath.Join(base, "device")) {
		return KindVirtual
	}
	return KindEthernet
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Interfaces returns every interface ordered by name.
func (s *Sampler) Interfaces() []Interface {
	return s.cache.Records(func(a, b Interface) bool { return a.Name < b.Name })
}
