// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netstat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/sysmond/lib/clock"
)

// scriptedCounters returns whatever the test last stored.
type scriptedCounters struct {
	counters []Counters
	err      error
}

func (s *scriptedCounters) read(context.Context) ([]Counters, error) {
	return s.counters, s.err
}

func writeSyntheticFile(t *testing.T, root, path, content string) {
	t.Helper()
	fullPath := filepath.Join(root, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func newSampler(t *testing.T, source *scriptedCounters) (*Sampler, *clock.FakeClock, string) {
	t.Helper()
	sysRoot := t.TempDir()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sampler := New(Options{
		SysRoot:  sysRoot,
		Clock:    fake,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Counters: source.read,
	})
	return sampler, fake, sysRoot
}

func TestRefreshRates(t *testing.T) {
	source := &scriptedCounters{counters: []Counters{
		{Name: "lo", BytesRecv: 5, BytesSent: 5},
		{Name: "eth0", BytesRecv: 1000, BytesSent: 500, ErrorsIn: 1, DropsOut: 2},
	}}
	sampler, fake, sysRoot := newSampler(t, source)
	writeSyntheticFile(t, sysRoot, "class/net/eth0/address", "52:54:00:12:34:56\n")
	writeSyntheticFile(t, sysRoot, "class/net/eth0/operstate", "up\n")
	writeSyntheticFile(t, sysRoot, "class/net/eth0/speed", "1000\n")
	if err := os.MkdirAll(filepath.Join(sysRoot, "class/net/eth0/device"), 0755); err != nil {
		t.Fatal(err)
	}

	if _, err := sampler.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	interfaces := sampler.Interfaces()
	if len(interfaces) != 1 {
		t.Fatalf("Interfaces = %+v, want eth0 only", interfaces)
	}
	if interfaces[0].RecvBytesPerSecond != 0 {
		t.Errorf("cold start RecvBytesPerSecond = %v, want 0", interfaces[0].RecvBytesPerSecond)
	}

	source.counters = []Counters{{Name: "eth0", BytesRecv: 5000, BytesSent: 100, ErrorsIn: 1, DropsOut: 2}}
	fake.Advance(2 * time.Second)
	if _, err := sampler.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	eth0 := sampler.Interfaces()[0]
	want := Interface{
		Name: "eth0", Kind: KindEthernet, Address: "52:54:00:12:34:56", OperState: "up", SpeedMbits: 1000,
		RecvBytesPerSecond: 2000, SentBytesPerSecond: 0,
		RecvBytesTotal: 5000, SentBytesTotal: 100, ErrorsTotal: 1, DropsTotal: 2,
	}
	if eth0 != want {
		t.Errorf("eth0 =\n  %+v\nwant\n  %+v", eth0, want)
	}
}

func TestRefreshEvictsAndKeepsOnError(t *testing.T) {
	source := &scriptedCounters{counters: []Counters{{Name: "wlan0"}, {Name: "veth1"}}}
	sampler, fake, _ := newSampler(t, source)
	sampler.Refresh(context.Background())

	source.counters = []Counters{{Name: "wlan0"}}
	fake.Advance(time.Second)
	sampler.Refresh(context.Background())
	if got := len(sampler.Interfaces()); got != 1 {
		t.Fatalf("len(Interfaces) = %d, want 1 after veth1 vanished", got)
	}

	source.err = errors.New("boom")
	fake.Advance(time.Second)
	if _, err := sampler.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh succeeded with failing counters")
	}
	if got := len(sampler.Interfaces()); got != 1 {
		t.Errorf("len(Interfaces) after failure = %d, want 1", got)
	}
}

func TestClassify(t *testing.T) {
	root := t.TempDir()
	for _, path := range []string{"wlan0/wireless", "wlan0/device", "br0/bridge", "eth0/device", "tun0"} {
		if err := os.MkdirAll(filepath.Join(root, path), 0755); err != nil {
			t.Fatal(err)
		}
	}
	tests := map[string]Kind{
		"lo": KindLoopback, "wlan0": KindWireless, "br0": KindBridge, "eth0": KindEthernet, "tun0": KindVirtual,
	}
	for name, want := range tests {
		if got := classify(filepath.Join(root, name), name); got != want {
			t.Errorf("classify(%s) = %s, want %s", name, got, want)
		}
	}
}
