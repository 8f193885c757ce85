// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fanstat reads fan sensors from /sys/class/hwmon.
//
// Every fanN_input of every hwmon device is one fan. The matching
// pwmN, fanN_max, tempN_input and labels of the same index are read
// alongside it. Fans carry no counters, so each refresh replaces the
// whole list.
package fanstat

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/bureau-foundation/sysmond/lib/clock"
	"github.com/bureau-foundation/sysmond/lib/hwinfo"
	"github.com/bureau-foundation/sysmond/lib/sampling"
)

// pwmMax is the full-duty value of an hwmon pwm attribute.
const pwmMax = 255

// Fan is one fan sensor.
type Fan struct {
	// Label is fanN_label in title case, or "".
	Label string `json:"label,omitempty"`

	// Sensor is the hwmon device name (nct6798, amdgpu, thinkpad).
	Sensor string `json:"sensor"`

	// RPM is -1 when fanN_input could not be parsed.
	RPM int64 `json:"rpm"`

	// MaxRPM is 0 when the driver does not expose fanN_max.
	MaxRPM int64 `json:"max_rpm,omitempty"`

	// PWMPercent is the duty cycle, or -1 when pwmN is absent.
	PWMPercent float64 `json:"pwm_percent"`

	TemperatureLabel   string   `json:"temperature_label,omitempty"`
	TemperatureCelsius *float64 `json:"temperature_celsius,omitempty"`

	FanIndex   int `json:"fan_index"`
	HwmonIndex int `json:"hwmon_index"`
}

// Sampler lists fans. It is not safe for concurrent use.
type Sampler struct {
	sysRoot  string
	logger   *slog.Logger
	throttle *sampling.Throttle
	title    cases.Caser
	fans     []Fan
}

// New creates a Sampler. sysRoot defaults to "/sys".
func New(sysRoot string, c clock.Clock, logger *slog.Logger) *Sampler {
	if sysRoot == "" {
		sysRoot = "/sys"
	}
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		sysRoot:  sysRoot,
		logger:   logger,
		throttle: sampling.NewThrottle(c, sampling.MinRefreshInterval),
		title:    cases.Title(language.English),
	}
}

// Refresh re-reads every fan sensor. It returns false when throttled.
func (s *Sampler) Refresh(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !s.throttle.Allow() {
		return false, nil
	}

	var fans []Fan
	for _, device := range hwinfo.ListHwmon(s.sysRoot) {
		for _, index := range hwinfo.SensorIndices(device.Path, "fan", "input") {
			fans = append(fans, s.readFan(device, index))
		}
	}
	s.fans = fans
	s.logger.Debug("fans refreshed", "fans", len(fans))
	return true, nil
}

func (s *Sampler) readFan(device hwinfo.Hwmon, index int) Fan {
	file := func(format string) string {
		return filepath.Join(device.Path, fmt.Sprintf(format, index))
	}

	fan := Fan{
		Label:            s.title.String(hwinfo.ReadSysfsString(file("fan%d_label"))),
		Sensor:           device.Name,
		RPM:              -1,
		MaxRPM:           hwinfo.ReadSysfsInt64(file("fan%d_max")),
		PWMPercent:       -1,
		TemperatureLabel: s.title.String(hwinfo.ReadSysfsString(file("temp%d_label"))),
		FanIndex:         index,
		HwmonIndex:       device.Index,
	}
	if rpm, err := strconv.ParseInt(hwinfo.ReadSysfsString(file("fan%d_input")), 10, 64); err == nil {
		fan.RPM = rpm
	}
	if pwm, err := strconv.Atoi(hwinfo.ReadSysfsString(file("pwm%d"))); err == nil {
		fan.PWMPercent = sampling.Clamp(float64(pwm)*100/pwmMax, 0, 100)
	}
	if millidegrees, err := strconv.ParseInt(hwinfo.ReadSysfsString(file("temp%d_input")), 10, 64); err == nil {
		celsius := float64(millidegrees) / 1000
		fan.TemperatureCelsius = &celsius
	}
	return fan
}

// Fans returns the fans found by the last refresh, ordered by hwmon
// and fan index.
func (s *Sampler) Fans() []Fan {
	return append([]Fan(nil), s.fans...)
}
