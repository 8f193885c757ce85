// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/bureau-foundation/sysmond/lib/cpustat"
	"github.com/bureau-foundation/sysmond/lib/diskstat"
	"github.com/bureau-foundation/sysmond/lib/fanstat"
	"github.com/bureau-foundation/sysmond/lib/ipc"
	"github.com/bureau-foundation/sysmond/lib/netstat"
	"github.com/bureau-foundation/sysmond/lib/procs"
	"github.com/bureau-foundation/sysmond/lib/services"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	titleStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	failedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	mutedStyle  = lipgloss.NewStyle().Faint(true)
)

// table renders aligned columns with a bold header row. Widths are
// measured on the visible text so styled cells line up.
type table struct {
	out  io.Writer
	rows [][]string
}

const columnGap = 3

func newTable(out io.Writer, headers ...string) *table {
	styled := make([]string, len(headers))
	for i, header := range headers {
		styled[i] = headerStyle.Render(header)
	}
	return &table{out: out, rows: [][]string{styled}}
}

func (t *table) row(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) flush() error {
	var widths []int
	for _, row := range t.rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], ansi.StringWidth(cell))
		}
	}

	var builder strings.Builder
	for _, row := range t.rows {
		for i, cell := range row {
			builder.WriteString(cell)
			if i < len(row)-1 {
				builder.WriteString(strings.Repeat(" ", widths[i]-ansi.StringWidth(cell)+columnGap))
			}
		}
		builder.WriteByte('\n')
	}
	_, err := io.WriteString(t.out, builder.String())
	return err
}

// keyValues renders label/value pairs in two aligned columns.
func keyValues(out io.Writer, title string, pairs [][2]string) error {
	if title != "" {
		fmt.Fprintln(out, titleStyle.Render(title))
	}
	writer := tabwriter.NewWriter(out, 2, 0, 2, ' ', 0)
	for _, pair := range pairs {
		if pair[1] == "" {
			continue
		}
		fmt.Fprintf(writer, "  %s\t%s\n", mutedStyle.Render(pair[0]+":"), pair[1])
	}
	return writer.Flush()
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func formatBytes(bytes uint64) string {
	return humanize.IBytes(bytes)
}

func formatRate(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bytesPerSecond)) + "/s"
}

func formatPercent(percent float64) string {
	return fmt.Sprintf("%.1f%%", percent)
}

// formatOptionalPercent renders negative values as unknown.
func formatOptionalPercent(percent float64) string {
	if percent < 0 {
		return "-"
	}
	return formatPercent(percent)
}

func formatCelsius(celsius *float64) string {
	if celsius == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f°C", *celsius)
}

func formatUptime(seconds uint64) string {
	return (time.Duration(seconds) * time.Second).String()
}

func formatBool(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func serviceState(running, failed bool) string {
	switch {
	case failed:
		return failedStyle.Render("failed")
	case running:
		return activeStyle.Render("running")
	default:
		return "stopped"
	}
}

// truncate shortens s to width terminal cells. width <= 0 disables it.
func truncate(s string, width int) string {
	if width <= 0 {
		return s
	}
	return ansi.Truncate(s, width, "…")
}

func renderStatus(out io.Writer, status ipc.StatusReply) error {
	system := status.System
	gpus := "none"
	if len(status.GPUs) > 0 {
		gpus = strings.Join(status.GPUs, ", ")
	}
	return keyValues(out, "sysmond", [][2]string{
		{"Version", status.Version},
		{"Host", system.Hostname},
		{"Kernel", system.KernelVersion},
		{"Board", strings.TrimSpace(system.BoardVendor + " " + system.BoardName)},
		{"Memory", formatOptionalBytes(system.MemoryTotalBytes)},
		{"Swap", formatOptionalBytes(system.SwapTotalBytes)},
		{"Service manager", status.ServiceBackend},
		{"GPUs", gpus},
		{"Uptime", formatUptime(status.UptimeSeconds)},
		{"Refresh interval", time.Duration(status.Settings.RefreshInterval).String()},
		{"Per-core percentages", formatBool(status.Settings.CoreCountAffectsPercentages)},
	})
}

func renderSettings(out io.Writer, settings ipc.Settings) error {
	return keyValues(out, "Settings", [][2]string{
		{"Refresh interval", time.Duration(settings.RefreshInterval).String()},
		{"Per-core percentages", formatBool(settings.CoreCountAffectsPercentages)},
	})
}

func renderCPU(out io.Writer, static cpustat.Static, dynamic cpustat.Dynamic) error {
	var topology, baseFrequency, virtualMachine, frequency, temperature string
	if static.LogicalCPUs > 0 {
		topology = fmt.Sprintf("%d sockets, %d cores, %d threads", static.Sockets, static.Cores, static.LogicalCPUs)
	}
	if static.BaseFrequencyKHz > 0 {
		baseFrequency = fmt.Sprintf("%.2f GHz", float64(static.BaseFrequencyKHz)/1e6)
	}
	if static.VirtualMachine != nil {
		virtualMachine = formatBool(*static.VirtualMachine)
	}
	if dynamic.FrequencyMHz > 0 {
		frequency = fmt.Sprintf("%d MHz", dynamic.FrequencyMHz)
	}
	if dynamic.TemperatureCelsius != nil {
		temperature = formatCelsius(dynamic.TemperatureCelsius)
	}

	var caches []string
	for i, size := range []int64{static.L1CacheBytes, static.L2CacheBytes, static.L3CacheBytes, static.L4CacheBytes} {
		if size > 0 {
			caches = append(caches, fmt.Sprintf("L%d %s", i+1, formatBytes(uint64(size))))
		}
	}

	var scaling []string
	for _, value := range []string{dynamic.Driver, dynamic.Governor, dynamic.EnergyPerformancePreference} {
		if value != "" {
			scaling = append(scaling, value)
		}
	}

	err := keyValues(out, "CPU", [][2]string{
		{"Model", static.Model},
		{"Topology", topology},
		{"Base frequency", baseFrequency},
		{"Virtualization", static.Virtualization},
		{"Virtual machine", virtualMachine},
		{"Caches", strings.Join(caches, ", ")},
		{"Utilization", formatPercent(dynamic.UtilizationPercent)},
		{"Kernel", formatPercent(dynamic.KernelUtilizationPercent)},
		{"Frequency", frequency},
		{"Scaling", strings.Join(scaling, " / ")},
		{"Temperature", temperature},
		{"Processes", strconv.Itoa(dynamic.Processes)},
		{"Threads", strconv.Itoa(dynamic.Threads)},
		{"Handles", strconv.FormatUint(dynamic.Handles, 10)},
		{"Uptime", formatUptime(dynamic.UptimeSeconds)},
	})
	if err != nil || len(dynamic.PerCPU) == 0 {
		return err
	}

	fmt.Fprintln(out)
	t := newTable(out, "CPU", "USAGE", "KERNEL")
	for _, core := range dynamic.PerCPU {
		t.row(core.CPU, formatPercent(core.UtilizationPercent), formatPercent(core.KernelUtilizationPercent))
	}
	return t.flush()
}

func renderDisks(out io.Writer, disks []diskstat.Disk) error {
	t := newTable(out, "DISK", "TYPE", "MODEL", "CAPACITY", "BUSY", "RESPONSE", "READ", "WRITE")
	system := false
	for _, disk := range disks {
		name := disk.ID
		if disk.SystemDisk {
			name += " *"
			system = true
		}
		t.row(
			name,
			string(disk.Type),
			orDash(disk.Model),
			formatBytes(disk.CapacityBytes),
			formatPercent(disk.BusyPercent),
			fmt.Sprintf("%.1f ms", disk.ResponseTimeMillis),
			formatRate(disk.ReadBytesPerSecond),
			formatRate(disk.WriteBytesPerSecond),
		)
	}
	if err := t.flush(); err != nil {
		return err
	}
	if system {
		fmt.Fprintln(out, mutedStyle.Render("* system disk"))
	}
	return nil
}

func renderNetwork(out io.Writer, interfaces []netstat.Interface) error {
	t := newTable(out, "INTERFACE", "KIND", "STATE", "ADDRESS", "SPEED", "RECEIVE", "SEND", "RECEIVED", "SENT", "ERRORS", "DROPS")
	for _, iface := range interfaces {
		speed := "-"
		if iface.SpeedMbits > 0 {
			speed = fmt.Sprintf("%d Mb/s", iface.SpeedMbits)
		}
		t.row(
			iface.Name,
			string(iface.Kind),
			orDash(iface.OperState),
			orDash(iface.Address),
			speed,
			formatRate(iface.RecvBytesPerSecond),
			formatRate(iface.SentBytesPerSecond),
			formatBytes(iface.RecvBytesTotal),
			formatBytes(iface.SentBytesTotal),
			strconv.FormatUint(iface.ErrorsTotal, 10),
			strconv.FormatUint(iface.DropsTotal, 10),
		)
	}
	return t.flush()
}

func renderGPUs(out io.Writer, gpus []ipc.GPUReport) error {
	if len(gpus) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("no GPUs"))
		return nil
	}
	for i, gpu := range gpus {
		if i > 0 {
			fmt.Fprintln(out)
		}
		info, status, capabilities := gpu.Static.Info, gpu.Dynamic, gpu.Static.Capabilities

		var link, vram, gtt, temperature, power, clocks, fan, vulkan string
		if info.PCIeGeneration > 0 {
			link = fmt.Sprintf("Gen %d x%d", info.PCIeGeneration, info.PCIeLinkWidth)
		}
		if info.VRAMTotalBytes > 0 {
			vram = formatBytes(uint64(status.VRAMUsedBytes)) + " / " + formatBytes(uint64(info.VRAMTotalBytes))
		}
		if info.GTTTotalBytes > 0 {
			gtt = formatBytes(uint64(status.GTTUsedBytes)) + " / " + formatBytes(uint64(info.GTTTotalBytes))
		}
		if status.TemperatureMillidegrees > 0 {
			temperature = fmt.Sprintf("%d°C", status.TemperatureMillidegrees/1000)
		}
		if status.PowerDrawWatts > 0 {
			power = fmt.Sprintf("%.1f W", status.PowerDrawWatts)
			if info.PowerCapWatts > 0 {
				power += fmt.Sprintf(" / %.0f W", info.PowerCapWatts)
			}
		}
		if status.GraphicsClockMHz > 0 || status.MemoryClockMHz > 0 {
			clocks = fmt.Sprintf("%d MHz core, %d MHz memory", status.GraphicsClockMHz, status.MemoryClockMHz)
		}
		if status.FanSpeedPercent > 0 {
			fan = formatPercent(status.FanSpeedPercent)
		}
		if capabilities.VulkanVersion != "" {
			vulkan = capabilities.VulkanVersion
			if capabilities.VulkanDriver != "" {
				vulkan += " (" + capabilities.VulkanDriver + ")"
			}
		}

		err := keyValues(out, info.PCISlot, [][2]string{
			{"Model", info.ModelName},
			{"Device", strings.TrimSpace(info.Vendor + " " + info.PCIDeviceID)},
			{"Driver", info.Driver},
			{"Kernel driver", capabilities.KernelDriver},
			{"Vulkan", vulkan},
			{"PCIe", link},
			{"Utilization", formatPercent(status.UtilizationPercent)},
			{"Memory busy", formatPercent(status.MemoryBusyPercent)},
			{"VRAM", vram},
			{"GTT", gtt},
			{"Temperature", temperature},
			{"Power", power},
			{"Clocks", clocks},
			{"Fan", fan},
			{"Encoder", formatPercent(status.EncoderPercent)},
			{"Decoder", formatPercent(status.DecoderPercent)},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func renderFans(out io.Writer, fans []fanstat.Fan) error {
	t := newTable(out, "SENSOR", "FAN", "LABEL", "RPM", "PWM", "TEMPERATURE")
	for _, fan := range fans {
		rpm := "-"
		if fan.RPM >= 0 {
			rpm = strconv.FormatInt(fan.RPM, 10)
			if fan.MaxRPM > 0 {
				rpm += " / " + strconv.FormatInt(fan.MaxRPM, 10)
			}
		}
		temperature := formatCelsius(fan.TemperatureCelsius)
		if fan.TemperatureCelsius != nil && fan.TemperatureLabel != "" {
			temperature += " " + mutedStyle.Render(fan.TemperatureLabel)
		}
		t.row(
			fan.Sensor,
			fmt.Sprintf("fan%d", fan.FanIndex),
			orDash(fan.Label),
			rpm,
			formatOptionalPercent(fan.PWMPercent),
			temperature,
		)
	}
	return t.flush()
}

// commandWidth bounds the COMMAND column of process tables.
const commandWidth = 100

func renderProcesses(out io.Writer, processes []procs.Process) error {
	t := newTable(out, "PID", "STATE", "CPU", "MEMORY", "DISK", "GPU", "COMMAND")
	for _, process := range processes {
		command := "[" + process.Name + "]"
		if len(process.Cmdline) > 0 {
			command = strings.Join(process.Cmdline, " ")
		}
		t.row(
			strconv.Itoa(process.PID),
			string(process.State),
			formatPercent(process.Usage.CPUPercent),
			formatBytes(process.Usage.MemoryBytes),
			formatRate(process.Usage.DiskBytesPerSecond),
			formatPercent(process.Usage.GPUPercent),
			truncate(command, commandWidth),
		)
	}
	return t.flush()
}

func renderApps(out io.Writer, apps []procs.App) error {
	t := newTable(out, "APP", "PROCESSES", "CPU", "MEMORY", "DISK", "GPU", "COMMAND")
	for _, app := range apps {
		t.row(
			app.Name,
			strconv.Itoa(len(app.PIDs)),
			formatPercent(app.Usage.CPUPercent),
			formatBytes(app.Usage.MemoryBytes),
			formatRate(app.Usage.DiskBytesPerSecond),
			formatPercent(app.Usage.GPUPercent),
			truncate(orDash(app.Command), commandWidth),
		)
	}
	return t.flush()
}

func renderServices(out io.Writer, list []services.Service) error {
	t := newTable(out, "SERVICE", "STATE", "ENABLED", "PID", "USER", "DESCRIPTION")
	for _, service := range list {
		pid := "-"
		if service.PID > 0 {
			pid = strconv.Itoa(service.PID)
		}
		t.row(
			service.Name,
			serviceState(service.Running, service.Failed),
			formatBool(service.Enabled),
			pid,
			orDash(service.User),
			truncate(service.Description, 60),
		)
	}
	return t.flush()
}

func formatOptionalBytes(bytes uint64) string {
	if bytes == 0 {
		return ""
	}
	return formatBytes(bytes)
}

func orDash(value string) string {
	if value == "" {
		return "-"
	}
	return value
}
