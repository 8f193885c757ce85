// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package procs

// Identity distinguishes one process lifetime from another. PIDs are
// reused; the pair of PID and start time (in clock ticks since boot)
// is not.
type Identity struct {
	PID        int
	StartTicks uint64
}

// State is the scheduler state letter from /proc/<pid>/stat.
type State string

const (
	StateRunning                 State = "running"
	StateSleeping                State = "sleeping"
	StateSleepingUninterruptible State = "disk_sleep"
	StateZombie                  State = "zombie"
	StateStopped                 State = "stopped"
	StateTracing                 State = "tracing"
	StateDead                    State = "dead"
	StateWakeKill                State = "wake_kill"
	StateWaking                  State = "waking"
	StateParked                  State = "parked"
	StateUnknown                 State = "unknown"
)

// ParseState maps a stat state letter to a State.
func ParseState(letter string) State {
	switch letter {
	case "R":
		return StateRunning
	case "S":
		return StateSleeping
	case "D":
		return StateSleepingUninterruptible
	case "Z":
		return StateZombie
	case "T":
		return StateStopped
	case "t":
		return StateTracing
	case "X", "x":
		return StateDead
	case "K":
		return StateWakeKill
	case "W":
		return StateWaking
	case "P":
		return StateParked
	default:
		return StateUnknown
	}
}

// Usage is the per-tick resource consumption of a process.
type Usage struct {
	// CPUPercent is CPU time over wall time. Up to 100 per logical CPU
	// unless percentages are scaled to the core count.
	CPUPercent float64 `json:"cpu_percent"`

	MemoryBytes uint64 `json:"memory_bytes"`

	DiskReadBytesPerSecond  float64 `json:"disk_read_bytes_per_second"`
	DiskWriteBytesPerSecond float64 `json:"disk_write_bytes_per_second"`

	// DiskBytesPerSecond is the mean of the read and write rates.
	DiskBytesPerSecond float64 `json:"disk_bytes_per_second"`

	// GPU fields are written by the GPU sampler after the process
	// refresh and are zero until then.
	GPUPercent        float64 `json:"gpu_percent"`
	GPUMemoryBytes    uint64  `json:"gpu_memory_bytes"`
	GPUEncoderPercent float64 `json:"gpu_encoder_percent"`
	GPUDecoderPercent float64 `json:"gpu_decoder_percent"`
}

// Process is the public record for one process.
type Process struct {
	PID       int      `json:"pid"`
	ParentPID int      `json:"parent_pid"`
	Name      string   `json:"name"`
	Cmdline   []string `json:"cmdline,omitempty"`
	Exe       string   `json:"exe,omitempty"`
	State     State    `json:"state"`
	Tasks     int      `json:"tasks"`

	// AppScope is the /sys/fs/cgroup path of the systemd app or snap
	// scope the process runs in, or "".
	AppScope string `json:"app_scope,omitempty"`

	StartTicks uint64 `json:"start_ticks"`
	Usage      Usage  `json:"usage"`

	// unscaledCPU is CPUPercent before division by the core count; a
	// zero-elapsed refresh carries this forward.
	unscaledCPU float64
}

// Identity returns the cache identity of the process.
func (p Process) Identity() Identity {
	return Identity{PID: p.PID, StartTicks: p.StartTicks}
}

// rawCounters are the monotonic counters read for a process in one pass.
type rawCounters struct {
	userTicks   uint64
	systemTicks uint64
	readBytes   uint64
	writeBytes  uint64
}
