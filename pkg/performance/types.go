// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package performance

import (
	"fmt"
	"path/filepath"
	"time"
)

// MetricType represents the type of performance metric
type MetricType string

const (
	// Runtime system statistics from procfs
	MetricTypeCPU    MetricType = "cpu"
	MetricTypeMemory MetricType = "memory"
	// Hardware counter acquisition via perf_event_open
	MetricTypeCounters MetricType = "counters"
	MetricTypeSamples  MetricType = "samples"
)

// CollectorStatus represents the operational status of a collector
type CollectorStatus string

const (
	CollectorStatusActive   CollectorStatus = "active"
	CollectorStatusDegraded CollectorStatus = "degraded"
	CollectorStatusFailed   CollectorStatus = "failed"
	CollectorStatusDisabled CollectorStatus = "disabled"
)

// CPUStats represents per-CPU statistics from /proc/stat.
// Tick values are cumulative USER_HZ counts since boot. Fields past Idle
// are absent on very old kernels and read as zero.
type CPUStats struct {
	// CPU index (-1 for the aggregate "cpu" line, 0+ for "cpu0", "cpu1", ...)
	CPUIndex  int32
	User      uint64 // Time in user mode
	Nice      uint64 // Time in user mode with low priority
	System    uint64 // Time in system mode
	Idle      uint64 // Time spent idle
	IOWait    uint64 // Time waiting for I/O completion
	IRQ       uint64 // Time servicing interrupts
	SoftIRQ   uint64 // Time servicing softirqs
	Steal     uint64 // Time stolen by the hypervisor
	Guest     uint64 // Time running a guest vCPU
	GuestNice uint64 // Time running a niced guest
}

// Busy returns the non-idle tick total. Guest time is already folded
// into User/Nice by the kernel and is not added again.
func (c CPUStats) Busy() uint64 {
	return c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
}

// Total returns all accounted ticks.
func (c CPUStats) Total() uint64 {
	return c.Busy() + c.Idle + c.IOWait
}

// MemoryStats represents memory usage from /proc/meminfo, in kB. Fields
// are pointers: a nil field means the line was absent or unparseable,
// which is distinct from a measured zero.
type MemoryStats struct {
	MemTotal     *uint64
	MemFree      *uint64
	MemAvailable *uint64
	Buffers      *uint64
	Cached       *uint64
	SwapTotal    *uint64
	SwapFree     *uint64
	Dirty        *uint64
	Writeback    *uint64
	AnonPages    *uint64
	Mapped       *uint64
	Shmem        *uint64
}

// Used returns total minus available memory in kB, or nil when either
// input is missing.
func (m MemoryStats) Used() *uint64 {
	if m.MemTotal == nil || m.MemAvailable == nil || *m.MemAvailable > *m.MemTotal {
		return nil
	}
	used := *m.MemTotal - *m.MemAvailable
	return &used
}

// CounterValue is one multiplexing-corrected hardware counter reading.
type CounterValue struct {
	Name string
	// Raw is the accumulated count while the counter was on a PMU. It
	// understates the true count whenever the counter was multiplexed.
	Raw uint64
	// Scaled is the multiplexing-corrected estimate. Nil when the counter
	// never ran and no estimate exists.
	Scaled      *uint64
	TimeEnabled time.Duration
	TimeRunning time.Duration
	Multiplexed bool
}

// CounterStats is one atomic read of a counter group.
type CounterStats struct {
	Timestamp time.Time
	// Target describes the observed task/CPU, e.g. "pid=1234/cpu=-1".
	Target string
	// Counters in group order, leader first.
	Counters []CounterValue
}

// SampleEvent is one decoded overflow sample from a sampling session.
// Pointer fields mirror the configured sample format; disabled fields
// are nil.
type SampleEvent struct {
	IP     *uint64
	Pid    *uint32
	Tid    *uint32
	Time   *uint64
	CPU    *uint32
	Period *uint64
}

// SampleBatch is the set of samples drained from the ring buffer in one
// poll, with the kernel's drop accounting alongside.
type SampleBatch struct {
	Timestamp time.Time
	Samples   []SampleEvent
	// Lost is the cumulative kernel-reported count of dropped samples.
	Lost uint64
	// ChannelDrops counts batches this collector discarded because its
	// output channel was full.
	ChannelDrops uint64
}

// DeltaMetadata describes how a delta interval was produced, so
// consumers can judge whether rates derived from it are trustworthy.
type DeltaMetadata struct {
	CollectionInterval   time.Duration
	LastCollectionTime   time.Time
	IsFirstCollection    bool
	CounterResetDetected bool
}

// CPUUtilization is the per-CPU tick delta over one interval.
type CPUUtilization struct {
	CPUIndex int32
	// Delta ticks per state over the interval
	User    uint64
	Nice    uint64
	System  uint64
	Idle    uint64
	IOWait  uint64
	IRQ     uint64
	SoftIRQ uint64
	Steal   uint64
	// Utilization is busy/total over the interval as a percentage, nil
	// when the interval produced no ticks.
	Utilization *float64
}

// CPUDeltaData is the delta view of /proc/stat between two collections.
type CPUDeltaData struct {
	DeltaMetadata
	// All is the aggregate "cpu" line delta.
	All CPUUtilization
	// CPUs holds one entry per online CPU, in index order.
	CPUs []CPUUtilization
}

// DeltaMode controls whether a collector computes interval deltas.
type DeltaMode string

const (
	DeltaModeEnabled  DeltaMode = "enabled"
	DeltaModeDisabled DeltaMode = "disabled"
)

// DeltaConfig bounds delta computation. Intervals outside the window
// discard the delta and restart from the current snapshot.
type DeltaConfig struct {
	Mode        DeltaMode
	MinInterval time.Duration
	MaxInterval time.Duration
}

// DefaultDeltaConfig returns the default delta bounds.
func DefaultDeltaConfig() DeltaConfig {
	return DeltaConfig{
		Mode:        DeltaModeEnabled,
		MinInterval: 100 * time.Millisecond,
		MaxInterval: 10 * time.Minute,
	}
}

// CollectionConfig represents configuration for performance collection
type CollectionConfig struct {
	Interval          time.Duration
	EnabledCollectors map[MetricType]bool
	HostProcPath      string // Path to /proc (useful for containers)
	HostSysPath       string // Path to /sys (useful for containers)
	Delta             DeltaConfig

	// Counter and sampling configuration
	Events          []string // counter group event names, leader first
	TargetPid       int      // task to observe, 0 for the calling process
	SamplePeriod    uint64   // events between samples for the sampling collector
	SampleDataPages int      // ring buffer data pages, power of two
	ChannelBuffer   int      // buffered results per continuous collector
}

// DefaultCollectionConfig returns a default configuration
func DefaultCollectionConfig() CollectionConfig {
	return CollectionConfig{
		Interval: time.Second,
		EnabledCollectors: map[MetricType]bool{
			MetricTypeCPU:      true,
			MetricTypeMemory:   true,
			MetricTypeCounters: true,
			MetricTypeSamples:  false,
		},
		HostProcPath:    "/proc",
		HostSysPath:     "/sys",
		Delta:           DefaultDeltaConfig(),
		Events:          []string{"cpu-cycles", "instructions"},
		SamplePeriod:    100000,
		SampleDataPages: 64,
		ChannelBuffer:   64,
	}
}

// ApplyDefaults fills in zero values with defaults
func (c *CollectionConfig) ApplyDefaults() {
	defaults := DefaultCollectionConfig()

	if c.Interval == 0 {
		c.Interval = defaults.Interval
	}
	if c.EnabledCollectors == nil {
		c.EnabledCollectors = defaults.EnabledCollectors
	}
	if c.HostProcPath == "" {
		c.HostProcPath = defaults.HostProcPath
	}
	if c.HostSysPath == "" {
		c.HostSysPath = defaults.HostSysPath
	}
	if c.Delta.Mode == "" {
		c.Delta.Mode = defaults.Delta.Mode
	}
	if c.Delta.MinInterval == 0 {
		c.Delta.MinInterval = defaults.Delta.MinInterval
	}
	if c.Delta.MaxInterval == 0 {
		c.Delta.MaxInterval = defaults.Delta.MaxInterval
	}
	if len(c.Events) == 0 {
		c.Events = defaults.Events
	}
	if c.SamplePeriod == 0 {
		c.SamplePeriod = defaults.SamplePeriod
	}
	if c.SampleDataPages == 0 {
		c.SampleDataPages = defaults.SampleDataPages
	}
	if c.ChannelBuffer == 0 {
		c.ChannelBuffer = defaults.ChannelBuffer
	}
}

// ValidateOptions specifies validation requirements for CollectionConfig
type ValidateOptions struct {
	RequireHostProcPath bool
	RequireHostSysPath  bool
}

// Validate ensures that all configured paths are absolute and that
// required paths are non-empty.
func (c *CollectionConfig) Validate(opt ValidateOptions) error {
	if opt.RequireHostProcPath && c.HostProcPath == "" {
		return fmt.Errorf("HostProcPath is required but not provided")
	}
	if opt.RequireHostSysPath && c.HostSysPath == "" {
		return fmt.Errorf("HostSysPath is required but not provided")
	}

	if c.HostProcPath != "" && !filepath.IsAbs(c.HostProcPath) {
		return fmt.Errorf("HostProcPath must be an absolute path, got: %q", c.HostProcPath)
	}
	if c.HostSysPath != "" && !filepath.IsAbs(c.HostSysPath) {
		return fmt.Errorf("HostSysPath must be an absolute path, got: %q", c.HostSysPath)
	}
	if c.Delta.MinInterval < 0 || c.Delta.MaxInterval < 0 {
		return fmt.Errorf("delta intervals must be non-negative")
	}
	if c.Delta.MaxInterval > 0 && c.Delta.MinInterval > c.Delta.MaxInterval {
		return fmt.Errorf("delta MinInterval %v exceeds MaxInterval %v",
			c.Delta.MinInterval, c.Delta.MaxInterval)
	}
	return nil
}
