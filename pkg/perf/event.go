// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"fmt"
	"strings"
	"time"
)

// EventType selects the kernel event source. Values match the
// PERF_TYPE_* constants in linux/perf_event.h.
type EventType uint32

const (
	EventTypeHardware   EventType = 0
	EventTypeSoftware   EventType = 1
	EventTypeTracepoint EventType = 2
	EventTypeHWCache    EventType = 3
	EventTypeRaw        EventType = 4
)

func (t EventType) String() string {
	switch t {
	case EventTypeHardware:
		return "hardware"
	case EventTypeSoftware:
		return "software"
	case EventTypeTracepoint:
		return "tracepoint"
	case EventTypeHWCache:
		return "hw-cache"
	case EventTypeRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Hardware event configs - match linux/perf_event.h PERF_COUNT_HW_*
const (
	HWCPUCycles             = 0
	HWInstructions          = 1
	HWCacheReferences       = 2
	HWCacheMisses           = 3
	HWBranchInstructions    = 4
	HWBranchMisses          = 5
	HWBusCycles             = 6
	HWStalledCyclesFrontend = 7
	HWStalledCyclesBackend  = 8
	HWRefCPUCycles          = 9
)

// Software event configs - match PERF_COUNT_SW_*
const (
	SWCPUClock        = 0
	SWTaskClock       = 1
	SWPageFaults      = 2
	SWContextSwitches = 3
	SWCPUMigrations   = 4
	SWPageFaultsMin   = 5
	SWPageFaultsMaj   = 6
	SWAlignmentFaults = 7
	SWEmulationFaults = 8
)

// Event describes one countable or sampleable kernel event.
type Event struct {
	Name   string    // human-readable name, unique within a group
	Type   EventType // event source
	Config uint64    // event-specific configuration code
}

// Options carries the attr fields that are independent of the event
// itself: scope exclusions, targeting, and sampling configuration.
type Options struct {
	// Exclusion flags. Excluding kernel or hypervisor events lowers the
	// privilege needed to open the counter.
	ExcludeKernel     bool
	ExcludeUser       bool
	ExcludeHypervisor bool

	// Inherit extends counting to children of the target task.
	Inherit bool

	// EnableOnExec arms a disabled counter so the kernel enables it when
	// the target calls execve(2). Used for workload (perf stat) runs.
	EnableOnExec bool

	// SamplePeriod is the number of events between samples. Zero means a
	// pure counting event with no ring buffer traffic.
	SamplePeriod uint64

	// SampleFormat selects the payload fields of each sample record.
	// Ignored when SamplePeriod is zero. Fixed for the session lifetime.
	SampleFormat SampleFormat

	// WakeupEvents controls how many overflow events accumulate before
	// the kernel wakes a poller. Zero defaults to 1.
	WakeupEvents uint32
}

// Target names the task and CPU a counter observes. The zero value is
// "calling process, any CPU".
type Target struct {
	// Pid is the task to observe: 0 for the calling process, a positive
	// pid for another process, -1 for all tasks (system-wide, requires a
	// CPU >= 0 and elevated privileges).
	Pid int

	// CPU restricts counting to one CPU; -1 means any CPU. Opening with
	// Pid == -1 and CPU == -1 is rejected by the kernel.
	CPU int
}

// AnyCPU targets the given pid on every CPU it runs on.
func AnyCPU(pid int) Target { return Target{Pid: pid, CPU: -1} }

// SystemWide targets every task on one CPU.
func SystemWide(cpu int) Target { return Target{Pid: -1, CPU: cpu} }

func (t Target) String() string {
	return fmt.Sprintf("pid=%d/cpu=%d", t.Pid, t.CPU)
}

// RawCount is one counter read: the accumulated value plus the two
// times used for multiplexing correction.
type RawCount struct {
	Value uint64
	// TimeEnabled is how long the counter was enabled.
	TimeEnabled time.Duration
	// TimeRunning is how long the counter was actually installed on a
	// PMU. Less than TimeEnabled when the kernel multiplexed it out.
	TimeRunning time.Duration
}

// ScaledCount is a group-read result for one member, corrected for
// multiplexing. Value is nil when TimeRunning is zero: the counter never
// ran and no estimate exists.
type ScaledCount struct {
	Raw         uint64
	TimeEnabled time.Duration
	TimeRunning time.Duration
	Value       *uint64
}

// Multiplexed reports whether the counter was scheduled out for part of
// the measurement interval.
func (s ScaledCount) Multiplexed() bool {
	return s.TimeRunning < s.TimeEnabled
}

// Predefined events, mirroring the perf tool's common event names.
var (
	CPUCycles       = Event{Name: "cpu-cycles", Type: EventTypeHardware, Config: HWCPUCycles}
	Instructions    = Event{Name: "instructions", Type: EventTypeHardware, Config: HWInstructions}
	CacheReferences = Event{Name: "cache-references", Type: EventTypeHardware, Config: HWCacheReferences}
	CacheMisses     = Event{Name: "cache-misses", Type: EventTypeHardware, Config: HWCacheMisses}
	BranchInstrs    = Event{Name: "branch-instructions", Type: EventTypeHardware, Config: HWBranchInstructions}
	BranchMisses    = Event{Name: "branch-misses", Type: EventTypeHardware, Config: HWBranchMisses}
	BusCycles       = Event{Name: "bus-cycles", Type: EventTypeHardware, Config: HWBusCycles}
	RefCPUCycles    = Event{Name: "ref-cycles", Type: EventTypeHardware, Config: HWRefCPUCycles}

	CPUClock        = Event{Name: "cpu-clock", Type: EventTypeSoftware, Config: SWCPUClock}
	TaskClock       = Event{Name: "task-clock", Type: EventTypeSoftware, Config: SWTaskClock}
	PageFaults      = Event{Name: "page-faults", Type: EventTypeSoftware, Config: SWPageFaults}
	ContextSwitches = Event{Name: "context-switches", Type: EventTypeSoftware, Config: SWContextSwitches}
	CPUMigrations   = Event{Name: "cpu-migrations", Type: EventTypeSoftware, Config: SWCPUMigrations}
	MinorFaults     = Event{Name: "minor-faults", Type: EventTypeSoftware, Config: SWPageFaultsMin}
	MajorFaults     = Event{Name: "major-faults", Type: EventTypeSoftware, Config: SWPageFaultsMaj}
)

var catalog = []Event{
	CPUCycles, Instructions, CacheReferences, CacheMisses,
	BranchInstrs, BranchMisses, BusCycles, RefCPUCycles,
	CPUClock, TaskClock, PageFaults, ContextSwitches,
	CPUMigrations, MinorFaults, MajorFaults,
}

// Events returns the predefined event catalog.
func Events() []Event {
	out := make([]Event, len(catalog))
	copy(out, catalog)
	return out
}

// LookupEvent finds a predefined event by name. Exact match first, then
// a unique case-insensitive substring match.
func LookupEvent(name string) (Event, error) {
	for _, ev := range catalog {
		if ev.Name == name {
			return ev, nil
		}
	}

	lower := strings.ToLower(name)
	var found []Event
	for _, ev := range catalog {
		if strings.Contains(strings.ToLower(ev.Name), lower) {
			found = append(found, ev)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return Event{}, fmt.Errorf("%w: unknown event %q", ErrConfig, name)
	default:
		names := make([]string, len(found))
		for i, ev := range found {
			names[i] = ev.Name
		}
		return Event{}, fmt.Errorf("%w: ambiguous event %q (matches %v)", ErrConfig, name, names)
	}
}
