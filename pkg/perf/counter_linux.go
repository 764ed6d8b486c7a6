// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package perf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Counter owns one perf_event_open(2) handle exclusively. Counters are
// opened disabled; enable explicitly or via Options.EnableOnExec.
type Counter struct {
	fd     int
	event  Event
	target Target
	opts   Options
	closed bool
}

// Open opens a kernel counter for event on target. The handle is the
// only resource the Counter owns; Close releases it on every path.
func Open(event Event, target Target, opts Options) (*Counter, error) {
	attr := buildAttr(event, opts)
	fd, err := unix.PerfEventOpen(attr, target.Pid, target.CPU, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return nil, openError(event, target, err)
	}
	return &Counter{fd: fd, event: event, target: target, opts: opts}, nil
}

// Event returns the event this counter was opened for.
func (c *Counter) Event() Event { return c.event }

// FD exposes the raw handle for mapping and grouping.
func (c *Counter) FD() int { return c.fd }

// Enable starts counting.
func (c *Counter) Enable() error {
	if c.closed {
		return fmt.Errorf("%w: enable on closed counter", ErrState)
	}
	if err := unix.IoctlSetInt(c.fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
		return fmt.Errorf("enabling %s: %w", c.event.Name, err)
	}
	return nil
}

// Disable stops counting without losing the accumulated value.
func (c *Counter) Disable() error {
	if c.closed {
		return fmt.Errorf("%w: disable on closed counter", ErrState)
	}
	if err := unix.IoctlSetInt(c.fd, unix.PERF_EVENT_IOC_DISABLE, 0); err != nil {
		return fmt.Errorf("disabling %s: %w", c.event.Name, err)
	}
	return nil
}

// Reset zeroes the counter without closing it.
func (c *Counter) Reset() error {
	if c.closed {
		return fmt.Errorf("%w: reset on closed counter", ErrState)
	}
	if err := unix.IoctlSetInt(c.fd, unix.PERF_EVENT_IOC_RESET, 0); err != nil {
		return fmt.Errorf("resetting %s: %w", c.event.Name, err)
	}
	return nil
}

// Read returns the accumulated value plus time_enabled and
// time_running for multiplexing correction.
func (c *Counter) Read() (RawCount, error) {
	if c.closed {
		return RawCount{}, fmt.Errorf("%w: read on closed counter", ErrState)
	}
	// value, time_enabled, time_running per the counter read format.
	var buf [24]byte
	n, err := unix.Read(c.fd, buf[:])
	if err != nil {
		return RawCount{}, fmt.Errorf("reading %s: %w", c.event.Name, err)
	}
	if n != len(buf) {
		return RawCount{}, fmt.Errorf("reading %s: short read of %d bytes", c.event.Name, n)
	}
	return RawCount{
		Value:       binary.LittleEndian.Uint64(buf[0:]),
		TimeEnabled: durationFromNanos(binary.LittleEndian.Uint64(buf[8:])),
		TimeRunning: durationFromNanos(binary.LittleEndian.Uint64(buf[16:])),
	}, nil
}

// ReadScaled reads and applies the multiplexing correction in one step.
func (c *Counter) ReadScaled() (ScaledCount, error) {
	raw, err := c.Read()
	if err != nil {
		return ScaledCount{}, err
	}
	return ScaledCount{
		Raw:         raw.Value,
		TimeEnabled: raw.TimeEnabled,
		TimeRunning: raw.TimeRunning,
		Value:       scaleCount(raw.Value, raw.TimeEnabled, raw.TimeRunning),
	}, nil
}

// Close releases the kernel handle. Double-close is a no-op.
func (c *Counter) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := unix.Close(c.fd); err != nil {
		return fmt.Errorf("closing %s: %w", c.event.Name, err)
	}
	return nil
}

// Available probes whether an event can be opened on this system by
// opening it on the calling process and immediately closing it.
func Available(event Event) bool {
	c, err := Open(event, AnyCPU(0), Options{ExcludeKernel: true, ExcludeHypervisor: true})
	if err != nil {
		return false
	}
	c.Close()
	return true
}

// AvailableEvents filters the predefined catalog down to the events
// this system can open.
func AvailableEvents() []Event {
	var out []Event
	for _, ev := range catalog {
		if Available(ev) {
			out = append(out, ev)
		}
	}
	return out
}

func buildAttr(event Event, opts Options) *unix.PerfEventAttr {
	attr := &unix.PerfEventAttr{
		Type:   uint32(event.Type),
		Config: event.Config,
		Size:   uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Bits:   unix.PerfBitDisabled,
		Read_format: unix.PERF_FORMAT_TOTAL_TIME_ENABLED |
			unix.PERF_FORMAT_TOTAL_TIME_RUNNING,
	}
	if opts.ExcludeKernel {
		attr.Bits |= unix.PerfBitExcludeKernel
	}
	if opts.ExcludeUser {
		attr.Bits |= unix.PerfBitExcludeUser
	}
	if opts.ExcludeHypervisor {
		attr.Bits |= unix.PerfBitExcludeHv
	}
	if opts.Inherit {
		attr.Bits |= unix.PerfBitInherit
	}
	if opts.EnableOnExec {
		attr.Bits |= unix.PerfBitEnableOnExec
	}
	if opts.SamplePeriod > 0 {
		attr.Sample = opts.SamplePeriod
		attr.Sample_type = opts.SampleFormat.Bits()
		attr.Wakeup = opts.WakeupEvents
		if attr.Wakeup == 0 {
			attr.Wakeup = 1
		}
	}
	return attr
}

// openError maps perf_event_open errnos onto the package taxonomy.
func openError(event Event, target Target, err error) error {
	switch {
	case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
		return fmt.Errorf("%w: opening %s on %s%s", ErrPermission,
			event.Name, target, paranoidHint())
	case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE),
		errors.Is(err, unix.ENOSPC), errors.Is(err, unix.EBUSY):
		return fmt.Errorf("%w: opening %s on %s: %v", ErrResource,
			event.Name, target, err)
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOENT),
		errors.Is(err, unix.ENODEV), errors.Is(err, unix.EOPNOTSUPP),
		errors.Is(err, unix.E2BIG), errors.Is(err, unix.EOVERFLOW):
		return fmt.Errorf("%w: opening %s (type=%s, config=0x%x) on %s: %v",
			ErrConfig, event.Name, event.Type, event.Config, target, err)
	default:
		return fmt.Errorf("opening %s on %s: %w", event.Name, target, err)
	}
}

// paranoidHint includes the perf_event_paranoid level in permission
// errors; it is the usual reason unprivileged opens fail.
func paranoidHint() string {
	data, err := os.ReadFile("/proc/sys/kernel/perf_event_paranoid")
	if err != nil {
		return ""
	}
	level, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return ""
	}
	return fmt.Sprintf(" (perf_event_paranoid=%d)", level)
}
