// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package perf

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// Group is a leader counter plus zero or more siblings scheduled onto
// the PMU as one unit and read atomically with one grouped read.
// Membership is fixed at creation. Enable/disable/reset are issued on
// the leader and cascade to every member.
type Group struct {
	leader   *Counter
	siblings []*Counter
	target   Target
	closed   bool
}

// OpenGroup opens one counter per event on target, the first event as
// group leader. On any failure every handle opened so far is released
// before the error is returned.
func OpenGroup(events []Event, target Target, opts Options) (*Group, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: group needs at least one event", ErrConfig)
	}
	if opts.SamplePeriod != 0 {
		return nil, fmt.Errorf("%w: counter groups are counting-only; use a Session for sampling", ErrConfig)
	}

	attr := buildAttr(events[0], opts)
	attr.Read_format = unix.PERF_FORMAT_GROUP |
		unix.PERF_FORMAT_TOTAL_TIME_ENABLED |
		unix.PERF_FORMAT_TOTAL_TIME_RUNNING

	leaderFd, err := unix.PerfEventOpen(attr, target.Pid, target.CPU, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return nil, openError(events[0], target, err)
	}
	g := &Group{
		leader: &Counter{fd: leaderFd, event: events[0], target: target, opts: opts},
		target: target,
	}

	for _, ev := range events[1:] {
		sibAttr := buildAttr(ev, opts)
		// Siblings follow the leader's scheduling; they stay enabled and
		// are gated by the leader's disabled bit.
		sibAttr.Bits &^= unix.PerfBitDisabled
		fd, err := unix.PerfEventOpen(sibAttr, target.Pid, target.CPU, leaderFd, unix.PERF_FLAG_FD_CLOEXEC)
		if err != nil {
			g.Close()
			return nil, openError(ev, target, err)
		}
		g.siblings = append(g.siblings, &Counter{fd: fd, event: ev, target: target, opts: opts})
	}
	return g, nil
}

// Events returns the member events in group order, leader first.
func (g *Group) Events() []Event {
	out := make([]Event, 0, 1+len(g.siblings))
	out = append(out, g.leader.event)
	for _, s := range g.siblings {
		out = append(out, s.event)
	}
	return out
}

// Start enables the leader; enabling cascades to every sibling.
func (g *Group) Start() error {
	if g.closed {
		return fmt.Errorf("%w: start on closed group", ErrState)
	}
	if err := unix.IoctlSetInt(g.leader.fd, unix.PERF_EVENT_IOC_ENABLE, unix.PERF_IOC_FLAG_GROUP); err != nil {
		return fmt.Errorf("enabling group led by %s: %w", g.leader.event.Name, err)
	}
	return nil
}

// Stop disables the leader and with it the whole group.
func (g *Group) Stop() error {
	if g.closed {
		return fmt.Errorf("%w: stop on closed group", ErrState)
	}
	if err := unix.IoctlSetInt(g.leader.fd, unix.PERF_EVENT_IOC_DISABLE, unix.PERF_IOC_FLAG_GROUP); err != nil {
		return fmt.Errorf("disabling group led by %s: %w", g.leader.event.Name, err)
	}
	return nil
}

// Reset zeroes every member without closing handles.
func (g *Group) Reset() error {
	if g.closed {
		return fmt.Errorf("%w: reset on closed group", ErrState)
	}
	if err := unix.IoctlSetInt(g.leader.fd, unix.PERF_EVENT_IOC_RESET, unix.PERF_IOC_FLAG_GROUP); err != nil {
		return fmt.Errorf("resetting group led by %s: %w", g.leader.event.Name, err)
	}
	return nil
}

// ReadAll performs one grouped read and returns a multiplexing-scaled
// value per member event name. Members were scheduled together, so a
// single time_enabled/time_running pair applies to the whole group; a
// member's scaled value is nil when the group never ran.
//
// Raw values are silently wrong whenever counters were multiplexed;
// callers must report the scaled values, never the raw ones.
func (g *Group) ReadAll() (map[string]ScaledCount, error) {
	if g.closed {
		return nil, fmt.Errorf("%w: read on closed group", ErrState)
	}

	n := 1 + len(g.siblings)
	// nr, time_enabled, time_running, then one value per member.
	buf := make([]byte, 8*(3+n))
	got, err := unix.Read(g.leader.fd, buf)
	if err != nil {
		return nil, fmt.Errorf("reading group led by %s: %w", g.leader.event.Name, err)
	}
	if got != len(buf) {
		return nil, fmt.Errorf("reading group led by %s: short read of %d bytes", g.leader.event.Name, got)
	}

	nr := binary.LittleEndian.Uint64(buf[0:])
	if nr != uint64(n) {
		return nil, fmt.Errorf("%w: group read returned %d members, opened %d", ErrConfig, nr, n)
	}
	enabled := durationFromNanos(binary.LittleEndian.Uint64(buf[8:]))
	running := durationFromNanos(binary.LittleEndian.Uint64(buf[16:]))

	// Values arrive in creation order: leader first, then siblings.
	events := g.Events()
	out := make(map[string]ScaledCount, n)
	for i, ev := range events {
		raw := binary.LittleEndian.Uint64(buf[24+8*i:])
		out[ev.Name] = ScaledCount{
			Raw:         raw,
			TimeEnabled: enabled,
			TimeRunning: running,
			Value:       scaleCount(raw, enabled, running),
		}
	}
	return out, nil
}

// Close releases every member handle, siblings before the leader.
// Double-close is a no-op.
func (g *Group) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true

	var firstErr error
	for _, s := range g.siblings {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := g.leader.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
