// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package perf

// Non-Linux stubs so the pure logic in this package (record decoding,
// ring consumption, scaling, the session state machine) tests anywhere.

// Counter is unavailable off Linux.
type Counter struct {
	event Event
}

func Open(event Event, target Target, opts Options) (*Counter, error) {
	return nil, ErrUnsupported
}

func (c *Counter) Event() Event                     { return c.event }
func (c *Counter) FD() int                          { return -1 }
func (c *Counter) Enable() error                    { return ErrUnsupported }
func (c *Counter) Disable() error                   { return ErrUnsupported }
func (c *Counter) Reset() error                     { return ErrUnsupported }
func (c *Counter) Read() (RawCount, error)          { return RawCount{}, ErrUnsupported }
func (c *Counter) ReadScaled() (ScaledCount, error) { return ScaledCount{}, ErrUnsupported }
func (c *Counter) Close() error                     { return nil }

func Available(event Event) bool { return false }

func AvailableEvents() []Event { return nil }

// Group is unavailable off Linux.
type Group struct{}

func OpenGroup(events []Event, target Target, opts Options) (*Group, error) {
	return nil, ErrUnsupported
}

func (g *Group) Events() []Event                          { return nil }
func (g *Group) Start() error                             { return ErrUnsupported }
func (g *Group) Stop() error                              { return ErrUnsupported }
func (g *Group) Reset() error                             { return ErrUnsupported }
func (g *Group) ReadAll() (map[string]ScaledCount, error) { return nil, ErrUnsupported }
func (g *Group) Close() error                             { return nil }

// DefaultDataPages matches the Linux default for config plumbing.
const DefaultDataPages = 64

func OpenSession(event Event, target Target, opts Options, dataPages int) (*Session, error) {
	return nil, ErrUnsupported
}
