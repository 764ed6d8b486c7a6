// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"fmt"
	"sync"
)

// SessionState is the lifecycle position of a sampling session.
// Transitions are strictly forward; there is no way back.
type SessionState int

const (
	// SessionCreated: counter handle open, buffer not yet mapped.
	SessionCreated SessionState = iota
	// SessionArmed: buffer mapped, counter still disabled.
	SessionArmed
	// SessionRunning: counter enabled, kernel may write samples.
	SessionRunning
	// SessionDraining: counter disabled, buffered samples still being
	// read to exhaustion.
	SessionDraining
	// SessionClosed: buffer unmapped, handle closed. Terminal.
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionCreated:
		return "created"
	case SessionArmed:
		return "armed"
	case SessionRunning:
		return "running"
	case SessionDraining:
		return "draining"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// sampleSource is the counter side of a session: enable/disable/close
// on the kernel handle. Split out so the state machine is testable
// without a kernel.
type sampleSource interface {
	Enable() error
	Disable() error
	Close() error
}

// ringMapper owns the shared-memory mapping for a session.
type ringMapper interface {
	Map(format SampleFormat) (*ringBuffer, error)
	Unmap() error
}

// Session couples one counter configured for sampling with its ring
// buffer reader. The only path to termination is
// Running -> Draining -> Closed: stopping disables the counter but the
// buffer must be read to exhaustion before Close releases it, so the
// final batch of samples is never silently discarded.
//
// A Session is owned by one collector; methods are serialized by an
// internal mutex but the intended use is a single polling goroutine.
type Session struct {
	mu     sync.Mutex
	state  SessionState
	source sampleSource
	mapper ringMapper
	ring   *ringBuffer
	format SampleFormat

	lost      uint64 // from PERF_RECORD_LOST, kernel-reported
	throttles uint64
	samples   uint64
}

func newSession(source sampleSource, mapper ringMapper, format SampleFormat) *Session {
	return &Session{
		state:  SessionCreated,
		source: source,
		mapper: mapper,
		format: format,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) stateErr(op string, want SessionState) error {
	return fmt.Errorf("%w: %s in state %s (want %s)", ErrState, op, s.state, want)
}

// Arm maps the sampling buffer. Valid only once, from Created.
func (s *Session) Arm() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionCreated {
		return s.stateErr("arm", SessionCreated)
	}
	ring, err := s.mapper.Map(s.format)
	if err != nil {
		return err
	}
	s.ring = ring
	s.state = SessionArmed
	return nil
}

// Start enables the counter. Valid only from Armed.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionArmed {
		return s.stateErr("start", SessionArmed)
	}
	if err := s.source.Enable(); err != nil {
		return err
	}
	s.state = SessionRunning
	return nil
}

// Stop disables the counter and enters Draining. The kernel writes no
// further samples, but records already in the buffer remain readable
// via Poll until it is exhausted.
//
// Stop enters Draining even when the disable ioctl fails: the buffer
// is still readable and Close must stay reachable so the handle and
// mapping are released. The error is still returned.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionRunning {
		return s.stateErr("stop", SessionRunning)
	}
	s.state = SessionDraining
	return s.source.Disable()
}

// Poll decodes the records currently available in the ring buffer and
// hands each sample to emit, in order. It returns the number of sample
// records delivered. Lost-sample and throttle records are accounted
// internally (see LostSamples) and are not delivered.
//
// Poll is valid while Running or Draining. Each call is bounded by the
// data available on entry and never blocks waiting for the kernel.
func (s *Session) Poll(emit func(*SampleRecord) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionRunning && s.state != SessionDraining {
		return 0, fmt.Errorf("%w: poll in state %s (want running or draining)", ErrState, s.state)
	}

	delivered := 0
	_, err := s.ring.poll(func(rec Record) error {
		switch r := rec.(type) {
		case *SampleRecord:
			s.samples++
			if err := emit(r); err != nil {
				return err
			}
			delivered++
		case *LostRecord:
			s.lost += r.Lost
		case *ThrottleRecord:
			s.throttles++
		}
		return nil
	})
	return delivered, err
}

// Drain polls until the buffer is empty. Valid only while Draining;
// callers stop first, drain, then close.
func (s *Session) Drain(emit func(*SampleRecord) error) (int, error) {
	s.mu.Lock()
	if s.state != SessionDraining {
		defer s.mu.Unlock()
		return 0, s.stateErr("drain", SessionDraining)
	}
	s.mu.Unlock()
	total := 0
	for {
		n, err := s.Poll(emit)
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
	}
}

// Close unmaps the buffer and releases the counter handle. Valid from
// Created, Armed or Draining; closing a Running session is a contract
// violation (it would discard the final batch) and fails with ErrState.
// Closing an already Closed session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SessionClosed:
		return nil
	case SessionRunning:
		return fmt.Errorf("%w: close while running; stop and drain first", ErrState)
	}

	var firstErr error
	if s.ring != nil {
		if err := s.mapper.Unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.ring = nil
	}
	if err := s.source.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.state = SessionClosed
	return firstErr
}

// LostSamples reports the cumulative kernel-reported count of samples
// dropped because the consumer fell behind. Lost samples are a metric,
// never a fatal condition.
func (s *Session) LostSamples() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lost
}

// Samples reports the cumulative number of sample records delivered.
func (s *Session) Samples() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

// Throttles reports how many times the kernel throttled or unthrottled
// the event due to sampling overhead.
func (s *Session) Throttles() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.throttles
}
