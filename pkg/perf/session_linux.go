// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package perf

import (
	"fmt"

	"github.com/cilium/ebpf/rlimit"
)

// DefaultDataPages is the sampling buffer size used when the caller
// does not specify one: 64 data pages (256 KiB on 4 KiB pages).
const DefaultDataPages = 64

// OpenSession opens a counter configured for sampling and couples it
// with an unmapped ring buffer. The session starts in Created; call
// Arm, then Start. dataPages must be a power of two (0 selects
// DefaultDataPages).
func OpenSession(event Event, target Target, opts Options, dataPages int) (*Session, error) {
	if opts.SamplePeriod == 0 {
		return nil, fmt.Errorf("%w: sampling session needs a sample period", ErrConfig)
	}
	if dataPages == 0 {
		dataPages = DefaultDataPages
	}

	// Sampling buffers are charged against RLIMIT_MEMLOCK for
	// unprivileged processes; lift it before mapping.
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("removing memlock limit: %w", err)
	}

	counter, err := Open(event, target, opts)
	if err != nil {
		return nil, err
	}
	return newSession(counter, newRingMapping(counter.fd, dataPages), opts.SampleFormat), nil
}
