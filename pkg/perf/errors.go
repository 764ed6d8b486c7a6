// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"errors"
)

// Error taxonomy for counter and session operations. Callers match with
// errors.Is; every error returned by this package wraps exactly one of
// these sentinels (or is a plain I/O error from draining /proc files).
var (
	// ErrPermission: the caller lacks the capability to observe the
	// requested scope (system-wide vs. per-process). Fatal to that
	// counter or session; not retried.
	ErrPermission = errors.New("perf: permission denied")

	// ErrResource: the kernel refused to allocate a hardware counter.
	// Fatal to the request; the caller may retry with fewer counters.
	ErrResource = errors.New("perf: counter allocation exhausted")

	// ErrConfig: invalid event, exclusion, or sampling combination.
	// Indicates a programming or configuration bug; not retried.
	ErrConfig = errors.New("perf: invalid counter configuration")

	// ErrState: operation invoked in the wrong session or group state.
	ErrState = errors.New("perf: invalid state for operation")

	// ErrMapping: the shared-memory sampling buffer could not be mapped.
	ErrMapping = errors.New("perf: ring buffer mapping failed")

	// ErrUnsupported is returned by constructors on non-Linux platforms.
	ErrUnsupported = errors.New("perf: not supported on this platform")
)
