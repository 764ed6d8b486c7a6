// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

// Package perf is the performance-counter acquisition engine. It wraps
// perf_event_open(2) counters and counter groups, and consumes the
// kernel's memory-mapped sampling ring buffer.
//
// The package exposes three layers:
//
//   - Counter: a single kernel counter handle with its configuration.
//   - Group: a leader counter plus siblings read atomically as one unit,
//     with multiplexing-corrected (scaled) values.
//   - Session: a counter configured for sampling coupled with its ring
//     buffer reader, driven through an explicit state machine.
//
// All kernel interaction is Linux-only; on other platforms constructors
// return ErrUnsupported so that unit tests for the pure logic (record
// decoding, ring consumption, scaling, the session state machine) still
// build and run.
package perf
