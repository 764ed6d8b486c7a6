// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"math/bits"
	"time"
)

// scaleCount corrects a raw counter value for multiplexing. When the
// kernel time-shares hardware counters, a counter only runs for
// time_running out of time_enabled; the unbiased estimate of the full
// count is raw * enabled / running.
//
// The multiplication is done in 128 bits so large cycle counts scale
// exactly. A counter that never ran carries no information: the result
// is nil, never zero and never a division artifact.
func scaleCount(raw uint64, enabled, running time.Duration) *uint64 {
	if running <= 0 {
		return nil
	}
	if running >= enabled {
		// Not multiplexed; the raw value is exact.
		v := raw
		return &v
	}
	hi, lo := bits.Mul64(raw, uint64(enabled))
	scaled, _ := bits.Div64(hi, lo, uint64(running))
	return &scaled
}

func durationFromNanos(ns uint64) time.Duration {
	return time.Duration(ns)
}
