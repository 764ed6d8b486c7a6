// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package performance

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"
)

// BaseDeltaCollector provides common delta calculation functionality for
// collectors that derive rates from cumulative procfs counters.
type BaseDeltaCollector struct {
	BaseCollector
	config       DeltaConfig
	LastSnapshot any
	LastTime     time.Time
	IsFirst      bool
}

// NewBaseDeltaCollector creates a new base delta collector
func NewBaseDeltaCollector(
	metricType MetricType,
	name string,
	logger logr.Logger,
	config CollectionConfig,
	capabilities CollectorCapabilities,
) BaseDeltaCollector {
	return BaseDeltaCollector{
		BaseCollector: NewBaseCollector(metricType, name, logger, config, capabilities),
		config:        config.Delta,
		IsFirst:       true,
	}
}

// ResetDeltaState clears the delta calculation state
func (b *BaseDeltaCollector) ResetDeltaState() {
	b.LastSnapshot = nil
	b.LastTime = time.Time{}
	b.IsFirst = true
	b.Logger().V(1).Info("Delta state reset")
}

// HasDeltaState returns whether there is previous state for delta calculation
func (b *BaseDeltaCollector) HasDeltaState() bool {
	return !b.IsFirst && b.LastSnapshot != nil
}

// UpdateDeltaState updates the internal state after a successful collection
func (b *BaseDeltaCollector) UpdateDeltaState(snapshot any, currentTime time.Time) {
	b.LastSnapshot = snapshot
	b.LastTime = currentTime
	b.IsFirst = false
}

// ShouldCalculateDeltas checks if delta calculation should proceed.
// The second return value is the reason when it should not.
func (b *BaseDeltaCollector) ShouldCalculateDeltas(currentTime time.Time) (bool, string) {
	if b.config.Mode == DeltaModeDisabled {
		return false, "delta calculation disabled"
	}

	if b.IsFirst || b.LastTime.IsZero() {
		return false, "no previous state available"
	}

	interval := currentTime.Sub(b.LastTime)

	if interval < 0 {
		return false, "time went backwards"
	}
	if interval > b.config.MaxInterval {
		return false, fmt.Sprintf("interval too large (%v > %v)", interval, b.config.MaxInterval)
	}
	if interval < b.config.MinInterval {
		return false, fmt.Sprintf("interval too small (%v < %v)", interval, b.config.MinInterval)
	}

	return true, ""
}

// CreateDeltaMetadata creates metadata for this collection
func (b *BaseDeltaCollector) CreateDeltaMetadata(currentTime time.Time, resetDetected bool) DeltaMetadata {
	var interval time.Duration
	if !b.IsFirst && !b.LastTime.IsZero() {
		interval = currentTime.Sub(b.LastTime)
	}

	return DeltaMetadata{
		CollectionInterval:   interval,
		LastCollectionTime:   b.LastTime,
		IsFirstCollection:    b.IsFirst,
		CounterResetDetected: resetDetected,
	}
}

// CalculateUint64Delta calculates the delta for a cumulative uint64
// counter. A current value below the previous one means the counter was
// reset (reboot, wraparound); the delta for that interval is unusable
// and the reset is flagged instead of producing a bogus huge delta.
func (b *BaseDeltaCollector) CalculateUint64Delta(current, previous uint64) (delta uint64, resetDetected bool) {
	if current < previous {
		return 0, true
	}
	return current - previous, false
}
