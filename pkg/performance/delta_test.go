// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package performance

import (
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
)

func newTestDeltaCollector(delta DeltaConfig) BaseDeltaCollector {
	config := DefaultCollectionConfig()
	config.Delta = delta
	return NewBaseDeltaCollector(MetricTypeCPU, "test", logr.Discard(), config, CollectorCapabilities{})
}

func TestShouldCalculateDeltas(t *testing.T) {
	delta := DeltaConfig{
		Mode:        DeltaModeEnabled,
		MinInterval: 100 * time.Millisecond,
		MaxInterval: time.Minute,
	}

	t.Run("first collection has no baseline", func(t *testing.T) {
		c := newTestDeltaCollector(delta)
		ok, reason := c.ShouldCalculateDeltas(time.Now())
		assert.False(t, ok)
		assert.Contains(t, reason, "no previous state")
	})

	t.Run("interval inside the window", func(t *testing.T) {
		c := newTestDeltaCollector(delta)
		now := time.Now()
		c.UpdateDeltaState("snapshot", now)

		ok, _ := c.ShouldCalculateDeltas(now.Add(time.Second))
		assert.True(t, ok)
	})

	t.Run("interval too small", func(t *testing.T) {
		c := newTestDeltaCollector(delta)
		now := time.Now()
		c.UpdateDeltaState("snapshot", now)

		ok, reason := c.ShouldCalculateDeltas(now.Add(10 * time.Millisecond))
		assert.False(t, ok)
		assert.Contains(t, reason, "too small")
	})

	t.Run("interval too large", func(t *testing.T) {
		c := newTestDeltaCollector(delta)
		now := time.Now()
		c.UpdateDeltaState("snapshot", now)

		ok, reason := c.ShouldCalculateDeltas(now.Add(2 * time.Minute))
		assert.False(t, ok)
		assert.Contains(t, reason, "too large")
	})

	t.Run("time went backwards", func(t *testing.T) {
		c := newTestDeltaCollector(delta)
		now := time.Now()
		c.UpdateDeltaState("snapshot", now)

		ok, reason := c.ShouldCalculateDeltas(now.Add(-time.Second))
		assert.False(t, ok)
		assert.Contains(t, reason, "backwards")
	})

	t.Run("disabled mode", func(t *testing.T) {
		c := newTestDeltaCollector(DeltaConfig{Mode: DeltaModeDisabled})
		c.UpdateDeltaState("snapshot", time.Now())

		ok, reason := c.ShouldCalculateDeltas(time.Now())
		assert.False(t, ok)
		assert.Contains(t, reason, "disabled")
	})
}

func TestCalculateUint64Delta(t *testing.T) {
	c := newTestDeltaCollector(DefaultDeltaConfig())

	delta, reset := c.CalculateUint64Delta(150, 100)
	assert.Equal(t, uint64(50), delta)
	assert.False(t, reset)

	delta, reset = c.CalculateUint64Delta(100, 100)
	assert.Zero(t, delta)
	assert.False(t, reset)

	// Counter went backwards: reset, not a huge bogus delta.
	delta, reset = c.CalculateUint64Delta(10, 100)
	assert.Zero(t, delta)
	assert.True(t, reset)
}

func TestDeltaStateLifecycle(t *testing.T) {
	c := newTestDeltaCollector(DefaultDeltaConfig())
	assert.False(t, c.HasDeltaState())

	c.UpdateDeltaState("snapshot", time.Now())
	assert.True(t, c.HasDeltaState())

	meta := c.CreateDeltaMetadata(time.Now(), false)
	assert.False(t, meta.IsFirstCollection)

	c.ResetDeltaState()
	assert.False(t, c.HasDeltaState())
	assert.True(t, c.IsFirst)
}
