// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package collectors

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pipa-project/agent/pkg/performance"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(procPath string) performance.CollectionConfig {
	return performance.CollectionConfig{
		Interval:     time.Second,
		HostProcPath: procPath,
		HostSysPath:  "/sys",
		Delta: performance.DeltaConfig{
			Mode:        performance.DeltaModeEnabled,
			MinInterval: 0,
			MaxInterval: time.Hour,
		},
	}
}

func writeProcStat(t *testing.T, procPath, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(procPath, "stat"), []byte(content), 0o644))
}

func newCPUCollector(t *testing.T, procPath string) *CPUCollector {
	t.Helper()
	c, err := NewCPUCollector(logr.Discard(), testConfig(procPath))
	require.NoError(t, err)
	return c
}

func TestCPUCollectorFirstCollection(t *testing.T) {
	procPath := t.TempDir()
	writeProcStat(t, procPath,
		"cpu  100 0 50 400 10 5 5 0 0 0\n"+
			"cpu0 100 0 50 400 10 5 5 0 0 0\n"+
			"intr 12345\n")

	c := newCPUCollector(t, procPath)
	data, err := c.Collect(context.Background())
	require.NoError(t, err)

	// No baseline yet: the raw snapshot is returned.
	stats, ok := data.([]performance.CPUStats)
	require.True(t, ok)
	require.Len(t, stats, 2)
	assert.Equal(t, int32(-1), stats[0].CPUIndex)
	assert.Equal(t, uint64(100), stats[0].User)
	assert.Equal(t, uint64(400), stats[0].Idle)
	assert.Equal(t, int32(0), stats[1].CPUIndex)
}

func TestCPUCollectorDelta(t *testing.T) {
	procPath := t.TempDir()
	writeProcStat(t, procPath,
		"cpu  100 0 0 400 0 0 0 0 0 0\n"+
			"cpu0 100 0 0 400 0 0 0 0 0 0\n")

	c := newCPUCollector(t, procPath)
	_, err := c.Collect(context.Background())
	require.NoError(t, err)

	// 50 busy ticks and 50 idle ticks over the interval: 50%.
	writeProcStat(t, procPath,
		"cpu  150 0 0 450 0 0 0 0 0 0\n"+
			"cpu0 150 0 0 450 0 0 0 0 0 0\n")

	data, err := c.Collect(context.Background())
	require.NoError(t, err)

	delta, ok := data.(*performance.CPUDeltaData)
	require.True(t, ok)
	assert.False(t, delta.CounterResetDetected)
	assert.False(t, delta.IsFirstCollection)

	assert.Equal(t, uint64(50), delta.All.User)
	assert.Equal(t, uint64(50), delta.All.Idle)
	require.NotNil(t, delta.All.Utilization)
	assert.InDelta(t, 50.0, *delta.All.Utilization, 1e-9)

	require.Len(t, delta.CPUs, 1)
	assert.Equal(t, int32(0), delta.CPUs[0].CPUIndex)
	require.NotNil(t, delta.CPUs[0].Utilization)
	assert.InDelta(t, 50.0, *delta.CPUs[0].Utilization, 1e-9)
}

func TestCPUCollectorCounterReset(t *testing.T) {
	procPath := t.TempDir()
	writeProcStat(t, procPath, "cpu  1000 0 500 4000 0 0 0 0 0 0\n")

	c := newCPUCollector(t, procPath)
	_, err := c.Collect(context.Background())
	require.NoError(t, err)

	// Counters went backwards: the interval straddles a reboot.
	writeProcStat(t, procPath, "cpu  10 0 5 40 0 0 0 0 0 0\n")

	data, err := c.Collect(context.Background())
	require.NoError(t, err)

	delta, ok := data.(*performance.CPUDeltaData)
	require.True(t, ok)
	assert.True(t, delta.CounterResetDetected)
	assert.Nil(t, delta.All.Utilization, "no utilization across a reset")

	// The next interval is measured against the post-reset snapshot.
	writeProcStat(t, procPath, "cpu  20 0 15 60 0 0 0 0 0 0\n")
	data, err = c.Collect(context.Background())
	require.NoError(t, err)
	delta = data.(*performance.CPUDeltaData)
	assert.False(t, delta.CounterResetDetected)
	require.NotNil(t, delta.All.Utilization)
	assert.InDelta(t, 50.0, *delta.All.Utilization, 1e-9)
}

func TestCPUCollectorMalformedLines(t *testing.T) {
	procPath := t.TempDir()
	writeProcStat(t, procPath,
		"cpu  100 0 50 400\n"+ // short but valid (old kernel)
			"cpu0 garbage 0 50 400\n"+ // bad tick value
			"cpu1 100\n"+ // too few fields
			"cpu2 10 20 30 40 50\n")

	c := newCPUCollector(t, procPath)
	data, err := c.Collect(context.Background())
	require.NoError(t, err)

	stats := data.([]performance.CPUStats)
	require.Len(t, stats, 3)
	assert.Equal(t, int32(-1), stats[0].CPUIndex)
	assert.Equal(t, uint64(400), stats[0].Idle)
	// The bad-tick line is kept with zeroed values, the short one dropped.
	assert.Equal(t, int32(0), stats[1].CPUIndex)
	assert.Zero(t, stats[1].User)
	assert.Equal(t, int32(2), stats[2].CPUIndex)
	assert.Equal(t, uint64(50), stats[2].IOWait)
}

func TestCPUCollectorMissingStat(t *testing.T) {
	c := newCPUCollector(t, t.TempDir())
	_, err := c.Collect(context.Background())
	assert.Error(t, err)
}
