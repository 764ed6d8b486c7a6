// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipa-project/agent/internal/config"
	"github.com/pipa-project/agent/pkg/performance"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const fullConfig = `
logging:
  level: 1
  development: true
collection:
  interval: 5s
  collectors: [cpu, counters]
  hostProcPath: /host/proc
  hostSysPath: /host/sys
  minDeltaInterval: 200ms
  maxDeltaInterval: 5m
counters:
  events: [instructions, cpu-cycles]
  targetPid: 1234
sampling:
  period: 50000
  dataPages: 128
`

func TestLoad(t *testing.T) {
	t.Run("full config", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), fullConfig)

		cfg, err := config.Load(path)
		require.NoError(t, err)

		assert.Equal(t, 1, cfg.Logging.Level)
		assert.True(t, cfg.Logging.Development)

		cc, err := cfg.CollectionConfig()
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, cc.Interval)
		assert.Equal(t, "/host/proc", cc.HostProcPath)
		assert.Equal(t, "/host/sys", cc.HostSysPath)
		assert.Equal(t, 200*time.Millisecond, cc.Delta.MinInterval)
		assert.Equal(t, 5*time.Minute, cc.Delta.MaxInterval)
		assert.Equal(t, []string{"instructions", "cpu-cycles"}, cc.Events)
		assert.Equal(t, 1234, cc.TargetPid)
		assert.Equal(t, uint64(50000), cc.SamplePeriod)
		assert.Equal(t, 128, cc.SampleDataPages)

		assert.True(t, cc.EnabledCollectors[performance.MetricTypeCPU])
		assert.True(t, cc.EnabledCollectors[performance.MetricTypeCounters])
		assert.False(t, cc.EnabledCollectors[performance.MetricTypeMemory])
	})

	t.Run("partial config gets defaults", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "collection:\n  interval: 2s\n")

		cfg, err := config.Load(path)
		require.NoError(t, err)

		cc, err := cfg.CollectionConfig()
		require.NoError(t, err)

		defaults := performance.DefaultCollectionConfig()
		assert.Equal(t, 2*time.Second, cc.Interval)
		assert.Equal(t, defaults.HostProcPath, cc.HostProcPath)
		assert.Equal(t, defaults.Events, cc.Events)
		assert.Equal(t, defaults.SamplePeriod, cc.SamplePeriod)
		assert.Equal(t, defaults.EnabledCollectors, cc.EnabledCollectors)
	})

	t.Run("explicit collector list disables unlisted types", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "collection:\n  collectors: [cpu]\n")

		cfg, err := config.Load(path)
		require.NoError(t, err)

		cc, err := cfg.CollectionConfig()
		require.NoError(t, err)

		// Unlisted types must carry an explicit false so the manager
		// skips them instead of falling back to the default set.
		assert.Equal(t, map[performance.MetricType]bool{
			performance.MetricTypeCPU:      true,
			performance.MetricTypeMemory:   false,
			performance.MetricTypeCounters: false,
			performance.MetricTypeSamples:  false,
		}, cc.EnabledCollectors)
	})

	t.Run("unknown collector rejected", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "collection:\n  collectors: [gpu]\n")

		_, err := config.Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown collector")
	})

	t.Run("relative proc path rejected", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "collection:\n  hostProcPath: proc\n")

		_, err := config.Load(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("empty file", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "")
		_, err := config.Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeConfig(t, t.TempDir(), "collection: [not a map\n")
		_, err := config.Load(path)
		assert.Error(t, err)
	})
}

func TestFSLoaderWatch(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "collection:\n  interval: 1s\n")

	fl, err := config.NewFSLoader(path, testr.New(t))
	require.NoError(t, err)
	defer fl.Close()

	ch := fl.Watch()

	// The current config is delivered immediately.
	select {
	case cfg := <-ch:
		assert.Equal(t, time.Second, cfg.Collection.Interval)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial config")
	}

	writeConfig(t, dir, "collection:\n  interval: 3s\n")

	select {
	case cfg := <-ch:
		assert.Equal(t, 3*time.Second, cfg.Collection.Interval)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reloaded config")
	}

	assert.Equal(t, 3*time.Second, fl.Current().Collection.Interval)
}

func TestFSLoaderKeepsPreviousOnInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "collection:\n  interval: 1s\n")

	fl, err := config.NewFSLoader(path, testr.New(t))
	require.NoError(t, err)
	defer fl.Close()

	writeConfig(t, dir, "collection: [broken\n")

	// The bad write must not clobber the loaded config.
	assert.Never(t, func() bool {
		return fl.Current().Collection.Interval != time.Second
	}, 500*time.Millisecond, 50*time.Millisecond)
}

func TestFSLoaderRejectsInvalidInitialFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "collection: [broken\n")

	_, err := config.NewFSLoader(path, testr.New(t))
	assert.Error(t, err)
}

func TestFSLoaderClose(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "collection:\n  interval: 1s\n")

	fl, err := config.NewFSLoader(path, testr.New(t))
	require.NoError(t, err)

	ch := fl.Watch()
	<-ch

	require.NoError(t, fl.Close())

	_, open := <-ch
	assert.False(t, open)

	// Watch after Close returns a closed channel.
	_, open = <-fl.Watch()
	assert.False(t, open)
}
