// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupEvent(t *testing.T) {
	t.Run("exact name", func(t *testing.T) {
		ev, err := LookupEvent("cpu-cycles")
		require.NoError(t, err)
		assert.Equal(t, CPUCycles, ev)
	})

	t.Run("exact match wins over substring", func(t *testing.T) {
		// "page-faults" is a prefix of minor/major fault names via
		// substring matching; the exact entry must win.
		ev, err := LookupEvent("page-faults")
		require.NoError(t, err)
		assert.Equal(t, PageFaults, ev)
	})

	t.Run("unique substring", func(t *testing.T) {
		ev, err := LookupEvent("task")
		require.NoError(t, err)
		assert.Equal(t, TaskClock, ev)

		ev, err = LookupEvent("MIGRATIONS")
		require.NoError(t, err)
		assert.Equal(t, CPUMigrations, ev)
	})

	t.Run("ambiguous substring", func(t *testing.T) {
		_, err := LookupEvent("branch")
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := LookupEvent("no-such-event")
		assert.ErrorIs(t, err, ErrConfig)
	})
}

func TestEventsReturnsCopy(t *testing.T) {
	events := Events()
	require.NotEmpty(t, events)

	events[0] = Event{Name: "clobbered"}
	fresh := Events()
	assert.NotEqual(t, "clobbered", fresh[0].Name)
}

func TestTargetHelpers(t *testing.T) {
	assert.Equal(t, Target{Pid: 1234, CPU: -1}, AnyCPU(1234))
	assert.Equal(t, Target{Pid: -1, CPU: 2}, SystemWide(2))
	assert.Equal(t, "pid=-1/cpu=2", SystemWide(2).String())
}
