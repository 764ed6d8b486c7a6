// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package performance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u64(v uint64) *uint64 { return &v }

func TestDerive(t *testing.T) {
	t.Run("cpi and ipc", func(t *testing.T) {
		m := Derive(WorkloadCounts{Cycles: u64(1000), Instructions: u64(500)})
		require.NotNil(t, m.CPI)
		assert.Equal(t, 2.0, *m.CPI)
		require.NotNil(t, m.IPC)
		assert.Equal(t, 0.5, *m.IPC)
	})

	t.Run("zero instructions leaves CPI undefined", func(t *testing.T) {
		m := Derive(WorkloadCounts{Cycles: u64(1000), Instructions: u64(0)})
		assert.Nil(t, m.CPI)
		// IPC is 0/1000, which is defined.
		require.NotNil(t, m.IPC)
		assert.Equal(t, 0.0, *m.IPC)
	})

	t.Run("missing counters leave everything undefined", func(t *testing.T) {
		m := Derive(WorkloadCounts{})
		assert.Nil(t, m.CPI)
		assert.Nil(t, m.IPC)
		assert.Nil(t, m.CacheMissRate)
		assert.Nil(t, m.BranchMissRate)
		assert.Nil(t, m.PathLength)
		assert.Nil(t, m.CyclesPerTransaction)
		assert.Nil(t, m.TransactionsPerSecond)
	})

	t.Run("miss rates", func(t *testing.T) {
		m := Derive(WorkloadCounts{
			CacheReferences:    u64(10000),
			CacheMisses:        u64(250),
			BranchInstructions: u64(5000),
			BranchMisses:       u64(50),
		})
		require.NotNil(t, m.CacheMissRate)
		assert.InDelta(t, 0.025, *m.CacheMissRate, 1e-12)
		require.NotNil(t, m.BranchMissRate)
		assert.InDelta(t, 0.01, *m.BranchMissRate, 1e-12)
	})

	t.Run("transaction metrics", func(t *testing.T) {
		m := Derive(WorkloadCounts{
			Cycles:       u64(4_000_000),
			Instructions: u64(2_000_000),
			Transactions: u64(1000),
			Elapsed:      2 * time.Second,
		})
		require.NotNil(t, m.PathLength)
		assert.Equal(t, 2000.0, *m.PathLength)
		require.NotNil(t, m.CyclesPerTransaction)
		assert.Equal(t, 4000.0, *m.CyclesPerTransaction)
		require.NotNil(t, m.TransactionsPerSecond)
		assert.Equal(t, 500.0, *m.TransactionsPerSecond)
	})

	t.Run("zero transactions leave per-transaction metrics undefined", func(t *testing.T) {
		m := Derive(WorkloadCounts{
			Instructions: u64(1000),
			Transactions: u64(0),
			Elapsed:      time.Second,
		})
		assert.Nil(t, m.PathLength)
		assert.Nil(t, m.CyclesPerTransaction)
		require.NotNil(t, m.TransactionsPerSecond)
		assert.Equal(t, 0.0, *m.TransactionsPerSecond)
	})
}

func TestCountsFromCounters(t *testing.T) {
	stats := CounterStats{
		Counters: []CounterValue{
			{Name: "cpu-cycles", Raw: 900, Scaled: u64(1000)},
			{Name: "instructions", Raw: 450, Scaled: u64(500)},
			{Name: "cache-misses", Raw: 10, Scaled: nil}, // never ran
			{Name: "page-faults", Raw: 5, Scaled: u64(5)},
		},
	}

	counts := CountsFromCounters(stats, time.Second)
	require.NotNil(t, counts.Cycles)
	assert.Equal(t, uint64(1000), *counts.Cycles, "scaled value, not raw")
	require.NotNil(t, counts.Instructions)
	assert.Equal(t, uint64(500), *counts.Instructions)
	assert.Nil(t, counts.CacheMisses, "counters that never ran stay absent")
	assert.Equal(t, time.Second, counts.Elapsed)

	m := Derive(counts)
	require.NotNil(t, m.CPI)
	assert.Equal(t, 2.0, *m.CPI)
}

func TestUtilization(t *testing.T) {
	u := Utilization(50, 100)
	require.NotNil(t, u)
	assert.Equal(t, 50.0, *u)

	assert.Nil(t, Utilization(0, 0))

	u = Utilization(0, 100)
	require.NotNil(t, u)
	assert.Equal(t, 0.0, *u)
}
