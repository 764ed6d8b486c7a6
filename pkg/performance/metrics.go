// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package performance

import "time"

// WorkloadCounts is the input to derived-metric computation: scaled
// counter totals for one measurement window plus optional workload
// context. Pointer fields are absent when the counter was not collected
// or never ran.
type WorkloadCounts struct {
	Cycles             *uint64
	Instructions       *uint64
	CacheReferences    *uint64
	CacheMisses        *uint64
	BranchInstructions *uint64
	BranchMisses       *uint64

	// Transactions is the workload's own unit of work count, when the
	// caller has one. Enables per-transaction metrics.
	Transactions *uint64
	// Elapsed is the wall-clock measurement window.
	Elapsed time.Duration
}

// DerivedMetrics holds ratio metrics computed from WorkloadCounts.
// Every field is nil when its inputs are absent or its denominator is
// zero; a derived metric is never fabricated from partial data.
type DerivedMetrics struct {
	// CPI is cycles per instruction.
	CPI *float64
	// IPC is instructions per cycle, the inverse view of CPI.
	IPC *float64
	// CacheMissRate is misses over references, 0..1.
	CacheMissRate *float64
	// BranchMissRate is mispredictions over branch instructions, 0..1.
	BranchMissRate *float64
	// PathLength is instructions per transaction.
	PathLength *float64
	// CyclesPerTransaction is cycles per transaction.
	CyclesPerTransaction *float64
	// TransactionsPerSecond is throughput over the elapsed window.
	TransactionsPerSecond *float64
}

// Derive computes every ratio whose inputs are present. Pure function:
// no clamping, no substitution of defaults for missing counters.
func Derive(in WorkloadCounts) DerivedMetrics {
	out := DerivedMetrics{
		CPI:                  ratio(in.Cycles, in.Instructions),
		IPC:                  ratio(in.Instructions, in.Cycles),
		CacheMissRate:        ratio(in.CacheMisses, in.CacheReferences),
		BranchMissRate:       ratio(in.BranchMisses, in.BranchInstructions),
		PathLength:           ratio(in.Instructions, in.Transactions),
		CyclesPerTransaction: ratio(in.Cycles, in.Transactions),
	}

	if in.Transactions != nil && in.Elapsed > 0 {
		tps := float64(*in.Transactions) / in.Elapsed.Seconds()
		out.TransactionsPerSecond = &tps
	}
	return out
}

// CountsFromCounters maps a counter group read onto WorkloadCounts by
// event name, taking the scaled values.
func CountsFromCounters(stats CounterStats, elapsed time.Duration) WorkloadCounts {
	out := WorkloadCounts{Elapsed: elapsed}
	for _, c := range stats.Counters {
		if c.Scaled == nil {
			continue
		}
		switch c.Name {
		case "cpu-cycles":
			out.Cycles = c.Scaled
		case "instructions":
			out.Instructions = c.Scaled
		case "cache-references":
			out.CacheReferences = c.Scaled
		case "cache-misses":
			out.CacheMisses = c.Scaled
		case "branch-instructions":
			out.BranchInstructions = c.Scaled
		case "branch-misses":
			out.BranchMisses = c.Scaled
		}
	}
	return out
}

// Utilization computes busy/total over delta ticks as a percentage.
// Returns nil when no ticks elapsed.
func Utilization(busy, total uint64) *float64 {
	if total == 0 {
		return nil
	}
	u := 100 * float64(busy) / float64(total)
	return &u
}

func ratio(num, den *uint64) *float64 {
	if num == nil || den == nil || *den == 0 {
		return nil
	}
	r := float64(*num) / float64(*den)
	return &r
}
