// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package collectors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pipa-project/agent/pkg/performance"

	"github.com/go-logr/logr"
)

func init() {
	performance.Register(performance.MetricTypeCPU, performance.PartialNewContinuousPointCollector(
		func(logger logr.Logger, config performance.CollectionConfig) (performance.PointCollector, error) {
			return NewCPUCollector(logger, config)
		},
	))
}

// Compile-time interface check
var _ performance.PointCollector = (*CPUCollector)(nil)

// CPUCollector collects CPU statistics from /proc/stat.
//
// It reads the aggregate "cpu" line and every per-CPU line, then
// derives per-interval utilization from the delta against the previous
// collection. CPU times are in jiffies (USER_HZ units, typically 100/s).
//
// Reference: https://www.kernel.org/doc/html/latest/filesystems/proc.html#proc-stat
type CPUCollector struct {
	performance.BaseDeltaCollector
	statPath string
}

func NewCPUCollector(logger logr.Logger, config performance.CollectionConfig) (*CPUCollector, error) {
	if err := config.Validate(performance.ValidateOptions{RequireHostProcPath: true}); err != nil {
		return nil, err
	}

	capabilities := performance.CollectorCapabilities{
		SupportsOneShot:      true,
		SupportsContinuous:   false,
		RequiredCapabilities: nil,     // /proc/stat is world-readable
		MinKernelVersion:     "2.6.0", // /proc/stat has been around forever
	}

	return &CPUCollector{
		BaseDeltaCollector: performance.NewBaseDeltaCollector(
			performance.MetricTypeCPU,
			"CPU Statistics Collector",
			logger,
			config,
			capabilities,
		),
		statPath: filepath.Join(config.HostProcPath, "stat"),
	}, nil
}

// Collect reads /proc/stat and, when a previous snapshot exists within
// the delta window, returns a CPUDeltaData with per-interval
// utilization. The first collection (and any collection after a counter
// reset or out-of-window interval) returns the raw snapshot instead.
func (c *CPUCollector) Collect(ctx context.Context) (any, error) {
	currentTime := time.Now()

	currentStats, err := c.collectCPUStats()
	if err != nil {
		return nil, fmt.Errorf("failed to collect CPU stats: %w", err)
	}

	shouldCalc, reason := c.ShouldCalculateDeltas(currentTime)
	if !shouldCalc {
		c.Logger().V(2).Info("Skipping delta calculation", "reason", reason)
		c.UpdateDeltaState(currentStats, currentTime)
		return currentStats, nil
	}

	previousStats, ok := c.LastSnapshot.([]performance.CPUStats)
	if !ok || previousStats == nil {
		c.UpdateDeltaState(currentStats, currentTime)
		return currentStats, nil
	}

	delta := c.calculateDeltas(currentStats, previousStats, currentTime)
	c.UpdateDeltaState(currentStats, currentTime)

	c.Logger().V(1).Info("Collected CPU statistics", "cpus", len(currentStats)-1)
	return delta, nil
}

// collectCPUStats reads and parses /proc/stat. The aggregate "cpu" line
// comes first with CPUIndex -1, followed by per-CPU entries.
//
// Line format: cpu user nice system idle iowait irq softirq [steal guest guest_nice]
func (c *CPUCollector) collectCPUStats() ([]performance.CPUStats, error) {
	statData, err := os.ReadFile(c.statPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.statPath, err)
	}

	var cpuStats []performance.CPUStats
	for _, line := range strings.Split(string(statData), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "cpu") {
			continue
		}

		fields := strings.Fields(line)
		// Need at least: cpu user nice system idle
		if len(fields) < 5 {
			c.Logger().V(1).Info("Skipping malformed cpu line", "line", line)
			continue
		}

		var index int32 = -1
		if fields[0] != "cpu" {
			n, err := strconv.ParseInt(strings.TrimPrefix(fields[0], "cpu"), 10, 32)
			if err != nil {
				c.Logger().V(1).Info("Skipping unparseable cpu index", "field", fields[0])
				continue
			}
			index = int32(n)
		}

		stats := performance.CPUStats{CPUIndex: index}
		// Ticks in order; fields past idle are optional on old kernels.
		ticks := []*uint64{
			&stats.User, &stats.Nice, &stats.System, &stats.Idle,
			&stats.IOWait, &stats.IRQ, &stats.SoftIRQ, &stats.Steal,
			&stats.Guest, &stats.GuestNice,
		}
		for i, dst := range ticks {
			if i+1 >= len(fields) {
				break
			}
			v, err := strconv.ParseUint(fields[i+1], 10, 64)
			if err != nil {
				// A malformed field invalidates the whole line; keep the
				// CPU entry with zeroed ticks rather than fail the read.
				c.Logger().V(1).Info("Zeroing cpu line with bad tick value",
					"line", line, "field", fields[i+1])
				stats = performance.CPUStats{CPUIndex: index}
				break
			}
			*dst = v
		}
		cpuStats = append(cpuStats, stats)
	}

	if len(cpuStats) == 0 {
		return nil, fmt.Errorf("no cpu lines in %s", c.statPath)
	}
	return cpuStats, nil
}

// calculateDeltas pairs current and previous snapshots by CPU index. A
// reset on any counter discards that CPU's utilization for the interval
// and flags the metadata.
func (c *CPUCollector) calculateDeltas(current, previous []performance.CPUStats, now time.Time) *performance.CPUDeltaData {
	prevByIndex := make(map[int32]performance.CPUStats, len(previous))
	for _, p := range previous {
		prevByIndex[p.CPUIndex] = p
	}

	resetDetected := false
	delta := &performance.CPUDeltaData{}

	for _, cur := range current {
		prev, ok := prevByIndex[cur.CPUIndex]
		if !ok {
			// CPU came online mid-interval; no baseline yet.
			continue
		}

		util, reset := c.cpuDelta(cur, prev)
		if reset {
			resetDetected = true
		}
		if cur.CPUIndex == -1 {
			delta.All = util
		} else {
			delta.CPUs = append(delta.CPUs, util)
		}
	}

	delta.DeltaMetadata = c.CreateDeltaMetadata(now, resetDetected)
	return delta
}

func (c *CPUCollector) cpuDelta(cur, prev performance.CPUStats) (performance.CPUUtilization, bool) {
	util := performance.CPUUtilization{CPUIndex: cur.CPUIndex}

	pairs := []struct {
		dst      *uint64
		cur, pre uint64
	}{
		{&util.User, cur.User, prev.User},
		{&util.Nice, cur.Nice, prev.Nice},
		{&util.System, cur.System, prev.System},
		{&util.Idle, cur.Idle, prev.Idle},
		{&util.IOWait, cur.IOWait, prev.IOWait},
		{&util.IRQ, cur.IRQ, prev.IRQ},
		{&util.SoftIRQ, cur.SoftIRQ, prev.SoftIRQ},
		{&util.Steal, cur.Steal, prev.Steal},
	}

	for _, p := range pairs {
		d, reset := c.CalculateUint64Delta(p.cur, p.pre)
		if reset {
			// Leave utilization nil; the interval straddles a reboot.
			return performance.CPUUtilization{CPUIndex: cur.CPUIndex}, true
		}
		*p.dst = d
	}

	busy := util.User + util.Nice + util.System + util.IRQ + util.SoftIRQ + util.Steal
	total := busy + util.Idle + util.IOWait
	util.Utilization = performance.Utilization(busy, total)
	return util, false
}
