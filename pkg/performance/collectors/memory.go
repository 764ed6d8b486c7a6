// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package collectors

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pipa-project/agent/pkg/performance"

	"github.com/go-logr/logr"
)

func init() {
	performance.Register(performance.MetricTypeMemory, performance.PartialNewContinuousPointCollector(
		func(logger logr.Logger, config performance.CollectionConfig) (performance.PointCollector, error) {
			return NewMemoryCollector(logger, config)
		},
	))
}

// Compile-time interface check
var _ performance.PointCollector = (*MemoryCollector)(nil)

// MemoryCollector collects runtime memory statistics from /proc/meminfo.
//
// Parsing is tolerant: a line that is absent or malformed leaves its
// field nil instead of failing the whole collection, so one bad line on
// an exotic kernel does not take memory monitoring down with it.
//
// Reference: https://www.kernel.org/doc/html/latest/filesystems/proc.html#meminfo
type MemoryCollector struct {
	performance.BaseCollector
	meminfoPath string
}

func NewMemoryCollector(logger logr.Logger, config performance.CollectionConfig) (*MemoryCollector, error) {
	if err := config.Validate(performance.ValidateOptions{RequireHostProcPath: true}); err != nil {
		return nil, err
	}

	capabilities := performance.CollectorCapabilities{
		SupportsOneShot:      true,
		SupportsContinuous:   false,
		RequiredCapabilities: nil,     // /proc/meminfo is world-readable
		MinKernelVersion:     "2.6.0", // /proc/meminfo has been around forever
	}

	return &MemoryCollector{
		BaseCollector: performance.NewBaseCollector(
			performance.MetricTypeMemory,
			"System Memory Collector",
			logger,
			config,
			capabilities,
		),
		meminfoPath: filepath.Join(config.HostProcPath, "meminfo"),
	}, nil
}

// Collect performs a one-shot collection of memory statistics
func (c *MemoryCollector) Collect(ctx context.Context) (any, error) {
	stats, err := c.collectMemoryStats()
	if err != nil {
		return nil, fmt.Errorf("failed to collect memory stats: %w", err)
	}
	c.Logger().V(1).Info("Collected memory statistics")
	return stats, nil
}

// collectMemoryStats parses /proc/meminfo. Lines look like:
//
//	MemTotal:       16384256 kB
//
// Values are kB except a few unitless counts, none of which this
// collector reads.
func (c *MemoryCollector) collectMemoryStats() (*performance.MemoryStats, error) {
	file, err := os.Open(c.meminfoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", c.meminfoPath, err)
	}
	defer file.Close()

	stats := &performance.MemoryStats{}
	fields := map[string]**uint64{
		"MemTotal":     &stats.MemTotal,
		"MemFree":      &stats.MemFree,
		"MemAvailable": &stats.MemAvailable,
		"Buffers":      &stats.Buffers,
		"Cached":       &stats.Cached,
		"SwapTotal":    &stats.SwapTotal,
		"SwapFree":     &stats.SwapFree,
		"Dirty":        &stats.Dirty,
		"Writeback":    &stats.Writeback,
		"AnonPages":    &stats.AnonPages,
		"Mapped":       &stats.Mapped,
		"Shmem":        &stats.Shmem,
	}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		name, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		dst, wanted := fields[strings.TrimSpace(name)]
		if !wanted {
			continue
		}

		parts := strings.Fields(rest)
		if len(parts) == 0 {
			c.Logger().V(1).Info("Skipping meminfo line without value", "field", name)
			continue
		}
		value, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			c.Logger().V(1).Info("Skipping malformed meminfo value",
				"field", name, "value", parts[0])
			continue
		}
		v := value
		*dst = &v
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", c.meminfoPath, err)
	}
	return stats, nil
}
