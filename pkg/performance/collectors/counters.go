// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package collectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pipa-project/agent/pkg/perf"
	"github.com/pipa-project/agent/pkg/performance"
	"github.com/pipa-project/agent/pkg/performance/capabilities"

	"github.com/go-logr/logr"
)

func init() {
	performance.TryRegister(performance.MetricTypeCounters,
		func(logger logr.Logger, config performance.CollectionConfig) (performance.ContinuousCollector, error) {
			return NewCountersCollector(logger, config)
		},
	)
}

// Compile-time interface check
var _ performance.ContinuousCollector = (*CountersCollector)(nil)

// CountersCollector reads a hardware counter group on an interval.
//
// All configured events are opened as one perf group so their values
// are read atomically and share a single multiplexing correction. The
// emitted values are scaled; raw values are silently wrong whenever the
// PMU multiplexed the group.
type CountersCollector struct {
	performance.BaseContinuousCollector
	events []perf.Event
	target perf.Target

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewCountersCollector(logger logr.Logger, config performance.CollectionConfig) (*CountersCollector, error) {
	if err := config.Validate(performance.ValidateOptions{}); err != nil {
		return nil, err
	}

	events := make([]perf.Event, 0, len(config.Events))
	for _, name := range config.Events {
		ev, err := perf.LookupEvent(name)
		if err != nil {
			return nil, fmt.Errorf("resolving counter event: %w", err)
		}
		events = append(events, ev)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: counter collector needs at least one event", perf.ErrConfig)
	}

	caps := performance.CollectorCapabilities{
		SupportsContinuous:   true,
		RequiredCapabilities: capabilities.PerfCapabilities(),
		MinKernelVersion:     "2.6.32", // perf_event_open
	}

	return &CountersCollector{
		BaseContinuousCollector: performance.NewBaseContinuousCollector(
			performance.MetricTypeCounters,
			"Hardware Counter Collector",
			logger,
			config,
			caps,
		),
		events: events,
		target: perf.AnyCPU(config.TargetPid),
	}, nil
}

func (c *CountersCollector) Start(ctx context.Context) (<-chan any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return nil, fmt.Errorf("collector %s already started", c.Name())
	}

	group, err := perf.OpenGroup(c.events, c.target, perf.Options{ExcludeHypervisor: true})
	if err != nil {
		c.SetError(err)
		return nil, err
	}
	if err := group.Start(); err != nil {
		group.Close()
		c.SetError(err)
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	buffer := c.Config().ChannelBuffer
	if buffer <= 0 {
		buffer = 1
	}
	out := make(chan any, buffer)

	c.SetStatus(performance.CollectorStatusActive)
	go c.run(ctx, group, out)
	return out, nil
}

func (c *CountersCollector) run(ctx context.Context, group *perf.Group, out chan<- any) {
	defer close(out)
	defer close(c.done)
	defer func() {
		if err := group.Stop(); err != nil {
			c.Logger().Error(err, "stopping counter group")
		}
		if err := group.Close(); err != nil {
			c.Logger().Error(err, "closing counter group")
		}
	}()

	ticker := time.NewTicker(c.Config().Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := group.ReadAll()
			if err != nil {
				c.SetError(err)
				continue
			}
			c.ClearError()
			c.SetStatus(performance.CollectorStatusActive)

			stats := c.buildStats(counts)
			select {
			case out <- stats:
			default:
				c.Logger().V(1).Info("dropping counter read, channel full")
			}
		}
	}
}

// buildStats converts a group read into CounterStats, preserving the
// configured event order.
func (c *CountersCollector) buildStats(counts map[string]perf.ScaledCount) *performance.CounterStats {
	stats := &performance.CounterStats{
		Timestamp: time.Now(),
		Target:    c.target.String(),
		Counters:  make([]performance.CounterValue, 0, len(c.events)),
	}
	for _, ev := range c.events {
		sc, ok := counts[ev.Name]
		if !ok {
			continue
		}
		stats.Counters = append(stats.Counters, performance.CounterValue{
			Name:        ev.Name,
			Raw:         sc.Raw,
			Scaled:      sc.Value,
			TimeEnabled: sc.TimeEnabled,
			TimeRunning: sc.TimeRunning,
			Multiplexed: sc.Multiplexed(),
		})
	}
	return stats
}

func (c *CountersCollector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		return nil
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
	c.SetStatus(performance.CollectorStatusDisabled)
	return nil
}
