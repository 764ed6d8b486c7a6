// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package collectors

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pipa-project/agent/pkg/perf"
	"github.com/pipa-project/agent/pkg/performance"
	"github.com/pipa-project/agent/pkg/performance/capabilities"

	"github.com/go-logr/logr"
)

func init() {
	performance.TryRegister(performance.MetricTypeSamples,
		func(logger logr.Logger, config performance.CollectionConfig) (performance.ContinuousCollector, error) {
			return NewSamplerCollector(logger, config)
		},
	)
}

// Compile-time interface check
var _ performance.ContinuousCollector = (*SamplerCollector)(nil)

// SamplerCollector runs a sampling session on cpu-clock and streams
// batches of decoded samples.
//
// The ring buffer is polled on the collection interval; each poll emits
// one SampleBatch. Stopping goes through the session's mandatory drain
// so the final batch of samples is delivered, not discarded. Kernel-side
// drops (consumer fell behind) ride along in each batch as the
// cumulative lost count.
type SamplerCollector struct {
	performance.BaseContinuousCollector
	event  perf.Event
	target perf.Target

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	session *perf.Session

	channelDrops atomic.Uint64
}

// sampleFormat is fixed for the collector: enough to attribute a sample
// to a code location, task, moment and CPU.
var sampleFormat = perf.SampleFormat{
	IP:     true,
	Tid:    true,
	Time:   true,
	CPU:    true,
	Period: true,
}

func NewSamplerCollector(logger logr.Logger, config performance.CollectionConfig) (*SamplerCollector, error) {
	if err := config.Validate(performance.ValidateOptions{}); err != nil {
		return nil, err
	}
	if config.SamplePeriod == 0 {
		return nil, fmt.Errorf("%w: sampler needs a sample period", perf.ErrConfig)
	}

	caps := performance.CollectorCapabilities{
		SupportsContinuous:   true,
		RequiredCapabilities: capabilities.PerfCapabilities(),
		MinKernelVersion:     "2.6.32", // perf_event_open
	}

	return &SamplerCollector{
		BaseContinuousCollector: performance.NewBaseContinuousCollector(
			performance.MetricTypeSamples,
			"CPU Sampling Collector",
			logger,
			config,
			caps,
		),
		// cpu-clock samples fire on any CPU even without a PMU, which
		// keeps the sampler usable inside VMs.
		event:  perf.CPUClock,
		target: perf.AnyCPU(config.TargetPid),
	}, nil
}

func (c *SamplerCollector) Start(ctx context.Context) (<-chan any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return nil, fmt.Errorf("collector %s already started", c.Name())
	}

	config := c.Config()
	session, err := perf.OpenSession(c.event, c.target, perf.Options{
		ExcludeHypervisor: true,
		SamplePeriod:      config.SamplePeriod,
		SampleFormat:      sampleFormat,
	}, config.SampleDataPages)
	if err != nil {
		c.SetError(err)
		return nil, err
	}

	if err := session.Arm(); err != nil {
		session.Close()
		c.SetError(err)
		return nil, err
	}
	if err := session.Start(); err != nil {
		session.Close()
		c.SetError(err)
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.session = session

	buffer := config.ChannelBuffer
	if buffer <= 0 {
		buffer = 1
	}
	out := make(chan any, buffer)

	c.SetStatus(performance.CollectorStatusActive)
	go c.run(ctx, session, out)
	return out, nil
}

func (c *SamplerCollector) run(ctx context.Context, session *perf.Session, out chan<- any) {
	defer close(out)
	defer close(c.done)

	ticker := time.NewTicker(c.Config().Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown(session, out)
			return
		case <-ticker.C:
			batch, err := c.poll(session, session.Poll)
			if err != nil {
				c.SetError(err)
				continue
			}
			c.ClearError()
			c.SetStatus(performance.CollectorStatusActive)
			if len(batch.Samples) > 0 || batch.Lost > 0 {
				c.emit(batch, out)
			}
		}
	}
}

// shutdown walks the session termination path: disable, drain the
// buffer to exhaustion, emit whatever was pending, then close.
func (c *SamplerCollector) shutdown(session *perf.Session, out chan<- any) {
	// The session enters Draining even when the disable ioctl fails,
	// so the termination path continues either way.
	if err := session.Stop(); err != nil {
		c.Logger().Error(err, "stopping sampling session")
	}

	batch, err := c.poll(session, session.Drain)
	if err != nil {
		c.Logger().Error(err, "draining sampling session")
	} else if len(batch.Samples) > 0 || batch.Lost > 0 {
		c.emit(batch, out)
	}

	if err := session.Close(); err != nil {
		c.Logger().Error(err, "closing sampling session")
	}
	c.Logger().V(1).Info("Sampling session closed",
		"samples", session.Samples(),
		"lost", session.LostSamples(),
		"throttles", session.Throttles())
}

// poll collects one batch through either Session.Poll or Session.Drain.
func (c *SamplerCollector) poll(session *perf.Session,
	read func(func(*perf.SampleRecord) error) (int, error)) (*performance.SampleBatch, error) {

	batch := &performance.SampleBatch{Timestamp: time.Now()}
	_, err := read(func(sr *perf.SampleRecord) error {
		ev := performance.SampleEvent{
			IP:     sr.IP,
			Pid:    sr.Pid,
			Tid:    sr.Tid,
			Time:   sr.Time,
			CPU:    sr.CPU,
			Period: sr.Period,
		}
		batch.Samples = append(batch.Samples, ev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	batch.Lost = session.LostSamples()
	batch.ChannelDrops = c.channelDrops.Load()
	return batch, nil
}

func (c *SamplerCollector) emit(batch *performance.SampleBatch, out chan<- any) {
	select {
	case out <- batch:
	default:
		c.channelDrops.Add(1)
		c.Logger().V(1).Info("dropping sample batch, channel full")
	}
}

func (c *SamplerCollector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		return nil
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
	c.session = nil
	c.SetStatus(performance.CollectorStatusDisabled)
	return nil
}
