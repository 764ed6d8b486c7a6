// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package performance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pipa-project/agent/pkg/kernel"
	"github.com/pipa-project/agent/pkg/performance/capabilities"

	"github.com/go-logr/logr"
)

// PointCollector performs one-shot data collection
type PointCollector interface {
	Type() MetricType
	Name() string

	// Collect performs a single collection and returns the metrics
	Collect(ctx context.Context) (any, error)

	Capabilities() CollectorCapabilities
}

// ContinuousCollector performs ongoing data collection with streaming output
type ContinuousCollector interface {
	Type() MetricType
	Name() string

	// Start begins continuous collection and returns a channel for
	// streaming results. The channel is closed when collection stops.
	Start(ctx context.Context) (<-chan any, error)

	// Stop halts continuous collection and cleans up resources
	Stop() error

	Status() CollectorStatus
	LastError() error
	Capabilities() CollectorCapabilities
}

// NewContinuousCollector is the factory signature collectors register
// with the global registry.
type NewContinuousCollector func(logger logr.Logger, config CollectionConfig) (ContinuousCollector, error)

// CollectorCapabilities declares what a collector supports and needs.
type CollectorCapabilities struct {
	SupportsOneShot      bool
	SupportsContinuous   bool
	RequiredCapabilities []capabilities.Capability
	MinKernelVersion     string
}

// CanRun checks the declared requirements against the current process
// and kernel.
func (c CollectorCapabilities) CanRun() (bool, []capabilities.Capability, error) {
	missing, err := capabilities.Missing(c.RequiredCapabilities)
	if err != nil {
		return false, nil, err
	}
	if len(missing) > 0 {
		return false, missing, nil
	}

	if c.MinKernelVersion != "" {
		required, err := kernel.ParseVersion(c.MinKernelVersion)
		if err != nil {
			return false, nil, fmt.Errorf("bad MinKernelVersion: %w", err)
		}
		current, err := kernel.CurrentVersion()
		if err != nil {
			return false, nil, err
		}
		if !current.AtLeast(required) {
			// Reported as not-runnable rather than an error; the registry
			// records MinKernelVersion alongside.
			return false, nil, nil
		}
	}

	return true, nil, nil
}

// BaseCollector carries the identity shared by every collector.
type BaseCollector struct {
	metricType   MetricType
	name         string
	logger       logr.Logger
	config       CollectionConfig
	capabilities CollectorCapabilities
}

func NewBaseCollector(metricType MetricType, name string, logger logr.Logger, config CollectionConfig, capabilities CollectorCapabilities) BaseCollector {
	return BaseCollector{
		metricType:   metricType,
		name:         name,
		logger:       logger.WithName(string(metricType)),
		config:       config,
		capabilities: capabilities,
	}
}

func (b *BaseCollector) Type() MetricType {
	return b.metricType
}

func (b *BaseCollector) Name() string {
	return b.name
}

func (b *BaseCollector) Logger() logr.Logger {
	return b.logger
}

func (b *BaseCollector) Config() CollectionConfig {
	return b.config
}

func (b *BaseCollector) Capabilities() CollectorCapabilities {
	return b.capabilities
}

// BaseContinuousCollector adds status and error tracking for collectors
// that stream.
type BaseContinuousCollector struct {
	BaseCollector
	status    CollectorStatus
	lastError error
}

func NewBaseContinuousCollector(metricType MetricType, name string, logger logr.Logger, config CollectionConfig, capabilities CollectorCapabilities) BaseContinuousCollector {
	return BaseContinuousCollector{
		BaseCollector: NewBaseCollector(metricType, name, logger, config, capabilities),
		status:        CollectorStatusDisabled,
	}
}

func (b *BaseContinuousCollector) Status() CollectorStatus {
	return b.status
}

func (b *BaseContinuousCollector) LastError() error {
	return b.lastError
}

func (b *BaseContinuousCollector) SetStatus(status CollectorStatus) {
	b.status = status
}

func (b *BaseContinuousCollector) SetError(err error) {
	b.lastError = err
	if err != nil {
		b.status = CollectorStatusFailed
		b.Logger().Error(err, "collector error")
	}
}

func (b *BaseContinuousCollector) ClearError() {
	b.lastError = nil
}

// ContinuousPointCollector adapts a PointCollector into a
// ContinuousCollector by collecting on the configured interval.
type ContinuousPointCollector struct {
	BaseContinuousCollector
	point PointCollector

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewContinuousPointCollector wraps point for interval-driven streaming.
func NewContinuousPointCollector(point PointCollector, logger logr.Logger, config CollectionConfig) *ContinuousPointCollector {
	caps := point.Capabilities()
	caps.SupportsContinuous = true
	return &ContinuousPointCollector{
		BaseContinuousCollector: NewBaseContinuousCollector(
			point.Type(), point.Name(), logger, config, caps),
		point: point,
	}
}

func (c *ContinuousPointCollector) Start(ctx context.Context) (<-chan any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return nil, fmt.Errorf("collector %s already started", c.Name())
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	buffer := c.Config().ChannelBuffer
	if buffer <= 0 {
		buffer = 1
	}
	out := make(chan any, buffer)

	c.SetStatus(CollectorStatusActive)
	go c.run(ctx, out)
	return out, nil
}

func (c *ContinuousPointCollector) run(ctx context.Context, out chan<- any) {
	defer close(out)
	defer close(c.done)

	ticker := time.NewTicker(c.Config().Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := c.point.Collect(ctx)
			if err != nil {
				c.SetError(err)
				continue
			}
			c.ClearError()
			c.SetStatus(CollectorStatusActive)

			select {
			case out <- data:
			default:
				// Consumer fell behind; drop rather than stall the loop.
				c.Logger().V(1).Info("dropping result, channel full")
			}
		}
	}
}

// PartialNewContinuousPointCollector adapts a point collector factory
// into the registry's continuous collector factory signature.
func PartialNewContinuousPointCollector(factory func(logr.Logger, CollectionConfig) (PointCollector, error)) NewContinuousCollector {
	return func(logger logr.Logger, config CollectionConfig) (ContinuousCollector, error) {
		point, err := factory(logger, config)
		if err != nil {
			return nil, err
		}
		return NewContinuousPointCollector(point, logger, config), nil
	}
}

func (c *ContinuousPointCollector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		return nil
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
	c.SetStatus(CollectorStatusDisabled)
	return nil
}
