// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package performance

import (
	"context"
	"fmt"
	"time"

	"github.com/pipa-project/agent/pkg/metrics"

	"github.com/go-logr/logr"
)

// ContinuousCollectionConfig configures continuous metric collection
type ContinuousCollectionConfig struct {
	// Interval between collections
	Interval time.Duration
	// MetricTypes to collect (if empty, collects all available)
	MetricTypes []MetricType
}

// activeCollector holds a collector's metadata and channel
type activeCollector struct {
	metricType MetricType
	channel    <-chan any
}

// CollectAllMetrics starts continuous collection of all available
// performance metrics. It returns immediately after starting
// collectors; collection runs in a background goroutine until the
// context is cancelled.
func (m *Manager) CollectAllMetrics(ctx context.Context, config ContinuousCollectionConfig) error {
	metricTypes := config.MetricTypes
	if len(metricTypes) == 0 {
		metricTypes = []MetricType{
			MetricTypeCPU,
			MetricTypeMemory,
			MetricTypeCounters,
			MetricTypeSamples,
		}
	}

	interval := config.Interval
	if interval == 0 {
		interval = m.config.Interval
	}

	collectorConfig := m.config
	collectorConfig.Interval = interval

	collectorLogger := m.logger.WithName("continuous-collectors")

	var activeCollectors []activeCollector
	var collectorNames []string

	for _, metricType := range metricTypes {
		if enabled, ok := collectorConfig.EnabledCollectors[metricType]; ok && !enabled {
			collectorLogger.V(1).Info("Collector disabled by config", "metric_type", metricType)
			continue
		}

		factory, err := GetCollector(metricType)
		if err != nil {
			available, reason := GetCollectorStatus(metricType)
			if !available {
				collectorLogger.V(1).Info("Collector not available",
					"metric_type", metricType, "reason", reason)
			} else {
				collectorLogger.Error(err, "Failed to get collector from registry",
					"metric_type", metricType)
			}
			continue
		}

		collector, err := factory(collectorLogger.WithName(string(metricType)), collectorConfig)
		if err != nil {
			collectorLogger.Error(err, "Failed to create collector",
				"metric_type", metricType)
			continue
		}

		dataChan, err := collector.Start(ctx)
		if err != nil {
			collectorLogger.Error(err, "Failed to start collector",
				"metric_type", metricType)
			continue
		}

		activeCollectors = append(activeCollectors, activeCollector{
			metricType: metricType,
			channel:    dataChan,
		})
		collectorNames = append(collectorNames, string(metricType))
	}

	if len(activeCollectors) == 0 {
		return fmt.Errorf("no collectors could be started")
	}

	go m.handleCollectorData(ctx, activeCollectors, collectorLogger)

	collectorLogger.Info("Started continuous collectors",
		"collectors", collectorNames,
		"interval", interval)

	return nil
}

// handleCollectorData reads from collector channels and publishes data.
// The collector set is fixed at start, so a static select over the
// known channels suffices; a closed channel is nilled out.
func (m *Manager) handleCollectorData(ctx context.Context, collectors []activeCollector, logger logr.Logger) {
	var (
		cpuChan      <-chan any
		memoryChan   <-chan any
		countersChan <-chan any
		samplesChan  <-chan any
	)

	for _, c := range collectors {
		switch c.metricType {
		case MetricTypeCPU:
			cpuChan = c.channel
		case MetricTypeMemory:
			memoryChan = c.channel
		case MetricTypeCounters:
			countersChan = c.channel
		case MetricTypeSamples:
			samplesChan = c.channel
		}
	}

	publish := func(metricType metrics.MetricType, data any) {
		if err := m.PublishCollectorData(metricType, data); err != nil {
			logger.Error(err, "Failed to publish collector data", "metric_type", metricType)
		} else {
			logger.V(2).Info("Published collector data", "metric_type", metricType)
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Context cancelled, stopping collector handler")
			return

		case data, ok := <-cpuChan:
			if ok && data != nil {
				publish(metrics.MetricTypeCPU, data)
			} else if !ok && cpuChan != nil {
				logger.V(1).Info("CPU collector channel closed")
				cpuChan = nil
			}

		case data, ok := <-memoryChan:
			if ok && data != nil {
				publish(metrics.MetricTypeMemory, data)
			} else if !ok && memoryChan != nil {
				logger.V(1).Info("Memory collector channel closed")
				memoryChan = nil
			}

		case data, ok := <-countersChan:
			if ok && data != nil {
				publish(metrics.MetricTypeCounters, data)
			} else if !ok && countersChan != nil {
				logger.V(1).Info("Counters collector channel closed")
				countersChan = nil
			}

		case data, ok := <-samplesChan:
			if ok && data != nil {
				publish(metrics.MetricTypeSamples, data)
			} else if !ok && samplesChan != nil {
				logger.V(1).Info("Samples collector channel closed")
				samplesChan = nil
			}
		}
	}
}
