// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package performance

import (
	"fmt"
	"os"
	"time"

	"github.com/pipa-project/agent/pkg/metrics"

	"github.com/go-logr/logr"
)

// Manager coordinates collector registration and handles performance collection
type Manager struct {
	config   CollectionConfig
	logger   logr.Logger
	nodeName string

	publisher metrics.Publisher
}

type ManagerOptions struct {
	Config           CollectionConfig
	Logger           logr.Logger
	NodeName         string
	MetricsPublisher metrics.Publisher // Optional metrics publisher
}

func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Logger.GetSink() == nil {
		return nil, fmt.Errorf("logger is required")
	}

	nodeName := opts.NodeName
	if nodeName == "" {
		nodeName = os.Getenv("NODE_NAME")
		if nodeName == "" {
			hostname, err := os.Hostname()
			if err != nil {
				return nil, fmt.Errorf("failed to get hostname: %w", err)
			}
			nodeName = hostname
		}
	}

	config := opts.Config
	config.ApplyDefaults()

	// Path overrides for containerized environments
	if os.Getenv("HOST_PROC") != "" {
		config.HostProcPath = os.Getenv("HOST_PROC")
	}
	if os.Getenv("HOST_SYS") != "" {
		config.HostSysPath = os.Getenv("HOST_SYS")
	}

	if err := config.Validate(ValidateOptions{}); err != nil {
		return nil, fmt.Errorf("invalid collection config: %w", err)
	}

	m := &Manager{
		config:   config,
		logger:   opts.Logger.WithName("performance-manager"),
		nodeName: nodeName,
	}

	if opts.MetricsPublisher != nil {
		m.publisher = opts.MetricsPublisher
		m.logger.Info("Metrics publisher enabled for performance manager")
	}

	return m, nil
}

// GetConfig returns the current configuration
func (m *Manager) GetConfig() CollectionConfig {
	return m.config
}

// GetNodeName returns the node name
func (m *Manager) GetNodeName() string {
	return m.nodeName
}

// PublishCollectorData publishes data from a specific collector
func (m *Manager) PublishCollectorData(metricType metrics.MetricType, data any) error {
	if m.publisher == nil {
		return nil
	}

	event := metrics.MetricEvent{
		Timestamp:  time.Now(),
		Source:     "performance-collector",
		NodeName:   m.nodeName,
		MetricType: metricType,
		EventType:  determineEventType(metricType),
		Data:       data,
	}

	if err := m.publisher.Publish(event); err != nil {
		m.logger.Error(err, "Failed to publish collector data", "metric_type", metricType)
		return err
	}

	m.logger.V(2).Info("Published collector data", "metric_type", metricType)
	return nil
}

// HasMetricsPublisher returns true if the manager has a metrics publisher configured
func (m *Manager) HasMetricsPublisher() bool {
	return m.publisher != nil
}

// determineEventType maps metric types to appropriate event types
func determineEventType(metricType metrics.MetricType) metrics.EventType {
	switch metricType {
	case metrics.MetricTypeCPU, metrics.MetricTypeMemory, metrics.MetricTypeDerived:
		return metrics.EventTypeGauge
	case metrics.MetricTypeCounters, metrics.MetricTypeSamples:
		return metrics.EventTypeCounter
	default:
		return metrics.EventTypeGauge
	}
}
