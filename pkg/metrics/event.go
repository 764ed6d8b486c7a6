// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"time"
)

// MetricType identifies the payload carried by a MetricEvent. Values
// mirror the performance collector metric types.
type MetricType string

const (
	MetricTypeCPU      MetricType = "cpu"
	MetricTypeMemory   MetricType = "memory"
	MetricTypeCounters MetricType = "counters"
	MetricTypeSamples  MetricType = "samples"
	MetricTypeDerived  MetricType = "derived"
)

// MetricEvent represents a generic metrics event that can be consumed by
// multiple backends
type MetricEvent struct {
	// Event metadata
	Timestamp time.Time
	Source    string // e.g. "performance-collector", "workload-runner"
	NodeName  string

	// Metric identification
	MetricType MetricType
	EventType  EventType

	// Metric data (contains the actual performance data)
	Data any
}

// EventType indicates the nature of the metric event
type EventType string

const (
	EventTypeGauge    EventType = "gauge"    // Point-in-time value
	EventTypeCounter  EventType = "counter"  // Monotonically increasing value
	EventTypeSnapshot EventType = "snapshot" // Complete snapshot of data
)

// Publisher defines the interface for emitting metrics events
type Publisher interface {
	// Publish emits a metrics event to all registered consumers
	Publish(event MetricEvent) error

	// PublishBatch emits multiple metrics events efficiently
	PublishBatch(events []MetricEvent) error
}

// Consumer receives events from the bus on a dedicated channel.
type Consumer interface {
	Name() string
	Start(events <-chan MetricEvent) error
	Stop() error
	Health() ConsumerHealth
}

// ConsumerHealth reports a consumer's processing state.
type ConsumerHealth struct {
	Healthy     bool
	LastError   error
	EventsCount uint64
	ErrorsCount uint64
}
