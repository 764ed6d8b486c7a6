// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

// Package consumers holds metrics bus consumers that terminate the
// pipeline locally.
package consumers

import (
	"sync"
	"sync/atomic"

	"github.com/pipa-project/agent/pkg/metrics"

	"github.com/go-logr/logr"
)

// Logger is a consumer that writes every event through a logr.Logger.
// It is the default sink when no other backend is configured.
type Logger struct {
	logger logr.Logger

	mu      sync.Mutex
	done    chan struct{}
	stopped bool

	events atomic.Uint64
}

// NewLogger creates a logging consumer.
func NewLogger(logger logr.Logger) *Logger {
	return &Logger{logger: logger.WithName("metrics-log")}
}

func (l *Logger) Name() string { return "logger" }

func (l *Logger) Start(events <-chan metrics.MetricEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done != nil {
		return nil
	}
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		for event := range events {
			l.events.Add(1)
			l.logger.Info("metric",
				"type", event.MetricType,
				"event", event.EventType,
				"source", event.Source,
				"data", event.Data)
		}
	}()
	return nil
}

func (l *Logger) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	return nil
}

func (l *Logger) Health() metrics.ConsumerHealth {
	l.mu.Lock()
	defer l.mu.Unlock()
	return metrics.ConsumerHealth{
		Healthy:     !l.stopped,
		EventsCount: l.events.Load(),
	}
}

var _ metrics.Consumer = (*Logger)(nil)
