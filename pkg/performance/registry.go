// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package performance

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/pipa-project/agent/pkg/performance/capabilities"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

var (
	registry              = make(map[MetricType]NewContinuousCollector)
	unavailableCollectors = make(map[MetricType]UnavailableCollector)
	registryLogger        = stdr.New(log.New(os.Stderr, "[performance.registry] ", log.LstdFlags))
)

// UnavailableCollector represents a collector that cannot run on this platform
type UnavailableCollector struct {
	MetricType          MetricType
	Reason              string
	MissingCapabilities []capabilities.Capability
	MinKernelVersion    string
}

// Register adds a NewContinuousCollector factory to the global registry
// for metricType. It is called during package initialization (typically
// in init() functions) before collectors are instantiated.
//
// On non-Linux platforms this is a no-op so unit tests run anywhere.
// It panics if a collector for metricType is already registered on Linux.
func Register(metricType MetricType, collector NewContinuousCollector) {
	if runtime.GOOS != "linux" {
		registryLogger.V(1).Info("Skipping collector registration on non-Linux platform",
			"metric_type", metricType, "platform", runtime.GOOS)
		return
	}

	if _, exists := registry[metricType]; exists {
		panic(fmt.Sprintf("Collector for %s already registered", metricType))
	}
	registry[metricType] = collector
}

// TryRegister registers a collector only after checking that it can run
// on the current platform. Collectors that cannot run are tracked in the
// unavailable list with the reason instead of panicking, so a missing
// capability degrades the agent rather than killing it at init.
func TryRegister(metricType MetricType, collector NewContinuousCollector) {
	if runtime.GOOS != "linux" {
		registryLogger.V(1).Info("Skipping collector registration on non-Linux platform",
			"metric_type", metricType, "platform", runtime.GOOS)
		return
	}

	if _, exists := registry[metricType]; exists {
		panic(fmt.Sprintf("Collector for %s already registered", metricType))
	}

	// Instantiate once against default paths to read its capability
	// declaration.
	config := DefaultCollectionConfig()
	tempLogger := registryLogger.WithName(string(metricType))

	tempCollector, err := collector(tempLogger, config)
	if err != nil {
		unavailableCollectors[metricType] = UnavailableCollector{
			MetricType: metricType,
			Reason:     fmt.Sprintf("Failed to create collector: %v", err),
		}
		registryLogger.Info("Collector not available on this platform",
			"metric_type", metricType, "reason", err.Error())
		return
	}

	caps := tempCollector.Capabilities()
	canRun, missing, err := caps.CanRun()
	if err != nil {
		unavailableCollectors[metricType] = UnavailableCollector{
			MetricType: metricType,
			Reason:     fmt.Sprintf("Failed to check capabilities: %v", err),
		}
		registryLogger.Info("Failed to check collector capabilities",
			"metric_type", metricType, "error", err.Error())
		return
	}

	if !canRun {
		reason := "Missing required capabilities"
		if len(missing) == 0 {
			reason = fmt.Sprintf("Kernel older than required %s", caps.MinKernelVersion)
		}
		unavailableCollectors[metricType] = UnavailableCollector{
			MetricType:          metricType,
			Reason:              reason,
			MissingCapabilities: missing,
			MinKernelVersion:    caps.MinKernelVersion,
		}

		capNames := make([]string, len(missing))
		for i, cap := range missing {
			capNames[i] = cap.String()
		}
		kv := []any{
			"metric_type", metricType,
			"missing_capabilities", capNames,
			"min_kernel_version", caps.MinKernelVersion,
		}
		// The paranoid level explains most perf permission failures.
		if level, perr := capabilities.PerfEventParanoid(); perr == nil {
			kv = append(kv, "perf_event_paranoid", level)
		}
		registryLogger.Info("Collector requires additional capabilities", kv...)
		return
	}

	registry[metricType] = collector
	registryLogger.V(1).Info("Successfully registered collector", "metric_type", metricType)
}

// GetCollector retrieves the collector factory from the global registry
// for metricType.
func GetCollector(metricType MetricType) (NewContinuousCollector, error) {
	collector, exists := registry[metricType]
	if !exists {
		return nil, fmt.Errorf("Collector for %s not found", metricType)
	}
	return collector, nil
}

// GetAvailableCollectors returns the metric types with a registered,
// runnable collector.
func GetAvailableCollectors() []MetricType {
	types := make([]MetricType, 0, len(registry))
	for metricType := range registry {
		types = append(types, metricType)
	}
	return types
}

// GetUnavailableCollectors returns information about collectors that
// cannot run on the current platform.
func GetUnavailableCollectors() map[MetricType]UnavailableCollector {
	result := make(map[MetricType]UnavailableCollector, len(unavailableCollectors))
	for k, v := range unavailableCollectors {
		result[k] = v
	}
	return result
}

// GetCollectorStatus returns whether the collector for metricType is
// available, and if not, why it cannot run.
func GetCollectorStatus(metricType MetricType) (available bool, reason string) {
	if _, exists := registry[metricType]; exists {
		return true, "Collector is registered and available"
	}

	if unavail, exists := unavailableCollectors[metricType]; exists {
		reason = unavail.Reason
		if len(unavail.MissingCapabilities) > 0 {
			capNames := make([]string, len(unavail.MissingCapabilities))
			for i, cap := range unavail.MissingCapabilities {
				capNames[i] = cap.String()
			}
			reason = fmt.Sprintf("%s (missing: %v)", reason, capNames)
		}
		return false, reason
	}

	return false, "Collector not found"
}

// SetRegistryLogger sets a custom logger for the registry. Call before
// any collectors are registered.
func SetRegistryLogger(logger logr.Logger) {
	registryLogger = logger
}
