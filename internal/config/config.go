// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

// Package config loads agent configuration from a YAML file and watches
// it for changes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pipa-project/agent/pkg/performance"
)

// Config is the on-disk agent configuration. Zero values defer to the
// collection defaults, so a partial file is valid.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Collection CollectionConfig `yaml:"collection"`
	Counters   CountersConfig   `yaml:"counters"`
	Sampling   SamplingConfig   `yaml:"sampling"`
}

type LoggingConfig struct {
	// Level is the logr verbosity threshold. 0 logs info and above.
	Level int `yaml:"level"`
	// Development switches to a human-readable console encoding.
	Development bool `yaml:"development"`
}

type CollectionConfig struct {
	Interval time.Duration `yaml:"interval"`
	// Collectors lists the metric types to run. Empty means the default
	// set.
	Collectors   []string      `yaml:"collectors"`
	HostProcPath string        `yaml:"hostProcPath"`
	HostSysPath  string        `yaml:"hostSysPath"`
	MinDelta     time.Duration `yaml:"minDeltaInterval"`
	MaxDelta     time.Duration `yaml:"maxDeltaInterval"`
}

type CountersConfig struct {
	// Events are counter event names, group leader first.
	Events    []string `yaml:"events"`
	TargetPid int      `yaml:"targetPid"`
}

type SamplingConfig struct {
	Period    uint64 `yaml:"period"`
	DataPages int    `yaml:"dataPages"`
}

// Load reads and parses the config file at path.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) == 0 {
		return cfg, fmt.Errorf("config file %s is empty", path)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config file %s: %w", path, err)
	}

	if _, err := cfg.CollectionConfig(); err != nil {
		return cfg, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// CollectionConfig converts the file representation into a validated
// performance.CollectionConfig with defaults applied.
func (c Config) CollectionConfig() (performance.CollectionConfig, error) {
	out := performance.CollectionConfig{
		Interval:     c.Collection.Interval,
		HostProcPath: c.Collection.HostProcPath,
		HostSysPath:  c.Collection.HostSysPath,
		Delta: performance.DeltaConfig{
			MinInterval: c.Collection.MinDelta,
			MaxInterval: c.Collection.MaxDelta,
		},
		Events:          c.Counters.Events,
		TargetPid:       c.Counters.TargetPid,
		SamplePeriod:    c.Sampling.Period,
		SampleDataPages: c.Sampling.DataPages,
	}

	if len(c.Collection.Collectors) > 0 {
		// An explicit list is exhaustive: every known type it does not
		// name is switched off, not left to the default set.
		enabled := map[performance.MetricType]bool{
			performance.MetricTypeCPU:      false,
			performance.MetricTypeMemory:   false,
			performance.MetricTypeCounters: false,
			performance.MetricTypeSamples:  false,
		}
		for _, name := range c.Collection.Collectors {
			t := performance.MetricType(name)
			if _, known := enabled[t]; !known {
				return out, fmt.Errorf("unknown collector %q", name)
			}
			enabled[t] = true
		}
		out.EnabledCollectors = enabled
	}

	out.ApplyDefaults()
	if err := out.Validate(performance.ValidateOptions{}); err != nil {
		return out, err
	}
	return out, nil
}
