// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

// pipa-agent collects hardware and system performance telemetry.
package main

import (
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	verbosity   int
	development bool
)

func main() {
	// Re-exec trampoline for `stat -- <cmd>` workloads; never returns.
	if os.Getenv(statExecGateEnv) != "" {
		execGateChild()
	}

	root := &cobra.Command{
		Use:   "pipa-agent",
		Short: "Performance telemetry agent built on perf_event_open",
		Long: `pipa-agent reads hardware performance counters and kernel software
events through perf_event_open(2), corrects counter values for PMU
multiplexing, and derives workload metrics such as CPI and cache miss
rates. It can run as a continuous collection agent or as a one-shot
counting/sampling tool.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().IntVarP(&verbosity, "verbose", "v", 0,
		"log verbosity (higher is chattier)")
	root.PersistentFlags().BoolVar(&development, "development", false,
		"use a human-readable console log encoding")

	root.AddCommand(
		newRunCommand(),
		newStatCommand(),
		newRecordCommand(),
		newEventsCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildLogger constructs the process logger. logr V-levels map onto
// negative zap levels, so verbosity N enables V(0)..V(N).
func buildLogger() (logr.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.Level(-verbosity))

	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = level

	zapLog, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, fmt.Errorf("failed to build logger: %w", err)
	}
	return zapr.NewLogger(zapLog), nil
}
