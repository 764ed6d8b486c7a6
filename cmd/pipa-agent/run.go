// Copyright The pipa-project Authors.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/pipa-project/agent/internal/config"
	"github.com/pipa-project/agent/pkg/metrics"
	"github.com/pipa-project/agent/pkg/metrics/consumers"
	"github.com/pipa-project/agent/pkg/performance"
	_ "github.com/pipa-project/agent/pkg/performance/collectors"
)

func newRunCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent as a continuous collection service",
		Long: `Run starts every enabled collector and publishes their output on the
metrics bus until interrupted. When --config points at a YAML file the
file is watched and collection restarts on change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := buildLogger()
			if err != nil {
				return err
			}
			performance.SetRegistryLogger(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			collectionConfig := performance.DefaultCollectionConfig()
			var configCh <-chan config.Config

			if configPath != "" {
				loader, err := config.NewFSLoader(configPath, logger)
				if err != nil {
					return err
				}
				defer loader.Close()

				configCh = loader.Watch()
				cfg := <-configCh
				collectionConfig, err = cfg.CollectionConfig()
				if err != nil {
					return err
				}
			}

			bus := metrics.NewBus(metrics.DefaultBusConfig(), logger)
			if err := bus.RegisterConsumer(consumers.NewLogger(logger)); err != nil {
				return fmt.Errorf("failed to register logger consumer: %w", err)
			}

			busDone := make(chan error, 1)
			go func() {
				busDone <- bus.Start(ctx)
			}()

			for {
				collectCtx, cancel := context.WithCancel(ctx)
				if err := startCollection(collectCtx, logger, collectionConfig, bus); err != nil {
					cancel()
					return err
				}

				select {
				case <-ctx.Done():
					cancel()
					return <-busDone

				case cfg, ok := <-configCh:
					cancel()
					if !ok {
						<-ctx.Done()
						return <-busDone
					}
					next, err := cfg.CollectionConfig()
					if err != nil {
						logger.Error(err, "Ignoring invalid config update")
						continue
					}
					logger.Info("Config changed, restarting collection")
					collectionConfig = next
				}
			}
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"path to a YAML config file (watched for changes)")

	return cmd
}

func startCollection(ctx context.Context, logger logr.Logger, collectionConfig performance.CollectionConfig, bus *metrics.Bus) error {
	manager, err := performance.NewManager(performance.ManagerOptions{
		Config:           collectionConfig,
		Logger:           logger,
		MetricsPublisher: bus,
	})
	if err != nil {
		return fmt.Errorf("failed to create performance manager: %w", err)
	}

	return manager.CollectAllMetrics(ctx, performance.ContinuousCollectionConfig{})
}
