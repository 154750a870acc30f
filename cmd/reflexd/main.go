// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at SensorLogic.
// Copyright 2024-present SensorLogic, Inc.

// reflexd is the runtime daemon: it loads a compiled rule artifact and
// evaluates it against the store on a fixed cadence, with sentinel-driven
// active/standby high availability.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sensorlogic/reflex/pkg/config"
	"github.com/sensorlogic/reflex/pkg/engine"
	"github.com/sensorlogic/reflex/pkg/expr"
	"github.com/sensorlogic/reflex/pkg/program"
	"github.com/sensorlogic/reflex/pkg/store"
	"github.com/sensorlogic/reflex/pkg/telemetry"
	"github.com/sensorlogic/reflex/pkg/temporal"
	"github.com/sensorlogic/reflex/pkg/version"
)

var (
	reflexdCmd = &cobra.Command{
		Use:           "reflexd [command]",
		Short:         "Reflex runtime engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Run the engine in the foreground",
		RunE:  start,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("reflexd %s\n", version.Full())
		},
	}

	configPath  string
	artifactDir string
)

func init() {
	reflexdCmd.AddCommand(startCmd)
	reflexdCmd.AddCommand(versionCmd)

	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the system config")
	startCmd.Flags().StringVarP(&artifactDir, "program", "p", "", "path to the compiled artifact directory")
	_ = startCmd.MarkFlagRequired("config")
	_ = startCmd.MarkFlagRequired("program")
}

func start(cmd *cobra.Command, _ []string) error {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	prog, err := program.Load(artifactDir, expr.NewCache())
	if err != nil {
		return err
	}

	// Ring capacities follow the rule windows; sensors without sustained
	// conditions fall back to the configured default.
	capacities := make(map[string]int)
	for sensor, window := range prog.TemporalDemand() {
		points := int((window + cfg.SamplingPeriod() - 1) / cfg.SamplingPeriod())
		capacities[sensor] = points + cfg.BufferMargin
	}
	buffers := temporal.NewService(temporal.Options{
		SamplingPeriod:  cfg.SamplingPeriod(),
		DefaultCapacity: cfg.BufferCapacity,
		Capacities:      capacities,
	})

	metrics := telemetry.New(nil)
	adapter := store.New(cfg.Store, log.Named("store"), store.WithMetrics(metrics))
	defer adapter.Close() //nolint:errcheck

	eng := engine.New(prog, adapter, buffers, engine.Options{
		HostID:             cfg.HostID,
		CyclePeriod:        cfg.CyclePeriod(),
		StateCheckInterval: cfg.StateCheckInterval(),
		Parallelism:        cfg.Parallelism,
		Logger:             log.Named("engine"),
		Metrics:            metrics,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go adapter.Run(ctx)

	log.Info("reflexd starting",
		zap.String("version", version.Version),
		zap.String("artifact", artifactDir),
		zap.Int("rules", prog.Rules()))
	return eng.Run(ctx)
}

func main() {
	if err := reflexdCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
