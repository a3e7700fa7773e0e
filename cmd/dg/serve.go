package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/civitaslab/demandgen/internal/coverage"
	"github.com/civitaslab/demandgen/internal/dashboard"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demandgen API server",
		Long:  "Serves the JSON API for gap reports, queue management, batch runs and review actions. Shuts down gracefully on SIGINT/SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "demandgen.yaml", "path to demandgen config file")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "port to listen on")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return dashboard.Start(ctx, dashboard.StartOpts{
		DB:          gormDB,
		Store:       coverage.NewDBStore(gormDB),
		Collab:      reg,
		Port:        port,
		Pacing:      time.Duration(cfg.Batch.PacingMS) * time.Millisecond,
		CallTimeout: time.Duration(cfg.Batch.CallTimeoutMS) * time.Millisecond,
		Out:         cmd.OutOrStdout(),
	})
}
