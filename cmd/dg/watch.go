package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/civitaslab/demandgen/internal/coverage"
	"github.com/civitaslab/demandgen/internal/watch"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	var (
		configPath string
		schedule   string
	)

	cmd := &cobra.Command{
		Use:   "watch <plan-id>",
		Short: "Run the advisory watch daemon",
		Long: `Posts a scheduled digest of coverage, review backlog and stuck items
for a plan. The daemon is advisory only: it never generates queue items,
starts runs or resets state on its own.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatchDaemon(cmd, configPath, args[0], schedule)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "demandgen.yaml", "path to demandgen config file")
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule override (default from config)")
	return cmd
}

func runWatchDaemon(cmd *cobra.Command, configPath, planID, schedule string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	if schedule == "" {
		schedule = cfg.Watch.Schedule
	}

	out := cmd.OutOrStdout()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return watch.Run(ctx, watch.Opts{
		DB:          gormDB,
		Store:       coverage.NewDBStore(gormDB),
		PlanID:      planID,
		Schedule:    schedule,
		StuckWindow: time.Duration(cfg.Watch.StuckWindowMins) * time.Minute,
		Sink:        buildSink(cfg, out),
		Out:         out,
	})
}
