package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/civitaslab/demandgen/internal/models"
	"github.com/civitaslab/demandgen/internal/recovery"
	"github.com/spf13/cobra"
)

func newRecoverCmd() *cobra.Command {
	var (
		configPath string
		windowMins int
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "recover <plan-id>",
		Short: "Reset stuck in-progress items back to pending",
		Long: `Finds items stuck in in_progress past the staleness window (typically
left behind by a crashed batch process) and resets them to pending.
Attempt counts are preserved. Use --dry-run to list without resetting.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(cmd, configPath, args[0], windowMins, dryRun)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "demandgen.yaml", "path to demandgen config file")
	cmd.Flags().IntVar(&windowMins, "window", 0, "staleness window in minutes (default from config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list stuck items without resetting them")
	return cmd
}

func runRecover(cmd *cobra.Command, configPath, planID string, windowMins int, dryRun bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	if windowMins == 0 {
		windowMins = cfg.Watch.StuckWindowMins
	}
	window := time.Duration(windowMins) * time.Minute

	var items []models.QueueItem
	if dryRun {
		items, err = recovery.StuckItems(gormDB, planID, window)
	} else {
		items, err = recovery.ResetStuck(gormDB, planID, window)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintf(out, "No items stuck for more than %d minute(s).\n", windowMins)
		return nil
	}

	if dryRun {
		fmt.Fprintf(out, "%d item(s) would be reset:\n", len(items))
	} else {
		fmt.Fprintf(out, "Reset %d item(s) to pending:\n", len(items))
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tENTITY TYPE\tATTEMPTS\tLAST ATTEMPT")
	for _, item := range items {
		last := "-"
		if item.LastAttemptAt != nil {
			last = item.LastAttemptAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			item.ID, truncate(item.Title, 40), item.EntityType, item.Attempts, last)
	}
	w.Flush()
	return nil
}
