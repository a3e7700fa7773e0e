package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/civitaslab/demandgen/internal/coverage"
	"github.com/civitaslab/demandgen/internal/gap"
	"github.com/spf13/cobra"
)

func newGapCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "gap <plan-id>",
		Short: "Show the coverage gap report for a plan",
		Long:  "Compares current entity counts against the plan's coverage targets and reports what still needs to be generated, overall and per objective.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGap(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "demandgen.yaml", "path to demandgen config file")
	return cmd
}

func runGap(cmd *cobra.Command, configPath, planID string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	report, err := gap.Analyze(coverage.NewDBStore(gormDB), planID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Plan %s: %d%% overall coverage, %d generation(s) needed\n",
		report.StrategicPlanID, report.OverallPct, report.TotalGenerationNeeded)

	if len(report.ByObjective) == 0 {
		fmt.Fprintln(out, "No coverage targets configured for this plan.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OBJECTIVE\tENTITY TYPE\tTARGET\tCURRENT\tNEEDED\tPCT")
	for _, oc := range report.ByObjective {
		for _, ec := range oc.ByEntityType {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d%%\n",
				truncate(oc.Title, 30), ec.EntityType, ec.Target, ec.Current, ec.Needed, ec.Pct)
		}
	}
	w.Flush()
	return nil
}
