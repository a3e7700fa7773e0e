package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/civitaslab/demandgen/internal/feedback"
	"github.com/spf13/cobra"
)

func newFeedbackCmd() *cobra.Command {
	var (
		configPath  string
		maxExamples int
	)

	cmd := &cobra.Command{
		Use:   "feedback <plan-id>",
		Short: "Show rejection patterns for a plan",
		Long:  "Groups rejected queue items by normalized rejection reason so recurring quality problems surface. The report is advisory; it never changes queue state.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeedback(cmd, configPath, args[0], maxExamples)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "demandgen.yaml", "path to demandgen config file")
	cmd.Flags().IntVar(&maxExamples, "examples", feedback.DefaultMaxExamples, "example items per pattern")
	return cmd
}

func runFeedback(cmd *cobra.Command, configPath, planID string, maxExamples int) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	patterns, err := feedback.Patterns(gormDB, planID, maxExamples)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(patterns) == 0 {
		fmt.Fprintln(out, "No rejections recorded for this plan.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "REASON\tCOUNT\tENTITY TYPES\tEXAMPLES")
	for _, p := range patterns {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			truncate(p.Reason, 50), p.Count,
			strings.Join(p.EntityTypes, ","), strings.Join(p.Examples, ","))
	}
	w.Flush()
	return nil
}
