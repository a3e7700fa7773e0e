package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/civitaslab/demandgen/internal/coverage"
	"github.com/civitaslab/demandgen/internal/gap"
	"github.com/civitaslab/demandgen/internal/queue"
	"github.com/civitaslab/demandgen/internal/review"
	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Generation queue commands",
	}

	cmd.AddCommand(newQueueGenerateCmd())
	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueShowCmd())
	cmd.AddCommand(newQueueSkipCmd())
	return cmd
}

func newQueueSkipCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "skip <item-id>",
		Short: "Skip a pending queue item",
		Long:  "Retires a pending item without generating it. Skipped is terminal; re-running queue generation may create a fresh item for the same gap.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := review.Skip(gormDB, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Skipped %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "demandgen.yaml", "path to demandgen config file")
	return cmd
}

func newQueueGenerateCmd() *cobra.Command {
	var (
		configPath string
		maxItems   int
	)

	cmd := &cobra.Command{
		Use:   "generate <plan-id>",
		Short: "Generate prioritized queue items from the gap report",
		Long:  "Runs a fresh gap analysis and creates pending queue items for the largest gaps. Gaps already covered by a non-terminal item are skipped, so re-running is safe.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueGenerate(cmd, configPath, args[0], maxItems)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "demandgen.yaml", "path to demandgen config file")
	cmd.Flags().IntVar(&maxItems, "max", 10, "maximum items to create")
	return cmd
}

func runQueueGenerate(cmd *cobra.Command, configPath, planID string, maxItems int) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	report, err := gap.Analyze(coverage.NewDBStore(gormDB), planID)
	if err != nil {
		return err
	}

	items, err := queue.Generate(gormDB, report, maxItems)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(out, "No new queue items: every gap is already covered or coverage is complete.")
		return nil
	}

	fmt.Fprintf(out, "Created %d queue item(s):\n", len(items))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tENTITY TYPE\tPRIORITY")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
			item.ID, truncate(item.Title, 40), item.EntityType, item.PriorityScore)
	}
	w.Flush()
	return nil
}

func newQueueListCmd() *cobra.Command {
	var (
		configPath string
		status     string
		entityType string
	)

	cmd := &cobra.Command{
		Use:   "list <plan-id>",
		Short: "List queue items",
		Long:  "Lists queue items for a plan in priority order, with optional status and entity type filters.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(cmd, configPath, args[0], queue.ListFilters{
				Status:     status,
				EntityType: entityType,
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "demandgen.yaml", "path to demandgen config file")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "filter by entity type")
	return cmd
}

func runQueueList(cmd *cobra.Command, configPath, planID string, filters queue.ListFilters) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	items, err := queue.List(gormDB, planID, filters)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(out, "No queue items found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tENTITY TYPE\tSTATUS\tPRI\tATTEMPTS\tSCORE")
	for _, item := range items {
		score := "-"
		if item.QualityScore != nil {
			score = fmt.Sprintf("%d", *item.QualityScore)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			item.ID, truncate(item.Title, 40), item.EntityType, item.Status,
			item.PriorityScore, item.Attempts, score)
	}
	w.Flush()
	return nil
}

func newQueueShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show queue item details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueShow(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "demandgen.yaml", "path to demandgen config file")
	return cmd
}

func runQueueShow(cmd *cobra.Command, configPath, itemID string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	item, err := queue.Get(gormDB, itemID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ID:           %s\n", item.ID)
	fmt.Fprintf(out, "Title:        %s\n", item.Title)
	fmt.Fprintf(out, "Status:       %s\n", item.Status)
	fmt.Fprintf(out, "Plan:         %s\n", item.StrategicPlanID)
	fmt.Fprintf(out, "Objective:    %s\n", item.ObjectiveID)
	fmt.Fprintf(out, "Entity type:  %s\n", item.EntityType)
	fmt.Fprintf(out, "Priority:     %d\n", item.PriorityScore)
	fmt.Fprintf(out, "Attempts:     %d\n", item.Attempts)
	if item.LastAttemptAt != nil {
		fmt.Fprintf(out, "Last attempt: %s\n", item.LastAttemptAt.Format("2006-01-02 15:04:05"))
	}
	if item.GeneratedEntityID != "" {
		fmt.Fprintf(out, "Generated:    %s (%s)\n", item.GeneratedEntityID, item.GeneratedEntityType)
	}
	if item.QualityScore != nil {
		fmt.Fprintf(out, "Quality:      %d\n", *item.QualityScore)
	}
	if item.RejectionReason != "" {
		fmt.Fprintf(out, "Rejected:     %s\n", item.RejectionReason)
	}
	fmt.Fprintf(out, "Created:      %s\n", item.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Updated:      %s\n", item.UpdatedAt.Format("2006-01-02 15:04:05"))

	if item.PrefilledSpec != "" {
		fmt.Fprintf(out, "\nPrefilled spec:\n%s\n", item.PrefilledSpec)
	}
	if item.QualityFeedback != "" {
		fmt.Fprintf(out, "\nQuality feedback:\n%s\n", item.QualityFeedback)
	}

	notes, err := review.Notes(item)
	if err == nil && len(notes) > 0 {
		fmt.Fprintln(out, "\nReviewer notes:")
		for _, n := range notes {
			fmt.Fprintf(out, "  [%s] %s\n", n.At.Format("2006-01-02 15:04"), n.Note)
		}
	}
	return nil
}
