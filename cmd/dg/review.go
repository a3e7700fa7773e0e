package main

import (
	"fmt"

	"github.com/civitaslab/demandgen/internal/review"
	"github.com/spf13/cobra"
)

func newReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Human review commands for items awaiting review",
	}

	cmd.AddCommand(newReviewApproveCmd())
	cmd.AddCommand(newReviewRejectCmd())
	cmd.AddCommand(newReviewRegenerateCmd())
	return cmd
}

func newReviewApproveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "approve <item-id>",
		Short: "Approve a reviewed item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := review.Approve(gormDB, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Approved %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "demandgen.yaml", "path to demandgen config file")
	return cmd
}

func newReviewRejectCmd() *cobra.Command {
	var (
		configPath string
		reason     string
		notes      string
	)

	cmd := &cobra.Command{
		Use:   "reject <item-id>",
		Short: "Reject a reviewed item",
		Long:  "Rejects an item awaiting review. A reason is required; it feeds the rejection pattern report.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := review.Reject(gormDB, args[0], reason, notes); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rejected %s: %s\n", args[0], reason)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "demandgen.yaml", "path to demandgen config file")
	cmd.Flags().StringVar(&reason, "reason", "", "rejection reason (required)")
	cmd.Flags().StringVar(&notes, "notes", "", "improvement notes for future generation")
	cmd.MarkFlagRequired("reason")
	return cmd
}

func newReviewRegenerateCmd() *cobra.Command {
	var (
		configPath string
		notes      string
	)

	cmd := &cobra.Command{
		Use:   "regenerate <item-id>",
		Short: "Send an item back for another generation attempt",
		Long:  "Returns a review item to pending and clears its draft linkage. Reviewer notes accumulate across attempts and travel with the item.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := review.RequestRegeneration(gormDB, args[0], notes); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s for regeneration\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "demandgen.yaml", "path to demandgen config file")
	cmd.Flags().StringVar(&notes, "notes", "", "guidance for the next attempt")
	return cmd
}
