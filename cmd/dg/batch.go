package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/civitaslab/demandgen/internal/batch"
	"github.com/civitaslab/demandgen/internal/config"
	"github.com/civitaslab/demandgen/internal/models"
	"github.com/civitaslab/demandgen/internal/notify"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Batch generation run commands",
	}

	cmd.AddCommand(newBatchStartCmd())
	cmd.AddCommand(newBatchPauseCmd())
	cmd.AddCommand(newBatchResumeCmd())
	cmd.AddCommand(newBatchStopCmd())
	cmd.AddCommand(newBatchProgressCmd())
	return cmd
}

func newBatchStartCmd() *cobra.Command {
	var (
		configPath  string
		entityType  string
		size        int
		autoApprove bool
		minQuality  int
	)

	cmd := &cobra.Command{
		Use:   "start <plan-id>",
		Short: "Start a batch generation run",
		Long: `Selects the highest-priority pending items and processes them one at a
time: generate, assess, then accept or route to review. Ctrl+C stops the
run at the next item boundary; the in-flight item finishes first.
Flags override the batch defaults from the config file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := batch.Params{
				PlanID:           args[0],
				EntityTypeFilter: entityType,
			}
			if cmd.Flags().Changed("size") {
				params.BatchSize = size
			}
			if cmd.Flags().Changed("auto-approve") {
				params.AutoApprove = autoApprove
			}
			if cmd.Flags().Changed("min-quality") {
				params.MinQuality = minQuality
			}
			return runBatchStart(cmd, configPath, params, cmd.Flags().Changed("auto-approve"))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "demandgen.yaml", "path to demandgen config file")
	cmd.Flags().StringVar(&entityType, "entity-type", "all", "restrict the run to one entity type")
	cmd.Flags().IntVar(&size, "size", 0, "batch size (default from config)")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "auto-accept drafts at or above the quality threshold")
	cmd.Flags().IntVar(&minQuality, "min-quality", 0, "quality threshold 50-95 (default from config)")
	return cmd
}

func runBatchStart(cmd *cobra.Command, configPath string, params batch.Params, approveSet bool) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	// Config defaults for anything not set by flags.
	if params.BatchSize == 0 {
		params.BatchSize = cfg.Batch.Size
	}
	if params.MinQuality == 0 {
		params.MinQuality = cfg.Batch.MinQuality
	}
	if !approveSet {
		params.AutoApprove = cfg.Batch.AutoApprove
	}
	params.Pacing = time.Duration(cfg.Batch.PacingMS) * time.Millisecond
	params.CallTimeout = time.Duration(cfg.Batch.CallTimeoutMS) * time.Millisecond

	reg, err := buildRegistry(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	runner, err := batch.Start(ctx, gormDB, reg, params, out)
	if err != nil {
		return err
	}

	// Stop on signal so the run row records the stop instead of an abort.
	go func() {
		select {
		case <-ctx.Done():
			runner.Stop()
		case <-runner.Done():
		}
	}()

	<-runner.Done()
	p := runner.Progress()
	fmt.Fprintf(out, "Batch %s %s: %d/%d item(s) processed, %d failed\n",
		p.RunID, p.State, p.Completed, p.Total, p.Failed)

	if sink := buildSink(cfg, out); sink != nil {
		digest := notify.BatchDigest(p.RunID, params.PlanID, p.Completed, p.Failed, p.Total)
		if err := sink.Post(context.Background(), digest); err != nil {
			fmt.Fprintf(out, "Notification failed: %v\n", err)
		}
	}
	return nil
}

// buildRegistry assembles the collaborator registry from configured
// endpoint URLs. A missing assessor URL is caught later by batch.Start.
func buildRegistry(cfg *config.Config) (*batch.Registry, error) {
	var assessor batch.Assessor
	if cfg.Collaborators.AssessorURL != "" {
		assessor = batch.NewHTTPAssessor(cfg.Collaborators.AssessorURL)
	}
	reg := batch.NewRegistry(assessor)
	for entityType, url := range cfg.Collaborators.GeneratorURLs {
		if url == "" {
			return nil, fmt.Errorf("collaborators.generator_urls.%s is empty", entityType)
		}
		reg.Register(entityType, batch.NewHTTPGenerator(url))
	}
	return reg, nil
}

// buildSink assembles notification sinks from config. Returns nil when no
// tokens are configured.
func buildSink(cfg *config.Config, out io.Writer) notify.Sink {
	var sinks notify.Multi
	if cfg.Notify.SlackBotToken != "" && cfg.Notify.SlackChannel != "" {
		sinks = append(sinks, notify.NewSlack(cfg.Notify.SlackBotToken, cfg.Notify.SlackChannel))
	}
	if cfg.Notify.DiscordBotToken != "" && cfg.Notify.DiscordChannel != "" {
		d, err := notify.NewDiscord(cfg.Notify.DiscordBotToken, cfg.Notify.DiscordChannel)
		if err != nil {
			fmt.Fprintf(out, "Discord sink disabled: %v\n", err)
		} else {
			sinks = append(sinks, d)
		}
	}
	if len(sinks) == 0 {
		return nil
	}
	return sinks
}

func newBatchPauseCmd() *cobra.Command {
	return newBatchControlCmd("pause", "Pause a running batch at the next item boundary")
}

func newBatchResumeCmd() *cobra.Command {
	return newBatchControlCmd("resume", "Resume a paused batch from the next unprocessed item")
}

func newBatchStopCmd() *cobra.Command {
	return newBatchControlCmd("stop", "Stop a batch, discarding the unprocessed remainder")
}

// newBatchControlCmd builds pause/resume/stop commands. Live runs belong to
// the serve process, so control goes through its API.
func newBatchControlCmd(action, short string) *cobra.Command {
	var apiURL string

	cmd := &cobra.Command{
		Use:   action + " <run-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatchControl(cmd, apiURL, args[0], action)
		},
	}

	cmd.Flags().StringVar(&apiURL, "api", "http://localhost:8080", "base URL of the demandgen API server")
	return cmd
}

func runBatchControl(cmd *cobra.Command, apiURL, runID, action string) error {
	url := fmt.Sprintf("%s/api/batch/%s/%s", apiURL, runID, action)
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("reach API server at %s: %w", apiURL, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		fmt.Fprintf(cmd.OutOrStdout(), "Batch %s: %s requested\n", runID, action)
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("no live run %s on %s", runID, apiURL)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("API returned %s: %s", resp.Status, string(body))
	}
}

func newBatchProgressCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "progress <run-id>",
		Short: "Show progress of a batch run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatchProgress(cmd, configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "demandgen.yaml", "path to demandgen config file")
	return cmd
}

func runBatchProgress(cmd *cobra.Command, configPath, runID string) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	var run models.BatchRun
	if err := gormDB.Where("id = ?", runID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("unknown run %s", runID)
		}
		return fmt.Errorf("load run %s: %w", runID, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:        %s\n", run.ID)
	fmt.Fprintf(out, "Plan:       %s\n", run.StrategicPlanID)
	fmt.Fprintf(out, "Status:     %s\n", run.Status)
	fmt.Fprintf(out, "Progress:   %d/%d processed, %d failed\n", run.Completed, run.Total, run.Failed)
	if run.CurrentItemID != "" {
		fmt.Fprintf(out, "Current:    %s\n", run.CurrentItemID)
	}
	if run.StartedAt != nil {
		fmt.Fprintf(out, "Started:    %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if run.FinishedAt != nil {
		fmt.Fprintf(out, "Finished:   %s\n", run.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
