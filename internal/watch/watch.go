// Package watch runs the advisory watch daemon: on a cron schedule it
// recomputes the plan's gap report, counts the review backlog and stuck
// items, and posts a digest. It never mutates queue state.
package watch

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/civitaslab/demandgen/internal/coverage"
	"github.com/civitaslab/demandgen/internal/gap"
	"github.com/civitaslab/demandgen/internal/models"
	"github.com/civitaslab/demandgen/internal/notify"
	"github.com/civitaslab/demandgen/internal/recovery"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// Opts holds parameters for the watch loop.
type Opts struct {
	DB          *gorm.DB
	Store       coverage.Store
	PlanID      string
	Schedule    string // 5-field cron expression
	StuckWindow time.Duration
	Sink        notify.Sink
	Out         io.Writer
}

// Run blocks until ctx is cancelled, posting a digest at each scheduled
// tick. An unparsable schedule is an error; digest failures are logged and
// the loop continues.
func Run(ctx context.Context, opts Opts) error {
	if opts.DB == nil {
		return fmt.Errorf("watch: db is required")
	}
	if opts.Store == nil {
		return fmt.Errorf("watch: coverage store is required")
	}
	if opts.PlanID == "" {
		return fmt.Errorf("watch: plan ID is required")
	}
	if _, err := cronParser.Parse(opts.Schedule); err != nil {
		return fmt.Errorf("watch: parse schedule %q: %w", opts.Schedule, err)
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}

	fmt.Fprintf(opts.Out, "Watch daemon started for plan %s (schedule %q)\n", opts.PlanID, opts.Schedule)
	for {
		d := nextCronDuration(opts.Schedule)
		select {
		case <-ctx.Done():
			fmt.Fprintf(opts.Out, "Watch daemon stopped.\n")
			return nil
		case <-time.After(d):
		}

		digest, err := BuildDigest(opts.DB, opts.Store, opts.PlanID, opts.StuckWindow)
		if err != nil {
			log.Printf("watch: build digest: %v", err)
			continue
		}
		fmt.Fprintln(opts.Out, digest)
		if opts.Sink != nil {
			if err := opts.Sink.Post(ctx, digest); err != nil {
				log.Printf("watch: post digest: %v", err)
			}
		}
	}
}

// BuildDigest assembles the advisory status digest for a plan.
func BuildDigest(db *gorm.DB, store coverage.Store, planID string, stuckWindow time.Duration) (string, error) {
	report, err := gap.Analyze(store, planID)
	if err != nil {
		return "", err
	}

	counts, err := store.CurrentCounts(planID)
	if err != nil {
		return "", fmt.Errorf("watch: current counts: %w", err)
	}
	totalCurrent := 0
	for _, n := range counts {
		totalCurrent += n
	}

	var reviewCount int64
	if err := db.Model(&models.QueueItem{}).
		Where("strategic_plan_id = ? AND status = ?", planID, models.StatusReview).
		Count(&reviewCount).Error; err != nil {
		return "", fmt.Errorf("watch: count review backlog: %w", err)
	}

	stuck, err := recovery.StuckItems(db, planID, stuckWindow)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Plan %s: %d%% overall coverage, %d generation(s) needed.",
		planID, report.OverallPct, report.TotalGenerationNeeded)
	if len(counts) > 0 {
		fmt.Fprintf(&b, " Inventory: %d entities across %d type(s).", totalCurrent, len(counts))
	}
	fmt.Fprintf(&b, " Review backlog: %d.", reviewCount)
	if len(stuck) > 0 {
		fmt.Fprintf(&b, " %d item(s) stuck in progress — run `dg recover`.", len(stuck))
	}
	return b.String(), nil
}
