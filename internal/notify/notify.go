// Package notify delivers operator notifications (batch digests,
// review-needed notices) to chat channels. Delivery is best-effort:
// failures are logged, never propagated into queue or batch state.
package notify

import (
	"context"
	"fmt"
	"log"
)

// Sink posts a plain-text notification somewhere an operator will see it.
type Sink interface {
	Post(ctx context.Context, text string) error
}

// Multi fans a notification out to several sinks. A failing sink is logged
// and skipped; Post never returns an error.
type Multi []Sink

// Post implements Sink.
func (m Multi) Post(ctx context.Context, text string) error {
	for _, sink := range m {
		if err := sink.Post(ctx, text); err != nil {
			log.Printf("notify: %v", err)
		}
	}
	return nil
}

// BatchDigest formats a run-finished notification.
func BatchDigest(runID, planID string, completed, failed, total int) string {
	return fmt.Sprintf("Batch %s for plan %s finished: %d completed, %d failed of %d selected.",
		runID, planID, completed, failed, total)
}

// ReviewNotice formats a review-backlog notification.
func ReviewNotice(planID string, reviewCount int) string {
	return fmt.Sprintf("Plan %s has %d item(s) awaiting manual review.", planID, reviewCount)
}
