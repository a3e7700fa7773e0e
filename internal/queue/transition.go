package queue

import (
	"errors"
	"fmt"

	"github.com/civitaslab/demandgen/internal/models"
)

// ErrStateConflict is returned when an operation is invoked on an item whose
// status does not permit it. Callers must leave the item unchanged.
var ErrStateConflict = errors.New("queue: operation not valid for item status")

// Operations on a queue item. Batch and review operations share one
// transition table so every status change funnels through Transition.
const (
	OpStartAttempt = "start_attempt" // scheduler picks the item up
	OpAccept       = "accept"        // scheduler auto-approves
	OpRouteReview  = "route_review"  // scheduler routes to manual review
	OpRevert       = "revert"        // scheduler reverts after a collaborator failure
	OpApprove      = "approve"       // reviewer approves
	OpReject       = "reject"        // reviewer rejects
	OpRegenerate   = "regenerate"    // reviewer requests regeneration
	OpSkip         = "skip"          // operator skips a pending item
)

// ValidTransitions maps (status, operation) to the resulting status.
// accepted, rejected and skipped are terminal: no operation leaves them.
var ValidTransitions = map[string]map[string]string{
	models.StatusPending: {
		OpStartAttempt: models.StatusInProgress,
		OpSkip:         models.StatusSkipped,
	},
	models.StatusInProgress: {
		OpAccept:      models.StatusAccepted,
		OpRouteReview: models.StatusReview,
		OpRevert:      models.StatusPending,
	},
	models.StatusReview: {
		OpApprove:    models.StatusAccepted,
		OpReject:     models.StatusRejected,
		OpRegenerate: models.StatusPending,
	},
}

// Transition validates (current, op) and returns the next status.
func Transition(current, op string) (string, error) {
	ops, ok := ValidTransitions[current]
	if !ok {
		return "", fmt.Errorf("%w: %q is terminal, cannot %s", ErrStateConflict, current, op)
	}
	next, ok := ops[op]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s from %q", ErrStateConflict, op, current)
	}
	return next, nil
}
