// Package review implements the human-facing state transitions on queue
// items: the approve/reject/regenerate gateway for items routed to manual
// review, and the operator skip for pending items.
package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/civitaslab/demandgen/internal/models"
	"github.com/civitaslab/demandgen/internal/queue"
	"gorm.io/gorm"
)

// ErrValidation is returned for caller mistakes (missing reason, unknown
// item). No state is mutated.
var ErrValidation = errors.New("review: validation failed")

// Note is one entry in an item's append-only improvement notes history.
type Note struct {
	Note string    `json:"note"`
	At   time.Time `json:"at"`
}

// Approve moves a review item to accepted.
func Approve(db *gorm.DB, itemID string) error {
	return transition(db, itemID, queue.OpApprove, func(item *models.QueueItem, updates map[string]interface{}) error {
		return nil
	})
}

// Reject moves a review item to rejected, storing the reason and optional
// improvement notes. An empty reason is a validation error.
func Reject(db *gorm.DB, itemID, reason, improvementNotes string) error {
	if reason == "" {
		return fmt.Errorf("%w: rejection reason is required", ErrValidation)
	}
	return transition(db, itemID, queue.OpReject, func(item *models.QueueItem, updates map[string]interface{}) error {
		updates["rejection_reason"] = reason
		if improvementNotes != "" {
			history, err := appendNote(item.ImprovementNotes, improvementNotes)
			if err != nil {
				return err
			}
			updates["improvement_notes"] = history
		}
		return nil
	})
}

// RequestRegeneration moves a review item back to pending for another
// generation attempt. The generated-entity linkage is cleared, feedback is
// appended to the notes history, and the attempt counter is left alone.
func RequestRegeneration(db *gorm.DB, itemID, feedbackNotes string) error {
	return transition(db, itemID, queue.OpRegenerate, func(item *models.QueueItem, updates map[string]interface{}) error {
		updates["generated_entity_id"] = ""
		updates["generated_entity_type"] = ""
		if feedbackNotes != "" {
			history, err := appendNote(item.ImprovementNotes, feedbackNotes)
			if err != nil {
				return err
			}
			updates["improvement_notes"] = history
		}
		return nil
	})
}

// Skip retires a pending item without processing it. Skipped is terminal:
// the gap stays visible in reports and a later queue generation may create
// a fresh item for the same pair.
func Skip(db *gorm.DB, itemID string) error {
	return transition(db, itemID, queue.OpSkip, func(item *models.QueueItem, updates map[string]interface{}) error {
		return nil
	})
}

// Notes decodes an item's improvement notes history.
func Notes(item *models.QueueItem) ([]Note, error) {
	if item.ImprovementNotes == "" {
		return nil, nil
	}
	var notes []Note
	if err := json.Unmarshal([]byte(item.ImprovementNotes), &notes); err != nil {
		return nil, fmt.Errorf("review: decode notes for %s: %w", item.ID, err)
	}
	return notes, nil
}

// transition loads the item, validates the operation against its current
// status and applies the update inside one transaction.
func transition(db *gorm.DB, itemID, op string, mutate func(*models.QueueItem, map[string]interface{}) error) error {
	return db.Transaction(func(tx *gorm.DB) error {
		var item models.QueueItem
		if err := tx.Where("id = ?", itemID).First(&item).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: item not found: %s", ErrValidation, itemID)
			}
			return fmt.Errorf("review: load item %s: %w", itemID, err)
		}

		next, err := queue.Transition(item.Status, op)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{"status": next}
		if err := mutate(&item, updates); err != nil {
			return err
		}

		// Status predicate guards against the item moving between the load
		// and the update.
		result := tx.Model(&models.QueueItem{}).
			Where("id = ? AND status = ?", itemID, item.Status).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("review: %s item %s: %w", op, itemID, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: item %s changed status during %s", queue.ErrStateConflict, itemID, op)
		}
		return nil
	})
}

func appendNote(history, note string) (string, error) {
	var notes []Note
	if history != "" {
		if err := json.Unmarshal([]byte(history), &notes); err != nil {
			return "", fmt.Errorf("review: decode notes history: %w", err)
		}
	}
	notes = append(notes, Note{Note: note, At: time.Now().UTC()})
	data, err := json.Marshal(notes)
	if err != nil {
		return "", fmt.Errorf("review: encode notes history: %w", err)
	}
	return string(data), nil
}
