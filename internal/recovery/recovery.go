// Package recovery resets queue items abandoned in_progress by a crashed
// batch run. Recovery is explicit — never run automatically — so a merely
// slow run is not mistaken for a dead one.
package recovery

import (
	"fmt"
	"time"

	"github.com/civitaslab/demandgen/internal/models"
	"github.com/civitaslab/demandgen/internal/queue"
	"gorm.io/gorm"
)

// DefaultStalenessWindow is how old an in_progress attempt must be before
// the item is considered abandoned.
const DefaultStalenessWindow = time.Hour

// StuckItems returns in_progress items whose last attempt is older than the
// staleness window.
func StuckItems(db *gorm.DB, planID string, window time.Duration) ([]models.QueueItem, error) {
	if window <= 0 {
		window = DefaultStalenessWindow
	}
	cutoff := time.Now().Add(-window)
	var items []models.QueueItem
	if err := db.Where("strategic_plan_id = ? AND status = ? AND last_attempt_at < ?",
		planID, models.StatusInProgress, cutoff).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("recovery: query stuck items for %s: %w", planID, err)
	}
	return items, nil
}

// ResetStuck moves stuck items back to pending so a future batch run can
// pick them up. Attempt counters are preserved. Returns the reset items;
// items that left in_progress between the query and the update are omitted.
func ResetStuck(db *gorm.DB, planID string, window time.Duration) ([]models.QueueItem, error) {
	items, err := StuckItems(db, planID, window)
	if err != nil {
		return nil, err
	}
	next, err := queue.Transition(models.StatusInProgress, queue.OpRevert)
	if err != nil {
		return nil, err
	}
	var reset []models.QueueItem
	for i := range items {
		result := db.Model(&models.QueueItem{}).
			Where("id = ? AND status = ?", items[i].ID, models.StatusInProgress).
			Update("status", next)
		if result.Error != nil {
			return reset, fmt.Errorf("recovery: reset item %s: %w", items[i].ID, result.Error)
		}
		if result.RowsAffected == 0 {
			continue
		}
		items[i].Status = next
		reset = append(reset, items[i])
	}
	return reset, nil
}
