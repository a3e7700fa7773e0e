// Package feedback mines rejected queue items into ranked rejection
// patterns. The output is advisory: it is surfaced to operators and never
// fed back into queue generation automatically.
package feedback

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/civitaslab/demandgen/internal/models"
	"gorm.io/gorm"
)

// DefaultMaxExamples caps the representative titles carried per pattern.
const DefaultMaxExamples = 3

// Pattern is a group of rejections sharing a normalized reason.
type Pattern struct {
	Reason         string
	Count          int
	EntityTypes    []string
	Examples       []string
	LastRejectedAt time.Time
}

// Patterns aggregates a plan's rejected items into patterns ordered by
// count descending, ties broken by most recent rejection.
func Patterns(db *gorm.DB, planID string, maxExamples int) ([]Pattern, error) {
	if maxExamples <= 0 {
		maxExamples = DefaultMaxExamples
	}

	var items []models.QueueItem
	if err := db.Where("strategic_plan_id = ? AND status = ?", planID, models.StatusRejected).
		Order("updated_at DESC").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("feedback: query rejected items for %s: %w", planID, err)
	}

	grouped := make(map[string]*Pattern)
	typeSets := make(map[string]map[string]bool)
	var order []string
	for _, item := range items {
		key := NormalizeReason(item.RejectionReason)
		if key == "" {
			continue
		}
		p, ok := grouped[key]
		if !ok {
			p = &Pattern{Reason: key, LastRejectedAt: item.UpdatedAt}
			grouped[key] = p
			typeSets[key] = make(map[string]bool)
			order = append(order, key)
		}
		p.Count++
		if item.UpdatedAt.After(p.LastRejectedAt) {
			p.LastRejectedAt = item.UpdatedAt
		}
		if !typeSets[key][item.EntityType] {
			typeSets[key][item.EntityType] = true
			p.EntityTypes = append(p.EntityTypes, item.EntityType)
		}
		if len(p.Examples) < maxExamples {
			p.Examples = append(p.Examples, item.Title)
		}
	}

	patterns := make([]Pattern, 0, len(grouped))
	for _, key := range order {
		sort.Strings(grouped[key].EntityTypes)
		patterns = append(patterns, *grouped[key])
	}
	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return patterns[i].LastRejectedAt.After(patterns[j].LastRejectedAt)
	})
	return patterns, nil
}

// NormalizeReason lowercases, trims and collapses inner whitespace so
// cosmetically different reasons group together.
func NormalizeReason(reason string) string {
	return strings.Join(strings.Fields(strings.ToLower(reason)), " ")
}
