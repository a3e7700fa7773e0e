// Package queue turns coverage gap reports into persisted generation work
// items and owns the queue item state machine.
package queue

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/civitaslab/demandgen/internal/gap"
	"github.com/civitaslab/demandgen/internal/models"
	"gorm.io/gorm"
)

// stalenessBonus is added to the priority score of gaps whose objective has
// never had queue activity, so untouched objectives surface first.
const stalenessBonus = 25

// PrefilledSpec is the structured seed handed to the external generator.
// Stored as JSON in QueueItem.PrefilledSpec.
type PrefilledSpec struct {
	Title          string `json:"title"`
	ObjectiveID    string `json:"objective_id"`
	ObjectiveTitle string `json:"objective_title"`
	EntityType     string `json:"entity_type"`
	Context        string `json:"context"`
}

// ListFilters holds optional filters for listing queue items.
type ListFilters struct {
	Status     string
	EntityType string
}

// GenerateID creates a unique queue item ID in qi-xxxxxxxx format.
func GenerateID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("queue: generate ID: %w", err)
	}
	return "qi-" + hex.EncodeToString(b), nil
}

// candidate is an unmet (objective, entity_type) pair scored for ordering.
type candidate struct {
	objectiveID    string
	objectiveTitle string
	entityType     string
	shortfall      int
	score          int
}

// Generate creates up to maxItems queue items from a gap report, one per
// unmet (objective, entity_type) pair. Pairs that already have a
// non-terminal item are skipped, so re-invoking on an unchanged report
// creates nothing new.
func Generate(db *gorm.DB, report *gap.Report, maxItems int) ([]models.QueueItem, error) {
	if report == nil {
		return nil, fmt.Errorf("queue: report is required")
	}
	if maxItems < 1 {
		return nil, fmt.Errorf("queue: maxItems must be >= 1")
	}

	staleness, err := objectiveStaleness(db, report)
	if err != nil {
		return nil, err
	}

	var candidates []candidate
	for _, oc := range report.ByObjective {
		for _, ec := range oc.ByEntityType {
			if ec.Needed == 0 {
				continue
			}
			c := candidate{
				objectiveID:    oc.ObjectiveID,
				objectiveTitle: oc.Title,
				entityType:     ec.EntityType,
				shortfall:      ec.Needed,
				score:          ec.Needed * 10 * oc.Weight,
			}
			if staleness[oc.ObjectiveID] {
				c.score += stalenessBonus
			}
			candidates = append(candidates, c)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	existing, err := nonTerminalPairs(db, report.StrategicPlanID)
	if err != nil {
		return nil, err
	}

	var created []models.QueueItem
	for _, c := range candidates {
		if len(created) >= maxItems {
			break
		}
		if existing[pairKey(c.objectiveID, c.entityType)] {
			continue
		}

		item, err := createItem(db, report.StrategicPlanID, c)
		if err != nil {
			return created, err
		}
		existing[pairKey(c.objectiveID, c.entityType)] = true
		created = append(created, *item)
	}
	return created, nil
}

// List returns queue items for a plan with optional filters, highest
// priority first.
func List(db *gorm.DB, planID string, filters ListFilters) ([]models.QueueItem, error) {
	q := db.Where("strategic_plan_id = ?", planID)
	if filters.Status != "" {
		q = q.Where("status = ?", filters.Status)
	}
	if filters.EntityType != "" {
		q = q.Where("entity_type = ?", filters.EntityType)
	}
	var items []models.QueueItem
	if err := q.Order("priority_score DESC, created_at ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("queue: list items for %s: %w", planID, err)
	}
	return items, nil
}

// Get loads one queue item by ID.
func Get(db *gorm.DB, itemID string) (*models.QueueItem, error) {
	var item models.QueueItem
	if err := db.Where("id = ?", itemID).First(&item).Error; err != nil {
		return nil, fmt.Errorf("queue: load item %s: %w", itemID, err)
	}
	return &item, nil
}

func createItem(db *gorm.DB, planID string, c candidate) (*models.QueueItem, error) {
	title := fmt.Sprintf("%s for %s", c.entityType, c.objectiveTitle)
	if c.objectiveTitle == "" {
		title = fmt.Sprintf("%s for objective %s", c.entityType, c.objectiveID)
	}

	spec := PrefilledSpec{
		Title:          title,
		ObjectiveID:    c.objectiveID,
		ObjectiveTitle: c.objectiveTitle,
		EntityType:     c.entityType,
		Context:        fmt.Sprintf("Coverage shortfall of %d for objective %s.", c.shortfall, c.objectiveID),
	}
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal spec: %w", err)
	}

	id, err := generateUniqueID(db)
	if err != nil {
		return nil, err
	}

	item := models.QueueItem{
		ID:              id,
		StrategicPlanID: planID,
		ObjectiveID:     c.objectiveID,
		EntityType:      c.entityType,
		Status:          models.StatusPending,
		PriorityScore:   c.score,
		Title:           title,
		PrefilledSpec:   string(specJSON),
	}
	if err := db.Create(&item).Error; err != nil {
		return nil, fmt.Errorf("queue: create item: %w", err)
	}
	return &item, nil
}

// nonTerminalPairs returns the set of (objective, entity_type) pairs that
// already have a pending, in_progress or review item.
func nonTerminalPairs(db *gorm.DB, planID string) (map[string]bool, error) {
	var items []models.QueueItem
	if err := db.Select("objective_id", "entity_type").
		Where("strategic_plan_id = ? AND status IN ?", planID, models.NonTerminalStatuses).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("queue: query existing items: %w", err)
	}
	pairs := make(map[string]bool, len(items))
	for _, it := range items {
		pairs[pairKey(it.ObjectiveID, it.EntityType)] = true
	}
	return pairs, nil
}

// objectiveStaleness reports which objectives in the report have no queue
// items at all yet.
func objectiveStaleness(db *gorm.DB, report *gap.Report) (map[string]bool, error) {
	stale := make(map[string]bool, len(report.ByObjective))
	for _, oc := range report.ByObjective {
		stale[oc.ObjectiveID] = true
	}
	var items []models.QueueItem
	if err := db.Select("objective_id").
		Where("strategic_plan_id = ?", report.StrategicPlanID).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("queue: query objective activity: %w", err)
	}
	for _, it := range items {
		stale[it.ObjectiveID] = false
	}
	return stale, nil
}

func generateUniqueID(db *gorm.DB) (string, error) {
	for i := 0; i < 5; i++ {
		id, err := GenerateID()
		if err != nil {
			return "", err
		}
		var count int64
		if err := db.Model(&models.QueueItem{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return "", fmt.Errorf("queue: check ID uniqueness: %w", err)
		}
		if count == 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("queue: could not generate unique ID after 5 attempts")
}

func pairKey(objectiveID, entityType string) string {
	return objectiveID + "|" + entityType
}
