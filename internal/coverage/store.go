// Package coverage provides read access to per-plan coverage targets and
// current entity counts.
package coverage

import (
	"fmt"

	"github.com/civitaslab/demandgen/internal/models"
	"gorm.io/gorm"
)

// Store is the read-only view of coverage state the gap analyzer consumes.
type Store interface {
	Targets(planID string) ([]models.CoverageTarget, error)
	Objectives(planID string) ([]models.Objective, error)
	CurrentCounts(planID string) (map[string]int, error)
}

// DBStore reads coverage state from the demandgen database.
type DBStore struct {
	db *gorm.DB
}

// NewDBStore returns a Store backed by the given database.
func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

// Targets returns all coverage target rows for a plan.
func (s *DBStore) Targets(planID string) ([]models.CoverageTarget, error) {
	var targets []models.CoverageTarget
	if err := s.db.Where("strategic_plan_id = ?", planID).
		Order("objective_id ASC, entity_type ASC").
		Find(&targets).Error; err != nil {
		return nil, fmt.Errorf("coverage: targets for %s: %w", planID, err)
	}
	return targets, nil
}

// Objectives returns the plan's objectives.
func (s *DBStore) Objectives(planID string) ([]models.Objective, error) {
	var objectives []models.Objective
	if err := s.db.Where("strategic_plan_id = ?", planID).
		Order("id ASC").
		Find(&objectives).Error; err != nil {
		return nil, fmt.Errorf("coverage: objectives for %s: %w", planID, err)
	}
	return objectives, nil
}

// CurrentCounts sums current counts per entity type across all tracked
// dimensions of a plan.
func (s *DBStore) CurrentCounts(planID string) (map[string]int, error) {
	targets, err := s.Targets(planID)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, t := range targets {
		counts[t.EntityType] += t.Current
	}
	return counts, nil
}
