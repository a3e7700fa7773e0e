package db

import (
	"fmt"

	"github.com/civitaslab/demandgen/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.QueueItem{},
		&models.CoverageTarget{},
		&models.Objective{},
		&models.BatchRun{},
	}
}

// AutoMigrate creates or updates all demandgen tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// ObjectiveSeed describes one objective row in a seed file.
type ObjectiveSeed struct {
	ID     string `yaml:"id"`
	Title  string `yaml:"title"`
	Weight int    `yaml:"weight"`
}

// TargetSeed describes one coverage target row in a seed file.
type TargetSeed struct {
	ObjectiveID string `yaml:"objective_id"`
	EntityType  string `yaml:"entity_type"`
	Target      int    `yaml:"target"`
	Current     int    `yaml:"current"`
}

// SeedObjectives upserts Objective rows for a plan.
func SeedObjectives(db *gorm.DB, planID string, seeds []ObjectiveSeed) error {
	for _, s := range seeds {
		if s.ID == "" || s.Title == "" {
			return fmt.Errorf("db: objective seed requires id and title")
		}
		weight := s.Weight
		if weight < 1 {
			weight = 1
		}
		obj := models.Objective{
			ID:              s.ID,
			StrategicPlanID: planID,
			Title:           s.Title,
			Weight:          weight,
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"strategic_plan_id", "title", "weight"}),
		}).Create(&obj)
		if result.Error != nil {
			return fmt.Errorf("db: seed objective %q: %w", s.ID, result.Error)
		}
	}
	return nil
}

// SeedTargets upserts CoverageTarget rows for a plan.
func SeedTargets(db *gorm.DB, planID string, seeds []TargetSeed) error {
	for _, s := range seeds {
		if s.EntityType == "" {
			return fmt.Errorf("db: target seed requires entity_type")
		}
		if s.Target < 0 || s.Current < 0 {
			return fmt.Errorf("db: target seed for %q: counts must be >= 0", s.EntityType)
		}
		target := models.CoverageTarget{
			StrategicPlanID: planID,
			ObjectiveID:     s.ObjectiveID,
			EntityType:      s.EntityType,
			Target:          s.Target,
			Current:         s.Current,
		}
		result := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "strategic_plan_id"}, {Name: "objective_id"}, {Name: "entity_type"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"target", "current"}),
		}).Create(&target)
		if result.Error != nil {
			return fmt.Errorf("db: seed target %s/%s: %w", s.ObjectiveID, s.EntityType, result.Error)
		}
	}
	return nil
}
