package models

import "time"

// CoverageTarget holds the target and current entity counts for one tracked
// dimension of a strategic plan. Rows with an empty ObjectiveID are plan-wide
// per-entity-type targets; rows with an ObjectiveID refine the target down to
// a single objective. Current may legitimately exceed Target.
type CoverageTarget struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	StrategicPlanID string `gorm:"size:64;not null;index:idx_coverage_dim,unique,priority:1"`
	ObjectiveID     string `gorm:"size:64;index:idx_coverage_dim,unique,priority:2"`
	EntityType      string `gorm:"size:32;not null;index:idx_coverage_dim,unique,priority:3"`
	Target          int    `gorm:"default:0"`
	Current         int    `gorm:"default:0"`
	UpdatedAt       time.Time
}

// Objective is a strategic-plan objective. Weight biases queue priority for
// gaps linked to this objective.
type Objective struct {
	ID              string `gorm:"primaryKey;size:64"`
	StrategicPlanID string `gorm:"size:64;not null;index"`
	Title           string `gorm:"not null"`
	Weight          int    `gorm:"default:1"`
	CreatedAt       time.Time
}
