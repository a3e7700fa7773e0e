package models

import "time"

// QueueItem statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusAccepted   = "accepted"
	StatusReview     = "review"
	StatusRejected   = "rejected"
	StatusSkipped    = "skipped"
)

// NonTerminalStatuses are the statuses that block duplicate queue generation
// for the same (objective, entity_type) pair.
var NonTerminalStatuses = []string{StatusPending, StatusInProgress, StatusReview}

// QueueItem is the core unit of generation work in demandgen. One item
// represents one (objective, entity_type) coverage gap, not one missing
// entity. Items are never deleted, only transitioned.
type QueueItem struct {
	ID              string `gorm:"primaryKey;size:32"`
	StrategicPlanID string `gorm:"size:64;not null;index"`
	ObjectiveID     string `gorm:"size:64;index"`
	EntityType      string `gorm:"size:32;not null;index"`
	Status          string `gorm:"size:16;default:pending;index"`
	PriorityScore   int    `gorm:"default:0"`
	Title           string `gorm:"not null"`
	PrefilledSpec   string `gorm:"type:text"`

	Attempts      int `gorm:"default:0"`
	LastAttemptAt *time.Time

	GeneratedEntityID   string `gorm:"size:64"`
	GeneratedEntityType string `gorm:"size:32"`
	QualityScore        *int
	QualityFeedback     string `gorm:"type:text"`

	RejectionReason  string `gorm:"type:text"`
	ImprovementNotes string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
