package models

import "time"

// BatchRun statuses.
const (
	RunStatusRunning   = "running"
	RunStatusPaused    = "paused"
	RunStatusCompleted = "completed"
	RunStatusStopped   = "stopped"
)

// BatchRun records one bounded scheduler execution over a selected set of
// pending queue items. The row mirrors the live runner's progress so
// progress queries keep working across processes and after the run ends.
type BatchRun struct {
	ID               string `gorm:"primaryKey;size:32"`
	StrategicPlanID  string `gorm:"size:64;not null;index"`
	EntityTypeFilter string `gorm:"size:32"`
	BatchSize        int
	AutoApprove      bool
	MinQuality       int

	Status        string `gorm:"size:16;default:running;index"`
	Total         int
	Completed     int
	Failed        int
	CurrentItemID string `gorm:"size:32"`
	ErrorMessage  string `gorm:"type:text"`

	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
