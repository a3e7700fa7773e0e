// Package batch drives cancellable batch runs over pending queue items,
// invoking the external generator and quality assessor per item.
package batch

import (
	"context"
	"fmt"

	"github.com/civitaslab/demandgen/internal/models"
)

// DraftEntity is the generator's output: a draft downstream entity that has
// been persisted by the generator service.
type DraftEntity struct {
	EntityID   string `json:"entity_id"`
	EntityType string `json:"entity_type"`
	Title      string `json:"title"`
	Body       string `json:"body"`
}

// PlanContext carries strategic-plan context into generator calls.
type PlanContext struct {
	StrategicPlanID string `json:"strategic_plan_id"`
	ObjectiveID     string `json:"objective_id"`
	ObjectiveTitle  string `json:"objective_title"`
}

// Assessment is the quality assessor's structured verdict.
type Assessment struct {
	OverallScore    int            `json:"overall_score"` // 0-100
	DimensionScores map[string]int `json:"dimension_scores"`
}

// Generator produces a draft entity from a queue item's prefilled spec.
// One generator exists per entity type.
type Generator interface {
	Generate(ctx context.Context, item *models.QueueItem, plan PlanContext) (*DraftEntity, error)
}

// Assessor scores a draft entity.
type Assessor interface {
	Assess(ctx context.Context, entityType string, draft *DraftEntity, item *models.QueueItem) (*Assessment, error)
}

// Registry is the fixed entity-type → generator lookup plus the assessor.
// An entity type without a generator is a configuration error, checked at
// batch start, never retried at runtime.
type Registry struct {
	generators map[string]Generator
	assessor   Assessor
}

// NewRegistry creates an empty registry with the given assessor.
func NewRegistry(assessor Assessor) *Registry {
	return &Registry{
		generators: make(map[string]Generator),
		assessor:   assessor,
	}
}

// Register maps an entity type to its generator.
func (r *Registry) Register(entityType string, g Generator) {
	r.generators[entityType] = g
}

// Generator returns the generator for an entity type.
func (r *Registry) Generator(entityType string) (Generator, error) {
	g, ok := r.generators[entityType]
	if !ok {
		return nil, fmt.Errorf("batch: no generator registered for entity type %q", entityType)
	}
	return g, nil
}

// Assessor returns the registry's quality assessor.
func (r *Registry) Assessor() (Assessor, error) {
	if r.assessor == nil {
		return nil, fmt.Errorf("batch: no assessor registered")
	}
	return r.assessor, nil
}
