// Package gap computes coverage gap reports for strategic plans.
package gap

import (
	"fmt"
	"sort"
	"time"

	"github.com/civitaslab/demandgen/internal/coverage"
	"github.com/civitaslab/demandgen/internal/models"
)

// EntityCoverage is the coverage state of one entity type within a scope.
type EntityCoverage struct {
	EntityType string
	Target     int
	Current    int
	Needed     int // max(target-current, 0)
	Pct        int // round(100*current/max(target,1)), not capped at 100
}

// ObjectiveCoverage breaks coverage down for one objective.
type ObjectiveCoverage struct {
	ObjectiveID  string
	Title        string
	Weight       int
	ByEntityType []EntityCoverage
	Pct          int
	Needed       int
}

// Report is a point-in-time coverage computation. It is never persisted;
// each computation supersedes the last.
type Report struct {
	StrategicPlanID       string
	OverallPct            int
	ByEntityType          map[string]EntityCoverage
	ByObjective           []ObjectiveCoverage
	TotalGenerationNeeded int
	GeneratedAt           time.Time
}

// Analyze builds a gap report for a plan. A plan with no targets yields an
// empty report with zero generation needed, not an error — gap analysis on
// an unconfigured plan is a valid, informative state.
func Analyze(store coverage.Store, planID string) (*Report, error) {
	targets, err := store.Targets(planID)
	if err != nil {
		return nil, fmt.Errorf("gap: %w", err)
	}
	objectives, err := store.Objectives(planID)
	if err != nil {
		return nil, fmt.Errorf("gap: %w", err)
	}

	report := &Report{
		StrategicPlanID: planID,
		ByEntityType:    make(map[string]EntityCoverage),
		GeneratedAt:     time.Now(),
	}
	if len(targets) == 0 {
		return report, nil
	}

	titles := make(map[string]models.Objective, len(objectives))
	for _, o := range objectives {
		titles[o.ID] = o
	}

	byObjective := make(map[string][]EntityCoverage)
	sumTarget, sumCurrent := 0, 0
	for _, t := range targets {
		ec := EntityCoverage{
			EntityType: t.EntityType,
			Target:     t.Target,
			Current:    t.Current,
			Needed:     needed(t.Target, t.Current),
			Pct:        pct(t.Current, t.Target),
		}
		sumTarget += t.Target
		sumCurrent += t.Current
		report.TotalGenerationNeeded += ec.Needed

		agg := report.ByEntityType[t.EntityType]
		agg.EntityType = t.EntityType
		agg.Target += t.Target
		agg.Current += t.Current
		agg.Needed += ec.Needed
		agg.Pct = pct(agg.Current, agg.Target)
		report.ByEntityType[t.EntityType] = agg

		if t.ObjectiveID != "" {
			byObjective[t.ObjectiveID] = append(byObjective[t.ObjectiveID], ec)
		}
	}
	report.OverallPct = pct(sumCurrent, sumTarget)

	objectiveIDs := make([]string, 0, len(byObjective))
	for id := range byObjective {
		objectiveIDs = append(objectiveIDs, id)
	}
	sort.Strings(objectiveIDs)
	for _, id := range objectiveIDs {
		rows := byObjective[id]
		oc := ObjectiveCoverage{ObjectiveID: id, Weight: 1, ByEntityType: rows}
		if obj, ok := titles[id]; ok {
			oc.Title = obj.Title
			oc.Weight = obj.Weight
		}
		objTarget, objCurrent := 0, 0
		for _, ec := range rows {
			objTarget += ec.Target
			objCurrent += ec.Current
			oc.Needed += ec.Needed
		}
		oc.Pct = pct(objCurrent, objTarget)
		report.ByObjective = append(report.ByObjective, oc)
	}

	return report, nil
}

// pct computes round(100*current/max(target,1)). Values over 100 are kept;
// clamping is a display concern.
func pct(current, target int) int {
	if target < 1 {
		target = 1
	}
	return (100*current + target/2) / target
}

func needed(target, current int) int {
	if target > current {
		return target - current
	}
	return 0
}
