package gap

import (
	"errors"
	"testing"

	"github.com/civitaslab/demandgen/internal/models"
)

// fakeStore implements coverage.Store in memory.
type fakeStore struct {
	targets    []models.CoverageTarget
	objectives []models.Objective
	err        error
}

func (f *fakeStore) Targets(planID string) ([]models.CoverageTarget, error) {
	return f.targets, f.err
}

func (f *fakeStore) Objectives(planID string) ([]models.Objective, error) {
	return f.objectives, f.err
}

func (f *fakeStore) CurrentCounts(planID string) (map[string]int, error) {
	counts := map[string]int{}
	for _, t := range f.targets {
		counts[t.EntityType] += t.Current
	}
	return counts, f.err
}

func TestAnalyze_UnconfiguredPlan(t *testing.T) {
	report, err := Analyze(&fakeStore{}, "plan-empty")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if report.TotalGenerationNeeded != 0 {
		t.Errorf("TotalGenerationNeeded = %d, want 0", report.TotalGenerationNeeded)
	}
	if report.OverallPct != 0 {
		t.Errorf("OverallPct = %d, want 0", report.OverallPct)
	}
	if len(report.ByEntityType) != 0 || len(report.ByObjective) != 0 {
		t.Errorf("expected empty breakdowns, got %+v", report)
	}
}

func TestAnalyze_PerObjectiveBreakdown(t *testing.T) {
	store := &fakeStore{
		targets: []models.CoverageTarget{
			{StrategicPlanID: "p1", ObjectiveID: "o1", EntityType: "challenge", Target: 10, Current: 2},
			{StrategicPlanID: "p1", ObjectiveID: "o1", EntityType: "pilot", Target: 4, Current: 4},
			{StrategicPlanID: "p1", ObjectiveID: "o2", EntityType: "challenge", Target: 5, Current: 1},
		},
		objectives: []models.Objective{
			{ID: "o1", StrategicPlanID: "p1", Title: "Mobility", Weight: 3},
			{ID: "o2", StrategicPlanID: "p1", Title: "Energy", Weight: 1},
		},
	}

	report, err := Analyze(store, "p1")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	// total needed: (10-2) + 0 + (5-1) = 12
	if report.TotalGenerationNeeded != 12 {
		t.Errorf("TotalGenerationNeeded = %d, want 12", report.TotalGenerationNeeded)
	}

	// overall: 7 of 19 -> 37%
	if report.OverallPct != 37 {
		t.Errorf("OverallPct = %d, want 37", report.OverallPct)
	}

	ch := report.ByEntityType["challenge"]
	if ch.Target != 15 || ch.Current != 3 || ch.Needed != 12 {
		t.Errorf("challenge aggregate = %+v", ch)
	}
	if ch.Pct != 20 {
		t.Errorf("challenge Pct = %d, want 20", ch.Pct)
	}

	if len(report.ByObjective) != 2 {
		t.Fatalf("ByObjective = %d entries, want 2", len(report.ByObjective))
	}
	o1 := report.ByObjective[0]
	if o1.ObjectiveID != "o1" || o1.Title != "Mobility" || o1.Weight != 3 {
		t.Errorf("o1 = %+v", o1)
	}
	if o1.Needed != 8 {
		t.Errorf("o1.Needed = %d, want 8", o1.Needed)
	}
	// o1: 6 of 14 -> 43%
	if o1.Pct != 43 {
		t.Errorf("o1.Pct = %d, want 43", o1.Pct)
	}
}

func TestAnalyze_OvershootNotCapped(t *testing.T) {
	store := &fakeStore{targets: []models.CoverageTarget{
		{StrategicPlanID: "p1", ObjectiveID: "o1", EntityType: "event", Target: 4, Current: 6},
	}}
	report, err := Analyze(store, "p1")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got := report.ByEntityType["event"].Pct; got != 150 {
		t.Errorf("Pct = %d, want 150 (not capped)", got)
	}
	if report.TotalGenerationNeeded != 0 {
		t.Errorf("TotalGenerationNeeded = %d, want 0", report.TotalGenerationNeeded)
	}
}

func TestAnalyze_ZeroTargetDividesByOne(t *testing.T) {
	store := &fakeStore{targets: []models.CoverageTarget{
		{StrategicPlanID: "p1", ObjectiveID: "o1", EntityType: "policy", Target: 0, Current: 2},
	}}
	report, err := Analyze(store, "p1")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got := report.ByEntityType["policy"].Pct; got != 200 {
		t.Errorf("Pct = %d, want 200", got)
	}
}

func TestAnalyze_StoreError(t *testing.T) {
	wantErr := errors.New("boom")
	_, err := Analyze(&fakeStore{err: wantErr}, "p1")
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want wrapped store error", err)
	}
}
