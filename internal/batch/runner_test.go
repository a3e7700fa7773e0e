package batch

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/civitaslab/demandgen/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := gdb.AutoMigrate(&models.QueueItem{}, &models.BatchRun{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gdb
}

// fakeGenerator returns canned drafts. With gated=true each call announces
// itself on started and blocks until release receives a value, letting tests
// drive pause/stop timing deterministically.
type fakeGenerator struct {
	mu      sync.Mutex
	calls   []string
	failIDs map[string]bool
	gated   bool
	started chan string
	release chan struct{}
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{failIDs: map[string]bool{}}
}

func newGatedGenerator() *fakeGenerator {
	return &fakeGenerator{
		failIDs: map[string]bool{},
		gated:   true,
		started: make(chan string, 8),
		release: make(chan struct{}),
	}
}

func (g *fakeGenerator) Generate(ctx context.Context, item *models.QueueItem, plan PlanContext) (*DraftEntity, error) {
	g.mu.Lock()
	g.calls = append(g.calls, item.ID)
	g.mu.Unlock()

	if g.gated {
		g.started <- item.ID
		<-g.release
	}
	if g.failIDs[item.ID] {
		return nil, context.DeadlineExceeded
	}
	return &DraftEntity{
		EntityID:   "ent-" + item.ID,
		EntityType: item.EntityType,
		Title:      item.Title,
	}, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// fakeAssessor scores items from a map, defaulting to 80.
type fakeAssessor struct {
	scores  map[string]int
	failIDs map[string]bool
}

func (a *fakeAssessor) Assess(ctx context.Context, entityType string, draft *DraftEntity, item *models.QueueItem) (*Assessment, error) {
	if a.failIDs != nil && a.failIDs[item.ID] {
		return nil, context.DeadlineExceeded
	}
	score := 80
	if a.scores != nil {
		if s, ok := a.scores[item.ID]; ok {
			score = s
		}
	}
	return &Assessment{
		OverallScore:    score,
		DimensionScores: map[string]int{"relevance": score},
	}, nil
}

func testRegistry(gen Generator, assessor Assessor, entityTypes ...string) *Registry {
	reg := NewRegistry(assessor)
	if len(entityTypes) == 0 {
		entityTypes = []string{"challenge"}
	}
	for _, et := range entityTypes {
		reg.Register(et, gen)
	}
	return reg
}

func seedPending(t *testing.T, gdb *gorm.DB, id string, priority int) {
	t.Helper()
	seedPendingTyped(t, gdb, id, "challenge", priority)
}

func seedPendingTyped(t *testing.T, gdb *gorm.DB, id, entityType string, priority int) {
	t.Helper()
	item := models.QueueItem{
		ID:              id,
		StrategicPlanID: "p1",
		ObjectiveID:     "o1",
		EntityType:      entityType,
		Status:          models.StatusPending,
		PriorityScore:   priority,
		Title:           "item " + id,
		PrefilledSpec:   `{"title":"x","objective_id":"o1","objective_title":"Mobility"}`,
	}
	if err := gdb.Create(&item).Error; err != nil {
		t.Fatalf("seed item %s: %v", id, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitDone(t *testing.T, r *Runner) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not finish")
	}
}

func itemByID(t *testing.T, gdb *gorm.DB, id string) models.QueueItem {
	t.Helper()
	var item models.QueueItem
	if err := gdb.Where("id = ?", id).First(&item).Error; err != nil {
		t.Fatalf("load item %s: %v", id, err)
	}
	return item
}

func TestStart_ConfigErrors(t *testing.T) {
	gdb := openTestDB(t)
	reg := testRegistry(newFakeGenerator(), &fakeAssessor{})

	tests := []struct {
		name   string
		params Params
		want   string
	}{
		{"missing plan", Params{BatchSize: 3, MinQuality: 70}, "plan ID is required"},
		{"bad size", Params{PlanID: "p1", BatchSize: 0, MinQuality: 70}, "batch size"},
		{"threshold low", Params{PlanID: "p1", BatchSize: 3, MinQuality: 49}, "out of range"},
		{"threshold high", Params{PlanID: "p1", BatchSize: 3, MinQuality: 96}, "out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Start(context.Background(), gdb, reg, tt.params, nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want to contain %q", err, tt.want)
			}
		})
	}

	var count int64
	gdb.Model(&models.BatchRun{}).Count(&count)
	if count != 0 {
		t.Errorf("batch run rows = %d, want 0 after aborted starts", count)
	}
}

func TestStart_UnmappedEntityTypeAborts(t *testing.T) {
	gdb := openTestDB(t)
	seedPendingTyped(t, gdb, "qi-1", "living_lab", 10)

	reg := testRegistry(newFakeGenerator(), &fakeAssessor{}, "challenge")
	_, err := Start(context.Background(), gdb, reg, Params{PlanID: "p1", BatchSize: 3, MinQuality: 70}, nil)
	if err == nil || !strings.Contains(err.Error(), "no generator registered") {
		t.Errorf("err = %v, want unmapped entity type error", err)
	}

	// Nothing was processed.
	if got := itemByID(t, gdb, "qi-1"); got.Status != models.StatusPending || got.Attempts != 0 {
		t.Errorf("item = %+v, want untouched pending", got)
	}
}

func TestRun_BatchSizeLeavesRestPending(t *testing.T) {
	gdb := openTestDB(t)
	for i, id := range []string{"qi-1", "qi-2", "qi-3", "qi-4", "qi-5"} {
		seedPending(t, gdb, id, 50-i)
	}
	reg := testRegistry(newFakeGenerator(), &fakeAssessor{})

	r, err := Start(context.Background(), gdb, reg, Params{
		PlanID: "p1", BatchSize: 3, AutoApprove: false, MinQuality: 70,
	}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, r)

	// Exactly 3 processed, all routed to review since auto-approve is off,
	// regardless of their quality scores.
	for _, id := range []string{"qi-1", "qi-2", "qi-3"} {
		item := itemByID(t, gdb, id)
		if item.Status != models.StatusReview {
			t.Errorf("%s status = %q, want review", id, item.Status)
		}
		if item.Attempts != 1 {
			t.Errorf("%s attempts = %d, want 1", id, item.Attempts)
		}
		if item.LastAttemptAt == nil {
			t.Errorf("%s LastAttemptAt not stamped", id)
		}
		if item.QualityScore == nil || *item.QualityScore != 80 {
			t.Errorf("%s quality score = %v, want 80", id, item.QualityScore)
		}
	}
	for _, id := range []string{"qi-4", "qi-5"} {
		item := itemByID(t, gdb, id)
		if item.Status != models.StatusPending || item.Attempts != 0 {
			t.Errorf("%s = %+v, want untouched pending", id, item)
		}
	}

	p := r.Progress()
	if p.Completed != 3 || p.Failed != 0 || p.Total != 3 {
		t.Errorf("progress = %+v", p)
	}

	var run models.BatchRun
	gdb.First(&run, "id = ?", r.ID())
	if run.Status != models.RunStatusCompleted || run.Completed != 3 {
		t.Errorf("run row = %+v", run)
	}
}

func TestRun_ThresholdBoundary(t *testing.T) {
	gdb := openTestDB(t)
	seedPending(t, gdb, "qi-at", 20)
	seedPending(t, gdb, "qi-below", 10)

	assessor := &fakeAssessor{scores: map[string]int{"qi-at": 70, "qi-below": 69}}
	reg := testRegistry(newFakeGenerator(), assessor)

	r, err := Start(context.Background(), gdb, reg, Params{
		PlanID: "p1", BatchSize: 5, AutoApprove: true, MinQuality: 70,
	}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, r)

	// Boundary is inclusive on the accept side.
	at := itemByID(t, gdb, "qi-at")
	if at.Status != models.StatusAccepted {
		t.Errorf("score 70 status = %q, want accepted", at.Status)
	}
	if at.GeneratedEntityID != "ent-qi-at" {
		t.Errorf("accepted item GeneratedEntityID = %q", at.GeneratedEntityID)
	}

	below := itemByID(t, gdb, "qi-below")
	if below.Status != models.StatusReview {
		t.Errorf("score 69 status = %q, want review", below.Status)
	}
}

func TestRun_GeneratorFailureRevertsToPending(t *testing.T) {
	gdb := openTestDB(t)
	seedPending(t, gdb, "qi-bad", 20)
	seedPending(t, gdb, "qi-good", 10)

	gen := newFakeGenerator()
	gen.failIDs["qi-bad"] = true
	reg := testRegistry(gen, &fakeAssessor{})

	r, err := Start(context.Background(), gdb, reg, Params{
		PlanID: "p1", BatchSize: 5, AutoApprove: true, MinQuality: 70,
	}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, r)

	bad := itemByID(t, gdb, "qi-bad")
	if bad.Status != models.StatusPending {
		t.Errorf("failed item status = %q, want pending (eligible for a future run)", bad.Status)
	}
	if bad.Attempts != 1 {
		t.Errorf("failed item attempts = %d, want 1", bad.Attempts)
	}
	if !strings.Contains(bad.QualityFeedback, "generator") {
		t.Errorf("QualityFeedback = %q, want generator error record", bad.QualityFeedback)
	}

	good := itemByID(t, gdb, "qi-good")
	if good.Status != models.StatusAccepted {
		t.Errorf("batch did not continue: %s = %q", good.ID, good.Status)
	}

	p := r.Progress()
	if p.Completed != 1 || p.Failed != 1 {
		t.Errorf("progress = %+v, want 1 completed / 1 failed", p)
	}
}

func TestRun_AssessorFailureRevertsToPending(t *testing.T) {
	gdb := openTestDB(t)
	seedPending(t, gdb, "qi-1", 10)

	assessor := &fakeAssessor{failIDs: map[string]bool{"qi-1": true}}
	reg := testRegistry(newFakeGenerator(), assessor)

	r, err := Start(context.Background(), gdb, reg, Params{
		PlanID: "p1", BatchSize: 1, AutoApprove: true, MinQuality: 70,
	}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, r)

	// Generated but unassessed must not be accepted blind.
	item := itemByID(t, gdb, "qi-1")
	if item.Status != models.StatusPending {
		t.Errorf("status = %q, want pending", item.Status)
	}
	if !strings.Contains(item.QualityFeedback, "assessor") {
		t.Errorf("QualityFeedback = %q, want assessor error record", item.QualityFeedback)
	}
}

func TestRun_MonotoneAttemptsAcrossRuns(t *testing.T) {
	gdb := openTestDB(t)
	seedPending(t, gdb, "qi-1", 10)

	gen := newFakeGenerator()
	gen.failIDs["qi-1"] = true
	reg := testRegistry(gen, &fakeAssessor{})
	params := Params{PlanID: "p1", BatchSize: 1, MinQuality: 70}

	for i := 1; i <= 3; i++ {
		r, err := Start(context.Background(), gdb, reg, params, nil)
		if err != nil {
			t.Fatalf("Start run %d: %v", i, err)
		}
		waitDone(t, r)
		if got := itemByID(t, gdb, "qi-1").Attempts; got != i {
			t.Errorf("attempts after run %d = %d, want %d", i, got, i)
		}
	}
}

func TestRun_PauseResumeProcessesEachItemOnce(t *testing.T) {
	gdb := openTestDB(t)
	seedPending(t, gdb, "qi-1", 30)
	seedPending(t, gdb, "qi-2", 20)
	seedPending(t, gdb, "qi-3", 10)

	gen := newGatedGenerator()
	reg := testRegistry(gen, &fakeAssessor{})

	r, err := Start(context.Background(), gdb, reg, Params{
		PlanID: "p1", BatchSize: 3, MinQuality: 70,
	}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Item 1 is in flight; pause before letting it finish. The pause must
	// not interrupt it mid-item.
	if got := <-gen.started; got != "qi-1" {
		t.Fatalf("first item = %s, want qi-1", got)
	}
	r.Pause()
	gen.release <- struct{}{}

	waitFor(t, "item 1 to complete", func() bool { return r.Progress().Completed == 1 })

	// No second item starts while paused.
	select {
	case id := <-gen.started:
		t.Fatalf("item %s started while paused", id)
	case <-time.After(50 * time.Millisecond):
	}
	if got := itemByID(t, gdb, "qi-2"); got.Status != models.StatusPending {
		t.Fatalf("qi-2 status = %q while paused, want pending", got.Status)
	}

	r.Resume()
	if got := <-gen.started; got != "qi-2" {
		t.Fatalf("resumed with %s, want qi-2", got)
	}
	gen.release <- struct{}{}
	if got := <-gen.started; got != "qi-3" {
		t.Fatalf("third item = %s, want qi-3", got)
	}
	gen.release <- struct{}{}
	waitDone(t, r)

	// Items 2 and 3 processed exactly once each, item 1 not re-processed.
	if gen.callCount() != 3 {
		t.Errorf("generator calls = %d, want 3", gen.callCount())
	}
	for _, id := range []string{"qi-1", "qi-2", "qi-3"} {
		if got := itemByID(t, gdb, id).Attempts; got != 1 {
			t.Errorf("%s attempts = %d, want 1", id, got)
		}
	}
	p := r.Progress()
	if p.Completed != 3 || p.State != models.RunStatusCompleted {
		t.Errorf("progress = %+v", p)
	}
}

func TestRun_StopDiscardsRemainder(t *testing.T) {
	gdb := openTestDB(t)
	seedPending(t, gdb, "qi-1", 30)
	seedPending(t, gdb, "qi-2", 20)
	seedPending(t, gdb, "qi-3", 10)

	gen := newGatedGenerator()
	reg := testRegistry(gen, &fakeAssessor{})

	r, err := Start(context.Background(), gdb, reg, Params{
		PlanID: "p1", BatchSize: 3, AutoApprove: true, MinQuality: 70,
	}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Stop while item 1 is in flight: it completes its full sequence, the
	// rest of the batch is discarded.
	if got := <-gen.started; got != "qi-1" {
		t.Fatalf("first item = %s, want qi-1", got)
	}
	r.Stop()
	gen.release <- struct{}{}
	waitDone(t, r)

	if got := itemByID(t, gdb, "qi-1"); got.Status != models.StatusAccepted {
		t.Errorf("qi-1 = %q, want accepted (in-flight item keeps its outcome)", got.Status)
	}
	for _, id := range []string{"qi-2", "qi-3"} {
		if got := itemByID(t, gdb, id); got.Status != models.StatusPending || got.Attempts != 0 {
			t.Errorf("%s = %+v, want untouched pending", id, got)
		}
	}

	var run models.BatchRun
	gdb.First(&run, "id = ?", r.ID())
	if run.Status != models.RunStatusStopped {
		t.Errorf("run status = %q, want stopped", run.Status)
	}
	if gen.callCount() != 1 {
		t.Errorf("generator calls = %d, want 1", gen.callCount())
	}
}

func TestRun_ConcurrentRunsClaimEachItemOnce(t *testing.T) {
	gdb := openTestDB(t)
	seedPending(t, gdb, "qi-1", 30)
	seedPending(t, gdb, "qi-2", 20)

	// Run A snapshots both items and is held mid-flight on qi-1.
	genA := newGatedGenerator()
	runA, err := Start(context.Background(), gdb, testRegistry(genA, &fakeAssessor{}), Params{
		PlanID: "p1", BatchSize: 2, MinQuality: 70,
	}, nil)
	if err != nil {
		t.Fatalf("Start run A: %v", err)
	}
	if got := <-genA.started; got != "qi-1" {
		t.Fatalf("run A first item = %s, want qi-1", got)
	}

	// Run B starts while A holds qi-1. qi-1 is in_progress so B's snapshot
	// picks up qi-2 only, and B processes it to completion.
	genB := newFakeGenerator()
	runB, err := Start(context.Background(), gdb, testRegistry(genB, &fakeAssessor{}), Params{
		PlanID: "p1", BatchSize: 2, MinQuality: 70,
	}, nil)
	if err != nil {
		t.Fatalf("Start run B: %v", err)
	}
	waitDone(t, runB)
	if runB.Progress().Total != 1 {
		t.Errorf("run B total = %d, want 1 (qi-1 held by run A)", runB.Progress().Total)
	}

	// A finishes qi-1 and reaches qi-2 from its stale snapshot. The claim
	// must fail: no second generator invocation, no double attempt.
	genA.release <- struct{}{}
	waitDone(t, runA)

	if gotA := genA.callCount(); gotA != 1 {
		t.Errorf("run A generator calls = %d, want 1 (qi-2 claimed by run B)", gotA)
	}
	if gotB := genB.callCount(); gotB != 1 {
		t.Errorf("run B generator calls = %d, want 1", gotB)
	}
	for _, id := range []string{"qi-1", "qi-2"} {
		item := itemByID(t, gdb, id)
		if item.Attempts != 1 {
			t.Errorf("%s attempts = %d, want 1", id, item.Attempts)
		}
		if item.Status != models.StatusReview {
			t.Errorf("%s status = %q, want review", id, item.Status)
		}
	}
}

func TestRun_SelectionSnapshotExcludesMidRunItems(t *testing.T) {
	gdb := openTestDB(t)
	seedPending(t, gdb, "qi-1", 10)

	gen := newGatedGenerator()
	reg := testRegistry(gen, &fakeAssessor{})

	r, err := Start(context.Background(), gdb, reg, Params{
		PlanID: "p1", BatchSize: 5, MinQuality: 70,
	}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	<-gen.started
	// Added mid-run: must not be picked up by this run.
	seedPending(t, gdb, "qi-late", 99)
	gen.release <- struct{}{}
	waitDone(t, r)

	if got := itemByID(t, gdb, "qi-late"); got.Status != models.StatusPending || got.Attempts != 0 {
		t.Errorf("qi-late = %+v, want untouched", got)
	}
	if r.Progress().Total != 1 {
		t.Errorf("Total = %d, want 1", r.Progress().Total)
	}
}

func TestRun_EntityTypeFilter(t *testing.T) {
	gdb := openTestDB(t)
	seedPendingTyped(t, gdb, "qi-ch", "challenge", 10)
	seedPendingTyped(t, gdb, "qi-pi", "pilot", 20)

	reg := testRegistry(newFakeGenerator(), &fakeAssessor{}, "challenge", "pilot")
	r, err := Start(context.Background(), gdb, reg, Params{
		PlanID: "p1", EntityTypeFilter: "pilot", BatchSize: 5, MinQuality: 70,
	}, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, r)

	if got := itemByID(t, gdb, "qi-ch"); got.Status != models.StatusPending {
		t.Errorf("filtered-out item processed: %q", got.Status)
	}
	if got := itemByID(t, gdb, "qi-pi"); got.Status != models.StatusReview {
		t.Errorf("qi-pi = %q, want review", got.Status)
	}
}
