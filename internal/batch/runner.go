package batch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/civitaslab/demandgen/internal/models"
	"github.com/civitaslab/demandgen/internal/queue"
	"gorm.io/gorm"
)

// Params holds parameters for one batch run.
type Params struct {
	PlanID           string
	EntityTypeFilter string // empty or "all" processes every type
	BatchSize        int
	AutoApprove      bool
	MinQuality       int           // accept threshold, 50-95 inclusive
	Pacing           time.Duration // minimum delay between items
	CallTimeout      time.Duration // per collaborator call; 0 disables
}

// Progress is a point-in-time view of a run. Completed and Failed are
// reported separately so partial success is never read as full success.
type Progress struct {
	RunID       string
	State       string
	Total       int
	Completed   int
	Failed      int
	CurrentItem string
}

// Runner executes one batch run over a selection snapshot of pending items.
// Items are processed strictly sequentially; pause and stop take effect at
// item boundaries only, so an in-flight item always finishes its full
// generate → assess → decide → persist sequence.
type Runner struct {
	db     *gorm.DB
	reg    *Registry
	params Params
	out    io.Writer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cond     *sync.Cond
	paused   bool
	stopped  bool
	progress Progress

	items []models.QueueItem
	done  chan struct{}
}

// generateRunID creates a batch run ID in br-xxxxxxxx format.
func generateRunID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("batch: generate run ID: %w", err)
	}
	return "br-" + hex.EncodeToString(b), nil
}

// Start validates params, snapshots the eligible items, records a BatchRun
// row and launches the processing loop. Configuration errors (threshold out
// of range, unmapped entity type, missing assessor) abort the start; nothing
// is processed.
func Start(ctx context.Context, db *gorm.DB, reg *Registry, params Params, out io.Writer) (*Runner, error) {
	if db == nil {
		return nil, fmt.Errorf("batch: db is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("batch: registry is required")
	}
	if params.PlanID == "" {
		return nil, fmt.Errorf("batch: plan ID is required")
	}
	if params.BatchSize < 1 {
		return nil, fmt.Errorf("batch: batch size must be >= 1")
	}
	if params.MinQuality < 50 || params.MinQuality > 95 {
		return nil, fmt.Errorf("batch: min quality %d out of range [50,95]", params.MinQuality)
	}
	if params.EntityTypeFilter == "all" {
		params.EntityTypeFilter = ""
	}
	if out == nil {
		out = io.Discard
	}

	// Selection snapshot: items added mid-run are not picked up, and the
	// in_progress status below keeps other runs off these items.
	q := db.Where("strategic_plan_id = ? AND status = ?", params.PlanID, models.StatusPending)
	if params.EntityTypeFilter != "" {
		q = q.Where("entity_type = ?", params.EntityTypeFilter)
	}
	var items []models.QueueItem
	if err := q.Order("priority_score DESC, created_at ASC").
		Limit(params.BatchSize).
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("batch: select items: %w", err)
	}

	if _, err := reg.Assessor(); err != nil {
		return nil, err
	}
	for _, item := range items {
		if _, err := reg.Generator(item.EntityType); err != nil {
			return nil, err
		}
	}

	runID, err := generateRunID()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	run := models.BatchRun{
		ID:               runID,
		StrategicPlanID:  params.PlanID,
		EntityTypeFilter: params.EntityTypeFilter,
		BatchSize:        params.BatchSize,
		AutoApprove:      params.AutoApprove,
		MinQuality:       params.MinQuality,
		Status:           models.RunStatusRunning,
		Total:            len(items),
		StartedAt:        &now,
	}
	if err := db.Create(&run).Error; err != nil {
		return nil, fmt.Errorf("batch: create run record: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &Runner{
		db:     db,
		reg:    reg,
		params: params,
		out:    out,
		ctx:    runCtx,
		cancel: cancel,
		items:  items,
		done:   make(chan struct{}),
		progress: Progress{
			RunID: runID,
			State: models.RunStatusRunning,
			Total: len(items),
		},
	}
	r.cond = sync.NewCond(&r.mu)

	fmt.Fprintf(out, "Batch %s started: %d item(s) selected\n", runID, len(items))
	go r.loop()
	return r, nil
}

// ID returns the run identifier.
func (r *Runner) ID() string {
	return r.progress.RunID
}

// Done returns a channel closed when the run finishes, stops or completes.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Progress returns a snapshot of the run's counters.
func (r *Runner) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

// Pause halts the loop before the next item starts. The in-flight item, if
// any, completes its full step sequence first.
func (r *Runner) Pause() {
	r.mu.Lock()
	if r.stopped || r.paused {
		r.mu.Unlock()
		return
	}
	r.paused = true
	r.progress.State = models.RunStatusPaused
	r.mu.Unlock()
	r.updateRun(map[string]interface{}{"status": models.RunStatusPaused})
	fmt.Fprintf(r.out, "Batch %s pausing at next item boundary\n", r.progress.RunID)
}

// Resume continues from the next unprocessed item of the selected batch.
func (r *Runner) Resume() {
	r.mu.Lock()
	if r.stopped || !r.paused {
		r.mu.Unlock()
		return
	}
	r.paused = false
	r.progress.State = models.RunStatusRunning
	r.cond.Broadcast()
	r.mu.Unlock()
	r.updateRun(map[string]interface{}{"status": models.RunStatusRunning})
	fmt.Fprintf(r.out, "Batch %s resumed\n", r.progress.RunID)
}

// Stop discards the remainder of the selected batch. Already-processed
// items keep their outcomes.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.cond.Broadcast()
	r.mu.Unlock()
	r.cancel()
}

// waitIfPaused blocks while paused. It returns false when the run is stopped.
func (r *Runner) waitIfPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.paused && !r.stopped {
		r.cond.Wait()
	}
	return !r.stopped
}

func (r *Runner) loop() {
	defer close(r.done)

	for i := range r.items {
		if !r.waitIfPaused() {
			r.finalize(models.RunStatusStopped)
			return
		}

		item := r.items[i]
		r.setCurrent(item.ID)
		r.processItem(&item)
		r.persistProgress()

		// Pacing between items respects collaborator rate limits. The
		// sleep is interruptible by stop only; pause waits at the top of
		// the next iteration.
		if i < len(r.items)-1 && r.params.Pacing > 0 {
			select {
			case <-time.After(r.params.Pacing):
			case <-r.ctx.Done():
			}
		}
	}

	if !r.waitIfPaused() {
		r.finalize(models.RunStatusStopped)
		return
	}
	r.finalize(models.RunStatusCompleted)
}

// processItem runs the full per-item sequence. Collaborator failures are
// recorded on the item and revert it to pending; they never abort the run.
func (r *Runner) processItem(item *models.QueueItem) {
	if err := r.startAttempt(item); err != nil {
		if errors.Is(err, errClaimLost) {
			log.Printf("batch: skipping %s: %v", item.ID, err)
			return
		}
		log.Printf("batch: start attempt on %s: %v", item.ID, err)
		r.countFailed()
		return
	}

	plan := planContext(item)
	callCtx := r.ctx
	var cancel context.CancelFunc
	if r.params.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(r.ctx, r.params.CallTimeout)
		defer cancel()
	}

	gen, err := r.reg.Generator(item.EntityType)
	if err != nil {
		r.recordFailure(item, "generator", err)
		return
	}
	draft, err := gen.Generate(callCtx, item, plan)
	if err != nil {
		r.recordFailure(item, "generator", err)
		return
	}

	assessor, err := r.reg.Assessor()
	if err != nil {
		r.recordFailure(item, "assessor", err)
		return
	}
	assessment, err := assessor.Assess(callCtx, item.EntityType, draft, item)
	if err != nil {
		// Generated but unassessed: revert rather than accept blind.
		r.recordFailure(item, "assessor", err)
		return
	}

	if err := r.decide(item, draft, assessment); err != nil {
		log.Printf("batch: persist decision for %s: %v", item.ID, err)
		r.countFailed()
		return
	}
	r.countCompleted()
}

// errClaimLost signals that another run claimed the item between this run's
// selection snapshot and its pickup.
var errClaimLost = errors.New("batch: item claimed by another run")

// startAttempt claims the item: in_progress, attempt stamp, counter bump.
// The status predicate on the update is the lock — if the row is no longer
// pending, a concurrent run got there first and this run must not touch it.
func (r *Runner) startAttempt(item *models.QueueItem) error {
	next, err := queue.Transition(item.Status, queue.OpStartAttempt)
	if err != nil {
		return err
	}
	now := time.Now()
	result := r.db.Model(&models.QueueItem{}).
		Where("id = ? AND status = ?", item.ID, models.StatusPending).
		Updates(map[string]interface{}{
			"status":          next,
			"attempts":        gorm.Expr("attempts + 1"),
			"last_attempt_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("batch: mark in_progress: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return errClaimLost
	}
	item.Status = next
	item.Attempts++
	item.LastAttemptAt = &now
	return nil
}

// decide applies the accept/review policy and persists the outcome.
func (r *Runner) decide(item *models.QueueItem, draft *DraftEntity, assessment *Assessment) error {
	op := queue.OpRouteReview
	if r.params.AutoApprove && assessment.OverallScore >= r.params.MinQuality {
		op = queue.OpAccept
	}
	next, err := queue.Transition(item.Status, op)
	if err != nil {
		return err
	}

	feedback, err := json.Marshal(map[string]interface{}{
		"overall_score":    assessment.OverallScore,
		"dimension_scores": assessment.DimensionScores,
	})
	if err != nil {
		return fmt.Errorf("batch: marshal assessment: %w", err)
	}

	if err := r.db.Model(&models.QueueItem{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
		"status":                next,
		"generated_entity_id":   draft.EntityID,
		"generated_entity_type": draft.EntityType,
		"quality_score":         assessment.OverallScore,
		"quality_feedback":      string(feedback),
	}).Error; err != nil {
		return fmt.Errorf("batch: persist outcome: %w", err)
	}
	item.Status = next
	return nil
}

// recordFailure writes the collaborator error into the item's quality
// feedback, reverts it to pending for a future run and counts the failure.
func (r *Runner) recordFailure(item *models.QueueItem, stage string, cause error) {
	log.Printf("batch: %s failure on %s: %v", stage, item.ID, cause)

	next, err := queue.Transition(item.Status, queue.OpRevert)
	if err != nil {
		log.Printf("batch: revert %s: %v", item.ID, err)
		r.countFailed()
		return
	}
	feedback, _ := json.Marshal(map[string]interface{}{
		"error": map[string]string{
			"stage":   stage,
			"message": cause.Error(),
			"at":      time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err := r.db.Model(&models.QueueItem{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
		"status":           next,
		"quality_feedback": string(feedback),
	}).Error; err != nil {
		log.Printf("batch: persist failure on %s: %v", item.ID, err)
	}
	item.Status = next
	r.countFailed()
}

func (r *Runner) setCurrent(itemID string) {
	r.mu.Lock()
	r.progress.CurrentItem = itemID
	r.mu.Unlock()
}

func (r *Runner) countCompleted() {
	r.mu.Lock()
	r.progress.Completed++
	r.mu.Unlock()
}

func (r *Runner) countFailed() {
	r.mu.Lock()
	r.progress.Failed++
	r.mu.Unlock()
}

// persistProgress mirrors the live counters into the BatchRun row.
func (r *Runner) persistProgress() {
	p := r.Progress()
	r.updateRun(map[string]interface{}{
		"completed":       p.Completed,
		"failed":          p.Failed,
		"current_item_id": p.CurrentItem,
	})
}

func (r *Runner) finalize(status string) {
	r.mu.Lock()
	r.progress.State = status
	r.progress.CurrentItem = ""
	p := r.progress
	r.mu.Unlock()

	now := time.Now()
	r.updateRun(map[string]interface{}{
		"status":          status,
		"completed":       p.Completed,
		"failed":          p.Failed,
		"current_item_id": "",
		"finished_at":     now,
	})
	fmt.Fprintf(r.out, "Batch %s %s: %d completed, %d failed of %d\n",
		p.RunID, status, p.Completed, p.Failed, p.Total)
}

func (r *Runner) updateRun(fields map[string]interface{}) {
	if err := r.db.Model(&models.BatchRun{}).Where("id = ?", r.progress.RunID).
		Updates(fields).Error; err != nil {
		log.Printf("batch: update run %s: %v", r.progress.RunID, err)
	}
}

// planContext builds the plan context from the item's prefilled spec.
func planContext(item *models.QueueItem) PlanContext {
	plan := PlanContext{
		StrategicPlanID: item.StrategicPlanID,
		ObjectiveID:     item.ObjectiveID,
	}
	var spec struct {
		ObjectiveTitle string `json:"objective_title"`
	}
	if err := json.Unmarshal([]byte(item.PrefilledSpec), &spec); err == nil {
		plan.ObjectiveTitle = spec.ObjectiveTitle
	}
	return plan
}
