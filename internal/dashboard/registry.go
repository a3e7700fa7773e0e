package dashboard

import (
	"sync"

	"github.com/civitaslab/demandgen/internal/batch"
)

// RunRegistry tracks live batch runners started through the API so pause,
// resume, stop and progress requests can reach them. Finished or foreign
// runs fall back to their BatchRun row.
type RunRegistry struct {
	mu   sync.Mutex
	runs map[string]*batch.Runner
}

// NewRunRegistry creates an empty registry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{runs: make(map[string]*batch.Runner)}
}

// Add registers a live runner.
func (r *RunRegistry) Add(runner *batch.Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[runner.ID()] = runner
}

// Get returns the live runner for a run ID, if any.
func (r *RunRegistry) Get(runID string) (*batch.Runner, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	runner, ok := r.runs[runID]
	return runner, ok
}
