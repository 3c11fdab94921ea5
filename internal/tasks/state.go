package tasks

import (
	"fmt"
	"sync"
)

// WorkerRegistry tracks the outstanding shards of the current distributed
// indexing job, keyed by each worker's network origin. One job runs at a
// time; the registry is the bookkeeping the DELETE /state operation clears.
type WorkerRegistry struct {
	mu       sync.Mutex
	expected map[string]bool
	finished map[string]bool
}

// NewWorkerRegistry creates an empty registry.
func NewWorkerRegistry() *WorkerRegistry {
	return &WorkerRegistry{
		expected: make(map[string]bool),
		finished: make(map[string]bool),
	}
}

// RegisterJob records the worker origins expected to report back for a new
// distributed job, replacing any previous bookkeeping.
func (r *WorkerRegistry) RegisterJob(origins []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expected = make(map[string]bool, len(origins))
	r.finished = make(map[string]bool, len(origins))
	for _, origin := range origins {
		r.expected[origin] = true
	}
}

// WorkerFinished records one shard's outcome. Each origin reports exactly
// once; reports from origins that are not part of the current job, or that
// have already reported, are rejected.
func (r *WorkerRegistry) WorkerFinished(origin string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.expected[origin] {
		return fmt.Errorf("unknown worker origin %q", origin)
	}
	if _, reported := r.finished[origin]; reported {
		return fmt.Errorf("worker origin %q already reported", origin)
	}
	r.finished[origin] = success
	return nil
}

// AllFinished reports whether every expected shard has called back.
func (r *WorkerRegistry) AllFinished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.expected) > 0 && len(r.finished) == len(r.expected)
}

// PercentCompleted is the share of shards that have reported, successful or
// not.
func (r *WorkerRegistry) PercentCompleted() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.expected) == 0 {
		return 0
	}
	return 100 * float64(len(r.finished)) / float64(len(r.expected))
}

// PercentSuccessful is the share of shards that reported success.
func (r *WorkerRegistry) PercentSuccessful() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.expected) == 0 {
		return 0
	}
	successes := 0
	for _, ok := range r.finished {
		if ok {
			successes++
		}
	}
	return 100 * float64(successes) / float64(len(r.expected))
}

// Clear forgets the current job's bookkeeping. It does not stop any running
// worker.
func (r *WorkerRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expected = make(map[string]bool)
	r.finished = make(map[string]bool)
}
