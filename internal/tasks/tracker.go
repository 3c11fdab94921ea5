package tasks

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/WordPress/openverse-api/internal/domain"
)

// Task is the in-process record of one scheduled operation. Progress and
// liveness are readable without blocking the goroutine doing the work.
type Task struct {
	ID        string
	Model     domain.MediaType
	Action    ActionKind
	StartTime time.Time

	progressBits  atomic.Uint64
	finishTime    atomic.Int64
	activeWorkers atomic.Bool
	badRequest    atomic.Bool

	done     chan struct{}
	doneOnce sync.Once

	mu     sync.Mutex
	errMsg string
}

func newTask(model domain.MediaType, action ActionKind) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Model:     model,
		Action:    action,
		StartTime: time.Now(),
		done:      make(chan struct{}),
	}
}

// SetProgress records completion as a percentage in [0, 100].
func (t *Task) SetProgress(percent float64) {
	t.progressBits.Store(math.Float64bits(percent))
}

// Progress returns the last reported completion percentage.
func (t *Task) Progress() float64 {
	return math.Float64frombits(t.progressBits.Load())
}

// Alive reports whether the task goroutine is still running.
func (t *Task) Alive() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// SetActiveWorkers records whether any distributed shard is outstanding.
func (t *Task) SetActiveWorkers(active bool) {
	t.activeWorkers.Store(active)
}

// Fail records a task error. A bad-request failure means the task could
// never have succeeded as parameterized and is reported as a 400.
func (t *Task) Fail(err error, badRequest bool) {
	t.mu.Lock()
	t.errMsg = err.Error()
	t.mu.Unlock()
	if badRequest {
		t.badRequest.Store(true)
	}
}

func (t *Task) finish() {
	t.doneOnce.Do(func() {
		t.finishTime.Store(time.Now().Unix())
		close(t.done)
	})
}

// Status is the externally visible snapshot of a task.
type Status struct {
	TaskID        string  `json:"task_id"`
	Active        bool    `json:"active"`
	Model         string  `json:"model"`
	Action        string  `json:"action"`
	Progress      float64 `json:"progress"`
	StartTime     string  `json:"start_time"`
	FinishTime    string  `json:"finish_time,omitempty"`
	ActiveWorkers bool    `json:"active_workers"`
	Error         string  `json:"error,omitempty"`
	IsBadRequest  bool    `json:"is_bad_request,omitempty"`
}

// Snapshot captures the current task state. A task that stopped before
// reaching 100% progress is in error.
func (t *Task) Snapshot() Status {
	t.mu.Lock()
	errMsg := t.errMsg
	t.mu.Unlock()

	status := Status{
		TaskID:        t.ID,
		Active:        t.Alive(),
		Model:         string(t.Model),
		Action:        string(t.Action),
		Progress:      t.Progress(),
		StartTime:     t.StartTime.UTC().Format(time.RFC3339),
		ActiveWorkers: t.activeWorkers.Load(),
		IsBadRequest:  t.badRequest.Load(),
	}
	if finished := t.finishTime.Load(); finished > 0 {
		status.FinishTime = time.Unix(finished, 0).UTC().Format(time.RFC3339)
	}
	if !status.Active && status.Progress < 100 && errMsg == "" {
		errMsg = "task stopped before completion"
	}
	if !status.Active && status.Progress < 100 {
		status.Error = errMsg
	}
	return status
}

// Tracker is the in-process task registry. It is deliberately not shared
// across server instances; a task must be queried from the process that
// launched it.
type Tracker struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewTracker creates an empty task registry.
func NewTracker() *Tracker {
	return &Tracker{tasks: make(map[string]*Task)}
}

// Add registers a new task and returns it.
func (tr *Tracker) Add(model domain.MediaType, action ActionKind) *Task {
	task := newTask(model, action)
	tr.mu.Lock()
	tr.tasks[task.ID] = task
	tr.mu.Unlock()
	return task
}

// Get looks up a task by id.
func (tr *Tracker) Get(id string) (*Task, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	task, ok := tr.tasks[id]
	return task, ok
}

// List returns snapshots of all tracked tasks, finished tasks first in
// completion order, still-running tasks after them in start order.
func (tr *Tracker) List() []Status {
	tr.mu.Lock()
	all := make([]*Task, 0, len(tr.tasks))
	for _, task := range tr.tasks {
		all = append(all, task)
	}
	tr.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		fi, fj := all[i].finishTime.Load(), all[j].finishTime.Load()
		if (fi > 0) != (fj > 0) {
			return fi > 0
		}
		if fi != fj {
			return fi < fj
		}
		return all[i].StartTime.Before(all[j].StartTime)
	})

	statuses := make([]Status, len(all))
	for i, task := range all {
		statuses[i] = task.Snapshot()
	}
	return statuses
}

// Prune removes tasks that finished more than maxAge ago and returns how
// many were dropped. Running tasks are never pruned.
func (tr *Tracker) Prune(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge).Unix()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	pruned := 0
	for id, task := range tr.tasks {
		if finished := task.finishTime.Load(); finished > 0 && finished < cutoff {
			delete(tr.tasks, id)
			pruned++
		}
	}
	return pruned
}
