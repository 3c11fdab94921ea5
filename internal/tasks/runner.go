package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/WordPress/openverse-api/internal/domain"
	"github.com/WordPress/openverse-api/internal/ingest"
	"github.com/WordPress/openverse-api/internal/logger"
	"github.com/WordPress/openverse-api/internal/notify"
)

// startupGrace bounds how long the scheduler waits for a task goroutine to
// signal that its setup succeeded before reporting a launch failure.
const startupGrace = 2 * time.Second

// ErrStartupTimeout means a task neither started nor failed within the
// startup grace period.
var ErrStartupTimeout = errors.New("task did not start in time")

// Indexer performs the index-side task operations.
type Indexer interface {
	Reindex(ctx context.Context, model domain.MediaType, targetIndex string, progress func(float64)) error
	UpdateIndex(ctx context.Context, model domain.MediaType, index, sinceDate string) error
	PointAlias(ctx context.Context, targetIndex, alias string) error
	DeleteIndex(ctx context.Context, model domain.MediaType, alias, suffix string, force bool) error
}

// Refresher rebuilds the API database from the upstream catalog.
type Refresher interface {
	Refresh(ctx context.Context, model domain.MediaType, progress func(float64)) error
}

// Runner launches task goroutines and reports their startup outcome
// synchronously. Long-running work continues in the background and is
// observed through the Tracker.
type Runner struct {
	tracker     *Tracker
	indexer     Indexer
	refresher   Refresher
	scheduler   *Scheduler
	coordinator *Coordinator
	stats       StatsInvalidator
	notifier    notify.Notifier
	logger      logger.Logger
}

// NewRunner creates a task runner.
func NewRunner(
	tracker *Tracker,
	indexer Indexer,
	refresher Refresher,
	scheduler *Scheduler,
	coordinator *Coordinator,
	stats StatsInvalidator,
	notifier notify.Notifier,
	log logger.Logger,
) *Runner {
	return &Runner{
		tracker:     tracker,
		indexer:     indexer,
		refresher:   refresher,
		scheduler:   scheduler,
		coordinator: coordinator,
		stats:       stats,
		notifier:    notifier,
		logger:      log,
	}
}

// Run launches a validated task. It returns once the task has signalled a
// successful start, or with the setup error if it failed before starting.
func (r *Runner) Run(req Request, action ActionKind) (*Task, error) {
	task := r.tracker.Add(domain.MediaType(req.Model), action)

	var once sync.Once
	startedCh := make(chan struct{})
	started := func() {
		once.Do(func() { close(startedCh) })
	}
	failedCh := make(chan error, 1)

	go func() {
		defer task.finish()
		if err := r.execute(context.Background(), task, req, action, started); err != nil {
			task.Fail(err, errors.Is(err, ingest.ErrBadRequest))
			r.logger.Error("task failed",
				logger.String("task_id", task.ID),
				logger.String("action", string(action)),
				logger.Error(err))
			select {
			case <-startedCh:
				// Failure after a successful start is reported through the
				// task status, not the launch response.
			default:
				failedCh <- err
			}
		}
	}()

	select {
	case <-startedCh:
		return task, nil
	case err := <-failedCh:
		return task, err
	case <-time.After(startupGrace):
		return task, ErrStartupTimeout
	}
}

// execute dispatches on the action kind. Every kind is handled explicitly;
// a new action that reaches the default arm is a programming error surfaced
// as a task failure, not a silent no-op.
func (r *Runner) execute(
	ctx context.Context,
	task *Task,
	req Request,
	action ActionKind,
	started func(),
) error {
	model := domain.MediaType(req.Model)

	switch action {
	case ActionReindex:
		return r.runReindex(ctx, task, model, req, started)
	// The short actions run to completion before signalling start, so a
	// rejected operation (a bad since_date, a protected index) surfaces in
	// the launch response instead of hiding behind a 202.
	case ActionUpdateIndex:
		index := string(model)
		if req.IndexSuffix != "" {
			index = indexName(model, req.IndexSuffix)
		}
		if err := r.indexer.UpdateIndex(ctx, model, index, req.SinceDate); err != nil {
			return err
		}
		started()
		task.SetProgress(100)
		return nil
	case ActionPointAlias:
		if err := r.indexer.PointAlias(ctx, indexName(model, req.IndexSuffix), req.Alias); err != nil {
			return err
		}
		started()
		task.SetProgress(100)
		return nil
	case ActionPromote:
		target := indexName(model, req.IndexSuffix)
		if err := r.indexer.PointAlias(ctx, target, req.Alias); err != nil {
			return err
		}
		started()
		if r.stats != nil {
			r.stats.Invalidate(model)
		}
		r.notifier.Notify(ctx, fmt.Sprintf(
			":white_check_mark: Index `%s` promoted to `%s`.", target, req.Alias))
		task.SetProgress(100)
		return nil
	case ActionDeleteIndex:
		if err := r.indexer.DeleteIndex(ctx, model, req.Alias, req.IndexSuffix, req.ForceDelete); err != nil {
			return err
		}
		started()
		task.SetProgress(100)
		return nil
	case ActionIngestUpstream:
		return r.runIngestUpstream(ctx, task, model, req, started)
	default:
		return fmt.Errorf("unhandled action %q", action)
	}
}

func (r *Runner) runReindex(
	ctx context.Context,
	task *Task,
	model domain.MediaType,
	req Request,
	started func(),
) error {
	suffix := req.IndexSuffix
	if suffix == "" {
		suffix = uuid.NewString()
	}
	target := indexName(model, suffix)

	if r.scheduler != nil && r.scheduler.Distributed() {
		return r.runDistributed(ctx, task, model, target, req.Alias, started)
	}

	started()
	if err := r.indexer.Reindex(ctx, model, target, task.SetProgress); err != nil {
		return err
	}
	if req.Alias != "" {
		if err := r.indexer.PointAlias(ctx, target, req.Alias); err != nil {
			return err
		}
		if r.stats != nil {
			r.stats.Invalidate(model)
		}
	}
	task.SetProgress(100)
	return nil
}

func (r *Runner) runDistributed(
	ctx context.Context,
	task *Task,
	model domain.MediaType,
	target, alias string,
	started func(),
) error {
	origins, err := r.scheduler.Origins()
	if err != nil {
		return err
	}
	done, err := r.coordinator.BeginJob(task, model, target, alias, alias != "", origins)
	if err != nil {
		return err
	}
	if err := r.scheduler.Schedule(ctx, model, target); err != nil {
		return err
	}

	started()
	<-done
	return nil
}

func (r *Runner) runIngestUpstream(
	ctx context.Context,
	task *Task,
	model domain.MediaType,
	req Request,
	started func(),
) error {
	started()

	// The refresh accounts for the first half of overall progress, the
	// reindex of the refreshed table for the rest.
	if err := r.refresher.Refresh(ctx, model, func(p float64) {
		task.SetProgress(p / 2)
	}); err != nil {
		return err
	}
	task.SetProgress(50)

	suffix := req.IndexSuffix
	if suffix == "" {
		suffix = uuid.NewString()
	}
	target := indexName(model, suffix)

	if r.scheduler != nil && r.scheduler.Distributed() {
		origins, err := r.scheduler.Origins()
		if err != nil {
			return err
		}
		done, err := r.coordinator.BeginJob(task, model, target, string(model), true, origins)
		if err != nil {
			return err
		}
		if err := r.scheduler.Schedule(ctx, model, target); err != nil {
			return err
		}
		<-done
		return nil
	}

	if err := r.indexer.Reindex(ctx, model, target, func(p float64) {
		task.SetProgress(50 + p/2)
	}); err != nil {
		return err
	}
	if err := r.indexer.PointAlias(ctx, target, string(model)); err != nil {
		return err
	}
	if r.stats != nil {
		r.stats.Invalidate(model)
	}
	r.notifier.Notify(ctx, fmt.Sprintf(
		":white_check_mark: Upstream ingestion for `%s` finished and index promoted.", model))
	task.SetProgress(100)
	return nil
}

func indexName(model domain.MediaType, suffix string) string {
	return fmt.Sprintf("%s-%s", model, suffix)
}
