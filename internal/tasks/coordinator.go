package tasks

import (
	"context"
	"fmt"
	"sync"

	"github.com/WordPress/openverse-api/internal/domain"
	"github.com/WordPress/openverse-api/internal/logger"
	"github.com/WordPress/openverse-api/internal/notify"
)

// Promoter points a serving alias at a concrete index.
type Promoter interface {
	PointAlias(ctx context.Context, targetIndex, alias string) error
}

// StatsInvalidator drops cached per-source statistics after a promotion
// changes what an alias serves.
type StatsInvalidator interface {
	Invalidate(mediaType domain.MediaType)
}

// distributedJob is the coordinator's record of one fanned-out reindex.
type distributedJob struct {
	task        *Task
	model       domain.MediaType
	targetIndex string
	alias       string
	promote     bool
	done        chan struct{}
	completed   bool
}

// Coordinator supervises distributed reindex jobs. Shard workers report
// back over HTTP; when every shard has called in, the coordinator decides
// whether the new index may be promoted.
type Coordinator struct {
	registry *WorkerRegistry
	promoter Promoter
	notifier notify.Notifier
	stats    StatsInvalidator
	logger   logger.Logger

	mu      sync.Mutex
	current *distributedJob
}

// NewCoordinator creates a coordinator over a worker registry.
func NewCoordinator(
	registry *WorkerRegistry,
	promoter Promoter,
	notifier notify.Notifier,
	stats StatsInvalidator,
	log logger.Logger,
) *Coordinator {
	return &Coordinator{
		registry: registry,
		promoter: promoter,
		notifier: notifier,
		stats:    stats,
		logger:   log,
	}
}

// BeginJob registers a new distributed job and returns a channel closed when
// every shard has reported. Only one distributed job runs at a time.
func (c *Coordinator) BeginJob(
	task *Task,
	model domain.MediaType,
	targetIndex, alias string,
	promote bool,
	origins []string,
) (<-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil && c.current.task.Alive() {
		return nil, fmt.Errorf("distributed job for task %s still in progress", c.current.task.ID)
	}

	c.registry.RegisterJob(origins)
	c.current = &distributedJob{
		task:        task,
		model:       model,
		targetIndex: targetIndex,
		alias:       alias,
		promote:     promote,
		done:        make(chan struct{}),
	}
	task.SetActiveWorkers(true)
	return c.current.done, nil
}

// WorkerFinished records one shard callback. When the last shard reports,
// the new index is promoted only if every single shard succeeded; any
// failure leaves the index unpromoted for inspection.
func (c *Coordinator) WorkerFinished(ctx context.Context, origin string, failed bool) error {
	c.mu.Lock()
	job := c.current
	c.mu.Unlock()
	if job == nil {
		return fmt.Errorf("no distributed job in progress")
	}

	if err := c.registry.WorkerFinished(origin, !failed); err != nil {
		return err
	}

	job.task.SetProgress(c.registry.PercentCompleted())
	if !c.registry.AllFinished() {
		return nil
	}

	// The registry rejects repeat reports, but completion must still be
	// entered exactly once; closing job.done twice would panic.
	c.mu.Lock()
	if job.completed {
		c.mu.Unlock()
		return fmt.Errorf("distributed job for task %s already completed", job.task.ID)
	}
	job.completed = true
	c.mu.Unlock()

	job.task.SetActiveWorkers(false)
	defer close(job.done)

	successful := c.registry.PercentSuccessful()
	if successful < 100 {
		err := fmt.Errorf("only %.0f%% of workers succeeded; index %s not promoted",
			successful, job.targetIndex)
		job.task.Fail(err, false)
		c.logger.Error("distributed reindex failed", logger.Error(err))
		c.notifier.Notify(ctx, fmt.Sprintf(
			":x: Distributed reindex of `%s` failed: %s", job.model, err))
		return nil
	}

	if job.promote {
		if err := c.promoter.PointAlias(ctx, job.targetIndex, job.alias); err != nil {
			job.task.Fail(fmt.Errorf("promotion failed: %w", err), false)
			c.logger.Error("failed to promote index",
				logger.String("index", job.targetIndex), logger.Error(err))
			c.notifier.Notify(ctx, fmt.Sprintf(
				":x: Promotion of `%s` to `%s` failed.", job.targetIndex, job.alias))
			return nil
		}
		if c.stats != nil {
			c.stats.Invalidate(job.model)
		}
		c.notifier.Notify(ctx, fmt.Sprintf(
			":white_check_mark: Index `%s` promoted to `%s`.", job.targetIndex, job.alias))
	} else {
		c.notifier.Notify(ctx, fmt.Sprintf(
			":white_check_mark: Distributed reindex of `%s` into `%s` finished.",
			job.model, job.targetIndex))
	}

	job.task.SetProgress(100)
	return nil
}
