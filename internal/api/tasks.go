package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/WordPress/openverse-api/internal/domain"
	"github.com/WordPress/openverse-api/internal/ingest"
	"github.com/WordPress/openverse-api/internal/logger"
	"github.com/WordPress/openverse-api/internal/metrics"
	"github.com/WordPress/openverse-api/internal/tasks"
)

// TaskRunner launches indexing tasks.
type TaskRunner interface {
	Run(req tasks.Request, action tasks.ActionKind) (*tasks.Task, error)
}

// TaskCoordinator receives shard completion reports from indexer workers.
type TaskCoordinator interface {
	WorkerFinished(ctx context.Context, origin string, failed bool) error
}

// TaskHandler holds the task scheduling and tracking endpoints.
type TaskHandler struct {
	runner      TaskRunner
	tracker     *tasks.Tracker
	registry    *tasks.WorkerRegistry
	coordinator TaskCoordinator
	metrics     *metrics.Metrics
	logger      logger.Logger
}

// NewTaskHandler creates the task endpoint handlers. A nil metrics value
// disables instrumentation.
func NewTaskHandler(
	runner TaskRunner,
	tracker *tasks.Tracker,
	registry *tasks.WorkerRegistry,
	coordinator TaskCoordinator,
	m *metrics.Metrics,
	log logger.Logger,
) *TaskHandler {
	return &TaskHandler{
		runner:      runner,
		tracker:     tracker,
		registry:    registry,
		coordinator: coordinator,
		metrics:     m,
		logger:      log,
	}
}

// taskAccepted is the response to a successfully launched task.
type taskAccepted struct {
	Message     string `json:"message"`
	TaskID      string `json:"task_id"`
	StatusCheck string `json:"status_check"`
}

// CreateTask validates and launches an indexing task. The response is sent
// once the task has signalled a successful start; the work itself continues
// in the background.
func (h *TaskHandler) CreateTask(c *gin.Context) {
	var req tasks.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}

	action, err := req.Validate()
	if err != nil {
		var fieldErr *domain.FieldError
		if errors.As(err, &fieldErr) {
			errorJSON(c, http.StatusBadRequest, "VALIDATION_ERROR", fieldErr.Message)
			return
		}
		errorJSON(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	task, err := h.runner.Run(req, action)
	if err != nil {
		if errors.Is(err, ingest.ErrBadRequest) {
			errorJSON(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		h.logger.Error("task launch failed",
			logger.String("action", string(action)),
			logger.String("model", req.Model),
			logger.Error(err))
		errorJSON(c, http.StatusInternalServerError, "TASK_ERROR", "Failed to start the task.")
		return
	}

	h.logger.Info("task started",
		logger.String("task_id", task.ID),
		logger.String("action", string(action)),
		logger.String("model", req.Model))

	if h.metrics != nil {
		h.metrics.TasksStarted.WithLabelValues(string(action), req.Model).Inc()
	}

	c.JSON(http.StatusAccepted, taskAccepted{
		Message:     "Successfully scheduled task.",
		TaskID:      task.ID,
		StatusCheck: fmt.Sprintf("/task/%s", task.ID),
	})
}

// ListTasks returns the status of every task launched by this process,
// finished tasks first.
func (h *TaskHandler) ListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, h.tracker.List())
}

// GetTask returns the status of one task.
func (h *TaskHandler) GetTask(c *gin.Context) {
	task, ok := h.tracker.Get(c.Param("id"))
	if !ok {
		errorJSON(c, http.StatusNotFound, "NOT_FOUND", "No task with that id.")
		return
	}
	c.JSON(http.StatusOK, task.Snapshot())
}

// workerReport is the callback body an indexer worker posts when its shard
// finishes.
type workerReport struct {
	Error bool `json:"error"`
}

// WorkerFinished records a shard completion report. The reporting worker is
// identified by its address; an unknown address is rejected.
func (h *TaskHandler) WorkerFinished(c *gin.Context) {
	var report workerReport
	if err := c.ShouldBindJSON(&report); err != nil {
		errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}

	origin := c.ClientIP()
	if err := h.coordinator.WorkerFinished(c.Request.Context(), origin, report.Error); err != nil {
		h.logger.Warn("unexpected worker report",
			logger.String("origin", origin),
			logger.Error(err))
		errorJSON(c, http.StatusBadRequest, "UNKNOWN_WORKER", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Worker registered."})
}

// ClearState forgets all worker bookkeeping. This unblocks a fresh reindex
// after a crashed run left workers marked as active.
func (h *TaskHandler) ClearState(c *gin.Context) {
	h.registry.Clear()
	h.logger.Info("worker state cleared")
	c.JSON(http.StatusOK, gin.H{"message": "Worker state cleared."})
}
