package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WordPress/openverse-api/internal/domain"
	es "github.com/WordPress/openverse-api/internal/elasticsearch"
	"github.com/WordPress/openverse-api/internal/ingest"
	"github.com/WordPress/openverse-api/internal/logger"
	"github.com/WordPress/openverse-api/internal/search"
	"github.com/WordPress/openverse-api/internal/tasks"
)

type fakeSearchService struct {
	response *domain.SearchResponse
	related  *domain.RelatedResponse
	err      error

	lastRequest    *domain.SearchRequest
	lastPreference string
}

func (f *fakeSearchService) Search(_ context.Context, req *domain.SearchRequest, preference string) (*domain.SearchResponse, error) {
	f.lastRequest = req
	f.lastPreference = preference
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeSearchService) Related(_ context.Context, _ domain.MediaType, _, preference string) (*domain.RelatedResponse, error) {
	f.lastPreference = preference
	if f.err != nil {
		return nil, f.err
	}
	return f.related, nil
}

type fakeStatsService struct {
	counts map[string]int64
	err    error
}

func (f *fakeStatsService) Counts(context.Context, domain.MediaType) (map[string]int64, error) {
	return f.counts, f.err
}

type fakeEngineClient struct {
	stat      *es.Stat
	healthErr error
}

func (f *fakeEngineClient) GetStat(context.Context, string) (*es.Stat, error) { return f.stat, nil }
func (f *fakeEngineClient) HealthCheck(context.Context) error                 { return f.healthErr }

type fakeRunner struct {
	task *tasks.Task
	err  error
}

func (f *fakeRunner) Run(tasks.Request, tasks.ActionKind) (*tasks.Task, error) {
	return f.task, f.err
}

type fakeCoordinator struct {
	origin string
	failed bool
	err    error
}

func (f *fakeCoordinator) WorkerFinished(_ context.Context, origin string, failed bool) error {
	f.origin = origin
	f.failed = failed
	return f.err
}

func newTestRouter(t *testing.T, svc *fakeSearchService, stats *fakeStatsService, engine *fakeEngineClient, runner *fakeRunner, coord *fakeCoordinator) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewNop()
	handler := NewHandler(svc, stats, engine, nil, "test", log)
	taskHandler := NewTaskHandler(runner, tasks.NewTracker(), tasks.NewWorkerRegistry(), coord, nil, log)

	router := gin.New()
	SetupRoutes(router, handler, taskHandler, nil)
	return router
}

func defaultFakes() (*fakeSearchService, *fakeStatsService, *fakeEngineClient, *fakeRunner, *fakeCoordinator) {
	return &fakeSearchService{
			response: &domain.SearchResponse{
				ResultCount: 1,
				PageCount:   1,
				Page:        1,
				PageSize:    20,
				Results:     []domain.Hit{{Identifier: "abc", Title: "A", URL: "https://x.example/a.jpg", License: "by"}},
			},
			related: &domain.RelatedResponse{ResultCount: 0, Results: []domain.Hit{}},
		},
		&fakeStatsService{counts: map[string]int64{"flickr": 10, "met": 3}},
		&fakeEngineClient{stat: &es.Stat{Exists: true}},
		&fakeRunner{},
		&fakeCoordinator{}
}

func TestSearchEndpoint(t *testing.T) {
	svc, stats, engine, runner, coord := defaultFakes()
	router := newTestRouter(t, svc, stats, engine, runner, coord)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/images?q=cats&page=2&page_size=10", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp domain.SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp.ResultCount)

	require.NotNil(t, svc.lastRequest)
	assert.Equal(t, domain.MediaImage, svc.lastRequest.MediaType)
	assert.Equal(t, "cats", svc.lastRequest.Query)
	assert.Equal(t, 2, svc.lastRequest.Page)
	assert.Equal(t, 10, svc.lastRequest.PageSize)
	assert.Len(t, svc.lastPreference, 40, "preference should be a hex digest, not a raw address")
}

func TestSearchValidationError(t *testing.T) {
	svc, stats, engine, runner, coord := defaultFakes()
	svc.err = &domain.FieldError{Field: "page_size", Message: "page_size must not exceed 500"}
	router := newTestRouter(t, svc, stats, engine, runner, coord)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/images?page_size=1000", nil))

	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)
	assert.Equal(t, "page_size", resp.Field)
}

func TestSearchDeepPagination(t *testing.T) {
	svc, stats, engine, runner, coord := defaultFakes()
	svc.err = search.ErrDeepPagination
	router := newTestRouter(t, svc, stats, engine, runner, coord)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/images?page=300", nil))

	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "DEEP_PAGINATION", resp.Code)
	assert.Equal(t, "Deep pagination is not allowed.", resp.Error)
}

func TestSearchEngineBadRequestIsNotLeaked(t *testing.T) {
	svc, stats, engine, runner, coord := defaultFakes()
	svc.err = &es.BadRequestError{StatusCode: 400, Reason: `{"error":{"reason":"failed to parse"}}`}
	router := newTestRouter(t, svc, stats, engine, runner, coord)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/images?q=%22", nil))

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, w.Body.String(), "failed to parse")
}

func TestStatsEndpointSorted(t *testing.T) {
	svc, stats, engine, runner, coord := defaultFakes()
	router := newTestRouter(t, svc, stats, engine, runner, coord)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/images/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp []SourceCount
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "flickr", resp[0].SourceName)
	assert.EqualValues(t, 10, resp[0].MediaCount)
	assert.Equal(t, "met", resp[1].SourceName)
}

func TestHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		svc, stats, engine, runner, coord := defaultFakes()
		router := newTestRouter(t, svc, stats, engine, runner, coord)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("engine down", func(t *testing.T) {
		svc, stats, engine, runner, coord := defaultFakes()
		engine.healthErr = assert.AnError
		router := newTestRouter(t, svc, stats, engine, runner, coord)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestCreateTask(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		svc, stats, engine, runner, coord := defaultFakes()
		tracker := tasks.NewTracker()
		runner.task = tracker.Add(domain.MediaImage, tasks.ActionReindex)
		router := newTestRouter(t, svc, stats, engine, runner, coord)

		body := bytes.NewBufferString(`{"model": "image", "action": "REINDEX", "index_suffix": "abcd1234"}`)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/task", body)
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusAccepted, w.Code)

		var resp taskAccepted
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, runner.task.ID, resp.TaskID)
		assert.Equal(t, "/task/"+runner.task.ID, resp.StatusCheck)
	})

	t.Run("invalid model", func(t *testing.T) {
		svc, stats, engine, runner, coord := defaultFakes()
		router := newTestRouter(t, svc, stats, engine, runner, coord)

		body := bytes.NewBufferString(`{"model": "video", "action": "REINDEX"}`)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/task", body)
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusBadRequest, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "VALIDATION_ERROR", resp.Code)
	})

	t.Run("rejected operation returns 400", func(t *testing.T) {
		svc, stats, engine, runner, coord := defaultFakes()
		tracker := tasks.NewTracker()
		runner.task = tracker.Add(domain.MediaImage, tasks.ActionDeleteIndex)
		runner.err = fmt.Errorf("cannot delete index in use by an alias: %w", ingest.ErrBadRequest)
		router := newTestRouter(t, svc, stats, engine, runner, coord)

		body := bytes.NewBufferString(`{"model": "image", "action": "DELETE_INDEX", "index_suffix": "abcd1234"}`)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/task", body)
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusBadRequest, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "VALIDATION_ERROR", resp.Code)
		assert.Contains(t, resp.Error, "cannot delete index")
	})

	t.Run("startup timeout", func(t *testing.T) {
		svc, stats, engine, runner, coord := defaultFakes()
		tracker := tasks.NewTracker()
		runner.task = tracker.Add(domain.MediaImage, tasks.ActionReindex)
		runner.err = tasks.ErrStartupTimeout
		router := newTestRouter(t, svc, stats, engine, runner, coord)

		body := bytes.NewBufferString(`{"model": "image", "action": "REINDEX", "index_suffix": "abcd1234"}`)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/task", body)
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestGetTaskNotFound(t *testing.T) {
	svc, stats, engine, runner, coord := defaultFakes()
	router := newTestRouter(t, svc, stats, engine, runner, coord)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/task/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWorkerFinished(t *testing.T) {
	t.Run("reports failure flag to coordinator", func(t *testing.T) {
		svc, stats, engine, runner, coord := defaultFakes()
		router := newTestRouter(t, svc, stats, engine, runner, coord)

		body := bytes.NewBufferString(`{"error": true}`)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/worker_finished", body)
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, coord.failed)
		assert.NotEmpty(t, coord.origin)
	})

	t.Run("unknown worker rejected", func(t *testing.T) {
		svc, stats, engine, runner, coord := defaultFakes()
		coord.err = assert.AnError
		router := newTestRouter(t, svc, stats, engine, runner, coord)

		body := bytes.NewBufferString(`{"error": false}`)
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/worker_finished", body)
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestClearState(t *testing.T) {
	svc, stats, engine, runner, coord := defaultFakes()
	router := newTestRouter(t, svc, stats, engine, runner, coord)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/state", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
