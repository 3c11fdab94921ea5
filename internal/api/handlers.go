// Package api exposes the catalog search and indexing endpoints over HTTP.
package api

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/WordPress/openverse-api/internal/domain"
	es "github.com/WordPress/openverse-api/internal/elasticsearch"
	"github.com/WordPress/openverse-api/internal/logger"
	"github.com/WordPress/openverse-api/internal/metrics"
	"github.com/WordPress/openverse-api/internal/search"
)

// SearchService executes ranked searches. The preference string pins a
// client to one set of shard replicas so repeated pages stay consistent.
type SearchService interface {
	Search(ctx context.Context, req *domain.SearchRequest, preference string) (*domain.SearchResponse, error)
	Related(ctx context.Context, mediaType domain.MediaType, identifier, preference string) (*domain.RelatedResponse, error)
}

// StatsService reports per-source live document counts.
type StatsService interface {
	Counts(ctx context.Context, mediaType domain.MediaType) (map[string]int64, error)
}

// EngineClient is the slice of the search engine client the handlers use
// directly, bypassing the search service.
type EngineClient interface {
	GetStat(ctx context.Context, name string) (*es.Stat, error)
	HealthCheck(ctx context.Context) error
}

// Handler holds HTTP request handlers.
type Handler struct {
	searchService SearchService
	statsService  StatsService
	engine        EngineClient
	metrics       *metrics.Metrics
	version       string
	logger        logger.Logger
}

// NewHandler creates a new handler instance. A nil metrics value disables
// instrumentation.
func NewHandler(
	searchService SearchService,
	statsService StatsService,
	engine EngineClient,
	m *metrics.Metrics,
	version string,
	log logger.Logger,
) *Handler {
	return &Handler{
		searchService: searchService,
		statsService:  statsService,
		engine:        engine,
		metrics:       m,
		version:       version,
		logger:        log,
	}
}

// ErrorResponse is the envelope for every error payload.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Field     string    `json:"field,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func errorJSON(c *gin.Context, status int, code, msg string) {
	c.JSON(status, ErrorResponse{Error: msg, Code: code, Timestamp: time.Now()})
}

// Search handles paginated search requests for one media type, as query
// parameters on GET or a JSON body on POST.
func (h *Handler) Search(mediaType domain.MediaType) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req domain.SearchRequest
		var err error
		if c.Request.Method == http.MethodGet {
			err = c.ShouldBindQuery(&req)
		} else {
			err = c.ShouldBindJSON(&req)
		}
		if err != nil {
			h.logger.Warn("invalid search parameters", logger.Error(err))
			errorJSON(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid search parameters: "+err.Error())
			return
		}
		req.MediaType = mediaType

		start := time.Now()
		result, err := h.searchService.Search(c.Request.Context(), &req, clientPreference(c))
		if err != nil {
			h.searchError(c, err, req.Query)
			return
		}

		if h.metrics != nil {
			h.metrics.SearchesTotal.WithLabelValues(string(mediaType), strconv.FormatBool(req.FilterDead)).Inc()
			h.metrics.SearchDuration.WithLabelValues(string(mediaType)).Observe(time.Since(start).Seconds())
		}

		c.JSON(http.StatusOK, result)
	}
}

// Related returns media similar to one identified result.
func (h *Handler) Related(mediaType domain.MediaType) gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := c.Param("identifier")

		result, err := h.searchService.Related(c.Request.Context(), mediaType, identifier, clientPreference(c))
		if err != nil {
			h.searchError(c, err, identifier)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// SourceCount is one entry of the per-source statistics response.
type SourceCount struct {
	SourceName string `json:"source_name"`
	MediaCount int64  `json:"media_count"`
}

// Stats reports the number of live documents per source for one media type.
func (h *Handler) Stats(mediaType domain.MediaType) gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, err := h.statsService.Counts(c.Request.Context(), mediaType)
		if err != nil {
			h.logger.Error("source stats failed",
				logger.String("media_type", string(mediaType)),
				logger.Error(err))
			errorJSON(c, http.StatusInternalServerError, "STATS_ERROR", "Unable to compute source statistics.")
			return
		}

		result := make([]SourceCount, 0, len(counts))
		for name, count := range counts {
			result = append(result, SourceCount{SourceName: name, MediaCount: count})
		}
		sort.Slice(result, func(i, j int) bool { return result[i].SourceName < result[j].SourceName })

		c.JSON(http.StatusOK, result)
	}
}

// Stat reports whether a name refers to a concrete index or an alias.
func (h *Handler) Stat(c *gin.Context) {
	stat, err := h.engine.GetStat(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.logger.Error("index stat failed", logger.String("name", c.Param("name")), logger.Error(err))
		errorJSON(c, http.StatusInternalServerError, "STAT_ERROR", "Unable to stat the index.")
		return
	}
	c.JSON(http.StatusOK, stat)
}

// HealthCheck reports service health and the state of its dependencies.
func (h *Handler) HealthCheck(c *gin.Context) {
	status := domain.HealthStatus{
		Status:       "healthy",
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: map[string]string{},
	}

	if err := h.engine.HealthCheck(c.Request.Context()); err != nil {
		status.Status = "unhealthy"
		status.Dependencies["elasticsearch"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	status.Dependencies["elasticsearch"] = "healthy"

	c.JSON(http.StatusOK, status)
}

// searchError maps search failures to responses. Engine error text never
// reaches the client on bad queries; only the category does.
func (h *Handler) searchError(c *gin.Context, err error, query string) {
	var fieldErr *domain.FieldError
	var badRequest *es.BadRequestError

	switch {
	case errors.As(err, &fieldErr):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     fieldErr.Message,
			Code:      "VALIDATION_ERROR",
			Field:     fieldErr.Field,
			Timestamp: time.Now(),
		})
	case errors.Is(err, search.ErrDeepPagination):
		errorJSON(c, http.StatusBadRequest, "DEEP_PAGINATION", "Deep pagination is not allowed.")
	case errors.As(err, &badRequest):
		errorJSON(c, http.StatusBadRequest, "INVALID_QUERY", "Invalid search query.")
	default:
		h.logger.Error("search failed", logger.String("query", query), logger.Error(err))
		errorJSON(c, http.StatusInternalServerError, "SEARCH_ERROR", "Search failed.")
	}
}

// clientPreference hashes the client IP so the engine can pin each client to
// one replica set. The raw address never reaches the engine.
func clientPreference(c *gin.Context) string {
	sum := sha1.Sum([]byte(c.ClientIP()))
	return hex.EncodeToString(sum[:])
}
