package tasks

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/WordPress/openverse-api/internal/domain"
	"github.com/WordPress/openverse-api/internal/logger"
)

const dispatchTimeout = 30 * time.Second

// ShardRequest is the body posted to each indexer worker. The worker
// indexes rows with StartID < id <= EndID into the target index and calls
// back when done.
type ShardRequest struct {
	Model       string `json:"model"`
	StartID     int64  `json:"start_id"`
	EndID       int64  `json:"end_id"`
	TargetIndex string `json:"target_index"`
	CallbackURL string `json:"callback_url"`
}

type idRange struct {
	start, end int64
}

// Scheduler splits a media table into contiguous id ranges and dispatches
// one range to each indexer worker.
type Scheduler struct {
	db          *sql.DB
	endpoints   []string
	callbackURL string
	client      *http.Client
	logger      logger.Logger
}

// NewScheduler creates a shard scheduler over the configured worker pool.
func NewScheduler(db *sql.DB, endpoints []string, callbackURL string, log logger.Logger) *Scheduler {
	return &Scheduler{
		db:          db,
		endpoints:   endpoints,
		callbackURL: callbackURL,
		client:      &http.Client{Timeout: dispatchTimeout},
		logger:      log,
	}
}

// Distributed reports whether a worker pool is configured at all.
func (s *Scheduler) Distributed() bool {
	return len(s.endpoints) > 0
}

// Origins returns the network origin of each worker endpoint, used to key
// their completion callbacks.
func (s *Scheduler) Origins() ([]string, error) {
	origins := make([]string, len(s.endpoints))
	for i, endpoint := range s.endpoints {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid worker endpoint %q: %w", endpoint, err)
		}
		origins[i] = parsed.Hostname()
	}
	return origins, nil
}

// Schedule fans a full-table reindex out across the worker pool. Every
// worker must accept its shard; a single refusal fails the whole dispatch
// before any callback bookkeeping matters.
func (s *Scheduler) Schedule(ctx context.Context, model domain.MediaType, targetIndex string) error {
	maxID, err := s.maxID(ctx, string(model))
	if err != nil {
		return err
	}

	ranges := splitRange(maxID, len(s.endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, endpoint := range s.endpoints {
		shard := ShardRequest{
			Model:       string(model),
			StartID:     ranges[i].start,
			EndID:       ranges[i].end,
			TargetIndex: targetIndex,
			CallbackURL: s.callbackURL,
		}
		target := endpoint
		g.Go(func() error {
			return s.dispatch(gctx, target, shard)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("shard dispatch failed: %w", err)
	}

	s.logger.Info("distributed reindex scheduled",
		logger.String("model", string(model)),
		logger.String("target_index", targetIndex),
		logger.Int("workers", len(s.endpoints)),
		logger.Int64("max_id", maxID))
	return nil
}

func (s *Scheduler) maxID(ctx context.Context, table string) (int64, error) {
	var maxID sql.NullInt64
	query := fmt.Sprintf(`SELECT MAX(id) FROM %s`, pq.QuoteIdentifier(table))
	if err := s.db.QueryRowContext(ctx, query).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("failed to read max id from %s: %w", table, err)
	}
	return maxID.Int64, nil
}

func (s *Scheduler) dispatch(ctx context.Context, endpoint string, shard ShardRequest) error {
	body, err := json.Marshal(shard)
	if err != nil {
		return fmt.Errorf("failed to encode shard request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		endpoint+"/indexing_task", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build shard request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("worker %s refused shard: %w", endpoint, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(res.Body)
		return fmt.Errorf("worker %s rejected shard [%d]: %s", endpoint, res.StatusCode, string(raw))
	}
	return nil
}

// splitRange divides (0, maxID] into n contiguous ranges. Ranges are
// half-open on the left so shards never overlap.
func splitRange(maxID int64, n int) []idRange {
	ranges := make([]idRange, n)
	chunk := maxID / int64(n)
	for i := range ranges {
		ranges[i] = idRange{
			start: int64(i) * chunk,
			end:   int64(i+1) * chunk,
		}
	}
	ranges[n-1].end = maxID
	return ranges
}
