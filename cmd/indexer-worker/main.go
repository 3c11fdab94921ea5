// Command indexer-worker runs one member of the distributed reindex pool.
// The scheduler posts an id-range shard; the worker bulk-indexes it and
// reports the outcome to the callback URL.
package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/WordPress/openverse-api/internal/config"
	"github.com/WordPress/openverse-api/internal/domain"
	es "github.com/WordPress/openverse-api/internal/elasticsearch"
	"github.com/WordPress/openverse-api/internal/ingest"
	"github.com/WordPress/openverse-api/internal/logger"
	"github.com/WordPress/openverse-api/internal/tasks"
)

const callbackTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(config.GetConfigPath("config.yml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		return 1
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Service.Debug,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting indexer worker", logger.Int("port", cfg.Worker.Port))

	esClient, err := es.NewClient(&cfg.Elasticsearch, log)
	if err != nil {
		log.Error("failed to connect to the search engine", logger.Error(err))
		return 1
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.User,
		cfg.Database.Password, cfg.Database.Database, cfg.Database.SSLMode)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Error("failed to open the database", logger.Error(err))
		return 1
	}
	defer func() { _ = db.Close() }()
	if err := db.Ping(); err != nil {
		log.Error("failed to ping the database", logger.Error(err))
		return 1
	}

	worker := newWorker(ingest.NewTableIndexer(db, esClient, &cfg.Ingest, log), log)
	return serve(cfg, worker, log)
}

// worker serves shard indexing requests, one at a time.
type worker struct {
	indexer *ingest.TableIndexer
	client  *http.Client
	logger  logger.Logger

	mu   sync.Mutex
	busy bool
}

func newWorker(indexer *ingest.TableIndexer, log logger.Logger) *worker {
	return &worker{
		indexer: indexer,
		client:  &http.Client{Timeout: callbackTimeout},
		logger:  log,
	}
}

// handleShard accepts a shard and starts indexing in the background. A
// worker runs one shard at a time; overlapping requests are rejected so a
// stale scheduler cannot double-book a worker.
func (w *worker) handleShard(c *gin.Context) {
	var shard tasks.ShardRequest
	if err := c.ShouldBindJSON(&shard); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if !domain.ValidMediaType(shard.Model) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown model: " + shard.Model})
		return
	}
	if shard.TargetIndex == "" || shard.CallbackURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_index and callback_url are required"})
		return
	}

	w.mu.Lock()
	if w.busy {
		w.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "a shard is already being indexed"})
		return
	}
	w.busy = true
	w.mu.Unlock()

	w.logger.Info("shard accepted",
		logger.String("model", shard.Model),
		logger.String("target_index", shard.TargetIndex),
		logger.Int64("start_id", shard.StartID),
		logger.Int64("end_id", shard.EndID),
	)

	go w.indexShard(shard)

	c.JSON(http.StatusAccepted, gin.H{"message": "Successfully scheduled task."})
}

func (w *worker) indexShard(shard tasks.ShardRequest) {
	defer func() {
		w.mu.Lock()
		w.busy = false
		w.mu.Unlock()
	}()

	err := w.indexer.IndexShard(
		context.Background(),
		domain.MediaType(shard.Model),
		shard.TargetIndex,
		shard.StartID,
		shard.EndID,
		func(percent float64) {
			w.logger.Debug("shard progress",
				logger.String("target_index", shard.TargetIndex),
				logger.Float64("percent", percent))
		},
	)
	if err != nil {
		w.logger.Error("shard indexing failed",
			logger.String("target_index", shard.TargetIndex),
			logger.Error(err))
	} else {
		w.logger.Info("shard indexing finished",
			logger.String("target_index", shard.TargetIndex))
	}

	w.callback(shard.CallbackURL, err != nil)
}

// callback reports shard completion to the scheduler. The report carries
// only a failure flag; details stay in the worker logs.
func (w *worker) callback(url string, failed bool) {
	body, _ := json.Marshal(map[string]bool{"error": failed})

	resp, err := w.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		w.logger.Error("callback failed", logger.String("url", url), logger.Error(err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		w.logger.Error("callback rejected",
			logger.String("url", url),
			logger.Int("status", resp.StatusCode))
	}
}

func serve(cfg *config.Config, w *worker, log logger.Logger) int {
	if !cfg.Service.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.POST("/indexing_task", w.handleShard)
	router.GET("/healthcheck", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Worker.Port),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server error", logger.Error(err))
			return 1
		}
	case sig := <-quit:
		log.Info("received signal", logger.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("shutdown error", logger.Error(err))
			return 1
		}
	}

	log.Info("indexer worker exited cleanly")
	return 0
}
