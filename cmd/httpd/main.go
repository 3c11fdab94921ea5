// Command httpd runs the catalog API server. It serves ranked media search
// with dead-link filtering and hosts the indexing task scheduler.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/WordPress/openverse-api/internal/api"
	"github.com/WordPress/openverse-api/internal/config"
	es "github.com/WordPress/openverse-api/internal/elasticsearch"
	"github.com/WordPress/openverse-api/internal/ingest"
	"github.com/WordPress/openverse-api/internal/logger"
	"github.com/WordPress/openverse-api/internal/metrics"
	"github.com/WordPress/openverse-api/internal/notify"
	"github.com/WordPress/openverse-api/internal/search"
	"github.com/WordPress/openverse-api/internal/tasks"
	"github.com/WordPress/openverse-api/internal/validator"
)

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

	log.Info("starting catalog api",
		logger.String("version", cfg.Service.Version),
		logger.Int("port", cfg.Service.Port),
		logger.String("environment", cfg.Service.Environment),
	)

	esClient, err := es.NewClient(&cfg.Elasticsearch, log)
	if err != nil {
		log.Error("failed to connect to the search engine", logger.Error(err))
		return 1
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	db, err := openDatabase(&cfg.Database)
	if err != nil {
		log.Error("failed to connect to the database", logger.Error(err))
		return 1
	}
	defer func() { _ = db.Close() }()

	return serve(cfg, esClient, rdb, db, log)
}

// openDatabase connects to the downstream API database.
func openDatabase(cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// serve wires the services together and runs the HTTP server until a
// termination signal arrives.
func serve(cfg *config.Config, esClient *es.Client, rdb *redis.Client, db *sql.DB, log logger.Logger) int {
	// Search pipeline
	maskStore := search.NewRedisMaskStore(rdb, cfg.Search.MaskTTL)
	statusCache := validator.NewRedisStatusCache(rdb)
	linkValidator := validator.New(statusCache, &cfg.Validator, log)
	providers := search.NewDBFilteredProviderSource(db, cfg.Search.FilterCacheTTL, log)
	engine := search.NewEngine(esClient, maskStore, linkValidator, providers, &cfg.Search, log)
	stats := search.NewSourceStats(esClient, cfg.Search.SourceCacheTTL, log)

	// Indexing pipeline
	notifier := notify.New(&cfg.Notify, log)
	indexer := ingest.NewTableIndexer(db, esClient, &cfg.Ingest, log)
	refresher := ingest.NewRefresher(db, &cfg.Upstream, &cfg.Ingest, log)
	registry := tasks.NewWorkerRegistry()
	coordinator := tasks.NewCoordinator(registry, indexer, notifier, stats, log)
	scheduler := tasks.NewScheduler(db, cfg.Ingest.WorkerEndpoints, cfg.Worker.CallbackURL, log)
	tracker := tasks.NewTracker()
	runner := tasks.NewRunner(tracker, indexer, refresher, scheduler, coordinator, stats, notifier, log)

	m := metrics.NewMetrics(nil)
	handler := api.NewHandler(engine, stats, esClient, m, cfg.Service.Version, log)
	taskHandler := api.NewTaskHandler(runner, tracker, registry, coordinator, m, log)
	server := api.NewServer(cfg.Service.Port, cfg.Service.Debug, handler, taskHandler, m, log)

	errCh := server.StartAsync()

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
		if err := server.Shutdown(context.Background()); err != nil {
			log.Error("shutdown error", logger.Error(err))
			return 1
		}
	}

	log.Info("catalog api exited cleanly")
	return 0
}
