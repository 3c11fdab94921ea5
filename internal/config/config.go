package config

import (
	"fmt"
	"time"
)

// Config holds all configuration for the catalog search API and the indexer
// worker.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Search        SearchConfig        `yaml:"search"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Redis         RedisConfig         `yaml:"redis"`
	Validator     ValidatorConfig     `yaml:"validator"`
	Database      DatabaseConfig      `yaml:"database"`
	Upstream      UpstreamConfig      `yaml:"upstream"`
	Ingest        IngestConfig        `yaml:"ingest"`
	Worker        WorkerConfig        `yaml:"worker"`
	Notify        NotifyConfig        `yaml:"notify"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Port        int    `yaml:"port" env:"API_PORT"`
	Debug       bool   `yaml:"debug" env:"API_DEBUG"`
	Environment string `yaml:"environment" env:"ENVIRONMENT"`
}

// SearchConfig holds ranked-search and dead-link pagination configuration.
type SearchConfig struct {
	DefaultPageSize int           `yaml:"default_page_size" env:"SEARCH_DEFAULT_PAGE_SIZE"`
	MaxPageSize     int           `yaml:"max_page_size" env:"SEARCH_MAX_PAGE_SIZE"`
	MaxResultWindow int           `yaml:"max_result_window"`
	DeadLinkRatio   float64       `yaml:"dead_link_ratio"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	MaskTTL         time.Duration `yaml:"mask_ttl"`
	SourceCacheTTL  time.Duration `yaml:"source_cache_ttl"`
	FilterCacheTTL  time.Duration `yaml:"filter_cache_ttl"`
}

// ElasticsearchConfig holds search engine connection configuration.
type ElasticsearchConfig struct {
	URL        string        `yaml:"url" env:"ELASTICSEARCH_URL"`
	Username   string        `yaml:"username" env:"ELASTICSEARCH_USERNAME"`
	Password   string        `yaml:"password" env:"ELASTICSEARCH_PASSWORD"`
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
}

// RedisConfig holds the shared key-value store configuration. The dead-link
// masks and the link-validation cache live here so they are consistent across
// all API server processes.
type RedisConfig struct {
	Address  string `yaml:"address" env:"REDIS_ADDRESS"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// ValidatorConfig holds link validation configuration.
type ValidatorConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	BatchTimeout   time.Duration `yaml:"batch_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	UserAgent      string        `yaml:"user_agent"`
}

// DatabaseConfig holds downstream (API) PostgreSQL configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"DATABASE_HOST"`
	Port           int    `yaml:"port" env:"DATABASE_PORT"`
	User           string `yaml:"user" env:"DATABASE_USER"`
	Password       string `yaml:"password" env:"DATABASE_PASSWORD"`
	Database       string `yaml:"database" env:"DATABASE_NAME"`
	SSLMode        string `yaml:"ssl_mode"`
	MaxConnections int    `yaml:"max_connections"`
}

// UpstreamConfig holds upstream (catalog) PostgreSQL configuration. The
// relative host and port describe the upstream database from the point of
// view of the downstream database, used when setting up the foreign data
// wrapper.
type UpstreamConfig struct {
	Host         string `yaml:"host" env:"UPSTREAM_DB_HOST"`
	Port         int    `yaml:"port" env:"UPSTREAM_DB_PORT"`
	User         string `yaml:"user" env:"UPSTREAM_DB_USER"`
	Password     string `yaml:"password" env:"UPSTREAM_DB_PASSWORD"`
	Database     string `yaml:"database" env:"UPSTREAM_DB_NAME"`
	RelativeHost string `yaml:"relative_host" env:"RELATIVE_UPSTREAM_DB_HOST"`
	RelativePort int    `yaml:"relative_port" env:"RELATIVE_UPSTREAM_DB_PORT"`
}

// IngestConfig holds bulk reindex and data refresh configuration.
type IngestConfig struct {
	// CopyLimit caps the number of rows copied from upstream. Zero means no
	// limit and is the production setting.
	CopyLimit int `yaml:"copy_limit" env:"DATA_REFRESH_LIMIT"`
	// BufferSize is the number of database rows held in memory per chunk.
	BufferSize int `yaml:"buffer_size" env:"DB_BUFFER_SIZE"`
	// WorkerEndpoints are the base URLs of the indexer worker pool, one shard
	// per worker.
	WorkerEndpoints []string `yaml:"worker_endpoints" env:"INDEXER_WORKER_ENDPOINTS"`
	CleanupWorkers  int      `yaml:"cleanup_workers"`
}

// WorkerConfig holds indexer-worker configuration.
type WorkerConfig struct {
	Port int `yaml:"port" env:"WORKER_PORT"`
	// CallbackURL is where the worker reports shard completion, normally the
	// scheduler's /worker_finished endpoint.
	CallbackURL string `yaml:"callback_url" env:"WORKER_CALLBACK_URL"`
}

// NotifyConfig holds webhook notification configuration. An empty URL
// disables notifications.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" env:"NOTIFY_WEBHOOK"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

// Load loads the configuration from the given path, applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := load[Config](path, setDefaults)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "catalog-api"
	}
	if cfg.Service.Version == "" {
		cfg.Service.Version = "1.0.0"
	}
	if cfg.Service.Port == 0 {
		cfg.Service.Port = 8001
	}
	if cfg.Service.Environment == "" {
		cfg.Service.Environment = "local"
	}

	if cfg.Search.DefaultPageSize == 0 {
		cfg.Search.DefaultPageSize = 20
	}
	if cfg.Search.MaxPageSize == 0 {
		cfg.Search.MaxPageSize = 500
	}
	if cfg.Search.MaxResultWindow == 0 {
		cfg.Search.MaxResultWindow = 10000
	}
	if cfg.Search.DeadLinkRatio == 0 {
		cfg.Search.DeadLinkRatio = 0.5
	}
	if cfg.Search.QueryTimeout == 0 {
		cfg.Search.QueryTimeout = 7 * time.Second
	}
	if cfg.Search.MaskTTL == 0 {
		cfg.Search.MaskTTL = 15 * time.Minute
	}
	if cfg.Search.SourceCacheTTL == 0 {
		cfg.Search.SourceCacheTTL = 20 * time.Minute
	}
	if cfg.Search.FilterCacheTTL == 0 {
		cfg.Search.FilterCacheTTL = 30 * time.Second
	}

	if cfg.Elasticsearch.URL == "" {
		cfg.Elasticsearch.URL = "http://localhost:9200"
	}
	if cfg.Elasticsearch.MaxRetries == 0 {
		cfg.Elasticsearch.MaxRetries = 3
	}
	if cfg.Elasticsearch.Timeout == 0 {
		cfg.Elasticsearch.Timeout = 30 * time.Second
	}

	if cfg.Redis.Address == "" {
		cfg.Redis.Address = "localhost:6379"
	}

	if cfg.Validator.Concurrency == 0 {
		cfg.Validator.Concurrency = 50
	}
	if cfg.Validator.BatchTimeout == 0 {
		cfg.Validator.BatchTimeout = 2 * time.Second
	}
	if cfg.Validator.RequestTimeout == 0 {
		cfg.Validator.RequestTimeout = 2 * time.Second
	}
	if cfg.Validator.UserAgent == "" {
		cfg.Validator.UserAgent = "OpenCatalog/1.0 (LinkValidation)"
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "deploy"
	}
	if cfg.Database.Database == "" {
		cfg.Database.Database = "openledger"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxConnections == 0 {
		cfg.Database.MaxConnections = 10
	}

	if cfg.Upstream.Host == "" {
		cfg.Upstream.Host = "localhost"
	}
	if cfg.Upstream.Port == 0 {
		cfg.Upstream.Port = 5433
	}
	if cfg.Upstream.User == "" {
		cfg.Upstream.User = "deploy"
	}
	if cfg.Upstream.Database == "" {
		cfg.Upstream.Database = "openledger"
	}
	if cfg.Upstream.RelativeHost == "" {
		cfg.Upstream.RelativeHost = cfg.Upstream.Host
	}
	if cfg.Upstream.RelativePort == 0 {
		cfg.Upstream.RelativePort = cfg.Upstream.Port
	}

	if cfg.Ingest.BufferSize == 0 {
		cfg.Ingest.BufferSize = 10000
	}
	if cfg.Ingest.CleanupWorkers == 0 {
		cfg.Ingest.CleanupWorkers = 4
	}
	if cfg.Ingest.CopyLimit == 0 && cfg.Service.Environment != "production" {
		// Cap non-production refreshes so a local run stays tractable.
		cfg.Ingest.CopyLimit = 100000
	}

	if cfg.Worker.Port == 0 {
		cfg.Worker.Port = 8002
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return &ValidationError{Field: "service.port", Message: fmt.Sprintf("invalid port: %d", c.Service.Port)}
	}
	if c.Search.MaxPageSize < 1 {
		return &ValidationError{Field: "search.max_page_size", Message: "must be greater than 0"}
	}
	if c.Search.DefaultPageSize < 1 || c.Search.DefaultPageSize > c.Search.MaxPageSize {
		return &ValidationError{
			Field:   "search.default_page_size",
			Message: fmt.Sprintf("must be between 1 and %d", c.Search.MaxPageSize),
		}
	}
	if c.Search.DeadLinkRatio <= 0 || c.Search.DeadLinkRatio >= 1 {
		return &ValidationError{Field: "search.dead_link_ratio", Message: "must be in (0, 1)"}
	}
	if c.Elasticsearch.URL == "" {
		return &ValidationError{Field: "elasticsearch.url", Message: "is required"}
	}
	return validateLogLevel(c.Logging.Level)
}
