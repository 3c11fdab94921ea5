package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/WordPress/openverse-api/internal/config"
	"github.com/WordPress/openverse-api/internal/logger"
)

const pingTimeout = 5 * time.Second

// BadRequestError is returned when the engine rejects the request body
// itself, typically a malformed query. Callers map it to a 400 without
// leaking the raw engine message.
type BadRequestError struct {
	StatusCode int
	Reason     string
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("engine rejected request [%d]: %s", e.StatusCode, e.Reason)
}

// Client wraps the Elasticsearch client
type Client struct {
	esClient *es.Client
	config   *config.ElasticsearchConfig
	logger   logger.Logger
}

// NewClient creates a new Elasticsearch client and verifies connectivity.
func NewClient(cfg *config.ElasticsearchConfig, log logger.Logger) (*Client, error) {
	addresses := []string{cfg.URL}
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		addresses = []string{"http://" + cfg.URL}
	}

	clientConfig := es.Config{
		Addresses:  addresses,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.Username != "" {
		clientConfig.Username = cfg.Username
		clientConfig.Password = cfg.Password
	}

	esClient, err := es.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	client := &Client{
		esClient: esClient,
		config:   cfg,
		logger:   log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping elasticsearch: %w", err)
	}

	return client, nil
}

// Ping verifies the Elasticsearch connection
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.esClient.Ping(c.esClient.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("elasticsearch ping failed: %s", string(body))
	}

	return nil
}

// SearchOptions tunes a single search execution.
type SearchOptions struct {
	// Preference routes repeated searches from the same client to the same
	// shard replicas so pagination stays stable between requests.
	Preference string
	Timeout    time.Duration
}

// Search executes a search query against an index or alias.
func (c *Client) Search(
	ctx context.Context,
	index string,
	query map[string]any,
	opts SearchOptions,
) (*SearchPage, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	res, err := c.esClient.Search(
		c.esClient.Search.WithContext(ctx),
		c.esClient.Search.WithIndex(index),
		c.esClient.Search.WithBody(bytes.NewReader(body)),
		c.esClient.Search.WithTrackTotalHits(true),
		c.esClient.Search.WithTimeout(opts.Timeout),
		c.esClient.Search.WithPreference(opts.Preference),
	)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		if res.StatusCode == http.StatusBadRequest {
			return nil, &BadRequestError{StatusCode: res.StatusCode, Reason: string(raw)}
		}
		return nil, fmt.Errorf("search returned error [%d]: %s", res.StatusCode, string(raw))
	}

	return parseSearchResponse(res.Body)
}

// HealthCheck checks Elasticsearch cluster health
func (c *Client) HealthCheck(ctx context.Context) error {
	res, err := c.esClient.Cluster.Health(
		c.esClient.Cluster.Health.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer func() {
		_ = res.Body.Close()
	}()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cluster unhealthy [%d]: %s", res.StatusCode, string(body))
	}

	return nil
}

// GetESClient returns the underlying Elasticsearch client
func (c *Client) GetESClient() *es.Client {
	return c.esClient
}
