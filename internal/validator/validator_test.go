package validator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WordPress/openverse-api/internal/config"
	"github.com/WordPress/openverse-api/internal/logger"
)

type memStatusCache struct {
	mu      sync.Mutex
	entries map[string]int
	ttls    map[string]time.Duration
}

func newMemStatusCache() *memStatusCache {
	return &memStatusCache{
		entries: make(map[string]int),
		ttls:    make(map[string]time.Duration),
	}
}

func (c *memStatusCache) GetMany(_ context.Context, urls []string) ([]*int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*int, len(urls))
	for i, u := range urls {
		if status, ok := c.entries[u]; ok {
			s := status
			out[i] = &s
		}
	}
	return out, nil
}

func (c *memStatusCache) Set(_ context.Context, url string, status int, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = status
	c.ttls[url] = ttl
	return nil
}

func testValidatorConfig() *config.ValidatorConfig {
	return &config.ValidatorConfig{
		Concurrency:    10,
		BatchTimeout:   2 * time.Second,
		RequestTimeout: time.Second,
		UserAgent:      "test-agent",
	}
}

func TestValidate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		switch r.URL.Path {
		case "/live":
			w.WriteHeader(http.StatusOK)
		case "/gone":
			w.WriteHeader(http.StatusNotFound)
		case "/moved":
			w.Header().Set("Location", "/live")
			w.WriteHeader(http.StatusMovedPermanently)
		case "/throttled":
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer server.Close()

	cache := newMemStatusCache()
	v := New(cache, testValidatorConfig(), logger.NewNop())

	urls := []string{
		server.URL + "/live",
		server.URL + "/gone",
		server.URL + "/moved",
		server.URL + "/throttled",
	}
	statuses, err := v.Validate(context.Background(), urls)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, statuses[urls[0]])
	assert.Equal(t, http.StatusNotFound, statuses[urls[1]])
	// Redirects are not followed; the redirect status itself is recorded.
	assert.Equal(t, http.StatusMovedPermanently, statuses[urls[2]])
	assert.Equal(t, http.StatusTooManyRequests, statuses[urls[3]])
}

func TestValidateUsesCache(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cache := newMemStatusCache()
	v := New(cache, testValidatorConfig(), logger.NewNop())
	url := server.URL + "/img"

	_, err := v.Validate(context.Background(), []string{url})
	require.NoError(t, err)
	require.Equal(t, 1, requests)

	statuses, err := v.Validate(context.Background(), []string{url})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, statuses[url])
	assert.Equal(t, 1, requests, "cached url must not be re-checked")
}

func TestValidateNoResponseSentinel(t *testing.T) {
	cache := newMemStatusCache()
	v := New(cache, testValidatorConfig(), logger.NewNop())

	// Unroutable per RFC 5737.
	url := "http://192.0.2.1/img"
	statuses, err := v.Validate(context.Background(), []string{url})
	require.NoError(t, err)
	assert.Equal(t, StatusNoResponse, statuses[url])
}

func TestStatusTTLs(t *testing.T) {
	assert.Equal(t, ttlLive, ttlFor(http.StatusOK))
	assert.Equal(t, ttlRedirect, ttlFor(http.StatusMovedPermanently))
	assert.Equal(t, ttlClientErr, ttlFor(http.StatusNotFound))
	assert.Equal(t, ttlClientErr, ttlFor(http.StatusTooManyRequests))
	assert.Equal(t, ttlNoResponse, ttlFor(http.StatusInternalServerError))
	assert.Equal(t, ttlNoResponse, ttlFor(StatusNoResponse))
}
