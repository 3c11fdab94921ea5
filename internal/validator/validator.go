// Package validator checks whether media URLs still resolve. Results are
// cached in a shared store with status-dependent expiry so transient
// provider failures self-heal quickly while confirmed-live links are not
// re-checked for a long time.
package validator

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/WordPress/openverse-api/internal/config"
	"github.com/WordPress/openverse-api/internal/logger"
)

// StatusNoResponse marks a URL that produced no usable response, distinct
// from any real HTTP status.
const StatusNoResponse = -1

// Cache expiry by status class. Live links stay cached longest; a link that
// gave no response is retried soon in case the provider was only briefly
// down.
const (
	ttlLive       = 30 * 24 * time.Hour
	ttlRedirect   = 24 * time.Hour
	ttlClientErr  = 14 * 24 * time.Hour
	ttlNoResponse = 5 * time.Minute
)

// Validator resolves the liveness of URL batches with bounded concurrency.
type Validator struct {
	cache  StatusCache
	client *http.Client
	cfg    *config.ValidatorConfig
	logger logger.Logger
}

// New creates a link validator. Redirects are not followed; a redirect is
// reported as its own status so the caller can treat it as not-live.
func New(cache StatusCache, cfg *config.ValidatorConfig, log logger.Logger) *Validator {
	return &Validator{
		cache: cache,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		cfg:    cfg,
		logger: log,
	}
}

// Validate returns the status for every URL, serving from cache where
// possible and HEAD-checking the rest concurrently within the batch timeout.
func (v *Validator) Validate(ctx context.Context, urls []string) (map[string]int, error) {
	statuses := make(map[string]int, len(urls))

	cached, err := v.cache.GetMany(ctx, urls)
	if err != nil {
		v.logger.Warn("status cache read failed, checking all urls", logger.Error(err))
		cached = make([]*int, len(urls))
	}

	var toCheck []string
	for i, u := range urls {
		if cached[i] != nil {
			statuses[u] = *cached[i]
		} else {
			toCheck = append(toCheck, u)
		}
	}
	if len(toCheck) == 0 {
		return statuses, nil
	}

	batchCtx, cancel := context.WithTimeout(ctx, v.cfg.BatchTimeout)
	defer cancel()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(batchCtx)
	g.SetLimit(v.cfg.Concurrency)

	for _, u := range toCheck {
		url := u
		g.Go(func() error {
			status := v.head(gctx, url)
			mu.Lock()
			statuses[url] = status
			mu.Unlock()

			if err := v.cache.Set(ctx, url, status, ttlFor(status)); err != nil {
				v.logger.Warn("failed to cache link status",
					logger.String("url", url), logger.Error(err))
			}
			return nil
		})
	}
	// Workers never return errors; they record StatusNoResponse instead.
	_ = g.Wait()

	// Anything the batch timeout cut off is recorded as no-response.
	for _, u := range toCheck {
		mu.Lock()
		if _, ok := statuses[u]; !ok {
			statuses[u] = StatusNoResponse
		}
		mu.Unlock()
	}

	return statuses, nil
}

func (v *Validator) head(ctx context.Context, url string) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return StatusNoResponse
	}
	req.Header.Set("User-Agent", v.cfg.UserAgent)

	res, err := v.client.Do(req)
	if err != nil {
		return StatusNoResponse
	}
	defer func() {
		_ = res.Body.Close()
	}()

	return res.StatusCode
}

func ttlFor(status int) time.Duration {
	switch {
	case status == http.StatusOK:
		return ttlLive
	case status >= 200 && status < 400:
		return ttlRedirect
	case status >= 400 && status < 500:
		return ttlClientErr
	default:
		return ttlNoResponse
	}
}
