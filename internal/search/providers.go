package search

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/WordPress/openverse-api/internal/logger"
)

// FilteredProviderSource reports providers whose content is held out of
// search results.
type FilteredProviderSource interface {
	FilteredProviders(ctx context.Context) ([]string, error)
}

// DBFilteredProviderSource reads the filtered-provider set from the API
// database, caching it briefly so every search does not hit the database.
type DBFilteredProviderSource struct {
	db     *sql.DB
	ttl    time.Duration
	logger logger.Logger

	mu        sync.Mutex
	cached    []string
	fetchedAt time.Time
}

// NewDBFilteredProviderSource creates a provider filter backed by the API
// database.
func NewDBFilteredProviderSource(db *sql.DB, ttl time.Duration, log logger.Logger) *DBFilteredProviderSource {
	return &DBFilteredProviderSource{db: db, ttl: ttl, logger: log}
}

// FilteredProviders returns the providers flagged for content filtering. A
// lookup failure falls back to the last known set so searches keep working
// during database blips.
func (s *DBFilteredProviderSource) FilteredProviders(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && time.Since(s.fetchedAt) < s.ttl {
		return s.cached, nil
	}

	providers, err := s.query(ctx)
	if err != nil {
		if s.cached != nil {
			s.logger.Warn("provider filter lookup failed, using stale set",
				logger.Error(err))
			return s.cached, nil
		}
		return nil, err
	}

	s.cached = providers
	s.fetchedAt = time.Now()
	return providers, nil
}

func (s *DBFilteredProviderSource) query(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider_identifier FROM content_provider WHERE filter_content = true`)
	if err != nil {
		return nil, fmt.Errorf("failed to query filtered providers: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	providers := []string{}
	for rows.Next() {
		var provider string
		if err := rows.Scan(&provider); err != nil {
			return nil, fmt.Errorf("failed to scan provider row: %w", err)
		}
		providers = append(providers, provider)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read provider rows: %w", err)
	}
	return providers, nil
}
