package search

import (
	"context"
	"sync"
	"time"

	"github.com/WordPress/openverse-api/internal/domain"
	"github.com/WordPress/openverse-api/internal/logger"
)

// SourceCounter produces per-source document counts for a media index.
type SourceCounter interface {
	SourceCounts(ctx context.Context, index string) (map[string]int64, error)
}

// SourceStats serves per-source document counts with an in-process cache.
// Counts only move when an index is promoted, so the cache is invalidated
// explicitly on promotion rather than waiting for expiry.
type SourceStats struct {
	counter SourceCounter
	ttl     time.Duration
	logger  logger.Logger

	mu        sync.Mutex
	cache     map[domain.MediaType]map[string]int64
	fetchedAt map[domain.MediaType]time.Time
}

// NewSourceStats creates a source statistics service.
func NewSourceStats(counter SourceCounter, ttl time.Duration, log logger.Logger) *SourceStats {
	return &SourceStats{
		counter:   counter,
		ttl:       ttl,
		logger:    log,
		cache:     make(map[domain.MediaType]map[string]int64),
		fetchedAt: make(map[domain.MediaType]time.Time),
	}
}

// Counts returns the per-source document counts for a media type.
func (s *SourceStats) Counts(ctx context.Context, mediaType domain.MediaType) (map[string]int64, error) {
	s.mu.Lock()
	if cached, ok := s.cache[mediaType]; ok && time.Since(s.fetchedAt[mediaType]) < s.ttl {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	counts, err := s.counter.SourceCounts(ctx, string(mediaType))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[mediaType] = counts
	s.fetchedAt[mediaType] = time.Now()
	s.mu.Unlock()

	return counts, nil
}

// Invalidate drops the cached counts for a media type, called after an index
// promotion changes what the alias serves.
func (s *SourceStats) Invalidate(mediaType domain.MediaType) {
	s.mu.Lock()
	delete(s.cache, mediaType)
	delete(s.fetchedAt, mediaType)
	s.mu.Unlock()
	s.logger.Debug("source stats cache invalidated", logger.String("media_type", string(mediaType)))
}
