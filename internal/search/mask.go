package search

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const maskKeyPrefix = "search-deadlink-mask:"

// Mask records link-liveness per ranked result position for one query
// fingerprint: 1 means the result at that position was live when last
// checked, 0 means it was removed as dead.
type Mask []byte

// Sum returns the number of live positions in the mask.
func (m Mask) Sum() int {
	total := 0
	for _, v := range m {
		total += int(v)
	}
	return total
}

// MaskStore persists dead-link masks keyed by query fingerprint. The store
// is shared by all API server processes so concurrent paginators converge on
// the same view of liveness.
type MaskStore interface {
	Get(ctx context.Context, fingerprint string) (Mask, error)
	Set(ctx context.Context, fingerprint string, mask Mask) error
}

// RedisMaskStore stores masks as byte strings with a short TTL so stale
// liveness verdicts age out.
type RedisMaskStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisMaskStore creates a mask store backed by the shared cache.
func NewRedisMaskStore(client *redis.Client, ttl time.Duration) *RedisMaskStore {
	return &RedisMaskStore{client: client, ttl: ttl}
}

// Get fetches the mask for a fingerprint, returning a nil mask when none is
// stored.
func (s *RedisMaskStore) Get(ctx context.Context, fingerprint string) (Mask, error) {
	raw, err := s.client.Get(ctx, maskKeyPrefix+fingerprint).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead-link mask: %w", err)
	}
	return Mask(raw), nil
}

// Set persists the mask with the configured TTL.
func (s *RedisMaskStore) Set(ctx context.Context, fingerprint string, mask Mask) error {
	if err := s.client.Set(ctx, maskKeyPrefix+fingerprint, []byte(mask), s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store dead-link mask: %w", err)
	}
	return nil
}
