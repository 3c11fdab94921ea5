package search

import (
	"context"
	"fmt"

	"github.com/WordPress/openverse-api/internal/domain"
	"github.com/WordPress/openverse-api/internal/logger"
)

// relatedPageSize is the fixed size of a related-media page.
const relatedPageSize = 10

// Related finds media similar to an existing item. The seed identifier is
// resolved to the engine's internal document id so the similarity query can
// reference the stored term vectors directly.
func (e *Engine) Related(ctx context.Context, mediaType domain.MediaType, identifier string, preference string) (*domain.RelatedResponse, error) {
	index := string(mediaType)

	docID, err := e.searcher.GetDocID(ctx, index, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", identifier, err)
	}

	body := e.builder.BuildMoreLikeThis(docID, index, e.filteredProviders(ctx))

	fingerprint, err := Fingerprint(body)
	if err != nil {
		return nil, err
	}
	mask, err := e.masks.Get(ctx, fingerprint)
	if err != nil {
		e.logger.Warn("failed to load dead-link mask", logger.Error(err))
		mask = nil
	}

	start, end := paginateWithMask(mask, relatedPageSize, 1)
	page, err := e.execute(ctx, index, body, start, end, preference)
	if err != nil {
		return nil, err
	}

	live, err := e.filterDead(ctx, fingerprint, mask, start, page.Hits)
	if err != nil {
		return nil, err
	}
	if len(live) > relatedPageSize {
		live = live[:relatedPageSize]
	}

	return &domain.RelatedResponse{
		ResultCount: page.Total,
		Results:     live,
	}, nil
}
