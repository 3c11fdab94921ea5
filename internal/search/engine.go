package search

import (
	"context"
	"math"
	"net/http"

	"github.com/WordPress/openverse-api/internal/config"
	"github.com/WordPress/openverse-api/internal/domain"
	es "github.com/WordPress/openverse-api/internal/elasticsearch"
	"github.com/WordPress/openverse-api/internal/logger"
)

// Searcher is the slice of the engine client the search service needs.
type Searcher interface {
	Search(ctx context.Context, index string, query map[string]any, opts es.SearchOptions) (*es.SearchPage, error)
	GetDocID(ctx context.Context, index, identifier string) (string, error)
}

// LinkValidator reports the last known HTTP status per URL. A status of -1
// means the URL produced no response (timeout or connection failure). The
// validator never decides which results stay; that policy lives here.
type LinkValidator interface {
	Validate(ctx context.Context, urls []string) (map[string]int, error)
}

// Engine executes ranked searches with dead-link-aware pagination.
type Engine struct {
	searcher  Searcher
	builder   *es.QueryBuilder
	masks     MaskStore
	validator LinkValidator
	providers FilteredProviderSource
	cfg       *config.SearchConfig
	logger    logger.Logger
}

// NewEngine creates a search engine service.
func NewEngine(
	searcher Searcher,
	masks MaskStore,
	validator LinkValidator,
	providers FilteredProviderSource,
	cfg *config.SearchConfig,
	log logger.Logger,
) *Engine {
	return &Engine{
		searcher:  searcher,
		builder:   es.NewQueryBuilder(),
		masks:     masks,
		validator: validator,
		providers: providers,
		cfg:       cfg,
		logger:    log,
	}
}

// Search runs a ranked search and returns one page of live results.
func (e *Engine) Search(ctx context.Context, req *domain.SearchRequest, preference string) (*domain.SearchResponse, error) {
	if err := req.Validate(e.cfg.DefaultPageSize, e.cfg.MaxPageSize); err != nil {
		return nil, err
	}

	body := e.builder.Build(req, e.filteredProviders(ctx))
	index := string(req.MediaType)

	if !req.FilterDead {
		return e.searchUnfiltered(ctx, index, body, req, preference)
	}
	return e.searchFiltered(ctx, index, body, req, preference)
}

func (e *Engine) searchUnfiltered(
	ctx context.Context,
	index string,
	body map[string]any,
	req *domain.SearchRequest,
	preference string,
) (*domain.SearchResponse, error) {
	start := req.PageSize * (req.Page - 1)
	end := req.PageSize * req.Page
	if start+end > e.cfg.MaxResultWindow {
		return nil, ErrDeepPagination
	}

	page, err := e.execute(ctx, index, body, start, end, preference)
	if err != nil {
		return nil, err
	}

	resultCount, pageCount := e.counts(page.Total, len(page.Hits), req.PageSize, req.Page)
	return &domain.SearchResponse{
		ResultCount: resultCount,
		PageCount:   pageCount,
		Page:        req.Page,
		PageSize:    req.PageSize,
		Results:     page.Hits,
	}, nil
}

func (e *Engine) searchFiltered(
	ctx context.Context,
	index string,
	body map[string]any,
	req *domain.SearchRequest,
	preference string,
) (*domain.SearchResponse, error) {
	fingerprint, err := Fingerprint(body)
	if err != nil {
		return nil, err
	}

	mask, err := e.masks.Get(ctx, fingerprint)
	if err != nil {
		// A missing mask only costs an overfetch, so degrade instead of
		// failing the search.
		e.logger.Warn("failed to load dead-link mask", logger.Error(err))
		mask = nil
	}

	start, end := paginateWithMask(mask, req.PageSize, req.Page)
	if start+end > e.cfg.MaxResultWindow {
		return nil, ErrDeepPagination
	}

	var (
		page *es.SearchPage
		live []domain.Hit
	)
	for {
		page, err = e.execute(ctx, index, body, start, end, preference)
		if err != nil {
			return nil, err
		}

		live, err = e.filterDead(ctx, fingerprint, mask, start, page.Hits)
		if err != nil {
			return nil, err
		}
		if len(live) >= req.PageSize {
			break
		}

		// Widen the slice end by half and retry. Validation results are
		// cached, so re-checking the prefix of the slice is cheap.
		widened := end + end/2
		if widened == end || start+widened > e.cfg.MaxResultWindow {
			break
		}
		if int64(end) >= page.Total {
			break
		}
		end = widened
	}

	if len(live) > req.PageSize {
		live = live[:req.PageSize]
	}

	resultCount, pageCount := e.counts(page.Total, len(live), req.PageSize, req.Page)
	return &domain.SearchResponse{
		ResultCount: resultCount,
		PageCount:   pageCount,
		Page:        req.Page,
		PageSize:    req.PageSize,
		Results:     live,
	}, nil
}

func (e *Engine) execute(
	ctx context.Context,
	index string,
	body map[string]any,
	start, end int,
	preference string,
) (*es.SearchPage, error) {
	query := make(map[string]any, len(body)+2)
	for k, v := range body {
		query[k] = v
	}
	query["from"] = start
	query["size"] = end - start

	return e.searcher.Search(ctx, index, query, es.SearchOptions{
		Preference: preference,
		Timeout:    e.cfg.QueryTimeout,
	})
}

// filterDead validates all hit URLs, drops the dead ones, and merges the
// fresh liveness segment into the stored mask. Rate-limit statuses are kept;
// a 403 or 429 means the validator was throttled, not that the link is gone.
func (e *Engine) filterDead(
	ctx context.Context,
	fingerprint string,
	oldMask Mask,
	start int,
	hits []domain.Hit,
) ([]domain.Hit, error) {
	if len(hits) == 0 {
		return nil, nil
	}

	urls := make([]string, len(hits))
	for i, hit := range hits {
		urls[i] = hit.URL
	}

	statuses, err := e.validator.Validate(ctx, urls)
	if err != nil {
		// Unknown liveness is treated as dead for this page so broken links
		// never reach callers.
		e.logger.Warn("link validation failed, dropping page results", logger.Error(err))
		statuses = map[string]int{}
	}

	live := make([]domain.Hit, 0, len(hits))
	segment := make(Mask, len(hits))
	for i, hit := range hits {
		status := statuses[hit.URL]
		switch {
		case status == http.StatusForbidden || status == http.StatusTooManyRequests:
			e.logger.Warn("link validation rate limited, keeping result",
				logger.String("url", hit.URL),
				logger.Int("status", status))
			fallthrough
		case status == http.StatusOK:
			segment[i] = 1
			live = append(live, hit)
		}
	}

	merged := segment
	if start > 0 && len(oldMask) > 0 {
		prefix := oldMask
		if start < len(prefix) {
			prefix = prefix[:start]
		}
		merged = append(append(Mask{}, prefix...), segment...)
	}
	if err := e.masks.Set(ctx, fingerprint, merged); err != nil {
		e.logger.Warn("failed to store dead-link mask", logger.Error(err))
	}

	return live, nil
}

// counts derives the advertised result and page counts. Deep pagination is
// capped at the engine's window, and an exhausted query reports the current
// page as the last one instead of advertising pages that do not exist.
func (e *Engine) counts(total int64, resultLen, pageSize, page int) (int64, int) {
	if resultLen == 0 {
		return 0, 0
	}

	resultCount := total
	pageCount := int(math.Ceil(float64(resultCount) / float64(pageSize)))
	if maxPages := (e.cfg.MaxResultWindow + pageSize/2) / pageSize; pageCount > maxPages {
		pageCount = maxPages
	}
	if resultLen < pageSize {
		pageCount = page
		if pageCount == 1 {
			resultCount = int64(resultLen)
		}
	}
	return resultCount, pageCount
}

func (e *Engine) filteredProviders(ctx context.Context) []string {
	providers, err := e.providers.FilteredProviders(ctx)
	if err != nil {
		e.logger.Warn("failed to load filtered providers", logger.Error(err))
		return nil
	}
	return providers
}
