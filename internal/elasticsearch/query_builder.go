package elasticsearch

import (
	"strings"

	"github.com/WordPress/openverse-api/internal/domain"
)

const (
	// exactMatchBoost ranks exact title matches above everything else
	// without excluding partial matches.
	exactMatchBoost = 10000

	// popularityBoost weights the standardized popularity rank feature.
	popularityBoost = 10000

	relatedMinTermFreq   = 1
	relatedMaxQueryTerms = 50
)

// fullTextFields are the fields a free-text query matches against.
var fullTextFields = []string{"tags.name", "title", "description"}

// QueryBuilder builds engine query bodies from search requests
type QueryBuilder struct{}

// NewQueryBuilder creates a new query builder
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{}
}

// Build constructs the ranked query body, without pagination. The caller
// slices the result window separately so the same body can be fingerprinted
// independent of page position.
func (qb *QueryBuilder) Build(req *domain.SearchRequest, filteredProviders []string) map[string]any {
	var must, should, mustNot, filter []any

	if !req.Mature {
		mustNot = append(mustNot, map[string]any{
			"term": map[string]any{"mature": true},
		})
	}
	if len(filteredProviders) > 0 {
		mustNot = append(mustNot, map[string]any{
			"terms": map[string]any{"provider": filteredProviders},
		})
	}
	if req.ExcludedSource != "" {
		mustNot = append(mustNot, map[string]any{
			"terms": map[string]any{"source": splitParam(req.ExcludedSource)},
		})
	}

	filter = appendTermsFilter(filter, "extension", req.Extension)
	filter = appendTermsFilter(filter, "category", req.Categories)
	filter = appendTermsFilter(filter, "aspect_ratio", req.AspectRatio)
	filter = appendTermsFilter(filter, "size", req.Size)
	filter = appendTermsFilter(filter, "length", req.Length)
	filter = appendTermsFilter(filter, "genres", req.Genres)
	filter = appendTermsFilter(filter, "source", req.Source)
	filter = appendTermsFilter(filter, "license.keyword", strings.ToLower(req.License))
	if req.LicenseType != "" {
		if licenses := licensesForType(req.LicenseType); len(licenses) > 0 {
			filter = append(filter, map[string]any{
				"terms": map[string]any{"license.keyword": licenses},
			})
		}
	}

	if req.Query != "" {
		escaped := quoteEscape(req.Query)
		fullText := map[string]any{
			"query":            escaped,
			"fields":           fullTextFields,
			"default_operator": "AND",
		}
		if strings.Contains(escaped, `"`) {
			// Quoted phrases search the unanalyzed companion fields so the
			// phrase matches verbatim.
			fullText["quote_field_suffix"] = ".exact"
		}
		must = append(must, map[string]any{"simple_query_string": fullText})

		if exact := strings.ReplaceAll(req.Query, `"`, ""); exact != "" {
			should = append(should, map[string]any{
				"simple_query_string": map[string]any{
					"query":  `"` + exact + `"`,
					"fields": []string{"title"},
					"boost":  exactMatchBoost,
				},
			})
		}
	} else {
		must = appendFieldQuery(must, "creator", req.Creator)
		must = appendFieldQuery(must, "title", req.Title)
		must = appendFieldQuery(must, "tags.name", req.Tags)
	}

	should = append(should, map[string]any{
		"rank_feature": map[string]any{
			"field": "standardized_popularity",
			"boost": popularityBoost,
		},
	})

	boolQuery := map[string]any{}
	if len(must) > 0 {
		boolQuery["must"] = must
	}
	if len(should) > 0 {
		boolQuery["should"] = should
	}
	if len(mustNot) > 0 {
		boolQuery["must_not"] = mustNot
	}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}

	return map[string]any{
		"query":     map[string]any{"bool": boolQuery},
		"highlight": qb.buildHighlight(),
	}
}

// BuildMoreLikeThis constructs a similarity query seeded by an engine
// document id, with the same mature and provider exclusions as Build.
func (qb *QueryBuilder) BuildMoreLikeThis(docID, index string, filteredProviders []string) map[string]any {
	mustNot := []any{
		map[string]any{"term": map[string]any{"mature": true}},
	}
	if len(filteredProviders) > 0 {
		mustNot = append(mustNot, map[string]any{
			"terms": map[string]any{"provider": filteredProviders},
		})
	}

	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					map[string]any{
						"more_like_this": map[string]any{
							"fields": []string{"tags.name", "title", "creator"},
							"like": []any{
								map[string]any{"_index": index, "_id": docID},
							},
							"min_term_freq":   relatedMinTermFreq,
							"max_query_terms": relatedMaxQueryTerms,
						},
					},
				},
				"must_not": mustNot,
			},
		},
	}
}

// BuildSourcesAgg constructs the per-source document count aggregation used
// by the source statistics endpoint.
func (qb *QueryBuilder) BuildSourcesAgg(size int) map[string]any {
	return map[string]any{
		"size": 0,
		"aggs": map[string]any{
			"sources": map[string]any{
				"terms": map[string]any{
					"field": "source",
					"size":  size,
				},
			},
		},
	}
}

func (qb *QueryBuilder) buildHighlight() map[string]any {
	fields := map[string]any{}
	for _, field := range fullTextFields {
		fields[field] = map[string]any{}
	}
	return map[string]any{
		"fields": fields,
		"order":  "score",
	}
}

// quoteEscape neutralizes unbalanced double quotes. An odd count would break
// the engine's phrase parser, so every quote becomes a literal character.
func quoteEscape(query string) string {
	if strings.Count(query, `"`)%2 != 0 {
		return strings.ReplaceAll(query, `"`, `\"`)
	}
	return query
}

func appendTermsFilter(filter []any, field, value string) []any {
	if value == "" {
		return filter
	}
	return append(filter, map[string]any{
		"terms": map[string]any{field: splitParam(value)},
	})
}

func appendFieldQuery(must []any, field, value string) []any {
	if value == "" {
		return must
	}
	return append(must, map[string]any{
		"simple_query_string": map[string]any{
			"query":  quoteEscape(value),
			"fields": []string{field},
		},
	})
}

func splitParam(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// licensesForType expands a license group into its member licenses.
func licensesForType(licenseType string) []string {
	switch licenseType {
	case "all":
		return []string{"by", "by-nc", "by-nc-nd", "by-nc-sa", "by-nd", "by-sa", "cc0", "pdm"}
	case "all-cc":
		return []string{"by", "by-nc", "by-nc-nd", "by-nc-sa", "by-nd", "by-sa"}
	case "commercial":
		return []string{"by", "by-nd", "by-sa", "cc0", "pdm"}
	case "modification":
		return []string{"by", "by-nc", "by-nc-sa", "by-sa", "cc0", "pdm"}
	default:
		return nil
	}
}
