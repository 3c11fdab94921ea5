package elasticsearch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WordPress/openverse-api/internal/domain"
)

func TestQuoteEscape(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "no quotes", input: "cats", expected: "cats"},
		{name: "balanced quotes untouched", input: `"big cats"`, expected: `"big cats"`},
		{name: "odd quotes escaped", input: `big "cats`, expected: `big \"cats`},
		{name: "three quotes escaped", input: `"big" cats"`, expected: `\"big\" cats\"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			escaped := quoteEscape(tt.input)
			assert.Equal(t, tt.expected, escaped)
			// Escaping must leave an even number of unescaped quotes so the
			// engine's phrase parser never fails.
			unescaped := strings.Count(escaped, `"`) - strings.Count(escaped, `\"`)
			assert.Zero(t, unescaped%2)
		})
	}
}

func TestQuoteEscapeIdempotent(t *testing.T) {
	once := quoteEscape(`odd "quote`)
	assert.Equal(t, once, quoteEscape(once))
}

func boolClause(t *testing.T, body map[string]any, clause string) []any {
	t.Helper()
	query, ok := body["query"].(map[string]any)
	require.True(t, ok)
	boolQuery, ok := query["bool"].(map[string]any)
	require.True(t, ok)
	values, _ := boolQuery[clause].([]any)
	return values
}

func TestQueryBuilderBuild(t *testing.T) {
	qb := NewQueryBuilder()

	t.Run("full text query uses simple_query_string with AND", func(t *testing.T) {
		body := qb.Build(&domain.SearchRequest{Query: "mountain lion"}, nil)
		must := boolClause(t, body, "must")
		require.Len(t, must, 1)

		sqs := must[0].(map[string]any)["simple_query_string"].(map[string]any)
		assert.Equal(t, "mountain lion", sqs["query"])
		assert.Equal(t, "AND", sqs["default_operator"])
		assert.Equal(t, fullTextFields, sqs["fields"])
		assert.NotContains(t, sqs, "quote_field_suffix")
	})

	t.Run("quoted query adds exact field suffix", func(t *testing.T) {
		body := qb.Build(&domain.SearchRequest{Query: `"mountain lion"`}, nil)
		must := boolClause(t, body, "must")
		sqs := must[0].(map[string]any)["simple_query_string"].(map[string]any)
		assert.Equal(t, ".exact", sqs["quote_field_suffix"])
	})

	t.Run("exact title boost is a should clause", func(t *testing.T) {
		body := qb.Build(&domain.SearchRequest{Query: `"big cats"`}, nil)
		should := boolClause(t, body, "should")
		require.Len(t, should, 2)

		boost := should[0].(map[string]any)["simple_query_string"].(map[string]any)
		assert.Equal(t, `"big cats"`, boost["query"])
		assert.Equal(t, []string{"title"}, boost["fields"])
		assert.Equal(t, exactMatchBoost, boost["boost"])

		rank := should[1].(map[string]any)["rank_feature"].(map[string]any)
		assert.Equal(t, "standardized_popularity", rank["field"])
	})

	t.Run("mature excluded by default", func(t *testing.T) {
		body := qb.Build(&domain.SearchRequest{Query: "cats"}, nil)
		mustNot := boolClause(t, body, "must_not")
		require.Len(t, mustNot, 1)
		term := mustNot[0].(map[string]any)["term"].(map[string]any)
		assert.Equal(t, true, term["mature"])
	})

	t.Run("mature flag removes exclusion", func(t *testing.T) {
		body := qb.Build(&domain.SearchRequest{Query: "cats", Mature: true}, nil)
		assert.Empty(t, boolClause(t, body, "must_not"))
	})

	t.Run("filtered providers excluded", func(t *testing.T) {
		body := qb.Build(&domain.SearchRequest{Query: "cats"}, []string{"lowquality"})
		mustNot := boolClause(t, body, "must_not")
		require.Len(t, mustNot, 2)
		terms := mustNot[1].(map[string]any)["terms"].(map[string]any)
		assert.Equal(t, []string{"lowquality"}, terms["provider"])
	})

	t.Run("comma separated filters become terms", func(t *testing.T) {
		body := qb.Build(&domain.SearchRequest{
			Query:     "cats",
			Extension: "jpg,png",
			License:   "BY,by-sa",
		}, nil)
		filter := boolClause(t, body, "filter")
		require.Len(t, filter, 2)

		ext := filter[0].(map[string]any)["terms"].(map[string]any)
		assert.Equal(t, []string{"jpg", "png"}, ext["extension"])

		lic := filter[1].(map[string]any)["terms"].(map[string]any)
		assert.Equal(t, []string{"by", "by-sa"}, lic["license.keyword"])
	})

	t.Run("field queries used when no free text query", func(t *testing.T) {
		body := qb.Build(&domain.SearchRequest{Creator: "ansel", Title: "moon"}, nil)
		must := boolClause(t, body, "must")
		require.Len(t, must, 2)
		creator := must[0].(map[string]any)["simple_query_string"].(map[string]any)
		assert.Equal(t, []string{"creator"}, creator["fields"])
	})

	t.Run("highlight ordered by score", func(t *testing.T) {
		body := qb.Build(&domain.SearchRequest{Query: "cats"}, nil)
		highlight := body["highlight"].(map[string]any)
		assert.Equal(t, "score", highlight["order"])
	})
}

func TestBuildMoreLikeThis(t *testing.T) {
	qb := NewQueryBuilder()
	body := qb.BuildMoreLikeThis("abc123", "image-prod", []string{"lowquality"})

	query := body["query"].(map[string]any)["bool"].(map[string]any)
	must := query["must"].([]any)
	mlt := must[0].(map[string]any)["more_like_this"].(map[string]any)
	assert.Equal(t, []string{"tags.name", "title", "creator"}, mlt["fields"])
	assert.Equal(t, relatedMinTermFreq, mlt["min_term_freq"])
	assert.Equal(t, relatedMaxQueryTerms, mlt["max_query_terms"])

	mustNot := query["must_not"].([]any)
	assert.Len(t, mustNot, 2)
}

func TestLicensesForType(t *testing.T) {
	assert.Contains(t, licensesForType("commercial"), "cc0")
	assert.NotContains(t, licensesForType("commercial"), "by-nc")
	assert.NotContains(t, licensesForType("modification"), "by-nd")
	assert.Nil(t, licensesForType("unknown"))
}
