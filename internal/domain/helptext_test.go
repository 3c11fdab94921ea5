package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMakeCommaSeparatedHelpText(t *testing.T) {
	tests := []struct {
		name     string
		values   []string
		expected string
	}{
		{
			name:     "empty",
			values:   nil,
			expected: "A comma separated list of sources; available sources include: .",
		},
		{
			name:     "single value",
			values:   []string{"flickr"},
			expected: "A comma separated list of sources; available sources include: `flickr`.",
		},
		{
			name:     "two values",
			values:   []string{"flickr", "met"},
			expected: "A comma separated list of sources; available sources include: `flickr`, and `met`.",
		},
		{
			name:     "three values sorted",
			values:   []string{"met", "flickr", "jamendo"},
			expected: "A comma separated list of sources; available sources include: `flickr`, `jamendo`, and `met`.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MakeCommaSeparatedHelpText(tt.values, "sources"))
		})
	}
}

func TestSearchRequestValidate(t *testing.T) {
	t.Run("defaults applied", func(t *testing.T) {
		req := &SearchRequest{MediaType: MediaImage, Query: "cats"}
		err := req.Validate(20, 500)
		assert.NoError(t, err)
		assert.Equal(t, 1, req.Page)
		assert.Equal(t, 20, req.PageSize)
	})

	t.Run("page size over maximum", func(t *testing.T) {
		req := &SearchRequest{MediaType: MediaImage, PageSize: 501}
		err := req.Validate(20, 500)
		var fieldErr *FieldError
		assert.ErrorAs(t, err, &fieldErr)
		assert.Equal(t, "page_size", fieldErr.Field)
	})

	t.Run("source and excluded_source conflict", func(t *testing.T) {
		req := &SearchRequest{MediaType: MediaImage, Source: "flickr", ExcludedSource: "met"}
		err := req.Validate(20, 500)
		var fieldErr *FieldError
		assert.ErrorAs(t, err, &fieldErr)
		assert.Equal(t, "excluded_source", fieldErr.Field)
	})

	t.Run("invalid category", func(t *testing.T) {
		req := &SearchRequest{MediaType: MediaImage, Categories: "photograph,paintings"}
		err := req.Validate(20, 500)
		var fieldErr *FieldError
		assert.ErrorAs(t, err, &fieldErr)
		assert.Equal(t, "categories", fieldErr.Field)
	})

	t.Run("audio length choices", func(t *testing.T) {
		req := &SearchRequest{MediaType: MediaAudio, Length: "short,long"}
		assert.NoError(t, req.Validate(20, 500))
	})
}
