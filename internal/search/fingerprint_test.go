package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	base := map[string]any{
		"query": map[string]any{"bool": map[string]any{"must": []any{}}},
	}

	t.Run("stable across pagination", func(t *testing.T) {
		page1 := map[string]any{"query": base["query"], "from": 0, "size": 20}
		page2 := map[string]any{"query": base["query"], "from": 40, "size": 30}

		fp1, err := Fingerprint(page1)
		assert.NoError(t, err)
		fp2, err := Fingerprint(page2)
		assert.NoError(t, err)
		assert.Equal(t, fp1, fp2)
	})

	t.Run("differs for different queries", func(t *testing.T) {
		fp1, err := Fingerprint(map[string]any{"query": "cats"})
		assert.NoError(t, err)
		fp2, err := Fingerprint(map[string]any{"query": "dogs"})
		assert.NoError(t, err)
		assert.NotEqual(t, fp1, fp2)
	})

	t.Run("hex encoded", func(t *testing.T) {
		fp, err := Fingerprint(base)
		assert.NoError(t, err)
		assert.Len(t, fp, 40)
	})
}
