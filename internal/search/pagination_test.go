package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaginateWithMask(t *testing.T) {
	t.Run("no mask overfetches from zero", func(t *testing.T) {
		start, end := paginateWithMask(nil, 20, 1)
		assert.Equal(t, 0, start)
		assert.Equal(t, 40, end)
	})

	t.Run("no mask later page", func(t *testing.T) {
		start, end := paginateWithMask(nil, 20, 3)
		assert.Equal(t, 0, start)
		assert.Equal(t, 120, end)
	})

	t.Run("page beyond known mask overfetches from mask end", func(t *testing.T) {
		// 10 positions validated, 8 live. Page 2 at size 20 needs 20 live
		// results before it, more than the mask has seen.
		mask := Mask{1, 1, 0, 1, 1, 1, 0, 1, 1, 1}
		start, end := paginateWithMask(mask, 20, 2)
		assert.Equal(t, 10, start)
		assert.Equal(t, 80, end)
	})

	t.Run("mask covers page exactly", func(t *testing.T) {
		// Positions 0..9 with two dead. Page 1 at size 4 needs the first
		// 4 live results, which are found by position 5.
		mask := Mask{1, 0, 1, 1, 0, 1, 1, 1, 1, 1}
		start, end := paginateWithMask(mask, 4, 1)
		assert.Equal(t, 0, start)
		assert.Equal(t, 6, end)
	})

	t.Run("second page starts where the fifth live result sits", func(t *testing.T) {
		// Cumulative sums: 1,1,2,3,3,4,5,6,7,8. The 5th live result is at
		// position 6, so page 2 (4 live results per page) starts there, and
		// the 8th live result at position 9 bounds its end.
		mask := Mask{1, 0, 1, 1, 0, 1, 1, 1, 1, 1}
		start, end := paginateWithMask(mask, 4, 2)
		assert.Equal(t, 6, start)
		assert.Equal(t, 10, end)
	})

	t.Run("boundary at exact mask sum falls back past the last live result", func(t *testing.T) {
		// The mask has seen exactly one full page of live results, so the
		// cumulative sums never reach 5 and the next page starts right
		// after the validated region.
		mask := Mask{1, 1, 1, 1}
		start, end := paginateWithMask(mask, 4, 2)
		assert.Equal(t, 4, start)
		assert.Equal(t, 16, end)
	})
}

func TestMaskSum(t *testing.T) {
	assert.Equal(t, 0, Mask(nil).Sum())
	assert.Equal(t, 3, Mask{1, 0, 1, 0, 1}.Sum())
}
