package search

import (
	"errors"
	"math"
)

// ErrDeepPagination is returned when a requested slice would exceed the
// engine's maximum result window. It is raised before any engine call.
var ErrDeepPagination = errors.New("deep pagination is not allowed")

// deadLinkRatio is the assumed worst-case fraction of dead links in an
// unvalidated result set, used to size the overfetch.
const deadLinkRatio = 0.5

// overfetchEnd sizes a slice end so that after dead links are removed at the
// assumed ratio, enough live results remain to fill the requested page.
func overfetchEnd(pageSize, page int) int {
	return int(math.Ceil(float64(pageSize*page) / (1 - deadLinkRatio)))
}

// paginateWithMask translates a (page, pageSize) request into a raw engine
// window [start, end) using a previously stored dead-link mask.
//
// Without a mask the whole window is an overfetch from position zero. When
// the mask does not yet cover the requested page, the unknown tail is
// overfetched starting where the mask ends. Otherwise the mask's prefix sums
// locate the exact raw positions bounding the requested live results.
func paginateWithMask(mask Mask, pageSize, page int) (start, end int) {
	known := mask.Sum()

	switch {
	case len(mask) == 0:
		return 0, overfetchEnd(pageSize, page)
	case pageSize*(page-1) > known:
		return len(mask), overfetchEnd(pageSize, page)
	}

	accumulated := make([]int, len(mask))
	total := 0
	for i, v := range mask {
		total += int(v)
		accumulated[i] = total
	}

	start = 0
	if page > 1 {
		if idx := indexOf(accumulated, pageSize*(page-1)+1); idx >= 0 {
			start = idx
		} else {
			// The boundary position was dead, so the page starts at the
			// position after the last live result of the previous page.
			start = indexOf(accumulated, pageSize*(page-1)) + 1
		}
	}

	if pageSize*page > known {
		end = overfetchEnd(pageSize, page)
	} else {
		end = indexOf(accumulated, pageSize*page) + 1
	}
	return start, end
}

// indexOf returns the first index holding value, or -1.
func indexOf(values []int, value int) int {
	for i, v := range values {
		if v == value {
			return i
		}
	}
	return -1
}
