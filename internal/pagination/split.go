// Package pagination divides page totals into contiguous worker ranges.
package pagination

import (
	"fmt"

	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

// Split partitions totalPages pages starting at initialPage into at most
// numWorkers contiguous ranges whose sizes differ by at most one. Larger
// ranges come first. Ranges that would be empty are omitted, so fewer ranges
// than workers are returned when pages are scarce.
func Split(totalPages, numWorkers, initialPage int) ([]scrape.PageRange, error) {
	if totalPages <= 0 {
		return nil, fmt.Errorf("total pages must be > 0, got %d: %w", totalPages, scrape.ErrInvalidArgument)
	}
	if numWorkers <= 0 {
		return nil, fmt.Errorf("worker count must be > 0, got %d: %w", numWorkers, scrape.ErrInvalidArgument)
	}

	base := totalPages / numWorkers
	extra := totalPages % numWorkers
	ranges := make([]scrape.PageRange, 0, min(numWorkers, totalPages))
	start := initialPage
	for i := range numWorkers {
		size := base
		if i < extra {
			size++
		}
		if size == 0 {
			break
		}
		end := start + size - 1
		ranges = append(ranges, scrape.PageRange{Start: start, End: end})
		start = end + 1
	}
	return ranges, nil
}

// PagesFor converts a candidate total into a page count, rounding up.
func PagesFor(totalCandidates, pageSize int) int {
	if totalCandidates <= 0 || pageSize <= 0 {
		return 0
	}
	return (totalCandidates + pageSize - 1) / pageSize
}

// Cap clamps every range end to maxPage and drops ranges that start past it.
func Cap(ranges []scrape.PageRange, maxPage int) []scrape.PageRange {
	out := make([]scrape.PageRange, 0, len(ranges))
	for _, r := range ranges {
		if r.Start > maxPage {
			continue
		}
		if r.End > maxPage {
			r.End = maxPage
		}
		out = append(out, r)
	}
	return out
}
