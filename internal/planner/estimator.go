// Package planner estimates candidate totals for a facet and decides how a
// postal code is partitioned into dispatch units.
package planner

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

// discoveryPage is the listing page requested when estimating a total.
const discoveryPage = 0

// Estimator reads the total match count advertised by the first listing page.
type Estimator struct {
	pages  scrape.PageFetcher
	logger *zap.Logger
}

// NewEstimator builds an Estimator over the supplied page fetcher.
func NewEstimator(pages scrape.PageFetcher, logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{pages: pages, logger: logger}
}

// Estimate returns the candidate total for the facet. The boolean is false
// when the listing could not be fetched or carried no parseable total.
func (e *Estimator) Estimate(ctx context.Context, facet scrape.Facet) (int, bool) {
	listing, err := e.pages.FetchPage(ctx, discoveryPage, facet)
	if err != nil {
		e.logger.Warn("candidate estimate fetch failed",
			zap.String("postal_code", facet.PostalCode),
			zap.String("age_range", facet.AgeLabel()),
			zap.Error(err),
		)
		return 0, false
	}
	total, ok := e.pages.ExtractTotalCount(listing.Raw)
	if !ok {
		e.logger.Warn("candidate total not found in listing",
			zap.String("postal_code", facet.PostalCode),
			zap.String("age_range", facet.AgeLabel()),
		)
		return 0, false
	}
	e.logger.Info("candidate total estimated",
		zap.String("postal_code", facet.PostalCode),
		zap.String("age_range", facet.AgeLabel()),
		zap.Int("total", total),
	)
	return total, true
}
