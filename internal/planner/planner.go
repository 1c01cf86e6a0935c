package planner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/cep-candidate-scraper/internal/pagination"
	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

// Kind enumerates the partitioning decisions.
type Kind string

// Supported plan kinds.
const (
	KindNoAgeFilter     Kind = "no_age_filter"
	KindSingleRun       Kind = "single_run"
	KindPerAgeRangeRuns Kind = "per_age_range_runs"
)

// Config holds the partitioning thresholds.
//   - PageSize: listing page size used to derive page totals (default 100).
//   - AgeThreshold: candidate totals below this never use age partitions (default 10000).
//   - PageCeiling: page totals above this trigger per-age-range runs (default 100).
type Config struct {
	PageSize     int
	AgeThreshold int
	PageCeiling  int
}

const (
	defaultPageSize     = 100
	defaultAgeThreshold = 10000
	defaultPageCeiling  = 100
)

// Input describes one postal code to plan.
type Input struct {
	Base            scrape.Facet
	Declared        []scrape.AgeRange
	TotalCandidates int
	CandidatesKnown bool
	SuppliedPages   int
}

// Unit is one dispatchable facet with its page total.
type Unit struct {
	Facet      scrape.Facet
	TotalPages int
	// Degraded is set when the unit's own estimate failed and the overall
	// page total was used instead.
	Degraded bool
}

// Plan is the partitioning decision for one postal code.
type Plan struct {
	Kind       Kind
	TotalPages int
	Units      []Unit
}

// estimator is satisfied by *Estimator.
type estimator interface {
	Estimate(ctx context.Context, facet scrape.Facet) (int, bool)
}

// Planner decides between a plain run, a single run and per-age-range runs.
type Planner struct {
	cfg       Config
	estimator estimator
	logger    *zap.Logger
}

// New builds a Planner. Zero config values fall back to defaults.
func New(cfg Config, est estimator, logger *zap.Logger) *Planner {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.AgeThreshold <= 0 {
		cfg.AgeThreshold = defaultAgeThreshold
	}
	if cfg.PageCeiling <= 0 {
		cfg.PageCeiling = defaultPageCeiling
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{cfg: cfg, estimator: est, logger: logger}
}

// Plan returns the partitioning decision for in. It fails with
// scrape.ErrDiscovery when the candidate total is unknown and no page total
// was supplied.
func (p *Planner) Plan(ctx context.Context, in Input) (Plan, error) {
	if !in.CandidatesKnown {
		if in.SuppliedPages > 0 {
			return p.single(in.Base, in.SuppliedPages), nil
		}
		return Plan{}, fmt.Errorf("postal code %s: %w", in.Base.PostalCode, scrape.ErrDiscovery)
	}

	pages := in.SuppliedPages
	if pages <= 0 {
		pages = pagination.PagesFor(in.TotalCandidates, p.cfg.PageSize)
	}

	if in.TotalCandidates < p.cfg.AgeThreshold {
		return Plan{
			Kind:       KindNoAgeFilter,
			TotalPages: pages,
			Units:      []Unit{{Facet: in.Base.WithoutAge(), TotalPages: pages}},
		}, nil
	}

	if pages <= p.cfg.PageCeiling || len(in.Declared) == 0 {
		return p.single(in.Base, pages), nil
	}

	units := make([]Unit, 0, len(in.Declared))
	for _, ageRange := range in.Declared {
		if err := ctx.Err(); err != nil {
			return Plan{}, fmt.Errorf("plan age ranges: %w", err)
		}
		units = append(units, p.ageUnit(ctx, in.Base.WithAge(ageRange), pages))
	}
	return Plan{Kind: KindPerAgeRangeRuns, TotalPages: pages, Units: units}, nil
}

func (p *Planner) single(base scrape.Facet, pages int) Plan {
	return Plan{
		Kind:       KindSingleRun,
		TotalPages: pages,
		Units:      []Unit{{Facet: base, TotalPages: pages}},
	}
}

func (p *Planner) ageUnit(ctx context.Context, facet scrape.Facet, overallPages int) Unit {
	total, ok := p.estimator.Estimate(ctx, facet)
	if !ok {
		p.logger.Warn("age range estimate unavailable, using overall page total",
			zap.String("postal_code", facet.PostalCode),
			zap.String("age_range", facet.AgeLabel()),
			zap.Int("total_pages", overallPages),
		)
		return Unit{Facet: facet, TotalPages: overallPages, Degraded: true}
	}
	return Unit{Facet: facet, TotalPages: pagination.PagesFor(total, p.cfg.PageSize)}
}
