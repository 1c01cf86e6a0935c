// Package coordinator drives a whole run: it walks the postal code list
// strictly in order, plans each code, dispatches its workers, and records
// per-code outcomes in a Report.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/cep-candidate-scraper/internal/cepsource"
	"github.com/JakeFAU/cep-candidate-scraper/internal/dispatcher"
	"github.com/JakeFAU/cep-candidate-scraper/internal/metrics"
	"github.com/JakeFAU/cep-candidate-scraper/internal/planner"
	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

// Estimator returns a facet's candidate total.
type Estimator interface {
	Estimate(ctx context.Context, facet scrape.Facet) (int, bool)
}

// Planner decides how a postal code is partitioned.
type Planner interface {
	Plan(ctx context.Context, in planner.Input) (planner.Plan, error)
}

// Dispatcher runs the workers of one unit.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatcher.Request) (dispatcher.Result, error)
}

// Layout hands out per-facet log directories.
type Layout interface {
	UnitDir(facet scrape.Facet) (string, error)
}

// Archiver copies a unit's logs to durable storage.
type Archiver interface {
	ArchiveDir(ctx context.Context, dir string) error
}

// Publisher announces postal code outcomes.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Config holds the run parameters.
type Config struct {
	RunTag         string
	InitialPage    int
	TotalPages     int
	WorkersPerUnit int
	MaxDistance    int
	AgeRanges      []scrape.AgeRange
	// BaseAge narrows a single-run dispatch. Estimates never apply it.
	BaseAge scrape.AgeRange
	Exclude cepsource.ExcludeSet
}

// Deps are the coordinator's collaborators. Archiver and Publisher are
// optional.
type Deps struct {
	Estimator  Estimator
	Planner    Planner
	Dispatcher Dispatcher
	Layout     Layout
	Archiver   Archiver
	Publisher  Publisher
	Topic      string
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Coordinator runs postal codes sequentially.
type Coordinator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	report *Report
}

// New builds a Coordinator with an empty report.
func New(cfg Config, deps Deps) *Coordinator {
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(zap.String("run_tag", cfg.RunTag)),
		report: NewReport(cfg.RunTag, deps.Clock()),
	}
}

// Report exposes the live report, e.g. to a status endpoint.
func (c *Coordinator) Report() *Report {
	return c.report
}

// Run processes every postal code of src. Failures of one code never stop
// the run. Interruption stops it immediately and is returned as the error;
// codes not yet reached are left out of the report.
func (c *Coordinator) Run(ctx context.Context, src cepsource.Source) (*Report, error) {
	for {
		cep, ok, err := src.Next(ctx)
		if err != nil {
			return c.report, fmt.Errorf("read postal codes: %w", err)
		}
		if !ok {
			break
		}
		if c.cfg.Exclude.Contains(cep) {
			c.logger.Info("postal code excluded", zap.String("postal_code", cep))
			now := c.deps.Clock()
			c.record(ctx, Outcome{
				RunTag: c.cfg.RunTag, PostalCode: cep, Status: StatusSkipped,
				Reason: "excluded", StartedAt: now, FinishedAt: now,
			})
			continue
		}
		outcome, err := c.processPostalCode(ctx, cep)
		if err != nil {
			c.logger.Warn("run interrupted", zap.String("postal_code", cep), zap.Error(err))
			return c.report, err
		}
		c.record(ctx, outcome)
	}
	c.report.finish(c.deps.Clock())
	c.logger.Info("run finished",
		zap.Strings("succeeded", c.report.Succeeded()),
		zap.Strings("failed", c.report.Failed()),
		zap.Strings("skipped", c.report.Skipped()),
	)
	return c.report, nil
}

func (c *Coordinator) record(ctx context.Context, outcome Outcome) {
	c.report.Add(outcome)
	metrics.ObservePostalCode(string(outcome.Status))
	logger := c.logger.With(zap.String("postal_code", outcome.PostalCode), zap.String("status", string(outcome.Status)))
	if outcome.Status == StatusFailed {
		logger.Error("postal code failed", zap.String("reason", outcome.Reason))
	} else {
		logger.Info("postal code finished", zap.Duration("dur", outcome.Duration()))
	}
	if c.deps.Publisher == nil || c.deps.Topic == "" {
		return
	}
	if _, err := c.deps.Publisher.Publish(ctx, c.deps.Topic, outcome); err != nil {
		logger.Warn("publish outcome failed", zap.Error(err))
	}
}

// processPostalCode returns an error only when ctx is done.
func (c *Coordinator) processPostalCode(ctx context.Context, cep string) (Outcome, error) {
	outcome := Outcome{RunTag: c.cfg.RunTag, PostalCode: cep, StartedAt: c.deps.Clock()}
	logger := c.logger.With(zap.String("postal_code", cep))
	discovery := scrape.Facet{PostalCode: cep}

	// The planner's page totals derive from the unfiltered count.
	total, known := c.deps.Estimator.Estimate(ctx, discovery)
	if err := ctx.Err(); err != nil {
		return outcome, fmt.Errorf("estimate %s: %w", cep, err)
	}
	if known {
		outcome.TotalCandidates = &total
	}
	plan, err := c.deps.Planner.Plan(ctx, planner.Input{
		Base:            discovery.WithAge(c.cfg.BaseAge),
		Declared:        c.cfg.AgeRanges,
		TotalCandidates: total,
		CandidatesKnown: known,
		SuppliedPages:   c.cfg.TotalPages,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome, fmt.Errorf("plan %s: %w", cep, ctxErr)
		}
		outcome.Status = StatusFailed
		outcome.Reason = err.Error()
		if errors.Is(err, scrape.ErrDiscovery) {
			outcome.Reason = "candidate total unknown and no page total supplied"
		}
		outcome.FinishedAt = c.deps.Clock()
		return outcome, nil
	}
	outcome.Plan = plan.Kind
	logger.Info("postal code planned",
		zap.String("plan", string(plan.Kind)),
		zap.Int("total_pages", plan.TotalPages),
		zap.Int("units", len(plan.Units)),
	)

	outcome.Status = StatusSucceeded
	for _, unit := range plan.Units {
		uo, err := c.runUnit(ctx, unit)
		outcome.Units = append(outcome.Units, uo)
		if err != nil {
			return outcome, err
		}
		if !uo.OK {
			outcome.Status = StatusFailed
			if outcome.Reason == "" {
				outcome.Reason = failureReason(unit.Facet, uo)
			}
		}
	}
	outcome.FinishedAt = c.deps.Clock()
	return outcome, nil
}

// runUnit returns an error only when ctx is done.
func (c *Coordinator) runUnit(ctx context.Context, unit planner.Unit) (UnitOutcome, error) {
	uo := UnitOutcome{
		AgeRange:   unit.Facet.AgeLabel(),
		TotalPages: unit.TotalPages,
		Degraded:   unit.Degraded,
	}
	logger := c.logger.With(zap.String("postal_code", unit.Facet.PostalCode), zap.String("age_range", uo.AgeRange))
	if unit.TotalPages <= 0 {
		logger.Info("no candidates to walk")
		uo.OK = true
		uo.Skipped = true
		uo.Reason = "no candidates"
		return uo, nil
	}
	dir, err := c.deps.Layout.UnitDir(unit.Facet)
	if err != nil {
		uo.Reason = err.Error()
		return uo, nil
	}
	uo.LogDir = dir

	res, err := c.deps.Dispatcher.Dispatch(ctx, dispatcher.Request{
		Facet:       unit.Facet,
		TotalPages:  unit.TotalPages,
		InitialPage: c.cfg.InitialPage,
		MaxPage:     c.cfg.InitialPage + unit.TotalPages - 1,
		Workers:     c.cfg.WorkersPerUnit,
		LogDir:      dir,
		RunTag:      c.cfg.RunTag,
		MaxDistance: c.cfg.MaxDistance,
	})
	uo.Workers = len(res.Jobs)
	for _, failed := range res.Failed() {
		fj := FailedJob{
			Index:    failed.Job.Index,
			Pages:    failed.Job.Range,
			ExitCode: failed.ExitCode,
			LogPath:  failed.Job.LogPath,
		}
		if failed.Err != nil {
			fj.Error = failed.Err.Error()
		}
		uo.FailedJobs = append(uo.FailedJobs, fj)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return uo, fmt.Errorf("dispatch %s: %w", unit.Facet, ctxErr)
		}
		uo.Reason = err.Error()
		return uo, nil
	}
	uo.OK = res.OK()
	c.archive(ctx, dir, logger)
	return uo, nil
}

func (c *Coordinator) archive(ctx context.Context, dir string, logger *zap.Logger) {
	if c.deps.Archiver == nil {
		return
	}
	if err := c.deps.Archiver.ArchiveDir(ctx, dir); err != nil {
		logger.Warn("archive worker logs failed", zap.String("log_dir", dir), zap.Error(err))
	}
}

func failureReason(facet scrape.Facet, uo UnitOutcome) string {
	scope := facet.PostalCode
	if uo.AgeRange != "" {
		scope += " age " + uo.AgeRange
	}
	if len(uo.FailedJobs) > 0 {
		return fmt.Sprintf("%s: %d of %d workers failed", scope, len(uo.FailedJobs), uo.Workers)
	}
	if uo.Reason != "" {
		return fmt.Sprintf("%s: %s", scope, uo.Reason)
	}
	return scope + ": dispatch failed"
}
