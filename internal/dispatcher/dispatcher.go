// Package dispatcher fans a facet's page range out to parallel worker
// processes and joins them.
package dispatcher

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/cep-candidate-scraper/internal/metrics"
	"github.com/JakeFAU/cep-candidate-scraper/internal/pagination"
	"github.com/JakeFAU/cep-candidate-scraper/internal/rundir"
	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

// Launcher starts one worker for a job.
type Launcher interface {
	Spawn(ctx context.Context, job scrape.WorkerJob) (Handle, error)
}

// Handle is a running worker. Wait blocks until it exits and returns its exit
// code; the error is reserved for failures to observe the exit.
type Handle interface {
	Wait() (int, error)
}

// Request describes one dispatch unit.
type Request struct {
	Facet       scrape.Facet
	TotalPages  int
	InitialPage int
	// MaxPage caps every range end. Zero means InitialPage+TotalPages-1.
	MaxPage     int
	Workers     int
	LogDir      string
	RunTag      string
	MaxDistance int
}

// JobOutcome is the joined result of one worker.
type JobOutcome struct {
	Job      scrape.WorkerJob
	ExitCode int
	Err      error
	Duration time.Duration
}

// OK reports whether the worker exited cleanly.
func (o JobOutcome) OK() bool {
	return o.Err == nil && o.ExitCode == 0
}

// Result collects every worker outcome of a dispatch, in job order.
type Result struct {
	Jobs []JobOutcome
	// Err is the first worker error to be joined, nil when all exited cleanly.
	Err error
}

// OK reports whether every worker exited cleanly.
func (r Result) OK() bool {
	for _, job := range r.Jobs {
		if !job.OK() {
			return false
		}
	}
	return true
}

// Failed returns the outcomes of workers that did not exit cleanly.
func (r Result) Failed() []JobOutcome {
	var out []JobOutcome
	for _, job := range r.Jobs {
		if !job.OK() {
			out = append(out, job)
		}
	}
	return out
}

// Dispatcher splits page ranges and runs one worker per range.
type Dispatcher struct {
	launcher Launcher
	logger   *zap.Logger
}

// New creates a Dispatcher.
func New(launcher Launcher, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{launcher: launcher, logger: logger}
}

// Jobs derives the worker jobs for a request without launching them.
func Jobs(req Request) ([]scrape.WorkerJob, error) {
	ranges, err := pagination.Split(req.TotalPages, req.Workers, req.InitialPage)
	if err != nil {
		return nil, err
	}
	maxPage := req.MaxPage
	if maxPage <= 0 {
		maxPage = req.InitialPage + req.TotalPages - 1
	}
	ranges = pagination.Cap(ranges, maxPage)
	jobs := make([]scrape.WorkerJob, 0, len(ranges))
	for i, rng := range ranges {
		index := i + 1
		jobs = append(jobs, scrape.WorkerJob{
			Index:       index,
			Range:       rng,
			Facet:       req.Facet,
			RunTag:      req.RunTag,
			MaxDistance: req.MaxDistance,
			LogPath:     filepath.Join(req.LogDir, rundir.JobLogName(index, rng)),
		})
	}
	return jobs, nil
}

// Dispatch launches every worker concurrently and waits for all of them.
// There is no automatic retry: failed ranges are reported in the Result.
// A configuration error is returned before anything is launched. When ctx
// is canceled, workers are signaled, still joined, and ctx.Err is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	jobs, err := Jobs(req)
	if err != nil {
		return Result{}, fmt.Errorf("plan dispatch for %s: %w", req.Facet, err)
	}
	started := time.Now()
	d.logger.Info("dispatching workers",
		zap.String("postal_code", req.Facet.PostalCode),
		zap.String("age_range", req.Facet.AgeLabel()),
		zap.Int("total_pages", req.TotalPages),
		zap.Int("workers", len(jobs)),
		zap.String("log_dir", req.LogDir),
	)

	outcomes := make([]JobOutcome, len(jobs))
	// A plain Group: one failed range never cancels its siblings.
	var g errgroup.Group
	for i, job := range jobs {
		g.Go(func() error {
			outcomes[i] = d.run(ctx, job)
			return outcomes[i].Err
		})
	}
	res := Result{Jobs: outcomes, Err: g.Wait()}
	for _, failed := range res.Failed() {
		d.logger.Error("worker failed",
			zap.Int("job_index", failed.Job.Index),
			zap.String("postal_code", failed.Job.Facet.PostalCode),
			zap.String("age_range", failed.Job.Facet.AgeLabel()),
			zap.Stringer("pages", failed.Job.Range),
			zap.Int("exit_code", failed.ExitCode),
			zap.String("run_tag", failed.Job.RunTag),
			zap.Int("max_distance", failed.Job.MaxDistance),
			zap.String("log_path", failed.Job.LogPath),
			zap.Error(failed.Err),
		)
	}
	result := "success"
	if !res.OK() {
		result = "failure"
	}
	metrics.ObserveDispatch(result, time.Since(started))
	d.logger.Info("dispatch joined",
		zap.String("postal_code", req.Facet.PostalCode),
		zap.String("age_range", req.Facet.AgeLabel()),
		zap.Int("failed", len(res.Failed())),
		zap.NamedError("first_error", res.Err),
		zap.Duration("dur", time.Since(started)),
	)
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("dispatch %s interrupted: %w", req.Facet, err)
	}
	return res, nil
}

func (d *Dispatcher) run(ctx context.Context, job scrape.WorkerJob) JobOutcome {
	started := time.Now()
	outcome := JobOutcome{Job: job}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	handle, err := d.launcher.Spawn(ctx, job)
	if err != nil {
		outcome.ExitCode = -1
		outcome.Err = fmt.Errorf("spawn worker %d: %w", job.Index, err)
		outcome.Duration = time.Since(started)
		metrics.ObserveWorkerJob("failure")
		return outcome
	}
	d.logger.Debug("worker started",
		zap.Int("job_index", job.Index),
		zap.Stringer("pages", job.Range),
		zap.String("log_path", job.LogPath),
	)
	code, err := handle.Wait()
	outcome.ExitCode = code
	outcome.Duration = time.Since(started)
	switch {
	case err != nil:
		outcome.Err = fmt.Errorf("wait worker %d: %w", job.Index, err)
	case code != 0:
		outcome.Err = &scrape.WorkerExitError{Job: job, ExitCode: code}
	}
	if outcome.OK() {
		metrics.ObserveWorkerJob("success")
	} else {
		metrics.ObserveWorkerJob("failure")
	}
	return outcome
}
