package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/cep-candidate-scraper/internal/app"
	"github.com/JakeFAU/cep-candidate-scraper/internal/id/uuid"
	"github.com/JakeFAU/cep-candidate-scraper/internal/metrics"
	"github.com/JakeFAU/cep-candidate-scraper/internal/progress"
	"github.com/JakeFAU/cep-candidate-scraper/internal/progress/sinks"
	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
	"github.com/JakeFAU/cep-candidate-scraper/internal/walker"
)

const hubCloseTimeout = 5 * time.Second

type workerOptions struct {
	postalCode  string
	pageStart   int
	pageEnd     int
	ageMin      int
	ageMax      int
	runTag      string
	maxDistance int
	jobIndex    int
	logPath     string
}

// newWorkerCmd creates the 'worker' subcommand, the child process the run
// command spawns for each page range.
func newWorkerCmd() *cobra.Command {
	opts := &workerOptions{}
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Walks one page range of one postal code",
		Long: `Fetches the listing pages --page-start..--page-end for a postal code,
extracts every listed candidate profile and upserts it into the configured
sink. Normally spawned by 'run', one process per page range.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			job, err := opts.job(cmd)
			if err != nil {
				return err
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), appInstance, job)
		},
	}
	opts.bind(cmd)
	return cmd
}

func (o *workerOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.postalCode, "postal-code", "", "postal code (CEP) to scrape")
	f.IntVar(&o.pageStart, "page-start", 0, "first listing page, inclusive")
	f.IntVar(&o.pageEnd, "page-end", 0, "last listing page, inclusive")
	f.IntVar(&o.ageMin, "age-min", 0, "minimum candidate age")
	f.IntVar(&o.ageMax, "age-max", 0, "maximum candidate age")
	f.StringVar(&o.runTag, "run-tag", "", "run tag stamped on every record")
	f.IntVar(&o.maxDistance, "max-distance", 0, "search radius around the postal code, in km")
	f.IntVar(&o.jobIndex, "job-index", 0, "1-based index of this job within its dispatch")
	f.StringVar(&o.logPath, "log-path", "", "job log path; metrics are written next to it")
}

// job validates the flags and builds the WorkerJob they describe.
func (o *workerOptions) job(cmd *cobra.Command) (scrape.WorkerJob, error) {
	postalCode := strings.TrimSpace(o.postalCode)
	switch {
	case postalCode == "":
		return scrape.WorkerJob{}, fmt.Errorf("--postal-code is required: %w", scrape.ErrInvalidArgument)
	case strings.TrimSpace(o.runTag) == "":
		return scrape.WorkerJob{}, fmt.Errorf("--run-tag is required: %w", scrape.ErrInvalidArgument)
	case o.pageStart < 0 || o.pageEnd < o.pageStart:
		return scrape.WorkerJob{}, fmt.Errorf("invalid page range %d-%d: %w", o.pageStart, o.pageEnd, scrape.ErrInvalidArgument)
	case o.maxDistance < 0:
		return scrape.WorkerJob{}, fmt.Errorf("--max-distance must be >= 0: %w", scrape.ErrInvalidArgument)
	}
	facet := scrape.Facet{PostalCode: postalCode}
	if cmd.Flags().Changed("age-min") {
		v := o.ageMin
		facet.AgeMin = &v
	}
	if cmd.Flags().Changed("age-max") {
		v := o.ageMax
		facet.AgeMax = &v
	}
	return scrape.WorkerJob{
		Index:       o.jobIndex,
		Range:       scrape.PageRange{Start: o.pageStart, End: o.pageEnd},
		Facet:       facet,
		RunTag:      o.runTag,
		MaxDistance: o.maxDistance,
		LogPath:     o.logPath,
	}, nil
}

func runWorker(ctx context.Context, a *app.App, job scrape.WorkerJob) error {
	cfg := a.Config()
	jobID, err := uuid.New().NewJobID()
	if err != nil {
		return err
	}
	logger := a.Logger().With(
		zap.Int("job_index", job.Index),
		zap.String("job_id", uuid.String(jobID)),
		zap.String("run_tag", job.RunTag),
	)

	sink, err := a.Sink(ctx)
	if err != nil {
		return err
	}
	client, err := a.Portal(job.MaxDistance)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("init progress metrics: %w", err)
	}
	hub := progress.NewHub(
		progress.Config{BaseContext: context.WithoutCancel(ctx), Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
	)

	w := walker.New(
		walker.Config{BatchSize: cfg.Scrape.BatchSize, RunTag: job.RunTag},
		client,
		client,
		sink,
		hub,
		jobID,
		logger.Named("walker"),
	)
	res, walkErr := w.Walk(ctx, job.Facet, job.Range)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hubCloseTimeout)
	defer cancel()
	if err := hub.Close(closeCtx); err != nil {
		logger.Warn("progress hub close failed", zap.Error(err))
	}
	if cfg.Metrics.Textfile && job.LogPath != "" {
		if err := metrics.WriteTextfile(job.LogPath+".prom", reg); err != nil {
			logger.Warn("write worker metrics failed", zap.Error(err))
		}
	}
	if walkErr != nil {
		return walkErr
	}
	logger.Info("worker finished",
		zap.String("postal_code", job.Facet.PostalCode),
		zap.String("age_range", job.Facet.AgeLabel()),
		zap.Stringer("pages", job.Range),
		zap.String("stop_reason", string(res.StopReason)),
		zap.Int("pages_processed", res.PagesProcessed),
		zap.Int("upserted", res.Upserted),
		zap.Int("failed", res.Failed),
	)
	return nil
}
