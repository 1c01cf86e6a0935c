package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/cep-candidate-scraper/internal/api"
	"github.com/JakeFAU/cep-candidate-scraper/internal/app"
	"github.com/JakeFAU/cep-candidate-scraper/internal/cepsource"
	"github.com/JakeFAU/cep-candidate-scraper/internal/clock/system"
	"github.com/JakeFAU/cep-candidate-scraper/internal/config"
	"github.com/JakeFAU/cep-candidate-scraper/internal/coordinator"
	"github.com/JakeFAU/cep-candidate-scraper/internal/dispatcher"
	"github.com/JakeFAU/cep-candidate-scraper/internal/planner"
	"github.com/JakeFAU/cep-candidate-scraper/internal/rundir"
	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

const notifyTimeout = 15 * time.Second

type runOptions struct {
	cep         string
	cepsFile    string
	totalPages  int
	workers     int
	initialPage int
	maxDistance int
	logsDir     string
	runTag      string
	ageMin      int
	ageMax      int
	ageRanges   string
	exclude     string
	statusAddr  string
}

// newRunCmd creates the 'run' subcommand, the coordinator entry point.
func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrapes every postal code of a list",
		Long: `Processes postal codes one at a time: estimates the candidate total,
decides whether to partition by age range, splits the pages across parallel
worker processes and records a per-code outcome. Exits 1 when any postal code
failed and 130 when interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := appInstance.Reconfigure(func(c *config.Config) { opts.apply(cmd, c) }); err != nil {
				return err
			}
			return runCoordinator(cmd.Context(), appInstance, opts, root.cfgFile)
		},
	}
	opts.bind(cmd)
	return cmd
}

func (o *runOptions) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&o.cep, "cep", "", "single postal code to process instead of --ceps-file")
	f.StringVar(&o.cepsFile, "ceps-file", "", "CSV file with a cep column (run.cep_file)")
	f.IntVar(&o.totalPages, "total-pages", 0, "page total to use when the candidate total is unknown (run.total_pages)")
	f.IntVar(&o.workers, "num-exec", 0, "parallel workers per dispatch (run.workers_per_unit)")
	f.IntVar(&o.initialPage, "initial-page", 0, "first listing page (run.initial_page)")
	f.IntVar(&o.maxDistance, "max-distance", 0, "search radius in km (scrape.max_distance)")
	f.StringVar(&o.logsDir, "logs-dir", "", "root directory for run logs (run.log_root)")
	f.StringVar(&o.runTag, "run-tag", "", "tag identifying this run, stamped on every record")
	f.IntVar(&o.ageMin, "age-min", 0, "minimum candidate age (run.base_age.min)")
	f.IntVar(&o.ageMax, "age-max", 0, "maximum candidate age (run.base_age.max)")
	f.StringVar(&o.ageRanges, "min-max-age-list", "", `JSON age partitions, e.g. [{"min":18,"max":20}] (run.age_ranges)`)
	f.StringVar(&o.exclude, "exclude-ceps-list", "", "JSON array or CSV file of postal codes to skip (run.exclude)")
	f.StringVar(&o.statusAddr, "status-addr", "", "serve /healthz, /metrics and /report on this address (run.status_addr)")
}

// apply copies every explicitly set flag over the loaded configuration.
func (o *runOptions) apply(cmd *cobra.Command, c *config.Config) {
	changed := cmd.Flags().Changed
	if changed("ceps-file") {
		c.Run.CEPFile = o.cepsFile
	}
	if changed("total-pages") {
		c.Run.TotalPages = o.totalPages
	}
	if changed("num-exec") {
		c.Run.WorkersPerUnit = o.workers
	}
	if changed("initial-page") {
		c.Run.InitialPage = o.initialPage
	}
	if changed("max-distance") {
		c.Scrape.MaxDistance = o.maxDistance
	}
	if changed("logs-dir") {
		c.Run.LogRoot = o.logsDir
	}
	if changed("age-min") {
		v := o.ageMin
		c.Run.BaseAge.Min = &v
	}
	if changed("age-max") {
		v := o.ageMax
		c.Run.BaseAge.Max = &v
	}
	if changed("exclude-ceps-list") {
		c.Run.Exclude = o.exclude
	}
	if changed("status-addr") {
		c.Run.StatusAddr = o.statusAddr
	}
}

func runCoordinator(ctx context.Context, a *app.App, opts *runOptions, cfgFile string) error {
	if strings.TrimSpace(opts.runTag) == "" {
		return fmt.Errorf("--run-tag is required: %w", scrape.ErrInvalidArgument)
	}
	cfg := a.Config()
	logger := a.Logger()

	ageRanges := cfg.Run.AgeRanges
	if opts.ageRanges != "" {
		parsed, err := config.ParseAgeRanges(opts.ageRanges)
		if err != nil {
			return err
		}
		ageRanges = parsed
	}
	exclude, err := cepsource.LoadExcludeList(ctx, cfg.Run.Exclude)
	if err != nil {
		return err
	}

	if err := a.PrepareSink(ctx); err != nil {
		return err
	}

	src, closeSrc, err := openSource(ctx, opts.cep, cfg.Run.CEPFile, logger)
	if err != nil {
		return err
	}
	defer closeSrc()

	clk := system.New(nil)
	layout, err := rundir.Create(cfg.Run.LogRoot, clk.Now())
	if err != nil {
		return err
	}
	defer func() {
		if err := layout.Close(); err != nil {
			logger.Warn("release logs dir failed", zap.Error(err))
		}
	}()
	logger.Info("run started", zap.String("run_tag", opts.runTag), zap.String("run_dir", layout.RunDir()))

	client, err := a.Portal(cfg.Scrape.MaxDistance)
	if err != nil {
		return err
	}
	estimator := planner.NewEstimator(client, logger.Named("estimator"))
	plan := planner.New(planner.Config{
		PageSize:     cfg.Scrape.PageSize,
		AgeThreshold: cfg.Scrape.AgeThreshold,
		PageCeiling:  cfg.Scrape.PageCeiling,
	}, estimator, logger.Named("planner"))

	launcher := &dispatcher.ExecLauncher{WaitDelay: time.Duration(cfg.Run.WorkerGraceSeconds) * time.Second}
	if cfgFile != "" {
		launcher.ExtraArgs = []string{"--config", cfgFile}
	}

	deps := coordinator.Deps{
		Estimator:  estimator,
		Planner:    plan,
		Dispatcher: dispatcher.New(launcher, logger.Named("dispatcher")),
		Layout:     layout,
		Clock:      clk.Now,
		Logger:     logger.Named("coordinator"),
	}
	archiver, err := a.Archiver(ctx, layout.Root())
	if err != nil {
		return err
	}
	if archiver != nil {
		deps.Archiver = archiver
	}
	deps.Publisher, deps.Topic, err = a.Publisher(ctx)
	if err != nil {
		return err
	}
	notifier, err := a.Notifier()
	if err != nil {
		return err
	}

	coord := coordinator.New(coordinator.Config{
		RunTag:         opts.runTag,
		InitialPage:    cfg.Run.InitialPage,
		TotalPages:     cfg.Run.TotalPages,
		WorkersPerUnit: cfg.Run.WorkersPerUnit,
		MaxDistance:    cfg.Scrape.MaxDistance,
		AgeRanges:      ageRanges,
		BaseAge:        cfg.Run.BaseAge,
		Exclude:        exclude,
	}, deps)

	if cfg.Run.StatusAddr != "" {
		serverCtx, stopServer := context.WithCancel(ctx)
		defer stopServer()
		go func() {
			if err := api.NewServer(coord.Report(), logger.Named("api")).ListenAndServe(serverCtx, cfg.Run.StatusAddr); err != nil {
				logger.Warn("status server stopped", zap.Error(err))
			}
		}()
	}

	report, runErr := coord.Run(ctx, src)
	summary := report.Summary()
	if errors.Is(runErr, context.Canceled) {
		summary += "\n(interrupted)"
	}
	if notifier != nil {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		if err := notifier.Send(sendCtx, summary); err != nil {
			logger.Warn("send run summary failed", zap.Error(err))
		}
		cancel()
	}
	if runErr != nil {
		return runErr
	}
	if code := report.ExitCode(); code != ExitOK {
		return &ExitError{Code: code, Err: fmt.Errorf("%d postal code(s) failed: %s",
			len(report.Failed()), strings.Join(report.Failed(), ", "))}
	}
	return nil
}

// openSource returns the postal codes to process: a single code when cep is
// set, otherwise the cep column of file.
func openSource(ctx context.Context, cep, file string, logger *zap.Logger) (cepsource.Source, func(), error) {
	if strings.TrimSpace(cep) != "" {
		return cepsource.Single(cep), func() {}, nil
	}
	if strings.TrimSpace(file) == "" {
		return nil, nil, fmt.Errorf("either --cep or --ceps-file is required: %w", scrape.ErrInvalidArgument)
	}
	total, err := cepsource.Count(ctx, file)
	if err != nil {
		return nil, nil, err
	}
	src, err := cepsource.OpenCSV(file)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("postal code file loaded", zap.String("path", file), zap.Int("postal_codes", total))
	return src, func() { _ = src.Close() }, nil
}
