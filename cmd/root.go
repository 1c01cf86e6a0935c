// Package cmd defines the cepscraper command tree.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/cep-candidate-scraper/internal/app"
	"github.com/JakeFAU/cep-candidate-scraper/internal/config"
	"github.com/JakeFAU/cep-candidate-scraper/internal/logging"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitInterrupted = 130
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// ExitError carries a specific exit code for a failure that has already
// been reported, such as a run with failed postal codes.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// newApp is the application factory. It's a variable so tests can swap the
// logger or configuration source.
// Workers pass toStdout: their output is already the job log.
var newApp = func(cfgPath string, toStdout bool) (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logCfg := cfg.Logging
	if toStdout {
		logCfg.File = ""
	}
	logger, err := newLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return app.New(cfg, logger), nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	if cfg.File != "" {
		return logging.NewFile(cfg.File, cfg.Development)
	}
	return logging.New(cfg.Development)
}

type rootOptions struct {
	cfgFile string
	app     *app.App
}

// newRootCmd creates and configures the root command.
func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cepscraper",
		Short: "Scrapes candidate profiles by postal code from the candidate portal.",
		Long: `cepscraper walks the portal's candidate listings for a list of postal codes,
splitting each code into page ranges that run as parallel worker processes,
and stores every candidate profile it can extract.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(opts.cfgFile, cmd.Name() == "worker")
			if err != nil {
				return err
			}
			opts.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			opts.close()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newPushLeadsCmd())
	cmd.AddCommand(newDistanceCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func (o *rootOptions) close() {
	if o.app == nil {
		return
	}
	o.app.Close()
	_ = o.app.Logger().Sync()
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := &rootOptions{}
	err := newRootCmd(opts).ExecuteContext(ctx)
	if err != nil {
		// PersistentPostRun is skipped when RunE fails.
		opts.close()
		fmt.Fprintln(os.Stderr, "cepscraper:", err)
	}
	return exitCode(ctx, err)
}

func exitCode(ctx context.Context, err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return ExitInterrupted
	case errors.As(err, &exitErr):
		return exitErr.Code
	default:
		return ExitFailure
	}
}
