// Package app builds the long-lived services a command needs from
// configuration and owns their shutdown.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/cep-candidate-scraper/internal/archive"
	"github.com/JakeFAU/cep-candidate-scraper/internal/config"
	collyfetcher "github.com/JakeFAU/cep-candidate-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/cep-candidate-scraper/internal/geo"
	"github.com/JakeFAU/cep-candidate-scraper/internal/leadpush"
	"github.com/JakeFAU/cep-candidate-scraper/internal/notify"
	"github.com/JakeFAU/cep-candidate-scraper/internal/portal"
	memorypublisher "github.com/JakeFAU/cep-candidate-scraper/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/cep-candidate-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/cep-candidate-scraper/internal/ratelimit"
	"github.com/JakeFAU/cep-candidate-scraper/internal/retry"
	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
	gcsstorage "github.com/JakeFAU/cep-candidate-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/cep-candidate-scraper/internal/storage/local"
	memorystorage "github.com/JakeFAU/cep-candidate-scraper/internal/storage/memory"
	"github.com/JakeFAU/cep-candidate-scraper/internal/storage/postgres"
	"github.com/JakeFAU/cep-candidate-scraper/internal/storage/sqlite"
)

// Publisher announces postal code outcomes.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

type closer struct {
	name string
	fn   func() error
}

// App holds the configuration, the logger and every service built so far.
// Services are built on demand so each command only opens what it uses.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	closers []closer
}

// New creates an App. The logger is owned by the caller.
func New(cfg config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{cfg: cfg, logger: logger}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Reconfigure applies command-line overrides and revalidates. It must run
// before any service is built.
func (a *App) Reconfigure(fn func(*config.Config)) error {
	if len(a.closers) > 0 {
		return fmt.Errorf("reconfigure after services were built: %w", scrape.ErrInvalidArgument)
	}
	cfg := a.cfg
	fn(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Fetcher builds the portal transport: per-host pacing and exponential
// retries as configured under http.*.
func (a *App) Fetcher() (*collyfetcher.Fetcher, error) {
	httpCfg := a.cfg.HTTP
	base, maxDelay := httpCfg.Backoff()
	fetcher, err := collyfetcher.New(collyfetcher.Config{
		UserAgent: httpCfg.UserAgent,
		Timeout:   httpCfg.RequestTimeout(),
		ProxyURL:  httpCfg.ProxyURL,
		Retry: &retry.Exponential{
			MaxAttempts: httpCfg.MaxRetries,
			BaseDelay:   base,
			MaxDelay:    maxDelay,
		},
		Limiter: ratelimit.New(ratelimit.Config{RPS: httpCfg.RPS, Burst: httpCfg.Burst}),
		Logger:  a.logger.Named("fetcher"),
	})
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}
	return fetcher, nil
}

// Portal builds the portal adapter over a fresh fetcher.
func (a *App) Portal(maxDistance int) (*portal.Client, error) {
	fetcher, err := a.Fetcher()
	if err != nil {
		return nil, err
	}
	p := a.cfg.Portal
	return portal.New(portal.Config{
		ListURL:       p.ListURL,
		DetailURL:     p.DetailURL,
		PageSize:      a.cfg.Scrape.PageSize,
		MaxDistance:   maxDistance,
		ListHeaders:   p.Headers,
		DetailHeaders: mergeHeaders(p.Headers, p.DetailHeaders),
		ListCookies:   config.ParseCookies(p.ListCookies),
		DetailCookies: config.ParseCookies(p.DetailCookies),
	}, fetcher), nil
}

func mergeHeaders(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Sink opens the configured candidate row sink. It is closed by Close.
func (a *App) Sink(ctx context.Context) (scrape.RowSink, error) {
	sinkCfg := a.cfg.Sink
	if err := sinkCfg.Validate(); err != nil {
		return nil, err
	}
	var sink scrape.RowSink
	switch sinkCfg.Provider {
	case config.SinkPostgres:
		store, err := a.openPostgres(ctx)
		if err != nil {
			return nil, fmt.Errorf("init postgres sink: %w", err)
		}
		sink = store
	case config.SinkSQLite:
		store, err := sqlite.Open(ctx, sinkCfg.Path)
		if err != nil {
			return nil, fmt.Errorf("init sqlite sink: %w", err)
		}
		sink = store
	default:
		sink = memorystorage.NewCandidateStore()
	}
	a.logger.Info("row sink ready", zap.String("provider", sinkCfg.Provider))
	a.onClose("sink", func() error {
		sink.Close()
		return nil
	})
	return sink, nil
}

// PrepareSink creates the sink's table once, before any worker opens it.
// Workers only open it.
func (a *App) PrepareSink(ctx context.Context) error {
	sinkCfg := a.cfg.Sink
	if err := sinkCfg.Validate(); err != nil {
		return err
	}
	switch sinkCfg.Provider {
	case config.SinkPostgres:
		store, err := a.openPostgres(ctx)
		if err != nil {
			return fmt.Errorf("prepare postgres sink: %w", err)
		}
		defer store.Close()
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("prepare postgres sink: %w", err)
		}
	case config.SinkSQLite:
		store, err := sqlite.Open(ctx, sinkCfg.Path)
		if err != nil {
			return fmt.Errorf("prepare sqlite sink: %w", err)
		}
		store.Close()
	}
	a.logger.Info("row sink schema ready", zap.String("provider", sinkCfg.Provider))
	return nil
}

func (a *App) openPostgres(ctx context.Context) (*postgres.CandidateStore, error) {
	sinkCfg := a.cfg.Sink
	return postgres.NewCandidateStore(ctx, postgres.Config{
		DSN:      sinkCfg.DSN,
		Table:    sinkCfg.Table,
		MaxConns: sinkCfg.MaxConns,
	})
}

// Archiver builds the job log archiver rooted at logRoot, or nil when
// archiving is disabled.
func (a *App) Archiver(ctx context.Context, logRoot string) (*archive.Archiver, error) {
	archiveCfg := a.cfg.Archive
	var store archive.BlobStore
	switch archiveCfg.Provider {
	case config.ArchiveNone, "":
		return nil, nil
	case config.ArchiveMemory:
		store = memorystorage.NewBlobStore()
	case config.ArchiveLocal:
		local, err := localstorage.New(localstorage.Config{BaseDir: archiveCfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		store = local
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.onClose("gcs", client.Close)
		gcs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: archiveCfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		store = gcs
	default:
		return nil, fmt.Errorf("unknown archive.provider %q: %w", archiveCfg.Provider, scrape.ErrInvalidArgument)
	}
	a.logger.Info("log archive ready", zap.String("provider", archiveCfg.Provider))
	return archive.New(store, logRoot, archiveCfg.Prefix, a.logger.Named("archive")), nil
}

// Publisher returns the outcome publisher and its topic. Without a topic
// the publisher keeps messages in memory.
func (a *App) Publisher(ctx context.Context) (Publisher, string, error) {
	ps := a.cfg.PubSub
	if ps.TopicName == "" {
		return memorypublisher.New(), "", nil
	}
	pub, err := pubsubpublisher.Dial(ctx, ps.ProjectID)
	if err != nil {
		return nil, "", fmt.Errorf("init pubsub: %w", err)
	}
	a.onClose("pubsub", pub.Close)
	a.logger.Info("outcome publisher ready", zap.String("topic", ps.TopicName))
	return pub, ps.TopicName, nil
}

// Notifier returns the Telegram notifier, or nil when no token is set.
func (a *App) Notifier() (*notify.Telegram, error) {
	tg := a.cfg.Notify.Telegram
	if tg.Token == "" {
		return nil, nil
	}
	n, err := notify.NewTelegram(tg.Token, tg.ChatID)
	if err != nil {
		return nil, fmt.Errorf("init notifier: %w", err)
	}
	return n, nil
}

// LeadPusher builds the push-leads pipeline over the Postgres sink database.
func (a *App) LeadPusher(ctx context.Context) (*leadpush.Pusher, error) {
	if a.cfg.Leads.WebhookURL == "" {
		return nil, fmt.Errorf("leads.webhook_url is required: %w", scrape.ErrInvalidArgument)
	}
	if a.cfg.Sink.DSN == "" {
		return nil, fmt.Errorf("sink.dsn is required to read leads: %w", scrape.ErrInvalidArgument)
	}
	pool, err := postgres.NewPool(ctx, postgres.Config{DSN: a.cfg.Sink.DSN, MaxConns: a.cfg.Sink.MaxConns})
	if err != nil {
		return nil, fmt.Errorf("init lead source: %w", err)
	}
	a.onClose("leads pool", func() error {
		pool.Close()
		return nil
	})
	source, err := leadpush.NewPgxSource(pool, a.cfg.Leads.Table)
	if err != nil {
		return nil, fmt.Errorf("init lead source: %w", err)
	}
	leads := a.cfg.Leads
	return leadpush.New(leadpush.Config{
		WebhookURL:  leads.WebhookURL,
		BatchSize:   leads.BatchSize,
		StartOffset: leads.StartOffset,
		Attempts:    leads.Attempts,
		Backoff:     time.Duration(leads.BackoffMs) * time.Millisecond,
		Timeout:     time.Duration(leads.TimeoutSeconds) * time.Second,
		Delay:       time.Duration(leads.DelayMs) * time.Millisecond,
	}, source, &http.Client{}, a.logger.Named("leads")), nil
}

// Geo builds the distance client with its own pacing under geo.rps.
func (a *App) Geo() (*geo.Client, error) {
	g := a.cfg.Geo
	fetcher, err := collyfetcher.New(collyfetcher.Config{
		UserAgent: g.UserAgent,
		Timeout:   a.cfg.HTTP.RequestTimeout(),
		Retry:     retry.NewExponential(),
		Limiter:   ratelimit.New(ratelimit.Config{RPS: g.RPS, Burst: 1}),
		Logger:    a.logger.Named("geo"),
	})
	if err != nil {
		return nil, fmt.Errorf("init geo fetcher: %w", err)
	}
	return geo.New(geo.Config{
		ViaCEPURL:    g.ViaCEPURL,
		NominatimURL: g.NominatimURL,
		UserAgent:    g.UserAgent,
	}, fetcher, a.logger.Named("geo")), nil
}

// Close releases services in reverse creation order. It is safe to call
// more than once.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
