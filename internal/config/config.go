// Package config loads and validates scraper configuration via Viper.
package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

// EnvPrefix namespaces every environment override, e.g.
// CEPSCRAPER_SINK_DSN for sink.dsn.
const EnvPrefix = "CEPSCRAPER"

// Sink providers.
const (
	SinkPostgres = "postgres"
	SinkSQLite   = "sqlite"
	SinkMemory   = "memory"
)

// Archive providers.
const (
	ArchiveNone   = "none"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
	ArchiveMemory = "memory"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Scrape  ScrapeConfig  `mapstructure:"scrape"`
	Run     RunConfig     `mapstructure:"run"`
	Portal  PortalConfig  `mapstructure:"portal"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Archive ArchiveConfig `mapstructure:"archive"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Leads   LeadsConfig   `mapstructure:"leads"`
	Geo     GeoConfig     `mapstructure:"geo"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ScrapeConfig governs planning and the worker walk.
type ScrapeConfig struct {
	BatchSize    int `mapstructure:"batch_size"`
	PageSize     int `mapstructure:"page_size"`
	AgeThreshold int `mapstructure:"age_threshold"`
	PageCeiling  int `mapstructure:"page_ceiling"`
	MaxDistance  int `mapstructure:"max_distance"`
}

// RunConfig controls the coordinator.
type RunConfig struct {
	WorkersPerUnit int               `mapstructure:"workers_per_unit"`
	LogRoot        string            `mapstructure:"log_root"`
	InitialPage    int               `mapstructure:"initial_page"`
	TotalPages     int               `mapstructure:"total_pages"`
	CEPFile        string            `mapstructure:"cep_file"`
	Exclude        string            `mapstructure:"exclude"`
	AgeRanges      []scrape.AgeRange `mapstructure:"age_ranges"`
	BaseAge        scrape.AgeRange   `mapstructure:"base_age"`
	StatusAddr     string            `mapstructure:"status_addr"`
	// WorkerGraceSeconds bounds how long an interrupted worker may run
	// before it is killed.
	WorkerGraceSeconds int `mapstructure:"worker_grace_seconds"`
}

// PortalConfig describes the candidate portal. Cookies are raw Cookie header
// values since cookie names are case-sensitive.
type PortalConfig struct {
	ListURL       string            `mapstructure:"list_url"`
	DetailURL     string            `mapstructure:"detail_url"`
	Headers       map[string]string `mapstructure:"headers"`
	DetailHeaders map[string]string `mapstructure:"detail_headers"`
	ListCookies   string            `mapstructure:"list_cookies"`
	DetailCookies string            `mapstructure:"detail_cookies"`
}

// HTTPConfig configures the shared HTTP transport.
type HTTPConfig struct {
	UserAgent        string  `mapstructure:"user_agent"`
	ProxyURL         string  `mapstructure:"proxy_url"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	RPS              float64 `mapstructure:"rps"`
	Burst            int     `mapstructure:"burst"`
}

// SinkConfig selects the candidate row sink.
type SinkConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	Path     string `mapstructure:"path"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ArchiveConfig selects where job logs are copied after each dispatch.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for outcome notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// NotifyConfig configures the run summary notifier.
type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig holds bot credentials.
type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

// LeadsConfig configures push-leads. Rows are read through sink.dsn.
type LeadsConfig struct {
	WebhookURL     string `mapstructure:"webhook_url"`
	Table          string `mapstructure:"table"`
	BatchSize      int    `mapstructure:"batch_size"`
	StartOffset    int    `mapstructure:"start_offset"`
	Attempts       int    `mapstructure:"attempts"`
	BackoffMs      int    `mapstructure:"backoff_ms"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	DelayMs        int    `mapstructure:"delay_ms"`
}

// GeoConfig configures the distance command.
type GeoConfig struct {
	ViaCEPURL    string  `mapstructure:"viacep_url"`
	NominatimURL string  `mapstructure:"nominatim_url"`
	UserAgent    string  `mapstructure:"user_agent"`
	RPS          float64 `mapstructure:"rps"`
}

// MetricsConfig toggles the worker textfile dump.
type MetricsConfig struct {
	Textfile bool `mapstructure:"textfile"`
}

// LoggingConfig toggles zap development features. File, when set, sends
// the log to that path instead of stderr.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
}

// Load builds a Config from .env, the environment and an optional file.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

const (
	browserAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp," +
		"image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7"
	browserUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36"
)

func defaultHeaders() map[string]string {
	return map[string]string{
		"Accept":                    browserAccept,
		"Accept-Language":           "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "same-origin",
		"Sec-Fetch-User":            "?1",
		"Upgrade-Insecure-Requests": "1",
		"Sec-Ch-Ua":                 `"Not(A:Brand";v="8", "Chromium";v="144", "Google Chrome";v="144"`,
		"Sec-Ch-Ua-Mobile":          "?0",
		"Sec-Ch-Ua-Platform":        `"macOS"`,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scrape.batch_size", 100)
	v.SetDefault("scrape.page_size", 100)
	v.SetDefault("scrape.age_threshold", 10000)
	v.SetDefault("scrape.page_ceiling", 100)
	v.SetDefault("scrape.max_distance", 0)
	v.SetDefault("run.workers_per_unit", 10)
	v.SetDefault("run.log_root", "logs")
	v.SetDefault("run.initial_page", 0)
	v.SetDefault("run.cep_file", "ceps.csv")
	v.SetDefault("run.worker_grace_seconds", 30)
	v.SetDefault("portal.list_url", "https://pandape.infojobs.com.br/company/CandidateCatho")
	v.SetDefault("portal.detail_url", "https://pandape.infojobs.com.br/Company/CandidateCatho/Detail")
	v.SetDefault("portal.headers", defaultHeaders())
	v.SetDefault("portal.detail_headers", map[string]string{"Cache-Control": "max-age=0"})
	v.SetDefault("http.user_agent", browserUserAgent)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.rps", 2.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("sink.provider", SinkPostgres)
	v.SetDefault("sink.table", "candidates")
	v.SetDefault("sink.path", "candidates.db")
	v.SetDefault("sink.max_conns", 4)
	v.SetDefault("archive.provider", ArchiveNone)
	v.SetDefault("archive.prefix", "cepscraper")
	v.SetDefault("leads.table", "candidates")
	v.SetDefault("leads.batch_size", 500)
	v.SetDefault("leads.attempts", 3)
	v.SetDefault("leads.backoff_ms", 1000)
	v.SetDefault("leads.timeout_seconds", 30)
	v.SetDefault("leads.delay_ms", 100)
	v.SetDefault("geo.viacep_url", "https://viacep.com.br/ws")
	v.SetDefault("geo.nominatim_url", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("geo.user_agent", "cep-distance-script")
	v.SetDefault("geo.rps", 1.0)
	v.SetDefault("metrics.textfile", true)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.file", "")

	// Keys without a meaningful default are still registered so AutomaticEnv
	// can populate them during Unmarshal.
	for _, key := range []string{
		"run.exclude", "run.status_addr", "portal.list_cookies", "portal.detail_cookies",
		"http.proxy_url", "sink.dsn", "archive.base_dir", "archive.bucket",
		"pubsub.project_id", "pubsub.topic_name", "notify.telegram.token", "leads.webhook_url",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("run.total_pages", 0)
	v.SetDefault("notify.telegram.chat_id", 0)
	v.SetDefault("leads.start_offset", 0)
}

// Validate enforces required values and reasonable limits. Every failure
// wraps scrape.ErrInvalidArgument.
func (c Config) Validate() error {
	checks := []struct {
		bad bool
		msg string
	}{
		{c.Scrape.BatchSize <= 0, "scrape.batch_size must be > 0"},
		{c.Scrape.PageSize <= 0, "scrape.page_size must be > 0"},
		{c.Scrape.AgeThreshold <= 0, "scrape.age_threshold must be > 0"},
		{c.Scrape.PageCeiling <= 0, "scrape.page_ceiling must be > 0"},
		{c.Scrape.MaxDistance < 0, "scrape.max_distance must be >= 0"},
		{c.Run.WorkersPerUnit <= 0, "run.workers_per_unit must be > 0"},
		{c.Run.InitialPage < 0, "run.initial_page must be >= 0"},
		{c.Run.TotalPages < 0, "run.total_pages must be >= 0"},
		{c.HTTP.TimeoutSeconds <= 0, "http.timeout_seconds must be > 0"},
		{c.HTTP.MaxRetries <= 0, "http.max_retries must be > 0"},
		{c.HTTP.RPS < 0, "http.rps must be >= 0"},
		{c.Leads.BatchSize < 0, "leads.batch_size must be >= 0"},
		{c.Leads.Attempts < 0, "leads.attempts must be >= 0"},
		{c.Geo.UserAgent == "", "geo.user_agent is required by Nominatim"},
	}
	for _, check := range checks {
		if check.bad {
			return fmt.Errorf("%s: %w", check.msg, scrape.ErrInvalidArgument)
		}
	}
	for _, u := range []struct{ key, value string }{
		{"portal.list_url", c.Portal.ListURL},
		{"portal.detail_url", c.Portal.DetailURL},
	} {
		if err := requireAbsoluteURL(u.key, u.value); err != nil {
			return err
		}
	}
	if c.HTTP.ProxyURL != "" {
		if err := requireAbsoluteURL("http.proxy_url", c.HTTP.ProxyURL); err != nil {
			return err
		}
	}
	for i, r := range c.Run.AgeRanges {
		if r.IsZero() {
			return fmt.Errorf("run.age_ranges[%d] has no bounds: %w", i, scrape.ErrInvalidArgument)
		}
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			return fmt.Errorf("run.age_ranges[%d] min > max: %w", i, scrape.ErrInvalidArgument)
		}
	}
	switch c.Sink.Provider {
	case SinkPostgres, SinkSQLite, SinkMemory:
	default:
		return fmt.Errorf("unknown sink.provider %q: %w", c.Sink.Provider, scrape.ErrInvalidArgument)
	}
	switch c.Archive.Provider {
	case ArchiveNone, ArchiveMemory, "":
	case ArchiveLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for local: %w", scrape.ErrInvalidArgument)
		}
	case ArchiveGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for gcs: %w", scrape.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("unknown archive.provider %q: %w", c.Archive.Provider, scrape.ErrInvalidArgument)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required with pubsub.topic_name: %w", scrape.ErrInvalidArgument)
	}
	if c.Notify.Telegram.Token != "" && c.Notify.Telegram.ChatID == 0 {
		return fmt.Errorf("notify.telegram.chat_id is required with a token: %w", scrape.ErrInvalidArgument)
	}
	return nil
}

// Validate checks the connection settings of the selected provider. It is
// separate from Config.Validate so commands that never open a sink do not
// need a DSN.
func (c SinkConfig) Validate() error {
	switch c.Provider {
	case SinkPostgres:
		if c.DSN == "" {
			return fmt.Errorf("sink.dsn is required for postgres: %w", scrape.ErrInvalidArgument)
		}
	case SinkSQLite:
		if c.Path == "" {
			return fmt.Errorf("sink.path is required for sqlite: %w", scrape.ErrInvalidArgument)
		}
	case SinkMemory:
	default:
		return fmt.Errorf("unknown sink.provider %q: %w", c.Provider, scrape.ErrInvalidArgument)
	}
	return nil
}

func requireAbsoluteURL(key, value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL: %w", key, scrape.ErrInvalidArgument)
	}
	return nil
}

// RequestTimeout converts http.timeout_seconds.
func (c HTTPConfig) RequestTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Backoff converts the retry bounds.
func (c HTTPConfig) Backoff() (initial, maxDelay time.Duration) {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond, time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// ParseCookies splits a raw Cookie header into name/value pairs. Malformed
// input yields an empty map.
func ParseCookies(raw string) map[string]string {
	out := map[string]string{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out
	}
	cookies, err := http.ParseCookie(raw)
	if err != nil {
		return out
	}
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out
}

// ParseAgeRanges decodes a JSON list such as
// [{"min":18,"max":20},{"min":21,"max":25}].
func ParseAgeRanges(raw string) ([]scrape.AgeRange, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var ranges []scrape.AgeRange
	if err := json.Unmarshal([]byte(raw), &ranges); err != nil {
		return nil, fmt.Errorf("parse age ranges: %w: %w", scrape.ErrInvalidArgument, err)
	}
	return ranges, nil
}
