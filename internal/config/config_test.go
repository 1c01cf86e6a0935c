package config

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Scrape.BatchSize)
	assert.Equal(t, 100, cfg.Scrape.PageSize)
	assert.Equal(t, 10000, cfg.Scrape.AgeThreshold)
	assert.Equal(t, 100, cfg.Scrape.PageCeiling)
	assert.Equal(t, 0, cfg.Run.InitialPage)
	assert.Equal(t, "logs", cfg.Run.LogRoot)
	assert.Equal(t, "ceps.csv", cfg.Run.CEPFile)
	assert.Equal(t, SinkPostgres, cfg.Sink.Provider)
	assert.Equal(t, "candidates", cfg.Sink.Table)
	assert.Equal(t, ArchiveNone, cfg.Archive.Provider)
	assert.Contains(t, cfg.HTTP.UserAgent, "Chrome/144")

	h := http.Header{}
	for k, v := range cfg.Portal.Headers {
		h.Set(k, v)
	}
	assert.Regexp(t, `^pt-BR`, h.Get("Accept-Language"))

	assert.Equal(t, 3, cfg.Leads.Attempts)
	assert.Equal(t, 1000, cfg.Leads.BackoffMs)
	assert.Equal(t, 30, cfg.Leads.TimeoutSeconds)
	assert.NotEmpty(t, cfg.Geo.UserAgent)
	assert.Equal(t, 1.0, cfg.Geo.RPS)
	assert.True(t, cfg.Metrics.Textfile)
	assert.Empty(t, cfg.Logging.File)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
scrape:
  batch_size: 50
  page_size: 25
  age_threshold: 5000
  page_ceiling: 40
  max_distance: 15
run:
  workers_per_unit: 4
  log_root: /tmp/cep-logs
  initial_page: 1
  total_pages: 12
  exclude: '["01310-000"]'
  status_addr: ":9090"
  age_ranges:
    - {min: 18, max: 20}
    - {min: 21, max: 25}
  base_age: {min: 18}
portal:
  list_cookies: "ATSCultureCookie=c%3Dpt-BR; .AspNetCore.Cookies=abc"
http:
  timeout_seconds: 45
  proxy_url: http://proxy.local:3128
sink:
  provider: sqlite
  path: /tmp/candidates.db
archive:
  provider: gcs
  bucket: cep-logs
  prefix: runs
pubsub:
  project_id: proj
  topic_name: outcomes
notify:
  telegram:
    token: "123:abc"
    chat_id: -1001
logging:
  development: true
  file: /tmp/cep-logs/coordinator.log
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Scrape.BatchSize)
	assert.Equal(t, 25, cfg.Scrape.PageSize)
	assert.Equal(t, 15, cfg.Scrape.MaxDistance)
	assert.Equal(t, 4, cfg.Run.WorkersPerUnit)
	assert.Equal(t, 12, cfg.Run.TotalPages)
	assert.Equal(t, ":9090", cfg.Run.StatusAddr)
	require.Len(t, cfg.Run.AgeRanges, 2)
	assert.Equal(t, "21-25", cfg.Run.AgeRanges[1].Label())
	require.Equal(t, "18-any", cfg.Run.BaseAge.Label())

	cookies := ParseCookies(cfg.Portal.ListCookies)
	assert.Equal(t, "abc", cookies[".AspNetCore.Cookies"])
	assert.Equal(t, "c%3Dpt-BR", cookies["ATSCultureCookie"])
	assert.Equal(t, 45.0, cfg.HTTP.RequestTimeout().Seconds())
	assert.Equal(t, SinkSQLite, cfg.Sink.Provider)
	assert.Equal(t, "cep-logs", cfg.Archive.Bucket)
	assert.Equal(t, int64(-1001), cfg.Notify.Telegram.ChatID)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "/tmp/cep-logs/coordinator.log", cfg.Logging.File)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CEPSCRAPER_SINK_DSN", "postgres://env")
	t.Setenv("CEPSCRAPER_RUN_WORKERS_PER_UNIT", "7")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://env", cfg.Sink.DSN)
	assert.Equal(t, 7, cfg.Run.WorkersPerUnit)
	require.NoError(t, cfg.Sink.Validate())
}

func validConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	minAge, maxAge := 30, 20
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"batch size", func(c *Config) { c.Scrape.BatchSize = 0 }, "scrape.batch_size"},
		{"page size", func(c *Config) { c.Scrape.PageSize = -1 }, "scrape.page_size"},
		{"workers", func(c *Config) { c.Run.WorkersPerUnit = 0 }, "run.workers_per_unit"},
		{"list url", func(c *Config) { c.Portal.ListURL = "/relative" }, "portal.list_url"},
		{"proxy", func(c *Config) { c.HTTP.ProxyURL = "::bad" }, "http.proxy_url"},
		{"sink provider", func(c *Config) { c.Sink.Provider = "mongo" }, "sink.provider"},
		{"archive provider", func(c *Config) { c.Archive.Provider = "s3" }, "archive.provider"},
		{"archive bucket", func(c *Config) { c.Archive.Provider = ArchiveGCS }, "archive.bucket"},
		{"archive dir", func(c *Config) { c.Archive.Provider = ArchiveLocal }, "archive.base_dir"},
		{"pubsub project", func(c *Config) { c.PubSub.TopicName = "t" }, "pubsub.project_id"},
		{"telegram chat", func(c *Config) { c.Notify.Telegram.Token = "x" }, "chat_id"},
		{"empty age range", func(c *Config) { c.Run.AgeRanges = []scrape.AgeRange{{}} }, "no bounds"},
		{"inverted age range", func(c *Config) {
			c.Run.AgeRanges = []scrape.AgeRange{{Min: &minAge, Max: &maxAge}}
		}, "min > max"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig(t)
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, scrape.ErrInvalidArgument)
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestSinkValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, (SinkConfig{Provider: SinkPostgres}).Validate())
	require.Error(t, (SinkConfig{Provider: SinkSQLite}).Validate())
	require.NoError(t, (SinkConfig{Provider: SinkMemory}).Validate())
}

func TestParseAgeRanges(t *testing.T) {
	t.Parallel()

	ranges, err := ParseAgeRanges(`[{"min":18,"max":20},{"max":25}]`)
	require.NoError(t, err)
	require.Len(t, ranges, 2)
	assert.Equal(t, "18-20", ranges[0].Label())
	assert.Equal(t, "any-25", ranges[1].Label())

	ranges, err = ParseAgeRanges("  ")
	require.NoError(t, err)
	require.Nil(t, ranges)

	_, err = ParseAgeRanges("{")
	require.ErrorIs(t, err, scrape.ErrInvalidArgument)
}

func TestParseCookies(t *testing.T) {
	t.Parallel()

	require.Empty(t, ParseCookies(""))
	require.Equal(t, map[string]string{"a": "1", "b": "two"}, ParseCookies("a=1; b=two"))
}
