package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cep-candidate-scraper/internal/config"
	"github.com/JakeFAU/cep-candidate-scraper/internal/dispatcher"
	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&rootOptions{})
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestExitCode(t *testing.T) {
	t.Parallel()

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want int
	}{
		{"success", context.Background(), nil, ExitOK},
		{"failure", context.Background(), errors.New("boom"), ExitFailure},
		{"interrupted error", context.Background(), fmt.Errorf("walk: %w", context.Canceled), ExitInterrupted},
		{"interrupted context", canceled, errors.New("boom"), ExitInterrupted},
		{"explicit code", context.Background(), &ExitError{Code: 3, Err: errors.New("x")}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, exitCode(tt.ctx, tt.err))
		})
	}
}

func TestExitErrorUnwraps(t *testing.T) {
	t.Parallel()

	err := &ExitError{Code: 1, Err: scrape.ErrInvalidArgument}
	require.ErrorIs(t, err, scrape.ErrInvalidArgument)
	require.Equal(t, "invalid argument", err.Error())
}

func TestWorkerFlagsRoundTrip(t *testing.T) {
	t.Parallel()

	lo, hi := 18, 20
	want := scrape.WorkerJob{
		Index:       2,
		Range:       scrape.PageRange{Start: 10, End: 19},
		Facet:       scrape.Facet{PostalCode: "01310000", AgeMin: &lo, AgeMax: &hi},
		RunTag:      "nightly",
		MaxDistance: 25,
		LogPath:     "/tmp/logs/job_2.log",
	}
	args := dispatcher.WorkerArgs(want)
	require.Equal(t, "worker", args[0])

	opts := &workerOptions{}
	cmd := &cobra.Command{Use: "worker"}
	opts.bind(cmd)
	require.NoError(t, cmd.ParseFlags(args[1:]))

	got, err := opts.job(cmd)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWorkerFlagsWithoutAges(t *testing.T) {
	t.Parallel()

	opts := &workerOptions{}
	cmd := &cobra.Command{Use: "worker"}
	opts.bind(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--postal-code", "01310000", "--run-tag", "t", "--page-end", "4"}))

	job, err := opts.job(cmd)
	require.NoError(t, err)
	assert.Nil(t, job.Facet.AgeMin)
	assert.Nil(t, job.Facet.AgeMax)
	assert.Equal(t, scrape.PageRange{Start: 0, End: 4}, job.Range)
}

func TestWorkerFlagsValidation(t *testing.T) {
	t.Parallel()

	tests := map[string][]string{
		"missing postal code": {"--run-tag", "t"},
		"missing run tag":     {"--postal-code", "01310000"},
		"inverted range":      {"--postal-code", "01310000", "--run-tag", "t", "--page-start", "5", "--page-end", "1"},
		"negative distance":   {"--postal-code", "01310000", "--run-tag", "t", "--max-distance", "-1"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			opts := &workerOptions{}
			cmd := &cobra.Command{Use: "worker"}
			opts.bind(cmd)
			require.NoError(t, cmd.ParseFlags(args))
			_, err := opts.job(cmd)
			require.ErrorIs(t, err, scrape.ErrInvalidArgument)
		})
	}
}

func TestRunFlagsOverrideConfig(t *testing.T) {
	t.Parallel()

	opts := &runOptions{}
	cmd := &cobra.Command{Use: "run"}
	opts.bind(cmd)
	require.NoError(t, cmd.ParseFlags([]string{
		"--num-exec", "4", "--logs-dir", "/var/log/scraper", "--age-min", "0", "--exclude-ceps-list", `["01310000"]`,
	}))

	cfg := config.Config{}
	cfg.Run.WorkersPerUnit = 10
	cfg.Run.TotalPages = 7
	opts.apply(cmd, &cfg)

	assert.Equal(t, 4, cfg.Run.WorkersPerUnit)
	assert.Equal(t, "/var/log/scraper", cfg.Run.LogRoot)
	assert.Equal(t, `["01310000"]`, cfg.Run.Exclude)
	require.NotNil(t, cfg.Run.BaseAge.Min)
	assert.Equal(t, 0, *cfg.Run.BaseAge.Min)
	assert.Nil(t, cfg.Run.BaseAge.Max)
	assert.Equal(t, 7, cfg.Run.TotalPages, "unset flags keep the configured value")
}

func TestRunRequiresRunTag(t *testing.T) {
	_, err := execute(t, "run", "--cep", "01310000", "--logs-dir", t.TempDir())
	require.ErrorIs(t, err, scrape.ErrInvalidArgument)
	assert.Equal(t, ExitFailure, exitCode(context.Background(), err))
}

func TestRunRejectsBadAgeRanges(t *testing.T) {
	_, err := execute(t, "run", "--cep", "01310000", "--run-tag", "t", "--min-max-age-list", "not json")
	require.Error(t, err)
}

func TestPushLeadsRequiresWebhook(t *testing.T) {
	_, err := execute(t, "push-leads")
	require.ErrorIs(t, err, scrape.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "leads.webhook_url")
}

func TestDistanceRequiresTwoArgs(t *testing.T) {
	_, err := execute(t, "distance", "01310000")
	require.Error(t, err)
}

func TestDistancePrintsKilometres(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ws/01310000/json/":
			_, _ = w.Write([]byte(`{"logradouro":"Avenida Paulista","localidade":"São Paulo","uf":"SP"}`))
		default:
			_, _ = w.Write([]byte(`{"logradouro":"Rua da Assembleia","localidade":"Rio de Janeiro","uf":"RJ"}`))
		}
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Query().Get("q"), "Avenida Paulista") {
			_, _ = w.Write([]byte(`[{"lat":"0","lon":"0"}]`))
			return
		}
		_, _ = w.Write([]byte(`[{"lat":"1","lon":"0"}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfgPath := writeConfig(t, fmt.Sprintf(`
geo:
  viacep_url: %s/ws
  nominatim_url: %s/search
  rps: 0
`, srv.URL, srv.URL))

	out, err := execute(t, "--config", cfgPath, "distance", "01310-000", "20040-002")
	require.NoError(t, err)
	assert.Equal(t, "Distance between 01310-000 and 20040-002: 111.19 km\n", out)
}

func TestWorkerWalksEmptyListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>Nenhum candidato encontrado</p></body></html>`))
	}))
	defer srv.Close()

	cfgPath := writeConfig(t, fmt.Sprintf(`
portal:
  list_url: %s/list
  detail_url: %s/detail
http:
  rps: 0
sink:
  provider: memory
`, srv.URL, srv.URL))
	logPath := filepath.Join(t.TempDir(), "job_1.log")

	_, err := execute(t, "--config", cfgPath, "worker",
		"--postal-code", "01310000", "--run-tag", "test", "--page-start", "0", "--page-end", "3",
		"--job-index", "1", "--log-path", logPath)
	require.NoError(t, err)

	prom, err := os.ReadFile(logPath + ".prom")
	require.NoError(t, err)
	assert.Contains(t, string(prom), "go_goroutines")
}

func TestLoggingFileRedirectsAppLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "coordinator.log")
	cfgPath := writeConfig(t, fmt.Sprintf(`
logging:
  file: %s
`, logPath))

	a, err := newApp(cfgPath, false)
	require.NoError(t, err)
	a.Logger().Info("run started")
	_ = a.Logger().Sync()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"run started"`)

	w, err := newApp(cfgPath, true)
	require.NoError(t, err)
	w.Logger().Info("worker finished")
	_ = w.Logger().Sync()

	data, err = os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "worker finished")
}
