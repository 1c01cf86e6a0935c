package coordinator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/cep-candidate-scraper/internal/cepsource"
	"github.com/JakeFAU/cep-candidate-scraper/internal/dispatcher"
	"github.com/JakeFAU/cep-candidate-scraper/internal/planner"
	memorypub "github.com/JakeFAU/cep-candidate-scraper/internal/publisher/memory"
	"github.com/JakeFAU/cep-candidate-scraper/internal/rundir"
	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

type fakeEstimator struct {
	totals map[string]int
}

func (f *fakeEstimator) Estimate(_ context.Context, facet scrape.Facet) (int, bool) {
	key := facet.PostalCode
	if facet.HasAge() {
		key += "/" + facet.AgeLabel()
	}
	total, ok := f.totals[key]
	return total, ok
}

type fakeDispatcher struct {
	mu       sync.Mutex
	requests []dispatcher.Request
	failing  map[string]bool
	onCall   func(req dispatcher.Request) error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, req dispatcher.Request) (dispatcher.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.onCall != nil {
		if err := f.onCall(req); err != nil {
			return dispatcher.Result{}, err
		}
	}
	jobs, err := dispatcher.Jobs(req)
	if err != nil {
		return dispatcher.Result{}, err
	}
	res := dispatcher.Result{}
	for i, job := range jobs {
		outcome := dispatcher.JobOutcome{Job: job}
		if i == 0 && f.failing[req.Facet.String()] {
			outcome.ExitCode = 2
			outcome.Err = &scrape.WorkerExitError{Job: job, ExitCode: 2}
		}
		res.Jobs = append(res.Jobs, outcome)
	}
	return res, nil
}

func (f *fakeDispatcher) Facets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.Facet.String())
	}
	return out
}

type dirLayout struct {
	root string
}

func (l dirLayout) UnitDir(facet scrape.Facet) (string, error) {
	return filepath.Join(l.root, rundir.UnitPath(facet)), nil
}

type fakeArchiver struct {
	dirs []string
}

func (f *fakeArchiver) ArchiveDir(_ context.Context, dir string) error {
	f.dirs = append(f.dirs, dir)
	return nil
}

type listSource struct {
	ceps []string
}

func (s *listSource) Next(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	if len(s.ceps) == 0 {
		return "", false, nil
	}
	cep := s.ceps[0]
	s.ceps = s.ceps[1:]
	return cep, true, nil
}

type harness struct {
	coord     *Coordinator
	disp      *fakeDispatcher
	archiver  *fakeArchiver
	publisher *memorypub.Publisher
}

func newHarness(t *testing.T, cfg Config, totals map[string]int) *harness {
	t.Helper()
	est := &fakeEstimator{totals: totals}
	disp := &fakeDispatcher{failing: map[string]bool{}}
	archiver := &fakeArchiver{}
	publisher := memorypub.New()
	if cfg.WorkersPerUnit == 0 {
		cfg.WorkersPerUnit = 3
	}
	if cfg.RunTag == "" {
		cfg.RunTag = "run-a"
	}
	coord := New(cfg, Deps{
		Estimator:  est,
		Planner:    planner.New(planner.Config{}, est, zap.NewNop()),
		Dispatcher: disp,
		Layout:     dirLayout{root: t.TempDir()},
		Archiver:   archiver,
		Publisher:  publisher,
		Topic:      "cep-outcomes",
		Clock:      func() time.Time { return time.Unix(1700000000, 0).UTC() },
	})
	return &harness{coord: coord, disp: disp, archiver: archiver, publisher: publisher}
}

func TestRunDiscoveryFailureDoesNotStopRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, map[string]int{"22222-222": 5000})
	report, err := h.coord.Run(context.Background(), &listSource{ceps: []string{"11111-111", "22222-222"}})
	require.NoError(t, err)

	require.Equal(t, []string{"11111-111"}, report.Failed())
	require.Equal(t, []string{"22222-222"}, report.Succeeded())
	require.Equal(t, 1, report.ExitCode())
	require.Equal(t, []string{"22222-222"}, h.disp.Facets())

	outcomes := report.Outcomes()
	require.Contains(t, outcomes[0].Reason, "candidate total unknown")
	require.Equal(t, planner.KindNoAgeFilter, outcomes[1].Plan)
	require.Equal(t, 50, h.disp.requests[0].TotalPages)
	require.Equal(t, 49, h.disp.requests[0].MaxPage)
	require.Len(t, h.publisher.Messages(), 2)
	require.Len(t, h.archiver.dirs, 1)
}

func TestRunSuppliedPagesWithUnknownTotal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{TotalPages: 12, InitialPage: 1}, nil)
	report, err := h.coord.Run(context.Background(), cepsource.Single("11111-111"))
	require.NoError(t, err)
	require.Equal(t, 0, report.ExitCode())
	require.Len(t, h.disp.requests, 1)
	req := h.disp.requests[0]
	require.Equal(t, 12, req.TotalPages)
	require.Equal(t, 1, req.InitialPage)
	require.Equal(t, 12, req.MaxPage)
	require.Equal(t, "run-a", req.RunTag)
}

func TestRunSkipsExcludedCodes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Exclude: cepsource.NewExcludeSet("11111111")}, map[string]int{"22222-222": 10})
	report, err := h.coord.Run(context.Background(), &listSource{ceps: []string{"11111-111", "22222-222"}})
	require.NoError(t, err)
	require.Equal(t, []string{"11111-111"}, report.Skipped())
	require.Equal(t, 0, report.ExitCode())
	require.Equal(t, []string{"22222-222"}, h.disp.Facets())
}

func TestRunPerAgeRangeContinuesPastFailures(t *testing.T) {
	t.Parallel()

	ranges := []scrape.AgeRange{scrape.NewAgeRange(18, 20), scrape.NewAgeRange(21, 25), scrape.NewAgeRange(26, 30)}
	h := newHarness(t, Config{AgeRanges: ranges}, map[string]int{
		"33333-333":       50000,
		"33333-333/18-20": 3000,
		"33333-333/26-30": 800,
	})
	h.disp.failing["33333-333 age 18-20"] = true

	report, err := h.coord.Run(context.Background(), cepsource.Single("33333-333"))
	require.NoError(t, err)
	require.Equal(t, []string{"33333-333"}, report.Failed())
	require.Equal(t, []string{
		"33333-333 age 18-20",
		"33333-333 age 21-25",
		"33333-333 age 26-30",
	}, h.disp.Facets())

	outcome := report.Outcomes()[0]
	require.Equal(t, planner.KindPerAgeRangeRuns, outcome.Plan)
	require.Len(t, outcome.Units, 3)
	require.False(t, outcome.Units[0].OK)
	require.Len(t, outcome.Units[0].FailedJobs, 1)
	require.Equal(t, 2, outcome.Units[0].FailedJobs[0].ExitCode)
	require.True(t, outcome.Units[1].Degraded)
	require.Equal(t, 500, outcome.Units[1].TotalPages)
	require.Equal(t, 8, outcome.Units[2].TotalPages)
	require.Contains(t, outcome.Reason, "age 18-20")
	require.Contains(t, outcome.Units[0].LogDir, filepath.Join("cep_33333_333", "age_18_20"))
}

func TestRunEstimatesWithoutBaseAge(t *testing.T) {
	t.Parallel()

	base := scrape.NewAgeRange(18, 30)
	h := newHarness(t, Config{BaseAge: base}, map[string]int{
		"01310-000":       20000,
		"01310-000/18-30": 5000,
		"02020-000":       4000,
		"02020-000/18-30": 900,
	})
	report, err := h.coord.Run(context.Background(), &listSource{ceps: []string{"01310-000", "02020-000"}})
	require.NoError(t, err)
	require.Equal(t, 0, report.ExitCode())
	require.Len(t, h.disp.requests, 2)

	single := h.disp.requests[0]
	require.Equal(t, "01310-000 age 18-30", single.Facet.String())
	require.Equal(t, 200, single.TotalPages)

	unfiltered := h.disp.requests[1]
	require.False(t, unfiltered.Facet.HasAge())
	require.Equal(t, 40, unfiltered.TotalPages)

	outcomes := report.Outcomes()
	require.Equal(t, planner.KindSingleRun, outcomes[0].Plan)
	require.Equal(t, 20000, *outcomes[0].TotalCandidates)
	require.Equal(t, planner.KindNoAgeFilter, outcomes[1].Plan)
	require.Equal(t, 4000, *outcomes[1].TotalCandidates)
}

func TestRunZeroCandidatesSucceedsWithoutDispatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, map[string]int{"44444-444": 0})
	report, err := h.coord.Run(context.Background(), cepsource.Single("44444-444"))
	require.NoError(t, err)
	require.Equal(t, []string{"44444-444"}, report.Succeeded())
	require.Empty(t, h.disp.requests)
	require.True(t, report.Outcomes()[0].Units[0].Skipped)
}

func TestRunInterruptStopsImmediately(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, map[string]int{"11111-111": 10, "22222-222": 10, "33333-333": 10})
	ctx, cancel := context.WithCancel(context.Background())
	h.disp.onCall = func(req dispatcher.Request) error {
		if req.Facet.PostalCode == "22222-222" {
			cancel()
			return context.Canceled
		}
		return nil
	}

	report, err := h.coord.Run(ctx, &listSource{ceps: []string{"11111-111", "22222-222", "33333-333"}})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"11111-111"}, report.Succeeded())
	require.Empty(t, report.Failed())
	require.Equal(t, []string{"11111-111", "22222-222"}, h.disp.Facets())
}

func TestRunDispatchConfigurationErrorFailsCode(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{}, map[string]int{"11111-111": 10})
	h.disp.onCall = func(dispatcher.Request) error {
		return errors.New("worker count must be > 0")
	}
	report, err := h.coord.Run(context.Background(), cepsource.Single("11111-111"))
	require.NoError(t, err)
	require.Equal(t, []string{"11111-111"}, report.Failed())
	require.Contains(t, report.Outcomes()[0].Reason, "worker count")
}

func TestReportSummaryAndSnapshot(t *testing.T) {
	t.Parallel()

	start := time.Unix(0, 0).UTC()
	r := NewReport("run-a", start)
	r.Add(Outcome{PostalCode: "1", Status: StatusSucceeded})
	r.Add(Outcome{PostalCode: "2", Status: StatusFailed, Reason: "2: 1 of 3 workers failed"})
	r.Add(Outcome{PostalCode: "3", Status: StatusSkipped})
	r.finish(start.Add(90 * time.Second))

	snap := r.Snapshot()
	require.Equal(t, []string{"1"}, snap.Succeeded)
	require.Equal(t, []string{"2"}, snap.Failed)
	require.Equal(t, []string{"3"}, snap.Skipped)
	require.Len(t, snap.Outcomes, 3)

	summary := r.Summary()
	require.Contains(t, summary, "Run run-a: 1 succeeded, 1 failed, 1 skipped in 1m30s")
	require.Contains(t, summary, "- 2: 2: 1 of 3 workers failed")
}
