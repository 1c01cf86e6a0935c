package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/cep-candidate-scraper/internal/progress"
)

// PrometheusSink exports worker progress via Prometheus collectors registered
// on a caller-supplied registry, so a worker process can dump them to a
// textfile on exit.
type PrometheusSink struct {
	workersStarted   prometheus.Counter
	workersCompleted *prometheus.CounterVec
	workerRuntime    *prometheus.HistogramVec

	pagesProcessed   *prometheus.CounterVec
	candidatesListed *prometheus.CounterVec
	pageDuration     prometheus.Histogram

	candidates        *prometheus.CounterVec
	candidateDuration *prometheus.HistogramVec
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		workersStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cepscraper_workers_started_total",
			Help: "Worker walks that have started.",
		}),
		workersCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cepscraper_workers_completed_total",
			Help: "Worker walks completed partitioned by result.",
		}, []string{"result"}),
		workerRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cepscraper_worker_runtime_seconds",
			Help:    "Wall time per completed worker walk.",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"result"}),
		pagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cepscraper_pages_processed_total",
			Help: "Listing pages fetched partitioned by postal code.",
		}, []string{"postal_code"}),
		candidatesListed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cepscraper_candidates_listed_total",
			Help: "Candidate ids seen on listing pages partitioned by postal code.",
		}, []string{"postal_code"}),
		pageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cepscraper_page_duration_seconds",
			Help:    "Time spent fetching and processing one listing page.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cepscraper_candidates_total",
			Help: "Candidates processed partitioned by postal code and result.",
		}, []string{"postal_code", "result"}),
		candidateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cepscraper_candidate_duration_seconds",
			Help:    "Detail fetch, extraction and upsert latency per candidate.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"result"}),
	}
	for _, collector := range []prometheus.Collector{
		s.workersStarted,
		s.workersCompleted,
		s.workerRuntime,
		s.pagesProcessed,
		s.candidatesListed,
		s.pageDuration,
		s.candidates,
		s.candidateDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageWorkerStart:
		s.workersStarted.Inc()
	case progress.StageWorkerDone:
		s.workersCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageWorkerError:
		s.workersCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	case progress.StagePageDone:
		s.pagesProcessed.WithLabelValues(evt.PostalCode).Inc()
		s.candidatesListed.WithLabelValues(evt.PostalCode).Add(float64(evt.Candidates))
		if evt.Dur > 0 {
			s.pageDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageCandidateSaved:
		s.observeCandidate(evt, "saved")
	case progress.StageCandidateFailed:
		s.observeCandidate(evt, "failed")
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.workerRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) observeCandidate(evt progress.Event, label string) {
	s.candidates.WithLabelValues(evt.PostalCode, label).Inc()
	if evt.Dur > 0 {
		s.candidateDuration.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
