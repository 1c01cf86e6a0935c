package coordinator

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/cep-candidate-scraper/internal/planner"
	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

// Status is the final state of one postal code.
type Status string

// Postal code statuses.
const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// FailedJob describes one worker that did not exit cleanly.
type FailedJob struct {
	Index    int              `json:"index"`
	Pages    scrape.PageRange `json:"pages"`
	ExitCode int              `json:"exit_code"`
	LogPath  string           `json:"log_path"`
	Error    string           `json:"error"`
}

// UnitOutcome is the result of dispatching one facet.
type UnitOutcome struct {
	AgeRange   string      `json:"age_range,omitempty"`
	TotalPages int         `json:"total_pages"`
	Workers    int         `json:"workers"`
	Degraded   bool        `json:"degraded,omitempty"`
	Skipped    bool        `json:"skipped,omitempty"`
	OK         bool        `json:"ok"`
	Reason     string      `json:"reason,omitempty"`
	LogDir     string      `json:"log_dir,omitempty"`
	FailedJobs []FailedJob `json:"failed_jobs,omitempty"`
}

// Outcome is the result of one postal code.
type Outcome struct {
	RunTag          string        `json:"run_tag"`
	PostalCode      string        `json:"postal_code"`
	Status          Status        `json:"status"`
	Reason          string        `json:"reason,omitempty"`
	Plan            planner.Kind  `json:"plan,omitempty"`
	TotalCandidates *int          `json:"total_candidates,omitempty"`
	Units           []UnitOutcome `json:"units,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
}

// Attributes labels the published outcome message.
func (o Outcome) Attributes() map[string]string {
	return map[string]string{
		"run_tag":     o.RunTag,
		"postal_code": o.PostalCode,
		"status":      string(o.Status),
	}
}

// Duration returns the wall time spent on the postal code.
func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Report accumulates postal code outcomes. It is safe for concurrent readers
// while the coordinator appends.
type Report struct {
	mu         sync.RWMutex
	runTag     string
	startedAt  time.Time
	finishedAt time.Time
	outcomes   []Outcome
}

// NewReport starts an empty report.
func NewReport(runTag string, startedAt time.Time) *Report {
	return &Report{runTag: runTag, startedAt: startedAt}
}

// Add appends an outcome.
func (r *Report) Add(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *Report) finish(at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishedAt = at
}

// Outcomes returns a copy of every recorded outcome.
func (r *Report) Outcomes() []Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Outcome(nil), r.outcomes...)
}

func (r *Report) codes(status Status) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, o := range r.outcomes {
		if o.Status == status {
			out = append(out, o.PostalCode)
		}
	}
	return out
}

// Succeeded lists postal codes whose dispatches all succeeded.
func (r *Report) Succeeded() []string { return r.codes(StatusSucceeded) }

// Failed lists postal codes with at least one failure.
func (r *Report) Failed() []string { return r.codes(StatusFailed) }

// Skipped lists excluded postal codes.
func (r *Report) Skipped() []string { return r.codes(StatusSkipped) }

// ExitCode is 1 when any postal code failed and 0 otherwise.
func (r *Report) ExitCode() int {
	if len(r.Failed()) > 0 {
		return 1
	}
	return 0
}

// Snapshot is a point-in-time, JSON-friendly copy of a Report.
type Snapshot struct {
	RunTag     string    `json:"run_tag"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Succeeded  []string  `json:"succeeded"`
	Failed     []string  `json:"failed"`
	Skipped    []string  `json:"skipped"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Snapshot copies the report.
func (r *Report) Snapshot() Snapshot {
	snap := Snapshot{
		Succeeded: nonNil(r.Succeeded()),
		Failed:    nonNil(r.Failed()),
		Skipped:   nonNil(r.Skipped()),
		Outcomes:  r.Outcomes(),
	}
	r.mu.RLock()
	snap.RunTag = r.runTag
	snap.StartedAt = r.startedAt
	snap.FinishedAt = r.finishedAt
	r.mu.RUnlock()
	return snap
}

// Summary renders a short human-readable run summary.
func (r *Report) Summary() string {
	snap := r.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %d succeeded, %d failed, %d skipped",
		snap.RunTag, len(snap.Succeeded), len(snap.Failed), len(snap.Skipped))
	if !snap.FinishedAt.IsZero() {
		fmt.Fprintf(&b, " in %s", snap.FinishedAt.Sub(snap.StartedAt).Round(time.Second))
	}
	for _, o := range snap.Outcomes {
		if o.Status != StatusFailed {
			continue
		}
		fmt.Fprintf(&b, "\n- %s: %s", o.PostalCode, o.Reason)
	}
	return b.String()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
