package scrape

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks configuration errors such as a non-positive
	// page total or worker count.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDiscovery marks a postal code whose candidate count could not be
	// determined and for which no page total was supplied.
	ErrDiscovery = errors.New("candidate discovery failed")
)

// FetchError wraps a transport or parse failure for one page or candidate.
type FetchError struct {
	Page        int
	CandidateID string
	Err         error
}

func (e *FetchError) Error() string {
	if e.CandidateID != "" {
		return fmt.Sprintf("fetch candidate %s: %v", e.CandidateID, e.Err)
	}
	return fmt.Sprintf("fetch page %d: %v", e.Page, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// WorkerExitError reports a worker process that did not exit cleanly.
type WorkerExitError struct {
	Job      WorkerJob
	ExitCode int
}

func (e *WorkerExitError) Error() string {
	return fmt.Sprintf("worker %d (%s pages %s) exited with code %d",
		e.Job.Index, e.Job.Facet, e.Job.Range, e.ExitCode)
}
