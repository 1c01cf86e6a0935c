// Package progress defines the event structures emitted by scrape workers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageWorkerStart     Stage = "WORKER_START"
	StageWorkerDone      Stage = "WORKER_DONE"
	StageWorkerError     Stage = "WORKER_ERROR"
	StagePageDone        Stage = "PAGE_DONE"
	StageCandidateSaved  Stage = "CANDIDATE_SAVED"
	StageCandidateFailed Stage = "CANDIDATE_FAILED"
)

// Event captures a single component of worker progress.
type Event struct {
	// JobID identifies the worker job using the 16-byte UUID form.
	JobID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// PostalCode and AgeRange scope the event to a facet.
	PostalCode string
	AgeRange   string
	// Page is the listing page the event belongs to.
	Page int
	// CandidateID is set for candidate stages.
	CandidateID string
	// Candidates is the number of ids listed on a page.
	Candidates int
	// Batch is the batch number active when the event was emitted.
	Batch int
	// Dur captures page, candidate or worker latency.
	Dur time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == [16]byte{} {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageWorkerStart, StageWorkerDone, StageWorkerError:
	case StagePageDone:
		if e.Page < 0 {
			return errors.New("page done requires a page number")
		}
	case StageCandidateSaved, StageCandidateFailed:
		if e.CandidateID == "" {
			return errors.New("candidate stage requires candidate id")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// JobUUID converts the binary job ID to uuid.UUID.
func (e Event) JobUUID() uuid.UUID {
	return uuid.UUID(e.JobID)
}
