// Package walker drives one worker's scrape: it walks a page range of a
// facet, fetches every listed candidate profile, and upserts the extracted
// records into a row sink while keeping batch bookkeeping.
package walker

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/cep-candidate-scraper/internal/progress"
	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

const (
	defaultBatchSize       = 100
	defaultMaxFailureNotes = 50
)

// Config controls walk bookkeeping.
type Config struct {
	// BatchSize is the number of successful upserts per batch.
	BatchSize int
	// RunTag is stamped on every record.
	RunTag string
	// MaxFailureNotes caps the failures retained on a Result.
	MaxFailureNotes int
}

// StopReason explains why a walk ended.
type StopReason string

// Walk termination reasons.
const (
	StopRangeExhausted StopReason = "range_exhausted"
	StopEmptyPage      StopReason = "empty_page"
	StopPageError      StopReason = "page_error"
	StopCanceled       StopReason = "canceled"
)

// CandidateFailure records one candidate that could not be stored.
type CandidateFailure struct {
	ID     string `json:"id"`
	Page   int    `json:"page"`
	Reason string `json:"reason"`
}

// Result summarizes a walk.
type Result struct {
	PagesProcessed   int
	Upserted         int
	Failed           int
	FinalBatchNumber int
	FinalBatchCount  int
	StopReason       StopReason
	Failures         []CandidateFailure
}

// CandidateOutcome is the per-candidate result: either a stored record or
// the error that prevented it.
type CandidateOutcome struct {
	ID     string
	Record scrape.CandidateRecord
	Err    error
}

// OK reports whether the candidate was stored.
func (o CandidateOutcome) OK() bool {
	return o.Err == nil
}

// Walker processes one facet page range.
type Walker struct {
	cfg     Config
	pages   scrape.PageFetcher
	records scrape.RecordExtractor
	sink    scrape.RowSink
	emitter progress.Emitter
	jobID   [16]byte
	logger  *zap.Logger
}

// New wires a Walker. The emitter may be nil.
func New(
	cfg Config,
	pages scrape.PageFetcher,
	records scrape.RecordExtractor,
	sink scrape.RowSink,
	emitter progress.Emitter,
	jobID [16]byte,
	logger *zap.Logger,
) *Walker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxFailureNotes <= 0 {
		cfg.MaxFailureNotes = defaultMaxFailureNotes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{
		cfg:     cfg,
		pages:   pages,
		records: records,
		sink:    sink,
		emitter: emitter,
		jobID:   jobID,
		logger:  logger,
	}
}

// Walk visits pages rng.Start..rng.End in ascending order. An empty page ends
// the walk, and so does a page that cannot be fetched. Candidate failures are
// counted and skipped. The only error returned is context cancellation.
func (w *Walker) Walk(ctx context.Context, facet scrape.Facet, rng scrape.PageRange) (Result, error) {
	started := time.Now()
	logger := w.logger.With(
		zap.String("postal_code", facet.PostalCode),
		zap.String("age_range", facet.AgeLabel()),
		zap.Stringer("pages", rng),
	)
	w.emit(progress.Event{Stage: progress.StageWorkerStart, PostalCode: facet.PostalCode, AgeRange: facet.AgeLabel()})
	logger.Info("walk started")

	batch := batchCounter{size: w.cfg.BatchSize, number: 1}
	res := Result{StopReason: StopRangeExhausted}

	err := w.walkPages(ctx, facet, rng, &batch, &res, logger)
	res.FinalBatchNumber = batch.number
	res.FinalBatchCount = batch.count

	done := progress.Event{
		Stage:      progress.StageWorkerDone,
		PostalCode: facet.PostalCode,
		AgeRange:   facet.AgeLabel(),
		Dur:        time.Since(started),
		Note:       string(res.StopReason),
	}
	if err != nil {
		res.StopReason = StopCanceled
		done.Stage = progress.StageWorkerError
		done.Note = err.Error()
		w.emit(done)
		logger.Warn("walk interrupted", zap.Int("pages_processed", res.PagesProcessed), zap.Error(err))
		return res, err
	}
	w.emit(done)
	logger.Info("walk finished",
		zap.String("stop_reason", string(res.StopReason)),
		zap.Int("pages_processed", res.PagesProcessed),
		zap.Int("upserted", res.Upserted),
		zap.Int("failed", res.Failed),
		zap.Int("batch", res.FinalBatchNumber),
		zap.Int("batch_count", res.FinalBatchCount),
		zap.Duration("dur", time.Since(started)),
	)
	return res, nil
}

func (w *Walker) walkPages(
	ctx context.Context,
	facet scrape.Facet,
	rng scrape.PageRange,
	batch *batchCounter,
	res *Result,
	logger *zap.Logger,
) error {
	for page := rng.Start; page <= rng.End; page++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("walk page %d: %w", page, err)
		}
		pageStarted := time.Now()
		listing, err := w.pages.FetchPage(ctx, page, facet)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("walk page %d: %w", page, ctxErr)
			}
			logger.Warn("page fetch failed, ending walk early",
				zap.Int("page", page),
				zap.Error(&scrape.FetchError{Page: page, Err: err}),
			)
			res.StopReason = StopPageError
			return nil
		}
		res.PagesProcessed++

		ids := uniqueSorted(listing.IDs)
		if len(ids) == 0 {
			w.emit(progress.Event{
				Stage: progress.StagePageDone, PostalCode: facet.PostalCode, AgeRange: facet.AgeLabel(),
				Page: page, Dur: time.Since(pageStarted),
			})
			logger.Info("empty page, no more candidates", zap.Int("page", page))
			res.StopReason = StopEmptyPage
			return nil
		}
		logger.Info("page listed", zap.Int("page", page), zap.Int("candidates", len(ids)))

		for _, id := range ids {
			batch.advance()
			outcome := w.processCandidate(ctx, facet, id)
			if !outcome.OK() && ctx.Err() != nil {
				return fmt.Errorf("walk candidate %s: %w", id, ctx.Err())
			}
			w.record(outcome, facet, page, batch, res, logger)
		}
		w.emit(progress.Event{
			Stage: progress.StagePageDone, PostalCode: facet.PostalCode, AgeRange: facet.AgeLabel(),
			Page: page, Candidates: len(ids), Batch: batch.number, Dur: time.Since(pageStarted),
		})
	}
	return nil
}

func (w *Walker) processCandidate(ctx context.Context, facet scrape.Facet, id string) CandidateOutcome {
	raw, err := w.records.FetchDetails(ctx, id)
	if err != nil {
		return CandidateOutcome{ID: id, Err: &scrape.FetchError{CandidateID: id, Err: err}}
	}
	record, err := w.records.Extract(id, raw)
	if err != nil {
		return CandidateOutcome{ID: id, Err: fmt.Errorf("extract candidate %s: %w", id, err)}
	}
	record.ID = id
	record.PostalCode = facet.PostalCode
	record.RunTag = w.cfg.RunTag
	if err := w.sink.Upsert(ctx, record); err != nil {
		return CandidateOutcome{ID: id, Record: record, Err: fmt.Errorf("upsert candidate %s: %w", id, err)}
	}
	return CandidateOutcome{ID: id, Record: record}
}

func (w *Walker) record(
	outcome CandidateOutcome,
	facet scrape.Facet,
	page int,
	batch *batchCounter,
	res *Result,
	logger *zap.Logger,
) {
	evt := progress.Event{
		PostalCode:  facet.PostalCode,
		AgeRange:    facet.AgeLabel(),
		Page:        page,
		CandidateID: outcome.ID,
		Batch:       batch.number,
	}
	if outcome.OK() {
		batch.count++
		res.Upserted++
		evt.Stage = progress.StageCandidateSaved
		w.emit(evt)
		return
	}
	res.Failed++
	if len(res.Failures) < w.cfg.MaxFailureNotes {
		res.Failures = append(res.Failures, CandidateFailure{ID: outcome.ID, Page: page, Reason: outcome.Err.Error()})
	}
	evt.Stage = progress.StageCandidateFailed
	evt.Note = outcome.Err.Error()
	w.emit(evt)
	var fetchErr *scrape.FetchError
	logger.Warn("candidate skipped",
		zap.Int("page", page),
		zap.String("candidate_id", outcome.ID),
		zap.Bool("fetch_failure", errors.As(outcome.Err, &fetchErr)),
		zap.Error(outcome.Err),
	)
}

func (w *Walker) emit(evt progress.Event) {
	if w.emitter == nil {
		return
	}
	evt.JobID = w.jobID
	evt.TS = time.Now().UTC()
	w.emitter.Emit(evt)
}

// batchCounter numbers successful upserts in fixed-size batches. A new batch
// opens lazily, right before the candidate that would overflow the current one.
type batchCounter struct {
	size   int
	number int
	count  int
}

func (b *batchCounter) advance() {
	if b.count >= b.size {
		b.number++
		b.count = 0
	}
}

// uniqueSorted deduplicates ids and orders them ascending. Numeric ids sort
// numerically and precede any non-numeric ids, which sort lexically.
func uniqueSorted(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	set := mapset.NewThreadUnsafeSet[string]()
	for _, id := range ids {
		if id != "" {
			set.Add(id)
		}
	}
	out := set.ToSlice()
	slices.SortFunc(out, compareIDs)
	return out
}

func compareIDs(a, b string) int {
	an, aErr := strconv.ParseUint(a, 10, 64)
	bn, bErr := strconv.ParseUint(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		return cmp.Compare(an, bn)
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	default:
		return cmp.Compare(a, b)
	}
}
