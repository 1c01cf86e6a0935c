package scrape

import "context"

// PageFetcher retrieves listing pages for a facet.
type PageFetcher interface {
	FetchPage(ctx context.Context, page int, facet Facet) (Listing, error)
	ExtractTotalCount(raw string) (int, bool)
}

// RecordExtractor retrieves and parses a single candidate profile.
type RecordExtractor interface {
	FetchDetails(ctx context.Context, id string) (string, error)
	Extract(id string, raw string) (CandidateRecord, error)
}

// RowSink persists candidate records with insert-or-update semantics keyed by
// candidate id.
type RowSink interface {
	Upsert(ctx context.Context, record CandidateRecord) error
	Close()
}
