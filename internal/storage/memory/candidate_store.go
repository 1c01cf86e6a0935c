package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/JakeFAU/cep-candidate-scraper/internal/extract"
	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

// CandidateStore keeps candidate rows in a map keyed by id.
type CandidateStore struct {
	mu      sync.RWMutex
	rows    map[string]scrape.CandidateRecord
	upserts int
	fail    map[string]error
}

var _ scrape.RowSink = (*CandidateStore)(nil)

// NewCandidateStore constructs an empty CandidateStore.
func NewCandidateStore() *CandidateStore {
	return &CandidateStore{
		rows: make(map[string]scrape.CandidateRecord),
		fail: make(map[string]error),
	}
}

// FailOn makes every Upsert of id return err.
func (s *CandidateStore) FailOn(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[id] = err
}

// Upsert inserts the record or merges it into the stored one.
func (s *CandidateStore) Upsert(_ context.Context, rec scrape.CandidateRecord) error {
	if rec.ID == "" {
		return errors.New("candidate id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[rec.ID]; err != nil {
		return err
	}
	s.upserts++
	if old, ok := s.rows[rec.ID]; ok {
		rec = Merge(old, rec)
	}
	s.rows[rec.ID] = rec
	return nil
}

// Close is a no-op.
func (s *CandidateStore) Close() {}

// Get returns the stored record for id.
func (s *CandidateStore) Get(id string) (scrape.CandidateRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rows[id]
	return rec, ok
}

// IDs returns the stored ids in order.
func (s *CandidateStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Upserts counts successful Upsert calls, merges included.
func (s *CandidateStore) Upserts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upserts
}

// Merge applies next over prev the way the SQL sinks do: unknown values
// never replace known ones.
func Merge(prev, next scrape.CandidateRecord) scrape.CandidateRecord {
	out := next
	out.Name = firstKnown(next.Name, prev.Name)
	out.Job = firstKnown(next.Job, prev.Job)
	out.Phone = firstKnown(next.Phone, prev.Phone)
	out.Email = firstKnown(next.Email, prev.Email)
	out.Address = firstInformed(next.Address, prev.Address)
	out.WorkingHours = firstInformed(next.WorkingHours, prev.WorkingHours)
	out.ContractType = firstInformed(next.ContractType, prev.ContractType)
	out.Gender = firstInformed(next.Gender, prev.Gender)
	out.MaritalStatus = firstInformed(next.MaritalStatus, prev.MaritalStatus)
	out.PostalCode = firstKnown(next.PostalCode, prev.PostalCode)
	out.RunTag = firstKnown(next.RunTag, prev.RunTag)
	if out.Salary == nil {
		out.Salary = prev.Salary
	}
	if out.BirthDate == nil {
		out.BirthDate = prev.BirthDate
	}
	return out
}

func firstKnown(next, prev string) string {
	if next != "" {
		return next
	}
	return prev
}

func firstInformed(next, prev string) string {
	if next != "" && next != extract.NotInformed {
		return next
	}
	if prev != "" {
		return prev
	}
	return next
}
