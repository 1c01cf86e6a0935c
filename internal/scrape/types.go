// Package scrape defines the domain types shared by the planner, walker,
// dispatcher and coordinator: page ranges, filter facets, candidate records
// and the collaborator interfaces they depend on.
package scrape

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PageRange is an inclusive span of listing pages assigned to one worker.
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Size returns the number of pages covered by the range.
func (r PageRange) Size() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// String renders the range as "start-end".
func (r PageRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// AgeRange is one declared age partition. Either bound may be absent.
type AgeRange struct {
	Min *int `json:"min" mapstructure:"min"`
	Max *int `json:"max" mapstructure:"max"`
}

// NewAgeRange builds a fully bounded AgeRange.
func NewAgeRange(minAge, maxAge int) AgeRange {
	return AgeRange{Min: &minAge, Max: &maxAge}
}

// Label renders the range as "min-max", using "any" for a missing bound.
func (a AgeRange) Label() string {
	return boundLabel(a.Min) + "-" + boundLabel(a.Max)
}

// IsZero reports whether neither bound is set.
func (a AgeRange) IsZero() bool {
	return a.Min == nil && a.Max == nil
}

func boundLabel(v *int) string {
	if v == nil {
		return "any"
	}
	return strconv.Itoa(*v)
}

// Facet is the filter scope of one listing query: a postal code plus optional
// age bounds.
type Facet struct {
	PostalCode string `json:"postal_code"`
	AgeMin     *int   `json:"age_min,omitempty"`
	AgeMax     *int   `json:"age_max,omitempty"`
}

// WithAge returns a copy of the facet narrowed to the given age range.
func (f Facet) WithAge(a AgeRange) Facet {
	f.AgeMin = copyInt(a.Min)
	f.AgeMax = copyInt(a.Max)
	return f
}

// WithoutAge returns a copy of the facet with both age bounds cleared.
func (f Facet) WithoutAge() Facet {
	f.AgeMin = nil
	f.AgeMax = nil
	return f
}

// Age returns the age bounds of the facet as an AgeRange.
func (f Facet) Age() AgeRange {
	return AgeRange{Min: copyInt(f.AgeMin), Max: copyInt(f.AgeMax)}
}

// HasAge reports whether any age bound is set.
func (f Facet) HasAge() bool {
	return f.AgeMin != nil || f.AgeMax != nil
}

// AgeLabel returns the age label or an empty string when no bound is set.
func (f Facet) AgeLabel() string {
	if !f.HasAge() {
		return ""
	}
	return f.Age().Label()
}

// String renders the facet for logs.
func (f Facet) String() string {
	if !f.HasAge() {
		return f.PostalCode
	}
	return f.PostalCode + " age " + f.AgeLabel()
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

// Listing is one fetched listing page: the candidate ids it references and
// the raw payload the ids were extracted from.
type Listing struct {
	IDs []string
	Raw string
}

// CandidateRecord is the structured profile extracted from a detail page.
// Records are immutable once extracted.
type CandidateRecord struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Job           string     `json:"job"`
	Phone         string     `json:"phone"`
	Email         string     `json:"email"`
	Salary        *int       `json:"salary,omitempty"`
	Address       string     `json:"address"`
	WorkingHours  string     `json:"working_hours"`
	ContractType  string     `json:"contract_type"`
	Gender        string     `json:"gender"`
	MaritalStatus string     `json:"marital_status"`
	BirthDate     *time.Time `json:"birth_date,omitempty"`
	PostalCode    string     `json:"cep"`
	RunTag        string     `json:"instancia"`
}

// BirthDateISO renders the birth date as yyyy-mm-dd, or "" when unknown.
func (r CandidateRecord) BirthDateISO() string {
	if r.BirthDate == nil {
		return ""
	}
	return r.BirthDate.Format(time.DateOnly)
}

// PostalCodeNumber returns the postal code as the integer stored by sinks.
func (r CandidateRecord) PostalCodeNumber() (int64, bool) {
	return PostalCodeDigits(r.PostalCode)
}

// PostalCodeDigits strips every non-digit from a CEP and parses the rest,
// so "01050-030" becomes 1050030.
func PostalCodeDigits(cep string) (int64, bool) {
	var b strings.Builder
	for _, r := range cep {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// WorkerJob is one unit of parallel work: a page range of a facet walked by
// a single worker process.
type WorkerJob struct {
	Index       int       `json:"index"`
	Range       PageRange `json:"range"`
	Facet       Facet     `json:"facet"`
	RunTag      string    `json:"run_tag"`
	MaxDistance int       `json:"max_distance"`
	LogPath     string    `json:"log_path"`
}
