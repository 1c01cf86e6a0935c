// Package cepsource enumerates the postal codes a run should process and
// loads the exclusion list.
package cepsource

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

// ColumnName is the CSV header holding postal codes.
const ColumnName = "cep"

// Source yields postal codes one at a time. ok is false once exhausted.
type Source interface {
	Next(ctx context.Context) (cep string, ok bool, err error)
}

// Closer is implemented by sources holding a file.
type Closer interface {
	Close() error
}

type single struct {
	cep  string
	done bool
}

// Single returns a Source yielding exactly one postal code.
func Single(cep string) Source {
	return &single{cep: strings.TrimSpace(cep)}
}

func (s *single) Next(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, fmt.Errorf("next postal code: %w", err)
	}
	if s.done || s.cep == "" {
		return "", false, nil
	}
	s.done = true
	return s.cep, true, nil
}

// CSV lazily reads postal codes from the cep column of a CSV file.
type CSV struct {
	file   *os.File
	reader *csv.Reader
	column int
}

// OpenCSV opens path and locates the cep column in its header.
func OpenCSV(path string) (*CSV, error) {
	// #nosec G304 -- path is an operator-supplied input file.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open postal code file: %w", err)
	}
	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		_ = f.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("postal code file %s is empty: %w", path, scrape.ErrInvalidArgument)
		}
		return nil, fmt.Errorf("read postal code header: %w", err)
	}
	column := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")), ColumnName) {
			column = i
			break
		}
	}
	if column < 0 {
		_ = f.Close()
		return nil, fmt.Errorf("postal code file %s has no %q column: %w", path, ColumnName, scrape.ErrInvalidArgument)
	}
	return &CSV{file: f, reader: reader, column: column}, nil
}

// Next returns the next non-blank postal code.
func (c *CSV) Next(ctx context.Context) (string, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", false, fmt.Errorf("next postal code: %w", err)
		}
		record, err := c.reader.Read()
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("read postal code row: %w", err)
		}
		if c.column >= len(record) {
			continue
		}
		if cep := strings.TrimSpace(record[c.column]); cep != "" {
			return cep, true, nil
		}
	}
}

// Close releases the underlying file.
func (c *CSV) Close() error {
	if err := c.file.Close(); err != nil {
		return fmt.Errorf("close postal code file: %w", err)
	}
	return nil
}

// Count returns the number of non-blank postal codes in a CSV file.
func Count(ctx context.Context, path string) (int, error) {
	src, err := OpenCSV(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = src.Close() }()
	n := 0
	for {
		_, ok, err := src.Next(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

// ExcludeSet holds postal codes to skip. Codes are compared by their digits
// so "01310-000" and "01310000" match.
type ExcludeSet struct {
	set mapset.Set[string]
}

// NewExcludeSet builds a set from raw codes.
func NewExcludeSet(codes ...string) ExcludeSet {
	set := mapset.NewSet[string]()
	for _, code := range codes {
		if key := normalize(code); key != "" {
			set.Add(key)
		}
	}
	return ExcludeSet{set: set}
}

// Contains reports whether cep is excluded.
func (e ExcludeSet) Contains(cep string) bool {
	if e.set == nil {
		return false
	}
	return e.set.Contains(normalize(cep))
}

// Len returns the number of excluded codes.
func (e ExcludeSet) Len() int {
	if e.set == nil {
		return 0
	}
	return e.set.Cardinality()
}

// LoadExcludeList parses value as a JSON array of postal codes, or, when it
// does not start with '[', as the path of a CSV file with a cep column.
func LoadExcludeList(ctx context.Context, value string) (ExcludeSet, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return NewExcludeSet(), nil
	}
	if strings.HasPrefix(value, "[") {
		var codes []any
		dec := json.NewDecoder(strings.NewReader(value))
		dec.UseNumber()
		if err := dec.Decode(&codes); err != nil {
			return ExcludeSet{}, fmt.Errorf("parse exclude list: %w: %w", scrape.ErrInvalidArgument, err)
		}
		raw := make([]string, 0, len(codes))
		for _, code := range codes {
			raw = append(raw, fmt.Sprint(code))
		}
		return NewExcludeSet(raw...), nil
	}
	src, err := OpenCSV(value)
	if err != nil {
		return ExcludeSet{}, err
	}
	defer func() { _ = src.Close() }()
	var raw []string
	for {
		cep, ok, err := src.Next(ctx)
		if err != nil {
			return ExcludeSet{}, err
		}
		if !ok {
			return NewExcludeSet(raw...), nil
		}
		raw = append(raw, cep)
	}
}

func normalize(cep string) string {
	var b strings.Builder
	for _, r := range cep {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return strings.ToLower(strings.TrimSpace(cep))
	}
	return b.String()
}
