// Package sqlite stores candidate rows in a local SQLite file for offline
// runs.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/cep-candidate-scraper/internal/extract"
	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

const schema = `
CREATE TABLE IF NOT EXISTS candidates (
	id             TEXT PRIMARY KEY,
	name           TEXT,
	job            TEXT,
	phone          TEXT,
	email          TEXT,
	salary         INTEGER,
	address        TEXT,
	working_hours  TEXT,
	contract_type  TEXT,
	gender         TEXT,
	gender_marital TEXT,
	birth_date     TEXT,
	instancia      TEXT,
	cep            INTEGER,
	updated_at     TEXT NOT NULL
)`

// CandidateStore upserts candidate rows into SQLite.
type CandidateStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ scrape.RowSink = (*CandidateStore)(nil)

// Open opens (creating if needed) the database at path. Several worker
// processes may share one file; writers wait on the busy timeout.
func Open(ctx context.Context, path string) (*CandidateStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create candidates table: %w", err)
	}
	return &CandidateStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *CandidateStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// Upsert inserts or merges the record, keeping known values over unknown
// ones.
func (s *CandidateStore) Upsert(ctx context.Context, rec scrape.CandidateRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("candidate id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO candidates (
	id, name, job, phone, email, salary, address, working_hours,
	contract_type, gender, gender_marital, birth_date, instancia, cep, updated_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT (id) DO UPDATE SET
	name           = COALESCE(excluded.name, candidates.name),
	job            = COALESCE(excluded.job, candidates.job),
	phone          = COALESCE(excluded.phone, candidates.phone),
	email          = COALESCE(excluded.email, candidates.email),
	salary         = COALESCE(excluded.salary, candidates.salary),
	address        = COALESCE(NULLIF(excluded.address, '%[1]s'), candidates.address, excluded.address),
	working_hours  = COALESCE(NULLIF(excluded.working_hours, '%[1]s'), candidates.working_hours, excluded.working_hours),
	contract_type  = COALESCE(NULLIF(excluded.contract_type, '%[1]s'), candidates.contract_type, excluded.contract_type),
	gender         = COALESCE(NULLIF(excluded.gender, '%[1]s'), candidates.gender, excluded.gender),
	gender_marital = COALESCE(NULLIF(excluded.gender_marital, '%[1]s'), candidates.gender_marital, excluded.gender_marital),
	birth_date     = COALESCE(excluded.birth_date, candidates.birth_date),
	instancia      = COALESCE(excluded.instancia, candidates.instancia),
	cep            = COALESCE(excluded.cep, candidates.cep),
	updated_at     = excluded.updated_at`, extract.NotInformed)

	var cep any
	if n, ok := rec.PostalCodeNumber(); ok {
		cep = n
	}
	var salary any
	if rec.Salary != nil {
		salary = *rec.Salary
	}
	args := []any{
		rec.ID,
		nullIfEmpty(rec.Name),
		nullIfEmpty(rec.Job),
		nullIfEmpty(rec.Phone),
		nullIfEmpty(rec.Email),
		salary,
		nullIfEmpty(rec.Address),
		nullIfEmpty(rec.WorkingHours),
		nullIfEmpty(rec.ContractType),
		nullIfEmpty(rec.Gender),
		nullIfEmpty(rec.MaritalStatus),
		nullIfEmpty(rec.BirthDateISO()),
		nullIfEmpty(rec.RunTag),
		cep,
		s.now().UTC().Format(time.RFC3339),
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert candidate %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads one row back as a record.
func (s *CandidateStore) Get(ctx context.Context, id string) (scrape.CandidateRecord, error) {
	const query = `
SELECT id, COALESCE(name,''), COALESCE(job,''), COALESCE(phone,''), COALESCE(email,''),
	salary, COALESCE(address,''), COALESCE(working_hours,''), COALESCE(contract_type,''),
	COALESCE(gender,''), COALESCE(gender_marital,''), birth_date, COALESCE(instancia,''), cep
FROM candidates WHERE id = ?`
	var (
		rec    scrape.CandidateRecord
		salary sql.NullInt64
		birth  sql.NullString
		cep    sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.Name, &rec.Job, &rec.Phone, &rec.Email, &salary,
		&rec.Address, &rec.WorkingHours, &rec.ContractType, &rec.Gender,
		&rec.MaritalStatus, &birth, &rec.RunTag, &cep,
	)
	if err != nil {
		return scrape.CandidateRecord{}, fmt.Errorf("load candidate %s: %w", id, err)
	}
	if salary.Valid {
		v := int(salary.Int64)
		rec.Salary = &v
	}
	if birth.Valid {
		if d, err := time.Parse(time.DateOnly, birth.String); err == nil {
			rec.BirthDate = &d
		}
	}
	if cep.Valid {
		rec.PostalCode = fmt.Sprintf("%08d", cep.Int64)
	}
	return rec, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
