// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/cep-candidate-scraper/internal/extract"
	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

const defaultTable = "candidates"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for candidate rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// CandidateStore upserts candidate rows keyed by candidate id.
type CandidateStore struct {
	pool  execCloser
	table string
}

var _ scrape.RowSink = (*CandidateStore)(nil)

// NewPool opens a pgx pool from cfg.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sink.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// NewCandidateStore connects to Postgres using cfg.
func NewCandidateStore(ctx context.Context, cfg Config) (*CandidateStore, error) {
	if _, err := tableName(cfg.Table); err != nil {
		return nil, err
	}
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewCandidateStoreWithPool(pool, cfg.Table)
}

// NewCandidateStoreWithPool constructs a store from an existing pool.
func NewCandidateStoreWithPool(pool execCloser, table string) (*CandidateStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &CandidateStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *CandidateStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the candidate table when it does not exist.
func (s *CandidateStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
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
	birth_date     DATE,
	instancia      TEXT,
	cep            BIGINT,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Upsert inserts the record or merges it into the existing row. A column
// only changes when the new value is known: NULLs never overwrite data, and
// the "not informed" placeholder never overwrites a real value.
func (s *CandidateStore) Upsert(ctx context.Context, rec scrape.CandidateRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("candidate store is not configured")
	}
	if rec.ID == "" {
		return fmt.Errorf("candidate id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s AS t (
	id, name, job, phone, email, salary, address, working_hours,
	contract_type, gender, gender_marital, birth_date, instancia, cep
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
ON CONFLICT (id) DO UPDATE SET
	name           = COALESCE(EXCLUDED.name, t.name),
	job            = COALESCE(EXCLUDED.job, t.job),
	phone          = COALESCE(EXCLUDED.phone, t.phone),
	email          = COALESCE(EXCLUDED.email, t.email),
	salary         = COALESCE(EXCLUDED.salary, t.salary),
	address        = %[2]s,
	working_hours  = %[3]s,
	contract_type  = %[4]s,
	gender         = %[5]s,
	gender_marital = %[6]s,
	birth_date     = COALESCE(EXCLUDED.birth_date, t.birth_date),
	instancia      = COALESCE(EXCLUDED.instancia, t.instancia),
	cep            = COALESCE(EXCLUDED.cep, t.cep),
	updated_at     = now()`,
		s.table,
		keepInformed("address"),
		keepInformed("working_hours"),
		keepInformed("contract_type"),
		keepInformed("gender"),
		keepInformed("gender_marital"),
	)
	if _, err := s.pool.Exec(ctx, query, Args(rec)...); err != nil {
		return fmt.Errorf("upsert candidate %s: %w", rec.ID, err)
	}
	return nil
}

func keepInformed(col string) string {
	return fmt.Sprintf("COALESCE(NULLIF(EXCLUDED.%[1]s, '%[2]s'), t.%[1]s, EXCLUDED.%[1]s)", col, extract.NotInformed)
}

// Args returns the insert arguments in column order. Empty strings and
// unknown values become NULL.
func Args(rec scrape.CandidateRecord) []any {
	var cep any
	if n, ok := rec.PostalCodeNumber(); ok {
		cep = n
	}
	var birth any
	if rec.BirthDate != nil {
		birth = *rec.BirthDate
	}
	var salary any
	if rec.Salary != nil {
		salary = *rec.Salary
	}
	return []any{
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
		birth,
		nullIfEmpty(rec.RunTag),
		cep,
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
