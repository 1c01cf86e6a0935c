package leadpush

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PgxSource pages rows with a non-empty name and phone out of a Postgres
// table, each rendered as a JSON document.
type PgxSource struct {
	db    queryer
	table string
}

// NewPgxSource validates the table name and wraps db.
func NewPgxSource(db queryer, table string) (*PgxSource, error) {
	if db == nil {
		return nil, fmt.Errorf("database pool is required")
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PgxSource{db: db, table: table}, nil
}

// FetchRows returns up to limit rows starting at offset, ordered by id.
func (s *PgxSource) FetchRows(ctx context.Context, offset, limit int) ([]json.RawMessage, error) {
	query := fmt.Sprintf(`
SELECT row_to_json(t)::text
FROM %s t
WHERE COALESCE(t.name, '') <> '' AND COALESCE(t.phone, '') <> ''
ORDER BY t.id
LIMIT $1 OFFSET $2`, s.table)
	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query leads: %w", err)
	}
	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (json.RawMessage, error) {
		var doc string
		if err := row.Scan(&doc); err != nil {
			return nil, err
		}
		return json.RawMessage(doc), nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan leads: %w", err)
	}
	return docs, nil
}
