package leadpush

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestPgxSourceFetchRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	src, err := NewPgxSource(mock, "candidates")
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT row_to_json\(t\)::text\s+FROM candidates t`).
		WithArgs(2, 10).
		WillReturnRows(mock.NewRows([]string{"row_to_json"}).
			AddRow(`{"id":"1","name":"Ana","phone":"11"}`).
			AddRow(`{"id":"2","name":"Bia","phone":"12"}`))

	rows, err := src.FetchRows(context.Background(), 10, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.JSONEq(t, `{"id":"2","name":"Bia","phone":"12"}`, string(rows[1]))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgxSourceErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPgxSource(mock, "drop table;")
	require.Error(t, err)
	_, err = NewPgxSource(nil, "candidates")
	require.Error(t, err)

	src, err := NewPgxSource(mock, "candidates")
	require.NoError(t, err)
	boom := errors.New("relation does not exist")
	mock.ExpectQuery("SELECT row_to_json").WithArgs(5, 0).WillReturnError(boom)
	_, err = src.FetchRows(context.Background(), 0, 5)
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}
