package cepsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ceps.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func drain(t *testing.T, src Source) []string {
	t.Helper()
	var out []string
	for {
		cep, ok, err := src.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, cep)
	}
}

func TestCSVReadsCepColumnSkippingBlanks(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "\ufeffcity,CEP\nSao Paulo,01310-000\nCampinas, \nSantos,11010-000\nshort\n")
	src, err := OpenCSV(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, src.Close()) }()

	require.Equal(t, []string{"01310-000", "11010-000"}, drain(t, src))

	n, err := Count(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestCSVRequiresCepColumn(t *testing.T) {
	t.Parallel()

	_, err := OpenCSV(writeCSV(t, "zip\n01310-000\n"))
	require.ErrorIs(t, err, scrape.ErrInvalidArgument)

	_, err = OpenCSV(writeCSV(t, ""))
	require.ErrorIs(t, err, scrape.ErrInvalidArgument)

	_, err = OpenCSV(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

func TestSingle(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"01310-000"}, drain(t, Single(" 01310-000 ")))
	require.Empty(t, drain(t, Single("")))
}

func TestSourceHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Single("01310-000").Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoadExcludeList(t *testing.T) {
	t.Parallel()

	set, err := LoadExcludeList(context.Background(), `["01310-000", 11010000]`)
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())
	require.True(t, set.Contains("01310000"))
	require.True(t, set.Contains("11010-000"))
	require.False(t, set.Contains("04538-133"))

	set, err = LoadExcludeList(context.Background(), writeCSV(t, "cep\n04538-133\n"))
	require.NoError(t, err)
	require.True(t, set.Contains("04538133"))

	set, err = LoadExcludeList(context.Background(), "")
	require.NoError(t, err)
	require.Zero(t, set.Len())
	require.False(t, ExcludeSet{}.Contains("01310-000"))

	_, err = LoadExcludeList(context.Background(), `["unterminated`)
	require.ErrorIs(t, err, scrape.ErrInvalidArgument)
}
