package rundir

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

func TestCreateLayout(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "logs")
	now := time.Date(2026, 3, 9, 14, 5, 7, 0, time.UTC)
	layout, err := Create(root, now)
	require.NoError(t, err)
	defer func() { require.NoError(t, layout.Close()) }()

	require.Equal(t, filepath.Join(root, "2026-03-09_14-05-07"), layout.RunDir())
	info, err := os.Stat(layout.RunDir())
	require.NoError(t, err)
	require.True(t, info.IsDir())

	dir, err := layout.UnitDir(scrape.Facet{PostalCode: "01310-000"}.WithAge(scrape.NewAgeRange(18, 20)))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(layout.RunDir(), "cep_01310_000", "age_18_20"), dir)
	_, err = os.Stat(dir)
	require.NoError(t, err)
}

func TestCreateRefusesLockedRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	first, err := Create(root, time.Unix(0, 0).UTC())
	require.NoError(t, err)

	_, err = Create(root, time.Unix(60, 0).UTC())
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Close())
	second, err := Create(root, time.Unix(120, 0).UTC())
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestNames(t *testing.T) {
	t.Parallel()

	require.Equal(t, "cep_04538_133", UnitPath(scrape.Facet{PostalCode: "04538-133"}))
	maxAge := 25
	require.Equal(t,
		filepath.Join("cep_04538133", "age_any_25"),
		UnitPath(scrape.Facet{PostalCode: "04538133", AgeMax: &maxAge}),
	)
	require.Equal(t, "job_001_1-4.log", JobLogName(1, scrape.PageRange{Start: 1, End: 4}))
	require.Equal(t, "job_012_100-149.log", JobLogName(12, scrape.PageRange{Start: 100, End: 149}))
}

func TestCreateRequiresRoot(t *testing.T) {
	t.Parallel()

	_, err := Create(" ", time.Now())
	require.ErrorIs(t, err, scrape.ErrInvalidArgument)
}
