// Package rundir lays out the per-run log tree: one timestamped directory per
// coordinator run, one sub-directory per postal code and age range, and one
// log file per worker job.
package rundir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

const (
	// TimestampLayout names run directories.
	TimestampLayout = "2006-01-02_15-04-05"
	lockFileName    = ".cepscraper.lock"
	dirPerm         = 0o750
)

// ErrLocked is returned when another coordinator holds the log root.
var ErrLocked = errors.New("log root is locked by another run")

// Layout is one run's log directory.
type Layout struct {
	root   string
	runDir string
	lock   *flock.Flock
}

// Create makes root/<timestamp> and takes an exclusive lock on root so two
// coordinators never share a log tree.
func Create(root string, now time.Time) (*Layout, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("logs dir is required: %w", scrape.ErrInvalidArgument)
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	lock := flock.New(filepath.Join(root, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock logs dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", root, ErrLocked)
	}
	runDir := filepath.Join(root, now.Format(TimestampLayout))
	if err := os.MkdirAll(runDir, dirPerm); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	return &Layout{root: root, runDir: runDir, lock: lock}, nil
}

// Root returns the logs root.
func (l *Layout) Root() string {
	return l.root
}

// RunDir returns the timestamped directory of this run.
func (l *Layout) RunDir() string {
	return l.runDir
}

// UnitDir creates and returns the directory for a facet.
func (l *Layout) UnitDir(facet scrape.Facet) (string, error) {
	dir := filepath.Join(l.runDir, UnitPath(facet))
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("create unit dir: %w", err)
	}
	return dir, nil
}

// Close releases the log-root lock.
func (l *Layout) Close() error {
	if l == nil || l.lock == nil {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock logs dir: %w", err)
	}
	return nil
}

// UnitPath is the facet's directory relative to the run directory:
// cep_<code> with dashes replaced by underscores, plus age_<min>_<max> when
// the facet is age-scoped.
func UnitPath(facet scrape.Facet) string {
	path := "cep_" + sanitize(facet.PostalCode)
	if facet.HasAge() {
		path = filepath.Join(path, "age_"+sanitize(facet.AgeLabel()))
	}
	return path
}

// JobLogName names the log file of one worker job, e.g. job_001_1-4.log.
func JobLogName(index int, rng scrape.PageRange) string {
	return fmt.Sprintf("job_%03d_%d-%d.log", index, rng.Start, rng.End)
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			return r
		default:
			return '_'
		}
	}, s)
}
