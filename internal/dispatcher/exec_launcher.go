package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

const defaultWaitDelay = 30 * time.Second

// ExecLauncher starts each worker as a child process of the given executable,
// appending its stdout and stderr to the job's log file. On cancellation the
// child receives an interrupt and is killed if it outlives WaitDelay.
type ExecLauncher struct {
	// Executable defaults to the running binary.
	Executable string
	// Args builds the child arguments; defaults to WorkerArgs.
	Args func(job scrape.WorkerJob) []string
	// ExtraArgs are appended after the job arguments (e.g. --config).
	ExtraArgs []string
	// Env overrides the child environment when non-nil.
	Env       []string
	WaitDelay time.Duration
}

// Spawn starts the worker process.
func (l *ExecLauncher) Spawn(ctx context.Context, job scrape.WorkerJob) (Handle, error) {
	exe := l.Executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		exe = self
	}
	buildArgs := l.Args
	if buildArgs == nil {
		buildArgs = WorkerArgs
	}
	args := append(buildArgs(job), l.ExtraArgs...)

	if err := os.MkdirAll(filepath.Dir(job.LogPath), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	// #nosec G304 -- log path is derived from the run layout.
	logFile, err := os.OpenFile(job.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open worker log: %w", err)
	}

	// #nosec G204 -- the executable and arguments come from our own configuration.
	cmd := exec.CommandContext(ctx, exe, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if l.Env != nil {
		cmd.Env = l.Env
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = l.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultWaitDelay
	}
	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("start worker: %w", err)
	}
	return &execHandle{cmd: cmd, logFile: logFile}, nil
}

type execHandle struct {
	cmd     *exec.Cmd
	logFile *os.File
}

func (h *execHandle) Wait() (int, error) {
	err := h.cmd.Wait()
	closeErr := h.logFile.Close()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, fmt.Errorf("wait worker process: %w", err)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("close worker log: %w", closeErr)
	}
	return 0, nil
}

// WorkerArgs renders the worker command line for a job.
func WorkerArgs(job scrape.WorkerJob) []string {
	args := []string{
		"worker",
		"--postal-code", job.Facet.PostalCode,
		"--page-start", strconv.Itoa(job.Range.Start),
		"--page-end", strconv.Itoa(job.Range.End),
		"--run-tag", job.RunTag,
		"--max-distance", strconv.Itoa(job.MaxDistance),
		"--job-index", strconv.Itoa(job.Index),
		"--log-path", job.LogPath,
	}
	if job.Facet.AgeMin != nil {
		args = append(args, "--age-min", strconv.Itoa(*job.Facet.AgeMin))
	}
	if job.Facet.AgeMax != nil {
		args = append(args, "--age-max", strconv.Itoa(*job.Facet.AgeMax))
	}
	return args
}
