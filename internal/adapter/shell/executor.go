// Package shell implements the executor port by running commands
// through the system shell with a bounded concurrency pool.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/taskledger/taskledger/internal/port/executor"
)

// maxOutputBytes caps captured command output. Verification results are
// embedded in event payloads, so unbounded output would bloat the log.
const maxOutputBytes = 64 * 1024

// Executor runs commands via "sh -c" with a weighted semaphore limiting
// concurrent executions across the whole process.
type Executor struct {
	sem *semaphore.Weighted
	dir string
}

// New creates an Executor that allows at most limit concurrent commands.
// dir is the working directory for all commands; empty means inherit.
func New(limit int, dir string) *Executor {
	if limit < 1 {
		limit = 1
	}
	return &Executor{sem: semaphore.NewWeighted(int64(limit)), dir: dir}
}

// Run executes command with a hard timeout. A non-zero exit or a timeout
// is reported in the Result, not as an error; the error return is
// reserved for commands that could not run at all.
func (e *Executor) Run(ctx context.Context, command string, timeout time.Duration) (executor.Result, error) {
	if command == "" {
		return executor.Result{}, fmt.Errorf("empty command")
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return executor.Result{}, err
	}
	defer e.sem.Release(1)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if e.dir != "" {
		cmd.Dir = e.dir
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	res := executor.Result{
		Output:   truncate(out.String()),
		Duration: time.Since(start),
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = -1
		return res, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("run command: %w", err)
	}
	return res, nil
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes]
}
