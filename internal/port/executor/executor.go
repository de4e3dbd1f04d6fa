// Package executor defines the port interface for running verification commands.
package executor

import (
	"context"
	"time"
)

// Result is the observable outcome of a completed command.
type Result struct {
	ExitCode int
	Output   string
	Duration time.Duration
	TimedOut bool
}

// Executor runs a shell command with a hard timeout. Implementations
// must return a Result even when the command fails or times out; an
// error return means the command could not be started at all.
type Executor interface {
	Run(ctx context.Context, command string, timeout time.Duration) (Result, error)
}
