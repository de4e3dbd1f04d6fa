package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/taskledger/taskledger/internal/domain"
)

// DefaultVerificationTimeout bounds a verification command when the entry
// does not set one.
const DefaultVerificationTimeout = 2 * time.Minute

// ReasonTimeout is recorded when a verification command exceeds its timeout.
// A timed-out gate is failed, never left pending.
const ReasonTimeout = "VerificationTimeout"

// VerificationEntry configures one proof-of-completion command.
type VerificationEntry struct {
	Command         string        `json:"command"`
	ExpectSubstring string        `json:"expect_substring,omitempty"`
	ExpectExitCode  *int          `json:"expect_exit_code,omitempty"` // nil = 0
	Timeout         time.Duration `json:"timeout,omitempty"`
}

// Validate checks the entry for structural correctness.
func (e *VerificationEntry) Validate() error {
	if strings.TrimSpace(e.Command) == "" {
		return fmt.Errorf("verification command is required: %w", domain.ErrValidation)
	}
	if e.Timeout < 0 {
		return fmt.Errorf("verification timeout must be non-negative: %w", domain.ErrValidation)
	}
	return nil
}

// ExpectedExitCode returns the configured exit code, defaulting to 0.
func (e *VerificationEntry) ExpectedExitCode() int {
	if e.ExpectExitCode == nil {
		return 0
	}
	return *e.ExpectExitCode
}

// EffectiveTimeout returns the configured timeout, defaulting to
// DefaultVerificationTimeout.
func (e *VerificationEntry) EffectiveTimeout() time.Duration {
	if e.Timeout <= 0 {
		return DefaultVerificationTimeout
	}
	return e.Timeout
}

// VerificationResult is the full evidence record for one executed entry.
type VerificationResult struct {
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
	TimedOut bool          `json:"timed_out"`
	Passed   bool          `json:"passed"`
	Reason   string        `json:"reason,omitempty"`
}

// Evaluate builds the result record for an executed entry.
func (e *VerificationEntry) Evaluate(exitCode int, output string, timedOut bool, duration time.Duration) VerificationResult {
	res := VerificationResult{
		Command:  e.Command,
		ExitCode: exitCode,
		Output:   output,
		Duration: duration,
		TimedOut: timedOut,
	}
	switch {
	case timedOut:
		res.Reason = ReasonTimeout
	case exitCode != e.ExpectedExitCode():
		res.Reason = fmt.Sprintf("exit code %d, expected %d", exitCode, e.ExpectedExitCode())
	case e.ExpectSubstring != "" && !strings.Contains(output, e.ExpectSubstring):
		res.Reason = fmt.Sprintf("output does not contain %q", e.ExpectSubstring)
	default:
		res.Passed = true
	}
	return res
}

// AllPassed reports whether every result in the gate run passed.
// An empty run never passes; the gate must have produced evidence.
func AllPassed(results []VerificationResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
