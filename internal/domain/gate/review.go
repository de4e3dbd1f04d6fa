package gate

import (
	"fmt"
	"time"

	"github.com/taskledger/taskledger/internal/domain"
)

// DefaultReviewIterationCap bounds review rounds per stage before the task
// escalates to failed.
const DefaultReviewIterationCap = 3

// ReviewStage identifies which of the two ordered review stages a record
// belongs to. Spec compliance is always reviewed before code quality.
type ReviewStage string

const (
	StageSpecCompliance ReviewStage = "spec_compliance"
	StageCodeQuality    ReviewStage = "code_quality"
)

// ReviewResult is the outcome of a single review round.
type ReviewResult string

const (
	ResultApproved     ReviewResult = "approved"
	ResultNeedsChanges ReviewResult = "needs_changes"
	ResultRejected     ReviewResult = "rejected"
)

// Review records one round of one review stage.
type Review struct {
	Stage      ReviewStage  `json:"stage"`
	Result     ReviewResult `json:"result"`
	Iteration  int          `json:"iteration"`
	Reviewer   string       `json:"reviewer,omitempty"`
	Notes      string       `json:"notes,omitempty"`
	ReviewedAt time.Time    `json:"reviewed_at"`
}

// Validate checks stage and result values.
func (r *Review) Validate() error {
	switch r.Stage {
	case StageSpecCompliance, StageCodeQuality:
	default:
		return fmt.Errorf("invalid review stage %q: %w", r.Stage, domain.ErrValidation)
	}
	switch r.Result {
	case ResultApproved, ResultNeedsChanges, ResultRejected:
	default:
		return fmt.Errorf("invalid review result %q: %w", r.Result, domain.ErrValidation)
	}
	return nil
}

// NextStage returns the stage the next review must target: spec_compliance
// until it has an approval, then code_quality.
func NextStage(history []Review) ReviewStage {
	if StageApproved(history, StageSpecCompliance) {
		return StageCodeQuality
	}
	return StageSpecCompliance
}

// StageApproved reports whether the given stage has an approved round.
func StageApproved(history []Review, stage ReviewStage) bool {
	for _, r := range history {
		if r.Stage == stage && r.Result == ResultApproved {
			return true
		}
	}
	return false
}

// BothApproved reports whether both stages have been approved.
func BothApproved(history []Review) bool {
	return StageApproved(history, StageSpecCompliance) && StageApproved(history, StageCodeQuality)
}

// IterationFor returns the iteration number the next review of the given
// stage should carry (1-based, incremented per round of the same stage).
func IterationFor(history []Review, stage ReviewStage) int {
	n := 0
	for _, r := range history {
		if r.Stage == stage {
			n++
		}
	}
	return n + 1
}

// CapExceeded reports whether the stage has reached the iteration cap
// without an approval. The cap applies to both stages symmetrically.
func CapExceeded(history []Review, stage ReviewStage, cap int) bool {
	if cap <= 0 {
		cap = DefaultReviewIterationCap
	}
	if StageApproved(history, stage) {
		return false
	}
	rounds := 0
	for _, r := range history {
		if r.Stage == stage {
			rounds++
		}
	}
	return rounds >= cap
}
