// Package memory provides cross-session context records: flat key/value
// memory entries, session context snapshots, and reflexion-style mistake
// records written when a task fails a gate.
package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/taskledger/taskledger/internal/domain"
)

// Category classifies a memory entry.
type Category string

const (
	CategoryObservation Category = "observation"
	CategoryDecision    Category = "decision"
	CategoryError       Category = "error"
	CategoryInsight     Category = "insight"
)

// ValidCategories lists all valid entry categories.
var ValidCategories = []Category{CategoryObservation, CategoryDecision, CategoryError, CategoryInsight}

// Entry is a single flat memory record attached to a checkpoint.
type Entry struct {
	Key       string    `json:"key"`
	Category  Category  `json:"category"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks required fields and the category enum.
func (e *Entry) Validate() error {
	if e.Key == "" {
		return fmt.Errorf("memory entry key is required: %w", domain.ErrValidation)
	}
	switch e.Category {
	case CategoryObservation, CategoryDecision, CategoryError, CategoryInsight:
		return nil
	default:
		return fmt.Errorf("invalid memory category %q: %w", e.Category, domain.ErrValidation)
	}
}

// SessionContext captures where a session left off, for fast resume.
type SessionContext struct {
	Goal        string   `json:"goal,omitempty"`
	Blockers    []string `json:"blockers,omitempty"`
	Decisions   []string `json:"decisions,omitempty"`
	NextActions []string `json:"next_actions,omitempty"`
}

// Signature identifies a class of failure for cross-session matching.
type Signature struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Context string `json:"context,omitempty"`
}

// Matches reports whether two signatures describe the same class of
// failure: same type and one message is a prefix of the other after
// normalization. Messages often embed variable detail (paths, ids), so
// exact equality would under-match.
func (s Signature) Matches(other Signature) bool {
	if s.Type != other.Type {
		return false
	}
	a := strings.ToLower(strings.TrimSpace(s.Message))
	b := strings.ToLower(strings.TrimSpace(other.Message))
	if a == "" || b == "" {
		return a == b
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// Mistake is a structured post-failure record. It is metadata for learning,
// not a control-flow mechanism: nothing in the engine branches on it.
type Mistake struct {
	ID           string    `json:"id"`
	WorkflowID   string    `json:"workflow_id"`
	TaskID       string    `json:"task_id"`
	Signature    Signature `json:"signature"`
	WhatHappened string    `json:"what_happened"`
	RootCause    string    `json:"root_cause,omitempty"`
	FixApplied   string    `json:"fix_applied,omitempty"`
	Lesson       string    `json:"lesson,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks required mistake fields.
func (m *Mistake) Validate() error {
	if m.TaskID == "" {
		return fmt.Errorf("mistake task_id is required: %w", domain.ErrValidation)
	}
	if m.Signature.Type == "" {
		return fmt.Errorf("mistake signature type is required: %w", domain.ErrValidation)
	}
	if m.WhatHappened == "" {
		return fmt.Errorf("mistake what_happened is required: %w", domain.ErrValidation)
	}
	return nil
}
