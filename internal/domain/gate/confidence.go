// Package gate defines the domain types for the three quality gates:
// pre-execution confidence checks, command-based verification, and
// two-stage review.
package gate

import (
	"fmt"
	"time"

	"github.com/taskledger/taskledger/internal/domain"
)

// DefaultConfidenceThreshold is used when a workflow does not configure one.
const DefaultConfidenceThreshold = 0.7

// Recommendation suggests how the caller should act on a failed confidence check.
type Recommendation string

const (
	RecommendProceed  Recommendation = "proceed"
	RecommendClarify  Recommendation = "clarify"
	RecommendResearch Recommendation = "research"
	RecommendDefer    Recommendation = "defer"
)

// Dimension is a single self-assessed confidence dimension.
// Weight 0 means "equal share" and is normalized during evaluation.
type Dimension struct {
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Weight   float64 `json:"weight,omitempty"`
	Evidence string  `json:"evidence,omitempty"`
}

// ConfidenceCheck is the recorded outcome of a pre-execution confidence
// gate. WeakDimensions names the dimensions scoring below the threshold
// so a failed check tells the caller where to direct the recommendation.
type ConfidenceCheck struct {
	Dimensions     []Dimension    `json:"dimensions"`
	Overall        float64        `json:"overall"`
	Threshold      float64        `json:"threshold"`
	Passed         bool           `json:"passed"`
	Recommendation Recommendation `json:"recommendation"`
	WeakDimensions []string       `json:"weak_dimensions,omitempty"`
	CheckedAt      time.Time      `json:"checked_at"`
}

// EvaluateConfidence computes the weighted overall score and the resulting
// recommendation. A failed check does not block anything by itself; the
// caller decides, and the check is recorded for audit either way.
func EvaluateConfidence(dims []Dimension, threshold float64, now time.Time) (*ConfidenceCheck, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("at least one confidence dimension is required: %w", domain.ErrValidation)
	}
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}

	var weightSum, weighted float64
	for i, d := range dims {
		if d.Name == "" {
			return nil, fmt.Errorf("dimension %d: name is required: %w", i, domain.ErrValidation)
		}
		if d.Score < 0 || d.Score > 1 {
			return nil, fmt.Errorf("dimension %q: score %v out of range [0,1]: %w", d.Name, d.Score, domain.ErrValidation)
		}
		if d.Weight < 0 {
			return nil, fmt.Errorf("dimension %q: negative weight: %w", d.Name, domain.ErrValidation)
		}
		w := d.Weight
		if w == 0 {
			w = 1 // equal weighting by default
		}
		weightSum += w
		weighted += d.Score * w
	}

	overall := weighted / weightSum
	passed := overall >= threshold

	check := &ConfidenceCheck{
		Dimensions: dims,
		Overall:    overall,
		Threshold:  threshold,
		Passed:     passed,
		CheckedAt:  now,
	}
	check.Recommendation = recommend(dims, passed)
	for _, d := range WeakestDimensions(check) {
		check.WeakDimensions = append(check.WeakDimensions, d.Name)
	}
	return check, nil
}

// recommend maps the weakest dimension onto a next action. The bands are:
// below 0.3 the caller should defer the task entirely, below 0.5 targeted
// research is warranted, otherwise the requirements need clarification.
func recommend(dims []Dimension, passed bool) Recommendation {
	if passed {
		return RecommendProceed
	}
	lowest := dims[0].Score
	for _, d := range dims[1:] {
		if d.Score < lowest {
			lowest = d.Score
		}
	}
	switch {
	case lowest < 0.3:
		return RecommendDefer
	case lowest < 0.5:
		return RecommendResearch
	default:
		return RecommendClarify
	}
}

// WeakestDimensions returns the dimensions scoring strictly below the
// check's threshold, preserving input order.
func WeakestDimensions(check *ConfidenceCheck) []Dimension {
	var weak []Dimension
	for _, d := range check.Dimensions {
		if d.Score < check.Threshold {
			weak = append(weak, d)
		}
	}
	return weak
}
