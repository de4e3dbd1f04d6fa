package gate_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/taskledger/taskledger/internal/domain"
	"github.com/taskledger/taskledger/internal/domain/gate"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEvaluateConfidence_EqualWeights(t *testing.T) {
	check, err := gate.EvaluateConfidence([]gate.Dimension{
		{Name: "requirements", Score: 0.8},
		{Name: "approach", Score: 0.6},
	}, 0.7, now)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if math.Abs(check.Overall-0.7) > 1e-9 {
		t.Fatalf("expected overall 0.7, got %v", check.Overall)
	}
	if !check.Passed {
		t.Fatal("expected pass at the threshold boundary")
	}
	if check.Recommendation != gate.RecommendProceed {
		t.Fatalf("expected proceed, got %s", check.Recommendation)
	}
}

func TestEvaluateConfidence_WeightedAverage(t *testing.T) {
	check, err := gate.EvaluateConfidence([]gate.Dimension{
		{Name: "requirements", Score: 1.0, Weight: 3},
		{Name: "risk", Score: 0.0, Weight: 1},
	}, 0.7, now)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if math.Abs(check.Overall-0.75) > 1e-9 {
		t.Fatalf("expected overall 0.75, got %v", check.Overall)
	}
}

func TestEvaluateConfidence_DefaultThreshold(t *testing.T) {
	check, err := gate.EvaluateConfidence([]gate.Dimension{{Name: "a", Score: 0.69}}, 0, now)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if check.Threshold != gate.DefaultConfidenceThreshold {
		t.Fatalf("expected default threshold, got %v", check.Threshold)
	}
	if check.Passed {
		t.Fatal("expected 0.69 to fail the default threshold")
	}
}

func TestEvaluateConfidence_RecommendationBands(t *testing.T) {
	cases := []struct {
		lowest float64
		want   gate.Recommendation
	}{
		{0.1, gate.RecommendDefer},
		{0.4, gate.RecommendResearch},
		{0.6, gate.RecommendClarify},
	}
	for _, c := range cases {
		check, err := gate.EvaluateConfidence([]gate.Dimension{
			{Name: "strong", Score: 0.65},
			{Name: "weak", Score: c.lowest},
		}, 0.7, now)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if check.Recommendation != c.want {
			t.Errorf("lowest %v: expected %s, got %s", c.lowest, c.want, check.Recommendation)
		}
	}
}

func TestEvaluateConfidence_Invalid(t *testing.T) {
	cases := []struct {
		name string
		dims []gate.Dimension
	}{
		{"empty", nil},
		{"unnamed", []gate.Dimension{{Score: 0.5}}},
		{"score above one", []gate.Dimension{{Name: "a", Score: 1.5}}},
		{"negative score", []gate.Dimension{{Name: "a", Score: -0.1}}},
		{"negative weight", []gate.Dimension{{Name: "a", Score: 0.5, Weight: -1}}},
	}
	for _, c := range cases {
		if _, err := gate.EvaluateConfidence(c.dims, 0.7, now); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("%s: expected validation error, got: %v", c.name, err)
		}
	}
}

func TestWeakestDimensions(t *testing.T) {
	check, err := gate.EvaluateConfidence([]gate.Dimension{
		{Name: "a", Score: 0.9},
		{Name: "b", Score: 0.3},
		{Name: "c", Score: 0.5},
	}, 0.7, now)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	weak := gate.WeakestDimensions(check)
	if len(weak) != 2 || weak[0].Name != "b" || weak[1].Name != "c" {
		t.Fatalf("expected [b c], got %v", weak)
	}
	// The recorded check itself names its weak spots.
	if len(check.WeakDimensions) != 2 || check.WeakDimensions[0] != "b" || check.WeakDimensions[1] != "c" {
		t.Fatalf("expected weak dimensions [b c] on the check, got %v", check.WeakDimensions)
	}
}

func TestEvaluateConfidence_NoWeakDimensionsWhenAllAboveThreshold(t *testing.T) {
	check, err := gate.EvaluateConfidence([]gate.Dimension{
		{Name: "a", Score: 0.9},
		{Name: "b", Score: 0.8},
	}, 0.7, now)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !check.Passed || len(check.WeakDimensions) != 0 {
		t.Fatalf("expected passing check with no weak dimensions, got %+v", check)
	}
}
