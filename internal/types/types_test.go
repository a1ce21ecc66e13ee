package types

import (
	"errors"
	"testing"
)

func TestObservationSpecCheck(t *testing.T) {
	spec := NewObservationSpec(2, 3)
	if spec.Size() != 6 {
		t.Fatalf("expected size 6, got %d", spec.Size())
	}
	if err := spec.Check(make([]float64, 6)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := spec.Check(make([]float64, 5))
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestObservationSpecValidate(t *testing.T) {
	if err := (ObservationSpec{}).Validate(); err == nil {
		t.Error("expected error for empty spec")
	}
	if err := NewObservationSpec(2, 0).Validate(); err == nil {
		t.Error("expected error for zero dimension")
	}
	if !NewObservationSpec(4).Equal(NewObservationSpec(4)) {
		t.Error("expected equal specs")
	}
}

func TestEpisodeAccessors(t *testing.T) {
	ep := Episode{
		{Observation: []float64{0}, Reward: 1},
		{Observation: []float64{1}, Reward: 2},
	}
	obs := ep.Observations()
	if len(obs) != 2 || obs[1][0] != 1 {
		t.Fatalf("unexpected observations %v", obs)
	}
	rewards := ep.Rewards()
	if rewards[0] != 1 || rewards[1] != 2 {
		t.Fatalf("unexpected rewards %v", rewards)
	}
}
