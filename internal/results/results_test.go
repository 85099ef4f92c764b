package results

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-irt/internal/irt"
	"github.com/miradorstack/mirador-irt/internal/models"
	"github.com/miradorstack/mirador-irt/internal/sdt"
)

func sampleInput() Input {
	return Input{
		RunID:               "run-1",
		Model:               irt.Kind3PL,
		Status:              StatusMaxIterationsReached,
		ParticipantIDs:      []string{"p1", "p2"},
		ItemIDs:             []string{"i1", "i2"},
		Abilities:           []float64{-0.5, 0.5},
		AbilityErrors:       []float64{0.2, math.NaN()},
		ParticipantStatuses: []models.EntityStatus{models.StatusFitted, models.StatusInsufficientData},
		ItemParameters: []irt.Params{
			irt.ThreePL{Discrimination: 1, Difficulty: -0.2},
			irt.ThreePL{Discrimination: 1.3, Difficulty: 0.4, Guessing: 0.1},
		},
		ItemErrors:   []irt.Params{irt.ThreePL{Discrimination: 0.1, Difficulty: 0.1, Guessing: 0.05}, nil},
		ItemStatuses: []models.EntityStatus{models.StatusFitted, models.StatusFitFailed},
		Iterations:   []Iteration{{Delta: 0.4}, {Delta: 0.1, HeldItems: 1}},
		SDT: []sdt.Result{
			{ItemID: "i1", AUC: 1, Defined: true, Curve: []sdt.Point{{Threshold: math.Inf(1)}, {Threshold: 0.5, TPR: 1}}},
			{ItemID: "i2", AUC: math.NaN(), Err: sdt.ErrDegenerateInput},
		},
	}
}

func TestAssembleIsIsolatedFromInput(t *testing.T) {
	in := sampleInput()
	r := Assemble(in)

	in.Abilities[0] = 99
	in.ItemIDs[0] = "mutated"
	in.SDT[0].Curve[1].TPR = 0

	assert.Equal(t, -0.5, r.Abilities()[0])
	assert.Equal(t, "i1", r.ItemIDs()[0])
	assert.Equal(t, 1.0, r.SDT()[0].Curve[1].TPR)

	out := r.Abilities()
	out[1] = 42
	assert.Equal(t, 0.5, r.Abilities()[1])
}

func TestAccessors(t *testing.T) {
	r := Assemble(sampleInput())

	assert.Equal(t, "run-1", r.RunID())
	assert.Equal(t, irt.Kind3PL, r.Model())
	assert.False(t, r.Converged())
	assert.Equal(t, 2, r.Iterations())
	if diff := cmp.Diff([]float64{0.4, 0.1}, r.ConvergenceHistory()); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"p1", "p2"}, r.ParticipantIDs()); diff != "" {
		t.Fatalf("participants mismatch (-want +got):\n%s", diff)
	}

	theta, status, ok := r.Ability("p2")
	require.True(t, ok)
	assert.Equal(t, 0.5, theta)
	assert.Equal(t, models.StatusInsufficientData, status)

	_, _, ok = r.Ability("missing")
	assert.False(t, ok)

	item, ok := r.Item("i2")
	require.True(t, ok)
	assert.Equal(t, models.StatusFitFailed, item.Status)
	assert.Nil(t, item.Errors)
	assert.False(t, item.SDT.Defined)
	assert.Equal(t, irt.ThreePL{Discrimination: 1.3, Difficulty: 0.4, Guessing: 0.1}, item.Params)
}

func TestSummary(t *testing.T) {
	s := Assemble(sampleInput()).Summary()
	want := Summary{
		Participants:     2,
		Items:            2,
		HeldParticipants: 1,
		HeldItems:        1,
		UndefinedSDT:     1,
		InsufficientData: 1,
		FitFailures:      1,
	}
	if diff := cmp.Diff(want, s); diff != "" {
		t.Fatalf("summary mismatch (-want +got):\n%s", diff)
	}
}
