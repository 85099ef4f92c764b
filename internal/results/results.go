// Package results assembles the immutable output of an estimation run.
package results

import (
	"math"
	"time"

	"github.com/miradorstack/mirador-irt/internal/irt"
	"github.com/miradorstack/mirador-irt/internal/models"
	"github.com/miradorstack/mirador-irt/internal/sdt"
)

// Status reports how the estimation loop terminated.
type Status string

const (
	// StatusConverged means the delta fell below the tolerance.
	StatusConverged Status = "converged"
	// StatusMaxIterationsReached means the iteration budget ran out first.
	StatusMaxIterationsReached Status = "max_iterations_reached"
)

// Iteration records one round of the alternating loop.
type Iteration struct {
	Delta            float64
	HeldParticipants int
	HeldItems        int
	AbilityPhase     time.Duration
	ItemPhase        time.Duration
}

// Input is everything the estimation engine hands over for assembly.
type Input struct {
	RunID               string
	Model               irt.Kind
	Status              Status
	ParticipantIDs      []string
	ItemIDs             []string
	Abilities           []float64
	AbilityErrors       []float64
	ParticipantStatuses []models.EntityStatus
	ItemParameters      []irt.Params
	ItemErrors          []irt.Params
	ItemStatuses        []models.EntityStatus
	Iterations          []Iteration
	SDT                 []sdt.Result
}

// Results is the single artefact returned to callers. All accessors return copies.
type Results struct {
	in               Input
	participantIndex map[string]int
	itemIndex        map[string]int
}

// Assemble copies the input into an immutable Results.
func Assemble(in Input) *Results {
	r := &Results{
		in: Input{
			RunID:               in.RunID,
			Model:               in.Model,
			Status:              in.Status,
			ParticipantIDs:      append([]string(nil), in.ParticipantIDs...),
			ItemIDs:             append([]string(nil), in.ItemIDs...),
			Abilities:           append([]float64(nil), in.Abilities...),
			AbilityErrors:       append([]float64(nil), in.AbilityErrors...),
			ParticipantStatuses: append([]models.EntityStatus(nil), in.ParticipantStatuses...),
			ItemParameters:      append([]irt.Params(nil), in.ItemParameters...),
			ItemErrors:          append([]irt.Params(nil), in.ItemErrors...),
			ItemStatuses:        append([]models.EntityStatus(nil), in.ItemStatuses...),
			Iterations:          append([]Iteration(nil), in.Iterations...),
			SDT:                 copySDT(in.SDT),
		},
		participantIndex: make(map[string]int, len(in.ParticipantIDs)),
		itemIndex:        make(map[string]int, len(in.ItemIDs)),
	}
	for i, id := range r.in.ParticipantIDs {
		r.participantIndex[id] = i
	}
	for i, id := range r.in.ItemIDs {
		r.itemIndex[id] = i
	}
	return r
}

func copySDT(in []sdt.Result) []sdt.Result {
	out := make([]sdt.Result, len(in))
	for i, res := range in {
		out[i] = res
		out[i].Curve = append([]sdt.Point(nil), res.Curve...)
	}
	return out
}

// RunID identifies the estimation run.
func (r *Results) RunID() string { return r.in.RunID }

// Model is the fitted model family.
func (r *Results) Model() irt.Kind { return r.in.Model }

// Status is the terminal state of the loop.
func (r *Results) Status() Status { return r.in.Status }

// Converged reports whether the tolerance was met.
func (r *Results) Converged() bool { return r.in.Status == StatusConverged }

// Iterations is the number of rounds executed.
func (r *Results) Iterations() int { return len(r.in.Iterations) }

// ParticipantIDs is the participant ordering all participant arrays follow.
func (r *Results) ParticipantIDs() []string { return append([]string(nil), r.in.ParticipantIDs...) }

// ItemIDs is the item ordering all item arrays follow.
func (r *Results) ItemIDs() []string { return append([]string(nil), r.in.ItemIDs...) }

// Abilities returns θ per participant.
func (r *Results) Abilities() []float64 { return append([]float64(nil), r.in.Abilities...) }

// AbilityErrors returns the standard error of θ per participant (NaN when undefined).
func (r *Results) AbilityErrors() []float64 { return append([]float64(nil), r.in.AbilityErrors...) }

// ParticipantStatuses returns the last-round status per participant.
func (r *Results) ParticipantStatuses() []models.EntityStatus {
	return append([]models.EntityStatus(nil), r.in.ParticipantStatuses...)
}

// ItemParameters returns the fitted parameters per item.
func (r *Results) ItemParameters() []irt.Params { return append([]irt.Params(nil), r.in.ItemParameters...) }

// ItemErrors returns per-parameter standard errors per item. An entry is nil
// when the item was never fitted.
func (r *Results) ItemErrors() []irt.Params { return append([]irt.Params(nil), r.in.ItemErrors...) }

// ItemStatuses returns the last-round status per item.
func (r *Results) ItemStatuses() []models.EntityStatus {
	return append([]models.EntityStatus(nil), r.in.ItemStatuses...)
}

// ConvergenceHistory returns the delta of every round.
func (r *Results) ConvergenceHistory() []float64 {
	out := make([]float64, len(r.in.Iterations))
	for i, it := range r.in.Iterations {
		out[i] = it.Delta
	}
	return out
}

// IterationRecords returns the full per-round records.
func (r *Results) IterationRecords() []Iteration { return append([]Iteration(nil), r.in.Iterations...) }

// SDT returns per-item signal-detection results.
func (r *Results) SDT() []sdt.Result { return copySDT(r.in.SDT) }

// Ability looks up one participant's θ.
func (r *Results) Ability(participantID string) (float64, models.EntityStatus, bool) {
	i, ok := r.participantIndex[participantID]
	if !ok {
		return math.NaN(), "", false
	}
	return r.in.Abilities[i], r.in.ParticipantStatuses[i], true
}

// ItemEstimate bundles everything known about one item.
type ItemEstimate struct {
	ID     string
	Params irt.Params
	Errors irt.Params
	Status models.EntityStatus
	SDT    sdt.Result
}

// Item looks up one item's estimate.
func (r *Results) Item(itemID string) (ItemEstimate, bool) {
	i, ok := r.itemIndex[itemID]
	if !ok {
		return ItemEstimate{}, false
	}
	est := ItemEstimate{
		ID:     itemID,
		Params: r.in.ItemParameters[i],
		Status: r.in.ItemStatuses[i],
	}
	if i < len(r.in.ItemErrors) {
		est.Errors = r.in.ItemErrors[i]
	}
	if i < len(r.in.SDT) {
		est.SDT = copySDT(r.in.SDT[i : i+1])[0]
	}
	return est, true
}

// Summary counts entities that need attention.
type Summary struct {
	Participants     int
	Items            int
	HeldParticipants int
	HeldItems        int
	UndefinedSDT     int
	InsufficientData int
	FitFailures      int
}

// Summary tallies held estimates and undefined SDT items.
func (r *Results) Summary() Summary {
	s := Summary{Participants: len(r.in.ParticipantIDs), Items: len(r.in.ItemIDs)}
	for _, st := range r.in.ParticipantStatuses {
		if st.Held() {
			s.HeldParticipants++
		}
		s.tally(st)
	}
	for _, st := range r.in.ItemStatuses {
		if st.Held() {
			s.HeldItems++
		}
		s.tally(st)
	}
	for _, res := range r.in.SDT {
		if !res.Defined {
			s.UndefinedSDT++
		}
	}
	return s
}

func (s *Summary) tally(st models.EntityStatus) {
	switch st {
	case models.StatusInsufficientData:
		s.InsufficientData++
	case models.StatusFitFailed:
		s.FitFailures++
	}
}
