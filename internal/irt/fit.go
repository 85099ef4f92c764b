package irt

import (
	"errors"
	"fmt"
	"math"

	"github.com/miradorstack/mirador-irt/internal/models"
)

// Range is a closed interval.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Bounds constrain the fitted parameters.
type Bounds struct {
	Discrimination Range `yaml:"discrimination"`
	Difficulty     Range `yaml:"difficulty"`
	Guessing       Range `yaml:"guessing"`
	Inattention    Range `yaml:"inattention"`
	// Ability is the symmetric clip applied to θ.
	Ability float64 `yaml:"ability"`
}

// DefaultBounds keeps α positive and θ inside a range where exp cannot overflow.
func DefaultBounds() Bounds {
	return Bounds{
		Discrimination: Range{Min: 0.01, Max: 8},
		Difficulty:     Range{Min: -8, Max: 8},
		Guessing:       Range{Min: 0, Max: 1},
		Inattention:    Range{Min: 0, Max: 1},
		Ability:        6,
	}
}

// Validate checks the bounds are usable.
func (b Bounds) Validate() error {
	if !(b.Discrimination.Min > 0) || b.Discrimination.Max < b.Discrimination.Min {
		return fmt.Errorf("discrimination bounds must satisfy 0 < min <= max, got [%v, %v]", b.Discrimination.Min, b.Discrimination.Max)
	}
	if b.Difficulty.Max < b.Difficulty.Min {
		return fmt.Errorf("difficulty bounds inverted: [%v, %v]", b.Difficulty.Min, b.Difficulty.Max)
	}
	for name, r := range map[string]Range{"guessing": b.Guessing, "inattention": b.Inattention} {
		if r.Min < 0 || r.Max > 1 || r.Max < r.Min {
			return fmt.Errorf("%s bounds must lie in [0,1], got [%v, %v]", name, r.Min, r.Max)
		}
	}
	if b.Guessing.Min > b.Inattention.Max {
		return fmt.Errorf("guessing floor %v exceeds inattention ceiling %v", b.Guessing.Min, b.Inattention.Max)
	}
	if !(b.Ability > 0) || math.IsInf(b.Ability, 0) {
		return fmt.Errorf("ability bound must be positive and finite, got %v", b.Ability)
	}
	return nil
}

func (b Bounds) vectors(kind Kind) (lower, upper []float64) {
	lower = []float64{b.Discrimination.Min, b.Difficulty.Min, b.Guessing.Min}
	upper = []float64{b.Discrimination.Max, b.Difficulty.Max, b.Guessing.Max}
	if kind == Kind4PL {
		lower = append(lower, b.Inattention.Min)
		upper = append(upper, b.Inattention.Max)
	}
	return lower, upper
}

// FitOptions configure both fitters.
type FitOptions struct {
	Bounds Bounds
	Solver SolverSettings
	// MinItemResponses is raised to the model's parameter count when lower.
	MinItemResponses        int
	MinParticipantResponses int
}

// DefaultFitOptions returns the default bounds and solver settings.
func DefaultFitOptions() FitOptions {
	return FitOptions{
		Bounds:                  DefaultBounds(),
		Solver:                  DefaultSolverSettings(),
		MinParticipantResponses: 1,
	}
}

// ItemFit is the outcome of fitting one item. On failure Params is the prior
// and Errors is nil.
type ItemFit struct {
	Params     Params
	Errors     Params
	Status     models.EntityStatus
	Iterations int
	Err        error
}

// FitItem fits one item's logistic curve to its (θ, response) scatter, seeded
// from prior.
func FitItem(prior Params, thetas, responses []float64, opts FitOptions) ItemFit {
	kind := prior.Kind()
	if len(thetas) != len(responses) {
		return ItemFit{Params: prior, Status: models.StatusFitFailed, Err: fmt.Errorf("%w: %d abilities for %d responses", ErrFitFailed, len(thetas), len(responses))}
	}
	minimum := opts.MinItemResponses
	if minimum < kind.NumParams() {
		minimum = kind.NumParams()
	}
	if len(responses) < minimum {
		return ItemFit{Params: prior, Status: models.StatusInsufficientData, Err: fmt.Errorf("%w: %d responses, need %d", ErrInsufficientData, len(responses), minimum)}
	}

	lower, upper := opts.Bounds.vectors(kind)
	c := &curve{
		targets: responses,
		predict: func(x []float64, i int) float64 {
			return paramsOf(kind, x).Probability(thetas[i])
		},
		jacobian: func(x []float64, i int, row []float64) {
			paramsOf(kind, x).Gradient(thetas[i], row)
		},
		lower: lower,
		upper: upper,
	}
	if kind == Kind4PL {
		ceiling := opts.Bounds.Inattention.Max
		c.project = func(x []float64) {
			if x[2] > ceiling {
				x[2] = ceiling
			}
			if x[3] < x[2] {
				x[3] = x[2]
			}
		}
	}

	sol, err := opts.Solver.solve(c, prior.Clamp().Vector())
	if err != nil {
		return ItemFit{Params: prior, Status: statusFor(err), Iterations: sol.iterations, Err: err}
	}
	return ItemFit{
		Params:     paramsOf(kind, sol.x),
		Errors:     paramsOf(kind, sol.stdErr),
		Status:     models.StatusFitted,
		Iterations: sol.iterations,
	}
}

// AbilityFit is the outcome of fitting one participant.
type AbilityFit struct {
	Theta      float64
	StdErr     float64
	Status     models.EntityStatus
	Iterations int
	Err        error
}

// FitAbility fits a participant's θ against fixed item parameters.
func FitAbility(prior float64, items []Params, responses []float64, opts FitOptions) AbilityFit {
	if len(items) != len(responses) {
		return AbilityFit{Theta: prior, StdErr: math.NaN(), Status: models.StatusFitFailed, Err: fmt.Errorf("%w: %d items for %d responses", ErrFitFailed, len(items), len(responses))}
	}
	minimum := opts.MinParticipantResponses
	if minimum < 1 {
		minimum = 1
	}
	if len(responses) < minimum {
		return AbilityFit{Theta: prior, StdErr: math.NaN(), Status: models.StatusInsufficientData, Err: fmt.Errorf("%w: %d responses, need %d", ErrInsufficientData, len(responses), minimum)}
	}

	bound := opts.Bounds.Ability
	c := &curve{
		targets: responses,
		predict: func(x []float64, i int) float64 {
			return items[i].Probability(x[0])
		},
		jacobian: func(x []float64, i int, row []float64) {
			row[0] = items[i].ThetaSlope(x[0])
		},
		lower: []float64{-bound},
		upper: []float64{bound},
	}

	sol, err := opts.Solver.solve(c, []float64{prior})
	if err != nil {
		return AbilityFit{Theta: prior, StdErr: math.NaN(), Status: statusFor(err), Iterations: sol.iterations, Err: err}
	}
	return AbilityFit{Theta: sol.x[0], StdErr: sol.stdErr[0], Status: models.StatusFitted, Iterations: sol.iterations}
}

func paramsOf(kind Kind, x []float64) Params {
	p, err := FromVector(kind, x)
	if err != nil {
		// vectors built here always match the kind
		panic(err)
	}
	return p
}

func statusFor(err error) models.EntityStatus {
	if errors.Is(err, ErrInsufficientData) {
		return models.StatusInsufficientData
	}
	return models.StatusFitFailed
}
