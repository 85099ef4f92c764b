// Package irt implements the logistic item-response models and the
// least-squares fitters that estimate item parameters and abilities.
package irt

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/diff/fd"
)

// Kind selects the logistic model family.
type Kind string

const (
	// Kind3PL is the three-parameter logistic model.
	Kind3PL Kind = "3PL"
	// Kind4PL is the four-parameter logistic model.
	Kind4PL Kind = "4PL"
)

// minDiscrimination keeps α strictly positive when clamping.
const minDiscrimination = 1e-6

// ParseKind accepts "3PL"/"4PL" in any case.
func ParseKind(value string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "3PL":
		return Kind3PL, nil
	case "4PL":
		return Kind4PL, nil
	}
	return "", fmt.Errorf("unsupported model %q", value)
}

// NumParams returns the number of item parameters for the model.
func (k Kind) NumParams() int {
	if k == Kind4PL {
		return 4
	}
	return 3
}

// ParamNames lists parameter names in vector order.
func (k Kind) ParamNames() []string {
	if k == Kind4PL {
		return []string{"discrimination", "difficulty", "guessing", "inattention"}
	}
	return []string{"discrimination", "difficulty", "guessing"}
}

// Params is an item parameter set. It is implemented only by ThreePL and FourPL;
// the same shapes are reused to carry per-parameter standard errors.
type Params interface {
	Kind() Kind
	// Probability is the predicted response at ability theta.
	Probability(theta float64) float64
	// Gradient writes dP/dparam into dst (allocated when nil) in Vector order.
	Gradient(theta float64, dst []float64) []float64
	// ThetaSlope is dP/dθ.
	ThetaSlope(theta float64) float64
	Vector() []float64
	// Clamp returns the parameters projected onto the model's domain.
	Clamp() Params
	sealed()
}

// ThreePL holds discrimination α, difficulty β and guessing γ.
type ThreePL struct {
	Discrimination float64
	Difficulty     float64
	Guessing       float64
}

// FourPL adds the inattention ceiling δ to ThreePL.
type FourPL struct {
	Discrimination float64
	Difficulty     float64
	Guessing       float64
	Inattention    float64
}

// NewParams builds default parameters of the given kind at the supplied difficulty.
func NewParams(kind Kind, difficulty float64) Params {
	if kind == Kind4PL {
		return FourPL{Discrimination: 1, Difficulty: difficulty, Guessing: 0, Inattention: 1}
	}
	return ThreePL{Discrimination: 1, Difficulty: difficulty, Guessing: 0}
}

// FromVector rebuilds parameters from their vector form.
func FromVector(kind Kind, v []float64) (Params, error) {
	if len(v) != kind.NumParams() {
		return nil, fmt.Errorf("%s expects %d parameters, got %d", kind, kind.NumParams(), len(v))
	}
	if kind == Kind4PL {
		return FourPL{Discrimination: v[0], Difficulty: v[1], Guessing: v[2], Inattention: v[3]}, nil
	}
	return ThreePL{Discrimination: v[0], Difficulty: v[1], Guessing: v[2]}, nil
}

// Kind implements Params.
func (ThreePL) Kind() Kind { return Kind3PL }

func (ThreePL) sealed() {}

// Vector implements Params.
func (p ThreePL) Vector() []float64 {
	return []float64{p.Discrimination, p.Difficulty, p.Guessing}
}

// Clamp implements Params.
func (p ThreePL) Clamp() Params {
	return ThreePL{
		Discrimination: clampDiscrimination(p.Discrimination),
		Difficulty:     p.Difficulty,
		Guessing:       clamp(p.Guessing, 0, 1),
	}
}

// Probability implements Params.
func (p ThreePL) Probability(theta float64) float64 {
	c := p.Clamp().(ThreePL)
	s := logistic(c.Discrimination * (theta - c.Difficulty))
	return c.Guessing + (1-c.Guessing)*s
}

// Gradient implements Params.
func (p ThreePL) Gradient(theta float64, dst []float64) []float64 {
	dst = sized(dst, 3)
	s := logistic(p.Discrimination * (theta - p.Difficulty))
	ds := (1 - p.Guessing) * s * (1 - s)
	dst[0] = ds * (theta - p.Difficulty)
	dst[1] = -ds * p.Discrimination
	dst[2] = 1 - s
	if !allFinite(dst) {
		return numericalGradient(p, theta, dst)
	}
	return dst
}

// ThetaSlope implements Params.
func (p ThreePL) ThetaSlope(theta float64) float64 {
	s := logistic(p.Discrimination * (theta - p.Difficulty))
	return (1 - p.Guessing) * s * (1 - s) * p.Discrimination
}

// Kind implements Params.
func (FourPL) Kind() Kind { return Kind4PL }

func (FourPL) sealed() {}

// Vector implements Params.
func (p FourPL) Vector() []float64 {
	return []float64{p.Discrimination, p.Difficulty, p.Guessing, p.Inattention}
}

// Clamp implements Params.
func (p FourPL) Clamp() Params {
	guessing := clamp(p.Guessing, 0, 1)
	return FourPL{
		Discrimination: clampDiscrimination(p.Discrimination),
		Difficulty:     p.Difficulty,
		Guessing:       guessing,
		Inattention:    clamp(p.Inattention, guessing, 1),
	}
}

// Probability implements Params.
func (p FourPL) Probability(theta float64) float64 {
	c := p.Clamp().(FourPL)
	s := logistic(c.Discrimination * (theta - c.Difficulty))
	return c.Guessing + (c.Inattention-c.Guessing)*s
}

// Gradient implements Params.
func (p FourPL) Gradient(theta float64, dst []float64) []float64 {
	dst = sized(dst, 4)
	s := logistic(p.Discrimination * (theta - p.Difficulty))
	ds := (p.Inattention - p.Guessing) * s * (1 - s)
	dst[0] = ds * (theta - p.Difficulty)
	dst[1] = -ds * p.Discrimination
	dst[2] = 1 - s
	dst[3] = s
	if !allFinite(dst) {
		return numericalGradient(p, theta, dst)
	}
	return dst
}

// ThetaSlope implements Params.
func (p FourPL) ThetaSlope(theta float64) float64 {
	s := logistic(p.Discrimination * (theta - p.Difficulty))
	return (p.Inattention - p.Guessing) * s * (1 - s) * p.Discrimination
}

// NumericalGradient is the central finite-difference gradient of P with
// respect to the parameters, used when the analytic form is not finite.
func NumericalGradient(p Params, theta float64) []float64 {
	return numericalGradient(p, theta, nil)
}

func numericalGradient(p Params, theta float64, dst []float64) []float64 {
	kind := p.Kind()
	dst = sized(dst, kind.NumParams())
	f := func(x []float64) float64 {
		q, err := FromVector(kind, x)
		if err != nil {
			return math.NaN()
		}
		return q.Probability(theta)
	}
	return fd.Gradient(dst, f, p.Vector(), &fd.Settings{Formula: fd.Central})
}

// logistic is 1/(1+exp(-z)) without overflow for large |z|.
func logistic(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// Logit is the inverse of the logistic function.
func Logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

func clampDiscrimination(v float64) float64 {
	if math.IsNaN(v) || v < minDiscrimination {
		return minDiscrimination
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sized(dst []float64, n int) []float64 {
	if len(dst) != n {
		return make([]float64, n)
	}
	return dst
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
