package irt

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInsufficientData marks an entity with too few observations to fit.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrFitFailed marks a solver that did not converge or produced a non-finite result.
	ErrFitFailed = errors.New("numerical fit failed")
)

const (
	minDamping = 1e-12
	maxDamping = 1e12
)

// SolverSettings tunes the bounded Levenberg-Marquardt solver.
type SolverSettings struct {
	MaxIterations  int
	GradientTol    float64
	CostTol        float64
	StepTol        float64
	InitialDamping float64
}

// DefaultSolverSettings returns settings that suit both fitters.
func DefaultSolverSettings() SolverSettings {
	return SolverSettings{
		MaxIterations:  500,
		GradientTol:    1e-8,
		CostTol:        1e-8,
		StepTol:        1e-8,
		InitialDamping: 1e-3,
	}
}

func (s SolverSettings) normalised() SolverSettings {
	d := DefaultSolverSettings()
	if s.MaxIterations <= 0 {
		s.MaxIterations = d.MaxIterations
	}
	if s.GradientTol <= 0 {
		s.GradientTol = d.GradientTol
	}
	if s.CostTol <= 0 {
		s.CostTol = d.CostTol
	}
	if s.StepTol <= 0 {
		s.StepTol = d.StepTol
	}
	if s.InitialDamping <= 0 {
		s.InitialDamping = d.InitialDamping
	}
	return s
}

// curve is a least-squares problem: observed targets and a model whose
// prediction and Jacobian depend on the free parameter vector x.
type curve struct {
	targets  []float64
	predict  func(x []float64, i int) float64
	jacobian func(x []float64, i int, row []float64)
	lower    []float64
	upper    []float64
	// project enforces constraints that are not box bounds.
	project func(x []float64)
}

type solution struct {
	x          []float64
	stdErr     []float64
	ssr        float64
	iterations int
}

// residuals fills r with target - prediction and returns the sum of squares.
func (c *curve) residuals(x, r []float64) float64 {
	ssr := 0.0
	for i, y := range c.targets {
		r[i] = y - c.predict(x, i)
		ssr += r[i] * r[i]
	}
	return ssr
}

func (c *curve) fillJacobian(x []float64, j *mat.Dense) {
	_, p := j.Dims()
	row := make([]float64, p)
	for i := range c.targets {
		c.jacobian(x, i, row)
		j.SetRow(i, row)
	}
}

func (c *curve) constrain(x []float64) {
	for k := range x {
		x[k] = clamp(x[k], c.lower[k], c.upper[k])
	}
	if c.project != nil {
		c.project(x)
	}
}

// solve runs a projected Levenberg-Marquardt iteration from x0 with Marquardt
// diagonal scaling. A point where no damped step lowers the cost is treated
// as stationary under the bounds.
func (s SolverSettings) solve(c *curve, x0 []float64) (solution, error) {
	s = s.normalised()
	n, p := len(c.targets), len(x0)

	x := append([]float64(nil), x0...)
	c.constrain(x)
	r := make([]float64, n)
	trialR := make([]float64, n)
	trial := make([]float64, p)

	cost := c.residuals(x, r)
	if !isFinite(cost) {
		return solution{}, ErrFitFailed
	}

	j := mat.NewDense(n, p, nil)
	jtj := mat.NewSymDense(p, nil)
	lambda := s.InitialDamping
	converged := false
	iter := 0

	for ; iter < s.MaxIterations && !converged; iter++ {
		c.fillJacobian(x, j)
		jtj.SymOuterK(1, j.T())
		var g mat.VecDense
		g.MulVec(j.T(), mat.NewVecDense(n, r))

		if projectedGradientNorm(x, g.RawVector().Data, c.lower, c.upper) < s.GradientTol {
			converged = true
			break
		}

		improved := false
		for lambda <= maxDamping {
			step, ok := dampedStep(jtj, &g, lambda)
			if !ok {
				lambda *= 10
				continue
			}
			for k := range trial {
				trial[k] = x[k] + step[k]
			}
			c.constrain(trial)
			trialCost := c.residuals(trial, trialR)
			if !isFinite(trialCost) || trialCost >= cost {
				lambda *= 10
				continue
			}

			moved := 0.0
			scale := 0.0
			for k := range x {
				moved += (trial[k] - x[k]) * (trial[k] - x[k])
				scale += x[k] * x[k]
			}
			drop := (cost - trialCost) / math.Max(cost, math.SmallestNonzeroFloat64)

			copy(x, trial)
			copy(r, trialR)
			cost = trialCost
			lambda = math.Max(lambda/10, minDamping)
			improved = true
			if drop < s.CostTol || math.Sqrt(moved) < s.StepTol*(math.Sqrt(scale)+s.StepTol) {
				converged = true
			}
			break
		}
		if !improved {
			converged = true
		}
	}

	if !converged || !allFinite(x) {
		return solution{x: x, ssr: cost, iterations: iter}, ErrFitFailed
	}

	c.fillJacobian(x, j)
	jtj.SymOuterK(1, j.T())
	return solution{
		x:          x,
		stdErr:     standardErrors(jtj, cost, n, p),
		ssr:        cost,
		iterations: iter,
	}, nil
}

func dampedStep(jtj *mat.SymDense, g *mat.VecDense, lambda float64) ([]float64, bool) {
	p := jtj.SymmetricDim()
	a := mat.NewSymDense(p, nil)
	a.CopySym(jtj)
	for k := 0; k < p; k++ {
		d := a.At(k, k)
		a.SetSym(k, k, d+lambda*math.Max(d, 1e-9))
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, false
	}
	var step mat.VecDense
	if err := chol.SolveVecTo(&step, g); err != nil {
		return nil, false
	}
	out := make([]float64, p)
	for k := range out {
		out[k] = step.AtVec(k)
	}
	return out, allFinite(out)
}

// projectedGradientNorm ignores components pinned against a bound by a
// descent direction that would leave the feasible box.
func projectedGradientNorm(x, g, lower, upper []float64) float64 {
	norm := 0.0
	for k, gk := range g {
		// g is J'r, so the descent direction on x is +g.
		if x[k] <= lower[k] && gk < 0 {
			continue
		}
		if x[k] >= upper[k] && gk > 0 {
			continue
		}
		norm = math.Max(norm, math.Abs(gk))
	}
	return norm
}

// standardErrors derives sqrt(diag(s²·(J'J)⁻¹)) with s² = SSR/(n-p), falling
// back to the SVD pseudo-inverse when J'J is singular.
func standardErrors(jtj *mat.SymDense, ssr float64, n, p int) []float64 {
	out := make([]float64, p)
	dof := n - p
	if dof <= 0 {
		for k := range out {
			out[k] = math.NaN()
		}
		return out
	}
	variance := ssr / float64(dof)

	var cov mat.Dense
	if err := cov.Inverse(jtj); err != nil {
		var svd mat.SVD
		if ok := svd.Factorize(jtj, mat.SVDFullU|mat.SVDFullV); !ok {
			for k := range out {
				out[k] = math.NaN()
			}
			return out
		}
		rank := svd.Rank(1e-12)
		if rank == 0 {
			for k := range out {
				out[k] = math.NaN()
			}
			return out
		}
		ones := make([]float64, p)
		for k := range ones {
			ones[k] = 1
		}
		svd.SolveTo(&cov, mat.NewDiagDense(p, ones), rank)
	}

	for k := range out {
		v := variance * cov.At(k, k)
		if v < 0 || !isFinite(v) {
			out[k] = math.NaN()
			continue
		}
		out[k] = math.Sqrt(v)
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
