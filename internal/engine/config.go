package engine

import (
	"errors"
	"fmt"
	"math"

	"github.com/miradorstack/mirador-irt/internal/irt"
	"github.com/miradorstack/mirador-irt/internal/sdt"
	"github.com/miradorstack/mirador-irt/internal/utils"
)

// ErrInvalidConfiguration is wrapped by every fatal configuration or input error.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// InitialGuess selects how abilities and difficulties are seeded.
type InitialGuess string

const (
	// GuessZeros starts every θ and β at zero.
	GuessZeros InitialGuess = "zeros"
	// GuessJitter draws θ from N(0, 0.1²) with a fixed seed.
	GuessJitter InitialGuess = "jitter"
	// GuessSumScore uses the logit of the smoothed proportion correct.
	GuessSumScore InitialGuess = "sum_score"
)

// DeltaAggregate selects how per-participant |Δθ| collapse to one delta.
type DeltaAggregate string

const (
	// DeltaSum adds every participant's |Δθ|.
	DeltaSum DeltaAggregate = "sum"
	// DeltaMean averages |Δθ| over participants.
	DeltaMean DeltaAggregate = "mean"
	// DeltaMax takes the largest |Δθ|.
	DeltaMax DeltaAggregate = "max"
)

const jitterScale = 0.1

// Config controls one estimation run. Parallelism bounds the workers per
// phase (zero uses GOMAXPROCS); Verbose only raises per-iteration progress
// logs to info level.
type Config struct {
	Model          irt.Kind
	MaxIterations  int
	Tolerance      float64
	Parallelism    int
	InitialGuess   InitialGuess
	DeltaAggregate DeltaAggregate
	Seed           int64
	PositiveCutoff float64
	Verbose        bool
	Fit            irt.FitOptions
}

// DefaultConfig returns the settings used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Model:          irt.Kind3PL,
		MaxIterations:  100,
		Tolerance:      1e-4,
		InitialGuess:   GuessSumScore,
		DeltaAggregate: DeltaMean,
		PositiveCutoff: sdt.DefaultPositiveCutoff,
		Fit:            irt.DefaultFitOptions(),
	}
}

// Validate rejects configurations that cannot start an estimation.
func (c Config) Validate() error {
	const op = "engine.Config.Validate"
	invalid := func(format string, args ...any) error {
		return utils.NewAppError(op, fmt.Sprintf(format, args...), ErrInvalidConfiguration)
	}

	if c.Model != irt.Kind3PL && c.Model != irt.Kind4PL {
		return invalid("unsupported model %q", c.Model)
	}
	if c.MaxIterations <= 0 {
		return invalid("max iterations must be positive, got %d", c.MaxIterations)
	}
	if !(c.Tolerance > 0) || math.IsInf(c.Tolerance, 0) {
		return invalid("convergence tolerance must be positive and finite, got %v", c.Tolerance)
	}
	if c.Parallelism < 0 {
		return invalid("parallelism must not be negative, got %d", c.Parallelism)
	}
	switch c.InitialGuess {
	case GuessZeros, GuessJitter, GuessSumScore:
	default:
		return invalid("unknown initial guess strategy %q", c.InitialGuess)
	}
	switch c.DeltaAggregate {
	case DeltaSum, DeltaMean, DeltaMax:
	default:
		return invalid("unknown delta aggregate %q", c.DeltaAggregate)
	}
	if !(c.PositiveCutoff > 0 && c.PositiveCutoff <= 1) {
		return invalid("positive cutoff must lie in (0,1], got %v", c.PositiveCutoff)
	}
	if c.Fit.MinItemResponses < 0 || c.Fit.MinParticipantResponses < 0 {
		return invalid("minimum response counts must not be negative")
	}
	if err := c.Fit.Bounds.Validate(); err != nil {
		return invalid("fit bounds: %v", err)
	}
	return nil
}
