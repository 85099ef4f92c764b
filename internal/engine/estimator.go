// Package engine runs the alternating estimation of abilities and item
// parameters and hands the converged state to the SDT analyzer.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-irt/internal/irt"
	"github.com/miradorstack/mirador-irt/internal/models"
	"github.com/miradorstack/mirador-irt/internal/results"
	"github.com/miradorstack/mirador-irt/internal/sdt"
	"github.com/miradorstack/mirador-irt/internal/utils"
)

// State is a step of the estimation state machine.
type State int

const (
	StateInitializing State = iota
	StateIteratingAbilities
	StateIteratingItems
	StateCheckingConvergence
	StateConverged
	StateMaxIterationsReached
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateIteratingAbilities:
		return "iterating_abilities"
	case StateIteratingItems:
		return "iterating_items"
	case StateCheckingConvergence:
		return "checking_convergence"
	case StateConverged:
		return "converged"
	case StateMaxIterationsReached:
		return "max_iterations_reached"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Estimator fits abilities and item parameters by alternating optimisation.
type Estimator struct {
	logger   *slog.Logger
	cfg      Config
	analyzer *sdt.Analyzer
	newRunID func() string
}

// NewEstimator constructs an Estimator. The configuration is validated when
// Estimate is called.
func NewEstimator(logger *slog.Logger, cfg Config) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{
		logger:   logger,
		cfg:      cfg,
		analyzer: sdt.NewAnalyzer(cfg.PositiveCutoff),
		newRunID: uuid.NewString,
	}
}

// Config returns the estimator's configuration.
func (e *Estimator) Config() Config { return e.cfg }

// Estimate runs the alternating loop until the delta falls below the tolerance
// or the iteration budget is spent, then derives SDT statistics from the
// abilities. Running out of iterations is reported through the result status,
// not as an error.
func (e *Estimator) Estimate(ctx context.Context, matrix *models.ResponseMatrix) (*results.Results, error) {
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}
	if matrix == nil || matrix.NumResponses() == 0 {
		return nil, utils.NewAppError("engine.Estimate", "response matrix is empty", ErrInvalidConfiguration)
	}

	runID := e.newRunID()
	logger := e.logger.With(slog.String("run_id", runID), slog.String("model", string(e.cfg.Model)))
	progress := slog.LevelDebug
	if e.cfg.Verbose {
		progress = slog.LevelInfo
	}

	var (
		abilities abilityState
		previous  abilityState
		items     itemState
		history   []results.Iteration
		current   results.Iteration
	)

	state := StateInitializing
	for {
		next := state
		switch state {
		case StateInitializing:
			abilities, items = e.initialise(matrix)
			next = StateIteratingAbilities

		case StateIteratingAbilities:
			start := time.Now()
			updated, err := e.abilityPhase(ctx, matrix, items, abilities)
			if err != nil {
				return nil, fmt.Errorf("ability phase: %w", err)
			}
			previous, abilities = abilities, updated
			current = results.Iteration{AbilityPhase: time.Since(start), HeldParticipants: countHeld(abilities.status)}
			next = StateIteratingItems

		case StateIteratingItems:
			start := time.Now()
			updated, err := e.itemPhase(ctx, matrix, abilities, items)
			if err != nil {
				return nil, fmt.Errorf("item phase: %w", err)
			}
			items = updated
			current.ItemPhase = time.Since(start)
			current.HeldItems = countHeld(items.status)
			next = StateCheckingConvergence

		case StateCheckingConvergence:
			current.Delta = e.delta(previous.theta, abilities.theta)
			history = append(history, current)
			logger.Log(ctx, progress, "estimation iteration",
				slog.Int("iteration", len(history)),
				slog.Float64("delta", current.Delta),
				slog.Int("held_participants", current.HeldParticipants),
				slog.Int("held_items", current.HeldItems),
			)
			switch {
			case current.Delta < e.cfg.Tolerance:
				next = StateConverged
			case len(history) >= e.cfg.MaxIterations:
				next = StateMaxIterationsReached
			default:
				next = StateIteratingAbilities
			}

		case StateConverged, StateMaxIterationsReached:
			status := results.StatusConverged
			if state == StateMaxIterationsReached {
				status = results.StatusMaxIterationsReached
				logger.Warn("estimation stopped before convergence",
					slog.Int("iterations", len(history)),
					slog.Float64("last_delta", history[len(history)-1].Delta),
					slog.Float64("tolerance", e.cfg.Tolerance),
				)
			}
			res := e.assemble(runID, status, matrix, abilities, items, history)
			logger.Info("estimation finished",
				slog.String("status", string(status)),
				slog.Int("iterations", len(history)),
				slog.Int("participants", matrix.NumParticipants()),
				slog.Int("items", matrix.NumItems()),
			)
			return res, nil
		}

		if next != state {
			logger.Debug("estimation state", slog.String("from", state.String()), slog.String("to", next.String()))
		}
		state = next
	}
}

func (e *Estimator) assemble(runID string, status results.Status, matrix *models.ResponseMatrix, abilities abilityState, items itemState, history []results.Iteration) *results.Results {
	return results.Assemble(results.Input{
		RunID:               runID,
		Model:               e.cfg.Model,
		Status:              status,
		ParticipantIDs:      matrix.ParticipantIDs(),
		ItemIDs:             matrix.ItemIDs(),
		Abilities:           abilities.theta,
		AbilityErrors:       abilities.stdErr,
		ParticipantStatuses: abilities.status,
		ItemParameters:      items.params,
		ItemErrors:          items.errors,
		ItemStatuses:        items.status,
		Iterations:          history,
		SDT:                 e.analyzer.Analyze(matrix, abilities.theta),
	})
}

// delta collapses the per-participant |Δθ| between two rounds.
func (e *Estimator) delta(before, after []float64) float64 {
	if len(after) == 0 {
		return 0
	}
	diffs := make([]float64, len(after))
	floats.SubTo(diffs, after, before)
	for i, d := range diffs {
		diffs[i] = math.Abs(d)
	}
	switch e.cfg.DeltaAggregate {
	case DeltaSum:
		return floats.Sum(diffs)
	case DeltaMax:
		return floats.Max(diffs)
	default:
		return stat.Mean(diffs, nil)
	}
}

func (e *Estimator) parallelism() int {
	if e.cfg.Parallelism > 0 {
		return e.cfg.Parallelism
	}
	return runtime.GOMAXPROCS(0)
}

func countHeld(statuses []models.EntityStatus) int {
	held := 0
	for _, st := range statuses {
		if st.Held() {
			held++
		}
	}
	return held
}

// initialise seeds abilities and item parameters according to the configured strategy.
func (e *Estimator) initialise(matrix *models.ResponseMatrix) (abilityState, itemState) {
	bounds := e.cfg.Fit.Bounds
	abilities := newAbilityState(matrix.NumParticipants())
	items := newItemState(matrix.NumItems())

	switch e.cfg.InitialGuess {
	case GuessJitter:
		rng := newJitterSource(e.cfg.Seed)
		for p := range abilities.theta {
			abilities.theta[p] = clampTo(rng.NormFloat64()*jitterScale, -bounds.Ability, bounds.Ability)
		}
	case GuessSumScore:
		for p := range abilities.theta {
			abilities.theta[p] = clampTo(irt.Logit(smoothedProportion(matrix.ParticipantResponses(p))), -bounds.Ability, bounds.Ability)
		}
	}

	for i := range items.params {
		difficulty := 0.0
		if e.cfg.InitialGuess != GuessZeros {
			difficulty = -irt.Logit(smoothedProportion(matrix.ItemResponses(i)))
		}
		items.params[i] = irt.NewParams(e.cfg.Model, clampTo(difficulty, bounds.Difficulty.Min, bounds.Difficulty.Max))
	}
	return abilities, items
}

// smoothedProportion is (Σresponse + 0.5) / (n + 1), which stays inside (0,1)
// and is 0.5 when there are no observations.
func smoothedProportion(observations []models.Observation) float64 {
	sum := 0.0
	for _, obs := range observations {
		sum += obs.Value
	}
	return (sum + 0.5) / (float64(len(observations)) + 1)
}

func clampTo(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
