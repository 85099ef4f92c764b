package engine

import (
	"context"
	"log/slog"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-irt/internal/irt"
	"github.com/miradorstack/mirador-irt/internal/models"
)

// abilityState is one round's ability vector. Phases never modify a state they
// receive; they return a fresh one.
type abilityState struct {
	theta  []float64
	stdErr []float64
	status []models.EntityStatus
}

func newAbilityState(n int) abilityState {
	s := abilityState{
		theta:  make([]float64, n),
		stdErr: make([]float64, n),
		status: make([]models.EntityStatus, n),
	}
	for i := range s.stdErr {
		s.stdErr[i] = math.NaN()
		s.status[i] = models.StatusInitial
	}
	return s
}

// itemState is one round's item parameter set.
type itemState struct {
	params []irt.Params
	errors []irt.Params
	status []models.EntityStatus
}

func newItemState(n int) itemState {
	s := itemState{
		params: make([]irt.Params, n),
		errors: make([]irt.Params, n),
		status: make([]models.EntityStatus, n),
	}
	for i := range s.status {
		s.status[i] = models.StatusInitial
	}
	return s
}

// abilityPhase refits every participant against the item snapshot. Each worker
// writes only its own slot of the returned state.
func (e *Estimator) abilityPhase(ctx context.Context, matrix *models.ResponseMatrix, items itemState, prev abilityState) (abilityState, error) {
	next := newAbilityState(matrix.NumParticipants())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism())
	for p := range next.theta {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			observations := matrix.ParticipantResponses(p)
			params := make([]irt.Params, len(observations))
			responses := make([]float64, len(observations))
			for k, obs := range observations {
				params[k] = items.params[obs.Item]
				responses[k] = obs.Value
			}

			fit := irt.FitAbility(prev.theta[p], params, responses, e.cfg.Fit)
			next.theta[p] = fit.Theta
			next.status[p] = fit.Status
			next.stdErr[p] = fit.StdErr
			if fit.Status.Held() {
				next.stdErr[p] = prev.stdErr[p]
				e.logger.Debug("participant held", slog.Int("participant", p), slog.String("status", string(fit.Status)), slog.Any("error", fit.Err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return abilityState{}, err
	}
	return next, nil
}

// itemPhase refits every item against the ability snapshot.
func (e *Estimator) itemPhase(ctx context.Context, matrix *models.ResponseMatrix, abilities abilityState, prev itemState) (itemState, error) {
	next := newItemState(matrix.NumItems())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism())
	for i := range next.params {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			observations := matrix.ItemResponses(i)
			thetas := make([]float64, len(observations))
			responses := make([]float64, len(observations))
			for k, obs := range observations {
				thetas[k] = abilities.theta[obs.Participant]
				responses[k] = obs.Value
			}

			fit := irt.FitItem(prev.params[i], thetas, responses, e.cfg.Fit)
			next.params[i] = fit.Params
			next.errors[i] = fit.Errors
			next.status[i] = fit.Status
			if fit.Status.Held() {
				next.errors[i] = prev.errors[i]
				e.logger.Debug("item held", slog.Int("item", i), slog.String("status", string(fit.Status)), slog.Any("error", fit.Err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return itemState{}, err
	}
	return next, nil
}

func newJitterSource(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
