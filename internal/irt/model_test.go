package irt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFourPLReducesToTwoParameterLogistic(t *testing.T) {
	p := FourPL{Discrimination: 1.7, Difficulty: -0.4, Guessing: 0, Inattention: 1}
	for theta := -5.0; theta <= 5.0; theta += 0.25 {
		want := 1 / (1 + math.Exp(-1.7*(theta+0.4)))
		assert.InDelta(t, want, p.Probability(theta), 1e-12, "theta=%v", theta)
	}
}

func TestThreePLAsymptotes(t *testing.T) {
	p := ThreePL{Discrimination: 2, Difficulty: 0.5, Guessing: 0.25}
	assert.InDelta(t, 0.25, p.Probability(-60), 1e-12)
	assert.InDelta(t, 1.0, p.Probability(60), 1e-12)
	assert.InDelta(t, 0.625, p.Probability(0.5), 1e-12)
}

func TestProbabilityStableForExtremeArguments(t *testing.T) {
	p := FourPL{Discrimination: 8, Difficulty: 0, Guessing: 0.1, Inattention: 0.9}
	hi := p.Probability(1e6)
	lo := p.Probability(-1e6)
	require.False(t, math.IsNaN(hi) || math.IsNaN(lo))
	assert.InDelta(t, 0.9, hi, 1e-12)
	assert.InDelta(t, 0.1, lo, 1e-12)
}

func TestClampProjectsOntoDomain(t *testing.T) {
	c := FourPL{Discrimination: -1, Difficulty: 2, Guessing: -0.2, Inattention: 1.4}.Clamp().(FourPL)
	assert.Greater(t, c.Discrimination, 0.0)
	assert.Equal(t, 0.0, c.Guessing)
	assert.Equal(t, 1.0, c.Inattention)

	c = FourPL{Discrimination: 1, Guessing: 0.6, Inattention: 0.3}.Clamp().(FourPL)
	assert.Equal(t, 0.6, c.Inattention, "inattention must not fall below guessing")

	three := ThreePL{Discrimination: 1, Guessing: 1.3}.Clamp().(ThreePL)
	assert.Equal(t, 1.0, three.Guessing)
}

func TestAnalyticGradientMatchesFiniteDifferences(t *testing.T) {
	models := []Params{
		ThreePL{Discrimination: 1.3, Difficulty: 0.2, Guessing: 0.15},
		FourPL{Discrimination: 0.8, Difficulty: -1.1, Guessing: 0.05, Inattention: 0.92},
	}
	for _, p := range models {
		for _, theta := range []float64{-2.5, -0.3, 0, 1.7} {
			analytic := p.Gradient(theta, nil)
			numeric := NumericalGradient(p, theta)
			assert.InDeltaSlice(t, numeric, analytic, 1e-6, "%s theta=%v", p.Kind(), theta)
		}
	}
}

func TestThetaSlopeMatchesFiniteDifference(t *testing.T) {
	p := FourPL{Discrimination: 1.4, Difficulty: 0.3, Guessing: 0.1, Inattention: 0.95}
	const h = 1e-6
	for _, theta := range []float64{-1, 0, 0.3, 2} {
		numeric := (p.Probability(theta+h) - p.Probability(theta-h)) / (2 * h)
		assert.InDelta(t, numeric, p.ThetaSlope(theta), 1e-6)
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("4pl")
	require.NoError(t, err)
	assert.Equal(t, Kind4PL, k)
	assert.Equal(t, 4, k.NumParams())

	_, err = ParseKind("2PL")
	assert.Error(t, err)
}

func TestFromVectorRoundTrip(t *testing.T) {
	p, err := FromVector(Kind3PL, []float64{1.2, -0.5, 0.1})
	require.NoError(t, err)
	assert.Equal(t, ThreePL{Discrimination: 1.2, Difficulty: -0.5, Guessing: 0.1}, p)

	_, err = FromVector(Kind4PL, []float64{1, 2, 3})
	assert.Error(t, err)
}
