// Package sdt derives signal-detection statistics for each item from the
// converged abilities and the raw responses. It never reads item parameters.
package sdt

import (
	"errors"
	"math"
	"sort"

	"github.com/miradorstack/mirador-irt/internal/models"
)

// ErrDegenerateInput marks an item whose responses are all positive or all negative.
var ErrDegenerateInput = errors.New("degenerate response distribution")

// DefaultPositiveCutoff binarises continuous responses.
const DefaultPositiveCutoff = 0.5

// Point is one ROC operating point.
type Point struct {
	Threshold float64
	FPR       float64
	TPR       float64
}

// Result holds the ROC summary for one item. When Defined is false the
// numeric fields are NaN and Err is ErrDegenerateInput.
type Result struct {
	ItemID           string
	AUC              float64
	OptimalThreshold float64
	TPR              float64
	TNR              float64
	Positives        int
	Negatives        int
	Curve            []Point
	Defined          bool
	Err              error
}

// Analyzer computes ROC statistics.
type Analyzer struct {
	cutoff float64
}

// NewAnalyzer builds an Analyzer; responses >= cutoff count as positive.
// A cutoff outside (0,1] falls back to DefaultPositiveCutoff.
func NewAnalyzer(cutoff float64) *Analyzer {
	if !(cutoff > 0 && cutoff <= 1) {
		cutoff = DefaultPositiveCutoff
	}
	return &Analyzer{cutoff: cutoff}
}

// Analyze returns one Result per item, aligned to the matrix item ordering.
func (a *Analyzer) Analyze(matrix *models.ResponseMatrix, abilities []float64) []Result {
	items := matrix.ItemIDs()
	out := make([]Result, len(items))
	for i, id := range items {
		observations := matrix.ItemResponses(i)
		scores := make([]float64, len(observations))
		labels := make([]bool, len(observations))
		for k, obs := range observations {
			scores[k] = abilities[obs.Participant]
			labels[k] = obs.Value >= a.cutoff
		}
		out[i] = Evaluate(scores, labels)
		out[i].ItemID = id
	}
	return out
}

// Evaluate computes the ROC curve, AUC and Youden-optimal operating point for
// scores ranked against binary labels. A sample is predicted positive when its
// score is at or above the threshold.
func Evaluate(scores []float64, labels []bool) Result {
	res := Result{}
	for _, positive := range labels {
		if positive {
			res.Positives++
		} else {
			res.Negatives++
		}
	}
	if res.Positives == 0 || res.Negatives == 0 {
		res.AUC = math.NaN()
		res.OptimalThreshold = math.NaN()
		res.TPR = math.NaN()
		res.TNR = math.NaN()
		res.Err = ErrDegenerateInput
		return res
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })

	pos, neg := int64(res.Positives), int64(res.Negatives)
	res.Curve = make([]Point, 0, len(scores)+1)
	res.Curve = append(res.Curve, Point{Threshold: math.Inf(1)})

	var tp, fp, prevTP, prevFP int64
	// twiceArea accumulates Σ Δfp·(tp+prevTP) so AUC is exact on counts.
	var twiceArea int64
	best := math.Inf(-1)

	for k := 0; k < len(order); {
		threshold := scores[order[k]]
		for k < len(order) && scores[order[k]] == threshold {
			if labels[order[k]] {
				tp++
			} else {
				fp++
			}
			k++
		}
		twiceArea += (fp - prevFP) * (tp + prevTP)
		prevTP, prevFP = tp, fp

		tpr := float64(tp) / float64(pos)
		fpr := float64(fp) / float64(neg)
		res.Curve = append(res.Curve, Point{Threshold: threshold, FPR: fpr, TPR: tpr})

		if sum := tpr + (1 - fpr); sum > best {
			best = sum
			res.OptimalThreshold = threshold
			res.TPR = tpr
			res.TNR = 1 - fpr
		}
	}

	res.AUC = float64(twiceArea) / float64(2*pos*neg)
	res.Defined = true
	return res
}
