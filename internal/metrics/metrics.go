package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels estimations that produced a result.
	OutcomeSuccess = "success"
	// OutcomeInvalid labels requests rejected before estimation started.
	OutcomeInvalid = "invalid"
	// OutcomeError labels estimations that failed part-way.
	OutcomeError = "error"

	// KindParticipant and KindItem label held entity counters.
	KindParticipant = "participant"
	KindItem        = "item"
)

var (
	estimationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_irt",
			Name:      "estimations_total",
			Help:      "Total number of estimation requests, partitioned by outcome and final run status.",
		},
		[]string{"outcome", "status"},
	)

	estimationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_irt",
			Name:      "estimation_seconds",
			Help:      "Estimation latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	estimationIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_irt",
			Name:      "estimation_iterations",
			Help:      "Alternating iterations performed per estimation.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	heldEntitiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_irt",
			Name:      "held_entities_total",
			Help:      "Participants and items whose final fit was held, partitioned by reason.",
		},
		[]string{"kind", "reason"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_irt",
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups, partitioned by hit or miss.",
		},
		[]string{"result"},
	)
)

// Register attaches mirador-irt collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		estimationsTotal,
		estimationDurationSeconds,
		estimationIterations,
		heldEntitiesTotal,
		cacheLookupsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveEstimation records an estimation duration, outcome and run status.
// status is empty when no result was produced.
func ObserveEstimation(duration time.Duration, outcome, status string) {
	switch outcome {
	case OutcomeSuccess, OutcomeInvalid, OutcomeError:
	default:
		outcome = OutcomeError
	}
	if status == "" {
		status = "none"
	}
	estimationsTotal.WithLabelValues(outcome, status).Inc()
	if duration < 0 {
		duration = 0
	}
	estimationDurationSeconds.Observe(duration.Seconds())
}

// ObserveIterations records how many alternating iterations a run used.
func ObserveIterations(n int) {
	estimationIterations.Observe(float64(n))
}

// AddHeld increments the held counter for kind by count entities of reason.
func AddHeld(kind, reason string, count int) {
	if count <= 0 {
		return
	}
	heldEntitiesTotal.WithLabelValues(kind, reason).Add(float64(count))
}

// ObserveCacheLookup records a result cache hit or miss.
func ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}
