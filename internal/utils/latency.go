package utils

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// LatencyWindow keeps the most recent estimation durations in a ring buffer
// and reports empirical quantiles over them.
type LatencyWindow struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
}

// NewLatencyWindow creates a window holding up to size samples.
func NewLatencyWindow(size int) *LatencyWindow {
	if size <= 0 {
		size = 512
	}
	return &LatencyWindow{samples: make([]float64, size)}
}

// Observe records a duration, evicting the oldest sample once the window is full.
func (w *LatencyWindow) Observe(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.samples[w.next] = d.Seconds()
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

// Count returns the number of samples currently held.
func (w *LatencyWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count()
}

func (w *LatencyWindow) count() int {
	if w.full {
		return len(w.samples)
	}
	return w.next
}

// Quantile returns the empirical q-quantile (0..1) of the held samples, or
// zero when the window is empty.
func (w *LatencyWindow) Quantile(q float64) time.Duration {
	w.mu.Lock()
	sorted := append([]float64(nil), w.samples[:w.count()]...)
	w.mu.Unlock()

	if len(sorted) == 0 {
		return 0
	}
	switch {
	case q < 0:
		q = 0
	case q > 1:
		q = 1
	}
	sort.Float64s(sorted)
	return seconds(stat.Quantile(q, stat.Empirical, sorted, nil))
}

// Mean returns the mean of the held samples.
func (w *LatencyWindow) Mean() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := w.count()
	if n == 0 {
		return 0
	}
	return seconds(stat.Mean(w.samples[:n], nil))
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
