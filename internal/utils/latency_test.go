package utils

import (
	"testing"
	"time"
)

func TestLatencyWindowQuantile(t *testing.T) {
	window := NewLatencyWindow(10)
	durations := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 40 * time.Millisecond, 50 * time.Millisecond}
	for _, d := range durations {
		window.Observe(d)
	}

	if window.Count() != len(durations) {
		t.Fatalf("expected count %d, got %d", len(durations), window.Count())
	}
	if p95 := window.Quantile(0.95); p95 < 40*time.Millisecond {
		t.Fatalf("expected p95 >= 40ms, got %v", p95)
	}
	if p0 := window.Quantile(-1); p0 < 9*time.Millisecond || p0 > 11*time.Millisecond {
		t.Fatalf("expected minimum near 10ms, got %v", p0)
	}
	if mean := window.Mean(); mean < 29*time.Millisecond || mean > 31*time.Millisecond {
		t.Fatalf("expected mean near 30ms, got %v", mean)
	}
}

func TestLatencyWindowEvictsOldest(t *testing.T) {
	window := NewLatencyWindow(3)
	for i := 1; i <= 10; i++ {
		window.Observe(time.Duration(i) * time.Second)
	}
	if window.Count() != 3 {
		t.Fatalf("expected window size 3, got %d", window.Count())
	}
	if q := window.Quantile(0); q < 7*time.Second {
		t.Fatalf("expected oldest samples evicted, minimum %v", q)
	}
}

func TestLatencyWindowEmpty(t *testing.T) {
	window := NewLatencyWindow(0)
	if window.Quantile(0.5) != 0 || window.Mean() != 0 {
		t.Fatalf("empty window should report zero")
	}
}
