package train

import (
	"math"
	"testing"
)

func TestTrackerStopsAfterStalledValidations(t *testing.T) {
	tracker := NewTracker(1e-4, 3)
	losses := []float64{1.0, 0.9, 0.9, 0.9, 0.9}
	wantImproved := []bool{true, true, false, false, false}

	stoppedAt := -1
	for i, v := range losses {
		improved, stop := tracker.Observe(v)
		if improved != wantImproved[i] {
			t.Fatalf("observation %d: improved=%v, want %v", i, improved, wantImproved[i])
		}
		if stop {
			stoppedAt = i
			break
		}
	}
	if stoppedAt != 3 {
		t.Fatalf("stopped at observation %d, want 3", stoppedAt)
	}
	if tracker.Best() != 0.9 {
		t.Fatalf("best %v, want 0.9", tracker.Best())
	}
}

func TestTrackerIgnoresSubThresholdImprovement(t *testing.T) {
	tracker := NewTracker(1e-4, 2)
	if improved, stop := tracker.Observe(1.0); !improved || stop {
		t.Fatalf("first observation: improved=%v stop=%v", improved, stop)
	}

	improved, stop := tracker.Observe(1.0 - 5e-5)
	if improved {
		t.Fatal("improvement below the threshold must not reset the counter")
	}
	if !stop {
		t.Fatal("expected stop once the counter reached the patience")
	}
	if tracker.Best() != 1.0 {
		t.Fatalf("best %v, want 1.0", tracker.Best())
	}
}

func TestTrackerDisabledPatienceNeverStops(t *testing.T) {
	tracker := NewTracker(1e-4, 0)
	for i := 0; i < 100; i++ {
		if _, stop := tracker.Observe(0.5); stop {
			t.Fatalf("stopped at observation %d with patience disabled", i)
		}
	}
	if tracker.Stale() != 100 {
		t.Fatalf("stale %d, want 100", tracker.Stale())
	}
}

func TestTrackerInitialBestIsInfinite(t *testing.T) {
	tracker := NewTracker(1e-4, 3)
	if !math.IsInf(tracker.Best(), 1) {
		t.Fatalf("best %v before any observation, want +Inf", tracker.Best())
	}
	if tracker.Stale() != 0 {
		t.Fatalf("stale %d before any observation, want 0", tracker.Stale())
	}
}
