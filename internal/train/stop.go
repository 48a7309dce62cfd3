package train

import "math"

// Tracker decides when validation loss has stalled long enough to stop
// training. A loss improves when it beats the best seen so far by more
// than the threshold. The stall counter resets on improvement and
// increments on every observation, so a flat loss curve stops after
// exactly patience validations.
type Tracker struct {
	threshold float64
	patience  int
	best      float64
	stale     int
}

// NewTracker builds a tracker. A non-positive patience disables early
// stopping; observations are still tracked for Best.
func NewTracker(threshold float64, patience int) *Tracker {
	return &Tracker{threshold: threshold, patience: patience, best: math.Inf(1)}
}

// Observe records one validation loss. improved reports whether it beat
// the previous best by more than the threshold; stop reports whether the
// stall counter reached the patience.
func (t *Tracker) Observe(loss float64) (improved, stop bool) {
	if t.best-loss > t.threshold {
		improved = true
		t.best = loss
		t.stale = 0
	}
	t.stale++
	return improved, t.patience > 0 && t.stale >= t.patience
}

// Best returns the lowest loss observed so far, +Inf before the first
// observation.
func (t *Tracker) Best() float64 { return t.best }

// Stale returns the observations since the last improvement, counting
// the improving one.
func (t *Tracker) Stale() int { return t.stale }
