package erasure

import (
	"sync"
	"time"
)

// CancelDetector fires when the cancel key is pressed presses times within a
// rolling window.
type CancelDetector struct {
	presses int
	window  time.Duration

	mu    sync.Mutex
	times []time.Time
}

// NewCancelDetector returns a detector; presses below 1 are treated as 1.
func NewCancelDetector(presses int, window time.Duration) *CancelDetector {
	if presses < 1 {
		presses = 1
	}
	return &CancelDetector{presses: presses, window: window}
}

// Press records a press at now and reports whether the threshold was reached.
// The history is cleared once it fires.
func (d *CancelDetector) Press(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := now.Add(-d.window)
	kept := d.times[:0]
	for _, t := range d.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	d.times = append(kept, now)

	if len(d.times) >= d.presses {
		d.times = d.times[:0]
		return true
	}
	return false
}
