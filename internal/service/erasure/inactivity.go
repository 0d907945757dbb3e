package erasure

import (
	"sync"
	"time"
)

// InactivityTimer calls fire once timeout elapses without a Reset.
type InactivityTimer struct {
	clock   Clock
	timeout time.Duration

	mu       sync.Mutex
	timer    Timer
	deadline time.Time
	stopped  bool
}

// NewInactivityTimer starts the countdown immediately.
func NewInactivityTimer(clock Clock, timeout time.Duration, fire func()) *InactivityTimer {
	t := &InactivityTimer{clock: clock, timeout: timeout, deadline: clock.Now().Add(timeout)}
	t.timer = clock.AfterFunc(timeout, func() {
		t.mu.Lock()
		// A Reset that raced with expiry pushed the deadline out and
		// rescheduled the timer; this run is stale.
		if t.stopped || t.clock.Now().Before(t.deadline) {
			t.mu.Unlock()
			return
		}
		t.stopped = true
		t.mu.Unlock()
		fire()
	})
	return t
}

// Reset restarts the countdown. It reports false once the timer has fired or
// been stopped.
func (t *InactivityTimer) Reset() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.deadline = t.clock.Now().Add(t.timeout)
	t.timer.Stop()
	t.timer.Reset(t.timeout)
	return true
}

// Rearm schedules a fresh countdown of d, also after the timer has fired.
func (t *InactivityTimer) Rearm(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = false
	t.deadline = t.clock.Now().Add(d)
	t.timer.Stop()
	t.timer.Reset(d)
}

// Stop cancels the countdown for good.
func (t *InactivityTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.timer.Stop()
}
