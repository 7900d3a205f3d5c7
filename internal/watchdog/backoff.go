package watchdog

import "time"

// windowBackOff spaces connection attempts one window apart, measured
// from the start of each attempt. An attempt that used up its window is
// retried at once.
type windowBackOff struct {
	window  time.Duration
	started time.Time
	now     func() time.Time
}

func newWindowBackOff(window time.Duration, now func() time.Time) *windowBackOff {
	return &windowBackOff{window: window, now: now, started: now()}
}

// mark records the start of an attempt.
func (w *windowBackOff) mark() {
	w.started = w.now()
}

// NextBackOff implements backoff.BackOff.
func (w *windowBackOff) NextBackOff() time.Duration {
	elapsed := w.now().Sub(w.started)
	if elapsed >= w.window {
		return 0
	}
	return w.window - elapsed
}

// Reset implements backoff.BackOff.
func (w *windowBackOff) Reset() {
	w.started = w.now()
}
