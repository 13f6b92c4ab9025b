package relay

import "time"

// slidingWindow counts requests inside the trailing window.
// Not safe for concurrent use; the owning tenant's lock guards it.
type slidingWindow struct {
	window time.Duration
	limit  int
	events []time.Time
}

func newSlidingWindow(window time.Duration, limit int) *slidingWindow {
	return &slidingWindow{window: window, limit: limit}
}

// Allow records now and reports whether the window is still at or under the
// ceiling. The timestamp is kept even when the answer is no, so a client that
// keeps flooding stays rejected instead of being reset.
func (w *slidingWindow) Allow(now time.Time) bool {
	if w.limit <= 0 || w.window <= 0 {
		return true
	}

	w.events = append(w.events, now)

	cutoff := now.Add(-w.window)
	kept := w.events[:0]
	for _, ts := range w.events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	w.events = kept

	// Memory cap under a sustained flood. Still far over the ceiling, so the
	// flooder keeps getting rejected.
	if hardCap := w.limit * 8; len(w.events) > hardCap {
		w.events = append(w.events[:0], w.events[len(w.events)-hardCap:]...)
	}

	return len(w.events) <= w.limit
}

// Len returns the number of timestamps currently held.
func (w *slidingWindow) Len() int {
	return len(w.events)
}
