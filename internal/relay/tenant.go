package relay

import (
	"sync"
	"time"
)

// tenant is one game instance's live view plus its validation bookkeeping.
// Every field is guarded by mu.
type tenant struct {
	mu sync.Mutex

	id        string
	lastNonce int64
	window    *slidingWindow
	baselines map[int64]observation

	roster      []Player
	environment Environment
	feed        *feed
	display     Display

	lastSeen time.Time
	lastWarn time.Time // throttles anomaly logging
	evicted  bool      // set by the janitor; writers must re-resolve
}

func newTenant(id string, cfg Config, now time.Time) *tenant {
	return &tenant{
		id:          id,
		window:      newSlidingWindow(cfg.RateWindow, cfg.RateMax),
		baselines:   make(map[int64]observation),
		roster:      []Player{},
		environment: DefaultEnvironment(),
		feed:        newFeed(cfg.FeedCapacity),
		display:     DefaultDisplay(),
		lastSeen:    now,
	}
}

// admit runs both gates for an authenticated request. Caller holds mu.
//
// Rate accounting and nonce consumption are independent: a fresh nonce is
// burned even when the rate ceiling rejects the request, so the same request
// cannot be replayed once the window slides.
func (t *tenant) admit(g guard, cred Credentials, now time.Time) error {
	if !g.authentic(cred.Secret) {
		return ErrUnauthorized
	}

	withinRate := t.window.Allow(now)

	if !g.fresh(cred.Timestamp, now) {
		return ErrClockSkew
	}
	if cred.Nonce <= t.lastNonce {
		return ErrReplayedNonce
	}
	t.lastNonce = cred.Nonce

	if !withinRate {
		return ErrRateLimited
	}
	t.lastSeen = now
	return nil
}

func (t *tenant) rosterCopy() []Player {
	out := make([]Player, len(t.roster))
	for i, p := range t.roster {
		out[i] = p.clone()
	}
	return out
}

// shouldWarn reports whether an anomaly may be logged now (at most once per second).
func (t *tenant) shouldWarn(now time.Time) bool {
	if now.Sub(t.lastWarn) < time.Second {
		return false
	}
	t.lastWarn = now
	return true
}
