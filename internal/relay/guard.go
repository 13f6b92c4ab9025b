package relay

import (
	"crypto/subtle"
	"time"
)

// Credentials are the gate fields every producer write carries.
type Credentials struct {
	Secret    string
	Nonce     int64
	Timestamp int64 // Unix seconds or milliseconds
}

// secondsCutoff separates second-resolution timestamps from millisecond ones.
// 1e12 ms is September 2001; 1e12 s is far beyond any real clock.
const secondsCutoff = 1_000_000_000_000

// guard holds the stateless half of the replay check. The per-tenant half
// (last nonce) lives on the tenant and is checked under its lock.
type guard struct {
	secret    []byte
	tolerance time.Duration
}

func newGuard(secret string, tolerance time.Duration) guard {
	return guard{secret: []byte(secret), tolerance: tolerance}
}

// authentic compares in constant time. An unset secret authorizes nothing.
func (g guard) authentic(secret string) bool {
	if len(g.secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(g.secret, []byte(secret)) == 1
}

// fresh reports whether ts lies within the tolerance of now.
func (g guard) fresh(ts int64, now time.Time) bool {
	if ts <= 0 {
		return false
	}
	skew := now.Sub(timestampToTime(ts))
	if skew < 0 {
		skew = -skew
	}
	return skew <= g.tolerance
}

func timestampToTime(ts int64) time.Time {
	if ts < secondsCutoff {
		return time.Unix(ts, 0)
	}
	return time.UnixMilli(ts)
}
