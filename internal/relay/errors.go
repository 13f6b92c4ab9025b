package relay

import "errors"

// Gate rejections. The HTTP layer folds the first four into one "forbidden"
// answer; they stay distinct here for logs and metrics.
var (
	ErrUnauthorized  = errors.New("shared secret mismatch")
	ErrReplayedNonce = errors.New("nonce not greater than last accepted")
	ErrClockSkew     = errors.New("timestamp outside tolerance")
	ErrRateLimited   = errors.New("request rate ceiling exceeded")

	// ErrMalformed means the request shape is wrong (integration bug, not an attack).
	ErrMalformed = errors.New("malformed input")
)

// Outcome maps an ingest error to a bounded metric label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrReplayedNonce):
		return "replay"
	case errors.Is(err, ErrClockSkew):
		return "skew"
	case errors.Is(err, ErrRateLimited):
		return "rate_limit"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	default:
		return "error"
	}
}

// IsForbidden reports whether err is a gate rejection that must surface as 403.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrReplayedNonce) ||
		errors.Is(err, ErrClockSkew) ||
		errors.Is(err, ErrRateLimited)
}
