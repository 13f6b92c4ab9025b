package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"

	"arena-relay/internal/relay"
)

// SecretHeader carries the shared secret when it is not in the body.
const SecretHeader = "X-Relay-Secret"

// maxBodyBytes bounds every producer and operator request body.
const maxBodyBytes = 1 << 20

// gateFields are the replay-guard fields every producer write carries.
type gateFields struct {
	Secret    string      `json:"secret"`
	Nonce     json.Number `json:"nonce"`
	Timestamp json.Number `json:"timestamp"`
}

// credentials converts the gate fields, preferring the body secret over the header.
func (g gateFields) credentials(r *http.Request) (relay.Credentials, error) {
	secret := g.Secret
	if secret == "" {
		secret = r.Header.Get(SecretHeader)
	}

	nonce, err := g.Nonce.Int64()
	if err != nil {
		return relay.Credentials{}, fmt.Errorf("%w: nonce must be an integer", relay.ErrMalformed)
	}
	ts, err := numberToInt64(g.Timestamp)
	if err != nil {
		return relay.Credentials{}, fmt.Errorf("%w: timestamp must be a number", relay.ErrMalformed)
	}
	return relay.Credentials{Secret: secret, Nonce: nonce, Timestamp: ts}, nil
}

// numberToInt64 accepts integral and fractional timestamps (fractional seconds are common).
func numberToInt64(n json.Number) (int64, error) {
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt64/2 {
		return 0, errors.New("not a number")
	}
	return int64(f), nil
}

// readBody reads a size-limited body. An empty body is returned as nil.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", relay.ErrMalformed, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// decodeBody reads and unmarshals a JSON object body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) ([]byte, error) {
	data, err := readBody(w, r)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: empty body", relay.ErrMalformed)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("%w: %v", relay.ErrMalformed, err)
	}
	return data, nil
}

// secretMatches compares in constant time. An unset expected secret matches nothing.
func secretMatches(expected, got string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
