package relay

import (
	"encoding/json"
	"math"
	"unicode/utf8"
)

// Player is one sanitized roster entry.
// Unrecognised producer fields ride along in Extra and are emitted flat.
type Player struct {
	ID        int64
	Name      string
	X, Y, Z   float64
	Yaw       float64
	Health    float64
	MaxHealth float64
	Alive     bool
	Extra     map[string]any
}

// maxExtraFields caps opaque pass-through fields per entry.
const maxExtraFields = 32

// maxSafeInteger is the largest integer a JSON number round-trips exactly.
const maxSafeInteger = 1 << 53

var playerKnownKeys = map[string]bool{
	"id": true, "name": true, "x": true, "y": true, "z": true,
	"yaw": true, "health": true, "maxHealth": true, "alive": true,
}

// MarshalJSON flattens Extra next to the known fields. Known fields win.
func (p Player) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extra)+9)
	for k, v := range p.Extra {
		out[k] = v
	}
	out["id"] = p.ID
	out["x"] = p.X
	out["y"] = p.Y
	out["z"] = p.Z
	out["yaw"] = p.Yaw
	out["health"] = p.Health
	out["maxHealth"] = p.MaxHealth
	out["alive"] = p.Alive
	if p.Name != "" {
		out["name"] = p.Name
	}
	return json.Marshal(out)
}

// clone returns a deep-enough copy for handing out of the store.
func (p Player) clone() Player {
	if p.Extra != nil {
		extra := make(map[string]any, len(p.Extra))
		for k, v := range p.Extra {
			extra[k] = v
		}
		p.Extra = extra
	}
	return p
}

// rawPlayer is a decoded but unchecked roster entry.
type rawPlayer map[string]any

func decodeRawPlayer(data json.RawMessage) (rawPlayer, bool) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return nil, false
	}
	return rawPlayer(m), true
}

// number returns the field as a finite float64.
func (r rawPlayer) number(key string) (float64, bool) {
	v, ok := r[key].(float64)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// optionalNumber is number for a field that defaults to 0 when absent.
// A present but non-numeric or non-finite value still fails.
func (r rawPlayer) optionalNumber(key string) (float64, bool) {
	if _, present := r[key]; !present {
		return 0, true
	}
	return r.number(key)
}

// id returns the identifier if it is an integral, exactly representable number.
func (r rawPlayer) id() (int64, bool) {
	v, ok := r.number("id")
	if !ok || v != math.Trunc(v) || math.Abs(v) > maxSafeInteger {
		return 0, false
	}
	return int64(v), true
}

func (r rawPlayer) extra() map[string]any {
	var out map[string]any
	for k, v := range r {
		if playerKnownKeys[k] {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		if len(out) >= maxExtraFields {
			break
		}
		out[k] = v
	}
	return out
}

// Environment is the tenant's lighting/weather record.
type Environment struct {
	TimeOfDay  float64        `json:"timeOfDay"`
	Brightness float64        `json:"brightness"`
	FogDensity float64        `json:"fogDensity"`
	Weather    string         `json:"weather"`
	Extra      map[string]any `json:"extra,omitempty"`
	UpdatedAt  int64          `json:"updatedAt"` // Unix ms, 0 until first write
}

const maxWeatherLen = 32

// DefaultEnvironment is what a tenant reports before its first environment write.
func DefaultEnvironment() Environment {
	return Environment{
		TimeOfDay:  12,
		Brightness: 2,
		Weather:    "clear",
	}
}

func (e Environment) clone() Environment {
	if e.Extra != nil {
		extra := make(map[string]any, len(e.Extra))
		for k, v := range e.Extra {
			extra[k] = v
		}
		e.Extra = extra
	}
	return e
}

var envKnownKeys = map[string]bool{
	"timeOfDay": true, "clockTime": true, "brightness": true, "fogDensity": true, "weather": true,
}

// mergeEnvironment applies the fields present in raw on top of cur, clamping
// every bounded scalar. Fields with the wrong type are ignored.
func mergeEnvironment(cur Environment, raw map[string]any) Environment {
	next := cur.clone()
	r := rawPlayer(raw)

	if v, ok := r.number("timeOfDay"); ok {
		next.TimeOfDay = clamp(v, 0, 24)
	} else if v, ok := r.number("clockTime"); ok {
		next.TimeOfDay = clamp(v, 0, 24)
	}
	if v, ok := r.number("brightness"); ok {
		next.Brightness = clamp(v, 0, 10)
	}
	if v, ok := r.number("fogDensity"); ok {
		next.FogDensity = clamp(v, 0, 1)
	}
	if w, ok := raw["weather"].(string); ok {
		next.Weather = truncateRunes(w, maxWeatherLen)
	}
	for k, v := range raw {
		if envKnownKeys[k] {
			continue
		}
		if next.Extra == nil {
			next.Extra = make(map[string]any)
		}
		if _, exists := next.Extra[k]; !exists && len(next.Extra) >= maxExtraFields {
			continue
		}
		next.Extra[k] = v
	}
	return next
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
