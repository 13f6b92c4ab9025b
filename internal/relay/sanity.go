package relay

import (
	"encoding/json"
	"math"
	"time"
)

// Bounds is the arena on the ground plane. y is not bounded.
type Bounds struct {
	MinX, MaxX float64
	MinZ, MaxZ float64
}

// SanityConfig parameterizes the physical plausibility filter.
type SanityConfig struct {
	Bounds        Bounds
	MaxSpeed      float64       // units per second on the ground plane
	MinSample     time.Duration // floor for elapsed time between observations
	HealthCeiling float64
	MaxNameLen    int
}

// observation is the last accepted ground position of a player.
type observation struct {
	x, z float64
	at   time.Time
}

// FilterReport tallies what the filter did to one snapshot.
type FilterReport struct {
	Received     int     `json:"received"`
	Accepted     int     `json:"accepted"`
	Malformed    int     `json:"malformed"`
	Clamped      int     `json:"clamped"`
	SpeedDropped int     `json:"speedDropped"`
	SpeedIDs     []int64 `json:"-"`
}

// Dropped is the number of entries that did not make it into the new roster as sent.
func (r FilterReport) Dropped() int {
	return r.Malformed + r.SpeedDropped
}

// filter sanitizes raw entries against the tenant's baselines.
//
// Accepted entries update baselines. An entry that implies an impossible
// speed is dropped and the player's previous roster entry is carried over
// unchanged at the same position in the output.
func (c SanityConfig) filter(raw []json.RawMessage, prev []Player, baselines map[int64]observation, now time.Time) ([]Player, FilterReport) {
	report := FilterReport{Received: len(raw)}
	out := make([]Player, 0, len(raw))
	seen := make(map[int64]bool, len(raw))

	var prevByID map[int64]Player
	if len(prev) > 0 {
		prevByID = make(map[int64]Player, len(prev))
		for _, p := range prev {
			prevByID[p.ID] = p
		}
	}

	for _, data := range raw {
		r, ok := decodeRawPlayer(data)
		if !ok {
			report.Malformed++
			continue
		}
		id, okID := r.id()
		x, okX := r.number("x")
		y, okY := r.optionalNumber("y")
		z, okZ := r.number("z")
		if !okID || !okX || !okY || !okZ {
			report.Malformed++
			continue
		}
		if seen[id] {
			// first occurrence wins
			report.Malformed++
			continue
		}
		seen[id] = true

		p, clamped := c.build(r, id, x, y, z)
		if clamped {
			report.Clamped++
		}

		if last, ok := baselines[id]; ok && c.MaxSpeed > 0 {
			elapsed := now.Sub(last.at)
			if elapsed < c.MinSample {
				elapsed = c.MinSample
			}
			dist := math.Hypot(p.X-last.x, p.Z-last.z)
			if elapsed > 0 && dist/elapsed.Seconds() > c.MaxSpeed {
				report.SpeedDropped++
				report.SpeedIDs = append(report.SpeedIDs, id)
				if old, ok := prevByID[id]; ok {
					out = append(out, old.clone())
				}
				continue
			}
		}

		baselines[id] = observation{x: p.X, z: p.Z, at: now}
		out = append(out, p)
		report.Accepted++
	}

	return out, report
}

// build turns a checked raw entry into a Player, clamping out-of-range fields.
func (c SanityConfig) build(r rawPlayer, id int64, x, y, z float64) (Player, bool) {
	clamped := false
	clampField := func(v, lo, hi float64) float64 {
		nv := clamp(v, lo, hi)
		if nv != v {
			clamped = true
		}
		return nv
	}

	ceiling := c.HealthCeiling
	if ceiling < 1 {
		ceiling = 1
	}

	p := Player{
		ID:    id,
		X:     clampField(x, c.Bounds.MinX, c.Bounds.MaxX),
		Y:     y,
		Z:     clampField(z, c.Bounds.MinZ, c.Bounds.MaxZ),
		Alive: true,
		Extra: r.extra(),
	}

	if yaw, ok := r.number("yaw"); ok {
		p.Yaw = yaw
	}
	if name, ok := r["name"].(string); ok {
		if c.MaxNameLen > 0 {
			name = truncateRunes(name, c.MaxNameLen)
		}
		p.Name = name
	}
	if alive, ok := r["alive"].(bool); ok {
		p.Alive = alive
	}

	if maxHealth, ok := r.number("maxHealth"); ok {
		p.MaxHealth = clampField(maxHealth, 1, ceiling)
	} else {
		p.MaxHealth = ceiling
	}
	if health, ok := r.number("health"); ok {
		p.Health = clampField(health, 0, p.MaxHealth)
	} else {
		p.Health = p.MaxHealth
	}

	return p, clamped
}

// pruneBaselines forgets players not observed for longer than maxAge.
func pruneBaselines(baselines map[int64]observation, now time.Time, maxAge time.Duration) {
	cutoff := now.Add(-maxAge)
	for id, obs := range baselines {
		if obs.at.Before(cutoff) {
			delete(baselines, id)
		}
	}
}
