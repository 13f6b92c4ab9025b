package relay

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"arena-relay/internal/metrics"

	"github.com/google/uuid"
)

// Push event names, shared with the viewer.
const (
	EventRoster      = "roster:update"
	EventEnvironment = "environment:update"
	EventFeed        = "kill:feed"
	EventDisplay     = "display:update"
)

const (
	maxTenantIDLen   = 128
	maxActorNameLen  = 64
	baselineMaxAge   = 5 * time.Minute
	defaultMaxRoster = 1000
)

// Publisher receives state changes for fan-out. Publish must not block.
type Publisher interface {
	Publish(tenantID, event string, data any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, string, any) {}

// Config holds everything the store needs. Zero values get sane defaults.
type Config struct {
	Secret        string
	SkewTolerance time.Duration
	RateWindow    time.Duration
	RateMax       int
	Sanity        SanityConfig
	FeedCapacity  int
	IdleTTL       time.Duration // 0 disables eviction
	MaxRoster     int           // entries per snapshot before the request is malformed

	Publisher Publisher
	Narrator  *Narrator
	Clock     func() time.Time
}

// Store owns one record per tenant. Operations on different tenants never
// contend: the table is a sync.Map and each tenant carries its own lock.
type Store struct {
	cfg       Config
	guard     guard
	publisher Publisher
	narrator  *Narrator
	now       func() time.Time

	tenants sync.Map // map[string]*tenant
	count   atomic.Int64

	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewStore creates an empty store. No goroutines start until Start().
func NewStore(cfg Config) *Store {
	if cfg.SkewTolerance <= 0 {
		cfg.SkewTolerance = 10 * time.Second
	}
	if cfg.FeedCapacity <= 0 {
		cfg.FeedCapacity = 20
	}
	if cfg.MaxRoster <= 0 {
		cfg.MaxRoster = defaultMaxRoster
	}
	if cfg.Sanity.MaxNameLen <= 0 {
		cfg.Sanity.MaxNameLen = maxActorNameLen
	}
	// An evicted tenant restarts at nonce 0; requests old enough to replay
	// must already be stale by the time that can happen.
	if cfg.IdleTTL > 0 && cfg.IdleTTL < 2*cfg.SkewTolerance {
		cfg.IdleTTL = 2 * cfg.SkewTolerance
	}

	s := &Store{
		cfg:       cfg,
		guard:     newGuard(cfg.Secret, cfg.SkewTolerance),
		publisher: cfg.Publisher,
		narrator:  cfg.Narrator,
		now:       cfg.Clock,
		stopChan:  make(chan struct{}),
	}
	if s.publisher == nil {
		s.publisher = nopPublisher{}
	}
	if s.narrator == nil {
		s.narrator = NewNarrator(nil)
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SetPublisher swaps the fan-out target. Call before serving traffic.
func (s *Store) SetPublisher(p Publisher) {
	if p == nil {
		p = nopPublisher{}
	}
	s.publisher = p
}

// ValidTenantID reports whether id is usable as a tenant key.
func ValidTenantID(id string) bool {
	return id != "" && len(id) <= maxTenantIDLen && utf8.ValidString(id)
}

// IngestRoster gates, sanitizes and stores a full roster, then publishes it.
// Individual bad entries never fail the request; see the returned report.
func (s *Store) IngestRoster(tenantID string, cred Credentials, raw []json.RawMessage) (FilterReport, error) {
	if !ValidTenantID(tenantID) {
		return FilterReport{}, fmt.Errorf("%w: server id", ErrMalformed)
	}
	if len(raw) > s.cfg.MaxRoster {
		return FilterReport{}, fmt.Errorf("%w: %d players exceeds %d", ErrMalformed, len(raw), s.cfg.MaxRoster)
	}
	if !s.guard.authentic(cred.Secret) {
		return FilterReport{}, ErrUnauthorized
	}

	now := s.now()
	t := s.lockTenant(tenantID, now)
	defer t.mu.Unlock()

	if err := t.admit(s.guard, cred, now); err != nil {
		s.warnReject(t, "roster", err, now)
		return FilterReport{}, err
	}

	pruneBaselines(t.baselines, now, baselineMaxAge)
	roster, report := s.cfg.Sanity.filter(raw, t.roster, t.baselines, now)
	t.roster = roster

	if report.Dropped() > 0 && t.shouldWarn(now) {
		log.Printf("⚠️ [%s] snapshot %d: dropped %d malformed, %d speed violations %v",
			tenantID, cred.Nonce, report.Malformed, report.SpeedDropped, report.SpeedIDs)
	}

	s.publisher.Publish(tenantID, EventRoster, map[string]any{
		"serverId":  tenantID,
		"players":   t.rosterCopy(),
		"timestamp": now.UnixMilli(),
	})
	return report, nil
}

// Roster returns the tenant's current roster (empty for unknown tenants).
func (s *Store) Roster(tenantID string) []Player {
	t, ok := s.lookup(tenantID)
	if !ok {
		return []Player{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rosterCopy()
}

// IngestEnvironment gates and merges environment parameters, clamping bounded scalars.
func (s *Store) IngestEnvironment(tenantID string, cred Credentials, raw map[string]any) (Environment, error) {
	if !ValidTenantID(tenantID) {
		return Environment{}, fmt.Errorf("%w: server id", ErrMalformed)
	}
	if raw == nil {
		return Environment{}, fmt.Errorf("%w: environment must be an object", ErrMalformed)
	}
	if !s.guard.authentic(cred.Secret) {
		return Environment{}, ErrUnauthorized
	}

	now := s.now()
	t := s.lockTenant(tenantID, now)
	defer t.mu.Unlock()

	if err := t.admit(s.guard, cred, now); err != nil {
		s.warnReject(t, "environment", err, now)
		return Environment{}, err
	}

	env := mergeEnvironment(t.environment, raw)
	env.UpdatedAt = now.UnixMilli()
	t.environment = env

	out := env.clone()
	s.publisher.Publish(tenantID, EventEnvironment, out)
	return out, nil
}

// Environment returns the tenant's environment (defaults for unknown tenants).
func (s *Store) Environment(tenantID string) Environment {
	t, ok := s.lookup(tenantID)
	if !ok {
		return DefaultEnvironment()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.environment.clone()
}

// RecordEvent gates a kill/death report, narrates it, prepends it to the feed
// and publishes the whole feed.
func (s *Store) RecordEvent(tenantID string, cred Credentials, in EventInput) (Event, error) {
	if !ValidTenantID(tenantID) {
		return Event{}, fmt.Errorf("%w: server id", ErrMalformed)
	}
	if in.Victim == "" {
		return Event{}, fmt.Errorf("%w: victim is required", ErrMalformed)
	}
	if !s.guard.authentic(cred.Secret) {
		return Event{}, ErrUnauthorized
	}

	now := s.now()
	t := s.lockTenant(tenantID, now)
	defer t.mu.Unlock()

	if err := t.admit(s.guard, cred, now); err != nil {
		s.warnReject(t, "event", err, now)
		return Event{}, err
	}

	victim := truncateRunes(in.Victim, maxActorNameLen)
	killer := truncateRunes(in.Killer, maxActorNameLen)
	method := truncateRunes(in.Method, maxActorNameLen)

	n := s.narrator.Narrate(victim, killer, method)
	ev := Event{
		ID:        uuid.NewString(),
		Text:      n.Text,
		Victim:    victim,
		Killer:    killer,
		Method:    n.Method,
		Category:  n.Category,
		Timestamp: now.UnixMilli(),
	}
	t.feed.push(ev)

	s.publisher.Publish(tenantID, EventFeed, t.feed.snapshot())
	return ev, nil
}

// Feed returns the tenant's recent events, newest first.
func (s *Store) Feed(tenantID string) []Event {
	t, ok := s.lookup(tenantID)
	if !ok {
		return []Event{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.feed.snapshot()
}

// View returns everything a freshly joined viewer needs in one consistent read.
func (s *Store) View(tenantID string) ([]Player, Environment, []Event) {
	t, ok := s.lookup(tenantID)
	if !ok {
		return []Player{}, DefaultEnvironment(), []Event{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rosterCopy(), t.environment.clone(), t.feed.snapshot()
}

// SetPanelImage gates and assigns an image to one display panel.
func (s *Store) SetPanelImage(tenantID string, cred Credentials, in ImageInput) (Display, error) {
	return s.updateDisplay(tenantID, "image", cred, func(d *Display) error {
		if err := validateImage(*d, in); err != nil {
			return err
		}
		d.Images[in.Panel] = assetRef(in.ImageID)
		return nil
	})
}

// SetAnnouncement gates and replaces the announcement banner.
func (s *Store) SetAnnouncement(tenantID string, cred Credentials, in AnnouncementInput) (Display, error) {
	a, err := buildAnnouncement(in)
	if err != nil {
		return Display{}, err
	}
	return s.updateDisplay(tenantID, "announcement", cred, func(d *Display) error {
		d.Announcement = a
		return nil
	})
}

// ClearDisplay gates and resets every panel and the announcement.
func (s *Store) ClearDisplay(tenantID string, cred Credentials) (Display, error) {
	return s.updateDisplay(tenantID, "clear", cred, func(d *Display) error {
		*d = DefaultDisplay()
		return nil
	})
}

// Display returns the tenant's panel state (empty for unknown tenants).
func (s *Store) Display(tenantID string) Display {
	t, ok := s.lookup(tenantID)
	if !ok {
		return DefaultDisplay()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.display.clone()
}

// updateDisplay gates the request, then applies change to a copy of the
// display and keeps it only if change succeeds.
func (s *Store) updateDisplay(tenantID, kind string, cred Credentials, change func(*Display) error) (Display, error) {
	if !ValidTenantID(tenantID) {
		return Display{}, fmt.Errorf("%w: server id", ErrMalformed)
	}
	if !s.guard.authentic(cred.Secret) {
		return Display{}, ErrUnauthorized
	}

	now := s.now()
	t := s.lockTenant(tenantID, now)
	defer t.mu.Unlock()

	if err := t.admit(s.guard, cred, now); err != nil {
		s.warnReject(t, kind, err, now)
		return Display{}, err
	}

	next := t.display.clone()
	if err := change(&next); err != nil {
		return Display{}, err
	}
	next.UpdatedAt = now.UnixMilli()
	t.display = next

	out := next.clone()
	s.publisher.Publish(tenantID, EventDisplay, out)
	return out, nil
}

// TenantSummary is one row of the tenant index.
type TenantSummary struct {
	ID       string `json:"serverId"`
	Players  int    `json:"players"`
	LastSeen int64  `json:"lastSeen"` // Unix ms
}

// Tenants lists known tenants sorted by id.
func (s *Store) Tenants() []TenantSummary {
	out := make([]TenantSummary, 0, s.count.Load())
	s.tenants.Range(func(key, value any) bool {
		t := value.(*tenant)
		t.mu.Lock()
		if !t.evicted {
			out = append(out, TenantSummary{ID: t.id, Players: len(t.roster), LastSeen: t.lastSeen.UnixMilli()})
		}
		t.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TenantCount returns the number of tenants held in memory.
func (s *Store) TenantCount() int {
	return int(s.count.Load())
}

// Start launches the idle-tenant janitor (no-op when eviction is disabled).
func (s *Store) Start() {
	if s.cfg.IdleTTL <= 0 || s.running.Swap(true) {
		return
	}
	interval := s.cfg.IdleTTL / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	s.wg.Add(1)
	go s.janitorLoop(interval)
}

// Stop stops the janitor.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

func (s *Store) janitorLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if n := s.EvictIdle(); n > 0 {
				log.Printf("🧹 Evicted %d idle servers (%d remaining)", n, s.TenantCount())
			}
		}
	}
}

// EvictIdle drops tenants not written for longer than IdleTTL.
func (s *Store) EvictIdle() int {
	if s.cfg.IdleTTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.cfg.IdleTTL)
	evicted := 0
	s.tenants.Range(func(key, value any) bool {
		t := value.(*tenant)
		t.mu.Lock()
		if !t.evicted && t.lastSeen.Before(cutoff) {
			t.evicted = true
			s.tenants.Delete(key)
			evicted++
		}
		t.mu.Unlock()
		return true
	})
	if evicted > 0 {
		metrics.UpdateTenantCount(int(s.count.Add(int64(-evicted))))
	}
	return evicted
}

func (s *Store) lookup(id string) (*tenant, bool) {
	v, ok := s.tenants.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*tenant), true
}

// lockTenant returns the tenant for id, created if needed, with its lock held.
func (s *Store) lockTenant(id string, now time.Time) *tenant {
	for {
		t, ok := s.lookup(id)
		if !ok {
			actual, loaded := s.tenants.LoadOrStore(id, newTenant(id, s.cfg, now))
			t = actual.(*tenant)
			if !loaded {
				metrics.UpdateTenantCount(int(s.count.Add(1)))
				log.Printf("🆕 Server %q registered", id)
			}
		}
		t.mu.Lock()
		if !t.evicted {
			return t
		}
		t.mu.Unlock()
	}
}

func (s *Store) warnReject(t *tenant, kind string, err error, now time.Time) {
	if t.shouldWarn(now) {
		log.Printf("⛔ [%s] %s rejected: %v", t.id, kind, err)
	}
}
