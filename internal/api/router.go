package api

import (
	"encoding/json"
	"net/http"

	"arena-relay/internal/commands"
	"arena-relay/internal/minimap"
	"arena-relay/internal/relay"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RelayStore defines the tenant store methods used by the API.
// This interface enables mocking for tests without a real store.
type RelayStore interface {
	IngestRoster(tenantID string, cred relay.Credentials, raw []json.RawMessage) (relay.FilterReport, error)
	Roster(tenantID string) []relay.Player
	IngestEnvironment(tenantID string, cred relay.Credentials, raw map[string]any) (relay.Environment, error)
	Environment(tenantID string) relay.Environment
	RecordEvent(tenantID string, cred relay.Credentials, in relay.EventInput) (relay.Event, error)
	Feed(tenantID string) []relay.Event
	View(tenantID string) ([]relay.Player, relay.Environment, []relay.Event)
	SetPanelImage(tenantID string, cred relay.Credentials, in relay.ImageInput) (relay.Display, error)
	SetAnnouncement(tenantID string, cred relay.Credentials, in relay.AnnouncementInput) (relay.Display, error)
	ClearDisplay(tenantID string, cred relay.Credentials) (relay.Display, error)
	Display(tenantID string) relay.Display
	Tenants() []relay.TenantSummary
}

// CommandQueue defines the operator command lane used by the API.
type CommandQueue interface {
	Enqueue(name string, args []json.RawMessage) (commands.Command, error)
	Drain() ([]commands.Command, error)
}

// ViewerHub serves the push channel.
type ViewerHub interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
	ClientCount() int
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
// This struct is designed for dependency injection and testability.
//
// Example usage in tests:
//
//	cfg := api.RouterConfig{
//	    Store: relay.NewStore(relay.Config{Secret: "s"}),
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000, // High limit for tests
//	        Burst:             1000,
//	    },
//	}
//	router := api.NewRouter(cfg)
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Store is the tenant state store (required)
	Store RelayStore

	// Queue is the durable command queue. Command routes are omitted when nil.
	Queue CommandQueue

	// CommandSecret authorizes enqueue and drain.
	CommandSecret string

	// Hub serves /ws. The route is omitted when nil.
	Hub ViewerHub

	// Minimap renders roster PNGs. The route is omitted when nil.
	Minimap *minimap.Renderer

	// MinimapCache holds recent renders. Defaults to a short-lived cache.
	MinimapCache *minimap.Cache

	// DefaultTenant is the server id /map and /dome fall back to when ?server= is absent.
	DefaultTenant string

	// RateLimiter is an optional pre-configured rate limiter.
	// If nil, a new one will be created using RateLimitConfig.
	RateLimiter *IPRateLimiter

	// RateLimitConfig is optional configuration for the rate limiter.
	// Only used if RateLimiter is nil. If both are nil, uses DefaultRateLimitConfig.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins is an optional list of allowed CORS origins.
	// If nil, uses DefaultAllowedOrigins.
	CORSOrigins []string

	// TrustProxyHeaders rewrites the client address from X-Forwarded-For or
	// X-Real-IP before rate limiting. Leave off unless a proxy sets them.
	TrustProxyHeaders bool

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

// routerHandlers holds the handler functions for the router.
type routerHandlers struct {
	store         RelayStore
	queue         CommandQueue
	commandSecret string
	hub           ViewerHub
	minimap       *minimap.Renderer
	minimapCache  *minimap.Cache
	defaultTenant string
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// IMPORTANT: This function is PURE - it has no side effects:
//   - No goroutines are started
//   - No network listeners are opened
//   - No background workers are launched
//
// This makes it safe to use in tests with httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	if cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(metricsMiddleware)

	// Rate limiting (BEFORE CORS to reject early and save CPU)
	rateLimiter := cfg.RateLimiter
	if rateLimiter == nil {
		rateLimitCfg := DefaultRateLimitConfig
		if cfg.RateLimitConfig != nil {
			rateLimitCfg = *cfg.RateLimitConfig
		}
		rateLimiter = NewIPRateLimiter(rateLimitCfg)
	}
	r.Use(rateLimiter.Middleware)

	// CORS configuration
	corsOrigins := cfg.CORSOrigins
	if corsOrigins == nil {
		corsOrigins = DefaultAllowedOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", SecretHeader},
	}))

	defaultTenant := cfg.DefaultTenant
	if defaultTenant == "" {
		defaultTenant = "default"
	}
	h := &routerHandlers{
		store:         cfg.Store,
		queue:         cfg.Queue,
		commandSecret: cfg.CommandSecret,
		hub:           cfg.Hub,
		minimap:       cfg.Minimap,
		minimapCache:  cfg.MinimapCache,
		defaultTenant: defaultTenant,
	}
	if h.minimapCache == nil {
		h.minimapCache = minimap.NewCache(minimap.DefaultMaxCached, minimap.DefaultCacheTTL)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/servers", h.handleListServers)

		r.Route("/servers/{serverId}", func(r chi.Router) {
			// Producer writes
			r.Post("/players", h.handleSubmitRoster)
			r.Post("/environment", h.handleSubmitEnvironment)
			r.Post("/events", h.handleSubmitEvent)
			r.Post("/display/image", h.handleSetPanelImage)
			r.Post("/display/announcement", h.handleSetAnnouncement)
			r.Post("/display/clear", h.handleClearDisplay)

			// Viewer reads
			r.Get("/players", h.handleGetRoster)
			r.Get("/environment", h.handleGetEnvironment)
			r.Get("/events", h.handleGetFeed)
			r.Get("/display", h.handleGetDisplay)
			if h.minimap != nil {
				r.Get("/minimap.png", h.handleGetMinimap)
			}
		})

		if h.queue != nil {
			r.Post("/commands", h.handleEnqueueCommand)
			r.Post("/commands/drain", h.handleDrainCommands)
		}
	})

	// Legacy viewer poll
	r.Get("/map", h.handleGetMap)
	r.Get("/dome", h.handleGetDome)
	r.Get("/health", h.handleHealth)

	if h.hub != nil {
		r.Get("/ws", h.hub.HandleWebSocket)
		r.Get("/socket.io/", h.handleSocketIO)
	}

	return r
}
