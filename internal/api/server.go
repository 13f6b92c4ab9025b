package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Lifecycle is a background worker the server starts and stops with itself.
type Lifecycle interface {
	Start()
	Stop()
}

// ServerConfig wires the server. Router carries everything the routes need.
type ServerConfig struct {
	Router RouterConfig

	// Workers start on Start and stop on Shutdown, in order.
	Workers []Lifecycle
}

// Server is the HTTP API server with WebSocket support.
type Server struct {
	router      *chi.Mux
	rateLimiter *IPRateLimiter
	workers     []Lifecycle
	httpServer  *http.Server
}

// NewServer creates a new API server.
//
// IMPORTANT: Background workers do NOT start until Start() is called.
// This enables testing by allowing the server to be constructed without
// starting goroutines or opening network listeners.
//
// For testing HTTP endpoints, use Router() or NewRouter() directly.
func NewServer(cfg ServerConfig) *Server {
	routerCfg := cfg.Router
	if routerCfg.RateLimiter == nil {
		rlCfg := DefaultRateLimitConfig
		if routerCfg.RateLimitConfig != nil {
			rlCfg = *routerCfg.RateLimitConfig
		}
		routerCfg.RateLimiter = NewIPRateLimiter(rlCfg)
	}

	s := &Server{
		router:      NewRouter(routerCfg),
		rateLimiter: routerCfg.RateLimiter,
		workers:     cfg.Workers,
	}
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins the HTTP server AND starts background workers.
// This is the ONLY method that starts goroutines or opens network listeners.
// It blocks until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	// Start background workers NOW, not in constructor
	s.rateLimiter.Start()
	for _, w := range s.workers {
		w.Start()
	}

	s.httpServer.Addr = addr

	log.Printf("🌐 Relay server starting on %s", addr)
	log.Printf("🗺️  Viewer map: http://localhost%s/map", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router returns the HTTP handler for use with httptest.
// Use this in integration tests instead of calling Start().
//
// Example:
//
//	server := api.NewServer(api.ServerConfig{Router: api.RouterConfig{Store: store}})
//	ts := httptest.NewServer(server.Router())
//	defer ts.Close()
//	resp, _ := http.Get(ts.URL + "/api/servers")
func (s *Server) Router() http.Handler {
	return s.router
}

// Shutdown stops accepting requests, waits for in-flight ones and then
// stops background workers in reverse start order.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	for i := len(s.workers) - 1; i >= 0; i-- {
		s.workers[i].Stop()
	}
	s.rateLimiter.Stop()
	return err
}
