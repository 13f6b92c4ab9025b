// Package config provides centralized configuration management.
// This is the SINGLE SOURCE OF TRUTH for relay, validation and storage settings.
//
// IMPORTANT: When changing values, only modify this file.
// All other parts of the codebase should reference these values.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// SERVER CONFIGURATION
// =============================================================================

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int
	CORSOrigins    []string // nil means the router defaults
	RequestsPerSec float64  // Per-IP HTTP limiter (flood guard in front of everything)
	Burst          int
	DebugEnabled   bool // pprof + /metrics on localhost

	// TrustProxyHeaders takes the client IP from X-Forwarded-For / X-Real-IP.
	// Only safe behind a proxy that overwrites those headers.
	TrustProxyHeaders bool
}

// DefaultServer returns the default server configuration.
func DefaultServer() ServerConfig {
	return ServerConfig{
		Port:           3000,
		RequestsPerSec: 100, // a producer at 40 req/s plus viewers polling /map
		Burst:          200,
		DebugEnabled:   true,
	}
}

// ServerFromEnv returns server configuration with environment variable overrides.
func ServerFromEnv() ServerConfig {
	cfg := DefaultServer()

	if p := getEnvInt("PORT", 0); p > 0 {
		cfg.Port = p
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}
	if rps := getEnvFloat("HTTP_RPS", 0); rps > 0 {
		cfg.RequestsPerSec = rps
	}
	if b := getEnvInt("HTTP_BURST", 0); b > 0 {
		cfg.Burst = b
	}
	if os.Getenv("DISABLE_DEBUG_SERVER") == "true" {
		cfg.DebugEnabled = false
	}
	if os.Getenv("TRUST_PROXY_HEADERS") == "true" {
		cfg.TrustProxyHeaders = true
	}

	return cfg
}

// =============================================================================
// INGEST GATE CONFIGURATION
// =============================================================================

// GateConfig holds the shared credential, replay tolerance and rate ceiling.
type GateConfig struct {
	Secret        string        // Shared producer credential
	CommandSecret string        // Command lane credential (defaults to Secret)
	SkewTolerance time.Duration // Max |now - timestamp|
	RateWindow    time.Duration // Sliding window length
	RateMax       int           // Max requests inside one window
}

// DefaultGate returns the default gate configuration.
// Secret is intentionally empty: a relay without a secret rejects every write.
func DefaultGate() GateConfig {
	return GateConfig{
		SkewTolerance: 10 * time.Second,
		RateWindow:    time.Second,
		RateMax:       40,
	}
}

// GateFromEnv returns gate configuration with environment variable overrides.
func GateFromEnv() GateConfig {
	cfg := DefaultGate()

	cfg.Secret = os.Getenv("RELAY_SECRET")
	cfg.CommandSecret = getEnvWithDefault("COMMAND_SECRET", cfg.Secret)

	if s := getEnvInt("NONCE_SKEW_SECONDS", 0); s > 0 {
		cfg.SkewTolerance = time.Duration(s) * time.Second
	}
	if ms := getEnvInt("RATE_WINDOW_MS", 0); ms > 0 {
		cfg.RateWindow = time.Duration(ms) * time.Millisecond
	}
	if n := getEnvInt("RATE_MAX_REQUESTS", 0); n > 0 {
		cfg.RateMax = n
	}

	return cfg
}

// =============================================================================
// ARENA / SANITY CONFIGURATION
// =============================================================================

// ArenaConfig bounds what a plausible player snapshot looks like.
// Bounds apply to the ground plane (x, z); y is only required to be finite.
type ArenaConfig struct {
	MinX, MaxX    float64
	MinZ, MaxZ    float64
	MaxSpeed      float64       // distance units per second
	MinSample     time.Duration // floor for elapsed time between observations
	HealthCeiling float64       // upper bound for maxHealth
}

// DefaultArena returns the default arena configuration.
func DefaultArena() ArenaConfig {
	return ArenaConfig{
		MinX:          -2048,
		MaxX:          2048,
		MinZ:          -2048,
		MaxZ:          2048,
		MaxSpeed:      300,
		MinSample:     50 * time.Millisecond,
		HealthCeiling: 100,
	}
}

// ArenaFromEnv returns arena configuration with environment variable overrides.
func ArenaFromEnv() ArenaConfig {
	cfg := DefaultArena()

	cfg.MinX = getEnvFloat("ARENA_MIN_X", cfg.MinX)
	cfg.MaxX = getEnvFloat("ARENA_MAX_X", cfg.MaxX)
	cfg.MinZ = getEnvFloat("ARENA_MIN_Z", cfg.MinZ)
	cfg.MaxZ = getEnvFloat("ARENA_MAX_Z", cfg.MaxZ)
	if v := getEnvFloat("MAX_SPEED", 0); v > 0 {
		cfg.MaxSpeed = v
	}
	if ms := getEnvInt("MIN_SAMPLE_MS", 0); ms > 0 {
		cfg.MinSample = time.Duration(ms) * time.Millisecond
	}
	if h := getEnvFloat("HEALTH_CEILING", 0); h >= 1 {
		cfg.HealthCeiling = h
	}

	return cfg
}

// =============================================================================
// TENANT CONFIGURATION
// =============================================================================

// TenantConfig holds per-tenant bookkeeping limits.
type TenantConfig struct {
	FeedCapacity int           // Events kept per tenant
	IdleTTL      time.Duration // Evict tenants idle this long (0 disables)
}

// DefaultTenant returns the default tenant configuration.
func DefaultTenant() TenantConfig {
	return TenantConfig{
		FeedCapacity: 20,
		IdleTTL:      time.Hour,
	}
}

// TenantFromEnv returns tenant configuration with environment variable overrides.
func TenantFromEnv() TenantConfig {
	cfg := DefaultTenant()

	if c := getEnvInt("FEED_CAPACITY", 0); c > 0 {
		cfg.FeedCapacity = c
	}
	if v := os.Getenv("TENANT_IDLE_TTL_SECONDS"); v != "" {
		if s, err := strconv.Atoi(v); err == nil && s >= 0 {
			cfg.IdleTTL = time.Duration(s) * time.Second
		}
	}

	return cfg
}

// =============================================================================
// BROADCAST CONFIGURATION
// =============================================================================

// BroadcastConfig holds push channel settings.
type BroadcastConfig struct {
	GlobalChat     bool // Rebroadcast chat to every viewer (single-tenant deployments)
	ChatMaxLen     int
	ClientBuffer   int // Per-viewer queued messages before the oldest is dropped
	MaxConnections int
	MaxPerIP       int
}

// DefaultBroadcast returns the default broadcast configuration.
func DefaultBroadcast() BroadcastConfig {
	return BroadcastConfig{
		ChatMaxLen:     120,
		ClientBuffer:   64,
		MaxConnections: 500,
		MaxPerIP:       10,
	}
}

// BroadcastFromEnv returns broadcast configuration with environment variable overrides.
func BroadcastFromEnv() BroadcastConfig {
	cfg := DefaultBroadcast()

	if os.Getenv("GLOBAL_CHAT") == "true" {
		cfg.GlobalChat = true
	}
	if n := getEnvInt("CHAT_MAX_LEN", 0); n > 0 {
		cfg.ChatMaxLen = n
	}
	if n := getEnvInt("WS_CLIENT_BUFFER", 0); n > 0 {
		cfg.ClientBuffer = n
	}
	if n := getEnvInt("WS_MAX_CONNECTIONS", 0); n > 0 {
		cfg.MaxConnections = n
	}
	if n := getEnvInt("WS_MAX_PER_IP", 0); n > 0 {
		cfg.MaxPerIP = n
	}

	return cfg
}

// =============================================================================
// COMMAND STORE CONFIGURATION
// =============================================================================

// CommandStoreConfig selects where queued commands are persisted.
type CommandStoreConfig struct {
	Backend string // "file", "sqlite" or "postgres"
	Path    string // file or sqlite path
	DSN     string // postgres connection string
}

// DefaultCommandStore returns the default command store configuration.
func DefaultCommandStore() CommandStoreConfig {
	return CommandStoreConfig{
		Backend: "file",
		Path:    "commands.json",
	}
}

// CommandStoreFromEnv returns command store configuration with environment variable overrides.
func CommandStoreFromEnv() CommandStoreConfig {
	cfg := DefaultCommandStore()

	if b := os.Getenv("COMMAND_STORE"); b != "" {
		cfg.Backend = strings.ToLower(b)
	}
	cfg.Path = getEnvWithDefault("COMMAND_STORE_PATH", cfg.Path)
	cfg.DSN = os.Getenv("COMMAND_STORE_DSN")

	return cfg
}

// =============================================================================
// MINIMAP CONFIGURATION
// =============================================================================

// MinimapConfig controls the rendered roster PNG.
type MinimapConfig struct {
	Enabled  bool
	Size     int    // width and height in pixels
	FontPath string // optional TTF for player labels
}

// DefaultMinimap returns the default minimap configuration.
func DefaultMinimap() MinimapConfig {
	return MinimapConfig{
		Enabled: true,
		Size:    512,
	}
}

// MinimapFromEnv returns minimap configuration with environment variable overrides.
func MinimapFromEnv() MinimapConfig {
	cfg := DefaultMinimap()

	if os.Getenv("DISABLE_MINIMAP") == "true" {
		cfg.Enabled = false
	}
	if n := getEnvInt("MINIMAP_SIZE", 0); n >= 64 && n <= 4096 {
		cfg.Size = n
	}
	cfg.FontPath = os.Getenv("MINIMAP_FONT")

	return cfg
}

// =============================================================================
// COMPLETE APP CONFIGURATION
// =============================================================================

// AppConfig holds the complete application configuration.
type AppConfig struct {
	Server    ServerConfig
	Gate      GateConfig
	Arena     ArenaConfig
	Tenant    TenantConfig
	Broadcast BroadcastConfig
	Commands  CommandStoreConfig
	Minimap   MinimapConfig
}

// Load returns the complete configuration with environment overrides.
func Load() AppConfig {
	return AppConfig{
		Server:    ServerFromEnv(),
		Gate:      GateFromEnv(),
		Arena:     ArenaFromEnv(),
		Tenant:    TenantFromEnv(),
		Broadcast: BroadcastFromEnv(),
		Commands:  CommandStoreFromEnv(),
		Minimap:   MinimapFromEnv(),
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func getEnvWithDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
