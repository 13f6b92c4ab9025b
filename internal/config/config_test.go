package config

import (
	"testing"
	"time"
)

func TestDefaultsAreSane(t *testing.T) {
	cfg := Load()

	if cfg.Gate.RateMax <= 0 {
		t.Errorf("Expected positive rate ceiling, got %d", cfg.Gate.RateMax)
	}
	if cfg.Arena.MinX >= cfg.Arena.MaxX || cfg.Arena.MinZ >= cfg.Arena.MaxZ {
		t.Errorf("Arena bounds are inverted: %+v", cfg.Arena)
	}
	if cfg.Server.TrustProxyHeaders {
		t.Error("Expected proxy headers to be ignored by default")
	}
	if cfg.Tenant.FeedCapacity != 20 {
		t.Errorf("Expected feed capacity 20, got %d", cfg.Tenant.FeedCapacity)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("RELAY_SECRET", "hunter2")
	t.Setenv("NONCE_SKEW_SECONDS", "15")
	t.Setenv("RATE_MAX_REQUESTS", "25")
	t.Setenv("MAX_SPEED", "150")
	t.Setenv("COMMAND_STORE", "SQLite")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("TENANT_IDLE_TTL_SECONDS", "0")
	t.Setenv("TRUST_PROXY_HEADERS", "true")

	cfg := Load()

	if cfg.Server.Port != 8081 {
		t.Errorf("Expected port 8081, got %d", cfg.Server.Port)
	}
	if cfg.Gate.Secret != "hunter2" || cfg.Gate.CommandSecret != "hunter2" {
		t.Errorf("Expected both secrets to be hunter2, got %q/%q", cfg.Gate.Secret, cfg.Gate.CommandSecret)
	}
	if cfg.Gate.SkewTolerance != 15*time.Second {
		t.Errorf("Expected 15s tolerance, got %v", cfg.Gate.SkewTolerance)
	}
	if cfg.Gate.RateMax != 25 {
		t.Errorf("Expected rate max 25, got %d", cfg.Gate.RateMax)
	}
	if cfg.Arena.MaxSpeed != 150 {
		t.Errorf("Expected max speed 150, got %v", cfg.Arena.MaxSpeed)
	}
	if cfg.Commands.Backend != "sqlite" {
		t.Errorf("Expected sqlite backend, got %q", cfg.Commands.Backend)
	}
	if len(cfg.Server.CORSOrigins) != 2 {
		t.Errorf("Expected 2 CORS origins, got %v", cfg.Server.CORSOrigins)
	}
	if cfg.Tenant.IdleTTL != 0 {
		t.Errorf("Expected eviction disabled, got %v", cfg.Tenant.IdleTTL)
	}
	if !cfg.Server.TrustProxyHeaders {
		t.Error("Expected proxy headers to be trusted")
	}
}

func TestInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	t.Setenv("HEALTH_CEILING", "0.5")

	cfg := Load()

	if cfg.Server.Port != DefaultServer().Port {
		t.Errorf("Expected default port, got %d", cfg.Server.Port)
	}
	if cfg.Arena.HealthCeiling != DefaultArena().HealthCeiling {
		t.Errorf("Expected default health ceiling, got %v", cfg.Arena.HealthCeiling)
	}
}

func TestMinimapSizeBounds(t *testing.T) {
	t.Setenv("MINIMAP_SIZE", "10")
	if got := MinimapFromEnv().Size; got != DefaultMinimap().Size {
		t.Errorf("Expected tiny size to be ignored, got %d", got)
	}

	t.Setenv("MINIMAP_SIZE", "1024")
	t.Setenv("DISABLE_MINIMAP", "true")
	cfg := MinimapFromEnv()
	if cfg.Size != 1024 || cfg.Enabled {
		t.Errorf("Expected 1024px disabled minimap, got %+v", cfg)
	}
}
