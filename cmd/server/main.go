package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"arena-relay/internal/api"
	"arena-relay/internal/broadcast"
	"arena-relay/internal/commands"
	"arena-relay/internal/config"
	"arena-relay/internal/minimap"
	"arena-relay/internal/relay"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env file from parent directory
	if err := godotenv.Load("../.env"); err != nil {
		// Try current directory as fallback
		if err := godotenv.Load(".env"); err != nil {
			log.Println("💡 No .env file found, using environment variables only")
		}
	} else {
		log.Println("✅ Loaded environment from ../.env")
	}

	log.Println("🛰️ ================================")
	log.Println("🛰️  ARENA RELAY")
	log.Println("🛰️ ================================")

	// Load centralized configuration (SSOT - Single Source of Truth)
	appConfig := config.Load()
	serverCfg := appConfig.Server
	gateCfg := appConfig.Gate
	arenaCfg := appConfig.Arena

	if gateCfg.Secret == "" {
		log.Println("⚠️ WARNING: RELAY_SECRET not set - every producer write will be rejected")
	}
	log.Printf("🛡️ Gate: %d req per %v, skew ±%v", gateCfg.RateMax, gateCfg.RateWindow, gateCfg.SkewTolerance)
	log.Printf("🗺️ Arena: x[%.0f,%.0f] z[%.0f,%.0f], max speed %.0f/s",
		arenaCfg.MinX, arenaCfg.MaxX, arenaCfg.MinZ, arenaCfg.MaxZ, arenaCfg.MaxSpeed)

	bounds := relay.Bounds{MinX: arenaCfg.MinX, MaxX: arenaCfg.MaxX, MinZ: arenaCfg.MinZ, MaxZ: arenaCfg.MaxZ}

	store := relay.NewStore(relay.Config{
		Secret:        gateCfg.Secret,
		SkewTolerance: gateCfg.SkewTolerance,
		RateWindow:    gateCfg.RateWindow,
		RateMax:       gateCfg.RateMax,
		Sanity: relay.SanityConfig{
			Bounds:        bounds,
			MaxSpeed:      arenaCfg.MaxSpeed,
			MinSample:     arenaCfg.MinSample,
			HealthCeiling: arenaCfg.HealthCeiling,
		},
		FeedCapacity: appConfig.Tenant.FeedCapacity,
		IdleTTL:      appConfig.Tenant.IdleTTL,
	})

	// Durable command lane
	cmdCfg := appConfig.Commands
	cmdStore, err := commands.Open(commands.Options{
		Backend: cmdCfg.Backend,
		Path:    cmdCfg.Path,
		DSN:     cmdCfg.DSN,
	})
	if err != nil {
		log.Fatalf("❌ Failed to open command store (%s): %v", cmdCfg.Backend, err)
	}
	queue := commands.NewQueue(cmdStore)

	// Push channel
	bcCfg := appConfig.Broadcast
	hub := api.NewViewerHub(store, broadcast.Config{
		GlobalChat:     bcCfg.GlobalChat,
		ChatMaxLen:     bcCfg.ChatMaxLen,
		ClientBuffer:   bcCfg.ClientBuffer,
		MaxConnections: bcCfg.MaxConnections,
		MaxPerIP:       bcCfg.MaxPerIP,
	}, serverCfg.CORSOrigins)
	store.SetPublisher(hub)
	if bcCfg.GlobalChat {
		log.Println("💬 Chat is global across servers")
	}

	var renderer *minimap.Renderer
	if mmCfg := appConfig.Minimap; mmCfg.Enabled {
		renderer = minimap.NewRenderer(minimap.Config{
			Width:    mmCfg.Size,
			Height:   mmCfg.Size,
			Bounds:   bounds,
			FontPath: mmCfg.FontPath,
		})
	}

	if serverCfg.TrustProxyHeaders {
		log.Println("🔁 Client IPs taken from proxy headers")
	}

	// Start debug server
	if serverCfg.DebugEnabled {
		debugCfg := api.DefaultObservabilityConfig()
		debugCfg.BasicAuthUser = os.Getenv("DEBUG_USER")
		debugCfg.BasicAuthPass = os.Getenv("DEBUG_PASS")
		if err := api.StartDebugServer(debugCfg); err != nil {
			log.Printf("⚠️ Debug server disabled: %v", err)
		}
	}

	server := api.NewServer(api.ServerConfig{
		Router: api.RouterConfig{
			Store:             store,
			Queue:             queue,
			CommandSecret:     gateCfg.CommandSecret,
			Hub:               hub,
			Minimap:           renderer,
			CORSOrigins:       serverCfg.CORSOrigins,
			TrustProxyHeaders: serverCfg.TrustProxyHeaders,
			RateLimitConfig: &api.RateLimitConfig{
				RequestsPerSecond: serverCfg.RequestsPerSec,
				Burst:             serverCfg.Burst,
				CleanupInterval:   api.DefaultRateLimitConfig.CleanupInterval,
			},
		},
		Workers: []api.Lifecycle{store},
	})

	// Start API server in goroutine
	go func() {
		addr := ":" + strconv.Itoa(serverCfg.Port)
		if err := server.Start(addr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Println("✅ Relay ready! Press Ctrl+C to stop.")
	<-ctx.Done()

	log.Println("🛑 Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ HTTP shutdown: %v", err)
	}
	if err := queue.Close(); err != nil {
		log.Printf("⚠️ Command store close: %v", err)
	}
	log.Println("👋 Goodbye!")
}
