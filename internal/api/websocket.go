package api

import (
	"net/http"
	"time"

	"arena-relay/internal/broadcast"
	"arena-relay/internal/relay"
)

// NewViewerHub builds the push hub over store. Joining viewers get the
// tenant's roster, environment and feed before any live update.
//
// Browsers always send Origin and are held to origins. Clients that send
// none (game-side tools, bots) are let through.
func NewViewerHub(store RelayStore, cfg broadcast.Config, origins []string) *broadcast.Hub {
	if origins == nil {
		origins = DefaultAllowedOrigins
	}
	cfg.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || IsAllowedOrigin(origin, origins)
	}
	cfg.ClientIP = GetClientIP
	cfg.ValidTenant = relay.ValidTenantID
	cfg.Snapshot = func(tenantID string) []broadcast.Envelope {
		return snapshotEnvelopes(store, tenantID)
	}
	return broadcast.NewHub(cfg)
}

func snapshotEnvelopes(store RelayStore, tenantID string) []broadcast.Envelope {
	players, env, feed := store.View(tenantID)
	return []broadcast.Envelope{
		{Event: relay.EventRoster, Data: map[string]any{
			"serverId":  tenantID,
			"players":   players,
			"timestamp": time.Now().UnixMilli(),
		}},
		{Event: relay.EventEnvironment, Data: env},
		{Event: relay.EventFeed, Data: feed},
		{Event: relay.EventDisplay, Data: store.Display(tenantID)},
	}
}

// handleSocketIO serves /ws on the legacy /socket.io/ path. It speaks the
// same JSON envelopes, not Engine.IO framing.
func (h *routerHandlers) handleSocketIO(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Upgrade") == "websocket" {
		h.hub.HandleWebSocket(w, r)
		return
	}

	// For polling fallback, return 404 (we only support WebSocket)
	writeError(w, "use websocket", http.StatusNotFound)
}
