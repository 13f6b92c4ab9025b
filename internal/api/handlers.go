package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"arena-relay/internal/commands"
	"arena-relay/internal/metrics"
	"arena-relay/internal/relay"

	"github.com/go-chi/chi/v5"
)

// Handler methods for routerHandlers

// gateKeys are stripped from an environment body that has no "environment" object.
var gateKeys = []string{"secret", "nonce", "timestamp", "serverId"}

func (h *routerHandlers) handleSubmitRoster(w http.ResponseWriter, r *http.Request) {
	var req struct {
		gateFields
		Players *[]json.RawMessage `json:"players"`
	}

	serverID, ok := h.serverID(w, r)
	if !ok {
		return
	}
	if _, err := decodeBody(w, r, &req); err != nil {
		h.writeIngestError(w, "roster", err)
		return
	}
	if req.Players == nil {
		h.writeIngestError(w, "roster", malformed("players is required"))
		return
	}
	cred, err := req.credentials(r)
	if err != nil {
		h.writeIngestError(w, "roster", err)
		return
	}

	report, err := h.store.IngestRoster(serverID, cred, *req.Players)
	if err != nil {
		h.writeIngestError(w, "roster", err)
		return
	}

	metrics.RecordIngest("roster", relay.Outcome(nil))
	metrics.RecordPlayersDropped("malformed", report.Malformed)
	metrics.RecordPlayersDropped("speed", report.SpeedDropped)
	metrics.RecordPlayersClamped(report.Clamped)

	writeJSON(w, map[string]interface{}{
		"success":  true,
		"accepted": report.Accepted,
		"dropped":  report.Dropped(),
		"clamped":  report.Clamped,
	})
}

func (h *routerHandlers) handleSubmitEnvironment(w http.ResponseWriter, r *http.Request) {
	var req gateFields

	serverID, ok := h.serverID(w, r)
	if !ok {
		return
	}
	data, err := decodeBody(w, r, &req)
	if err != nil {
		h.writeIngestError(w, "environment", err)
		return
	}

	// Parameters either sit under "environment" or next to the gate fields.
	var body map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil || body == nil {
		h.writeIngestError(w, "environment", malformed("body must be an object"))
		return
	}
	params, nested := body["environment"].(map[string]any)
	if !nested {
		if _, present := body["environment"]; present {
			h.writeIngestError(w, "environment", malformed("environment must be an object"))
			return
		}
		params = body
		for _, k := range gateKeys {
			delete(params, k)
		}
	}

	cred, err := req.credentials(r)
	if err != nil {
		h.writeIngestError(w, "environment", err)
		return
	}

	env, err := h.store.IngestEnvironment(serverID, cred, numbersToFloats(params))
	if err != nil {
		h.writeIngestError(w, "environment", err)
		return
	}
	metrics.RecordIngest("environment", relay.Outcome(nil))

	writeJSON(w, map[string]interface{}{
		"success":     true,
		"environment": env,
	})
}

func (h *routerHandlers) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		gateFields
		Victim string `json:"victim"`
		Killer string `json:"killer"`
		Method string `json:"method"`
	}

	serverID, ok := h.serverID(w, r)
	if !ok {
		return
	}
	if _, err := decodeBody(w, r, &req); err != nil {
		h.writeIngestError(w, "event", err)
		return
	}
	cred, err := req.credentials(r)
	if err != nil {
		h.writeIngestError(w, "event", err)
		return
	}

	ev, err := h.store.RecordEvent(serverID, cred, relay.EventInput{
		Victim: req.Victim,
		Killer: req.Killer,
		Method: req.Method,
	})
	if err != nil {
		h.writeIngestError(w, "event", err)
		return
	}
	metrics.RecordIngest("event", relay.Outcome(nil))

	writeJSON(w, ev)
}

func (h *routerHandlers) handleSetPanelImage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		gateFields
		Panel   string `json:"panel"`
		ImageID string `json:"imageId"`
	}

	serverID, ok := h.serverID(w, r)
	if !ok {
		return
	}
	if _, err := decodeBody(w, r, &req); err != nil {
		h.writeIngestError(w, "display", err)
		return
	}
	cred, err := req.credentials(r)
	if err != nil {
		h.writeIngestError(w, "display", err)
		return
	}

	d, err := h.store.SetPanelImage(serverID, cred, relay.ImageInput{Panel: req.Panel, ImageID: req.ImageID})
	h.writeDisplay(w, d, err)
}

func (h *routerHandlers) handleSetAnnouncement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		gateFields
		Text   string `json:"text"`
		Panels []int  `json:"panels"`
		Color  []int  `json:"color"`
	}

	serverID, ok := h.serverID(w, r)
	if !ok {
		return
	}
	if _, err := decodeBody(w, r, &req); err != nil {
		h.writeIngestError(w, "display", err)
		return
	}
	cred, err := req.credentials(r)
	if err != nil {
		h.writeIngestError(w, "display", err)
		return
	}

	d, err := h.store.SetAnnouncement(serverID, cred, relay.AnnouncementInput{
		Text:   req.Text,
		Panels: req.Panels,
		Color:  req.Color,
	})
	h.writeDisplay(w, d, err)
}

func (h *routerHandlers) handleClearDisplay(w http.ResponseWriter, r *http.Request) {
	var req gateFields

	serverID, ok := h.serverID(w, r)
	if !ok {
		return
	}
	if _, err := decodeBody(w, r, &req); err != nil {
		h.writeIngestError(w, "display", err)
		return
	}
	cred, err := req.credentials(r)
	if err != nil {
		h.writeIngestError(w, "display", err)
		return
	}

	d, err := h.store.ClearDisplay(serverID, cred)
	h.writeDisplay(w, d, err)
}

func (h *routerHandlers) writeDisplay(w http.ResponseWriter, d relay.Display, err error) {
	if err != nil {
		h.writeIngestError(w, "display", err)
		return
	}
	metrics.RecordIngest("display", relay.Outcome(nil))

	writeJSON(w, map[string]interface{}{
		"success": true,
		"display": d,
	})
}

func (h *routerHandlers) handleGetRoster(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.serverID(w, r)
	if !ok {
		return
	}
	writeJSON(w, h.store.Roster(serverID))
}

func (h *routerHandlers) handleGetEnvironment(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.serverID(w, r)
	if !ok {
		return
	}
	writeJSON(w, h.store.Environment(serverID))
}

func (h *routerHandlers) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.serverID(w, r)
	if !ok {
		return
	}
	writeJSON(w, h.store.Feed(serverID))
}

func (h *routerHandlers) handleGetDisplay(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.serverID(w, r)
	if !ok {
		return
	}
	writeJSON(w, h.store.Display(serverID))
}

func (h *routerHandlers) handleGetMinimap(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.serverID(w, r)
	if !ok {
		return
	}

	data, cached := h.minimapCache.Get(serverID)
	if !cached {
		players, env, _ := h.store.View(serverID)
		var buf bytes.Buffer
		if err := h.minimap.EncodePNG(&buf, players, env); err != nil {
			log.Printf("❌ Minimap render failed for %s: %v", serverID, err)
			writeError(w, "render failed", http.StatusInternalServerError)
			return
		}
		data = buf.Bytes()
		h.minimapCache.Put(serverID, data)
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func (h *routerHandlers) handleListServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.store.Tenants())
}

func (h *routerHandlers) handleGetMap(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.legacyServerID(w, r)
	if !ok {
		return
	}
	writeJSON(w, h.store.Roster(serverID))
}

func (h *routerHandlers) handleGetDome(w http.ResponseWriter, r *http.Request) {
	serverID, ok := h.legacyServerID(w, r)
	if !ok {
		return
	}
	writeJSON(w, h.store.Display(serverID))
}

func (h *routerHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"servers": len(h.store.Tenants()),
	}
	if h.hub != nil {
		status["viewers"] = h.hub.ClientCount()
	}
	writeJSON(w, status)
}

func (h *routerHandlers) handleEnqueueCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret  string            `json:"secret"`
		Command string            `json:"command"`
		Args    []json.RawMessage `json:"args"`
	}

	if _, err := decodeBody(w, r, &req); err != nil {
		writeError(w, "malformed request", http.StatusBadRequest)
		return
	}
	if !secretMatches(h.commandSecret, secretFrom(r, req.Secret)) {
		writeForbidden(w)
		return
	}

	cmd, err := h.queue.Enqueue(req.Command, req.Args)
	switch {
	case errors.Is(err, commands.ErrInvalidCommand):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		writeError(w, "command store unavailable", http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"success": true,
		"command": cmd,
	})
}

func (h *routerHandlers) handleDrainCommands(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret string `json:"secret"`
	}

	data, err := readBody(w, r)
	if err != nil {
		writeError(w, "malformed request", http.StatusBadRequest)
		return
	}
	if data != nil {
		if err := json.Unmarshal(data, &req); err != nil {
			writeError(w, "malformed request", http.StatusBadRequest)
			return
		}
	}
	if !secretMatches(h.commandSecret, secretFrom(r, req.Secret)) {
		writeForbidden(w)
		return
	}

	cmds, err := h.queue.Drain()
	if err != nil {
		writeError(w, "command store unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, cmds)
}

// serverID validates the {serverId} path parameter, writing 400 on failure.
func (h *routerHandlers) serverID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "serverId")
	if !relay.ValidTenantID(id) {
		writeError(w, "invalid server id", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

// legacyServerID reads ?server=, falling back to the default tenant.
func (h *routerHandlers) legacyServerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("server")
	if id == "" {
		id = h.defaultTenant
	}
	if !relay.ValidTenantID(id) {
		writeError(w, "invalid server id", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

// writeIngestError maps store errors onto the wire. Gate failures are all
// reported as the same 403 so a caller cannot tell which check it tripped.
func (h *routerHandlers) writeIngestError(w http.ResponseWriter, kind string, err error) {
	metrics.RecordIngest(kind, relay.Outcome(err))

	switch {
	case relay.IsForbidden(err):
		writeForbidden(w)
	case errors.Is(err, relay.ErrMalformed):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("❌ %s ingest failed: %v", kind, err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func secretFrom(r *http.Request, bodySecret string) string {
	if bodySecret != "" {
		return bodySecret
	}
	return r.Header.Get(SecretHeader)
}

func malformed(msg string) error {
	return errors.Join(relay.ErrMalformed, errors.New(msg))
}

// numbersToFloats turns json.Number leaves back into float64 so the store
// sees the same types as a plain json.Unmarshal would produce.
func numbersToFloats(v map[string]any) map[string]any {
	for k, val := range v {
		v[k] = convertNumber(val)
	}
	return v
}

func convertNumber(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		return numbersToFloats(t)
	case []any:
		for i := range t {
			t[i] = convertNumber(t[i])
		}
		return t
	default:
		return v
	}
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeForbidden(w http.ResponseWriter) {
	writeError(w, "forbidden", http.StatusForbidden)
}
