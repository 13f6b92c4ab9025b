package broadcast

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"arena-relay/internal/metrics"
)

// Viewer-facing event names.
const (
	EventJoin        = "join"
	EventChat        = "chat"
	EventJoined      = "joined"
	EventChatMessage = "chat:message"
	EventError       = "error"
)

const maxChatNameLen = 24

// ChatMessage is what the hub rebroadcasts for an accepted chat line.
type ChatMessage struct {
	Name      string `json:"name"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // Unix ms
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (h *Hub) handleMessage(c *client, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}

	switch msg.Event {
	case EventJoin:
		h.handleJoin(c, msg.Data)
	case EventChat:
		h.handleChat(c, msg.Data)
	}
}

func (h *Hub) handleJoin(c *client, data json.RawMessage) {
	var req struct {
		ServerID string `json:"serverId"`
	}
	if err := json.Unmarshal(data, &req); err != nil || !h.cfg.ValidTenant(req.ServerID) {
		c.enqueueEnvelope(Envelope{Event: EventError, Data: map[string]string{"error": "invalid serverId"}})
		return
	}
	h.join(c, req.ServerID)
}

func (h *Hub) handleChat(c *client, data json.RawMessage) {
	tenant := h.tenantOf(c)
	if tenant == "" {
		return
	}

	var req map[string]any
	if err := json.Unmarshal(data, &req); err != nil {
		metrics.RecordChat("invalid")
		return
	}
	rawText, _ := req["text"].(string)
	text, ok := ValidateChat(rawText, h.cfg.ChatMaxLen)
	if !ok {
		metrics.RecordChat("invalid")
		return
	}
	if !c.chat.Allow() {
		metrics.RecordChat("rate_limited")
		return
	}

	rawName, _ := req["name"].(string)
	out := ChatMessage{
		Name:      chatName(rawName, c),
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}

	if h.cfg.GlobalChat {
		h.PublishAll(EventChatMessage, out)
	} else {
		h.Publish(tenant, EventChatMessage, out)
	}
	metrics.RecordChat("accepted")
}

// ValidateChat accepts a non-blank, valid UTF-8 line of at most maxLen
// characters and returns it unchanged.
func ValidateChat(text string, maxLen int) (string, bool) {
	if !utf8.ValidString(text) || strings.TrimSpace(text) == "" {
		return "", false
	}
	if utf8.RuneCountInString(text) > maxLen {
		return "", false
	}
	return text, true
}

func chatName(name string, c *client) string {
	name = strings.TrimSpace(name)
	if name == "" || !utf8.ValidString(name) {
		return "viewer-" + c.shortID()
	}
	if utf8.RuneCountInString(name) > maxChatNameLen {
		name = string([]rune(name)[:maxChatNameLen])
	}
	return name
}
