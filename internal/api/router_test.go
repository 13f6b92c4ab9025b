package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"arena-relay/internal/api"
	"arena-relay/internal/commands"
	"arena-relay/internal/minimap"
	"arena-relay/internal/relay"
)

const testSecret = "s3cret"

// ============================================================================
// Helpers
// ============================================================================

func newTestStore() *relay.Store {
	return relay.NewStore(relay.Config{
		Secret:     testSecret,
		RateWindow: time.Second,
		RateMax:    1000,
		Sanity: relay.SanityConfig{
			Bounds:        relay.Bounds{MinX: -1000, MaxX: 1000, MinZ: -1000, MaxZ: 1000},
			MaxSpeed:      300,
			MinSample:     50 * time.Millisecond,
			HealthCeiling: 100,
		},
	})
}

func newTestServer(t *testing.T, cfg api.RouterConfig) *httptest.Server {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = newTestStore()
	}
	cfg.DisableLogging = true // Quiet logs in tests
	if cfg.RateLimitConfig == nil {
		cfg.RateLimitConfig = &api.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000}
	}
	ts := httptest.NewServer(api.NewRouter(cfg))
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	return doPost(t, url, body, nil)
}

func doPost(t *testing.T, url, body string, header http.Header) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	return resp, result
}

func getJSON(t *testing.T, url string, v interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

func rosterBody(nonce int64, players string) string {
	return fmt.Sprintf(`{"secret":%q,"nonce":%d,"timestamp":%d,"players":%s}`, testSecret, nonce, nowMs(), players)
}

// ============================================================================
// Router Purity Tests
// ============================================================================

// TestNewRouterHasNoSideEffects verifies that NewRouter starts nothing.
func TestNewRouterHasNoSideEffects(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{
		Store: newTestStore(),
		RateLimitConfig: &api.RateLimitConfig{
			RequestsPerSecond: 1000,
			Burst:             1000,
			CleanupInterval:   time.Hour,
		},
	})
	if router == nil {
		t.Fatal("Router should not be nil")
	}
}

// ============================================================================
// Producer Ingest Tests
// ============================================================================

func TestSubmitRosterAndRead(t *testing.T) {
	ts := newTestServer(t, api.RouterConfig{})

	resp, result := postJSON(t, ts.URL+"/api/servers/alpha/players",
		rosterBody(1, `[{"id":1,"name":"Steve","x":10,"y":64,"z":-5,"health":20,"maxHealth":20},{"id":2,"x":5000,"y":0,"z":0},{"name":"bad"}]`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%v)", resp.StatusCode, result)
	}
	if result["accepted"] != float64(2) || result["dropped"] != float64(1) || result["clamped"] != float64(1) {
		t.Errorf("Unexpected report: %v", result)
	}

	var roster []map[string]interface{}
	getJSON(t, ts.URL+"/api/servers/alpha/players", &roster)
	if len(roster) != 2 {
		t.Fatalf("Expected 2 players, got %d", len(roster))
	}
	if roster[1]["x"] != float64(1000) {
		t.Errorf("Expected clamped x=1000, got %v", roster[1]["x"])
	}

	var legacy []map[string]interface{}
	getJSON(t, ts.URL+"/map?server=alpha", &legacy)
	if len(legacy) != 2 {
		t.Errorf("Expected /map to mirror the roster, got %d players", len(legacy))
	}

	var servers []map[string]interface{}
	getJSON(t, ts.URL+"/api/servers", &servers)
	if len(servers) != 1 || servers[0]["serverId"] != "alpha" {
		t.Errorf("Expected one listed server 'alpha', got %v", servers)
	}
}

func TestSubmitRosterStatusMapping(t *testing.T) {
	ts := newTestServer(t, api.RouterConfig{})
	url := ts.URL + "/api/servers/alpha/players"

	if resp, _ := postJSON(t, url, rosterBody(5, `[]`)); resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected first write to succeed, got %d", resp.StatusCode)
	}

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"replayed nonce", rosterBody(5, `[]`), http.StatusForbidden},
		{"older nonce", rosterBody(4, `[]`), http.StatusForbidden},
		{"wrong secret", fmt.Sprintf(`{"secret":"nope","nonce":9,"timestamp":%d,"players":[]}`, nowMs()), http.StatusForbidden},
		{"stale timestamp", fmt.Sprintf(`{"secret":%q,"nonce":10,"timestamp":%d,"players":[]}`, testSecret, nowMs()-60_000), http.StatusForbidden},
		{"missing players", fmt.Sprintf(`{"secret":%q,"nonce":11,"timestamp":%d}`, testSecret, nowMs()), http.StatusBadRequest},
		{"players not an array", fmt.Sprintf(`{"secret":%q,"nonce":12,"timestamp":%d,"players":{}}`, testSecret, nowMs()), http.StatusBadRequest},
		{"nonce not a number", fmt.Sprintf(`{"secret":%q,"nonce":"x","timestamp":%d,"players":[]}`, testSecret, nowMs()), http.StatusBadRequest},
		{"invalid json", `{invalid}`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, result := postJSON(t, url, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("Expected %d, got %d (%v)", tt.wantStatus, resp.StatusCode, result)
			}
			if tt.wantStatus == http.StatusForbidden && result["error"] != "forbidden" {
				t.Errorf("Expected uniform forbidden body, got %v", result)
			}
		})
	}

	var roster []interface{}
	getJSON(t, url, &roster)
	if len(roster) != 0 {
		t.Errorf("Rejected writes must not change the roster, got %d players", len(roster))
	}
}

func TestInvalidServerIDRejected(t *testing.T) {
	ts := newTestServer(t, api.RouterConfig{})
	long := strings.Repeat("a", 200)

	resp, _ := postJSON(t, ts.URL+"/api/servers/"+long+"/players", rosterBody(1, `[]`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for oversized server id, got %d", resp.StatusCode)
	}
}

func TestSecretHeaderAccepted(t *testing.T) {
	ts := newTestServer(t, api.RouterConfig{})

	body := fmt.Sprintf(`{"nonce":1,"timestamp":%d,"players":[{"id":1,"x":0,"y":0,"z":0}]}`, nowMs())
	resp, result := doPost(t, ts.URL+"/api/servers/alpha/players", body, http.Header{api.SecretHeader: {testSecret}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 with header secret, got %d (%v)", resp.StatusCode, result)
	}
}

func TestTimestampInSeconds(t *testing.T) {
	ts := newTestServer(t, api.RouterConfig{})

	body := fmt.Sprintf(`{"secret":%q,"nonce":1,"timestamp":%.3f,"players":[]}`, testSecret, float64(nowMs())/1000)
	if resp, result := postJSON(t, ts.URL+"/api/servers/alpha/players", body); resp.StatusCode != http.StatusOK {
		t.Errorf("Expected fractional seconds to be accepted, got %d (%v)", resp.StatusCode, result)
	}
}

func TestSubmitEnvironmentForms(t *testing.T) {
	ts := newTestServer(t, api.RouterConfig{})
	url := ts.URL + "/api/servers/alpha/environment"

	nested := fmt.Sprintf(`{"secret":%q,"nonce":1,"timestamp":%d,"environment":{"timeOfDay":6.5,"weather":"rain"}}`, testSecret, nowMs())
	resp, result := postJSON(t, url, nested)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%v)", resp.StatusCode, result)
	}

	flat := fmt.Sprintf(`{"secret":%q,"nonce":2,"timestamp":%d,"fogDensity":2,"biome":"desert"}`, testSecret, nowMs())
	if resp, result := postJSON(t, url, flat); resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%v)", resp.StatusCode, result)
	}

	var env relay.Environment
	getJSON(t, url, &env)
	if env.TimeOfDay != 6.5 || env.Weather != "rain" {
		t.Errorf("Expected first write to persist, got %+v", env)
	}
	if env.FogDensity != 1 {
		t.Errorf("Expected fogDensity clamped to 1, got %v", env.FogDensity)
	}
	if env.Extra["biome"] != "desert" {
		t.Errorf("Expected extra field biome, got %v", env.Extra)
	}
	if _, leaked := env.Extra["secret"]; leaked {
		t.Error("Gate fields must not leak into the environment")
	}

	bad := fmt.Sprintf(`{"secret":%q,"nonce":3,"timestamp":%d,"environment":"night"}`, testSecret, nowMs())
	if resp, _ := postJSON(t, url, bad); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for non-object environment, got %d", resp.StatusCode)
	}
}

func TestSubmitEventAndFeed(t *testing.T) {
	ts := newTestServer(t, api.RouterConfig{})
	url := ts.URL + "/api/servers/alpha/events"

	body := fmt.Sprintf(`{"secret":%q,"nonce":1,"timestamp":%d,"victim":"Alex","killer":"Steve","method":"sword"}`, testSecret, nowMs())
	resp, result := postJSON(t, url, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%v)", resp.StatusCode, result)
	}
	if text, _ := result["text"].(string); !strings.Contains(text, "Alex") {
		t.Errorf("Expected narration naming the victim, got %q", text)
	}

	missing := fmt.Sprintf(`{"secret":%q,"nonce":2,"timestamp":%d,"killer":"Steve"}`, testSecret, nowMs())
	if resp, _ := postJSON(t, url, missing); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without victim, got %d", resp.StatusCode)
	}

	var feed []relay.Event
	getJSON(t, url, &feed)
	if len(feed) != 1 || feed[0].Victim != "Alex" {
		t.Errorf("Expected one feed entry for Alex, got %+v", feed)
	}
}

func TestDisplayLane(t *testing.T) {
	ts := newTestServer(t, api.RouterConfig{DefaultTenant: "alpha"})
	base := ts.URL + "/api/servers/alpha/display"

	img := fmt.Sprintf(`{"secret":%q,"nonce":1,"timestamp":%d,"panel":"Panel1","imageId":"123456789"}`, testSecret, nowMs())
	if resp, result := postJSON(t, base+"/image", img); resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%v)", resp.StatusCode, result)
	}

	ann := fmt.Sprintf(`{"secret":%q,"nonce":2,"timestamp":%d,"text":"LET THE GAMES BEGIN","panels":[1,2,3,4],"color":[255,0,0]}`, testSecret, nowMs())
	if resp, result := postJSON(t, base+"/announcement", ann); resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%v)", resp.StatusCode, result)
	}

	var d relay.Display
	getJSON(t, base, &d)
	if d.Images["Panel1"] != "rbxassetid://123456789" || d.Announcement.Text != "LET THE GAMES BEGIN" {
		t.Errorf("Unexpected display %+v", d)
	}
	if d.Announcement.Color != [3]int{255, 0, 0} {
		t.Errorf("Expected red, got %v", d.Announcement.Color)
	}

	var dome relay.Display
	getJSON(t, ts.URL+"/dome", &dome)
	if dome.Announcement.Text != d.Announcement.Text {
		t.Errorf("Expected /dome to serve the default server's display, got %+v", dome)
	}

	clearBody := fmt.Sprintf(`{"secret":%q,"nonce":3,"timestamp":%d}`, testSecret, nowMs())
	if resp, _ := postJSON(t, base+"/clear", clearBody); resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 on clear, got %d", resp.StatusCode)
	}
	d = relay.Display{}
	getJSON(t, base, &d)
	if len(d.Images) != 0 || d.Announcement.Text != "" {
		t.Errorf("Expected empty display after clear, got %+v", d)
	}
}

func TestDisplayLaneRejections(t *testing.T) {
	ts := newTestServer(t, api.RouterConfig{})
	base := ts.URL + "/api/servers/alpha/display"

	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{"wrong secret", "/clear", fmt.Sprintf(`{"secret":"nope","nonce":1,"timestamp":%d}`, nowMs()), http.StatusForbidden},
		{"missing image id", "/image", fmt.Sprintf(`{"secret":%q,"nonce":1,"timestamp":%d,"panel":"P"}`, testSecret, nowMs()), http.StatusBadRequest},
		{"short color", "/announcement", fmt.Sprintf(`{"secret":%q,"nonce":2,"timestamp":%d,"text":"x","color":[1,2]}`, testSecret, nowMs()), http.StatusBadRequest},
		{"panels not numbers", "/announcement", fmt.Sprintf(`{"secret":%q,"nonce":3,"timestamp":%d,"panels":["a"]}`, testSecret, nowMs()), http.StatusBadRequest},
		{"replayed nonce", "/clear", fmt.Sprintf(`{"secret":%q,"nonce":1,"timestamp":%d}`, testSecret, nowMs()), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if resp, _ := postJSON(t, base+tc.path, tc.body); resp.StatusCode != tc.want {
				t.Errorf("Expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}

	var errBody map[string]string
	if resp := getJSON(t, ts.URL+"/dome?server="+strings.Repeat("x", 200), &errBody); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid server on /dome, got %d", resp.StatusCode)
	}
}

func TestUnknownServerReadsDefaults(t *testing.T) {
	store := newTestStore()
	ts := newTestServer(t, api.RouterConfig{Store: store})

	var roster []interface{}
	if resp := getJSON(t, ts.URL+"/api/servers/ghost/players", &roster); resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if len(roster) != 0 {
		t.Errorf("Expected empty roster, got %v", roster)
	}

	var env relay.Environment
	getJSON(t, ts.URL+"/api/servers/ghost/environment", &env)
	if env.TimeOfDay != relay.DefaultEnvironment().TimeOfDay || env.Weather != relay.DefaultEnvironment().Weather {
		t.Errorf("Expected default environment, got %+v", env)
	}

	var feed []interface{}
	getJSON(t, ts.URL+"/api/servers/ghost/events", &feed)
	if len(feed) != 0 {
		t.Errorf("Expected empty feed, got %v", feed)
	}

	if store.TenantCount() != 0 {
		t.Errorf("Reads must not create servers, have %d", store.TenantCount())
	}
}

// failingStore always fails after the gate would have passed.
type failingStore struct {
	*relay.Store
}

func (failingStore) IngestRoster(string, relay.Credentials, []json.RawMessage) (relay.FilterReport, error) {
	return relay.FilterReport{}, errors.New("disk on fire")
}

func TestStoreFailureIs500(t *testing.T) {
	ts := newTestServer(t, api.RouterConfig{Store: failingStore{newTestStore()}})

	resp, _ := postJSON(t, ts.URL+"/api/servers/alpha/players", rosterBody(1, `[]`))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", resp.StatusCode)
	}
}

// ============================================================================
// Viewer Read Tests
// ============================================================================

func TestHealth(t *testing.T) {
	ts := newTestServer(t, api.RouterConfig{})

	var result map[string]interface{}
	resp := getJSON(t, ts.URL+"/health", &result)
	if resp.StatusCode != http.StatusOK || result["status"] != "ok" {
		t.Errorf("Expected ok health, got %d %v", resp.StatusCode, result)
	}
}

func TestMinimapPNG(t *testing.T) {
	store := newTestStore()
	renderer := minimap.NewRenderer(minimap.Config{
		Width:  128,
		Height: 128,
		Bounds: relay.Bounds{MinX: -1000, MaxX: 1000, MinZ: -1000, MaxZ: 1000},
	})
	ts := newTestServer(t, api.RouterConfig{Store: store, Minimap: renderer})

	postJSON(t, ts.URL+"/api/servers/alpha/players", rosterBody(1, `[{"id":1,"x":0,"y":0,"z":0,"health":10,"maxHealth":20}]`))

	resp, err := http.Get(ts.URL + "/api/servers/alpha/minimap.png")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected image/png, got %q", ct)
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("Body is not a PNG: %v", err)
	}
	if img.Bounds().Dx() != 128 {
		t.Errorf("Expected width 128, got %d", img.Bounds().Dx())
	}
}

func TestMinimapRouteOmittedWithoutRenderer(t *testing.T) {
	ts := newTestServer(t, api.RouterConfig{})

	resp, err := http.Get(ts.URL + "/api/servers/alpha/minimap.png")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

// ============================================================================
// Command Queue Tests
// ============================================================================

func newCommandQueue(t *testing.T) *commands.Queue {
	t.Helper()
	store, err := commands.OpenFileStore(filepath.Join(t.TempDir(), "commands.json"))
	if err != nil {
		t.Fatalf("OpenFileStore failed: %v", err)
	}
	q := commands.NewQueue(store)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestCommandsEnqueueAndDrain(t *testing.T) {
	ts := newTestServer(t, api.RouterConfig{Queue: newCommandQueue(t), CommandSecret: testSecret})

	for _, body := range []string{
		`{"secret":"s3cret","command":"DAY"}`,
		`{"secret":"s3cret","command":"YEAR","args":[2024]}`,
	} {
		if resp, result := postJSON(t, ts.URL+"/api/commands", body); resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d (%v)", resp.StatusCode, result)
		}
	}

	drain := func() []commands.Command {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/commands/drain", bytes.NewReader(nil))
		req.Header.Set(api.SecretHeader, testSecret)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200 from drain, got %d", resp.StatusCode)
		}
		var cmds []commands.Command
		if err := json.NewDecoder(resp.Body).Decode(&cmds); err != nil {
			t.Fatalf("Failed to decode drain: %v", err)
		}
		return cmds
	}

	cmds := drain()
	if len(cmds) != 2 || cmds[0].Command != "DAY" || cmds[1].Command != "YEAR" {
		t.Fatalf("Expected DAY then YEAR, got %+v", cmds)
	}
	if len(cmds[1].Args) != 1 || string(cmds[1].Args[0]) != "2024" {
		t.Errorf("Expected YEAR args [2024], got %s", cmds[1].Args)
	}

	if again := drain(); len(again) != 0 {
		t.Errorf("Second drain must be empty, got %+v", again)
	}
}

func TestCommandsRejections(t *testing.T) {
	ts := newTestServer(t, api.RouterConfig{Queue: newCommandQueue(t), CommandSecret: testSecret})

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{"wrong secret", "/api/commands", `{"secret":"nope","command":"DAY"}`, http.StatusForbidden},
		{"missing secret", "/api/commands", `{"command":"DAY"}`, http.StatusForbidden},
		{"empty command", "/api/commands", `{"secret":"s3cret","command":""}`, http.StatusBadRequest},
		{"invalid json", "/api/commands", `{`, http.StatusBadRequest},
		{"drain wrong secret", "/api/commands/drain", `{"secret":"nope"}`, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, result := postJSON(t, ts.URL+tt.path, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected %d, got %d (%v)", tt.wantStatus, resp.StatusCode, result)
			}
		})
	}
}

func TestCommandsUnsetSecretRejectsAll(t *testing.T) {
	ts := newTestServer(t, api.RouterConfig{Queue: newCommandQueue(t)})

	if resp, _ := postJSON(t, ts.URL+"/api/commands", `{"secret":"","command":"DAY"}`); resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 with no configured secret, got %d", resp.StatusCode)
	}
}

type brokenQueue struct{}

func (brokenQueue) Enqueue(string, []json.RawMessage) (commands.Command, error) {
	return commands.Command{}, errors.New("store unavailable")
}

func (brokenQueue) Drain() ([]commands.Command, error) {
	return nil, errors.New("store unavailable")
}

func TestCommandsStoreFailureIs500(t *testing.T) {
	ts := newTestServer(t, api.RouterConfig{Queue: brokenQueue{}, CommandSecret: testSecret})

	if resp, _ := postJSON(t, ts.URL+"/api/commands", `{"secret":"s3cret","command":"DAY"}`); resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500 from enqueue, got %d", resp.StatusCode)
	}
	if resp, _ := postJSON(t, ts.URL+"/api/commands/drain", `{"secret":"s3cret"}`); resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected 500 from drain, got %d", resp.StatusCode)
	}
}

// ============================================================================
// Rate Limit Tests
// ============================================================================

func TestRateLimitMiddleware(t *testing.T) {
	ts := newTestServer(t, api.RouterConfig{
		RateLimitConfig: &api.RateLimitConfig{RequestsPerSecond: 1, Burst: 2},
	})

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Get(ts.URL + "/health")
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)
	}

	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Errorf("Expected burst of 2 to pass, got %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Errorf("Expected third request to be limited, got %v", statuses)
	}
}

func healthFrom(t *testing.T, url, forwardedFor string) int {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url+"/health", nil)
	req.Header.Set("X-Forwarded-For", forwardedFor)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestRateLimitIgnoresForwardedForByDefault(t *testing.T) {
	ts := newTestServer(t, api.RouterConfig{
		RateLimitConfig: &api.RateLimitConfig{RequestsPerSecond: 1, Burst: 1},
	})

	if got := healthFrom(t, ts.URL, "203.0.113.1"); got != http.StatusOK {
		t.Fatalf("Expected first request to pass, got %d", got)
	}
	if got := healthFrom(t, ts.URL, "203.0.113.2"); got != http.StatusTooManyRequests {
		t.Errorf("Expected a rotated X-Forwarded-For to share the peer's budget, got %d", got)
	}
}

func TestRateLimitTrustsProxyHeadersWhenConfigured(t *testing.T) {
	ts := newTestServer(t, api.RouterConfig{
		RateLimitConfig:   &api.RateLimitConfig{RequestsPerSecond: 1, Burst: 1},
		TrustProxyHeaders: true,
	})

	if got := healthFrom(t, ts.URL, "203.0.113.1"); got != http.StatusOK {
		t.Fatalf("Expected first client to pass, got %d", got)
	}
	if got := healthFrom(t, ts.URL, "203.0.113.2"); got != http.StatusOK {
		t.Errorf("Expected a second forwarded client to get its own budget, got %d", got)
	}
	if got := healthFrom(t, ts.URL, "203.0.113.1"); got != http.StatusTooManyRequests {
		t.Errorf("Expected the first forwarded client to be limited, got %d", got)
	}
}

func TestServerLifecycle(t *testing.T) {
	store := newTestStore()
	srv := api.NewServer(api.ServerConfig{
		Router:  api.RouterConfig{Store: store, DisableLogging: true},
		Workers: []api.Lifecycle{store},
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var result map[string]interface{}
	if resp := getJSON(t, ts.URL+"/health", &result); resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}
