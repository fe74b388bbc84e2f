package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/nuka-stream/internal/clock"
	"github.com/nidhogg/nuka-stream/internal/ids"
	"github.com/nidhogg/nuka-stream/internal/store"
	"github.com/nidhogg/nuka-stream/internal/stream"
	"github.com/nidhogg/nuka-stream/internal/window"
	"go.uber.org/zap"
)

var start = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

// newTestHandler creates a Handler over an in-memory stream on a manual clock.
func newTestHandler(t *testing.T, archive MessageArchive) (*stream.Stream, *clock.Manual, *httptest.Server) {
	t.Helper()
	cfg := stream.DefaultConfig()
	cfg.EnableRealtime = false
	clk := clock.NewManual(start)
	s := stream.New(cfg, window.DefaultOptions(), clk, &ids.Sequence{}, zap.NewNop())
	s.Start()

	h := NewHandler(s, archive, func() []string { return []string{"redis"} }, zap.NewNop())
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return s, clk, ts
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var rdr *bytes.Reader
	switch b := body.(type) {
	case nil:
		rdr = bytes.NewReader(nil)
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		rdr = bytes.NewReader(data)
	}
	req, _ := http.NewRequest(method, url, rdr)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

const threeCodeEvents = `[
	{"id":"e1","type":"code","timestamp":"2026-03-02T09:50:00Z","session_id":"s1","metadata":{"action":"edit-1"}},
	{"id":"e2","type":"code","timestamp":"2026-03-02T09:55:00Z","session_id":"s1","metadata":{"action":"edit-2"}},
	{"id":"e3","type":"code","timestamp":"2026-03-02T09:58:00Z","session_id":"s1","metadata":{"action":"edit-3"}}
]`

func TestHealthCheck(t *testing.T) {
	_, _, ts := newTestHandler(t, nil)
	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Status  string   `json:"status"`
		Running bool     `json:"running"`
		Sinks   []string `json:"sinks"`
	}
	decodeJSON(t, resp, &body)
	if body.Status != "ok" || !body.Running || len(body.Sinks) != 1 {
		t.Errorf("health = %+v", body)
	}
}

func TestSubmitAndReadContext(t *testing.T) {
	s, _, ts := newTestHandler(t, nil)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/events", threeCodeEvents)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit: expected 202, got %d", resp.StatusCode)
	}
	var accepted submitResponse
	decodeJSON(t, resp, &accepted)
	if accepted.Accepted != 3 {
		t.Errorf("accepted = %d", accepted.Accepted)
	}
	if err := s.Flush(); err != nil {
		t.Fatal(err)
	}

	resp = getJSON(t, ts, "/api/contexts/s1")
	if resp.StatusCode != 200 {
		t.Fatalf("get context: expected 200, got %d", resp.StatusCode)
	}
	var w struct {
		SessionID string            `json:"session_id"`
		Events    []json.RawMessage `json:"events"`
	}
	decodeJSON(t, resp, &w)
	if w.SessionID != "s1" || len(w.Events) != 3 {
		t.Errorf("context = %+v", w)
	}

	var all []json.RawMessage
	decodeJSON(t, getJSON(t, ts, "/api/contexts"), &all)
	if len(all) != 1 {
		t.Errorf("contexts = %d", len(all))
	}

	var insights []map[string]interface{}
	decodeJSON(t, getJSON(t, ts, "/api/insights?session=s1&limit=5"), &insights)
	if len(insights) == 0 {
		t.Error("no insights returned")
	}

	var active []string
	decodeJSON(t, getJSON(t, ts, "/api/sessions/active"), &active)
	if len(active) != 1 || active[0] != "s1" {
		t.Errorf("active = %v", active)
	}

	var m stream.Metrics
	decodeJSON(t, getJSON(t, ts, "/api/metrics"), &m)
	if m.EventsProcessed != 3 {
		t.Errorf("events processed = %d", m.EventsProcessed)
	}
}

func TestSubmitAcceptsSingleAndWrapped(t *testing.T) {
	_, _, ts := newTestHandler(t, nil)
	single := `{"type":"chat","session_id":"s"}`
	wrapped := `{"events":[{"type":"chat","session_id":"s"},{"type":"email","session_id":"s"}]}`

	var got submitResponse
	decodeJSON(t, doJSON(t, http.MethodPost, ts.URL+"/api/events", single), &got)
	if got.Accepted != 1 {
		t.Errorf("single accepted = %d", got.Accepted)
	}
	decodeJSON(t, doJSON(t, http.MethodPost, ts.URL+"/api/events", wrapped), &got)
	if got.Accepted != 2 {
		t.Errorf("wrapped accepted = %d", got.Accepted)
	}
}

func TestSubmitRejectsBadInput(t *testing.T) {
	_, _, ts := newTestHandler(t, nil)
	for _, body := range []string{`not json`, `[{"type":"fax"}]`, `42`} {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/events", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestGetContextNotFound(t *testing.T) {
	_, _, ts := newTestHandler(t, nil)
	resp := getJSON(t, ts, "/api/contexts/nobody")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestLifecycle(t *testing.T) {
	_, _, ts := newTestHandler(t, nil)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/lifecycle/stop", nil)
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("stop: expected 200, got %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/events", `{"type":"chat"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("submit while stopped: expected 503, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/lifecycle/start", nil)
	resp.Body.Close()
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/events", `{"type":"chat"}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("submit after restart: expected 202, got %d", resp.StatusCode)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	_, _, ts := newTestHandler(t, nil)

	var cfg map[string]interface{}
	decodeJSON(t, getJSON(t, ts, "/api/config"), &cfg)
	if cfg["flush_interval_ms"] != float64(1000) {
		t.Errorf("flush_interval_ms = %v", cfg["flush_interval_ms"])
	}

	resp := doJSON(t, http.MethodPut, ts.URL+"/api/config", map[string]interface{}{"buffer_size": 5, "flush_interval_ms": 500})
	if resp.StatusCode != 200 {
		t.Fatalf("update: expected 200, got %d", resp.StatusCode)
	}
	decodeJSON(t, resp, &cfg)
	if cfg["buffer_size"] != float64(5) || cfg["flush_interval_ms"] != float64(500) {
		t.Errorf("updated config = %v", cfg)
	}

	resp = doJSON(t, http.MethodPut, ts.URL+"/api/config", map[string]interface{}{"buffer_size": 0})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid update: expected 400, got %d", resp.StatusCode)
	}
}

func TestMessageHistory(t *testing.T) {
	_, _, ts := newTestHandler(t, nil)
	var msgs []map[string]interface{}
	decodeJSON(t, getJSON(t, ts, "/api/messages?limit=5"), &msgs)
	if len(msgs) != 1 || msgs[0]["type"] != "system" {
		t.Errorf("history = %v", msgs)
	}

	resp := getJSON(t, ts, "/api/messages?limit=abc")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", resp.StatusCode)
	}
}

type fakeArchive struct {
	session string
	limit   int
	err     error
}

func (f *fakeArchive) RecentMessages(_ context.Context, sessionID string, limit int) ([]store.ArchivedMessage, error) {
	f.session, f.limit = sessionID, limit
	if f.err != nil {
		return nil, f.err
	}
	return []store.ArchivedMessage{{ID: "msg_1", Type: "insight", SessionID: sessionID, Priority: 7}}, nil
}

func TestArchive(t *testing.T) {
	_, _, ts := newTestHandler(t, nil)
	resp := getJSON(t, ts, "/api/archive")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("no archive: expected 503, got %d", resp.StatusCode)
	}

	fa := &fakeArchive{}
	_, _, ts = newTestHandler(t, fa)
	var msgs []store.ArchivedMessage
	decodeJSON(t, getJSON(t, ts, "/api/archive?session=s1&limit=3"), &msgs)
	if len(msgs) != 1 || fa.session != "s1" || fa.limit != 3 {
		t.Errorf("msgs=%v session=%q limit=%d", msgs, fa.session, fa.limit)
	}

	fa.err = errors.New("db down")
	resp = getJSON(t, ts, "/api/archive")
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("archive error: expected 500, got %d", resp.StatusCode)
	}
}

func TestStreamDeliversMessages(t *testing.T) {
	s, _, ts := newTestHandler(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}

	reader := bufio.NewReader(resp.Body)
	var event, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	if event != "system" {
		t.Errorf("event = %q, want system", event)
	}
	if !strings.Contains(data, `"event":"stopped"`) {
		t.Errorf("data = %s", data)
	}
}

func TestStreamRejectsBadPriority(t *testing.T) {
	_, _, ts := newTestHandler(t, nil)
	resp := getJSON(t, ts, "/api/stream?min_priority=11")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}
