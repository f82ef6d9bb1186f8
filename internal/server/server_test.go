package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scottrax/ai-agent-system/internal/config"
	"github.com/scottrax/ai-agent-system/internal/domain"
	"github.com/scottrax/ai-agent-system/internal/engine"
	"github.com/scottrax/ai-agent-system/internal/history"
	"github.com/scottrax/ai-agent-system/internal/reasoning"
	"github.com/scottrax/ai-agent-system/internal/session"
	"github.com/scottrax/ai-agent-system/internal/tools"
	"github.com/scottrax/ai-agent-system/internal/transcript"
)

// echoService answers every completion with a fixed final answer.
type echoService struct {
	answer string
}

func (s *echoService) Complete(ctx context.Context, transcript []domain.Turn, catalogue []tools.Spec) (*reasoning.Reply, error) {
	return &reasoning.Reply{FinalAnswer: s.answer}, nil
}

type fixture struct {
	srv      *Server
	store    *transcript.Store
	registry *session.Registry
}

func newFixture(t *testing.T, cfg config.ServerConfig) *fixture {
	t.Helper()
	store, err := transcript.NewStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	registry := session.NewRegistry(store, nil)
	eng := engine.New(&echoService{answer: "echo"}, tools.NewExecutor(nil), nil, nil, engine.Config{})
	index := history.NewIndex(store, nil)
	return &fixture{
		srv:      New(registry, eng, index, cfg, nil),
		store:    store,
		registry: registry,
	}
}

func seedHistory(t *testing.T, store *transcript.Store, turns ...domain.Turn) string {
	t.Helper()
	id := transcript.NewArtifactID("interactive", time.Now())
	for _, turn := range turns {
		if err := store.Append(id, turn); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	return id
}

func TestHealth(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	f.registry.GetOrCreate(session.ChannelInteractive, "ws-1")

	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body struct {
		Status         string `json:"status"`
		ActiveSessions int    `json:"active_sessions"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" || body.ActiveSessions != 1 {
		t.Errorf("unexpected body: %+v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Errorf("missing request id header")
	}
}

func TestHistoryListAndSearch(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	seedHistory(t, f.store, domain.NewUserTurn("deploy the build"))
	seedHistory(t, f.store, domain.NewUserTurn("what time is it"))

	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status %d", rec.Code)
	}
	var records []history.Record
	if err := json.NewDecoder(rec.Body).Decode(&records); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history?q=deploy", nil))
	records = nil
	if err := json.NewDecoder(rec.Body).Decode(&records); err != nil {
		t.Fatalf("decode records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 match, got %d", len(records))
	}
}

func TestHistoryGetMissing(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history/interactive_20240101T000000_deadbeef", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHistoryLoadAndDelete(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	id := seedHistory(t, f.store,
		domain.NewUserTurn("remember the port"),
		domain.NewAssistantTurn("noted"),
	)

	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/history/"+id+"/load?session=ops", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("load status %d: %s", rec.Code, rec.Body.String())
	}
	var loaded struct {
		SessionID string `json:"session_id"`
		Turns     int    `json:"turns"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&loaded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if loaded.Turns != 2 {
		t.Errorf("expected 2 turns loaded, got %d", loaded.Turns)
	}

	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/history/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/history/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}
}

func TestBasicAuthGuardsAPI(t *testing.T) {
	f := newFixture(t, config.ServerConfig{AuthUsername: "ops", AuthPassword: "secret"})

	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.SetBasicAuth("ops", "wrong")
	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad password, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.SetBasicAuth("ops", "secret")
	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with credentials, got %d", rec.Code)
	}

	// Health stays open for probes.
	rec = httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health must not require auth, got %d", rec.Code)
	}
}

func TestWebSocketConversation(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read greeting: %v", err)
	}
	if frame.Type != "system" {
		t.Fatalf("expected system greeting, got %+v", frame)
	}

	if err := conn.WriteJSON(Frame{Type: "message", Content: "hello"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// status then message
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if frame.Type != "status" {
		t.Fatalf("expected status frame, got %+v", frame)
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read answer: %v", err)
	}
	if frame.Type != "message" || frame.Content != "echo" {
		t.Fatalf("expected echoed answer, got %+v", frame)
	}

	// In-band reset.
	if err := conn.WriteJSON(Frame{Type: "message", Content: "reset"}); err != nil {
		t.Fatalf("write reset: %v", err)
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read reset ack: %v", err)
	}
	if frame.Type != "system" || !strings.Contains(frame.Content, "reset") {
		t.Fatalf("expected reset ack, got %+v", frame)
	}
}

func TestWebSocketLoadUnknownHistory(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read greeting: %v", err)
	}

	if err := conn.WriteJSON(Frame{Type: "message", Content: "load interactive_20240101T000000_deadbeef"}); err != nil {
		t.Fatalf("write load: %v", err)
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if frame.Type != "error" {
		t.Fatalf("expected error frame, got %+v", frame)
	}
}

func TestStatusForMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrEngineBusy, http.StatusConflict},
		{domain.ErrUpstreamUnavailable, http.StatusBadGateway},
		{domain.ErrLoopBudget, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
