package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vokalis/vokalis/internal/app"
	"github.com/vokalis/vokalis/internal/config"
	"github.com/vokalis/vokalis/internal/history"
)

// testConfig returns a minimal gateway config for tests. The upstream URL
// points at a port nothing listens on; tests never open relay sessions.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Relay: config.RelayConfig{
			UpstreamURL: "ws://127.0.0.1:1/stream",
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, app.WithHistoryStore(history.NewMemStore()))
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	return a
}

func TestNew_WithMemoryStore(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig())
	if a == nil {
		t.Fatal("New() returned nil app")
	}
}

func TestHandler_AgentExchangeFallback(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig())

	body := strings.NewReader(`{"text":"hello there"}`)
	req := httptest.NewRequest("POST", "/agent", body)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		SessionID string `json:"session_id"`
		Answer    string `json:"answer"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID == "" {
		t.Error("expected a generated session id")
	}
	if want := "You said: hello there"; resp.Answer != want {
		t.Errorf("answer = %q, want %q", resp.Answer, want)
	}
}

func TestHandler_AgentRejectsGet(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig())

	req := httptest.NewRequest("GET", "/agent", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandler_Healthz(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig())

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandler_Metrics(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig())

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	// Give the listener a moment to come up, then stop it.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig())

	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
