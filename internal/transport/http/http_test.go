package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/groblegark/coop-sub001/internal/agentstate"
	"github.com/groblegark/coop-sub001/internal/eventlog"
	"github.com/groblegark/coop-sub001/internal/profile"
	"github.com/groblegark/coop-sub001/internal/ringbuf"
	"github.com/groblegark/coop-sub001/internal/screen"
	"github.com/groblegark/coop-sub001/internal/session"
)

func newTestMux(t *testing.T) (*http.ServeMux, *session.Store) {
	t.Helper()
	store := session.NewStore(ringbuf.New(64*1024, nil), screen.New(80, 24), profile.New(), eventlog.New(""), session.DefaultConfig())
	mux := NewMux(Deps{Store: store, AgentName: "claude"})
	return mux, store
}

func TestHealthEndpointReportsReady(t *testing.T) {
	mux, store := newTestMux(t)
	store.Bootstrap(agentstate.Simple(agentstate.Idle))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["agent"] != "claude" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestReadyEndpointReturns503WhenNotReady(t *testing.T) {
	mux, _ := newTestMux(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestInputEndpointWritesBytes(t *testing.T) {
	mux, store := newTestMux(t)
	inputs := make(chan session.InputEvent, 4)
	store.InputTx = inputs

	req := httptest.NewRequest(http.MethodPost, "/api/v1/input", strings.NewReader(`{"text":"hi","enter":true}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	select {
	case ev := <-inputs:
		if string(ev.Write) != "hi\r" {
			t.Fatalf("expected %q, got %q", "hi\r", ev.Write)
		}
	default:
		t.Fatal("expected an input event")
	}
}

func TestResizeEndpointRejectsNonPositive(t *testing.T) {
	mux, store := newTestMux(t)
	store.InputTx = make(chan session.InputEvent, 1)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/resize", strings.NewReader(`{"cols":0,"rows":24}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestScreenTextEndpointReturnsPlainText(t *testing.T) {
	mux, _ := newTestMux(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/screen/text", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected text/plain, got %q", ct)
	}
}
