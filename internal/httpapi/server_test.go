package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/luminalabs/mira/internal/avatar"
	"github.com/luminalabs/mira/internal/bus"
	"github.com/luminalabs/mira/internal/capability"
	"github.com/luminalabs/mira/internal/config"
	"github.com/luminalabs/mira/internal/observability"
)

// Prometheus collectors register globally, so the package shares one set.
var testMetrics = observability.NewMetrics("httpapi_test")

func newTestServer(t *testing.T, opts avatar.Options) (*Server, *avatar.Manager) {
	t.Helper()
	signals := bus.New()
	manager := avatar.NewManager(opts, signals, nil, nil, zerolog.Nop())
	speech := capability.NewMockSpeech()
	err := manager.Initialize(avatar.Providers{
		Rendering: capability.NewMockRendering(),
		Speech:    speech,
		Dialogue:  capability.NewMockDialogue(),
	})
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { _ = manager.Shutdown(context.Background()) })

	return New(config.Config{BindAddr: ":0"}, manager, speech, signals, testMetrics, zerolog.Nop()), manager
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func createSession(t *testing.T, router http.Handler, userID string) avatar.View {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/v1/avatar/session", map[string]any{"user_id": userID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var view avatar.View
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return view
}

func TestCreateAndGetSession(t *testing.T) {
	s, _ := newTestServer(t, avatar.Options{})
	router := s.Router()

	view := createSession(t, router, "u1")
	if view.Status != avatar.StatusReady || view.UserID != "u1" {
		t.Fatalf("view = %+v, want ready session for u1", view)
	}

	rec := doJSON(t, router, http.MethodGet, "/v1/avatar/session/"+view.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/avatar/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", rec.Code, http.StatusOK)
	}
	var list struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 {
		t.Fatalf("count = %d, want 1", list.Count)
	}
}

func TestGetUnknownSessionIs404(t *testing.T) {
	s, _ := newTestServer(t, avatar.Options{})
	rec := doJSON(t, s.Router(), http.MethodGet, "/v1/avatar/session/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Code != "session_not_found" {
		t.Fatalf("code = %q, want session_not_found", resp.Code)
	}
}

func TestCapacityExceededIs409(t *testing.T) {
	s, _ := newTestServer(t, avatar.Options{MaxConcurrentAvatars: 1})
	router := s.Router()

	createSession(t, router, "u1")
	rec := doJSON(t, router, http.MethodPost, "/v1/avatar/session", map[string]any{"user_id": "u2"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestProcessInputEndpoint(t *testing.T) {
	s, _ := newTestServer(t, avatar.Options{})
	router := s.Router()
	view := createSession(t, router, "u1")

	rec := doJSON(t, router, http.MethodPost, "/v1/avatar/session/"+view.ID+"/input", map[string]any{
		"kind": "text",
		"text": "hello",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var result struct {
		AvatarResponse struct {
			Text string `json:"text"`
		} `json:"avatar_response"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.AvatarResponse.Text != "You said: hello" {
		t.Fatalf("response text = %q, want %q", result.AvatarResponse.Text, "You said: hello")
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/avatar/session/"+view.ID+"/input", map[string]any{
		"kind": "telepathy",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unsupported kind status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestStartEndAndIdempotentEnd(t *testing.T) {
	s, _ := newTestServer(t, avatar.Options{})
	router := s.Router()
	view := createSession(t, router, "u1")

	rec := doJSON(t, router, http.MethodPost, "/v1/avatar/session/"+view.ID+"/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/avatar/session/"+view.ID+"/end", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("end status = %d, want %d", rec.Code, http.StatusOK)
	}
	var sum avatar.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sum.SessionID != view.ID {
		t.Fatalf("summary session = %q, want %q", sum.SessionID, view.ID)
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/avatar/session/"+view.ID+"/end", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat end status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/avatar/session/"+view.ID+"/start", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("start after end status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestUpdateStateEndpoint(t *testing.T) {
	s, _ := newTestServer(t, avatar.Options{})
	router := s.Router()
	view := createSession(t, router, "u1")

	rec := doJSON(t, router, http.MethodPost, "/v1/avatar/session/"+view.ID+"/state", map[string]any{
		"animation":   "wave",
		"voice_state": "speaking",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	var got avatar.View
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if got.State.Animation != "wave" || !got.State.Speaking {
		t.Fatalf("state = %+v, want wave/speaking", got.State)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t, avatar.Options{})
	router := s.Router()

	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/avatar/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", rec.Code, http.StatusOK)
	}
	var rep avatar.HealthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode health report: %v", err)
	}
	if rep.Status != "healthy" {
		t.Fatalf("Status = %q, want healthy", rep.Status)
	}
	if len(rep.Providers) != 3 {
		t.Fatalf("len(Providers) = %d, want 3", len(rep.Providers))
	}
}

func TestWSRequiresSessionID(t *testing.T) {
	s, _ := newTestServer(t, avatar.Options{})
	rec := doJSON(t, s.Router(), http.MethodGet, "/v1/avatar/session/ws", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestSummariesEndpointValidatesLimit(t *testing.T) {
	s, _ := newTestServer(t, avatar.Options{})
	router := s.Router()

	rec := doJSON(t, router, http.MethodGet, "/v1/avatar/summaries?user_id=u1&limit=zero", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/avatar/summaries?user_id=u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
