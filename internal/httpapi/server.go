package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/luminalabs/mira/internal/avatar"
	"github.com/luminalabs/mira/internal/bus"
	"github.com/luminalabs/mira/internal/capability"
	"github.com/luminalabs/mira/internal/config"
	"github.com/luminalabs/mira/internal/input"
	"github.com/luminalabs/mira/internal/observability"
)

type Server struct {
	cfg      config.Config
	manager  *avatar.Manager
	speech   capability.SpeechProvider
	bus      *bus.Bus
	metrics  *observability.Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, manager *avatar.Manager, speech capability.SpeechProvider, b *bus.Bus, metrics *observability.Metrics, log zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		manager: manager,
		speech:  speech,
		bus:     b,
		metrics: metrics,
		log:     log.With().Str("component", "httpapi").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin. This prevents other websites from driving a
				// user's avatar session if Mira is ever exposed beyond
				// localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/avatar/session", s.handleCreateSession)
	r.Get("/v1/avatar/session/ws", s.handleSessionWS)
	r.Get("/v1/avatar/session/{id}", s.handleGetSession)
	r.Post("/v1/avatar/session/{id}/start", s.handleStartInteraction)
	r.Post("/v1/avatar/session/{id}/input", s.handleProcessInput)
	r.Post("/v1/avatar/session/{id}/state", s.handleUpdateState)
	r.Post("/v1/avatar/session/{id}/end", s.handleEndSession)
	r.Get("/v1/avatar/sessions", s.handleListSessions)
	r.Get("/v1/avatar/summaries", s.handleListSummaries)
	r.Get("/v1/avatar/health", s.handleServiceHealth)
	r.Get("/v1/perf/turns", s.handlePerfTurns)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	report := s.manager.ServiceHealth(r.Context())
	status := http.StatusOK
	if report.Status == "initializing" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]any{"status": report.Status})
}

type createSessionRequest struct {
	UserID string               `json:"user_id"`
	Config avatar.SessionConfig `json:"config"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	view, err := s.manager.CreateSession(r.Context(), req.UserID, req.Config)
	if err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	view, err := s.manager.GetStatus(id)
	if err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleStartInteraction(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var cfg avatar.InteractionConfig
	if err := decodeJSON(r, &cfg); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	view, err := s.manager.StartInteraction(r.Context(), id, cfg)
	if err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleProcessInput(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var env input.Envelope
	if err := decodeJSON(r, &env); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := s.manager.ProcessInput(r.Context(), id, env)
	if err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpdateState(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var upd avatar.StateUpdate
	if err := decodeJSON(r, &upd); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	view, err := s.manager.UpdateState(r.Context(), id, upd)
	if err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	sum, err := s.manager.EndSession(r.Context(), id)
	if err != nil {
		s.respondManagerError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sum)
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	views := s.manager.ActiveSessions()
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": views,
		"count":    len(views),
	})
}

func (s *Server) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	limit := 20
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.manager.RecentSummaries(r.Context(), userID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"summaries": records})
}

func (s *Server) handleServiceHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.manager.ServiceHealth(r.Context()))
}

func (s *Server) handlePerfTurns(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.manager.TurnStages())
}

func (s *Server) respondManagerError(w http.ResponseWriter, err error) {
	status, code := statusForError(err)
	respondError(w, status, code, err.Error())
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, avatar.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, avatar.ErrCapacityExceeded):
		return http.StatusConflict, "capacity_exceeded"
	case errors.Is(err, avatar.ErrPreconditionFailed):
		return http.StatusPreconditionFailed, "precondition_failed"
	case errors.Is(err, avatar.ErrUnsupportedInputKind):
		return http.StatusBadRequest, "unsupported_input_kind"
	case errors.Is(err, avatar.ErrNotInitialized), errors.Is(err, avatar.ErrMissingDependency):
		return http.StatusServiceUnavailable, "service_unavailable"
	}
	var provErr *avatar.ProviderError
	if errors.As(err, &provErr) {
		return http.StatusBadGateway, "provider_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return "", false
	}
	return id, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
