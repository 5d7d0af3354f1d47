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

	"github.com/ent0n29/mnemo/internal/config"
	"github.com/ent0n29/mnemo/internal/memory"
	"github.com/ent0n29/mnemo/internal/observability"
	"github.com/ent0n29/mnemo/internal/reliability"
	"github.com/ent0n29/mnemo/internal/session"
)

type Server struct {
	cfg      config.Config
	manager  *memory.Manager
	metrics  *observability.Metrics
	hub      *eventHub
	upgrader websocket.Upgrader
}

func New(cfg config.Config, manager *memory.Manager, metrics *observability.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		manager: manager,
		metrics: metrics,
		hub:     newEventHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from
				// the same origin, so other sites cannot watch memory
				// events if the service is ever exposed beyond localhost.
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
	manager.SetEventHook(s.hub.Broadcast)
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/memory/{id}/messages", s.handleAddMessage)
	r.Get("/v1/memory/{id}/context", s.handleGetContext)
	r.Post("/v1/memory/{id}/context", s.handleSaveContext)
	r.Get("/v1/memory/{id}/summaries", s.handleListSummaries)
	r.Get("/v1/memory/{id}/stats", s.handleStats)
	r.Get("/v1/memory/{id}/config", s.handleGetConfig)
	r.Put("/v1/memory/{id}/config", s.handleSetConfig)
	r.Delete("/v1/memory/{id}", s.handleClear)
	r.Get("/v1/memory/latency", s.handleLatency)
	r.Get("/v1/memory/events", s.handleEventsWS)

	return r
}

// Close stops the event hub.
func (s *Server) Close() {
	s.hub.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.manager.IsAvailable() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

type addMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Timestamp is optional epoch seconds; zero means server time.
	Timestamp int64 `json:"timestamp"`
}

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req addMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Timestamp < 0 {
		respondError(w, http.StatusBadRequest, "invalid_timestamp", "timestamp must be epoch seconds >= 0")
		return
	}

	role, err := memory.ParseRole(req.Role)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_role", err.Error())
		return
	}

	msg, err := s.manager.AddMessageAt(r.Context(), id, role, req.Content, req.Timestamp)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_message", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"accepted":  true,
		"available": s.manager.IsAvailable(),
		"message":   msg,
	})
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	respondJSON(w, http.StatusOK, s.manager.GetContext(r.Context(), id))
}

func (s *Server) handleSaveContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var ext memory.ExternalContext
	if err := decodeJSON(r, &ext); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	for _, msg := range ext.Messages {
		if !msg.Role.Valid() {
			respondError(w, http.StatusBadRequest, "invalid_role", "message carries unknown role")
			return
		}
	}

	if err := s.manager.SaveContext(r.Context(), id, ext); err != nil {
		status := http.StatusBadRequest
		code := "invalid_request"
		if errors.Is(err, reliability.ErrDependencyUnavailable) {
			status = http.StatusServiceUnavailable
			code = "store_unavailable"
		}
		respondError(w, status, code, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.manager.GetContext(r.Context(), id))
}

func (s *Server) handleListSummaries(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	records := s.manager.SummaryHistory(r.Context(), id, limit)
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"summaries":  records,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	respondJSON(w, http.StatusOK, s.manager.GetMemoryStats(r.Context(), id))
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	respondJSON(w, http.StatusOK, s.manager.SessionConfig(id))
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var cfg session.Config
	if err := decodeJSON(r, &cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.manager.SetSessionConfig(id, cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.manager.SessionConfig(id))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.ClearSessionMemory(r.Context(), id); err != nil {
		if errors.Is(err, reliability.ErrDependencyUnavailable) {
			respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"cleared":    true,
	})
}

func (s *Server) handleLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SnapshotOpLatency())
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

