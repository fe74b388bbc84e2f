package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/nuka-stream/internal/activity"
	"github.com/nidhogg/nuka-stream/internal/store"
	"github.com/nidhogg/nuka-stream/internal/stream"
	"go.uber.org/zap"
)

// MessageArchive serves archived messages. *store.Store satisfies it.
type MessageArchive interface {
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]store.ArchivedMessage, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	stream  *stream.Stream
	archive MessageArchive
	sinks   func() []string
	logger  *zap.Logger
}

// NewHandler creates a new API handler. archive and sinks may be nil.
func NewHandler(s *stream.Stream, archive MessageArchive, sinks func() []string, logger *zap.Logger) *Handler {
	return &Handler{
		stream:  s,
		archive: archive,
		sinks:   sinks,
		logger:  logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/events", h.submitEvents)
		r.Get("/contexts", h.listContexts)
		r.Get("/contexts/{sessionID}", h.getContext)
		r.Get("/insights", h.recentInsights)
		r.Get("/sessions/active", h.activeSessions)
		r.Get("/metrics", h.metrics)

		r.Get("/config", h.getConfig)
		r.Put("/config", h.updateConfig)
		r.Post("/lifecycle/start", h.start)
		r.Post("/lifecycle/stop", h.stop)

		r.Get("/messages", h.messageHistory)
		r.Get("/archive", h.archivedMessages)
		r.Get("/stream", h.subscribe)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":  "ok",
		"running": h.stream.Running(),
	}
	if h.sinks != nil {
		body["sinks"] = h.sinks()
	}
	writeJSON(w, http.StatusOK, body)
}

type submitResponse struct {
	Accepted int `json:"accepted"`
}

// decodeEvents accepts a single event, an array of events, or
// {"events": [...]}.
func decodeEvents(body []byte) ([]activity.Event, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	var events []activity.Event
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, err
		}
	case '{':
		var wrapper struct {
			Events []activity.Event `json:"events"`
		}
		if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Events != nil {
			events = wrapper.Events
			break
		}
		var e activity.Event
		if err := json.Unmarshal(body, &e); err != nil {
			return nil, err
		}
		events = []activity.Event{e}
	default:
		return nil, errors.New("expected a JSON object or array")
	}
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}
	return events, nil
}

func (h *Handler) submitEvents(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	events, err := decodeEvents(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := h.stream.Submit(events); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, stream.ErrStopped) || errors.Is(err, stream.ErrDisabled) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{Accepted: len(events)})
}

func (h *Handler) listContexts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stream.GetAllContexts())
}

func (h *Handler) getContext(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	ctx, ok := h.stream.GetContext(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "context not found"})
		return
	}
	writeJSON(w, http.StatusOK, ctx)
}

func (h *Handler) recentInsights(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 10)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.stream.GetRecentInsights(r.URL.Query().Get("session"), limit))
}

func (h *Handler) activeSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.stream.GetActiveSessions()
	if sessions == nil {
		sessions = []string{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stream.GetMetrics())
}

func (h *Handler) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stream.GetConfig())
}

func (h *Handler) updateConfig(w http.ResponseWriter, r *http.Request) {
	var patch stream.ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	cfg, err := h.stream.UpdateConfig(patch)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, stream.ErrInvalidConfig) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	h.stream.Start()
	writeJSON(w, http.StatusOK, map[string]bool{"running": true})
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request) {
	if err := h.stream.Stop(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"running": false})
}

func (h *Handler) messageHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.stream.History(limit))
}

func (h *Handler) archivedMessages(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "message archive not configured"})
		return
	}
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	msgs, err := h.archive.RecentMessages(r.Context(), r.URL.Query().Get("session"), limit)
	if err != nil {
		h.logger.Error("archive query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
