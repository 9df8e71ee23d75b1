package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	alertapp "routewatch/internal/alerts/application"
	alerts "routewatch/internal/alerts/domain"
	"routewatch/internal/auth"
	"routewatch/internal/broadcast"
)

const timeLayout = time.RFC3339

// AlertService is the slice of the alert manager the HTTP layer needs.
type AlertService interface {
	Get(ctx context.Context, id string) (*alerts.Alert, error)
	ListOpen(ctx context.Context, agentName string) ([]alerts.Alert, error)
	History(ctx context.Context, filter alerts.Filter) ([]alerts.Alert, error)
	Acknowledge(ctx context.Context, id string, actor alertapp.Actor) (*alerts.Alert, error)
	Escalate(ctx context.Context, id string, actor alertapp.Actor) (*alerts.Alert, error)
	Dismiss(ctx context.Context, id string, actor alertapp.Actor) (*alerts.Alert, error)
	Resolve(ctx context.Context, id string, actor alertapp.Actor) (*alerts.Alert, error)
}

// StreamSource hands out hub subscriptions for client sessions.
type StreamSource interface {
	Subscribe() *broadcast.Subscription
}

// Handler provides alert HTTP endpoints.
type Handler struct {
	service   AlertService
	stream    StreamSource
	logger    *zap.Logger
	heartbeat time.Duration
	ws        WSConfig
}

// Option configures the handler.
type Option func(*Handler)

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHeartbeat sets the SSE keep-alive interval.
func WithHeartbeat(interval time.Duration) Option {
	return func(h *Handler) {
		if interval > 0 {
			h.heartbeat = interval
		}
	}
}

// WithWSConfig overrides WebSocket timings.
func WithWSConfig(cfg WSConfig) Option {
	return func(h *Handler) {
		h.ws = cfg.withDefaults()
	}
}

// NewHandler constructs a handler.
func NewHandler(service AlertService, stream StreamSource, opts ...Option) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alerts handler: nil service")
	}
	if stream == nil {
		return nil, errors.New("alerts handler: nil stream source")
	}
	h := &Handler{
		service:   service,
		stream:    stream,
		logger:    zap.NewNop(),
		heartbeat: 15 * time.Second,
		ws:        WSConfig{}.withDefaults(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the alert routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/v1/alerts", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/history", h.handleHistory)
		r.Get("/stream", h.handleStream)
		r.Get("/ws", h.handleWebSocket)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/{action}", h.handleAction)
	})
	r.Get("/api/v1/exports/alerts.xlsx", h.handleExportXLSX)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListOpen(r.Context(), r.URL.Query().Get("agent"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := h.service.History(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	alert, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	actor := alertapp.Actor{
		Subject: auth.SubjectFromContext(r.Context()),
		Role:    string(auth.RoleFromContext(r.Context())),
	}

	var (
		alert *alerts.Alert
		err   error
	)
	switch chi.URLParam(r, "action") {
	case "ack":
		alert, err = h.service.Acknowledge(r.Context(), id, actor)
	case "escalate":
		alert, err = h.service.Escalate(r.Context(), id, actor)
	case "dismiss":
		alert, err = h.service.Dismiss(r.Context(), id, actor)
	case "resolve":
		alert, err = h.service.Resolve(r.Context(), id, actor)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, alerts.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, alerts.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func parseFilter(r *http.Request) (alerts.Filter, error) {
	query := r.URL.Query()
	filter := alerts.Filter{AgentName: query.Get("agent")}
	if value := query.Get("status"); value != "" {
		status := alerts.Status(value)
		if !status.Valid() {
			return alerts.Filter{}, errors.New("status is invalid")
		}
		filter.Status = status
	}
	var err error
	if filter.From, err = parseTimeQuery(r, "from"); err != nil {
		return alerts.Filter{}, err
	}
	if filter.To, err = parseTimeQuery(r, "to"); err != nil {
		return alerts.Filter{}, err
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.To.After(filter.From) {
		return alerts.Filter{}, errors.New("to must be after from")
	}
	if value := query.Get("limit"); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit < 0 {
			return alerts.Filter{}, errors.New("limit must be a non-negative integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}

// parseTimeQuery returns the zero time when the parameter is absent.
func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
