package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	agents "routewatch/internal/agents/domain"
	ledger "routewatch/internal/ledger/domain"
	schedulerapp "routewatch/internal/scheduler/application"
)

const defaultHealthWindow = 24 * time.Hour

// Catalog resolves configured agents.
type Catalog interface {
	Get(name string) (agents.Agent, error)
	List() []agents.Agent
}

// Runner triggers ticks and reports live scheduler state.
type Runner interface {
	RunOnce(ctx context.Context, agent agents.Agent) (schedulerapp.TickResult, error)
	Status() []schedulerapp.AgentStatus
}

// HealthReader summarizes execution records.
type HealthReader interface {
	HealthAll(ctx context.Context, agentNames []string, window time.Duration) ([]ledger.HealthReport, error)
}

// MetricRecorder accepts pushed route metrics.
type MetricRecorder interface {
	Record(ctx context.Context, metrics ...agents.Metric) error
}

// AgentView is one row of GET /api/v1/agents.
type AgentView struct {
	Definition agents.Definition        `json:"definition"`
	Status     schedulerapp.AgentStatus `json:"status"`
	Health     ledger.HealthReport      `json:"health"`
}

// Handler provides agent HTTP endpoints.
type Handler struct {
	catalog Catalog
	runner  Runner
	health  HealthReader
	metrics MetricRecorder
	logger  *zap.Logger
}

// Option configures the handler.
type Option func(*Handler)

// WithMetricRecorder enables POST /api/v1/metrics.
func WithMetricRecorder(recorder MetricRecorder) Option {
	return func(h *Handler) {
		h.metrics = recorder
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler constructs a handler.
func NewHandler(catalog Catalog, runner Runner, health HealthReader, opts ...Option) (*Handler, error) {
	if catalog == nil {
		return nil, errors.New("agents handler: nil catalog")
	}
	if runner == nil {
		return nil, errors.New("agents handler: nil runner")
	}
	if health == nil {
		return nil, errors.New("agents handler: nil health reader")
	}
	h := &Handler{catalog: catalog, runner: runner, health: health, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the agent routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/api/v1/agents", h.handleList)
	r.Post("/api/v1/agents/{name}/run", h.handleRun)
	r.Get("/api/v1/exports/agent-health.pdf", h.handleHealthPDF)
	if h.metrics != nil {
		r.Post("/api/v1/metrics", h.handleIngest)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	views, err := h.views(r.Context(), window)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	agent, err := h.catalog.Get(chi.URLParam(r, "name"))
	if err != nil {
		if errors.Is(err, agents.ErrUnknownAgent) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	result, err := h.runner.RunOnce(r.Context(), agent)
	if err != nil {
		if errors.Is(err, schedulerapp.ErrTickInFlight) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.logger.Info("manual agent run",
		zap.String("agent", agent.Definition().Name),
		zap.String("outcome", string(result.Record.Outcome)),
	)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var metrics []agents.Metric
	if err := json.NewDecoder(r.Body).Decode(&metrics); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	now := time.Now().UTC()
	for i := range metrics {
		metric := &metrics[i]
		metric.Route = strings.TrimSpace(metric.Route)
		metric.Name = strings.TrimSpace(metric.Name)
		if metric.Route == "" || metric.Name == "" {
			http.Error(w, "route and name are required", http.StatusBadRequest)
			return
		}
		if metric.ObservedAt.IsZero() {
			metric.ObservedAt = now
		}
	}
	if err := h.metrics.Record(r.Context(), metrics...); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(metrics)})
}

func (h *Handler) views(ctx context.Context, window time.Duration) ([]AgentView, error) {
	list := h.catalog.List()
	names := make([]string, 0, len(list))
	for _, agent := range list {
		names = append(names, agent.Definition().Name)
	}
	reports, err := h.health.HealthAll(ctx, names, window)
	if err != nil {
		return nil, err
	}
	healthByName := make(map[string]ledger.HealthReport, len(reports))
	for _, report := range reports {
		healthByName[report.AgentName] = report
	}
	statusByName := make(map[string]schedulerapp.AgentStatus)
	for _, status := range h.runner.Status() {
		statusByName[status.Name] = status
	}

	views := make([]AgentView, 0, len(list))
	for _, agent := range list {
		def := agent.Definition()
		status, ok := statusByName[def.Name]
		if !ok {
			status = schedulerapp.AgentStatus{Name: def.Name}
		}
		health, ok := healthByName[def.Name]
		if !ok {
			health = ledger.HealthReport{AgentName: def.Name, Window: window}
		}
		views = append(views, AgentView{Definition: def, Status: status, Health: health})
	}
	return views, nil
}

func parseWindow(r *http.Request) (time.Duration, error) {
	value := r.URL.Query().Get("window")
	if value == "" {
		return defaultHealthWindow, nil
	}
	window, err := time.ParseDuration(value)
	if err != nil || window <= 0 {
		return 0, errors.New("window must be a positive duration")
	}
	return window, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
