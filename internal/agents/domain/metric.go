package agents

import (
	"context"
	"sort"
	"time"

	alerts "routewatch/internal/alerts/domain"
)

// Metric is one observed value for a route.
type Metric struct {
	Route      string    `json:"route"`
	Category   string    `json:"category"`
	Name       string    `json:"name"`
	Value      float64   `json:"value"`
	ObservedAt time.Time `json:"observed_at"`
}

// MetricSnapshot is the latest value per (route, category, metric) within a scope.
type MetricSnapshot struct {
	Scope   string    `json:"scope"`
	TakenAt time.Time `json:"taken_at"`
	Metrics []Metric  `json:"metrics"`
}

// RouteValues indexes a snapshot as route -> metric name -> value. Later entries win.
func (s MetricSnapshot) RouteValues() map[string]map[string]float64 {
	out := make(map[string]map[string]float64)
	for _, metric := range s.Metrics {
		if metric.Route == "" || metric.Name == "" {
			continue
		}
		values, ok := out[metric.Route]
		if !ok {
			values = make(map[string]float64)
			out[metric.Route] = values
		}
		values[metric.Name] = metric.Value
	}
	return out
}

// Routes returns the routes present in the snapshot, sorted.
func (s MetricSnapshot) Routes() []string {
	seen := make(map[string]struct{})
	var routes []string
	for _, metric := range s.Metrics {
		if metric.Route == "" {
			continue
		}
		if _, ok := seen[metric.Route]; ok {
			continue
		}
		seen[metric.Route] = struct{}{}
		routes = append(routes, metric.Route)
	}
	sort.Strings(routes)
	return routes
}

// MetricSource is the read-only view of route metric time series.
type MetricSource interface {
	GetSnapshot(ctx context.Context, scope string) (MetricSnapshot, error)
}

// Agent evaluates a metric snapshot into candidate violations.
// Evaluate must not write alerts and must be safe to call repeatedly.
type Agent interface {
	Definition() Definition
	Evaluate(snapshot MetricSnapshot) ([]alerts.CandidateViolation, error)
}
