package memory

import (
	"context"
	"sync"
	"time"

	agents "routewatch/internal/agents/domain"
)

type metricKey struct {
	route    string
	category string
	name     string
}

// MetricSource keeps the latest value per (route, category, metric) in process.
type MetricSource struct {
	mu      sync.RWMutex
	latest  map[metricKey]agents.Metric
	failErr error
	now     func() time.Time
}

// NewMetricSource constructs an in-memory metric source.
func NewMetricSource(seed ...agents.Metric) *MetricSource {
	s := &MetricSource{
		latest: make(map[metricKey]agents.Metric),
		now:    func() time.Time { return time.Now().UTC() },
	}
	s.store(seed)
	return s
}

// Record stores metrics, keeping only the newest observation per key.
func (s *MetricSource) Record(ctx context.Context, metrics ...agents.Metric) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.store(metrics)
	return nil
}

func (s *MetricSource) store(metrics []agents.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, metric := range metrics {
		key := metricKey{route: metric.Route, category: metric.Category, name: metric.Name}
		if existing, ok := s.latest[key]; ok && metric.ObservedAt.Before(existing.ObservedAt) {
			continue
		}
		s.latest[key] = metric
	}
}

// Remove forgets a route's metrics within a category.
func (s *MetricSource) Remove(category, route string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.latest {
		if key.route == route && key.category == category {
			delete(s.latest, key)
		}
	}
}

// FailWith makes GetSnapshot return err until cleared with nil.
func (s *MetricSource) FailWith(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}

// GetSnapshot returns the latest metrics; an empty scope returns every category.
func (s *MetricSource) GetSnapshot(ctx context.Context, scope string) (agents.MetricSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return agents.MetricSnapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failErr != nil {
		return agents.MetricSnapshot{}, s.failErr
	}
	snapshot := agents.MetricSnapshot{Scope: scope, TakenAt: s.now()}
	for key, metric := range s.latest {
		if scope != "" && key.category != scope {
			continue
		}
		snapshot.Metrics = append(snapshot.Metrics, metric)
	}
	sortMetrics(snapshot.Metrics)
	return snapshot, nil
}
