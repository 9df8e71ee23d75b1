package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	agents "routewatch/internal/agents/domain"
)

// MetricSource reads the latest route metrics from route_metrics.
type MetricSource struct {
	db *sql.DB
}

// NewMetricSource constructs a Postgres metric source.
func NewMetricSource(db *sql.DB) *MetricSource {
	return &MetricSource{db: db}
}

// GetSnapshot returns the newest value per (route, category, metric); an empty scope reads every category.
func (s *MetricSource) GetSnapshot(ctx context.Context, scope string) (agents.MetricSnapshot, error) {
	if s == nil || s.db == nil {
		return agents.MetricSnapshot{}, errors.New("metric source: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT ON (route, category, metric)
	route, category, metric, value, observed_at
FROM route_metrics
WHERE ($1 = '' OR category = $1)
ORDER BY route, category, metric, observed_at DESC`, scope)
	if err != nil {
		return agents.MetricSnapshot{}, err
	}
	defer rows.Close()

	snapshot := agents.MetricSnapshot{Scope: scope, TakenAt: time.Now().UTC()}
	for rows.Next() {
		var metric agents.Metric
		if err := rows.Scan(&metric.Route, &metric.Category, &metric.Name, &metric.Value, &metric.ObservedAt); err != nil {
			return agents.MetricSnapshot{}, err
		}
		metric.ObservedAt = metric.ObservedAt.UTC()
		snapshot.Metrics = append(snapshot.Metrics, metric)
	}
	if err := rows.Err(); err != nil {
		return agents.MetricSnapshot{}, err
	}
	return snapshot, nil
}

// Record appends observations. Used by seeding tools and integration tests.
func (s *MetricSource) Record(ctx context.Context, metrics ...agents.Metric) error {
	if s == nil || s.db == nil {
		return errors.New("metric source: nil db")
	}
	for _, metric := range metrics {
		observedAt := metric.ObservedAt
		if observedAt.IsZero() {
			observedAt = time.Now().UTC()
		}
		if _, err := s.db.ExecContext(ctx, `
INSERT INTO route_metrics (route, category, metric, value, observed_at)
VALUES ($1,$2,$3,$4,$5)`, metric.Route, metric.Category, metric.Name, metric.Value, observedAt.UTC()); err != nil {
			return err
		}
	}
	return nil
}
