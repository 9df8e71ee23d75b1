package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alerts "routewatch/internal/alerts/domain"
)

const alertColumns = `id, fingerprint, fingerprint_key, agent_name, category, route, condition_kind,
	priority, title, description, metric_value, threshold_value, confidence, status,
	created_at, last_seen_at, acknowledged_at, escalated_at, dismissed_at, resolved_at,
	resolved_by, updated_at`

// AlertRepository is a Postgres repository for alerts.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// UpsertAlert inserts an alert or replaces its mutable fields by id.
// The partial unique index on open fingerprints rejects a second open holder.
func (r *AlertRepository) UpsertAlert(ctx context.Context, alert alerts.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert.ID == "" || alert.Fingerprint == "" || alert.AgentName == "" {
		return errors.New("alert repo: missing fields")
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alerts (`+alertColumns+`) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12, $13, $14,
	$15, $16, $17, $18, $19, $20,
	$21, $22
)
ON CONFLICT (id) DO UPDATE SET
	priority = EXCLUDED.priority,
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	metric_value = EXCLUDED.metric_value,
	threshold_value = EXCLUDED.threshold_value,
	confidence = EXCLUDED.confidence,
	status = EXCLUDED.status,
	last_seen_at = EXCLUDED.last_seen_at,
	acknowledged_at = EXCLUDED.acknowledged_at,
	escalated_at = EXCLUDED.escalated_at,
	dismissed_at = EXCLUDED.dismissed_at,
	resolved_at = EXCLUDED.resolved_at,
	resolved_by = EXCLUDED.resolved_by,
	updated_at = EXCLUDED.updated_at`,
		alert.ID,
		alert.Fingerprint,
		alert.FingerprintKey,
		alert.AgentName,
		alert.Category,
		alert.Route,
		alert.ConditionKind,
		string(alert.Priority),
		alert.Title,
		alert.Description,
		alert.MetricValue,
		alert.ThresholdValue,
		alert.Confidence,
		string(alert.Status),
		alert.CreatedAt.UTC(),
		alert.LastSeenAt.UTC(),
		nullableTime(alert.AcknowledgedAt),
		nullableTime(alert.EscalatedAt),
		nullableTime(alert.DismissedAt),
		nullableTime(alert.ResolvedAt),
		nullableString(alert.ResolvedBy),
		alert.UpdatedAt.UTC(),
	)
	return err
}

// GetAlert fetches an alert by id.
func (r *AlertRepository) GetAlert(ctx context.Context, id string) (*alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id)
	alert, err := scanAlert(row)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.ErrNotFound
	}
	return alert, nil
}

// ListOpenAlerts lists non-resolved alerts, optionally for one agent.
func (r *AlertRepository) ListOpenAlerts(ctx context.Context, agentName string) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	return r.query(ctx, `SELECT `+alertColumns+`
FROM alerts
WHERE status <> 'resolved' AND ($1 = '' OR agent_name = $1)
ORDER BY created_at ASC, id ASC`, agentName)
}

// ListAlerts lists alerts matching the filter, newest first.
func (r *AlertRepository) ListAlerts(ctx context.Context, filter alerts.Filter) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	var args []any
	if filter.AgentName != "" {
		args = append(args, filter.AgentName)
		query += fmt.Sprintf(" AND agent_name = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From.UTC())
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To.UTC())
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return r.query(ctx, query, args...)
}

func (r *AlertRepository) query(ctx context.Context, query string, args ...any) ([]alerts.Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type alertScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row alertScanner) (*alerts.Alert, error) {
	var alert alerts.Alert
	var priority, status string
	var acknowledgedAt, escalatedAt, dismissedAt, resolvedAt sql.NullTime
	var resolvedBy sql.NullString
	if err := row.Scan(
		&alert.ID,
		&alert.Fingerprint,
		&alert.FingerprintKey,
		&alert.AgentName,
		&alert.Category,
		&alert.Route,
		&alert.ConditionKind,
		&priority,
		&alert.Title,
		&alert.Description,
		&alert.MetricValue,
		&alert.ThresholdValue,
		&alert.Confidence,
		&status,
		&alert.CreatedAt,
		&alert.LastSeenAt,
		&acknowledgedAt,
		&escalatedAt,
		&dismissedAt,
		&resolvedAt,
		&resolvedBy,
		&alert.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alert.Priority = alerts.Priority(priority)
	alert.Status = alerts.Status(status)
	alert.CreatedAt = alert.CreatedAt.UTC()
	alert.LastSeenAt = alert.LastSeenAt.UTC()
	alert.UpdatedAt = alert.UpdatedAt.UTC()
	if acknowledgedAt.Valid {
		alert.AcknowledgedAt = acknowledgedAt.Time.UTC()
	}
	if escalatedAt.Valid {
		alert.EscalatedAt = escalatedAt.Time.UTC()
	}
	if dismissedAt.Valid {
		alert.DismissedAt = dismissedAt.Time.UTC()
	}
	if resolvedAt.Valid {
		alert.ResolvedAt = resolvedAt.Time.UTC()
	}
	if resolvedBy.Valid {
		alert.ResolvedBy = resolvedBy.String
	}
	return &alert, nil
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}

func nullableString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
