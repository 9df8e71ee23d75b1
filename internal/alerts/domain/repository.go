package alerts

import (
	"context"
	"time"
)

// Repository persists canonical alert records.
type Repository interface {
	UpsertAlert(ctx context.Context, alert Alert) error
	GetAlert(ctx context.Context, id string) (*Alert, error)
	// ListOpenAlerts returns non-resolved alerts; an empty agent name lists all agents.
	ListOpenAlerts(ctx context.Context, agentName string) ([]Alert, error)
	ListAlerts(ctx context.Context, filter Filter) ([]Alert, error)
}

// Filter narrows alert history queries.
type Filter struct {
	AgentName string
	Status    Status
	From      time.Time
	To        time.Time
	Limit     int
}

// Matches reports whether alert satisfies the filter.
func (f Filter) Matches(alert Alert) bool {
	if f.AgentName != "" && alert.AgentName != f.AgentName {
		return false
	}
	if f.Status != "" && alert.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && alert.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !alert.CreatedAt.Before(f.To) {
		return false
	}
	return true
}
