package alerts

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusEscalated    Status = "escalated"
	StatusDismissed    Status = "dismissed"
	StatusResolved     Status = "resolved"
)

// ResolvedByAuto marks alerts closed by auto-resolution.
const ResolvedByAuto = "auto"

// Valid returns true when status is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusAcknowledged, StatusEscalated, StatusDismissed, StatusResolved:
		return true
	default:
		return false
	}
}

// Open reports whether the alert still holds its fingerprint.
func (s Status) Open() bool {
	return s != StatusResolved && s.Valid()
}

// Alert is the canonical unit of operator attention.
type Alert struct {
	ID             string    `json:"id"`
	Fingerprint    string    `json:"fingerprint"`
	FingerprintKey string    `json:"fingerprint_key"`
	AgentName      string    `json:"agent_name"`
	Category       string    `json:"category"`
	Route          string    `json:"route"`
	ConditionKind  string    `json:"condition_kind"`
	Priority       Priority  `json:"priority"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	MetricValue    float64   `json:"metric_value"`
	ThresholdValue float64   `json:"threshold_value"`
	Confidence     float64   `json:"confidence"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	LastSeenAt     time.Time `json:"last_seen_at"`
	AcknowledgedAt time.Time `json:"acknowledged_at,omitempty"`
	EscalatedAt    time.Time `json:"escalated_at,omitempty"`
	DismissedAt    time.Time `json:"dismissed_at,omitempty"`
	ResolvedAt     time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string    `json:"resolved_by,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewAlert builds an active alert from a candidate violation.
func NewAlert(id, agentName string, candidate CandidateViolation, priority Priority, at time.Time) Alert {
	at = at.UTC()
	title := strings.TrimSpace(candidate.Title)
	if title == "" {
		title = DefaultTitle(candidate)
	}
	return Alert{
		ID:             id,
		Fingerprint:    Fingerprint(agentName, candidate.Category, candidate.Route, candidate.ConditionKind),
		FingerprintKey: FingerprintKey(agentName, candidate.Route, candidate.ConditionKind),
		AgentName:      agentName,
		Category:       candidate.Category,
		Route:          candidate.Route,
		ConditionKind:  candidate.ConditionKind,
		Priority:       priority,
		Title:          title,
		Description:    candidate.Description,
		MetricValue:    candidate.MetricValue,
		ThresholdValue: candidate.ThresholdValue,
		Confidence:     ClampConfidence(candidate.Confidence),
		Status:         StatusActive,
		CreatedAt:      at,
		LastSeenAt:     at,
		UpdatedAt:      at,
	}
}

// Refresh applies a re-fire of the same condition.
func (a *Alert) Refresh(candidate CandidateViolation, at time.Time) error {
	if !a.Status.Open() {
		return ErrInvalidTransition
	}
	at = at.UTC()
	a.MetricValue = candidate.MetricValue
	a.ThresholdValue = candidate.ThresholdValue
	a.Confidence = ClampConfidence(candidate.Confidence)
	if candidate.Description != "" {
		a.Description = candidate.Description
	}
	a.LastSeenAt = at
	a.UpdatedAt = at
	return nil
}

// Acknowledge marks an active alert as under review.
func (a *Alert) Acknowledge(at time.Time) error {
	if a.Status != StatusActive {
		return ErrInvalidTransition
	}
	at = at.UTC()
	a.Status = StatusAcknowledged
	a.AcknowledgedAt = at
	a.UpdatedAt = at
	return nil
}

// Escalate flags an active or acknowledged alert for higher-priority handling.
func (a *Alert) Escalate(at time.Time) error {
	if a.Status != StatusActive && a.Status != StatusAcknowledged {
		return ErrInvalidTransition
	}
	at = at.UTC()
	a.Status = StatusEscalated
	a.EscalatedAt = at
	a.UpdatedAt = at
	return nil
}

// Dismiss marks the alert as not actionable.
func (a *Alert) Dismiss(at time.Time) error {
	switch a.Status {
	case StatusActive, StatusAcknowledged, StatusEscalated:
	default:
		return ErrInvalidTransition
	}
	at = at.UTC()
	a.Status = StatusDismissed
	a.DismissedAt = at
	a.UpdatedAt = at
	return nil
}

// Resolve closes the alert. Resolved is terminal.
func (a *Alert) Resolve(by string, at time.Time) error {
	if !a.Status.Open() {
		return ErrInvalidTransition
	}
	at = at.UTC()
	a.Status = StatusResolved
	a.ResolvedAt = at
	a.ResolvedBy = by
	a.UpdatedAt = at
	return nil
}

// ClampConfidence keeps confidence within [0,1]; exactly zero means unspecified and maps to 1.
func ClampConfidence(value float64) float64 {
	switch {
	case value == 0:
		return 1
	case value < 0:
		return 0
	case value > 1:
		return 1
	default:
		return value
	}
}
