package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	alerts "routewatch/internal/alerts/domain"
)

// AlertRepository is an in-process alert store: an arena keyed by id plus
// a fingerprint index of the open alert holding each fingerprint.
type AlertRepository struct {
	mu     sync.RWMutex
	arena  map[string]alerts.Alert
	open   map[string]string
	order  []string
	failFn func(alerts.Alert) error
}

// NewAlertRepository constructs a repository.
func NewAlertRepository() *AlertRepository {
	return &AlertRepository{
		arena: make(map[string]alerts.Alert),
		open:  make(map[string]string),
	}
}

// FailWhen installs a hook that can reject upserts. Used to simulate store failures.
func (r *AlertRepository) FailWhen(fn func(alerts.Alert) error) {
	r.mu.Lock()
	r.failFn = fn
	r.mu.Unlock()
}

// UpsertAlert inserts or replaces an alert by id.
func (r *AlertRepository) UpsertAlert(ctx context.Context, alert alerts.Alert) error {
	_ = ctx
	if alert.ID == "" {
		return errors.New("memory alert repo: empty id")
	}
	if alert.Fingerprint == "" {
		return errors.New("memory alert repo: empty fingerprint")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFn != nil {
		if err := r.failFn(alert); err != nil {
			return err
		}
	}
	if holder, ok := r.open[alert.Fingerprint]; ok && holder != alert.ID && alert.Status.Open() {
		return errors.New("memory alert repo: fingerprint already held by an open alert")
	}
	if _, exists := r.arena[alert.ID]; !exists {
		r.order = append(r.order, alert.ID)
	}
	r.arena[alert.ID] = alert
	if alert.Status.Open() {
		r.open[alert.Fingerprint] = alert.ID
	} else if r.open[alert.Fingerprint] == alert.ID {
		delete(r.open, alert.Fingerprint)
	}
	return nil
}

// GetAlert loads an alert by id.
func (r *AlertRepository) GetAlert(ctx context.Context, id string) (*alerts.Alert, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	alert, ok := r.arena[id]
	if !ok {
		return nil, alerts.ErrNotFound
	}
	return &alert, nil
}

// ListOpenAlerts returns open alerts, optionally for one agent.
func (r *AlertRepository) ListOpenAlerts(ctx context.Context, agentName string) ([]alerts.Alert, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]alerts.Alert, 0, len(r.open))
	for _, id := range r.open {
		alert := r.arena[id]
		if agentName != "" && alert.AgentName != agentName {
			continue
		}
		result = append(result, alert)
	}
	sortByCreated(result)
	return result, nil
}

// ListAlerts returns alerts matching filter, newest first.
func (r *AlertRepository) ListAlerts(ctx context.Context, filter alerts.Filter) ([]alerts.Alert, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []alerts.Alert
	for i := len(r.order) - 1; i >= 0; i-- {
		alert := r.arena[r.order[i]]
		if !filter.Matches(alert) {
			continue
		}
		result = append(result, alert)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

// CountByFingerprint returns how many alerts ever held a fingerprint, open or not.
func (r *AlertRepository) CountByFingerprint(fingerprint string) (total, open int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, alert := range r.arena {
		if alert.Fingerprint != fingerprint {
			continue
		}
		total++
		if alert.Status.Open() {
			open++
		}
	}
	return total, open
}

func sortByCreated(list []alerts.Alert) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
