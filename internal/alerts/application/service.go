package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alerts "routewatch/internal/alerts/domain"
	"routewatch/internal/audit"
	"routewatch/internal/broadcast"
	"routewatch/internal/observability/metrics"
)

// Publisher receives every persisted lifecycle change.
type Publisher interface {
	Publish(kind broadcast.Kind, alert alerts.Alert)
	Seed(open []alerts.Alert)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Actor identifies the operator behind a manual transition.
type Actor struct {
	Subject string
	Role    string
}

// Batch is one agent tick's complete set of candidate violations.
type Batch struct {
	Agent      string
	Generation uint64
	ObservedAt time.Time
	Candidates []alerts.CandidateViolation
}

// BatchResult summarises how a batch changed the alert set.
type BatchResult struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
	Invalid  int `json:"invalid"`
}

// Emitted counts alerts the tick raised or refreshed.
func (r BatchResult) Emitted() int {
	return r.Created + r.Updated
}

// Manager is the single writer of alert state.
type Manager struct {
	mu          sync.Mutex
	repo        alerts.Repository
	publisher   Publisher
	audit       audit.Logger
	clock       Clock
	logger      *zap.Logger
	bands       alerts.PriorityBands
	newID       func() string
	generations map[string]uint64
}

// ManagerOption customizes the manager.
type ManagerOption func(*Manager)

// WithClock assigns a clock.
func WithClock(clock Clock) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithAuditLogger records operator transitions.
func WithAuditLogger(logger audit.Logger) ManagerOption {
	return func(m *Manager) {
		m.audit = logger
	}
}

// WithPriorityBands overrides the margin bands used for new alerts.
func WithPriorityBands(bands alerts.PriorityBands) ManagerOption {
	return func(m *Manager) {
		m.bands = bands
	}
}

// WithIDFactory overrides alert id generation.
func WithIDFactory(fn func() string) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// NewManager constructs the lifecycle manager.
func NewManager(repo alerts.Repository, publisher Publisher, opts ...ManagerOption) (*Manager, error) {
	if repo == nil {
		return nil, errors.New("alerts: nil repository")
	}
	if publisher == nil {
		return nil, errors.New("alerts: nil publisher")
	}
	m := &Manager{
		repo:        repo,
		publisher:   publisher,
		clock:       systemClock{},
		logger:      zap.NewNop(),
		bands:       alerts.DefaultPriorityBands(),
		newID:       newAlertID,
		generations: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.bands.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Bootstrap seeds the publisher with the persisted open-alert set.
func (m *Manager) Bootstrap(ctx context.Context) error {
	if m == nil {
		return errors.New("alerts: nil manager")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	open, err := m.repo.ListOpenAlerts(ctx, "")
	if err != nil {
		return fmt.Errorf("alerts: bootstrap: %w", err)
	}
	m.publisher.Seed(open)
	m.logger.Info("alert state restored", zap.Int("open", len(open)))
	return nil
}

// ApplyBatch reconciles an agent's candidates with its open alerts.
// Changes are persisted one alert at a time and each is published only after its write succeeds.
func (m *Manager) ApplyBatch(ctx context.Context, batch Batch) (BatchResult, error) {
	var result BatchResult
	if m == nil {
		return result, errors.New("alerts: nil manager")
	}
	if strings.TrimSpace(batch.Agent) == "" {
		return result, errors.New("alerts: batch agent required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if batch.Generation > 0 {
		if last, ok := m.generations[batch.Agent]; ok && batch.Generation <= last {
			metrics.IncStaleBatch(batch.Agent)
			return result, fmt.Errorf("%w: agent %s generation %d, last applied %d", alerts.ErrStaleBatch, batch.Agent, batch.Generation, last)
		}
		m.generations[batch.Agent] = batch.Generation
	}

	at := batch.ObservedAt
	if at.IsZero() {
		at = m.clock.Now()
	}
	at = at.UTC()

	open, err := m.repo.ListOpenAlerts(ctx, batch.Agent)
	if err != nil {
		return result, fmt.Errorf("alerts: list open for %s: %w", batch.Agent, err)
	}
	openByFingerprint := make(map[string]alerts.Alert, len(open))
	for _, alert := range open {
		openByFingerprint[alert.Fingerprint] = alert
	}

	order := make([]string, 0, len(batch.Candidates))
	candidates := make(map[string]alerts.CandidateViolation, len(batch.Candidates))
	for _, candidate := range batch.Candidates {
		if err := candidate.Validate(); err != nil {
			result.Invalid++
			m.logger.Warn("candidate rejected", zap.String("agent", batch.Agent), zap.Error(err))
			continue
		}
		fp := alerts.Fingerprint(batch.Agent, candidate.Category, candidate.Route, candidate.ConditionKind)
		if _, seen := candidates[fp]; !seen {
			order = append(order, fp)
		}
		candidates[fp] = candidate
	}

	for _, fp := range order {
		candidate := candidates[fp]
		existing, ok := openByFingerprint[fp]
		switch {
		case ok && existing.Status == alerts.StatusDismissed:
			if !m.resolve(ctx, batch.Agent, existing, alerts.ResolvedByAuto, at) {
				result.Failed++
				continue
			}
			result.Resolved++
			if m.create(ctx, batch.Agent, candidate, at) {
				result.Created++
			} else {
				result.Failed++
			}
		case ok:
			if m.refresh(ctx, batch.Agent, existing, candidate, at) {
				result.Updated++
			} else {
				result.Failed++
			}
		default:
			if m.create(ctx, batch.Agent, candidate, at) {
				result.Created++
			} else {
				result.Failed++
			}
		}
	}

	for _, alert := range open {
		if _, present := candidates[alert.Fingerprint]; present {
			continue
		}
		if m.resolve(ctx, batch.Agent, alert, alerts.ResolvedByAuto, at) {
			result.Resolved++
		} else {
			result.Failed++
		}
	}

	if result.Created+result.Resolved+result.Failed > 0 {
		m.logger.Info("batch applied",
			zap.String("agent", batch.Agent),
			zap.Uint64("generation", batch.Generation),
			zap.Int("created", result.Created),
			zap.Int("updated", result.Updated),
			zap.Int("resolved", result.Resolved),
			zap.Int("failed", result.Failed),
		)
	}
	return result, nil
}

// Acknowledge marks an active alert as under review.
func (m *Manager) Acknowledge(ctx context.Context, id string, actor Actor) (*alerts.Alert, error) {
	return m.transition(ctx, id, actor, "acknowledge", broadcast.KindUpdated, func(a *alerts.Alert, at time.Time) error {
		return a.Acknowledge(at)
	})
}

// Escalate flags an alert for higher-priority handling.
func (m *Manager) Escalate(ctx context.Context, id string, actor Actor) (*alerts.Alert, error) {
	return m.transition(ctx, id, actor, "escalate", broadcast.KindUpdated, func(a *alerts.Alert, at time.Time) error {
		return a.Escalate(at)
	})
}

// Dismiss marks an alert as not actionable. A later re-fire opens a new alert.
func (m *Manager) Dismiss(ctx context.Context, id string, actor Actor) (*alerts.Alert, error) {
	return m.transition(ctx, id, actor, "dismiss", broadcast.KindUpdated, func(a *alerts.Alert, at time.Time) error {
		return a.Dismiss(at)
	})
}

// Resolve closes an alert on behalf of an operator.
func (m *Manager) Resolve(ctx context.Context, id string, actor Actor) (*alerts.Alert, error) {
	by := actor.Subject
	if by == "" {
		by = "operator"
	}
	return m.transition(ctx, id, actor, "resolve", broadcast.KindResolved, func(a *alerts.Alert, at time.Time) error {
		return a.Resolve(by, at)
	})
}

// Get loads an alert by id.
func (m *Manager) Get(ctx context.Context, id string) (*alerts.Alert, error) {
	if m == nil {
		return nil, errors.New("alerts: nil manager")
	}
	if id == "" {
		return nil, errors.New("alerts: alert id required")
	}
	return m.repo.GetAlert(ctx, id)
}

// ListOpen returns open alerts, optionally for one agent.
func (m *Manager) ListOpen(ctx context.Context, agentName string) ([]alerts.Alert, error) {
	if m == nil {
		return nil, errors.New("alerts: nil manager")
	}
	return m.repo.ListOpenAlerts(ctx, agentName)
}

// History returns alerts of any status matching the filter.
func (m *Manager) History(ctx context.Context, filter alerts.Filter) ([]alerts.Alert, error) {
	if m == nil {
		return nil, errors.New("alerts: nil manager")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("alerts: unknown status %q", filter.Status)
	}
	return m.repo.ListAlerts(ctx, filter)
}

func (m *Manager) transition(ctx context.Context, id string, actor Actor, action string, kind broadcast.Kind, apply func(*alerts.Alert, time.Time) error) (*alerts.Alert, error) {
	if m == nil {
		return nil, errors.New("alerts: nil manager")
	}
	if id == "" {
		return nil, errors.New("alerts: alert id required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	alert, err := m.repo.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, alerts.ErrNotFound
	}
	previous := alert.Status
	if err := apply(alert, m.clock.Now()); err != nil {
		return nil, fmt.Errorf("%w: %s from %s", err, action, previous)
	}
	if err := m.repo.UpsertAlert(ctx, *alert); err != nil {
		return nil, fmt.Errorf("alerts: persist %s: %w", action, err)
	}
	m.publish(kind, *alert)
	m.record(ctx, actor, action, *alert, previous)
	return alert, nil
}

func (m *Manager) create(ctx context.Context, agent string, candidate alerts.CandidateViolation, at time.Time) bool {
	priority := m.bands.PriorityFor(candidate.Operator, candidate.MetricValue, candidate.ThresholdValue)
	alert := alerts.NewAlert(m.newID(), agent, candidate, priority, at)
	if err := m.repo.UpsertAlert(ctx, alert); err != nil {
		m.persistFailed(agent, alert, "create", err)
		return false
	}
	m.publish(broadcast.KindCreated, alert)
	return true
}

func (m *Manager) refresh(ctx context.Context, agent string, alert alerts.Alert, candidate alerts.CandidateViolation, at time.Time) bool {
	if err := alert.Refresh(candidate, at); err != nil {
		m.persistFailed(agent, alert, "refresh", err)
		return false
	}
	if err := m.repo.UpsertAlert(ctx, alert); err != nil {
		m.persistFailed(agent, alert, "refresh", err)
		return false
	}
	m.publish(broadcast.KindUpdated, alert)
	return true
}

func (m *Manager) resolve(ctx context.Context, agent string, alert alerts.Alert, by string, at time.Time) bool {
	if err := alert.Resolve(by, at); err != nil {
		m.persistFailed(agent, alert, "resolve", err)
		return false
	}
	if err := m.repo.UpsertAlert(ctx, alert); err != nil {
		m.persistFailed(agent, alert, "resolve", err)
		return false
	}
	m.publish(broadcast.KindResolved, alert)
	return true
}

func (m *Manager) publish(kind broadcast.Kind, alert alerts.Alert) {
	metrics.IncAlertEvent(string(kind))
	m.publisher.Publish(kind, alert)
}

func (m *Manager) persistFailed(agent string, alert alerts.Alert, op string, err error) {
	metrics.IncAlertPersistFailure(agent)
	m.logger.Error("alert write failed",
		zap.String("agent", agent),
		zap.String("op", op),
		zap.String("alert_id", alert.ID),
		zap.String("fingerprint", alert.FingerprintKey),
		zap.Error(err),
	)
}

func (m *Manager) record(ctx context.Context, actor Actor, action string, alert alerts.Alert, previous alerts.Status) {
	if m.audit == nil {
		return
	}
	meta, _ := json.Marshal(map[string]string{
		"from":        string(previous),
		"to":          string(alert.Status),
		"fingerprint": alert.FingerprintKey,
	})
	entry := audit.Entry{
		Actor:        actor.Subject,
		Role:         actor.Role,
		Action:       "alert." + action,
		ResourceType: "alert",
		ResourceID:   alert.ID,
		Metadata:     meta,
		CreatedAt:    m.clock.Now().UTC(),
	}
	if err := m.audit.Log(ctx, entry); err != nil {
		m.logger.Warn("audit write failed", zap.String("alert_id", alert.ID), zap.Error(err))
	}
}

func newAlertID() string {
	return "alert-" + uuid.NewString()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
