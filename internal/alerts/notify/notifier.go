package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	alerts "routewatch/internal/alerts/domain"
	"routewatch/internal/broadcast"
	"routewatch/internal/observability/metrics"
)

const (
	eventRaised    = "raised"
	eventEscalated = "escalated"
	eventResolved  = "resolved"
	eventReminder  = "reminder"
)

// AlertReader loads the current state of an alert.
type AlertReader interface {
	Get(ctx context.Context, id string) (*alerts.Alert, error)
}

// Clock provides time for scheduling.
type Clock interface {
	Now() time.Time
}

// DashboardURLResolver links a notification back to the dashboard.
type DashboardURLResolver func(alert alerts.Alert) string

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders alert events through a template and sends them on a channel.
// Unacknowledged alerts at or above the reminder priority get a reminder after a delay.
type Notifier struct {
	alerts           AlertReader
	channel          Channel
	template         *Template
	logger           *zap.Logger
	reminder         time.Duration
	reminderPriority alerts.Priority
	minPriority      alerts.Priority
	clock            Clock
	mu               sync.Mutex
	timers           map[string]*time.Timer
	sent             map[string]sendRecord
	cooldown         time.Duration
	dedupeWindow     time.Duration
	dashboardURL     DashboardURLResolver
	requestTimeout   time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithReminder configures the reminder delay for unacknowledged alerts.
func WithReminder(after time.Duration) Option {
	return func(n *Notifier) {
		if after > 0 {
			n.reminder = after
		}
	}
}

// WithMinPriority drops notifications for alerts below the priority.
func WithMinPriority(priority alerts.Priority) Option {
	return func(n *Notifier) {
		if priority.Rank() > 0 {
			n.minPriority = priority
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithRequestTimeout overrides the default timeout for reminder checks.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same alert and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithDashboardURLResolver injects a dashboard link resolver.
func WithDashboardURLResolver(resolver DashboardURLResolver) Option {
	return func(n *Notifier) {
		if resolver != nil {
			n.dashboardURL = resolver
		}
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(reader AlertReader, channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if reader == nil {
		return nil, errors.New("alert notifier: nil alert reader")
	}
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		alerts:           reader,
		channel:          channel,
		template:         template,
		logger:           zap.NewNop(),
		reminderPriority: alerts.PriorityHigh,
		minPriority:      alerts.PriorityLow,
		clock:            systemClock{},
		timers:           make(map[string]*time.Timer),
		sent:             make(map[string]sendRecord),
		requestTimeout:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements Sink. Refreshes of unchanged alerts and resync snapshots are not sent.
func (n *Notifier) Notify(ctx context.Context, event broadcast.Event) {
	if n == nil || n.channel == nil {
		return
	}
	for _, alert := range event.Alerts {
		switch event.Kind {
		case broadcast.KindCreated:
			n.dispatch(ctx, eventRaised, alert)
			n.scheduleReminder(alert)
		case broadcast.KindResolved:
			n.cancelReminder(alert.ID)
			n.dispatch(ctx, eventResolved, alert)
			n.forget(alert.ID)
		case broadcast.KindUpdated:
			if alert.Status != alerts.StatusActive {
				n.cancelReminder(alert.ID)
			}
			if alert.Status == alerts.StatusEscalated {
				n.dispatch(ctx, eventEscalated, alert)
			}
		}
	}
}

// Close stops all pending reminder timers.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]*time.Timer)
	n.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (n *Notifier) dispatch(ctx context.Context, eventType string, alert alerts.Alert) {
	if !alert.Priority.AtLeast(n.minPriority) {
		return
	}
	dashboardURL := ""
	if n.dashboardURL != nil {
		dashboardURL = n.dashboardURL(alert)
	}
	content, err := n.template.Render(buildTemplateData(eventType, alert, dashboardURL))
	if err != nil {
		n.logger.Error("render notification", zap.String("alert_id", alert.ID), zap.Error(err))
		return
	}
	if !n.shouldSend(alert.ID, eventType, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		metrics.IncRelayDelivery("webhook", metrics.ResultError)
		n.logger.Warn("notification send failed", zap.String("alert_id", alert.ID), zap.String("event", eventType), zap.Error(err))
		return
	}
	metrics.IncRelayDelivery("webhook", metrics.ResultSuccess)
	n.markSent(alert.ID, eventType, content)
}

func (n *Notifier) scheduleReminder(alert alerts.Alert) {
	if n.reminder <= 0 || alert.ID == "" {
		return
	}
	if !alert.Priority.AtLeast(n.reminderPriority) {
		return
	}
	n.mu.Lock()
	if existing, ok := n.timers[alert.ID]; ok && existing != nil {
		existing.Stop()
	}
	n.timers[alert.ID] = time.AfterFunc(n.reminder, func() {
		n.runReminder(alert.ID)
	})
	n.mu.Unlock()
}

func (n *Notifier) cancelReminder(alertID string) {
	if alertID == "" {
		return
	}
	n.mu.Lock()
	timer := n.timers[alertID]
	delete(n.timers, alertID)
	n.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (n *Notifier) runReminder(alertID string) {
	n.mu.Lock()
	delete(n.timers, alertID)
	n.mu.Unlock()

	ctx := context.Background()
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}

	alert, err := n.alerts.Get(ctx, alertID)
	if err != nil || alert == nil {
		return
	}
	if alert.Status != alerts.StatusActive {
		return
	}
	n.dispatch(ctx, eventReminder, *alert)
}

func buildTemplateData(eventType string, alert alerts.Alert, dashboardURL string) TemplateData {
	threshold := formatFloat(alert.ThresholdValue)
	title := alert.Title
	if title == "" {
		title = alert.FingerprintKey
	}
	return TemplateData{
		AlertID:      alert.ID,
		Title:        title,
		Route:        alert.Route,
		Agent:        alert.AgentName,
		Condition:    alert.ConditionKind,
		Fingerprint:  alert.FingerprintKey,
		MetricValue:  formatFloat(alert.MetricValue),
		Threshold:    threshold,
		FirstSeen:    alert.CreatedAt.UTC().Format(time.RFC3339),
		Status:       string(alert.Status),
		Priority:     string(alert.Priority),
		Description:  alert.Description,
		Suggestion:   suggestionFor(alert.Priority),
		DashboardURL: dashboardURL,
		Event:        eventType,
		EventLabel:   eventLabel(eventType),
	}
}

func eventLabel(event string) string {
	switch event {
	case eventRaised:
		return "Raised"
	case eventEscalated:
		return "Escalated"
	case eventResolved:
		return "Resolved"
	case eventReminder:
		return "Unacknowledged"
	default:
		return event
	}
}

func suggestionFor(priority alerts.Priority) string {
	switch priority {
	case alerts.PriorityCritical, alerts.PriorityHigh:
		return "Review the route now and decide on a pricing or capacity response."
	case alerts.PriorityMedium:
		return "Verify the condition at the next planning review."
	default:
		return "Monitor the route."
	}
}

func formatFloat(value float64) string {
	return fmt.Sprintf("%.2f", value)
}

func (n *Notifier) shouldSend(alertID, eventType, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(alertID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(alertID, eventType, content string) {
	key := notificationKey(alertID, eventType)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

// forget drops the send history of a resolved alert; resolved is terminal.
func (n *Notifier) forget(alertID string) {
	n.mu.Lock()
	for _, eventType := range []string{eventRaised, eventEscalated, eventResolved, eventReminder} {
		delete(n.sent, notificationKey(alertID, eventType))
	}
	n.mu.Unlock()
}

func notificationKey(alertID, eventType string) string {
	return alertID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
