package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	alerts "routewatch/internal/alerts/domain"
	"routewatch/internal/broadcast"
)

type stubAlertReader struct {
	mu    sync.Mutex
	alert *alerts.Alert
}

func (s *stubAlertReader) Get(_ context.Context, _ string) (*alerts.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.alert == nil {
		return nil, alerts.ErrNotFound
	}
	copied := *s.alert
	return &copied, nil
}

func (s *stubAlertReader) set(alert alerts.Alert) {
	s.mu.Lock()
	s.alert = &alert
	s.mu.Unlock()
}

func sampleAlert(id string, at time.Time) alerts.Alert {
	return alerts.NewAlert(id, "competitive", alerts.CandidateViolation{
		Category:       "pricing",
		Route:          "LGW-BCN",
		ConditionKind:  "price_drop",
		MetricValue:    89.50,
		ThresholdValue: 95.00,
		Operator:       alerts.OperatorLess,
		Title:          "Competitor price drop on LGW-BCN",
		Description:    "Competitor fare on LGW-BCN is 89.50, below the 95.00 floor.",
	}, alerts.PriorityHigh, at)
}

func created(alert alerts.Alert) broadcast.Event {
	return broadcast.Event{Kind: broadcast.KindCreated, Sequence: 1, Alerts: []alerts.Alert{alert}}
}

func TestWebhookNotifierPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	tpl, err := NewTemplate("")
	if err != nil {
		t.Fatalf("new template: %v", err)
	}
	alert := sampleAlert("alert-1", time.Date(2026, 1, 26, 8, 0, 0, 0, time.UTC))

	notifier, err := NewNotifier(
		&stubAlertReader{alert: &alert},
		channel,
		tpl,
		WithReminder(0),
		WithDashboardURLResolver(func(a alerts.Alert) string {
			return "http://example.com/alerts/" + a.ID
		}),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), created(alert))

	select {
	case payload := <-payloadCh:
		if payload.MsgType != "text" {
			t.Fatalf("expected msgtype text, got %s", payload.MsgType)
		}
		content := payload.Text.Content
		checks := []string{
			"[Alert Raised] Competitor price drop on LGW-BCN",
			"Route: LGW-BCN",
			"Agent: competitive",
			"Metric Value: 89.50",
			"Threshold: 95.00",
			"First Seen: 2026-01-26T08:00:00Z",
			"Current Status: active",
			"Priority: high",
			"Suggestion:",
			"Dashboard: http://example.com/alerts/alert-1",
		}
		for _, expected := range checks {
			if !strings.Contains(content, expected) {
				t.Fatalf("expected content to include %q, got %s", expected, content)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook payload")
	}
}

type recordingChannel struct {
	mu       sync.Mutex
	contents []string
}

func (r *recordingChannel) Send(_ context.Context, content string) error {
	r.mu.Lock()
	r.contents = append(r.contents, content)
	r.mu.Unlock()
	return nil
}

func (r *recordingChannel) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.contents)
}

func (r *recordingChannel) Latest() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.contents) == 0 {
		return ""
	}
	return r.contents[len(r.contents)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestNotifierCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 26, 10, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	alert := sampleAlert("alert-1", clock.Now())

	notifier, err := NewNotifier(&stubAlertReader{alert: &alert}, channel, nil,
		WithClock(clock),
		WithCooldown(10*time.Minute),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), created(alert))
	notifier.Notify(context.Background(), created(alert))
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification during cooldown, got %d", got)
	}

	clock.Add(11 * time.Minute)
	notifier.Notify(context.Background(), created(alert))
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected 2 notifications after cooldown, got %d", got)
	}
}

func TestNotifierDedupeWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 26, 11, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	alert := sampleAlert("alert-2", clock.Now())

	notifier, err := NewNotifier(&stubAlertReader{alert: &alert}, channel, nil,
		WithClock(clock),
		WithDedupeWindow(30*time.Minute),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), created(alert))
	clock.Add(5 * time.Minute)
	notifier.Notify(context.Background(), created(alert))
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected 1 notification during dedupe window, got %d", got)
	}

	alert.MetricValue = 80
	notifier.Notify(context.Background(), created(alert))
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected notification when content changes, got %d", got)
	}
}

func TestNotifierSkipsRefreshesAndLowPriority(t *testing.T) {
	channel := &recordingChannel{}
	alert := sampleAlert("alert-3", time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC))
	notifier, err := NewNotifier(&stubAlertReader{alert: &alert}, channel, nil, WithMinPriority(alerts.PriorityHigh))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), broadcast.Event{Kind: broadcast.KindUpdated, Alerts: []alerts.Alert{alert}})
	if got := channel.Count(); got != 0 {
		t.Fatalf("expected refresh to be silent, got %d", got)
	}

	low := sampleAlert("alert-4", alert.CreatedAt)
	low.Priority = alerts.PriorityMedium
	notifier.Notify(context.Background(), created(low))
	if got := channel.Count(); got != 0 {
		t.Fatalf("expected medium alert to be filtered, got %d", got)
	}

	if err := alert.Escalate(alert.CreatedAt.Add(time.Minute)); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	notifier.Notify(context.Background(), broadcast.Event{Kind: broadcast.KindUpdated, Alerts: []alerts.Alert{alert}})
	if !strings.Contains(channel.Latest(), "[Alert Escalated]") {
		t.Fatalf("expected escalated notification, got %q", channel.Latest())
	}
}

func TestNotifierReminder(t *testing.T) {
	channel := &recordingChannel{}
	alert := sampleAlert("alert-5", time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC))
	reader := &stubAlertReader{alert: &alert}

	notifier, err := NewNotifier(reader, channel, nil,
		WithReminder(20*time.Millisecond),
		WithRequestTimeout(200*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	defer notifier.Close()

	notifier.Notify(context.Background(), created(alert))

	deadline := time.After(300 * time.Millisecond)
	for {
		if channel.Count() >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected reminder notification, got %d", channel.Count())
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	if !strings.Contains(channel.Latest(), "Unacknowledged") {
		t.Fatalf("expected reminder content, got %s", channel.Latest())
	}
}

func TestNotifierReminderCancelledByAcknowledge(t *testing.T) {
	channel := &recordingChannel{}
	alert := sampleAlert("alert-6", time.Date(2026, 1, 26, 12, 0, 0, 0, time.UTC))
	reader := &stubAlertReader{alert: &alert}

	notifier, err := NewNotifier(reader, channel, nil, WithReminder(30*time.Millisecond))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	defer notifier.Close()

	notifier.Notify(context.Background(), created(alert))
	acked := alert
	if err := acked.Acknowledge(alert.CreatedAt.Add(time.Second)); err != nil {
		t.Fatalf("ack: %v", err)
	}
	reader.set(acked)
	notifier.Notify(context.Background(), broadcast.Event{Kind: broadcast.KindUpdated, Alerts: []alerts.Alert{acked}})

	time.Sleep(80 * time.Millisecond)
	if got := channel.Count(); got != 1 {
		t.Fatalf("expected only the raised notification, got %d", got)
	}
}

func TestNotifierForgetsResolvedAlerts(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 26, 13, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	alert := sampleAlert("alert-7", clock.Now())

	notifier, err := NewNotifier(&stubAlertReader{alert: &alert}, channel, nil,
		WithClock(clock),
		WithCooldown(10*time.Minute),
	)
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}

	notifier.Notify(context.Background(), created(alert))
	if err := alert.Resolve(alerts.ResolvedByAuto, clock.Now().Add(time.Minute)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	notifier.Notify(context.Background(), broadcast.Event{Kind: broadcast.KindResolved, Sequence: 2, Alerts: []alerts.Alert{alert}})
	if got := channel.Count(); got != 2 {
		t.Fatalf("expected raised and resolved notifications, got %d", got)
	}

	notifier.mu.Lock()
	remaining := len(notifier.sent)
	notifier.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected send history to be cleared, got %d entries", remaining)
	}
}

func TestNotifierIgnoresResyncSnapshots(t *testing.T) {
	channel := &recordingChannel{}
	alert := sampleAlert("alert-8", time.Date(2026, 1, 26, 14, 0, 0, 0, time.UTC))
	notifier, err := NewNotifier(&stubAlertReader{alert: &alert}, channel, nil, WithReminder(time.Hour))
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	defer notifier.Close()

	notifier.Notify(context.Background(), broadcast.Event{Kind: broadcast.KindSnapshot, Sequence: 40, Alerts: []alerts.Alert{alert}})
	if got := channel.Count(); got != 0 {
		t.Fatalf("expected snapshot to be silent, got %d", got)
	}
	notifier.mu.Lock()
	timers := len(notifier.timers)
	notifier.mu.Unlock()
	if timers != 0 {
		t.Fatalf("expected no reminder for snapshot, got %d", timers)
	}
}
