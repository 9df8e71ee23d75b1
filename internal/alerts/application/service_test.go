package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alerts "routewatch/internal/alerts/domain"
	"routewatch/internal/alerts/infrastructure/memory"
	"routewatch/internal/audit"
	"routewatch/internal/broadcast"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	manager *Manager
	repo    *memory.AlertRepository
	hub     *broadcast.Hub
	clock   *fakeClock
	audit   *audit.MemoryLogger
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := memory.NewAlertRepository()
	hub := broadcast.NewHub(broadcast.WithBufferSize(128))
	clock := &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	auditLog := audit.NewMemoryLogger()
	seq := 0
	manager, err := NewManager(repo, hub,
		WithClock(clock),
		WithAuditLogger(auditLog),
		WithIDFactory(func() string {
			seq++
			return fmt.Sprintf("alert-%03d", seq)
		}),
	)
	require.NoError(t, err)
	return fixture{manager: manager, repo: repo, hub: hub, clock: clock, audit: auditLog}
}

func priceDrop(route string, fare float64) alerts.CandidateViolation {
	return alerts.CandidateViolation{
		Category:       "pricing",
		Route:          route,
		ConditionKind:  "price_drop",
		MetricValue:    fare,
		ThresholdValue: 95.00,
		Operator:       alerts.OperatorLess,
		Description:    "competitor fare below floor",
		Confidence:     0.9,
	}
}

func (f fixture) apply(t *testing.T, agent string, gen uint64, candidates ...alerts.CandidateViolation) BatchResult {
	t.Helper()
	result, err := f.manager.ApplyBatch(context.Background(), Batch{
		Agent:      agent,
		Generation: gen,
		ObservedAt: f.clock.Now(),
		Candidates: candidates,
	})
	require.NoError(t, err)
	return result
}

func TestApplyBatchKeepsOneOpenAlertPerFingerprint(t *testing.T) {
	f := newFixture(t)

	for gen := uint64(1); gen <= 5; gen++ {
		f.apply(t, "competitive", gen, priceDrop("LGW-BCN", 89.5), priceDrop("LGW-BCN", 88.0))
		f.clock.Advance(time.Minute)
	}

	fp := alerts.Fingerprint("competitive", "pricing", "LGW-BCN", "price_drop")
	total, open := f.repo.CountByFingerprint(fp)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, open)
}

func TestApplyBatchRefireRefreshesInPlace(t *testing.T) {
	f := newFixture(t)

	first := f.apply(t, "competitive", 1, priceDrop("LGW-BCN", 89.5))
	require.Equal(t, 1, first.Created)
	before, err := f.manager.ListOpen(context.Background(), "competitive")
	require.NoError(t, err)
	require.Len(t, before, 1)

	f.clock.Advance(5 * time.Minute)
	second := f.apply(t, "competitive", 2, priceDrop("LGW-BCN", 87.0))
	assert.Equal(t, BatchResult{Updated: 1}, second)
	assert.Equal(t, 1, second.Emitted())

	after, err := f.manager.Get(context.Background(), before[0].ID)
	require.NoError(t, err)
	assert.Equal(t, alerts.StatusActive, after.Status)
	assert.Equal(t, 87.0, after.MetricValue)
	assert.Equal(t, before[0].CreatedAt, after.CreatedAt)
	assert.True(t, after.LastSeenAt.After(before[0].LastSeenAt))
}

func TestApplyBatchAutoResolvesAbsentFingerprints(t *testing.T) {
	f := newFixture(t)
	f.apply(t, "competitive", 1, priceDrop("LGW-BCN", 89.5), priceDrop("LHR-JFK", 80))
	f.apply(t, "performance", 1, alerts.CandidateViolation{Route: "LHR-JFK", ConditionKind: "load_factor_shortfall", MetricValue: 0.6, ThresholdValue: 0.75, Operator: alerts.OperatorLess})

	f.clock.Advance(time.Minute)
	result := f.apply(t, "competitive", 2, priceDrop("LGW-BCN", 90))
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, result.Resolved)

	history, err := f.manager.History(context.Background(), alerts.Filter{Status: alerts.StatusResolved})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "LHR-JFK", history[0].Route)
	assert.Equal(t, alerts.ResolvedByAuto, history[0].ResolvedBy)
	assert.Equal(t, f.clock.Now(), history[0].ResolvedAt)

	perf, err := f.manager.ListOpen(context.Background(), "performance")
	require.NoError(t, err)
	assert.Len(t, perf, 1, "another agent's alerts must survive")
}

func TestApplyBatchEmptySuccessResolvesEverything(t *testing.T) {
	f := newFixture(t)
	f.apply(t, "network", 1,
		alerts.CandidateViolation{Route: "MAN-AMS", ConditionKind: "overcapacity", MetricValue: 0.4, ThresholdValue: 0.6, Operator: alerts.OperatorLess},
		alerts.CandidateViolation{Route: "MAN-DUB", ConditionKind: "overcapacity", MetricValue: 0.5, ThresholdValue: 0.6, Operator: alerts.OperatorLess},
	)
	result := f.apply(t, "network", 2)
	assert.Equal(t, 2, result.Resolved)

	open, err := f.manager.ListOpen(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestDismissedAlertReopensAsNewAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.apply(t, "competitive", 1, priceDrop("LGW-BCN", 89.5))
	open, err := f.manager.ListOpen(ctx, "")
	require.NoError(t, err)
	require.Len(t, open, 1)
	original := open[0]

	dismissed, err := f.manager.Dismiss(ctx, original.ID, Actor{Subject: "ops-1", Role: "operator"})
	require.NoError(t, err)
	assert.Equal(t, alerts.StatusDismissed, dismissed.Status)

	f.clock.Advance(time.Minute)
	result := f.apply(t, "competitive", 2, priceDrop("LGW-BCN", 89.0))
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Resolved)

	old, err := f.manager.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, alerts.StatusResolved, old.Status)

	open, err = f.manager.ListOpen(ctx, "")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.NotEqual(t, original.ID, open[0].ID)
	assert.Equal(t, alerts.StatusActive, open[0].Status)

	total, openCount := f.repo.CountByFingerprint(original.Fingerprint)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, openCount)
}

func TestApplyBatchRejectsStaleGeneration(t *testing.T) {
	f := newFixture(t)
	f.apply(t, "competitive", 3, priceDrop("LGW-BCN", 89.5))

	_, err := f.manager.ApplyBatch(context.Background(), Batch{Agent: "competitive", Generation: 2})
	require.True(t, errors.Is(err, alerts.ErrStaleBatch), "got %v", err)

	open, err := f.manager.ListOpen(context.Background(), "competitive")
	require.NoError(t, err)
	assert.Len(t, open, 1, "stale batch must not auto-resolve")

	// other agents keep their own generation counters
	f.apply(t, "performance", 1)
}

func TestApplyBatchIsolatesPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.repo.FailWhen(func(a alerts.Alert) error {
		if a.Route == "LHR-JFK" {
			return errors.New("disk full")
		}
		return nil
	})
	sub := f.hub.Subscribe()
	defer sub.Close()

	result := f.apply(t, "competitive", 1, priceDrop("LGW-BCN", 89.5), priceDrop("LHR-JFK", 70))
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Failed)

	select {
	case evt := <-sub.Events:
		require.Len(t, evt.Alerts, 1)
		assert.Equal(t, "LGW-BCN", evt.Alerts[0].Route)
	case <-time.After(time.Second):
		t.Fatal("expected created event")
	}
	select {
	case evt := <-sub.Events:
		t.Fatalf("unexpected event for failed write: %+v", evt)
	default:
	}
}

func TestApplyBatchSkipsInvalidCandidates(t *testing.T) {
	f := newFixture(t)
	result := f.apply(t, "competitive", 1, alerts.CandidateViolation{ConditionKind: "price_drop"}, priceDrop("LGW-BCN", 89.5))
	assert.Equal(t, 1, result.Invalid)
	assert.Equal(t, 1, result.Created)
}

func TestSnapshotAndStreamConverge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.apply(t, "competitive", 1, priceDrop("LGW-BCN", 89.5), priceDrop("LHR-JFK", 80))

	sub := f.hub.Subscribe()
	defer sub.Close()
	require.Len(t, sub.Snapshot, 2)
	view := broadcast.Apply(nil, sub.SnapshotEvent())

	f.apply(t, "competitive", 2, priceDrop("LGW-BCN", 88), priceDrop("MAN-AMS", 60))
	open, err := f.manager.ListOpen(ctx, "")
	require.NoError(t, err)
	_, err = f.manager.Acknowledge(ctx, open[0].ID, Actor{Subject: "ops-1"})
	require.NoError(t, err)

	last := sub.Sequence
	for len(sub.Events) > 0 {
		evt := <-sub.Events
		assert.Greater(t, evt.Sequence, last)
		last = evt.Sequence
		view = broadcast.Apply(view, evt)
	}

	open, err = f.manager.ListOpen(ctx, "")
	require.NoError(t, err)
	require.Len(t, view, len(open))
	for _, alert := range open {
		got, ok := view[alert.ID]
		require.True(t, ok, "missing %s", alert.ID)
		assert.Equal(t, alert.Status, got.Status)
		assert.Equal(t, alert.MetricValue, got.MetricValue)
	}
}

func TestCompetitivePriceDropScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.apply(t, "competitive", 1, priceDrop("LGW-BCN", 89.50))
	open, err := f.manager.ListOpen(ctx, "competitive")
	require.NoError(t, err)
	require.Len(t, open, 1)
	alert := open[0]
	assert.Equal(t, "competitive/LGW-BCN/price_drop", alert.FingerprintKey)
	assert.Equal(t, alerts.PriorityHigh, alert.Priority)
	assert.Equal(t, alerts.StatusActive, alert.Status)

	f.clock.Advance(15 * time.Minute)
	f.apply(t, "competitive", 2, priceDrop("LGW-BCN", 89.50))
	open, err = f.manager.ListOpen(ctx, "competitive")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, alert.ID, open[0].ID)

	f.clock.Advance(15 * time.Minute)
	f.apply(t, "competitive", 3)
	resolved, err := f.manager.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, alerts.StatusResolved, resolved.Status)
	assert.False(t, resolved.ResolvedAt.IsZero())
	open, err = f.manager.ListOpen(ctx, "competitive")
	require.NoError(t, err)
	assert.Empty(t, open)

	f.clock.Advance(15 * time.Minute)
	f.apply(t, "competitive", 4, priceDrop("LGW-BCN", 89.50))
	open, err = f.manager.ListOpen(ctx, "competitive")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.NotEqual(t, alert.ID, open[0].ID)
	assert.Equal(t, alert.Fingerprint, open[0].Fingerprint)
	assert.Equal(t, alerts.StatusActive, open[0].Status)

	old, err := f.manager.Get(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, alerts.StatusResolved, old.Status)
	assert.Equal(t, resolved.ResolvedAt, old.ResolvedAt)

	total, openCount := f.repo.CountByFingerprint(alert.Fingerprint)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, openCount)
}

func TestOperatorTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.apply(t, "competitive", 1, priceDrop("LGW-BCN", 89.5))
	open, err := f.manager.ListOpen(ctx, "")
	require.NoError(t, err)
	id := open[0].ID
	actor := Actor{Subject: "ops-1", Role: "operator"}

	acked, err := f.manager.Acknowledge(ctx, id, actor)
	require.NoError(t, err)
	assert.Equal(t, alerts.StatusAcknowledged, acked.Status)

	_, err = f.manager.Acknowledge(ctx, id, actor)
	assert.True(t, errors.Is(err, alerts.ErrInvalidTransition), "got %v", err)

	escalated, err := f.manager.Escalate(ctx, id, actor)
	require.NoError(t, err)
	assert.Equal(t, alerts.StatusEscalated, escalated.Status)

	// re-fire keeps the operator status
	f.apply(t, "competitive", 2, priceDrop("LGW-BCN", 85))
	current, err := f.manager.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, alerts.StatusEscalated, current.Status)

	resolved, err := f.manager.Resolve(ctx, id, actor)
	require.NoError(t, err)
	assert.Equal(t, "ops-1", resolved.ResolvedBy)

	_, err = f.manager.Escalate(ctx, id, actor)
	assert.True(t, errors.Is(err, alerts.ErrInvalidTransition), "got %v", err)

	_, err = f.manager.Dismiss(ctx, "alert-missing", actor)
	assert.True(t, errors.Is(err, alerts.ErrNotFound), "got %v", err)

	entries := f.audit.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "alert.acknowledge", entries[0].Action)
	assert.Equal(t, "alert.resolve", entries[2].Action)
	assert.Equal(t, id, entries[2].ResourceID)
}

func TestBootstrapSeedsHub(t *testing.T) {
	repo := memory.NewAlertRepository()
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpsertAlert(context.Background(), alerts.NewAlert("alert-1", "competitive", priceDrop("LGW-BCN", 89.5), alerts.PriorityHigh, at)))

	hub := broadcast.NewHub()
	manager, err := NewManager(repo, hub)
	require.NoError(t, err)
	require.NoError(t, manager.Bootstrap(context.Background()))

	snapshot := hub.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "alert-1", snapshot[0].ID)
}

func TestNewManagerValidatesInputs(t *testing.T) {
	_, err := NewManager(nil, broadcast.NewHub())
	assert.Error(t, err)
	_, err = NewManager(memory.NewAlertRepository(), nil)
	assert.Error(t, err)
	_, err = NewManager(memory.NewAlertRepository(), broadcast.NewHub(), WithPriorityBands(alerts.PriorityBands{Critical: 0.1, High: 0.2}))
	assert.Error(t, err)
}

func TestConcurrentBatchesFromManyAgents(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		agent := fmt.Sprintf("agent-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for gen := uint64(1); gen <= 20; gen++ {
				_, err := f.manager.ApplyBatch(context.Background(), Batch{
					Agent:      agent,
					Generation: gen,
					Candidates: []alerts.CandidateViolation{priceDrop("LGW-BCN", 89.5)},
				})
				if err != nil {
					t.Errorf("apply %s: %v", agent, err)
				}
			}
		}()
	}
	wg.Wait()

	open, err := f.manager.ListOpen(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, open, 8)
}
