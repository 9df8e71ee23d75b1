package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	ledger "routewatch/internal/ledger/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Ledger opens, seals and reports on agent execution records.
type Ledger struct {
	store  ledger.Store
	clock  Clock
	logger *zap.Logger
}

// Option customizes the ledger.
type Option func(*Ledger)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New constructs a ledger over a store.
func New(store ledger.Store, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("ledger: nil store")
	}
	l := &Ledger{store: store, clock: systemClock{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Begin opens a pending record for a tick.
func (l *Ledger) Begin(agentName string, generation uint64) *ledger.ExecutionRecord {
	return ledger.Open("exec-"+uuid.NewString(), agentName, generation, l.clock.Now())
}

// Seal finalises a record and appends it to the store.
func (l *Ledger) Seal(ctx context.Context, record *ledger.ExecutionRecord, outcome ledger.Outcome, candidates, emitted int, detail string) error {
	if l == nil {
		return errors.New("ledger: nil ledger")
	}
	if err := record.Seal(outcome, l.clock.Now(), candidates, emitted, detail); err != nil {
		return err
	}
	if err := l.store.AppendExecutionRecord(ctx, *record); err != nil {
		l.logger.Error("execution record append failed",
			zap.String("agent", record.AgentName),
			zap.String("record_id", record.ID),
			zap.Error(err),
		)
		return fmt.Errorf("ledger: append %s: %w", record.ID, err)
	}
	return nil
}

// Records lists sealed records for an agent within the window ending now.
func (l *Ledger) Records(ctx context.Context, agentName string, window time.Duration) ([]ledger.ExecutionRecord, error) {
	if l == nil {
		return nil, errors.New("ledger: nil ledger")
	}
	return l.store.ListExecutionRecords(ctx, agentName, l.since(window))
}

// Health summarises one agent over the window ending now.
func (l *Ledger) Health(ctx context.Context, agentName string, window time.Duration) (ledger.HealthReport, error) {
	records, err := l.Records(ctx, agentName, window)
	if err != nil {
		return ledger.HealthReport{}, err
	}
	return ledger.Summarize(agentName, window, records), nil
}

// HealthAll summarises every named agent, in the given order.
func (l *Ledger) HealthAll(ctx context.Context, agentNames []string, window time.Duration) ([]ledger.HealthReport, error) {
	if l == nil {
		return nil, errors.New("ledger: nil ledger")
	}
	records, err := l.store.ListExecutionRecords(ctx, "", l.since(window))
	if err != nil {
		return nil, err
	}
	byAgent := make(map[string][]ledger.ExecutionRecord)
	for _, record := range records {
		byAgent[record.AgentName] = append(byAgent[record.AgentName], record)
	}
	reports := make([]ledger.HealthReport, 0, len(agentNames))
	for _, name := range agentNames {
		reports = append(reports, ledger.Summarize(name, window, byAgent[name]))
	}
	return reports, nil
}

func (l *Ledger) since(window time.Duration) time.Time {
	if window <= 0 {
		return time.Time{}
	}
	return l.clock.Now().Add(-window).UTC()
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
