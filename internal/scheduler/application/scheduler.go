package application

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	agents "routewatch/internal/agents/domain"
	alertsapp "routewatch/internal/alerts/application"
	ledger "routewatch/internal/ledger/domain"
	"routewatch/internal/observability/metrics"
)

const defaultTickTimeout = 30 * time.Second

// ErrTickInFlight indicates the agent's previous evaluation has not finished.
var ErrTickInFlight = errors.New("scheduler: tick already in flight")

// BatchApplier reconciles candidates into alerts.
type BatchApplier interface {
	ApplyBatch(ctx context.Context, batch alertsapp.Batch) (alertsapp.BatchResult, error)
}

// Recorder opens and seals execution records.
type Recorder interface {
	Begin(agentName string, generation uint64) *ledger.ExecutionRecord
	Seal(ctx context.Context, record *ledger.ExecutionRecord, outcome ledger.Outcome, candidates, emitted int, detail string) error
}

// OverrunHook is told when an agent's tick is skipped, with the number of consecutive skips.
type OverrunHook func(agentName string, consecutiveSkips int)

// TickResult is the outcome of one executed tick.
type TickResult struct {
	Record ledger.ExecutionRecord `json:"record"`
	Batch  alertsapp.BatchResult  `json:"batch"`
}

// AgentStatus is the scheduler's live view of one agent.
type AgentStatus struct {
	Name             string `json:"name"`
	Generation       uint64 `json:"generation"`
	InFlight         bool   `json:"in_flight"`
	ConsecutiveSkips int    `json:"consecutive_skips"`
	TotalSkips       int    `json:"total_skips"`
}

type agentState struct {
	generation uint64
	inFlight   bool
	skips      int
	totalSkips int
}

// Scheduler runs each agent on its own ticker.
type Scheduler struct {
	source  agents.MetricSource
	applier BatchApplier
	ledger  Recorder
	timeout time.Duration
	logger  *zap.Logger
	overrun OverrunHook
	onStart bool

	mu      sync.Mutex
	states  map[string]*agentState
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

// Option customizes the scheduler.
type Option func(*Scheduler)

// WithTickTimeout bounds snapshot fetch plus evaluation.
func WithTickTimeout(timeout time.Duration) Option {
	return func(s *Scheduler) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOverrunHook registers a callback for skipped ticks.
func WithOverrunHook(hook OverrunHook) Option {
	return func(s *Scheduler) {
		s.overrun = hook
	}
}

// WithRunOnStart runs every agent once as soon as it is scheduled.
func WithRunOnStart(enabled bool) Option {
	return func(s *Scheduler) {
		s.onStart = enabled
	}
}

// New constructs a scheduler.
func New(source agents.MetricSource, applier BatchApplier, recorder Recorder, opts ...Option) (*Scheduler, error) {
	if source == nil {
		return nil, errors.New("scheduler: nil metric source")
	}
	if applier == nil {
		return nil, errors.New("scheduler: nil batch applier")
	}
	if recorder == nil {
		return nil, errors.New("scheduler: nil recorder")
	}
	s := &Scheduler{
		source:  source,
		applier: applier,
		ledger:  recorder,
		timeout: defaultTickTimeout,
		logger:  zap.NewNop(),
		states:  make(map[string]*agentState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start schedules every enabled agent. It returns immediately.
func (s *Scheduler) Start(ctx context.Context, list []agents.Agent) error {
	if s == nil {
		return errors.New("scheduler: nil scheduler")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler: already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	for _, agent := range list {
		def := agent.Definition()
		if !def.Enabled {
			continue
		}
		if def.Interval() <= 0 {
			s.logger.Warn("agent has no interval, not scheduled", zap.String("agent", def.Name))
			continue
		}
		s.stateLocked(def.Name)
		s.wg.Add(1)
		go s.loop(runCtx, agent)
		s.logger.Info("agent scheduled", zap.String("agent", def.Name), zap.Duration("interval", def.Interval()))
	}
	return nil
}

// Stop cancels every loop and waits for in-flight ticks to be sealed.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// RunOnce executes a single tick synchronously. It fails with ErrTickInFlight
// when the agent is already being evaluated.
func (s *Scheduler) RunOnce(ctx context.Context, agent agents.Agent) (TickResult, error) {
	if s == nil {
		return TickResult{}, errors.New("scheduler: nil scheduler")
	}
	if agent == nil {
		return TickResult{}, errors.New("scheduler: nil agent")
	}
	name := agent.Definition().Name
	generation, ok := s.acquire(name)
	if !ok {
		return TickResult{}, fmt.Errorf("%w: %s", ErrTickInFlight, name)
	}
	defer s.release(name)
	return s.execute(ctx, agent, generation), nil
}

// Status returns the live state of every agent seen so far, sorted by name.
func (s *Scheduler) Status() []AgentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AgentStatus, 0, len(s.states))
	for name, state := range s.states {
		out = append(out, AgentStatus{
			Name:             name,
			Generation:       state.generation,
			InFlight:         state.inFlight,
			ConsecutiveSkips: state.skips,
			TotalSkips:       state.totalSkips,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) loop(ctx context.Context, agent agents.Agent) {
	defer s.wg.Done()
	def := agent.Definition()
	ticker := time.NewTicker(def.Interval())
	defer ticker.Stop()

	if s.onStart {
		s.fire(ctx, agent)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, agent)
		}
	}
}

// fire starts a tick in the background unless the previous one is still running.
func (s *Scheduler) fire(ctx context.Context, agent agents.Agent) {
	name := agent.Definition().Name
	generation, ok := s.acquire(name)
	if !ok {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(name)
		s.execute(ctx, agent, generation)
	}()
}

func (s *Scheduler) acquire(name string) (uint64, bool) {
	s.mu.Lock()
	state := s.stateLocked(name)
	if state.inFlight {
		state.skips++
		state.totalSkips++
		skips := state.skips
		hook := s.overrun
		s.mu.Unlock()

		metrics.IncTickSkipped(name)
		s.logger.Warn("tick skipped, previous evaluation still running",
			zap.String("agent", name),
			zap.Int("consecutive_skips", skips),
		)
		if hook != nil {
			hook(name, skips)
		}
		return 0, false
	}
	state.inFlight = true
	state.skips = 0
	state.generation++
	generation := state.generation
	s.mu.Unlock()
	return generation, true
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	if state, ok := s.states[name]; ok {
		state.inFlight = false
	}
	s.mu.Unlock()
}

func (s *Scheduler) stateLocked(name string) *agentState {
	state, ok := s.states[name]
	if !ok {
		state = &agentState{}
		s.states[name] = state
	}
	return state
}

func (s *Scheduler) execute(ctx context.Context, agent agents.Agent, generation uint64) TickResult {
	def := agent.Definition()
	record := s.ledger.Begin(def.Name, generation)
	logger := s.logger.With(zap.String("agent", def.Name), zap.Uint64("generation", generation))

	outcome, batch, candidates, detail := s.evaluate(ctx, agent, generation)
	// records are sealed even when the scheduler is stopping
	if err := s.ledger.Seal(context.WithoutCancel(ctx), record, outcome, candidates, batch.Emitted(), detail); err != nil {
		logger.Error("seal execution record", zap.Error(err))
	}
	metrics.ObserveTick(def.Name, string(outcome), record.Duration())

	switch outcome {
	case ledger.OutcomeSuccess:
		logger.Debug("tick complete",
			zap.Int("candidates", candidates),
			zap.Int("created", batch.Created),
			zap.Int("updated", batch.Updated),
			zap.Int("resolved", batch.Resolved),
		)
	default:
		logger.Warn("tick did not succeed", zap.String("outcome", string(outcome)), zap.String("detail", detail))
	}
	return TickResult{Record: *record, Batch: batch}
}

type evalResult struct {
	batch alertsapp.Batch
	err   error
}

// evaluate fetches and evaluates under the tick timeout, then applies the batch.
// A timed-out evaluation is abandoned; its result is never read.
func (s *Scheduler) evaluate(ctx context.Context, agent agents.Agent, generation uint64) (ledger.Outcome, alertsapp.BatchResult, int, string) {
	def := agent.Definition()
	tickCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan evalResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("agent panicked",
					zap.String("agent", def.Name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				done <- evalResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		snapshot, err := s.source.GetSnapshot(tickCtx, def.Scope)
		if err != nil {
			done <- evalResult{err: fmt.Errorf("metric snapshot: %w", err)}
			return
		}
		candidates, err := agent.Evaluate(snapshot)
		if err != nil {
			done <- evalResult{err: fmt.Errorf("evaluate: %w", err)}
			return
		}
		done <- evalResult{batch: alertsapp.Batch{
			Agent:      def.Name,
			Generation: generation,
			ObservedAt: snapshot.TakenAt,
			Candidates: candidates,
		}}
	}()

	var result evalResult
	select {
	case result = <-done:
	case <-tickCtx.Done():
		if errors.Is(tickCtx.Err(), context.DeadlineExceeded) {
			return ledger.OutcomeTimeout, alertsapp.BatchResult{}, 0, fmt.Sprintf("evaluation exceeded %s", s.timeout)
		}
		return ledger.OutcomeFailure, alertsapp.BatchResult{}, 0, "cancelled: " + tickCtx.Err().Error()
	}
	if result.err != nil {
		return ledger.OutcomeFailure, alertsapp.BatchResult{}, 0, result.err.Error()
	}

	candidates := len(result.batch.Candidates)
	batch, err := s.applier.ApplyBatch(ctx, result.batch)
	if err != nil {
		return ledger.OutcomeFailure, batch, candidates, "apply batch: " + err.Error()
	}
	return ledger.OutcomeSuccess, batch, candidates, ""
}
