package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"routewatch/internal/broadcast"
)

// Sink consumes alert lifecycle events outside the dashboard sessions.
type Sink interface {
	Notify(ctx context.Context, event broadcast.Event)
}

// RelayGroup runs one independent relay per sink, so a slow sink is dropped
// and resynced on its own without costing the others any deltas.
type RelayGroup struct {
	hub    Subscriber
	logger *zap.Logger
	relays []*Relay
}

// NewRelayGroup constructs an empty group over hub.
func NewRelayGroup(hub Subscriber, logger *zap.Logger) *RelayGroup {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelayGroup{hub: hub, logger: logger}
}

// Add registers a named sink.
func (g *RelayGroup) Add(name string, sink Sink) {
	if g == nil || sink == nil {
		return
	}
	g.relays = append(g.relays, NewRelay(g.hub, sink, g.logger.With(zap.String("sink", name))))
}

// Len returns the number of sinks.
func (g *RelayGroup) Len() int {
	if g == nil {
		return 0
	}
	return len(g.relays)
}

// Run blocks until ctx is done and every relay has returned.
func (g *RelayGroup) Run(ctx context.Context) {
	if g == nil {
		return
	}
	var wg sync.WaitGroup
	for _, relay := range g.relays {
		wg.Add(1)
		go func(relay *Relay) {
			defer wg.Done()
			relay.Run(ctx)
		}(relay)
	}
	wg.Wait()
}
