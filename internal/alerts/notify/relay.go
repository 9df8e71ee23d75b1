package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"routewatch/internal/broadcast"
)

// Subscriber hands out hub subscriptions.
type Subscriber interface {
	Subscribe() *broadcast.Subscription
}

// Relay pumps hub deltas into a sink and resubscribes when the hub drops it.
// After a drop the sink receives the new subscription's snapshot so it can
// replace its state before deltas resume.
type Relay struct {
	hub     Subscriber
	sink    Sink
	logger  *zap.Logger
	backoff time.Duration
}

// NewRelay constructs a relay.
func NewRelay(hub Subscriber, sink Sink, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{hub: hub, sink: sink, logger: logger, backoff: 100 * time.Millisecond}
}

// Run blocks until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	if r == nil || r.hub == nil || r.sink == nil {
		return
	}
	resync := false
	for {
		sub := r.hub.Subscribe()
		last := sub.Sequence
		if resync {
			r.sink.Notify(ctx, sub.SnapshotEvent())
		}
		closed := r.pump(ctx, sub, &last)
		sub.Close()
		if !closed {
			return
		}
		resync = true
		r.logger.Warn("relay dropped by hub, resubscribing", zap.Uint64("last_sequence", last))
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.backoff):
		}
	}
}

// pump returns true when the subscription channel was closed by the hub.
func (r *Relay) pump(ctx context.Context, sub *broadcast.Subscription, last *uint64) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-sub.Events:
			if !ok {
				return ctx.Err() == nil
			}
			*last = event.Sequence
			r.sink.Notify(ctx, event)
		}
	}
}
