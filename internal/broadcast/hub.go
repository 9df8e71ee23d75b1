package broadcast

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	alerts "routewatch/internal/alerts/domain"
	"routewatch/internal/observability/metrics"
)

const defaultBufferSize = 64

// Subscription is a consistent snapshot plus the stream of events that follow it.
type Subscription struct {
	ID       uint64
	Snapshot []alerts.Alert
	// Sequence is the hub sequence the snapshot reflects; stream events carry larger values.
	Sequence uint64
	Events   <-chan Event

	hub *Hub
}

// SnapshotEvent wraps the snapshot as the first event a session sends.
func (s *Subscription) SnapshotEvent() Event {
	return Event{Kind: KindSnapshot, Sequence: s.Sequence, Alerts: s.Snapshot}
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.unsubscribe(s.ID)
}

type subscriber struct {
	id uint64
	ch chan Event
}

// Hub fans out alert lifecycle events to subscribers and keeps a mirror
// of the open-alert set for snapshots.
type Hub struct {
	mu          sync.Mutex
	open        map[string]alerts.Alert
	subscribers map[uint64]*subscriber
	sequence    uint64
	nextID      uint64
	bufferSize  int
	closed      bool
	logger      *zap.Logger
}

// Option configures the hub.
type Option func(*Hub)

// WithBufferSize sets the per-subscriber buffer.
func WithBufferSize(size int) Option {
	return func(h *Hub) {
		if size > 0 {
			h.bufferSize = size
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub constructs a hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		open:        make(map[string]alerts.Alert),
		subscribers: make(map[uint64]*subscriber),
		bufferSize:  defaultBufferSize,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Seed replaces the open-alert mirror, typically from the store at startup.
func (h *Hub) Seed(open []alerts.Alert) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.open = make(map[string]alerts.Alert, len(open))
	for _, alert := range open {
		if alert.Status.Open() {
			h.open[alert.ID] = alert
		}
	}
}

// Subscribe captures the open-alert snapshot and registers for later events atomically.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	ch := make(chan Event, h.bufferSize)
	sub := &Subscription{
		ID:       h.nextID,
		Snapshot: h.snapshotLocked(),
		Sequence: h.sequence,
		Events:   ch,
		hub:      h,
	}
	if h.closed {
		close(ch)
		return sub
	}
	h.subscribers[sub.ID] = &subscriber{id: sub.ID, ch: ch}
	metrics.SetHubSubscribers(len(h.subscribers))
	return sub
}

// Publish records a lifecycle change and fans it out. It never blocks on subscribers:
// a subscriber with a full buffer is dropped and must resubscribe.
func (h *Hub) Publish(kind Kind, alert alerts.Alert) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	if alert.Status.Open() {
		h.open[alert.ID] = alert
	} else {
		delete(h.open, alert.ID)
	}
	h.sequence++
	event := Event{Kind: kind, Sequence: h.sequence, Alerts: []alerts.Alert{alert}}
	metrics.IncHubEvent(string(kind))

	for id, sub := range h.subscribers {
		select {
		case sub.ch <- event:
		default:
			delete(h.subscribers, id)
			close(sub.ch)
			metrics.IncHubDropped()
			h.logger.Warn("dropping slow subscriber", zap.Uint64("subscriber", id), zap.Uint64("sequence", h.sequence))
		}
	}
	metrics.SetHubSubscribers(len(h.subscribers))
}

// Snapshot returns a copy of the open-alert mirror.
func (h *Hub) Snapshot() []alerts.Alert {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

// Sequence returns the last assigned sequence number.
func (h *Hub) Sequence() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sequence
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close ends every subscription; later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subscribers {
		close(sub.ch)
		delete(h.subscribers, id)
	}
	metrics.SetHubSubscribers(0)
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subscribers[id]
	if !ok {
		return
	}
	delete(h.subscribers, id)
	close(sub.ch)
	metrics.SetHubSubscribers(len(h.subscribers))
}

func (h *Hub) snapshotLocked() []alerts.Alert {
	list := make([]alerts.Alert, 0, len(h.open))
	for _, alert := range h.open {
		list = append(list, alert)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}
