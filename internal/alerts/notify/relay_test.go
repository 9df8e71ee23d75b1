package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alerts "routewatch/internal/alerts/domain"
	"routewatch/internal/broadcast"
)

type collectingSink struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (c *collectingSink) Notify(_ context.Context, event broadcast.Event) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func (c *collectingSink) sequences() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.Sequence)
	}
	return out
}

func TestRelayForwardsDeltasAndResubscribes(t *testing.T) {
	hub := broadcast.NewHub(broadcast.WithBufferSize(1))
	sink := &collectingSink{}
	relay := NewRelay(hub, sink, nil)
	relay.backoff = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	hub.Publish(broadcast.KindCreated, sampleAlert("alert-1", at))
	require.Eventually(t, func() bool { return len(sink.sequences()) == 1 }, time.Second, 5*time.Millisecond)

	// a burst larger than the buffer may get the relay dropped
	for i := 0; i < 50; i++ {
		hub.Publish(broadcast.KindUpdated, sampleAlert("alert-1", at))
	}
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(broadcast.KindResolved, sampleAlert("alert-1", at))
	require.Eventually(t, func() bool {
		seqs := sink.sequences()
		return len(seqs) > 0 && seqs[len(seqs)-1] == 52
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func (c *collectingSink) snapshot() []broadcast.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]broadcast.Event(nil), c.events...)
}

// gatedSink blocks on its first delta until released.
type gatedSink struct {
	collectingSink
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedSink() *gatedSink {
	return &gatedSink{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedSink) Notify(ctx context.Context, event broadcast.Event) {
	g.collectingSink.Notify(ctx, event)
	first := false
	g.once.Do(func() { first = true })
	if !first {
		return
	}
	close(g.entered)
	select {
	case <-g.release:
	case <-ctx.Done():
	}
}

func TestRelayGroupResyncsDroppedSinkWithoutStallingOthers(t *testing.T) {
	hub := broadcast.NewHub(broadcast.WithBufferSize(1))
	slow := newGatedSink()
	fast := &collectingSink{}
	group := NewRelayGroup(hub, nil)
	group.Add("webhook", slow)
	group.Add("nats", fast)
	require.Equal(t, 2, group.Len())
	for _, relay := range group.relays {
		relay.backoff = 5 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		group.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 2 }, time.Second, 5*time.Millisecond)

	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	hub.Publish(broadcast.KindCreated, sampleAlert("alert-1", at))
	<-slow.entered
	require.Eventually(t, func() bool { return len(fast.sequences()) == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(broadcast.KindCreated, sampleAlert("alert-2", at))
	require.Eventually(t, func() bool { return len(fast.sequences()) == 2 }, time.Second, 5*time.Millisecond)
	hub.Publish(broadcast.KindCreated, sampleAlert("alert-3", at))
	require.Eventually(t, func() bool { return len(fast.sequences()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.SubscriberCount(), "blocked sink should be dropped")

	resolved := sampleAlert("alert-1", at)
	require.NoError(t, resolved.Resolve(alerts.ResolvedByAuto, at.Add(time.Minute)))
	hub.Publish(broadcast.KindResolved, resolved)
	require.Eventually(t, func() bool { return len(fast.sequences()) == 4 }, time.Second, 5*time.Millisecond)

	close(slow.release)
	require.Eventually(t, func() bool {
		for _, event := range slow.snapshot() {
			if event.Kind == broadcast.KindSnapshot {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	var resync broadcast.Event
	for _, event := range slow.snapshot() {
		if event.Kind == broadcast.KindSnapshot {
			resync = event
		}
	}
	assert.Equal(t, uint64(4), resync.Sequence)
	ids := make([]string, 0, len(resync.Alerts))
	for _, alert := range resync.Alerts {
		ids = append(ids, alert.ID)
	}
	assert.ElementsMatch(t, []string{"alert-2", "alert-3"}, ids)
	assert.Equal(t, []uint64{1, 2, 3, 4}, fast.sequences())
	for _, event := range fast.snapshot() {
		assert.NotEqual(t, broadcast.KindSnapshot, event.Kind)
	}
	require.Eventually(t, func() bool { return hub.SubscriberCount() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

type fakeNATS struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func TestNATSSinkPublishesPerAlert(t *testing.T) {
	conn := &fakeNATS{}
	sink := newNATSSink(conn, "ops.alerts", nil)
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	sink.Notify(context.Background(), broadcast.Event{
		Kind:     broadcast.KindCreated,
		Sequence: 7,
		Alerts:   []alerts.Alert{sampleAlert("alert-1", at), sampleAlert("alert-2", at)},
	})

	require.Len(t, conn.payloads, 2)
	assert.Equal(t, "ops.alerts.created", conn.subjects[0])
	var msg Message
	require.NoError(t, json.Unmarshal(conn.payloads[1], &msg))
	assert.Equal(t, uint64(7), msg.Sequence)
	assert.Equal(t, "alert-2", msg.Alert.ID)
	assert.Equal(t, "competitive/LGW-BCN/price_drop", msg.Alert.FingerprintKey)

	sink.Notify(context.Background(), broadcast.Event{Kind: broadcast.KindSnapshot, Sequence: 9})
	require.Len(t, conn.payloads, 3)
	assert.Equal(t, "ops.alerts.snapshot", conn.subjects[2])
	var resync Resync
	require.NoError(t, json.Unmarshal(conn.payloads[2], &resync))
	assert.Equal(t, uint64(9), resync.Sequence)
	assert.NotNil(t, resync.Alerts)
	assert.Empty(t, resync.Alerts)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Notify(ctx, created(sampleAlert("alert-3", at)))
	assert.Len(t, conn.payloads, 3)

	conn.err = errors.New("connection closed")
	sink.Notify(context.Background(), broadcast.Event{Kind: broadcast.KindResolved, Alerts: []alerts.Alert{sampleAlert("alert-1", at)}})
	assert.Len(t, conn.payloads, 3)
}

type fakeRedis struct {
	channels []string
	messages []interface{}
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channels = append(f.channels, channel)
	f.messages = append(f.messages, message)
	cmd := redis.NewIntCmd(ctx, "publish", channel, message)
	cmd.SetVal(1)
	return cmd
}

func TestRedisSinkPublishesOnChannel(t *testing.T) {
	client := &fakeRedis{}
	sink := newRedisSink(client, "", nil)
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	sink.Notify(context.Background(), broadcast.Event{Kind: broadcast.KindUpdated, Sequence: 3, Alerts: []alerts.Alert{sampleAlert("alert-1", at)}})

	require.Len(t, client.messages, 1)
	assert.Equal(t, "routewatch:alerts", client.channels[0])
	data, ok := client.messages[0].([]byte)
	require.True(t, ok)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, broadcast.KindUpdated, msg.Kind)
	assert.NoError(t, sink.Close())
}
