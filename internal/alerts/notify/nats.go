package notify

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"routewatch/internal/broadcast"
	"routewatch/internal/observability/metrics"
)

type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes alert changes on "<subject>.<kind>".
type NATSSink struct {
	conn    natsPublisher
	closer  func()
	subject string
	logger  *zap.Logger
	clock   Clock
}

// NewNATSSink connects to NATS and publishes under subject.
func NewNATSSink(url, subject string, logger *zap.Logger) (*NATSSink, error) {
	if url == "" {
		return nil, errors.New("nats sink: empty url")
	}
	conn, err := nats.Connect(url, nats.Name("routewatch-alerts"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	sink := newNATSSink(conn, subject, logger)
	sink.closer = func() {
		_ = conn.Drain()
		conn.Close()
	}
	return sink, nil
}

func newNATSSink(conn natsPublisher, subject string, logger *zap.Logger) *NATSSink {
	if subject == "" {
		subject = "routewatch.alerts"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSink{conn: conn, subject: subject, logger: logger, clock: systemClock{}}
}

// Notify implements Sink.
func (s *NATSSink) Notify(ctx context.Context, event broadcast.Event) {
	if s == nil || s.conn == nil {
		return
	}
	messages, err := encodeMessages(event, s.clock.Now())
	if err != nil {
		s.logger.Error("encode nats message", zap.Error(err))
		return
	}
	subject := s.subject + "." + string(event.Kind)
	for i, data := range messages {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("nats publish abandoned", zap.String("subject", subject), zap.Int("pending", len(messages)-i), zap.Error(err))
			return
		}
		if err := s.conn.Publish(subject, data); err != nil {
			metrics.IncRelayDelivery("nats", metrics.ResultError)
			s.logger.Warn("nats publish failed", zap.String("subject", subject), zap.Error(err))
			continue
		}
		metrics.IncRelayDelivery("nats", metrics.ResultSuccess)
	}
}

// Close drains the connection.
func (s *NATSSink) Close() {
	if s != nil && s.closer != nil {
		s.closer()
	}
}
