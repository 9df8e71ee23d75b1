package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"routewatch/internal/broadcast"
	"routewatch/internal/observability/metrics"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisConfig configures the Redis pub/sub sink.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisSink publishes alert changes on a Redis pub/sub channel.
type RedisSink struct {
	client  redisPublisher
	closer  func() error
	channel string
	logger  *zap.Logger
	clock   Clock
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(cfg RedisConfig, logger *zap.Logger) (*RedisSink, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis sink: empty addr")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	sink := newRedisSink(client, cfg.Channel, logger)
	sink.closer = client.Close
	return sink, nil
}

func newRedisSink(client redisPublisher, channel string, logger *zap.Logger) *RedisSink {
	if channel == "" {
		channel = "routewatch:alerts"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSink{client: client, channel: channel, logger: logger, clock: systemClock{}}
}

// Notify implements Sink.
func (s *RedisSink) Notify(ctx context.Context, event broadcast.Event) {
	if s == nil || s.client == nil {
		return
	}
	messages, err := encodeMessages(event, s.clock.Now())
	if err != nil {
		s.logger.Error("encode redis message", zap.Error(err))
		return
	}
	for _, data := range messages {
		if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
			metrics.IncRelayDelivery("redis", metrics.ResultError)
			s.logger.Warn("redis publish failed", zap.String("channel", s.channel), zap.Error(err))
			continue
		}
		metrics.IncRelayDelivery("redis", metrics.ResultSuccess)
	}
}

// Close releases the client.
func (s *RedisSink) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}
