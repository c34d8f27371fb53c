package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisSink publishes measurements to a Redis channel so detached consumers
// can follow the probe stream without holding an HTTP connection.
type RedisSink struct {
	client  *redis.Client
	channel string
	timeout time.Duration
	log     *slog.Logger
}

// NewRedisSink connects to Redis and verifies the connection before
// returning the sink.
func NewRedisSink(addr, password string, db int, channel string, logger *slog.Logger) (*RedisSink, error) {
	opts := &redis.Options{Addr: addr, Password: password, DB: db}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisSink{
		client:  client,
		channel: channel,
		timeout: 250 * time.Millisecond,
		log:     logger,
	}, nil
}

var _ Publisher = (*RedisSink)(nil)

// Publish sends the measurement to the configured channel. Failures are
// logged and dropped; the probe stream must not stall on Redis.
func (s *RedisSink) Publish(m Measurement) {
	payload, err := json.Marshal(m)
	if err != nil {
		s.logError("encode", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.logError("publish", err)
	}
}

// Close releases the connection.
func (s *RedisSink) Close() {
	if s.client != nil {
		_ = s.client.Close()
	}
}

func (s *RedisSink) logError(op string, err error) {
	if s.log == nil {
		return
	}
	s.log.Warn("redis sink error", "op", op, "error", err)
}
