package eventsink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisOptions struct {
	Addr   string
	Stream string
	// MaxLen trims the stream approximately; zero keeps everything.
	MaxLen int64
}

// RedisStreamSink appends records to a Redis stream with XADD.
type RedisStreamSink struct {
	client redis.Cmdable
	closer func() error
	stream string
	maxLen int64
}

// DialRedis connects to addr and verifies the connection with PING.
func DialRedis(ctx context.Context, opts RedisOptions) (*RedisStreamSink, error) {
	client := redis.NewClient(&redis.Options{Addr: opts.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	sink := NewRedisStreamSink(client, opts.Stream, opts.MaxLen)
	sink.closer = client.Close
	return sink, nil
}

func NewRedisStreamSink(client redis.Cmdable, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Emit(ctx context.Context, record Record) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"type":       string(record.Type),
			"session_id": string(record.SessionID),
			"payload":    string(record.Payload),
			"ts":         record.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// Close closes the client when the sink dialed it itself.
func (s *RedisStreamSink) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
