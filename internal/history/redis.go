package history

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds configuration for the stream mirror.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// RedisMirror publishes every turn to a Redis stream so other processes can
// follow the conversation.
type RedisMirror struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// NewRedisMirror connects to Redis and verifies the connection.
func NewRedisMirror(cfg RedisConfig) (*RedisMirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	stream := cfg.Stream
	if stream == "" {
		stream = "notionqa:turns"
	}
	return &RedisMirror{rdb: rdb, stream: stream, maxLen: cfg.MaxLen}, nil
}

// Append implements Sink with XADD.
func (m *RedisMirror) Append(ctx context.Context, turn Turn) error {
	return m.publish(ctx, map[string]interface{}{
		"event":     "append",
		"id":        turn.ID,
		"role":      string(turn.Role),
		"content":   turn.Content,
		"timestamp": turn.Timestamp.Format(time.RFC3339Nano),
	})
}

// Clear implements Sink by publishing a clear marker; stream entries are kept.
func (m *RedisMirror) Clear(ctx context.Context) error {
	return m.publish(ctx, map[string]interface{}{"event": "clear"})
}

func (m *RedisMirror) publish(ctx context.Context, values map[string]interface{}) error {
	args := &redis.XAddArgs{
		Stream: m.stream,
		Values: values,
	}
	if m.maxLen > 0 {
		args.MaxLen = m.maxLen
		args.Approx = true
	}
	if err := m.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	return nil
}

// Recent returns the turns among the newest n stream entries that follow
// the latest clear marker, oldest first.
func (m *RedisMirror) Recent(ctx context.Context, n int64) ([]Turn, error) {
	msgs, err := m.rdb.XRevRangeN(ctx, m.stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange failed: %w", err)
	}
	return turnsFromStream(msgs), nil
}

// turnsFromStream decodes XREVRANGE output, stopping at the first clear marker.
func turnsFromStream(msgs []redis.XMessage) []Turn {
	var out []Turn
	for _, msg := range msgs {
		if msg.Values["event"] == "clear" {
			break
		}
		if msg.Values["event"] != "append" {
			continue
		}
		turn := Turn{
			ID:      streamString(msg.Values["id"]),
			Role:    Role(streamString(msg.Values["role"])),
			Content: streamString(msg.Values["content"]),
		}
		if ts, err := time.Parse(time.RFC3339Nano, streamString(msg.Values["timestamp"])); err == nil {
			turn.Timestamp = ts.UTC()
		}
		out = append(out, turn)
	}
	slices.Reverse(out)
	return out
}

func streamString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// Close closes the Redis connection.
func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}
