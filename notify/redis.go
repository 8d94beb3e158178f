package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"boardportal/resolution"
)

const DefaultStream = "board:resolutions:notifications"

// RedisStream publishes notifications to a Redis stream with XADD. Consumers
// (mailers, chat bridges) read the stream with their own consumer groups.
type RedisStream struct {
	client *redis.Client
	stream string
}

func NewRedisStream(client *redis.Client, stream string) *RedisStream {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStream{client: client, stream: stream}
}

// NewRedisClient builds the go-redis client used by RedisStream.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (s *RedisStream) Notify(ctx context.Context, n resolution.Notification) error {
	recipients, err := json.Marshal(n.Recipients)
	if err != nil {
		return fmt.Errorf("notify: encode recipients: %w", err)
	}
	at := n.At
	if at.IsZero() {
		at = time.Now()
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"kind":          string(n.Kind),
			"resolution_id": n.ResolutionID,
			"message":       n.Message,
			"urgent":        strconv.FormatBool(n.Urgent),
			"recipients":    string(recipients),
			"at":            at.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("notify: xadd %s: %w", s.stream, err)
	}
	return nil
}

// Ping verifies the Redis connection.
func (s *RedisStream) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStream) Close() error {
	return s.client.Close()
}
