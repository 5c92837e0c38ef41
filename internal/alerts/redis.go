package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ent0n29/guardian/internal/escalation"
)

const (
	keyPrefix = "guardian:alerts:"
	keyTTL    = 30 * 24 * time.Hour
)

// RedisStore keeps one JSON list per session.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis options: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func sessionKey(sessionID string) string { return keyPrefix + sessionID }

func (s *RedisStore) Record(ctx context.Context, records ...escalation.NotificationRecord) error {
	if len(records) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	touched := make(map[string]struct{}, 1)
	for _, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal alert: %w", err)
		}
		key := sessionKey(r.SessionID)
		pipe.RPush(ctx, key, raw)
		touched[key] = struct{}{}
	}
	for key := range touched {
		pipe.Expire(ctx, key, keyTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record alerts: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, sessionID string, limit int) ([]escalation.NotificationRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	raw, err := s.client.LRange(ctx, sessionKey(sessionID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	out := make([]escalation.NotificationRecord, 0, len(raw))
	for _, item := range raw {
		var r escalation.NotificationRecord
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, fmt.Errorf("decode alert: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error { return s.client.Close() }
