// Package alerts records every simulated emergency notification so a
// session's alert trail can be reviewed after the fact.
package alerts

import (
	"context"
	"strings"

	"github.com/ent0n29/guardian/internal/escalation"
)

// Store is an append-only alert log keyed by session.
type Store interface {
	Record(ctx context.Context, records ...escalation.NotificationRecord) error
	List(ctx context.Context, sessionID string, limit int) ([]escalation.NotificationRecord, error)
	Close() error
}

const defaultListLimit = 50

// NewStore returns a Redis-backed log when redisURL is set, otherwise an
// in-process one.
func NewStore(ctx context.Context, redisURL string) (Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewRedisStore(ctx, redisURL)
}
