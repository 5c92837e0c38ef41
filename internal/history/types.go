// Package history keeps the append-only conversation log of every session:
// user and guardian turns plus confirmation audit lines. It is separate from
// the bounded model context and is never summarized.
package history

import (
	"context"
	"strings"
	"time"
)

// Entry is one persisted conversation line.
type Entry struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store appends entries and lists the most recent ones of a session in
// chronological order.
type Store interface {
	Append(ctx context.Context, entry Entry) (Entry, error)
	List(ctx context.Context, sessionID string, limit int) ([]Entry, error)
	Close() error
}

const defaultListLimit = 100

// NewStore opens the PostgreSQL log when databaseURL is set and falls back to
// an in-process log otherwise.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
