package alerts

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/guardian/internal/escalation"
)

func record(session, label string) escalation.NotificationRecord {
	return escalation.NotificationRecord{
		ID:           session + "-" + label,
		SessionID:    session,
		At:           time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		ContactLabel: label,
		Address:      "+1-000",
		Text:         "alert",
	}
}

func TestInMemoryStoreRecordAndList(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, record("s1", "Mom"), record("s1", "Dad"), record("s2", "Mom")))

	got, err := s.List(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Mom", got[0].ContactLabel)
	assert.Equal(t, "Dad", got[1].ContactLabel)

	got, err = s.List(ctx, "s1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Dad", got[0].ContactLabel)

	got, err = s.List(ctx, "missing", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestInMemoryStoreListCopies(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Record(ctx, record("s1", fmt.Sprintf("c%d", i))))
	}
	got, _ := s.List(ctx, "s1", 10)
	got[0].Text = "mutated"
	again, _ := s.List(ctx, "s1", 10)
	assert.Equal(t, "alert", again[0].Text)
}

func TestNewStoreWithoutURLIsInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "")
	require.NoError(t, err)
	assert.IsType(t, &InMemoryStore{}, s)
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not-a-redis-url")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis options")
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "guardian:alerts:abc", sessionKey("abc"))
}
