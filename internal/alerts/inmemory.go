package alerts

import (
	"context"
	"sync"

	"github.com/ent0n29/guardian/internal/escalation"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]escalation.NotificationRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]escalation.NotificationRecord)}
}

func (s *InMemoryStore) Record(_ context.Context, records ...escalation.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.SessionID] = append(s.records[r.SessionID], r)
	}
	return nil
}

func (s *InMemoryStore) List(_ context.Context, sessionID string, limit int) ([]escalation.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[sessionID]
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > len(arr) {
		limit = len(arr)
	}
	out := make([]escalation.NotificationRecord, limit)
	copy(out, arr[len(arr)-limit:])
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
