package history

import (
	"context"
	"fmt"
	"testing"
)

func TestInMemoryStoreAppendFillsDefaults(t *testing.T) {
	s := NewInMemoryStore()
	got, err := s.Append(context.Background(), Entry{SessionID: "s1", Role: "user", Content: "hi"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if got.ID == "" {
		t.Fatalf("ID is empty")
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt is zero")
	}
}

func TestInMemoryStoreListReturnsMostRecentChronological(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, Entry{SessionID: "s1", Role: "user", Content: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if _, err := s.Append(ctx, Entry{SessionID: "other", Content: "x"}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := s.List(ctx, "s1", 3)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(List) = %d, want 3", len(got))
	}
	for i, want := range []string{"m2", "m3", "m4"} {
		if got[i].Content != want {
			t.Fatalf("List()[%d] = %q, want %q", i, got[i].Content, want)
		}
	}

	all, _ := s.List(ctx, "s1", 0)
	if len(all) != 5 {
		t.Fatalf("len(List all) = %d, want 5", len(all))
	}
}

func TestInMemoryStoreListUnknownSession(t *testing.T) {
	got, err := NewInMemoryStore().List(context.Background(), "missing", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len(List) = %d, want 0", len(got))
	}
}

func TestNewStoreDefaultsToInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore() = %T, want *InMemoryStore", s)
	}
}
