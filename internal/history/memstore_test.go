package history

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemStoreAppendAndRecent(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if err := s.Append(ctx, "s-1", Turn{Role: role, Content: fmt.Sprintf("msg %d", i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	turns, err := s.Recent(ctx, "s-1", 4)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("got %d turns, want 4", len(turns))
	}
	// Chronological order, newest kept.
	for i, want := range []string{"msg 2", "msg 3", "msg 4", "msg 5"} {
		if turns[i].Content != want {
			t.Errorf("turn %d = %q, want %q", i, turns[i].Content, want)
		}
	}
	if turns[0].At.IsZero() {
		t.Error("turn timestamp not set")
	}
}

func TestMemStoreUnknownSessionEmpty(t *testing.T) {
	s := NewMemStore()
	turns, err := s.Recent(context.Background(), "nope", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("got %d turns for unknown session, want 0", len(turns))
	}
}

func TestMemStoreForget(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	_ = s.Append(ctx, "s-1", Turn{Role: RoleUser, Content: "hi"})

	if err := s.Forget(ctx, "s-1"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if err := s.Forget(ctx, "s-1"); err != nil {
		t.Fatalf("Forget of unknown session: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
}

func TestMemStoreTurnCap(t *testing.T) {
	s := NewMemStore(WithMaxTurns(3))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = s.Append(ctx, "s-1", Turn{Role: RoleUser, Content: fmt.Sprintf("msg %d", i)})
	}
	turns, _ := s.Recent(ctx, "s-1", 0)
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	if turns[0].Content != "msg 7" {
		t.Errorf("oldest kept turn = %q, want msg 7", turns[0].Content)
	}
}

func TestMemStoreSessionCountEviction(t *testing.T) {
	s := NewMemStore(WithMaxSessions(2))
	now := time.Now()
	s.now = func() time.Time { now = now.Add(time.Second); return now }
	ctx := context.Background()

	_ = s.Append(ctx, "a", Turn{Role: RoleUser, Content: "1"})
	_ = s.Append(ctx, "b", Turn{Role: RoleUser, Content: "2"})
	_ = s.Append(ctx, "c", Turn{Role: RoleUser, Content: "3"})

	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	// "a" was least recently touched.
	if turns, _ := s.Recent(ctx, "a", 0); len(turns) != 0 {
		t.Error("oldest session was not evicted")
	}
	if turns, _ := s.Recent(ctx, "c", 0); len(turns) != 1 {
		t.Error("newest session missing")
	}
}

func TestMemStoreAgeEviction(t *testing.T) {
	s := NewMemStore(WithMaxSessionAge(time.Minute))
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_ = s.Append(ctx, "old", Turn{Role: RoleUser, Content: "1"})

	now = now.Add(2 * time.Minute)
	_ = s.Append(ctx, "new", Turn{Role: RoleUser, Content: "2"})

	if turns, _ := s.Recent(ctx, "old", 0); len(turns) != 0 {
		t.Error("expired session was not evicted")
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}
