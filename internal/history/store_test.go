package history

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	e, err := s.Add(ctx, Entry{Title: "Checkout Strategy", Content: "# Doc", Provider: "groq", Model: "llama-3.3-70b-versatile", Depth: "detailed", Tokens: 1200})
	if err != nil {
		t.Fatal(err)
	}
	if e.ID == "" || e.CreatedAt.IsZero() {
		t.Fatalf("id/created not assigned: %+v", e)
	}

	got, err := s.Get(ctx, e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "# Doc" {
		t.Fatalf("content: %q", got.Content)
	}

	if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err: %v", err)
	}
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := s.Add(ctx, Entry{Title: "t", CreatedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}
	list, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("len %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.After(list[i-1].CreatedAt) {
			t.Fatal("not newest first")
		}
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	s := New()
	ctx := context.Background()
	e, _ := s.Add(ctx, Entry{Title: "gone"})
	if err := s.Delete(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, e.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err: %v", err)
	}
	if _, err := s.Get(ctx, e.ID); !errors.Is(err, ErrNotFound) {
		t.Fatal("deleted entry still readable")
	}
}
