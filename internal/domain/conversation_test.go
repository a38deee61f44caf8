package domain

import (
	"slices"
	"testing"
	"time"
)

func TestAggregate(t *testing.T) {
	count, last := Aggregate(nil)
	if count != 0 || last != nil {
		t.Errorf("Aggregate(nil) = %d, %v", count, last)
	}

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "a", Timestamp: t0.Add(2 * time.Minute)},
		{ID: "b", Timestamp: t0},
		{ID: "c", Timestamp: t0.Add(time.Minute)},
	}
	count, last = Aggregate(msgs)
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
	if last == nil {
		t.Fatal("last is nil")
	}
	if want := t0.Add(2 * time.Minute); !last.Equal(want) {
		t.Errorf("last = %v, want %v", *last, want)
	}
}

func ids[T any](items []T, id func(T) string) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = id(it)
	}
	return out
}

func TestSortByActivity(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	later := t0.Add(time.Hour)
	convs := []Conversation{
		{ID: "01A", UpdatedAt: t0},
		{ID: "01B", UpdatedAt: t0, LastMessageAt: &later},
		{ID: "01C", UpdatedAt: t0},
	}
	SortByActivity(convs)
	// Most recent first; equal activity falls back to the newer ID.
	got := ids(convs, func(c Conversation) string { return c.ID })
	if want := []string{"01B", "01C", "01A"}; !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestSortByTimestamp(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "03", Timestamp: t0.Add(time.Second)},
		{ID: "02", Timestamp: t0},
		{ID: "01", Timestamp: t0},
	}
	SortByTimestamp(msgs)
	got := ids(msgs, func(m Message) string { return m.ID })
	if want := []string{"01", "02", "03"}; !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestNewIDIsMonotonic(t *testing.T) {
	now := time.Now()
	prev := NewID(now)
	for range 100 {
		id := NewID(now)
		if len(id) != 26 {
			t.Fatalf("id %q has length %d, want 26", id, len(id))
		}
		if id <= prev {
			t.Fatalf("id %q not greater than %q", id, prev)
		}
		prev = id
	}
}
