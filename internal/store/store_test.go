package store

import (
	"fmt"
	"testing"
)

func TestAppendAndList(t *testing.T) {
	st := New()
	st.AppendEvent("ABC123", "turn_started", map[string]any{"identity": "p1"})
	got := st.ListEvents("ABC123")
	if len(got) != 1 || got[0].Type != "turn_started" {
		t.Fatalf("expected one turn_started event, got %#v", got)
	}
	if len(st.ListEvents("OTHER")) != 0 {
		t.Fatalf("expected rooms to be isolated")
	}
}

func TestAppendTruncates(t *testing.T) {
	st := New()
	for i := 0; i < maxEvents+25; i++ {
		st.AppendEvent("ABC123", fmt.Sprintf("e%d", i), nil)
	}
	got := st.ListEvents("ABC123")
	if len(got) != maxEvents {
		t.Fatalf("expected %d events, got %d", maxEvents, len(got))
	}
	if got[len(got)-1].Type != "events_truncated" {
		t.Fatalf("expected trailing truncation marker, got %q", got[len(got)-1].Type)
	}
}

func TestForget(t *testing.T) {
	st := New()
	st.AppendEvent("ABC123", "room_spawned", nil)
	st.Forget("ABC123")
	if len(st.ListEvents("ABC123")) != 0 {
		t.Fatalf("expected journal to be dropped")
	}
}
