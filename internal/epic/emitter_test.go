package epic

import (
	"testing"
	"time"
)

func TestEmitterDeliversInOrder(t *testing.T) {
	em := NewEmitter(8)
	em.Emit(Event{Type: EventEpicRegistered, EpicID: "E1"})
	em.Emit(Event{Type: EventSubTaskStarted, EpicID: "E1", SubTaskID: "A"})
	em.Close()

	var got []EventType
	for ev := range em.Events() {
		got = append(got, ev.Type)
	}
	want := []EventType{EventEpicRegistered, EventSubTaskStarted}
	if len(got) != len(want) {
		t.Fatalf("received %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestEmitterDropsWhenFull(t *testing.T) {
	em := NewEmitter(1)
	em.Emit(Event{Type: EventEpicRegistered})

	// No receiver: the buffer is full, so this emit must drop after the
	// grace period rather than block forever.
	done := make(chan struct{})
	go func() {
		em.Emit(Event{Type: EventSubTaskStarted})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full channel")
	}

	if got := em.DroppedCount(); got != 1 {
		t.Errorf("DroppedCount = %d, want 1", got)
	}
}
