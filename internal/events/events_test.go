package events

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPublishReachesSubscribers(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Emit(Thought, "s1", "r1", map[string]any{"thought": "hello"})

	select {
	case evt := <-ch:
		if evt.Kind != Thought {
			t.Errorf("kind = %q, want thought", evt.Kind)
		}
		if evt.ReasoningID != "r1" {
			t.Errorf("reasoning_id = %q, want r1", evt.ReasoningID)
		}
		if evt.Timestamp.IsZero() {
			t.Error("expected timestamp to be set")
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := NewHub(zap.NewNop())
	_, cancel := hub.Subscribe()
	defer cancel()

	// Overflow the subscriber buffer; Publish must not stall.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			hub.Emit(Thought, "s1", "", nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on full subscriber")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ch, cancel := hub.Subscribe()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after cancel")
	}
	// Publishing after cancel must not panic.
	hub.Emit(SessionEnded, "s1", "", nil)
}
