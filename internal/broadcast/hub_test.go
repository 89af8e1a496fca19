package broadcast

import (
	"fmt"
	"testing"
	"time"

	"dialer-platform/internal/attempt"
)

func TestPublish_DeliversToUserSubscribersOnly(t *testing.T) {
	h := NewHub()
	ch1, cancel1 := h.Subscribe("u1")
	defer cancel1()
	ch2, cancel2 := h.Subscribe("u2")
	defer cancel2()

	h.Publish("u1", attempt.Update{AttemptID: "a1", State: attempt.StateRinging})

	select {
	case u := <-ch1:
		if u.AttemptID != "a1" {
			t.Fatalf("unexpected update %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected delivery to u1")
	}
	select {
	case u := <-ch2:
		t.Fatalf("unexpected cross-user delivery %+v", u)
	default:
	}
}

func TestPublish_NonBlockingWithSlowSubscriber(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("u1")
	defer cancel()

	// Nobody reads; fill the buffer and keep going.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			h.Publish("u1", attempt.Update{AttemptID: fmt.Sprintf("a%d", i), State: attempt.StateRinging})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a slow subscriber")
	}

	// Drain; at least one delivered update after the overflow must carry
	// the gap marker.
	n := 0
	for {
		select {
		case <-ch:
			n++
			continue
		default:
		}
		break
	}
	if n != subscriberBuffer {
		t.Fatalf("expected full buffer of %d, got %d", subscriberBuffer, n)
	}

	h.Publish("u1", attempt.Update{AttemptID: "after", State: attempt.StateCompleted})
	u := <-ch
	if !u.Gap {
		t.Fatalf("expected gap marker after dropped updates")
	}
}

func TestPublish_PerAttemptOrderPreserved(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe("u1")
	defer cancel()

	states := []attempt.State{attempt.StateInitiated, attempt.StateRinging, attempt.StateInProgress, attempt.StateCompleted}
	for _, s := range states {
		h.Publish("u1", attempt.Update{AttemptID: "a1", State: s})
	}
	for i, want := range states {
		u := <-ch
		if u.State != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, u.State)
		}
	}
}

func TestCancel_Idempotent(t *testing.T) {
	h := NewHub()
	_, cancel := h.Subscribe("u1")
	cancel()
	cancel() // second call must not panic or double-close

	if h.SubscriberCount("u1") != 0 {
		t.Fatalf("expected no subscribers")
	}
}
