package dialer

import (
	"sync"
	"testing"
)

func TestLinePoolReserveIsAtomic(t *testing.T) {
	p := NewLinePool("s1", 3)

	var mu sync.Mutex
	var got []*Line
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l, ok := p.Reserve(); ok {
				mu.Lock()
				got = append(got, l)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(got) != 3 {
		t.Fatalf("expected exactly 3 reservations, got %d", len(got))
	}
	seen := map[string]bool{}
	for _, l := range got {
		if seen[l.LineID] {
			t.Fatalf("line %s handed out twice", l.LineID)
		}
		seen[l.LineID] = true
	}
	if p.FreeCount() != 0 {
		t.Fatalf("expected no free lines, got %d", p.FreeCount())
	}
}

func TestLinePoolReleaseByAttemptIdempotent(t *testing.T) {
	p := NewLinePool("s1", 2)
	l, ok := p.Reserve()
	if !ok {
		t.Fatalf("reserve failed")
	}
	p.Bind(l.LineID, "at1")

	if !p.ReleaseByAttempt("at1") {
		t.Fatalf("first release should report true")
	}
	if p.ReleaseByAttempt("at1") {
		t.Fatalf("second release should be a no-op")
	}
	if p.FreeCount() != 2 {
		t.Fatalf("expected 2 free lines, got %d", p.FreeCount())
	}
}

func TestLinePoolReleaseUnboundReservation(t *testing.T) {
	p := NewLinePool("s1", 1)
	l, _ := p.Reserve()
	if _, ok := p.Reserve(); ok {
		t.Fatalf("second reserve should fail")
	}
	p.Release(l.LineID)
	if _, ok := p.Reserve(); !ok {
		t.Fatalf("line should be reusable after release")
	}
}
