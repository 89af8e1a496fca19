package dialer

import (
	"testing"
	"time"
)

func TestConnectRateWindow(t *testing.T) {
	var p pacingState
	if r := p.connectRate(); r != 1.0 {
		t.Fatalf("empty history should assume a healthy route, got %v", r)
	}

	for i := 0; i < 10; i++ {
		p.recordOutcome(false)
	}
	for i := 0; i < 10; i++ {
		p.recordOutcome(true)
	}
	if r := p.connectRate(); r != 0.5 {
		t.Fatalf("expected 0.5, got %v", r)
	}

	// Push the failures out of the window.
	for i := 0; i < recentWindow; i++ {
		p.recordOutcome(true)
	}
	if r := p.connectRate(); r != 1.0 {
		t.Fatalf("old outcomes should age out, got %v", r)
	}
}

func TestModerateDelayScalesWithConnectRate(t *testing.T) {
	if d := moderateDelay(1.0); d != moderateMinDelay {
		t.Fatalf("healthy route should use the floor delay, got %v", d)
	}
	if d := moderateDelay(0.0); d != moderateBaseDelay {
		t.Fatalf("dead route should back off to base, got %v", d)
	}
	if d := moderateDelay(0.5); d != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s at 50%% connect rate, got %v", d)
	}
	if d := moderateDelay(-3); d != moderateBaseDelay {
		t.Fatalf("rate below 0 should clamp, got %v", d)
	}
	if d := moderateDelay(7); d != moderateMinDelay {
		t.Fatalf("rate above 1 should clamp, got %v", d)
	}
}
