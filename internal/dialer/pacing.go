package dialer

import (
	"sync"
	"time"
)

// pacingState tracks the rolling signals the non-aggressive modes need.
type pacingState struct {
	mu sync.Mutex

	// recent holds connect/no-connect outcomes of the last N attempts.
	recent []bool

	// lastDispatched is the attempt the conservative mode is waiting on.
	lastDispatched string
}

const recentWindow = 20

func (p *pacingState) recordOutcome(connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recent = append(p.recent, connected)
	if len(p.recent) > recentWindow {
		p.recent = p.recent[len(p.recent)-recentWindow:]
	}
}

// connectRate returns the fraction of recent attempts that connected.
// With no history it assumes a healthy route.
func (p *pacingState) connectRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.recent) == 0 {
		return 1.0
	}
	n := 0
	for _, c := range p.recent {
		if c {
			n++
		}
	}
	return float64(n) / float64(len(p.recent))
}

func (p *pacingState) setLastDispatched(attemptID string) {
	p.mu.Lock()
	p.lastDispatched = attemptID
	p.mu.Unlock()
}

func (p *pacingState) getLastDispatched() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastDispatched
}

const (
	moderateBaseDelay = 5 * time.Second
	moderateMinDelay  = 250 * time.Millisecond
)

// moderateDelay scales the inter-dispatch delay inversely with the recent
// connection rate: a route that mostly connects barely slows down, a route
// that mostly fails backs off toward the base delay.
func moderateDelay(connectRate float64) time.Duration {
	if connectRate < 0 {
		connectRate = 0
	}
	if connectRate > 1 {
		connectRate = 1
	}
	d := time.Duration(float64(moderateBaseDelay) * (1 - connectRate))
	if d < moderateMinDelay {
		d = moderateMinDelay
	}
	return d
}
