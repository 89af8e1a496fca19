package dialer

import (
	"fmt"
	"sync"
)

// Line is a virtual concurrent call slot. At most one active attempt per
// line; the pool bounds session-wide parallelism.
type Line struct {
	LineID    string
	SessionID string
	AttemptID string
	busy      bool
}

// LinePool guards "find a free line and take it" as one atomic step so two
// dispatches cannot race onto the same slot. All methods are safe for
// concurrent use.
type LinePool struct {
	mu    sync.Mutex
	lines []*Line
}

func NewLinePool(sessionID string, size int) *LinePool {
	p := &LinePool{}
	for i := 0; i < size; i++ {
		p.lines = append(p.lines, &Line{
			LineID:    fmt.Sprintf("%s-line-%d", sessionID, i+1),
			SessionID: sessionID,
		})
	}
	return p
}

// Reserve takes a free line without binding an attempt yet. Returns false
// when every line is busy.
func (p *LinePool) Reserve() (*Line, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.lines {
		if !l.busy {
			l.busy = true
			l.AttemptID = ""
			return l, true
		}
	}
	return nil, false
}

// Bind attaches a dispatched attempt to a reserved line.
func (p *LinePool) Bind(lineID, attemptID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.lines {
		if l.LineID == lineID {
			l.AttemptID = attemptID
			return
		}
	}
}

// Release frees a line by id. Used when a reservation never became a call.
func (p *LinePool) Release(lineID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.lines {
		if l.LineID == lineID {
			l.busy = false
			l.AttemptID = ""
			return
		}
	}
}

// ReleaseByAttempt frees the line bound to an attempt, if any. Terminal
// webhooks arrive more than once; releasing an already-free line is a no-op.
func (p *LinePool) ReleaseByAttempt(attemptID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.lines {
		if l.busy && l.AttemptID == attemptID {
			l.busy = false
			l.AttemptID = ""
			return true
		}
	}
	return false
}

// BusyCount reports how many lines are currently reserved or bound.
func (p *LinePool) BusyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, l := range p.lines {
		if l.busy {
			n++
		}
	}
	return n
}

// FreeCount reports how many lines are available.
func (p *LinePool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, l := range p.lines {
		if !l.busy {
			n++
		}
	}
	return n
}
