// Package worker paces per-player tick work. The processor's tick must be
// idempotent with respect to a wall-clock interval, so the pacer guarantees
// each registered player sees every interval exactly once.
package worker

import (
	"sync"
	"time"
)

// Pacer tracks the last tick instant per player and hands out the elapsed
// delta since then. The first call for a player arms the clock and returns
// zero so a freshly registered player is never ticked for time it spent
// unregistered.
type Pacer struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewPacer creates an empty pacer.
func NewPacer() *Pacer {
	return &Pacer{last: make(map[string]time.Time), now: time.Now}
}

// Elapsed returns the wall-clock time since the previous call for this player
// and advances the mark. Two concurrent callers can never receive the same
// interval twice.
func (p *Pacer) Elapsed(playerID string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	prev, ok := p.last[playerID]
	p.last[playerID] = now
	if !ok {
		return 0
	}
	d := now.Sub(prev)
	if d < 0 {
		return 0
	}
	return d
}

// Forget drops the player's mark. The next Elapsed call re-arms at zero.
func (p *Pacer) Forget(playerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.last, playerID)
}

// SetClock overrides the time source. Intended for tests.
func (p *Pacer) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}
