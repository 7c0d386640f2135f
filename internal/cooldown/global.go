package cooldown

import (
	"sync"
	"time"
)

// Global is the process-wide block flag. It clears only by expiry; a success
// does not lift it.
type Global struct {
	mu          sync.RWMutex
	activeUntil time.Time
	reason      string
	now         func() time.Time
}

// NewGlobal creates an inactive global cooldown.
func NewGlobal() *Global {
	return &Global{now: time.Now}
}

// SetClock replaces the time source. Intended for tests.
func (g *Global) SetClock(now func() time.Time) {
	g.mu.Lock()
	g.now = now
	g.mu.Unlock()
}

// Activate suppresses all attempts for d. An active cooldown is only ever extended.
func (g *Global) Activate(d time.Duration, reason string) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()

	until := g.now().Add(d)
	if until.After(g.activeUntil) {
		g.activeUntil = until
		g.reason = reason
	}
	return g.activeUntil
}

// Active reports whether the cooldown is in force and how long it has left.
func (g *Global) Active() (bool, time.Duration) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	remaining := g.activeUntil.Sub(g.now())
	if remaining <= 0 {
		return false, 0
	}
	return true, remaining
}

// Reason returns the signal that last activated the cooldown.
func (g *Global) Reason() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.reason
}
