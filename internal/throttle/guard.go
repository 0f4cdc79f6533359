// Package throttle provides a per-(actor, content) debounce used to
// suppress duplicate triggers within a short window.
package throttle

import (
	"strconv"
	"sync"
	"time"
)

// DefaultWindow is the debounce window applied to repeated commands.
const DefaultWindow = 2 * time.Second

// Guard remembers recent (actor, content) pairs and rejects repeats
// inside the window. Expired entries are pruned lazily.
type Guard struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewGuard creates a guard with the given debounce window.
func NewGuard(window time.Duration) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Guard{
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// Allow reports whether the (actor, content) pair may proceed. The
// first call inside a window returns true and arms the window; repeats
// return false until it expires.
func (g *Guard) Allow(actorID int64, content string) bool {
	key := strconv.FormatInt(actorID, 10) + ":" + content
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if until, ok := g.seen[key]; ok && now.Before(until) {
		return false
	}
	g.seen[key] = now.Add(g.window)
	g.prune(now)
	return true
}

// prune drops expired entries. Caller holds g.mu.
func (g *Guard) prune(now time.Time) {
	if len(g.seen) < 1024 {
		return
	}
	for k, until := range g.seen {
		if now.After(until) {
			delete(g.seen, k)
		}
	}
}
