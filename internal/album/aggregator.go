// Package album coalesces bursts of individually delivered messages
// (media groups) into single sealed batches after a quiet period.
package album

import (
	"strconv"
	"sync"
	"time"

	"github.com/avtogeo/avtobot/internal/event"
)

// DefaultQuietPeriod is how long a group key must stay silent before
// its buffer is sealed.
const DefaultQuietPeriod = 500 * time.Millisecond

// Aggregator buffers grouped events per key and emits one batch per
// burst. Events without a group key pass through as singleton batches.
type Aggregator struct {
	quiet time.Duration
	emit  func(*event.Batch)

	mu      sync.Mutex
	pending map[string]*group
	stopped bool
}

type group struct {
	events []event.InboundEvent
	timer  *time.Timer
}

// New creates an aggregator delivering sealed batches to emit. The emit
// callback runs on a timer goroutine; callers that need per-actor
// ordering should hand the batch back to their dispatcher.
func New(quiet time.Duration, emit func(*event.Batch)) *Aggregator {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Aggregator{
		quiet:   quiet,
		emit:    emit,
		pending: make(map[string]*group),
	}
}

// Submit offers an event to the aggregator. Ungrouped events return a
// singleton batch immediately; grouped events are buffered and Submit
// returns nil, with the sealed batch delivered through emit once the
// quiet period elapses.
func (a *Aggregator) Submit(ev event.InboundEvent) *event.Batch {
	if ev.GroupKey == "" {
		return event.Singleton(ev)
	}

	key := strconv.FormatInt(ev.ActorID, 10) + ":" + ev.GroupKey

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return event.Singleton(ev)
	}

	g, ok := a.pending[key]
	if !ok {
		g = &group{}
		g.timer = time.AfterFunc(a.quiet, func() { a.seal(key) })
		a.pending[key] = g
	} else {
		g.timer.Reset(a.quiet)
	}
	g.events = append(g.events, ev)
	return nil
}

// seal removes the buffer for key and delivers it exactly once.
func (a *Aggregator) seal(key string) {
	a.mu.Lock()
	g, ok := a.pending[key]
	if ok {
		delete(a.pending, key)
	}
	a.mu.Unlock()

	if !ok || len(g.events) == 0 {
		return
	}
	a.emit(&event.Batch{Events: g.events})
}

// Pending returns the number of group keys currently buffered.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Stop cancels all outstanding timers and drops buffered events. After
// Stop, grouped events pass through as singletons.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	for key, g := range a.pending {
		g.timer.Stop()
		delete(a.pending, key)
	}
}
