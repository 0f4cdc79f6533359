// Package dispatch serializes event handling per actor: two events for
// the same actor never run concurrently, while distinct actors proceed
// in parallel. Workers exist only while an actor has queued work.
package dispatch

import (
	"context"
	"log"
	"sync"

	"github.com/avtogeo/avtobot/internal/event"
)

// Handler processes one inbound event.
type Handler func(ctx context.Context, ev event.InboundEvent)

// PanicHandler is called when a handler panics; the dispatcher keeps
// running. Typical use clears the actor's conversation state so the
// actor is not wedged.
type PanicHandler func(actorID int64, recovered any)

// Dispatcher routes events into per-actor FIFO queues, each drained by
// at most one goroutine at a time.
type Dispatcher struct {
	ctx     context.Context
	handler Handler
	onPanic PanicHandler

	mu     sync.Mutex
	queues map[int64][]event.InboundEvent
	wg     sync.WaitGroup
}

// New creates a dispatcher. ctx bounds every handler invocation.
func New(ctx context.Context, handler Handler) *Dispatcher {
	return &Dispatcher{
		ctx:     ctx,
		handler: handler,
		queues:  make(map[int64][]event.InboundEvent),
	}
}

// SetPanicHandler installs the recovery hook. Must be called before the
// first Submit.
func (d *Dispatcher) SetPanicHandler(h PanicHandler) {
	d.onPanic = h
}

// Submit enqueues an event for its actor, starting a drain worker if
// none is running. Submit never blocks.
func (d *Dispatcher) Submit(ev event.InboundEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, running := d.queues[ev.ActorID]
	d.queues[ev.ActorID] = append(q, ev)
	if !running {
		d.wg.Add(1)
		go d.drain(ev.ActorID)
	}
}

// drain pops and handles the actor's queue until it is empty, then
// removes itself. Presence of the map entry marks a live worker, so a
// concurrent Submit either finds the queue and appends, or finds
// nothing and starts a fresh worker.
func (d *Dispatcher) drain(actorID int64) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[actorID]
		if len(q) == 0 {
			delete(d.queues, actorID)
			d.mu.Unlock()
			return
		}
		ev := q[0]
		d.queues[actorID] = q[1:]
		d.mu.Unlock()

		d.handle(ev)
	}
}

func (d *Dispatcher) handle(ev event.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("dispatch: handler panic for actor %d: %v", ev.ActorID, r)
			if d.onPanic != nil {
				d.onPanic(ev.ActorID, r)
			}
		}
	}()
	d.handler(d.ctx, ev)
}

// Wait blocks until every queued event has been handled. Intended for
// shutdown and tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
