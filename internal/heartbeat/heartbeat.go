// Package heartbeat periodically records process liveness so external
// monitoring can tell a healthy bot from a wedged one.
package heartbeat

import (
	"context"
	"log"
	"time"
)

const (
	// Period is how often the heartbeat is refreshed.
	Period = 10 * time.Second
	// TTL is how long a recorded heartbeat counts as fresh. Missing two
	// consecutive beats marks the process stale.
	TTL = 30 * time.Second
)

// Sink persists the heartbeat timestamp.
type Sink interface {
	SetHeartbeat(ctx context.Context, at time.Time) error
}

// Beater refreshes the heartbeat on a fixed period.
type Beater struct {
	sink   Sink
	period time.Duration
	now    func() time.Time
}

// New creates a beater with the default period.
func New(sink Sink) *Beater {
	return &Beater{sink: sink, period: Period, now: time.Now}
}

// Run beats immediately and then on every period tick until the
// context is cancelled. A failed beat is logged and retried on the
// next tick.
func (b *Beater) Run(ctx context.Context) {
	b.beat(ctx)
	ticker := time.NewTicker(b.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.beat(ctx)
		}
	}
}

func (b *Beater) beat(ctx context.Context) {
	if err := b.sink.SetHeartbeat(ctx, b.now()); err != nil {
		log.Printf("heartbeat: %v", err)
	}
}

// Fresh reports whether a heartbeat recorded at last is still within
// the TTL as of now.
func Fresh(last, now time.Time) bool {
	return !last.IsZero() && now.Sub(last) <= TTL
}
