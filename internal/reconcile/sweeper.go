// Package reconcile periodically checks that published posts still
// exist in the channel and marks the ones deleted by hand so the
// database stays the source of truth.
package reconcile

import (
	"context"
	"log"
	"time"

	"github.com/avtogeo/avtobot/internal/store"
	"github.com/avtogeo/avtobot/internal/transport"
)

const (
	// DefaultInterval is the sweep cadence.
	DefaultInterval = time.Hour
	// probeDelay paces probes inside one sweep.
	probeDelay = 500 * time.Millisecond
)

// Prober checks whether a channel message still exists.
type Prober interface {
	ProbeMessage(ctx context.Context, chatID int64, messageID int) (transport.ProbeResult, error)
}

// Posts is the slice of the store the sweeper needs.
type Posts interface {
	ListActivePosts(ctx context.Context) ([]*store.PostRecord, error)
	MarkPostsDeleted(ctx context.Context, ids []int64, at time.Time) (int64, error)
}

// Sweeper walks the active posts and reconciles out-of-band deletions.
type Sweeper struct {
	posts     Posts
	probe     Prober
	channelID int64
	interval  time.Duration

	sleep func(time.Duration)
	now   func() time.Time
}

// New creates a sweeper over the publication channel.
func New(posts Posts, probe Prober, channelID int64) *Sweeper {
	return &Sweeper{
		posts:     posts,
		probe:     probe,
		channelID: channelID,
		interval:  DefaultInterval,
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// Run sweeps once immediately and then on every interval tick until
// the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if err := s.Sweep(ctx); err != nil {
		log.Printf("reconcile: sweep: %v", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				log.Printf("reconcile: sweep: %v", err)
			}
		}
	}
}

// Sweep probes every active post once and marks the missing ones
// deleted in a single store write at the end. Repeat sweeps over the
// same state are no-ops.
func (s *Sweeper) Sweep(ctx context.Context) error {
	posts, err := s.posts.ListActivePosts(ctx)
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		return nil
	}

	var gone []int64
	for i, p := range posts {
		if i > 0 {
			s.sleep(probeDelay)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res, err := s.probe.ProbeMessage(ctx, s.channelID, p.PostID)
		if err != nil && res == transport.ProbeFailed {
			// Transient failure: leave the post for the next sweep.
			log.Printf("reconcile: probe post %d (message %d): %v", p.ID, p.PostID, err)
			continue
		}
		if res == transport.ProbeNotFound {
			gone = append(gone, p.ID)
		}
	}
	if len(gone) == 0 {
		return nil
	}

	n, err := s.posts.MarkPostsDeleted(ctx, gone, s.now())
	if err != nil {
		return err
	}
	log.Printf("reconcile: marked %d posts deleted (%d candidates)", n, len(gone))
	return nil
}
