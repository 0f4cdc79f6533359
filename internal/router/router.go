// Package router maps each end user to exactly one forum topic in the
// moderation group, creating the topic at most once under a distributed
// lock.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/avtogeo/avtobot/internal/lock"
	"github.com/avtogeo/avtobot/internal/store"
	"github.com/avtogeo/avtobot/internal/transport"
)

// ErrBusy signals that another request is creating this user's topic;
// the caller should ask the user to retry shortly.
var ErrBusy = errors.New("topic creation already in progress")

// ThreadStore is the slice of persistence the router needs.
type ThreadStore interface {
	GetThread(ctx context.Context, userID int64) (*store.ThreadRecord, error)
	CreateThread(ctx context.Context, rec *store.ThreadRecord) error
}

// Platform is the slice of the messenger the router needs.
type Platform interface {
	CreateTopic(ctx context.Context, groupID int64, name string) (int64, error)
	SendText(ctx context.Context, chatID int64, text string, opts *transport.SendOptions) (int, error)
}

// Router resolves users to routing threads.
type Router struct {
	threads ThreadStore
	msgr    Platform
	locks   lock.Locker
	groupID int64

	lease   time.Duration
	backoff time.Duration
	now     func() time.Time
}

// New creates a Router operating on the given moderation group.
func New(threads ThreadStore, msgr Platform, locks lock.Locker, groupID int64) *Router {
	return &Router{
		threads: threads,
		msgr:    msgr,
		locks:   locks,
		groupID: groupID,
		lease:   10 * time.Second,
		backoff: time.Second,
		now:     time.Now,
	}
}

// GetOrCreateThread returns the user's thread id, creating the topic
// exactly once. Reads never take the lock. A contender that loses the
// lock race re-checks once after a short backoff and returns ErrBusy if
// the record still has not appeared.
func (r *Router) GetOrCreateThread(ctx context.Context, userID int64, username string) (int64, error) {
	if rec, err := r.threads.GetThread(ctx, userID); err != nil {
		return 0, fmt.Errorf("router: read thread: %w", err)
	} else if rec != nil {
		return rec.ThreadID, nil
	}

	key := "create_topic:" + strconv.FormatInt(userID, 10)
	held, err := r.locks.TryAcquire(ctx, key, r.lease)
	if err != nil {
		return 0, fmt.Errorf("router: acquire lock: %w", err)
	}
	if !held {
		return r.awaitWinner(ctx, userID)
	}
	defer func() {
		if err := r.locks.Release(context.WithoutCancel(ctx), key); err != nil {
			log.Printf("router: release lock %s: %v", key, err)
		}
	}()

	// Re-check under the lock: a previous holder may have just finished.
	if rec, err := r.threads.GetThread(ctx, userID); err != nil {
		return 0, fmt.Errorf("router: re-check thread: %w", err)
	} else if rec != nil {
		return rec.ThreadID, nil
	}

	return r.create(ctx, userID, username)
}

// awaitWinner is the loser's path: one bounded retry of the fast path.
func (r *Router) awaitWinner(ctx context.Context, userID int64) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(r.backoff):
	}

	rec, err := r.threads.GetThread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("router: retry read thread: %w", err)
	}
	if rec != nil {
		return rec.ThreadID, nil
	}
	return 0, ErrBusy
}

func (r *Router) create(ctx context.Context, userID int64, username string) (int64, error) {
	name := topicName(userID, username)
	threadID, err := r.msgr.CreateTopic(ctx, r.groupID, name)
	if err != nil {
		return 0, fmt.Errorf("router: create topic: %w", err)
	}

	rec := &store.ThreadRecord{
		UserID:    userID,
		Username:  username,
		ThreadID:  threadID,
		CreatedAt: r.now(),
	}
	if err := r.threads.CreateThread(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost an out-of-band race; the persisted record wins.
			existing, gerr := r.threads.GetThread(ctx, userID)
			if gerr == nil && existing != nil {
				return existing.ThreadID, nil
			}
		}
		return 0, fmt.Errorf("router: persist thread: %w", err)
	}

	announce := fmt.Sprintf("🆕 Новое обращение\n👤 @%s\n🆔 %d\n📅 %s",
		username, userID, r.now().Format("2006-01-02 15:04:05"))
	if _, err := r.msgr.SendText(ctx, r.groupID, announce, &transport.SendOptions{ThreadID: int(threadID)}); err != nil {
		// The mapping is durable; a lost announcement is only logged.
		log.Printf("router: announce topic for user %d: %v", userID, err)
	}

	log.Printf("router: created topic %d for user %d", threadID, userID)
	return threadID, nil
}

func topicName(userID int64, username string) string {
	if username == "" {
		return fmt.Sprintf("ID: %d", userID)
	}
	return fmt.Sprintf("@%s (ID: %d)", username, userID)
}
