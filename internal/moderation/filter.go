// Package moderation removes foreign messages from the moderation group
// and the publication channel: only the bot itself, configured admins,
// and the channel's own posts are allowed to appear there.
package moderation

import (
	"context"
	"log"
	"time"

	"github.com/avtogeo/avtobot/internal/event"
	"github.com/avtogeo/avtobot/internal/throttle"
	"github.com/avtogeo/avtobot/internal/transport"
)

const (
	// warnWindow dedupes the warning per chat.
	warnWindow = 25 * time.Second
	// warnTTL is how long the warning stays before self-deleting.
	warnTTL = 20 * time.Second
)

const warnText = "⚠️ Писать сюда могут только администраторы. Сообщение удалено."

// Deleter deletes foreign messages and posts the self-deleting warning.
type Deleter interface {
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	SendText(ctx context.Context, chatID int64, text string, opts *transport.SendOptions) (int, error)
}

// Filter is the moderation predicate plus its cleanup side effects.
type Filter struct {
	msgr      Deleter
	admins    map[int64]bool
	channelID int64

	warned   *throttle.Guard
	schedule func(d time.Duration, fn func()) // time.AfterFunc, injectable in tests
}

// New creates a filter allowing adminIDs and posts authored as
// channelID.
func New(msgr Deleter, adminIDs []int64, channelID int64) *Filter {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &Filter{
		msgr:      msgr,
		admins:    admins,
		channelID: channelID,
		warned:    throttle.NewGuard(warnWindow),
		schedule:  func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
}

// Handle applies the filter to one event. It returns true when the
// event was consumed (deleted) and must not reach the rest of the
// pipeline.
func (f *Filter) Handle(ctx context.Context, ev event.InboundEvent) bool {
	if ev.Surface != event.SurfaceGroup && ev.Surface != event.SurfaceChannel {
		return false
	}
	if ev.FromBot || f.admins[ev.ActorID] {
		return false
	}
	// The channel posting as itself (and its auto-forwards into the
	// discussion group) are the bot's own output pipeline.
	if ev.SenderChatID != 0 && ev.SenderChatID == f.channelID {
		return false
	}

	if err := f.msgr.DeleteMessage(ctx, ev.ChatID, ev.MessageID); err != nil {
		log.Printf("moderation: delete message %d in %d: %v", ev.MessageID, ev.ChatID, err)
		return true
	}
	log.Printf("moderation: deleted message %d from %d in %s %d", ev.MessageID, ev.ActorID, ev.Surface, ev.ChatID)

	// Service messages (topic created, user joined, ...) go silently.
	if ev.Kind == event.KindService {
		return true
	}

	if !f.warned.Allow(ev.ChatID, "warn") {
		return true
	}
	msgID, err := f.msgr.SendText(ctx, ev.ChatID, warnText, nil)
	if err != nil {
		log.Printf("moderation: warn chat %d: %v", ev.ChatID, err)
		return true
	}
	chatID := ev.ChatID
	f.schedule(warnTTL, func() {
		if err := f.msgr.DeleteMessage(context.Background(), chatID, msgID); err != nil {
			log.Printf("moderation: delete warning %d in %d: %v", msgID, chatID, err)
		}
	})
	return true
}
