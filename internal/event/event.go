// Package event defines the inbound event model shared by every
// orchestration component: one received message or callback, and the
// sealed batches the album aggregator produces from them.
package event

import (
	"strings"
	"time"
)

// Surface identifies where an event originated.
type Surface int

const (
	// SurfacePrivate is a one-on-one chat with the bot.
	SurfacePrivate Surface = iota
	// SurfaceGroup is the moderation supergroup (forum topics live here).
	SurfaceGroup
	// SurfaceChannel is the publication channel.
	SurfaceChannel
)

func (s Surface) String() string {
	switch s {
	case SurfacePrivate:
		return "private"
	case SurfaceGroup:
		return "group"
	case SurfaceChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// Kind is the closed set of content kinds an event can carry.
type Kind int

const (
	KindText Kind = iota
	KindPhoto
	KindVideo
	KindDocument
	KindAudio
	KindVoice
	KindSticker
	KindService
	KindCallback
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindPhoto:
		return "photo"
	case KindVideo:
		return "video"
	case KindDocument:
		return "document"
	case KindAudio:
		return "audio"
	case KindVoice:
		return "voice"
	case KindSticker:
		return "sticker"
	case KindService:
		return "service"
	case KindCallback:
		return "callback"
	default:
		return "unknown"
	}
}

// IsMedia reports whether the kind can be part of an authored post or
// a media group.
func (k Kind) IsMedia() bool {
	switch k {
	case KindPhoto, KindVideo, KindDocument, KindAudio:
		return true
	default:
		return false
	}
}

// MediaItem is one attachment referenced by its platform file id.
type MediaItem struct {
	Kind   Kind
	FileID string
}

// InboundEvent is one received message or callback. It is immutable
// once constructed by the transport.
type InboundEvent struct {
	ActorID   int64
	Username  string
	Surface   Surface
	ChatID    int64
	MessageID int
	ThreadID  int // forum topic id, 0 outside topics

	Kind  Kind
	Text  string // message text or media caption
	Media *MediaItem

	// GroupKey marks membership in a multi-item burst (media group id).
	GroupKey string

	// ForwardFrom is the original sender of a forwarded message, 0 when
	// the message is not a forward.
	ForwardFrom int64

	// Callback fields, set only for KindCallback.
	Callback   string
	CallbackID string

	FromBot      bool
	SenderChatID int64 // sender chat for channel-authored posts

	Timestamp time.Time
}

// IsCommand reports whether the event is a slash command.
func (e *InboundEvent) IsCommand() bool {
	return e.Kind == KindText && strings.HasPrefix(e.Text, "/")
}

// Command returns the command name without the leading slash and any
// @botname suffix, or "" when the event is not a command.
func (e *InboundEvent) Command() string {
	if !e.IsCommand() {
		return ""
	}
	cmd := strings.Fields(e.Text)[0][1:]
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return cmd
}

// Batch is a sealed, ordered group of events delivered as one logical
// submission. All members share one actor and surface.
type Batch struct {
	Events []InboundEvent
}

// Singleton wraps a single event in a batch.
func Singleton(ev InboundEvent) *Batch {
	return &Batch{Events: []InboundEvent{ev}}
}

// Actor returns the shared actor id of the batch.
func (b *Batch) Actor() int64 {
	if len(b.Events) == 0 {
		return 0
	}
	return b.Events[0].ActorID
}

// Surface returns the shared surface of the batch.
func (b *Batch) Surface() Surface {
	if len(b.Events) == 0 {
		return SurfacePrivate
	}
	return b.Events[0].Surface
}

// MediaItems collects the attachments of the batch in arrival order.
func (b *Batch) MediaItems() []MediaItem {
	var items []MediaItem
	for i := range b.Events {
		if m := b.Events[i].Media; m != nil {
			items = append(items, *m)
		}
	}
	return items
}

// MessageIDs collects the platform message ids in arrival order.
func (b *Batch) MessageIDs() []int {
	ids := make([]int, 0, len(b.Events))
	for i := range b.Events {
		ids = append(ids, b.Events[i].MessageID)
	}
	return ids
}

// FirstText returns the first non-empty text or caption in the batch.
func (b *Batch) FirstText() string {
	for i := range b.Events {
		if t := b.Events[i].Text; t != "" {
			return t
		}
	}
	return ""
}

// ForwardOrigin returns the first forwarded-sender id in the batch, or
// 0 when nothing was forwarded.
func (b *Batch) ForwardOrigin() int64 {
	for i := range b.Events {
		if id := b.Events[i].ForwardFrom; id != 0 {
			return id
		}
	}
	return 0
}
