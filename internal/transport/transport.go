// Package transport defines the messaging contract the orchestration
// layer requires from the chat platform, and implements it for
// Telegram. Multi-item sends return one message id per item, order
// preserved.
package transport

import (
	"context"

	"github.com/avtogeo/avtobot/internal/event"
)

// ProbeResult classifies the outcome of a no-op edit probe.
type ProbeResult int

const (
	// ProbeOK means the message exists and the edit went through.
	ProbeOK ProbeResult = iota
	// ProbeNotFound means the message no longer exists.
	ProbeNotFound
	// ProbeUnmodified means the message exists and nothing changed.
	ProbeUnmodified
	// ProbeFailed is any other error; the caller should not change state.
	ProbeFailed
)

func (r ProbeResult) String() string {
	switch r {
	case ProbeOK:
		return "ok"
	case ProbeNotFound:
		return "not_found"
	case ProbeUnmodified:
		return "unmodified"
	default:
		return "failed"
	}
}

// Button is one inline keyboard button carrying callback data.
type Button struct {
	Text string
	Data string
}

// SendOptions carries optional send parameters.
type SendOptions struct {
	ThreadID            int        // forum topic id, 0 for none
	Keyboard            [][]Button // inline keyboard rows
	ReplyTo             int        // message id to reply to, 0 for none
	DisableNotification bool
}

// Messenger is the outbound messaging contract.
type Messenger interface {
	// SendText sends a text message and returns its message id.
	SendText(ctx context.Context, chatID int64, text string, opts *SendOptions) (int, error)

	// SendMedia sends one media item or an ordered media group. The
	// caption is attached to the first item only. Returns one message
	// id per item in send order.
	SendMedia(ctx context.Context, chatID int64, items []event.MediaItem, caption string, opts *SendOptions) ([]int, error)

	// DeleteMessage removes a message.
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error

	// ProbeMessage issues a harmless no-op mutation against a sent
	// message and classifies the response.
	ProbeMessage(ctx context.Context, chatID int64, messageID int) (ProbeResult, error)

	// CreateTopic creates a forum topic in the moderation group and
	// returns its thread id.
	CreateTopic(ctx context.Context, groupID int64, name string) (int64, error)

	// Forward relays messages verbatim, preserving sender attribution.
	Forward(ctx context.Context, toChatID, fromChatID int64, messageIDs []int, threadID int) error

	// AnswerCallback acknowledges a callback query.
	AnswerCallback(ctx context.Context, callbackID, text string) error

	// Download fetches the raw bytes of a platform file.
	Download(ctx context.Context, fileID string) ([]byte, error)
}
