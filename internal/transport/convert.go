package transport

import (
	"time"

	"github.com/mymmrac/telego"

	"github.com/avtogeo/avtobot/internal/event"
)

// Converter turns Telegram updates into inbound events. Surface
// classification is by chat id: the configured moderation group and
// publication channel are recognized, everything of private type is
// SurfacePrivate.
type Converter struct {
	GroupID   int64
	ChannelID int64
}

// Message converts a Telegram message. The second return value is
// false when the message belongs to none of the monitored surfaces.
func (c *Converter) Message(msg *telego.Message) (event.InboundEvent, bool) {
	ev := event.InboundEvent{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		ThreadID:  msg.MessageThreadID,
		GroupKey:  msg.MediaGroupID,
		Timestamp: time.Unix(msg.Date, 0),
	}

	switch {
	case msg.Chat.ID == c.ChannelID:
		ev.Surface = event.SurfaceChannel
	case msg.Chat.ID == c.GroupID:
		ev.Surface = event.SurfaceGroup
	case msg.Chat.Type == telego.ChatTypePrivate:
		ev.Surface = event.SurfacePrivate
	default:
		return event.InboundEvent{}, false
	}

	if msg.From != nil {
		ev.ActorID = msg.From.ID
		ev.Username = msg.From.Username
		ev.FromBot = msg.From.IsBot
	}
	if msg.SenderChat != nil {
		ev.SenderChatID = msg.SenderChat.ID
	}
	ev.ForwardFrom = forwardOrigin(msg.ForwardOrigin)

	ev.Kind, ev.Media = classify(msg)
	if ev.Kind == event.KindText {
		ev.Text = msg.Text
	} else {
		ev.Text = msg.Caption
	}
	return ev, true
}

// Callback converts a callback query. Keyboards are only ever shown in
// private operator chats, so the chat is the sender's private chat.
func (c *Converter) Callback(q *telego.CallbackQuery) event.InboundEvent {
	return event.InboundEvent{
		ActorID:    q.From.ID,
		Username:   q.From.Username,
		Surface:    event.SurfacePrivate,
		ChatID:     q.From.ID,
		Kind:       event.KindCallback,
		Callback:   q.Data,
		CallbackID: q.ID,
		Timestamp:  time.Now(),
	}
}

func classify(msg *telego.Message) (event.Kind, *event.MediaItem) {
	switch {
	case len(msg.Photo) > 0:
		// Highest resolution variant is last.
		return event.KindPhoto, &event.MediaItem{Kind: event.KindPhoto, FileID: msg.Photo[len(msg.Photo)-1].FileID}
	case msg.Video != nil:
		return event.KindVideo, &event.MediaItem{Kind: event.KindVideo, FileID: msg.Video.FileID}
	case msg.Document != nil:
		return event.KindDocument, &event.MediaItem{Kind: event.KindDocument, FileID: msg.Document.FileID}
	case msg.Audio != nil:
		return event.KindAudio, &event.MediaItem{Kind: event.KindAudio, FileID: msg.Audio.FileID}
	case msg.Voice != nil:
		return event.KindVoice, &event.MediaItem{Kind: event.KindVoice, FileID: msg.Voice.FileID}
	case msg.Sticker != nil:
		return event.KindSticker, &event.MediaItem{Kind: event.KindSticker, FileID: msg.Sticker.FileID}
	case isService(msg):
		return event.KindService, nil
	default:
		return event.KindText, nil
	}
}

func isService(msg *telego.Message) bool {
	return len(msg.NewChatMembers) > 0 ||
		msg.LeftChatMember != nil ||
		msg.NewChatTitle != "" ||
		len(msg.NewChatPhoto) > 0 ||
		msg.DeleteChatPhoto ||
		msg.PinnedMessage != nil ||
		msg.ForumTopicCreated != nil ||
		msg.ForumTopicClosed != nil ||
		msg.ForumTopicReopened != nil ||
		msg.ForumTopicEdited != nil ||
		msg.GeneralForumTopicHidden != nil ||
		msg.GeneralForumTopicUnhidden != nil ||
		msg.VideoChatScheduled != nil ||
		msg.VideoChatStarted != nil ||
		msg.VideoChatEnded != nil ||
		msg.VideoChatParticipantsInvited != nil
}

func forwardOrigin(origin telego.MessageOrigin) int64 {
	switch o := origin.(type) {
	case *telego.MessageOriginUser:
		return o.SenderUser.ID
	case *telego.MessageOriginChat:
		return o.SenderChat.ID
	case *telego.MessageOriginChannel:
		return o.Chat.ID
	default:
		return 0
	}
}
