package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"

	"github.com/avtogeo/avtobot/internal/event"
)

// callTimeout bounds every outbound Telegram API call.
const callTimeout = 15 * time.Second

// Telegram implements Messenger over the Telegram Bot API.
type Telegram struct {
	bot    *telego.Bot
	client *http.Client
	conv   *Converter
}

var _ Messenger = (*Telegram)(nil)

// NewTelegram creates the Telegram transport. groupID and channelID
// identify the moderation group and the publication channel for
// surface classification of inbound updates.
func NewTelegram(token string, groupID, channelID int64) (*Telegram, error) {
	bot, err := telego.NewBot(token, telego.WithDefaultLogger(false, true))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{
		bot:    bot,
		client: &http.Client{Timeout: callTimeout},
		conv:   &Converter{GroupID: groupID, ChannelID: channelID},
	}, nil
}

// Start begins long polling and feeds converted events to sink until
// ctx is cancelled. The sink must not block; hand events to a
// dispatcher.
func (t *Telegram) Start(ctx context.Context, sink func(event.InboundEvent)) error {
	me, err := t.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	log.Printf("telegram: authorized as @%s", me.Username)

	updates, err := t.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("telegram long polling: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				log.Println("telegram: update loop stopped")
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(update, sink)
			}
		}
	}()
	return nil
}

func (t *Telegram) handleUpdate(update telego.Update, sink func(event.InboundEvent)) {
	switch {
	case update.Message != nil:
		if ev, ok := t.conv.Message(update.Message); ok {
			sink(ev)
		}
	case update.ChannelPost != nil:
		if ev, ok := t.conv.Message(update.ChannelPost); ok {
			sink(ev)
		}
	case update.CallbackQuery != nil:
		sink(t.conv.Callback(update.CallbackQuery))
	}
}

// SendText implements Messenger.
func (t *Telegram) SendText(ctx context.Context, chatID int64, text string, opts *SendOptions) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	params := &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   text,
	}
	applyOptions(params, opts)

	msg, err := t.bot.SendMessage(ctx, params)
	if err != nil {
		return 0, fmt.Errorf("telegram sendMessage: %w", err)
	}
	return msg.MessageID, nil
}

func applyOptions(params *telego.SendMessageParams, opts *SendOptions) {
	if opts == nil {
		return
	}
	params.MessageThreadID = opts.ThreadID
	params.DisableNotification = opts.DisableNotification
	if opts.ReplyTo != 0 {
		params.ReplyParameters = &telego.ReplyParameters{MessageID: opts.ReplyTo}
	}
	if kb := inlineKeyboard(opts.Keyboard); kb != nil {
		params.ReplyMarkup = kb
	}
}

func inlineKeyboard(rows [][]Button) *telego.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	markup := &telego.InlineKeyboardMarkup{}
	for _, row := range rows {
		var btns []telego.InlineKeyboardButton
		for _, b := range row {
			btns = append(btns, telego.InlineKeyboardButton{Text: b.Text, CallbackData: b.Data})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, btns)
	}
	return markup
}

// SendMedia implements Messenger. A single item goes through the
// kind-specific send method; multiple items go as one media group with
// the caption on the first item.
func (t *Telegram) SendMedia(ctx context.Context, chatID int64, items []event.MediaItem, caption string, opts *SendOptions) ([]int, error) {
	if len(items) == 0 {
		return nil, errors.New("telegram: empty media list")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*callTimeout)
	defer cancel()

	if len(items) == 1 {
		id, err := t.sendSingle(ctx, chatID, items[0], caption, opts)
		if err != nil {
			return nil, err
		}
		return []int{id}, nil
	}

	media := make([]telego.InputMedia, 0, len(items))
	for i, item := range items {
		itemCaption := ""
		if i == 0 {
			itemCaption = caption
		}
		m, err := inputMedia(item, itemCaption)
		if err != nil {
			return nil, err
		}
		media = append(media, m)
	}

	params := &telego.SendMediaGroupParams{
		ChatID: telego.ChatID{ID: chatID},
		Media:  media,
	}
	if opts != nil {
		params.MessageThreadID = opts.ThreadID
		params.DisableNotification = opts.DisableNotification
	}

	msgs, err := t.bot.SendMediaGroup(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("telegram sendMediaGroup: %w", err)
	}
	ids := make([]int, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.MessageID)
	}
	return ids, nil
}

func (t *Telegram) sendSingle(ctx context.Context, chatID int64, item event.MediaItem, caption string, opts *SendOptions) (int, error) {
	cid := telego.ChatID{ID: chatID}
	file := telego.InputFile{FileID: item.FileID}

	threadID := 0
	var markup *telego.InlineKeyboardMarkup
	if opts != nil {
		threadID = opts.ThreadID
		markup = inlineKeyboard(opts.Keyboard)
	}

	var (
		msg *telego.Message
		err error
	)
	switch item.Kind {
	case event.KindPhoto:
		p := &telego.SendPhotoParams{ChatID: cid, Photo: file, Caption: caption, MessageThreadID: threadID}
		if markup != nil {
			p.ReplyMarkup = markup
		}
		msg, err = t.bot.SendPhoto(ctx, p)
	case event.KindVideo:
		p := &telego.SendVideoParams{ChatID: cid, Video: file, Caption: caption, MessageThreadID: threadID}
		if markup != nil {
			p.ReplyMarkup = markup
		}
		msg, err = t.bot.SendVideo(ctx, p)
	case event.KindDocument:
		p := &telego.SendDocumentParams{ChatID: cid, Document: file, Caption: caption, MessageThreadID: threadID}
		if markup != nil {
			p.ReplyMarkup = markup
		}
		msg, err = t.bot.SendDocument(ctx, p)
	case event.KindAudio:
		p := &telego.SendAudioParams{ChatID: cid, Audio: file, Caption: caption, MessageThreadID: threadID}
		if markup != nil {
			p.ReplyMarkup = markup
		}
		msg, err = t.bot.SendAudio(ctx, p)
	case event.KindVoice:
		msg, err = t.bot.SendVoice(ctx, &telego.SendVoiceParams{ChatID: cid, Voice: file, Caption: caption, MessageThreadID: threadID})
	case event.KindSticker:
		msg, err = t.bot.SendSticker(ctx, &telego.SendStickerParams{ChatID: cid, Sticker: file, MessageThreadID: threadID})
	default:
		return 0, fmt.Errorf("telegram: cannot send media of kind %s", item.Kind)
	}
	if err != nil {
		return 0, fmt.Errorf("telegram send %s: %w", item.Kind, err)
	}
	return msg.MessageID, nil
}

func inputMedia(item event.MediaItem, caption string) (telego.InputMedia, error) {
	file := telego.InputFile{FileID: item.FileID}
	switch item.Kind {
	case event.KindPhoto:
		return &telego.InputMediaPhoto{Type: telego.MediaTypePhoto, Media: file, Caption: caption}, nil
	case event.KindVideo:
		return &telego.InputMediaVideo{Type: telego.MediaTypeVideo, Media: file, Caption: caption}, nil
	case event.KindDocument:
		return &telego.InputMediaDocument{Type: telego.MediaTypeDocument, Media: file, Caption: caption}, nil
	case event.KindAudio:
		return &telego.InputMediaAudio{Type: telego.MediaTypeAudio, Media: file, Caption: caption}, nil
	default:
		return nil, fmt.Errorf("telegram: kind %s not allowed in media group", item.Kind)
	}
}

// DeleteMessage implements Messenger.
func (t *Telegram) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	err := t.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    telego.ChatID{ID: chatID},
		MessageID: messageID,
	})
	if err != nil {
		return fmt.Errorf("telegram deleteMessage: %w", err)
	}
	return nil
}

// ProbeMessage implements Messenger by clearing the reply markup of the
// message, which is a no-op for plain posts. The API's error text tells
// existing messages apart from deleted ones.
func (t *Telegram) ProbeMessage(ctx context.Context, chatID int64, messageID int) (ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	_, err := t.bot.EditMessageReplyMarkup(ctx, &telego.EditMessageReplyMarkupParams{
		ChatID:    telego.ChatID{ID: chatID},
		MessageID: messageID,
	})
	if err == nil {
		return ProbeOK, nil
	}
	return classifyProbeError(err), err
}

func classifyProbeError(err error) ProbeResult {
	var apiErr *telegoapi.Error
	if !errors.As(err, &apiErr) {
		return ProbeFailed
	}
	desc := strings.ToLower(apiErr.Description)
	switch {
	case strings.Contains(desc, "message to edit not found"),
		strings.Contains(desc, "message not found"):
		return ProbeNotFound
	case strings.Contains(desc, "message is not modified"),
		strings.Contains(desc, "message can't be edited"),
		strings.Contains(desc, "there is no reply markup"):
		return ProbeUnmodified
	default:
		return ProbeFailed
	}
}

// CreateTopic implements Messenger.
func (t *Telegram) CreateTopic(ctx context.Context, groupID int64, name string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	topic, err := t.bot.CreateForumTopic(ctx, &telego.CreateForumTopicParams{
		ChatID: telego.ChatID{ID: groupID},
		Name:   name,
	})
	if err != nil {
		return 0, fmt.Errorf("telegram createForumTopic: %w", err)
	}
	return int64(topic.MessageThreadID), nil
}

// Forward implements Messenger.
func (t *Telegram) Forward(ctx context.Context, toChatID, fromChatID int64, messageIDs []int, threadID int) error {
	if len(messageIDs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	_, err := t.bot.ForwardMessages(ctx, &telego.ForwardMessagesParams{
		ChatID:          telego.ChatID{ID: toChatID},
		FromChatID:      telego.ChatID{ID: fromChatID},
		MessageIDs:      messageIDs,
		MessageThreadID: threadID,
	})
	if err != nil {
		return fmt.Errorf("telegram forwardMessages: %w", err)
	}
	return nil
}

// AnswerCallback implements Messenger.
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	err := t.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	})
	if err != nil {
		return fmt.Errorf("telegram answerCallbackQuery: %w", err)
	}
	return nil
}

// Download implements Messenger.
func (t *Telegram) Download(ctx context.Context, fileID string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*callTimeout)
	defer cancel()

	file, err := t.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("telegram getFile: %w", err)
	}

	url := t.bot.FileDownloadURL(file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram file request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram file download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram file download: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("telegram file read: %w", err)
	}
	return data, nil
}
