// Package authoring drives the operator workflow that turns submitted
// media and raw text into a published channel post: collect media,
// synthesize or edit a caption, preview, publish or cancel.
package authoring

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/avtogeo/avtobot/internal/event"
	"github.com/avtogeo/avtobot/internal/gen"
	"github.com/avtogeo/avtobot/internal/idgen"
	"github.com/avtogeo/avtobot/internal/state"
	"github.com/avtogeo/avtobot/internal/storage"
	"github.com/avtogeo/avtobot/internal/store"
	"github.com/avtogeo/avtobot/internal/transport"
)

// Callback data of the preview keyboard.
const (
	CallbackPublish = "post_publish"
	CallbackManual  = "post_manual"
	CallbackCorrect = "post_correct"
	CallbackCancel  = "post_cancel"
)

// Sender is the slice of the messenger the authoring flow needs.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, opts *transport.SendOptions) (int, error)
	SendMedia(ctx context.Context, chatID int64, items []event.MediaItem, caption string, opts *transport.SendOptions) ([]int, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
	Download(ctx context.Context, fileID string) ([]byte, error)
}

// PostStore persists published posts.
type PostStore interface {
	CreatePost(ctx context.Context, rec *store.PostRecord) error
}

// FSM is the per-operator authoring state machine. All calls for one
// operator arrive serialized by the dispatcher; cancellation safety
// comes from the versioned state store.
type FSM struct {
	states  *state.Store
	msgr    Sender
	gen     gen.Generator
	objects storage.ObjectStore
	posts   PostStore

	channelID  int64
	channelURL string

	now   func() time.Time
	newID func() (string, error)
}

// New creates the authoring FSM publishing into channelID.
func New(states *state.Store, msgr Sender, g gen.Generator, objects storage.ObjectStore, posts PostStore, channelID int64, channelURL string) *FSM {
	return &FSM{
		states:     states,
		msgr:       msgr,
		gen:        g,
		objects:    objects,
		posts:      posts,
		channelID:  channelID,
		channelURL: channelURL,
		now:        time.Now,
		newID:      idgen.New,
	}
}

// HandleBatch processes one sealed submission from an operator's
// private chat.
func (f *FSM) HandleBatch(ctx context.Context, batch *event.Batch) {
	actorID := batch.Actor()
	chatID := batch.Events[0].ChatID
	conv := f.states.Load(actorID)

	switch conv.Stage {
	case state.StageIdle:
		f.handleIdle(ctx, chatID, batch, conv)
	case state.StageAwaitingText:
		f.handleAwaitingText(ctx, chatID, batch, conv)
	case state.StageAwaitingManualText:
		f.handleManualText(ctx, chatID, batch, conv)
	case state.StageAwaitingCorrection:
		f.handleCorrection(ctx, chatID, batch, conv)
	default:
		// Broadcast stages are routed elsewhere.
	}
}

func (f *FSM) handleIdle(ctx context.Context, chatID int64, batch *event.Batch, conv state.Conversation) {
	actorID := batch.Actor()
	media := batch.MediaItems()

	if len(media) == 0 {
		text := batch.FirstText()
		if text == "" || batch.Events[0].IsCommand() {
			f.reply(ctx, chatID, "📷 Пришли медиа (фото/видео) с описанием для создания объявления")
			return
		}
		// A bare text submission is deferred until media arrives.
		conv.Data.PendingText = text
		if fwd := batch.ForwardOrigin(); fwd != 0 {
			conv.Data.ForwardFrom = fwd
		}
		if err := f.states.Commit(actorID, conv); err != nil {
			return
		}
		f.reply(ctx, chatID, "📝 Текст сохранён. Теперь пришли медиа (фото/видео) для объявления.")
		return
	}

	text := batch.FirstText()
	if text == "" {
		text = conv.Data.PendingText
	}
	fwd := batch.ForwardOrigin()
	if fwd == 0 {
		fwd = conv.Data.ForwardFrom
	}

	conv.Data.Media = media
	conv.Data.PendingText = ""
	conv.Data.ForwardFrom = fwd
	conv.Data.OperatorID = actorID

	if text == "" {
		conv.Stage = state.StageAwaitingText
		if err := f.states.Commit(actorID, conv); err != nil {
			return
		}
		f.reply(ctx, chatID, "📝 Медиа получено! Теперь отправь или перешли текст объявления.")
		return
	}

	f.reply(ctx, chatID, "⏳ Обрабатываю объявление...")
	f.synthesize(ctx, chatID, actorID, conv, text)
}

func (f *FSM) handleAwaitingText(ctx context.Context, chatID int64, batch *event.Batch, conv state.Conversation) {
	actorID := batch.Actor()

	// New media while waiting for text replaces the buffer (treated as
	// a correction of the submission).
	if media := batch.MediaItems(); len(media) > 0 {
		conv.Data.Media = media
		if fwd := batch.ForwardOrigin(); fwd != 0 {
			conv.Data.ForwardFrom = fwd
		}
		if text := batch.FirstText(); text != "" {
			f.reply(ctx, chatID, "⏳ Обрабатываю объявление...")
			f.synthesize(ctx, chatID, actorID, conv, text)
			return
		}
		if err := f.states.Commit(actorID, conv); err != nil {
			return
		}
		f.reply(ctx, chatID, "📝 Медиа обновлено. Жду текст объявления.")
		return
	}

	text := batch.FirstText()
	if text == "" {
		f.reply(ctx, chatID, "❌ Пришли текст объявления (текстом или пересланным сообщением)")
		return
	}
	if fwd := batch.ForwardOrigin(); fwd != 0 {
		conv.Data.ForwardFrom = fwd
	}

	f.reply(ctx, chatID, "⏳ Генерирую текст объявления...")
	f.synthesize(ctx, chatID, actorID, conv, text)
}

// synthesize calls the generator and, on success, commits the working
// caption and shows the preview. A generation failure leaves the FSM
// exactly where it was so the operator can retry by resending text.
func (f *FSM) synthesize(ctx context.Context, chatID, actorID int64, conv state.Conversation, text string) {
	caption, err := f.gen.Generate(ctx, text, "")
	if err != nil {
		log.Printf("authoring: generate for operator %d: %v", actorID, err)
		f.reply(ctx, chatID, "❌ Ошибка при генерации текста: "+trim(err.Error(), 200))
		return
	}

	conv.Stage = state.StageIdle
	conv.Data.SourceText = text
	conv.Data.Caption = caption
	conv.Data.SubjectID = conv.Data.ForwardFrom
	if conv.Data.SubjectID == 0 {
		conv.Data.SubjectID = actorID
	}
	if err := f.states.Commit(actorID, conv); err != nil {
		return
	}
	f.preview(ctx, chatID, conv)
}

func (f *FSM) handleManualText(ctx context.Context, chatID int64, batch *event.Batch, conv state.Conversation) {
	actorID := batch.Actor()
	text := batch.FirstText()
	if text == "" {
		f.reply(ctx, chatID, "✏️ Пришли текст объявления одним сообщением")
		return
	}

	// Manual text replaces the working caption verbatim.
	conv.Stage = state.StageIdle
	conv.Data.Caption = text
	if err := f.states.Commit(actorID, conv); err != nil {
		return
	}
	f.preview(ctx, chatID, conv)
}

func (f *FSM) handleCorrection(ctx context.Context, chatID int64, batch *event.Batch, conv state.Conversation) {
	actorID := batch.Actor()
	instruction := batch.FirstText()
	if instruction == "" {
		f.reply(ctx, chatID, "💬 Пришли комментарий для корректировки текстом")
		return
	}

	f.reply(ctx, chatID, "⏳ Корректирую текст...")
	caption, err := f.gen.Generate(ctx, conv.Data.Caption, instruction)
	if err != nil {
		log.Printf("authoring: correction for operator %d: %v", actorID, err)
		f.reply(ctx, chatID, "❌ Ошибка при корректировке: "+trim(err.Error(), 200))
		return
	}

	conv.Stage = state.StageIdle
	conv.Data.Caption = caption
	if err := f.states.Commit(actorID, conv); err != nil {
		return
	}
	f.preview(ctx, chatID, conv)
}

// preview renders the stored media back to the operator with the
// working caption on the first item and the action keyboard.
func (f *FSM) preview(ctx context.Context, chatID int64, conv state.Conversation) {
	if _, err := f.msgr.SendMedia(ctx, chatID, conv.Data.Media, conv.Data.Caption, nil); err != nil {
		log.Printf("authoring: preview media: %v", err)
		f.reply(ctx, chatID, "❌ Не удалось показать превью: "+trim(err.Error(), 200))
		return
	}
	opts := &transport.SendOptions{Keyboard: previewKeyboard()}
	if _, err := f.msgr.SendText(ctx, chatID, "👆 Превью объявления\n\nВыбери действие:", opts); err != nil {
		log.Printf("authoring: preview keyboard: %v", err)
	}
}

func previewKeyboard() [][]transport.Button {
	return [][]transport.Button{
		{{Text: "✅ Опубликовать", Data: CallbackPublish}},
		{{Text: "✏️ Ручной ввод", Data: CallbackManual}},
		{{Text: "💬 Корректировка", Data: CallbackCorrect}},
		{{Text: "❌ Отмена", Data: CallbackCancel}},
	}
}

// HandleCallback processes a preview keyboard action.
func (f *FSM) HandleCallback(ctx context.Context, ev event.InboundEvent) {
	switch ev.Callback {
	case CallbackPublish:
		f.publish(ctx, ev)
	case CallbackManual:
		f.requestManual(ctx, ev)
	case CallbackCorrect:
		f.requestCorrection(ctx, ev)
	case CallbackCancel:
		f.ack(ctx, ev.CallbackID, "")
		f.Cancel(ctx, ev.ActorID, ev.ChatID)
	}
}

func (f *FSM) requestManual(ctx context.Context, ev event.InboundEvent) {
	conv := f.states.Load(ev.ActorID)
	if len(conv.Data.Media) == 0 {
		f.ack(ctx, ev.CallbackID, "Нет объявления в работе")
		return
	}
	conv.Stage = state.StageAwaitingManualText
	if err := f.states.Commit(ev.ActorID, conv); err != nil {
		return
	}
	f.ack(ctx, ev.CallbackID, "")
	f.reply(ctx, ev.ChatID, "✏️ Введи текст объявления вручную:")
}

func (f *FSM) requestCorrection(ctx context.Context, ev event.InboundEvent) {
	conv := f.states.Load(ev.ActorID)
	if len(conv.Data.Media) == 0 {
		f.ack(ctx, ev.CallbackID, "Нет объявления в работе")
		return
	}
	conv.Stage = state.StageAwaitingCorrection
	if err := f.states.Commit(ev.ActorID, conv); err != nil {
		return
	}
	f.ack(ctx, ev.CallbackID, "")
	f.reply(ctx, ev.ChatID, "💬 Введи комментарий для корректировки:\n\nНапример: «Сделай текст короче» или «Укажи что торг уместен»")
}

// publish uploads the buffered media, sends the post to the channel,
// and persists the PostRecord. Any upload failure aborts the publish
// with nothing persisted; the operator starts over.
func (f *FSM) publish(ctx context.Context, ev event.InboundEvent) {
	actorID := ev.ActorID
	chatID := ev.ChatID
	conv := f.states.Load(actorID)

	if len(conv.Data.Media) == 0 || conv.Data.Caption == "" {
		f.ack(ctx, ev.CallbackID, "❌ Нет данных для публикации")
		return
	}
	f.ack(ctx, ev.CallbackID, "")
	f.reply(ctx, chatID, "⏳ Публикую пост...")

	keys, err := f.uploadAll(ctx, conv)
	if err != nil {
		log.Printf("authoring: upload for operator %d: %v", actorID, err)
		f.states.Clear(actorID)
		f.reply(ctx, chatID, "❌ Ошибка загрузки медиа, публикация отменена: "+trim(err.Error(), 200))
		return
	}

	ids, err := f.msgr.SendMedia(ctx, f.channelID, conv.Data.Media, conv.Data.Caption, nil)
	if err != nil {
		log.Printf("authoring: channel send for operator %d: %v", actorID, err)
		f.states.Clear(actorID)
		f.reply(ctx, chatID, "❌ Ошибка при публикации: "+trim(err.Error(), 200))
		return
	}

	rec := &store.PostRecord{
		UserID:     conv.Data.SubjectID,
		PostID:     ids[0],
		MessageIDs: ids,
		Text:       conv.Data.Caption,
		MediaKeys:  keys,
		Published:  true,
		AdminID:    conv.Data.OperatorID,
		CreatedAt:  f.now(),
	}
	if err := f.posts.CreatePost(ctx, rec); err != nil {
		// The post is live in the channel; the record loss is logged
		// and surfaced, but the state is cleared either way.
		log.Printf("authoring: persist post for operator %d: %v", actorID, err)
		f.states.Clear(actorID)
		f.reply(ctx, chatID, "⚠️ Пост опубликован, но не сохранён в базе: "+trim(err.Error(), 200))
		return
	}

	conv.Stage = state.StageIdle
	conv.Data = state.Data{}
	if err := f.states.Commit(actorID, conv); err != nil {
		if !errors.Is(err, state.ErrStale) {
			log.Printf("authoring: clear after publish: %v", err)
		}
	}
	f.reply(ctx, chatID, fmt.Sprintf("✅ Пост успешно опубликован!\n\n📢 Канал: %s\n🆔 ID поста: %d", f.channelURL, ids[0]))
}

func (f *FSM) uploadAll(ctx context.Context, conv state.Conversation) ([]string, error) {
	keys := make([]string, 0, len(conv.Data.Media))
	stamp := f.now().Format("20060102_150405")
	for i, item := range conv.Data.Media {
		data, err := f.msgr.Download(ctx, item.FileID)
		if err != nil {
			return nil, fmt.Errorf("download item %d: %w", i, err)
		}
		suffix, err := f.newID()
		if err != nil {
			return nil, err
		}
		key := fmt.Sprintf("posts/%d/%s_%d_%s%s", conv.Data.OperatorID, stamp, i, suffix, extFor(item.Kind))
		stored, err := f.objects.Put(ctx, key, data)
		if err != nil {
			return nil, fmt.Errorf("upload item %d: %w", i, err)
		}
		keys = append(keys, stored)
	}
	return keys, nil
}

func extFor(kind event.Kind) string {
	switch kind {
	case event.KindPhoto:
		return ".jpg"
	case event.KindVideo:
		return ".mp4"
	case event.KindAudio:
		return ".mp3"
	default:
		return ".bin"
	}
}

// Cancel clears the operator's conversation unconditionally.
func (f *FSM) Cancel(ctx context.Context, actorID, chatID int64) {
	stage := f.states.Stage(actorID)
	f.states.Clear(actorID)
	if stage == state.StageIdle {
		f.reply(ctx, chatID, "Нет активного действия для отмены.")
		return
	}
	f.reply(ctx, chatID, "✅ Действие отменено. Можешь начать заново.")
}

func (f *FSM) reply(ctx context.Context, chatID int64, text string) {
	if _, err := f.msgr.SendText(ctx, chatID, text, nil); err != nil {
		log.Printf("authoring: reply to %d: %v", chatID, err)
	}
}

func (f *FSM) ack(ctx context.Context, callbackID, text string) {
	if callbackID == "" {
		return
	}
	if err := f.msgr.AnswerCallback(ctx, callbackID, text); err != nil {
		log.Printf("authoring: answer callback: %v", err)
	}
}

func trim(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
