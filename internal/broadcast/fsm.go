// Package broadcast implements the operator mailing flow: choose the
// audience, provide a payload, confirm, then fan the payload out to
// every recipient with per-send pacing and a final delivery report.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avtogeo/avtobot/internal/event"
	"github.com/avtogeo/avtobot/internal/state"
	"github.com/avtogeo/avtobot/internal/transport"
)

// Callback data of the broadcast keyboards.
const (
	CallbackSelected = "bcast_selected"
	CallbackAll      = "bcast_all"
	CallbackExclude  = "bcast_exclude"
	CallbackConfirm  = "bcast_confirm"
	CallbackCancel   = "bcast_cancel"
)

// sendDelay paces the fan-out so the platform rate limit is never hit.
const sendDelay = 500 * time.Millisecond

// ErrRunning is returned when a broadcast is already in flight.
var ErrRunning = errors.New("broadcast already running")

// Recipients resolves the audience at confirmation time.
type Recipients interface {
	ListRecipientIDs(ctx context.Context) ([]int64, error)
	ListRecipientIDsExcept(ctx context.Context, exclude []int64) ([]int64, error)
}

// Sender is the slice of the messenger the broadcast flow needs.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string, opts *transport.SendOptions) (int, error)
	SendMedia(ctx context.Context, chatID int64, items []event.MediaItem, caption string, opts *transport.SendOptions) ([]int, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// FSM drives one operator's broadcast conversation. At most one
// broadcast runs in the whole process at a time.
type FSM struct {
	states *state.Store
	msgr   Sender
	users  Recipients

	mu      sync.Mutex
	running bool

	sleep func(time.Duration)
	now   func() time.Time
}

// New creates the broadcast FSM.
func New(states *state.Store, msgr Sender, users Recipients) *FSM {
	return &FSM{
		states: states,
		msgr:   msgr,
		users:  users,
		sleep:  time.Sleep,
		now:    time.Now,
	}
}

// Start begins the flow for an operator (/broadcast).
func (f *FSM) Start(ctx context.Context, actorID, chatID int64) {
	f.mu.Lock()
	running := f.running
	f.mu.Unlock()
	if running {
		f.reply(ctx, chatID, "⏳ Рассылка уже выполняется, дождись её завершения.")
		return
	}

	conv := f.states.Load(actorID)
	conv.Stage = state.StageSelectingRecipients
	conv.Data = state.Data{Broadcast: &state.Broadcast{}}
	if err := f.states.Commit(actorID, conv); err != nil {
		return
	}
	opts := &transport.SendOptions{Keyboard: [][]transport.Button{
		{{Text: "👥 Выбранным пользователям", Data: CallbackSelected}},
		{{Text: "📣 Всем пользователям", Data: CallbackAll}},
		{{Text: "🚫 Всем, кроме выбранных", Data: CallbackExclude}},
		{{Text: "❌ Отмена", Data: CallbackCancel}},
	}}
	if _, err := f.msgr.SendText(ctx, chatID, "📬 Кому отправить рассылку?", opts); err != nil {
		log.Printf("broadcast: mode keyboard: %v", err)
	}
}

// HandleCallback processes a broadcast keyboard action.
func (f *FSM) HandleCallback(ctx context.Context, ev event.InboundEvent) {
	conv := f.states.Load(ev.ActorID)

	switch ev.Callback {
	case CallbackSelected, CallbackExclude:
		if conv.Stage != state.StageSelectingRecipients || conv.Data.Broadcast == nil {
			f.ack(ctx, ev.CallbackID, "Нет активной рассылки")
			return
		}
		if ev.Callback == CallbackSelected {
			conv.Data.Broadcast.Mode = state.ModeSelected
		} else {
			conv.Data.Broadcast.Mode = state.ModeExclude
		}
		conv.Stage = state.StageAwaitingRecipientIDs
		if err := f.states.Commit(ev.ActorID, conv); err != nil {
			return
		}
		f.ack(ctx, ev.CallbackID, "")
		f.reply(ctx, ev.ChatID, "🔢 Пришли ID пользователей через пробел или запятую:")
	case CallbackAll:
		if conv.Stage != state.StageSelectingRecipients || conv.Data.Broadcast == nil {
			f.ack(ctx, ev.CallbackID, "Нет активной рассылки")
			return
		}
		conv.Data.Broadcast.Mode = state.ModeAll
		conv.Stage = state.StageAwaitingPayload
		if err := f.states.Commit(ev.ActorID, conv); err != nil {
			return
		}
		f.ack(ctx, ev.CallbackID, "")
		f.reply(ctx, ev.ChatID, "✉️ Пришли сообщение для рассылки (текст или медиа):")
	case CallbackConfirm:
		if conv.Stage != state.StageAwaitingConfirmation || conv.Data.Broadcast == nil || conv.Data.Broadcast.Payload == nil {
			f.ack(ctx, ev.CallbackID, "Нечего подтверждать")
			return
		}
		f.ack(ctx, ev.CallbackID, "")
		f.run(ctx, ev.ActorID, ev.ChatID, conv)
	case CallbackCancel:
		f.ack(ctx, ev.CallbackID, "")
		f.states.Clear(ev.ActorID)
		f.reply(ctx, ev.ChatID, "✅ Рассылка отменена.")
	}
}

// HandleBatch processes operator input while the flow awaits ids or a
// payload.
func (f *FSM) HandleBatch(ctx context.Context, batch *event.Batch) {
	actorID := batch.Actor()
	chatID := batch.Events[0].ChatID
	conv := f.states.Load(actorID)

	if conv.Data.Broadcast == nil {
		return
	}
	switch conv.Stage {
	case state.StageAwaitingRecipientIDs:
		f.handleIDs(ctx, chatID, batch, conv)
	case state.StageAwaitingPayload:
		f.handlePayload(ctx, chatID, batch, conv)
	}
}

// handleIDs parses recipient ids from free-form text. Tokens that are
// not numeric are dropped silently.
func (f *FSM) handleIDs(ctx context.Context, chatID int64, batch *event.Batch, conv state.Conversation) {
	ids := parseIDs(batch.FirstText())
	if len(ids) == 0 {
		f.reply(ctx, chatID, "❌ Не нашёл ни одного ID. Пришли числа через пробел или запятую.")
		return
	}
	conv.Data.Broadcast.IDs = ids
	conv.Stage = state.StageAwaitingPayload
	if err := f.states.Commit(batch.Actor(), conv); err != nil {
		return
	}
	f.reply(ctx, chatID, fmt.Sprintf("✅ Принято ID: %d\n\n✉️ Теперь пришли сообщение для рассылки:", len(ids)))
}

func (f *FSM) handlePayload(ctx context.Context, chatID int64, batch *event.Batch, conv state.Conversation) {
	media := batch.MediaItems()
	text := batch.FirstText()
	if len(media) == 0 && text == "" {
		f.reply(ctx, chatID, "❌ Пришли текст или медиа для рассылки.")
		return
	}

	if len(media) > 0 {
		conv.Data.Broadcast.Payload = &state.Payload{Media: media, Caption: text}
	} else {
		conv.Data.Broadcast.Payload = &state.Payload{Text: text}
	}
	conv.Stage = state.StageAwaitingConfirmation
	if err := f.states.Commit(batch.Actor(), conv); err != nil {
		return
	}

	// Echo the payload back so the operator confirms what will actually
	// be sent.
	f.deliver(ctx, chatID, conv.Data.Broadcast.Payload)
	opts := &transport.SendOptions{Keyboard: [][]transport.Button{
		{{Text: "✅ Отправить", Data: CallbackConfirm}},
		{{Text: "❌ Отмена", Data: CallbackCancel}},
	}}
	if _, err := f.msgr.SendText(ctx, chatID, "👆 Так будет выглядеть рассылка.\n\nОтправляем?", opts); err != nil {
		log.Printf("broadcast: confirm keyboard: %v", err)
	}
}

// run resolves the audience and fans the payload out sequentially.
func (f *FSM) run(ctx context.Context, actorID, chatID int64, conv state.Conversation) {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		f.reply(ctx, chatID, "⏳ Рассылка уже выполняется.")
		return
	}
	f.running = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	conv.Stage = state.StageSending
	if err := f.states.Commit(actorID, conv); err != nil {
		return
	}

	recipients, err := f.resolve(ctx, conv.Data.Broadcast)
	if err != nil {
		log.Printf("broadcast: resolve recipients: %v", err)
		f.states.Clear(actorID)
		f.reply(ctx, chatID, "❌ Не удалось получить список получателей: "+err.Error())
		return
	}
	if len(recipients) == 0 {
		f.states.Clear(actorID)
		f.reply(ctx, chatID, "❌ Список получателей пуст, рассылка не выполнена.")
		return
	}

	f.reply(ctx, chatID, fmt.Sprintf("🚀 Начинаю рассылку для %d получателей...", len(recipients)))

	start := f.now()
	payload := conv.Data.Broadcast.Payload
	var sent, failed int
	for i, id := range recipients {
		if i > 0 {
			f.sleep(sendDelay)
		}
		if err := f.deliver(ctx, id, payload); err != nil {
			failed++
			log.Printf("broadcast: send to %d: %v", id, err)
			continue
		}
		sent++
	}
	elapsed := f.now().Sub(start).Round(time.Second)

	f.states.Clear(actorID)
	f.reply(ctx, chatID, fmt.Sprintf(
		"✅ Рассылка завершена!\n\n📨 Отправлено: %d\n❌ Ошибок: %d\n⏱ Время: %s",
		sent, failed, elapsed))
}

// resolve computes the final recipient list at confirmation time, so
// users registered after the ids were entered are still covered by the
// "all" modes.
func (f *FSM) resolve(ctx context.Context, b *state.Broadcast) ([]int64, error) {
	switch b.Mode {
	case state.ModeAll:
		return f.users.ListRecipientIDs(ctx)
	case state.ModeExclude:
		return f.users.ListRecipientIDsExcept(ctx, b.IDs)
	default:
		return b.IDs, nil
	}
}

func (f *FSM) deliver(ctx context.Context, chatID int64, p *state.Payload) error {
	if len(p.Media) > 0 {
		_, err := f.msgr.SendMedia(ctx, chatID, p.Media, p.Caption, nil)
		return err
	}
	_, err := f.msgr.SendText(ctx, chatID, p.Text, nil)
	return err
}

// Running reports whether a fan-out is currently in flight.
func (f *FSM) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func parseIDs(text string) []int64 {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\n' || r == '\t' || r == ';'
	})
	var ids []int64
	for _, tok := range fields {
		id, err := strconv.ParseInt(tok, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (f *FSM) reply(ctx context.Context, chatID int64, text string) {
	if _, err := f.msgr.SendText(ctx, chatID, text, nil); err != nil {
		log.Printf("broadcast: reply to %d: %v", chatID, err)
	}
}

func (f *FSM) ack(ctx context.Context, callbackID, text string) {
	if callbackID == "" {
		return
	}
	if err := f.msgr.AnswerCallback(ctx, callbackID, text); err != nil {
		log.Printf("broadcast: answer callback: %v", err)
	}
}
