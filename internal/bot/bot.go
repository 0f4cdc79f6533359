// Package bot wires the orchestration pipeline together: inbound
// events pass moderation, get serialized per actor, aggregated into
// batches, and routed to the user relay, the authoring flow, or the
// broadcast flow.
package bot

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/avtogeo/avtobot/internal/album"
	"github.com/avtogeo/avtobot/internal/authoring"
	"github.com/avtogeo/avtobot/internal/broadcast"
	"github.com/avtogeo/avtobot/internal/dispatch"
	"github.com/avtogeo/avtobot/internal/event"
	"github.com/avtogeo/avtobot/internal/lexicon"
	"github.com/avtogeo/avtobot/internal/moderation"
	"github.com/avtogeo/avtobot/internal/router"
	"github.com/avtogeo/avtobot/internal/state"
	"github.com/avtogeo/avtobot/internal/store"
	"github.com/avtogeo/avtobot/internal/throttle"
	"github.com/avtogeo/avtobot/internal/transport"
)

// langCallbackPrefix prefixes the language picker callback data.
const langCallbackPrefix = "lang_"

// ThreadRouter resolves a user to their forum topic.
type ThreadRouter interface {
	GetOrCreateThread(ctx context.Context, userID int64, username string) (int64, error)
}

// Users is the slice of the store the pipeline needs directly.
type Users interface {
	UpsertUser(ctx context.Context, id int64, username string) error
	GetUser(ctx context.Context, id int64) (*store.User, error)
	SetUserLanguage(ctx context.Context, id int64, lang string) error
	GetThreadUser(ctx context.Context, threadID int64) (int64, error)
}

// Bot is the conversation orchestrator.
type Bot struct {
	msgr    transport.Messenger
	users   Users
	threads ThreadRouter
	states  *state.Store
	filter  *moderation.Filter
	guard   *throttle.Guard

	authoring *authoring.FSM
	broadcast *broadcast.FSM

	dispatcher *dispatch.Dispatcher
	albums     *album.Aggregator

	admins  map[int64]bool
	groupID int64

	// batchMu serializes batch processing per actor: timer-sealed album
	// batches arrive outside the dispatcher's mailbox and must not
	// interleave with the actor's other batches.
	batchMu sync.Map // int64 -> *sync.Mutex
}

// Options carries the collaborators of the pipeline.
type Options struct {
	Messenger transport.Messenger
	Users     Users
	Threads   ThreadRouter
	States    *state.Store
	Filter    *moderation.Filter
	Authoring *authoring.FSM
	Broadcast *broadcast.FSM
	AdminIDs  []int64
	GroupID   int64
}

// New builds the pipeline and starts the per-actor dispatcher bound to
// ctx.
func New(ctx context.Context, opts Options) *Bot {
	admins := make(map[int64]bool, len(opts.AdminIDs))
	for _, id := range opts.AdminIDs {
		admins[id] = true
	}
	b := &Bot{
		msgr:      opts.Messenger,
		users:     opts.Users,
		threads:   opts.Threads,
		states:    opts.States,
		filter:    opts.Filter,
		guard:     throttle.NewGuard(throttle.DefaultWindow),
		authoring: opts.Authoring,
		broadcast: opts.Broadcast,
		admins:    admins,
		groupID:   opts.GroupID,
	}
	b.dispatcher = dispatch.New(ctx, b.handleEvent)
	b.dispatcher.SetPanicHandler(func(actorID int64, recovered any) {
		// A crashed transition must not leave the actor wedged.
		b.states.Clear(actorID)
		// Private chat ids equal actor ids, so a generic note reaches
		// the actor directly.
		b.reply(ctx, actorID, "⚠️ Что-то пошло не так. Попробуй ещё раз.")
	})
	b.albums = album.New(album.DefaultQuietPeriod, func(batch *event.Batch) {
		b.processBatch(ctx, batch)
	})
	return b
}

// HandleUpdate is the transport sink: moderation first, then per-actor
// serialization.
func (b *Bot) HandleUpdate(ctx context.Context, ev event.InboundEvent) {
	if b.filter != nil && b.filter.Handle(ctx, ev) {
		return
	}
	if ev.FromBot {
		return
	}
	b.dispatcher.Submit(ev)
}

// Stop drains the mailboxes and drops buffered album groups.
func (b *Bot) Stop() {
	b.albums.Stop()
	b.dispatcher.Wait()
}

// handleEvent runs inside the actor's mailbox goroutine.
func (b *Bot) handleEvent(ctx context.Context, ev event.InboundEvent) {
	if ev.Kind == event.KindCallback {
		b.handleCallback(ctx, ev)
		return
	}
	batch := b.albums.Submit(ev)
	if batch == nil {
		return
	}
	b.processBatch(ctx, batch)
}

func (b *Bot) actorLock(actorID int64) *sync.Mutex {
	v, _ := b.batchMu.LoadOrStore(actorID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (b *Bot) processBatch(ctx context.Context, batch *event.Batch) {
	if len(batch.Events) == 0 {
		return
	}
	mu := b.actorLock(batch.Actor())
	mu.Lock()
	defer mu.Unlock()

	switch batch.Surface() {
	case event.SurfacePrivate:
		b.handlePrivate(ctx, batch)
	case event.SurfaceGroup:
		b.handleGroup(ctx, batch)
	}
}

func (b *Bot) handlePrivate(ctx context.Context, batch *event.Batch) {
	first := batch.Events[0]
	if first.IsCommand() {
		b.handleCommand(ctx, first)
		return
	}
	if b.admins[first.ActorID] {
		if b.states.Stage(first.ActorID).Broadcasting() {
			b.broadcast.HandleBatch(ctx, batch)
			return
		}
		b.authoring.HandleBatch(ctx, batch)
		return
	}
	b.relayToTopic(ctx, batch)
}

// relayToTopic forwards a user's private submission into their forum
// topic, creating the topic on first contact.
func (b *Bot) relayToTopic(ctx context.Context, batch *event.Batch) {
	first := batch.Events[0]
	if err := b.users.UpsertUser(ctx, first.ActorID, first.Username); err != nil {
		log.Printf("bot: upsert user %d: %v", first.ActorID, err)
	}

	threadID, err := b.threads.GetOrCreateThread(ctx, first.ActorID, first.Username)
	if err != nil {
		if errors.Is(err, router.ErrBusy) {
			b.reply(ctx, first.ChatID, "⏳ Секунду, обрабатываю предыдущее сообщение. Отправь ещё раз.")
			return
		}
		log.Printf("bot: thread for user %d: %v", first.ActorID, err)
		b.reply(ctx, first.ChatID, "❌ Не получилось доставить сообщение, попробуй позже.")
		return
	}

	if err := b.msgr.Forward(ctx, b.groupID, first.ChatID, batch.MessageIDs(), int(threadID)); err != nil {
		log.Printf("bot: forward from user %d to topic %d: %v", first.ActorID, threadID, err)
		b.reply(ctx, first.ChatID, "❌ Не получилось доставить сообщение, попробуй позже.")
	}
}

// handleGroup relays an operator's message inside a user's forum topic
// back to that user's private chat.
func (b *Bot) handleGroup(ctx context.Context, batch *event.Batch) {
	first := batch.Events[0]
	if first.ThreadID == 0 || !b.admins[first.ActorID] {
		return
	}
	userID, err := b.users.GetThreadUser(ctx, int64(first.ThreadID))
	if err != nil {
		log.Printf("bot: resolve topic %d: %v", first.ThreadID, err)
		return
	}
	if userID == 0 {
		return
	}

	if media := batch.MediaItems(); len(media) > 0 {
		if _, err := b.msgr.SendMedia(ctx, userID, media, batch.FirstText(), nil); err != nil {
			log.Printf("bot: relay media to user %d: %v", userID, err)
		}
		return
	}
	text := batch.FirstText()
	if text == "" {
		return
	}
	if _, err := b.msgr.SendText(ctx, userID, text, nil); err != nil {
		log.Printf("bot: relay text to user %d: %v", userID, err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, ev event.InboundEvent) {
	cmd := ev.Command()
	if !b.guard.Allow(ev.ActorID, "/"+cmd) {
		return
	}

	switch cmd {
	case "start":
		if err := b.users.UpsertUser(ctx, ev.ActorID, ev.Username); err != nil {
			log.Printf("bot: upsert user %d: %v", ev.ActorID, err)
		}
		b.sendLanguagePicker(ctx, ev.ChatID)
	case "language":
		b.sendLanguagePicker(ctx, ev.ChatID)
	case "info":
		b.reply(ctx, ev.ChatID, lexicon.AdForm(b.userLanguage(ctx, ev.ActorID)))
	case "cancel":
		if !b.admins[ev.ActorID] {
			return
		}
		b.authoring.Cancel(ctx, ev.ActorID, ev.ChatID)
	case "reset":
		if !b.admins[ev.ActorID] {
			return
		}
		b.states.Clear(ev.ActorID)
		b.reply(ctx, ev.ChatID, "♻️ Состояние сброшено.")
	case "broadcast":
		if !b.admins[ev.ActorID] {
			log.Printf("bot: unauthorized /broadcast from %d", ev.ActorID)
			b.reply(ctx, ev.ChatID, "⛔ Команда доступна только администраторам.")
			return
		}
		b.broadcast.Start(ctx, ev.ActorID, ev.ChatID)
	}
}

func (b *Bot) handleCallback(ctx context.Context, ev event.InboundEvent) {
	switch {
	case strings.HasPrefix(ev.Callback, langCallbackPrefix):
		b.handleLanguageChoice(ctx, ev)
	case strings.HasPrefix(ev.Callback, "post_"):
		if !b.admins[ev.ActorID] {
			return
		}
		b.authoring.HandleCallback(ctx, ev)
	case strings.HasPrefix(ev.Callback, "bcast_"):
		if !b.admins[ev.ActorID] {
			return
		}
		b.broadcast.HandleCallback(ctx, ev)
	}
}

func (b *Bot) sendLanguagePicker(ctx context.Context, chatID int64) {
	rows := make([][]transport.Button, 0, len(lexicon.Languages))
	for _, l := range lexicon.Languages {
		rows = append(rows, []transport.Button{{Text: l.Label, Data: langCallbackPrefix + l.Code}})
	}
	opts := &transport.SendOptions{Keyboard: rows}
	if _, err := b.msgr.SendText(ctx, chatID, lexicon.SelectLanguage, opts); err != nil {
		log.Printf("bot: language picker to %d: %v", chatID, err)
	}
}

func (b *Bot) handleLanguageChoice(ctx context.Context, ev event.InboundEvent) {
	lang := strings.TrimPrefix(ev.Callback, langCallbackPrefix)
	if !lexicon.Known(lang) {
		return
	}
	if err := b.users.SetUserLanguage(ctx, ev.ActorID, lang); err != nil {
		log.Printf("bot: set language for %d: %v", ev.ActorID, err)
	}
	if err := b.msgr.AnswerCallback(ctx, ev.CallbackID, ""); err != nil {
		log.Printf("bot: answer callback: %v", err)
	}
	b.reply(ctx, ev.ChatID, lexicon.AdForm(lang))
}

func (b *Bot) userLanguage(ctx context.Context, id int64) string {
	u, err := b.users.GetUser(ctx, id)
	if err != nil || u == nil || u.Language == "" {
		return lexicon.DefaultLanguage
	}
	return u.Language
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.msgr.SendText(ctx, chatID, text, nil); err != nil {
		log.Printf("bot: reply to %d: %v", chatID, err)
	}
}
