package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/avtogeo/avtobot/internal/authoring"
	"github.com/avtogeo/avtobot/internal/broadcast"
	"github.com/avtogeo/avtobot/internal/event"
	"github.com/avtogeo/avtobot/internal/lexicon"
	"github.com/avtogeo/avtobot/internal/router"
	"github.com/avtogeo/avtobot/internal/state"
	"github.com/avtogeo/avtobot/internal/store"
	"github.com/avtogeo/avtobot/internal/transport"
)

const (
	adminID = int64(1)
	userID  = int64(42)
	groupID = int64(-100500)
)

type textSend struct {
	chatID int64
	text   string
	opts   *transport.SendOptions
}

type forwardCall struct {
	to, from int64
	msgIDs   []int
	threadID int
}

type fakeMessenger struct {
	texts    []textSend
	media    []int64 // chat ids
	forwards []forwardCall
}

func (m *fakeMessenger) SendText(_ context.Context, chatID int64, text string, opts *transport.SendOptions) (int, error) {
	m.texts = append(m.texts, textSend{chatID, text, opts})
	return len(m.texts), nil
}

func (m *fakeMessenger) SendMedia(_ context.Context, chatID int64, _ []event.MediaItem, _ string, _ *transport.SendOptions) ([]int, error) {
	m.media = append(m.media, chatID)
	return []int{1}, nil
}

func (m *fakeMessenger) DeleteMessage(context.Context, int64, int) error { return nil }

func (m *fakeMessenger) ProbeMessage(context.Context, int64, int) (transport.ProbeResult, error) {
	return transport.ProbeUnmodified, nil
}

func (m *fakeMessenger) CreateTopic(context.Context, int64, string) (int64, error) { return 0, nil }

func (m *fakeMessenger) Forward(_ context.Context, to, from int64, msgIDs []int, threadID int) error {
	m.forwards = append(m.forwards, forwardCall{to, from, msgIDs, threadID})
	return nil
}

func (m *fakeMessenger) AnswerCallback(context.Context, string, string) error { return nil }

func (m *fakeMessenger) Download(context.Context, string) ([]byte, error) {
	return []byte("blob"), nil
}

func (m *fakeMessenger) lastText() string {
	if len(m.texts) == 0 {
		return ""
	}
	return m.texts[len(m.texts)-1].text
}

type fakeUsers struct {
	upserted  []int64
	languages map[int64]string
	topicUser map[int64]int64 // threadID -> userID
}

func (u *fakeUsers) UpsertUser(_ context.Context, id int64, _ string) error {
	u.upserted = append(u.upserted, id)
	return nil
}

func (u *fakeUsers) GetUser(_ context.Context, id int64) (*store.User, error) {
	lang, ok := u.languages[id]
	if !ok {
		return nil, nil
	}
	return &store.User{ID: id, Language: lang}, nil
}

func (u *fakeUsers) SetUserLanguage(_ context.Context, id int64, lang string) error {
	if u.languages == nil {
		u.languages = make(map[int64]string)
	}
	u.languages[id] = lang
	return nil
}

func (u *fakeUsers) GetThreadUser(_ context.Context, threadID int64) (int64, error) {
	return u.topicUser[threadID], nil
}

type fakeThreads struct {
	threadID int64
	err      error
	calls    int
}

func (t *fakeThreads) GetOrCreateThread(context.Context, int64, string) (int64, error) {
	t.calls++
	return t.threadID, t.err
}

type nopGen struct{}

func (nopGen) Generate(_ context.Context, source, _ string) (string, error) {
	return "ad: " + source, nil
}

type nopObjects struct{}

func (nopObjects) Put(_ context.Context, key string, _ []byte) (string, error) { return key, nil }
func (nopObjects) Presign(context.Context, string, time.Duration) (string, error) {
	return "", errors.New("not implemented")
}

type nopPosts struct{}

func (nopPosts) CreatePost(context.Context, *store.PostRecord) error { return nil }

type recipients struct{}

func (recipients) ListRecipientIDs(context.Context) ([]int64, error)            { return nil, nil }
func (recipients) ListRecipientIDsExcept(context.Context, []int64) ([]int64, error) { return nil, nil }

func newTestBot() (*Bot, *fakeMessenger, *fakeUsers, *fakeThreads) {
	msgr := &fakeMessenger{}
	users := &fakeUsers{topicUser: map[int64]int64{}}
	threads := &fakeThreads{threadID: 77}
	states := state.NewStore()

	auth := authoring.New(states, msgr, nopGen{}, nopObjects{}, nopPosts{}, -100600, "https://t.me/ads")
	bc := broadcast.New(states, msgr, recipients{})

	b := New(context.Background(), Options{
		Messenger: msgr,
		Users:     users,
		Threads:   threads,
		States:    states,
		Authoring: auth,
		Broadcast: bc,
		AdminIDs:  []int64{adminID},
		GroupID:   groupID,
	})
	return b, msgr, users, threads
}

func privateText(actorID int64, text string) event.InboundEvent {
	return event.InboundEvent{
		ActorID: actorID, ChatID: actorID,
		Surface: event.SurfacePrivate,
		Kind:    event.KindText, Text: text,
		MessageID: 5,
	}
}

func TestUserMessageRelayedIntoTopic(t *testing.T) {
	b, msgr, users, threads := newTestBot()
	ctx := context.Background()

	b.handleEvent(ctx, privateText(userID, "хочу продать машину"))

	if len(users.upserted) != 1 || users.upserted[0] != userID {
		t.Errorf("upserts = %v", users.upserted)
	}
	if threads.calls != 1 {
		t.Fatalf("thread lookups = %d", threads.calls)
	}
	if len(msgr.forwards) != 1 {
		t.Fatalf("forwards = %d", len(msgr.forwards))
	}
	fw := msgr.forwards[0]
	if fw.to != groupID || fw.from != userID || fw.threadID != 77 {
		t.Errorf("forward = %+v", fw)
	}
}

func TestBusyRouterAsksUserToRetry(t *testing.T) {
	b, msgr, _, threads := newTestBot()
	threads.err = router.ErrBusy

	b.handleEvent(context.Background(), privateText(userID, "привет"))

	if len(msgr.forwards) != 0 {
		t.Errorf("forwarded despite busy router")
	}
	if !strings.Contains(msgr.lastText(), "ещё раз") {
		t.Errorf("reply = %q", msgr.lastText())
	}
}

func TestStartSendsLanguagePicker(t *testing.T) {
	b, msgr, users, _ := newTestBot()

	b.handleEvent(context.Background(), privateText(userID, "/start"))

	if len(users.upserted) != 1 {
		t.Errorf("user not registered on /start")
	}
	last := msgr.texts[len(msgr.texts)-1]
	if last.opts == nil || len(last.opts.Keyboard) != len(lexicon.Languages) {
		t.Fatalf("picker keyboard = %+v", last.opts)
	}
}

func TestLanguageChoiceStoresAndRepliesWithForm(t *testing.T) {
	b, msgr, users, _ := newTestBot()

	b.handleEvent(context.Background(), event.InboundEvent{
		ActorID: userID, ChatID: userID,
		Surface: event.SurfacePrivate,
		Kind:    event.KindCallback, Callback: "lang_ka", CallbackID: "cb",
	})

	if users.languages[userID] != "ka" {
		t.Errorf("language = %q", users.languages[userID])
	}
	if msgr.lastText() != lexicon.AdForm("ka") {
		t.Errorf("reply is not the georgian ad form")
	}
}

func TestInfoUsesStoredLanguage(t *testing.T) {
	b, msgr, users, _ := newTestBot()
	users.languages = map[int64]string{userID: "en"}

	b.handleEvent(context.Background(), privateText(userID, "/info"))

	if msgr.lastText() != lexicon.AdForm("en") {
		t.Errorf("reply is not the english ad form")
	}
}

func TestRepeatedCommandThrottled(t *testing.T) {
	b, msgr, _, _ := newTestBot()
	ctx := context.Background()

	b.handleEvent(ctx, privateText(userID, "/language"))
	sends := len(msgr.texts)
	b.handleEvent(ctx, privateText(userID, "/language"))

	if len(msgr.texts) != sends {
		t.Errorf("second /language within the window was not throttled")
	}
}

func TestAdminMediaGoesToAuthoring(t *testing.T) {
	b, msgr, _, _ := newTestBot()

	b.handleEvent(context.Background(), event.InboundEvent{
		ActorID: adminID, ChatID: adminID,
		Surface: event.SurfacePrivate,
		Kind:    event.KindPhoto, Text: "bmw 2019",
		Media: &event.MediaItem{Kind: event.KindPhoto, FileID: "f1"},
	})

	// The authoring flow synthesized a caption and previewed it.
	if len(msgr.media) == 0 {
		t.Fatal("no preview sent")
	}
	if b.states.Load(adminID).Data.Caption != "ad: bmw 2019" {
		t.Errorf("caption = %q", b.states.Load(adminID).Data.Caption)
	}
}

func TestUnauthorizedBroadcastRefused(t *testing.T) {
	b, msgr, _, _ := newTestBot()

	b.handleEvent(context.Background(), privateText(userID, "/broadcast"))

	if !strings.Contains(msgr.lastText(), "администраторам") {
		t.Errorf("reply = %q", msgr.lastText())
	}
	if b.states.Stage(userID) != state.StageIdle {
		t.Errorf("broadcast flow started for non-admin")
	}
}

func TestAdminBroadcastFlowRouting(t *testing.T) {
	b, _, _, _ := newTestBot()
	ctx := context.Background()

	b.handleEvent(ctx, privateText(adminID, "/broadcast"))
	if b.states.Stage(adminID) != state.StageSelectingRecipients {
		t.Fatalf("stage = %v", b.states.Stage(adminID))
	}

	b.handleEvent(ctx, event.InboundEvent{
		ActorID: adminID, ChatID: adminID,
		Surface: event.SurfacePrivate,
		Kind:    event.KindCallback, Callback: broadcast.CallbackSelected, CallbackID: "cb",
	})
	if b.states.Stage(adminID) != state.StageAwaitingRecipientIDs {
		t.Fatalf("stage = %v", b.states.Stage(adminID))
	}

	// While broadcasting, plain text is routed to the broadcast FSM,
	// not authoring.
	b.handleEvent(ctx, privateText(adminID, "101 102"))
	if b.states.Stage(adminID) != state.StageAwaitingPayload {
		t.Errorf("stage = %v, id list not consumed by broadcast flow", b.states.Stage(adminID))
	}
}

func TestTopicReplyRelayedToUser(t *testing.T) {
	b, msgr, users, _ := newTestBot()
	users.topicUser[77] = userID

	b.handleEvent(context.Background(), event.InboundEvent{
		ActorID: adminID, ChatID: groupID,
		Surface:  event.SurfaceGroup,
		ThreadID: 77,
		Kind:     event.KindText, Text: "звоните завтра",
	})

	last := msgr.texts[len(msgr.texts)-1]
	if last.chatID != userID || last.text != "звоните завтра" {
		t.Errorf("relay = %+v", last)
	}
}

func TestUnknownTopicReplyIgnored(t *testing.T) {
	b, msgr, _, _ := newTestBot()

	b.handleEvent(context.Background(), event.InboundEvent{
		ActorID: adminID, ChatID: groupID,
		Surface:  event.SurfaceGroup,
		ThreadID: 99,
		Kind:     event.KindText, Text: "кому это",
	})

	if len(msgr.texts) != 0 {
		t.Errorf("relayed a reply from an unmapped topic")
	}
}

func TestNonAdminGroupMessageNotRelayed(t *testing.T) {
	b, msgr, users, _ := newTestBot()
	users.topicUser[77] = userID

	b.handleEvent(context.Background(), event.InboundEvent{
		ActorID: userID, ChatID: groupID,
		Surface:  event.SurfaceGroup,
		ThreadID: 77,
		Kind:     event.KindText, Text: "hi",
	})

	if len(msgr.texts) != 0 {
		t.Errorf("non-admin group message relayed")
	}
}
