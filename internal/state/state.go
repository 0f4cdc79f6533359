// Package state holds the per-actor conversation state shared by the
// authoring and broadcast state machines. Commits are versioned so a
// cancel processed mid-transition wins: the stale transition's commit
// is rejected instead of resurrecting cleared state.
package state

import (
	"errors"

	"github.com/avtogeo/avtobot/internal/event"
)

// ErrStale is returned by Commit when the conversation changed after
// the caller loaded it.
var ErrStale = errors.New("conversation state changed during transition")

// Stage enumerates the FSM stages of a conversation.
type Stage int

const (
	StageIdle Stage = iota

	// Authoring stages.
	StageAwaitingText
	StageAwaitingManualText
	StageAwaitingCorrection

	// Broadcast stages.
	StageSelectingRecipients
	StageAwaitingRecipientIDs
	StageAwaitingPayload
	StageAwaitingConfirmation
	StageSending
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageAwaitingText:
		return "awaiting_text"
	case StageAwaitingManualText:
		return "awaiting_manual_text"
	case StageAwaitingCorrection:
		return "awaiting_correction"
	case StageSelectingRecipients:
		return "selecting_recipients"
	case StageAwaitingRecipientIDs:
		return "awaiting_recipient_ids"
	case StageAwaitingPayload:
		return "awaiting_payload"
	case StageAwaitingConfirmation:
		return "awaiting_confirmation"
	case StageSending:
		return "sending"
	default:
		return "unknown"
	}
}

// Broadcasting reports whether the stage belongs to the broadcast flow.
func (s Stage) Broadcasting() bool {
	switch s {
	case StageSelectingRecipients, StageAwaitingRecipientIDs,
		StageAwaitingPayload, StageAwaitingConfirmation, StageSending:
		return true
	default:
		return false
	}
}

// BroadcastMode selects how the recipient set is built.
type BroadcastMode string

const (
	ModeSelected BroadcastMode = "selected" // explicit allow-list
	ModeAll      BroadcastMode = "all"
	ModeExclude  BroadcastMode = "exclude" // all except deny-list
)

// Payload is the message a broadcast delivers to each recipient.
type Payload struct {
	Text    string
	Media   []event.MediaItem
	Caption string
}

// Broadcast is the transient draft of one broadcast run.
type Broadcast struct {
	Mode    BroadcastMode
	IDs     []int64 // allow- or deny-list depending on Mode
	Payload *Payload
}

// Data is the conversation's data bag. Slices are replaced wholesale on
// transitions, never mutated in place, so loaded copies stay coherent.
type Data struct {
	// Authoring.
	PendingText string
	ForwardFrom int64
	Media       []event.MediaItem
	SourceText  string
	Caption     string
	SubjectID   int64
	OperatorID  int64

	// Broadcast.
	Broadcast *Broadcast
}

// Conversation is one actor's FSM snapshot.
type Conversation struct {
	Stage Stage
	Data  Data

	version uint64
}
