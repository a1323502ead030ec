// Package session implements the interaction state machine: the single
// authority over which audio/network activity is live at any instant.
package session

import (
	"errors"

	"github.com/aliya-ai/aliya-client/internal/chat"
)

// State is the current interaction state. Exactly one is current at any
// instant; only the machine's event loop mutates it.
type State string

const (
	StateIdle             State = "idle"
	StatePassiveListening State = "passive_listening"
	StateRecording        State = "recording"
	StateAwaitingReply    State = "awaiting_reply"
	StateSpeaking         State = "speaking"
	StateRecovering       State = "recovering"
)

// Common errors
var (
	// ErrBusy rejects a new utterance while a reply is in flight or
	// playing. Barge-in is not supported.
	ErrBusy = errors.New("a reply is already in progress")
	// ErrNotRunning is returned for inputs after the machine stopped.
	ErrNotRunning = errors.New("session not running")
	// ErrWrongState rejects an input the current state cannot accept.
	ErrWrongState = errors.New("input not valid in current state")
)

// inputEvent is the tagged variant consumed by the transition loop.
// Every externally-observed occurrence becomes one of these.
type inputEvent interface{ isInput() }

// evWakeUtterance is a finalized wake utterance from the passive loop.
type evWakeUtterance struct{ text string }

// evTypedUtterance is a typed (or UI-submitted) user utterance.
type evTypedUtterance struct{ text string }

// evToggleRecord flips manual recording on or off.
type evToggleRecord struct{}

// evStreamEvent is one decoded unit of the open reply stream.
type evStreamEvent struct{ event chat.StreamEvent }

// evStreamClosed reports the reply stream ending normally.
type evStreamClosed struct{}

// evManualTurn is the completed transcribe-and-chat round trip.
type evManualTurn struct {
	resp *chat.TurnResponse
	err  error
}

// evPlaybackIdle reports the playback queue draining.
type evPlaybackIdle struct{}

// evFatal reports an unrecoverable collaborator failure; chat stays
// functional in the degraded Recovering state.
type evFatal struct{ err error }

func (evWakeUtterance) isInput()  {}
func (evTypedUtterance) isInput() {}
func (evToggleRecord) isInput()   {}
func (evStreamEvent) isInput()    {}
func (evStreamClosed) isInput()   {}
func (evManualTurn) isInput()     {}
func (evPlaybackIdle) isInput()   {}
func (evFatal) isInput()          {}
