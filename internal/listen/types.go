// Package listen provides passive wake-word listening for the Aliya client.
package listen

import (
	"context"
	"errors"
)

// Common errors
var (
	ErrRecognizerUnavailable = errors.New("recognizer unavailable")
	ErrNotListening          = errors.New("recognizer session not active")
)

// Result is one transcript report from a recognition session. Partial
// results may be superseded; a final result closes the utterance.
type Result struct {
	Text    string
	IsFinal bool
}

// Status is the terminal report of one recognition session.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusIdle      Status = "idle"
	StatusError     Status = "error"
)

// Recognizer runs one continuous recognition session at a time. Listen
// blocks, delivering results through onResult until the session ends,
// and reports how it ended. The microphone is owned by the recognizer
// for the duration of the session.
type Recognizer interface {
	Name() string
	Listen(ctx context.Context, onResult func(Result)) (Status, error)
}
