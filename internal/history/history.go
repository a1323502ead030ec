// Package history provides the bounded conversation turn log for the Aliya client.
package history

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Emotion is the expressive label attached to an assistant turn.
type Emotion string

const (
	EmotionNeutral    Emotion = "neutral"
	EmotionHappy      Emotion = "happy"
	EmotionSad        Emotion = "sad"
	EmotionThinking   Emotion = "thinking"
	EmotionSurprised  Emotion = "surprised"
	EmotionEmpathetic Emotion = "empathetic"
)

// ParseEmotion maps a backend emotion tag to a known Emotion.
// Unknown tags degrade to neutral.
func ParseEmotion(tag string) Emotion {
	switch Emotion(tag) {
	case EmotionHappy, EmotionSad, EmotionThinking, EmotionSurprised, EmotionEmpathetic, EmotionNeutral:
		return Emotion(tag)
	default:
		return EmotionNeutral
	}
}

// Turn is one message in the conversation.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	AudioURL  string    `json:"audioUrl,omitempty"`
	Emotion   Emotion   `json:"emotion,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// InProgress marks the assistant turn still being streamed. Such a
	// turn is visible for UI updates but excluded from context windows.
	InProgress bool `json:"inProgress"`
}

// Patch describes an incremental update to the in-progress assistant turn.
type Patch struct {
	AppendText string
	Emotion    *Emotion
	AudioURL   *string
	Finalize   bool
}

// Common errors
var (
	ErrNoInProgressTurn = errors.New("last turn is not an in-progress assistant turn")
	ErrEmptyBuffer      = errors.New("history buffer is empty")
)

// Config configures the Buffer.
type Config struct {
	// MaxTurns is the maximum number of turns retained (default: 100).
	MaxTurns int
}

// DefaultConfig returns sensible defaults for turn retention.
func DefaultConfig() Config {
	return Config{MaxTurns: 100}
}

// Buffer is a bounded ordered log of conversation turns. It is mutated
// only by the session state machine; reads are safe from any goroutine.
type Buffer struct {
	mu     sync.RWMutex
	turns  []Turn
	config Config
}

// NewBuffer creates a new Buffer with the given config.
func NewBuffer(config Config) *Buffer {
	if config.MaxTurns <= 0 {
		config.MaxTurns = 100
	}
	return &Buffer{
		turns:  make([]Turn, 0, config.MaxTurns),
		config: config,
	}
}

// Append records a new turn and returns its assigned ID.
// Old turns beyond MaxTurns are trimmed, oldest first.
func (b *Buffer) Append(turn Turn) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	b.turns = append(b.turns, turn)
	if len(b.turns) > b.config.MaxTurns {
		b.turns = b.turns[len(b.turns)-b.config.MaxTurns:]
	}
	return turn.ID
}

// MutateLast applies a patch to the last turn. It is valid only while the
// last turn is the in-progress assistant turn.
func (b *Buffer) MutateLast(patch Patch) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.turns) == 0 {
		return ErrEmptyBuffer
	}

	last := &b.turns[len(b.turns)-1]
	if last.Role != RoleAssistant || !last.InProgress {
		return ErrNoInProgressTurn
	}

	if patch.AppendText != "" {
		last.Text += patch.AppendText
	}
	if patch.Emotion != nil {
		last.Emotion = *patch.Emotion
	}
	if patch.AudioURL != nil {
		last.AudioURL = *patch.AudioURL
	}
	if patch.Finalize {
		last.InProgress = false
	}
	return nil
}

// Window returns the most recent completed turns, oldest first, trimmed
// to maxTurns. When excludeInProgress is true (the normal case for
// request context), the in-progress assistant turn is left out.
func (b *Buffer) Window(maxTurns int, excludeInProgress bool) []Turn {
	b.mu.RLock()
	defer b.mu.RUnlock()

	eligible := make([]Turn, 0, len(b.turns))
	for _, t := range b.turns {
		if excludeInProgress && t.InProgress {
			continue
		}
		eligible = append(eligible, t)
	}

	if maxTurns > 0 && len(eligible) > maxTurns {
		eligible = eligible[len(eligible)-maxTurns:]
	}

	out := make([]Turn, len(eligible))
	copy(out, eligible)
	return out
}

// Last returns a copy of the most recent turn.
func (b *Buffer) Last() (Turn, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.turns) == 0 {
		return Turn{}, false
	}
	return b.turns[len(b.turns)-1], true
}

// Len returns the number of stored turns.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.turns)
}

// All returns a copy of every stored turn, oldest first.
func (b *Buffer) All() []Turn {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// Clear removes all turns.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = make([]Turn, 0, b.config.MaxTurns)
}
