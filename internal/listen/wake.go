package listen

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// DefaultWakeVariants are accepted spellings of the wake word, covering
// common recognizer misspellings.
var DefaultWakeVariants = []string{"алия", "алея", "аля", "aliya"}

// WakeMatcher detects the wake phrase in a running transcript and decides
// when an utterance is complete enough to hand off.
type WakeMatcher struct {
	variants          []string
	minUtteranceRunes int
}

// WakeConfig configures wake-phrase detection.
type WakeConfig struct {
	// Variants are accepted spellings of the wake word.
	Variants []string
	// MinUtteranceRunes is the partial-transcript length beyond which a
	// detected wake phrase is acted on without waiting for a final
	// result. The exact value is a heuristic, not semantically meaningful.
	MinUtteranceRunes int
}

// DefaultWakeConfig returns sensible defaults.
func DefaultWakeConfig() WakeConfig {
	return WakeConfig{
		Variants:          DefaultWakeVariants,
		MinUtteranceRunes: 12,
	}
}

// NewWakeMatcher creates a matcher with the given config.
func NewWakeMatcher(cfg WakeConfig) *WakeMatcher {
	if len(cfg.Variants) == 0 {
		cfg.Variants = DefaultWakeVariants
	}
	if cfg.MinUtteranceRunes <= 0 {
		cfg.MinUtteranceRunes = 12
	}

	variants := make([]string, len(cfg.Variants))
	for i, v := range cfg.Variants {
		variants[i] = strings.ToLower(strings.TrimSpace(v))
	}

	return &WakeMatcher{
		variants:          variants,
		minUtteranceRunes: cfg.MinUtteranceRunes,
	}
}

// Match reports whether the transcript contains the wake phrase in any of
// its accepted spellings. Matching is case-insensitive substring search.
func (m *WakeMatcher) Match(transcript string) bool {
	lower := strings.ToLower(transcript)
	for _, v := range m.variants {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

// ShouldHandoff reports whether a wake-detected transcript carries enough
// content to submit as an utterance: either the recognizer finalized it,
// or the accumulated partial exceeds the minimum length threshold.
func (m *WakeMatcher) ShouldHandoff(transcript string, isFinal bool) bool {
	if !m.Match(transcript) {
		return false
	}
	if isFinal {
		return true
	}
	return utf8.RuneCountInString(transcript) > m.minUtteranceRunes
}

// Activation is the transient "wake word heard" signal shown in the UI.
// It auto-clears after a fixed flash duration unless superseded by a
// newer detection.
type Activation struct {
	mu       sync.Mutex
	flash    time.Duration
	active   bool
	epoch    uint64
	onChange func(active bool)
}

// NewActivation creates an activation signal with the given flash
// duration (default 800ms).
func NewActivation(flash time.Duration, onChange func(active bool)) *Activation {
	if flash <= 0 {
		flash = 800 * time.Millisecond
	}
	return &Activation{flash: flash, onChange: onChange}
}

// Trigger sets the signal and schedules its auto-clear. A re-trigger
// before the clear supersedes the pending clear.
func (a *Activation) Trigger() {
	a.mu.Lock()
	a.epoch++
	epoch := a.epoch
	wasActive := a.active
	a.active = true
	notify := a.onChange
	a.mu.Unlock()

	if !wasActive && notify != nil {
		notify(true)
	}

	time.AfterFunc(a.flash, func() {
		a.mu.Lock()
		if a.epoch != epoch || !a.active {
			a.mu.Unlock()
			return
		}
		a.active = false
		notify := a.onChange
		a.mu.Unlock()

		if notify != nil {
			notify(false)
		}
	})
}

// Active reports whether the signal is currently set.
func (a *Activation) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}
