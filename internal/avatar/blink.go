package avatar

import (
	"math/rand"
	"sync"
	"time"
)

// BlinkConfig configures involuntary blinking.
type BlinkConfig struct {
	MinInterval time.Duration // earliest next blink (default: 2s)
	MaxInterval time.Duration // latest next blink (default: 6s)
	Duration    time.Duration // eyelid-closed time (default: 150ms)
}

// DefaultBlinkConfig returns sensible defaults.
func DefaultBlinkConfig() BlinkConfig {
	return BlinkConfig{
		MinInterval: 2 * time.Second,
		MaxInterval: 6 * time.Second,
		Duration:    150 * time.Millisecond,
	}
}

// Blinker produces periodic involuntary blinks on a randomized,
// self-rescheduling timer. Each blink schedules the next one; nothing
// counts animation frames.
type Blinker struct {
	config BlinkConfig

	mu       sync.Mutex
	blinking bool
	stopped  bool
	timer    *time.Timer
	onChange func(blinking bool)
}

// NewBlinker creates a blinker. onChange fires on every open/close edge.
func NewBlinker(config BlinkConfig, onChange func(blinking bool)) *Blinker {
	if config.MinInterval <= 0 {
		config.MinInterval = 2 * time.Second
	}
	if config.MaxInterval <= config.MinInterval {
		config.MaxInterval = config.MinInterval + 4*time.Second
	}
	if config.Duration <= 0 {
		config.Duration = 150 * time.Millisecond
	}

	return &Blinker{config: config, onChange: onChange}
}

// Start schedules the first blink.
func (b *Blinker) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = false
	b.scheduleLocked()
}

// Stop cancels any pending blink.
func (b *Blinker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.blinking = false
}

// Blinking reports whether the eyelids are currently closed.
func (b *Blinker) Blinking() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blinking
}

func (b *Blinker) scheduleLocked() {
	spread := b.config.MaxInterval - b.config.MinInterval
	wait := b.config.MinInterval + time.Duration(rand.Int63n(int64(spread)))
	b.timer = time.AfterFunc(wait, b.blink)
}

func (b *Blinker) blink() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.blinking = true
	notify := b.onChange
	b.mu.Unlock()

	if notify != nil {
		notify(true)
	}

	time.AfterFunc(b.config.Duration, func() {
		b.mu.Lock()
		if b.stopped {
			b.mu.Unlock()
			return
		}
		b.blinking = false
		notify := b.onChange
		b.scheduleLocked()
		b.mu.Unlock()

		if notify != nil {
			notify(false)
		}
	})
}
