// Package audio coordinates reply audio playback for the Aliya client.
package audio

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Player plays one audio resource to completion. Implementations wrap
// whatever output device the host provides.
type Player interface {
	Play(ctx context.Context, url string) error
}

// Queue serializes playback: items play strictly in enqueue order, one
// at a time, never overlapping. Cancellation is abrupt, not gapless.
type Queue struct {
	player Player
	logger zerolog.Logger

	mu        sync.Mutex
	pending   []string
	isPlaying bool
	cancel    context.CancelFunc

	onStart func() // fires when the queue goes from idle to playing
	onIdle  func() // fires when the queue drains completely
}

// NewQueue creates a playback queue over the given player.
func NewQueue(player Player, logger zerolog.Logger) *Queue {
	return &Queue{
		player:  player,
		logger:  logger.With().Str("component", "playback").Logger(),
		pending: make([]string, 0, 4),
	}
}

// SetStartHandler sets a callback fired when playback starts from an
// idle queue.
func (q *Queue) SetStartHandler(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onStart = fn
}

// SetIdleHandler sets a callback fired when the last queued item
// finishes and nothing else is pending.
func (q *Queue) SetIdleHandler(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onIdle = fn
}

// Enqueue adds a resolved audio URL. If nothing is playing, playback
// starts immediately; otherwise the item waits its turn.
func (q *Queue) Enqueue(url string) {
	q.mu.Lock()
	q.pending = append(q.pending, url)
	if q.isPlaying {
		q.mu.Unlock()
		return
	}
	q.isPlaying = true
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	start := q.onStart
	q.mu.Unlock()

	if start != nil {
		start()
	}
	go q.drain(ctx)
}

// Playing reports whether audio is currently playing or pending.
func (q *Queue) Playing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isPlaying
}

// Stop aborts the current item and discards everything pending.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel := q.cancel
	q.pending = q.pending[:0]
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (q *Queue) drain(ctx context.Context) {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || ctx.Err() != nil {
			q.pending = q.pending[:0]
			q.isPlaying = false
			q.cancel = nil
			idle := q.onIdle
			q.mu.Unlock()
			if idle != nil {
				idle()
			}
			return
		}
		url := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.logger.Debug().Str("url", url).Msg("Playing reply audio")
		if err := q.player.Play(ctx, url); err != nil && ctx.Err() == nil {
			q.logger.Warn().Err(err).Str("url", url).Msg("Playback failed, continuing with queue")
		}
	}
}
