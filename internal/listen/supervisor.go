package listen

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// SupervisorConfig configures the passive listening loop.
type SupervisorConfig struct {
	// ErrorBackoff is the wait before rearming after an error terminal,
	// so a failing recognizer doesn't hot-loop (default: 2s).
	ErrorBackoff time.Duration
}

// DefaultSupervisorConfig returns sensible defaults.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{ErrorBackoff: 2 * time.Second}
}

// Supervisor keeps a recognizer continuously armed while passive
// listening is the current activity, rearming after every terminal
// status. Arming is conditional on stateCheck at rearm time, never
// cached, so a stray terminal arriving after a stop request cannot
// rearm into a changed interaction state.
type Supervisor struct {
	recognizer Recognizer
	matcher    *WakeMatcher
	activation *Activation
	config     SupervisorConfig
	logger     zerolog.Logger

	stateCheck  func() bool
	onUtterance func(text string)
	onPartial   func(text string, isFinal bool)
	onDown      func(err error)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSupervisor creates a supervisor. stateCheck must report whether
// passive listening is still the current interaction activity;
// onUtterance receives the accepted wake utterance, exactly once per
// session.
func NewSupervisor(
	recognizer Recognizer,
	matcher *WakeMatcher,
	activation *Activation,
	config SupervisorConfig,
	stateCheck func() bool,
	onUtterance func(text string),
	logger zerolog.Logger,
) *Supervisor {
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = 2 * time.Second
	}

	return &Supervisor{
		recognizer:  recognizer,
		matcher:     matcher,
		activation:  activation,
		config:      config,
		stateCheck:  stateCheck,
		onUtterance: onUtterance,
		logger:      logger.With().Str("component", "listen-supervisor").Logger(),
	}
}

// SetPartialHandler sets a callback for interim transcript display.
func (s *Supervisor) SetPartialHandler(fn func(text string, isFinal bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPartial = fn
}

// SetDownHandler sets a callback invoked when a session ends in error,
// before the backoff wait.
func (s *Supervisor) SetDownHandler(fn func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDown = fn
}

// Start arms the listening loop. It is a no-op if already running.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(ctx, s.done)

	s.logger.Info().Str("recognizer", s.recognizer.Name()).Msg("Passive listening armed")
}

// Stop disarms the loop and waits for the in-flight session to end, so
// the microphone is released before the caller starts another consumer.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done

	s.logger.Info().Msg("Passive listening disarmed")
}

// IsRunning reports whether the loop is armed.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}
		// Rearm condition is re-checked here on every pass.
		if !s.stateCheck() {
			s.logger.Debug().Msg("State moved on, not rearming")
			return
		}

		status, handedOff, err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if handedOff {
			// The state machine tears this loop down around the turn;
			// arming another session in the gap would be wasted work.
			s.logger.Debug().Msg("Utterance handed off, ending loop")
			return
		}

		if status == StatusError || err != nil {
			s.logger.Warn().Err(err).Msg("Recognizer session failed, backing off")
			s.mu.Lock()
			down := s.onDown
			s.mu.Unlock()
			if down != nil {
				down(err)
			}

			select {
			case <-time.After(s.config.ErrorBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		s.logger.Debug().Str("status", string(status)).Msg("Recognizer session ended, rearming")
	}
}

// listenOnce runs a single recognition session. The wake utterance is
// submitted at most once; submission ends the session and is reported
// so the loop can stop rearming.
func (s *Supervisor) listenOnce(ctx context.Context) (Status, bool, error) {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var submitted atomic.Bool

	onResult := func(res Result) {
		text := strings.TrimSpace(res.Text)
		if text == "" {
			return
		}

		s.mu.Lock()
		partial := s.onPartial
		s.mu.Unlock()
		if partial != nil {
			partial(text, res.IsFinal)
		}

		if s.matcher.Match(text) && s.activation != nil {
			s.activation.Trigger()
		}

		if s.matcher.ShouldHandoff(text, res.IsFinal) && submitted.CompareAndSwap(false, true) {
			s.logger.Info().Str("text", text).Bool("final", res.IsFinal).Msg("Wake utterance accepted")
			s.onUtterance(text)
			cancel()
		}
	}

	status, err := s.recognizer.Listen(sessionCtx, onResult)
	return status, submitted.Load(), err
}
