package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aliya-ai/aliya-client/internal/audio"
	"github.com/aliya-ai/aliya-client/internal/avatar"
	"github.com/aliya-ai/aliya-client/internal/bus"
	"github.com/aliya-ai/aliya-client/internal/chat"
	"github.com/aliya-ai/aliya-client/internal/history"
	"github.com/aliya-ai/aliya-client/internal/listen"
)

// Config configures the interaction machine.
type Config struct {
	Language      string
	SpeakerID     string
	GenerateAudio bool
	HistoryWindow int  // completed turns included as request context
	Streaming     bool // use the NDJSON stream endpoint
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Language:      "ru",
		GenerateAudio: true,
		HistoryWindow: 8,
		Streaming:     true,
	}
}

// Machine is the interaction state machine. It is the only writer of the
// interaction state and the turn history; every externally-observed
// occurrence is funneled through its event loop as a tagged input event,
// so no two of {passive recognizer, manual capture, reply stream} can be
// live at once.
type Machine struct {
	config   Config
	logger   zerolog.Logger
	eventBus *bus.EventBus

	turns    *history.Buffer
	client   *chat.Client
	playback *audio.Queue
	capturer audio.Capturer

	supervisor *listen.Supervisor // wired via SetSupervisor

	events chan inputEvent
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	state   State
	emotion history.Emotion
	running bool

	// Loop-owned fields, touched only from the event goroutine.
	streamCancel   context.CancelFunc
	streamOpen     bool
	degradedListen bool
}

// NewMachine creates the machine. The supervisor is wired afterwards via
// SetSupervisor because it needs the machine's state check.
func NewMachine(
	config Config,
	turns *history.Buffer,
	client *chat.Client,
	playback *audio.Queue,
	capturer audio.Capturer,
	eventBus *bus.EventBus,
	logger zerolog.Logger,
) *Machine {
	if config.HistoryWindow <= 0 {
		config.HistoryWindow = 8
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Machine{
		config:   config,
		logger:   logger.With().Str("component", "session").Logger(),
		eventBus: eventBus,
		turns:    turns,
		client:   client,
		playback: playback,
		capturer: capturer,
		events:   make(chan inputEvent, 64),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    StateIdle,
		emotion:  history.EmotionNeutral,
	}

	if playback != nil {
		playback.SetStartHandler(func() {
			eventBus.Publish(bus.Event{Type: bus.EventTypePlaybackStarted})
		})
		playback.SetIdleHandler(func() { m.dispatch(evPlaybackIdle{}) })
	}

	return m
}

// SetSupervisor wires the passive listening supervisor.
func (m *Machine) SetSupervisor(s *listen.Supervisor) {
	m.supervisor = s
}

// IsPassiveListening is the supervisor's rearm condition, consulted at
// rearm time rather than cached.
func (m *Machine) IsPassiveListening() bool {
	return m.State() == StatePassiveListening
}

// HandleWakeUtterance receives accepted utterances from the supervisor.
func (m *Machine) HandleWakeUtterance(text string) {
	m.dispatch(evWakeUtterance{text: text})
}

// ReportFatal degrades the machine after an unrecoverable collaborator
// failure. Typed chat and manual recording stay functional.
func (m *Machine) ReportFatal(err error) {
	m.dispatch(evFatal{err: err})
}

// Start runs the event loop and auto-enters passive listening.
func (m *Machine) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go m.run()

	m.setState(StatePassiveListening)
	if m.supervisor != nil {
		m.supervisor.Start()
	}

	m.logger.Info().Msg("Interaction machine started")
}

// Stop tears the machine down, releasing the stream, microphone and
// playback.
func (m *Machine) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	m.cancel()
	<-m.done

	if m.supervisor != nil {
		m.supervisor.Stop()
	}
	if m.playback != nil {
		m.playback.Stop()
	}

	m.logger.Info().Msg("Interaction machine stopped")
}

// State returns the current interaction state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Emotion returns the current expressive emotion (last-writer-wins).
func (m *Machine) Emotion() history.Emotion {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emotion
}

// ActivityFlags projects the current state for the avatar.
func (m *Machine) ActivityFlags() avatar.ActivityFlags {
	state := m.State()
	return avatar.ActivityFlags{
		Listening: state == StatePassiveListening || state == StateRecording,
		Thinking:  state == StateAwaitingReply,
		Speaking:  state == StateSpeaking,
	}
}

// SubmitUtterance submits a typed user utterance. It is rejected with
// ErrBusy while a reply is in flight or playing; barge-in is excluded.
func (m *Machine) SubmitUtterance(text string) error {
	m.mu.RLock()
	running := m.running
	state := m.state
	m.mu.RUnlock()

	if !running {
		return ErrNotRunning
	}

	switch state {
	case StatePassiveListening, StateRecovering, StateIdle:
		m.dispatch(evTypedUtterance{text: text})
		return nil
	case StateRecording:
		return ErrWrongState
	default:
		return ErrBusy
	}
}

// ToggleRecording flips manual capture on or off. Recording is available
// even in the degraded Recovering state; recognizer faults never block
// the manual path.
func (m *Machine) ToggleRecording() error {
	m.mu.RLock()
	running := m.running
	state := m.state
	m.mu.RUnlock()

	if !running {
		return ErrNotRunning
	}

	switch state {
	case StatePassiveListening, StateRecording, StateRecovering:
		m.dispatch(evToggleRecord{})
		return nil
	default:
		return ErrBusy
	}
}

// dispatch funnels an input event to the loop. It never blocks the
// producer: under sustained overload events are dropped with a warning
// rather than wedging a callback goroutine. Only loss-tolerant inputs
// (wake handoffs, toggles, playback notifications) go through here.
func (m *Machine) dispatch(ev inputEvent) {
	select {
	case m.events <- ev:
	case <-m.ctx.Done():
	default:
		m.logger.Warn().Msgf("Event queue full, dropping %T", ev)
	}
}

// dispatchOrdered delivers an event that must not be shed. Reply stream
// units and turn completions are consumed exactly once each, in order,
// so their dedicated producer goroutines block instead of dropping.
func (m *Machine) dispatchOrdered(ev inputEvent) {
	select {
	case m.events <- ev:
	case <-m.ctx.Done():
	}
}

func (m *Machine) run() {
	defer close(m.done)
	for {
		select {
		case <-m.ctx.Done():
			m.closeStream()
			return
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

// handle is the single transition function. All side effects happen
// here, on one goroutine, keyed by (state, event).
func (m *Machine) handle(ev inputEvent) {
	switch ev := ev.(type) {
	case evWakeUtterance:
		// A stale handoff after the state moved on is dropped.
		if m.State() != StatePassiveListening {
			m.logger.Debug().Str("text", ev.text).Msg("Dropping stale wake utterance")
			return
		}
		m.beginTurn(ev.text)

	case evTypedUtterance:
		switch m.State() {
		case StatePassiveListening, StateRecovering, StateIdle:
			m.beginTurn(ev.text)
		default:
			m.logger.Debug().Msg("Dropping typed utterance in busy state")
		}

	case evToggleRecord:
		m.toggleRecord()

	case evStreamEvent:
		if m.State() != StateAwaitingReply || !m.streamOpen {
			return
		}
		m.applyStreamEvent(ev.event)

	case evStreamClosed:
		if m.State() != StateAwaitingReply || !m.streamOpen {
			return
		}
		m.finishStream()

	case evManualTurn:
		if m.State() != StateAwaitingReply {
			return
		}
		m.finishManualTurn(ev.resp, ev.err)

	case evPlaybackIdle:
		m.eventBus.Publish(bus.Event{Type: bus.EventTypePlaybackStopped})
		if m.State() == StateSpeaking {
			m.resumePassive()
		}

	case evFatal:
		m.logger.Error().Err(ev.err).Msg("Collaborator failed fatally, degrading")
		m.degradedListen = true
		if s := m.State(); s == StatePassiveListening || s == StateIdle {
			m.stopSupervisor()
			m.setState(StateRecovering)
		}
	}
}

// beginTurn accepts a user utterance: the context window is captured
// before the new pair is appended, the user turn lands in history before
// the reply stream opens, and exactly one stream is opened.
func (m *Machine) beginTurn(text string) {
	if text == "" {
		return
	}

	fromListening := m.State() == StatePassiveListening

	m.setState(StateAwaitingReply)
	if fromListening {
		m.stopSupervisor()
	}

	// Window captured before this pair so the new user turn is excluded
	// from its own request context.
	window := m.contextWindow()

	m.turns.Append(history.Turn{Role: history.RoleUser, Text: text})
	m.publishTurn(bus.EventTypeTurnAppended)

	m.turns.Append(history.Turn{
		Role:       history.RoleAssistant,
		Emotion:    history.EmotionThinking,
		InProgress: true,
	})
	m.setEmotion(history.EmotionThinking)

	req := &chat.TurnRequest{
		Text:          text,
		SpeakerID:     m.config.SpeakerID,
		Language:      m.config.Language,
		GenerateAudio: m.config.GenerateAudio,
		History:       window,
	}

	if m.config.Streaming {
		m.openStream(req)
		return
	}

	// Non-streaming fallback: one round trip, same turn bookkeeping.
	go func() {
		resp, err := m.client.Chat(m.ctx, req)
		m.dispatchOrdered(evManualTurn{resp: resp, err: err})
	}()
}

func (m *Machine) openStream(req *chat.TurnRequest) {
	streamCtx, cancel := context.WithCancel(m.ctx)

	events, err := m.client.StreamTurn(streamCtx, req)
	if err != nil {
		cancel()
		m.logger.Warn().Err(err).Msg("Failed to open reply stream")
		m.failStream(err.Error())
		return
	}

	m.streamCancel = cancel
	m.streamOpen = true

	go func() {
		for ev := range events {
			m.dispatchOrdered(evStreamEvent{event: ev})
		}
		m.dispatchOrdered(evStreamClosed{})
	}()
}

func (m *Machine) applyStreamEvent(ev chat.StreamEvent) {
	switch ev.Kind {
	case chat.EventText:
		if err := m.turns.MutateLast(history.Patch{AppendText: ev.Content}); err != nil {
			m.logger.Warn().Err(err).Msg("Dropping text delta")
			return
		}
		m.publishTurn(bus.EventTypeReplyDelta)

	case chat.EventEmotion:
		tag := history.ParseEmotion(ev.Content)
		m.turns.MutateLast(history.Patch{Emotion: &tag})
		m.setEmotion(tag)
		m.eventBus.Publish(bus.Event{
			Type: bus.EventTypeReplyEmotion,
			Data: map[string]any{"emotion": string(tag)},
		})

	case chat.EventAudio:
		url := m.client.ResolveAudioURL(ev.Content)
		m.turns.MutateLast(history.Patch{AudioURL: &url})
		if m.playback != nil {
			m.playback.Enqueue(url)
		}

	case chat.EventError:
		m.failStream(ev.Content)
	}
}

// finishStream handles the stream ending normally: the assistant turn
// finalizes into history and the machine moves to Speaking if audio is
// still playing, otherwise straight back to passive listening.
func (m *Machine) finishStream() {
	m.turns.MutateLast(history.Patch{Finalize: true})
	m.publishTurn(bus.EventTypeTurnUpdated)
	m.closeStream()

	if m.playback != nil && m.playback.Playing() {
		m.setState(StateSpeaking)
		return
	}
	m.resumePassive()
}

// failStream converts a terminal stream error into a visible sad
// assistant turn and resumes passive listening. The originating user
// turn stays in history.
func (m *Machine) failStream(message string) {
	sad := history.EmotionSad

	patch := history.Patch{Emotion: &sad, Finalize: true}
	if last, ok := m.turns.Last(); ok && last.InProgress {
		if last.Text == "" {
			patch.AppendText = message
		} else {
			patch.AppendText = "\n" + message
		}
	}
	m.turns.MutateLast(patch)
	m.setEmotion(sad)

	m.eventBus.Publish(bus.Event{
		Type: bus.EventTypeReplyError,
		Data: map[string]any{"message": message},
	})
	m.publishTurn(bus.EventTypeTurnUpdated)

	m.closeStream()
	m.resumePassive()
}

func (m *Machine) closeStream() {
	if m.streamCancel != nil {
		m.streamCancel()
		m.streamCancel = nil
	}
	m.streamOpen = false
}

func (m *Machine) toggleRecord() {
	switch m.State() {
	case StatePassiveListening, StateRecovering:
		if m.capturer == nil {
			m.logger.Warn().Msg("No capturer configured")
			return
		}
		m.setState(StateRecording)
		m.stopSupervisor()
		if err := m.capturer.Start(m.ctx); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to start capture")
			m.resumePassive()
		}

	case StateRecording:
		captured, err := m.capturer.Stop()
		if err != nil || len(captured) == 0 {
			// Idle toggle: nothing usable captured, drop it.
			m.logger.Debug().Err(err).Msg("Discarding empty capture")
			m.resumePassive()
			return
		}

		window := m.contextWindow()
		m.setState(StateAwaitingReply)

		req := &chat.TurnRequest{
			SpeakerID:     m.config.SpeakerID,
			Language:      m.config.Language,
			GenerateAudio: m.config.GenerateAudio,
			History:       window,
		}

		go func() {
			resp, err := m.client.TranscribeAndChat(m.ctx, captured, "capture.wav", req)
			m.dispatchOrdered(evManualTurn{resp: resp, err: err})
		}()
	}
}

// finishManualTurn lands a completed non-streaming round trip (typed
// fallback or transcribe-and-chat) in history.
func (m *Machine) finishManualTurn(resp *chat.TurnResponse, err error) {
	last, ok := m.turns.Last()
	hasInProgress := ok && last.InProgress

	if err != nil {
		sad := history.EmotionSad
		if hasInProgress {
			m.failStream(err.Error())
			return
		}
		m.turns.Append(history.Turn{
			Role:    history.RoleAssistant,
			Text:    err.Error(),
			Emotion: sad,
		})
		m.setEmotion(sad)
		m.publishTurn(bus.EventTypeTurnAppended)
		m.resumePassive()
		return
	}

	if !hasInProgress {
		// Transcribe path: the user text is only known now, and still
		// lands before its assistant turn.
		m.turns.Append(history.Turn{Role: history.RoleUser, Text: resp.UserText})
		m.publishTurn(bus.EventTypeTurnAppended)
		m.turns.Append(history.Turn{Role: history.RoleAssistant, InProgress: true})
	}

	tag := history.ParseEmotion(resp.Emotion)
	patch := history.Patch{
		AppendText: resp.AssistantText,
		Emotion:    &tag,
		Finalize:   true,
	}
	if resp.AudioURL != "" {
		url := m.client.ResolveAudioURL(resp.AudioURL)
		patch.AudioURL = &url
		if m.playback != nil {
			m.playback.Enqueue(url)
		}
	}
	m.turns.MutateLast(patch)
	m.setEmotion(tag)
	m.publishTurn(bus.EventTypeTurnUpdated)

	if m.playback != nil && m.playback.Playing() {
		m.setState(StateSpeaking)
		return
	}
	m.resumePassive()
}

// resumePassive returns to passive listening, or stays degraded when the
// recognizer is gone for good.
func (m *Machine) resumePassive() {
	if m.degradedListen {
		m.setState(StateRecovering)
		return
	}
	m.setState(StatePassiveListening)
	if m.supervisor != nil {
		m.supervisor.Start()
	}
}

func (m *Machine) stopSupervisor() {
	if m.supervisor != nil {
		m.supervisor.Stop()
	}
}

func (m *Machine) contextWindow() []chat.Message {
	turns := m.turns.Window(m.config.HistoryWindow, true)
	msgs := make([]chat.Message, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, chat.Message{Role: string(t.Role), Content: t.Text})
	}
	return msgs
}

func (m *Machine) setState(next State) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()

	if prev == next {
		return
	}

	m.logger.Info().Str("from", string(prev)).Str("to", string(next)).Msg("State changed")
	m.eventBus.Publish(bus.Event{
		Type: bus.EventTypeStateChanged,
		Data: map[string]any{"from": string(prev), "to": string(next), "at": time.Now()},
	})
}

func (m *Machine) setEmotion(e history.Emotion) {
	m.mu.Lock()
	m.emotion = e
	m.mu.Unlock()
}

func (m *Machine) publishTurn(t bus.EventType) {
	last, ok := m.turns.Last()
	if !ok {
		return
	}
	m.eventBus.Publish(bus.Event{
		Type: t,
		Data: map[string]any{
			"id":         last.ID,
			"role":       string(last.Role),
			"text":       chat.DisplayText(last.Text),
			"emotion":    string(last.Emotion),
			"audioUrl":   last.AudioURL,
			"inProgress": last.InProgress,
		},
	})
}
