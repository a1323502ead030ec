package listen

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRecognizer replays one scripted session per Listen call and
// counts how many sessions ran.
type scriptedRecognizer struct {
	mu       sync.Mutex
	sessions []scriptedSession
	calls    int
}

type scriptedSession struct {
	results []Result
	status  Status
	err     error
}

func (r *scriptedRecognizer) Name() string { return "scripted" }

func (r *scriptedRecognizer) Listen(ctx context.Context, onResult func(Result)) (Status, error) {
	r.mu.Lock()
	idx := r.calls
	r.calls++
	var session scriptedSession
	if idx < len(r.sessions) {
		session = r.sessions[idx]
	} else {
		// Past the script: block until the session is cancelled, like a
		// recognizer waiting on silence.
		r.mu.Unlock()
		<-ctx.Done()
		return StatusIdle, nil
	}
	r.mu.Unlock()

	for _, res := range session.results {
		if ctx.Err() != nil {
			return StatusIdle, nil
		}
		onResult(res)
	}
	if ctx.Err() != nil {
		return StatusIdle, nil
	}
	return session.status, session.err
}

func (r *scriptedRecognizer) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestSupervisor(rec Recognizer, stateCheck func() bool, onUtterance func(string)) *Supervisor {
	return NewSupervisor(
		rec,
		NewWakeMatcher(DefaultWakeConfig()),
		nil,
		SupervisorConfig{ErrorBackoff: 10 * time.Millisecond},
		stateCheck,
		onUtterance,
		zerolog.Nop(),
	)
}

func TestSupervisor_SubmitsWakeUtteranceOnce(t *testing.T) {
	rec := &scriptedRecognizer{sessions: []scriptedSession{
		{
			results: []Result{
				{Text: "алия", IsFinal: false},
				{Text: "алия расскажи анекдот", IsFinal: true},
				{Text: "алия расскажи анекдот ещё раз", IsFinal: true},
			},
			status: StatusCompleted,
		},
	}}

	var utterances []string
	var mu sync.Mutex
	s := newTestSupervisor(rec, func() bool { return true }, func(text string) {
		mu.Lock()
		utterances = append(utterances, text)
		mu.Unlock()
	})

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(utterances) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "алия расскажи анекдот", utterances[0])
	mu.Unlock()
}

func TestSupervisor_NoRearmAfterHandoff(t *testing.T) {
	rec := &scriptedRecognizer{sessions: []scriptedSession{
		{
			results: []Result{{Text: "алия расскажи анекдот", IsFinal: true}},
			status:  StatusCompleted,
		},
		{status: StatusCompleted},
	}}

	var submitted atomic.Int32
	s := newTestSupervisor(rec, func() bool { return true }, func(string) {
		submitted.Add(1)
	})

	s.Start()
	require.Eventually(t, func() bool { return submitted.Load() == 1 }, time.Second, 5*time.Millisecond)

	// The loop ends with the handed-off session; no throwaway session
	// starts while the machine takes over.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.callCount())
	s.Stop()
}

func TestSupervisor_IgnoresSpeechWithoutWake(t *testing.T) {
	rec := &scriptedRecognizer{sessions: []scriptedSession{
		{
			results: []Result{
				{Text: "сегодня хорошая погода", IsFinal: true},
			},
			status: StatusCompleted,
		},
	}}

	var submitted atomic.Int32
	s := newTestSupervisor(rec, func() bool { return true }, func(string) {
		submitted.Add(1)
	})

	s.Start()

	// The scripted session completes and the loop rearms into the
	// blocking tail session.
	require.Eventually(t, func() bool { return rec.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(0), submitted.Load())
}

func TestSupervisor_RearmsAfterCompletedSession(t *testing.T) {
	rec := &scriptedRecognizer{sessions: []scriptedSession{
		{status: StatusCompleted},
		{status: StatusCompleted},
	}}

	s := newTestSupervisor(rec, func() bool { return true }, func(string) {})

	s.Start()
	require.Eventually(t, func() bool { return rec.callCount() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestSupervisor_BacksOffAfterError(t *testing.T) {
	rec := &scriptedRecognizer{sessions: []scriptedSession{
		{status: StatusError, err: errors.New("socket closed")},
		{status: StatusCompleted},
	}}

	var downs atomic.Int32
	s := newTestSupervisor(rec, func() bool { return true }, func(string) {})
	s.SetDownHandler(func(err error) {
		downs.Add(1)
	})

	s.Start()
	require.Eventually(t, func() bool { return rec.callCount() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), downs.Load())
}

func TestSupervisor_DoesNotRearmWhenStateMovedOn(t *testing.T) {
	rec := &scriptedRecognizer{sessions: []scriptedSession{
		{status: StatusCompleted},
		{status: StatusCompleted},
	}}

	// Passive listening is the current activity for the first pass only.
	var checks atomic.Int32
	s := newTestSupervisor(rec, func() bool { return checks.Add(1) == 1 }, func(string) {})

	s.Start()
	require.Eventually(t, func() bool { return rec.callCount() >= 1 }, time.Second, 5*time.Millisecond)

	// The second rearm check fails and the loop exits without another
	// session.
	require.Eventually(t, func() bool { return checks.Load() >= 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, rec.callCount())
	s.Stop()
}

func TestSupervisor_StopReleasesSessionSynchronously(t *testing.T) {
	rec := &scriptedRecognizer{} // no script: every session blocks on ctx
	s := newTestSupervisor(rec, func() bool { return true }, func(string) {})

	s.Start()
	require.Eventually(t, func() bool { return rec.callCount() >= 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after cancelling the session")
	}
	assert.False(t, s.IsRunning())
}

func TestSupervisor_PartialHandlerSeesInterimTranscripts(t *testing.T) {
	rec := &scriptedRecognizer{sessions: []scriptedSession{
		{
			results: []Result{
				{Text: "алия рас", IsFinal: false},
				{Text: "алия расскажи анекдот", IsFinal: true},
			},
			status: StatusCompleted,
		},
	}}

	var mu sync.Mutex
	var partials []string
	s := newTestSupervisor(rec, func() bool { return true }, func(string) {})
	s.SetPartialHandler(func(text string, isFinal bool) {
		mu.Lock()
		partials = append(partials, text)
		mu.Unlock()
	})

	s.Start()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(partials) == 2
	}, time.Second, 5*time.Millisecond)
	s.Stop()
}
