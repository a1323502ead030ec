package audio

import (
	"context"
	"errors"
)

// Capture errors
var (
	ErrCaptureActive    = errors.New("capture already active")
	ErrCaptureNotActive = errors.New("no capture active")
	ErrCaptureEmpty     = errors.New("capture produced no audio")
)

// Capturer records one manual utterance from the microphone. The
// microphone is a single-owner resource: a capturer must never be armed
// while the passive recognizer holds it.
type Capturer interface {
	// Start begins recording. It fails if a capture is already active.
	Start(ctx context.Context) error
	// Stop ends recording and returns the captured audio. Returns
	// ErrCaptureEmpty when nothing usable was recorded.
	Stop() ([]byte, error)
}
