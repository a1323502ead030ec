// Package avatar maps emotion, gaze and activity into renderable
// animation parameters.
package avatar

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/aliya-ai/aliya-client/internal/gaze"
	"github.com/aliya-ai/aliya-client/internal/history"
)

// Status is the high-level activity label shown next to the avatar.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusListening Status = "listening"
	StatusThinking  Status = "thinking"
	StatusSpeaking  Status = "speaking"
	StatusSearching Status = "searching face"
)

// ActivityFlags describe what the interaction core is currently doing.
type ActivityFlags struct {
	Listening bool
	Thinking  bool
	Speaking  bool
}

// Params are the renderable animation parameters for one frame.
type Params struct {
	Emotion     history.Emotion `json:"emotion"`
	EyeAperture float64         `json:"eyeAperture"` // 0 closed .. ~1.3 wide
	PupilOffset mgl64.Vec2      `json:"pupilOffset"`
	Blinking    bool            `json:"blinking"`
	Status      Status          `json:"status"`
}

// ProjectorConfig configures the projection.
type ProjectorConfig struct {
	// PupilRange scales the gaze vector into the pupil's travel range
	// (default: 0.35).
	PupilRange float64
}

// DefaultProjectorConfig returns sensible defaults.
func DefaultProjectorConfig() ProjectorConfig {
	return ProjectorConfig{PupilRange: 0.35}
}

// eyeAperture maps emotion to eye openness.
func eyeAperture(emotion history.Emotion) float64 {
	switch emotion {
	case history.EmotionSurprised:
		return 1.3
	case history.EmotionHappy:
		return 0.9
	case history.EmotionThinking:
		return 0.85
	case history.EmotionEmpathetic:
		return 0.8
	case history.EmotionSad:
		return 0.7
	default:
		return 1.0
	}
}

// Project computes animation parameters from the current emotion, gaze
// sample and activity flags. It is pure: safe to call every animation
// frame, no state accumulates here. Blink state comes from a Blinker.
func Project(cfg ProjectorConfig, emotion history.Emotion, sample gaze.Sample, flags ActivityFlags, blinking bool) Params {
	if cfg.PupilRange <= 0 {
		cfg.PupilRange = 0.35
	}

	offset := mgl64.Vec2{
		mgl64.Clamp(sample.Vector.X()*cfg.PupilRange, -cfg.PupilRange, cfg.PupilRange),
		mgl64.Clamp(sample.Vector.Y()*cfg.PupilRange, -cfg.PupilRange, cfg.PupilRange),
	}

	aperture := eyeAperture(emotion)
	if blinking {
		aperture = 0
	}

	status := StatusIdle
	switch {
	case flags.Speaking:
		status = StatusSpeaking
	case flags.Thinking:
		status = StatusThinking
	case !sample.HasFace:
		status = StatusSearching
	case flags.Listening:
		status = StatusListening
	}

	return Params{
		Emotion:     emotion,
		EyeAperture: aperture,
		PupilOffset: offset,
		Blinking:    blinking,
		Status:      status,
	}
}
