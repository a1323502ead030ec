// Package gaze derives a face/gaze signal from a live camera feed.
package gaze

import (
	"context"
	"errors"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Common errors
var (
	ErrCameraNotAvailable = errors.New("camera not available")
	ErrPermissionDenied   = errors.New("camera permission denied")
	ErrDetectorFailed     = errors.New("face detector initialization failed")
)

// Frame is one captured camera frame.
type Frame struct {
	Data      []byte    `json:"-"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Format    string    `json:"format"` // jpeg, rgba
	Timestamp time.Time `json:"timestamp"`
}

// FaceBox is a detected face region in frame pixel coordinates.
type FaceBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Camera is a source of live frames. The camera is a single-owner
// resource, held by the gaze source for the process lifetime.
type Camera interface {
	Open(ctx context.Context) error
	Frames() <-chan *Frame
	Close() error
}

// Detector finds face regions in a frame. Detection may be slow relative
// to the frame rate; the source never runs two detections concurrently.
type Detector interface {
	Detect(ctx context.Context, frame *Frame) ([]FaceBox, error)
}

// Sample is the current gaze reading. The vector axes are each in
// [-1, 1], with X mirrored to match the self-view convention. When no
// face is visible the vector holds its last value.
type Sample struct {
	Vector    mgl64.Vec2 `json:"vector"`
	HasFace   bool       `json:"hasFace"`
	Timestamp time.Time  `json:"timestamp"`
}

// Config configures the gaze pipeline.
type Config struct {
	// FrameStride processes one in N raw frames (default: 3).
	FrameStride int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{FrameStride: 3}
}
