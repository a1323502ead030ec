package gaze

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/rs/zerolog"
)

// Source consumes camera frames and maintains the current gaze sample.
// It is independent of conversation state: restarts, wake handoffs and
// reply streams never touch it.
type Source struct {
	config   Config
	camera   Camera
	detector Detector
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// inFlight guards the single detection slot. A frame arriving while
	// a detection is running is dropped, never queued.
	inFlight atomic.Bool

	frameCount uint64

	mu        sync.RWMutex
	sample    Sample
	degraded  bool
	onSample  func(Sample)
	onDegrade func(error)
}

// NewSource creates a gaze source over the given camera and detector.
func NewSource(config Config, camera Camera, detector Detector, logger zerolog.Logger) *Source {
	if config.FrameStride <= 0 {
		config.FrameStride = 3
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Source{
		config:   config,
		camera:   camera,
		detector: detector,
		logger:   logger.With().Str("component", "gaze").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		sample:   Sample{Timestamp: time.Now()},
	}
}

// SetSampleHandler sets a callback invoked after each processed frame.
func (s *Source) SetSampleHandler(fn func(Sample)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSample = fn
}

// SetDegradeHandler sets a callback invoked when the source gives up on
// the camera. Set it before Start; degradation can happen during Start.
func (s *Source) SetDegradeHandler(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDegrade = fn
}

// Start opens the camera and begins consuming frames. Camera or detector
// failure is not fatal: the source degrades to a permanent no-face state
// and the rest of the client keeps working.
func (s *Source) Start() error {
	if s.camera == nil || s.detector == nil {
		s.degrade(ErrCameraNotAvailable)
		return nil
	}

	if err := s.camera.Open(s.ctx); err != nil {
		s.degrade(err)
		return nil
	}

	go s.consume()

	s.logger.Info().Int("stride", s.config.FrameStride).Msg("Gaze source started")
	return nil
}

// Stop shuts down the pipeline and releases the camera.
func (s *Source) Stop() {
	s.cancel()
	if s.camera != nil {
		s.camera.Close()
	}
	s.logger.Info().Msg("Gaze source stopped")
}

// Current returns the latest gaze sample.
func (s *Source) Current() Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sample
}

// Degraded reports whether the source gave up on the camera.
func (s *Source) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

func (s *Source) degrade(err error) {
	s.mu.Lock()
	s.degraded = true
	s.sample = Sample{Vector: mgl64.Vec2{0, 0}, HasFace: false, Timestamp: time.Now()}
	handler := s.onDegrade
	s.mu.Unlock()

	s.logger.Warn().Err(err).Msg("Camera unavailable, gaze permanently degraded")
	if handler != nil {
		handler(err)
	}
}

func (s *Source) consume() {
	frames := s.camera.Frames()
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			s.ProcessFrame(frame)
		}
	}
}

// ProcessFrame runs the decimated detection pipeline on one raw frame.
// It never blocks: frames outside the stride, and frames arriving while
// a detection is in flight, are shed.
func (s *Source) ProcessFrame(frame *Frame) {
	if frame == nil || frame.Width <= 0 || frame.Height <= 0 {
		return
	}

	count := atomic.AddUint64(&s.frameCount, 1)
	if count%uint64(s.config.FrameStride) != 0 {
		return
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		// Previous detection still running; operate on the freshest
		// frame next time instead of queuing this one.
		return
	}

	go func() {
		defer s.inFlight.Store(false)
		s.detect(frame)
	}()
}

func (s *Source) detect(frame *Frame) {
	faces, err := s.detector.Detect(s.ctx, frame)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Face detection failed, keeping last sample")
		s.publish(Sample{Vector: s.Current().Vector, HasFace: false, Timestamp: frame.Timestamp})
		return
	}

	if len(faces) == 0 {
		// No face: hold the last vector, flag absence.
		s.publish(Sample{Vector: s.Current().Vector, HasFace: false, Timestamp: frame.Timestamp})
		return
	}

	// Deterministic choice: first reported face.
	vec := FaceVector(faces[0], frame.Width, frame.Height)
	s.publish(Sample{Vector: vec, HasFace: true, Timestamp: frame.Timestamp})
}

func (s *Source) publish(sample Sample) {
	s.mu.Lock()
	if s.degraded {
		s.mu.Unlock()
		return
	}
	s.sample = sample
	handler := s.onSample
	s.mu.Unlock()

	if handler != nil {
		handler(sample)
	}
}

// FaceVector maps a face bounding box to a normalized gaze vector: the
// box center relative to the frame center, each axis clamped to [-1, 1],
// X sign inverted for the mirrored self-view.
func FaceVector(face FaceBox, frameWidth, frameHeight int) mgl64.Vec2 {
	halfW := float64(frameWidth) / 2
	halfH := float64(frameHeight) / 2

	cx := face.X + face.Width/2
	cy := face.Y + face.Height/2

	x := mgl64.Clamp(-(cx-halfW)/halfW, -1, 1)
	y := mgl64.Clamp((cy-halfH)/halfH, -1, 1)

	return mgl64.Vec2{x, y}
}
