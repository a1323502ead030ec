package listen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// StreamingConfig configures the websocket recognizer.
type StreamingConfig struct {
	Endpoint   string        `json:"endpoint"`
	APIKey     string        `json:"api_key"`
	Language   string        `json:"language"`
	SampleRate int           `json:"sample_rate"`
	Encoding   string        `json:"encoding"`
	Channels   int           `json:"channels"`
	Timeout    time.Duration `json:"timeout"`
}

// DefaultStreamingConfig returns sensible defaults.
func DefaultStreamingConfig() *StreamingConfig {
	return &StreamingConfig{
		Language:   "ru",
		SampleRate: 16000,
		Encoding:   "linear16",
		Channels:   1,
		Timeout:    30 * time.Second,
	}
}

// serverMessage is one decoded unit from the recognizer socket.
type serverMessage struct {
	Type    string `json:"type"` // partial, final, status, error
	Text    string `json:"text,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// StreamingRecognizer is a websocket-backed continuous recognizer. Audio
// frames are pumped from the source channel to the socket; partial and
// final transcripts come back as JSON messages.
type StreamingRecognizer struct {
	config *StreamingConfig
	apiKey string
	source <-chan []byte
	logger zerolog.Logger

	connMu sync.Mutex
	conn   *websocket.Conn
}

// NewStreamingRecognizer creates a recognizer reading audio from source.
func NewStreamingRecognizer(config *StreamingConfig, source <-chan []byte, logger zerolog.Logger) *StreamingRecognizer {
	if config == nil {
		config = DefaultStreamingConfig()
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ALIYA_STT_API_KEY")
	}

	return &StreamingRecognizer{
		config: config,
		apiKey: apiKey,
		source: source,
		logger: logger.With().Str("component", "streaming-recognizer").Logger(),
	}
}

func (r *StreamingRecognizer) Name() string {
	return "websocket-streaming"
}

// IsAvailable reports whether the recognizer is configured.
func (r *StreamingRecognizer) IsAvailable() bool {
	return r.config.Endpoint != ""
}

// Listen runs one recognition session until the socket closes, the
// context is cancelled, or the server reports a terminal status.
func (r *StreamingRecognizer) Listen(ctx context.Context, onResult func(Result)) (Status, error) {
	if !r.IsAvailable() {
		return StatusError, ErrRecognizerUnavailable
	}

	conn, err := r.connect(ctx)
	if err != nil {
		return StatusError, err
	}
	defer r.closeConn()

	// Pump audio frames to the socket until the session ends.
	writeDone := make(chan struct{})
	writeCtx, cancelWrite := context.WithCancel(ctx)
	defer cancelWrite()
	go func() {
		defer close(writeDone)
		for {
			select {
			case <-writeCtx.Done():
				return
			case frame, ok := <-r.source:
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
					return
				}
			}
		}
	}()

	// Unblock the read loop when the context is cancelled.
	go func() {
		select {
		case <-ctx.Done():
			r.closeConn()
		case <-writeDone:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return StatusIdle, nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return StatusCompleted, nil
			}
			return StatusError, fmt.Errorf("recognizer socket closed: %w", err)
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			r.logger.Debug().Msg("Skipping malformed recognizer message")
			continue
		}

		switch msg.Type {
		case "partial":
			onResult(Result{Text: msg.Text, IsFinal: false})
		case "final":
			onResult(Result{Text: msg.Text, IsFinal: true})
		case "status":
			if msg.Status == "idle" {
				return StatusIdle, nil
			}
			if msg.Status == "completed" {
				return StatusCompleted, nil
			}
		case "error":
			return StatusError, fmt.Errorf("recognizer error: %s", msg.Message)
		}
	}
}

func (r *StreamingRecognizer) connect(ctx context.Context) (*websocket.Conn, error) {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	url := fmt.Sprintf("%s?language=%s&encoding=%s&sample_rate=%d&channels=%d",
		r.config.Endpoint,
		r.config.Language,
		r.config.Encoding,
		r.config.SampleRate,
		r.config.Channels,
	)

	header := http.Header{}
	if r.apiKey != "" {
		header.Set("Authorization", "Token "+r.apiKey)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("recognizer dial failed (%d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("recognizer dial failed: %w", err)
	}

	r.conn = conn
	r.logger.Debug().Str("endpoint", r.config.Endpoint).Msg("Recognizer socket connected")
	return conn, nil
}

func (r *StreamingRecognizer) closeConn() {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}
