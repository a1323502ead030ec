// Package chat provides the client for the Aliya assistant backend:
// turn requests, the streaming reply consumer, and voice enrollment.
package chat

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrServerUnavailable = errors.New("assistant backend unavailable")
	ErrStreamClosed      = errors.New("reply stream closed")
	ErrEmptyUtterance    = errors.New("utterance is empty")
)

// Message is one history item sent with a turn request.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// TurnRequest is the chat turn request body.
type TurnRequest struct {
	Text          string    `json:"text"`
	SpeakerID     string    `json:"speaker_id,omitempty"`
	Language      string    `json:"language"`
	GenerateAudio bool      `json:"generate_audio"`
	History       []Message `json:"history"`
}

// TurnResponse is the non-streaming reply.
type TurnResponse struct {
	UserText      string `json:"user_text"`
	AssistantText string `json:"assistant_text"`
	Emotion       string `json:"emotion"`
	AudioURL      string `json:"audio_url,omitempty"`
}

// EnrollResponse is the voice enrollment reply.
type EnrollResponse struct {
	SpeakerID      string `json:"speaker_id"`
	ReferenceAudio string `json:"reference_audio"`
}

// EventKind tags a decoded stream event.
type EventKind string

const (
	EventText    EventKind = "text"
	EventEmotion EventKind = "emotion"
	EventAudio   EventKind = "audio"
	EventError   EventKind = "error"
)

// StreamEvent is one decoded unit of an in-progress reply. Events arrive
// in stream order and are consumed exactly once each. An EventError is
// terminal: no further events follow it.
type StreamEvent struct {
	Kind    EventKind
	Content string
}

// streamLine is the wire shape of one NDJSON unit.
type streamLine struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// errorBody is the backend's non-2xx response shape.
type errorBody struct {
	Detail string `json:"detail"`
}

// ClientConfig configures the backend client.
type ClientConfig struct {
	BaseURL   string        // e.g. "http://localhost:8000"
	APIPrefix string        // e.g. "/api/v1"
	Timeout   time.Duration // per-request timeout for non-streaming calls
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:   "http://localhost:8000",
		APIPrefix: "/api/v1",
		Timeout:   120 * time.Second,
	}
}
