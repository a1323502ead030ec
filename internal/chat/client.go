package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// Client talks to the Aliya assistant backend.
type Client struct {
	config *ClientConfig
	logger zerolog.Logger

	// httpClient carries the configured timeout for one-shot calls.
	// streamClient has no timeout: a reply stream lives as long as the
	// backend keeps producing, bounded by the request context instead.
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a new backend client.
func NewClient(cfg *ClientConfig, logger zerolog.Logger) *Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	return &Client{
		config:       cfg,
		logger:       logger.With().Str("component", "chat-client").Logger(),
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{},
	}
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.config.BaseURL, "/") + c.config.APIPrefix + path
}

// ResolveAudioURL resolves an audio URI against the API root. Absolute
// http/https URIs are returned unchanged, so resolution is idempotent.
func (c *Client) ResolveAudioURL(uri string) string {
	if u, err := url.Parse(uri); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return uri
	}
	base := strings.TrimRight(c.config.BaseURL, "/")
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}
	return base + uri
}

// Chat performs a non-streaming turn request.
func (c *Client) Chat(ctx context.Context, req *TurnRequest) (*TurnResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyUtterance
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode turn request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/assistant/chat"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}

	var turn TurnResponse
	if err := json.NewDecoder(resp.Body).Decode(&turn); err != nil {
		return nil, fmt.Errorf("failed to decode turn response: %w", err)
	}

	c.logger.Debug().Str("emotion", turn.Emotion).Bool("hasAudio", turn.AudioURL != "").Msg("Turn completed")
	return &turn, nil
}

// StreamTurn opens a streaming turn request and returns the decoded event
// sequence. The returned channel is closed after the terminal event. An
// error is returned only when the stream could not be opened at all
// (transport failure or non-2xx status before any data).
func (c *Client) StreamTurn(ctx context.Context, req *TurnRequest) (<-chan StreamEvent, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyUtterance
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode turn request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/assistant/chat-stream"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.decodeError(resp)
	}

	events := make(chan StreamEvent, 16)
	go c.readStream(ctx, resp.Body, events)

	c.logger.Debug().Int("historyLen", len(req.History)).Msg("Reply stream opened")
	return events, nil
}

// TranscribeAndChat uploads a manual audio capture and runs a full turn
// on the transcript.
func (c *Client) TranscribeAndChat(ctx context.Context, audio []byte, filename string, req *TurnRequest) (*TurnResponse, error) {
	if len(audio) == 0 {
		return nil, ErrEmptyUtterance
	}
	if filename == "" {
		filename = "capture.wav"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	if req.SpeakerID != "" {
		if err := writer.WriteField("speaker_id", req.SpeakerID); err != nil {
			return nil, fmt.Errorf("failed to write speaker_id: %w", err)
		}
	}
	if err := writer.WriteField("language", req.Language); err != nil {
		return nil, fmt.Errorf("failed to write language: %w", err)
	}
	if err := writer.WriteField("generate_audio", fmt.Sprintf("%t", req.GenerateAudio)); err != nil {
		return nil, fmt.Errorf("failed to write generate_audio: %w", err)
	}
	if len(req.History) > 0 {
		historyJSON, err := json.Marshal(req.History)
		if err != nil {
			return nil, fmt.Errorf("failed to encode history: %w", err)
		}
		if err := writer.WriteField("history_json", string(historyJSON)); err != nil {
			return nil, fmt.Errorf("failed to write history_json: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/assistant/transcribe-and-chat"), &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}

	var turn TurnResponse
	if err := json.NewDecoder(resp.Body).Decode(&turn); err != nil {
		return nil, fmt.Errorf("failed to decode turn response: %w", err)
	}
	return &turn, nil
}

// EnrollVoice uploads a reference audio sample keyed by speaker ID.
func (c *Client) EnrollVoice(ctx context.Context, audio []byte, filename, speakerID string) (*EnrollResponse, error) {
	if filename == "" {
		filename = "reference.wav"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.WriteField("speaker_id", speakerID); err != nil {
		return nil, fmt.Errorf("failed to write speaker_id: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/voice/enroll"), &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}

	var enrolled EnrollResponse
	if err := json.NewDecoder(resp.Body).Decode(&enrolled); err != nil {
		return nil, fmt.Errorf("failed to decode enroll response: %w", err)
	}

	c.logger.Info().Str("speaker", enrolled.SpeakerID).Msg("Voice enrolled")
	return &enrolled, nil
}

// decodeError extracts the backend's {detail} error body. A body that
// doesn't parse yields a generic failure with the status code.
func (c *Client) decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Detail != "" {
		return fmt.Errorf("backend error (%d): %s", resp.StatusCode, eb.Detail)
	}
	return fmt.Errorf("backend request failed with status %d", resp.StatusCode)
}
