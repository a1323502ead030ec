package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamServer replies to the stream endpoint with the given NDJSON lines.
func streamServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/assistant/chat-stream", r.URL.Path)
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			w.Write([]byte(line + "\n"))
			flusher.Flush()
		}
	}))
}

func collect(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestStreamTurn_Reconstruction(t *testing.T) {
	server := streamServer(t, []string{
		`{"type":"text","content":"Привет"}`,
		`{"type":"text","content":", как"}`,
		`{"type":"text","content":" дела?"}`,
		`{"type":"emotion","content":"happy"}`,
		`{"type":"audio","content":"/files/a.wav"}`,
		`{"type":"done"}`,
	})
	defer server.Close()

	c := newTestClient(server.URL)

	events, err := c.StreamTurn(context.Background(), &TurnRequest{Text: "привет", Language: "ru"})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 5)

	var text string
	var emotion string
	var audioCount int
	for _, ev := range got {
		switch ev.Kind {
		case EventText:
			text += ev.Content
		case EventEmotion:
			emotion = ev.Content
		case EventAudio:
			audioCount++
			assert.Equal(t, "/files/a.wav", ev.Content)
		case EventError:
			t.Fatalf("unexpected error event: %s", ev.Content)
		}
	}

	assert.Equal(t, "Привет, как дела?", text)
	assert.Equal(t, "happy", emotion)
	assert.Equal(t, 1, audioCount)
}

func TestStreamTurn_MalformedLinesSkipped(t *testing.T) {
	server := streamServer(t, []string{
		`{"type":"text","content":"Привет"}`,
		`{not json at all`,
		``,
		`{"type":"text","content":"!"}`,
		`{"type":"done"}`,
	})
	defer server.Close()

	c := newTestClient(server.URL)

	events, err := c.StreamTurn(context.Background(), &TurnRequest{Text: "привет", Language: "ru"})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, EventText, got[0].Kind)
	assert.Equal(t, EventText, got[1].Kind)
}

func TestStreamTurn_ErrorEventTerminates(t *testing.T) {
	server := streamServer(t, []string{
		`{"type":"error","content":"backend unavailable"}`,
		`{"type":"text","content":"never delivered"}`,
	})
	defer server.Close()

	c := newTestClient(server.URL)

	events, err := c.StreamTurn(context.Background(), &TurnRequest{Text: "привет", Language: "ru"})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Kind)
	assert.Equal(t, "backend unavailable", got[0].Content)
}

func TestStreamTurn_DropWithoutTerminalSignal(t *testing.T) {
	server := streamServer(t, []string{
		`{"type":"text","content":"Прив"}`,
	})
	defer server.Close()

	c := newTestClient(server.URL)

	events, err := c.StreamTurn(context.Background(), &TurnRequest{Text: "привет", Language: "ru"})
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, EventText, got[0].Kind)
	assert.Equal(t, EventError, got[1].Kind)
}

func TestStreamTurn_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"detail": "overloaded"})
	}))
	defer server.Close()

	c := newTestClient(server.URL)

	_, err := c.StreamTurn(context.Background(), &TurnRequest{Text: "привет", Language: "ru"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestStreamTurn_UnknownUnitSkipped(t *testing.T) {
	server := streamServer(t, []string{
		`{"type":"viseme","content":"AA"}`,
		`{"type":"done"}`,
	})
	defer server.Close()

	c := newTestClient(server.URL)

	events, err := c.StreamTurn(context.Background(), &TurnRequest{Text: "привет", Language: "ru"})
	require.NoError(t, err)

	got := collect(t, events)
	assert.Empty(t, got)
}

func TestDisplayText(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"no markers", "Привет, как дела?", "Привет, как дела?"},
		{"single marker", "Привет.|Как дела?", "Привет. Как дела?"},
		{"marker with spaces", "Привет. | Как дела?", "Привет. Как дела?"},
		{"leading and trailing", "|Привет|", "Привет"},
		{"collapses doubles", "Привет.  |  Как", "Привет. Как"},
		{"keeps newlines", "Привет.\nКак дела?", "Привет.\nКак дела?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayText(tt.raw))
		})
	}
}
