package listen

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// recognizerServer upgrades the connection and sends the scripted
// messages, then closes normally.
func recognizerServer(t *testing.T, messages []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		// Give the client a moment to read the close frame.
		conn.ReadMessage()
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestStreamingRecognizer_DeliversTranscripts(t *testing.T) {
	server := recognizerServer(t, []string{
		`{"type":"partial","text":"алия рас"}`,
		`{"type":"final","text":"алия расскажи анекдот"}`,
	})
	defer server.Close()

	cfg := DefaultStreamingConfig()
	cfg.Endpoint = wsURL(server)
	r := NewStreamingRecognizer(cfg, nil, zerolog.Nop())

	var results []Result
	status, err := r.Listen(context.Background(), func(res Result) {
		results = append(results, res)
	})

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
	require.Len(t, results, 2)
	assert.False(t, results[0].IsFinal)
	assert.Equal(t, "алия рас", results[0].Text)
	assert.True(t, results[1].IsFinal)
	assert.Equal(t, "алия расскажи анекдот", results[1].Text)
}

func TestStreamingRecognizer_StatusMessagesEndSession(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    Status
	}{
		{"idle", `{"type":"status","status":"idle"}`, StatusIdle},
		{"completed", `{"type":"status","status":"completed"}`, StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := recognizerServer(t, []string{tt.message})
			defer server.Close()

			cfg := DefaultStreamingConfig()
			cfg.Endpoint = wsURL(server)
			r := NewStreamingRecognizer(cfg, nil, zerolog.Nop())

			status, err := r.Listen(context.Background(), func(Result) {})
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestStreamingRecognizer_ServerError(t *testing.T) {
	server := recognizerServer(t, []string{
		`{"type":"error","message":"quota exceeded"}`,
	})
	defer server.Close()

	cfg := DefaultStreamingConfig()
	cfg.Endpoint = wsURL(server)
	r := NewStreamingRecognizer(cfg, nil, zerolog.Nop())

	status, err := r.Listen(context.Background(), func(Result) {})
	assert.Equal(t, StatusError, status)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestStreamingRecognizer_MalformedMessagesSkipped(t *testing.T) {
	server := recognizerServer(t, []string{
		`{broken`,
		`{"type":"final","text":"алия стоп"}`,
	})
	defer server.Close()

	cfg := DefaultStreamingConfig()
	cfg.Endpoint = wsURL(server)
	r := NewStreamingRecognizer(cfg, nil, zerolog.Nop())

	var results []Result
	status, err := r.Listen(context.Background(), func(res Result) {
		results = append(results, res)
	})

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)
	require.Len(t, results, 1)
	assert.Equal(t, "алия стоп", results[0].Text)
}

func TestStreamingRecognizer_CancelEndsIdle(t *testing.T) {
	// The server sends nothing, so the read loop only ends when the
	// context closes the socket underneath it.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.ReadMessage()
	}))
	defer server.Close()

	cfg := DefaultStreamingConfig()
	cfg.Endpoint = wsURL(server)
	r := NewStreamingRecognizer(cfg, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	status, err := r.Listen(ctx, func(Result) {})
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, status)
}

func TestStreamingRecognizer_Unconfigured(t *testing.T) {
	r := NewStreamingRecognizer(&StreamingConfig{}, nil, zerolog.Nop())

	assert.False(t, r.IsAvailable())

	status, err := r.Listen(context.Background(), func(Result) {})
	assert.Equal(t, StatusError, status)
	assert.ErrorIs(t, err, ErrRecognizerUnavailable)
}

func TestStreamingRecognizer_ForwardsAudioFrames(t *testing.T) {
	received := make(chan []byte, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- frame

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"status","status":"completed"}`))
		conn.ReadMessage()
	}))
	defer server.Close()

	source := make(chan []byte, 1)
	source <- []byte{0x01, 0x02}

	cfg := DefaultStreamingConfig()
	cfg.Endpoint = wsURL(server)
	r := NewStreamingRecognizer(cfg, source, zerolog.Nop())

	status, err := r.Listen(context.Background(), func(Result) {})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status)

	select {
	case frame := <-received:
		assert.Equal(t, []byte{0x01, 0x02}, frame)
	case <-time.After(time.Second):
		t.Fatal("audio frame never reached the server")
	}
}
