package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"regexp"
	"strings"
)

// readStream decodes the NDJSON reply body into stream events. Lines that
// fail to decode are skipped; the stream only terminates on a "done"
// marker, an "error" unit, or the transport closing. A close without a
// terminal marker is surfaced as an error event so the caller can recover.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, events chan<- StreamEvent) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	sawTerminal := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var unit streamLine
		if err := json.Unmarshal([]byte(line), &unit); err != nil {
			c.logger.Debug().Str("line", truncate(line, 120)).Msg("Skipping malformed stream line")
			continue
		}

		switch unit.Type {
		case "text":
			if !emit(ctx, events, StreamEvent{Kind: EventText, Content: unit.Content}) {
				return
			}
		case "emotion":
			if !emit(ctx, events, StreamEvent{Kind: EventEmotion, Content: unit.Content}) {
				return
			}
		case "audio":
			if !emit(ctx, events, StreamEvent{Kind: EventAudio, Content: unit.Content}) {
				return
			}
		case "error":
			sawTerminal = true
			emit(ctx, events, StreamEvent{Kind: EventError, Content: unit.Content})
			return
		case "done":
			sawTerminal = true
			return
		default:
			c.logger.Debug().Str("type", unit.Type).Msg("Skipping unknown stream unit")
		}
	}

	if ctx.Err() != nil {
		return
	}

	if !sawTerminal {
		// Connection dropped without a terminal signal.
		emit(ctx, events, StreamEvent{Kind: EventError, Content: "connection closed unexpectedly"})
	}
}

// emit delivers an event unless the request context is cancelled.
func emit(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// markerPattern matches the voice-segmentation separators the backend may
// leave in generated text, with any spaces they carry on the same line.
var markerPattern = regexp.MustCompile(`[ \t]*\|[ \t]*`)

var doubleSpace = regexp.MustCompile(`[ \t]{2,}`)

// DisplayText strips internal sentence-segmentation markers from a raw
// reply. The raw concatenation stays canonical for history and logging;
// this form is what the UI renders.
func DisplayText(raw string) string {
	cleaned := markerPattern.ReplaceAllString(raw, " ")
	cleaned = doubleSpace.ReplaceAllString(cleaned, " ")
	return strings.TrimSpace(cleaned)
}
