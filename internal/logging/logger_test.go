package logging

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, maxHistory int) *Logger {
	t.Helper()
	logger, err := New(&Config{
		LogDir:     t.TempDir(),
		Level:      LevelDebug,
		MaxHistory: maxHistory,
		Console:    false,
	})
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })
	return logger
}

func TestLogger_HistoryCapturesComponentEvents(t *testing.T) {
	logger := newTestLogger(t, 100)

	chatLog := logger.Component("chat")
	chatLog.Info().Msg("привет")
	chatLog.Warn().Msg("backend slow")

	var got []Entry
	for _, e := range logger.History(0) {
		if e.Component == "chat" {
			got = append(got, e)
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, "info", got[0].Level)
	assert.Equal(t, "привет", got[0].Message)
	assert.Equal(t, "warn", got[1].Level)
	assert.Equal(t, "backend slow", got[1].Message)
}

func TestLogger_HistoryIncludesStartupEntry(t *testing.T) {
	logger := newTestLogger(t, 100)

	entries := logger.History(0)
	require.NotEmpty(t, entries)
	assert.Equal(t, "app", entries[0].Component)
	assert.Equal(t, "Logger initialized", entries[0].Message)
}

func TestLogger_HistoryLimit(t *testing.T) {
	logger := newTestLogger(t, 100)
	log := logger.Component("test")

	for i := 0; i < 5; i++ {
		log.Info().Msgf("entry %d", i)
	}

	recent := logger.History(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "entry 3", recent[0].Message)
	assert.Equal(t, "entry 4", recent[1].Message)
}

func TestLogger_HistoryRingTrims(t *testing.T) {
	logger := newTestLogger(t, 3)
	log := logger.Component("test")

	for i := 0; i < 6; i++ {
		log.Info().Msgf("entry %d", i)
	}

	entries := logger.History(0)
	require.Len(t, entries, 3)
	assert.Equal(t, "entry 3", entries[0].Message)
	assert.Equal(t, "entry 5", entries[2].Message)
}

func TestLogger_OnLogTap(t *testing.T) {
	logger := newTestLogger(t, 100)

	tapped := make(chan Entry, 4)
	logger.SetOnLog(func(e Entry) { tapped <- e })

	log := logger.Component("listen")
	log.Info().Msg("armed")

	select {
	case entry := <-tapped:
		assert.Equal(t, "listen", entry.Component)
		assert.Equal(t, "armed", entry.Message)
	case <-time.After(time.Second):
		t.Fatal("tap never fired")
	}
}

func TestLogger_LogPath(t *testing.T) {
	logger := newTestLogger(t, 100)

	name := filepath.Base(logger.LogPath())
	assert.Equal(t, fmt.Sprintf("aliya_%s.log", time.Now().Format("2006-01-02")), name)
}
