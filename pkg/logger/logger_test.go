package logger

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel_RecognizesEveryLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("INFO"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("Error"))
}

func TestParseLevel_UnknownFallsBackToWarn(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, ParseLevel("chatty"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(""))
}

func TestNew_ScopesLoggerToComponent(t *testing.T) {
	log := New("node", slog.LevelInfo)
	assert.NotNil(t, log)
	assert.True(t, log.Enabled(nil, slog.LevelInfo))
	assert.False(t, log.Enabled(nil, slog.LevelDebug))
}

func TestFilteringHandler_PC0IsTreatedAsFlockOrigin(t *testing.T) {
	h := &filteringHandler{handler: slog.NewJSONHandler(discard{}, nil), minLevel: slog.LevelInfo}
	assert.True(t, h.isFlockPackage(0))
}

func TestFilteringHandler_DebugLevelLetsEverythingThrough(t *testing.T) {
	h := &filteringHandler{handler: slog.NewJSONHandler(discard{}, nil), minLevel: slog.LevelDebug}
	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "test", 0)
	assert.NoError(t, h.Handle(nil, rec))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
