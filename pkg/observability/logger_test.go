package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"dev/bravebird/form-submitter/pkg/config"
)

func setupTestLogger(t *testing.T, cfg config.LoggerConfig) *bytes.Buffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)
	buf := new(bytes.Buffer)
	Initialize(cfg, zapcore.AddSync(buf))
	return buf
}

func TestInitializeJSONLogger(t *testing.T) {
	buf := setupTestLogger(t, config.LoggerConfig{Level: "info", Format: "json", ServiceName: "submitter"})

	GetLogger().Warn("Target failed", zap.String("url", "https://a"))
	GetLogger().Debug("hidden")
	Sync()

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "submitter", entry["logger"])
	assert.Equal(t, "Target failed", entry["msg"])
	assert.Equal(t, "https://a", entry["url"])
}

func TestInitializeConsoleLogger(t *testing.T) {
	buf := setupTestLogger(t, config.LoggerConfig{Level: "debug", Format: "console"})

	GetLogger().Debug("Picked category")
	Sync()

	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "Picked category")
}

func TestInitializeOnlyOnce(t *testing.T) {
	first := setupTestLogger(t, config.LoggerConfig{Level: "info", Format: "json"})
	second := new(bytes.Buffer)
	Initialize(config.LoggerConfig{Level: "info", Format: "json"}, zapcore.AddSync(second))

	GetLogger().Info("hello")
	Sync()
	assert.NotEmpty(t, first.String())
	assert.Empty(t, second.String())
}

func TestInitializeWritesLogFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "submission.log")
	setupTestLogger(t, config.LoggerConfig{Level: "info", Format: "console", LogFile: logFile, MaxSize: 1})

	GetLogger().Info("Run finished", zap.Int("succeeded", 2))
	Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "Run finished", entry["msg"])
	assert.Equal(t, float64(2), entry["succeeded"])
}

func TestGetLoggerFallback(t *testing.T) {
	ResetForTest()
	assert.NotNil(t, GetLogger())
}

func TestTemporalLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := TemporalLogger(zap.New(core))

	l.Info("Starting submission activity", "runID", "r1", "targets", 2)
	l.Error("Submission run failed", "error", "boom")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "temporal", entries[0].LoggerName)
	assert.Equal(t, "r1", entries[0].ContextMap()["runID"])
	assert.Equal(t, int64(2), entries[0].ContextMap()["targets"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}
