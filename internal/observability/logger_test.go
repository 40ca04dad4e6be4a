package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/protolith/excavate/internal/config"
)

// syncBuffer adapts bytes.Buffer to zapcore.WriteSyncer.
type syncBuffer struct {
	bytes.Buffer
}

func (b *syncBuffer) Sync() error { return nil }

func initForTest(t *testing.T, cfg config.LoggerConfig) *syncBuffer {
	t.Helper()
	ResetForTest()
	t.Cleanup(ResetForTest)

	buf := &syncBuffer{}
	Initialize(cfg, zapcore.Lock(buf))
	return buf
}

func TestInitializeJSONFormat(t *testing.T) {
	buf := initForTest(t, config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "excavate-test"})

	GetLogger().Info("hello from the test")

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "hello from the test", entry["msg"])
	assert.Equal(t, "excavate-test", entry["logger"])
}

func TestLevelFiltering(t *testing.T) {
	buf := initForTest(t, config.LoggerConfig{Level: "warn", Format: "json", ServiceName: "excavate-test"})

	GetLogger().Info("should be filtered")
	GetLogger().Warn("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should be filtered")
	assert.Contains(t, out, "should appear")
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	buf := initForTest(t, config.LoggerConfig{Level: "not-a-level", Format: "json", ServiceName: "excavate-test"})

	GetLogger().Debug("debug suppressed")
	GetLogger().Info("info visible")

	out := buf.String()
	assert.NotContains(t, out, "debug suppressed")
	assert.Contains(t, out, "info visible")
}

func TestFileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "excavate.log")
	initForTest(t, config.LoggerConfig{
		Level:       "info",
		Format:      "console",
		ServiceName: "excavate-test",
		LogFile:     logFile,
		MaxSize:     1,
		MaxBackups:  1,
		MaxAge:      1,
	})

	GetLogger().Info("written to file")
	Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	// File output is always JSON regardless of console format.
	assert.Contains(t, string(data), `"msg":"written to file"`)
}

func TestGetLoggerBeforeInitialize(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	// A fallback logger must be safe to use.
	logger.Info("fallback logging works")
}
