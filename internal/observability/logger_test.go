// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/gauntlet-cli/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitialize(t *testing.T) {
	t.Run("console logger with colors", func(t *testing.T) {
		ResetForTest()
		defer ResetForTest()
		var buf bytes.Buffer

		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "TestService",
			Colors:      config.ColorConfig{Info: "green"},
		}, zapcore.AddSync(&buf))
		GetLogger().Info("This is a test message.")
		Sync()

		output := buf.String()
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "This is a test message.")
		assert.Contains(t, output, ansiColors["green"]+"INFO"+ansiReset)
		assert.Contains(t, output, "TestService.")
	})

	t.Run("json logger", func(t *testing.T) {
		ResetForTest()
		defer ResetForTest()
		var buf bytes.Buffer

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"}, zapcore.AddSync(&buf))
		GetLogger().Warn("This is a JSON message.", zap.String("key", "value"))
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "JSONTest", entry["logger"])
		assert.Equal(t, "This is a JSON message.", entry["msg"])
		assert.Equal(t, "value", entry["key"])
	})

	t.Run("file core always writes json", func(t *testing.T) {
		ResetForTest()
		defer ResetForTest()
		logFile := filepath.Join(t.TempDir(), "logs", "nested", "gauntlet.log")
		var buf bytes.Buffer

		Initialize(config.LoggerConfig{
			Level:   "debug",
			Format:  "console",
			LogFile: logFile,
			MaxSize: 1,
		}, zapcore.AddSync(&buf))
		GetLogger().Info("stage done", Event(EventStageAdvanced, 4)...)
		Sync()

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(content), &entry))
		assert.Equal(t, EventStageAdvanced, entry[FieldEvent])
		assert.EqualValues(t, 4, entry[FieldStage])
		assert.Equal(t, "gauntlet", entry["logger"], "empty service name falls back to the default")
	})

	t.Run("initializes only once", func(t *testing.T) {
		ResetForTest()
		defer ResetForTest()
		var buf bytes.Buffer

		Initialize(config.LoggerConfig{Level: "info", ServiceName: "First"}, zapcore.AddSync(&buf))
		first := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", ServiceName: "Second"}, zapcore.AddSync(&buf))
		second := GetLogger()

		assert.Same(t, first, second)
		second.Info("test")
		Sync()
		assert.Contains(t, buf.String(), "First")
		assert.NotContains(t, buf.String(), "Second")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		ResetForTest()
		defer ResetForTest()
		var buf bytes.Buffer

		Initialize(config.LoggerConfig{Level: "chatty", Format: "json"}, zapcore.AddSync(&buf))
		GetLogger().Debug("hidden")
		GetLogger().Info("shown")
		Sync()

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("fallback before initialization", func(t *testing.T) {
		ResetForTest()
		require.NotNil(t, GetLogger())
	})

	t.Run("global logger after initialization", func(t *testing.T) {
		ResetForTest()
		defer ResetForTest()
		Initialize(config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"}, zapcore.AddSync(&bytes.Buffer{}))
		assert.Same(t, current.Load(), GetLogger())
	})
}

func TestPalette(t *testing.T) {
	codes := palette(config.ColorConfig{Info: "Green", Warn: " yellow ", Error: "chartreuse"})

	assert.Equal(t, ansiColors["green"], codes[zapcore.InfoLevel])
	assert.Equal(t, ansiColors["yellow"], codes[zapcore.WarnLevel])
	assert.NotContains(t, codes, zapcore.ErrorLevel, "unknown color names print plain")
	assert.NotContains(t, codes, zapcore.DebugLevel)
}

func TestTextEncoder_UncoloredLevel(t *testing.T) {
	ResetForTest()
	defer ResetForTest()
	var buf bytes.Buffer

	Initialize(config.LoggerConfig{Level: "debug", Format: "CONSOLE", Colors: config.ColorConfig{Info: "green"}}, zapcore.AddSync(&buf))
	GetLogger().Debug("plain entry")
	Sync()

	out := buf.String()
	assert.Contains(t, out, "DEBUG")
	assert.NotContains(t, out, "\x1b[")
	assert.Contains(t, out, "gauntlet.")
	assert.Contains(t, out, "plain entry")
}

func TestUnsyncableConsole(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"stdout path", &fs.PathError{Op: "sync", Path: "/dev/stdout", Err: syscall.EBADF}, true},
		{"invalid argument", fmt.Errorf("sync: %w", syscall.EINVAL), true},
		{"not a tty", &fs.PathError{Op: "sync", Path: "/tmp/x.log", Err: syscall.ENOTTY}, true},
		{"real file error", &fs.PathError{Op: "sync", Path: "/tmp/x.log", Err: syscall.EIO}, false},
		{"plain error", errors.New("disk full"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, unsyncableConsole(tt.err))
		})
	}
}
