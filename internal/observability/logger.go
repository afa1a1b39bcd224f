// internal/observability/logger.go
package observability

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/xkilldash9x/gauntlet-cli/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// TimeLayout is the timestamp format of every encoder. The watch command
// parses the JSON log file with it.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

const defaultServiceName = "gauntlet"

var (
	current  atomic.Pointer[zap.Logger]
	initOnce sync.Once
)

const ansiReset = "\x1b[0m"

var ansiColors = map[string]string{
	"red":     "\x1b[31m",
	"green":   "\x1b[32m",
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
	"white":   "\x1b[37m",
}

// Initialize installs the process logger on the first call; later calls are
// no-ops. Console entries go to console in cfg.Format. A non-empty
// cfg.LogFile adds a rotating JSON sink, which is what `gauntlet watch` tails.
func Initialize(cfg config.LoggerConfig, console zapcore.WriteSyncer) {
	initOnce.Do(func() {
		logger := build(cfg, console)
		current.Store(logger)
		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger initializes with a locked stdout as the console sink.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stdout))
}

func build(cfg config.LoggerConfig, console zapcore.WriteSyncer) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	enabler := zap.NewAtomicLevelAt(level)

	consoleEncoder := jsonEncoder()
	if strings.EqualFold(cfg.Format, "console") {
		consoleEncoder = textEncoder(cfg.Colors)
	}
	core := zapcore.NewCore(consoleEncoder, console, enabler)
	if sink := fileSink(cfg); sink != nil {
		core = zapcore.NewTee(core, zapcore.NewCore(jsonEncoder(), sink, enabler))
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}
	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	return zap.New(core, opts...).Named(name)
}

// fileSink returns nil when no log file is configured.
func fileSink(cfg config.LoggerConfig) zapcore.WriteSyncer {
	if cfg.LogFile == "" {
		return nil
	}
	if dir := filepath.Dir(cfg.LogFile); dir != "." {
		// lumberjack creates the directory too; doing it here surfaces the
		// error on stderr instead of on the first write.
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintln(os.Stderr, "Error: creating log directory:", err)
		}
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}

func baseEncoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(TimeLayout)
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return ec
}

func jsonEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(baseEncoderConfig())
}

func textEncoder(colors config.ColorConfig) zapcore.Encoder {
	ec := baseEncoderConfig()
	ec.EncodeLevel = paletteEncoder(palette(colors))
	// Renders "gauntlet.engine." instead of a bare tab-separated name.
	ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(ec)
}

// palette resolves the configured color names once. Levels with an unknown
// or empty color name are left out and print uncolored.
func palette(colors config.ColorConfig) map[zapcore.Level]string {
	names := map[zapcore.Level]string{
		zapcore.DebugLevel:  colors.Debug,
		zapcore.InfoLevel:   colors.Info,
		zapcore.WarnLevel:   colors.Warn,
		zapcore.ErrorLevel:  colors.Error,
		zapcore.DPanicLevel: colors.DPanic,
		zapcore.PanicLevel:  colors.Panic,
		zapcore.FatalLevel:  colors.Fatal,
	}
	out := make(map[zapcore.Level]string, len(names))
	for lvl, name := range names {
		if code, ok := ansiColors[strings.ToLower(strings.TrimSpace(name))]; ok {
			out[lvl] = code
		}
	}
	return out
}

func paletteEncoder(codes map[zapcore.Level]string) zapcore.LevelEncoder {
	return func(lvl zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		if code, ok := codes[lvl]; ok {
			enc.AppendString(code + lvl.CapitalString() + ansiReset)
			return
		}
		enc.AppendString(lvl.CapitalString())
	}
}

// ResetForTest drops the installed logger so Initialize runs again.
func ResetForTest() {
	current.Store(nil)
	initOnce = sync.Once{}
}

// GetLogger returns the installed logger. Before Initialize it hands out a
// development logger named "fallback".
func GetLogger() *zap.Logger {
	if logger := current.Load(); logger != nil {
		return logger
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Global logger requested before initialization; using fallback.")
	return l.Named("fallback")
}

// Sync flushes buffered entries. Call before exiting.
func Sync() {
	logger := current.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil && !unsyncableConsole(err) {
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}

// unsyncableConsole reports whether err comes from fsync on a terminal or
// pipe, which many platforms reject.
func unsyncableConsole(err error) bool {
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) && (pathErr.Path == "/dev/stdout" || pathErr.Path == "/dev/stderr") {
		return true
	}
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY)
}
