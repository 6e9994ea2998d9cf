// Package logger builds the process slog logger: a colourised handler for
// terminals and a zap-backed JSON handler for log shippers.
package logger

import (
	"io"
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps debug, info, warn and error to slog levels; anything else
// is info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func zapLevel(l slog.Level) zapcore.Level {
	switch {
	case l >= slog.LevelError:
		return zapcore.ErrorLevel
	case l >= slog.LevelWarn:
		return zapcore.WarnLevel
	case l >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// New returns a logger writing to w in format ("json" or "pretty") and the
// function that flushes it.
func New(format, level string, w io.Writer) (*slog.Logger, func() error) {
	lvl := ParseLevel(level)
	if format != "json" {
		return slog.New(NewPrettyHandler(w, &slog.HandlerOptions{Level: lvl})), func() error { return nil }
	}

	encoder := zap.NewProductionEncoderConfig()
	encoder.TimeKey = "time"
	encoder.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoder), zapcore.AddSync(w), zap.NewAtomicLevelAt(zapLevel(lvl)))

	return slog.New(zapslog.NewHandler(core, zapslog.WithCaller(true))), core.Sync
}
