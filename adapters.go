package redisclient

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// zerologLogger adapts a zerolog.Logger to our Logger interface
type zerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger returns a Logger writing JSON lines to w at the given
// minimum level. A nil writer means os.Stderr.
func NewZerologLogger(w io.Writer, level zerolog.Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	return &zerologLogger{
		logger: zerolog.New(w).Level(level).With().Timestamp().Str("component", "redisclient").Logger(),
	}
}

// ZerologAdapter wraps an existing zerolog.Logger
func ZerologAdapter(l zerolog.Logger) Logger {
	return &zerologLogger{logger: l}
}

func (zl *zerologLogger) Debug(msg string, fields ...Field) {
	withFields(zl.logger.Debug(), fields).Msg(msg)
}

func (zl *zerologLogger) Info(msg string, fields ...Field) {
	withFields(zl.logger.Info(), fields).Msg(msg)
}

func (zl *zerologLogger) Error(msg string, fields ...Field) {
	withFields(zl.logger.Error(), fields).Msg(msg)
}

func withFields(e *zerolog.Event, fields []Field) *zerolog.Event {
	for _, field := range fields {
		switch val := field.Value.(type) {
		case error:
			e = e.AnErr(field.Key, val)
		case string:
			e = e.Str(field.Key, val)
		case int:
			e = e.Int(field.Key, val)
		case int64:
			e = e.Int64(field.Key, val)
		default:
			e = e.Interface(field.Key, val)
		}
	}
	return e
}

// defaultLogger logs at info level and above to stderr
func defaultLogger() Logger {
	return NewZerologLogger(os.Stderr, zerolog.InfoLevel)
}
