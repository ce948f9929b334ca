package logbridge

import (
	"context"
	"log/slog"

	"github.com/go-pkgz/lgr"
)

// Discard accepts and drops everything.
var Discard Sink = SinkFunc(func(Priority, []byte) error { return nil })

func trimNUL(msg []byte) string {
	if n := len(msg); n > 0 && msg[n-1] == 0 {
		msg = msg[:n-1]
	}
	return string(msg)
}

type slogSink struct {
	logger *slog.Logger
}

// SlogSink writes into a slog logger. System messages are logged at info,
// informational ones at debug.
func SlogSink(logger *slog.Logger) Sink {
	return slogSink{logger}
}

func (s slogSink) WriteLog(prio Priority, msg []byte) error {
	var level slog.Level
	switch prio {
	case PrioError:
		level = slog.LevelError
	case PrioWarning:
		level = slog.LevelWarn
	case PrioSystem:
		level = slog.LevelInfo
	default:
		level = slog.LevelDebug
	}
	s.logger.Log(context.Background(), level, trimNUL(msg))
	return nil
}

type lgrSink struct {
	l lgr.L
}

// LgrSink writes into a go-pkgz/lgr logger using its level prefixes.
func LgrSink(l lgr.L) Sink {
	return lgrSink{l}
}

func (s lgrSink) WriteLog(prio Priority, msg []byte) error {
	var prefix string
	switch prio {
	case PrioError:
		prefix = "[ERROR]"
	case PrioWarning:
		prefix = "[WARN]"
	case PrioSystem:
		prefix = "[INFO]"
	default:
		prefix = "[DEBUG]"
	}
	s.l.Logf("%s %s", prefix, trimNUL(msg))
	return nil
}
