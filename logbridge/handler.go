package logbridge

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
)

// SlogLevelTrace sits below slog.LevelDebug.
const SlogLevelTrace = slog.LevelDebug - 4

// LevelFromSlog converts a slog level into a boundary level.
func LevelFromSlog(l slog.Level) Level {
	switch {
	case l >= slog.LevelError:
		return LevelError
	case l >= slog.LevelWarn:
		return LevelWarn
	case l >= slog.LevelInfo:
		return LevelInfo
	case l >= slog.LevelDebug:
		return LevelDebug
	default:
		return LevelTrace
	}
}

// ParseLevel accepts error, warn, info, debug and trace. An empty string
// means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return slog.LevelError, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "trace":
		return SlogLevelTrace, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
}

type HandlerOptions struct {
	Level slog.Leveler
}

// Handler is a slog.Handler that formats records as single lines and writes
// them through a Bridge. Errors carry the source location.
type Handler struct {
	bridge *Bridge
	level  slog.Leveler
	prefix string // preformatted attrs from WithAttrs
	group  string
}

var _ slog.Handler = (*Handler)(nil)

func NewHandler(b *Bridge, opts *HandlerOptions) *Handler {
	h := &Handler{bridge: b, level: slog.LevelInfo}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

var lineBufPool = &sync.Pool{
	New: func() any {
		b := make([]byte, 0, MaxBufferSize)
		return &b
	},
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	bp := lineBufPool.Get().(*[]byte)
	buf := (*bp)[:0]

	level := LevelFromSlog(r.Level)
	switch level {
	case LevelError:
		buf = append(buf, "[Err] "...)
		file, line := source(r.PC)
		buf = append(buf, file...)
		buf = append(buf, '@')
		buf = strconv.AppendInt(buf, int64(line), 10)
		buf = append(buf, ": "...)
	case LevelWarn:
		buf = append(buf, "[Wrn] "...)
	case LevelInfo:
		buf = append(buf, "[Inf] "...)
	case LevelDebug:
		buf = append(buf, "[Dug] "...)
	default:
		buf = append(buf, "[Vrb] "...)
	}
	buf = append(buf, r.Message...)
	buf = append(buf, h.prefix...)
	r.Attrs(func(a slog.Attr) bool {
		buf = appendAttr(buf, h.group, a)
		return true
	})

	h.bridge.Write(level, buf)

	*bp = buf
	lineBufPool.Put(bp)
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	buf := []byte(h.prefix)
	for _, a := range attrs {
		buf = appendAttr(buf, h.group, a)
	}
	h2.prefix = string(buf)
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.group = h.group + name + "."
	return &h2
}

func appendAttr(buf []byte, group string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		g := group
		if a.Key != "" {
			g = group + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			buf = appendAttr(buf, g, ga)
		}
		return buf
	}
	buf = append(buf, ' ')
	buf = append(buf, group...)
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	s := a.Value.String()
	if strings.ContainsAny(s, " \n\"=") {
		if strings.Contains(s, "\n") {
			// multi-line values (hex views) go on their own lines
			buf = append(buf, '\n')
			buf = append(buf, s...)
			return buf
		}
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}

func source(pc uintptr) (string, int) {
	if pc == 0 {
		return "", 0
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	f, _ := frames.Next()
	return filepath.Base(f.File), f.Line
}
