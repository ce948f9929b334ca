// Package logbridge forwards levelled messages to the host's diagnostic sink.
//
// Messages are copied into a NUL-terminated buffer before they reach the sink,
// because hosts consume C strings. Short messages (under MaxBufferSize bytes
// including the terminator) use a fixed-size pooled buffer; longer ones get a
// heap buffer of exactly len+1 bytes that is released on every exit path.
// Sink failures, including panics, are counted and swallowed.
package logbridge

import (
	"strconv"
	"sync"
	"sync/atomic"
)

// Level is the numeric log level used across the boundary.
type Level int32

const (
	LevelError Level = 1
	LevelWarn  Level = 2
	LevelInfo  Level = 3
	LevelDebug Level = 4
	LevelTrace Level = 5
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	default:
		return "level(" + strconv.Itoa(int(l)) + ")"
	}
}

// Priority is the severity class understood by the host sink.
type Priority int

const (
	PrioSystem Priority = iota
	PrioError
	PrioWarning
	PrioInformation
)

func (p Priority) String() string {
	switch p {
	case PrioSystem:
		return "System"
	case PrioError:
		return "Error"
	case PrioWarning:
		return "Warning"
	default:
		return "Note"
	}
}

// PriorityOf maps a level to a host priority. Info and debug messages are
// reported as system messages so that they show up in the host's error log
// without lowering its verbosity; everything unknown is informational.
func PriorityOf(level Level) Priority {
	switch level {
	case LevelError:
		return PrioError
	case LevelWarn:
		return PrioWarning
	case LevelInfo, LevelDebug:
		return PrioSystem
	default:
		return PrioInformation
	}
}

// MaxBufferSize is the size of the inline buffer, terminator included.
const MaxBufferSize = 256

// Sink receives NUL-terminated messages. msg is only valid during the call.
type Sink interface {
	WriteLog(prio Priority, msg []byte) error
}

type SinkFunc func(prio Priority, msg []byte) error

func (f SinkFunc) WriteLog(prio Priority, msg []byte) error {
	return f(prio, msg)
}

type Stats struct {
	Inline       uint64
	HeapAcquired uint64
	HeapReleased uint64
	SinkFailures uint64
	Dropped      uint64
}

type Bridge struct {
	sink atomic.Pointer[sinkRef]

	inline       atomic.Uint64
	heapAcquired atomic.Uint64
	heapReleased atomic.Uint64
	sinkFailures atomic.Uint64
	dropped      atomic.Uint64
}

type sinkRef struct {
	s Sink
}

// New returns a bridge without a sink; messages are dropped until SetSink.
func New() *Bridge {
	return &Bridge{}
}

func (b *Bridge) SetSink(s Sink) {
	if s == nil {
		b.sink.Store(nil)
		return
	}
	b.sink.Store(&sinkRef{s})
}

// Release detaches the sink.
func (b *Bridge) Release() {
	b.sink.Store(nil)
}

func (b *Bridge) HasSink() bool {
	return b.sink.Load() != nil
}

func (b *Bridge) Stats() Stats {
	return Stats{
		Inline:       b.inline.Load(),
		HeapAcquired: b.heapAcquired.Load(),
		HeapReleased: b.heapReleased.Load(),
		SinkFailures: b.sinkFailures.Load(),
		Dropped:      b.dropped.Load(),
	}
}

var inlineBufPool = &sync.Pool{
	New: func() any {
		return new([MaxBufferSize]byte)
	},
}

// Write copies msg into a terminated buffer and hands it to the sink.
// It never reads beyond msg and never fails.
func (b *Bridge) Write(level Level, msg []byte) {
	ref := b.sink.Load()
	if ref == nil {
		b.dropped.Add(1)
		return
	}
	prio := PriorityOf(level)

	n := len(msg)
	if n > MaxBufferSize-1 {
		buf := make([]byte, n+1)
		b.heapAcquired.Add(1)
		defer b.heapReleased.Add(1)
		b.deliver(ref.s, prio, buf, msg)
	} else {
		arr := inlineBufPool.Get().(*[MaxBufferSize]byte)
		defer inlineBufPool.Put(arr)
		b.inline.Add(1)
		b.deliver(ref.s, prio, arr[:n+1], msg)
	}
}

func (b *Bridge) WriteString(level Level, msg string) {
	b.Write(level, []byte(msg))
}

func (b *Bridge) deliver(s Sink, prio Priority, buf, msg []byte) {
	n := copy(buf, msg)
	buf[n] = 0

	defer func() {
		if p := recover(); p != nil {
			b.sinkFailures.Add(1)
		}
	}()
	if err := s.WriteLog(prio, buf); err != nil {
		b.sinkFailures.Add(1)
	}
}
