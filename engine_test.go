package yydb

import (
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/andreyvit/yydb/core"
)

type failingCore struct {
	core.Core
	initErr, deinitErr error
}

func (c *failingCore) Init(env core.Env) error {
	if c.initErr != nil {
		return c.initErr
	}
	return c.Core.Init(env)
}

func (c *failingCore) Deinit() error {
	if err := c.Core.Deinit(); err != nil {
		return err
	}
	return c.deinitErr
}

func TestEngineLifecycle(t *testing.T) {
	sink := &memorySink{}
	e := New(core.NewReference(core.RegistryOptions{}), Options{Sink: sink})

	_, err := e.NewHandler()
	isErr(t, err, ErrNotInitialized)

	ensure(e.Init())
	ensure(e.Init())
	deepEqual(t, e.Bridge().HasSink(), true)

	h := must(e.NewHandler())
	ensure(h.Open("t1"))
	ensure(h.Close())

	ensure(e.Deinit())
	ensure(e.Deinit())
	deepEqual(t, e.Bridge().HasSink(), false)

	_, err = e.NewHandler()
	isErr(t, err, ErrNotInitialized)

	lines := sink.all()
	deepEqual(t, lines[0], "[Inf] Initializing YYDB storage engine...")
	deepEqual(t, lines[len(lines)-1], "[Inf] YYDB Deinitialized.")
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"Reference core initialized.", "[Inf] Open table table=t1", "Reference core deinitialized."} {
		if !strings.Contains(joined, want) {
			t.Errorf("log missing %q:\n%s", want, joined)
		}
	}

	// nothing reaches the sink once it has been released
	n := len(sink.all())
	e.Logger().Error("late")
	deepEqual(t, len(sink.all()), n)
	deepEqual(t, e.Stats().Log.Dropped, uint64(1))
}

func TestEngineInitFailure(t *testing.T) {
	sink := &memorySink{}
	boom := errors.New("boom")
	e := New(&failingCore{Core: core.NewReference(core.RegistryOptions{}), initErr: boom}, Options{Sink: sink})

	isErr(t, e.Init(), boom)
	deepEqual(t, e.Bridge().HasSink(), false)
	_, err := e.NewHandler()
	isErr(t, err, ErrNotInitialized)

	joined := strings.Join(sink.all(), "\n")
	if !strings.Contains(joined, "[Err] ") || !strings.Contains(joined, "core initialization failed err=boom") {
		t.Errorf("init failure not logged:\n%s", joined)
	}
}

func TestEngineDeinitReportsProblems(t *testing.T) {
	boom := errors.New("boom")
	e := New(&failingCore{Core: core.NewMem(core.MemOptions{}), deinitErr: boom}, Options{})
	ensure(e.Init())

	h := must(e.NewHandler())
	ensure(h.Open("t1"))

	err := e.Deinit()
	isErr(t, err, boom)
	if err == nil || !strings.Contains(err.Error(), "1 handlers still open") {
		t.Errorf("Deinit = %v", err)
	}
	deepEqual(t, e.Bridge().HasSink(), false)
	ensure(h.Close())
}

func TestEngineLogLevel(t *testing.T) {
	sink := &memorySink{}
	e := setupEngine(t, core.NewMem(core.MemOptions{}), Options{Sink: sink, LogLevel: slog.LevelWarn})

	h := openHandler(t, e, "t1")
	ensure(h.WriteRow([]byte("x")))
	e.Logger().Warn("only this")

	deepEqual(t, sink.all(), []string{"[Wrn] only this"})
}

func TestEngineTraceRowDump(t *testing.T) {
	sink := &memorySink{}
	e := setupEngine(t, core.NewReference(core.RegistryOptions{}), Options{Sink: sink, LogLevel: core.LevelTrace})

	h := openHandler(t, e, "t1")
	ensure(h.WriteRow([]byte("hello")))

	var dump string
	for _, line := range sink.all() {
		if strings.HasPrefix(line, "[Vrb] Discarding row") {
			dump = line
		}
	}
	if !strings.Contains(dump, "Hex view for buffer (5 bytes):") || !strings.Contains(dump, "68656c6c6f") {
		t.Errorf("row dump = %q", dump)
	}
	if e.Stats().Log.HeapAcquired == 0 || e.Stats().Log.HeapAcquired != e.Stats().Log.HeapReleased {
		t.Errorf("long dump should go through a released heap buffer: %+v", e.Stats().Log)
	}
}
