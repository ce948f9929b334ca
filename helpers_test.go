package yydb

import (
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/andreyvit/yydb/core"
	"github.com/andreyvit/yydb/logbridge"
)

// memorySink records every delivered log line.
type memorySink struct {
	mu    sync.Mutex
	lines []string
}

func (s *memorySink) WriteLog(prio logbridge.Priority, msg []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(msg); n > 0 && msg[n-1] == 0 {
		msg = msg[:n-1]
	}
	s.lines = append(s.lines, string(msg))
	return nil
}

func (s *memorySink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func setupEngine(t testing.TB, c core.Core, opt Options) *Engine {
	t.Helper()
	e := New(c, opt)
	ensure(e.Init())
	t.Cleanup(func() {
		if err := e.Deinit(); err != nil {
			t.Errorf("Deinit: %v", err)
		}
	})
	return e
}

func setup(t testing.TB) *Engine {
	return setupEngine(t, core.NewReference(core.RegistryOptions{}), Options{})
}

func setupMem(t testing.TB) *Engine {
	return setupEngine(t, core.NewMem(core.MemOptions{}), Options{})
}

func setupBolt(t testing.TB) *Engine {
	return setupEngine(t, core.NewBolt(core.BoltOptions{
		Path:      filepath.Join(t.TempDir(), "yydb.db"),
		IsTesting: true,
	}), Options{})
}

func openHandler(t testing.TB, e *Engine, table string) *Handler {
	t.Helper()
	h := must(e.NewHandler())
	if err := h.Open(table); err != nil {
		t.Fatalf("Open(%q): %v", table, err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func scanRows(t testing.TB, h *Handler) []string {
	t.Helper()
	ensure(h.RndInit(true))
	defer h.RndEnd()
	var rows []string
	buf := make([]byte, 1024)
	for {
		n, err := h.RndNext(buf)
		if errors.Is(err, ErrEndOfData) {
			return rows
		} else if err != nil {
			t.Fatalf("RndNext: %v", err)
		}
		rows = append(rows, string(buf[:n]))
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isempty[T any, S ~[]T](t testing.TB, a S) {
	if len(a) > 0 {
		t.Helper()
		t.Errorf("** got %v, wanted empty slice", a)
	}
}

func isnil[T any, P ~*T](t testing.TB, a P) {
	if a != nil {
		t.Helper()
		t.Errorf("** got &%v, wanted nil", *a)
	}
}

func isnonnil[T any](t testing.TB, a *T) {
	if a == nil {
		t.Helper()
		t.Errorf("** got nil %T, wanted non-nil", a)
	}
}

func isErr(t testing.TB, a, e error) {
	if !errors.Is(a, e) {
		t.Helper()
		t.Errorf("** got error %v, wanted %v", a, e)
	}
}
