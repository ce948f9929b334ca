package main

import (
	"context"
	"errors"
	"runtime/cgo"
	"sync"
	"time"

	"github.com/andreyvit/yydb"
	"github.com/andreyvit/yydb/core"
	"github.com/andreyvit/yydb/logbridge"
)

var (
	errBadHandler  = errors.New("invalid handler handle")
	errBadLockType = errors.New("invalid lock type")
)

// library is the process-wide state behind the exported C functions.
type library struct {
	mu     sync.Mutex
	engine *yydb.Engine
}

func (l *library) init(configPath string, sink logbridge.Sink) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.engine != nil {
		return nil
	}
	cfg, err := yydb.LoadConfig(configPath)
	if err != nil {
		return err
	}
	e, err := yydb.Open(cfg, sink)
	if err != nil {
		return err
	}
	l.engine = e
	return nil
}

func (l *library) deinit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.engine == nil {
		return nil
	}
	err := l.engine.Deinit()
	l.engine = nil
	return err
}

func (l *library) current() (*yydb.Engine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.engine == nil {
		return nil, yydb.ErrNotInitialized
	}
	return l.engine, nil
}

func (l *library) core() core.Core {
	e, err := l.current()
	if err != nil {
		return nil
	}
	return e.Core()
}

func (l *library) openTable(name string) core.TableHandle {
	c := l.core()
	if c == nil {
		return core.NoHandle
	}
	return c.OpenTable(name)
}

func (l *library) closeTable(h core.TableHandle) {
	if c := l.core(); c != nil {
		c.CloseTable(h)
	}
}

func (l *library) insertRow(h core.TableHandle, row []byte) error {
	c := l.core()
	if c == nil {
		return yydb.ErrNotInitialized
	}
	return c.InsertRow(h, row)
}

func (l *library) updateRow(h core.TableHandle, oldRow, newRow []byte) error {
	c := l.core()
	if c == nil {
		return yydb.ErrNotInitialized
	}
	return c.UpdateRow(h, oldRow, newRow)
}

// newHandler returns an opaque number the host keeps until destroyHandler.
func (l *library) newHandler() (uintptr, error) {
	e, err := l.current()
	if err != nil {
		return 0, err
	}
	h, err := e.NewHandler()
	if err != nil {
		return 0, err
	}
	return uintptr(cgo.NewHandle(h)), nil
}

func handlerOf(v uintptr) (h *yydb.Handler, err error) {
	if v == 0 {
		return nil, errBadHandler
	}
	defer func() {
		// cgo.Handle.Value panics on handles that were never issued.
		if recover() != nil {
			h, err = nil, errBadHandler
		}
	}()
	h, ok := cgo.Handle(v).Value().(*yydb.Handler)
	if !ok {
		return nil, errBadHandler
	}
	return h, nil
}

func destroyHandler(v uintptr) {
	h, err := handlerOf(v)
	if err != nil {
		return
	}
	h.Close()
	cgo.Handle(v).Delete()
}

func lockTypeOf(v int) (yydb.LockType, error) {
	t := yydb.LockType(v)
	if t < yydb.LockIgnore || t > yydb.LockWriteOnly {
		return yydb.LockIgnore, errBadLockType
	}
	return t, nil
}

// externalLock waits at most timeout for the table lock. A zero or negative
// timeout waits until the lock is free.
func externalLock(h *yydb.Handler, t yydb.LockType, timeout time.Duration) error {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return h.ExternalLock(ctx, t)
}

func rowSizeNeed(err error) (int, bool) {
	var rse *core.RowSizeError
	if errors.As(err, &rse) {
		return rse.Need, true
	}
	return 0, false
}

// resultCode turns an error into the number returned across the C boundary.
func resultCode(err error) int {
	if errors.Is(err, errBadHandler) || errors.Is(err, errBadLockType) || errors.Is(err, yydb.ErrNotInitialized) {
		return int(yydb.CodeGeneric)
	}
	return int(yydb.CodeOf(err))
}
