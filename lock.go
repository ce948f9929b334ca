package yydb

import (
	"context"
	"sync"
)

// LockType is a table lock intention, in the order the SQL layer ranks them.
type LockType int

const (
	LockIgnore LockType = iota - 1
	LockUnlock
	LockRead
	LockReadNoInsert
	LockWriteAllowWrite
	LockWriteConcurrentInsert
	LockWrite
	LockWriteOnly
)

func (t LockType) String() string {
	switch t {
	case LockIgnore:
		return "ignore"
	case LockUnlock:
		return "unlock"
	case LockRead:
		return "read"
	case LockReadNoInsert:
		return "read_no_insert"
	case LockWriteAllowWrite:
		return "write_allow_write"
	case LockWriteConcurrentInsert:
		return "write_concurrent_insert"
	case LockWrite:
		return "write"
	case LockWriteOnly:
		return "write_only"
	default:
		return "invalid"
	}
}

func (t LockType) IsWrite() bool {
	return t >= LockWriteAllowWrite
}

// exclusive reports whether t excludes every other holder. Write locks that
// allow concurrent writers or inserts are shared.
func (t LockType) exclusive() bool {
	return t >= LockWrite
}

// TableLock is the per-table lock held by a Share. Handlers only reach it
// through StoreLock and ExternalLock.
type TableLock struct {
	mu      sync.Mutex
	readers int
	writer  bool
	changed chan struct{}
}

func (l *TableLock) acquire(ctx context.Context, exclusive bool) error {
	for {
		l.mu.Lock()
		if !l.writer && (!exclusive || l.readers == 0) {
			if exclusive {
				l.writer = true
			} else {
				l.readers++
			}
			l.mu.Unlock()
			return nil
		}
		if l.changed == nil {
			l.changed = make(chan struct{})
		}
		ch := l.changed
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *TableLock) release(exclusive bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if exclusive {
		l.writer = false
	} else if l.readers > 0 {
		l.readers--
	}
	if l.changed != nil {
		close(l.changed)
		l.changed = nil
	}
}

// State reports the current holders.
func (l *TableLock) State() (readers int, writer bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readers, l.writer
}

// lockData is a handler's view of the table lock.
type lockData struct {
	typ  LockType // requested via StoreLock
	held LockType // mode currently held in the TableLock, or LockUnlock
}
