package yydb

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestShareCache(t *testing.T) {
	c := newShareCache(0)

	s1 := must(c.acquire("t1"))
	s2 := must(c.acquire("t1"))
	if s1 != s2 {
		t.Fatalf("acquire returned two shares for t1")
	}
	deepEqual(t, s1.Name(), "t1")
	deepEqual(t, c.len(), 1)

	c.release(s1)
	deepEqual(t, c.lookup("t1"), s1)
	c.release(s2)
	isnil(t, c.lookup("t1"))
	deepEqual(t, c.len(), 0)

	s3 := must(c.acquire("t1"))
	if s3 == s1 {
		t.Errorf("evicted share came back")
	}
	deepEqual(t, c.createdCount(), uint64(2))
}

func TestShareCacheLimit(t *testing.T) {
	c := newShareCache(2)
	a := must(c.acquire("a"))
	must(c.acquire("b"))
	must(c.acquire("a"))

	_, err := c.acquire("c")
	isErr(t, err, ErrResourceExhausted)

	c.release(a)
	c.release(a)
	must(c.acquire("c"))
}

func TestShareCacheConcurrent(t *testing.T) {
	c := newShareCache(0)
	const n = 50

	shares := make([]*Share, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shares[i] = must(c.acquire("t1"))
		}()
	}
	wg.Wait()
	for _, s := range shares {
		if s != shares[0] {
			t.Fatalf("concurrent acquire produced different shares")
		}
	}
	deepEqual(t, c.createdCount(), uint64(1))
}

func TestLockTypes(t *testing.T) {
	deepEqual(t, LockRead.IsWrite(), false)
	deepEqual(t, LockWriteAllowWrite.IsWrite(), true)
	deepEqual(t, LockWriteConcurrentInsert.exclusive(), false)
	deepEqual(t, LockWrite.exclusive(), true)
	deepEqual(t, LockWriteOnly.exclusive(), true)
	deepEqual(t, LockWriteConcurrentInsert.String(), "write_concurrent_insert")
	deepEqual(t, LockType(99).String(), "invalid")
}

func TestTableLock(t *testing.T) {
	var l TableLock
	ctx := context.Background()

	ensure(l.acquire(ctx, false))
	ensure(l.acquire(ctx, false))
	readers, writer := l.State()
	deepEqual(t, readers, 2)
	deepEqual(t, writer, false)

	got := make(chan struct{})
	go func() {
		ensure(l.acquire(ctx, true))
		close(got)
	}()

	l.release(false)
	select {
	case <-got:
		t.Fatalf("writer got in while a reader remained")
	case <-time.After(10 * time.Millisecond):
	}
	l.release(false)
	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatalf("writer never got the lock")
	}

	readers, writer = l.State()
	deepEqual(t, readers, 0)
	deepEqual(t, writer, true)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	isErr(t, l.acquire(cctx, false), context.Canceled)

	l.release(true)
	ensure(l.acquire(ctx, true))
	l.release(true)
}
