package core

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
)

func newTestRegistry(opt RegistryOptions) (*Registry[string], *[]string) {
	var (
		mu        sync.Mutex
		allocated []string
	)
	r := NewRegistry(func(name string, h TableHandle) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		allocated = append(allocated, name)
		return "res:" + name, nil
	}, opt)
	return r, &allocated
}

func TestRegistryOpenClose(t *testing.T) {
	r, allocated := newTestRegistry(RegistryOptions{})

	h1, err := r.Open("t1")
	if err != nil {
		t.Fatal(err)
	}
	if h1 == NoHandle {
		t.Fatalf("Open returned NoHandle")
	}
	if e := TableHandle(xxhash.Sum64String("t1")); h1 != e && e != NoHandle {
		t.Errorf("handle = %v, wanted %v", h1, e)
	}

	h2, err := r.Open("t1")
	if err != nil {
		t.Fatal(err)
	}
	if h2 != h1 {
		t.Errorf("second Open = %v, wanted %v", h2, h1)
	}
	if a := r.Refs(h1); a != 2 {
		t.Errorf("Refs = %d, wanted 2", a)
	}

	res, ok := r.Lookup(h1)
	if !ok || res != "res:t1" {
		t.Errorf("Lookup = %q, %v", res, ok)
	}
	if a := r.Name(h1); a != "t1" {
		t.Errorf("Name = %q, wanted t1", a)
	}

	r.Close(h1)
	r.Close(h1)
	r.Close(h1)
	if a := r.Refs(h1); a != 0 {
		t.Errorf("Refs after closes = %d, wanted 0", a)
	}

	// the binding survives until Reset
	h3, err := r.Open("t1")
	if err != nil {
		t.Fatal(err)
	}
	if h3 != h1 {
		t.Errorf("reopen = %v, wanted %v", h3, h1)
	}
	if diff := cmp.Diff([]string{"t1"}, *allocated); diff != "" {
		t.Errorf("allocations (-want +got):\n%s", diff)
	}
}

func TestRegistryCloseUnknown(t *testing.T) {
	r, _ := newTestRegistry(RegistryOptions{})
	r.Close(NoHandle)
	r.Close(12345)
	if r.Len() != 0 {
		t.Errorf("Len = %d, wanted 0", r.Len())
	}
	if _, ok := r.Lookup(12345); ok {
		t.Errorf("Lookup of unknown handle succeeded")
	}
}

func TestRegistryMaxTables(t *testing.T) {
	r, _ := newTestRegistry(RegistryOptions{MaxTables: 2})
	for _, name := range []string{"a", "b", "a"} {
		if _, err := r.Open(name); err != nil {
			t.Fatalf("Open(%q): %v", name, err)
		}
	}
	h, err := r.Open("c")
	if !errors.Is(err, ErrResourceExhausted) {
		t.Errorf("Open(c) err = %v, wanted ErrResourceExhausted", err)
	}
	if h != NoHandle {
		t.Errorf("Open(c) = %v, wanted NoHandle", h)
	}
}

func TestRegistryAllocFailure(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry(func(name string, h TableHandle) (int, error) {
		return 0, boom
	}, RegistryOptions{})
	h, err := r.Open("t1")
	if !errors.Is(err, boom) || h != NoHandle {
		t.Errorf("Open = %v, %v", h, err)
	}
	if r.Len() != 0 {
		t.Errorf("failed open left an entry behind")
	}
}

func TestRegistryCollisionProbing(t *testing.T) {
	r, _ := newTestRegistry(RegistryOptions{})
	h1, _ := r.Open("t1")

	// occupy the handle "t2" would hash to by forcing an entry there
	want := TableHandle(xxhash.Sum64String("t2"))
	r.mu.Lock()
	e := &registryEntry[string]{name: "squatter", handle: want, refs: 1}
	r.byName["squatter"] = e
	r.byHandle[want] = e
	r.mu.Unlock()

	h2, _ := r.Open("t2")
	if h2 == want || h2 == h1 || h2 == NoHandle {
		t.Errorf("Open(t2) = %v, wanted a probed handle", h2)
	}
	if a := r.Name(h2); a != "t2" {
		t.Errorf("Name(%v) = %q, wanted t2", h2, a)
	}
}

func TestRegistryConcurrentOpen(t *testing.T) {
	r, allocated := newTestRegistry(RegistryOptions{})
	const n = 64

	handles := make([]TableHandle, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := r.Open("t1")
			if err != nil {
				t.Error(err)
			}
			handles[i] = h
		}()
	}
	wg.Wait()

	for i, h := range handles {
		if h != handles[0] {
			t.Fatalf("handles[%d] = %v, wanted %v", i, h, handles[0])
		}
	}
	if a := r.Refs(handles[0]); a != n {
		t.Errorf("Refs = %d, wanted %d", a, n)
	}
	if len(*allocated) != 1 {
		t.Errorf("allocated %d times, wanted once", len(*allocated))
	}

	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Close(handles[0])
		}()
	}
	wg.Wait()
	if a := r.Refs(handles[0]); a != 0 {
		t.Errorf("Refs after closes = %d, wanted 0", a)
	}
}

func TestRegistryEachReset(t *testing.T) {
	r, _ := newTestRegistry(RegistryOptions{})
	r.Open("a")
	r.Open("b")
	r.Open("b")

	seen := map[string]string{}
	r.Each(func(name string, h TableHandle, refs int, res string) {
		seen[name] = fmt.Sprintf("%s/%d", res, refs)
	})
	if diff := cmp.Diff(map[string]string{"a": "res:a/1", "b": "res:b/2"}, seen); diff != "" {
		t.Errorf("Each (-want +got):\n%s", diff)
	}

	r.Reset()
	if r.Len() != 0 {
		t.Errorf("Len after Reset = %d", r.Len())
	}
	if h, _, ok := r.LookupName("a"); ok || h != NoHandle {
		t.Errorf("LookupName after Reset = %v, %v", h, ok)
	}
}

// blockingRegistry allocates "slow" only after release is closed.
func blockingRegistry() (r *Registry[string], entered, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	r = NewRegistry(func(name string, h TableHandle) (string, error) {
		if name == "slow" {
			close(entered)
			<-release
		}
		return "res:" + name, nil
	}, RegistryOptions{})
	return r, entered, release
}

func TestRegistryAllocDoesNotBlockOtherTables(t *testing.T) {
	r, entered, release := blockingRegistry()
	ha, err := r.Open("a")
	if err != nil {
		t.Fatal(err)
	}

	slowDone := make(chan TableHandle)
	go func() {
		h, err := r.Open("slow")
		if err != nil {
			t.Error(err)
		}
		slowDone <- h
	}()
	<-entered

	done := make(chan struct{})
	go func() {
		defer close(done)
		if res, ok := r.Lookup(ha); !ok || res != "res:a" {
			t.Errorf("Lookup(a) = %q, %v", res, ok)
		}
		if h, err := r.Open("a"); err != nil || h != ha {
			t.Errorf("Open(a) = %v, %v", h, err)
		}
		if _, err := r.Open("c"); err != nil {
			t.Errorf("Open(c) = %v", err)
		}
		if _, _, ok := r.LookupName("slow"); ok {
			t.Errorf("LookupName(slow) visible before allocation finished")
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("operations on other tables blocked behind an allocation")
	}

	// a second open of the same name waits for the first allocation
	second := make(chan TableHandle)
	go func() {
		h, _ := r.Open("slow")
		second <- h
	}()
	select {
	case <-second:
		t.Fatal("second Open(slow) returned before allocation finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	h1, h2 := <-slowDone, <-second
	if h1 == NoHandle || h1 != h2 {
		t.Errorf("Open(slow) = %v and %v", h1, h2)
	}
	if a := r.Refs(h1); a != 2 {
		t.Errorf("Refs(slow) = %d, wanted 2", a)
	}
}

func TestRegistryRetire(t *testing.T) {
	r, _ := newTestRegistry(RegistryOptions{})
	h, _ := r.Open("a")

	called := false
	err := r.Retire("a", func(res string, ok bool) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrTableInUse) || called {
		t.Errorf("Retire of open table = %v, called = %v", err, called)
	}

	r.Close(h)
	var got string
	err = r.Retire("a", func(res string, ok bool) error {
		got = fmt.Sprintf("%s/%v", res, ok)
		return nil
	})
	if err != nil || got != "res:a/true" {
		t.Errorf("Retire = %v, callback saw %q", err, got)
	}
	if h2, _ := r.Open("a"); h2 != h {
		t.Errorf("reopen after Retire = %v, wanted %v", h2, h)
	}

	err = r.Retire("never", func(res string, ok bool) error {
		got = fmt.Sprintf("%q/%v", res, ok)
		return nil
	})
	if err != nil || got != `""/false` {
		t.Errorf("Retire(never) = %v, callback saw %s", err, got)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, wanted 1", r.Len())
	}
}

func TestRegistryRetireHoldsOffOpen(t *testing.T) {
	r, _ := newTestRegistry(RegistryOptions{})
	h, _ := r.Open("a")
	r.Close(h)

	entered := make(chan struct{})
	release := make(chan struct{})
	retired := make(chan error)
	go func() {
		retired <- r.Retire("a", func(res string, ok bool) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	opened := make(chan TableHandle)
	go func() {
		h, _ := r.Open("a")
		opened <- h
	}()
	select {
	case <-opened:
		t.Fatal("Open returned while the table was being retired")
	case <-time.After(50 * time.Millisecond):
	}
	if _, ok := r.Lookup(h); ok {
		t.Errorf("Lookup visible while retiring")
	}

	close(release)
	if err := <-retired; err != nil {
		t.Fatal(err)
	}
	if h2 := <-opened; h2 != h {
		t.Errorf("Open after Retire = %v, wanted %v", h2, h)
	}
}
