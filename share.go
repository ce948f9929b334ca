package yydb

import (
	"fmt"
	"sync"
)

// Share is the state shared by every handler that has the same table open.
type Share struct {
	name string
	lock TableLock

	refs int // guarded by shareCache.mu
}

func (s *Share) Name() string {
	return s.name
}

// Lock exposes the table lock for inspection.
func (s *Share) Lock() *TableLock {
	return &s.lock
}

// shareCache hands out one Share per table name. Lookup, creation and the
// reference bump happen in a single critical section, so concurrent first
// opens of a name always agree on the instance.
type shareCache struct {
	max int

	mu      sync.Mutex
	shares  map[string]*Share
	created uint64
}

func newShareCache(max int) *shareCache {
	return &shareCache{
		max:    max,
		shares: make(map[string]*Share),
	}
}

func (c *shareCache) acquire(name string) (*Share, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.shares[name]
	if s == nil {
		if c.max > 0 && len(c.shares) >= c.max {
			return nil, fmt.Errorf("%w: %d shared table states", ErrResourceExhausted, len(c.shares))
		}
		s = &Share{name: name}
		c.shares[name] = s
		c.created++
	}
	s.refs++
	return s, nil
}

// release drops a reference and evicts the share once nobody uses it.
func (c *shareCache) release(s *Share) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s.refs--
	if s.refs > 0 {
		return
	}
	if c.shares[s.name] == s {
		delete(c.shares, s.name)
	}
}

func (c *shareCache) lookup(name string) *Share {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shares[name]
}

func (c *shareCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.shares)
}

func (c *shareCache) createdCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}
