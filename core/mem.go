package core

import (
	"bytes"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
)

type MemOptions struct {
	RegistryOptions
}

// Mem keeps rows in memory. It implements every optional capability and is
// what tests and the CLI use when durability does not matter.
type Mem struct {
	reg    *Registry[*memTable]
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

func NewMem(opt MemOptions) *Mem {
	c := &Mem{logger: envLogger(Env{})}
	c.reg = NewRegistry(func(name string, h TableHandle) (*memTable, error) {
		c.logger.Info("Open table", "table", name, "handle", h)
		return &memTable{name: name}, nil
	}, opt.RegistryOptions)
	return c
}

func (c *Mem) Init(env Env) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = envLogger(env)
	c.closed = false
	c.logger.Info("Memory core initialized.")
	return nil
}

// Deinit drops every table, like closing all tables of the runtime.
func (c *Mem) Deinit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.reg.Len()
	c.reg.Each(func(name string, h TableHandle, refs int, t *memTable) {
		c.logger.Debug("Closing table", "table", name, "handle", h, "refs", refs, "rows", t.len())
	})
	c.reg.Reset()
	c.closed = true
	c.logger.Info("Memory core deinitialized.", "tables", n)
	return nil
}

func (c *Mem) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Mem) OpenTable(name string) TableHandle {
	if c.isClosed() {
		c.logger.Error("cannot open table", "table", name, "err", ErrClosed)
		return NoHandle
	}
	h, err := c.reg.Open(name)
	if err != nil {
		c.logger.Error("cannot open table", "table", name, "err", err)
		return NoHandle
	}
	return h
}

func (c *Mem) CloseTable(h TableHandle) {
	c.reg.Close(h)
}

func (c *Mem) table(h TableHandle) (*memTable, error) {
	t, ok := c.reg.Lookup(h)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandle, h)
	}
	return t, nil
}

func (c *Mem) InsertRow(h TableHandle, row []byte) error {
	t, err := c.table(h)
	if err != nil {
		return err
	}
	id := t.insert(row)
	c.logger.Debug("Inserting row", "table", t.name, "id", id, "len", len(row))
	return nil
}

func (c *Mem) UpdateRow(h TableHandle, oldRow, newRow []byte) error {
	t, err := c.table(h)
	if err != nil {
		return err
	}
	id, ok := t.update(oldRow, newRow)
	if !ok {
		return ErrRowNotFound
	}
	c.logger.Debug("Updating row", "table", t.name, "id", id, "len", len(newRow))
	return nil
}

func (c *Mem) DeleteRow(h TableHandle, row []byte) error {
	t, err := c.table(h)
	if err != nil {
		return err
	}
	id, ok := t.delete(row)
	if !ok {
		return ErrRowNotFound
	}
	c.logger.Debug("Deleting row", "table", t.name, "id", id)
	return nil
}

func (c *Mem) DeleteAllRows(h TableHandle) error {
	t, err := c.table(h)
	if err != nil {
		return err
	}
	t.truncate()
	return nil
}

// DropTable clears the rows of a table. The name keeps its handle.
func (c *Mem) DropTable(name string) error {
	return c.reg.Retire(name, func(t *memTable, ok bool) error {
		if ok {
			t.truncate()
		}
		return nil
	})
}

func (c *Mem) RowCount(h TableHandle) (uint64, error) {
	t, err := c.table(h)
	if err != nil {
		return 0, err
	}
	return uint64(t.len()), nil
}

func (c *Mem) Scan(h TableHandle) (Cursor, error) {
	t, err := c.table(h)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Init round", "table", t.name)
	return &memCursor{t: t}, nil
}

func (c *Mem) TableCount() int {
	return c.reg.Len()
}

func (c *Mem) Registry() *Registry[*memTable] {
	return c.reg
}

type memTable struct {
	name string

	mu     sync.RWMutex
	rows   []memRow // sorted by id
	nextID uint64
}

type memRow struct {
	id   uint64
	data []byte
}

func (t *memTable) insert(row []byte) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	t.rows = append(t.rows, memRow{id: t.nextID, data: slices.Clone(row)})
	return t.nextID
}

func (t *memTable) update(oldRow, newRow []byte) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.findLocked(oldRow)
	if i < 0 {
		return 0, false
	}
	t.rows[i].data = slices.Clone(newRow)
	return t.rows[i].id, true
}

func (t *memTable) delete(row []byte) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := t.findLocked(row)
	if i < 0 {
		return 0, false
	}
	id := t.rows[i].id
	t.rows = slices.Delete(t.rows, i, i+1)
	return id, true
}

func (t *memTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

func (t *memTable) truncate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = nil
}

func (t *memTable) findLocked(row []byte) int {
	for i, r := range t.rows {
		if bytes.Equal(r.data, row) {
			return i
		}
	}
	return -1
}

// memCursor remembers the last returned id rather than a slice position, so
// concurrent inserts, updates and deletes never invalidate it.
type memCursor struct {
	t      *memTable
	lastID uint64
	closed bool
}

func (c *memCursor) Next(buf []byte) (int, error) {
	if c.closed {
		return 0, ErrEndOfData
	}
	c.t.mu.RLock()
	defer c.t.mu.RUnlock()

	rows := c.t.rows
	i := sort.Search(len(rows), func(i int) bool {
		return rows[i].id > c.lastID
	})
	if i >= len(rows) {
		return 0, ErrEndOfData
	}
	r := rows[i]
	if len(r.data) > len(buf) {
		return 0, &RowSizeError{Need: len(r.data), Have: len(buf)}
	}
	c.lastID = r.id
	return copy(buf, r.data), nil
}

func (c *memCursor) Close() error {
	c.closed = true
	return nil
}
