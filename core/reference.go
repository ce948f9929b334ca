package core

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Reference is the reference core. It hands out handles and accepts inserts,
// but stores nothing: scans are always empty and updates are unsupported.
type Reference struct {
	reg    *Registry[struct{}]
	logger *slog.Logger

	// Discarded counts inserted rows that were thrown away.
	Discarded atomic.Uint64
}

func NewReference(opt RegistryOptions) *Reference {
	c := &Reference{logger: envLogger(Env{})}
	c.reg = NewRegistry(func(name string, h TableHandle) (struct{}, error) {
		c.logger.Info("Open table", "table", name, "handle", h)
		return struct{}{}, nil
	}, opt)
	return c
}

func (c *Reference) Init(env Env) error {
	c.logger = envLogger(env)
	c.logger.Info("Reference core initialized.")
	return nil
}

func (c *Reference) Deinit() error {
	c.reg.Reset()
	c.logger.Info("Reference core deinitialized.")
	return nil
}

func (c *Reference) OpenTable(name string) TableHandle {
	h, err := c.reg.Open(name)
	if err != nil {
		c.logger.Error("cannot open table", "table", name, "err", err)
		return NoHandle
	}
	return h
}

func (c *Reference) CloseTable(h TableHandle) {
	c.reg.Close(h)
}

// InsertRow accepts and discards the row.
func (c *Reference) InsertRow(h TableHandle, row []byte) error {
	if _, ok := c.reg.Lookup(h); !ok {
		return ErrInvalidHandle
	}
	c.Discarded.Add(1)
	if ctx := context.Background(); c.logger.Enabled(ctx, LevelTrace) {
		c.logger.Log(ctx, LevelTrace, "Discarding row", "handle", h, "len", len(row), "row", HexView(row))
	}
	return nil
}

func (c *Reference) UpdateRow(h TableHandle, oldRow, newRow []byte) error {
	return ErrUnsupported
}

func (c *Reference) TableCount() int {
	return c.reg.Len()
}

// Registry exposes the handle registry for inspection.
func (c *Reference) Registry() *Registry[struct{}] {
	return c.reg
}
