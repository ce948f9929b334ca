package yydb

import (
	"context"
	"errors"

	"github.com/andreyvit/yydb/core"
)

type handlerState int

const (
	stateClosed handlerState = iota
	stateOpened
	stateScanActive
)

func (s handlerState) String() string {
	switch s {
	case stateOpened:
		return "opened"
	case stateScanActive:
		return "scan"
	default:
		return "closed"
	}
}

// RecordsInRangeEstimate is what RecordsInRange always returns. It is low on
// purpose, so that the planner prefers an index whenever one exists.
const RecordsInRangeEstimate = 10

// TableInfo is the planner-facing information refreshed by Info.
type TableInfo struct {
	Records uint64
}

// Handler is one session's view of one table. A handler is driven by a
// single session at a time and is not safe for concurrent use; sharing
// between sessions happens through the engine's Share.
type Handler struct {
	e *Engine

	state  handlerState
	name   string
	handle core.TableHandle
	share  *Share
	lock   lockData
	cursor core.Cursor
	info   TableInfo
}

func (h *Handler) Name() string {
	return h.name
}

func (h *Handler) Handle() core.TableHandle {
	return h.handle
}

func (h *Handler) Share() *Share {
	return h.share
}

func (h *Handler) IsOpen() bool {
	return h.state != stateClosed
}

func (h *Handler) TableInfo() TableInfo {
	return h.info
}

// Open binds the handler to name: a handle from the core, then the table's
// Share. If the share cannot be had, the handle is given back.
func (h *Handler) Open(name string) error {
	if h.state != stateClosed {
		return opErr("open", name, ErrAlreadyOpen)
	}
	handle := h.e.core.OpenTable(name)
	if handle == core.NoHandle {
		return opErr("open", name, ErrResourceExhausted)
	}
	share, err := h.e.shares.acquire(name)
	if err != nil {
		h.e.core.CloseTable(handle)
		return opErr("open", name, err)
	}

	h.name = name
	h.handle = handle
	h.share = share
	h.lock = lockData{typ: LockUnlock, held: LockUnlock}
	h.state = stateOpened
	h.e.counters.opens.Add(1)
	h.e.counters.openHandlers.Add(1)
	h.e.logger.Debug("Open table", "table", name, "handle", handle)
	return nil
}

// Create checks that the core can produce a handle for name and gives it back
// right away. The handler stays closed.
func (h *Handler) Create(name string) error {
	handle := h.e.core.OpenTable(name)
	if handle == core.NoHandle {
		return opErr("create", name, ErrResourceExhausted)
	}
	h.e.core.CloseTable(handle)
	h.e.counters.creates.Add(1)
	h.e.logger.Debug("Create table", "table", name, "handle", handle)
	return nil
}

// Close ends any scan, drops the table lock and the share, and gives the
// handle back. It never fails; closing a closed handler does nothing.
func (h *Handler) Close() error {
	if h.state == stateClosed {
		return nil
	}
	if h.cursor != nil {
		h.endScan()
	}
	if h.lock.held != LockUnlock {
		h.share.lock.release(h.lock.held.exclusive())
	}
	h.e.shares.release(h.share)
	h.e.core.CloseTable(h.handle)
	h.e.logger.Debug("Close table", "table", h.name, "handle", h.handle)

	h.state = stateClosed
	h.handle = core.NoHandle
	h.share = nil
	h.lock = lockData{typ: LockUnlock, held: LockUnlock}
	h.e.counters.closes.Add(1)
	h.e.counters.openHandlers.Add(-1)
	return nil
}

func (h *Handler) unsupported(op string) error {
	h.e.counters.unsupported.Add(1)
	return opErr(op, h.name, ErrUnsupported)
}

func (h *Handler) checkOpen(op string) error {
	if h.state == stateClosed {
		return opErr(op, "", ErrNotOpen)
	}
	return nil
}

// WriteRow forwards a row image to the core and reports its outcome.
func (h *Handler) WriteRow(row []byte) error {
	if err := h.checkOpen("write_row"); err != nil {
		return err
	}
	h.e.counters.writes.Add(1)
	if err := h.e.core.InsertRow(h.handle, row); err != nil {
		return h.coreErr("write_row", err)
	}
	return nil
}

func (h *Handler) UpdateRow(oldRow, newRow []byte) error {
	if err := h.checkOpen("update_row"); err != nil {
		return err
	}
	if err := h.e.core.UpdateRow(h.handle, oldRow, newRow); err != nil {
		return h.coreErr("update_row", err)
	}
	h.e.counters.updates.Add(1)
	return nil
}

func (h *Handler) DeleteRow(row []byte) error {
	if err := h.checkOpen("delete_row"); err != nil {
		return err
	}
	d, ok := h.e.core.(core.RowDeleter)
	if !ok {
		return h.unsupported("delete_row")
	}
	if err := d.DeleteRow(h.handle, row); err != nil {
		return h.coreErr("delete_row", err)
	}
	h.e.counters.deletes.Add(1)
	return nil
}

func (h *Handler) DeleteAllRows() error {
	if err := h.checkOpen("delete_all_rows"); err != nil {
		return err
	}
	t, ok := h.e.core.(core.Truncater)
	if !ok {
		return h.unsupported("delete_all_rows")
	}
	if err := t.DeleteAllRows(h.handle); err != nil {
		return h.coreErr("delete_all_rows", err)
	}
	return nil
}

func (h *Handler) coreErr(op string, err error) error {
	if errors.Is(err, ErrUnsupported) {
		h.e.counters.unsupported.Add(1)
	}
	return opErr(op, h.name, err)
}

func (h *Handler) IndexRead(buf, key []byte) error { return h.unsupported("index_read") }
func (h *Handler) IndexNext(buf []byte) error      { return h.unsupported("index_next") }
func (h *Handler) IndexPrev(buf []byte) error      { return h.unsupported("index_prev") }
func (h *Handler) IndexFirst(buf []byte) error     { return h.unsupported("index_first") }
func (h *Handler) IndexLast(buf []byte) error      { return h.unsupported("index_last") }

// RndInit starts a full table scan. Without a scanning core there is no
// cursor to set up and the scan is simply empty.
func (h *Handler) RndInit(scan bool) error {
	if err := h.checkOpen("rnd_init"); err != nil {
		return err
	}
	if h.cursor != nil {
		h.endScan()
	}
	if s, ok := h.e.core.(core.Scanner); ok {
		cur, err := s.Scan(h.handle)
		if err != nil {
			return h.coreErr("rnd_init", err)
		}
		h.cursor = cur
	}
	h.state = stateScanActive
	return nil
}

// RndNext copies the next row into buf and returns its length. It returns
// ErrEndOfData when the scan is exhausted, which also ends the scan.
func (h *Handler) RndNext(buf []byte) (int, error) {
	if err := h.checkOpen("rnd_next"); err != nil {
		return 0, err
	}
	h.e.counters.readRndNext.Add(1)
	if h.state != stateScanActive || h.cursor == nil {
		h.state = stateOpened
		return 0, ErrEndOfData
	}
	n, err := h.cursor.Next(buf)
	if errors.Is(err, ErrEndOfData) {
		h.endScan()
		return 0, ErrEndOfData
	} else if err != nil {
		return 0, h.coreErr("rnd_next", err)
	}
	return n, nil
}

func (h *Handler) RndEnd() error {
	if h.state == stateClosed {
		return nil
	}
	if h.cursor != nil {
		h.endScan()
	}
	h.state = stateOpened
	return nil
}

func (h *Handler) endScan() {
	if err := h.cursor.Close(); err != nil {
		h.e.logger.Warn("closing scan cursor", "table", h.name, "err", err)
	}
	h.cursor = nil
	h.state = stateOpened
}

func (h *Handler) RndPos(buf, pos []byte) error {
	return h.unsupported("rnd_pos")
}

func (h *Handler) Position(row []byte) {}

// Info refreshes TableInfo when the core can count rows.
func (h *Handler) Info(flag uint) error {
	if h.state == stateClosed {
		return nil
	}
	if c, ok := h.e.core.(core.Counter); ok {
		n, err := c.RowCount(h.handle)
		if err != nil {
			h.e.logger.Warn("counting rows", "table", h.name, "err", err)
			return nil
		}
		h.info.Records = n
	}
	return nil
}

func (h *Handler) Extra(op int) error {
	return nil
}

func (h *Handler) RecordsInRange(index uint, minKey, maxKey []byte) uint64 {
	return RecordsInRangeEstimate
}

// StoreLock records the lock the statement wants. A pending lock is kept;
// LockIgnore never changes anything. Returns the effective lock type.
func (h *Handler) StoreLock(t LockType) LockType {
	if t != LockIgnore && h.lock.typ == LockUnlock {
		h.lock.typ = t
	}
	return h.lock.typ
}

// ExternalLock takes or releases the table lock on behalf of the SQL layer's
// lock manager. Acquiring uses the type recorded by StoreLock, or t if none
// was stored. LockUnlock releases and clears the stored intent.
func (h *Handler) ExternalLock(ctx context.Context, t LockType) error {
	if err := h.checkOpen("external_lock"); err != nil {
		return err
	}
	if t == LockUnlock {
		if h.lock.held != LockUnlock {
			h.share.lock.release(h.lock.held.exclusive())
		}
		h.lock = lockData{typ: LockUnlock, held: LockUnlock}
		return nil
	}
	if t == LockIgnore || h.lock.held != LockUnlock {
		return nil
	}
	mode := h.lock.typ
	if mode == LockUnlock {
		mode = t
	}
	if err := h.share.lock.acquire(ctx, mode.exclusive()); err != nil {
		return opErr("external_lock", h.name, err)
	}
	h.lock.typ = mode
	h.lock.held = mode
	return nil
}

// DeleteTable drops the table's data when the core supports it and reports
// the core's outcome. Cores that store nothing have nothing to drop, so the
// call succeeds without touching them.
func (h *Handler) DeleteTable(name string) error {
	d, ok := h.e.core.(core.TableDropper)
	if !ok {
		return nil
	}
	if err := d.DropTable(name); err != nil {
		h.e.logger.Warn("cannot drop table", "table", name, "err", err)
		return opErr("delete_table", name, err)
	}
	return nil
}

func (h *Handler) RenameTable(from, to string) error {
	h.e.counters.unsupported.Add(1)
	return opErr("rename_table", from, ErrUnsupported)
}
