/*
Package core defines the boundary between the yydb handler shim and a storage
core, and ships the cores we run behind it.

Everything the shim knows about a table is its TableHandle, an opaque number
handed out by the core's Registry. The shim never dereferences a handle; it only
passes it back across the boundary.

The boundary is deliberately narrow:

 1. Init / Deinit bracket the life of the core.
 2. OpenTable / CloseTable resolve names to handles and release them.
 3. InsertRow / UpdateRow forward row images.
 4. Logging flows the other way, through Env.Logger.

Anything else a core can do (scans, deletes, truncation, dropping tables,
counting rows) is advertised through optional interfaces. A core that does not
implement one makes the shim report ErrUnsupported for the matching entry point.

Row buffers are owned by the caller and are only valid for the duration of a
call. Cores copy what they keep.
*/
package core

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
)

// TableHandle is an opaque table identity assigned by a Registry.
type TableHandle uint64

// NoHandle means "no handle" or "resolution failed".
const NoHandle TableHandle = 0

func (h TableHandle) String() string {
	return "#" + strconv.FormatUint(uint64(h), 16)
}

var (
	// ErrUnsupported means this storage engine does not implement the capability.
	ErrUnsupported = errors.New("operation not supported by this storage engine")

	// ErrEndOfData terminates a scan. It is not a failure.
	ErrEndOfData = errors.New("end of data")

	// ErrResourceExhausted is returned when a handle or a shared table state
	// cannot be allocated.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrRowNotFound is returned by UpdateRow and DeleteRow when no stored row
	// matches the old image.
	ErrRowNotFound = errors.New("row not found")

	// ErrInvalidHandle is returned for row operations on a handle the core
	// does not know.
	ErrInvalidHandle = errors.New("invalid table handle")

	// ErrTableInUse is returned when dropping a table that is still open.
	ErrTableInUse = errors.New("table in use")

	ErrClosed = errors.New("core closed")
)

// Env is what the host hands to a core on Init.
type Env struct {
	// Logger is the log_write side of the boundary. Never nil after Init.
	Logger *slog.Logger
}

// Core is the storage core behind the boundary.
type Core interface {
	Init(env Env) error
	Deinit() error

	// OpenTable resolves name to a handle, creating tracking state on first
	// use. Returns NoHandle on failure.
	OpenTable(name string) TableHandle

	// CloseTable releases one reference. Unknown handles are ignored.
	CloseTable(h TableHandle)

	InsertRow(h TableHandle, row []byte) error
	UpdateRow(h TableHandle, oldRow, newRow []byte) error
}

// Scanner is implemented by cores that can stream stored rows.
type Scanner interface {
	Scan(h TableHandle) (Cursor, error)
}

// Cursor walks the rows of one table.
//
// Next copies the next row into buf and returns its length. It returns
// ErrEndOfData when exhausted, and a *RowSizeError without advancing when buf
// is too small for the row.
type Cursor interface {
	Next(buf []byte) (int, error)
	Close() error
}

type RowDeleter interface {
	DeleteRow(h TableHandle, row []byte) error
}

type Truncater interface {
	DeleteAllRows(h TableHandle) error
}

// TableDropper removes all data of a table that no handler has open.
type TableDropper interface {
	DropTable(name string) error
}

type Counter interface {
	RowCount(h TableHandle) (uint64, error)
}

// TableCounter reports how many table names the core is tracking.
type TableCounter interface {
	TableCount() int
}

// RowSizeError reports a caller buffer that is too small for a stored row.
type RowSizeError struct {
	Need int
	Have int
}

func (e *RowSizeError) Error() string {
	return fmt.Sprintf("row buffer too small: need %d bytes, have %d", e.Need, e.Have)
}

func envLogger(env Env) *slog.Logger {
	if env.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return env.Logger
}
