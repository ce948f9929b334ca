package yydb

import (
	"context"
	"errors"
	"strings"

	"github.com/andreyvit/yydb/core"
)

var (
	ErrUnsupported       = core.ErrUnsupported
	ErrEndOfData         = core.ErrEndOfData
	ErrResourceExhausted = core.ErrResourceExhausted
	ErrRowNotFound       = core.ErrRowNotFound
	ErrTableInUse        = core.ErrTableInUse

	// ErrNotOpen is returned by row operations on a handler without an open table.
	ErrNotOpen = errors.New("handler has no open table")

	ErrAlreadyOpen = errors.New("handler already has an open table")

	// ErrNotInitialized is returned before Engine.Init and after Engine.Deinit.
	ErrNotInitialized = errors.New("storage engine not initialized")
)

// Code is the engine-level error number reported to the SQL layer.
type Code int

const (
	CodeOK              Code = 0
	CodeGeneric         Code = 1
	CodeKeyNotFound     Code = 120
	CodeOutOfMemory     Code = 128
	CodeWrongCommand    Code = 131
	CodeEndOfFile       Code = 137
	CodeRecordTooBig    Code = 139
	CodeLockWaitTimeout Code = 146
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeKeyNotFound:
		return "KEY_NOT_FOUND"
	case CodeOutOfMemory:
		return "OUT_OF_MEM"
	case CodeWrongCommand:
		return "WRONG_COMMAND"
	case CodeEndOfFile:
		return "END_OF_FILE"
	case CodeRecordTooBig:
		return "TO_BIG_ROW"
	case CodeLockWaitTimeout:
		return "LOCK_WAIT_TIMEOUT"
	default:
		return "GENERIC"
	}
}

// CodeOf classifies err. Unsupported, end of data and resource exhaustion
// never share a code.
func CodeOf(err error) Code {
	var rse *core.RowSizeError
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrUnsupported):
		return CodeWrongCommand
	case errors.Is(err, ErrEndOfData):
		return CodeEndOfFile
	case errors.Is(err, ErrResourceExhausted):
		return CodeOutOfMemory
	case errors.Is(err, ErrRowNotFound):
		return CodeKeyNotFound
	case errors.As(err, &rse):
		return CodeRecordTooBig
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeLockWaitTimeout
	default:
		return CodeGeneric
	}
}

// OpError wraps a failed handler operation with the operation and table names.
type OpError struct {
	Op    string
	Table string
	Err   error
}

func opErr(op, table string, err error) error {
	return &OpError{op, table, err}
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func (e *OpError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Op)
	if e.Table != "" {
		buf.WriteByte(' ')
		buf.WriteString(e.Table)
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}
