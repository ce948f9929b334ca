// Command libyydb builds the engine as a C shared library:
//
//	go build -buildmode=c-shared -o libyydb.so ./cmd/libyydb
//
// The host registers its log callback, calls yydb_core_init once, and then
// drives tables either through raw core handles (yydb_open_table and friends)
// or through handler objects (yydb_handler_*), which expose every handler
// operation including lock negotiation and the unsupported index entry points.
// Functions returning int return 0 on success and an engine error code
// otherwise.
package main

/*
#include <stdint.h>

typedef void (*yydb_log_fn)(int prio, const char *msg, int len);

static void yydb_call_log(yydb_log_fn fn, int prio, const char *msg, int len) {
	fn(prio, msg, len);
}
*/
import "C"

import (
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/andreyvit/yydb"
	"github.com/andreyvit/yydb/core"
	"github.com/andreyvit/yydb/logbridge"
)

var (
	lib   library
	logFn atomic.Pointer[C.yydb_log_fn]
)

func main() {}

// hostSink hands bridge buffers to the host callback without copying them.
var hostSink = logbridge.SinkFunc(func(prio logbridge.Priority, msg []byte) error {
	fn := logFn.Load()
	if fn == nil || *fn == nil || len(msg) == 0 {
		return nil
	}
	C.yydb_call_log(*fn, C.int(prio), (*C.char)(unsafe.Pointer(&msg[0])), C.int(len(msg)-1))
	return nil
})

func goBytes(p *C.uchar, n C.int) []byte {
	if p == nil || n <= 0 {
		return []byte{}
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), int(n))
}

//export yydb_set_log_callback
func yydb_set_log_callback(fn C.yydb_log_fn) {
	logFn.Store(&fn)
}

//export yydb_core_init
func yydb_core_init(configPath *C.char) C.int {
	var path string
	if configPath != nil {
		path = C.GoString(configPath)
	}
	return C.int(resultCode(lib.init(path, hostSink)))
}

//export yydb_core_deinit
func yydb_core_deinit() C.int {
	return C.int(resultCode(lib.deinit()))
}

//export yydb_open_table
func yydb_open_table(name *C.char) C.uint64_t {
	if name == nil {
		return 0
	}
	return C.uint64_t(lib.openTable(C.GoString(name)))
}

//export yydb_close_table
func yydb_close_table(h C.uint64_t) {
	lib.closeTable(core.TableHandle(h))
}

//export yydb_insert_row
func yydb_insert_row(h C.uint64_t, row *C.uchar, n C.int) C.int {
	return C.int(resultCode(lib.insertRow(core.TableHandle(h), goBytes(row, n))))
}

//export yydb_update_row
func yydb_update_row(h C.uint64_t, oldRow *C.uchar, oldLen C.int, newRow *C.uchar, newLen C.int) C.int {
	return C.int(resultCode(lib.updateRow(core.TableHandle(h), goBytes(oldRow, oldLen), goBytes(newRow, newLen))))
}

//export yydb_handler_create
func yydb_handler_create() C.uintptr_t {
	v, err := lib.newHandler()
	if err != nil {
		return 0
	}
	return C.uintptr_t(v)
}

//export yydb_handler_destroy
func yydb_handler_destroy(hh C.uintptr_t) {
	destroyHandler(uintptr(hh))
}

// call runs f on the handler behind hh and converts the outcome to a code.
func call(hh C.uintptr_t, f func(h *yydb.Handler) error) C.int {
	h, err := handlerOf(uintptr(hh))
	if err != nil {
		return C.int(resultCode(err))
	}
	return C.int(resultCode(f(h)))
}

// outBytes exposes a host-owned output buffer.
func outBytes(p *C.uchar, n C.int) []byte {
	if p == nil || n <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(p)), int(n))
}

func goString(p *C.char) string {
	if p == nil {
		return ""
	}
	return C.GoString(p)
}

//export yydb_handler_open
func yydb_handler_open(hh C.uintptr_t, name *C.char) C.int {
	return call(hh, func(h *yydb.Handler) error { return h.Open(goString(name)) })
}

//export yydb_handler_create_table
func yydb_handler_create_table(hh C.uintptr_t, name *C.char) C.int {
	return call(hh, func(h *yydb.Handler) error { return h.Create(goString(name)) })
}

//export yydb_handler_close
func yydb_handler_close(hh C.uintptr_t) C.int {
	return call(hh, (*yydb.Handler).Close)
}

//export yydb_handler_write_row
func yydb_handler_write_row(hh C.uintptr_t, row *C.uchar, n C.int) C.int {
	return call(hh, func(h *yydb.Handler) error { return h.WriteRow(goBytes(row, n)) })
}

//export yydb_handler_update_row
func yydb_handler_update_row(hh C.uintptr_t, oldRow *C.uchar, oldLen C.int, newRow *C.uchar, newLen C.int) C.int {
	return call(hh, func(h *yydb.Handler) error {
		return h.UpdateRow(goBytes(oldRow, oldLen), goBytes(newRow, newLen))
	})
}

//export yydb_handler_delete_row
func yydb_handler_delete_row(hh C.uintptr_t, row *C.uchar, n C.int) C.int {
	return call(hh, func(h *yydb.Handler) error { return h.DeleteRow(goBytes(row, n)) })
}

//export yydb_handler_delete_all_rows
func yydb_handler_delete_all_rows(hh C.uintptr_t) C.int {
	return call(hh, (*yydb.Handler).DeleteAllRows)
}

//export yydb_handler_index_read
func yydb_handler_index_read(hh C.uintptr_t, buf *C.uchar, bufLen C.int, key *C.uchar, keyLen C.int) C.int {
	return call(hh, func(h *yydb.Handler) error { return h.IndexRead(outBytes(buf, bufLen), goBytes(key, keyLen)) })
}

//export yydb_handler_index_next
func yydb_handler_index_next(hh C.uintptr_t, buf *C.uchar, bufLen C.int) C.int {
	return call(hh, func(h *yydb.Handler) error { return h.IndexNext(outBytes(buf, bufLen)) })
}

//export yydb_handler_index_prev
func yydb_handler_index_prev(hh C.uintptr_t, buf *C.uchar, bufLen C.int) C.int {
	return call(hh, func(h *yydb.Handler) error { return h.IndexPrev(outBytes(buf, bufLen)) })
}

//export yydb_handler_index_first
func yydb_handler_index_first(hh C.uintptr_t, buf *C.uchar, bufLen C.int) C.int {
	return call(hh, func(h *yydb.Handler) error { return h.IndexFirst(outBytes(buf, bufLen)) })
}

//export yydb_handler_index_last
func yydb_handler_index_last(hh C.uintptr_t, buf *C.uchar, bufLen C.int) C.int {
	return call(hh, func(h *yydb.Handler) error { return h.IndexLast(outBytes(buf, bufLen)) })
}

//export yydb_handler_rnd_init
func yydb_handler_rnd_init(hh C.uintptr_t, scan C.int) C.int {
	return call(hh, func(h *yydb.Handler) error { return h.RndInit(scan != 0) })
}

// yydb_handler_rnd_next copies the next row into buf and stores its length
// in *outLen. When the buffer is too small, *outLen receives the required
// size and the scan stays on the same row.
//
//export yydb_handler_rnd_next
func yydb_handler_rnd_next(hh C.uintptr_t, buf *C.uchar, bufLen C.int, outLen *C.int) C.int {
	return call(hh, func(h *yydb.Handler) error {
		n, err := h.RndNext(outBytes(buf, bufLen))
		if need, ok := rowSizeNeed(err); ok {
			n = need
		}
		if outLen != nil {
			*outLen = C.int(n)
		}
		return err
	})
}

//export yydb_handler_rnd_end
func yydb_handler_rnd_end(hh C.uintptr_t) C.int {
	return call(hh, (*yydb.Handler).RndEnd)
}

//export yydb_handler_rnd_pos
func yydb_handler_rnd_pos(hh C.uintptr_t, buf *C.uchar, bufLen C.int, pos *C.uchar, posLen C.int) C.int {
	return call(hh, func(h *yydb.Handler) error { return h.RndPos(outBytes(buf, bufLen), goBytes(pos, posLen)) })
}

//export yydb_handler_position
func yydb_handler_position(hh C.uintptr_t, row *C.uchar, n C.int) {
	call(hh, func(h *yydb.Handler) error {
		h.Position(goBytes(row, n))
		return nil
	})
}

// yydb_handler_info refreshes table statistics and stores the row count in
// *records when the core can count rows.
//
//export yydb_handler_info
func yydb_handler_info(hh C.uintptr_t, flag C.uint, records *C.uint64_t) C.int {
	return call(hh, func(h *yydb.Handler) error {
		err := h.Info(uint(flag))
		if records != nil {
			*records = C.uint64_t(h.TableInfo().Records)
		}
		return err
	})
}

//export yydb_handler_extra
func yydb_handler_extra(hh C.uintptr_t, op C.int) C.int {
	return call(hh, func(h *yydb.Handler) error { return h.Extra(int(op)) })
}

//export yydb_handler_records_in_range
func yydb_handler_records_in_range(hh C.uintptr_t, index C.uint, minKey *C.uchar, minLen C.int, maxKey *C.uchar, maxLen C.int) C.uint64_t {
	h, err := handlerOf(uintptr(hh))
	if err != nil {
		return 0
	}
	return C.uint64_t(h.RecordsInRange(uint(index), goBytes(minKey, minLen), goBytes(maxKey, maxLen)))
}

// yydb_handler_store_lock records the lock intention and returns the
// effective lock type, or -2 for an invalid handler or lock type.
//
//export yydb_handler_store_lock
func yydb_handler_store_lock(hh C.uintptr_t, typ C.int) C.int {
	h, err := handlerOf(uintptr(hh))
	if err != nil {
		return -2
	}
	t, err := lockTypeOf(int(typ))
	if err != nil {
		return -2
	}
	return C.int(h.StoreLock(t))
}

// yydb_handler_external_lock waits at most timeoutMs milliseconds for the
// table lock; zero or negative waits until it is free. A timeout returns the
// lock wait timeout code.
//
//export yydb_handler_external_lock
func yydb_handler_external_lock(hh C.uintptr_t, typ C.int, timeoutMs C.int) C.int {
	return call(hh, func(h *yydb.Handler) error {
		t, err := lockTypeOf(int(typ))
		if err != nil {
			return err
		}
		return externalLock(h, t, time.Duration(timeoutMs)*time.Millisecond)
	})
}

//export yydb_handler_delete_table
func yydb_handler_delete_table(hh C.uintptr_t, name *C.char) C.int {
	return call(hh, func(h *yydb.Handler) error { return h.DeleteTable(goString(name)) })
}

//export yydb_handler_rename_table
func yydb_handler_rename_table(hh C.uintptr_t, from, to *C.char) C.int {
	return call(hh, func(h *yydb.Handler) error { return h.RenameTable(goString(from), goString(to)) })
}
