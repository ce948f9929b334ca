package yydb

import (
	"sync/atomic"

	"github.com/andreyvit/yydb/core"
	"github.com/andreyvit/yydb/logbridge"
)

// Stats are the engine's status variables.
type Stats struct {
	OpenHandlers int64

	Opens   uint64
	Creates uint64
	Closes  uint64

	Writes      uint64
	Updates     uint64
	Deletes     uint64
	ReadRndNext uint64
	Unsupported uint64

	Shares        int
	SharesCreated uint64

	// Tables is the number of names the core tracks, or -1 if it cannot tell.
	Tables int

	Log logbridge.Stats
}

type counters struct {
	openHandlers atomic.Int64
	opens        atomic.Uint64
	creates      atomic.Uint64
	closes       atomic.Uint64
	writes       atomic.Uint64
	updates      atomic.Uint64
	deletes      atomic.Uint64
	readRndNext  atomic.Uint64
	unsupported  atomic.Uint64
}

func (e *Engine) Stats() Stats {
	tables := -1
	if tc, ok := e.core.(core.TableCounter); ok {
		tables = tc.TableCount()
	}
	c := &e.counters
	return Stats{
		OpenHandlers:  c.openHandlers.Load(),
		Opens:         c.opens.Load(),
		Creates:       c.creates.Load(),
		Closes:        c.closes.Load(),
		Writes:        c.writes.Load(),
		Updates:       c.updates.Load(),
		Deletes:       c.deletes.Load(),
		ReadRndNext:   c.readRndNext.Load(),
		Unsupported:   c.unsupported.Load(),
		Shares:        e.shares.len(),
		SharesCreated: e.shares.createdCount(),
		Tables:        tables,
		Log:           e.bridge.Stats(),
	}
}
