/*
Package yydb is the handler shim of the YYDB pluggable storage engine.

The SQL layer talks to the engine through Handler: one handler per session
per table. A handler does almost nothing itself. It resolves the table name
to a handle through the storage core, forwards row images to the core, and
reports the core's answer back as an error the SQL layer understands
(see CodeOf).

# Pieces

**Engine.**
One per loaded plugin. Init wires the log sink and initializes the core;
Deinit tears the core down and releases the sink. No handler may exist
outside that window.

**Core.**
The storage core lives behind the narrow boundary in package core. It
assigns table handles, stores (or discards) rows, and logs through the
bridge. Three cores ship with the engine: the reference core, which accepts
and discards rows; an in-memory core; and a Bolt-backed core.

**Share.**
All handlers with the same table open share one Share holding the table
lock. Shares are created on first open and evicted after the last close.

**Log bridge.**
Messages logged by the engine or the core go through package logbridge,
which copies them into a NUL-terminated buffer and hands them to the host's
sink.

# Capabilities

Index access, positioned reads and renames are not supported; they fail
with ErrUnsupported. Full table scans, deletes and row counts work when
the core implements the matching optional interface; otherwise scans are
empty and the rest fail with ErrUnsupported.

# Concurrency

Engine, shares and cores are safe for concurrent use. A single Handler is
driven by one session at a time.
*/
package yydb
