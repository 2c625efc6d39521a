// Package storage persists the reminder audit log: one append-only sqlite
// table with one row per delivery attempt. Rows are never updated or
// deleted here; export reads them back out.
package storage

import (
	"fmt"
	"time"
)

// Entry is one delivery-attempt outcome.
type Entry struct {
	ID        int64
	Recipient string
	Medicine  string
	Channel   string
	Outcome   string // "queued" or "error:<code>"
	At        time.Time
}

// PersistenceError wraps a storage-layer fault. Losing audit rows is a
// correctness problem, so callers escalate this class instead of logging
// and moving on.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("reminder log %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Config configures the sqlite log store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default (5s)
}
