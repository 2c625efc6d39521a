package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"medremind/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const timeLayout = "2006-01-02 15:04:05"

// Log is the sqlite-backed reminder log. Safe for concurrent appenders:
// every write is a single-row insert on one connection.
type Log struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Log, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	l := &Log{db: db, log: log}
	if err := l.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = l.db.ExecContext(ctx, string(b))
	return err
}

func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Append records one delivery-attempt outcome. Content never fails the
// append; only storage faults do, and those come back as PersistenceError.
func (l *Log) Append(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO logs(name, medicine, channel, action, timestamp) VALUES(?,?,?,?,?)`,
		e.Recipient, e.Medicine, e.Channel, e.Outcome, e.At.Format(timeLayout),
	)
	if err != nil {
		return &PersistenceError{Op: "append", Err: err}
	}
	return nil
}

// List returns all log rows in insertion order.
func (l *Log) List(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, name, medicine, channel, action, timestamp FROM logs ORDER BY id`)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &e.Recipient, &e.Medicine, &e.Channel, &e.Outcome, &ts); err != nil {
			return nil, &PersistenceError{Op: "list", Err: err}
		}
		if t, err := time.ParseInLocation(timeLayout, ts, time.Local); err == nil {
			e.At = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	return out, nil
}

// ExportCSV streams the whole log table as CSV, header row first.
func (l *Log) ExportCSV(ctx context.Context, w io.Writer) error {
	entries, err := l.List(ctx)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"ID", "Recipient", "Medicine", "Channel", "Outcome", "Timestamp"}); err != nil {
		return err
	}
	for _, e := range entries {
		rec := []string{
			fmt.Sprintf("%d", e.ID),
			e.Recipient, e.Medicine, e.Channel, e.Outcome,
			e.At.Format(timeLayout),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Checkpoint folds the WAL back into the main database file.
func (l *Log) Checkpoint(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return &PersistenceError{Op: "checkpoint", Err: err}
	}
	return nil
}
