// Package records persists bookmarks, history and downloads in SQLite and
// pushes live updates to watchers.
package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by point queries and updates of missing records.
var ErrNotFound = errors.New("record not found")

// timeLayout is fixed-width so text timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS bookmarks (
    id         TEXT PRIMARY KEY,
    url        TEXT NOT NULL UNIQUE,
    title      TEXT NOT NULL DEFAULT '',
    icon       TEXT NOT NULL DEFAULT '',
    folder     TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bookmarks_created_at ON bookmarks(created_at);

CREATE TABLE IF NOT EXISTS history (
    id          TEXT PRIMARY KEY,
    url         TEXT NOT NULL UNIQUE,
    title       TEXT NOT NULL DEFAULT '',
    icon        TEXT NOT NULL DEFAULT '',
    visited_at  TEXT NOT NULL,
    visit_count INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_history_visited_at ON history(visited_at);

CREATE TABLE IF NOT EXISTS downloads (
    id           TEXT PRIMARY KEY,
    url          TEXT NOT NULL,
    file_name    TEXT NOT NULL,
    path         TEXT NOT NULL DEFAULT '',
    mime         TEXT NOT NULL DEFAULT '',
    bytes_total  INTEGER NOT NULL DEFAULT -1,
    bytes_done   INTEGER NOT NULL DEFAULT 0,
    status       TEXT NOT NULL,
    created_at   TEXT NOT NULL,
    completed_at TEXT NOT NULL DEFAULT '',
    error        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_downloads_created_at ON downloads(created_at);
`

// Store is the SQLite-backed record store.
type Store struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time

	bookmarkWatchers watchers[Bookmark]
	historyWatchers  watchers[HistoryEntry]
	downloadWatchers watchers[Download]
}

// Open opens (or creates) the database at dbPath and ensures the schema.
func Open(dbPath string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Watchers re-query after every write; one connection keeps reads
	// consistent with the write that triggered them.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(createTablesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, log: logger, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) timestamp() string {
	return formatTime(s.now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, v)
	return t
}

func affected(res sql.Result, what, id string) error {
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return nil
}

// watchers holds live-query callbacks for one record kind.
type watchers[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func([]T)
}

func (w *watchers[T]) add(fn func([]T)) (int, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fns == nil {
		w.fns = make(map[int]func([]T))
	}
	id := w.next
	w.next++
	w.fns[id] = fn
	return id, func() {
		w.mu.Lock()
		delete(w.fns, id)
		w.mu.Unlock()
	}
}

func (w *watchers[T]) empty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.fns) == 0
}

func (w *watchers[T]) deliver(items []T) {
	w.mu.Lock()
	fns := make([]func([]T), 0, len(w.fns))
	for i := 0; i < w.next; i++ {
		if fn, ok := w.fns[i]; ok {
			fns = append(fns, fn)
		}
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn(items)
	}
}

// watch registers fn and delivers the current list to it.
func watch[T any](ctx context.Context, w *watchers[T], list func(context.Context) ([]T, error), fn func([]T)) (func(), error) {
	items, err := list(ctx)
	if err != nil {
		return nil, err
	}
	_, cancel := w.add(fn)
	fn(items)
	return cancel, nil
}

// refresh re-queries and pushes to watchers after a write.
func refresh[T any](ctx context.Context, log *zap.Logger, w *watchers[T], list func(context.Context) ([]T, error)) {
	if w.empty() {
		return
	}
	items, err := list(context.WithoutCancel(ctx))
	if err != nil {
		log.Warn("live query refresh failed", zap.Error(err))
		return
	}
	w.deliver(items)
}
