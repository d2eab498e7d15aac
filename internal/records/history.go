package records

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// HistoryEntry is one visited URL. Revisits bump VisitCount and VisitedAt.
type HistoryEntry struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Icon       string    `json:"icon,omitempty"`
	VisitedAt  time.Time `json:"visited_at"`
	VisitCount int       `json:"visit_count"`
}

const historyColumns = `id, url, title, icon, visited_at, visit_count`

func scanHistory(rows *sql.Rows) ([]HistoryEntry, error) {
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var visitedAt string
		if err := rows.Scan(&h.ID, &h.URL, &h.Title, &h.Icon, &visitedAt, &h.VisitCount); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		h.VisitedAt = parseTime(visitedAt)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) queryHistory(ctx context.Context, where string, args ...any) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM history `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return scanHistory(rows)
}

// History returns every entry, most recently visited first.
func (s *Store) History(ctx context.Context) ([]HistoryEntry, error) {
	return s.queryHistory(ctx, `ORDER BY visited_at DESC`)
}

// RecentHistory returns at most limit entries, most recent first.
func (s *Store) RecentHistory(ctx context.Context, limit int) ([]HistoryEntry, error) {
	return s.queryHistory(ctx, `ORDER BY visited_at DESC LIMIT ?`, limit)
}

// SearchHistory matches query against titles and URLs.
func (s *Store) SearchHistory(ctx context.Context, query string) ([]HistoryEntry, error) {
	like := "%" + query + "%"
	return s.queryHistory(ctx, `WHERE title LIKE ? OR url LIKE ? ORDER BY visited_at DESC`, like, like)
}

// HistorySince returns entries visited at or after t.
func (s *Store) HistorySince(ctx context.Context, t time.Time) ([]HistoryEntry, error) {
	return s.queryHistory(ctx, `WHERE visited_at >= ? ORDER BY visited_at DESC`, formatTime(t))
}

// TodayHistory returns entries visited since local midnight.
func (s *Store) TodayHistory(ctx context.Context) ([]HistoryEntry, error) {
	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return s.HistorySince(ctx, midnight)
}

// MostVisited returns at most limit entries ordered by visit count.
func (s *Store) MostVisited(ctx context.Context, limit int) ([]HistoryEntry, error) {
	return s.queryHistory(ctx, `ORDER BY visit_count DESC, visited_at DESC LIMIT ?`, limit)
}

// HistoryByURL returns the entry for url.
func (s *Store) HistoryByURL(ctx context.Context, url string) (*HistoryEntry, error) {
	list, err := s.queryHistory(ctx, `WHERE url = ? LIMIT 1`, url)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("history %s: %w", url, ErrNotFound)
	}
	return &list[0], nil
}

// RecordVisit adds url to history or, if present, bumps its visit count and
// time. An empty title or icon keeps the stored one.
func (s *Store) RecordVisit(ctx context.Context, url, title, icon string) (*HistoryEntry, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(url) DO UPDATE SET
			title       = CASE WHEN excluded.title = '' THEN history.title ELSE excluded.title END,
			icon        = CASE WHEN excluded.icon = '' THEN history.icon ELSE excluded.icon END,
			visited_at  = excluded.visited_at,
			visit_count = history.visit_count + 1`,
		uuid.NewString(), url, title, icon, s.timestamp())
	if err != nil {
		return nil, fmt.Errorf("record visit: %w", err)
	}
	s.refreshHistory(ctx)
	return s.HistoryByURL(ctx, url)
}

// UpdateHistoryTitle sets the title of the entry for url, once the page
// reports one.
func (s *Store) UpdateHistoryTitle(ctx context.Context, url, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE history SET title = ? WHERE url = ?`, title, url)
	if err != nil {
		return fmt.Errorf("update history title: %w", err)
	}
	if err := affected(res, "history", url); err != nil {
		return err
	}
	s.refreshHistory(ctx)
	return nil
}

// DeleteHistory removes the entry with id.
func (s *Store) DeleteHistory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	if err := affected(res, "history", id); err != nil {
		return err
	}
	s.refreshHistory(ctx)
	return nil
}

// DeleteHistoryBefore removes entries last visited before t and returns
// how many were removed.
func (s *Store) DeleteHistoryBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE visited_at < ?`, formatTime(t))
	if err != nil {
		return 0, fmt.Errorf("delete old history: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.refreshHistory(ctx)
	}
	return n, nil
}

// ClearHistory removes every entry.
func (s *Store) ClearHistory(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	s.refreshHistory(ctx)
	return nil
}

// HistoryCount returns the number of entries.
func (s *Store) HistoryCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history`).Scan(&n)
	return n, err
}

// WatchHistory delivers the history list now and after every change.
func (s *Store) WatchHistory(ctx context.Context, fn func([]HistoryEntry)) (cancel func(), err error) {
	return watch(ctx, &s.historyWatchers, s.History, fn)
}

func (s *Store) refreshHistory(ctx context.Context) {
	refresh(ctx, s.log, &s.historyWatchers, s.History)
}
