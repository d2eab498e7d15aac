package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Bookmark is a saved page.
type Bookmark struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Icon      string    `json:"icon,omitempty"`
	Folder    string    `json:"folder,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const bookmarkColumns = `id, url, title, icon, folder, created_at`

func scanBookmarks(rows *sql.Rows) ([]Bookmark, error) {
	defer rows.Close()
	var out []Bookmark
	for rows.Next() {
		var b Bookmark
		var createdAt string
		if err := rows.Scan(&b.ID, &b.URL, &b.Title, &b.Icon, &b.Folder, &createdAt); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		b.CreatedAt = parseTime(createdAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) queryBookmarks(ctx context.Context, where string, args ...any) ([]Bookmark, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookmarkColumns+` FROM bookmarks `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookmarks: %w", err)
	}
	return scanBookmarks(rows)
}

func (s *Store) oneBookmark(ctx context.Context, where string, arg string) (*Bookmark, error) {
	list, err := s.queryBookmarks(ctx, where+` LIMIT 1`, arg)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("bookmark %s: %w", arg, ErrNotFound)
	}
	return &list[0], nil
}

// Bookmarks returns every bookmark, newest first.
func (s *Store) Bookmarks(ctx context.Context) ([]Bookmark, error) {
	return s.queryBookmarks(ctx, `ORDER BY created_at DESC`)
}

// Bookmark returns the bookmark with id.
func (s *Store) Bookmark(ctx context.Context, id string) (*Bookmark, error) {
	return s.oneBookmark(ctx, `WHERE id = ?`, id)
}

// BookmarkByURL returns the bookmark for url.
func (s *Store) BookmarkByURL(ctx context.Context, url string) (*Bookmark, error) {
	return s.oneBookmark(ctx, `WHERE url = ?`, url)
}

// IsBookmarked reports whether url is bookmarked.
func (s *Store) IsBookmarked(ctx context.Context, url string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookmarks WHERE url = ?`, url).Scan(&n); err != nil {
		return false, fmt.Errorf("bookmark exists: %w", err)
	}
	return n > 0, nil
}

// SearchBookmarks matches query against titles and URLs.
func (s *Store) SearchBookmarks(ctx context.Context, query string) ([]Bookmark, error) {
	like := "%" + query + "%"
	return s.queryBookmarks(ctx, `WHERE title LIKE ? OR url LIKE ? ORDER BY created_at DESC`, like, like)
}

// BookmarksInFolder returns the bookmarks filed under folder.
func (s *Store) BookmarksInFolder(ctx context.Context, folder string) ([]Bookmark, error) {
	return s.queryBookmarks(ctx, `WHERE folder = ? ORDER BY created_at DESC`, folder)
}

// SaveBookmark inserts b, replacing any bookmark with the same id or URL.
// Missing ID and CreatedAt are filled in.
func (s *Store) SaveBookmark(ctx context.Context, b *Bookmark) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO bookmarks (`+bookmarkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.URL, b.Title, b.Icon, b.Folder, formatTime(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("save bookmark: %w", err)
	}
	s.refreshBookmarks(ctx)
	return nil
}

// UpdateBookmark rewrites title, URL, icon and folder of an existing bookmark.
func (s *Store) UpdateBookmark(ctx context.Context, b *Bookmark) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bookmarks SET url = ?, title = ?, icon = ?, folder = ? WHERE id = ?`,
		b.URL, b.Title, b.Icon, b.Folder, b.ID)
	if err != nil {
		return fmt.Errorf("update bookmark: %w", err)
	}
	if err := affected(res, "bookmark", b.ID); err != nil {
		return err
	}
	s.refreshBookmarks(ctx)
	return nil
}

// ToggleBookmark removes the bookmark for url if present, otherwise adds
// one. It reports whether the page is bookmarked afterwards.
func (s *Store) ToggleBookmark(ctx context.Context, url, title, icon string) (bool, error) {
	_, err := s.BookmarkByURL(ctx, url)
	switch {
	case err == nil:
		return false, s.DeleteBookmarkByURL(ctx, url)
	case errors.Is(err, ErrNotFound):
		return true, s.SaveBookmark(ctx, &Bookmark{URL: url, Title: title, Icon: icon})
	default:
		return false, err
	}
}

// DeleteBookmark removes the bookmark with id.
func (s *Store) DeleteBookmark(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete bookmark: %w", err)
	}
	if err := affected(res, "bookmark", id); err != nil {
		return err
	}
	s.refreshBookmarks(ctx)
	return nil
}

// DeleteBookmarkByURL removes the bookmark for url.
func (s *Store) DeleteBookmarkByURL(ctx context.Context, url string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE url = ?`, url)
	if err != nil {
		return fmt.Errorf("delete bookmark: %w", err)
	}
	if err := affected(res, "bookmark", url); err != nil {
		return err
	}
	s.refreshBookmarks(ctx)
	return nil
}

// DeleteAllBookmarks removes every bookmark.
func (s *Store) DeleteAllBookmarks(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bookmarks`); err != nil {
		return fmt.Errorf("delete bookmarks: %w", err)
	}
	s.refreshBookmarks(ctx)
	return nil
}

// BookmarkCount returns the number of bookmarks.
func (s *Store) BookmarkCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bookmarks`).Scan(&n)
	return n, err
}

// WatchBookmarks delivers the bookmark list now and after every change.
func (s *Store) WatchBookmarks(ctx context.Context, fn func([]Bookmark)) (cancel func(), err error) {
	return watch(ctx, &s.bookmarkWatchers, s.Bookmarks, fn)
}

func (s *Store) refreshBookmarks(ctx context.Context) {
	refresh(ctx, s.log, &s.bookmarkWatchers, s.Bookmarks)
}
