package records

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle of a download.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusDownloading Status = "DOWNLOADING"
	StatusPaused      Status = "PAUSED"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusCancelled   Status = "CANCELLED"
)

// Terminal reports whether no further transitions happen from st.
func (st Status) Terminal() bool {
	return st == StatusCompleted || st == StatusFailed || st == StatusCancelled
}

// Download is one file transfer. BytesTotal is -1 while unknown.
type Download struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	FileName    string    `json:"file_name"`
	Path        string    `json:"path,omitempty"`
	Mime        string    `json:"mime,omitempty"`
	BytesTotal  int64     `json:"bytes_total"`
	BytesDone   int64     `json:"bytes_done"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Progress returns the completed percentage, or -1 if the size is unknown.
func (d Download) Progress() int {
	if d.BytesTotal <= 0 {
		return -1
	}
	return int(d.BytesDone * 100 / d.BytesTotal)
}

const downloadColumns = `id, url, file_name, path, mime, bytes_total, bytes_done, status, created_at, completed_at, error`

func scanDownloads(rows *sql.Rows) ([]Download, error) {
	defer rows.Close()
	var out []Download
	for rows.Next() {
		var d Download
		var status, createdAt, completedAt string
		if err := rows.Scan(&d.ID, &d.URL, &d.FileName, &d.Path, &d.Mime,
			&d.BytesTotal, &d.BytesDone, &status, &createdAt, &completedAt, &d.Error); err != nil {
			return nil, fmt.Errorf("scan download: %w", err)
		}
		d.Status = Status(status)
		d.CreatedAt = parseTime(createdAt)
		d.CompletedAt = parseTime(completedAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) queryDownloads(ctx context.Context, where string, args ...any) ([]Download, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+downloadColumns+` FROM downloads `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query downloads: %w", err)
	}
	return scanDownloads(rows)
}

// Downloads returns every download, newest first.
func (s *Store) Downloads(ctx context.Context) ([]Download, error) {
	return s.queryDownloads(ctx, `ORDER BY created_at DESC`)
}

// Download returns the download with id.
func (s *Store) Download(ctx context.Context, id string) (*Download, error) {
	list, err := s.queryDownloads(ctx, `WHERE id = ? LIMIT 1`, id)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("download %s: %w", id, ErrNotFound)
	}
	return &list[0], nil
}

// ActiveDownloads returns pending and running downloads.
func (s *Store) ActiveDownloads(ctx context.Context) ([]Download, error) {
	return s.queryDownloads(ctx, `WHERE status IN (?, ?) ORDER BY created_at DESC`,
		string(StatusPending), string(StatusDownloading))
}

// CompletedDownloads returns finished downloads, most recent first.
func (s *Store) CompletedDownloads(ctx context.Context) ([]Download, error) {
	return s.queryDownloads(ctx, `WHERE status = ? ORDER BY completed_at DESC`, string(StatusCompleted))
}

// InsertDownload stores d, filling in ID, CreatedAt and Status if empty.
func (s *Store) InsertDownload(ctx context.Context, d *Download) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	if d.Status == "" {
		d.Status = StatusPending
	}
	completedAt := ""
	if !d.CompletedAt.IsZero() {
		completedAt = formatTime(d.CompletedAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO downloads (`+downloadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.URL, d.FileName, d.Path, d.Mime, d.BytesTotal, d.BytesDone,
		string(d.Status), formatTime(d.CreatedAt), completedAt, d.Error)
	if err != nil {
		return fmt.Errorf("insert download: %w", err)
	}
	s.refreshDownloads(ctx)
	return nil
}

func (s *Store) updateDownload(ctx context.Context, id, set string, args ...any) error {
	res, err := s.db.ExecContext(ctx, `UPDATE downloads SET `+set+` WHERE id = ?`, append(args, id)...)
	if err != nil {
		return fmt.Errorf("update download: %w", err)
	}
	if err := affected(res, "download", id); err != nil {
		return err
	}
	s.refreshDownloads(ctx)
	return nil
}

// SetDownloadTarget records the file name and mime type chosen once the
// response headers are known.
func (s *Store) SetDownloadTarget(ctx context.Context, id, fileName, mime string, total int64) error {
	return s.updateDownload(ctx, id, `file_name = ?, mime = ?, bytes_total = ?`, fileName, mime, total)
}

// UpdateDownloadStatus sets the status of a download.
func (s *Store) UpdateDownloadStatus(ctx context.Context, id string, st Status) error {
	return s.updateDownload(ctx, id, `status = ?`, string(st))
}

// UpdateDownloadProgress records bytes transferred and marks the download
// as running.
func (s *Store) UpdateDownloadProgress(ctx context.Context, id string, done, total int64) error {
	return s.updateDownload(ctx, id, `bytes_done = ?, bytes_total = ?, status = ?`,
		done, total, string(StatusDownloading))
}

// MarkDownloadCompleted records the final path of a finished download.
func (s *Store) MarkDownloadCompleted(ctx context.Context, id, path string) error {
	return s.updateDownload(ctx, id, `status = ?, path = ?, completed_at = ?, error = ''`,
		string(StatusCompleted), path, s.timestamp())
}

// MarkDownloadFailed records why a download failed.
func (s *Store) MarkDownloadFailed(ctx context.Context, id, reason string) error {
	return s.updateDownload(ctx, id, `status = ?, error = ?, completed_at = ?`,
		string(StatusFailed), reason, s.timestamp())
}

// DeleteDownload removes the download record with id. The file stays.
func (s *Store) DeleteDownload(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM downloads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete download: %w", err)
	}
	if err := affected(res, "download", id); err != nil {
		return err
	}
	s.refreshDownloads(ctx)
	return nil
}

// ClearDownloads removes every download record.
func (s *Store) ClearDownloads(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM downloads`); err != nil {
		return fmt.Errorf("clear downloads: %w", err)
	}
	s.refreshDownloads(ctx)
	return nil
}

// WatchDownloads delivers the download list now and after every change.
func (s *Store) WatchDownloads(ctx context.Context, fn func([]Download)) (cancel func(), err error) {
	return watch(ctx, &s.downloadWatchers, s.Downloads, fn)
}

func (s *Store) refreshDownloads(ctx context.Context) {
	refresh(ctx, s.log, &s.downloadWatchers, s.Downloads)
}
