package browser

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nabd-browser/nabd/internal/records"
	"github.com/nabd-browser/nabd/internal/surface"
)

// ToggleBookmark bookmarks the active page, or removes the bookmark if it
// exists. It returns whether the page is bookmarked afterwards.
func (b *Browser) ToggleBookmark(ctx context.Context) (bool, error) {
	sess := b.tabs.Active()
	if sess.URL == "" || sess.URL == surface.BlankURL {
		return false, ErrNoPage
	}
	return b.records.ToggleBookmark(ctx, sess.URL, sess.DisplayTitle(), sess.Icon)
}

// IsBookmarked reports whether the active page is bookmarked.
func (b *Browser) IsBookmarked(ctx context.Context) (bool, error) {
	return b.records.IsBookmarked(ctx, b.tabs.Active().URL)
}

// Open loads a bookmark or history address, in a new session if newTab.
func (b *Browser) Open(ctx context.Context, url string, newTab bool) error {
	if newTab {
		b.NewTab(url, b.tabs.State().PrivateMode)
		return nil
	}
	return b.Navigate(ctx, url)
}

// ClearOptions selects what ClearBrowsingData removes.
type ClearOptions struct {
	History   bool
	Bookmarks bool
	Downloads bool
	Cache     bool
	Cookies   bool
}

// ClearAll selects everything.
func ClearAll() ClearOptions {
	return ClearOptions{History: true, Bookmarks: true, Downloads: true, Cache: true, Cookies: true}
}

// ClearBrowsingData removes the selected normal-session data.
func (b *Browser) ClearBrowsingData(ctx context.Context, opts ClearOptions) error {
	var errs []error
	if opts.History {
		if err := b.records.ClearHistory(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if opts.Bookmarks {
		if err := b.records.DeleteAllBookmarks(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if opts.Downloads {
		if err := b.records.ClearDownloads(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if b.web != nil {
		if opts.Cache {
			b.web.ClearCache()
		}
		if opts.Cookies {
			b.web.ClearCookies()
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("clear browsing data: %w", err)
	}
	b.log.Info("browsing data cleared",
		zap.Bool("history", opts.History),
		zap.Bool("bookmarks", opts.Bookmarks),
		zap.Bool("downloads", opts.Downloads),
		zap.Bool("cache", opts.Cache),
		zap.Bool("cookies", opts.Cookies))
	return nil
}

// Download fetches url into the download directory.
func (b *Browser) Download(ctx context.Context, url string) (string, error) {
	return b.downloads.Submit(ctx, url, "")
}

// RecentHistory returns the newest history entries.
func (b *Browser) RecentHistory(ctx context.Context, limit int) ([]records.HistoryEntry, error) {
	return b.records.RecentHistory(ctx, limit)
}
