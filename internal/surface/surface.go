// Package surface binds browsing sessions to render surfaces: the component
// that fetches a page, tracks its navigation history and reports progress,
// title and navigation state back through callbacks.
package surface

import (
	"context"
	"errors"
)

var (
	// ErrDisposed is returned when a surface or binding is used after its
	// session closed.
	ErrDisposed = errors.New("surface: used after dispose")
	// ErrUnknownSession is returned when binding a session that is not open.
	ErrUnknownSession = errors.New("surface: unknown session")
	// ErrUnsupportedScheme is returned for addresses the surface cannot load.
	ErrUnsupportedScheme = errors.New("surface: unsupported scheme")
)

// Callbacks are pushed from the surface while it loads. Any may be nil.
// They run on the goroutine that called Load, GoBack, GoForward or Reload.
type Callbacks struct {
	OnProgress               func(percent int)
	OnTitleChanged           func(title string)
	OnIconChanged            func(icon string)
	OnNavigationStateChanged func(canGoBack, canGoForward bool)
	OnURLChanged             func(url string)
	// OnDownload receives responses that are not pages.
	OnDownload func(url, mimeType string)
	// OnError reports a failed load.
	OnError func(url string, err error)
}

// Link is an anchor found on the current page.
type Link struct {
	Text string
	URL  string
}

// Options configure a new surface.
type Options struct {
	// Private surfaces share no cookies or cache with normal ones and keep
	// nothing once erased.
	Private   bool
	UserAgent string
}

// Surface is one render surface. All blocking methods return ErrDisposed
// once Dispose has been called.
type Surface interface {
	Load(ctx context.Context, url string) error
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error
	Reload(ctx context.Context) error
	Stop()

	CanGoBack() bool
	CanGoForward() bool
	URL() string
	Title() string
	Links() []Link

	// Text returns the current page as markdown, waiting for an in-flight
	// load to finish. Dispose cancels the wait.
	Text(ctx context.Context) (string, error)

	SetUserAgent(ua string)
	Dispose()
}

// Factory constructs surfaces for sessions.
type Factory interface {
	New(sessionID string, opts Options, cb Callbacks) Surface
}
