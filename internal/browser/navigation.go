package browser

import (
	"context"
	"errors"

	"github.com/nabd-browser/nabd/internal/surface"
	"github.com/nabd-browser/nabd/internal/tabs"
)

// ErrNoPage is returned when the active session has no page to act on.
var ErrNoPage = errors.New("browser: no page loaded")

// NewTab opens a session for input (empty means home) and makes it active.
// The page loads in the background.
func (b *Browser) NewTab(input string, private bool) string {
	return b.tabs.CreateSession(ProcessInput(input, b.cfg.SearchURL), private)
}

// SelectTab activates the session at index.
func (b *Browser) SelectTab(index int) { b.tabs.SelectSession(index) }

// CloseTab closes the session with id.
func (b *Browser) CloseTab(id string) { b.tabs.CloseSession(id) }

// CloseActiveTab closes the active session.
func (b *Browser) CloseActiveTab() { b.tabs.CloseSession(b.tabs.Active().ID) }

// CloseAllTabs closes every session, or only the private ones.
func (b *Browser) CloseAllTabs(privateOnly bool) { b.tabs.CloseAllSessions(privateOnly) }

// active returns the active session and its surface, binding it if needed.
func (b *Browser) active() (tabs.Session, surface.Surface, error) {
	sess := b.tabs.Active()
	s, err := b.binding.Bind(sess.ID)
	if err != nil {
		return sess, nil, err
	}
	return sess, s, nil
}

// Navigate loads input in the active session and waits for the load.
func (b *Browser) Navigate(ctx context.Context, input string) error {
	target := ProcessInput(input, b.cfg.SearchURL)
	if target == "" {
		return nil
	}
	sess := b.tabs.Active()
	b.claim(sess.ID)
	b.tabs.Update(sess.ID, func(s tabs.Session) tabs.Session {
		s.URL = target
		s.Loading = true
		s.Progress = 0
		return s
	})
	s, err := b.binding.Bind(sess.ID)
	if err != nil {
		return err
	}
	return s.Load(ctx, target)
}

// Home loads the home page in the active session.
func (b *Browser) Home(ctx context.Context) error {
	return b.Navigate(ctx, b.tabs.HomeURL())
}

func (b *Browser) Back(ctx context.Context) error {
	_, s, err := b.active()
	if err != nil {
		return err
	}
	return s.GoBack(ctx)
}

func (b *Browser) Forward(ctx context.Context) error {
	_, s, err := b.active()
	if err != nil {
		return err
	}
	return s.GoForward(ctx)
}

func (b *Browser) Reload(ctx context.Context) error {
	_, s, err := b.active()
	if err != nil {
		return err
	}
	return s.Reload(ctx)
}

// Stop cancels the active session's load.
func (b *Browser) Stop() {
	if s, ok := b.binding.Current(); ok {
		s.Stop()
	}
	b.tabs.UpdateActive(func(s tabs.Session) tabs.Session {
		s.Loading = false
		return s
	})
}

// PageText returns the active page as markdown, waiting for a load in
// progress.
func (b *Browser) PageText(ctx context.Context) (string, error) {
	_, s, err := b.active()
	if err != nil {
		return "", err
	}
	return s.Text(ctx)
}

// Links returns the anchors of the active page.
func (b *Browser) Links() []surface.Link {
	if s, ok := b.binding.Current(); ok {
		return s.Links()
	}
	return nil
}

// FollowLink loads the n-th link (1-based) of the active page.
func (b *Browser) FollowLink(ctx context.Context, n int) error {
	links := b.Links()
	if n < 1 || n > len(links) {
		return ErrNoPage
	}
	return b.Navigate(ctx, links[n-1].URL)
}

// ToggleDesktopMode switches the active session between the mobile and
// desktop user agents and reloads. It returns the new mode.
func (b *Browser) ToggleDesktopMode(ctx context.Context) (bool, error) {
	sess, s, err := b.active()
	if err != nil {
		return false, err
	}
	desktop := !sess.DesktopMode
	b.tabs.Update(sess.ID, func(t tabs.Session) tabs.Session {
		t.DesktopMode = desktop
		return t
	})
	ua := b.cfg.UserAgent
	if desktop {
		ua = b.cfg.DesktopUserAgent
	}
	s.SetUserAgent(ua)
	if s.URL() == "" {
		return desktop, nil
	}
	return desktop, s.Reload(ctx)
}

// CopyURL puts the active session's address on the clipboard.
func (b *Browser) CopyURL() (string, error) {
	u := b.tabs.Active().URL
	if u == "" {
		return "", ErrNoPage
	}
	if err := b.copy(u); err != nil {
		return "", err
	}
	return u, nil
}
