// Package tabs owns the list of open browsing sessions and the active one.
package tabs

import (
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTitle is shown for a normal session before its page reports one.
	DefaultTitle = "New tab"
	// PrivateTitle is the placeholder title of a private session.
	PrivateTitle = "Private tab"
)

// Session is one browsing tab. ID, Private and CreatedAt never change after
// creation; everything else is pushed in by the render surface.
type Session struct {
	ID      string    `json:"id"`
	URL     string    `json:"url"`
	Title   string    `json:"title"`
	Icon    string    `json:"icon,omitempty"`
	Private bool      `json:"private"`
	Created time.Time `json:"created_at"`

	Loading      bool `json:"loading"`
	Progress     int  `json:"progress"` // 0-100
	CanGoBack    bool `json:"can_go_back"`
	CanGoForward bool `json:"can_go_forward"`
	DesktopMode  bool `json:"desktop_mode"`
}

// Domain returns the host of the session URL without a leading "www.".
func (s Session) Domain() string {
	u, err := url.Parse(s.URL)
	if err != nil || u.Host == "" {
		return s.URL
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// IsSecure reports whether the session is on an https page.
func (s Session) IsSecure() bool {
	return strings.HasPrefix(strings.ToLower(s.URL), "https://")
}

// DisplayTitle falls back to the domain while the page has no title.
func (s Session) DisplayTitle() string {
	if s.Title != "" && s.Title != DefaultTitle && s.Title != PrivateTitle {
		return s.Title
	}
	if d := s.Domain(); d != "" && d != "about:blank" {
		return d
	}
	return s.Title
}

// State is an immutable snapshot of the store.
type State struct {
	Sessions    []Session
	ActiveIndex int
	// PrivateMode mirrors the private flag of the active session.
	PrivateMode bool
}

// Active returns the active session. ok is false only for a zero State.
func (st State) Active() (Session, bool) {
	if st.ActiveIndex < 0 || st.ActiveIndex >= len(st.Sessions) {
		return Session{}, false
	}
	return st.Sessions[st.ActiveIndex], true
}

// Len returns the number of open sessions.
func (st State) Len() int { return len(st.Sessions) }

// NormalCount returns the number of non-private sessions.
func (st State) NormalCount() int { return len(st.Sessions) - st.PrivateCount() }

// PrivateCount returns the number of private sessions.
func (st State) PrivateCount() int {
	n := 0
	for _, s := range st.Sessions {
		if s.Private {
			n++
		}
	}
	return n
}

// IndexOf returns the position of id, or -1.
func (st State) IndexOf(id string) int {
	for i, s := range st.Sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (st State) clone() State {
	out := st
	out.Sessions = make([]Session, len(st.Sessions))
	copy(out.Sessions, st.Sessions)
	return out
}
