package tui

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nabd-browser/nabd/internal/browser"
	"github.com/nabd-browser/nabd/internal/config"
	"github.com/nabd-browser/nabd/internal/provider"
	"github.com/nabd-browser/nabd/internal/records"
)

type answerProvider struct{}

func (answerProvider) Name() string         { return "fake" }
func (answerProvider) DefaultModel() string { return "fake" }

func (answerProvider) Chat(ctx context.Context, req *provider.ChatRequest) (<-chan provider.Event, error) {
	ch := make(chan provider.Event, 2)
	ch <- provider.Event{Type: provider.EventTextDelta, TextDelta: "**short** summary"}
	ch <- provider.Event{Type: provider.EventDone}
	close(ch)
	return ch, nil
}

func newShellBrowser(t *testing.T, opts ...browser.Option) (*browser.Browser, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Home</title></head><body><p>Welcome home.</p><a href="/two">Second page</a></body></html>`)
	})
	mux.HandleFunc("/two", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Two</title></head><body><p>Page two body.</p></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.HomeURL = srv.URL + "/"
	cfg.SearchURL = srv.URL + "/search?q=%s"
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.DownloadDir = filepath.Join(dir, "downloads")

	opts = append([]browser.Option{browser.WithClipboard(func(string) error { return nil })}, opts...)
	b, err := browser.New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	require.Eventually(t, func() bool {
		a := b.Tabs().Active()
		return a.Title == "Home" && !a.Loading
	}, 5*time.Second, 10*time.Millisecond, "home page never loaded")
	return b, srv
}

func TestShellNavigatesAndShowsPage(t *testing.T) {
	b, srv := newShellBrowser(t)
	ui := NewBufferIO(srv.URL+"/two", "/back")
	require.NoError(t, NewShell(b, ui).Run(context.Background()))

	out := ui.Output()
	assert.Contains(t, out, "# Two")
	assert.Contains(t, out, "Page two body.")
	assert.Contains(t, out, "Welcome home.")
	assert.Empty(t, ui.Errors())
}

func TestShellQuitStopsReading(t *testing.T) {
	b, _ := newShellBrowser(t)
	ui := NewBufferIO("/quit", "/tabs")
	require.NoError(t, NewShell(b, ui).Run(context.Background()))

	assert.Contains(t, ui.Output(), "Bye.")
	assert.NotContains(t, ui.Output(), "Tabs (")
}

func TestShellTabs(t *testing.T) {
	b, srv := newShellBrowser(t)
	ui := NewBufferIO(
		"/new "+srv.URL+"/two",
		"/private",
		"/tabs",
		"/tab 1",
		"/closeall private",
		"/tab 9",
	)
	require.NoError(t, NewShell(b, ui).Run(context.Background()))

	out := ui.Output()
	assert.Contains(t, out, "Opened tab 2 of 2.")
	assert.Contains(t, out, "Opened private tab 3 of 3.")
	assert.Contains(t, out, "Tabs (3, 1 private):")
	assert.Contains(t, out, "[private]")
	assert.Contains(t, out, "Private tabs closed.")
	assert.Contains(t, out, "Usage: /tab <1-2>")

	st := b.Tabs().State()
	assert.Equal(t, 2, st.Len())
	assert.Zero(t, st.PrivateCount())
	assert.Equal(t, 0, st.ActiveIndex)
	assert.Eventually(t, func() bool {
		st := ui.Status()
		return st.Tabs == 2 && st.Index == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestShellCloseTab(t *testing.T) {
	b, _ := newShellBrowser(t)
	ui := NewBufferIO("/new", "/new", "/close 1", "/close", "/close", "/close x")
	require.NoError(t, NewShell(b, ui).Run(context.Background()))

	out := ui.Output()
	assert.Contains(t, out, "Tab 1 closed.")
	assert.Contains(t, out, "Tab closed.")
	assert.Contains(t, out, "Usage: /close [1-1]")
	// The list never empties.
	assert.Equal(t, 1, b.Tabs().State().Len())
}

func TestShellFollowLink(t *testing.T) {
	b, srv := newShellBrowser(t)
	ui := NewBufferIO(srv.URL+"/", "/links", "/follow 1", "/follow 7", "/follow x")
	require.NoError(t, NewShell(b, ui).Run(context.Background()))

	out := ui.Output()
	assert.Contains(t, out, "1. Second page")
	assert.Contains(t, out, "Page two body.")
	assert.Contains(t, out, "No such link.")
	assert.Contains(t, out, "Usage: /follow <link number>")
	assert.Equal(t, srv.URL+"/two", b.Tabs().Active().URL)
}

func TestShellBookmarksAndHistory(t *testing.T) {
	b, srv := newShellBrowser(t)
	ui := NewBufferIO(srv.URL+"/two", "/bookmark", "/bookmarks", "/history", "/history two", "/bookmark")
	require.NoError(t, NewShell(b, ui).Run(context.Background()))

	out := ui.Output()
	assert.Contains(t, out, "Bookmarked.")
	assert.Contains(t, out, "Bookmarks (1):")
	assert.Contains(t, out, "History (")
	assert.Contains(t, out, srv.URL+"/two")
	assert.Contains(t, out, "Bookmark removed.")

	on, err := b.IsBookmarked(context.Background())
	require.NoError(t, err)
	assert.False(t, on)
}

func TestShellAssistant(t *testing.T) {
	b, srv := newShellBrowser(t, browser.WithProvider(answerProvider{}))
	ui := NewBufferIO(srv.URL+"/two", "/summarize", "/ask", "/ai", "/clear-ai", "/ai")
	require.NoError(t, NewShell(b, ui).Run(context.Background()))

	out := ui.Output()
	assert.Contains(t, out, "**short** summary")
	assert.Contains(t, out, "Usage: /ask <question>")
	assert.Contains(t, out, "You: Summarize this page")
	assert.Contains(t, out, "Conversation cleared.")
	assert.Contains(t, out, "No conversation yet.")
}

func TestShellAssistantNotConfigured(t *testing.T) {
	b, _ := newShellBrowser(t)
	ui := NewBufferIO("/summarize")
	require.NoError(t, NewShell(b, ui).Run(context.Background()))

	require.Len(t, ui.Errors(), 1)
	assert.Contains(t, ui.Errors()[0], "not configured")
}

func TestShellClearData(t *testing.T) {
	b, srv := newShellBrowser(t)
	ui := NewBufferIO(srv.URL+"/two", "/bookmark", "/clear-data history", "/clear-data junk", "/clear-data")
	require.NoError(t, NewShell(b, ui).Run(context.Background()))

	out := ui.Output()
	assert.Contains(t, out, "Usage: /clear-data")
	assert.Contains(t, out, "Browsing data cleared.")

	ctx := context.Background()
	n, err := b.Records().BookmarkCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = b.Records().HistoryCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestShellUnknownCommand(t *testing.T) {
	b, _ := newShellBrowser(t)
	ui := NewBufferIO("/nope", "/help")
	require.NoError(t, NewShell(b, ui).Run(context.Background()))

	out := ui.Output()
	assert.Contains(t, out, "Unknown command /nope.")
	assert.Contains(t, out, "/summarize")
}

func TestShellCancelledContext(t *testing.T) {
	b, _ := newShellBrowser(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ui := NewBufferIO("/tabs", "/tabs")
	err := NewShell(b, ui).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, strings.Count(ui.Output(), "Tabs ("))
}

func TestRelay(t *testing.T) {
	var r Relay
	r.Notify("dropped")

	ui := NewBufferIO()
	r.Attach(ui)
	r.Notify("Downloaded a.pdf")
	r.Attach(nil)
	r.Notify("dropped too")

	assert.Equal(t, "Downloaded a.pdf\n", ui.Output())
}

func TestFormatDownloads(t *testing.T) {
	assert.Equal(t, "No downloads.", FormatDownloads(nil))

	out := FormatDownloads([]records.Download{
		{ID: "0123456789", FileName: "a.pdf", Status: records.StatusDownloading, BytesDone: 50, BytesTotal: 200},
		{ID: "abcdef0123", FileName: "b.zip", Status: records.StatusFailed, Error: "File not found (HTTP 404)"},
		{ID: "ffff", URL: "https://x.test/c", Status: records.StatusCompleted, Path: "/tmp/c"},
	})
	assert.Contains(t, out, "01234567  a.pdf  [downloading 25%]")
	assert.Contains(t, out, "[failed: File not found (HTTP 404)]")
	assert.Contains(t, out, "ffff  https://x.test/c  [completed]")
	assert.Contains(t, out, "/tmp/c")
}

func TestFormatHistoryLimit(t *testing.T) {
	var list []records.HistoryEntry
	for i := 0; i < listLimit+3; i++ {
		list = append(list, records.HistoryEntry{URL: fmt.Sprintf("https://x.test/%d", i), VisitCount: 1, VisitedAt: time.Now()})
	}
	out := FormatHistory(list)
	assert.Contains(t, out, "... and 3 more")
	assert.NotContains(t, out, fmt.Sprintf("https://x.test/%d\n", listLimit))
}

func TestStatusText(t *testing.T) {
	st := Status{Tabs: 3, Index: 2, Title: "Docs", URL: "https://d.test", Private: true, Loading: true, Progress: 40}
	assert.Equal(t, " tab 2/3 | private | loading 40% | Docs | https://d.test", statusLine(st))
	assert.Equal(t, "[2/3 private] Docs ", promptFor(st))
	assert.Equal(t, " no tabs", statusLine(Status{}))
	assert.Equal(t, "", promptFor(Status{}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab...", truncate("abc", 2))
	assert.Equal(t, "مر...", truncate("مرحبا", 2))
}
