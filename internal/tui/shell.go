package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/nabd-browser/nabd/internal/assistant"
	"github.com/nabd-browser/nabd/internal/browser"
	"github.com/nabd-browser/nabd/internal/records"
	"github.com/nabd-browser/nabd/internal/surface"
	"github.com/nabd-browser/nabd/internal/tabs"
)

// listLimit caps bookmark, history and download listings.
const listLimit = 20

// Canceller is implemented by IOs that can interrupt the command in flight.
type Canceller interface {
	SetCancel(cancel context.CancelFunc)
	ClearCancel()
}

// Relay forwards browser notifications to whichever IO is attached.
// Messages arriving while nothing is attached are dropped.
type Relay struct {
	mu sync.Mutex
	io IO
}

// Attach routes later notifications to ui; nil detaches.
func (r *Relay) Attach(ui IO) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.io = ui
}

// Notify shows msg as a system message.
func (r *Relay) Notify(msg string) {
	r.mu.Lock()
	ui := r.io
	r.mu.Unlock()
	if ui != nil {
		ui.SystemMessage(msg)
	}
}

// Shell is the interactive command loop over a Browser. Plain input is an
// address or a search; lines starting with "/" are commands.
type Shell struct {
	b  *browser.Browser
	io IO
}

// NewShell creates a shell over b that talks through ui.
func NewShell(b *browser.Browser, ui IO) *Shell {
	return &Shell{b: b, io: ui}
}

// Run reads and executes lines until the user quits or input ends.
func (s *Shell) Run(ctx context.Context) error {
	unsubscribe := s.b.Tabs().Subscribe(func(st tabs.State) {
		s.io.SetStatus(statusFor(st))
	})
	defer unsubscribe()

	for {
		input, err := s.io.ReadInput()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if input == "" {
			continue
		}
		if s.run(ctx, input) {
			return nil
		}
		if ctx.Err() != nil {
			s.io.SystemMessage("\nInterrupted.")
			return ctx.Err()
		}
	}
}

// run executes one line under its own cancellable context. It reports
// whether the shell should quit.
func (s *Shell) run(ctx context.Context, input string) bool {
	cmdCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c, ok := s.io.(Canceller); ok {
		c.SetCancel(cancel)
		defer c.ClearCancel()
	}
	return s.Execute(cmdCtx, input)
}

// Execute runs a single line and reports whether the shell should quit.
func (s *Shell) Execute(ctx context.Context, input string) bool {
	input = strings.TrimSpace(input)
	if input == "" {
		return false
	}
	s.io.UserMessage(input)
	if !strings.HasPrefix(input, "/") {
		s.navigate(ctx, func() error { return s.b.Navigate(ctx, input) })
		return false
	}

	parts := strings.SplitN(input, " ", 2)
	cmd := parts[0]
	arg := ""
	if len(parts) > 1 {
		arg = strings.TrimSpace(parts[1])
	}

	switch cmd {
	case "/quit", "/exit", "/q":
		s.io.SystemMessage("Bye.")
		return true
	case "/help":
		s.io.SystemMessage(helpText)

	// tabs
	case "/new":
		s.openTab(arg, false)
	case "/private":
		s.openTab(arg, true)
	case "/tabs":
		s.io.SystemMessage(formatTabs(s.b.Tabs().State()))
	case "/tab":
		s.handleSelect(arg)
	case "/close":
		s.handleClose(arg)
	case "/closeall":
		s.handleCloseAll(arg)

	// navigation
	case "/go", "/open":
		if arg == "" {
			s.io.SystemMessage("Usage: " + cmd + " <address or search>")
			return false
		}
		if cmd == "/open" {
			s.openTab(arg, s.b.Tabs().State().PrivateMode)
			return false
		}
		s.navigate(ctx, func() error { return s.b.Navigate(ctx, arg) })
	case "/back":
		s.navigate(ctx, func() error { return s.b.Back(ctx) })
	case "/forward":
		s.navigate(ctx, func() error { return s.b.Forward(ctx) })
	case "/reload":
		s.navigate(ctx, func() error { return s.b.Reload(ctx) })
	case "/home":
		s.navigate(ctx, func() error { return s.b.Home(ctx) })
	case "/stop":
		s.b.Stop()
		s.io.SystemMessage("Stopped.")
	case "/read":
		s.showPage(ctx)
	case "/links":
		s.io.SystemMessage(formatLinks(s.b.Links()))
	case "/follow":
		n, err := strconv.Atoi(arg)
		if err != nil {
			s.io.SystemMessage("Usage: /follow <link number>")
			return false
		}
		s.navigate(ctx, func() error { return s.b.FollowLink(ctx, n) })
	case "/desktop":
		s.handleDesktop(ctx)
	case "/copy":
		u, err := s.b.CopyURL()
		if err != nil {
			s.io.Error("Copy failed: " + err.Error())
			return false
		}
		s.io.SystemMessage("Copied " + u)

	// records
	case "/bookmark":
		s.handleBookmark(ctx)
	case "/bookmarks":
		s.handleBookmarks(ctx, arg)
	case "/history":
		s.handleHistory(ctx, arg)
	case "/download":
		s.handleDownload(ctx, arg)
	case "/downloads":
		s.handleDownloads(ctx)
	case "/cancel":
		s.handleCancel(ctx, arg)
	case "/clear-data":
		s.handleClearData(ctx, arg)

	// assistant
	case "/summarize":
		s.assist(func() error { return s.b.Summarize(ctx) })
	case "/explain":
		s.assist(func() error { return s.b.Explain(ctx, arg) })
	case "/ask":
		if arg == "" {
			s.io.SystemMessage("Usage: /ask <question>")
			return false
		}
		s.assist(func() error { return s.b.Ask(ctx, arg) })
	case "/ai":
		s.io.SystemMessage(formatConversation(s.b.Panel().State()))
	case "/clear-ai":
		s.b.Panel().Clear()
		s.io.SystemMessage("Conversation cleared.")

	default:
		s.io.SystemMessage(fmt.Sprintf("Unknown command %s. Type /help for the list.", cmd))
	}
	return false
}

const helpText = `Type an address or a search to load it in the current tab.

Tabs:
  /new [address]       Open a tab (home page when empty)
  /private [address]   Open a private tab
  /tabs                List tabs
  /tab <n>             Switch to tab n
  /close [n]           Close tab n (the current one when empty)
  /closeall [private]  Close every tab, or only the private ones

Navigation:
  /go <address>        Load in the current tab
  /open <address>      Load in a new tab
  /back, /forward      Move through the tab's history
  /reload, /stop       Reload or stop the current page
  /home                Load the home page
  /read                Show the current page
  /links               List the page's links
  /follow <n>          Load link n
  /desktop             Toggle the desktop user agent
  /copy                Copy the address to the clipboard

Data:
  /bookmark            Bookmark the page, or remove the bookmark
  /bookmarks [query]   List or search bookmarks
  /history [query]     List or search history
  /download <url>      Download a file
  /downloads           List downloads
  /cancel <id>         Cancel a download (id prefix)
  /clear-data [what]   Clear history, bookmarks, downloads, cache, cookies or all

Assistant:
  /summarize           Summarize the page
  /explain <text>      Explain a passage using the page as context
  /ask <question>      Ask about the page
  /ai                  Show the conversation
  /clear-ai            Clear the conversation

  /help, /quit`

// ---------- tabs ----------

func (s *Shell) openTab(input string, private bool) {
	s.b.NewTab(input, private)
	st := s.b.Tabs().State()
	kind := "tab"
	if private {
		kind = "private tab"
	}
	s.io.SystemMessage(fmt.Sprintf("Opened %s %d of %d.", kind, st.ActiveIndex+1, st.Len()))
}

func (s *Shell) handleSelect(arg string) {
	st := s.b.Tabs().State()
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > st.Len() {
		s.io.SystemMessage(fmt.Sprintf("Usage: /tab <1-%d>", st.Len()))
		return
	}
	s.b.SelectTab(n - 1)
	active := s.b.Tabs().Active()
	s.io.SystemMessage(fmt.Sprintf("Tab %d: %s", n, active.DisplayTitle()))
}

func (s *Shell) handleClose(arg string) {
	if arg == "" {
		s.b.CloseActiveTab()
		s.io.SystemMessage("Tab closed.")
		return
	}
	st := s.b.Tabs().State()
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > st.Len() {
		s.io.SystemMessage(fmt.Sprintf("Usage: /close [1-%d]", st.Len()))
		return
	}
	s.b.CloseTab(st.Sessions[n-1].ID)
	s.io.SystemMessage(fmt.Sprintf("Tab %d closed.", n))
}

func (s *Shell) handleCloseAll(arg string) {
	switch arg {
	case "":
		s.b.CloseAllTabs(false)
		s.io.SystemMessage("All tabs closed.")
	case "private":
		s.b.CloseAllTabs(true)
		s.io.SystemMessage("Private tabs closed.")
	default:
		s.io.SystemMessage("Usage: /closeall [private]")
	}
}

// ---------- navigation ----------

// navigate runs a load and shows the resulting page.
func (s *Shell) navigate(ctx context.Context, load func() error) {
	s.io.ThinkingStart()
	err := load()
	s.io.ThinkingDone()
	switch {
	case err == nil:
		s.showPage(ctx)
	case errors.Is(err, browser.ErrNoPage):
		s.io.SystemMessage("No such link. Use /links to list them.")
	case errors.Is(err, context.Canceled):
		s.io.SystemMessage("Stopped.")
	case errors.Is(err, surface.ErrDisposed), errors.Is(err, surface.ErrUnknownSession):
		s.io.Error("The tab was closed.")
	default:
		// Load failures reach the user through the browser's notifier.
	}
}

func (s *Shell) showPage(ctx context.Context) {
	text, err := s.b.PageText(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.io.Error("Could not read the page: " + err.Error())
		}
		return
	}
	active := s.b.Tabs().Active()
	header := fmt.Sprintf("# %s\n\n%s\n\n", active.DisplayTitle(), active.URL)
	s.io.Markdown(header + text)
}

func (s *Shell) handleDesktop(ctx context.Context) {
	s.io.ThinkingStart()
	desktop, err := s.b.ToggleDesktopMode(ctx)
	s.io.ThinkingDone()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.io.Error("Desktop mode: " + err.Error())
		return
	}
	if desktop {
		s.io.SystemMessage("Desktop mode on.")
	} else {
		s.io.SystemMessage("Desktop mode off.")
	}
}

// ---------- records ----------

func (s *Shell) handleBookmark(ctx context.Context) {
	on, err := s.b.ToggleBookmark(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrNoPage) {
			s.io.SystemMessage("Nothing to bookmark.")
			return
		}
		s.io.Error("Bookmark failed: " + err.Error())
		return
	}
	if on {
		s.io.SystemMessage("Bookmarked.")
	} else {
		s.io.SystemMessage("Bookmark removed.")
	}
}

func (s *Shell) handleBookmarks(ctx context.Context, query string) {
	rec := s.b.Records()
	var (
		list []records.Bookmark
		err  error
	)
	if query == "" {
		list, err = rec.Bookmarks(ctx)
	} else {
		list, err = rec.SearchBookmarks(ctx, query)
	}
	if err != nil {
		s.io.Error("Failed to list bookmarks: " + err.Error())
		return
	}
	s.io.SystemMessage(FormatBookmarks(list))
}

func (s *Shell) handleHistory(ctx context.Context, query string) {
	rec := s.b.Records()
	var (
		list []records.HistoryEntry
		err  error
	)
	if query == "" {
		list, err = s.b.RecentHistory(ctx, listLimit)
	} else {
		list, err = rec.SearchHistory(ctx, query)
	}
	if err != nil {
		s.io.Error("Failed to list history: " + err.Error())
		return
	}
	s.io.SystemMessage(FormatHistory(list))
}

func (s *Shell) handleDownload(ctx context.Context, arg string) {
	if arg == "" {
		s.io.SystemMessage("Usage: /download <url>")
		return
	}
	id, err := s.b.Download(ctx, browser.ProcessInput(arg, s.b.Config().SearchURL))
	if err != nil {
		s.io.Error("Download failed: " + err.Error())
		return
	}
	s.io.SystemMessage(fmt.Sprintf("Download %s started.", shortID(id)))
}

func (s *Shell) handleDownloads(ctx context.Context) {
	list, err := s.b.Records().Downloads(ctx)
	if err != nil {
		s.io.Error("Failed to list downloads: " + err.Error())
		return
	}
	s.io.SystemMessage(FormatDownloads(list))
}

func (s *Shell) handleCancel(ctx context.Context, prefix string) {
	if prefix == "" {
		s.io.SystemMessage("Usage: /cancel <download id prefix>")
		return
	}
	active, err := s.b.Records().ActiveDownloads(ctx)
	if err != nil {
		s.io.Error("Failed to list downloads: " + err.Error())
		return
	}
	var matches []records.Download
	for _, d := range active {
		if strings.HasPrefix(d.ID, prefix) {
			matches = append(matches, d)
		}
	}
	switch len(matches) {
	case 0:
		s.io.Error(fmt.Sprintf("No active download matching %q", prefix))
	case 1:
		if err := s.b.Downloads().Cancel(matches[0].ID); err != nil {
			s.io.Error("Cancel failed: " + err.Error())
			return
		}
		s.io.SystemMessage("Cancelled " + matches[0].FileName)
	default:
		s.io.SystemMessage(fmt.Sprintf("Ambiguous prefix %q matches %d downloads. Provide a longer prefix.", prefix, len(matches)))
	}
}

func (s *Shell) handleClearData(ctx context.Context, arg string) {
	var opts browser.ClearOptions
	if arg == "" || arg == "all" {
		opts = browser.ClearAll()
	} else {
		for _, what := range strings.Fields(strings.ReplaceAll(arg, ",", " ")) {
			switch what {
			case "history":
				opts.History = true
			case "bookmarks":
				opts.Bookmarks = true
			case "downloads":
				opts.Downloads = true
			case "cache":
				opts.Cache = true
			case "cookies":
				opts.Cookies = true
			default:
				s.io.SystemMessage("Usage: /clear-data [history|bookmarks|downloads|cache|cookies|all]")
				return
			}
		}
	}
	if err := s.b.ClearBrowsingData(ctx, opts); err != nil {
		s.io.Error(err.Error())
		return
	}
	s.io.SystemMessage("Browsing data cleared.")
}

// ---------- assistant ----------

// assist runs an AI panel request and shows the answer or the panel error.
func (s *Shell) assist(request func() error) {
	if !s.b.AssistantReady() {
		s.io.Error("AI assistant is not configured; run nabd init")
		return
	}
	s.io.ThinkingStart()
	err := request()
	s.io.ThinkingDone()

	st := s.b.Panel().State()
	switch {
	case errors.Is(err, assistant.ErrDiscarded):
		s.io.SystemMessage("The tab closed before the answer arrived.")
	case err != nil:
		msg := st.Error
		if msg == "" {
			msg = err.Error()
		}
		s.io.Error(msg)
	case len(st.Messages) > 0:
		s.io.Markdown(st.Messages[len(st.Messages)-1].Content)
	}
}

// ---------- formatting ----------

func statusFor(st tabs.State) Status {
	active, ok := st.Active()
	if !ok {
		return Status{}
	}
	return Status{
		Tabs:     st.Len(),
		Index:    st.ActiveIndex + 1,
		Title:    active.DisplayTitle(),
		URL:      active.URL,
		Private:  active.Private,
		Loading:  active.Loading,
		Progress: active.Progress,
		Desktop:  active.DesktopMode,
	}
}

func formatTabs(st tabs.State) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tabs (%d, %d private):\n", st.Len(), st.PrivateCount())
	for i, sess := range st.Sessions {
		mark := " "
		if i == st.ActiveIndex {
			mark = "*"
		}
		kind := ""
		if sess.Private {
			kind = " [private]"
		}
		fmt.Fprintf(&sb, "%s %d. %s%s  %s\n", mark, i+1, truncate(sess.DisplayTitle(), 50), kind, sess.URL)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatLinks(links []surface.Link) string {
	if len(links) == 0 {
		return "No links."
	}
	var sb strings.Builder
	for i, l := range links {
		text := l.Text
		if text == "" {
			text = l.URL
		}
		fmt.Fprintf(&sb, "%3d. %s  %s\n", i+1, truncate(text, 50), l.URL)
	}
	sb.WriteString("Use /follow <n> to open one.")
	return sb.String()
}

func formatConversation(st assistant.State) string {
	if len(st.Messages) == 0 {
		return "No conversation yet."
	}
	var sb strings.Builder
	for _, m := range st.Messages {
		who := "AI"
		if m.IsUser {
			who = "You"
		}
		fmt.Fprintf(&sb, "[%s] %s: %s\n", m.Timestamp.Format("15:04"), who, truncate(m.Content, 200))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatBookmarks renders a bookmark listing.
func FormatBookmarks(list []records.Bookmark) string {
	if len(list) == 0 {
		return "No bookmarks."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Bookmarks (%d):\n", len(list))
	for i, b := range list {
		if i >= listLimit {
			fmt.Fprintf(&sb, "  ... and %d more\n", len(list)-listLimit)
			break
		}
		fmt.Fprintf(&sb, "  %s  %s\n      %s\n", b.CreatedAt.Local().Format("2006-01-02"), truncate(b.Title, 60), b.URL)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatHistory renders a history listing.
func FormatHistory(list []records.HistoryEntry) string {
	if len(list) == 0 {
		return "No history."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "History (%d):\n", len(list))
	for i, h := range list {
		if i >= listLimit {
			fmt.Fprintf(&sb, "  ... and %d more\n", len(list)-listLimit)
			break
		}
		title := h.Title
		if title == "" {
			title = h.URL
		}
		fmt.Fprintf(&sb, "  %s  %dx  %s\n      %s\n",
			h.VisitedAt.Local().Format("2006-01-02 15:04"), h.VisitCount, truncate(title, 60), h.URL)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatDownloads renders a download listing.
func FormatDownloads(list []records.Download) string {
	if len(list) == 0 {
		return "No downloads."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Downloads (%d):\n", len(list))
	for i, d := range list {
		if i >= listLimit {
			fmt.Fprintf(&sb, "  ... and %d more\n", len(list)-listLimit)
			break
		}
		state := strings.ToLower(string(d.Status))
		switch {
		case d.Status == records.StatusDownloading && d.Progress() >= 0:
			state = fmt.Sprintf("%s %d%%", state, d.Progress())
		case d.Status == records.StatusFailed && d.Error != "":
			state += ": " + d.Error
		}
		name := d.FileName
		if name == "" {
			name = d.URL
		}
		fmt.Fprintf(&sb, "  %s  %s  [%s]\n", shortID(d.ID), truncate(name, 50), state)
		if d.Path != "" {
			fmt.Fprintf(&sb, "      %s\n", d.Path)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
