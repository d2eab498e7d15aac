// Package browser wires the session store, render surfaces, persistent
// records, downloads and the AI panel into one explicit context.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/atotto/clipboard"
	"go.uber.org/zap"

	"github.com/nabd-browser/nabd/internal/assistant"
	"github.com/nabd-browser/nabd/internal/config"
	"github.com/nabd-browser/nabd/internal/download"
	"github.com/nabd-browser/nabd/internal/privacy"
	"github.com/nabd-browser/nabd/internal/provider"
	"github.com/nabd-browser/nabd/internal/records"
	"github.com/nabd-browser/nabd/internal/surface"
	"github.com/nabd-browser/nabd/internal/tabs"
)

// Option configures a Browser.
type Option func(*Browser)

// WithProvider attaches the LLM used by the AI panel.
func WithProvider(p provider.Provider) Option { return func(b *Browser) { b.provider = p } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Browser) {
		if l != nil {
			b.log = l
		}
	}
}

// WithNotifier receives short messages for the user: failed loads,
// finished downloads.
func WithNotifier(fn func(msg string)) Option { return func(b *Browser) { b.notify = fn } }

// WithClipboard replaces the system clipboard writer.
func WithClipboard(fn func(text string) error) Option { return func(b *Browser) { b.copy = fn } }

// WithFactory replaces the headless web surface factory.
func WithFactory(f surface.Factory) Option { return func(b *Browser) { b.factory = f } }

// Browser is the dependency context every front end works through.
type Browser struct {
	cfg      *config.Config
	log      *zap.Logger
	provider provider.Provider
	notify   func(string)
	copy     func(string) error

	factory   surface.Factory
	web       *surface.WebFactory
	tabs      *tabs.Store
	privacy   *privacy.Coordinator
	binding   *surface.Binding
	records   *records.Store
	downloads *download.Manager
	client    *assistant.Client
	panel     *assistant.Panel

	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	unsubscribe func()

	mu      sync.Mutex
	started map[string]bool // sessions whose first load was issued
	known   map[string]bool
	closed  bool
}

// New opens the record store and builds every component from cfg. The
// first session starts loading the home page.
func New(cfg *config.Config, opts ...Option) (*Browser, error) {
	b := &Browser{
		cfg:     cfg,
		log:     zap.NewNop(),
		notify:  func(string) {},
		copy:    clipboard.WriteAll,
		started: make(map[string]bool),
		known:   make(map[string]bool),
	}
	for _, o := range opts {
		o(b)
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())

	rec, err := records.Open(cfg.DatabasePath(), b.log.Named("records"))
	if err != nil {
		return nil, fmt.Errorf("open records: %w", err)
	}
	b.records = rec

	var erasers privacy.Erasers
	if b.factory == nil {
		b.web = surface.NewWebFactory(surface.WebConfig{UserAgent: cfg.UserAgent}, b.log.Named("surface"))
		b.factory = b.web
		erasers = append(erasers, b.web)
	} else if e, ok := b.factory.(privacy.Eraser); ok {
		erasers = append(erasers, e)
	}
	b.privacy = privacy.NewCoordinator(erasers, b.log.Named("privacy"))

	b.binding = surface.NewBinding(b.factory,
		surface.WithCallbacks(b.callbacks),
		surface.WithAttachHook(b.attached),
		surface.WithUserAgent(cfg.UserAgent),
		surface.WithStrict(cfg.StrictSurfaces),
		surface.WithBindingLogger(b.log.Named("binding")),
	)
	b.tabs = tabs.NewStore(
		tabs.WithHomeURL(cfg.HomeURL),
		tabs.WithReleaser(b.binding),
		tabs.WithPrivacy(b.privacy),
		tabs.WithLogger(b.log.Named("tabs")),
	)
	b.binding.SetSessions(b.tabs)

	b.downloads = download.NewManager(download.Config{
		Dir:       cfg.DownloadDir,
		UserAgent: cfg.UserAgent,
	}, rec, b.log.Named("download"))
	b.downloads.OnComplete(b.downloadFinished)

	b.client = assistant.NewClient(b.provider, "", cfg.Assistant.MaxTokens, b.log.Named("assistant"))
	b.panel = assistant.NewPanel(b.client,
		assistant.WithLimits(assistant.Limits{
			Page:     cfg.Assistant.PageLimit,
			Context:  cfg.Assistant.ContextLimit,
			Question: cfg.Assistant.QuestionLimit,
			History:  cfg.Assistant.HistoryMessages,
		}),
		assistant.WithLanguage(cfg.Assistant.Language),
		assistant.WithSessionCheck(func(id string) bool {
			_, ok := b.tabs.Session(id)
			return ok
		}),
		assistant.WithPanelLogger(b.log.Named("panel")),
	)

	b.unsubscribe = b.tabs.Subscribe(b.stateChanged)
	return b, nil
}

func (b *Browser) Config() *config.Config          { return b.cfg }
func (b *Browser) Tabs() *tabs.Store               { return b.tabs }
func (b *Browser) Records() *records.Store         { return b.records }
func (b *Browser) Downloads() *download.Manager    { return b.downloads }
func (b *Browser) Panel() *assistant.Panel         { return b.panel }
func (b *Browser) Privacy() *privacy.Coordinator   { return b.privacy }
func (b *Browser) Binding() *surface.Binding       { return b.binding }
func (b *Browser) AssistantReady() bool            { return b.client.Configured() }
func (b *Browser) Logger() *zap.Logger             { return b.log }
func (b *Browser) WebFactory() *surface.WebFactory { return b.web }

// Close disposes every surface, erases private data, stops downloads and
// closes the record store.
func (b *Browser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.tabs.CloseAllSessions(false)
	b.unsubscribe()
	b.cancel()
	b.wg.Wait()

	err := b.downloads.Close()
	if cerr := b.records.Close(); err == nil {
		err = cerr
	}
	return err
}

// stateChanged keeps the active session bound and forgets closed ones.
func (b *Browser) stateChanged(st tabs.State) {
	open := make(map[string]bool, len(st.Sessions))
	for _, s := range st.Sessions {
		open[s.ID] = true
	}

	b.mu.Lock()
	var gone []string
	for id := range b.known {
		if !open[id] {
			gone = append(gone, id)
			delete(b.started, id)
		}
	}
	b.known = open
	closed := b.closed
	b.mu.Unlock()

	for _, id := range gone {
		b.panel.DropSession(id)
	}
	if !closed {
		b.binding.Follow(st)
	}
}

// claim marks the first load of a session as issued and reports whether
// the caller won it.
func (b *Browser) claim(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started[sessionID] {
		return false
	}
	b.started[sessionID] = true
	return true
}

// attached starts the first load of a freshly bound surface unless a
// navigation already claimed it.
func (b *Browser) attached(sessionID string, s surface.Surface) {
	if !b.claim(sessionID) {
		return
	}
	sess, ok := b.tabs.Session(sessionID)
	if !ok {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := s.Load(b.ctx, sess.URL); err != nil && !isQuiet(err) {
			b.log.Debug("initial load", zap.String("session_id", sessionID), zap.Error(err))
		}
	}()
}

// callbacks routes surface reports for sessionID into the store and the
// history.
func (b *Browser) callbacks(sessionID string) surface.Callbacks {
	sess, _ := b.tabs.Session(sessionID)
	private := sess.Private
	log := b.log.With(zap.String("session_id", sessionID))

	return surface.Callbacks{
		OnProgress: func(pct int) {
			b.tabs.Update(sessionID, func(s tabs.Session) tabs.Session {
				s.Progress = pct
				s.Loading = pct < 100
				return s
			})
		},
		OnURLChanged: func(u string) {
			b.tabs.Update(sessionID, func(s tabs.Session) tabs.Session {
				s.URL = u
				return s
			})
			if private || u == surface.BlankURL {
				return
			}
			if _, err := b.records.RecordVisit(b.ctx, u, "", ""); err != nil {
				log.Warn("record visit", zap.String("url", u), zap.Error(err))
			}
		},
		OnTitleChanged: func(title string) {
			if title == "" {
				return
			}
			var current string
			b.tabs.Update(sessionID, func(s tabs.Session) tabs.Session {
				s.Title = title
				current = s.URL
				return s
			})
			if private || current == "" || current == surface.BlankURL {
				return
			}
			if err := b.records.UpdateHistoryTitle(b.ctx, current, title); err != nil && !errors.Is(err, records.ErrNotFound) {
				log.Warn("update history title", zap.Error(err))
			}
		},
		OnIconChanged: func(icon string) {
			b.tabs.Update(sessionID, func(s tabs.Session) tabs.Session {
				s.Icon = icon
				return s
			})
		},
		OnNavigationStateChanged: func(back, forward bool) {
			b.tabs.Update(sessionID, func(s tabs.Session) tabs.Session {
				s.CanGoBack = back
				s.CanGoForward = forward
				return s
			})
		},
		OnDownload: func(u, mimeType string) {
			// The page stays where it was.
			if b.binding.StateOf(sessionID) != surface.Bound {
				return
			}
			if s, _ := b.binding.Lookup(sessionID); s != nil {
				if shown := s.URL(); shown != "" {
					b.tabs.Update(sessionID, func(t tabs.Session) tabs.Session {
						t.URL = shown
						return t
					})
				}
			}
			id, err := b.downloads.Submit(b.ctx, u, mimeType)
			if err != nil {
				log.Warn("start download", zap.String("url", u), zap.Error(err))
				b.notify("Download failed: " + u)
				return
			}
			log.Info("download started", zap.String("download_id", id), zap.String("url", u))
			b.notify("Downloading " + u)
		},
		OnError: func(u string, err error) {
			b.tabs.Update(sessionID, func(s tabs.Session) tabs.Session {
				s.Loading = false
				return s
			})
			b.notify(fmt.Sprintf("Could not load %s: %v", u, err))
		},
	}
}

func (b *Browser) downloadFinished(ev download.Event) {
	switch ev.Status {
	case records.StatusCompleted:
		b.notify("Downloaded " + ev.FileName + " to " + ev.Path)
	case records.StatusFailed:
		b.notify("Download of " + ev.FileName + " failed: " + ev.Error)
	}
}

func isQuiet(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, surface.ErrDisposed)
}
