package surface

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const (
	// BlankURL loads nothing.
	BlankURL = "about:blank"

	defaultTimeout     = 30 * time.Second
	defaultCacheTTL    = 15 * time.Minute
	defaultMaxBodySize = 5 * 1024 * 1024
	sniffSize          = 3072
)

// WebConfig configures the headless web surface.
type WebConfig struct {
	UserAgent   string
	Timeout     time.Duration
	CacheTTL    time.Duration
	MaxBodySize int64
}

// WebFactory creates headless HTTP surfaces. Normal surfaces share one
// cookie jar and a page cache; private surfaces share a separate jar and
// never cache. The factory is the privacy eraser for private state.
type WebFactory struct {
	cfg        WebConfig
	normalJar  *resettableJar
	privateJar *resettableJar
	pages      *cache.Cache
	log        *zap.Logger

	mu   sync.Mutex
	live map[string]*webSurface
}

// NewWebFactory creates a factory with zero fields of cfg defaulted.
func NewWebFactory(cfg WebConfig, logger *zap.Logger) *WebFactory {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = defaultMaxBodySize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebFactory{
		cfg:        cfg,
		normalJar:  newResettableJar(),
		privateJar: newResettableJar(),
		pages:      cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		log:        logger,
		live:       make(map[string]*webSurface),
	}
}

// New creates a surface for sessionID.
func (f *WebFactory) New(sessionID string, opts Options, cb Callbacks) Surface {
	jar := f.normalJar
	pages := f.pages
	if opts.Private {
		jar = f.privateJar
		pages = nil
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = f.cfg.UserAgent
	}

	client := resty.New().
		SetLogger(f.log.Sugar()).
		SetCookieJar(jar).
		SetTimeout(f.cfg.Timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
		SetHeader("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	life, kill := context.WithCancel(context.Background())
	s := &webSurface{
		id:      sessionID,
		private: opts.Private,
		client:  client,
		pages:   pages,
		cb:      cb,
		ua:      ua,
		maxBody: f.cfg.MaxBodySize,
		pos:     -1,
		life:    life,
		kill:    kill,
		log:     f.log.With(zap.String("session_id", sessionID)),
	}
	s.onDispose = func() {
		f.mu.Lock()
		delete(f.live, sessionID)
		f.mu.Unlock()
	}

	f.mu.Lock()
	f.live[sessionID] = s
	f.mu.Unlock()
	return s
}

// EraseAll drops private cookies and the history and page of every
// private surface still alive.
func (f *WebFactory) EraseAll() {
	f.privateJar.Reset()
	f.mu.Lock()
	var private []*webSurface
	for _, s := range f.live {
		if s.private {
			private = append(private, s)
		}
	}
	f.mu.Unlock()
	for _, s := range private {
		s.forget()
	}
	f.log.Debug("private surface data erased", zap.Int("live_private", len(private)))
}

// ClearCookies drops the cookies of normal sessions.
func (f *WebFactory) ClearCookies() { f.normalJar.Reset() }

// ClearCache drops every cached page.
func (f *WebFactory) ClearCache() { f.pages.Flush() }

// CachedPages returns the number of cached pages.
func (f *WebFactory) CachedPages() int { return f.pages.ItemCount() }

// LiveCount returns the number of undisposed surfaces.
func (f *WebFactory) LiveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

type navMode int

const (
	navPush navMode = iota
	navBack
	navForward
	navReload
)

type webSurface struct {
	id      string
	private bool
	client  *resty.Client
	pages   *cache.Cache
	cb      Callbacks
	maxBody int64
	log     *zap.Logger

	life      context.Context
	kill      context.CancelFunc
	onDispose func()

	mu       sync.Mutex
	ua       string
	history  []string
	pos      int
	current  *page
	cancel   context.CancelFunc
	done     chan struct{}
	gen      uint64
	disposed bool
}

func (s *webSurface) Load(ctx context.Context, target string) error {
	return s.navigate(ctx, target, navPush, -1)
}

func (s *webSurface) GoBack(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.pos <= 0 {
		s.mu.Unlock()
		return nil
	}
	idx := s.pos - 1
	target := s.history[idx]
	s.mu.Unlock()
	return s.navigate(ctx, target, navBack, idx)
}

func (s *webSurface) GoForward(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.pos < 0 || s.pos >= len(s.history)-1 {
		s.mu.Unlock()
		return nil
	}
	idx := s.pos + 1
	target := s.history[idx]
	s.mu.Unlock()
	return s.navigate(ctx, target, navForward, idx)
}

func (s *webSurface) Reload(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.pos < 0 {
		s.mu.Unlock()
		return nil
	}
	idx := s.pos
	target := s.history[idx]
	s.mu.Unlock()
	return s.navigate(ctx, target, navReload, idx)
}

func (s *webSurface) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *webSurface) CanGoBack() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos > 0
}

func (s *webSurface) CanGoForward() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos >= 0 && s.pos < len(s.history)-1
}

func (s *webSurface) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.URL
}

func (s *webSurface) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.Title
}

func (s *webSurface) Links() []Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return append([]Link(nil), s.current.Links...)
}

func (s *webSurface) Text(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return "", ErrDisposed
	}
	done := s.done
	s.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return "", ctx.Err()
		case <-s.life.Done():
			return "", ErrDisposed
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return "", ErrDisposed
	}
	if s.current == nil {
		return "", nil
	}
	return s.current.Markdown, nil
}

func (s *webSurface) SetUserAgent(ua string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ua = ua
}

func (s *webSurface) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.history = nil
	s.pos = -1
	s.current = nil
	s.mu.Unlock()

	s.kill()
	if s.onDispose != nil {
		s.onDispose()
	}
}

// forget clears navigation history and the current page.
func (s *webSurface) forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.pos = -1
	s.current = nil
}

func (s *webSurface) navigate(ctx context.Context, target string, mode navMode, idx int) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.cancel != nil {
		s.cancel()
	}
	loadCtx, cancel := context.WithCancel(ctx)
	stopWithSurface := context.AfterFunc(s.life, cancel)
	done := make(chan struct{})
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.done = done
	ua := s.ua
	s.mu.Unlock()

	defer func() {
		stopWithSurface()
		cancel()
		s.mu.Lock()
		if s.gen == gen {
			s.cancel = nil
			s.done = nil
		}
		s.mu.Unlock()
		close(done)
	}()

	s.progress(10)
	p, handoff, err := s.fetch(loadCtx, target, ua, mode != navReload)
	if err != nil {
		if loadCtx.Err() != nil {
			s.log.Debug("load cancelled", zap.String("url", target))
			s.progress(100)
			if s.life.Err() != nil {
				return ErrDisposed
			}
			return loadCtx.Err()
		}
		s.log.Warn("load failed", zap.String("url", target), zap.Error(err))
		s.progress(100)
		if s.cb.OnError != nil && s.alive() {
			s.cb.OnError(target, err)
		}
		return err
	}
	if handoff != nil {
		s.progress(100)
		if s.cb.OnDownload != nil && s.alive() {
			s.cb.OnDownload(handoff.url, handoff.mime)
		}
		return nil
	}

	s.mu.Lock()
	if s.disposed || s.gen != gen {
		// Superseded by a newer navigation or closed.
		s.mu.Unlock()
		return nil
	}
	if mode != navPush && (idx < 0 || idx >= len(s.history)) {
		// History was erased while loading.
		mode = navPush
	}
	switch mode {
	case navPush:
		s.history = append(s.history[:s.pos+1], p.URL)
		s.pos = len(s.history) - 1
	case navBack, navForward, navReload:
		s.pos = idx
		s.history[idx] = p.URL
	}
	s.current = p
	canBack := s.pos > 0
	canForward := s.pos < len(s.history)-1
	s.mu.Unlock()

	if s.cb.OnURLChanged != nil {
		s.cb.OnURLChanged(p.URL)
	}
	if s.cb.OnTitleChanged != nil {
		s.cb.OnTitleChanged(p.Title)
	}
	if s.cb.OnIconChanged != nil && p.Icon != "" {
		s.cb.OnIconChanged(p.Icon)
	}
	if s.cb.OnNavigationStateChanged != nil {
		s.cb.OnNavigationStateChanged(canBack, canForward)
	}
	s.progress(100)
	return nil
}

type handoff struct {
	url  string
	mime string
}

func (s *webSurface) fetch(ctx context.Context, target, ua string, useCache bool) (*page, *handoff, error) {
	if target == BlankURL {
		return &page{URL: BlankURL}, nil, nil
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid address %q: %w", target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, nil, fmt.Errorf("%s: %w", u.Scheme, ErrUnsupportedScheme)
	}

	if useCache && s.pages != nil {
		if v, ok := s.pages.Get(target); ok {
			s.log.Debug("page cache hit", zap.String("url", target))
			return v.(*page), nil, nil
		}
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("User-Agent", ua).
		SetDoNotParseResponse(true).
		Get(target)
	if err != nil {
		return nil, nil, err
	}
	body := resp.RawBody()
	defer body.Close()

	final := target
	if resp.RawResponse != nil && resp.RawResponse.Request != nil {
		final = resp.RawResponse.Request.URL.String()
	}
	if resp.StatusCode() >= 400 {
		return nil, nil, fmt.Errorf("HTTP %d %s", resp.StatusCode(), http.StatusText(resp.StatusCode()))
	}
	s.progress(50)

	head := make([]byte, sniffSize)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, nil, err
	}
	head = head[:n]

	ctype := resp.Header().Get("Content-Type")
	if ctype == "" || strings.HasPrefix(ctype, "application/octet-stream") {
		ctype = mimetype.Detect(head).String()
	}
	if !isPageType(ctype) {
		return nil, &handoff{url: final, mime: ctype}, nil
	}

	rest, err := io.ReadAll(io.LimitReader(body, s.maxBody))
	if err != nil {
		return nil, nil, err
	}
	data := append(head, rest...)
	s.progress(80)

	var p *page
	if isHTMLType(ctype) {
		p, err = parseHTML(final, data)
		if err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", final, err)
		}
	} else {
		p = plainPage(final, data)
	}

	if s.pages != nil {
		s.pages.SetDefault(target, p)
		if final != target {
			s.pages.SetDefault(final, p)
		}
	}
	return p, nil, nil
}

func (s *webSurface) alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disposed
}

func (s *webSurface) progress(pct int) {
	if s.cb.OnProgress != nil && s.alive() {
		s.cb.OnProgress(pct)
	}
}

// resettableJar is a cookie jar that can be emptied in place, so surfaces
// holding it see the reset.
type resettableJar struct {
	mu  sync.RWMutex
	jar http.CookieJar
}

func newResettableJar() *resettableJar {
	j := &resettableJar{}
	j.Reset()
	return j
}

func (j *resettableJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.jar.SetCookies(u, cookies)
}

func (j *resettableJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar.Cookies(u)
}

// Reset replaces the jar with an empty one.
func (j *resettableJar) Reset() {
	jar, _ := cookiejar.New(nil)
	j.mu.Lock()
	j.jar = jar
	j.mu.Unlock()
}
