package surface

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

const indexHTML = `<!doctype html>
<html><head><title>Index Page</title><link rel="shortcut icon" href="/static/icon.png"></head>
<body><h1>Welcome</h1><p>Hello <b>world</b>.</p>
<script>var tracking = 1;</script>
<a href="/two">Second page</a> <a href="https://other.example/x">Other</a> <a href="#top">skip</a>
</body></html>`

const twoHTML = `<html><head><title>Two</title></head><body><p>Page two</p></body></html>`

func newTestSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, indexHTML)
	})
	mux.HandleFunc("/two", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, twoHTML)
	})
	mux.HandleFunc("/three", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "plain three")
	})
	mux.HandleFunc("/file.pdf", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 fake"))
	})
	mux.HandleFunc("/sniff", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/two", http.StatusFound)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/set-cookie", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc", Path: "/"})
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("/show-cookie", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		if c, err := r.Cookie("sid"); err == nil {
			fmt.Fprint(w, "cookie="+c.Value)
			return
		}
		fmt.Fprint(w, "cookie=none")
	})
	mux.HandleFunc("/ua", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, r.UserAgent())
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type recorder struct {
	mu        sync.Mutex
	urls      []string
	titles    []string
	icons     []string
	progress  []int
	nav       [][2]bool
	downloads []string
	errs      []error
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnProgress: func(p int) { r.mu.Lock(); r.progress = append(r.progress, p); r.mu.Unlock() },
		OnTitleChanged: func(t string) {
			r.mu.Lock()
			r.titles = append(r.titles, t)
			r.mu.Unlock()
		},
		OnIconChanged: func(i string) { r.mu.Lock(); r.icons = append(r.icons, i); r.mu.Unlock() },
		OnURLChanged:  func(u string) { r.mu.Lock(); r.urls = append(r.urls, u); r.mu.Unlock() },
		OnNavigationStateChanged: func(b, f bool) {
			r.mu.Lock()
			r.nav = append(r.nav, [2]bool{b, f})
			r.mu.Unlock()
		},
		OnDownload: func(u, mime string) {
			r.mu.Lock()
			r.downloads = append(r.downloads, u+" "+mime)
			r.mu.Unlock()
		},
		OnError: func(_ string, err error) { r.mu.Lock(); r.errs = append(r.errs, err); r.mu.Unlock() },
	}
}

func TestWebLoadParsesPage(t *testing.T) {
	srv := newTestSite(t)
	f := NewWebFactory(WebConfig{UserAgent: "nabd-test"}, nil)
	rec := &recorder{}
	s := f.New("s1", Options{}, rec.callbacks())
	ctx := context.Background()

	if err := s.Load(ctx, srv.URL+"/"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Title() != "Index Page" {
		t.Errorf("title = %q", s.Title())
	}
	text, err := s.Text(ctx)
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if !strings.Contains(text, "Welcome") || !strings.Contains(text, "**world**") {
		t.Errorf("markdown missing content: %q", text)
	}
	if strings.Contains(text, "tracking") {
		t.Errorf("script leaked into text: %q", text)
	}

	links := s.Links()
	if len(links) != 2 {
		t.Fatalf("links = %+v, want 2", links)
	}
	if links[0].URL != srv.URL+"/two" || links[0].Text != "Second page" {
		t.Errorf("first link = %+v", links[0])
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.titles) != 1 || rec.titles[0] != "Index Page" {
		t.Errorf("title callbacks = %v", rec.titles)
	}
	if len(rec.icons) != 1 || rec.icons[0] != srv.URL+"/static/icon.png" {
		t.Errorf("icon callbacks = %v", rec.icons)
	}
	if rec.progress[len(rec.progress)-1] != 100 {
		t.Errorf("last progress = %d, want 100", rec.progress[len(rec.progress)-1])
	}
}

func TestWebHistoryNavigation(t *testing.T) {
	srv := newTestSite(t)
	f := NewWebFactory(WebConfig{}, nil)
	rec := &recorder{}
	s := f.New("s1", Options{}, rec.callbacks())
	ctx := context.Background()

	for _, p := range []string{"/", "/two", "/three"} {
		if err := s.Load(ctx, srv.URL+p); err != nil {
			t.Fatalf("Load %s: %v", p, err)
		}
	}
	if !s.CanGoBack() || s.CanGoForward() {
		t.Fatalf("after 3 loads: back=%v forward=%v", s.CanGoBack(), s.CanGoForward())
	}

	if err := s.GoBack(ctx); err != nil {
		t.Fatalf("GoBack: %v", err)
	}
	if s.URL() != srv.URL+"/two" {
		t.Errorf("after back URL = %q", s.URL())
	}
	if !s.CanGoForward() {
		t.Error("expected forward available after back")
	}

	if err := s.GoForward(ctx); err != nil {
		t.Fatalf("GoForward: %v", err)
	}
	if s.URL() != srv.URL+"/three" {
		t.Errorf("after forward URL = %q", s.URL())
	}

	// A new load after going back drops the forward entries.
	s.GoBack(ctx)
	s.GoBack(ctx)
	if err := s.Load(ctx, srv.URL+"/three"); err != nil {
		t.Fatal(err)
	}
	if s.CanGoForward() {
		t.Error("forward history should be truncated")
	}

	rec.mu.Lock()
	last := rec.nav[len(rec.nav)-1]
	rec.mu.Unlock()
	if last != [2]bool{true, false} {
		t.Errorf("last nav state = %v", last)
	}
}

func TestWebRedirectReportsFinalURL(t *testing.T) {
	srv := newTestSite(t)
	f := NewWebFactory(WebConfig{}, nil)
	rec := &recorder{}
	s := f.New("s1", Options{}, rec.callbacks())

	if err := s.Load(context.Background(), srv.URL+"/redirect"); err != nil {
		t.Fatal(err)
	}
	if s.URL() != srv.URL+"/two" {
		t.Errorf("URL = %q, want redirect target", s.URL())
	}
}

func TestWebNonPageHandsOffToDownload(t *testing.T) {
	srv := newTestSite(t)
	f := NewWebFactory(WebConfig{}, nil)
	rec := &recorder{}
	s := f.New("s1", Options{}, rec.callbacks())
	ctx := context.Background()

	if err := s.Load(ctx, srv.URL+"/file.pdf"); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(ctx, srv.URL+"/sniff"); err != nil {
		t.Fatal(err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.downloads) != 2 {
		t.Fatalf("downloads = %v", rec.downloads)
	}
	if rec.downloads[0] != srv.URL+"/file.pdf application/pdf" {
		t.Errorf("download[0] = %q", rec.downloads[0])
	}
	if !strings.HasSuffix(rec.downloads[1], "image/png") {
		t.Errorf("sniffed download = %q", rec.downloads[1])
	}
	if s.CanGoBack() || s.URL() != "" {
		t.Error("downloads must not enter history")
	}
}

func TestWebErrors(t *testing.T) {
	srv := newTestSite(t)
	f := NewWebFactory(WebConfig{}, nil)
	rec := &recorder{}
	s := f.New("s1", Options{}, rec.callbacks())
	ctx := context.Background()

	if err := s.Load(ctx, srv.URL+"/missing"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("404 err = %v", err)
	}
	if err := s.Load(ctx, "ftp://example.com/x"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Errorf("ftp err = %v", err)
	}
	rec.mu.Lock()
	n := len(rec.errs)
	rec.mu.Unlock()
	if n != 2 {
		t.Errorf("error callbacks = %d, want 2", n)
	}
}

func TestWebBlankPage(t *testing.T) {
	f := NewWebFactory(WebConfig{}, nil)
	s := f.New("s1", Options{}, Callbacks{})
	if err := s.Load(context.Background(), BlankURL); err != nil {
		t.Fatal(err)
	}
	if s.URL() != BlankURL {
		t.Errorf("URL = %q", s.URL())
	}
}

func TestWebCacheOnlyForNormalSessions(t *testing.T) {
	srv := newTestSite(t)
	f := NewWebFactory(WebConfig{}, nil)
	ctx := context.Background()

	normal := f.New("n", Options{}, Callbacks{})
	if err := normal.Load(ctx, srv.URL+"/two"); err != nil {
		t.Fatal(err)
	}
	if f.CachedPages() != 1 {
		t.Errorf("cached pages = %d, want 1", f.CachedPages())
	}

	private := f.New("p", Options{Private: true}, Callbacks{})
	if err := private.Load(ctx, srv.URL+"/three"); err != nil {
		t.Fatal(err)
	}
	if f.CachedPages() != 1 {
		t.Errorf("private load was cached: %d pages", f.CachedPages())
	}

	f.ClearCache()
	if f.CachedPages() != 0 {
		t.Error("ClearCache left pages behind")
	}
}

func TestWebPrivateCookiesIsolatedAndErased(t *testing.T) {
	srv := newTestSite(t)
	f := NewWebFactory(WebConfig{}, nil)
	ctx := context.Background()

	private := f.New("p", Options{Private: true}, Callbacks{})
	normal := f.New("n", Options{}, Callbacks{})

	if err := private.Load(ctx, srv.URL+"/set-cookie"); err != nil {
		t.Fatal(err)
	}
	if err := private.Load(ctx, srv.URL+"/show-cookie"); err != nil {
		t.Fatal(err)
	}
	if text, _ := private.Text(ctx); text != "cookie=abc" {
		t.Errorf("private cookie = %q", text)
	}

	if err := normal.Load(ctx, srv.URL+"/show-cookie"); err != nil {
		t.Fatal(err)
	}
	if text, _ := normal.Text(ctx); text != "cookie=none" {
		t.Errorf("normal session saw private cookie: %q", text)
	}

	f.EraseAll()
	if private.CanGoBack() || private.URL() != "" {
		t.Error("EraseAll kept private history")
	}
	if err := private.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if err := private.Load(ctx, srv.URL+"/show-cookie"); err != nil {
		t.Fatal(err)
	}
	if text, _ := private.Text(ctx); text != "cookie=none" {
		t.Errorf("cookie survived erase: %q", text)
	}
}

func TestWebUserAgent(t *testing.T) {
	srv := newTestSite(t)
	f := NewWebFactory(WebConfig{UserAgent: "mobile-agent"}, nil)
	s := f.New("s", Options{}, Callbacks{})
	ctx := context.Background()

	s.Load(ctx, srv.URL+"/ua")
	if text, _ := s.Text(ctx); text != "mobile-agent" {
		t.Errorf("ua = %q", text)
	}

	s.SetUserAgent("desktop-agent")
	if err := s.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if text, _ := s.Text(ctx); text != "desktop-agent" {
		t.Errorf("ua after switch = %q", text)
	}
}

func TestWebDisposeCancelsLoadAndReadback(t *testing.T) {
	srv := newTestSite(t)
	f := NewWebFactory(WebConfig{}, nil)
	s := f.New("s", Options{}, Callbacks{})

	loadErr := make(chan error, 1)
	go func() { loadErr <- s.Load(context.Background(), srv.URL+"/slow") }()

	// Wait for the load to be in flight.
	deadline := time.Now().Add(2 * time.Second)
	for {
		ws := s.(*webSurface)
		ws.mu.Lock()
		inFlight := ws.done != nil
		ws.mu.Unlock()
		if inFlight {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("load never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	textErr := make(chan error, 1)
	go func() {
		_, err := s.Text(context.Background())
		textErr <- err
	}()

	s.Dispose()

	select {
	case err := <-loadErr:
		if !errors.Is(err, ErrDisposed) {
			t.Errorf("load err = %v, want ErrDisposed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("load not cancelled by dispose")
	}
	select {
	case err := <-textErr:
		if !errors.Is(err, ErrDisposed) {
			t.Errorf("text err = %v, want ErrDisposed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("readback not cancelled by dispose")
	}

	if err := s.Load(context.Background(), srv.URL+"/"); !errors.Is(err, ErrDisposed) {
		t.Errorf("load after dispose = %v", err)
	}
	if f.LiveCount() != 0 {
		t.Errorf("live surfaces = %d", f.LiveCount())
	}
}

func TestWebStop(t *testing.T) {
	srv := newTestSite(t)
	f := NewWebFactory(WebConfig{}, nil)
	s := f.New("s", Options{}, Callbacks{})

	loadErr := make(chan error, 1)
	go func() { loadErr <- s.Load(context.Background(), srv.URL+"/slow") }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		ws := s.(*webSurface)
		ws.mu.Lock()
		inFlight := ws.cancel != nil
		ws.mu.Unlock()
		if inFlight {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("load never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	select {
	case err := <-loadErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("load err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not cancel the load")
	}
}
