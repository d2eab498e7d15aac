package surface

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nabd-browser/nabd/internal/tabs"
)

type fakeSurface struct {
	mu       sync.Mutex
	id       string
	opts     Options
	disposed bool
}

func (f *fakeSurface) Load(context.Context, string) error { return nil }
func (f *fakeSurface) GoBack(context.Context) error       { return nil }
func (f *fakeSurface) GoForward(context.Context) error    { return nil }
func (f *fakeSurface) Reload(context.Context) error       { return nil }
func (f *fakeSurface) Stop()                              {}
func (f *fakeSurface) CanGoBack() bool                    { return false }
func (f *fakeSurface) CanGoForward() bool                 { return false }
func (f *fakeSurface) URL() string                        { return "" }
func (f *fakeSurface) Title() string                      { return "" }
func (f *fakeSurface) Links() []Link                      { return nil }
func (f *fakeSurface) SetUserAgent(string)                {}
func (f *fakeSurface) Text(context.Context) (string, error) {
	return "", nil
}

func (f *fakeSurface) Dispose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disposed = true
}

func (f *fakeSurface) isDisposed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disposed
}

type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeSurface
}

func (f *fakeFactory) New(id string, opts Options, _ Callbacks) Surface {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSurface{id: id, opts: opts}
	f.created = append(f.created, s)
	return s
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// newWired builds a store and binding wired the way the browser wires them.
func newWired(t *testing.T, opts ...BindingOption) (*tabs.Store, *Binding, *fakeFactory) {
	t.Helper()
	f := &fakeFactory{}
	b := NewBinding(f, opts...)
	s := tabs.NewStore(tabs.WithReleaser(b))
	b.SetSessions(s)
	return s, b, f
}

func TestBindIsIdempotent(t *testing.T) {
	s, b, f := newWired(t)
	id := s.Active().ID

	first, err := b.Bind(id)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	second, err := b.Bind(id)
	if err != nil {
		t.Fatalf("Bind again: %v", err)
	}
	if first != second {
		t.Error("Bind returned a different surface for the same session")
	}
	if f.count() != 1 {
		t.Errorf("factory created %d surfaces, want 1", f.count())
	}
	if got := b.StateOf(id); got != Bound {
		t.Errorf("state = %v, want BOUND", got)
	}
}

func TestBindUsesPrivateFlag(t *testing.T) {
	s, b, _ := newWired(t, WithUserAgent("test-agent"))
	id := s.CreateSession("", true)

	sf, err := b.Bind(id)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	fs := sf.(*fakeSurface)
	if !fs.opts.Private {
		t.Error("private session got a non-private surface")
	}
	if fs.opts.UserAgent != "test-agent" {
		t.Errorf("user agent = %q", fs.opts.UserAgent)
	}
}

func TestBindUnknownSession(t *testing.T) {
	_, b, _ := newWired(t)
	if _, err := b.Bind("missing"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("err = %v, want ErrUnknownSession", err)
	}
}

func TestCloseDisposesSurface(t *testing.T) {
	s, b, _ := newWired(t)
	id := s.CreateSession("", false)
	sf, _ := b.Bind(id)

	s.CloseSession(id)

	if !sf.(*fakeSurface).isDisposed() {
		t.Error("surface not disposed on close")
	}
	if got := b.StateOf(id); got != Disposed {
		t.Errorf("state = %v, want DISPOSED", got)
	}
	if _, err := b.Bind(id); !errors.Is(err, ErrDisposed) {
		t.Errorf("Bind after close: err = %v, want ErrDisposed", err)
	}
}

func TestUnbindNeverBoundIsTerminal(t *testing.T) {
	s, b, f := newWired(t)
	id := s.CreateSession("", false)
	s.CloseSession(id)

	if got := b.StateOf(id); got != Disposed {
		t.Errorf("state = %v, want DISPOSED", got)
	}
	if f.count() != 0 {
		t.Errorf("factory created %d surfaces, want 0", f.count())
	}
}

func TestStrictModePanicsOnDisposedAccess(t *testing.T) {
	s, b, _ := newWired(t, WithStrict(true))
	id := s.CreateSession("", false)
	s.CloseSession(id)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic in strict mode")
		}
		if err, ok := r.(error); !ok || !errors.Is(err, ErrDisposed) {
			t.Errorf("panic value = %v, want ErrDisposed", r)
		}
	}()
	b.Bind(id)
}

func TestCurrentFollowsActiveSession(t *testing.T) {
	s, b, _ := newWired(t)
	if _, ok := b.Current(); ok {
		t.Fatal("Current before any bind should be empty")
	}

	cancel := s.Subscribe(b.Follow)
	defer cancel()

	first := s.Active().ID
	cur, ok := b.Current()
	if !ok {
		t.Fatal("Follow did not bind the active session")
	}

	s.CreateSession("", false)
	cur2, ok := b.Current()
	if !ok || cur2 == cur {
		t.Fatal("Current did not switch to the new session")
	}

	s.SelectByID(first)
	cur3, _ := b.Current()
	if cur3 != cur {
		t.Error("switching back returned a different surface")
	}
}

// Never more bound surfaces than open sessions, whatever the sequence.
func TestBoundNeverExceedsSessions(t *testing.T) {
	s, b, _ := newWired(t)
	cancel := s.Subscribe(b.Follow)
	defer cancel()

	ops := []func(){
		func() { s.CreateSession("", false) },
		func() { s.CreateSession("", true) },
		func() { s.SelectSession(0) },
		func() { s.CloseSession(s.Active().ID) },
		func() { s.CreateSession("", false) },
		func() { s.CloseAllSessions(true) },
		func() { s.CreateSession("", true) },
		func() { s.CloseAllSessions(false) },
		func() { s.CloseSession(s.Active().ID) },
	}
	for i, op := range ops {
		op()
		if got, n := b.BoundCount(), s.State().Len(); got > n {
			t.Fatalf("step %d: %d bound surfaces for %d sessions", i, got, n)
		}
	}
}

func TestLookup(t *testing.T) {
	s, b, _ := newWired(t)
	id := s.Active().ID

	sf, err := b.Lookup(id)
	if err != nil || sf != nil {
		t.Fatalf("Lookup unbound = %v, %v", sf, err)
	}
	bound, _ := b.Bind(id)
	if sf, _ := b.Lookup(id); sf != bound {
		t.Error("Lookup did not return the bound surface")
	}
}

func TestStateString(t *testing.T) {
	for st, want := range map[State]string{Unbound: "UNBOUND", Bound: "BOUND", Disposed: "DISPOSED"} {
		if st.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(st), st.String(), want)
		}
	}
}

func TestDisposedEntriesArePruned(t *testing.T) {
	s, b, _ := newWired(t)
	var closed []string
	for i := 0; i < maxDisposed+10; i++ {
		id := s.CreateSession("", false)
		if _, err := b.Bind(id); err != nil {
			t.Fatalf("bind: %v", err)
		}
		s.CloseSession(id)
		closed = append(closed, id)
	}

	b.mu.Lock()
	n := len(b.entries)
	b.mu.Unlock()
	// Retained tombstones plus the live default session.
	if n > maxDisposed+1 {
		t.Errorf("entries = %d, want at most %d", n, maxDisposed+1)
	}
	if got := b.StateOf(closed[len(closed)-1]); got != Disposed {
		t.Errorf("newest closed state = %v, want DISPOSED", got)
	}
	oldest := closed[0]
	if got := b.StateOf(oldest); got != Unbound {
		t.Errorf("oldest closed state = %v, want UNBOUND", got)
	}
	if _, err := b.Bind(oldest); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("bind pruned session: err = %v, want ErrUnknownSession", err)
	}
}
