package surface

import (
	"fmt"
	"sync"

	"github.com/nabd-browser/nabd/internal/tabs"
	"go.uber.org/zap"
)

// State is the lifecycle of one session's binding.
type State int

const (
	Unbound State = iota
	Bound
	Disposed
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "UNBOUND"
	case Bound:
		return "BOUND"
	case Disposed:
		return "DISPOSED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Sessions is the read side of the session store the binding needs.
type Sessions interface {
	Session(id string) (tabs.Session, bool)
	Active() tabs.Session
}

// maxDisposed bounds how many closed sessions keep a DISPOSED entry. Older
// ones are forgotten and report as unknown sessions instead.
const maxDisposed = 256

type entry struct {
	state   State
	surface Surface
}

// Binding maps each open session to exactly one surface, created lazily.
// It satisfies tabs.Releaser.
type Binding struct {
	mu       sync.Mutex
	entries  map[string]*entry
	disposed []string // DISPOSED ids, oldest first

	factory   Factory
	sessions  Sessions
	callbacks func(sessionID string) Callbacks
	onAttach  func(sessionID string, s Surface)
	userAgent string
	strict    bool
	log       *zap.Logger
}

// BindingOption configures a Binding.
type BindingOption func(*Binding)

// WithCallbacks supplies the callbacks each new surface reports through.
func WithCallbacks(fn func(sessionID string) Callbacks) BindingOption {
	return func(b *Binding) { b.callbacks = fn }
}

// WithAttachHook runs fn after a surface is created for a session.
func WithAttachHook(fn func(sessionID string, s Surface)) BindingOption {
	return func(b *Binding) { b.onAttach = fn }
}

// WithUserAgent sets the user agent for new surfaces.
func WithUserAgent(ua string) BindingOption {
	return func(b *Binding) { b.userAgent = ua }
}

// WithStrict makes use-after-dispose panic instead of returning ErrDisposed.
func WithStrict(strict bool) BindingOption {
	return func(b *Binding) { b.strict = strict }
}

// WithBindingLogger sets the logger.
func WithBindingLogger(l *zap.Logger) BindingOption {
	return func(b *Binding) {
		if l != nil {
			b.log = l
		}
	}
}

// NewBinding creates a binding over factory. Sessions may be attached later
// with SetSessions, since the store usually needs the binding first.
func NewBinding(factory Factory, opts ...BindingOption) *Binding {
	b := &Binding{
		entries: make(map[string]*entry),
		factory: factory,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// SetSessions attaches the session source.
func (b *Binding) SetSessions(s Sessions) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions = s
}

// Bind returns the surface for sessionID, creating it on first use. Binding
// a disposed session is a use-after-close bug.
func (b *Binding) Bind(sessionID string) (Surface, error) {
	return b.bind(sessionID, false)
}

// bind with follow set treats a disposed session as a stale notification
// rather than a bug.
func (b *Binding) bind(sessionID string, follow bool) (Surface, error) {
	b.mu.Lock()
	if e, ok := b.entries[sessionID]; ok {
		switch e.state {
		case Bound:
			s := e.surface
			b.mu.Unlock()
			return s, nil
		case Disposed:
			b.mu.Unlock()
			if follow {
				return nil, ErrDisposed
			}
			return nil, b.disposedAccess(sessionID)
		}
	}
	sessions := b.sessions
	b.mu.Unlock()

	// The store lock must not be taken while holding b.mu: the store calls
	// Unbind with its own lock held.
	if sessions == nil {
		return nil, ErrUnknownSession
	}
	sess, ok := sessions.Session(sessionID)
	if !ok {
		return nil, fmt.Errorf("bind %s: %w", sessionID, ErrUnknownSession)
	}

	var cb Callbacks
	if b.callbacks != nil {
		cb = b.callbacks(sessionID)
	}
	ua := b.userAgent
	s := b.factory.New(sessionID, Options{Private: sess.Private, UserAgent: ua}, cb)

	b.mu.Lock()
	if e, ok := b.entries[sessionID]; ok {
		// Lost a race: another Bind won, or the session closed meanwhile.
		b.mu.Unlock()
		s.Dispose()
		if e.state == Disposed {
			if follow {
				return nil, ErrDisposed
			}
			return nil, b.disposedAccess(sessionID)
		}
		return e.surface, nil
	}
	b.entries[sessionID] = &entry{state: Bound, surface: s}
	b.mu.Unlock()

	b.log.Debug("surface bound", zap.String("session_id", sessionID), zap.Bool("private", sess.Private))
	if b.onAttach != nil {
		b.onAttach(sessionID, s)
	}
	return s, nil
}

// Unbind disposes the session's surface. The binding becomes DISPOSED even
// if no surface was ever created. It never calls back into the store.
func (b *Binding) Unbind(sessionID string) {
	b.mu.Lock()
	e, ok := b.entries[sessionID]
	if !ok {
		b.entries[sessionID] = &entry{state: Disposed}
		b.retireLocked(sessionID)
		b.mu.Unlock()
		return
	}
	if e.state == Disposed {
		b.mu.Unlock()
		return
	}
	s := e.surface
	e.state = Disposed
	e.surface = nil
	b.retireLocked(sessionID)
	b.mu.Unlock()

	if s != nil {
		s.Dispose()
	}
	b.log.Debug("surface disposed", zap.String("session_id", sessionID))
}

// retireLocked records a disposed id and prunes the oldest past maxDisposed.
func (b *Binding) retireLocked(sessionID string) {
	b.disposed = append(b.disposed, sessionID)
	for len(b.disposed) > maxDisposed {
		old := b.disposed[0]
		b.disposed = b.disposed[1:]
		if e, ok := b.entries[old]; ok && e.state == Disposed {
			delete(b.entries, old)
		}
	}
}

// Current returns the surface bound to the active session, if any.
func (b *Binding) Current() (Surface, bool) {
	b.mu.Lock()
	sessions := b.sessions
	b.mu.Unlock()
	if sessions == nil {
		return nil, false
	}
	id := sessions.Active().ID

	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[id]
	if !ok || e.state != Bound {
		return nil, false
	}
	return e.surface, true
}

// Lookup returns the surface of a bound session without creating one.
func (b *Binding) Lookup(sessionID string) (Surface, error) {
	b.mu.Lock()
	e, ok := b.entries[sessionID]
	b.mu.Unlock()
	if !ok {
		return nil, nil
	}
	if e.state == Disposed {
		return nil, b.disposedAccess(sessionID)
	}
	return e.surface, nil
}

// StateOf reports the binding state of a session.
func (b *Binding) StateOf(sessionID string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[sessionID]; ok {
		return e.state
	}
	return Unbound
}

// BoundCount returns the number of live surfaces.
func (b *Binding) BoundCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.entries {
		if e.state == Bound {
			n++
		}
	}
	return n
}

// Each calls fn for every live surface.
func (b *Binding) Each(fn func(sessionID string, s Surface)) {
	b.mu.Lock()
	live := make(map[string]Surface)
	for id, e := range b.entries {
		if e.state == Bound {
			live[id] = e.surface
		}
	}
	b.mu.Unlock()
	for id, s := range live {
		fn(id, s)
	}
}

// Follow binds the active session whenever the store state changes. It is
// meant to be passed to tabs.Store.Subscribe.
func (b *Binding) Follow(st tabs.State) {
	active, ok := st.Active()
	if !ok {
		return
	}
	if _, err := b.bind(active.ID, true); err != nil {
		b.log.Debug("bind active session", zap.String("session_id", active.ID), zap.Error(err))
	}
}

func (b *Binding) disposedAccess(sessionID string) error {
	err := fmt.Errorf("session %s: %w", sessionID, ErrDisposed)
	if b.strict {
		panic(err)
	}
	b.log.Error("surface accessed after dispose", zap.String("session_id", sessionID))
	return err
}
