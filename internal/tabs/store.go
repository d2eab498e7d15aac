package tabs

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultHomeURL is used when the store is built without WithHomeURL.
const DefaultHomeURL = "https://www.google.com"

// Releaser detaches whatever the store's sessions have bound to them.
// Unbind is called before a closed session leaves the list and must not
// call back into the store.
type Releaser interface {
	Unbind(sessionID string)
}

// PrivacyTracker is told about private sessions opening and closing.
type PrivacyTracker interface {
	Register(sessionID string)
	Unregister(sessionID string)
	HasOpenPrivateSessions() bool
	EraseAllPrivateData()
}

// Listener receives the full state after every mutation.
type Listener func(State)

// Option configures a Store.
type Option func(*Store)

// WithHomeURL sets the address of sessions created without one.
func WithHomeURL(u string) Option {
	return func(s *Store) {
		if u != "" {
			s.homeURL = u
		}
	}
}

// WithReleaser attaches the render surface binding.
func WithReleaser(r Releaser) Option {
	return func(s *Store) { s.releaser = r }
}

// WithPrivacy attaches the private-mode coordinator.
func WithPrivacy(p PrivacyTracker) Option {
	return func(s *Store) { s.privacy = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock overrides time.Now for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store holds the ordered session list and the active index. Every
// operation applies atomically; listeners see states in mutation order.
// Listeners run with no lock held and may read or mutate the store; a
// mutation made from a listener is delivered after the current one.
type Store struct {
	mu    sync.Mutex
	state State

	listeners  map[int]Listener
	nextSub    int
	pending    []delivery
	delivering bool

	homeURL  string
	releaser Releaser
	privacy  PrivacyTracker
	log      *zap.Logger
	now      func() time.Time
}

// NewStore creates a store holding one default session.
func NewStore(opts ...Option) *Store {
	s := &Store{
		homeURL:   DefaultHomeURL,
		log:       zap.NewNop(),
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
	for _, o := range opts {
		o(s)
	}
	s.state = State{Sessions: []Session{s.newSession("", false)}}
	return s
}

// HomeURL returns the default session address.
func (s *Store) HomeURL() string { return s.homeURL }

// State returns a snapshot of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Session looks up an open session by id.
func (s *Store) Session(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.state.IndexOf(id); i >= 0 {
		return s.state.Sessions[i], true
	}
	return Session{}, false
}

// Active returns the active session.
func (s *Store) Active() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, _ := s.state.Active()
	return a
}

// Subscribe registers fn and delivers the current state to it before any
// later state. The returned func removes the subscription.
func (s *Store) Subscribe(fn Listener) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	s.pending = append(s.pending, delivery{state: s.state.clone(), to: []Listener{fn}})
	s.drainLocked()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// CreateSession appends a session and makes it active. An empty url means
// the home address.
func (s *Store) CreateSession(url string, private bool) string {
	s.mu.Lock()
	sess := s.newSession(url, private)
	if private && s.privacy != nil {
		s.privacy.Register(sess.ID)
	}
	s.state.Sessions = append(s.state.Sessions, sess)
	s.state.ActiveIndex = len(s.state.Sessions) - 1
	s.state.PrivateMode = private
	s.log.Debug("session created", zap.String("session_id", sess.ID), zap.Bool("private", private))
	s.publishLocked()
	return sess.ID
}

// SelectSession activates the session at index. Out of range is a no-op.
func (s *Store) SelectSession(index int) {
	s.mu.Lock()
	if index < 0 || index >= len(s.state.Sessions) {
		s.mu.Unlock()
		s.log.Debug("select ignored", zap.Int("index", index))
		return
	}
	s.state.ActiveIndex = index
	s.state.PrivateMode = s.state.Sessions[index].Private
	s.publishLocked()
}

// SelectByID activates the session with id. Unknown ids are ignored.
func (s *Store) SelectByID(id string) {
	s.mu.Lock()
	i := s.state.IndexOf(id)
	if i < 0 {
		s.mu.Unlock()
		s.log.Debug("select ignored", zap.String("session_id", id))
		return
	}
	s.state.ActiveIndex = i
	s.state.PrivateMode = s.state.Sessions[i].Private
	s.publishLocked()
}

// CloseSession closes the session with id. Closing the only session
// replaces it with a fresh default session. Closing the last private
// session erases private data once.
func (s *Store) CloseSession(id string) {
	s.mu.Lock()
	removed := s.state.IndexOf(id)
	if removed < 0 {
		s.mu.Unlock()
		s.log.Debug("close ignored", zap.String("session_id", id))
		return
	}
	closed := s.state.Sessions[removed]
	s.release(closed)

	if len(s.state.Sessions) == 1 {
		s.state = State{Sessions: []Session{s.newSession("", false)}}
	} else {
		sessions := make([]Session, 0, len(s.state.Sessions)-1)
		sessions = append(sessions, s.state.Sessions[:removed]...)
		sessions = append(sessions, s.state.Sessions[removed+1:]...)

		active := s.state.ActiveIndex
		switch {
		case removed < active:
			active--
		case removed == active && active >= len(sessions):
			active = len(sessions) - 1
		}
		s.state.Sessions = sessions
		s.state.ActiveIndex = active
		s.state.PrivateMode = sessions[active].Private
	}

	if closed.Private {
		s.eraseIfLastPrivate()
	}
	s.log.Debug("session closed", zap.String("session_id", id), zap.Int("remaining", len(s.state.Sessions)))
	s.publishLocked()
}

// CloseAllSessions closes every private session when privateOnly is set,
// otherwise every session. The store is left with at least one session
// and the first one active. Private data is erased if any private session
// was closed; with no private sessions open, nothing is erased.
func (s *Store) CloseAllSessions(privateOnly bool) {
	s.mu.Lock()
	keep := make([]Session, 0, len(s.state.Sessions))
	closedPrivate := 0
	for _, sess := range s.state.Sessions {
		if privateOnly && !sess.Private {
			keep = append(keep, sess)
			continue
		}
		s.release(sess)
		if sess.Private {
			closedPrivate++
		}
	}
	if len(keep) == 0 {
		keep = append(keep, s.newSession("", false))
	}
	s.state = State{Sessions: keep, ActiveIndex: 0, PrivateMode: keep[0].Private}

	if closedPrivate > 0 {
		s.eraseIfLastPrivate()
	}
	s.log.Debug("sessions closed", zap.Bool("private_only", privateOnly), zap.Int("private_closed", closedPrivate))
	s.publishLocked()
}

// UpdateActive applies mutator to the active session. ID, Private and
// Created are restored if the mutator touched them.
func (s *Store) UpdateActive(mutator func(Session) Session) {
	s.mu.Lock()
	if _, ok := s.state.Active(); !ok {
		s.heal()
		s.mu.Unlock()
		return
	}
	s.applyLocked(s.state.ActiveIndex, mutator)
}

// Update applies mutator to the session with id, active or not. Unknown
// ids are ignored so late surface callbacks for closed sessions are dropped.
func (s *Store) Update(id string, mutator func(Session) Session) {
	s.mu.Lock()
	i := s.state.IndexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return
	}
	s.applyLocked(i, mutator)
}

func (s *Store) applyLocked(i int, mutator func(Session) Session) {
	old := s.state.Sessions[i]
	next := mutator(old)
	next.ID, next.Private, next.Created = old.ID, old.Private, old.Created
	if next.Progress < 0 {
		next.Progress = 0
	} else if next.Progress > 100 {
		next.Progress = 100
	}
	if next == old {
		s.mu.Unlock()
		return
	}
	s.state.Sessions = append([]Session(nil), s.state.Sessions...)
	s.state.Sessions[i] = next
	s.publishLocked()
}

func (s *Store) newSession(url string, private bool) Session {
	if url == "" {
		url = s.homeURL
	}
	title := DefaultTitle
	if private {
		title = PrivateTitle
	}
	return Session{
		ID:      uuid.NewString(),
		URL:     url,
		Title:   title,
		Private: private,
		Created: s.now(),
	}
}

// release unregisters a private session and unbinds its surface. Called
// with mu held, before the session leaves the list.
func (s *Store) release(sess Session) {
	if sess.Private && s.privacy != nil {
		s.privacy.Unregister(sess.ID)
	}
	if s.releaser != nil {
		s.releaser.Unbind(sess.ID)
	}
}

func (s *Store) eraseIfLastPrivate() {
	if s.privacy == nil || s.privacy.HasOpenPrivateSessions() {
		return
	}
	s.log.Info("last private session closed, erasing private data")
	s.privacy.EraseAllPrivateData()
}

// heal re-establishes the non-empty and index invariants.
func (s *Store) heal() {
	if len(s.state.Sessions) == 0 {
		s.log.Error("session list empty, recreating default session")
		s.state.Sessions = []Session{s.newSession("", false)}
	}
	if s.state.ActiveIndex < 0 || s.state.ActiveIndex >= len(s.state.Sessions) {
		s.log.Error("active index out of range", zap.Int("index", s.state.ActiveIndex))
		s.state.ActiveIndex = 0
	}
	s.state.PrivateMode = s.state.Sessions[s.state.ActiveIndex].Private
}

type delivery struct {
	state State
	to    []Listener
}

// publishLocked queues the current state for the listeners registered now,
// then releases mu.
func (s *Store) publishLocked() {
	to := make([]Listener, 0, len(s.listeners))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.listeners[i]; ok {
			to = append(to, fn)
		}
	}
	s.pending = append(s.pending, delivery{state: s.state.clone(), to: to})
	s.drainLocked()
}

// drainLocked delivers queued states in order and releases mu. Only one
// goroutine drains at a time; others leave their delivery in the queue.
func (s *Store) drainLocked() {
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true
	for len(s.pending) > 0 {
		d := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()
		for _, fn := range d.to {
			s.deliver(fn, d.state)
		}
		s.mu.Lock()
	}
	s.delivering = false
	s.mu.Unlock()
}

// deliver calls fn, logging a panic instead of letting it stop delivery.
func (s *Store) deliver(fn Listener, st State) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("state listener panicked", zap.Any("panic", r))
		}
	}()
	fn(st)
}
