// Package privacy tracks open private sessions and wipes their data when
// the last one closes.
package privacy

import (
	"sync"

	"go.uber.org/zap"
)

// Eraser clears cookies, site storage and per-surface cache, history and
// form data belonging to private sessions.
type Eraser interface {
	EraseAll()
}

// EraserFunc adapts a function to Eraser.
type EraserFunc func()

// EraseAll calls f.
func (f EraserFunc) EraseAll() { f() }

// Erasers fans EraseAll out to several erasers in order.
type Erasers []Eraser

// EraseAll calls every eraser.
func (es Erasers) EraseAll() {
	for _, e := range es {
		if e != nil {
			e.EraseAll()
		}
	}
}

// Coordinator counts open private sessions. It does not decide when to
// erase; the session store calls EraseAllPrivateData on the
// last-private-close transition.
type Coordinator struct {
	mu     sync.Mutex
	open   map[string]struct{}
	erased int

	eraser Eraser
	log    *zap.Logger
}

// NewCoordinator creates a coordinator delegating erasure to eraser.
func NewCoordinator(eraser Eraser, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		open:   make(map[string]struct{}),
		eraser: eraser,
		log:    logger,
	}
}

// Register marks a private session as open. Registering twice is harmless.
func (c *Coordinator) Register(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open[sessionID] = struct{}{}
}

// Unregister marks a private session as closed. Unknown ids are ignored.
func (c *Coordinator) Unregister(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.open, sessionID)
}

// HasOpenPrivateSessions reports whether any private session is registered.
func (c *Coordinator) HasOpenPrivateSessions() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open) > 0
}

// OpenCount returns the number of registered private sessions.
func (c *Coordinator) OpenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.open)
}

// EraseAllPrivateData runs the eraser. A panicking eraser is logged and
// swallowed so a failed wipe cannot take the session store down.
func (c *Coordinator) EraseAllPrivateData() {
	c.mu.Lock()
	c.erased++
	n := c.erased
	c.mu.Unlock()

	if c.eraser == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("private data erasure failed", zap.Any("panic", r))
		}
	}()
	c.eraser.EraseAll()
	c.log.Info("private data erased", zap.Int("erasures", n))
}

// Erasures returns how many times private data has been erased.
func (c *Coordinator) Erasures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.erased
}
