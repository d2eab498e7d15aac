package privacy

import (
	"testing"

	"github.com/nabd-browser/nabd/internal/tabs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEraser struct{ calls int }

func (c *countingEraser) EraseAll() { c.calls++ }

func TestRegisterUnregister(t *testing.T) {
	c := NewCoordinator(nil, nil)
	assert.False(t, c.HasOpenPrivateSessions())

	c.Register("a")
	c.Register("a")
	c.Register("b")
	assert.True(t, c.HasOpenPrivateSessions())
	assert.Equal(t, 2, c.OpenCount())

	c.Unregister("a")
	c.Unregister("missing")
	assert.Equal(t, 1, c.OpenCount())

	c.Unregister("b")
	assert.False(t, c.HasOpenPrivateSessions())
}

func TestEraseDelegates(t *testing.T) {
	e := &countingEraser{}
	c := NewCoordinator(e, nil)

	c.EraseAllPrivateData()
	assert.Equal(t, 1, e.calls)
	assert.Equal(t, 1, c.Erasures())
}

func TestEraseSurvivesPanic(t *testing.T) {
	c := NewCoordinator(EraserFunc(func() { panic("disk gone") }), nil)
	require.NotPanics(t, c.EraseAllPrivateData)
	assert.Equal(t, 1, c.Erasures())
}

func TestErasersFanOut(t *testing.T) {
	a, b := &countingEraser{}, &countingEraser{}
	Erasers{a, nil, b}.EraseAll()
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
}

// Wired into a real store: erasure fires exactly once per last-private close.
func TestCoordinatorWithStore(t *testing.T) {
	e := &countingEraser{}
	c := NewCoordinator(e, nil)
	s := tabs.NewStore(tabs.WithPrivacy(c))

	p1 := s.CreateSession("", true)
	p2 := s.CreateSession("", true)
	assert.Equal(t, 2, c.OpenCount())

	s.CloseSession(p1)
	assert.Equal(t, 0, e.calls)

	s.CloseSession(p2)
	assert.Equal(t, 1, e.calls)
	assert.False(t, c.HasOpenPrivateSessions())

	// A new private generation erases again when it ends.
	p3 := s.CreateSession("", true)
	s.CloseAllSessions(true)
	assert.Equal(t, 2, e.calls)
	_, ok := s.Session(p3)
	assert.False(t, ok)
}
