package subscription

import (
	"sync"
	"sync/atomic"
)

// Unsubscriber is returned by every live feed.
type Unsubscriber interface {
	Unsubscribe()
}

// Func adapts a plain function to Unsubscriber.
type Func func()

func (f Func) Unsubscribe() { f() }

// Guard protects a callback from running after teardown. Unsubscribe is safe
// to call any number of times; deliveries that start after it are dropped.
type Guard struct {
	closed atomic.Bool
	once   sync.Once
	stop   func()

	mu       sync.Mutex
	upstream Unsubscriber
}

func NewGuard(stop func()) *Guard {
	return &Guard{stop: stop}
}

// Deliver runs fn unless the guard is closed and reports whether it ran.
func (g *Guard) Deliver(fn func()) bool {
	if g.closed.Load() {
		return false
	}
	fn()
	return true
}

func (g *Guard) Closed() bool { return g.closed.Load() }

// Attach binds the upstream feed once it is established. If the guard was
// already closed the feed is torn down immediately.
func (g *Guard) Attach(u Unsubscriber) {
	if u == nil {
		return
	}
	g.mu.Lock()
	if g.closed.Load() {
		g.mu.Unlock()
		u.Unsubscribe()
		return
	}
	g.upstream = u
	g.mu.Unlock()
}

func (g *Guard) Unsubscribe() {
	g.once.Do(func() {
		g.mu.Lock()
		g.closed.Store(true)
		up := g.upstream
		g.upstream = nil
		g.mu.Unlock()
		if g.stop != nil {
			g.stop()
		}
		if up != nil {
			up.Unsubscribe()
		}
	})
}

// Set tracks the disposers owned by one component.
type Set struct {
	mu   sync.Mutex
	subs []Unsubscriber
}

func (s *Set) Add(u Unsubscriber) {
	if u == nil {
		return
	}
	s.mu.Lock()
	s.subs = append(s.subs, u)
	s.mu.Unlock()
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// DisposeAll unsubscribes everything in reverse registration order.
func (s *Set) DisposeAll() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for i := len(subs) - 1; i >= 0; i-- {
		subs[i].Unsubscribe()
	}
}
