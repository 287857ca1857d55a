package common

import (
	"errors"
	"sync"
)

var (
	ErrModulePaused  = errors.New("module paused")
	ErrReentrantCall = errors.New("reentrant call")
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// StaticPauses is a PauseView backed by a fixed set of module names.
type StaticPauses struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// SetPaused toggles the pause flag for module.
func (s *StaticPauses) SetPaused(module string, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused == nil {
		s.paused = make(map[string]bool)
	}
	s.paused[module] = paused
}

// IsPaused implements PauseView.
func (s *StaticPauses) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[module]
}

// ReentrancyGuard is the in-progress flag of one engine instance. Entering
// an occupied guard fails with ErrReentrantCall instead of waiting, so a
// collaborator that calls back into the engine fails whichever context it
// uses. Callers sharing an engine across goroutines serialise their calls
// before entering.
type ReentrancyGuard struct {
	mu     sync.Mutex
	active bool
}

// Enter marks the guard active and returns its release function, which must
// run on every exit path. Releasing twice is harmless.
func (g *ReentrancyGuard) Enter() (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active {
		return func() {}, ErrReentrantCall
	}
	g.active = true
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.active = false
			g.mu.Unlock()
		})
	}, nil
}

// Active reports whether a call currently holds the guard.
func (g *ReentrancyGuard) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
