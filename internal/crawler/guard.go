package crawler

import (
	"errors"
	"fmt"
	"sync"
)

// ErrRunInProgress is returned when a long-running operation is requested
// while another one holds the acquisition channel.
var ErrRunInProgress = errors.New("another run is in progress")

// RunGuard serializes crawl, domain crawl and relink runs. The zero value is
// ready to use.
type RunGuard struct {
	mu     sync.Mutex
	active string
}

// Acquire claims the guard for the named run and returns its release
// function.
func (g *RunGuard) Acquire(name string) (func(), error) {
	if g == nil {
		return func() {}, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active != "" {
		return nil, fmt.Errorf("start %s: %w (%s)", name, ErrRunInProgress, g.active)
	}
	g.active = name
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.active = ""
			g.mu.Unlock()
		})
	}, nil
}

// Active names the run holding the guard, or "" when idle.
func (g *RunGuard) Active() string {
	if g == nil {
		return ""
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}
