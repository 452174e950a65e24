package irq

import (
	"fmt"
	"sync"

	"github.com/ardnew/usbhcd/pkg"
)

// Handler services an interrupt.
type Handler interface {
	HandleInterrupt()
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func()

// HandleInterrupt calls f.
func (f HandlerFunc) HandleInterrupt() { f() }

type line struct {
	mu      sync.Mutex // held for the duration of a delivery
	handler Handler
	count   uint64
}

// Router dispatches raised lines to attached handlers.
type Router struct {
	mu    sync.RWMutex
	lines map[int]*line
}

// NewRouter returns a router with no lines attached.
func NewRouter() *Router {
	return &Router{lines: make(map[int]*line)}
}

// Attach connects h to every line in lines. Either all lines are attached
// or none is.
func (r *Router) Attach(lines []int, h Handler) error {
	if h == nil {
		return fmt.Errorf("%w: nil handler", pkg.ErrInvalidParameter)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range lines {
		if n < 0 {
			return fmt.Errorf("%w: line %d", pkg.ErrInvalidParameter, n)
		}
		if _, ok := r.lines[n]; ok {
			return fmt.Errorf("%w: line %d already attached", pkg.ErrBusy, n)
		}
	}
	for _, n := range lines {
		r.lines[n] = &line{handler: h}
		pkg.LogDebug(pkg.ComponentIRQ, "line attached", "line", n)
	}
	return nil
}

// Detach disconnects lines. It waits for a delivery in progress on any of
// them to return.
func (r *Router) Detach(lines ...int) {
	r.mu.Lock()
	detached := make([]*line, 0, len(lines))
	for _, n := range lines {
		if l, ok := r.lines[n]; ok {
			delete(r.lines, n)
			detached = append(detached, l)
		}
	}
	r.mu.Unlock()

	for _, l := range detached {
		l.mu.Lock()
		l.handler = nil
		l.mu.Unlock()
	}
}

// Raise delivers an interrupt on line n. It reports whether a handler ran.
func (r *Router) Raise(n int) bool {
	r.mu.RLock()
	l := r.lines[n]
	r.mu.RUnlock()
	if l == nil {
		pkg.LogTrace(pkg.ComponentIRQ, "spurious interrupt", "line", n)
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handler == nil {
		return false
	}
	l.count++
	l.handler.HandleInterrupt()
	return true
}

// Count returns the number of deliveries on line n since it was attached.
func (r *Router) Count(n int) uint64 {
	r.mu.RLock()
	l := r.lines[n]
	r.mu.RUnlock()
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
