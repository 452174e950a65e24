package hal

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ardnew/usbhcd/pkg"
)

// ControllerID names a controller family.
type ControllerID string

// Factory brings up a controller of one family. io may be nil for families
// that do not use memory-mapped registers.
type Factory func(io IO, dma DMAAllocator) (Controller, error)

var (
	registryMu sync.RWMutex
	registry   = map[ControllerID]Factory{}
)

// Register makes a controller family available to [Open]. Families register
// themselves from init; registering an ID twice panics.
func Register(id ControllerID, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("hal: Register factory is nil")
	}
	if _, dup := registry[id]; dup {
		panic("hal: Register called twice for controller " + string(id))
	}
	registry[id] = f
}

// Open brings up a controller of the given family.
func Open(id ControllerID, io IO, dma DMAAllocator) (Controller, error) {
	registryMu.RLock()
	f, ok := registry[id]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", pkg.ErrUnsupportedController, id)
	}
	c, err := f(io, dma)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", pkg.ErrResourceUnavailable, id, err)
	}
	return c, nil
}

// Families returns the registered controller IDs in sorted order.
func Families() []ControllerID {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ids := make([]ControllerID, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
