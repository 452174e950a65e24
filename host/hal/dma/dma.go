package dma

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ardnew/usbhcd/host/hal"
	"github.com/ardnew/usbhcd/pkg"
)

// span is a free range of the arena, in bytes from its start.
type span struct {
	off  int
	size int
}

// Arena is a fixed block of memory outside the Go heap, carved into
// DMA buffers. The block is presented at a configurable bus address so
// emulated bus masters can translate addresses back into memory.
type Arena struct {
	mu    sync.Mutex
	mem   []byte
	phys  uintptr
	free  []span      // sorted by off, never adjacent
	live  map[int]int // off -> size
	unmap func([]byte) error
}

// Buffer is one allocation from an Arena. It implements [hal.DMABuffer].
type Buffer struct {
	arena *Arena
	off   int
	size  int
}

// Bytes returns the CPU view of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.arena.mem[b.off : b.off+b.size : b.off+b.size]
}

// Phys returns the bus address of the buffer.
func (b *Buffer) Phys() uintptr {
	return b.arena.phys + uintptr(b.off)
}

// Len returns the buffer size.
func (b *Buffer) Len() int {
	return b.size
}

var _ hal.DMABuffer = (*Buffer)(nil)

// NewArena maps size bytes and presents them at bus address phys.
func NewArena(size int, phys uintptr) (*Arena, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: arena size %d", pkg.ErrInvalidParameter, size)
	}
	mem, unmap, err := mapMemory(size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pkg.ErrNoMemory, err)
	}
	a := &Arena{
		mem:   mem,
		phys:  phys,
		free:  []span{{off: 0, size: size}},
		live:  make(map[int]int),
		unmap: unmap,
	}
	pkg.LogDebug(pkg.ComponentDMA, "arena mapped", "size", size, "phys", fmt.Sprintf("%#x", phys))
	return a, nil
}

// Alloc returns a zeroed buffer of size bytes whose bus address is a
// multiple of align. align must be a power of two; 0 means 1.
func (a *Arena) Alloc(size, align int) (hal.DMABuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", pkg.ErrInvalidParameter, size)
	}
	if align <= 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return nil, fmt.Errorf("%w: alignment %d", pkg.ErrInvalidParameter, align)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mem == nil {
		return nil, pkg.ErrNotRunning
	}

	for i, s := range a.free {
		base := a.phys + uintptr(s.off)
		start := s.off + int((uintptr(align)-base%uintptr(align))%uintptr(align))
		if start+size > s.off+s.size {
			continue
		}

		var repl []span
		if start > s.off {
			repl = append(repl, span{off: s.off, size: start - s.off})
		}
		if end := start + size; end < s.off+s.size {
			repl = append(repl, span{off: end, size: s.off + s.size - end})
		}
		a.free = append(a.free[:i], append(repl, a.free[i+1:]...)...)
		a.live[start] = size

		buf := &Buffer{arena: a, off: start, size: size}
		clear(buf.Bytes())
		return buf, nil
	}

	return nil, fmt.Errorf("%w: %d bytes aligned to %d", pkg.ErrNoMemory, size, align)
}

// Free returns buf to the arena. Buffers from other arenas and double frees
// are ignored.
func (a *Arena) Free(buf hal.DMABuffer) {
	b, ok := buf.(*Buffer)
	if !ok || b == nil || b.arena != a {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	size, ok := a.live[b.off]
	if !ok {
		pkg.LogWarn(pkg.ComponentDMA, "free of unknown buffer", "off", b.off)
		return
	}
	delete(a.live, b.off)

	i := sort.Search(len(a.free), func(i int) bool { return a.free[i].off > b.off })
	a.free = append(a.free, span{})
	copy(a.free[i+1:], a.free[i:])
	a.free[i] = span{off: b.off, size: size}

	// Coalesce with the following span, then with the preceding one.
	if i+1 < len(a.free) && a.free[i].off+a.free[i].size == a.free[i+1].off {
		a.free[i].size += a.free[i+1].size
		a.free = append(a.free[:i+1], a.free[i+2:]...)
	}
	if i > 0 && a.free[i-1].off+a.free[i-1].size == a.free[i].off {
		a.free[i-1].size += a.free[i].size
		a.free = append(a.free[:i], a.free[i+1:]...)
	}
}

// Translate returns the n bytes at bus address phys, or false when the range
// falls outside the arena.
func (a *Arena) Translate(phys uintptr, n int) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mem == nil || n < 0 || phys < a.phys {
		return nil, false
	}
	off := phys - a.phys
	if off > uintptr(len(a.mem)) || uintptr(n) > uintptr(len(a.mem))-off {
		return nil, false
	}
	return a.mem[off : off+uintptr(n) : off+uintptr(n)], true
}

// Available returns the number of free bytes, ignoring fragmentation.
func (a *Arena) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, s := range a.free {
		n += s.size
	}
	return n
}

// Close unmaps the arena. Buffers must not be used afterwards.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mem == nil {
		return nil
	}
	err := a.unmap(a.mem)
	a.mem = nil
	a.free = nil
	a.live = nil
	return err
}

var _ hal.DMAAllocator = (*Arena)(nil)
