package mmio

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/ardnew/usbhcd/host/hal"
)

func word(mem []byte, off uint32) *uint32 {
	if off%4 != 0 {
		panic(fmt.Sprintf("mmio: unaligned register offset %#x", off))
	}
	if uint64(off)+4 > uint64(len(mem)) {
		panic(fmt.Sprintf("mmio: register offset %#x outside %d-byte window", off, len(mem)))
	}
	return (*uint32)(unsafe.Pointer(&mem[off]))
}

// Block is a register file backed by ordinary memory.
type Block struct {
	mem []byte
}

// NewBlock returns a zeroed register file of size bytes. size is rounded up
// to a multiple of four.
func NewBlock(size int) *Block {
	return &Block{mem: make([]byte, (size+3)&^3)}
}

// Read32 loads the register at off.
func (b *Block) Read32(off uint32) uint32 {
	return atomic.LoadUint32(word(b.mem, off))
}

// Write32 stores v to the register at off.
func (b *Block) Write32(off uint32, v uint32) {
	atomic.StoreUint32(word(b.mem, off), v)
}

// Size returns the size of the register file in bytes.
func (b *Block) Size() int {
	return len(b.mem)
}

var _ hal.IO = (*Block)(nil)
