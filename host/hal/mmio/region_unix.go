//go:build unix

package mmio

import (
	"fmt"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/ardnew/usbhcd/host/hal"
	"github.com/ardnew/usbhcd/pkg"
)

// DevMem is the conventional physical memory device.
const DevMem = "/dev/mem"

// Region is a register window mapped from a file.
type Region struct {
	f    *os.File
	mem  []byte
	base int64
}

// Map maps size bytes at offset base of path for register access. base must
// be page aligned.
func Map(path string, base int64, size int) (*Region, error) {
	if size <= 0 || base < 0 || base%int64(os.Getpagesize()) != 0 {
		return nil, fmt.Errorf("%w: base %#x size %d", pkg.ErrInvalidParameter, base, size)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, err
	}

	mem, err := unix.Mmap(int(f.Fd()), base, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s at %#x: %w", path, base, err)
	}

	pkg.LogDebug(pkg.ComponentHAL, "register window mapped",
		"path", path,
		"base", fmt.Sprintf("%#x", base),
		"size", size)

	return &Region{f: f, mem: mem, base: base}, nil
}

// Read32 loads the register at off.
func (r *Region) Read32(off uint32) uint32 {
	return atomic.LoadUint32(word(r.mem, off))
}

// Write32 stores v to the register at off.
func (r *Region) Write32(off uint32, v uint32) {
	atomic.StoreUint32(word(r.mem, off), v)
}

// Base returns the file offset the window was mapped at.
func (r *Region) Base() int64 {
	return r.base
}

// Close unmaps the window and closes the file.
func (r *Region) Close() error {
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}

var _ hal.IO = (*Region)(nil)
