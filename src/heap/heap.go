// Package heap implements the kernel's size-class slab allocator (spec
// §4.D), serving the dynamic containers used by the scheduler, handle
// table, and VFS layers. Grounded on the free-list-of-indices pattern in
// the teacher's mem/mem.go (Physmem_t's per-size free lists linked through
// a `nexti` index rather than pointers), generalized from whole pages to
// arbitrary size classes carved out of page-aligned superblocks.
package heap

import (
	"sync"

	"sabos/src/defs"
	"sabos/src/mem"
	"sabos/src/oommsg"
)

// sizeClasses is the doubling progression covering typical kernel
// allocations: handle-table entries, Vma_t nodes, IPC messages, pipe
// control blocks.
var sizeClasses = []int{16, 32, 64, 128, 256, 512, 1024, 2048}

const oversizeThreshold = 2048

type freeCell struct {
	next *freeCell
}

type class_t struct {
	sync.Mutex
	size int
	free *freeCell
}

/// Allocator_t is the kernel heap. Every allocation path locks in the
/// order page-table -> frame-allocator -> heap (never the reverse), so the
/// heap itself never calls back into vm or mem while holding its own lock.
type Allocator_t struct {
	frames *mem.FrameAllocator_t
	classes []*class_t

	oversizeMu sync.Mutex
	oversize   map[uintptr][]byte
}

/// NewAllocator builds a heap backed by frames, with one free-list per
/// size class.
func NewAllocator(frames *mem.FrameAllocator_t) *Allocator_t {
	a := &Allocator_t{
		frames:   frames,
		oversize: make(map[uintptr][]byte),
	}
	for _, sz := range sizeClasses {
		a.classes = append(a.classes, &class_t{size: sz})
	}
	return a
}

func (a *Allocator_t) classFor(n int) (*class_t, int) {
	for i, c := range a.classes {
		if n <= c.size {
			return c, i
		}
	}
	return nil, -1
}

// Alloc returns a zeroed buffer of at least n bytes, for any alignment up
// to 16 bytes (every size class is itself a multiple of 16, which bounds
// the alignment any cell within it can be carved to satisfy).
func (a *Allocator_t) Alloc(n int) ([]byte, defs.Err_t) {
	if n <= 0 {
		return nil, defs.InvalidArgument
	}
	if n > oversizeThreshold {
		return a.allocOversize(n)
	}
	c, _ := a.classFor(n)
	c.Lock()
	if c.free == nil {
		if err := a.refill(c); err != 0 {
			c.Unlock()
			return nil, err
		}
	}
	cell := c.free
	a.free_pop(c)
	c.Unlock()

	buf := cellBytes(cell, c.size)
	for i := range buf {
		buf[i] = 0
	}
	return buf[:n], 0
}

func (a *Allocator_t) free_pop(c *class_t) {
	c.free = c.free.next
}

// refill carves a freshly allocated frame into cells of c.size and links
// them onto c.free. Must be called with c locked.
func (a *Allocator_t) refill(c *class_t) defs.Err_t {
	frame, err := a.frames.Alloc()
	if err != 0 {
		select {
		case oommsg.OomCh <- oommsg.Oommsg_t{Need: c.size}:
		default:
		}
		return err
	}
	buf := a.frames.Bytes(frame)
	n := len(buf) / c.size
	for i := 0; i < n; i++ {
		cell := bytesToCell(buf[i*c.size : i*c.size+c.size])
		cell.next = c.free
		c.free = cell
	}
	return 0
}

// Free returns buf, previously returned by Alloc with the same size, to
// its size class (or releases it if it was an oversize allocation).
func (a *Allocator_t) Free(buf []byte, n int) {
	if n > oversizeThreshold {
		a.freeOversize(buf)
		return
	}
	c, _ := a.classFor(n)
	full := growToClass(buf, c.size)
	cell := bytesToCell(full)
	c.Lock()
	cell.next = c.free
	c.free = cell
	c.Unlock()
}

func (a *Allocator_t) allocOversize(n int) ([]byte, defs.Err_t) {
	buf := make([]byte, n)
	a.oversizeMu.Lock()
	a.oversize[addrOf(buf)] = buf
	a.oversizeMu.Unlock()
	return buf, 0
}

func (a *Allocator_t) freeOversize(buf []byte) {
	a.oversizeMu.Lock()
	delete(a.oversize, addrOf(buf))
	a.oversizeMu.Unlock()
}
