// Package pipe implements the kernel's pipe objects (spec §4.I), the
// in-memory byte channel backing the `pipe` syscall and console/process
// redirection. Grounded on the teacher's pipe-adjacent use of
// circbuf.Circbuf_t as the byte store (kept, adapted, in sabos/src/circbuf)
// plus the refcounted-close pattern common throughout the teacher's fd
// layer (Fops.Close/Reopen): a pipe end is only really gone once every
// duplicate of its handle has been closed, so readers and writers are
// tracked by count, not by a single owning handle.
package pipe

import (
	"sync"

	"sabos/src/circbuf"
	"sabos/src/defs"
	"sabos/src/mem"
)

/// Pipe_t is one pipe: a shared ring buffer plus reader/writer refcounts.
/// WriterCount reaching zero turns subsequent reads into EOF instead of
/// WouldBlock; ReaderClosed turns subsequent writes into BrokenPipe.
type Pipe_t struct {
	mu sync.Mutex

	buf          circbuf.Circbuf_t
	readerClosed bool
	writerCount  int
	readerCount  int
}

/// Table_t hands out pipe ids, picking the lowest free slot per §4.I.
type Table_t struct {
	mu     sync.Mutex
	frames *mem.FrameAllocator_t
	pipes  map[uint64]*Pipe_t
	nextId uint64
	free   []uint64
}

/// NewTable creates an empty pipe table backed by frames for the
/// circular buffers it allocates.
func NewTable(frames *mem.FrameAllocator_t) *Table_t {
	return &Table_t{frames: frames, pipes: make(map[uint64]*Pipe_t)}
}

const defaultPipeSize = 4096

/// Create allocates a new pipe with one reader and one writer reference
/// already held (the two ends the creating syscall is about to return),
/// returning its id.
func (t *Table_t) Create() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var id uint64
	if n := len(t.free); n > 0 {
		minIdx := 0
		for i := 1; i < n; i++ {
			if t.free[i] < t.free[minIdx] {
				minIdx = i
			}
		}
		id = t.free[minIdx]
		t.free[minIdx] = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		t.nextId++
		id = t.nextId
	}

	p := &Pipe_t{writerCount: 1, readerCount: 1}
	p.buf.Init(defaultPipeSize, t.frames)
	t.pipes[id] = p
	return id
}

func (t *Table_t) get(id uint64) (*Pipe_t, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pipes[id]
	if !ok {
		return nil, defs.InvalidHandle
	}
	return p, 0
}

// releaseIfOrphaned frees id's backing buffer and recycles the slot once
// both ends are gone, per §4.I: "once both ends are gone the slot is
// freed."
func (t *Table_t) releaseIfOrphaned(id uint64, p *Pipe_t) {
	p.mu.Lock()
	orphaned := p.writerCount == 0 && p.readerCount == 0
	p.mu.Unlock()
	if !orphaned {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.pipes[id]; ok && cur == p {
		p.buf.Release()
		delete(t.pipes, id)
		t.free = append(t.free, id)
	}
}

/// Write appends bytes to the pipe, returning BrokenPipe if every reader
/// has already closed its end.
func (t *Table_t) Write(id uint64, data []byte) (int, defs.Err_t) {
	p, err := t.get(id)
	if err != 0 {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readerClosed {
		return 0, defs.BrokenPipe
	}
	return p.buf.WriteFrom(data)
}

/// Read copies buffered bytes into buf. It returns (0, nil) for EOF --
/// every writer closed and nothing left buffered -- and WouldBlock when
/// the pipe is merely empty with writers still attached, per §4.I.
func (t *Table_t) Read(id uint64, buf []byte) (int, defs.Err_t) {
	p, err := t.get(id)
	if err != 0 {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.buf.Empty() {
		if p.writerCount == 0 {
			return 0, 0
		}
		return 0, defs.WouldBlock
	}
	return p.buf.ReadInto(buf)
}

/// AddWriter increments the writer refcount, used by duplicate_handle
/// (spec §4.H) when a handle carrying write rights to this pipe is
/// copied at spawn.
func (t *Table_t) AddWriter(id uint64) defs.Err_t {
	p, err := t.get(id)
	if err != 0 {
		return err
	}
	p.mu.Lock()
	p.writerCount++
	p.mu.Unlock()
	return 0
}

/// AddReader increments the reader refcount, the read-side analogue of
/// AddWriter for a duplicated read handle.
func (t *Table_t) AddReader(id uint64) defs.Err_t {
	p, err := t.get(id)
	if err != 0 {
		return err
	}
	p.mu.Lock()
	p.readerCount++
	p.mu.Unlock()
	return 0
}

/// CloseWriter decrements the writer refcount; reaching zero makes
/// subsequent reads observe EOF once the buffer drains.
func (t *Table_t) CloseWriter(id uint64) defs.Err_t {
	p, err := t.get(id)
	if err != 0 {
		return err
	}
	p.mu.Lock()
	if p.writerCount > 0 {
		p.writerCount--
	}
	p.mu.Unlock()
	t.releaseIfOrphaned(id, p)
	return 0
}

/// CloseReader decrements the reader refcount; once it reaches zero,
/// writes observe BrokenPipe.
func (t *Table_t) CloseReader(id uint64) defs.Err_t {
	p, err := t.get(id)
	if err != 0 {
		return err
	}
	p.mu.Lock()
	if p.readerCount > 0 {
		p.readerCount--
	}
	if p.readerCount == 0 {
		p.readerClosed = true
	}
	p.mu.Unlock()
	t.releaseIfOrphaned(id, p)
	return 0
}
