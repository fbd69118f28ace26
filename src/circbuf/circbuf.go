// Package circbuf implements the wraparound byte ring used by pipes and the
// console (spec §4.I, §4.P). Grounded on the teacher's circbuf/circbuf.go:
// the head/tail index arithmetic, the Full/Empty/Left/Used accounting, and
// the zero-copy Rawwrite/Rawread/Advhead/Advtail pair used by producers that
// want to write or read in place instead of through a copy are all kept
// verbatim. What changes is the data source on the copying path: the
// teacher copies between the ring and fdops.Userio_i, a user-pointer
// abstraction that belongs to the trap dispatcher; here the trap dispatcher
// already turns a user pointer into a plain []byte before a pipe or console
// ever sees it, so WriteFrom/ReadInto take plain byte slices instead.
package circbuf

import (
	"sabos/src/defs"
	"sabos/src/mem"
)

/// Circbuf_t is a single-owner circular byte buffer backed by one lazily
/// allocated physical frame. It is not safe for concurrent use by itself;
/// callers (pipe, console) supply their own locking.
type Circbuf_t struct {
	frames *mem.FrameAllocator_t
	buf    []uint8
	bufsz  int
	head   int
	tail   int
	frame  mem.Pa_t
}

/// Init records the buffer's configured size without allocating backing
/// storage yet -- allocation is deferred to the first write, matching the
/// teacher's Cb_init laziness, so a pipe that is created but never written
/// to never costs a frame.
func (cb *Circbuf_t) Init(sz int, frames *mem.FrameAllocator_t) defs.Err_t {
	if sz <= 0 || sz > mem.PGSIZE {
		return defs.InvalidArgument
	}
	cb.frames = frames
	cb.bufsz = sz
	cb.head, cb.tail = 0, 0
	return 0
}

/// Release returns the backing frame, if one was ever allocated.
func (cb *Circbuf_t) Release() {
	if cb.buf == nil {
		return
	}
	cb.frames.Free(cb.frame)
	cb.frame = 0
	cb.buf = nil
	cb.head, cb.tail = 0, 0
}

func (cb *Circbuf_t) ensure() defs.Err_t {
	if cb.buf != nil {
		return 0
	}
	if cb.bufsz == 0 {
		panic("circbuf not initted")
	}
	frame, err := cb.frames.Alloc()
	if err != 0 {
		return err
	}
	cb.frame = frame
	cb.buf = cb.frames.Bytes(frame)[:cb.bufsz]
	return 0
}

/// Bufsz returns the configured buffer size.
func (cb *Circbuf_t) Bufsz() int {
	return cb.bufsz
}

/// Full returns true when the buffer cannot accept more data.
func (cb *Circbuf_t) Full() bool {
	return cb.head-cb.tail == cb.bufsz
}

/// Empty reports whether the buffer contains any data.
func (cb *Circbuf_t) Empty() bool {
	return cb.head == cb.tail
}

/// Left returns the remaining capacity in bytes.
func (cb *Circbuf_t) Left() int {
	return cb.bufsz - (cb.head - cb.tail)
}

/// Used returns the current number of bytes in the buffer.
func (cb *Circbuf_t) Used() int {
	return cb.head - cb.tail
}

/// WriteFrom copies as much of src as fits into the buffer, returning the
/// number of bytes accepted. It never blocks and never partially accepts a
/// byte it didn't have room for; the caller decides what WouldBlock means.
func (cb *Circbuf_t) WriteFrom(src []uint8) (int, defs.Err_t) {
	if err := cb.ensure(); err != 0 {
		return 0, err
	}
	if cb.Full() {
		return 0, 0
	}
	if len(src) > cb.Left() {
		src = src[:cb.Left()]
	}
	hi := cb.head % cb.bufsz
	ti := cb.tail % cb.bufsz
	c := 0
	if ti <= hi {
		dst := cb.buf[hi:]
		n := copy(dst, src)
		c += n
		src = src[n:]
		hi = (cb.head + n) % cb.bufsz
		cb.head += n
	}
	if len(src) == 0 {
		return c, 0
	}
	dst := cb.buf[hi:ti]
	n := copy(dst, src)
	c += n
	cb.head += n
	return c, 0
}

/// ReadInto copies up to len(dst) bytes out of the buffer into dst,
/// returning the number of bytes copied.
func (cb *Circbuf_t) ReadInto(dst []uint8) (int, defs.Err_t) {
	if err := cb.ensure(); err != 0 {
		return 0, err
	}
	if cb.Empty() {
		return 0, 0
	}
	max := len(dst)
	hi := cb.head % cb.bufsz
	ti := cb.tail % cb.bufsz
	c := 0
	if hi <= ti {
		src := cb.buf[ti:]
		if max < len(src) {
			src = src[:max]
		}
		n := copy(dst, src)
		c += n
		cb.tail += n
		if n < len(src) || c == max {
			return c, 0
		}
		ti = cb.tail % cb.bufsz
		dst = dst[n:]
		max -= n
	}
	if max == 0 {
		return c, 0
	}
	src := cb.buf[ti:hi]
	if max < len(src) {
		src = src[:max]
	}
	n := copy(dst, src)
	c += n
	cb.tail += n
	return c, 0
}

/// Rawwrite exposes a slice for writing directly to the buffer at a given
/// offset past head, for producers (e.g. TCP segment reassembly) that want
/// to write out of order without a copy. It returns up to two slices when
/// the target region wraps around the end of the backing array.
func (cb *Circbuf_t) Rawwrite(offset, sz int) ([]uint8, []uint8) {
	if err := cb.ensure(); err != 0 {
		panic("circbuf: out of frames for raw write")
	}
	if cb.Left() < sz {
		panic("bad size")
	}
	if sz == 0 {
		return nil, nil
	}
	oi := (cb.head + offset) % cb.bufsz
	oe := (cb.head + offset + sz) % cb.bufsz
	hi := cb.head % cb.bufsz
	ti := cb.tail % cb.bufsz
	var r1, r2 []uint8
	if ti <= hi {
		if (oi >= ti && oi < hi) || (oe > ti && oe <= hi) {
			panic("intersects with live data")
		}
		r1 = cb.buf[oi:]
		if len(r1) > sz {
			r1 = r1[:sz]
		} else {
			r2 = cb.buf[:oe]
		}
	} else {
		if !(oi >= hi && oi < ti && oe > hi && oe <= ti) {
			panic("intersects with live data")
		}
		r1 = cb.buf[oi:oe]
	}
	return r1, r2
}

/// Advhead advances the head index, exposing previously written bytes to
/// readers, after a Rawwrite producer has filled them in.
func (cb *Circbuf_t) Advhead(sz int) {
	if cb.Full() || cb.Left() < sz {
		panic("advancing full cb")
	}
	cb.head += sz
}

/// Rawread returns slices referencing the buffer starting at offset past
/// tail, for consumers that want to inspect data without removing it yet.
func (cb *Circbuf_t) Rawread(offset int) ([]uint8, []uint8) {
	if err := cb.ensure(); err != 0 {
		panic("circbuf: out of frames for raw read")
	}
	oi := (cb.tail + offset) % cb.bufsz
	hi := cb.head % cb.bufsz
	ti := cb.tail % cb.bufsz
	var r1, r2 []uint8
	if ti < hi {
		if oi >= hi || oi < ti {
			panic("outside live data")
		}
		r1 = cb.buf[oi:hi]
	} else {
		if oi >= hi && oi < ti {
			panic("outside live data")
		}
		tlen := len(cb.buf[ti:])
		if tlen > offset {
			r1 = cb.buf[oi:]
			r2 = cb.buf[:hi]
		} else {
			roff := offset - tlen
			r1 = cb.buf[roff:hi]
		}
	}
	return r1, r2
}

/// Advtail advances the tail index after a consumer has finished with data
/// read in place via Rawread.
func (cb *Circbuf_t) Advtail(sz int) {
	if sz != 0 && (cb.Empty() || cb.Used() < sz) {
		panic("advancing empty cb")
	}
	cb.tail += sz
}
