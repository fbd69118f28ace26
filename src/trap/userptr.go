// Package trap implements the syscall dispatcher (spec §4.G): the
// int-0x80 entry point's typed user-pointer layer plus the per-syscall
// stubs that wire every other subsystem together. Grounded on the
// teacher's vm/userbuf.go, whose Userbuf_t walks user memory one mapped
// page at a time via Userdmap8_inner; the hosted simulator has no page
// faults to take, so UserPtr/UserSlice below validate up front against
// vm.AddressSpace_t.Bytes/ProtAt instead of discovering unmapped pages
// mid-copy.
package trap

import (
	"unicode/utf8"
	"unsafe"

	"sabos/src/defs"
	"sabos/src/vm"
)

func alignOf[T any]() uint64 {
	var zero T
	return uint64(unsafe.Alignof(zero))
}

func sizeOf[T any]() uint64 {
	var zero T
	return uint64(unsafe.Sizeof(zero))
}

// asBytes returns v's in-memory representation as a byte slice, the
// generic stand-in for the teacher's raw pointer casts in mem/dmap.go.
func asBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), sizeOf[T]())
}

/// UserPtr[T] is a validated pointer to a single T sitting in a
/// process's user address space, per §4.G's UserPtr<T>::from_raw.
type UserPtr[T any] struct {
	as   *vm.AddressSpace_t
	addr uint64
}

/// FromRawPtr validates addr: non-null, inside the user-virtual range,
/// and aligned to T's natural alignment, exactly the three checks §4.G
/// names for UserPtr<T>::from_raw.
func FromRawPtr[T any](as *vm.AddressSpace_t, addr uint64) (UserPtr[T], defs.Err_t) {
	if addr == 0 {
		return UserPtr[T]{}, defs.NullPointer
	}
	if addr < vm.UserMin || addr >= vm.UserMax {
		return UserPtr[T]{}, defs.EFAULT
	}
	if addr%alignOf[T]() != 0 {
		return UserPtr[T]{}, defs.MisalignedPointer
	}
	return UserPtr[T]{as: as, addr: addr}, 0
}

/// Addr returns the validated raw address, for syscalls that only need
/// to hand it onward (e.g. as a futex key) rather than dereference it.
func (p UserPtr[T]) Addr() uint64 { return p.addr }

/// Load reads the T at p through the process's page table, returning
/// EFAULT if the backing page turns out not to be mapped.
func (p UserPtr[T]) Load() (T, defs.Err_t) {
	var v T
	b, ok := p.as.Bytes(p.addr)
	sz := sizeOf[T]()
	if !ok || uint64(len(b)) < sz {
		return v, defs.EFAULT
	}
	copy(asBytes(&v), b[:sz])
	return v, 0
}

/// Store writes v at p, rejecting the write with ReadOnly if the
/// mapping's protection bits do not include PROT_W.
func (p UserPtr[T]) Store(v T) defs.Err_t {
	prot, ok := p.as.ProtAt(p.addr)
	if !ok {
		return defs.EFAULT
	}
	if prot&vm.PROT_W == 0 {
		return defs.ReadOnly
	}
	b, ok := p.as.Bytes(p.addr)
	sz := sizeOf[T]()
	if !ok || uint64(len(b)) < sz {
		return defs.EFAULT
	}
	copy(b[:sz], asBytes(&v))
	return 0
}

/// UserSlice[T] is a validated run of len T values starting at addr, per
/// §4.G's UserSlice<T>::from_raw.
type UserSlice[T any] struct {
	as   *vm.AddressSpace_t
	addr uint64
	n    uint64
}

/// FromRawSlice validates (addr, len): a zero-length slice is always
/// valid and decoupled from addr (it may be null); otherwise addr must
/// be non-null and addr + len*sizeof(T) must neither overflow nor leave
/// the user-virtual range.
func FromRawSlice[T any](as *vm.AddressSpace_t, addr uint64, n uint64) (UserSlice[T], defs.Err_t) {
	if n == 0 {
		return UserSlice[T]{as: as, addr: addr, n: 0}, 0
	}
	if addr == 0 {
		return UserSlice[T]{}, defs.NullPointer
	}
	sz := sizeOf[T]()
	byteLen := n * sz
	if sz != 0 && byteLen/sz != n {
		return UserSlice[T]{}, defs.BufferOverflow
	}
	end := addr + byteLen
	if end < addr {
		return UserSlice[T]{}, defs.BufferOverflow
	}
	if addr < vm.UserMin || end > vm.UserMax {
		return UserSlice[T]{}, defs.EFAULT
	}
	if addr%alignOf[T]() != 0 {
		return UserSlice[T]{}, defs.MisalignedPointer
	}
	return UserSlice[T]{as: as, addr: addr, n: n}, 0
}

/// Len reports the number of T elements the slice describes.
func (s UserSlice[T]) Len() uint64 { return s.n }

// forEachPage walks [addr, addr+len) one mapped page at a time, in the
// same page-crossing style as the teacher's Userbuf_t._tx, invoking fn
// with the destination page bytes and the matching offset into the
// logical byte range.
func forEachPage(as *vm.AddressSpace_t, addr uint64, length uint64, write bool, fn func(pageBytes []byte, off uint64) defs.Err_t) defs.Err_t {
	var off uint64
	for off < length {
		va := addr + off
		if write {
			prot, ok := as.ProtAt(va)
			if !ok {
				return defs.EFAULT
			}
			if prot&vm.PROT_W == 0 {
				return defs.ReadOnly
			}
		}
		b, ok := as.Bytes(va)
		if !ok {
			return defs.EFAULT
		}
		remain := length - off
		if uint64(len(b)) > remain {
			b = b[:remain]
		}
		if err := fn(b, off); err != 0 {
			return err
		}
		off += uint64(len(b))
	}
	return 0
}

/// Bytes copies the slice's underlying bytes (for T with no internal
/// padding relevant to the caller, i.e. byte/uint8 slices) out of user
/// memory and returns them.
func (s UserSlice[T]) Bytes() ([]byte, defs.Err_t) {
	sz := sizeOf[T]()
	total := s.n * sz
	out := make([]byte, total)
	err := forEachPage(s.as, s.addr, total, false, func(pageBytes []byte, off uint64) defs.Err_t {
		copy(out[off:], pageBytes)
		return 0
	})
	if err != 0 {
		return nil, err
	}
	return out, 0
}

/// CopyIn copies dst's length worth of bytes out of the slice's user
/// memory into dst, the direction pipe/handle reads and writes most
/// often need.
func (s UserSlice[T]) CopyIn(dst []byte) defs.Err_t {
	sz := sizeOf[T]()
	total := s.n * sz
	if uint64(len(dst)) > total {
		dst = dst[:total]
	}
	return forEachPage(s.as, s.addr, uint64(len(dst)), false, func(pageBytes []byte, off uint64) defs.Err_t {
		copy(dst[off:], pageBytes)
		return 0
	})
}

/// CopyOut writes src into the slice's user memory, truncated to the
/// slice's validated length.
func (s UserSlice[T]) CopyOut(src []byte) defs.Err_t {
	sz := sizeOf[T]()
	total := s.n * sz
	if uint64(len(src)) > total {
		src = src[:total]
	}
	return forEachPage(s.as, s.addr, uint64(len(src)), true, func(pageBytes []byte, off uint64) defs.Err_t {
		copy(pageBytes, src[off:])
		return 0
	})
}

/// AsStr decodes the slice's bytes as UTF-8, per §4.G's as_str, returning
/// InvalidUtf8 if they are not valid.
func (s UserSlice[T]) AsStr() (string, defs.Err_t) {
	b, err := s.Bytes()
	if err != 0 {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", defs.InvalidUtf8
	}
	return string(b), 0
}
