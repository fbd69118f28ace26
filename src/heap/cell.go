package heap

import "unsafe"

// bytesToCell and cellBytes reinterpret a cell's storage between its
// free-list-node form and its allocated byte-slice form, mirroring how the
// teacher's Physpg_t free list threads a `nexti` index through otherwise
// unused page storage -- here the link pointer lives in the first machine
// word of a free cell, which is safe precisely because a free cell has no
// other content to preserve.

func bytesToCell(buf []byte) *freeCell {
	return (*freeCell)(unsafe.Pointer(&buf[0]))
}

func cellBytes(c *freeCell, size int) []byte {
	p := unsafe.Pointer(c)
	return unsafe.Slice((*byte)(p), size)
}

func growToClass(buf []byte, size int) []byte {
	p := unsafe.Pointer(&buf[0])
	return unsafe.Slice((*byte)(p), size)
}

func addrOf(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(&buf[0]))
}
