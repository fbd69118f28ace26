package elfload

import (
	"encoding/binary"

	"sabos/src/defs"
	"sabos/src/vm"
)

// writeBytes copies data into as starting at vaddr, one page at a time via
// as.Bytes -- the hosted stand-in for writing through a direct-physical-map
// window a page at a time, since a single mapped page's byte slice never
// crosses a page boundary.
func writeBytes(as *vm.AddressSpace_t, vaddr uint64, data []byte) defs.Err_t {
	for len(data) > 0 {
		page, ok := as.Bytes(vaddr)
		if !ok {
			return defs.EFAULT
		}
		n := len(page)
		if n > len(data) {
			n = len(data)
		}
		copy(page[:n], data[:n])
		data = data[n:]
		vaddr += uint64(n)
	}
	return 0
}

// writeStackArgs lays out argv and envp strings followed by their
// null-terminated pointer arrays and argc at the top of the user stack, per
// §4.E step 5, returning the final stack pointer 16-byte aligned for the
// platform ABI once the entry trampoline pushes its return address.
func writeStackArgs(as *vm.AddressSpace_t, stackBase, stackTop uint64, argv, envp []string) (sp, argvPtr, envpPtr, argc uint64, err defs.Err_t) {
	cursor := stackTop

	writeStr := func(s string) (uint64, defs.Err_t) {
		b := append([]byte(s), 0)
		cursor -= uint64(len(b))
		if cursor < stackBase {
			return 0, defs.BufferOverflow
		}
		if werr := writeBytes(as, cursor, b); werr != 0 {
			return 0, werr
		}
		return cursor, 0
	}

	envPtrs := make([]uint64, 0, len(envp))
	for i := len(envp) - 1; i >= 0; i-- {
		p, werr := writeStr(envp[i])
		if werr != 0 {
			return 0, 0, 0, 0, werr
		}
		envPtrs = append(envPtrs, p)
	}
	argPtrs := make([]uint64, 0, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		p, werr := writeStr(argv[i])
		if werr != 0 {
			return 0, 0, 0, 0, werr
		}
		argPtrs = append(argPtrs, p)
	}

	// align down to 8 bytes before the pointer arrays.
	cursor &^= 7

	writePtrArray := func(ptrs []uint64) (uint64, defs.Err_t) {
		// reverse into ascending order and null-terminate.
		n := len(ptrs)
		buf := make([]byte, (n+1)*8)
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint64(buf[i*8:], ptrs[n-1-i])
		}
		binary.LittleEndian.PutUint64(buf[n*8:], 0)
		cursor -= uint64(len(buf))
		if cursor < stackBase {
			return 0, defs.BufferOverflow
		}
		if werr := writeBytes(as, cursor, buf); werr != 0 {
			return 0, werr
		}
		return cursor, 0
	}

	envpArr, werr := writePtrArray(envPtrs)
	if werr != 0 {
		return 0, 0, 0, 0, werr
	}
	argvArr, werr := writePtrArray(argPtrs)
	if werr != 0 {
		return 0, 0, 0, 0, werr
	}

	argcVal := uint64(len(argv))
	cursor -= 8
	if cursor < stackBase {
		return 0, 0, 0, 0, defs.BufferOverflow
	}
	var argcBuf [8]byte
	binary.LittleEndian.PutUint64(argcBuf[:], argcVal)
	if werr := writeBytes(as, cursor, argcBuf[:]); werr != 0 {
		return 0, 0, 0, 0, werr
	}

	// final stack pointer must be 16-byte aligned once the entry trampoline
	// pushes a return address (8 bytes), so align cursor down to leave it
	// 8-mod-16 here.
	if cursor%16 != 8 {
		cursor &^= 0xf
		cursor -= 8
	}
	if cursor < stackBase {
		return 0, 0, 0, 0, defs.BufferOverflow
	}

	return cursor, argvArr, envpArr, argcVal, 0
}
