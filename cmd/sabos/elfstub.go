package main

import (
	"bytes"
	"encoding/binary"
)

// buildStubElf assembles a minimal but well-formed ELF64 executable: one
// PT_LOAD segment holding a few NOPs and a RET, entry point at the
// segment's base. Registered builtin programs never actually run this
// code -- their behavior comes entirely from the ProgramEntry_i closure
// RegisterProgram binds to their path -- but sysSpawn loads every child
// through the real sabos/src/elfload path, so each one needs a file at
// its path that parses and maps cleanly.
func buildStubElf(entry uint64) []byte {
	const ehsize = 64
	const phsize = 56
	code := []byte{0x90, 0x90, 0x90, 0xc3} // nop; nop; nop; ret

	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	write16 := func(v uint16) { binary.Write(&buf, binary.LittleEndian, v) }
	write32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }
	write64 := func(v uint64) { binary.Write(&buf, binary.LittleEndian, v) }

	write16(2)      // e_type = ET_EXEC
	write16(62)     // e_machine = EM_X86_64
	write32(1)      // e_version
	write64(entry)  // e_entry
	write64(ehsize) // e_phoff
	write64(0)      // e_shoff
	write32(0)      // e_flags
	write16(ehsize)
	write16(phsize)
	write16(1) // e_phnum
	write16(64)
	write16(0)
	write16(0)

	phOff := uint64(ehsize)
	codeOff := phOff + phsize

	write32(1)                 // p_type = PT_LOAD
	write32(5)                 // p_flags = PF_X|PF_R
	write64(codeOff)           // p_offset
	write64(entry)              // p_vaddr
	write64(entry)              // p_paddr
	write64(uint64(len(code))) // p_filesz
	write64(uint64(len(code))) // p_memsz
	write64(0x1000)            // p_align

	buf.Write(code)
	return buf.Bytes()
}
