package elfload

import (
	"bytes"
	"encoding/binary"
	"testing"

	"sabos/src/mem"
	"sabos/src/vm"
)

// buildMinimalElf assembles a tiny but well-formed ELF64 executable: one
// PT_LOAD segment holding a NOP sled ending in a RET, entry point at the
// segment's base.
func buildMinimalElf(entry uint64) []byte {
	const ehsize = 64
	const phsize = 56
	code := []byte{0x90, 0x90, 0x90, 0xc3} // nop; nop; nop; ret

	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	write16 := func(v uint16) { binary.Write(&buf, binary.LittleEndian, v) }
	write32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }
	write64 := func(v uint64) { binary.Write(&buf, binary.LittleEndian, v) }

	write16(2)     // e_type = ET_EXEC
	write16(62)    // e_machine = EM_X86_64
	write32(1)     // e_version
	write64(entry) // e_entry
	write64(ehsize) // e_phoff
	write64(0)     // e_shoff
	write32(0)     // e_flags
	write16(ehsize)
	write16(phsize)
	write16(1) // e_phnum
	write16(64)
	write16(0)
	write16(0)

	phOff := uint64(ehsize)
	codeOff := phOff + phsize

	write32(1)          // p_type = PT_LOAD
	write32(5)          // p_flags = PF_X|PF_R
	write64(codeOff)    // p_offset
	write64(entry)      // p_vaddr
	write64(entry)      // p_paddr
	write64(uint64(len(code))) // p_filesz
	write64(0x1000)     // p_memsz
	write64(0x1000)     // p_align

	buf.Write(code)
	return buf.Bytes()
}

func TestLoadMapsSegmentsAndStack(t *testing.T) {
	elfBytes := buildMinimalElf(0x400000)
	frames := mem.NewFrameAllocator(4096)
	kernel := vm.NewKernelSpace(frames)

	img, err := Load(elfBytes, []string{"prog", "arg1"}, []string{"PATH=/bin"}, frames, kernel)
	if err != 0 {
		t.Fatalf("Load failed: %v", err)
	}
	if img.EntryPoint != 0x400000 {
		t.Fatalf("want entry 0x400000, got %#x", img.EntryPoint)
	}
	if img.Argc != 2 {
		t.Fatalf("want argc 2, got %d", img.Argc)
	}
	if img.UserStackTop%16 != 8 {
		t.Fatalf("stack top must leave room for a pushed return address to reach 16-byte alignment, got %#x", img.UserStackTop)
	}
	if img.UserStackTop >= userStackTop || img.UserStackTop < userStackTop-UserStackSize {
		t.Fatalf("stack top out of expected range: %#x", img.UserStackTop)
	}

	pa, ok := img.As.Translate(0x400000)
	if !ok {
		t.Fatal("entry page not mapped")
	}
	b := frames.Bytes(pa)
	if b[0] != 0x90 {
		t.Fatalf("want NOP at entry, got %#x", b[0])
	}

	prot, ok := img.As.ProtAt(0x400000)
	if !ok || prot&vm.PROT_X == 0 {
		t.Fatal("entry page must be executable")
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	frames := mem.NewFrameAllocator(64)
	kernel := vm.NewKernelSpace(frames)
	if _, err := Load([]byte("not an elf"), nil, nil, frames, kernel); err == 0 {
		t.Fatal("expected rejection of garbage input")
	}
}

func TestLoadFreesFramesOnExhaustion(t *testing.T) {
	elfBytes := buildMinimalElf(0x400000)
	frames := mem.NewFrameAllocator(1) // not enough for segment + stack
	kernel := vm.NewKernelSpace(frames)

	if _, err := Load(elfBytes, nil, nil, frames, kernel); err == 0 {
		t.Fatal("expected allocation failure with too few frames")
	}
	if st := frames.Stats(); st.AllocatedFrames != 0 {
		t.Fatalf("want every frame freed after failed load, got %d allocated", st.AllocatedFrames)
	}
}
