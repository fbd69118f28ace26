// Command elfcheck validates that a file is a loadable sabos executable.
// Grounded on the teacher's kernel/chentry.go, which reaches for
// debug/elf to check a kernel image's header before trusting it; this
// widens that same header check into a full dry run through
// sabos/src/elfload.Load, the real loader every spawned task's binary
// passes through, against a scratch frame allocator and kernel address
// space that are thrown away afterward.
package main

import (
	"bytes"
	"debug/elf"
	"fmt"
	"os"

	"sabos/src/elfload"
	"sabos/src/mem"
	"sabos/src/vm"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: elfcheck <filename>\n")
	os.Exit(1)
}

// chkHeader rejects anything that isn't a little-endian x86_64
// executable, the same four checks chentry.go's chkELF performs before
// it trusts an image enough to rewrite its entry point.
func chkHeader(eh *elf.FileHeader) error {
	if eh.Ident[0] != 0x7f || string(eh.Ident[1:4]) != "ELF" {
		return fmt.Errorf("not an elf")
	}
	if eh.Ident[elf.EI_DATA] != elf.ELFDATA2LSB {
		return fmt.Errorf("not little-endian")
	}
	if eh.Type != elf.ET_EXEC && eh.Type != elf.ET_DYN {
		return fmt.Errorf("not an executable elf")
	}
	if eh.Machine != elf.EM_X86_64 {
		return fmt.Errorf("not a 64 bit elf")
	}
	return nil
}

func main() {
	if len(os.Args) != 2 {
		usage()
	}
	fn := os.Args[1]

	data, err := os.ReadFile(fn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "elfcheck: %v\n", err)
		os.Exit(1)
	}

	ef, eerr := elf.NewFile(bytes.NewReader(data))
	if eerr != nil {
		fmt.Fprintf(os.Stderr, "elfcheck: %v\n", eerr)
		os.Exit(1)
	}
	if herr := chkHeader(&ef.FileHeader); herr != nil {
		fmt.Fprintf(os.Stderr, "elfcheck: %v\n", herr)
		os.Exit(1)
	}
	fmt.Printf("elfcheck: header ok, entry 0x%x\n", ef.Entry)

	frames := mem.NewFrameAllocator(4096)
	kas := vm.NewKernelSpace(frames)
	img, lerr := elfload.Load(data, []string{fn}, nil, frames, kas)
	if lerr != 0 {
		fmt.Fprintf(os.Stderr, "elfcheck: load: %s\n", lerr)
		os.Exit(1)
	}

	fmt.Printf("elfcheck: loads cleanly, entry 0x%x, stack top 0x%x\n", img.EntryPoint, img.UserStackTop)
}
