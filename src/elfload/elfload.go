// Package elfload parses 64-bit ELF executables and builds the process
// address space that runs them (spec §4.E). Grounded on the teacher's
// kernel/chentry.go, which already reaches for debug/elf to inspect a
// kernel image's header rather than hand-rolling an ELF parser; we widen
// that same approach from header-only validation to a full LOAD-segment
// loader, and add an x86/x86asm sanity disassembly of the entry point so a
// corrupt or mistargeted e_entry is caught before anything ever transfers
// control to it.
package elfload

import (
	"bytes"
	"debug/elf"

	"golang.org/x/arch/x86/x86asm"

	"sabos/src/defs"
	"sabos/src/mem"
	"sabos/src/vm"
)

// UserStackSize is the default size reserved for a new process's stack, per
// §3's VMA layout contract (">= 64 KiB").
const UserStackSize = 64 * 1024

// userStackTop is the fixed high address the stack is mapped below, per §3.
const userStackTop = 0x7fff_f000_0000

// kernelHalfStart is the lowest address reserved for the shared kernel
// mapping; a LOAD segment that reaches it is rejected rather than silently
// clobbering kernel pages.
const kernelHalfStart = 0xffff_8000_0000_0000

/// Image_t is the result of a successful load: the address space the
/// process runs in plus the register state needed to start it in Ring 3.
type Image_t struct {
	As           *vm.AddressSpace_t
	EntryPoint   uint64
	UserStackTop uint64
	Argc         uint64
	ArgvPtr      uint64
	EnvpPtr      uint64
}

/// Load parses elfBytes, maps every PT_LOAD segment and a user stack into a
/// fresh address space built on top of kernel, writes argv/envp onto the
/// stack, and returns the entry context. On any error, every frame
/// allocated so far is freed before returning -- callers never have to
/// unwind a partially built address space themselves.
func Load(elfBytes []byte, argv []string, envp []string, frames *mem.FrameAllocator_t, kernel *vm.AddressSpace_t) (*Image_t, defs.Err_t) {
	ef, err := elf.NewFile(bytes.NewReader(elfBytes))
	if err != nil {
		return nil, defs.InvalidArgument
	}
	if verr := validateHeader(&ef.FileHeader); verr != 0 {
		return nil, verr
	}

	as := vm.NewProcessSpace(kernel)
	allocated := make([]mem.Pa_t, 0, 64)
	freeAll := func() {
		for _, f := range allocated {
			frames.Free(f)
		}
	}

	entryFound := false
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		vaddr := prog.Vaddr
		memsz := prog.Memsz
		filesz := prog.Filesz
		if memsz == 0 {
			continue
		}
		segStart := vaddr &^ (mem.PGSIZE - 1)
		segEnd := roundup(vaddr+memsz, mem.PGSIZE)
		if segEnd > kernelHalfStart || segEnd < segStart {
			freeAll()
			return nil, defs.BufferOverflow
		}

		prot := progflagsToProt(prog.Flags)
		data := make([]byte, filesz)
		if filesz > 0 {
			if _, rerr := prog.ReadAt(data, 0); rerr != nil {
				freeAll()
				return nil, defs.InvalidArgument
			}
		}

		fileOff := vaddr - segStart // bytes of leading padding in the first page
		written := uint64(0)
		for pageAddr := segStart; pageAddr < segEnd; pageAddr += mem.PGSIZE {
			frame, ferr := frames.Alloc()
			if ferr != 0 {
				freeAll()
				return nil, defs.Other
			}
			allocated = append(allocated, frame)

			buf := frames.Bytes(frame)
			// the page is already zeroed by Alloc; copy in whatever part of
			// filesz falls within this page.
			pageStart := uint64(0)
			if pageAddr == segStart {
				pageStart = fileOff
			}
			for pageStart < mem.PGSIZE && written < filesz {
				buf[pageStart] = data[written]
				pageStart++
				written++
			}

			if merr := as.Map(pageAddr, frame, prot); merr != 0 {
				freeAll()
				return nil, merr
			}
		}

		kind := vm.ElfLoad
		if err := as.Vmas.Insert(vm.Vma_t{Start: segStart, End: segEnd, Prot: prot, Kind: kind, Name: "elf-load"}); err != 0 {
			freeAll()
			return nil, err
		}

		if prot&vm.PROT_X != 0 && ef.Entry >= vaddr && ef.Entry < vaddr+filesz {
			entryFound = true
			off := ef.Entry - vaddr
			if derr := validateEntry(data[off:]); derr != 0 {
				freeAll()
				return nil, derr
			}
		}
	}
	if !entryFound {
		freeAll()
		return nil, defs.InvalidArgument
	}

	stackBase := userStackTop - UserStackSize
	for pageAddr := stackBase; pageAddr < userStackTop; pageAddr += mem.PGSIZE {
		frame, ferr := frames.Alloc()
		if ferr != 0 {
			freeAll()
			return nil, defs.Other
		}
		allocated = append(allocated, frame)
		if merr := as.Map(pageAddr, frame, vm.PROT_R|vm.PROT_W); merr != 0 {
			freeAll()
			return nil, merr
		}
	}
	if err := as.Vmas.Insert(vm.Vma_t{Start: stackBase, End: userStackTop, Prot: vm.PROT_R | vm.PROT_W, Kind: vm.UserStack, Name: "stack"}); err != 0 {
		freeAll()
		return nil, err
	}

	sp, argvPtr, envpPtr, argc, serr := writeStackArgs(as, stackBase, userStackTop, argv, envp)
	if serr != 0 {
		freeAll()
		return nil, serr
	}

	return &Image_t{
		As:           as,
		EntryPoint:   ef.Entry,
		UserStackTop: sp,
		Argc:         argc,
		ArgvPtr:      argvPtr,
		EnvpPtr:      envpPtr,
	}, 0
}

func validateHeader(eh *elf.FileHeader) defs.Err_t {
	if eh.Class != elf.ELFCLASS64 {
		return defs.InvalidArgument
	}
	if eh.Data != elf.ELFDATA2LSB {
		return defs.InvalidArgument
	}
	if eh.Machine != elf.EM_X86_64 {
		return defs.InvalidArgument
	}
	if eh.Type != elf.ET_EXEC && eh.Type != elf.ET_DYN {
		return defs.InvalidArgument
	}
	return 0
}

// validateEntry disassembles the instruction at the entry point's file
// offset to confirm it decodes as a plausible instruction before the
// loader ever hands control to it -- a malformed e_entry pointing into the
// middle of data, or past the end of the image, is caught here rather than
// faulting Ring 3 on first fetch. We look in the executable PT_LOAD
// segment's own bytes rather than section headers, since a stripped
// executable has no section table to consult at all.
func validateEntry(atEntry []byte) defs.Err_t {
	if len(atEntry) == 0 {
		return defs.InvalidArgument
	}
	if _, derr := x86asm.Decode(atEntry, 64); derr != nil {
		return defs.InvalidArgument
	}
	return 0
}

func progflagsToProt(flags elf.ProgFlag) vm.Prot_t {
	var p vm.Prot_t
	if flags&elf.PF_R != 0 {
		p |= vm.PROT_R
	}
	if flags&elf.PF_W != 0 {
		p |= vm.PROT_W
	}
	if flags&elf.PF_X != 0 {
		p |= vm.PROT_X
	}
	return p
}

func roundup(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}
