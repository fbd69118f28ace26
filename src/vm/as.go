// Package vm implements per-process address spaces (spec §4.B) and the VMA
// table (§4.C). The teacher's vm/as.go walks a real 4-level x86_64 page
// table reached through a direct-physical-map window (mem.Physmem.Dmap) and
// serializes access with Lock_pmap/Unlock_pmap/Lockassert_pmap around every
// mutation. We keep that locking discipline -- AddressSpace_t embeds the
// same lock-then-assert pattern -- but the page table itself is a Go map
// keyed by virtual page number, since the hosted simulator has no MMU to
// walk.
package vm

import (
	"sync"

	"sabos/src/defs"
	"sabos/src/mem"
)

/// Prot_t is the protection bits of a mapping or a Vma.
type Prot_t uint8

const (
	PROT_R Prot_t = 1 << iota
	PROT_W
	PROT_X
)

type pte_t struct {
	frame  mem.Pa_t
	prot   Prot_t
	kernel bool // owned by the shared kernel half; teardown must not free it
}

/// AddressSpace_t is one process's view of memory: a page table (vaddr page
/// number -> physical frame) plus the VMA list describing the ranges in it.
/// The mutex protects both, exactly as Vm_t's mutex protects Vmregion,
/// Pmap, and P_pmap together in the teacher.
type AddressSpace_t struct {
	mu sync.Mutex

	Id    uint64
	Vmas  Vmatable_t
	pages map[uint64]pte_t

	frames   *mem.FrameAllocator_t
	pgfltaken bool
}

var asIdCounter uint64
var asIdMu sync.Mutex

func nextAsId() uint64 {
	asIdMu.Lock()
	defer asIdMu.Unlock()
	asIdCounter++
	return asIdCounter
}

/// NewKernelSpace creates the single address space kernel tasks share. It
/// has no VMAs of its own; kernel code lives outside the user page-table
/// model entirely in the hosted simulator, so this exists mainly as the
/// source copied from by NewProcessSpace below and as a stable Id for the
/// futex key's address-space component (see design note in futex package).
func NewKernelSpace(frames *mem.FrameAllocator_t) *AddressSpace_t {
	return &AddressSpace_t{
		Id:     nextAsId(),
		pages:  make(map[uint64]pte_t),
		frames: frames,
	}
}

/// NewProcessSpace allocates a fresh address space and copies the kernel
/// half's mappings into it by reference (frame + prot, tagged kernel:true)
/// so a process can still resolve kernel-owned pages without those frames
/// being freed when
/// the process's user half is torn down.
func NewProcessSpace(kernel *AddressSpace_t) *AddressSpace_t {
	as := &AddressSpace_t{
		Id:     nextAsId(),
		pages:  make(map[uint64]pte_t),
		frames: kernel.frames,
	}
	kernel.mu.Lock()
	for va, p := range kernel.pages {
		p.kernel = true
		as.pages[va] = p
	}
	kernel.mu.Unlock()
	return as
}

func pageOf(vaddr uint64) uint64 {
	return vaddr &^ (mem.PGSIZE - 1)
}

/// UserMin is the lowest valid user-virtual address, grounded on the
/// teacher's mem/dmap.go USERMIN (VUSER << 39): a round value well above
/// the hosted simulator's reserved low addresses, used by src/trap's
/// UserPtr/UserSlice range validation.
const UserMin uint64 = 1 << 39

/// UserMax is one past the highest valid user-virtual address.
const UserMax uint64 = UserMin + (1 << 46)

/// Lock acquires the address space lock, matching Lock_pmap's role of
/// serializing page-table mutation against concurrent page faults.
func (as *AddressSpace_t) Lock() {
	as.mu.Lock()
	as.pgfltaken = true
}

/// Unlock releases the address space lock.
func (as *AddressSpace_t) Unlock() {
	as.pgfltaken = false
	as.mu.Unlock()
}

func (as *AddressSpace_t) lockassert() {
	if !as.pgfltaken {
		panic("address space lock must be held")
	}
}

/// Map installs vaddr -> frame with the given protection. It is an error
/// for the leaf to already be present, matching §4.B's map contract.
func (as *AddressSpace_t) Map(vaddr uint64, frame mem.Pa_t, prot Prot_t) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	return as.mapLocked(vaddr, frame, prot)
}

func (as *AddressSpace_t) mapLocked(vaddr uint64, frame mem.Pa_t, prot Prot_t) defs.Err_t {
	as.lockassert()
	vp := pageOf(vaddr)
	if _, ok := as.pages[vp]; ok {
		return defs.Other
	}
	as.pages[vp] = pte_t{frame: frame, prot: prot}
	return 0
}

/// Unmap removes the mapping at vaddr and returns the frame it referenced,
/// if any, leaving it to the caller to decide whether to free it -- a
/// kernel-shared frame must not be freed by a user-half teardown.
func (as *AddressSpace_t) Unmap(vaddr uint64) (mem.Pa_t, bool) {
	as.Lock()
	defer as.Unlock()
	vp := pageOf(vaddr)
	p, ok := as.pages[vp]
	if !ok {
		return 0, false
	}
	delete(as.pages, vp)
	return p.frame, true
}

/// Translate resolves a virtual address to its backing physical address.
func (as *AddressSpace_t) Translate(vaddr uint64) (mem.Pa_t, bool) {
	as.Lock()
	defer as.Unlock()
	p, ok := as.pages[pageOf(vaddr)]
	if !ok {
		return 0, false
	}
	off := mem.Pa_t(vaddr &^ pageOf(vaddr))
	return p.frame + off, true
}

/// ProtAt returns the protection bits mapped at vaddr, used by the trap
/// dispatcher's UserPtr validation to reject a write through a read-only
/// page.
func (as *AddressSpace_t) ProtAt(vaddr uint64) (Prot_t, bool) {
	as.Lock()
	defer as.Unlock()
	p, ok := as.pages[pageOf(vaddr)]
	if !ok {
		return 0, false
	}
	return p.prot, true
}

/// DestroySpace walks only the user half (non-kernel-tagged entries),
/// freeing every leaf frame it owns, per §4.B's destroy_user_space.
func (as *AddressSpace_t) DestroySpace() {
	as.Lock()
	defer as.Unlock()
	for vp, p := range as.pages {
		if !p.kernel {
			as.frames.Free(p.frame)
		}
		delete(as.pages, vp)
	}
}

/// Bytes returns a byte slice view of the frame backing vaddr, honoring the
/// page boundary starting at vaddr's offset -- the hosted equivalent of
/// Userdmap8_inner's direct-mapped slice return.
func (as *AddressSpace_t) Bytes(vaddr uint64) ([]byte, bool) {
	as.Lock()
	defer as.Unlock()
	vp := pageOf(vaddr)
	p, ok := as.pages[vp]
	if !ok {
		return nil, false
	}
	off := int(vaddr - vp)
	b := as.frames.Bytes(p.frame)
	return b[off:], true
}
