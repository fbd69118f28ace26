package vm

import "sabos/src/defs"

/// Kind_t enumerates the purpose of a Vma, recorded for diagnostics. It
/// does not change how pages are backed: mmap and the ELF loader map a
/// frame for every page up front, whatever the kind.
type Kind_t int

const (
	Anonymous Kind_t = iota
	ElfLoad
	UserStack
)

/// Vma_t is one [Start,End) range of a process's virtual address space, per
/// spec §3: start < end, both page-aligned, non-overlapping within a list.
type Vma_t struct {
	Start uint64
	End   uint64
	Prot  Prot_t
	Kind  Kind_t
	Name  string
}

/// Vmatable_t is the per-process sorted list of Vmas described in §4.C.
/// Kept sorted by Start so insert can reject overlaps with a linear scan
/// and find-free can walk the gaps in one pass.
type Vmatable_t struct {
	list []Vma_t
}

/// Insert adds v to the table, rejecting it if it overlaps any existing
/// entry.
func (t *Vmatable_t) Insert(v Vma_t) defs.Err_t {
	if v.Start >= v.End {
		return defs.InvalidArgument
	}
	idx := 0
	for idx < len(t.list) && t.list[idx].Start < v.Start {
		if overlaps(t.list[idx], v) {
			return defs.Other
		}
		idx++
	}
	if idx < len(t.list) && overlaps(t.list[idx], v) {
		return defs.Other
	}
	t.list = append(t.list, Vma_t{})
	copy(t.list[idx+1:], t.list[idx:])
	t.list[idx] = v
	return 0
}

func overlaps(a, b Vma_t) bool {
	return a.Start < b.End && b.Start < a.End
}

/// FindFreeRegion returns the lowest address in [base,limit) with size
/// contiguous free bytes, first-fit over the gaps between existing Vmas.
func (t *Vmatable_t) FindFreeRegion(size, base, limit uint64) (uint64, bool) {
	cursor := base
	for _, v := range t.list {
		if v.Start < base {
			if v.End > cursor {
				cursor = v.End
			}
			continue
		}
		if v.Start >= limit {
			break
		}
		gapEnd := v.Start
		if gapEnd > limit {
			gapEnd = limit
		}
		if gapEnd > cursor && gapEnd-cursor >= size {
			return cursor, true
		}
		if v.End > cursor {
			cursor = v.End
		}
	}
	if limit > cursor && limit-cursor >= size {
		return cursor, true
	}
	return 0, false
}

/// RemoveRange removes [start,end) from the table, splitting or truncating
/// any Vma that only partially falls inside the range, and returns every
/// removed-or-split piece that used to occupy part of [start,end).
func (t *Vmatable_t) RemoveRange(start, end uint64) []Vma_t {
	var removed []Vma_t
	var kept []Vma_t
	for _, v := range t.list {
		if v.End <= start || v.Start >= end {
			kept = append(kept, v)
			continue
		}
		// v intersects [start,end) somewhere.
		if v.Start < start {
			left := v
			left.End = start
			kept = append(kept, left)
		}
		mid := v
		if mid.Start < start {
			mid.Start = start
		}
		if mid.End > end {
			mid.End = end
		}
		removed = append(removed, mid)
		if v.End > end {
			right := v
			right.Start = end
			kept = append(kept, right)
		}
	}
	t.list = kept
	return removed
}

/// Lookup returns the Vma, if any, containing vaddr.
func (t *Vmatable_t) Lookup(vaddr uint64) (Vma_t, bool) {
	for _, v := range t.list {
		if vaddr >= v.Start && vaddr < v.End {
			return v, true
		}
	}
	return Vma_t{}, false
}

/// Len reports the number of Vmas currently tracked, for tests.
func (t *Vmatable_t) Len() int {
	return len(t.list)
}

/// All returns a copy of the current Vma list, ordered by Start.
func (t *Vmatable_t) All() []Vma_t {
	out := make([]Vma_t, len(t.list))
	copy(out, t.list)
	return out
}
