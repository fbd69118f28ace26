// Package handle implements the capability handle table (spec §4.H).
// Grounded on the teacher's fd/fd.go: Fd_t's permission bits generalize
// into defs.Rights_t, and Copyfd's reopen-to-duplicate pattern becomes
// duplicate_handle here. Where the teacher keys everything off a flat
// per-process Fd_t slice indexed directly by the caller, this table adds
// the (slot, token) capability pair spec §3's data model calls for:
// a slot index alone is guessable and reusable, so every lookup also
// checks a per-slot token that changes on every create/free cycle.
package handle

import (
	"sync"

	"sabos/src/defs"
)

/// Kind_t identifies what an Entry's Data points at.
type Kind_t int

const (
	KindFile Kind_t = iota
	KindDir
	KindPipe
	KindIpc
)

/// Underlying is implemented by whatever concrete object a handle refers
/// to (an open file buffer, a directory cursor, a pipe end, an IPC
/// endpoint). Close releases any resource the entry alone owns; Reopen is
/// called by Duplicate to let the object adjust shared refcounts (a pipe
/// bumps its writer count the way the teacher's Fops.Reopen does).
type Underlying interface {
	Close() defs.Err_t
	Reopen() defs.Err_t
}

/// Entry_t is one occupied handle-table slot.
type Entry_t struct {
	token  uint64
	kind   Kind_t
	rights defs.Rights_t
	data   Underlying

	// Path is set for directory entries so openat can concatenate
	// relative components without re-deriving them from data.
	Path string
}

/// Handle_t is the opaque capability returned to callers: a slot index
/// paired with the token that was live in that slot at creation time.
type Handle_t struct {
	Slot  uint32
	Token uint64
}

type slot_t struct {
	entry *Entry_t // nil if free
	token uint64
	next  int // free-list link when entry == nil; -1 terminates
}

/// Table_t is a process's handle table: a growable slice of slots with
/// free-slot reuse through an intrusive free list, exactly the shape of
/// the teacher's Vec<Option<Entry>> design in spec §4.H translated into
/// Go.
type Table_t struct {
	mu        sync.Mutex
	slots     []slot_t
	freeHead  int // index of first free slot, -1 if none
	tokenNext uint64
}

/// New returns an empty handle table.
func New() *Table_t {
	return &Table_t{freeHead: -1}
}

func (t *Table_t) nextToken() uint64 {
	t.tokenNext++
	return t.tokenNext
}

/// Create installs a new entry and returns the handle naming it.
func (t *Table_t) Create(kind Kind_t, rights defs.Rights_t, data Underlying) Handle_t {
	t.mu.Lock()
	defer t.mu.Unlock()

	tok := t.nextToken()
	e := &Entry_t{token: tok, kind: kind, rights: rights, data: data}

	if t.freeHead >= 0 {
		idx := t.freeHead
		t.freeHead = t.slots[idx].next
		t.slots[idx] = slot_t{entry: e, token: tok}
		return Handle_t{Slot: uint32(idx), Token: tok}
	}

	t.slots = append(t.slots, slot_t{entry: e, token: tok})
	return Handle_t{Slot: uint32(len(t.slots) - 1), Token: tok}
}

/// Lookup resolves h to its entry, succeeding iff the slot is occupied
/// and its token matches.
func (t *Table_t) Lookup(h Handle_t) (*Entry_t, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookupLocked(h)
}

func (t *Table_t) lookupLocked(h Handle_t) (*Entry_t, defs.Err_t) {
	if int(h.Slot) >= len(t.slots) {
		return nil, defs.InvalidHandle
	}
	s := t.slots[h.Slot]
	if s.entry == nil || s.token != h.Token {
		return nil, defs.InvalidHandle
	}
	return s.entry, 0
}

/// Close releases h: the underlying object's Close is invoked and the
/// slot is returned to the free list under a fresh token, so a stale
/// copy of h can never resolve again even if the slot is reused.
func (t *Table_t) Close(h Handle_t) defs.Err_t {
	t.mu.Lock()
	e, err := t.lookupLocked(h)
	if err != 0 {
		t.mu.Unlock()
		return err
	}
	idx := int(h.Slot)
	t.slots[idx] = slot_t{entry: nil, next: t.freeHead}
	t.freeHead = idx
	t.mu.Unlock()

	return e.data.Close()
}

/// Rights returns the rights bits attached to h's entry.
func (t *Table_t) Rights(h Handle_t) (defs.Rights_t, defs.Err_t) {
	e, err := t.Lookup(h)
	if err != 0 {
		return 0, err
	}
	return e.rights, 0
}

/// RestrictRights creates a new handle over the same underlying entry
/// with a narrower right set. new must be a subset of h's current
/// rights, per §4.H; widening is always rejected.
func (t *Table_t) RestrictRights(h Handle_t, newRights defs.Rights_t) (Handle_t, defs.Err_t) {
	t.mu.Lock()
	e, err := t.lookupLocked(h)
	if err != 0 {
		t.mu.Unlock()
		return Handle_t{}, err
	}
	if !newRights.Subset(e.rights) {
		t.mu.Unlock()
		return Handle_t{}, defs.PermissionDenied
	}
	if rerr := e.data.Reopen(); rerr != 0 {
		t.mu.Unlock()
		return Handle_t{}, rerr
	}
	tok := t.nextToken()
	ne := &Entry_t{token: tok, kind: e.kind, rights: newRights, data: e.data, Path: e.Path}
	t.mu.Unlock()

	return t.install(ne, tok), 0
}

/// Duplicate creates a second, independent handle over the same
/// underlying entry and rights, used at child spawn so parent and child
/// can each close their own copy without disturbing the other -- the
/// same role Copyfd plays for the teacher's process fork path.
func (t *Table_t) Duplicate(h Handle_t) (Handle_t, defs.Err_t) {
	t.mu.Lock()
	e, err := t.lookupLocked(h)
	if err != 0 {
		t.mu.Unlock()
		return Handle_t{}, err
	}
	if rerr := e.data.Reopen(); rerr != 0 {
		t.mu.Unlock()
		return Handle_t{}, rerr
	}
	tok := t.nextToken()
	ne := &Entry_t{token: tok, kind: e.kind, rights: e.rights, data: e.data, Path: e.Path}
	t.mu.Unlock()

	return t.install(ne, tok), 0
}

func (t *Table_t) install(e *Entry_t, tok uint64) Handle_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.freeHead >= 0 {
		idx := t.freeHead
		t.freeHead = t.slots[idx].next
		t.slots[idx] = slot_t{entry: e, token: tok}
		return Handle_t{Slot: uint32(idx), Token: tok}
	}
	t.slots = append(t.slots, slot_t{entry: e, token: tok})
	return Handle_t{Slot: uint32(len(t.slots) - 1), Token: tok}
}

/// Kind reports the kind of object h names.
func (t *Table_t) Kind(h Handle_t) (Kind_t, defs.Err_t) {
	e, err := t.Lookup(h)
	if err != 0 {
		return 0, err
	}
	return e.kind, 0
}

/// Data returns the concrete object behind h, for callers (pipe, vfs)
/// that need to type-assert it back to their own concrete type.
func (t *Table_t) Data(h Handle_t) (Underlying, defs.Err_t) {
	e, err := t.Lookup(h)
	if err != 0 {
		return nil, err
	}
	return e.data, 0
}

/// Openat validates a relative-path lookup beneath a directory handle
/// per §4.H: dir_h must carry LOOKUP, rel must not be absolute
/// (InvalidArgument) and must not contain a "." or ".." component
/// (PathTraversal), and the rights handed to the caller are clamped to
/// requested ∩ dir_h.rights. It returns the
/// concatenated absolute path for the VFS layer to actually resolve;
/// installing the resulting handle is left to the caller, who has the
/// freshly opened Underlying in hand only after calling into the VFS.
func (t *Table_t) Openat(dirH Handle_t, rel string, requested defs.Rights_t) (path string, rights defs.Rights_t, err defs.Err_t) {
	e, lerr := t.Lookup(dirH)
	if lerr != 0 {
		return "", 0, lerr
	}
	if e.kind != KindDir {
		return "", 0, defs.NotADirectory
	}
	if !e.rights.Has(defs.LOOKUP) {
		return "", 0, defs.PermissionDenied
	}
	if rel != "" && rel[0] == '/' {
		return "", 0, defs.InvalidArgument
	}
	if rel == "" {
		return "", 0, defs.PathTraversal
	}
	for _, comp := range splitComponents(rel) {
		if comp == "." || comp == ".." {
			return "", 0, defs.PathTraversal
		}
	}
	full := e.Path
	if full == "" || full[len(full)-1] != '/' {
		full += "/"
	}
	full += rel

	clamped := requested & e.rights
	return full, clamped, 0
}

func splitComponents(p string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				out = append(out, p[start:i])
			}
			start = i + 1
		}
	}
	return out
}
