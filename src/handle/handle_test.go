package handle

import (
	"testing"

	"sabos/src/defs"
)

type fakeUnderlying struct {
	closed   int
	reopened int
	failOpen bool
}

func (f *fakeUnderlying) Close() defs.Err_t {
	f.closed++
	return 0
}

func (f *fakeUnderlying) Reopen() defs.Err_t {
	if f.failOpen {
		return defs.Other
	}
	f.reopened++
	return 0
}

func TestCreateLookupClose(t *testing.T) {
	tbl := New()
	u := &fakeUnderlying{}
	h := tbl.Create(KindFile, defs.READ|defs.WRITE, u)

	e, err := tbl.Lookup(h)
	if err != 0 {
		t.Fatalf("lookup failed: %v", err)
	}
	if e.rights != defs.READ|defs.WRITE {
		t.Fatalf("unexpected rights: %v", e.rights)
	}

	if err := tbl.Close(h); err != 0 {
		t.Fatalf("close failed: %v", err)
	}
	if u.closed != 1 {
		t.Fatalf("expected underlying Close to run once, got %d", u.closed)
	}
	if _, err := tbl.Lookup(h); err != defs.InvalidHandle {
		t.Fatalf("expected InvalidHandle after close, got %v", err)
	}
}

func TestStaleTokenRejectedAfterSlotReuse(t *testing.T) {
	tbl := New()
	u1 := &fakeUnderlying{}
	h1 := tbl.Create(KindFile, defs.READ, u1)
	if err := tbl.Close(h1); err != 0 {
		t.Fatalf("close failed: %v", err)
	}

	u2 := &fakeUnderlying{}
	h2 := tbl.Create(KindFile, defs.READ, u2)
	if h2.Slot != h1.Slot {
		t.Fatalf("expected free-slot reuse, got new slot %d vs old %d", h2.Slot, h1.Slot)
	}
	if h2.Token == h1.Token {
		t.Fatal("expected a fresh token on slot reuse")
	}

	if _, err := tbl.Lookup(h1); err != defs.InvalidHandle {
		t.Fatalf("stale handle should be rejected, got %v", err)
	}
	if _, err := tbl.Lookup(h2); err != 0 {
		t.Fatalf("fresh handle should resolve, got %v", err)
	}
}

func TestRestrictRightsNarrowsOnly(t *testing.T) {
	tbl := New()
	u := &fakeUnderlying{}
	h := tbl.Create(KindFile, defs.READ|defs.WRITE, u)

	narrow, err := tbl.RestrictRights(h, defs.READ)
	if err != 0 {
		t.Fatalf("restrict failed: %v", err)
	}
	r, _ := tbl.Rights(narrow)
	if r != defs.READ {
		t.Fatalf("expected READ only, got %v", r)
	}
	if u.reopened != 1 {
		t.Fatalf("expected Reopen to be called once, got %d", u.reopened)
	}

	if _, err := tbl.RestrictRights(h, defs.READ|defs.DELETE); err != defs.PermissionDenied {
		t.Fatalf("expected PermissionDenied widening rights, got %v", err)
	}
}

func TestDuplicateIndependentClose(t *testing.T) {
	tbl := New()
	u := &fakeUnderlying{}
	h1 := tbl.Create(KindPipe, defs.READ|defs.WRITE, u)

	h2, err := tbl.Duplicate(h1)
	if err != 0 {
		t.Fatalf("duplicate failed: %v", err)
	}
	if h2.Slot == h1.Slot {
		t.Fatal("duplicate should occupy a distinct slot")
	}

	if err := tbl.Close(h1); err != 0 {
		t.Fatalf("close h1 failed: %v", err)
	}
	if _, err := tbl.Lookup(h2); err != 0 {
		t.Fatal("closing h1 must not invalidate h2")
	}
	if u.closed != 1 {
		t.Fatalf("expected exactly one Close so far, got %d", u.closed)
	}
}

func TestOpenatRejectsTraversalAndClampsRights(t *testing.T) {
	tbl := New()
	u := &fakeUnderlying{}
	dirH := tbl.Create(KindDir, defs.LOOKUP|defs.READ, u)
	tbl.slots[dirH.Slot].entry.Path = "/srv"

	path, rights, err := tbl.Openat(dirH, "sub/file.txt", defs.READ|defs.WRITE)
	if err != 0 {
		t.Fatalf("openat failed: %v", err)
	}
	if path != "/srv/sub/file.txt" {
		t.Fatalf("unexpected path: %q", path)
	}
	if rights != defs.READ {
		t.Fatalf("expected rights clamped to dir's LOOKUP|READ intersect requested, got %v", rights)
	}

	if _, _, err := tbl.Openat(dirH, "../escape", defs.READ); err != defs.PathTraversal {
		t.Fatalf("expected PathTraversal for .., got %v", err)
	}
	if _, _, err := tbl.Openat(dirH, "/abs", defs.READ); err != defs.InvalidArgument {
		t.Fatalf("expected InvalidArgument for absolute path, got %v", err)
	}

	noLookup := tbl.Create(KindDir, defs.READ, u)
	if _, _, err := tbl.Openat(noLookup, "x", defs.READ); err != defs.PermissionDenied {
		t.Fatalf("expected PermissionDenied without LOOKUP, got %v", err)
	}
}
