package vm

import "testing"

func TestInsertRejectsOverlap(t *testing.T) {
	var tbl Vmatable_t
	if err := tbl.Insert(Vma_t{Start: 0x1000, End: 0x3000}); err != 0 {
		t.Fatal(err)
	}
	if err := tbl.Insert(Vma_t{Start: 0x2000, End: 0x4000}); err == 0 {
		t.Fatal("expected overlap rejection")
	}
	if err := tbl.Insert(Vma_t{Start: 0x3000, End: 0x4000}); err != 0 {
		t.Fatal(err)
	}
	// no two Vmas may overlap: a.end <= b.start || b.end <= a.start
	all := tbl.All()
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			a, b := all[i], all[j]
			if !(a.End <= b.Start || b.End <= a.Start) {
				t.Fatalf("overlap escaped insert: %+v %+v", a, b)
			}
		}
	}
}

func TestFindFreeRegionFirstFit(t *testing.T) {
	var tbl Vmatable_t
	tbl.Insert(Vma_t{Start: 0x1000, End: 0x2000})
	tbl.Insert(Vma_t{Start: 0x4000, End: 0x5000})
	got, ok := tbl.FindFreeRegion(0x1000, 0x0, 0x10000)
	if !ok || got != 0 {
		t.Fatalf("want 0, got %#x ok=%v", got, ok)
	}
	got, ok = tbl.FindFreeRegion(0x1500, 0x0, 0x10000)
	if !ok || got != 0x2000 {
		t.Fatalf("want 0x2000, got %#x ok=%v", got, ok)
	}
}

func TestRemoveRangeSplits(t *testing.T) {
	var tbl Vmatable_t
	tbl.Insert(Vma_t{Start: 0x1000, End: 0x5000, Prot: PROT_R, Kind: Anonymous, Name: "x"})
	removed := tbl.RemoveRange(0x2000, 0x3000)
	if len(removed) != 1 || removed[0].Start != 0x2000 || removed[0].End != 0x3000 {
		t.Fatalf("unexpected removed: %+v", removed)
	}
	all := tbl.All()
	if len(all) != 2 {
		t.Fatalf("want split into 2 pieces, got %d: %+v", len(all), all)
	}
	if all[0].Start != 0x1000 || all[0].End != 0x2000 {
		t.Fatalf("left piece wrong: %+v", all[0])
	}
	if all[1].Start != 0x3000 || all[1].End != 0x5000 {
		t.Fatalf("right piece wrong: %+v", all[1])
	}
}

func TestRemoveRangeFullyInside(t *testing.T) {
	var tbl Vmatable_t
	tbl.Insert(Vma_t{Start: 0x1000, End: 0x2000})
	removed := tbl.RemoveRange(0x0, 0x10000)
	if len(removed) != 1 {
		t.Fatalf("want 1 removed, got %d", len(removed))
	}
	if tbl.Len() != 0 {
		t.Fatalf("want empty table, got %d", tbl.Len())
	}
}
