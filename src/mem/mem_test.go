package mem

import "testing"

func TestAllocFreeInvariant(t *testing.T) {
	fa := NewFrameAllocator(64)
	var got []Pa_t
	for i := 0; i < 64; i++ {
		pa, err := fa.Alloc()
		if err != 0 {
			t.Fatalf("alloc %d: %v", i, err)
		}
		got = append(got, pa)
	}
	if _, err := fa.Alloc(); err == 0 {
		t.Fatal("expected OOM on 65th alloc")
	}
	st := fa.Stats()
	if st.FreeFrames+st.AllocatedFrames != st.TotalFrames {
		t.Fatalf("frame sum invariant broken: %+v", st)
	}
	if st.AllocatedFrames != 64 {
		t.Fatalf("want 64 allocated, got %d", st.AllocatedFrames)
	}

	for _, pa := range got {
		fa.Free(pa)
	}
	st = fa.Stats()
	if st.AllocatedFrames != 0 || st.FreeFrames != 64 {
		t.Fatalf("expected all frames freed: %+v", st)
	}
}

func TestDoubleFreeIsNotFatal(t *testing.T) {
	fa := NewFrameAllocator(4)
	pa, _ := fa.Alloc()
	fa.Free(pa)
	fa.Free(pa) // double free: diagnostic, not a panic
	st := fa.Stats()
	if st.InvalidFrees != 1 {
		t.Fatalf("want 1 invalid free, got %d", st.InvalidFrees)
	}
}

func TestNoFrameReturnedTwiceWithoutFree(t *testing.T) {
	fa := NewFrameAllocator(8)
	seen := map[Pa_t]bool{}
	for i := 0; i < 8; i++ {
		pa, err := fa.Alloc()
		if err != 0 {
			t.Fatal(err)
		}
		if seen[pa] {
			t.Fatalf("frame %v allocated twice", pa)
		}
		seen[pa] = true
	}
}
