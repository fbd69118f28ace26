package heap

import "testing"
import "sabos/src/mem"

func TestAllocSizesAndFree(t *testing.T) {
	fa := mem.NewFrameAllocator(16)
	h := NewAllocator(fa)

	b1, err := h.Alloc(10)
	if err != 0 || len(b1) != 10 {
		t.Fatalf("alloc 10: %v len=%d", err, len(b1))
	}
	for _, v := range b1 {
		if v != 0 {
			t.Fatal("allocation must be zeroed")
		}
	}
	b1[0] = 0xff
	h.Free(b1, 10)

	b2, err := h.Alloc(3000) // oversize path
	if err != 0 || len(b2) != 3000 {
		t.Fatalf("alloc 3000: %v len=%d", err, len(b2))
	}
	h.Free(b2, 3000)
}

func TestAllocExhaustsFrames(t *testing.T) {
	fa := mem.NewFrameAllocator(1)
	h := NewAllocator(fa)
	// first small alloc should succeed by carving the one frame we have.
	if _, err := h.Alloc(16); err != 0 {
		t.Fatalf("first alloc should succeed: %v", err)
	}
	// a different size class needs its own frame; none remain.
	if _, err := h.Alloc(2048); err == 0 {
		t.Fatal("expected OOM once frames are exhausted")
	}
}
