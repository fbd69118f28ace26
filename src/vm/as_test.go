package vm

import "testing"
import "sabos/src/mem"

func TestMapUnmapTranslate(t *testing.T) {
	fa := mem.NewFrameAllocator(16)
	kernel := NewKernelSpace(fa)
	as := NewProcessSpace(kernel)

	frame, err := fa.Alloc()
	if err != 0 {
		t.Fatal(err)
	}
	const va = 0x400000
	if err := as.Map(va, frame, PROT_R|PROT_W); err != 0 {
		t.Fatal(err)
	}
	if err := as.Map(va, frame, PROT_R); err == 0 {
		t.Fatal("remap of present leaf must fail")
	}
	pa, ok := as.Translate(va + 0x10)
	if !ok {
		t.Fatal("translate miss")
	}
	if pa != frame+0x10 {
		t.Fatalf("want %#x got %#x", frame+0x10, pa)
	}
	got, ok := as.Unmap(va)
	if !ok || got != frame {
		t.Fatalf("unmap returned %#x, %v", got, ok)
	}
	if _, ok := as.Translate(va); ok {
		t.Fatal("translate should miss after unmap")
	}
}

func TestDestroySpaceFreesOnlyUserHalf(t *testing.T) {
	fa := mem.NewFrameAllocator(16)
	kernel := NewKernelSpace(fa)
	kframe, _ := fa.Alloc()
	kernel.Map(0xffff800000000000, kframe, PROT_R)

	as := NewProcessSpace(kernel)
	uframe, _ := fa.Alloc()
	as.Map(0x400000, uframe, PROT_R|PROT_W)

	before := fa.Stats().AllocatedFrames
	as.DestroySpace()
	after := fa.Stats().AllocatedFrames
	if before-after != 1 {
		t.Fatalf("want exactly 1 frame freed (user half only), freed %d", before-after)
	}
}
