package pipe

import (
	"testing"

	"sabos/src/defs"
	"sabos/src/mem"
)

func TestWriteReadRoundTrip(t *testing.T) {
	frames := mem.NewFrameAllocator(16)
	tbl := NewTable(frames)
	id := tbl.Create()

	n, err := tbl.Write(id, []byte("hello"))
	if err != 0 || n != 5 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}

	buf := make([]byte, 16)
	n, err = tbl.Read(id, buf)
	if err != 0 || string(buf[:n]) != "hello" {
		t.Fatalf("read: n=%d err=%v buf=%q", n, err, buf[:n])
	}
}

func TestReadEmptyBlocksUntilWriterCloses(t *testing.T) {
	frames := mem.NewFrameAllocator(16)
	tbl := NewTable(frames)
	id := tbl.Create()

	buf := make([]byte, 4)
	if _, err := tbl.Read(id, buf); err != defs.WouldBlock {
		t.Fatalf("expected WouldBlock on empty pipe with writer attached, got %v", err)
	}

	if err := tbl.CloseWriter(id); err != 0 {
		t.Fatalf("close writer: %v", err)
	}
	n, err := tbl.Read(id, buf)
	if err != 0 || n != 0 {
		t.Fatalf("expected EOF (0, nil) once writer closed, got n=%d err=%v", n, err)
	}
}

func TestWriteAfterReaderClosedIsBrokenPipe(t *testing.T) {
	frames := mem.NewFrameAllocator(16)
	tbl := NewTable(frames)
	id := tbl.Create()

	if err := tbl.CloseReader(id); err != 0 {
		t.Fatalf("close reader: %v", err)
	}
	if _, err := tbl.Write(id, []byte("x")); err != defs.BrokenPipe {
		t.Fatalf("expected BrokenPipe, got %v", err)
	}
}

func TestAddWriterKeepsPipeAliveUntilBothClosed(t *testing.T) {
	frames := mem.NewFrameAllocator(16)
	tbl := NewTable(frames)
	id := tbl.Create()

	if err := tbl.AddWriter(id); err != 0 {
		t.Fatalf("add writer: %v", err)
	}
	if err := tbl.CloseWriter(id); err != 0 {
		t.Fatalf("close writer 1: %v", err)
	}

	buf := make([]byte, 4)
	if _, err := tbl.Read(id, buf); err != defs.WouldBlock {
		t.Fatalf("expected WouldBlock with one writer still attached, got %v", err)
	}

	if err := tbl.CloseWriter(id); err != 0 {
		t.Fatalf("close writer 2: %v", err)
	}
	n, err := tbl.Read(id, buf)
	if err != 0 || n != 0 {
		t.Fatalf("expected EOF after last writer closed, got n=%d err=%v", n, err)
	}
}

func TestSlotRecycledAfterBothEndsClose(t *testing.T) {
	frames := mem.NewFrameAllocator(16)
	tbl := NewTable(frames)
	id := tbl.Create()

	if err := tbl.CloseWriter(id); err != 0 {
		t.Fatalf("close writer: %v", err)
	}
	if err := tbl.CloseReader(id); err != 0 {
		t.Fatalf("close reader: %v", err)
	}
	if _, err := tbl.Read(id, make([]byte, 1)); err != defs.InvalidHandle {
		t.Fatalf("expected the slot to be gone, got %v", err)
	}

	id2 := tbl.Create()
	if id2 != id {
		t.Fatalf("expected lowest free slot %d to be reused, got %d", id, id2)
	}
}
