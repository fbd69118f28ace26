package circbuf

import (
	"testing"

	"sabos/src/mem"
)

func TestWriteReadRoundTrip(t *testing.T) {
	frames := mem.NewFrameAllocator(4)
	var cb Circbuf_t
	if err := cb.Init(16, frames); err != 0 {
		t.Fatal(err)
	}

	n, err := cb.WriteFrom([]byte("hello"))
	if err != 0 || n != 5 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if cb.Used() != 5 {
		t.Fatalf("want used 5, got %d", cb.Used())
	}

	dst := make([]byte, 5)
	n, err = cb.ReadInto(dst)
	if err != 0 || n != 5 || string(dst) != "hello" {
		t.Fatalf("read: n=%d err=%v dst=%q", n, err, dst)
	}
	if !cb.Empty() {
		t.Fatal("buffer should be empty after draining")
	}
}

func TestWrapsAroundBoundary(t *testing.T) {
	frames := mem.NewFrameAllocator(4)
	var cb Circbuf_t
	cb.Init(8, frames)

	cb.WriteFrom([]byte("abcdef")) // 6 bytes, head=6 tail=0
	out := make([]byte, 4)
	cb.ReadInto(out) // tail=4, drains "abcd"

	n, err := cb.WriteFrom([]byte("ghij")) // wraps: 2 bytes fit before wrap, 2 after
	if err != 0 || n != 4 {
		t.Fatalf("wrap write: n=%d err=%v", n, err)
	}

	rest := make([]byte, 6)
	n, err = cb.ReadInto(rest)
	if err != 0 || n != 6 || string(rest) != "efghij" {
		t.Fatalf("wrap read: n=%d err=%v rest=%q", n, err, rest)
	}
}

func TestFullRejectsOverflow(t *testing.T) {
	frames := mem.NewFrameAllocator(4)
	var cb Circbuf_t
	cb.Init(4, frames)

	n, _ := cb.WriteFrom([]byte("abcd"))
	if n != 4 || !cb.Full() {
		t.Fatalf("want full buffer, n=%d full=%v", n, cb.Full())
	}
	n, err := cb.WriteFrom([]byte("z"))
	if err != 0 || n != 0 {
		t.Fatalf("want 0 bytes accepted into full buffer, got n=%d err=%v", n, err)
	}
}

func TestRawwriteAdvheadThenRead(t *testing.T) {
	frames := mem.NewFrameAllocator(4)
	var cb Circbuf_t
	cb.Init(8, frames)

	r1, r2 := cb.Rawwrite(0, 3)
	copy(r1, []byte("xyz"))
	if r2 != nil {
		t.Fatal("expected single contiguous region for a fresh buffer")
	}
	cb.Advhead(3)

	out := make([]byte, 3)
	n, err := cb.ReadInto(out)
	if err != 0 || n != 3 || string(out) != "xyz" {
		t.Fatalf("n=%d err=%v out=%q", n, err, out)
	}
}

func TestReleaseFreesFrame(t *testing.T) {
	frames := mem.NewFrameAllocator(4)
	var cb Circbuf_t
	cb.Init(8, frames)
	cb.WriteFrom([]byte("a"))

	if st := frames.Stats(); st.AllocatedFrames != 1 {
		t.Fatalf("want 1 frame allocated, got %d", st.AllocatedFrames)
	}
	cb.Release()
	if st := frames.Stats(); st.AllocatedFrames != 0 {
		t.Fatalf("want frame freed after release, got %d", st.AllocatedFrames)
	}
}
