package console

import (
	"testing"
	"time"

	"sabos/src/defs"
	"sabos/src/mem"
	"sabos/src/sched"
	"sabos/src/vm"
)

func TestUnfocusedReadsGoToKernelShell(t *testing.T) {
	frames := mem.NewFrameAllocator(8)
	c := New(frames)

	if err := c.KeyPress('a'); err != 0 {
		t.Fatalf("KeyPress: %v", err)
	}
	if _, err := c.TryRead(42); err != defs.PermissionDenied {
		t.Fatalf("expected PermissionDenied for non-shell task, got %v", err)
	}
	b, err := c.TryRead(KernelShellId)
	if err != 0 || b != 'a' {
		t.Fatalf("expected shell to read 'a', got %q err %v", b, err)
	}
}

func TestGrabRestrictsReadsToFocusedTask(t *testing.T) {
	frames := mem.NewFrameAllocator(8)
	c := New(frames)

	c.Grab(7)
	c.KeyPress('x')

	if _, err := c.TryRead(KernelShellId); err != defs.PermissionDenied {
		t.Fatalf("expected shell locked out while task 7 holds focus, got %v", err)
	}
	b, err := c.TryRead(7)
	if err != 0 || b != 'x' {
		t.Fatalf("expected task 7 to read 'x', got %q err %v", b, err)
	}

	c.Release(7)
	if c.Focus() != KernelShellId {
		t.Fatalf("expected focus back at kernel shell after Release")
	}
}

func TestReadBlockingWaitsForKeyPress(t *testing.T) {
	frames := mem.NewFrameAllocator(64)
	kas := vm.NewKernelSpace(frames)
	s := sched.New()
	c := New(frames)

	got := make(chan byte, 1)
	s.SpawnKernel("reader", kas, func(self *sched.Task_t) {
		b, err := c.ReadBlocking(s, self, KernelShellId)
		if err != 0 {
			t.Errorf("ReadBlocking: %v", err)
		}
		got <- b
	})
	s.Start()

	time.Sleep(10 * time.Millisecond)
	c.KeyPress('z')

	select {
	case b := <-got:
		if b != 'z' {
			t.Fatalf("expected 'z', got %q", b)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadBlocking never woke up after KeyPress")
	}
}
