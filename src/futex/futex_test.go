package futex

import (
	"sync/atomic"
	"testing"

	"sabos/src/defs"
	"sabos/src/mem"
	"sabos/src/sched"
	"sabos/src/vm"
)

func TestWaitReturnsOtherWhenValueAlreadyChanged(t *testing.T) {
	tbl := NewTable(8)
	sc := sched.New()

	var val uint32 = 5
	read := func() uint32 { return atomic.LoadUint32(&val) }

	task := &sched.Task_t{Id: 1}
	err := tbl.Wait(sc, task, 1, 0x1000, 7, read, 10)
	if err != defs.Other {
		t.Fatalf("expected Other when value doesn't match expected, got %v", err)
	}
}

func TestWaitThenWakeReleasesWaiter(t *testing.T) {
	tbl := NewTable(8)
	sc := sched.New()
	frames := mem.NewFrameAllocator(64)
	kas := vm.NewKernelSpace(frames)

	var val uint32 = 0
	read := func() uint32 { return atomic.LoadUint32(&val) }

	waitDone := make(chan defs.Err_t, 1)
	gotWaiting := make(chan struct{})
	var waiter *sched.Task_t

	sc.SpawnKernel("waiter", kas, func(self *sched.Task_t) {
		waiter = self
		close(gotWaiting)
		err := tbl.Wait(sc, self, 1, 0x2000, 0, read, InfiniteTicks)
		waitDone <- err
	})

	sc.Start()
	<-gotWaiting
	for waiter.State() != sched.Sleeping {
	}

	woken := tbl.Wake(sc, 1, 0x2000, 1)
	if woken != 1 {
		t.Fatalf("expected to wake exactly 1 waiter, got %d", woken)
	}

	if err := <-waitDone; err != 0 {
		t.Fatalf("expected successful wake, got %v", err)
	}
}

func TestWakeRespectsCount(t *testing.T) {
	tbl := NewTable(8)
	sc := sched.New()
	frames := mem.NewFrameAllocator(64)
	kas := vm.NewKernelSpace(frames)

	read := func() uint32 { return 0 }

	var n int32
	const waiters = 3
	doneCh := make([]chan defs.Err_t, waiters)
	sleeping := make([]*sched.Task_t, waiters)
	gotAll := make(chan struct{})

	for i := 0; i < waiters; i++ {
		doneCh[i] = make(chan defs.Err_t, 1)
		idx := i
		sc.SpawnKernel("waiter", kas, func(self *sched.Task_t) {
			sleeping[idx] = self
			if atomic.AddInt32(&n, 1) == waiters {
				close(gotAll)
			}
			err := tbl.Wait(sc, self, 1, 0x3000, 0, read, InfiniteTicks)
			doneCh[idx] <- err
		})
	}

	sc.Start()
	<-gotAll
	for _, w := range sleeping {
		for w.State() != sched.Sleeping {
		}
	}

	woken := tbl.Wake(sc, 1, 0x3000, 2)
	if woken != 2 {
		t.Fatalf("expected exactly 2 woken, got %d", woken)
	}
}
