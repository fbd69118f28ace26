package ipc

import (
	"testing"
	"time"

	"sabos/src/defs"
	"sabos/src/mem"
	"sabos/src/sched"
	"sabos/src/vm"
)

func newTestScheduler() (*sched.Scheduler_t, *vm.AddressSpace_t) {
	s := sched.New()
	frames := mem.NewFrameAllocator(64)
	kas := vm.NewKernelSpace(frames)
	return s, kas
}

// driveTicks runs Tick in a background goroutine until stop is closed,
// standing in for src/intr's ticker so a timed Recv's YieldNow-based wait
// makes forward progress.
func driveTicks(s *sched.Scheduler_t) (stop chan struct{}) {
	stop = make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				s.Tick()
			}
		}
	}()
	return stop
}

func TestSendRecvFifo(t *testing.T) {
	r := NewRouter(8)
	s, kas := newTestScheduler()

	var recvId uint64
	ready := make(chan struct{})
	done := make(chan struct{})

	s.SpawnKernel("recv", kas, func(self *sched.Task_t) {
		r.Register(self.Id)
		recvId = self.Id
		close(ready)

		m1, err := r.Recv(s, self, 0)
		if err != 0 || string(m1.Bytes) != "a" {
			t.Errorf("expected a first, got %q err=%v", m1.Bytes, err)
		}
		m2, err := r.Recv(s, self, 0)
		if err != 0 || string(m2.Bytes) != "b" {
			t.Errorf("expected b second, got %q err=%v", m2.Bytes, err)
		}
		close(done)
	})
	s.Start()
	<-ready

	if err := r.Send(99, recvId, []byte("a"), 0, false); err != 0 {
		t.Fatalf("send a: %v", err)
	}
	if err := r.Send(99, recvId, []byte("b"), 0, false); err != 0 {
		t.Fatalf("send b: %v", err)
	}
	<-done
}

func TestSendToUnknownRecipientFails(t *testing.T) {
	r := NewRouter(8)
	r.Register(1)
	if err := r.Send(1, 99, []byte("x"), 0, false); err != defs.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestRecvFromSkipsOtherSenders(t *testing.T) {
	r := NewRouter(8)
	s, kas := newTestScheduler()

	var recvId uint64
	ready := make(chan struct{})
	done := make(chan struct{})

	s.SpawnKernel("recv", kas, func(self *sched.Task_t) {
		r.Register(self.Id)
		recvId = self.Id
		close(ready)

		m, err := r.RecvFrom(s, self, 3, 1000)
		if err != 0 || string(m.Bytes) != "from3" {
			t.Errorf("expected from3, got %q err=%v", m.Bytes, err)
		}

		// the from2 message must still be in the queue, untouched
		left, err := r.Recv(s, self, 0)
		if err != 0 || string(left.Bytes) != "from2" {
			t.Errorf("expected from2 left over, got %q err=%v", left.Bytes, err)
		}
		close(done)
	})
	s.Start()
	<-ready

	r.Send(2, recvId, []byte("from2"), 0, false)
	r.Send(3, recvId, []byte("from3"), 0, false)
	<-done
}

func TestRecvTimesOutWhenEmpty(t *testing.T) {
	r := NewRouter(8)
	s, kas := newTestScheduler()
	stop := driveTicks(s)
	defer close(stop)

	done := make(chan defs.Err_t, 1)
	s.SpawnKernel("recv", kas, func(self *sched.Task_t) {
		_, err := r.Recv(s, self, 30)
		done <- err
	})
	s.Start()

	select {
	case err := <-done:
		if err != defs.Timeout {
			t.Fatalf("expected Timeout, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Recv with a timeout never returned")
	}
}

func TestCancelRecvWakesBlockedReceiver(t *testing.T) {
	r := NewRouter(8)
	s, kas := newTestScheduler()
	stop := driveTicks(s)
	defer close(stop)

	var recvId uint64
	ready := make(chan struct{})
	done := make(chan defs.Err_t, 1)

	s.SpawnKernel("recv", kas, func(self *sched.Task_t) {
		r.Register(self.Id)
		recvId = self.Id
		close(ready)

		_, err := r.Recv(s, self, 0)
		done <- err
	})
	s.Start()
	<-ready

	time.Sleep(20 * time.Millisecond)
	r.CancelRecv(recvId)

	select {
	case err := <-done:
		if err != defs.Timeout {
			t.Fatalf("expected Timeout from cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("CancelRecv did not wake the blocked receiver")
	}
}

func TestSendWithHandleCarriesOneCapability(t *testing.T) {
	r := NewRouter(8)
	s, kas := newTestScheduler()

	var recvId uint64
	ready := make(chan struct{})
	done := make(chan struct{})

	s.SpawnKernel("recv", kas, func(self *sched.Task_t) {
		r.Register(self.Id)
		recvId = self.Id
		close(ready)

		m, err := r.Recv(s, self, 0)
		if err != 0 {
			t.Errorf("recv: %v", err)
		}
		if !m.HasHandle || m.Handle != 42 {
			t.Errorf("expected handle 42, got hasHandle=%v handle=%d", m.HasHandle, m.Handle)
		}
		close(done)
	})
	s.Start()
	<-ready

	if err := r.Send(99, recvId, []byte("payload"), 42, true); err != 0 {
		t.Fatalf("send: %v", err)
	}
	<-done
}
