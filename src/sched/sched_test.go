package sched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sabos/src/defs"
	"sabos/src/mem"
	"sabos/src/vm"
)

func TestYieldRoundRobin(t *testing.T) {
	s := New()
	frames := mem.NewFrameAllocator(64)
	kas := vm.NewKernelSpace(frames)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 2)

	s.SpawnKernel("a", kas, func(self *Task_t) {
		mu.Lock()
		order = append(order, "a1")
		mu.Unlock()
		s.YieldNow(self)
		mu.Lock()
		order = append(order, "a2")
		mu.Unlock()
		done <- struct{}{}
	})
	s.SpawnKernel("b", kas, func(self *Task_t) {
		mu.Lock()
		order = append(order, "b1")
		mu.Unlock()
		s.YieldNow(self)
		mu.Lock()
		order = append(order, "b2")
		mu.Unlock()
		done <- struct{}{}
	})

	s.mu.Lock()
	s.runNextLocked()
	s.mu.Unlock()

	<-done
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 4 {
		t.Fatalf("expected 4 recorded steps, got %v", order)
	}
	if order[0] != "a1" || order[1] != "b1" || order[2] != "a2" || order[3] != "b2" {
		t.Fatalf("expected strict round robin, got %v", order)
	}
}

func TestSleepAndWake(t *testing.T) {
	s := New()
	frames := mem.NewFrameAllocator(64)
	kas := vm.NewKernelSpace(frames)

	woke := make(chan struct{})
	var sleeper *Task_t
	gotSleeper := make(chan struct{})

	s.SpawnKernel("sleeper", kas, func(self *Task_t) {
		sleeper = self
		close(gotSleeper)
		s.SleepTicks(self, 5)
		close(woke)
	})

	s.mu.Lock()
	s.runNextLocked()
	s.mu.Unlock()

	<-gotSleeper
	for sleeper.State() != Sleeping {
	}

	for i := 0; i < 4; i++ {
		s.Tick()
	}
	select {
	case <-woke:
		t.Fatal("task woke up before its wake tick")
	default:
	}

	s.Tick()
	<-woke
	if sleeper.State() != Finished {
		t.Fatalf("expected sleeper to run to completion, got state %v", sleeper.State())
	}
}

func TestWakeTaskEarly(t *testing.T) {
	s := New()
	frames := mem.NewFrameAllocator(64)
	kas := vm.NewKernelSpace(frames)

	woke := make(chan struct{})
	var sleeper *Task_t
	gotSleeper := make(chan struct{})

	s.SpawnKernel("sleeper", kas, func(self *Task_t) {
		sleeper = self
		close(gotSleeper)
		s.SleepTicks(self, 1000)
		close(woke)
	})

	s.mu.Lock()
	s.runNextLocked()
	s.mu.Unlock()

	<-gotSleeper
	for sleeper.State() != Sleeping {
	}

	if !s.WakeTask(sleeper.Id) {
		t.Fatal("WakeTask should find the sleeping task")
	}

	s.mu.Lock()
	if s.current == nil {
		s.runNextLocked()
	}
	s.mu.Unlock()

	<-woke
}

func TestWaitForChildReturnsExitCode(t *testing.T) {
	s := New()
	frames := mem.NewFrameAllocator(64)
	kas := vm.NewKernelSpace(frames)

	var parent *Task_t
	result := make(chan int, 1)
	errc := make(chan defs.Err_t, 1)
	parentDone := make(chan struct{})

	child := s.SpawnKernel("child", kas, func(self *Task_t) {})

	parent = s.SpawnKernel("parent", kas, func(self *Task_t) {
		code, err := s.WaitForChild(self, child.Id)
		result <- code
		errc <- err
		close(parentDone)
	})
	parent.children = append(parent.children, child.Id)
	child.parentId = parent.Id

	s.mu.Lock()
	s.runNextLocked()
	s.mu.Unlock()

	<-parentDone
	if got := <-errc; got != 0 {
		t.Fatalf("unexpected error: %v", got)
	}
	if got := <-result; got != 0 {
		t.Fatalf("expected exit code 0, got %d", got)
	}
}

func TestWaitpidNoHangReturnsImmediately(t *testing.T) {
	s := New()
	frames := mem.NewFrameAllocator(64)
	kas := vm.NewKernelSpace(frames)

	block := make(chan struct{})
	child := s.SpawnKernel("child", kas, func(self *Task_t) {
		<-block
	})

	parent := &Task_t{Id: 999}
	s.mu.Lock()
	s.tasks[parent.Id] = parent
	parent.children = append(parent.children, child.Id)
	child.parentId = parent.Id
	s.mu.Unlock()

	s.mu.Lock()
	s.runNextLocked()
	s.mu.Unlock()

	_, _, err := s.Waitpid(parent, child.Id, WNOHANG)
	if err != defs.NoChild {
		t.Fatalf("expected NoChild with WNOHANG on a still-running child, got %v", err)
	}
	close(block)
}

func TestKillTaskMarksFinishedWithMinusOne(t *testing.T) {
	s := New()
	frames := mem.NewFrameAllocator(64)
	kas := vm.NewKernelSpace(frames)

	block := make(chan struct{})
	victim := s.SpawnKernel("victim", kas, func(self *Task_t) {
		<-block
	})
	killer := &Task_t{Id: 12345}
	s.mu.Lock()
	s.tasks[killer.Id] = killer
	s.mu.Unlock()

	s.mu.Lock()
	s.runNextLocked()
	s.mu.Unlock()

	if err := s.KillTask(killer, victim.Id); err != 0 {
		t.Fatalf("KillTask failed: %v", err)
	}
	<-victim.finished
	if victim.State() != Finished {
		t.Fatalf("expected victim Finished, got %v", victim.State())
	}
	if victim.exitCode != -1 {
		t.Fatalf("expected exit code -1, got %d", victim.exitCode)
	}

	if err := s.KillTask(killer, victim.Id); err != defs.AlreadyFinished {
		t.Fatalf("expected AlreadyFinished on double kill, got %v", err)
	}
	if err := s.KillTask(killer, killer.Id); err != defs.CannotKillSelf {
		t.Fatalf("expected CannotKillSelf, got %v", err)
	}
	if err := s.KillTask(killer, 999999); err != defs.NotFound {
		t.Fatalf("expected NotFound for unknown id, got %v", err)
	}
	close(block)
}

func TestPreemptStatsCountCallsAndSwitches(t *testing.T) {
	s := New()
	frames := mem.NewFrameAllocator(64)
	kas := vm.NewKernelSpace(frames)

	done := make(chan struct{})
	s.SpawnKernel("solo", kas, func(self *Task_t) {
		close(done)
	})

	s.mu.Lock()
	s.runNextLocked()
	s.mu.Unlock()
	<-done

	s.Tick()
	hookCalls, switches := s.PreemptStats()
	if hookCalls != 1 {
		t.Fatalf("expected 1 hook call, got %d", hookCalls)
	}
	if switches != 0 {
		t.Fatalf("expected no switch with a single finished task, got %d", switches)
	}
}

// TestPreemptCooperativeTightLoop exercises spec §8 Scenario 5: two
// kernel tasks that never yield or sleep, spinning instead on
// CheckPreempt every iteration. A background goroutine drives Tick the
// same way src/intr's ticker would. The point of this test is that the
// preemption hook never blocks waiting for either task -- if it did,
// the ticker goroutine below would hang and the test would time out.
func TestPreemptCooperativeTightLoop(t *testing.T) {
	s := New()
	frames := mem.NewFrameAllocator(64)
	kas := vm.NewKernelSpace(frames)

	const iterations = 2000

	var countA, countB int64
	doneA := make(chan struct{})
	doneB := make(chan struct{})

	s.SpawnKernel("tight-a", kas, func(self *Task_t) {
		for i := 0; i < iterations; i++ {
			atomic.AddInt64(&countA, 1)
			s.CheckPreempt(self)
		}
		close(doneA)
	})
	s.SpawnKernel("tight-b", kas, func(self *Task_t) {
		for i := 0; i < iterations; i++ {
			atomic.AddInt64(&countB, 1)
			s.CheckPreempt(self)
		}
		close(doneB)
	})

	s.Start()

	stopTicker := make(chan struct{})
	go func() {
		for {
			select {
			case <-stopTicker:
				return
			default:
				s.Tick()
			}
		}
	}()
	defer close(stopTicker)

	timeout := time.After(10 * time.Second)
	for doneA != nil || doneB != nil {
		select {
		case <-doneA:
			doneA = nil
		case <-doneB:
			doneB = nil
		case <-timeout:
			t.Fatalf("tight-loop tasks never finished; preemption hook deadlocked")
		}
	}

	if got := atomic.LoadInt64(&countA); got != iterations {
		t.Fatalf("task a: expected %d iterations, got %d", iterations, got)
	}
	if got := atomic.LoadInt64(&countB); got != iterations {
		t.Fatalf("task b: expected %d iterations, got %d", iterations, got)
	}

	_, switches := s.PreemptStats()
	if switches == 0 {
		t.Fatalf("expected at least one preemption switch between the two tight loops")
	}
}
