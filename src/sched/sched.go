// Package sched implements the preemptive round-robin task scheduler (spec
// §4.F). Grounded on the teacher's tinfo/tinfo.go (Tnote_t's
// alive/killed/doomed bookkeeping) and accnt/accnt.go (kept in
// sabos/src/accnt for per-task CPU time). The teacher tracks the running
// thread via runtime.Gptr/Setgptr, a patched-runtime hook with no stock-Go
// equivalent; the hosted simulator instead hands an explicit CPU token
// between task goroutines, so "current task" is scheduler state guarded by
// a mutex rather than a per-goroutine pointer.
package sched

import (
	"sync"

	"sabos/src/accnt"
	"sabos/src/defs"
	"sabos/src/elfload"
	"sabos/src/mem"
	"sabos/src/vm"
)

/// State_t is a task's scheduling state, per spec §4.F.
type State_t int

const (
	Ready State_t = iota
	Running
	Sleeping
	Finished
)

/// Kind_t distinguishes a kernel task (shares the kernel address space)
/// from a Ring-3 user task (owns its own address space, built by elfload).
type Kind_t int

const (
	KernelTask Kind_t = iota
	UserTask
)

// WNOHANG, passed to Waitpid, requests an immediate NoChild return instead
// of blocking when the target has not yet finished.
const WNOHANG = 1

/// Task_t is one schedulable unit of execution.
type Task_t struct {
	Id   uint64
	Name string
	Kind Kind_t

	Accnt *accnt.Accnt_t
	As    *vm.AddressSpace_t
	Image *elfload.Image_t // nil for kernel tasks

	// StdinId/StdoutId redirect a user task's stdin/stdout syscalls to a
	// specific handle instead of the console, per spawn_user_redirected.
	StdinId    uint64
	StdoutId   uint64
	HasStdin   bool
	HasStdout  bool

	parentId uint64
	children []uint64

	mu          sync.Mutex
	state       State_t
	wakeTick    uint64
	exitCode    int
	waitingFor  uint64 // child id this task is blocked in WaitForChild on, 0 if none
	wantPreempt bool   // set by preempt(), cleared and acted on at this task's next CheckPreempt call
	finished    chan struct{}
	resume      chan struct{}
}

func (t *Task_t) ParentId() uint64 { return t.parentId }

func (t *Task_t) setState(s State_t) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Task_t) State() State_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

/// Scheduler_t owns every task and the single CPU token. Exactly one task
/// may hold Running state at a time; every other task is blocked on its
/// own resume channel, parked in readyQ, or sleeping until wakeTick.
type Scheduler_t struct {
	mu sync.Mutex

	tasks  map[uint64]*Task_t
	readyQ []*Task_t

	current *Task_t
	nextId  uint64
	tick    uint64

	hookCalls int64
	switches  int64
}

/// New creates an empty scheduler with no tasks.
func New() *Scheduler_t {
	return &Scheduler_t{tasks: make(map[uint64]*Task_t)}
}

func (s *Scheduler_t) allocId() uint64 {
	s.nextId++
	return s.nextId
}

func (s *Scheduler_t) newTask(name string, kind Kind_t, parentId uint64) *Task_t {
	t := &Task_t{
		Id:       s.allocId(),
		Name:     name,
		Kind:     kind,
		Accnt:    &accnt.Accnt_t{},
		parentId: parentId,
		finished: make(chan struct{}),
		resume:   make(chan struct{}, 1),
	}
	s.tasks[t.Id] = t
	return t
}

// scheduleLocked hands the CPU to the given task, marking it Running. Must
// be called with s.mu held; the handoff is a send on the task's buffered
// resume channel, so it never blocks while the lock is held.
func (s *Scheduler_t) scheduleLocked(t *Task_t) {
	t.setState(Running)
	s.current = t
	t.resume <- struct{}{}
}

/// Start hands the CPU to the first Ready task, if one exists. Spawning
/// a task only enqueues it; nothing actually runs until either Start or
/// a subsequent Tick/YieldNow/WakeTask first finds the ready queue
/// non-empty with no task currently running.
func (s *Scheduler_t) Start() {
	s.mu.Lock()
	if s.current == nil {
		s.runNextLocked()
	}
	s.mu.Unlock()
}

// runNextLocked pops the next Ready task, if any, and hands it the CPU.
// Must be called with s.mu held and s.current == nil.
func (s *Scheduler_t) runNextLocked() {
	if len(s.readyQ) == 0 {
		s.current = nil
		return
	}
	next := s.readyQ[0]
	s.readyQ = s.readyQ[1:]
	s.scheduleLocked(next)
}

/// SpawnKernel creates a kernel task sharing the kernel address space and
/// launches fn in its own goroutine, parked until the scheduler gives it
/// the CPU.
func (s *Scheduler_t) SpawnKernel(name string, kernelAs *vm.AddressSpace_t, fn func(*Task_t)) *Task_t {
	s.mu.Lock()
	t := s.newTask(name, KernelTask, 0)
	t.As = kernelAs
	t.state = Ready
	s.readyQ = append(s.readyQ, t)
	s.mu.Unlock()

	go func() {
		<-t.resume
		fn(t)
		s.taskExit(t, 0)
	}()
	return t
}

/// SpawnUser runs the ELF loader against elfBytes and creates a Ring-3 task
/// whose entry context is the loader's result. entry is invoked once the
/// task is scheduled, simulating the Ring-3 program -- since there is no
/// real x86 execution in the hosted simulator, entry stands in for
/// whatever the user binary would do, typically driving the trap
/// dispatcher through a scripted sequence of syscalls.
func (s *Scheduler_t) SpawnUser(name string, elfBytes []byte, argv, envp []string, frames *mem.FrameAllocator_t, kernelAs *vm.AddressSpace_t, entry func(*Task_t)) (*Task_t, defs.Err_t) {
	return s.spawnUser(name, elfBytes, argv, envp, frames, kernelAs, entry, 0, 0, false, false)
}

/// SpawnUserRedirected behaves like SpawnUser but routes the child's
/// stdin/stdout syscalls to the given handle ids instead of the console.
func (s *Scheduler_t) SpawnUserRedirected(name string, elfBytes []byte, argv, envp []string, frames *mem.FrameAllocator_t, kernelAs *vm.AddressSpace_t, entry func(*Task_t), stdin, stdout uint64, hasStdin, hasStdout bool) (*Task_t, defs.Err_t) {
	return s.spawnUser(name, elfBytes, argv, envp, frames, kernelAs, entry, stdin, stdout, hasStdin, hasStdout)
}

func (s *Scheduler_t) spawnUser(name string, elfBytes []byte, argv, envp []string, frames *mem.FrameAllocator_t, kernelAs *vm.AddressSpace_t, entry func(*Task_t), stdin, stdout uint64, hasStdin, hasStdout bool) (*Task_t, defs.Err_t) {
	img, err := elfload.Load(elfBytes, argv, envp, frames, kernelAs)
	if err != 0 {
		return nil, err
	}

	var parent uint64
	s.mu.Lock()
	if s.current != nil {
		parent = s.current.Id
	}
	t := s.newTask(name, UserTask, parent)
	t.As = img.As
	t.Image = img
	t.StdinId, t.StdoutId, t.HasStdin, t.HasStdout = stdin, stdout, hasStdin, hasStdout
	t.state = Ready
	if parent != 0 {
		if p, ok := s.tasks[parent]; ok {
			p.children = append(p.children, t.Id)
		}
	}
	s.readyQ = append(s.readyQ, t)
	s.mu.Unlock()

	go func() {
		<-t.resume
		if entry != nil {
			entry(t)
		}
		s.taskExit(t, 0)
	}()
	return t, 0
}

/// SpawnThread creates a new task sharing owner's address space and
/// image, per §4.G's thread_create(entry, stack_top, arg): the entry
/// closure stands in for the raw (entry, stack_top, arg) triple the same
/// way SpawnUser's entry stands in for a loaded ELF's _start, since the
/// hosted simulator has no real instruction pointer to jump to.
func (s *Scheduler_t) SpawnThread(owner *Task_t, name string, fn func(*Task_t)) *Task_t {
	s.mu.Lock()
	t := s.newTask(name, owner.Kind, owner.Id)
	t.As = owner.As
	t.Image = owner.Image
	t.StdinId, t.StdoutId, t.HasStdin, t.HasStdout = owner.StdinId, owner.StdoutId, owner.HasStdin, owner.HasStdout
	t.state = Ready
	owner.children = append(owner.children, t.Id)
	s.readyQ = append(s.readyQ, t)
	s.mu.Unlock()

	go func() {
		<-t.resume
		if fn != nil {
			fn(t)
		}
		s.taskExit(t, 0)
	}()
	return t
}

/// ExitSelf marks t Finished with the given exit code, for thread_exit
/// (§4.G): unlike KillTask, which refuses a self-target, a thread's own
/// voluntary exit is always legal. The caller's goroutine must stop
/// running immediately afterward (runtime.Goexit is the idiomatic way),
/// since returning normally from its entry closure would otherwise call
/// taskExit a second time.
func (s *Scheduler_t) ExitSelf(t *Task_t, code int) {
	s.taskExit(t, code)
}

/// Ticks reports the scheduler's current tick counter, for
/// clock_monotonic (§4.G): ticks convert to milliseconds as
/// ms = ticks * 10000 / 182, per §4.O's PIT period.
func (s *Scheduler_t) Ticks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

/// YieldNow moves t from Running to Ready and hands the CPU to the next
/// Ready task, if any, blocking t until it is scheduled again.
func (s *Scheduler_t) YieldNow(t *Task_t) {
	s.mu.Lock()
	t.setState(Ready)
	s.readyQ = append(s.readyQ, t)
	s.current = nil
	s.runNextLocked()
	s.mu.Unlock()
	<-t.resume
}

/// SleepTicks blocks t until at least n ticks have elapsed, per
/// set_current_sleeping.
func (s *Scheduler_t) SleepTicks(t *Task_t, n uint64) {
	s.mu.Lock()
	s.SetCurrentSleepingLocked(t, s.tick+n)
	s.current = nil
	s.runNextLocked()
	s.mu.Unlock()
	<-t.resume
}

/// SleepMs blocks t for approximately ms milliseconds, converting with
/// TicksPerMs: one tick per simulated millisecond.
const TicksPerMs = 1 // one tick per simulated millisecond in the hosted clock

func (s *Scheduler_t) SleepMs(t *Task_t, ms uint64) {
	s.SleepTicks(t, ms*TicksPerMs)
}

/// SetCurrentSleepingLocked marks t Sleeping with the given wake tick. It
/// is the primitive futex_wait and blocking recv build on, and must be
/// called with the scheduler mutex held by the caller (who is responsible
/// for then picking a next task to run and blocking on t.resume).
func (s *Scheduler_t) SetCurrentSleepingLocked(t *Task_t, wakeAt uint64) {
	t.setState(Sleeping)
	t.mu.Lock()
	t.wakeTick = wakeAt
	t.mu.Unlock()
}

/// WakeTask moves the task named by id from Sleeping to Ready, if found.
func (s *Scheduler_t) WakeTask(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.State() != Sleeping {
		return false
	}
	t.setState(Ready)
	s.readyQ = append(s.readyQ, t)
	if s.current == nil {
		s.runNextLocked()
	}
	return true
}

/// Tick advances the simulated clock by one, waking any Sleeping task
/// whose wake tick has arrived and invoking the preemption hook, per
/// §4.F's "timer interrupt increments TIMER_TICK_COUNT and calls the
/// preemption hook."
func (s *Scheduler_t) Tick() {
	s.mu.Lock()
	s.tick++
	now := s.tick
	for _, t := range s.tasks {
		if t.State() == Sleeping {
			t.mu.Lock()
			due := t.wakeTick <= now
			t.mu.Unlock()
			if due {
				t.setState(Ready)
				s.readyQ = append(s.readyQ, t)
			}
		}
	}
	if s.current == nil {
		s.runNextLocked()
	}
	s.mu.Unlock()
	s.preempt()
}

// preempt implements the preemption hook: if another Ready task exists,
// it flags the current task for preemption, per §4.F's preemption-stats
// contract (hookCalls counts every invocation; switches counts only
// those that actually hand the CPU to a different task, tallied in
// CheckPreempt once the handoff really happens).
//
// It never blocks on the current task's cooperation. Tick (and
// therefore preempt) runs on the ticker goroutine in src/intr, a
// different goroutine than whatever task is current -- nothing in
// stock Go lets one goroutine force another to suspend mid-instruction,
// so blocking here waiting for a task that may never call back into
// the scheduler (a tight loop with no syscalls or yields) would wedge
// every future Tick forever. Instead the current task notices the flag
// and actually yields the next time it reaches a cooperative
// checkpoint: CheckPreempt, or any other suspension point (YieldNow,
// SleepTicks, a blocking syscall). A kernel task meant to be
// preemptible under this model calls CheckPreempt on every loop
// iteration, the hosted equivalent of a real CPU taking the timer
// interrupt at the next instruction boundary.
func (s *Scheduler_t) preempt() {
	s.mu.Lock()
	s.hookCalls++
	cur := s.current
	if cur == nil || len(s.readyQ) == 0 {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	cur.mu.Lock()
	cur.wantPreempt = true
	cur.mu.Unlock()
}

/// CheckPreempt is the cooperative safe point a long-running task body
/// calls periodically (every loop iteration, in the style of spec §8
/// Scenario 5's tight-loop kernel tasks) to honor a pending preemption
/// request. It is a no-op unless preempt flagged this exact task while
/// it was current, in which case it performs the same Ready-and-block
/// handoff YieldNow does and counts the switch.
func (s *Scheduler_t) CheckPreempt(t *Task_t) {
	t.mu.Lock()
	flagged := t.wantPreempt
	t.mu.Unlock()
	if !flagged {
		return
	}

	s.mu.Lock()
	if s.current != t {
		s.mu.Unlock()
		return
	}
	t.mu.Lock()
	t.wantPreempt = false
	t.mu.Unlock()
	s.switches++
	t.setState(Ready)
	s.readyQ = append(s.readyQ, t)
	s.current = nil
	s.runNextLocked()
	s.mu.Unlock()
	<-t.resume
}

/// PreemptStats reports the two counters spec §4.F exposes for tests: how
/// many times the preemption hook ran, and how many of those actually
/// switched to a different task.
func (s *Scheduler_t) PreemptStats() (hookCalls, switches int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hookCalls, s.switches
}

/// TaskInfo_t is a point-in-time snapshot of one task, for /proc/tasks.
type TaskInfo_t struct {
	Id       uint64
	Name     string
	State    State_t
	UtimeUs  uint64
	StimeUs  uint64
	ParentId uint64
}

/// Snapshot returns a point-in-time view of every task the scheduler
/// knows about, for the procfs /proc/tasks file.
func (s *Scheduler_t) Snapshot() []TaskInfo_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo_t, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, TaskInfo_t{
			Id:       t.Id,
			Name:     t.Name,
			State:    t.State(),
			UtimeUs:  uint64(t.Accnt.Userns / 1000),
			StimeUs:  uint64(t.Accnt.Sysns / 1000),
			ParentId: t.parentId,
		})
	}
	return out
}

func (s *Scheduler_t) taskExit(t *Task_t, code int) {
	s.mu.Lock()
	select {
	case <-t.finished:
		// already finished (killed): keep the recorded exit code.
	default:
		t.setState(Finished)
		t.mu.Lock()
		t.exitCode = code
		t.mu.Unlock()
		close(t.finished)
	}
	if s.current == t {
		s.current = nil
		s.runNextLocked()
	}
	s.mu.Unlock()
}

/// WaitForChild blocks the caller until the named child (or, if taskId is
/// 0, any child) finishes, returning its exit code. Returns NoChild if
/// taskId is 0 and the caller has no children, or if the named task does
/// not exist; NotChild if it exists but isn't this caller's child.
func (s *Scheduler_t) WaitForChild(caller *Task_t, taskId uint64) (int, defs.Err_t) {
	target, err := s.pickChild(caller, taskId)
	if err != 0 {
		return 0, err
	}
	s.blockUntilFinished(caller, target)
	return target.exitCode, 0
}

func (s *Scheduler_t) pickChild(caller *Task_t, taskId uint64) (*Task_t, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if taskId == 0 {
		if len(caller.children) == 0 {
			return nil, defs.NoChild
		}
		for _, cid := range caller.children {
			if c, ok := s.tasks[cid]; ok && c.State() != Finished {
				return c, 0
			}
		}
		// all children already finished; return the first still tracked.
		for _, cid := range caller.children {
			if c, ok := s.tasks[cid]; ok {
				return c, 0
			}
		}
		return nil, defs.NoChild
	}
	target, ok := s.tasks[taskId]
	if !ok {
		return nil, defs.NoChild
	}
	if target.parentId != caller.Id {
		return nil, defs.NotChild
	}
	return target, 0
}

// blockUntilFinished gives up the CPU (if the target hasn't already
// finished) and waits for target.finished to close, without spinning: the
// caller is parked off the ready queue entirely since it cannot do
// anything useful until the child exits.
func (s *Scheduler_t) blockUntilFinished(caller *Task_t, target *Task_t) {
	select {
	case <-target.finished:
		return
	default:
	}
	s.mu.Lock()
	caller.setState(Sleeping)
	caller.mu.Lock()
	caller.wakeTick = ^uint64(0) // never due, so Tick leaves it off the ready queue
	caller.mu.Unlock()
	caller.waitingFor = target.Id
	if s.current == caller {
		s.current = nil
		s.runNextLocked()
	}
	s.mu.Unlock()
	<-target.finished
	caller.waitingFor = 0
}

/// Waitpid is wait_for_child generalized with WNOHANG: when flags has
/// WNOHANG set and the target has not finished, it returns immediately
/// with NoChild instead of blocking.
func (s *Scheduler_t) Waitpid(caller *Task_t, taskId uint64, flags int) (uint64, int, defs.Err_t) {
	target, err := s.pickChild(caller, taskId)
	if err != 0 {
		return 0, 0, err
	}
	if flags&WNOHANG != 0 && target.State() != Finished {
		return 0, 0, defs.NoChild
	}
	s.blockUntilFinished(caller, target)
	return target.Id, target.exitCode, 0
}

/// KillTask marks the target Finished with exit code -1 and drops it from
/// the ready queue so the scheduler does not hand it the CPU again, per
/// §4.F's cancellation contract. A goroutine already running the target
/// is not stopped; when it later returns, the -1 exit code is kept.
func (s *Scheduler_t) KillTask(caller *Task_t, targetId uint64) defs.Err_t {
	if caller.Id == targetId {
		return defs.CannotKillSelf
	}
	s.mu.Lock()
	target, ok := s.tasks[targetId]
	if !ok {
		s.mu.Unlock()
		return defs.NotFound
	}
	if target.State() == Finished {
		s.mu.Unlock()
		return defs.AlreadyFinished
	}
	wasCurrent := s.current == target
	for i, q := range s.readyQ {
		if q == target {
			s.readyQ = append(s.readyQ[:i], s.readyQ[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.taskExit(target, -1)
	_ = wasCurrent
	return 0
}
