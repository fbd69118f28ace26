// Package ipc implements inter-task message passing (spec §4.J): a
// per-task inbox of (sender, bytes, handle?) messages delivered by id.
// Grounded on sabos/src/hashtable (itself the teacher's
// hashtable/hashtable.go, import-fixed) for the sender->inbox directory;
// each inbox is a small FIFO guarded by its own lock. A blocked Recv must
// stay visible to the scheduler as the blocked-on-IPC suspension point
// spec §4.F names alongside futex_wait and blocking console/net reads, so
// Router_t takes the scheduler and the calling task directly, the way
// console.Console_t.ReadBlocking and inet.WaitNetCondition do: it loops,
// checking the inbox and a tick-based deadline, yielding the CPU with
// sc.YieldNow between checks instead of parking in a raw sync.Cond.Wait
// the scheduler has no way to see.
package ipc

import (
	"sync"

	"sabos/src/defs"
	"sabos/src/hashtable"
	"sabos/src/sched"
)

/// Msg_t is one IPC message: raw bytes plus at most one carried handle,
/// per §4.J ("send_with_handle and recv_with_handle carry exactly one
/// capability per message").
type Msg_t struct {
	From      uint64
	Bytes     []byte
	Handle    uint64
	HasHandle bool
}

type inbox_t struct {
	mu     sync.Mutex
	queue  []Msg_t
	cancel bool
}

func newInbox() *inbox_t {
	return &inbox_t{}
}

/// Router_t directs messages to per-task inboxes, created lazily the
/// first time a task is addressed either as sender or recipient.
type Router_t struct {
	mu      sync.Mutex
	inboxes *hashtable.Hashtable_t
}

/// NewRouter returns an empty message router sized for size concurrent
/// tasks.
func NewRouter(size int) *Router_t {
	return &Router_t{inboxes: hashtable.MkHash(size)}
}

func (r *Router_t) inboxFor(id uint64) *inbox_t {
	if v, ok := r.inboxes.Get(int(id)); ok {
		return v.(*inbox_t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.inboxes.Get(int(id)); ok {
		return v.(*inbox_t)
	}
	in := newInbox()
	r.inboxes.Set(int(id), in)
	return in
}

/// Register ensures id has an inbox, so Send to an as-yet-silent task
/// still succeeds instead of needing the recipient to have called Recv
/// first.
func (r *Router_t) Register(id uint64) {
	r.inboxFor(id)
}

/// Send pushes bytes (and, optionally, one handle) onto to's inbox. The
/// recipient must already be known to the router -- spec §4.J requires
/// "to must exist" -- so callers register every live task id up front.
func (r *Router_t) Send(from, to uint64, bytes []byte, handle uint64, hasHandle bool) defs.Err_t {
	if _, ok := r.inboxes.Get(int(to)); !ok {
		return defs.NotFound
	}
	in := r.inboxFor(to)
	in.mu.Lock()
	in.queue = append(in.queue, Msg_t{From: from, Bytes: bytes, Handle: handle, HasHandle: hasHandle})
	in.mu.Unlock()
	return 0
}

/// Recv blocks until task's inbox has a message or timeoutMs elapses,
/// returning it FIFO. A timeoutMs of 0 means wait forever; Timeout is
/// returned if the deadline passes first. CancelRecv interrupts a
/// blocked Recv immediately with Timeout, per §4.J's "wakes a task that
/// is blocked in recv". The wait is cooperative: task is handed back to
/// sc between checks via YieldNow, so the scheduler always sees it as
/// Ready/Running rather than parked outside its bookkeeping.
func (r *Router_t) Recv(sc *sched.Scheduler_t, task *sched.Task_t, timeoutMs uint64) (Msg_t, defs.Err_t) {
	return r.recvMatching(sc, task, timeoutMs, func(Msg_t) bool { return true })
}

/// RecvFrom pops only the first queued message whose sender matches
/// from, leaving every other message in place -- the request/response
/// idiom §4.J calls out for talking to a single service amid other
/// traffic.
func (r *Router_t) RecvFrom(sc *sched.Scheduler_t, task *sched.Task_t, from uint64, timeoutMs uint64) (Msg_t, defs.Err_t) {
	return r.recvMatching(sc, task, timeoutMs, func(m Msg_t) bool { return m.From == from })
}

func (r *Router_t) recvMatching(sc *sched.Scheduler_t, task *sched.Task_t, timeoutMs uint64, match func(Msg_t) bool) (Msg_t, defs.Err_t) {
	in := r.inboxFor(task.Id)

	hasDeadline := timeoutMs != 0
	deadline := sc.Ticks() + timeoutMs*sched.TicksPerMs

	for {
		in.mu.Lock()
		if idx := indexMatch(in.queue, match); idx >= 0 {
			m := in.queue[idx]
			in.queue = append(in.queue[:idx], in.queue[idx+1:]...)
			in.mu.Unlock()
			return m, 0
		}
		if in.cancel {
			in.cancel = false
			in.mu.Unlock()
			return Msg_t{}, defs.Timeout
		}
		in.mu.Unlock()

		if hasDeadline && sc.Ticks() >= deadline {
			return Msg_t{}, defs.Timeout
		}
		sc.YieldNow(task)
	}
}

func indexMatch(q []Msg_t, match func(Msg_t) bool) int {
	for i, m := range q {
		if match(m) {
			return i
		}
	}
	return -1
}

/// CancelRecv wakes whatever task is blocked in Recv/RecvFrom on self's
/// inbox, causing it to return Timeout the next time it re-checks.
func (r *Router_t) CancelRecv(self uint64) {
	in := r.inboxFor(self)
	in.mu.Lock()
	in.cancel = true
	in.mu.Unlock()
}
