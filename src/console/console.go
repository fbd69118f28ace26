// Package console implements the console input router (spec §4.P): a
// single global UTF-8 byte queue fed by keyboard interrupts, delivered
// to whichever task currently holds input focus. Grounded on
// sabos/src/circbuf for the underlying byte queue (the same ring buffer
// pipes use) and on the teacher's own yield-retry idiom for blocking
// operations (see pipe's WouldBlock / handle_read contract, §4.I).
package console

import (
	"sync"

	"sabos/src/circbuf"
	"sabos/src/defs"
	"sabos/src/mem"
	"sabos/src/sched"
)

/// queueSize is the input queue's capacity in bytes.
const queueSize = 256

/// KernelShellId is the conventional task id that owns console input
/// whenever no task has called Grab -- there is no task with this real
/// id (sched.Scheduler_t hands out ids starting at 1), so it safely
/// names "the kernel's built-in shell".
const KernelShellId = 0

/// Console_t is the global console input router. One instance exists
/// per booted kernel.
type Console_t struct {
	mu    sync.Mutex
	buf   circbuf.Circbuf_t
	focus uint64
}

/// New returns a console router backed by frames, with no task holding
/// focus (input defaults to the kernel shell).
func New(frames *mem.FrameAllocator_t) *Console_t {
	c := &Console_t{}
	c.buf.Init(queueSize, frames)
	return c
}

/// Grab gives taskId exclusive input focus, per §4.P's `console_grab`.
/// Grabbing always succeeds and silently displaces whoever held focus
/// before; the spec names no permission check for this operation.
func (c *Console_t) Grab(taskId uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focus = taskId
}

/// Release relinquishes taskId's focus, returning it to the kernel
/// shell. A task that does not currently hold focus cannot release
/// someone else's.
func (c *Console_t) Release(taskId uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.focus == taskId {
		c.focus = KernelShellId
	}
}

/// Focus reports which task currently holds input focus.
func (c *Console_t) Focus() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focus
}

/// KeyPress delivers one input byte to the global queue. It is the
/// keyboard interrupt handler's entry point, registered against
/// sabos/src/intr's VecKeyboard.
func (c *Console_t) KeyPress(b byte) defs.Err_t {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.buf.WriteFrom([]byte{b})
	return err
}

// authorized reports whether taskId is the one allowed to read the
// queue right now: whoever holds focus, or the kernel shell when
// nobody does.
func (c *Console_t) authorized(taskId uint64) bool {
	if c.focus == KernelShellId {
		return taskId == KernelShellId
	}
	return taskId == c.focus
}

/// TryRead pops one byte for taskId without blocking: PermissionDenied
/// if taskId does not hold focus, WouldBlock if the queue is empty.
func (c *Console_t) TryRead(taskId uint64) (byte, defs.Err_t) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authorized(taskId) {
		return 0, defs.PermissionDenied
	}
	var b [1]byte
	n, err := c.buf.ReadInto(b[:])
	if err != 0 {
		return 0, err
	}
	if n == 0 {
		return 0, defs.WouldBlock
	}
	return b[0], 0
}

/// ReadBlocking implements `read_input_blocking`: it yields the calling
/// task until the queue has a character, per §4.P. Pipe-redirected
/// stdin bypasses this entirely at the handle layer, never reaching
/// here.
func (c *Console_t) ReadBlocking(sc *sched.Scheduler_t, task *sched.Task_t, taskId uint64) (byte, defs.Err_t) {
	for {
		b, err := c.TryRead(taskId)
		if err == defs.WouldBlock {
			sc.YieldNow(task)
			continue
		}
		return b, err
	}
}
