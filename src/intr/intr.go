// Package intr stands in for the IDT/PIT hardware §4.O describes: a
// timer source that drives the scheduler's tick/preemption hook, plus a
// small registry of handlers for the other interrupt sources (keyboard,
// network) that the hosted simulator represents as ordinary goroutines
// delivering events rather than real IRQ lines. Grounded on the
// teacher's msi/msi.go, whose mutex-guarded map of available vectors is
// the model for Table_t's handler registry, generalized from "a vector
// is either free or allocated" to "a vector either has a handler
// installed or doesn't".
package intr

import (
	"sync"
	"time"

	"sabos/src/sched"
)

/// Vector_t names an external interrupt source. Real hardware vector
/// numbers are replaced by small enumerated sources since this package
/// has no IDT to index into.
type Vector_t uint

const (
	VecKeyboard Vector_t = iota
	VecNet
)

/// Handler_i is invoked when its vector fires.
type Handler_i func()

/// Table_t is the interrupt source registry: console input and the
/// network driver each register one handler, matching §4.O's "other
/// interrupt sources feed the console input router (keyboard) and the
/// network driver."
type Table_t struct {
	mu       sync.Mutex
	handlers map[Vector_t]Handler_i
}

/// NewTable returns an empty interrupt source registry.
func NewTable() *Table_t {
	return &Table_t{handlers: make(map[Vector_t]Handler_i)}
}

/// Register installs h as vec's handler, replacing any previous one.
func (t *Table_t) Register(vec Vector_t, h Handler_i) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[vec] = h
}

/// Unregister removes vec's handler, if any.
func (t *Table_t) Unregister(vec Vector_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, vec)
}

/// Fire invokes vec's handler, if one is installed. The handler runs
/// outside the registry lock so it may itself register or unregister
/// other vectors without deadlocking.
func (t *Table_t) Fire(vec Vector_t) {
	t.mu.Lock()
	h := t.handlers[vec]
	t.mu.Unlock()
	if h != nil {
		h()
	}
}

/// Timer_t drives sched.Scheduler_t.Tick on a wall-clock cadence,
/// standing in for the PIT/APIC timer vector the IDT installs at boot.
/// Each Tick call advances the scheduler's own 1ms-per-tick clock
/// (sched.TicksPerMs) and runs the preemption hook, per §4.O: "the timer
/// handler increments a global tick counter and calls the scheduler's
/// preempt entry."
type Timer_t struct {
	sc     *sched.Scheduler_t
	period time.Duration
	stop   chan struct{}
	wg     sync.WaitGroup
}

/// NewTimer returns a timer that will tick sc once per period once
/// Start is called.
func NewTimer(sc *sched.Scheduler_t, period time.Duration) *Timer_t {
	return &Timer_t{sc: sc, period: period, stop: make(chan struct{})}
}

/// Start launches the ticker goroutine. Calling Start twice is a
/// programmer error, matching the teacher's own boot-once assumption
/// for hardware interrupt sources.
func (t *Timer_t) Start() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.sc.Tick()
			case <-t.stop:
				return
			}
		}
	}()
}

/// Stop halts the ticker goroutine and waits for it to exit.
func (t *Timer_t) Stop() {
	close(t.stop)
	t.wg.Wait()
}
