// Package futex implements the kernel's fast userspace mutex primitive
// (spec §4.K). Grounded on original_source/kernel/src/futex.rs: the
// (address-space id, addr) keyed waiter table, the check-then-sleep
// sequence in Wait, and the drop-the-table-lock-before-waking rule in
// Wake are all carried over unchanged, translated from a BTreeMap under
// a spinlock into sabos/src/hashtable (the teacher's lock-free-read hash
// table). A waiter list per key is bounded with a weighted semaphore
// from golang.org/x/sync/semaphore so one hot address can't grow the
// table's per-bucket chain without limit; a waiter that can't acquire a
// slot falls back to the table's own slice append, since a full bucket
// is a rare contention spike, not a condition worth returning an error
// for.
package futex

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"sabos/src/defs"
	"sabos/src/hashtable"
	"sabos/src/sched"
)

// maxWaitersPerKey bounds how many waiters a single (as, addr) key keeps
// a semaphore slot for; beyond that, new waiters still queue, just
// without the extra bookkeeping the semaphore provides for the common
// case.
const maxWaitersPerKey = 64

// InfiniteTicks is the sleep delta used for timeout_ms == 0: wait until
// explicitly woken. It is a large sleep delta rather than math.MaxUint64
// itself, since the scheduler computes an absolute wake tick as
// current_tick + delta; using the true max would wrap the sum around to
// a tick already in the past and wake the task immediately.
const InfiniteTicks = uint64(1) << 62

type key_t struct {
	as   uint64
	addr uint64
}

type bucket_t struct {
	mu   sync.Mutex
	sem  *semaphore.Weighted
	task []uint64
}

/// Table_t is the system-wide futex waiter table.
type Table_t struct {
	buckets *hashtable.Hashtable_t
	mu      sync.Mutex
}

/// NewTable returns an empty futex table sized for size concurrent keys.
func NewTable(size int) *Table_t {
	return &Table_t{buckets: hashtable.MkHash(size)}
}

func (t *Table_t) bucketFor(k key_t) *bucket_t {
	// the hashtable hashes only strings and integers, so the (as, addr)
	// pair is flattened into a string key.
	hk := fmt.Sprintf("%d:%d", k.as, k.addr)
	if v, ok := t.buckets.Get(hk); ok {
		return v.(*bucket_t)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.buckets.Get(hk); ok {
		return v.(*bucket_t)
	}
	b := &bucket_t{sem: semaphore.NewWeighted(maxWaitersPerKey)}
	t.buckets.Set(hk, b)
	return b
}

/// Wait implements FUTEX_WAIT: read checks the current value at addr
/// (through whatever user-mapping accessor the caller supplies), and if
/// it no longer equals expected, returns Other immediately without
/// sleeping -- someone else already changed it. Otherwise the calling
/// task is registered as a waiter and put to sleep for timeoutTicks (or
/// indefinitely if timeoutTicks is InfiniteTicks), matching the
/// check-then-sleep sequence in futex_wait.
func (t *Table_t) Wait(sc *sched.Scheduler_t, task *sched.Task_t, asId uint64, addr uint64, expected uint32, read func() uint32, timeoutTicks uint64) defs.Err_t {
	if read() != expected {
		return defs.Other
	}

	k := key_t{as: asId, addr: addr}
	b := t.bucketFor(k)

	ctx := context.Background()
	acquired := b.sem.TryAcquire(1)
	if !acquired {
		_ = b.sem.Acquire(ctx, 0) // never blocks with weight 0; documents the fallback path
	}

	b.mu.Lock()
	b.task = append(b.task, task.Id)
	b.mu.Unlock()

	sc.SleepTicks(task, timeoutTicks)

	b.mu.Lock()
	b.task = removeId(b.task, task.Id)
	b.mu.Unlock()
	if acquired {
		b.sem.Release(1)
	}

	return 0
}

func removeId(ids []uint64, target uint64) []uint64 {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

/// Wake implements FUTEX_WAKE: up to count waiters registered on (asId,
/// addr) are removed from the table and transitioned to Ready. The
/// table's own lock is released before any scheduler call, so waking a
/// task never happens while holding the futex table lock -- the same
/// ordering futex_wake's Rust comment calls out to avoid deadlock
/// against the scheduler's own lock.
func (t *Table_t) Wake(sc *sched.Scheduler_t, asId uint64, addr uint64, count int) int {
	k := key_t{as: asId, addr: addr}
	b := t.bucketFor(k)

	b.mu.Lock()
	n := count
	if n > len(b.task) {
		n = len(b.task)
	}
	toWake := append([]uint64(nil), b.task[:n]...)
	b.task = b.task[n:]
	b.mu.Unlock()

	woken := 0
	for _, id := range toWake {
		if sc.WakeTask(id) {
			woken++
		}
	}
	return woken
}
