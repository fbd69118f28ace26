package inet

import (
	"sabos/src/defs"
	"sabos/src/sched"
)

/// IP6_t is an IPv6 address; ping6 is the only IPv6-shaped operation this
/// facade exposes (§6), so it is the only place this type is needed.
type IP6_t [16]byte

var loopback6 = IP6_t{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}

/// Ping6 answers immediately for the loopback address -- the only host
/// reachable on a simulated single-interface segment -- and blocks until
/// timeoutMs expires and reports Timeout for anything else, the same
/// shape a real implementation's unanswered echo request would have.
func (s *State_t) Ping6(sc *sched.Scheduler_t, task *sched.Task_t, target IP6_t, timeoutMs uint64) defs.Err_t {
	if target == loopback6 {
		return 0
	}
	if timeoutMs == 0 {
		timeoutMs = 1
	}
	sc.SleepMs(task, timeoutMs)
	return defs.Timeout
}
