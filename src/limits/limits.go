package limits

import "unsafe"
import "sync/atomic"

/// Lhits counts limit hits.
var Lhits int

/// Sysatomic_t is a numeric limit that can be atomically updated.
type Sysatomic_t int64

/// Syslimit_t tracks system wide resource limits enforced across the core.
type Syslimit_t struct {
	// protected by the scheduler's task-table lock
	Tasks int
	// protected by the handle table's lock
	Handles int
	// protected by the futex table's bucket locks
	Futexes int
	// protected by the net state mutex (ARP cache)
	Arpents int
	// per TCP connection segments to remember for retransmission
	Tcpsegs int
	// includes pipes and all TCP connections in TIME_WAIT
	Socks Sysatomic_t
	// total live pipe buffers
	Pipes Sysatomic_t
	// bdev cache blocks (FAT sector cache)
	Blocks int
}

/// Syslimit describes the configured system wide limits.
var Syslimit *Syslimit_t = MkSysLimit()

/// MkSysLimit returns a pointer to the default set of limits.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Tasks:   1e4,
		Handles: 4096,
		Futexes: 1024,
		Arpents: 1024,
		Tcpsegs: 16,
		Socks:   1e5,
		Pipes:   1e4,
		Blocks:  100000,
	}
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64(s._aptr(), n)
}

/// Taken tries to decrement the limit by the provided amount.
/// It returns true on success.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	return false
}

/// Take decrements the limit and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}
