// Package inet implements the netstack facade (spec §4.Q): a single
// mutex-guarded net state (MAC address, ARP cache, virtual wire) plus the
// cooperative wait pattern every blocking net call is built from. The
// protocol semantics above that line -- TCP's state machine, UDP sockets,
// a DHCP lease, DNS -- are standard and implemented in tcp.go, udp.go,
// dhcp.go and dns.go; this file owns the state they share, ARP learning
// and resolution, the frame queue, and the generic suspend/retry loop
// they all call into.
//
// There is no PCI bus or physical NIC in the hosted simulator (§1), so
// "the wire" is a loopback: net_send_frame enqueues a frame that
// net_recv_frame (or a listening TCP/UDP endpoint) dequeues from the same
// State_t. Grounded on sabos/src/hashtable (teacher's hashtable.go,
// already used the same way by sabos/src/ipc) for the ARP cache and
// connection/socket directories, and sabos/src/limits for the
// Sysatomic_t-backed socket budget (Syslimit.Socks, shared with the
// teacher's own pipe/TIME_WAIT accounting) and the plain-int ARP cap
// (Syslimit.Arpents).
package inet

import (
	"sync"

	"sabos/src/defs"
	"sabos/src/hashtable"
	"sabos/src/limits"
	"sabos/src/sched"
)

/// MAC_t is an Ethernet hardware address.
type MAC_t [6]byte

/// IP_t is an IPv4 address, stored big-endian (IP_t{192,168,1,1}).
type IP_t [4]byte

func (ip IP_t) String() string {
	return string([]byte{
		'0' + ip[0]/100, '0' + (ip[0]/10)%10, '0' + ip[0]%10, '.',
		'0' + ip[1]/100, '0' + (ip[1]/10)%10, '0' + ip[1]%10, '.',
		'0' + ip[2]/100, '0' + (ip[2]/10)%10, '0' + ip[2]%10, '.',
		'0' + ip[3]/100, '0' + (ip[3]/10)%10, '0' + ip[3]%10,
	})
}

/// Frame_t is one raw Ethernet frame as handed to net_send_frame or
/// returned by net_recv_frame.
type Frame_t struct {
	Bytes []byte
}

/// State_t is the netstack's single lock: every table below is reachable
/// only while holding mu, and every blocking call releases it (via
/// WaitNetCondition's check callback) before yielding, matching §5's
/// "net-state, then device driver" lock order -- nothing here ever holds
/// mu across a yield.
type State_t struct {
	mu sync.Mutex

	mac MAC_t
	ip  IP_t

	arp *hashtable.Hashtable_t // IP_t.String() -> MAC_t

	wire []Frame_t // loopback frame queue drained by net_recv_frame

	listeners map[uint16]*listener_t  // port -> listener
	conns     *hashtable.Hashtable_t  // connKey string -> *Conn_t
	nextConn  uint64

	udpSocks map[uint16]*udpSock_t // port -> socket
	nextEphemeral uint16

	dhcpLeased int
}

/// NewState builds an empty netstack bound to the given hardware and
/// protocol address. size sizes the ARP and connection hash tables.
func NewState(mac MAC_t, ip IP_t, size int) *State_t {
	return &State_t{
		mac:           mac,
		ip:            ip,
		arp:           hashtable.MkHash(size),
		listeners:     make(map[uint16]*listener_t),
		conns:         hashtable.MkHash(size),
		udpSocks:      make(map[uint16]*udpSock_t),
		nextEphemeral: 49152,
	}
}

/// Mac returns the interface's hardware address (net_get_mac).
func (s *State_t) Mac() MAC_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mac
}

/// Info_t is the summary get_net_info reports: the interface's addresses
/// plus a couple of small table sizes, the netstack's analog of
/// sysGetMemInfo's frame-allocator snapshot.
type Info_t struct {
	Mac       MAC_t
	Ip        IP_t
	ArpCount  int
	ConnCount int
}

/// Info snapshots the interface's current state for get_net_info.
func (s *State_t) Info() Info_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info_t{
		Mac:       s.mac,
		Ip:        s.ip,
		ArpCount:  s.arp.Size(),
		ConnCount: s.conns.Size(),
	}
}

/// LearnArp records ip's hardware address, evicting nothing: the cache is
/// capped by Syslimit.Arpents and simply refuses new entries once full,
/// same as the teacher's other fixed-size tables fail shut rather than
/// evict.
func (s *State_t) LearnArp(ip IP_t, mac MAC_t) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ip.String()
	if _, ok := s.arp.Get(key); !ok {
		if s.arp.Size() >= limits.Syslimit.Arpents {
			return defs.NoSpace
		}
	}
	s.arp.Set(key, mac)
	return 0
}

/// ResolveArp looks up ip's hardware address.
func (s *State_t) ResolveArp(ip IP_t) (MAC_t, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.arp.Get(ip.String())
	if !ok {
		return MAC_t{}, false
	}
	return v.(MAC_t), true
}

/// SendFrame appends bytes to the loopback wire (net_send_frame). There is
/// no real link layer to drop it on, so this only ever fails on the
/// user-pointer validation the caller already did.
func (s *State_t) SendFrame(bytes []byte) {
	cp := make([]byte, len(bytes))
	copy(cp, bytes)
	s.mu.Lock()
	s.wire = append(s.wire, Frame_t{Bytes: cp})
	s.mu.Unlock()
}

/// recvFrame pops the oldest queued frame, if any (net_recv_frame's
/// non-blocking check).
func (s *State_t) recvFrame() (Frame_t, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.wire) == 0 {
		return Frame_t{}, false
	}
	f := s.wire[0]
	s.wire = s.wire[1:]
	return f, true
}

/// RecvFrame blocks (via WaitNetCondition) until a frame is available or
/// timeoutMs elapses; timeoutMs == 0 waits forever.
func (s *State_t) RecvFrame(sc *sched.Scheduler_t, task *sched.Task_t, timeoutMs uint64) (Frame_t, defs.Err_t) {
	return WaitNetCondition(sc, task, timeoutMs, func() (Frame_t, bool) {
		return s.recvFrame()
	})
}

/// WaitNetCondition is the facade's one suspension primitive (spec
/// §4.Q/§5): it calls check in a tight yield loop, each iteration briefly
/// taking whatever lock check needs internally, until check reports ok or
/// the PIT-tick-derived deadline passes. timeoutMs == 0 means wait
/// forever, matching sysFutexWait's own zero-timeout convention in
/// sabos/src/trap.
func WaitNetCondition[T any](sc *sched.Scheduler_t, task *sched.Task_t, timeoutMs uint64, check func() (T, bool)) (T, defs.Err_t) {
	var deadline uint64
	hasDeadline := timeoutMs != 0
	if hasDeadline {
		deadline = sc.Ticks() + timeoutMs*sched.TicksPerMs
	}
	for {
		if v, ok := check(); ok {
			return v, 0
		}
		if hasDeadline && sc.Ticks() >= deadline {
			var zero T
			return zero, defs.Timeout
		}
		sc.YieldNow(task)
	}
}
