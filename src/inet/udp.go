package inet

import (
	"sabos/src/defs"
	"sabos/src/limits"
	"sabos/src/sched"
)

/// datagram_t is one queued UDP payload plus its originator, so RecvFrom
/// can report who sent it.
type datagram_t struct {
	srcIP   IP_t
	srcPort uint16
	bytes   []byte
}

/// udpSock_t is one bound UDP socket: a FIFO of datagrams addressed to
/// its port. There is no listen/accept step -- UDP has no connection to
/// establish, only a port to own.
type udpSock_t struct {
	port  uint16
	queue []datagram_t
}

const udpQueueCap = 64

/// UdpBind claims port for the caller, or assigns an ephemeral one when
/// port == 0, per §4.Q's bind/send_to/recv_from/close grouping.
func (s *State_t) UdpBind(port uint16) (uint16, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if port == 0 {
		for {
			if _, taken := s.udpSocks[s.nextEphemeral]; !taken {
				port = s.nextEphemeral
				s.nextEphemeral++
				break
			}
			s.nextEphemeral++
		}
	} else if _, taken := s.udpSocks[port]; taken {
		return 0, defs.AlreadyExists
	}
	if !limits.Syslimit.Socks.Take() {
		return 0, defs.NoSpace
	}
	s.udpSocks[port] = &udpSock_t{port: port}
	return port, 0
}

/// UdpSendTo enqueues bytes on the socket bound at dstPort, as if it had
/// arrived over the wire from srcPort on this same host -- the only peer
/// a hosted simulator with one interface can ever have.
func (s *State_t) UdpSendTo(srcPort uint16, dstIP IP_t, dstPort uint16, bytes []byte) (int, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sock, ok := s.udpSocks[dstPort]
	if !ok {
		return 0, defs.NotFound
	}
	if len(sock.queue) >= udpQueueCap {
		return 0, defs.NoSpace
	}
	cp := make([]byte, len(bytes))
	copy(cp, bytes)
	sock.queue = append(sock.queue, datagram_t{srcIP: s.ip, srcPort: srcPort, bytes: cp})
	_ = dstIP // single-interface host: every bind address is this host's
	return len(bytes), 0
}

/// UdpRecvFrom blocks until a datagram arrives at port or timeoutMs
/// elapses, returning the payload and its sender.
func (s *State_t) UdpRecvFrom(sc *sched.Scheduler_t, task *sched.Task_t, port uint16, buf []byte, timeoutMs uint64) (int, IP_t, uint16, defs.Err_t) {
	type result_t struct {
		n       int
		srcIP   IP_t
		srcPort uint16
	}
	r, err := WaitNetCondition(sc, task, timeoutMs, func() (result_t, bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		sock, ok := s.udpSocks[port]
		if !ok || len(sock.queue) == 0 {
			return result_t{}, false
		}
		d := sock.queue[0]
		sock.queue = sock.queue[1:]
		n := copy(buf, d.bytes)
		return result_t{n: n, srcIP: d.srcIP, srcPort: d.srcPort}, true
	})
	return r.n, r.srcIP, r.srcPort, err
}

/// UdpClose releases port back to the table.
func (s *State_t) UdpClose(port uint16) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.udpSocks[port]; !ok {
		return defs.InvalidHandle
	}
	delete(s.udpSocks, port)
	limits.Syslimit.Socks.Give()
	return 0
}
