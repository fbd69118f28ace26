package inet

import (
	"sync"

	"sabos/src/circbuf"
	"sabos/src/defs"
	"sabos/src/limits"
	"sabos/src/mem"
	"sabos/src/sched"
)

/// tcpState_t names the handful of TCP states the facade actually
/// distinguishes. A real stack's full FSM (SYN_SENT, FIN_WAIT_1/2,
/// CLOSING, LAST_ACK, ...) collapses here to the states a loopback-only
/// connection ever visits: the handshake is synchronous, so a connection
/// is Established the instant Connect or Accept returns it.
type tcpState_t int

const (
	tcpEstablished tcpState_t = iota
	tcpTimeWait
	tcpClosed
)

/// Conn_t is one half of a loopback TCP connection. peer is the other
/// half; Send on one writes into the other's rx ring, so the pair models
/// a full duplex pipe without needing separate tx buffering.
type Conn_t struct {
	mu         sync.Mutex
	id         uint64
	state      tcpState_t
	localPort  uint16
	remotePort uint16
	remoteIP   IP_t
	rx         circbuf.Circbuf_t
	peer       *Conn_t
}

type listener_t struct {
	mu         sync.Mutex
	port       uint16
	backlogCap int
	backlog    []*Conn_t
}

const tcpRingSize = 4096

func (s *State_t) newConnLocked(frames *mem.FrameAllocator_t) *Conn_t {
	s.nextConn++
	c := &Conn_t{id: s.nextConn}
	c.rx.Init(tcpRingSize, frames)
	s.conns.Set(int(c.id), c)
	return c
}

/// Id returns the connection's id, as handed back by connect/accept and
/// later used to address send/recv/close.
func (c *Conn_t) Id() uint64 {
	return c.id
}

/// Conn looks up a connection by id, for send/recv/close.
func (s *State_t) Conn(id uint64) (*Conn_t, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.conns.Get(int(id))
	if !ok {
		return nil, false
	}
	return v.(*Conn_t), true
}

/// TcpListen opens port for incoming connections (SYS_TCP op listen).
/// backlog bounds how many accepted-but-unclaimed connections may queue.
func (s *State_t) TcpListen(port uint16, backlog int) (uint16, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.listeners[port]; taken {
		return 0, defs.AlreadyExists
	}
	if backlog <= 0 {
		backlog = 1
	}
	s.listeners[port] = &listener_t{port: port, backlogCap: backlog}
	return port, 0
}

/// TcpConnect dials a listener bound to dstIP:dstPort. The hosted
/// simulator only ever has one interface, so dstIP is accepted but not
/// otherwise routed on: any listener on dstPort answers, matching how the
/// rest of this core treats the network as a single shared segment.
func (s *State_t) TcpConnect(frames *mem.FrameAllocator_t, dstIP IP_t, dstPort uint16, localPort uint16) (*Conn_t, defs.Err_t) {
	s.mu.Lock()
	ln, ok := s.listeners[dstPort]
	if !ok {
		s.mu.Unlock()
		return nil, defs.NotFound
	}
	if !limits.Syslimit.Socks.Take() {
		s.mu.Unlock()
		return nil, defs.NoSpace
	}
	if !limits.Syslimit.Socks.Take() {
		limits.Syslimit.Socks.Give()
		s.mu.Unlock()
		return nil, defs.NoSpace
	}
	client := s.newConnLocked(frames)
	server := s.newConnLocked(frames)
	client.peer, server.peer = server, client
	client.state, server.state = tcpEstablished, tcpEstablished
	client.localPort, client.remotePort, client.remoteIP = localPort, dstPort, dstIP
	server.localPort, server.remotePort, server.remoteIP = dstPort, localPort, s.ip
	s.mu.Unlock()

	ln.mu.Lock()
	defer ln.mu.Unlock()
	if len(ln.backlog) >= ln.backlogCap {
		limits.Syslimit.Socks.Give()
		limits.Syslimit.Socks.Give()
		s.mu.Lock()
		s.conns.Del(int(client.id))
		s.conns.Del(int(server.id))
		s.mu.Unlock()
		return nil, defs.NoSpace
	}
	ln.backlog = append(ln.backlog, server)
	return client, 0
}

/// TcpAccept blocks until a pending connection is queued on the listener
/// bound to port, or timeoutMs elapses.
func (s *State_t) TcpAccept(sc *sched.Scheduler_t, task *sched.Task_t, port uint16, timeoutMs uint64) (*Conn_t, defs.Err_t) {
	s.mu.Lock()
	ln, ok := s.listeners[port]
	s.mu.Unlock()
	if !ok {
		return nil, defs.NotFound
	}
	return WaitNetCondition(sc, task, timeoutMs, func() (*Conn_t, bool) {
		ln.mu.Lock()
		defer ln.mu.Unlock()
		if len(ln.backlog) == 0 {
			return nil, false
		}
		c := ln.backlog[0]
		ln.backlog = ln.backlog[1:]
		return c, true
	})
}

/// TcpSend copies bytes into the peer's receive ring, returning how many
/// were accepted; a full ring accepts zero rather than blocking, same as
/// the teacher's own pipe writes.
func (c *Conn_t) TcpSend(bytes []byte) (int, defs.Err_t) {
	c.mu.Lock()
	peer := c.peer
	state := c.state
	c.mu.Unlock()
	if state != tcpEstablished {
		return 0, defs.BrokenPipe
	}
	if peer == nil {
		return 0, defs.BrokenPipe
	}
	return peer.rx.WriteFrom(bytes)
}

/// TcpRecv blocks until at least one byte is available to copy into buf,
/// the peer has closed (returns 0, nil), or timeoutMs elapses.
func (c *Conn_t) TcpRecv(sc *sched.Scheduler_t, task *sched.Task_t, buf []byte, timeoutMs uint64) (int, defs.Err_t) {
	return WaitNetCondition(sc, task, timeoutMs, func() (int, bool) {
		c.mu.Lock()
		closed := c.state != tcpEstablished
		c.mu.Unlock()
		if c.rx.Empty() {
			if closed {
				return 0, true
			}
			return 0, false
		}
		n, _ := c.rx.ReadInto(buf)
		return n, true
	})
}

/// TcpClose tears down the connection, moving it to TIME_WAIT and
/// releasing its ring. The socket budget is returned immediately rather
/// than after a simulated 2MSL wait: there is no retransmission to
/// protect against here, only the accounting the budget models.
func (s *State_t) TcpClose(c *Conn_t) defs.Err_t {
	c.mu.Lock()
	if c.state == tcpClosed {
		c.mu.Unlock()
		return 0
	}
	c.state = tcpTimeWait
	peer := c.peer
	c.mu.Unlock()

	if peer != nil {
		peer.mu.Lock()
		if peer.state == tcpEstablished {
			peer.state = tcpClosed
		}
		peer.mu.Unlock()
	}

	c.rx.Release()
	s.mu.Lock()
	s.conns.Del(int(c.id))
	s.mu.Unlock()
	c.mu.Lock()
	c.state = tcpClosed
	c.mu.Unlock()
	limits.Syslimit.Socks.Give()
	return 0
}
