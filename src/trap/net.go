// Net syscalls (spec §4.Q, §6): SYS_TCP and SYS_UDP each group several
// operations behind a single number since the abridged catalogue only
// pins one slot per protocol (§6's "grouped range" note); a1 selects the
// operation the way a real syscall multiplexer (ioctl, fcntl) would.
// Everything here is a thin argument-marshalling layer over
// sabos/src/inet, which owns the actual netstack state and the
// WaitNetCondition suspension point these calls block on.
package trap

import (
	"encoding/json"

	"sabos/src/defs"
	"sabos/src/inet"
	"sabos/src/sched"
)

// sysGetNetInfo reports the interface's addresses and table sizes,
// matching sysGetMemInfo/sysGetTaskList's json.Marshal-then-writeOut
// shape (§4.G).
func (d *Dispatcher_t) sysGetNetInfo(task *sched.Task_t, outAddr, outLen uint64) (uint64, defs.Err_t) {
	blob, jerr := json.Marshal(d.net.Info())
	if jerr != nil {
		return 0, defs.Other
	}
	return writeOut(task, outAddr, outLen, blob)
}

const (
	tcpOpConnect = 0
	tcpOpListen  = 1
	tcpOpAccept  = 2
	tcpOpSend    = 3
	tcpOpRecv    = 4
	tcpOpClose   = 5
)

const (
	udpOpBind    = 0
	udpOpSendTo  = 1
	udpOpRecvFrom = 2
	udpOpClose   = 3
)

func readIp(task *sched.Task_t, addr uint64) (inet.IP_t, defs.Err_t) {
	s, err := FromRawSlice[byte](task.As, addr, 4)
	if err != 0 {
		return inet.IP_t{}, err
	}
	b, err := s.Bytes()
	if err != 0 {
		return inet.IP_t{}, err
	}
	return inet.IP_t{b[0], b[1], b[2], b[3]}, 0
}

func writeIp(task *sched.Task_t, addr uint64, ip inet.IP_t) defs.Err_t {
	s, err := FromRawSlice[byte](task.As, addr, 4)
	if err != 0 {
		return err
	}
	return s.CopyOut(ip[:])
}

func (d *Dispatcher_t) connFor(id uint64) (*inet.Conn_t, defs.Err_t) {
	c, ok := d.net.Conn(id)
	if !ok {
		return nil, defs.InvalidHandle
	}
	return c, 0
}

// sysTcp dispatches one of connect/listen/accept/send/recv/close, keyed
// by op in a1, per §6's grouped SYS_TCP range.
func (d *Dispatcher_t) sysTcp(task *sched.Task_t, op, a2, a3, a4, a5 uint64) (uint64, defs.Err_t) {
	switch op {
	case tcpOpConnect:
		dstIp, err := readIp(task, a2)
		if err != 0 {
			return 0, err
		}
		conn, err := d.net.TcpConnect(d.frames, dstIp, uint16(a3), uint16(a4))
		if err != 0 {
			return 0, err
		}
		return conn.Id(), 0
	case tcpOpListen:
		port, err := d.net.TcpListen(uint16(a2), int(a3))
		return uint64(port), err
	case tcpOpAccept:
		conn, err := d.net.TcpAccept(d.sc, task, uint16(a2), a3)
		if err != 0 {
			return 0, err
		}
		return conn.Id(), 0
	case tcpOpSend:
		conn, err := d.connFor(a2)
		if err != 0 {
			return 0, err
		}
		buf, err := FromRawSlice[byte](task.As, a3, a4)
		if err != 0 {
			return 0, err
		}
		bytes, err := buf.Bytes()
		if err != 0 {
			return 0, err
		}
		n, err := conn.TcpSend(bytes)
		return uint64(n), err
	case tcpOpRecv:
		conn, err := d.connFor(a2)
		if err != 0 {
			return 0, err
		}
		buf := make([]byte, a4)
		n, err := conn.TcpRecv(d.sc, task, buf, a5)
		if err != 0 {
			return 0, err
		}
		if _, werr := writeOut(task, a3, a4, buf[:n]); werr != 0 {
			return 0, werr
		}
		return uint64(n), 0
	case tcpOpClose:
		conn, err := d.connFor(a2)
		if err != 0 {
			return 0, err
		}
		return 0, d.net.TcpClose(conn)
	default:
		return 0, defs.InvalidArgument
	}
}

// sysUdp dispatches bind/send_to/recv_from/close, keyed by op in a1.
func (d *Dispatcher_t) sysUdp(task *sched.Task_t, op, a2, a3, a4, a5, a6 uint64) (uint64, defs.Err_t) {
	switch op {
	case udpOpBind:
		port, err := d.net.UdpBind(uint16(a2))
		return uint64(port), err
	case udpOpSendTo:
		dstIp, err := readIp(task, a3)
		if err != 0 {
			return 0, err
		}
		buf, err := FromRawSlice[byte](task.As, a5, a6)
		if err != 0 {
			return 0, err
		}
		bytes, err := buf.Bytes()
		if err != 0 {
			return 0, err
		}
		n, err := d.net.UdpSendTo(uint16(a2), dstIp, uint16(a4), bytes)
		return uint64(n), err
	case udpOpRecvFrom:
		buf := make([]byte, a4)
		n, _, _, err := d.net.UdpRecvFrom(d.sc, task, uint16(a2), buf, a5)
		if err != 0 {
			return 0, err
		}
		if _, werr := writeOut(task, a3, a4, buf[:n]); werr != 0 {
			return 0, werr
		}
		return uint64(n), 0
	case udpOpClose:
		return 0, d.net.UdpClose(uint16(a2))
	default:
		return 0, defs.InvalidArgument
	}
}

// sysNetSendFrame enqueues a raw Ethernet frame onto the loopback wire
// (net_send_frame).
func (d *Dispatcher_t) sysNetSendFrame(task *sched.Task_t, bufAddr, bufLen uint64) (uint64, defs.Err_t) {
	s, err := FromRawSlice[byte](task.As, bufAddr, bufLen)
	if err != 0 {
		return 0, err
	}
	bytes, err := s.Bytes()
	if err != 0 {
		return 0, err
	}
	d.net.SendFrame(bytes)
	return uint64(len(bytes)), 0
}

// sysNetRecvFrame blocks for the next loopback frame (net_recv_frame).
func (d *Dispatcher_t) sysNetRecvFrame(task *sched.Task_t, bufAddr, bufLen, timeoutMs uint64) (uint64, defs.Err_t) {
	f, err := d.net.RecvFrame(d.sc, task, timeoutMs)
	if err != 0 {
		return 0, err
	}
	n, werr := writeOut(task, bufAddr, bufLen, f.Bytes)
	if werr != 0 {
		return 0, werr
	}
	return n, 0
}

// sysNetGetMac writes the interface's hardware address to outAddr
// (net_get_mac).
func (d *Dispatcher_t) sysNetGetMac(task *sched.Task_t, outAddr uint64) (uint64, defs.Err_t) {
	mac := d.net.Mac()
	s, err := FromRawSlice[byte](task.As, outAddr, 6)
	if err != 0 {
		return 0, err
	}
	return 0, s.CopyOut(mac[:])
}

// sysDnsLookup resolves a name at (nameAddr, nameLen) and writes the
// 4-byte address to outAddr (dns_lookup).
func (d *Dispatcher_t) sysDnsLookup(task *sched.Task_t, nameAddr, nameLen, outAddr uint64) (uint64, defs.Err_t) {
	s, err := FromRawSlice[byte](task.As, nameAddr, nameLen)
	if err != 0 {
		return 0, err
	}
	name, err := s.AsStr()
	if err != 0 {
		return 0, err
	}
	ip, err := d.net.DnsLookup(name)
	if err != 0 {
		return 0, err
	}
	return 0, writeIp(task, outAddr, ip)
}

// sysPing6 echoes targetAddr (a 16-byte IPv6 address) (ping6).
func (d *Dispatcher_t) sysPing6(task *sched.Task_t, targetAddr, timeoutMs uint64) (uint64, defs.Err_t) {
	s, err := FromRawSlice[byte](task.As, targetAddr, 16)
	if err != 0 {
		return 0, err
	}
	b, err := s.Bytes()
	if err != 0 {
		return 0, err
	}
	var target inet.IP6_t
	copy(target[:], b)
	return 0, d.net.Ping6(d.sc, task, target, timeoutMs)
}

/// LeaseAbi_t is a DHCP lease's external wire form, written to
/// dhcp_discover's out-pointer -- three packed IPv4 addresses plus the
/// lease duration, mirroring HandleAbi_t's role for handle.Handle_t.
type LeaseAbi_t struct {
	Address [4]byte
	Gateway [4]byte
	Netmask [4]byte
	LeaseMs uint64
}

// sysDhcpDiscover hands back a lease at outAddr (dhcp_discover).
func (d *Dispatcher_t) sysDhcpDiscover(task *sched.Task_t, outAddr uint64) (uint64, defs.Err_t) {
	lease, err := d.net.DhcpDiscover()
	if err != 0 {
		return 0, err
	}
	p, err := FromRawPtr[LeaseAbi_t](task.As, outAddr)
	if err != 0 {
		return 0, err
	}
	return 0, p.Store(LeaseAbi_t{
		Address: lease.Address,
		Gateway: lease.Gateway,
		Netmask: lease.Netmask,
		LeaseMs: lease.LeaseMs,
	})
}
