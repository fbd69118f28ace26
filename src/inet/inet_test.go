package inet

import (
	"sync"
	"testing"

	"sabos/src/defs"
	"sabos/src/mem"
	"sabos/src/sched"
	"sabos/src/vm"
)

func newTestState() *State_t {
	return NewState(MAC_t{0x02, 0, 0, 0, 0, 1}, IP_t{10, 0, 0, 1}, 8)
}

// driveTicks keeps the simulated clock moving until stop is closed, so a
// task parked in SleepTicks (Ping6's timeout path) or waiting on a
// tick-based deadline in WaitNetCondition (UdpRecvFrom's timeout path) is
// guaranteed to wake regardless of how the two goroutines interleave.
func driveTicks(sc *sched.Scheduler_t, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
			sc.Tick()
		}
	}
}

func TestArpLearnAndResolve(t *testing.T) {
	s := newTestState()
	if _, ok := s.ResolveArp(IP_t{10, 0, 0, 2}); ok {
		t.Fatal("expected miss before Learn")
	}
	mac := MAC_t{0x02, 0, 0, 0, 0, 2}
	if err := s.LearnArp(IP_t{10, 0, 0, 2}, mac); err != 0 {
		t.Fatalf("LearnArp: %v", err)
	}
	got, ok := s.ResolveArp(IP_t{10, 0, 0, 2})
	if !ok || got != mac {
		t.Fatalf("ResolveArp = %v, %v", got, ok)
	}
}

func TestFrameLoopback(t *testing.T) {
	s := newTestState()
	sc := sched.New()
	frames := mem.NewFrameAllocator(64)
	kas := vm.NewKernelSpace(frames)
	task := sc.SpawnKernel("frametest", kas, func(*sched.Task_t) {})

	s.SendFrame([]byte("hello"))
	f, err := s.RecvFrame(sc, task, 0)
	if err != 0 {
		t.Fatalf("RecvFrame: %v", err)
	}
	if string(f.Bytes) != "hello" {
		t.Fatalf("RecvFrame bytes = %q", f.Bytes)
	}
}

func TestTcpConnectAcceptSendRecv(t *testing.T) {
	sc := sched.New()
	frames := mem.NewFrameAllocator(256)
	kas := vm.NewKernelSpace(frames)
	s := newTestState()

	if _, err := s.TcpListen(8080, 4); err != 0 {
		t.Fatalf("TcpListen: %v", err)
	}

	var mu sync.Mutex
	var clientGot string
	done := make(chan struct{}, 2)

	server := sc.SpawnKernel("server", kas, func(self *sched.Task_t) {
		conn, err := s.TcpAccept(sc, self, 8080, 0)
		if err != 0 {
			t.Errorf("TcpAccept: %v", err)
			done <- struct{}{}
			return
		}
		buf := make([]byte, 32)
		n, err := conn.TcpRecv(sc, self, buf, 0)
		if err != 0 {
			t.Errorf("server TcpRecv: %v", err)
		}
		mu.Lock()
		clientGot = string(buf[:n])
		mu.Unlock()
		if _, err := conn.TcpSend([]byte("pong")); err != 0 {
			t.Errorf("server TcpSend: %v", err)
		}
		done <- struct{}{}
	})
	_ = server

	client := sc.SpawnKernel("client", kas, func(self *sched.Task_t) {
		conn, err := s.TcpConnect(frames, IP_t{10, 0, 0, 1}, 8080, 40000)
		if err != 0 {
			t.Errorf("TcpConnect: %v", err)
			done <- struct{}{}
			return
		}
		if _, err := conn.TcpSend([]byte("ping")); err != 0 {
			t.Errorf("client TcpSend: %v", err)
		}
		buf := make([]byte, 32)
		n, err := conn.TcpRecv(sc, self, buf, 0)
		if err != 0 {
			t.Errorf("client TcpRecv: %v", err)
		}
		if string(buf[:n]) != "pong" {
			t.Errorf("client got %q, want pong", buf[:n])
		}
		if err := s.TcpClose(conn); err != 0 {
			t.Errorf("TcpClose: %v", err)
		}
		done <- struct{}{}
	})
	_ = client

	sc.Start()
	<-done
	<-done

	mu.Lock()
	defer mu.Unlock()
	if clientGot != "ping" {
		t.Fatalf("server received %q, want ping", clientGot)
	}
}

func TestTcpConnectToUnlistenedPortFails(t *testing.T) {
	sc := sched.New()
	frames := mem.NewFrameAllocator(64)
	s := newTestState()
	if _, err := s.TcpConnect(frames, IP_t{10, 0, 0, 1}, 9999, 1234); err != defs.NotFound {
		t.Fatalf("TcpConnect to unlistened port = %v, want NotFound", err)
	}
	_ = sc
}

func TestUdpBindSendRecv(t *testing.T) {
	sc := sched.New()
	kas := vm.NewKernelSpace(mem.NewFrameAllocator(64))
	s := newTestState()

	port, err := s.UdpBind(9000)
	if err != 0 || port != 9000 {
		t.Fatalf("UdpBind = %v, %v", port, err)
	}

	task := sc.SpawnKernel("udp", kas, func(*sched.Task_t) {})

	n, err := s.UdpSendTo(12345, IP_t{10, 0, 0, 1}, 9000, []byte("dgram"))
	if err != 0 || n != 5 {
		t.Fatalf("UdpSendTo = %v, %v", n, err)
	}

	buf := make([]byte, 16)
	n, srcIP, srcPort, err := s.UdpRecvFrom(sc, task, 9000, buf, 0)
	if err != 0 {
		t.Fatalf("UdpRecvFrom: %v", err)
	}
	if string(buf[:n]) != "dgram" || srcPort != 12345 || srcIP != (IP_t{10, 0, 0, 1}) {
		t.Fatalf("UdpRecvFrom = %q, %v, %v", buf[:n], srcIP, srcPort)
	}

	if err := s.UdpClose(9000); err != 0 {
		t.Fatalf("UdpClose: %v", err)
	}
	if _, err := s.UdpBind(9000); err != 0 {
		t.Fatalf("UdpBind after close: %v", err)
	}
}

func TestUdpRecvFromTimesOut(t *testing.T) {
	sc := sched.New()
	kas := vm.NewKernelSpace(mem.NewFrameAllocator(64))
	s := newTestState()
	s.UdpBind(9001)

	result := make(chan defs.Err_t, 1)
	sc.SpawnKernel("udp-timeout", kas, func(self *sched.Task_t) {
		buf := make([]byte, 8)
		_, _, _, err := s.UdpRecvFrom(sc, self, 9001, buf, 2)
		result <- err
	})
	stop := make(chan struct{})
	go driveTicks(sc, stop)
	sc.Start()
	err := <-result
	close(stop)
	if err != defs.Timeout {
		t.Fatalf("UdpRecvFrom timeout = %v, want Timeout", err)
	}
}

func TestDnsLookup(t *testing.T) {
	s := newTestState()
	ip, err := s.DnsLookup("localhost")
	if err != 0 || ip != (IP_t{127, 0, 0, 1}) {
		t.Fatalf("DnsLookup(localhost) = %v, %v", ip, err)
	}
	if _, err := s.DnsLookup("nowhere.invalid"); err != defs.NotFound {
		t.Fatalf("DnsLookup(nowhere.invalid) = %v, want NotFound", err)
	}
}

func TestDhcpDiscoverAssignsDistinctAddresses(t *testing.T) {
	s := newTestState()
	l1, err := s.DhcpDiscover()
	if err != 0 {
		t.Fatalf("DhcpDiscover: %v", err)
	}
	l2, _ := s.DhcpDiscover()
	if l1.Address == l2.Address {
		t.Fatalf("two leases got the same address: %v", l1.Address)
	}
	if l1.Netmask != (IP_t{255, 255, 255, 0}) {
		t.Fatalf("unexpected netmask %v", l1.Netmask)
	}
}

func TestPing6Loopback(t *testing.T) {
	sc := sched.New()
	kas := vm.NewKernelSpace(mem.NewFrameAllocator(64))
	s := newTestState()

	result := make(chan defs.Err_t, 1)
	sc.SpawnKernel("pinger", kas, func(self *sched.Task_t) {
		if err := s.Ping6(sc, self, loopback6, 0); err != 0 {
			t.Errorf("Ping6(loopback) = %v", err)
		}
		result <- s.Ping6(sc, self, IP6_t{1}, 2)
	})
	stop := make(chan struct{})
	go driveTicks(sc, stop)
	sc.Start()
	err := <-result
	close(stop)
	if err != defs.Timeout {
		t.Fatalf("Ping6(unreachable) = %v, want Timeout", err)
	}
}
