package trap

import (
	"sync"
	"testing"

	"sabos/src/defs"
	"sabos/src/mem"
	"sabos/src/sched"
	"sabos/src/vm"
)

func TestNetGetMacAndInfo(t *testing.T) {
	sc := sched.New()
	frames := mem.NewFrameAllocator(64)
	kas := vm.NewKernelSpace(frames)
	d := newTestDispatcher(frames, kas, sc)
	task := newAddrTask(t, sc, kas, frames, "net-info", 2)

	if _, err := d.sysNetGetMac(task, pageAt(0)); err != 0 {
		t.Fatalf("sysNetGetMac: %v", err)
	}
	mac := getBytes(t, task.As, pageAt(0), 6)
	if mac[0] != 0x02 {
		t.Fatalf("unexpected mac %v", mac)
	}

	n, err := d.sysGetNetInfo(task, pageAt(1), mem.PGSIZE)
	if err != 0 {
		t.Fatalf("sysGetNetInfo: %v", err)
	}
	if n == 0 {
		t.Fatal("sysGetNetInfo wrote no bytes")
	}
}

func TestNetSendRecvFrameRoundTrip(t *testing.T) {
	sc := sched.New()
	frames := mem.NewFrameAllocator(64)
	kas := vm.NewKernelSpace(frames)
	d := newTestDispatcher(frames, kas, sc)
	task := newAddrTask(t, sc, kas, frames, "net-frame", 2)

	putBytes(t, task.As, pageAt(0), []byte("ethframe"))
	if _, err := d.sysNetSendFrame(task, pageAt(0), 8); err != 0 {
		t.Fatalf("sysNetSendFrame: %v", err)
	}

	n, err := d.sysNetRecvFrame(task, pageAt(1), mem.PGSIZE, 0)
	if err != 0 {
		t.Fatalf("sysNetRecvFrame: %v", err)
	}
	if got := string(getBytes(t, task.As, pageAt(1), n)); got != "ethframe" {
		t.Fatalf("sysNetRecvFrame got %q", got)
	}
}

func TestDnsLookupSyscall(t *testing.T) {
	sc := sched.New()
	frames := mem.NewFrameAllocator(64)
	kas := vm.NewKernelSpace(frames)
	d := newTestDispatcher(frames, kas, sc)
	task := newAddrTask(t, sc, kas, frames, "dns", 2)

	putBytes(t, task.As, pageAt(0), []byte("localhost"))
	if _, err := d.sysDnsLookup(task, pageAt(0), 9, pageAt(1)); err != 0 {
		t.Fatalf("sysDnsLookup: %v", err)
	}
	ip := getBytes(t, task.As, pageAt(1), 4)
	if ip[0] != 127 || ip[3] != 1 {
		t.Fatalf("sysDnsLookup resolved %v", ip)
	}

	putBytes(t, task.As, pageAt(0), []byte("nowhere.invalid"))
	if _, err := d.sysDnsLookup(task, pageAt(0), 15, pageAt(1)); err != defs.NotFound {
		t.Fatalf("sysDnsLookup(nowhere) = %v, want NotFound", err)
	}
}

func TestDhcpDiscoverSyscall(t *testing.T) {
	sc := sched.New()
	frames := mem.NewFrameAllocator(64)
	kas := vm.NewKernelSpace(frames)
	d := newTestDispatcher(frames, kas, sc)
	task := newAddrTask(t, sc, kas, frames, "dhcp", 1)

	if _, err := d.sysDhcpDiscover(task, pageAt(0)); err != 0 {
		t.Fatalf("sysDhcpDiscover: %v", err)
	}
	lease := getBytes(t, task.As, pageAt(0), 4)
	if lease[0] != 192 || lease[1] != 168 {
		t.Fatalf("unexpected lease address bytes %v", lease)
	}
}

func TestUdpBindSendRecvSyscall(t *testing.T) {
	sc := sched.New()
	frames := mem.NewFrameAllocator(64)
	kas := vm.NewKernelSpace(frames)
	d := newTestDispatcher(frames, kas, sc)
	task := newAddrTask(t, sc, kas, frames, "udp", 3)

	port, err := d.sysUdp(task, udpOpBind, 9100, 0, 0, 0, 0)
	if err != 0 || port != 9100 {
		t.Fatalf("udp bind = %v, %v", port, err)
	}

	putBytes(t, task.As, pageAt(0), []byte{10, 0, 2, 15})
	putBytes(t, task.As, pageAt(1), []byte("hello-udp"))
	n, err := d.sysUdp(task, udpOpSendTo, 12000, pageAt(0), 9100, pageAt(1), 9)
	if err != 0 || n != 9 {
		t.Fatalf("udp send_to = %v, %v", n, err)
	}

	n, err = d.sysUdp(task, udpOpRecvFrom, 9100, pageAt(2), mem.PGSIZE, 0, 0)
	if err != 0 {
		t.Fatalf("udp recv_from: %v", err)
	}
	if got := string(getBytes(t, task.As, pageAt(2), n)); got != "hello-udp" {
		t.Fatalf("udp recv_from got %q", got)
	}

	if _, err := d.sysUdp(task, udpOpClose, 9100, 0, 0, 0, 0); err != 0 {
		t.Fatalf("udp close: %v", err)
	}
}

func TestTcpConnectAcceptSendRecvSyscall(t *testing.T) {
	sc := sched.New()
	frames := mem.NewFrameAllocator(256)
	kas := vm.NewKernelSpace(frames)
	d := newTestDispatcher(frames, kas, sc)

	if _, err := d.sysTcp(nil, tcpOpListen, 7000, 4, 0, 0); err != 0 {
		t.Fatalf("tcp listen: %v", err)
	}

	var mu sync.Mutex
	var serverGot string
	done := make(chan struct{}, 2)

	sc.SpawnKernel("tcp-server", kas, func(self *sched.Task_t) {
		as := vm.NewProcessSpace(kas)
		mapPages(t, as, frames, 2)
		self.As = as

		connId, err := d.sysTcp(self, tcpOpAccept, 7000, 0, 0, 0)
		if err != 0 {
			t.Errorf("tcp accept: %v", err)
			done <- struct{}{}
			return
		}
		n, err := d.sysTcp(self, tcpOpRecv, connId, pageAt(0), mem.PGSIZE, 0)
		if err != 0 {
			t.Errorf("tcp server recv: %v", err)
		}
		mu.Lock()
		serverGot = string(getBytes(t, self.As, pageAt(0), n))
		mu.Unlock()

		putBytes(t, self.As, pageAt(1), []byte("pong"))
		if _, err := d.sysTcp(self, tcpOpSend, connId, pageAt(1), 4, 0); err != 0 {
			t.Errorf("tcp server send: %v", err)
		}
		done <- struct{}{}
	})

	sc.SpawnKernel("tcp-client", kas, func(self *sched.Task_t) {
		as := vm.NewProcessSpace(kas)
		mapPages(t, as, frames, 3)
		self.As = as

		putBytes(t, self.As, pageAt(0), []byte{10, 0, 2, 15})
		connId, err := d.sysTcp(self, tcpOpConnect, pageAt(0), 7000, 40001, 0)
		if err != 0 {
			t.Errorf("tcp connect: %v", err)
			done <- struct{}{}
			return
		}
		putBytes(t, self.As, pageAt(1), []byte("ping"))
		if _, err := d.sysTcp(self, tcpOpSend, connId, pageAt(1), 4, 0); err != 0 {
			t.Errorf("tcp client send: %v", err)
		}
		n, err := d.sysTcp(self, tcpOpRecv, connId, pageAt(2), mem.PGSIZE, 0)
		if err != 0 {
			t.Errorf("tcp client recv: %v", err)
		}
		if got := string(getBytes(t, self.As, pageAt(2), n)); got != "pong" {
			t.Errorf("tcp client got %q, want pong", got)
		}
		if _, err := d.sysTcp(self, tcpOpClose, connId, 0, 0, 0); err != 0 {
			t.Errorf("tcp client close: %v", err)
		}
		done <- struct{}{}
	})

	sc.Start()
	<-done
	<-done

	mu.Lock()
	defer mu.Unlock()
	if serverGot != "ping" {
		t.Fatalf("server received %q, want ping", serverGot)
	}
}
