package main

import (
	"sabos/src/defs"
	"sabos/src/klog"
	"sabos/src/mem"
	"sabos/src/sched"
	"sabos/src/trap"
	"sabos/src/vm"
)

// scratchAddr returns the address of the i'th page a program has mapped
// via mapScratch, for use as a syscall buffer or out-pointer argument.
// Chosen well clear of both a stub binary's entry/code address and its
// loader-assigned stack, the same role pageAt plays in sabos/src/trap's
// own tests.
func scratchAddr(i int) uint64 {
	return vm.UserMin + uint64(i)*mem.PGSIZE
}

// mapScratch maps n fresh frames into as at scratchAddr(0)..scratchAddr(n-1).
func mapScratch(as *vm.AddressSpace_t, frames *mem.FrameAllocator_t, n int) defs.Err_t {
	for i := 0; i < n; i++ {
		pa, err := frames.Alloc()
		if err != 0 {
			return err
		}
		if err := as.Map(scratchAddr(i), pa, vm.PROT_R|vm.PROT_W); err != 0 {
			return err
		}
	}
	return 0
}

func putString(as *vm.AddressSpace_t, addr uint64, s string) defs.Err_t {
	slice, err := trap.FromRawSlice[byte](as, addr, uint64(len(s)))
	if err != 0 {
		return err
	}
	return slice.CopyOut([]byte(s))
}

// initProgram is the entry closure run by the first spawned task: it
// grabs the console, announces itself, spawns /bin/echo through the
// real sys_spawn path, waits for it, runs the self-test, and signals
// main via done -- a scripted syscall sequence standing in for the
// hosted simulator's init process, per ProgramEntry_i's own contract.
func initProgram(d *trap.Dispatcher_t, self *sched.Task_t, frames *mem.FrameAllocator_t, done chan struct{}) {
	defer close(done)

	if err := mapScratch(self.As, frames, 3); err != 0 {
		klog.Errf("init: mapping scratch pages: %s", err)
		return
	}

	if _, err := d.Dispatch(self, defs.SYS_CONSOLE_GRAB, 0, 0, 0, 0, 0, 0); err != 0 {
		klog.Errf("init: console_grab: %s", err)
	}

	banner := "sabos: booted, spawning /bin/echo"
	if err := putString(self.As, scratchAddr(0), banner); err != 0 {
		klog.Errf("init: staging banner: %s", err)
		return
	}
	if _, err := d.Dispatch(self, defs.SYS_WRITE, scratchAddr(0), uint64(len(banner)), 0, 0, 0, 0); err != 0 {
		klog.Errf("init: write: %s", err)
	}

	const echoPath = "/bin/echo"
	if err := putString(self.As, scratchAddr(1), echoPath); err != 0 {
		klog.Errf("init: staging path: %s", err)
		return
	}
	childId, err := d.Dispatch(self, defs.SYS_SPAWN, scratchAddr(1), uint64(len(echoPath)), 0, 0, 0, 0)
	if err != 0 {
		klog.Errf("init: spawn %s: %s", echoPath, err)
		return
	}

	if _, err := d.Dispatch(self, defs.SYS_WAIT, scratchAddr(2), 0, 0, 0, 0, 0); err != 0 {
		klog.Errf("init: wait for task %d: %s", childId, err)
		return
	}
	exitCodePtr, err := trap.FromRawPtr[uint64](self.As, scratchAddr(2))
	if err != 0 {
		klog.Errf("init: reading exit code: %s", err)
		return
	}
	exitCode, err := exitCodePtr.Load()
	if err != 0 {
		klog.Errf("init: loading exit code: %s", err)
		return
	}
	klog.Infof("init: task %d exited with code %d", childId, exitCode)

	if rc, err := d.Dispatch(self, defs.SYS_SELFTEST, 0, 0, 0, 0, 0, 0); err != 0 || rc != 0 {
		klog.Errf("init: selftest failed: rc=%d err=%s", rc, err)
	} else {
		klog.Infof("init: selftest ok")
	}
}

// echoProgram is the builtin bound to /bin/echo: it writes one line of
// output to its stdout and exits. It exists only to exercise sys_spawn,
// sys_write and sys_exit end to end at boot; there is no shell or real
// user program here (spec §1 keeps "user programs" an external
// collaborator).
func echoProgram(frames *mem.FrameAllocator_t) trap.ProgramEntry_i {
	return func(d *trap.Dispatcher_t, self *sched.Task_t) {
		echoProgramRun(d, self, frames)
	}
}

func echoProgramRun(d *trap.Dispatcher_t, self *sched.Task_t, frames *mem.FrameAllocator_t) {
	if err := mapScratch(self.As, frames, 1); err != 0 {
		klog.Errf("echo: mapping scratch page: %s", err)
		d.Dispatch(self, defs.SYS_EXIT, 1, 0, 0, 0, 0, 0)
		return
	}
	msg := "echo: ready\n"
	if err := putString(self.As, scratchAddr(0), msg); err == 0 {
		d.Dispatch(self, defs.SYS_WRITE, scratchAddr(0), uint64(len(msg)), 0, 0, 0, 0)
	}
	d.Dispatch(self, defs.SYS_EXIT, 7, 0, 0, 0, 0, 0)
}
