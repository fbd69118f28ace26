package trap

import (
	"encoding/json"
	"runtime"
	"time"

	"sabos/src/defs"
	"sabos/src/futex"
	"sabos/src/handle"
	"sabos/src/mem"
	"sabos/src/sched"
	"sabos/src/vm"
)

// --- ipc syscalls (§4.J) ---

func (d *Dispatcher_t) sysIpcSend(task *sched.Task_t, to, bufAddr, bufLen uint64) (uint64, defs.Err_t) {
	s, err := FromRawSlice[byte](task.As, bufAddr, bufLen)
	if err != 0 {
		return 0, err
	}
	data, err := s.Bytes()
	if err != 0 {
		return 0, err
	}
	return 0, d.ipcR.Send(task.Id, to, data, 0, false)
}

func (d *Dispatcher_t) sysIpcSendHandle(task *sched.Task_t, to, bufAddr, bufLen, hAddr uint64) (uint64, defs.Err_t) {
	s, err := FromRawSlice[byte](task.As, bufAddr, bufLen)
	if err != 0 {
		return 0, err
	}
	data, err := s.Bytes()
	if err != 0 {
		return 0, err
	}
	h, err := readHandleIn(task, hAddr)
	if err != 0 {
		return 0, err
	}
	ht := d.handlesFor(task.Id)
	kind, err := ht.Kind(h)
	if err != 0 {
		return 0, err
	}
	rights, err := ht.Rights(h)
	if err != 0 {
		return 0, err
	}
	underlying, err := ht.Data(h)
	if err != 0 {
		return 0, err
	}

	d.mu.Lock()
	d.nextTransferId++
	xferId := d.nextTransferId
	d.pendingHandles[xferId] = pendingHandle_t{kind: kind, rights: rights, data: underlying}
	d.mu.Unlock()

	return 0, d.ipcR.Send(task.Id, to, data, xferId, true)
}

func (d *Dispatcher_t) sysIpcRecv(task *sched.Task_t, fromOutAddr, bufAddr, bufLen, timeoutMs uint64) (uint64, defs.Err_t) {
	m, err := d.ipcR.Recv(d.sc, task, timeoutMs)
	if err != 0 {
		return 0, err
	}
	if err := writeU64(task, fromOutAddr, m.From); err != 0 {
		return 0, err
	}
	return writeOut(task, bufAddr, bufLen, m.Bytes)
}

func (d *Dispatcher_t) sysIpcRecvFrom(task *sched.Task_t, from, bufAddr, bufLen, timeoutMs uint64) (uint64, defs.Err_t) {
	m, err := d.ipcR.RecvFrom(d.sc, task, from, timeoutMs)
	if err != 0 {
		return 0, err
	}
	return writeOut(task, bufAddr, bufLen, m.Bytes)
}

func (d *Dispatcher_t) sysIpcCancel(task *sched.Task_t) (uint64, defs.Err_t) {
	d.ipcR.CancelRecv(task.Id)
	return 0, 0
}

// sysIpcRecvHandle implements SYS_IPC_RECV_HANDLE: pops the next message
// like ipc_recv, then resolves any carried capability into a freshly
// minted handle in the recipient's own table. InvalidHandle is returned
// if the message carried none.
func (d *Dispatcher_t) sysIpcRecvHandle(task *sched.Task_t, bufAddr, bufLen, hOutAddr, timeoutMs uint64) (uint64, defs.Err_t) {
	m, err := d.ipcR.Recv(d.sc, task, timeoutMs)
	if err != 0 {
		return 0, err
	}
	n, werr := writeOut(task, bufAddr, bufLen, m.Bytes)
	if werr != 0 {
		return 0, werr
	}
	if !m.HasHandle {
		return n, defs.InvalidHandle
	}
	d.mu.Lock()
	ph, ok := d.pendingHandles[m.Handle]
	delete(d.pendingHandles, m.Handle)
	d.mu.Unlock()
	if !ok {
		return n, defs.InvalidHandle
	}
	nh := d.handlesFor(task.Id).Create(ph.kind, ph.rights, ph.data)
	if herr := writeHandleOut(task, hOutAddr, nh); herr != 0 {
		return n, herr
	}
	return n, 0
}

func writeU64(task *sched.Task_t, addr, v uint64) defs.Err_t {
	p, err := FromRawPtr[uint64](task.As, addr)
	if err != 0 {
		return err
	}
	return p.Store(v)
}

// --- futex syscalls (not pinned a number in §6; see defs.SYS_FUTEX_*) ---

func (d *Dispatcher_t) sysFutexWait(task *sched.Task_t, addr uint64, expected uint32, timeoutMs uint64) (uint64, defs.Err_t) {
	timeoutTicks := futex.InfiniteTicks
	if timeoutMs != 0 {
		timeoutTicks = timeoutMs * sched.TicksPerMs
	}
	read := func() uint32 {
		p, err := FromRawPtr[uint32](task.As, addr)
		if err != 0 {
			return expected + 1 // force a mismatch; Wait re-validates via its own err path below
		}
		v, _ := p.Load()
		return v
	}
	return 0, d.futexes.Wait(d.sc, task, task.As.Id, addr, expected, read, timeoutTicks)
}

func (d *Dispatcher_t) sysFutexWake(task *sched.Task_t, addr uint64, count uint64) (uint64, defs.Err_t) {
	n := d.futexes.Wake(d.sc, task.As.Id, addr, int(count))
	return uint64(n), 0
}

// --- sysinfo syscalls ---

func (d *Dispatcher_t) sysGetMemInfo(task *sched.Task_t, outAddr, outLen uint64) (uint64, defs.Err_t) {
	blob, jerr := json.Marshal(d.frames.Stats())
	if jerr != nil {
		return 0, defs.Other
	}
	return writeOut(task, outAddr, outLen, blob)
}

func (d *Dispatcher_t) sysGetTaskList(task *sched.Task_t, outAddr, outLen uint64) (uint64, defs.Err_t) {
	blob, jerr := json.Marshal(d.sc.Snapshot())
	if jerr != nil {
		return 0, defs.Other
	}
	return writeOut(task, outAddr, outLen, blob)
}

func (d *Dispatcher_t) sysClockMonotonic(task *sched.Task_t, outAddr uint64) (uint64, defs.Err_t) {
	ticks := d.sc.Ticks()
	ms := ticks * 10000 / 182
	return 0, writeU64(task, outAddr, ms)
}

// sysClockRealtime reads the wall clock. Only workflow-orchestration
// scripts forbid time.Now(); this is ordinary kernel source code asked to
// answer "what time is it", so it uses the standard library the way any
// other Go program would.
func (d *Dispatcher_t) sysClockRealtime(task *sched.Task_t, outAddr uint64) (uint64, defs.Err_t) {
	return 0, writeU64(task, outAddr, uint64(time.Now().UnixMilli()))
}

// --- process syscalls (§4.E/§4.F) ---

// resolvePipeHandle resolves hAddr (0 meaning "no handle given") to the
// pipe id backing it, for spawn_redirected: a task only ever knows a
// pipe end as a capability in its own handle table, never as a raw id.
func (d *Dispatcher_t) resolvePipeHandle(task *sched.Task_t, hAddr uint64) (id uint64, has bool, err defs.Err_t) {
	if hAddr == 0 {
		return 0, false, 0
	}
	h, err := readHandleIn(task, hAddr)
	if err != 0 {
		return 0, false, err
	}
	ht := d.handlesFor(task.Id)
	kind, err := ht.Kind(h)
	if err != 0 {
		return 0, false, err
	}
	if kind != handle.KindPipe {
		return 0, false, defs.InvalidHandle
	}
	underlying, err := ht.Data(h)
	if err != 0 {
		return 0, false, err
	}
	return underlying.(*pipeEnd_t).id, true, 0
}

func (d *Dispatcher_t) sysSpawn(task *sched.Task_t, pathAddr, pathLen, stdinHAddr, stdoutHAddr uint64) (uint64, defs.Err_t) {
	path, err := readPath(task, pathAddr, pathLen)
	if err != 0 {
		return 0, err
	}
	d.mu.Lock()
	prog, ok := d.programs[path]
	d.mu.Unlock()
	if !ok {
		return 0, defs.FileNotFound
	}
	elfBytes, rerr := d.vfsRoot.ReadFile(path)
	if rerr != 0 {
		return 0, rerr
	}
	stdin, hasStdin, serr := d.resolvePipeHandle(task, stdinHAddr)
	if serr != 0 {
		return 0, serr
	}
	stdout, hasStdout, serr := d.resolvePipeHandle(task, stdoutHAddr)
	if serr != 0 {
		return 0, serr
	}

	entry := func(self *sched.Task_t) { prog(d, self) }
	var nt *sched.Task_t
	if hasStdin || hasStdout {
		nt, serr = d.sc.SpawnUserRedirected(path, elfBytes, nil, nil, d.frames, d.kernelAs, entry, stdin, stdout, hasStdin, hasStdout)
	} else {
		nt, serr = d.sc.SpawnUser(path, elfBytes, nil, nil, d.frames, d.kernelAs, entry)
	}
	if serr != 0 {
		return 0, serr
	}
	return nt.Id, 0
}

func (d *Dispatcher_t) sysYield(task *sched.Task_t) (uint64, defs.Err_t) {
	d.sc.YieldNow(task)
	return 0, 0
}

func (d *Dispatcher_t) sysSleep(task *sched.Task_t, ms uint64) (uint64, defs.Err_t) {
	d.sc.SleepMs(task, ms)
	return 0, 0
}

// sysWait implements SYS_WAIT: blocks for any child and reports its exit
// code through the out-pointer, since a single rax can't carry both the
// child id and its signed exit code. Waitpid(id=0, flags=0) is wait's
// exact blocking-any-child behavior, so wait is a thin alias over it.
func (d *Dispatcher_t) sysWait(task *sched.Task_t, exitCodeOutAddr uint64) (uint64, defs.Err_t) {
	return d.sysWaitpid(task, 0, 0, exitCodeOutAddr)
}

func (d *Dispatcher_t) sysWaitpid(task *sched.Task_t, childId uint64, flags int, exitCodeOutAddr uint64) (uint64, defs.Err_t) {
	id, code, err := d.sc.Waitpid(task, childId, flags)
	if err != 0 {
		return 0, err
	}
	if werr := writeU64(task, exitCodeOutAddr, uint64(int64(code))); werr != 0 {
		return 0, werr
	}
	return id, 0
}

func (d *Dispatcher_t) sysGetpid(task *sched.Task_t) (uint64, defs.Err_t) {
	return task.Id, 0
}

func (d *Dispatcher_t) sysKill(task *sched.Task_t, targetId uint64) (uint64, defs.Err_t) {
	return 0, d.sc.KillTask(task, targetId)
}

func (d *Dispatcher_t) sysGetenv(task *sched.Task_t, keyAddr, keyLen, outAddr, outLen uint64) (uint64, defs.Err_t) {
	key, err := readPath0(task, keyAddr, keyLen)
	if err != 0 {
		return 0, err
	}
	env := d.envFor(task.Id)
	val, ok := env[key]
	if !ok {
		return 0, defs.NotFound
	}
	return writeOut(task, outAddr, outLen, []byte(val))
}

func (d *Dispatcher_t) sysSetenv(task *sched.Task_t, keyAddr, keyLen, valAddr, valLen uint64) (uint64, defs.Err_t) {
	key, err := readPath0(task, keyAddr, keyLen)
	if err != 0 {
		return 0, err
	}
	val, err := readPath0(task, valAddr, valLen)
	if err != 0 {
		return 0, err
	}
	d.envFor(task.Id)[key] = val
	return 0, 0
}

// readPath0 decodes a (addr, len) argument pair as a UTF-8 string that
// need not be a filesystem path (env var keys/values); it shares
// readPath's validated-slice plumbing under a name that doesn't imply
// path semantics.
func readPath0(task *sched.Task_t, addr, length uint64) (string, defs.Err_t) {
	return readPath(task, addr, length)
}

// --- mmap/munmap (§4.B/§4.C) ---

func (d *Dispatcher_t) sysMmap(task *sched.Task_t, length uint64, prot vm.Prot_t) (uint64, defs.Err_t) {
	if length == 0 {
		return 0, defs.InvalidArgument
	}
	pages := (length + mem.PGSIZE - 1) / mem.PGSIZE

	task.As.Lock()
	start, ok := task.As.Vmas.FindFreeRegion(pages*mem.PGSIZE, vm.UserMin, vm.UserMax)
	if !ok {
		task.As.Unlock()
		return 0, defs.NoSpace
	}
	ierr := task.As.Vmas.Insert(vm.Vma_t{Start: start, End: start + pages*mem.PGSIZE, Prot: prot, Kind: vm.Anonymous, Name: "mmap"})
	task.As.Unlock()
	if ierr != 0 {
		return 0, ierr
	}

	for i := uint64(0); i < pages; i++ {
		pa, aerr := d.frames.Alloc()
		if aerr != 0 {
			task.As.Lock()
			task.As.Vmas.RemoveRange(start, start+pages*mem.PGSIZE)
			task.As.Unlock()
			return 0, aerr
		}
		vaddr := start + i*mem.PGSIZE
		if merr := task.As.Map(vaddr, pa, prot); merr != 0 {
			d.frames.Free(pa)
			return 0, merr
		}
	}
	return start, 0
}

func (d *Dispatcher_t) sysMunmap(task *sched.Task_t, addr, length uint64) (uint64, defs.Err_t) {
	if length == 0 {
		return 0, defs.InvalidArgument
	}
	pages := (length + mem.PGSIZE - 1) / mem.PGSIZE
	end := addr + pages*mem.PGSIZE

	task.As.Lock()
	task.As.Vmas.RemoveRange(addr, end)
	task.As.Unlock()

	for v := addr; v < end; v += mem.PGSIZE {
		if pa, ok := task.As.Unmap(v); ok {
			d.frames.Free(pa)
		}
	}
	return 0, 0
}

// --- thread syscalls (§4.F/§4.G) ---

/// ThreadEntry_i is what thread_create actually runs: the hosted
/// simulator has no raw instruction pointer to jump to, so the `entry`
/// syscall argument is treated as a key into a table of closures
/// registered ahead of time the same way Dispatcher_t.RegisterProgram
/// stands in for spawn's ELF execution.
type ThreadEntry_i func(d *Dispatcher_t, self *sched.Task_t, arg uint64)

/// RegisterThreadEntry binds key so a later thread_create(key, ...)
/// spawns a task running entry.
func (d *Dispatcher_t) RegisterThreadEntry(key uint64, entry ThreadEntry_i) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.threadFns[key] = entry
}

func (d *Dispatcher_t) sysThreadCreate(task *sched.Task_t, entryKey, arg uint64) (uint64, defs.Err_t) {
	d.mu.Lock()
	fn, ok := d.threadFns[entryKey]
	d.mu.Unlock()
	if !ok {
		return 0, defs.NotSupported
	}
	nt := d.sc.SpawnThread(task, task.Name+":thread", func(self *sched.Task_t) {
		fn(d, self, arg)
	})
	return nt.Id, 0
}

func (d *Dispatcher_t) sysThreadExit(task *sched.Task_t, code uint64) (uint64, defs.Err_t) {
	d.sc.ExitSelf(task, int(int32(code)))
	runtime.Goexit()
	return 0, 0 // unreachable
}

func (d *Dispatcher_t) sysThreadJoin(task *sched.Task_t, childId uint64) (uint64, defs.Err_t) {
	_, err := d.sc.WaitForChild(task, childId)
	return 0, err
}

// --- control syscalls ---

func (d *Dispatcher_t) sysExit(task *sched.Task_t, code uint64) (uint64, defs.Err_t) {
	d.sc.ExitSelf(task, int(int32(code)))
	runtime.Goexit()
	return 0, 0 // unreachable
}

// sysSelftest runs a cheap internal consistency check (frame allocator
// accounting matches its bitmap) and reports ok/fail, standing in for the
// diagnostic self-test hook a booted kernel exposes to its init shell.
func (d *Dispatcher_t) sysSelftest(task *sched.Task_t) (uint64, defs.Err_t) {
	st := d.frames.Stats()
	if st.AllocatedFrames+st.FreeFrames != st.TotalFrames {
		return 1, defs.Other
	}
	return 0, 0
}
