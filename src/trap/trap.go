// Package trap continued: Dispatcher_t itself, construction, and the
// handful of cross-cutting helpers every syscall group below shares
// (path decoding, handle ABI encode/decode, the registered-program
// table standing in for real ELF execution).
package trap

import (
	"strings"
	"sync"

	"sabos/src/console"
	"sabos/src/defs"
	"sabos/src/futex"
	"sabos/src/handle"
	"sabos/src/inet"
	"sabos/src/ipc"
	"sabos/src/klog"
	"sabos/src/mem"
	"sabos/src/pipe"
	"sabos/src/sched"
	"sabos/src/vfs"
	"sabos/src/vm"
)

/// ProgramEntry_i is what a registered program actually runs: the hosted
/// simulator has no instruction pointer to jump to, so `spawn`/`exec`
/// look a path up in Dispatcher_t's program table and run the matching
/// closure instead of real ELF bytes, exactly as sched.SpawnUser's own
/// doc comment describes entry "driving the trap dispatcher through a
/// scripted sequence of syscalls."
type ProgramEntry_i func(d *Dispatcher_t, self *sched.Task_t)

/// Dispatcher_t wires every other subsystem package together behind the
/// syscall numbers in sabos/src/defs (spec §4.G). One instance serves
/// the whole booted kernel; per-task state (handle table, environment)
/// is created lazily on first contact.
type Dispatcher_t struct {
	sc       *sched.Scheduler_t
	kernelAs *vm.AddressSpace_t
	frames   *mem.FrameAllocator_t
	vfsRoot  *vfs.Vfs_t
	pipes    *pipe.Table_t
	ipcR     *ipc.Router_t
	futexes  *futex.Table_t
	con      *console.Console_t
	net      *inet.State_t

	mu        sync.Mutex
	handles   map[uint64]*handle.Table_t
	env       map[uint64]map[string]string
	programs  map[string]ProgramEntry_i
	threadFns map[uint64]ThreadEntry_i

	// pendingHandles stages a capability being moved across the IPC
	// boundary: ipc_send_handle stashes the sender's (kind, rights,
	// data) here keyed by a transfer id carried as the message's Handle
	// field (Msg_t.Handle is a single uint64 and cannot hold a handle's
	// own (slot, token) pair), and ipc_recv_handle installs it into the
	// recipient's own table, minting a fresh (slot, token) there.
	nextTransferId uint64
	pendingHandles map[uint64]pendingHandle_t
}

type pendingHandle_t struct {
	kind   handle.Kind_t
	rights defs.Rights_t
	data   handle.Underlying
}

/// New returns a dispatcher over the given already-constructed
/// subsystems. cmd/sabos is expected to build exactly one of these at
/// boot and hand every spawned task's entry closure a reference to it.
func New(sc *sched.Scheduler_t, kernelAs *vm.AddressSpace_t, frames *mem.FrameAllocator_t, vfsRoot *vfs.Vfs_t, pipes *pipe.Table_t, ipcR *ipc.Router_t, futexes *futex.Table_t, con *console.Console_t, net *inet.State_t) *Dispatcher_t {
	return &Dispatcher_t{
		sc:       sc,
		kernelAs: kernelAs,
		frames:   frames,
		vfsRoot:  vfsRoot,
		pipes:    pipes,
		ipcR:     ipcR,
		futexes:  futexes,
		con:      con,
		net:      net,
		handles:        make(map[uint64]*handle.Table_t),
		env:            make(map[uint64]map[string]string),
		programs:       make(map[string]ProgramEntry_i),
		threadFns:      make(map[uint64]ThreadEntry_i),
		pendingHandles: make(map[uint64]pendingHandle_t),
	}
}

/// RegisterProgram binds path to entry so a later spawn(path) runs it.
/// Used at boot to install the fixed set of builtin programs the way a
/// small embedded kernel ships an init ramdisk of known binaries.
func (d *Dispatcher_t) RegisterProgram(path string, entry ProgramEntry_i) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.programs[path] = entry
}

func (d *Dispatcher_t) handlesFor(taskId uint64) *handle.Table_t {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.handles[taskId]
	if !ok {
		t = handle.New()
		d.handles[taskId] = t
		d.ipcR.Register(taskId)
	}
	return t
}

func (d *Dispatcher_t) envFor(taskId uint64) map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.env[taskId]
	if !ok {
		e = make(map[string]string)
		d.env[taskId] = e
	}
	return e
}

// readPath decodes a (addr, len) argument pair as a UTF-8 path string.
func readPath(task *sched.Task_t, addr, length uint64) (string, defs.Err_t) {
	s, err := FromRawSlice[byte](task.As, addr, length)
	if err != 0 {
		return "", err
	}
	return s.AsStr()
}

func parseNulSeparated(blob string) []string {
	var out []string
	for _, part := range strings.Split(blob, "\x00") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

/// HandleAbi_t is a handle's external 16-byte representation, matching
/// §6's "struct { id: u64; token: u64 }" layout -- the wire form an
/// out-pointer argument is written with, since a capability doesn't fit
/// in a single 64-bit return register.
type HandleAbi_t struct {
	Id    uint64
	Token uint64
}

func encodeHandle(h handle.Handle_t) HandleAbi_t {
	return HandleAbi_t{Id: uint64(h.Slot), Token: h.Token}
}

func decodeHandle(a HandleAbi_t) handle.Handle_t {
	return handle.Handle_t{Slot: uint32(a.Id), Token: a.Token}
}

// writeHandleOut stores h into the HandleAbi_t sitting at outAddr in
// task's address space.
func writeHandleOut(task *sched.Task_t, outAddr uint64, h handle.Handle_t) defs.Err_t {
	p, err := FromRawPtr[HandleAbi_t](task.As, outAddr)
	if err != 0 {
		return err
	}
	return p.Store(encodeHandle(h))
}

func readHandleIn(task *sched.Task_t, addr uint64) (handle.Handle_t, defs.Err_t) {
	p, err := FromRawPtr[HandleAbi_t](task.As, addr)
	if err != 0 {
		return handle.Handle_t{}, err
	}
	a, err := p.Load()
	if err != 0 {
		return handle.Handle_t{}, err
	}
	return decodeHandle(a), 0
}

// writeOut copies a Go byte slice into a user buffer, truncating to the
// buffer's own length, and reports how many bytes actually landed.
func writeOut(task *sched.Task_t, addr, length uint64, data []byte) (uint64, defs.Err_t) {
	if uint64(len(data)) > length {
		data = data[:length]
	}
	s, err := FromRawSlice[byte](task.As, addr, uint64(len(data)))
	if err != 0 {
		return 0, err
	}
	if err := s.CopyOut(data); err != 0 {
		return 0, err
	}
	return uint64(len(data)), 0
}

// fileObj_t is the handle.Underlying behind a file or directory handle
// opened through the VFS. The teacher's Fd_t owns a raw fs.Inum_t and
// in-kernel seek offset directly; this is the same shape generalized to
// an absolute path, since the VFS resolves by path rather than inode
// number. Close/Reopen are no-ops: a VFS-backed file has no refcounted
// resource of its own beyond the handle table entry itself.
type fileObj_t struct {
	mu     sync.Mutex
	path   string
	isDir  bool
	offset int64
}

func (f *fileObj_t) Close() defs.Err_t  { return 0 }
func (f *fileObj_t) Reopen() defs.Err_t { return 0 }

// pipeEnd_t is the handle.Underlying behind one end of a pipe, tracking
// which end it is so Close/Reopen hit the matching refcount in
// sabos/src/pipe.
type pipeEnd_t struct {
	pipes *pipe.Table_t
	id    uint64
	write bool
}

func (p *pipeEnd_t) Close() defs.Err_t {
	if p.write {
		return p.pipes.CloseWriter(p.id)
	}
	return p.pipes.CloseReader(p.id)
}

func (p *pipeEnd_t) Reopen() defs.Err_t {
	if p.write {
		return p.pipes.AddWriter(p.id)
	}
	return p.pipes.AddReader(p.id)
}

func logSyscallErr(taskName string, num int, err defs.Err_t) {
	if err != 0 {
		klog.Logf(klog.Info, "trap: task %s syscall %d -> %s", taskName, num, err)
	}
}
