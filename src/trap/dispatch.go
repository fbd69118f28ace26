package trap

import (
	"sabos/src/defs"
	"sabos/src/sched"
	"sabos/src/vm"
)

// Dispatch decodes one syscall trap: num is the syscall number (rax), a1
// through a6 its arguments (rdi, rsi, rdx, r10, r8, r9), per §6's ABI.
// The return value is what lands back in rax; a non-zero error is
// reported as a negative Err_t rather than folded into the return value,
// matching how every other package in this tree keeps the two separate.
func (d *Dispatcher_t) Dispatch(task *sched.Task_t, num int, a1, a2, a3, a4, a5, a6 uint64) (uint64, defs.Err_t) {
	v, err := d.dispatch(task, num, a1, a2, a3, a4, a5, a6)
	logSyscallErr(task.Name, num, err)
	return v, err
}

func (d *Dispatcher_t) dispatch(task *sched.Task_t, num int, a1, a2, a3, a4, a5, a6 uint64) (uint64, defs.Err_t) {
	switch num {
	// console
	case defs.SYS_READ:
		return d.sysRead(task, a1, a2)
	case defs.SYS_WRITE:
		return d.sysWrite(task, a1, a2)
	case defs.SYS_KEY_READ:
		return d.sysKeyRead(task)
	case defs.SYS_CONSOLE_GRAB:
		return d.sysConsoleGrab(task)
	case defs.SYS_CLEAR_SCREEN:
		return d.sysClearScreen(task)
	case defs.SYS_PIPE:
		return d.sysPipe(task, a1, a2)

	// filesystem
	case defs.SYS_FILE_WRITE:
		return d.sysFileWrite(task, a1, a2, a3, a4)
	case defs.SYS_FILE_DELETE:
		return d.sysFileDelete(task, a1, a2)
	case defs.SYS_DIR_CREATE:
		return d.sysDirCreate(task, a1, a2)
	case defs.SYS_DIR_REMOVE:
		return d.sysDirRemove(task, a1, a2)
	case defs.SYS_DIR_LIST:
		return d.sysDirList(task, a1, a2, a3, a4)
	case defs.SYS_FS_STAT:
		return d.sysFsStat(task, a1, a2, a3, a4)

	// handles
	case defs.SYS_OPEN:
		return d.sysOpen(task, a1, a2, defs.Rights_t(a3), a4)
	case defs.SYS_HANDLE_READ:
		return d.sysHandleRead(task, a1, a2, a3)
	case defs.SYS_HANDLE_WRITE:
		return d.sysHandleWrite(task, a1, a2, a3)
	case defs.SYS_HANDLE_CLOSE:
		return d.sysHandleClose(task, a1)
	case defs.SYS_HANDLE_STAT:
		return d.sysHandleStat(task, a1, a2, a3)
	case defs.SYS_HANDLE_SEEK:
		return d.sysHandleSeek(task, a1, int64(a2), a3)
	case defs.SYS_OPENAT:
		return d.sysOpenat(task, a1, a2, a3, defs.Rights_t(a4), a5)
	case defs.SYS_HANDLE_ENUM:
		return d.sysHandleEnum(task, a1, a2, a3)
	case defs.SYS_HANDLE_CREATE_FILE:
		return d.sysHandleCreateFile(task, a1, a2, a3)
	case defs.SYS_HANDLE_UNLINK:
		return d.sysHandleUnlink(task, a1, a2, a3)
	case defs.SYS_HANDLE_MKDIR:
		return d.sysHandleMkdir(task, a1, a2, a3)
	case defs.SYS_RESTRICT_RIGHTS:
		return d.sysRestrictRights(task, a1, defs.Rights_t(a2), a3)

	// ipc
	case defs.SYS_IPC_SEND:
		return d.sysIpcSend(task, a1, a2, a3)
	case defs.SYS_IPC_RECV:
		return d.sysIpcRecv(task, a1, a2, a3, a4)
	case defs.SYS_IPC_RECV_FROM:
		return d.sysIpcRecvFrom(task, a1, a2, a3, a4)
	case defs.SYS_IPC_CANCEL:
		return d.sysIpcCancel(task)
	case defs.SYS_IPC_SEND_HANDLE:
		return d.sysIpcSendHandle(task, a1, a2, a3, a4)
	case defs.SYS_IPC_RECV_HANDLE:
		return d.sysIpcRecvHandle(task, a1, a2, a3, a4)

	// futex
	case defs.SYS_FUTEX_WAIT:
		return d.sysFutexWait(task, a1, uint32(a2), a3)
	case defs.SYS_FUTEX_WAKE:
		return d.sysFutexWake(task, a1, a2)

	// sysinfo
	case defs.SYS_GET_MEM_INFO:
		return d.sysGetMemInfo(task, a1, a2)
	case defs.SYS_GET_TASK_LIST:
		return d.sysGetTaskList(task, a1, a2)
	case defs.SYS_CLOCK_MONOTONIC:
		return d.sysClockMonotonic(task, a1)
	case defs.SYS_CLOCK_REALTIME:
		return d.sysClockRealtime(task, a1)
	case defs.SYS_GET_NET_INFO:
		return d.sysGetNetInfo(task, a1, a2)
	case defs.SYS_PCI_CONFIG_RD:
		// No PCI bus exists in the hosted simulator core (§1 names it
		// an external collaborator); the virtual interface in
		// sabos/src/inet has no config space to read.
		return 0, defs.NotSupported

	// process
	case defs.SYS_SPAWN:
		return d.sysSpawn(task, a1, a2, 0, 0)
	case defs.SYS_SPAWN_REDIRECTED:
		return d.sysSpawn(task, a1, a2, a3, a4)
	case defs.SYS_YIELD:
		return d.sysYield(task)
	case defs.SYS_SLEEP:
		return d.sysSleep(task, a1)
	case defs.SYS_WAIT:
		return d.sysWait(task, a1)
	case defs.SYS_WAITPID:
		return d.sysWaitpid(task, a1, int(a2), a3)
	case defs.SYS_GETPID:
		return d.sysGetpid(task)
	case defs.SYS_KILL:
		return d.sysKill(task, a1)
	case defs.SYS_GETENV:
		return d.sysGetenv(task, a1, a2, a3, a4)
	case defs.SYS_SETENV:
		return d.sysSetenv(task, a1, a2, a3, a4)
	case defs.SYS_EXEC:
		// Replacing a running task's image in place has no honest
		// hosted-simulator equivalent: there is no real instruction
		// pointer to redirect mid-flight the way spawn's registered
		// closures stand in for a fresh one.
		return 0, defs.NotSupported

	// mmap
	case defs.SYS_MMAP:
		return d.sysMmap(task, a1, vm.Prot_t(a2))
	case defs.SYS_MUNMAP:
		return d.sysMunmap(task, a1, a2)

	// threads
	case defs.SYS_THREAD_CREATE:
		return d.sysThreadCreate(task, a1, a3)
	case defs.SYS_THREAD_EXIT:
		return d.sysThreadExit(task, a1)
	case defs.SYS_THREAD_JOIN:
		return d.sysThreadJoin(task, a1)

	// net (§4.Q): backed by sabos/src/inet, the hosted simulator's
	// single-interface loopback netstack.
	case defs.SYS_TCP:
		return d.sysTcp(task, a1, a2, a3, a4, a5)
	case defs.SYS_UDP:
		return d.sysUdp(task, a1, a2, a3, a4, a5, a6)
	case defs.SYS_NET_SEND_FRAME:
		return d.sysNetSendFrame(task, a1, a2)
	case defs.SYS_NET_RECV_FRAME:
		return d.sysNetRecvFrame(task, a1, a2, a3)
	case defs.SYS_NET_GET_MAC:
		return d.sysNetGetMac(task, a1)
	case defs.SYS_DNS_LOOKUP:
		return d.sysDnsLookup(task, a1, a2, a3)
	case defs.SYS_PING6:
		return d.sysPing6(task, a1, a2)
	case defs.SYS_DHCP_DISCOVER:
		return d.sysDhcpDiscover(task, a1)

	// block/fs_register: FAT is exercised only through the VFS mount
	// table in this revision, never through raw block-device syscalls.
	case defs.SYS_BLOCK_READ, defs.SYS_BLOCK_WRITE, defs.SYS_FS_REGISTER:
		return 0, defs.NotSupported

	// control
	case defs.SYS_EXIT:
		return d.sysExit(task, a1)
	case defs.SYS_SELFTEST:
		return d.sysSelftest(task)

	default:
		return 0, defs.UnknownSyscall
	}
}
