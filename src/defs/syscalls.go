package defs

/// Stable syscall numbers, dispatched via the int-0x80 ABI: rax = number,
/// args in rdi, rsi, rdx, r10, r8, r9, result in rax. Identity across
/// revisions is by purpose, not number, except where noted.
const (
	SYS_READ          = 0
	SYS_WRITE         = 1
	SYS_PIPE          = 5
	SYS_CLEAR_SCREEN  = 6
	SYS_CONSOLE_GRAB  = 7
	SYS_KEY_READ      = 8

	SYS_FILE_WRITE  = 10
	SYS_FILE_DELETE = 11
	SYS_DIR_CREATE  = 12
	SYS_DIR_REMOVE  = 13
	SYS_DIR_LIST    = 14
	SYS_FS_STAT     = 15

	SYS_GET_MEM_INFO   = 20
	SYS_GET_TASK_LIST  = 21
	SYS_GET_NET_INFO   = 22
	SYS_PCI_CONFIG_RD  = 23
	SYS_CLOCK_MONOTONIC = 24
	SYS_CLOCK_REALTIME  = 25

	SYS_MMAP   = 28
	SYS_MUNMAP = 29

	SYS_SPAWN  = 31
	SYS_YIELD  = 32
	SYS_SLEEP  = 33
	SYS_WAIT   = 34
	SYS_GETPID = 35
	SYS_KILL   = 36
	SYS_GETENV = 37
	SYS_SETENV = 38

	SYS_TCP    = 40
	SYS_UDP    = 41

	SYS_NET_SEND_FRAME = 45
	SYS_NET_RECV_FRAME = 46
	SYS_NET_GET_MAC    = 47

	SYS_DNS_LOOKUP    = 50
	SYS_PING6         = 51
	SYS_DHCP_DISCOVER = 52

	SYS_EXIT            = 60
	SYS_EXEC            = 61
	SYS_SPAWN_REDIRECTED = 62

	SYS_OPEN              = 70
	SYS_HANDLE_READ       = 71
	SYS_HANDLE_WRITE      = 72
	SYS_HANDLE_CLOSE      = 73
	SYS_HANDLE_STAT       = 74
	SYS_HANDLE_SEEK       = 75
	SYS_OPENAT            = 76
	SYS_HANDLE_ENUM       = 77
	SYS_HANDLE_CREATE_FILE = 78
	SYS_HANDLE_UNLINK     = 79
	SYS_HANDLE_MKDIR      = 80
	SYS_RESTRICT_RIGHTS   = 81

	SYS_IPC_SEND        = 82
	SYS_IPC_RECV        = 83
	SYS_IPC_RECV_FROM   = 84
	SYS_IPC_CANCEL      = 85
	SYS_IPC_SEND_HANDLE = 86
	SYS_IPC_RECV_HANDLE = 87

	SYS_BLOCK_READ  = 88
	SYS_BLOCK_WRITE = 89

	SYS_FS_REGISTER = 90

	SYS_THREAD_CREATE = 110
	SYS_THREAD_EXIT   = 111
	SYS_THREAD_JOIN   = 112

	SYS_WAITPID = 39 // unpinned by the abridged catalogue; identity is by purpose

	SYS_FUTEX_WAIT = 95 // unpinned by the abridged catalogue; identity is by purpose
	SYS_FUTEX_WAKE = 96 // unpinned by the abridged catalogue; identity is by purpose

	SYS_SELFTEST = 97 // unpinned by the abridged catalogue; identity is by purpose
)

/// WNOHANG is the waitpid flag requesting a non-blocking poll.
const WNOHANG = 1
