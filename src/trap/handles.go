package trap

import (
	"encoding/json"
	"strings"

	"sabos/src/defs"
	"sabos/src/handle"
	"sabos/src/klog"
	"sabos/src/sched"
	"sabos/src/vfs"
)

// sysRead implements SYS_READ: a blocking read of up to len(buf) bytes
// from the task's stdin, which is either a redirected pipe (spawned via
// spawn_redirected) or the console's line-buffered input queue.
func (d *Dispatcher_t) sysRead(task *sched.Task_t, bufAddr, bufLen uint64) (uint64, defs.Err_t) {
	if bufLen == 0 {
		return 0, 0
	}
	if task.HasStdin {
		return d.readFromPipe(task, task.StdinId, bufAddr, bufLen)
	}
	b, err := d.con.ReadBlocking(d.sc, task, task.Id)
	if err != 0 {
		return 0, err
	}
	return writeOut(task, bufAddr, bufLen, []byte{b})
}

func (d *Dispatcher_t) readFromPipe(task *sched.Task_t, pipeId, bufAddr, bufLen uint64) (uint64, defs.Err_t) {
	scratch := make([]byte, bufLen)
	for {
		n, err := d.pipes.Read(pipeId, scratch)
		if err == defs.WouldBlock {
			d.sc.YieldNow(task)
			continue
		}
		if err != 0 {
			return 0, err
		}
		return writeOut(task, bufAddr, bufLen, scratch[:n])
	}
}

// sysWrite implements SYS_WRITE: write len(buf) bytes to the task's
// stdout, which is either a redirected pipe or the console. There is no
// framebuffer renderer in this core (spec §1 names it an external
// collaborator), so unredirected console output is delivered through
// klog as the hosted stand-in for "drawn to the screen".
func (d *Dispatcher_t) sysWrite(task *sched.Task_t, bufAddr, bufLen uint64) (uint64, defs.Err_t) {
	s, err := FromRawSlice[byte](task.As, bufAddr, bufLen)
	if err != 0 {
		return 0, err
	}
	data, err := s.Bytes()
	if err != 0 {
		return 0, err
	}
	if task.HasStdout {
		n, werr := d.pipes.Write(task.StdoutId, data)
		return uint64(n), werr
	}
	logSyscallErr(task.Name, defs.SYS_WRITE, 0)
	klog.Infof("%s: %s", task.Name, strings.TrimRight(string(data), "\n"))
	return uint64(len(data)), 0
}

// sysKeyRead implements SYS_KEY_READ: a non-blocking poll of the console
// queue, distinct from SYS_READ's blocking line read.
func (d *Dispatcher_t) sysKeyRead(task *sched.Task_t) (uint64, defs.Err_t) {
	b, err := d.con.TryRead(task.Id)
	if err != 0 {
		return 0, err
	}
	return uint64(b), 0
}

func (d *Dispatcher_t) sysConsoleGrab(task *sched.Task_t) (uint64, defs.Err_t) {
	d.con.Grab(task.Id)
	return 0, 0
}

func (d *Dispatcher_t) sysClearScreen(task *sched.Task_t) (uint64, defs.Err_t) {
	klog.Infof("%s: \x0c", task.Name)
	return 0, 0
}

// sysPipe implements SYS_PIPE: creates a pipe and installs both ends as
// handles in the caller's table, writing their ABI forms to the two
// out-pointers.
func (d *Dispatcher_t) sysPipe(task *sched.Task_t, readOutAddr, writeOutAddr uint64) (uint64, defs.Err_t) {
	id := d.pipes.Create()
	ht := d.handlesFor(task.Id)
	rh := ht.Create(handle.KindPipe, defs.READ, &pipeEnd_t{pipes: d.pipes, id: id, write: false})
	wh := ht.Create(handle.KindPipe, defs.WRITE, &pipeEnd_t{pipes: d.pipes, id: id, write: true})
	if err := writeHandleOut(task, readOutAddr, rh); err != 0 {
		return 0, err
	}
	if err := writeHandleOut(task, writeOutAddr, wh); err != 0 {
		return 0, err
	}
	return 0, 0
}

// --- filesystem syscalls (§4.L, via the new vfs.Writer_i/Stater_i) ---

func (d *Dispatcher_t) sysFileWrite(task *sched.Task_t, pathAddr, pathLen, dataAddr, dataLen uint64) (uint64, defs.Err_t) {
	path, err := readPath(task, pathAddr, pathLen)
	if err != 0 {
		return 0, err
	}
	s, err := FromRawSlice[byte](task.As, dataAddr, dataLen)
	if err != 0 {
		return 0, err
	}
	data, err := s.Bytes()
	if err != 0 {
		return 0, err
	}
	if err := d.vfsRoot.WriteFile(path, data); err != 0 {
		return 0, err
	}
	return uint64(len(data)), 0
}

func (d *Dispatcher_t) sysFileDelete(task *sched.Task_t, pathAddr, pathLen uint64) (uint64, defs.Err_t) {
	path, err := readPath(task, pathAddr, pathLen)
	if err != 0 {
		return 0, err
	}
	return 0, d.vfsRoot.DeleteFile(path)
}

func (d *Dispatcher_t) sysDirCreate(task *sched.Task_t, pathAddr, pathLen uint64) (uint64, defs.Err_t) {
	path, err := readPath(task, pathAddr, pathLen)
	if err != 0 {
		return 0, err
	}
	return 0, d.vfsRoot.CreateDir(path)
}

func (d *Dispatcher_t) sysDirRemove(task *sched.Task_t, pathAddr, pathLen uint64) (uint64, defs.Err_t) {
	path, err := readPath(task, pathAddr, pathLen)
	if err != 0 {
		return 0, err
	}
	return 0, d.vfsRoot.DeleteDir(path)
}

// sysDirList implements SYS_DIR_LIST: formats the listing as
// newline-separated "name" or "name/" entries (directories trailing-slash
// marked), the same convention dir_list's own doc in §4.L calls for.
func (d *Dispatcher_t) sysDirList(task *sched.Task_t, pathAddr, pathLen, outAddr, outLen uint64) (uint64, defs.Err_t) {
	path, err := readPath(task, pathAddr, pathLen)
	if err != 0 {
		return 0, err
	}
	entries, err := d.vfsRoot.ListDir(path)
	if err != 0 {
		return 0, err
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Name)
		if e.Kind == vfs.KindDir {
			b.WriteByte('/')
		}
		b.WriteByte('\n')
	}
	return writeOut(task, outAddr, outLen, []byte(b.String()))
}

/// fsStat_t is the JSON shape fs_stat writes out: total/free bytes of
/// the filesystem serving path, matching the field names procfs already
/// uses for its own JSON snapshots.
type fsStat_t struct {
	TotalBytes uint64 `json:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
}

func (d *Dispatcher_t) sysFsStat(task *sched.Task_t, pathAddr, pathLen, outAddr, outLen uint64) (uint64, defs.Err_t) {
	path, err := readPath(task, pathAddr, pathLen)
	if err != 0 {
		return 0, err
	}
	total, free, err := d.vfsRoot.Stat(path)
	if err != 0 {
		return 0, err
	}
	blob, jerr := json.Marshal(fsStat_t{TotalBytes: total, FreeBytes: free})
	if jerr != nil {
		return 0, defs.Other
	}
	return writeOut(task, outAddr, outLen, blob)
}

// --- handle-table syscalls (§4.H) ---

// sysOpen implements SYS_OPEN: resolves an absolute path through the VFS
// and installs a file or directory handle for it.
func (d *Dispatcher_t) sysOpen(task *sched.Task_t, pathAddr, pathLen uint64, rights defs.Rights_t, outAddr uint64) (uint64, defs.Err_t) {
	path, err := readPath(task, pathAddr, pathLen)
	if err != 0 {
		return 0, err
	}
	node, err := d.vfsRoot.Open(path)
	if err != 0 {
		return 0, err
	}
	kind := handle.KindFile
	if node.Kind() == vfs.KindDir {
		kind = handle.KindDir
	}
	ht := d.handlesFor(task.Id)
	obj := &fileObj_t{path: path, isDir: kind == handle.KindDir}
	h := ht.Create(kind, rights, obj)
	if kind == handle.KindDir {
		if e, eerr := ht.Lookup(h); eerr == 0 {
			e.Path = path
		}
	}
	if err := writeHandleOut(task, outAddr, h); err != 0 {
		return 0, err
	}
	return 0, 0
}

func (d *Dispatcher_t) sysHandleRead(task *sched.Task_t, hAddr, bufAddr, bufLen uint64) (uint64, defs.Err_t) {
	h, err := readHandleIn(task, hAddr)
	if err != 0 {
		return 0, err
	}
	ht := d.handlesFor(task.Id)
	rights, err := ht.Rights(h)
	if err != 0 {
		return 0, err
	}
	if !rights.Has(defs.READ) {
		return 0, defs.PermissionDenied
	}
	kind, err := ht.Kind(h)
	if err != 0 {
		return 0, err
	}
	underlying, err := ht.Data(h)
	if err != 0 {
		return 0, err
	}
	switch kind {
	case handle.KindPipe:
		pe := underlying.(*pipeEnd_t)
		for {
			scratch := make([]byte, bufLen)
			n, perr := d.pipes.Read(pe.id, scratch)
			if perr == defs.WouldBlock {
				d.sc.YieldNow(task)
				continue
			}
			if perr != 0 {
				return 0, perr
			}
			return writeOut(task, bufAddr, bufLen, scratch[:n])
		}
	case handle.KindFile:
		fo := underlying.(*fileObj_t)
		fo.mu.Lock()
		defer fo.mu.Unlock()
		data, rerr := d.vfsRoot.ReadFile(fo.path)
		if rerr != 0 {
			return 0, rerr
		}
		if fo.offset >= int64(len(data)) {
			return 0, 0
		}
		chunk := data[fo.offset:]
		n, werr := writeOut(task, bufAddr, bufLen, chunk)
		if werr != 0 {
			return 0, werr
		}
		fo.offset += int64(n)
		return n, 0
	default:
		return 0, defs.NotAFile
	}
}

func (d *Dispatcher_t) sysHandleWrite(task *sched.Task_t, hAddr, bufAddr, bufLen uint64) (uint64, defs.Err_t) {
	h, err := readHandleIn(task, hAddr)
	if err != 0 {
		return 0, err
	}
	ht := d.handlesFor(task.Id)
	rights, err := ht.Rights(h)
	if err != 0 {
		return 0, err
	}
	if !rights.Has(defs.WRITE) {
		return 0, defs.ReadOnly
	}
	kind, err := ht.Kind(h)
	if err != 0 {
		return 0, err
	}
	underlying, err := ht.Data(h)
	if err != 0 {
		return 0, err
	}
	s, err := FromRawSlice[byte](task.As, bufAddr, bufLen)
	if err != 0 {
		return 0, err
	}
	data, err := s.Bytes()
	if err != 0 {
		return 0, err
	}
	switch kind {
	case handle.KindPipe:
		pe := underlying.(*pipeEnd_t)
		n, werr := d.pipes.Write(pe.id, data)
		return uint64(n), werr
	case handle.KindFile:
		fo := underlying.(*fileObj_t)
		fo.mu.Lock()
		defer fo.mu.Unlock()
		existing, _ := d.vfsRoot.ReadFile(fo.path)
		end := fo.offset + int64(len(data))
		var out []byte
		if int64(len(existing)) >= end {
			out = append([]byte(nil), existing...)
		} else {
			out = make([]byte, end)
			copy(out, existing)
		}
		copy(out[fo.offset:end], data)
		if werr := d.vfsRoot.WriteFile(fo.path, out); werr != 0 {
			return 0, werr
		}
		fo.offset = end
		return uint64(len(data)), 0
	default:
		return 0, defs.NotSupported
	}
}

func (d *Dispatcher_t) sysHandleClose(task *sched.Task_t, hAddr uint64) (uint64, defs.Err_t) {
	h, err := readHandleIn(task, hAddr)
	if err != 0 {
		return 0, err
	}
	return 0, d.handlesFor(task.Id).Close(h)
}

/// handleStat_t is the JSON shape handle_stat writes out.
type handleStat_t struct {
	Kind string `json:"kind"`
	Size uint64 `json:"size"`
}

func (d *Dispatcher_t) sysHandleStat(task *sched.Task_t, hAddr, outAddr, outLen uint64) (uint64, defs.Err_t) {
	h, err := readHandleIn(task, hAddr)
	if err != 0 {
		return 0, err
	}
	ht := d.handlesFor(task.Id)
	kind, err := ht.Kind(h)
	if err != 0 {
		return 0, err
	}
	underlying, err := ht.Data(h)
	if err != 0 {
		return 0, err
	}
	st := handleStat_t{}
	switch kind {
	case handle.KindFile:
		fo := underlying.(*fileObj_t)
		st.Kind = "file"
		if fo.isDir {
			st.Kind = "dir"
		}
		if node, nerr := d.vfsRoot.Open(fo.path); nerr == 0 {
			st.Size = node.Size()
		}
	case handle.KindPipe:
		st.Kind = "pipe"
	case handle.KindIpc:
		st.Kind = "ipc"
	}
	blob, jerr := json.Marshal(st)
	if jerr != nil {
		return 0, defs.Other
	}
	return writeOut(task, outAddr, outLen, blob)
}

// sysHandleSeek implements SYS_HANDLE_SEEK with whence values matching
// the teacher's own SET(0)/CUR(1)/END(2) convention.
func (d *Dispatcher_t) sysHandleSeek(task *sched.Task_t, hAddr uint64, offset int64, whence uint64) (uint64, defs.Err_t) {
	h, err := readHandleIn(task, hAddr)
	if err != 0 {
		return 0, err
	}
	ht := d.handlesFor(task.Id)
	underlying, err := ht.Data(h)
	if err != 0 {
		return 0, err
	}
	fo, ok := underlying.(*fileObj_t)
	if !ok {
		return 0, defs.NotAFile
	}
	fo.mu.Lock()
	defer fo.mu.Unlock()
	base := int64(0)
	switch whence {
	case 0:
		base = 0
	case 1:
		base = fo.offset
	case 2:
		node, nerr := d.vfsRoot.Open(fo.path)
		if nerr != 0 {
			return 0, nerr
		}
		base = int64(node.Size())
	default:
		return 0, defs.InvalidArgument
	}
	newOff := base + offset
	if newOff < 0 {
		return 0, defs.InvalidArgument
	}
	fo.offset = newOff
	return uint64(newOff), 0
}

func (d *Dispatcher_t) sysOpenat(task *sched.Task_t, dirAddr uint64, relAddr, relLen uint64, requested defs.Rights_t, outAddr uint64) (uint64, defs.Err_t) {
	dirH, err := readHandleIn(task, dirAddr)
	if err != 0 {
		return 0, err
	}
	rel, err := readPath(task, relAddr, relLen)
	if err != 0 {
		return 0, err
	}
	ht := d.handlesFor(task.Id)
	fullPath, clamped, err := ht.Openat(dirH, rel, requested)
	if err != 0 {
		return 0, err
	}
	node, err := d.vfsRoot.Open(fullPath)
	if err != 0 {
		return 0, err
	}
	kind := handle.KindFile
	if node.Kind() == vfs.KindDir {
		kind = handle.KindDir
	}
	obj := &fileObj_t{path: fullPath, isDir: kind == handle.KindDir}
	h := ht.Create(kind, clamped, obj)
	if kind == handle.KindDir {
		if e, eerr := ht.Lookup(h); eerr == 0 {
			e.Path = fullPath
		}
	}
	if err := writeHandleOut(task, outAddr, h); err != 0 {
		return 0, err
	}
	return 0, 0
}

func (d *Dispatcher_t) sysHandleEnum(task *sched.Task_t, hAddr, outAddr, outLen uint64) (uint64, defs.Err_t) {
	h, err := readHandleIn(task, hAddr)
	if err != 0 {
		return 0, err
	}
	ht := d.handlesFor(task.Id)
	rights, err := ht.Rights(h)
	if err != 0 {
		return 0, err
	}
	if !rights.Has(defs.ENUM) {
		return 0, defs.PermissionDenied
	}
	underlying, err := ht.Data(h)
	if err != 0 {
		return 0, err
	}
	fo, ok := underlying.(*fileObj_t)
	if !ok || !fo.isDir {
		return 0, defs.NotADirectory
	}
	entries, lerr := d.vfsRoot.ListDir(fo.path)
	if lerr != 0 {
		return 0, lerr
	}
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Name)
		if e.Kind == vfs.KindDir {
			b.WriteByte('/')
		}
		b.WriteByte('\n')
	}
	return writeOut(task, outAddr, outLen, []byte(b.String()))
}

func (d *Dispatcher_t) sysHandleCreateFile(task *sched.Task_t, dirAddr, relAddr, relLen uint64) (uint64, defs.Err_t) {
	dirH, err := readHandleIn(task, dirAddr)
	if err != 0 {
		return 0, err
	}
	rel, err := readPath(task, relAddr, relLen)
	if err != 0 {
		return 0, err
	}
	ht := d.handlesFor(task.Id)
	fullPath, rights, err := ht.Openat(dirH, rel, defs.AllRights)
	if err != 0 {
		return 0, err
	}
	if !rights.Has(defs.CREATE) {
		return 0, defs.PermissionDenied
	}
	return 0, d.vfsRoot.CreateFile(fullPath)
}

func (d *Dispatcher_t) sysHandleUnlink(task *sched.Task_t, dirAddr, relAddr, relLen uint64) (uint64, defs.Err_t) {
	dirH, err := readHandleIn(task, dirAddr)
	if err != 0 {
		return 0, err
	}
	rel, err := readPath(task, relAddr, relLen)
	if err != 0 {
		return 0, err
	}
	ht := d.handlesFor(task.Id)
	fullPath, rights, err := ht.Openat(dirH, rel, defs.AllRights)
	if err != 0 {
		return 0, err
	}
	if !rights.Has(defs.DELETE) {
		return 0, defs.PermissionDenied
	}
	return 0, d.vfsRoot.DeleteFile(fullPath)
}

func (d *Dispatcher_t) sysHandleMkdir(task *sched.Task_t, dirAddr, relAddr, relLen uint64) (uint64, defs.Err_t) {
	dirH, err := readHandleIn(task, dirAddr)
	if err != 0 {
		return 0, err
	}
	rel, err := readPath(task, relAddr, relLen)
	if err != 0 {
		return 0, err
	}
	ht := d.handlesFor(task.Id)
	fullPath, rights, err := ht.Openat(dirH, rel, defs.AllRights)
	if err != 0 {
		return 0, err
	}
	if !rights.Has(defs.CREATE) {
		return 0, defs.PermissionDenied
	}
	return 0, d.vfsRoot.CreateDir(fullPath)
}

func (d *Dispatcher_t) sysRestrictRights(task *sched.Task_t, hAddr uint64, newRights defs.Rights_t, outAddr uint64) (uint64, defs.Err_t) {
	h, err := readHandleIn(task, hAddr)
	if err != 0 {
		return 0, err
	}
	nh, err := d.handlesFor(task.Id).RestrictRights(h, newRights)
	if err != 0 {
		return 0, err
	}
	if err := writeHandleOut(task, outAddr, nh); err != 0 {
		return 0, err
	}
	return 0, 0
}
