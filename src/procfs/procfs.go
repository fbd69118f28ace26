// Package procfs implements the read-only /proc filesystem facade (spec
// §4.M): three virtual files, /proc/meminfo, /proc/tasks and
// /proc/sched.pprof, regenerated from live state on every open; the first
// two are delivered as JSON, the third as a pprof profile. Grounded on the
// teacher's stat/stat.go (a fixed-layout snapshot struct exposed to
// userspace) generalized from one stat buffer per file to one JSON
// document per virtual file, and on sabos/src/oommsg for the same
// Oommsg_t shape /proc/meminfo surfaces as its out-of-memory history.
package procfs

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/google/pprof/profile"

	"sabos/src/defs"
	"sabos/src/mem"
	"sabos/src/sched"
	"sabos/src/vfs"
)

const (
	MemInfoPath    = "/proc/meminfo"
	TasksPath      = "/proc/tasks"
	SchedPprofPath = "/proc/sched.pprof"
)

/// MemInfo_t is the JSON document served from /proc/meminfo.
type MemInfo_t struct {
	TotalFrames     int `json:"total_frames"`
	AllocatedFrames int `json:"allocated_frames"`
	FreeFrames      int `json:"free_frames"`
	InvalidFrees    int `json:"invalid_frees"`
	OomEvents       int `json:"oom_events"`
}

/// TaskInfo_t is one entry in the JSON array served from /proc/tasks.
type TaskInfo_t struct {
	Id       uint64 `json:"id"`
	Name     string `json:"name"`
	State    string `json:"state"`
	UtimeUs  uint64 `json:"utime_us"`
	StimeUs  uint64 `json:"stime_us"`
	ParentId uint64 `json:"parent_id"`
}

var stateNames = map[sched.State_t]string{
	sched.Ready:    "ready",
	sched.Running:  "running",
	sched.Sleeping: "sleeping",
	sched.Finished: "finished",
}

/// Fs_t implements vfs.FileSystem_i, meant to be mounted at /proc. Every
/// read regenerates its document from the live frame allocator and
/// scheduler rather than caching a stale snapshot.
type Fs_t struct {
	frames *mem.FrameAllocator_t
	sc     *sched.Scheduler_t

	mu        sync.Mutex
	oomEvents int
}

/// New returns a procfs instance backed by frames and sc.
/// /proc/meminfo's oom_events field is populated by RecordOom, which
/// callers wire to their own drain of sabos/src/oommsg.OomCh.
func New(frames *mem.FrameAllocator_t, sc *sched.Scheduler_t) *Fs_t {
	return &Fs_t{frames: frames, sc: sc}
}

/// RecordOom increments the oom_events counter. Callers wire this to
/// their own drain of oommsg.OomCh, since procfs has no opinion on how
/// the rest of the system chooses to respond to an OOM notification
/// (panic, log-and-continue, etc).
func (f *Fs_t) RecordOom() {
	f.mu.Lock()
	f.oomEvents++
	f.mu.Unlock()
}

func (f *Fs_t) memInfoJSON() []byte {
	st := f.frames.Stats()
	f.mu.Lock()
	oom := f.oomEvents
	f.mu.Unlock()
	doc := MemInfo_t{
		TotalFrames:     st.TotalFrames,
		AllocatedFrames: st.AllocatedFrames,
		FreeFrames:      st.FreeFrames,
		InvalidFrees:    st.InvalidFrees,
		OomEvents:       oom,
	}
	b, _ := json.Marshal(doc)
	return b
}

func (f *Fs_t) tasksJSON() []byte {
	snap := f.sc.Snapshot()
	docs := make([]TaskInfo_t, 0, len(snap))
	for _, t := range snap {
		docs = append(docs, TaskInfo_t{
			Id:       t.Id,
			Name:     t.Name,
			State:    stateNames[t.State],
			UtimeUs:  t.UtimeUs,
			StimeUs:  t.StimeUs,
			ParentId: t.ParentId,
		})
	}
	b, _ := json.Marshal(docs)
	return b
}

// schedPprof renders the scheduler's preemption-hook-call and
// context-switch counters (§4.F) as a pprof profile, so the same
// tooling that profiles this repo's own build can be pointed at the
// kernel's own scheduling activity.
func (f *Fs_t) schedPprof() []byte {
	hookCalls, switches := f.sc.PreemptStats()
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "preempt_hook_calls", Unit: "count"},
			{Type: "context_switches", Unit: "count"},
		},
		Sample: []*profile.Sample{
			{Value: []int64{hookCalls, switches}},
		},
	}
	var buf bytes.Buffer
	if err := prof.Write(&buf); err != nil {
		return nil
	}
	return buf.Bytes()
}

type roNode struct {
	kind vfs.Kind_t
	size uint64
}

func (n roNode) Kind() vfs.Kind_t { return n.kind }
func (n roNode) Size() uint64     { return n.size }

/// Open resolves one of the three known virtual files, or the root.
func (f *Fs_t) Open(path string) (vfs.Node_i, defs.Err_t) {
	switch path {
	case "/meminfo", "/tasks", "/sched.pprof":
		data, _ := f.ReadFile(path)
		return roNode{kind: vfs.KindFile, size: uint64(len(data))}, 0
	case "/", "":
		return roNode{kind: vfs.KindDir}, 0
	default:
		return nil, defs.NotFound
	}
}

/// ReadFile regenerates and returns one of the three virtual files'
/// content.
func (f *Fs_t) ReadFile(path string) ([]byte, defs.Err_t) {
	switch path {
	case "/meminfo":
		return f.memInfoJSON(), 0
	case "/tasks":
		return f.tasksJSON(), 0
	case "/sched.pprof":
		return f.schedPprof(), 0
	default:
		return nil, defs.NotFound
	}
}

/// ListDir lists the root directory's three virtual files.
func (f *Fs_t) ListDir(path string) ([]vfs.DirEntry_t, defs.Err_t) {
	if path != "/" && path != "" {
		return nil, defs.NotADirectory
	}
	return []vfs.DirEntry_t{
		{Name: "meminfo", Kind: vfs.KindFile, Size: uint64(len(f.memInfoJSON()))},
		{Name: "tasks", Kind: vfs.KindFile, Size: uint64(len(f.tasksJSON()))},
		{Name: "sched.pprof", Kind: vfs.KindFile, Size: uint64(len(f.schedPprof()))},
	}, 0
}

/// CreateFile, DeleteFile, CreateDir, and DeleteDir all return ReadOnly:
/// §4.M states "All write paths return ReadOnly."
func (f *Fs_t) CreateFile(string) defs.Err_t { return defs.ReadOnly }
func (f *Fs_t) DeleteFile(string) defs.Err_t { return defs.ReadOnly }
func (f *Fs_t) CreateDir(string) defs.Err_t  { return defs.ReadOnly }
func (f *Fs_t) DeleteDir(string) defs.Err_t  { return defs.ReadOnly }
