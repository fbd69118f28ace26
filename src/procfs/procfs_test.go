package procfs

import (
	"encoding/json"
	"testing"

	"sabos/src/defs"
	"sabos/src/mem"
	"sabos/src/sched"
	"sabos/src/vm"
)

func TestMemInfoReflectsLiveAllocatorState(t *testing.T) {
	frames := mem.NewFrameAllocator(8)
	sc := sched.New()
	fs := New(frames, sc)

	frames.Alloc()
	frames.Alloc()

	data, err := fs.ReadFile("/meminfo")
	if err != 0 {
		t.Fatalf("read meminfo: %v", err)
	}
	var doc MemInfo_t
	if jerr := json.Unmarshal(data, &doc); jerr != nil {
		t.Fatalf("unmarshal: %v", jerr)
	}
	if doc.TotalFrames != 8 || doc.AllocatedFrames != 2 || doc.FreeFrames != 6 {
		t.Fatalf("unexpected meminfo: %+v", doc)
	}
}

func TestTasksReflectsLiveSchedulerState(t *testing.T) {
	frames := mem.NewFrameAllocator(8)
	sc := sched.New()
	kas := vm.NewKernelSpace(frames)
	fs := New(frames, sc)

	block := make(chan struct{})
	sc.SpawnKernel("worker", kas, func(self *sched.Task_t) {
		<-block
	})

	data, err := fs.ReadFile("/tasks")
	if err != 0 {
		t.Fatalf("read tasks: %v", err)
	}
	var docs []TaskInfo_t
	if jerr := json.Unmarshal(data, &docs); jerr != nil {
		t.Fatalf("unmarshal: %v", jerr)
	}
	if len(docs) != 1 || docs[0].Name != "worker" {
		t.Fatalf("unexpected tasks doc: %+v", docs)
	}
	close(block)
}

func TestWritePathsAreReadOnly(t *testing.T) {
	frames := mem.NewFrameAllocator(8)
	sc := sched.New()
	fs := New(frames, sc)

	if err := fs.CreateFile("/x"); err != defs.ReadOnly {
		t.Fatalf("expected ReadOnly, got %v", err)
	}
	if err := fs.DeleteFile("/x"); err != defs.ReadOnly {
		t.Fatalf("expected ReadOnly, got %v", err)
	}
	if err := fs.CreateDir("/x"); err != defs.ReadOnly {
		t.Fatalf("expected ReadOnly, got %v", err)
	}
	if err := fs.DeleteDir("/x"); err != defs.ReadOnly {
		t.Fatalf("expected ReadOnly, got %v", err)
	}
}

func TestSchedPprofReflectsPreemptCounters(t *testing.T) {
	frames := mem.NewFrameAllocator(8)
	sc := sched.New()
	fs := New(frames, sc)

	data, err := fs.ReadFile("/sched.pprof")
	if err != 0 {
		t.Fatalf("read sched.pprof: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty pprof profile bytes")
	}
}

func TestRecordOomIncrementsCounter(t *testing.T) {
	frames := mem.NewFrameAllocator(4)
	sc := sched.New()
	fs := New(frames, sc)

	fs.RecordOom()
	fs.RecordOom()

	data, _ := fs.ReadFile("/meminfo")
	var doc MemInfo_t
	json.Unmarshal(data, &doc)
	if doc.OomEvents != 2 {
		t.Fatalf("expected 2 oom events, got %d", doc.OomEvents)
	}
}
