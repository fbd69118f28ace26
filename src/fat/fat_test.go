package fat

import (
	"encoding/binary"
	"testing"

	"sabos/src/defs"
	"sabos/src/vfs"
)

// buildFat16Image hand-constructs a tiny, valid FAT16 boot sector over a
// small in-memory disk: 512-byte sectors, 1 sector/cluster, a single
// FAT copy, a 16-entry (1-sector) root directory, and 61 data clusters.
func buildFat16Image(t *testing.T) *MemDisk_t {
	t.Helper()
	const totalSectors = 64
	disk := NewMemDisk(totalSectors)
	buf := disk.Bytes()

	binary.LittleEndian.PutUint16(buf[11:13], 512) // bytes/sector
	buf[13] = 1                                     // sectors/cluster
	binary.LittleEndian.PutUint16(buf[14:16], 1)    // reserved sectors
	buf[16] = 1                                     // num FATs
	binary.LittleEndian.PutUint16(buf[17:19], 16)   // root entries
	binary.LittleEndian.PutUint16(buf[19:21], totalSectors)
	binary.LittleEndian.PutUint16(buf[22:24], 1) // sectors/FAT
	buf[510] = 0x55
	buf[511] = 0xAA

	return disk
}

func mustMount(t *testing.T, disk *MemDisk_t) *Fs_t {
	t.Helper()
	fs, err := NewFs(disk)
	if err != 0 {
		t.Fatalf("NewFs: %v", err)
	}
	return fs
}

func TestParseBpbDerivesFat16Layout(t *testing.T) {
	disk := buildFat16Image(t)
	fs := mustMount(t, disk)
	if fs.bpb.Variant != Fat16 {
		t.Fatalf("expected Fat16, got %v", fs.bpb.Variant)
	}
	if fs.bpb.firstDataSector != 3 {
		t.Fatalf("expected firstDataSector 3, got %d", fs.bpb.firstDataSector)
	}
	if fs.bpb.totalClusters != 61 {
		t.Fatalf("expected 61 clusters, got %d", fs.bpb.totalClusters)
	}
}

func TestCreateWriteReadDeleteFileRoundTrip(t *testing.T) {
	fs := mustMount(t, buildFat16Image(t))

	if err := fs.CreateFile("/hello.txt"); err != 0 {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := fs.CreateFile("/hello.txt"); err != defs.AlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}

	data, err := fs.ReadFile("/hello.txt")
	if err != 0 || len(data) != 0 {
		t.Fatalf("expected empty file, got %q err %v", data, err)
	}

	payload := []byte("hello, sabos")
	if err := fs.WriteFile("/hello.txt", payload); err != 0 {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err = fs.ReadFile("/hello.txt")
	if err != 0 {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("round trip mismatch: got %q want %q", data, payload)
	}

	entries, err := fs.ListDir("/")
	if err != 0 {
		t.Fatalf("ListDir: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Name == "hello.txt" && e.Kind == vfs.KindFile && e.Size == uint64(len(payload)) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected hello.txt in listing: %+v", entries)
	}

	if err := fs.DeleteFile("/hello.txt"); err != 0 {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := fs.ReadFile("/hello.txt"); err != defs.NotFound {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
}

func TestWriteFileSpanningMultipleClusters(t *testing.T) {
	fs := mustMount(t, buildFat16Image(t))
	if err := fs.CreateFile("/big.bin"); err != 0 {
		t.Fatalf("CreateFile: %v", err)
	}

	payload := make([]byte, fs.bpb.ClusterBytes()*3+17)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := fs.WriteFile("/big.bin", payload); err != 0 {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := fs.ReadFile("/big.bin")
	if err != 0 {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != len(payload) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(payload))
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("byte %d mismatch: got %x want %x", i, got[i], payload[i])
		}
	}

	// shrink back down to a single cluster's worth
	small := payload[:5]
	if err := fs.WriteFile("/big.bin", small); err != 0 {
		t.Fatalf("shrink WriteFile: %v", err)
	}
	got, err = fs.ReadFile("/big.bin")
	if err != 0 || string(got) != string(small) {
		t.Fatalf("shrink round trip failed: got %q err %v", got, err)
	}
}

func TestCreateDirAddsDotAndDotDot(t *testing.T) {
	fs := mustMount(t, buildFat16Image(t))
	if err := fs.CreateDir("/sub"); err != 0 {
		t.Fatalf("CreateDir: %v", err)
	}

	entries, err := fs.ListDir("/sub")
	if err != 0 {
		t.Fatalf("ListDir: %v", err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	if !names["."] || !names[".."] {
		t.Fatalf("expected . and .. in new directory, got %+v", entries)
	}

	if err := fs.CreateFile("/sub/leaf.txt"); err != 0 {
		t.Fatalf("CreateFile nested: %v", err)
	}
	if err := fs.WriteFile("/sub/leaf.txt", []byte("nested")); err != 0 {
		t.Fatalf("WriteFile nested: %v", err)
	}
	data, err := fs.ReadFile("/sub/leaf.txt")
	if err != 0 || string(data) != "nested" {
		t.Fatalf("nested round trip failed: %q err %v", data, err)
	}
}

func TestDeleteDirRejectsNonEmpty(t *testing.T) {
	fs := mustMount(t, buildFat16Image(t))
	if err := fs.CreateDir("/sub"); err != 0 {
		t.Fatalf("CreateDir: %v", err)
	}
	if err := fs.CreateFile("/sub/leaf.txt"); err != 0 {
		t.Fatalf("CreateFile: %v", err)
	}
	if err := fs.DeleteDir("/sub"); err != defs.DirectoryNotEmpty {
		t.Fatalf("expected DirectoryNotEmpty, got %v", err)
	}
	if err := fs.DeleteFile("/sub/leaf.txt"); err != 0 {
		t.Fatalf("DeleteFile: %v", err)
	}
	if err := fs.DeleteDir("/sub"); err != 0 {
		t.Fatalf("DeleteDir: %v", err)
	}
}

func TestCreateFileWithLfnNameListsLongName(t *testing.T) {
	fs := mustMount(t, buildFat16Image(t))
	longName := "a-rather-long-descriptive-filename.txt"
	if err := fs.CreateFile("/" + longName); err != 0 {
		t.Fatalf("CreateFile with long name: %v", err)
	}
	entries, err := fs.ListDir("/")
	if err != 0 {
		t.Fatalf("ListDir: %v", err)
	}
	found := false
	for _, e := range entries {
		if e.Name == longName {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected LFN-decoded long name in listing: %+v", entries)
	}
}

func TestOpenReportsKindAndSize(t *testing.T) {
	fs := mustMount(t, buildFat16Image(t))
	fs.CreateFile("/f.txt")
	fs.WriteFile("/f.txt", []byte("abcde"))

	n, err := fs.Open("/f.txt")
	if err != 0 {
		t.Fatalf("Open: %v", err)
	}
	if n.Kind() != vfs.KindFile || n.Size() != 5 {
		t.Fatalf("unexpected node: kind=%v size=%d", n.Kind(), n.Size())
	}

	root, err := fs.Open("/")
	if err != 0 || root.Kind() != vfs.KindDir {
		t.Fatalf("expected root dir node, got %+v err %v", root, err)
	}
}
