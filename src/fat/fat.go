// Package fat implements the FAT16/FAT32 filesystem driver described in
// SPEC_FULL.md §4.N, mounted into sabos/src/vfs as a vfs.FileSystem_i.
package fat

import (
	"encoding/binary"
	"strings"
	"sync"

	"sabos/src/defs"
	"sabos/src/vfs"
)

const (
	fsInfoLeadSig  = 0x41615252
	fsInfoStrucSig = 0x61417272
	fsInfoTrailSig = 0xAA550000
)

/// Fs_t is a single mounted FAT16 or FAT32 volume, driven over a
/// BlockDevice. One Fs_t serves one vfs.Mount call.
type Fs_t struct {
	mu  sync.Mutex
	dev BlockDevice
	bpb *Bpb_t

	fsInfoValid bool
	freeCount   uint32 // FAT32 only; 0xFFFFFFFF means "unknown"
}

/// NewFs reads the BPB from sector 0 of dev and returns a mounted
/// filesystem. dev must already contain a formatted FAT16 or FAT32
/// volume with the 0x55 0xAA boot-sector signature at offset 510, per
/// §4.N's on-disk format.
func NewFs(dev BlockDevice) (*Fs_t, defs.Err_t) {
	sector0 := make([]byte, SectorSize)
	if err := dev.ReadSector(0, sector0); err != 0 {
		return nil, err
	}
	if sector0[510] != 0x55 || sector0[511] != 0xAA {
		return nil, defs.IoError
	}
	bpb := ParseBpb(sector0)
	f := &Fs_t{dev: dev, bpb: bpb}
	if bpb.Variant == Fat32 && bpb.FsInfoSector != 0 {
		f.loadFsInfo()
	}
	return f, 0
}

func (f *Fs_t) loadFsInfo() {
	buf := make([]byte, SectorSize)
	if err := f.dev.ReadSector(uint64(f.bpb.FsInfoSector), buf); err != 0 {
		return
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != fsInfoLeadSig ||
		binary.LittleEndian.Uint32(buf[484:488]) != fsInfoStrucSig {
		return
	}
	f.freeCount = binary.LittleEndian.Uint32(buf[488:492])
	f.fsInfoValid = true
}

// persistFsInfo writes the cached free-cluster count back to the
// FSInfo sector, keeping FAT32's free-space hint in sync with every
// allocation and release, per §4.N's "FSInfo updates for free-cluster
// accounting".
func (f *Fs_t) persistFsInfo() {
	if !f.fsInfoValid {
		return
	}
	buf := make([]byte, SectorSize)
	if err := f.dev.ReadSector(uint64(f.bpb.FsInfoSector), buf); err != 0 {
		return
	}
	binary.LittleEndian.PutUint32(buf[488:492], f.freeCount)
	f.dev.WriteSector(uint64(f.bpb.FsInfoSector), buf)
}

func (f *Fs_t) noteClusterAllocated() {
	if f.fsInfoValid && f.freeCount != 0xFFFFFFFF && f.freeCount > 0 {
		f.freeCount--
		f.persistFsInfo()
	}
}

func (f *Fs_t) noteClusterFreed(n int) {
	if f.fsInfoValid && f.freeCount != 0xFFFFFFFF {
		f.freeCount += uint32(n)
		f.persistFsInfo()
	}
}

/// Stat_t summarizes a mounted volume's capacity, for the syscall
/// dispatcher's fs_stat.
type Stat_t struct {
	TotalBytes uint64
	FreeBytes  uint64
	Variant    Variant_t
}

/// Stat reports the volume's total and (for FAT32, FSInfo-tracked) free
/// capacity. FAT16 has no FSInfo sector, so FreeBytes is always 0 there;
/// callers should not treat that as "full."
func (f *Fs_t) Stat() Stat_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := Stat_t{
		TotalBytes: uint64(f.bpb.TotalClusters()) * uint64(f.bpb.ClusterBytes()),
		Variant:    f.bpb.Variant,
	}
	if f.fsInfoValid && f.freeCount != 0xFFFFFFFF {
		st.FreeBytes = uint64(f.freeCount) * uint64(f.bpb.ClusterBytes())
	}
	return st
}

/// VolumeStat implements vfs.Stater_i for the syscall dispatcher's
/// fs_stat.
func (f *Fs_t) VolumeStat() (total uint64, free uint64) {
	st := f.Stat()
	return st.TotalBytes, st.FreeBytes
}

func splitPath(path string) []string {
	var out []string
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// resolve walks path from the volume root and reports what it names:
// for a directory, loc is the location to read/append its own entries;
// for a file, entry carries its size and cluster chain.
func (f *Fs_t) resolve(path string) (loc dirLoc_t, entry shortEntry_t, isDir bool, err defs.Err_t) {
	comps := splitPath(path)
	if len(comps) == 0 {
		return f.rootLoc(), shortEntry_t{}, true, 0
	}

	cur := f.rootLoc()
	var e shortEntry_t
	for i, comp := range comps {
		e, err = f.findChild(cur, comp)
		if err != 0 {
			return dirLoc_t{}, shortEntry_t{}, false, err
		}
		if i == len(comps)-1 {
			if e.isDir() {
				return dirLoc_t{cluster: e.FirstClus}, e, true, 0
			}
			return dirLoc_t{}, e, false, 0
		}
		if !e.isDir() {
			return dirLoc_t{}, shortEntry_t{}, false, defs.NotADirectory
		}
		cur = dirLoc_t{cluster: e.FirstClus}
	}
	return dirLoc_t{}, shortEntry_t{}, false, defs.NotFound
}

// resolveParent walks every component of path but the last, returning
// the parent directory's location and the final component's name.
func (f *Fs_t) resolveParent(path string) (parent dirLoc_t, base string, err defs.Err_t) {
	comps := splitPath(path)
	if len(comps) == 0 {
		return dirLoc_t{}, "", defs.InvalidPath
	}
	cur := f.rootLoc()
	for _, comp := range comps[:len(comps)-1] {
		e, err := f.findChild(cur, comp)
		if err != 0 {
			return dirLoc_t{}, "", err
		}
		if !e.isDir() {
			return dirLoc_t{}, "", defs.NotADirectory
		}
		cur = dirLoc_t{cluster: e.FirstClus}
	}
	return cur, comps[len(comps)-1], 0
}

func buildEntries(name string, attr uint8, firstClus uint32, size uint32) [][]byte {
	if needsLfn(name) {
		return encodeLfnEntries(name, attr, firstClus, size)
	}
	return [][]byte{encodeEntry(name, attr, firstClus, size)}
}

/// node_t is the vfs.Node_i a successful Open returns.
type node_t struct {
	dir  bool
	size uint64
}

func (n *node_t) Kind() vfs.Kind_t {
	if n.dir {
		return vfs.KindDir
	}
	return vfs.KindFile
}

func (n *node_t) Size() uint64 { return n.size }

func (f *Fs_t) Open(path string) (vfs.Node_i, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, entry, isDir, err := f.resolve(path)
	if err != 0 {
		return nil, err
	}
	return &node_t{dir: isDir, size: uint64(entry.Size)}, 0
}

/// ReadFile streams a file's cluster chain into one contiguous buffer,
/// truncated to its declared byte size, per §4.N: "file read streams
/// through the cluster chain sector by sector ... honoring the file's
/// declared byte size."
func (f *Fs_t) ReadFile(path string) ([]byte, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, entry, isDir, err := f.resolve(path)
	if err != 0 {
		return nil, err
	}
	if isDir {
		return nil, defs.NotAFile
	}
	if entry.Size == 0 {
		return []byte{}, 0
	}

	chain, err := f.clusterChain(entry.FirstClus)
	if err != 0 {
		return nil, err
	}
	clusBytes := f.bpb.ClusterBytes()
	out := make([]byte, 0, len(chain)*int(clusBytes))
	for _, c := range chain {
		sector := f.bpb.ClusterToSector(c)
		spc := uint64(f.bpb.SectorsPerCluster)
		buf := make([]byte, clusBytes)
		for i := uint64(0); i < spc; i++ {
			if err := f.dev.ReadSector(sector+i, buf[i*SectorSize:(i+1)*SectorSize]); err != 0 {
				return nil, err
			}
		}
		out = append(out, buf...)
	}
	if uint32(len(out)) > entry.Size {
		out = out[:entry.Size]
	}
	return out, 0
}

/// WriteFile replaces a file's entire contents with data, growing or
/// shrinking its cluster chain as needed and updating the directory
/// entry's size and first-cluster fields. Not part of vfs.FileSystem_i
/// (procfs has no use for it); the syscall dispatcher's handle_write
/// reaches this directly for handles backed by a FAT file, the same way
/// handle_create_file reaches CreateFile.
func (f *Fs_t) WriteFile(path string, data []byte) defs.Err_t {
	f.mu.Lock()
	defer f.mu.Unlock()

	parent, base, err := f.resolveParent(path)
	if err != 0 {
		return err
	}
	entry, err := f.findChild(parent, base)
	if err != 0 {
		return err
	}
	if entry.isDir() {
		return defs.NotAFile
	}

	var chain []uint32
	if entry.FirstClus != 0 {
		chain, err = f.clusterChain(entry.FirstClus)
		if err != 0 {
			return err
		}
	}

	clusBytes := int(f.bpb.ClusterBytes())
	needed := (len(data) + clusBytes - 1) / clusBytes

	if needed == 0 {
		if len(chain) > 0 {
			if err := f.freeChain(chain); err != 0 {
				return err
			}
			f.noteClusterFreed(len(chain))
		}
		return f.patchEntry(parent, entry, 0, 0)
	}

	if len(chain) == 0 {
		first, err := f.allocCluster()
		if err != 0 {
			return err
		}
		f.noteClusterAllocated()
		chain = []uint32{first}
	}
	for len(chain) < needed {
		next, err := f.extendChain(chain[len(chain)-1])
		if err != 0 {
			return err
		}
		f.noteClusterAllocated()
		chain = append(chain, next)
	}
	if len(chain) > needed {
		toFree := chain[needed:]
		if err := f.writeEntry(chain[needed-1], f.eocValue()); err != 0 {
			return err
		}
		if err := f.freeChain(toFree); err != 0 {
			return err
		}
		f.noteClusterFreed(len(toFree))
		chain = chain[:needed]
	}

	for i, c := range chain {
		sector := f.bpb.ClusterToSector(c)
		spc := uint64(f.bpb.SectorsPerCluster)
		start := i * clusBytes
		end := start + clusBytes
		chunk := make([]byte, clusBytes)
		if start < len(data) {
			copy(chunk, data[start:min(end, len(data))])
		}
		for s := uint64(0); s < spc; s++ {
			if err := f.dev.WriteSector(sector+s, chunk[s*SectorSize:(s+1)*SectorSize]); err != 0 {
				return err
			}
		}
	}

	return f.patchEntry(parent, entry, chain[0], uint32(len(data)))
}

// patchEntry rewrites an existing short entry's first-cluster and size
// fields in place, preserving its name and attributes.
func (f *Fs_t) patchEntry(loc dirLoc_t, e shortEntry_t, firstClus uint32, size uint32) defs.Err_t {
	buf, err := f.readDirBuf(loc)
	if err != 0 {
		return err
	}
	raw := make([]byte, dirEntrySize)
	copy(raw, buf[e.rawOffset:e.rawOffset+dirEntrySize])
	binary.LittleEndian.PutUint16(raw[20:22], uint16(firstClus>>16))
	binary.LittleEndian.PutUint16(raw[26:28], uint16(firstClus))
	binary.LittleEndian.PutUint32(raw[28:32], size)
	return f.writeDirSlot(loc, e.rawOffset, raw)
}

/// ListDir surfaces every live entry a directory's clusters (or the
/// FAT16 fixed root area) hold, including `.` and `..` where the medium
/// stores them; filtering those is the caller's job.
func (f *Fs_t) ListDir(path string) ([]vfs.DirEntry_t, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()
	loc, _, isDir, err := f.resolve(path)
	if err != 0 {
		return nil, err
	}
	if !isDir {
		return nil, defs.NotADirectory
	}

	buf, err := f.readDirBuf(loc)
	if err != 0 {
		return nil, err
	}
	entries := parseDirBuf(buf)
	out := make([]vfs.DirEntry_t, 0, len(entries))
	for _, e := range entries {
		if e.Attr&attrVolumeID != 0 {
			continue
		}
		kind := vfs.KindFile
		if e.isDir() {
			kind = vfs.KindDir
		}
		out = append(out, vfs.DirEntry_t{Name: e.Name, Kind: kind, Size: uint64(e.Size)})
	}
	return out, 0
}

func (f *Fs_t) CreateFile(path string) defs.Err_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, base, err := f.resolveParent(path)
	if err != 0 {
		return err
	}
	if _, err := f.findChild(parent, base); err == 0 {
		return defs.AlreadyExists
	}
	return f.writeEntries(parent, buildEntries(base, attrArchive, 0, 0))
}

func (f *Fs_t) DeleteFile(path string) defs.Err_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, base, err := f.resolveParent(path)
	if err != 0 {
		return err
	}
	entry, err := f.findChild(parent, base)
	if err != 0 {
		return err
	}
	if entry.isDir() {
		return defs.NotAFile
	}
	if entry.FirstClus != 0 {
		chain, err := f.clusterChain(entry.FirstClus)
		if err != 0 {
			return err
		}
		if err := f.freeChain(chain); err != 0 {
			return err
		}
		f.noteClusterFreed(len(chain))
	}
	return f.deleteEntry(parent, entry)
}

func (f *Fs_t) CreateDir(path string) defs.Err_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, base, err := f.resolveParent(path)
	if err != 0 {
		return err
	}
	if _, err := f.findChild(parent, base); err == 0 {
		return defs.AlreadyExists
	}

	newClus, err := f.allocCluster()
	if err != 0 {
		return err
	}
	f.noteClusterAllocated()
	if err := f.zeroCluster(newClus); err != 0 {
		return err
	}

	if err := f.writeEntries(parent, buildEntries(base, attrDir, newClus, 0)); err != 0 {
		return err
	}

	childLoc := dirLoc_t{cluster: newClus}
	dotDotClus := parent.cluster
	if err := f.writeEntries(childLoc, [][]byte{encodeEntry(".", attrDir, newClus, 0)}); err != 0 {
		return err
	}
	return f.writeEntries(childLoc, [][]byte{encodeEntry("..", attrDir, dotDotClus, 0)})
}

func (f *Fs_t) DeleteDir(path string) defs.Err_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	parent, base, err := f.resolveParent(path)
	if err != 0 {
		return err
	}
	entry, err := f.findChild(parent, base)
	if err != 0 {
		return err
	}
	if !entry.isDir() {
		return defs.NotADirectory
	}

	childLoc := dirLoc_t{cluster: entry.FirstClus}
	buf, err := f.readDirBuf(childLoc)
	if err != 0 {
		return err
	}
	for _, e := range parseDirBuf(buf) {
		if e.Name != "." && e.Name != ".." {
			return defs.DirectoryNotEmpty
		}
	}

	if entry.FirstClus != 0 {
		chain, err := f.clusterChain(entry.FirstClus)
		if err != 0 {
			return err
		}
		if err := f.freeChain(chain); err != 0 {
			return err
		}
		f.noteClusterFreed(len(chain))
	}
	return f.deleteEntry(parent, entry)
}

// zeroCluster overwrites a freshly allocated cluster's sectors with
// zero bytes, so a new directory's entries start from a clean
// end-of-entries marker.
func (f *Fs_t) zeroCluster(cluster uint32) defs.Err_t {
	zero := make([]byte, SectorSize)
	sector := f.bpb.ClusterToSector(cluster)
	spc := uint64(f.bpb.SectorsPerCluster)
	for i := uint64(0); i < spc; i++ {
		if err := f.dev.WriteSector(sector+i, zero); err != 0 {
			return err
		}
	}
	return 0
}
