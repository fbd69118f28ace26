// Package vfs implements the virtual filesystem layer (spec §4.L): path
// normalization, a mount table routing by longest matching prefix, and
// mechanical translation of filesystem errors into the syscall error
// taxonomy. Grounded on the teacher's ufs/ufs.go, which plays the same
// facade role over a single mounted fs.Fs_t (MkFile/Update/Append/Ls/Stat
// all dispatch through one underlying filesystem); this package
// generalizes that facade from one hardwired filesystem to a table of
// mounted ones, picked by longest-prefix match the way the teacher's own
// fs/super.go resolves a path's containing directory by walking it
// component by component from the root inode.
package vfs

import (
	"strings"
	"sync"

	"sabos/src/defs"
)

/// Kind_t distinguishes files from directories in a directory listing.
type Kind_t int

const (
	KindFile Kind_t = iota
	KindDir
)

/// DirEntry_t is one entry returned by ListDir.
type DirEntry_t struct {
	Name string
	Kind Kind_t
	Size uint64
}

/// FileSystem_i is implemented by each mounted filesystem driver (FAT16,
/// FAT32, ...). Paths passed in are already relative to the filesystem's
/// own mount point and normalized.
type FileSystem_i interface {
	Open(path string) (Node_i, defs.Err_t)
	ReadFile(path string) ([]byte, defs.Err_t)
	ListDir(path string) ([]DirEntry_t, defs.Err_t)
	CreateFile(path string) defs.Err_t
	DeleteFile(path string) defs.Err_t
	CreateDir(path string) defs.Err_t
	DeleteDir(path string) defs.Err_t
}

/// Node_i is a resolved filesystem node, handed out by Open.
type Node_i interface {
	Kind() Kind_t
	Size() uint64
}

/// Writer_i is implemented by filesystem drivers that support writing a
/// file's full contents in one call (FAT's WriteFile). It is kept
/// separate from FileSystem_i because the spec's VFS contract (§4.L)
/// only names create/delete at that layer; content writes are a
/// per-driver extension the syscall dispatcher reaches for through this
/// optional interface, falling back to NotSupported for any mounted
/// filesystem that doesn't implement it (procfs, notably).
type Writer_i interface {
	WriteFile(path string, data []byte) defs.Err_t
}

/// Stater_i is implemented by mounted filesystems that can report
/// overall capacity (FAT's cluster count and FSInfo free-cluster
/// count). fs_stat falls back to zeroes for a mount that doesn't.
type Stater_i interface {
	VolumeStat() (total uint64, free uint64)
}

/// Vfs_t is the mount table: a map from absolute mount-point prefix to
/// the filesystem mounted there.
type Vfs_t struct {
	mu     sync.RWMutex
	mounts map[string]FileSystem_i
}

/// New returns an empty VFS with nothing mounted.
func New() *Vfs_t {
	return &Vfs_t{mounts: make(map[string]FileSystem_i)}
}

/// Mount attaches fs at prefix (e.g. "/" or "/mnt/usb"). prefix must
/// already be normalized; Mount does not validate it beyond that, since
/// it is a boot-time/administrative operation, not something untrusted
/// user input ever reaches directly.
func (v *Vfs_t) Mount(prefix string, fs FileSystem_i) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mounts[normalizedMountKey(prefix)] = fs
}

/// Unmount detaches whatever filesystem is mounted at prefix.
func (v *Vfs_t) Unmount(prefix string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.mounts, normalizedMountKey(prefix))
}

func normalizedMountKey(prefix string) string {
	if prefix == "" {
		return "/"
	}
	return prefix
}

// resolve normalizes path, finds the longest mount-point prefix match,
// and returns the filesystem plus the path remainder relative to that
// mount point, per §4.L's "Longest-prefix match; the remainder is passed
// to the mounted filesystem."
func (v *Vfs_t) resolve(path string) (FileSystem_i, string, defs.Err_t) {
	norm, err := Normalize(path)
	if err != 0 {
		return nil, "", err
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	bestPrefix := ""
	var bestFs FileSystem_i
	for prefix, fs := range v.mounts {
		if !isPrefixMatch(norm, prefix) {
			continue
		}
		if len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
			bestFs = fs
		}
	}
	if bestFs == nil {
		return nil, "", defs.NotFound
	}

	rem := strings.TrimPrefix(norm, bestPrefix)
	if rem == "" {
		rem = "/"
	}
	if rem[0] != '/' {
		rem = "/" + rem
	}
	return bestFs, rem, 0
}

func isPrefixMatch(path, prefix string) bool {
	if prefix == "/" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	rest := path[len(prefix):]
	return rest == "" || rest[0] == '/'
}

/// Normalize collapses a path into the absolute, `.`/`..`-free,
/// no-double-slash form §4.L requires before routing. It rejects any
/// attempt for a `..` component to climb above the root, returning
/// PathTraversal, and rejects non-absolute input as InvalidPath.
func Normalize(path string) (string, defs.Err_t) {
	if path == "" || path[0] != '/' {
		return "", defs.InvalidPath
	}
	var stack []string
	for _, comp := range strings.Split(path, "/") {
		switch comp {
		case "", ".":
			continue
		case "..":
			if len(stack) == 0 {
				return "", defs.PathTraversal
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, comp)
		}
	}
	if len(stack) == 0 {
		return "/", 0
	}
	return "/" + strings.Join(stack, "/"), 0
}

/// ValidateRelativePath rejects, with PathTraversal, an empty or absolute
/// path or any component of ".." in a path meant to be resolved relative
/// to an existing directory handle (as opposed to Normalize, which
/// resolves a fully qualified absolute path). src/handle's Openat does
/// not call it; it applies its own checks.
func ValidateRelativePath(rel string) defs.Err_t {
	if rel == "" || rel[0] == '/' {
		return defs.PathTraversal
	}
	for _, comp := range strings.Split(rel, "/") {
		if comp == ".." {
			return defs.PathTraversal
		}
	}
	return 0
}

/// Open resolves path and opens the node it names.
func (v *Vfs_t) Open(path string) (Node_i, defs.Err_t) {
	fs, rem, err := v.resolve(path)
	if err != 0 {
		return nil, err
	}
	return fs.Open(rem)
}

/// ReadFile reads the entire contents of the file at path.
func (v *Vfs_t) ReadFile(path string) ([]byte, defs.Err_t) {
	fs, rem, err := v.resolve(path)
	if err != 0 {
		return nil, err
	}
	return fs.ReadFile(rem)
}

/// ListDir lists the directory at path.
func (v *Vfs_t) ListDir(path string) ([]DirEntry_t, defs.Err_t) {
	fs, rem, err := v.resolve(path)
	if err != 0 {
		return nil, err
	}
	return fs.ListDir(rem)
}

/// CreateFile creates an empty file at path.
func (v *Vfs_t) CreateFile(path string) defs.Err_t {
	fs, rem, err := v.resolve(path)
	if err != 0 {
		return err
	}
	return fs.CreateFile(rem)
}

/// DeleteFile removes the file at path.
func (v *Vfs_t) DeleteFile(path string) defs.Err_t {
	fs, rem, err := v.resolve(path)
	if err != 0 {
		return err
	}
	return fs.DeleteFile(rem)
}

/// CreateDir creates a directory at path.
func (v *Vfs_t) CreateDir(path string) defs.Err_t {
	fs, rem, err := v.resolve(path)
	if err != 0 {
		return err
	}
	return fs.CreateDir(rem)
}

/// DeleteDir removes the directory at path.
func (v *Vfs_t) DeleteDir(path string) defs.Err_t {
	fs, rem, err := v.resolve(path)
	if err != 0 {
		return err
	}
	return fs.DeleteDir(rem)
}

/// WriteFile replaces the full contents of the file at path, for
/// filesystems that implement Writer_i. Mounted filesystems that don't
/// (procfs) report NotSupported, distinct from the ReadOnly a procfs
/// CreateFile/DeleteFile call returns, since write-here is simply not a
/// thing this mount can ever do rather than a permission the caller lacks.
func (v *Vfs_t) WriteFile(path string, data []byte) defs.Err_t {
	fs, rem, err := v.resolve(path)
	if err != 0 {
		return err
	}
	w, ok := fs.(Writer_i)
	if !ok {
		return defs.NotSupported
	}
	return w.WriteFile(rem, data)
}

/// Stat reports the total and free byte capacity of whichever mounted
/// filesystem owns path, or (0, 0) for one that implements no
/// Stater_i (procfs: its "capacity" has no meaningful figure).
func (v *Vfs_t) Stat(path string) (total uint64, free uint64, err defs.Err_t) {
	fs, _, err := v.resolve(path)
	if err != 0 {
		return 0, 0, err
	}
	s, ok := fs.(Stater_i)
	if !ok {
		return 0, 0, 0
	}
	total, free = s.VolumeStat()
	return total, free, 0
}
