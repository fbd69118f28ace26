// Package fat implements FAT16 and FAT32 block-device filesystem
// drivers (spec §4.N). Grounded on the teacher's fs/blk.go: Disk_i's
// synchronous Start(*Bdev_req_t)/Stats() contract is the model for
// BlockDevice here, simplified from the teacher's async
// request-plus-ack-channel protocol (built for a real AHCI controller
// queueing multiple in-flight commands) down to direct, synchronous
// per-sector reads and writes, since the spec's own BlockDevice trait
// (`read_sector`/`write_sector`) is synchronous and single-request.
package fat

import (
	"encoding/binary"

	"sabos/src/defs"
)

/// SectorSize is the fixed sector size every BPB in this package assumes,
/// matching the spec's BlockDevice trait signature.
const SectorSize = 512

/// BlockDevice is implemented by whatever backs a mounted FAT volume: a
/// raw disk image file or a RAM disk.
type BlockDevice interface {
	ReadSector(lba uint64, buf []byte) defs.Err_t
	WriteSector(lba uint64, buf []byte) defs.Err_t
	SectorCount() uint64
}

/// MemDisk_t is an in-memory BlockDevice, used for boot images built by
/// cmd/mkfatimg and for tests.
type MemDisk_t struct {
	data []byte
}

/// NewMemDisk allocates a zeroed in-memory disk of the given sector
/// count.
func NewMemDisk(sectors uint64) *MemDisk_t {
	return &MemDisk_t{data: make([]byte, sectors*SectorSize)}
}

/// NewMemDiskFromImage wraps an existing raw disk image byte slice,
/// rounding its usable sector count down to a whole number of sectors.
func NewMemDiskFromImage(image []byte) *MemDisk_t {
	return &MemDisk_t{data: image}
}

func (d *MemDisk_t) ReadSector(lba uint64, buf []byte) defs.Err_t {
	off := lba * SectorSize
	if off+SectorSize > uint64(len(d.data)) {
		return defs.IoError
	}
	copy(buf, d.data[off:off+SectorSize])
	return 0
}

func (d *MemDisk_t) WriteSector(lba uint64, buf []byte) defs.Err_t {
	off := lba * SectorSize
	if off+SectorSize > uint64(len(d.data)) {
		return defs.IoError
	}
	copy(d.data[off:off+SectorSize], buf)
	return 0
}

func (d *MemDisk_t) SectorCount() uint64 {
	return uint64(len(d.data)) / SectorSize
}

/// Bytes exposes the disk's full backing image, for cmd/mkfatimg to
/// flush to a file after building a volume.
func (d *MemDisk_t) Bytes() []byte {
	return d.data
}

/// FormatFat16 lays down a minimal valid FAT16 boot sector -- one
/// sector per cluster, one FAT copy, a single-sector (16-entry) root
/// directory -- over a freshly allocated disk of the given sector
/// count, the same shape buildFat16Image's test fixture constructs by
/// hand. This is cmd/mkfatimg's and cmd/sabos's equivalent of the
/// teacher's ufs.MkDisk: the one place a brand-new, empty volume gets
/// written instead of an existing one parsed.
func FormatFat16(sectors uint64) *MemDisk_t {
	disk := NewMemDisk(sectors)
	buf := disk.Bytes()

	const reservedSectors = 1
	const numFats = 1
	const rootEntries = 16
	const sectorsPerFat = 1

	binary.LittleEndian.PutUint16(buf[11:13], SectorSize)
	buf[13] = 1 // sectors per cluster
	binary.LittleEndian.PutUint16(buf[14:16], reservedSectors)
	buf[16] = numFats
	binary.LittleEndian.PutUint16(buf[17:19], rootEntries)
	if sectors < 1<<16 {
		binary.LittleEndian.PutUint16(buf[19:21], uint16(sectors))
	} else {
		binary.LittleEndian.PutUint32(buf[32:36], uint32(sectors))
	}
	binary.LittleEndian.PutUint16(buf[22:24], sectorsPerFat)
	buf[510] = 0x55
	buf[511] = 0xAA

	return disk
}
