package fat

import (
	"encoding/binary"

	"sabos/src/defs"
)

const (
	fat16Free = 0x0000
	fat16Eoc  = 0xFFF8 // >= this value marks end of chain
	fat16Bad  = 0xFFF7

	fat32Free = 0x00000000
	fat32Eoc  = 0x0FFFFFF8
	fat32Bad  = 0x0FFFFFF7
	fat32Mask = 0x0FFFFFFF
)

// entryOffset returns which FAT sector holds cluster's entry and the
// byte offset within that sector.
func (f *Fs_t) entryOffset(cluster uint32) (sector uint64, off int) {
	if f.bpb.Variant == Fat16 {
		byteOff := uint64(cluster) * 2
		return f.bpb.firstFatSector + byteOff/uint64(f.bpb.BytesPerSector), int(byteOff % uint64(f.bpb.BytesPerSector))
	}
	byteOff := uint64(cluster) * 4
	return f.bpb.firstFatSector + byteOff/uint64(f.bpb.BytesPerSector), int(byteOff % uint64(f.bpb.BytesPerSector))
}

func (f *Fs_t) readFatSector(sector uint64) ([]byte, defs.Err_t) {
	buf := make([]byte, SectorSize)
	if err := f.dev.ReadSector(sector, buf); err != 0 {
		return nil, err
	}
	return buf, 0
}

/// readEntry returns the raw FAT table value for cluster.
func (f *Fs_t) readEntry(cluster uint32) (uint32, defs.Err_t) {
	sector, off := f.entryOffset(cluster)
	buf, err := f.readFatSector(sector)
	if err != 0 {
		return 0, err
	}
	if f.bpb.Variant == Fat16 {
		return uint32(binary.LittleEndian.Uint16(buf[off : off+2])), 0
	}
	return binary.LittleEndian.Uint32(buf[off:off+4]) & fat32Mask, 0
}

/// writeEntry stores value into cluster's FAT table slot, across every
/// FAT copy (NumFats mirrors), matching how real FAT volumes keep
/// redundant copies in sync on every write.
func (f *Fs_t) writeEntry(cluster uint32, value uint32) defs.Err_t {
	for copyIdx := uint8(0); copyIdx < f.bpb.NumFats; copyIdx++ {
		sector, off := f.entryOffset(cluster)
		sector += uint64(copyIdx) * uint64(f.bpb.FatSize)
		buf, err := f.readFatSector(sector)
		if err != 0 {
			return err
		}
		if f.bpb.Variant == Fat16 {
			binary.LittleEndian.PutUint16(buf[off:off+2], uint16(value))
		} else {
			existing := binary.LittleEndian.Uint32(buf[off : off+4])
			merged := (existing &^ fat32Mask) | (value & fat32Mask)
			binary.LittleEndian.PutUint32(buf[off:off+4], merged)
		}
		if err := f.dev.WriteSector(sector, buf); err != 0 {
			return err
		}
	}
	return 0
}

func (f *Fs_t) isEoc(v uint32) bool {
	if f.bpb.Variant == Fat16 {
		return v >= fat16Eoc
	}
	return v >= fat32Eoc
}

func (f *Fs_t) isFree(v uint32) bool {
	if f.bpb.Variant == Fat16 {
		return v == fat16Free
	}
	return v == fat32Free
}

func (f *Fs_t) eocValue() uint32 {
	if f.bpb.Variant == Fat16 {
		return 0xFFFF
	}
	return 0x0FFFFFFF
}

/// clusterChain returns every cluster number in the chain starting at
/// start, in order, stopping at the end-of-chain marker.
func (f *Fs_t) clusterChain(start uint32) ([]uint32, defs.Err_t) {
	var chain []uint32
	cur := start
	seen := make(map[uint32]bool)
	for cur != 0 && !f.isEoc(cur) {
		if seen[cur] {
			return nil, defs.IoError // cyclic chain, corrupt volume
		}
		seen[cur] = true
		chain = append(chain, cur)
		next, err := f.readEntry(cur)
		if err != 0 {
			return nil, err
		}
		cur = next
	}
	return chain, 0
}

/// allocCluster finds a free cluster via linear scan, marks it
/// end-of-chain, and returns its number. A linear scan is adequate for
/// the hosted simulator's volume sizes; a real driver would consult
/// FSInfo's free-cluster hint first.
func (f *Fs_t) allocCluster() (uint32, defs.Err_t) {
	for c := uint32(2); c < f.bpb.totalClusters+2; c++ {
		v, err := f.readEntry(c)
		if err != 0 {
			return 0, err
		}
		if f.isFree(v) {
			if err := f.writeEntry(c, f.eocValue()); err != 0 {
				return 0, err
			}
			return c, 0
		}
	}
	return 0, defs.NoSpace
}

/// freeChain marks every cluster in chain as free.
func (f *Fs_t) freeChain(chain []uint32) defs.Err_t {
	for _, c := range chain {
		if err := f.writeEntry(c, 0); err != 0 {
			return err
		}
	}
	return 0
}

/// extendChain allocates one new cluster and links it onto the end of
/// an existing chain whose last cluster is `last`.
func (f *Fs_t) extendChain(last uint32) (uint32, defs.Err_t) {
	next, err := f.allocCluster()
	if err != 0 {
		return 0, err
	}
	if err := f.writeEntry(last, next); err != 0 {
		return 0, err
	}
	return next, 0
}
