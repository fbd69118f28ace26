package fat

import "sabos/src/defs"

/// dirLoc_t names where a directory's raw bytes live: either the FAT16
/// fixed root area (fixedSector/fixedCount set, cluster 0) or a normal
/// cluster chain (cluster set, the FAT32 root included).
type dirLoc_t struct {
	fixedSector uint64
	fixedCount  uint64
	cluster     uint32
}

func (f *Fs_t) rootLoc() dirLoc_t {
	if f.bpb.Variant == Fat16 {
		return dirLoc_t{fixedSector: f.bpb.rootDirSector, fixedCount: f.bpb.rootDirSectors}
	}
	return dirLoc_t{cluster: f.bpb.RootCluster}
}

/// readDirBuf reads every byte backing loc, across however many
/// sectors/clusters it spans.
func (f *Fs_t) readDirBuf(loc dirLoc_t) ([]byte, defs.Err_t) {
	if loc.fixedCount > 0 {
		buf := make([]byte, loc.fixedCount*SectorSize)
		for i := uint64(0); i < loc.fixedCount; i++ {
			if err := f.dev.ReadSector(loc.fixedSector+i, buf[i*SectorSize:(i+1)*SectorSize]); err != 0 {
				return nil, err
			}
		}
		return buf, 0
	}

	chain, err := f.clusterChain(loc.cluster)
	if err != 0 {
		return nil, err
	}
	clusBytes := f.bpb.ClusterBytes()
	buf := make([]byte, 0, len(chain)*int(clusBytes))
	for _, c := range chain {
		sector := f.bpb.ClusterToSector(c)
		spc := uint64(f.bpb.SectorsPerCluster)
		clus := make([]byte, clusBytes)
		for i := uint64(0); i < spc; i++ {
			if err := f.dev.ReadSector(sector+i, clus[i*SectorSize:(i+1)*SectorSize]); err != 0 {
				return nil, err
			}
		}
		buf = append(buf, clus...)
	}
	return buf, 0
}

// writeDirSlot writes one 32-byte raw entry at byte offset off within
// loc's backing storage.
func (f *Fs_t) writeDirSlot(loc dirLoc_t, off int, raw []byte) defs.Err_t {
	sector, secOff, err := f.dirByteToSector(loc, off)
	if err != 0 {
		return err
	}
	buf := make([]byte, SectorSize)
	if err := f.dev.ReadSector(sector, buf); err != 0 {
		return err
	}
	copy(buf[secOff:], raw)
	return f.dev.WriteSector(sector, buf)
}

// dirByteToSector maps a byte offset within loc's logical directory
// buffer to the physical sector and in-sector offset that holds it.
// Entries never straddle a sector boundary since SectorSize is always
// a multiple of dirEntrySize.
func (f *Fs_t) dirByteToSector(loc dirLoc_t, off int) (uint64, int, defs.Err_t) {
	if loc.fixedCount > 0 {
		idx := uint64(off) / SectorSize
		if idx >= loc.fixedCount {
			return 0, 0, defs.IoError
		}
		return loc.fixedSector + idx, off % SectorSize, 0
	}

	chain, err := f.clusterChain(loc.cluster)
	if err != 0 {
		return 0, 0, err
	}
	clusBytes := int(f.bpb.ClusterBytes())
	clusIdx := off / clusBytes
	if clusIdx >= len(chain) {
		return 0, 0, defs.IoError
	}
	within := off % clusBytes
	sector := f.bpb.ClusterToSector(chain[clusIdx]) + uint64(within)/SectorSize
	return sector, within % SectorSize, 0
}

// findFreeRun locates need consecutive free (0x00 or 0xE5) raw
// slots within loc's buffer, extending a cluster-chain directory by one
// cluster if none exist. Returns the byte offset of the run's first
// slot.
func (f *Fs_t) findFreeRun(loc dirLoc_t, need int) (int, defs.Err_t) {
	buf, err := f.readDirBuf(loc)
	if err != 0 {
		return 0, err
	}

	run := 0
	trailing := -1
	for off := 0; off+dirEntrySize <= len(buf); off += dirEntrySize {
		first := buf[off]
		if first == direFree || first == direDeleted {
			run++
			if run == need {
				return off - (need-1)*dirEntrySize, 0
			}
			if first == direFree {
				// the remainder of the buffer, from here on, is virgin
				// space: pad out the run artificially since every slot
				// from here to the end counts as free.
				remaining := (len(buf) - off) / dirEntrySize
				if run+remaining-1 >= need {
					return off - (run-1)*dirEntrySize, 0
				}
				trailing = off - (run-1)*dirEntrySize
				break
			}
			continue
		}
		run = 0
	}

	if loc.fixedCount > 0 {
		return 0, defs.NoSpace
	}
	chain, err := f.clusterChain(loc.cluster)
	if err != 0 {
		return 0, err
	}
	last := loc.cluster
	if len(chain) > 0 {
		last = chain[len(chain)-1]
	}
	newClus, err := f.extendChain(last)
	if err != 0 {
		return 0, err
	}
	// a directory's trailing cluster must start zeroed so its first
	// entry reads as direFree, or parseDirBuf would see garbage past
	// the entries this call is about to write.
	if err := f.zeroCluster(newClus); err != 0 {
		return 0, err
	}
	if trailing >= 0 {
		// the run starts in the old buffer's free tail and continues
		// into the new cluster, so no end marker sits before it.
		return trailing, 0
	}
	return len(buf), 0
}

// writeEntries writes a run of raw 32-byte entries (an LFN run plus its
// short entry, or just a short entry) into loc, reusing/extending free
// space as needed.
func (f *Fs_t) writeEntries(loc dirLoc_t, entries [][]byte) defs.Err_t {
	start, err := f.findFreeRun(loc, len(entries))
	if err != 0 {
		return err
	}
	for i, raw := range entries {
		if err := f.writeDirSlot(loc, start+i*dirEntrySize, raw); err != 0 {
			return err
		}
	}
	return 0
}

// deleteEntry marks an entry's short slot, and any LFN slots
// immediately preceding it, as deleted.
func (f *Fs_t) deleteEntry(loc dirLoc_t, e shortEntry_t) defs.Err_t {
	deadRaw := []byte{direDeleted}
	off := e.rawOffset
	if err := f.writeDirSlot(loc, off, deadRaw); err != 0 {
		return err
	}
	for i := 1; i <= e.lfnEntries; i++ {
		lfnOff := off - i*dirEntrySize
		if lfnOff < 0 {
			break
		}
		if err := f.writeDirSlot(loc, lfnOff, deadRaw); err != 0 {
			return err
		}
	}
	return 0
}

// findChild looks up name (case-insensitively) among loc's live
// entries.
func (f *Fs_t) findChild(loc dirLoc_t, name string) (shortEntry_t, defs.Err_t) {
	buf, err := f.readDirBuf(loc)
	if err != 0 {
		return shortEntry_t{}, err
	}
	for _, e := range parseDirBuf(buf) {
		if eqFold(e.Name, name) {
			return e, 0
		}
	}
	return shortEntry_t{}, defs.NotFound
}

func eqFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'a' <= ca && ca <= 'z' {
			ca -= 'a' - 'A'
		}
		if 'a' <= cb && cb <= 'z' {
			cb -= 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
