package fat

import "encoding/binary"

/// Variant_t distinguishes FAT16 from FAT32 volumes, determined from the
/// BPB by whether its 16-bit sectors-per-FAT field is zero (FAT32 stores
/// the FAT size only in the 32-bit field; there is no dedicated "this is
/// FAT32" flag byte).
type Variant_t int

const (
	Fat16 Variant_t = iota
	Fat32
)

/// Bpb_t holds the fields of the BIOS Parameter Block needed to locate
/// the FAT, root directory, and data area, per §4.N: "Both drivers read
/// a BPB at sector 0, compute the first-FAT, root-directory, and
/// data-area sector offsets."
type Bpb_t struct {
	Variant Variant_t

	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFats           uint8
	RootEntCount      uint16
	TotalSectors      uint32
	FatSize           uint32 // sectors per FAT
	RootCluster       uint32 // FAT32 only
	FsInfoSector      uint16 // FAT32 only

	firstFatSector   uint64
	rootDirSector    uint64 // FAT16 only
	rootDirSectors   uint64 // FAT16 only
	firstDataSector  uint64
	totalClusters    uint32
}

/// ParseBpb decodes the boot sector at buf (exactly SectorSize bytes)
/// and derives the layout offsets every subsequent operation needs.
func ParseBpb(buf []byte) *Bpb_t {
	b := &Bpb_t{}
	b.BytesPerSector = binary.LittleEndian.Uint16(buf[11:13])
	b.SectorsPerCluster = buf[13]
	b.ReservedSectors = binary.LittleEndian.Uint16(buf[14:16])
	b.NumFats = buf[16]
	b.RootEntCount = binary.LittleEndian.Uint16(buf[17:19])
	totalSectors16 := binary.LittleEndian.Uint16(buf[19:21])
	fatSize16 := binary.LittleEndian.Uint16(buf[22:24])
	totalSectors32 := binary.LittleEndian.Uint32(buf[32:36])
	fatSize32 := binary.LittleEndian.Uint32(buf[36:40])
	b.RootCluster = binary.LittleEndian.Uint32(buf[44:48])
	b.FsInfoSector = binary.LittleEndian.Uint16(buf[48:50])

	if fatSize16 != 0 {
		b.Variant = Fat16
		b.FatSize = uint32(fatSize16)
	} else {
		b.Variant = Fat32
		b.FatSize = fatSize32
	}

	if totalSectors16 != 0 {
		b.TotalSectors = uint32(totalSectors16)
	} else {
		b.TotalSectors = totalSectors32
	}

	b.firstFatSector = uint64(b.ReservedSectors)

	rootDirSectors := uint64(0)
	if b.Variant == Fat16 {
		rootDirBytes := uint32(b.RootEntCount) * 32
		rootDirSectors = uint64((rootDirBytes + uint32(b.BytesPerSector) - 1) / uint32(b.BytesPerSector))
	}
	b.rootDirSectors = rootDirSectors

	fatAreaSectors := uint64(b.NumFats) * uint64(b.FatSize)
	b.rootDirSector = b.firstFatSector + fatAreaSectors
	b.firstDataSector = b.rootDirSector + rootDirSectors

	dataSectors := uint64(b.TotalSectors) - b.firstDataSector
	if b.SectorsPerCluster > 0 {
		b.totalClusters = uint32(dataSectors / uint64(b.SectorsPerCluster))
	}

	return b
}

/// ClusterToSector returns the first sector of the given data cluster.
/// Cluster numbering starts at 2, per the FAT specification.
func (b *Bpb_t) ClusterToSector(cluster uint32) uint64 {
	return b.firstDataSector + uint64(cluster-2)*uint64(b.SectorsPerCluster)
}

/// ClusterBytes returns the size in bytes of one cluster.
func (b *Bpb_t) ClusterBytes() uint32 {
	return uint32(b.BytesPerSector) * uint32(b.SectorsPerCluster)
}

/// TotalClusters returns the number of data clusters the volume holds,
/// for fs_stat's total-capacity figure.
func (b *Bpb_t) TotalClusters() uint32 {
	return b.totalClusters
}
