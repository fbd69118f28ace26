package fat

import (
	"encoding/binary"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

const dirEntrySize = 32

const (
	attrReadOnly = 0x01
	attrHidden   = 0x02
	attrSystem   = 0x04
	attrVolumeID = 0x08
	attrDir      = 0x10
	attrArchive  = 0x20
	attrLfn      = attrReadOnly | attrHidden | attrSystem | attrVolumeID
)

const (
	direFree    = 0x00 // marks end of directory entries (never used beyond this point)
	direDeleted = 0xE5
)

/// shortEntry_t is one decoded 8.3 directory entry, per §4.N's on-disk
/// format: name, attributes, first cluster, and byte size.
type shortEntry_t struct {
	Name       string // long name when an LFN run precedes the entry, else 8.3 combined, upper case, no trailing spaces
	Attr       uint8
	FirstClus  uint32
	Size       uint32
	rawOffset  int // byte offset of the short entry within its 32-byte-aligned directory buffer
	lfnEntries int // how many preceding 32-byte LFN slots (for delete/rewrite)
}

func (e *shortEntry_t) isDir() bool { return e.Attr&attrDir != 0 }

var ucs2 = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// decodeShortName reconstructs "NAME.EXT" (or "NAME" with no extension)
// from the fixed 8+3 padded fields, per the FAT specification.
func decodeShortName(raw []byte) string {
	base := strings.TrimRight(string(raw[0:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// encodeShortName renders name into the fixed 8+3 padded form, upper
// cased and truncated, per §4.N's on-disk format.
func encodeShortName(name string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	name = strings.ToUpper(name)

	// "." and ".." are literal reserved names, not a base+extension
	// split on the first dot.
	if name == "." || name == ".." {
		copy(out[:], name)
		return out
	}

	base, ext, _ := strings.Cut(name, ".")
	for i := 0; i < len(base) && i < 8; i++ {
		out[i] = base[i]
	}
	for i := 0; i < len(ext) && i < 3; i++ {
		out[8+i] = ext[i]
	}
	return out
}

// shortNameChecksum implements the FAT LFN checksum algorithm, tying a
// set of LFN entries to the 8.3 alias they decorate.
func shortNameChecksum(raw [11]byte) uint8 {
	var sum uint8
	for _, c := range raw {
		sum = ((sum & 1) << 7) + (sum >> 1) + c
	}
	return sum
}

// parseDirBuf walks one directory's raw byte buffer (either a fixed
// FAT16 root area or a cluster chain's contents) and returns every live
// short entry, reassembling any preceding LFN run into its long name.
func parseDirBuf(buf []byte) []shortEntry_t {
	var out []shortEntry_t
	var lfnParts []string // accumulated high-to-low as encountered; FAT stores LFN entries in descending order
	lfnCount := 0

	for off := 0; off+dirEntrySize <= len(buf); off += dirEntrySize {
		entry := buf[off : off+dirEntrySize]
		first := entry[0]
		if first == direFree {
			break
		}
		if first == direDeleted {
			lfnParts = nil
			lfnCount = 0
			continue
		}
		attr := entry[11]
		if attr&attrLfn == attrLfn {
			lfnParts = append(lfnParts, decodeLfnPart(entry))
			lfnCount++
			continue
		}
		if attr&attrVolumeID != 0 {
			lfnParts = nil
			lfnCount = 0
			continue
		}

		name := decodeShortName(entry)
		if len(lfnParts) > 0 {
			long := joinLfnParts(lfnParts)
			if long != "" {
				name = long
			}
		}

		clusHi := binary.LittleEndian.Uint16(entry[20:22])
		clusLo := binary.LittleEndian.Uint16(entry[26:28])
		size := binary.LittleEndian.Uint32(entry[28:32])

		out = append(out, shortEntry_t{
			Name:       name,
			Attr:       attr,
			FirstClus:  uint32(clusHi)<<16 | uint32(clusLo),
			Size:       size,
			rawOffset:  off,
			lfnEntries: lfnCount,
		})
		lfnParts = nil
		lfnCount = 0
	}
	return out
}

// decodeLfnPart extracts one LFN entry's 13 UCS-2 characters and
// returns them transcoded to UTF-8, stopping at any embedded
// terminator/padding (0x0000 or 0xFFFF).
func decodeLfnPart(entry []byte) string {
	var units []byte
	units = append(units, entry[1:11]...)
	units = append(units, entry[14:26]...)
	units = append(units, entry[28:32]...)

	cut := len(units)
	for i := 0; i+1 < len(units); i += 2 {
		lo, hi := units[i], units[i+1]
		if (lo == 0x00 && hi == 0x00) || (lo == 0xFF && hi == 0xFF) {
			cut = i
			break
		}
	}
	dec, err := ucs2.NewDecoder().Bytes(units[:cut])
	if err != nil {
		return ""
	}
	return string(dec)
}

// joinLfnParts concatenates LFN fragments in FAT's on-disk order (each
// entry's ordinal descends from the last part to the first), since
// parseDirBuf appends them in the order they appear on disk, highest
// ordinal first.
func joinLfnParts(parts []string) string {
	var b strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		b.WriteString(parts[i])
	}
	return b.String()
}

// encodeEntry renders a short 8.3 entry (with attr/cluster/size already
// known) into its raw 32-byte slot. Timestamps are left zeroed; the
// hosted simulator has no wall-clock source wired into this package.
func encodeEntry(name string, attr uint8, firstClus uint32, size uint32) []byte {
	raw := make([]byte, dirEntrySize)
	short := encodeShortName(name)
	copy(raw[0:11], short[:])
	raw[11] = attr
	binary.LittleEndian.PutUint16(raw[20:22], uint16(firstClus>>16))
	binary.LittleEndian.PutUint16(raw[26:28], uint16(firstClus))
	binary.LittleEndian.PutUint32(raw[28:32], size)
	return raw
}

// needsLfn reports whether name cannot be represented as a bare 8.3
// short name and must carry LFN entries.
func needsLfn(name string) bool {
	upper := strings.ToUpper(name)
	if upper != name {
		return true
	}
	base, ext, hasDot := strings.Cut(name, ".")
	if hasDot && strings.Contains(ext, ".") {
		return true
	}
	return len(base) > 8 || len(ext) > 3
}

// encodeLfnEntries builds the run of LFN entries (in on-disk order,
// highest ordinal first) needed to carry name, plus the short entry's
// raw bytes, tied together by the checksum.
func encodeLfnEntries(name string, attr uint8, firstClus uint32, size uint32) [][]byte {
	shortRaw := encodeShortName(name)
	checksum := shortNameChecksum(shortRaw)

	units, _ := ucs2.NewEncoder().Bytes([]byte(name))
	// pad to a multiple of 13 UCS-2 chars (26 bytes) with a terminator
	// then 0xFFFF filler, per the LFN specification.
	const charsPerEntry = 13
	totalChars := len(units)/2 + 1
	entryCount := (totalChars + charsPerEntry - 1) / charsPerEntry
	padded := make([]byte, entryCount*charsPerEntry*2)
	copy(padded, units)
	for i := len(units); i < len(padded); i++ {
		if i == len(units) {
			padded[i] = 0
			if i+1 < len(padded) {
				padded[i+1] = 0
			}
			i++
			continue
		}
		padded[i] = 0xFF
	}

	var out [][]byte
	for i := entryCount - 1; i >= 0; i-- {
		raw := make([]byte, dirEntrySize)
		ord := uint8(i + 1)
		if i == entryCount-1 {
			ord |= 0x40
		}
		raw[0] = ord
		chunk := padded[i*charsPerEntry*2 : (i+1)*charsPerEntry*2]
		copy(raw[1:11], chunk[0:10])
		raw[11] = attrLfn
		raw[13] = checksum
		copy(raw[14:26], chunk[10:22])
		copy(raw[28:32], chunk[22:26])
		out = append(out, raw)
	}
	out = append(out, encodeEntry(name, attr, firstClus, size))
	return out
}
