package pe

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
)

// Debug directory entry types.
const (
	IMAGE_DEBUG_TYPE_UNKNOWN  = 0
	IMAGE_DEBUG_TYPE_COFF     = 1
	IMAGE_DEBUG_TYPE_CODEVIEW = 2
	IMAGE_DEBUG_TYPE_REPRO    = 16
)

// CodeView signatures.
const (
	CV_PDB_70_SIGNATURE = 0x53445352 // "RSDS"
	CV_PDB_20_SIGNATURE = 0x3031424E // "NB10"
)

// IMAGE_DEBUG_DIRECTORY
type debugDirectoryEntry struct {
	Characteristics  uint32
	TimeDateStamp    uint32
	MajorVersion     uint16
	MinorVersion     uint16
	Type             uint32
	SizeOfData       uint32
	AddressOfRawData uint32
	PointerToRawData uint32
}

const debugDirectoryEntrySize = 28

// CV_INFO_PDB70 up to the inline file name.
type cvInfoPdb70 struct {
	Signature uint32
	Guid      [16]byte
	Age       uint32
}

const cvInfoPdb70Size = 24

// maxPdbPathLength bounds the inline PDB file name.
const maxPdbPathLength = 4096

// PdbInfo identifies the PDB matching an image.
type PdbInfo struct {
	Path string
	Guid uuid.UUID
	Age  uint32
}

// guidFromWindowsBytes converts a GUID stored in Windows (mixed-endian)
// layout to RFC 4122 order.
func guidFromWindowsBytes(b [16]byte) uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:4], binary.LittleEndian.Uint32(b[0:4]))
	binary.BigEndian.PutUint16(u[4:6], binary.LittleEndian.Uint16(b[4:6]))
	binary.BigEndian.PutUint16(u[6:8], binary.LittleEndian.Uint16(b[6:8]))
	copy(u[8:], b[8:])
	return u
}

// Pdbs returns every PDB 7.0 CodeView record in the debug directory, in
// directory order. Malformed entries are skipped.
func (img *Image) Pdbs() []PdbInfo {
	if img.pdbsLoaded {
		return img.pdbs
	}
	img.pdbsLoaded = true
	img.pdbs = img.readPdbs()
	return img.pdbs
}

// DefaultPdb returns the last PDB record, which is authoritative when an
// image carries several.
func (img *Image) DefaultPdb() *PdbInfo {
	pdbs := img.Pdbs()
	if len(pdbs) == 0 {
		return nil
	}
	pdb := pdbs[len(pdbs)-1]
	return &pdb
}

func (img *Image) readPdbs() []PdbInfo {
	dir := img.Directory(DirectoryDebug)
	if dir.IsEmpty() {
		return nil
	}
	start := img.RvaToOffset(dir.VirtualAddress)
	if start < 0 {
		return nil
	}

	var result []PdbInfo
	count := int(dir.Size) / debugDirectoryEntrySize
	for i := 0; i < count; i++ {
		log := img.log.WithField("index", i)

		var entry debugDirectoryEntry
		if !img.readStruct(int64(start)+int64(i*debugDirectoryEntrySize), &entry) {
			log.Debug("pe: truncated debug directory")
			break
		}
		if entry.Type != IMAGE_DEBUG_TYPE_CODEVIEW || entry.SizeOfData < cvInfoPdb70Size {
			continue
		}

		dataOffset := int64(entry.PointerToRawData)
		if img.opts.IsVirtual {
			dataOffset = int64(entry.AddressOfRawData)
		}

		var cv cvInfoPdb70
		if !img.readStruct(dataOffset, &cv) {
			log.Debug("pe: unreadable CodeView record")
			continue
		}
		if cv.Signature != CV_PDB_70_SIGNATURE {
			log.WithField("signature", cv.Signature).Debug("pe: skipping non-RSDS CodeView record")
			continue
		}

		pathLen := int(entry.SizeOfData) - cvInfoPdb70Size
		if pathLen > maxPdbPathLength {
			pathLen = maxPdbPathLength
		}
		result = append(result, PdbInfo{
			Path: img.readPdbPath(dataOffset+cvInfoPdb70Size, pathLen),
			Guid: guidFromWindowsBytes(cv.Guid),
			Age:  cv.Age,
		})
	}
	return result
}

func (img *Image) readPdbPath(offset int64, length int) string {
	if length <= 0 {
		return ""
	}
	buf := getBuffer(length)
	defer putBuffer(buf)

	n := img.ReadAtOffset(offset, *buf)
	raw := (*buf)[:n]
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw)
}
