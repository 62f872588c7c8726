package pe

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// IMAGE_BASE_RELOCATION structure
type baseRelocationBlock struct {
	VirtualAddress int32
	SizeOfBlock    int32
}

const baseRelocationBlockSize = 8

const relocationChunkSize = 512

// Relocation types
const (
	IMAGE_REL_BASED_ABSOLUTE       = 0
	IMAGE_REL_BASED_HIGH           = 1
	IMAGE_REL_BASED_LOW            = 2
	IMAGE_REL_BASED_HIGHLOW        = 3
	IMAGE_REL_BASED_HIGHADJ        = 4
	IMAGE_REL_BASED_MIPS_JMPADDR   = 5
	IMAGE_REL_BASED_ARM_MOV32      = 5
	IMAGE_REL_BASED_THUMB_MOV32    = 7
	IMAGE_REL_BASED_MIPS_JMPADDR16 = 9
	IMAGE_REL_BASED_DIR64          = 10
)

// RelocationInfo summarizes the base relocation directory.
type RelocationInfo struct {
	HasRelocations bool
	BlockCount     int
	TotalEntries   int
	// Patched is the number of intervals the reader rebases.
	Patched int
	// Types counts entries by relocation type name.
	Types map[string]int
}

type relocInterval struct {
	start, end int64 // end is inclusive
}

// relocationWidth returns the number of bytes a fixup type patches, or 0 for
// types the reader does not rebase.
func relocationWidth(relocType uint16) int64 {
	switch relocType {
	case IMAGE_REL_BASED_HIGHLOW:
		return 4
	case IMAGE_REL_BASED_DIR64:
		return 8
	default:
		return 0
	}
}

// walkRelocations visits every fixup entry in the base relocation directory.
// It stops at the first block whose header is unreadable or whose size is
// smaller than its own header.
func (img *Image) walkRelocations(visit func(pageRVA int32, entry uint16)) (blocks int) {
	dir := img.Directory(DirectoryBaseReloc)
	if dir.IsEmpty() {
		return 0
	}
	start := img.RvaToOffset(dir.VirtualAddress)
	if start < 0 {
		img.log.WithField("rva", dir.VirtualAddress).Debug("pe: relocation directory is unmapped")
		return 0
	}

	offset := int64(start)
	end := offset + int64(dir.Size)
	for offset+baseRelocationBlockSize <= end {
		var block baseRelocationBlock
		if !img.readStruct(offset, &block) {
			break
		}
		if block.SizeOfBlock < baseRelocationBlockSize || offset+int64(block.SizeOfBlock) > end {
			img.log.WithField("offset", offset).Debug("pe: bad relocation block size")
			break
		}
		blocks++

		if !img.walkRelocationEntries(offset+baseRelocationBlockSize, int64(block.SizeOfBlock)-baseRelocationBlockSize, block.VirtualAddress, visit) {
			img.log.WithField("offset", offset).Debug("pe: truncated relocation block")
			break
		}

		offset += int64(block.SizeOfBlock)
		offset = (offset + 3) &^ 3
	}
	return blocks
}

// walkRelocationEntries decodes the entries of one block in chunks of
// relocationChunkSize bytes. It reports false when the stream ends before the
// block does.
func (img *Image) walkRelocationEntries(offset, size int64, pageRVA int32, visit func(pageRVA int32, entry uint16)) bool {
	buf := getBuffer(relocationChunkSize)
	defer putBuffer(buf)

	for size >= 2 {
		chunk := (*buf)[:min(int64(len(*buf)), size)&^1]
		n := img.readRaw(offset, chunk)
		for i := 0; i+1 < n; i += 2 {
			visit(pageRVA, binary.LittleEndian.Uint16(chunk[i:]))
		}
		if n < len(chunk) {
			return false
		}
		offset += int64(n)
		size -= int64(n)
	}
	return true
}

// buildRelocations produces the sorted boundary list the relocation-aware
// reader consults: even indices open an interval, odd indices close it
// (inclusive). Overlapping or duplicate intervals are dropped.
func (img *Image) buildRelocations() []int64 {
	var intervals []relocInterval
	img.walkRelocations(func(pageRVA int32, entry uint16) {
		width := relocationWidth(entry >> 12)
		if width == 0 {
			return
		}
		off := img.RvaToOffset(pageRVA + int32(entry&0x0FFF))
		if off < 0 {
			return
		}
		intervals = append(intervals, relocInterval{int64(off), int64(off) + width - 1})
	})
	if len(intervals) == 0 {
		return nil
	}

	sort.Slice(intervals, func(i, j int) bool { return intervals[i].start < intervals[j].start })

	bounds := make([]int64, 0, len(intervals)*2)
	for _, iv := range intervals {
		if n := len(bounds); n > 0 && iv.start <= bounds[n-1] {
			img.log.WithField("offset", iv.start).Debug("pe: dropping overlapping relocation")
			continue
		}
		bounds = append(bounds, iv.start, iv.end)
	}
	return bounds
}

// Relocations summarizes the base relocation directory.
func (img *Image) Relocations() *RelocationInfo {
	img.checkOpen()
	info := &RelocationInfo{}
	if img.Directory(DirectoryBaseReloc).IsEmpty() {
		return info
	}
	info.HasRelocations = true
	info.Types = make(map[string]int)
	info.BlockCount = img.walkRelocations(func(_ int32, entry uint16) {
		info.TotalEntries++
		info.Types[GetRelocationTypeName(entry>>12)]++
	})
	info.Patched = len(img.relocations) / 2
	return info
}

// GetRelocationTypeName returns the name of a relocation type.
func GetRelocationTypeName(relocType uint16) string {
	switch relocType {
	case IMAGE_REL_BASED_ABSOLUTE:
		return "ABSOLUTE"
	case IMAGE_REL_BASED_HIGH:
		return "HIGH"
	case IMAGE_REL_BASED_LOW:
		return "LOW"
	case IMAGE_REL_BASED_HIGHLOW:
		return "HIGHLOW"
	case IMAGE_REL_BASED_HIGHADJ:
		return "HIGHADJ"
	case IMAGE_REL_BASED_MIPS_JMPADDR:
		return "MIPS_JMPADDR/ARM_MOV32"
	case IMAGE_REL_BASED_THUMB_MOV32:
		return "THUMB_MOV32"
	case IMAGE_REL_BASED_MIPS_JMPADDR16:
		return "MIPS_JMPADDR16"
	case IMAGE_REL_BASED_DIR64:
		return "DIR64"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", relocType)
	}
}
