package pe

import (
	"bytes"
	"encoding/binary"
)

const sectionHeaderSize = 40

// Section is an IMAGE_SECTION_HEADER.
type Section struct {
	RawName              [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

// Name decodes the raw name bytes, truncated at the first NUL.
func (s Section) Name() string {
	name := s.RawName[:]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name)
}

// Contains reports whether rva lies in [VirtualAddress, VirtualAddress+VirtualSize).
func (s Section) Contains(rva uint32) bool {
	return rva >= s.VirtualAddress && rva-s.VirtualAddress < s.VirtualSize
}

// Sections returns the section table. It is read once and cached; a table
// that cannot be read in full yields the sections read so far.
func (img *Image) Sections() []Section {
	if img.sectionsLoaded {
		return img.sections
	}
	if !img.valid {
		return nil
	}
	img.sectionsLoaded = true

	count := int(img.fileHeader.NumberOfSections)
	if count == 0 {
		return nil
	}

	buf := getBuffer(count * sectionHeaderSize)
	defer putBuffer(buf)
	data := *buf

	n := img.ReadAtOffset(img.sectionOffset, data)
	count = n / sectionHeaderSize
	if count < int(img.fileHeader.NumberOfSections) {
		img.log.WithField("sections", count).Debug("pe: truncated section table")
	}

	sections := make([]Section, count)
	for i := range sections {
		if _, err := binary.Decode(data[i*sectionHeaderSize:], binary.LittleEndian, &sections[i]); err != nil {
			sections = sections[:i]
			break
		}
	}
	img.sections = sections
	return img.sections
}

// SectionByName returns the first section whose decoded name equals name.
func (img *Image) SectionByName(name string) (Section, bool) {
	for _, s := range img.Sections() {
		if s.Name() == name {
			return s, true
		}
	}
	return Section{}, false
}

// RvaToOffset converts a relative virtual address to a stream offset. It
// returns -1 when no section maps the address.
func (img *Image) RvaToOffset(rva int32) int32 {
	if rva < 0 {
		return -1
	}
	if rva < MinPageSize || img.opts.IsVirtual {
		return rva
	}
	for _, s := range img.Sections() {
		if s.Contains(uint32(rva)) {
			off := int64(s.PointerToRawData) + int64(uint32(rva)-s.VirtualAddress)
			if off > 0x7FFFFFFF {
				return -1
			}
			return int32(off)
		}
	}
	return -1
}
