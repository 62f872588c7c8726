package pe

import (
	"bytes"
	"encoding/binary"
)

// ExportDirectory represents the PE export directory table.
type ExportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

// maxExportNameLength bounds a single export name.
const maxExportNameLength = 4096

// Export is a named export.
type Export struct {
	Name    string
	Ordinal uint16 // biased by the directory's Base
	RVA     uint32
	// Forwarded is set when RVA points back into the export directory, in
	// which case it names a forwarder string rather than code.
	Forwarded bool
}

type exportTables struct {
	dir       ExportDirectory
	names     int64
	ordinals  int64
	functions int64
}

func (img *Image) exportTables() (exportTables, bool) {
	var t exportTables
	dir := img.Directory(DirectoryExport)
	if dir.IsEmpty() {
		return t, false
	}
	off := img.RvaToOffset(dir.VirtualAddress)
	if off < 0 || !img.readStruct(int64(off), &t.dir) {
		return t, false
	}

	names := img.RvaToOffset(int32(t.dir.AddressOfNames))
	ordinals := img.RvaToOffset(int32(t.dir.AddressOfNameOrdinals))
	functions := img.RvaToOffset(int32(t.dir.AddressOfFunctions))
	if names < 0 || ordinals < 0 || functions < 0 {
		img.log.Debug("pe: export tables are unmapped")
		return t, false
	}
	t.names, t.ordinals, t.functions = int64(names), int64(ordinals), int64(functions)
	return t, true
}

func (img *Image) exportName(t exportTables, i uint32) (string, bool) {
	nameRVA, ok := img.readUint32(t.names + int64(i)*4)
	if !ok {
		return "", false
	}
	off := img.RvaToOffset(int32(nameRVA))
	if off < 0 {
		return "", false
	}
	return img.readCString(int64(off), maxExportNameLength)
}

func (img *Image) exportTarget(t exportTables, i uint32) (uint16, uint32, bool) {
	var ordinal uint16
	if !img.readStruct(t.ordinals+int64(i)*2, &ordinal) {
		return 0, 0, false
	}
	rva, ok := img.readUint32(t.functions + int64(ordinal)*4)
	return ordinal, rva, ok
}

// FindExport resolves an exported symbol to the stream offset of its
// target. It returns false when the symbol is absent or the export tables
// cannot be read.
func (img *Image) FindExport(name string) (uint64, bool) {
	t, ok := img.exportTables()
	if !ok {
		return 0, false
	}
	for i := uint32(0); i < t.dir.NumberOfNames; i++ {
		got, ok := img.exportName(t, i)
		if !ok {
			return 0, false
		}
		if got != name {
			continue
		}
		_, rva, ok := img.exportTarget(t, i)
		if !ok {
			return 0, false
		}
		off := img.RvaToOffset(int32(rva))
		if off < 0 {
			return 0, false
		}
		return uint64(off), true
	}
	return 0, false
}

// Exports lists the named exports. Enumeration stops at the first entry that
// cannot be read.
func (img *Image) Exports() []Export {
	t, ok := img.exportTables()
	if !ok {
		return nil
	}
	dir := img.Directory(DirectoryExport)

	var exports []Export
	for i := uint32(0); i < t.dir.NumberOfNames; i++ {
		name, ok := img.exportName(t, i)
		if !ok {
			break
		}
		ordinal, rva, ok := img.exportTarget(t, i)
		if !ok {
			break
		}
		exports = append(exports, Export{
			Name:      name,
			Ordinal:   ordinal + uint16(t.dir.Base),
			RVA:       rva,
			Forwarded: rva >= uint32(dir.VirtualAddress) && rva < uint32(dir.VirtualAddress)+uint32(dir.Size),
		})
	}
	return exports
}

// readCString reads a NUL-terminated ASCII string of at most limit bytes. It
// fails when no terminator is found within the limit or the stream ends.
func (img *Image) readCString(offset int64, limit int) (string, bool) {
	const chunk = 64
	var result []byte
	buf := make([]byte, chunk)

	for len(result) < limit {
		want := chunk
		if rem := limit - len(result); rem < want {
			want = rem
		}
		n := img.ReadAtOffset(offset+int64(len(result)), buf[:want])
		if n == 0 {
			return "", false
		}
		if i := bytes.IndexByte(buf[:n], 0); i >= 0 {
			return string(append(result, buf[:i]...)), true
		}
		result = append(result, buf[:n]...)
	}
	return "", false
}

func (img *Image) readUint32(offset int64) (uint32, bool) {
	var b [4]byte
	if img.ReadAtOffset(offset, b[:]) != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b[:]), true
}
