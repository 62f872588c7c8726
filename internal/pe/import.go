package pe

import (
	"encoding/binary"
	"fmt"
)

// ImportDescriptor represents IMAGE_IMPORT_DESCRIPTOR.
type ImportDescriptor struct {
	OriginalFirstThunk uint32 // RVA to Import Name Table (INT).
	TimeDateStamp      uint32 // Usually 0.
	ForwarderChain     uint32 // Usually 0.
	Name               uint32 // RVA to DLL name.
	FirstThunk         uint32 // RVA to Import Address Table (IAT).
}

const importDescriptorSize = 20

// Bounds on import table walks.
const (
	maxImportDescriptors = 4096
	maxImportThunks      = 10000
	maxImportNameLength  = 256
)

// ImportFunction represents an imported function.
type ImportFunction struct {
	Name        string
	Ordinal     uint16
	IsByOrdinal bool
	Hint        uint16
}

func (fn ImportFunction) String() string {
	if fn.IsByOrdinal {
		return fmt.Sprintf("Ordinal_%d", fn.Ordinal)
	}
	return fn.Name
}

// ImportInfo lists the functions imported from one DLL.
type ImportInfo struct {
	DLL       string
	Functions []ImportFunction
}

// Imports walks the import directory. Descriptors whose DLL name cannot be
// read are skipped; a descriptor without a name table falls back to its
// address table.
func (img *Image) Imports() []ImportInfo {
	dir := img.Directory(DirectoryImport)
	if dir.IsEmpty() {
		return nil
	}
	off := img.RvaToOffset(dir.VirtualAddress)
	if off < 0 {
		img.log.WithField("rva", dir.VirtualAddress).Debug("pe: import directory is unmapped")
		return nil
	}

	var imports []ImportInfo
	for i := 0; i < maxImportDescriptors; i++ {
		var desc ImportDescriptor
		if !img.readStruct(int64(off)+int64(i*importDescriptorSize), &desc) {
			break
		}
		// Null descriptor marks end.
		if desc.OriginalFirstThunk == 0 && desc.Name == 0 && desc.FirstThunk == 0 {
			break
		}

		dll, ok := img.readRVAString(desc.Name, maxImportNameLength)
		if !ok {
			img.log.WithField("index", i).Debug("pe: unreadable import DLL name")
			continue
		}

		thunks := desc.OriginalFirstThunk
		if thunks == 0 {
			thunks = desc.FirstThunk
		}
		imports = append(imports, ImportInfo{DLL: dll, Functions: img.readImportThunks(thunks)})
	}
	return imports
}

// readImportThunks reads a zero-terminated thunk array.
func (img *Image) readImportThunks(rva uint32) []ImportFunction {
	off := img.RvaToOffset(int32(rva))
	if rva == 0 || off < 0 {
		return nil
	}

	ptrSize, ordinalFlag := int64(4), uint64(0x80000000)
	if img.IsPE64() {
		ptrSize, ordinalFlag = 8, 0x8000000000000000
	}

	var functions []ImportFunction
	buf := make([]byte, ptrSize)
	for i := int64(0); i < maxImportThunks; i++ {
		if img.ReadAtOffset(int64(off)+i*ptrSize, buf) != len(buf) {
			break
		}
		var thunk uint64
		if ptrSize == 8 {
			thunk = binary.LittleEndian.Uint64(buf)
		} else {
			thunk = uint64(binary.LittleEndian.Uint32(buf))
		}
		if thunk == 0 {
			break
		}
		functions = append(functions, img.parseImportFunction(thunk, ordinalFlag))
	}
	return functions
}

// parseImportFunction decodes a thunk as an ordinal or a hint/name RVA.
func (img *Image) parseImportFunction(thunk, ordinalFlag uint64) ImportFunction {
	var fn ImportFunction
	if thunk&ordinalFlag != 0 {
		fn.IsByOrdinal = true
		fn.Ordinal = uint16(thunk & 0xFFFF)
		return fn
	}

	off := img.RvaToOffset(int32(uint32(thunk)))
	if off < 0 {
		return fn
	}
	var hint uint16
	if img.readStruct(int64(off), &hint) {
		fn.Hint = hint
	}
	if name, ok := img.readCString(int64(off)+2, maxImportNameLength); ok {
		fn.Name = name
	}
	return fn
}

func (img *Image) readRVAString(rva uint32, limit int) (string, bool) {
	off := img.RvaToOffset(int32(rva))
	if rva == 0 || off < 0 {
		return "", false
	}
	return img.readCString(int64(off), limit)
}
