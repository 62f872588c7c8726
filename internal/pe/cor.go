package pe

// CorHeader is IMAGE_COR20_HEADER, present in managed images.
type CorHeader struct {
	Cb                  uint32
	MajorRuntimeVersion uint16
	MinorRuntimeVersion uint16
	Metadata            DataDirectory
	Flags               uint32
	// EntryPoint is a metadata token or, when Flags has
	// COMIMAGE_FLAGS_NATIVE_ENTRYPOINT, an RVA. See EntryPointToken and
	// EntryPointRVA.
	EntryPoint              uint32
	Resources               DataDirectory
	StrongNameSignature     DataDirectory
	CodeManagerTable        DataDirectory
	VTableFixups            DataDirectory
	ExportAddressTableJumps DataDirectory
	ManagedNativeHeader     DataDirectory
}

const corHeaderSize = 72

// COR20 header flags.
const (
	COMIMAGE_FLAGS_ILONLY            = 0x00000001
	COMIMAGE_FLAGS_32BITREQUIRED     = 0x00000002
	COMIMAGE_FLAGS_STRONGNAMESIGNED  = 0x00000008
	COMIMAGE_FLAGS_NATIVE_ENTRYPOINT = 0x00000010
)

// EntryPointToken returns the entry point metadata token, if the entry
// point is a token.
func (h *CorHeader) EntryPointToken() (uint32, bool) {
	if h.Flags&COMIMAGE_FLAGS_NATIVE_ENTRYPOINT != 0 {
		return 0, false
	}
	return h.EntryPoint, true
}

// EntryPointRVA returns the native entry point RVA, if the entry point is
// an RVA.
func (h *CorHeader) EntryPointRVA() (uint32, bool) {
	if h.Flags&COMIMAGE_FLAGS_NATIVE_ENTRYPOINT == 0 {
		return 0, false
	}
	return h.EntryPoint, true
}

// CorHeader returns the CLR header, or nil for native or malformed images.
func (img *Image) CorHeader() *CorHeader {
	if img.corLoaded {
		return img.cor
	}
	img.corLoaded = true

	dir := img.Directory(DirectoryComDescriptor)
	if dir.IsEmpty() || dir.Size < corHeaderSize {
		return nil
	}
	var h CorHeader
	off := img.RvaToOffset(dir.VirtualAddress)
	if off < 0 || !img.readStruct(int64(off), &h) {
		img.log.WithField("rva", dir.VirtualAddress).Debug("pe: unreadable CLR header")
		return nil
	}
	img.cor = &h
	return img.cor
}

// IsManaged reports whether the image carries a CLR header.
func (img *Image) IsManaged() bool {
	return img.CorHeader() != nil
}

// MetadataDirectory returns the CLR metadata directory, or (0,0).
func (img *Image) MetadataDirectory() DataDirectory {
	if h := img.CorHeader(); h != nil {
		return h.Metadata
	}
	return DataDirectory{}
}
