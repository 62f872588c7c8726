package pe

// On-disk magic values.
const (
	DosMagic        = 0x5A4D     // "MZ"
	NTSignature     = 0x00004550 // "PE\0\0"
	OptionalMagic32 = 0x010B
	OptionalMagic64 = 0x020B

	peHeaderOffsetLocation = 0x3C
	dosHeaderSize          = 0x40
)

// MinPageSize is the smallest page size an image is mapped with. Addresses
// below it lie in the header region, which is identical on disk and in memory.
const MinPageSize = 4096

// NumDirectories is the number of data directory slots the reader exposes.
const NumDirectories = 15

// Data directory indices.
const (
	DirectoryExport = iota
	DirectoryImport
	DirectoryResource
	DirectoryException
	DirectorySecurity
	DirectoryBaseReloc
	DirectoryDebug
	DirectoryArchitecture
	DirectoryGlobalPtr
	DirectoryTLS
	DirectoryLoadConfig
	DirectoryBoundImport
	DirectoryIAT
	DirectoryDelayImport
	DirectoryComDescriptor
)

var directoryNames = [NumDirectories]string{
	"Export", "Import", "Resource", "Exception", "Security", "BaseReloc",
	"Debug", "Architecture", "GlobalPtr", "TLS", "LoadConfig", "BoundImport",
	"IAT", "DelayImport", "ComDescriptor",
}

// DirectoryName returns the well-known name of a data directory slot.
func DirectoryName(index int) string {
	if index < 0 || index >= NumDirectories {
		return ""
	}
	return directoryNames[index]
}

// DataDirectory is a (VirtualAddress, Size) pair. Absence is (0,0).
type DataDirectory struct {
	VirtualAddress int32
	Size           int32
}

// IsEmpty reports whether the directory is absent.
func (d DataDirectory) IsEmpty() bool {
	return d.VirtualAddress == 0 || d.Size == 0
}

// FileHeader is the COFF file header (IMAGE_FILE_HEADER).
type FileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

const fileHeaderSize = 20

// optionalHeader32 is IMAGE_OPTIONAL_HEADER32 up to the directory table.
type optionalHeader32 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	BaseOfData                  uint32
	ImageBase                   uint32
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint32
	SizeOfStackCommit           uint32
	SizeOfHeapReserve           uint32
	SizeOfHeapCommit            uint32
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
}

// optionalHeader64 is IMAGE_OPTIONAL_HEADER64 up to the directory table.
type optionalHeader64 struct {
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	ImageBase                   uint64
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint64
	SizeOfStackCommit           uint64
	SizeOfHeapReserve           uint64
	SizeOfHeapCommit            uint64
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32
}

// Sizes of the optional header fields preceding the directory table.
const (
	optionalHeader32Size = 0x60
	optionalHeader64Size = 0x70
)

// OptionalHeader holds the width-independent optional header fields.
type OptionalHeader struct {
	Magic               uint16
	AddressOfEntryPoint uint32
	ImageBase           uint64
	SectionAlignment    uint32
	FileAlignment       uint32
	SizeOfImage         uint32
	SizeOfHeaders       uint32
	CheckSum            uint32
	Subsystem           uint16
	DllCharacteristics  uint16
	NumberOfRvaAndSizes uint32
}

func (h *optionalHeader32) normalize() OptionalHeader {
	return OptionalHeader{
		Magic:               h.Magic,
		AddressOfEntryPoint: h.AddressOfEntryPoint,
		ImageBase:           uint64(h.ImageBase),
		SectionAlignment:    h.SectionAlignment,
		FileAlignment:       h.FileAlignment,
		SizeOfImage:         h.SizeOfImage,
		SizeOfHeaders:       h.SizeOfHeaders,
		CheckSum:            h.CheckSum,
		Subsystem:           h.Subsystem,
		DllCharacteristics:  h.DllCharacteristics,
		NumberOfRvaAndSizes: h.NumberOfRvaAndSizes,
	}
}

func (h *optionalHeader64) normalize() OptionalHeader {
	return OptionalHeader{
		Magic:               h.Magic,
		AddressOfEntryPoint: h.AddressOfEntryPoint,
		ImageBase:           h.ImageBase,
		SectionAlignment:    h.SectionAlignment,
		FileAlignment:       h.FileAlignment,
		SizeOfImage:         h.SizeOfImage,
		SizeOfHeaders:       h.SizeOfHeaders,
		CheckSum:            h.CheckSum,
		Subsystem:           h.Subsystem,
		DllCharacteristics:  h.DllCharacteristics,
		NumberOfRvaAndSizes: h.NumberOfRvaAndSizes,
	}
}

// Machine types.
const (
	MachineI386  = 0x014c
	MachineARM   = 0x01c0
	MachineARMNT = 0x01c4
	MachineAMD64 = 0x8664
	MachineARM64 = 0xaa64
)

// Subsystems.
const (
	SubsystemNative     = 1
	SubsystemWindowsGUI = 2
	SubsystemWindowsCUI = 3
	SubsystemEFIApp     = 10
)

// Section characteristics used by the analyzer.
const (
	SectionCntCode              = 0x00000020
	SectionCntInitializedData   = 0x00000040
	SectionCntUninitializedData = 0x00000080
	SectionMemExecute           = 0x20000000
	SectionMemRead              = 0x40000000
	SectionMemWrite             = 0x80000000
)
