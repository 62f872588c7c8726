package pe

import (
	"fmt"
)

// Info contains analyzed PE image information.
type Info struct {
	Valid         bool
	Architecture  string
	Subsystem     string
	EntryPoint    uint64
	ImageBase     uint64
	LoadedBase    uint64
	TimeDateStamp uint32
	SizeOfImage   uint32
	Managed       bool
	Checksum      *ChecksumInfo
	Relocations   *RelocationInfo
	Sections      []SectionInfo
	Directories   []DirectoryInfo
	Imports       []ImportInfo
	Exports       []Export
	TLS           *TLSInfo
	Signature     *SignatureInfo
	Pdbs          []PdbInfo
	Version       *VersionInfo
	ResourceTypes []string
}

// SectionInfo contains information about a PE section.
type SectionInfo struct {
	Name            string
	VirtualAddress  uint32
	VirtualSize     uint32
	Size            uint32
	Characteristics uint32
	Permissions     string
	Entropy         float64
}

// DirectoryInfo is a present data directory.
type DirectoryInfo struct {
	Name string
	DataDirectory
}

// Analyzer extracts information from PE images.
type Analyzer struct {
	image *Image
}

// NewAnalyzer creates a new analyzer for the given image.
func NewAnalyzer(img *Image) *Analyzer {
	return &Analyzer{image: img}
}

// Analyze extracts all information from the image. An invalid image yields
// an Info with Valid unset and nothing else filled in.
func (a *Analyzer) Analyze() *Info {
	img := a.image
	info := &Info{Valid: img.IsValid()}
	if !info.Valid {
		return info
	}

	a.extractBasicInfo(info)
	a.extractSections(info)
	a.extractDirectories(info)

	info.Imports = img.Imports()
	info.Exports = img.Exports()
	info.TLS = img.TLS()
	info.Signature = img.Signature()
	info.Pdbs = img.Pdbs()
	info.Version = img.VersionInfo()
	info.Managed = img.IsManaged()
	info.Checksum = img.VerifyChecksum()
	info.Relocations = img.Relocations()
	for _, node := range img.Resources().Children() {
		info.ResourceTypes = append(info.ResourceTypes, node.Name())
	}

	return info
}

func (a *Analyzer) extractBasicInfo(info *Info) {
	img := a.image
	info.Architecture = getArchitecture(img.Machine(), img.IsPE64())
	info.TimeDateStamp = img.IndexTimeStamp()
	info.SizeOfImage = img.IndexFileSize()
	info.ImageBase = img.ImageBase()
	info.LoadedBase = img.LoadedBase()

	if img.HasOptionalHeader() {
		opt := img.OptionalHeader()
		info.EntryPoint = uint64(opt.AddressOfEntryPoint)
		info.Subsystem = getSubsystem(opt.Subsystem)
	}
}

func (a *Analyzer) extractSections(info *Info) {
	for _, section := range a.image.Sections() {
		info.Sections = append(info.Sections, SectionInfo{
			Name:            section.Name(),
			VirtualAddress:  section.VirtualAddress,
			VirtualSize:     section.VirtualSize,
			Size:            section.SizeOfRawData,
			Characteristics: section.Characteristics,
			Permissions:     getSectionPermissions(section.Characteristics),
			Entropy:         a.image.SectionEntropy(section),
		})
	}
}

func (a *Analyzer) extractDirectories(info *Info) {
	for i := 0; i < NumDirectories; i++ {
		dir := a.image.Directory(i)
		if dir.IsEmpty() {
			continue
		}
		info.Directories = append(info.Directories, DirectoryInfo{Name: DirectoryName(i), DataDirectory: dir})
	}
}

func getArchitecture(machine uint16, pe64 bool) string {
	switch machine {
	case MachineI386:
		return "x86 (32位)"
	case MachineAMD64:
		return "x64 (64位)"
	case MachineARM, MachineARMNT:
		return "ARM"
	case MachineARM64:
		return "ARM64"
	}
	if pe64 {
		return fmt.Sprintf("未知 (0x%X, PE32+)", machine)
	}
	return fmt.Sprintf("未知 (0x%X)", machine)
}

func getSubsystem(subsystem uint16) string {
	switch subsystem {
	case SubsystemWindowsGUI:
		return "Windows GUI"
	case SubsystemWindowsCUI:
		return "Windows 控制台"
	case SubsystemNative:
		return "Native"
	case SubsystemEFIApp:
		return "EFI Application"
	default:
		return fmt.Sprintf("未知 (0x%X)", subsystem)
	}
}

func getSectionPermissions(c uint32) string {
	var perms [3]rune
	perms[0] = '-'
	perms[1] = '-'
	perms[2] = '-'

	if c&SectionMemRead != 0 {
		perms[0] = 'R'
	}
	if c&SectionMemWrite != 0 {
		perms[1] = 'W'
	}
	if c&SectionMemExecute != 0 {
		perms[2] = 'X'
	}

	return string(perms[:])
}
