package pe

import (
	"encoding/binary"
	"fmt"
)

// VersionInfo contains version information from the RT_VERSION resource.
type VersionInfo struct {
	Major    uint16
	Minor    uint16
	Build    uint16
	Revision uint16

	FileVersion      string
	Comments         string
	ProductVersion   string
	CompanyName      string
	ProductName      string
	FileDescription  string
	InternalName     string
	OriginalFilename string
	LegalCopyright   string
}

func (v *VersionInfo) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Revision)
}

// minVersionResourceSize rejects version leaves too small to hold anything.
const minVersionResourceSize = 16

// VS_VERSIONINFO places VS_FIXEDFILEINFO after the header and the padded
// "VS_VERSION_INFO" key; dwFileVersionMS/LS hold minor, major, revision and
// build as consecutive 16-bit words.
const (
	fixedFileInfoOffset = 0x28
	fileVersionOffset   = fixedFileInfoOffset + 8
	fixedFileInfoEnd    = fileVersionOffset + 8
)

// VersionInfo decodes the image's single Version resource, or returns nil.
func (img *Image) VersionInfo() *VersionInfo {
	node := img.Resources().Child(ResourceTypeName(RT_VERSION))
	if node == nil || len(node.Children()) != 1 {
		return nil
	}
	node = node.Children()[0]
	if !node.IsLeaf() && len(node.Children()) == 1 {
		node = node.Children()[0]
	}
	if !node.IsLeaf() || node.Size() < minVersionResourceSize {
		return nil
	}
	return parseVersionInfo(node.Data())
}

func parseVersionInfo(data []byte) *VersionInfo {
	if len(data) < minVersionResourceSize {
		return nil
	}

	info := &VersionInfo{}
	if len(data) >= fixedFileInfoEnd {
		info.Minor = binary.LittleEndian.Uint16(data[fileVersionOffset:])
		info.Major = binary.LittleEndian.Uint16(data[fileVersionOffset+2:])
		info.Revision = binary.LittleEndian.Uint16(data[fileVersionOffset+4:])
		info.Build = binary.LittleEndian.Uint16(data[fileVersionOffset+6:])
	}

	info.FileVersion = extractVersionString(data, "FileVersion")
	info.Comments = extractVersionString(data, "Comments")
	info.ProductVersion = extractVersionString(data, "ProductVersion")
	info.CompanyName = extractVersionString(data, "CompanyName")
	info.ProductName = extractVersionString(data, "ProductName")
	info.FileDescription = extractVersionString(data, "FileDescription")
	info.InternalName = extractVersionString(data, "InternalName")
	info.OriginalFilename = extractVersionString(data, "OriginalFilename")
	info.LegalCopyright = extractVersionString(data, "LegalCopyright")

	return info
}

// extractVersionString finds a UTF-16 key and returns the NUL-terminated
// UTF-16 value that follows its padding.
func extractVersionString(data []byte, key string) string {
	keyUTF16 := encodeUTF16(key)
	if len(keyUTF16) == 0 {
		return ""
	}

	// Keys are WCHAR aligned.
	keyPos := -1
	for i := 0; i+len(keyUTF16) <= len(data); i += 2 {
		if string(data[i:i+len(keyUTF16)]) == string(keyUTF16) {
			keyPos = i
			break
		}
	}
	if keyPos == -1 {
		return ""
	}

	// Skip the key's terminator and alignment padding.
	valueStart := keyPos + len(keyUTF16)
	for valueStart+1 < len(data) && data[valueStart] == 0 && data[valueStart+1] == 0 {
		valueStart += 2
	}
	if valueStart+1 >= len(data) {
		return ""
	}

	valueEnd := valueStart
	for valueEnd+1 < len(data) {
		if data[valueEnd] == 0 && data[valueEnd+1] == 0 {
			break
		}
		valueEnd += 2
	}
	if valueEnd+1 >= len(data) {
		return ""
	}

	return decodeUTF16(data[valueStart:valueEnd])
}
