package pe

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// Resource types.
const (
	RT_CURSOR       = 1
	RT_BITMAP       = 2
	RT_ICON         = 3
	RT_MENU         = 4
	RT_DIALOG       = 5
	RT_STRING       = 6
	RT_FONTDIR      = 7
	RT_FONT         = 8
	RT_ACCELERATOR  = 9
	RT_RCDATA       = 10
	RT_MESSAGETABLE = 11
	RT_GROUP_CURSOR = 12
	RT_GROUP_ICON   = 14
	RT_VERSION      = 16
	RT_DLGINCLUDE   = 17
	RT_PLUGPLAY     = 19
	RT_VXD          = 20
	RT_ANICURSOR    = 21
	RT_ANIICON      = 22
	RT_HTML         = 23
	RT_MANIFEST     = 24
)

var resourceTypeNames = map[uint32]string{
	RT_CURSOR:       "Cursor",
	RT_BITMAP:       "Bitmap",
	RT_ICON:         "Icon",
	RT_MENU:         "Menu",
	RT_DIALOG:       "Dialog",
	RT_STRING:       "String",
	RT_FONTDIR:      "FontDir",
	RT_FONT:         "Font",
	RT_ACCELERATOR:  "Accelerator",
	RT_RCDATA:       "RCData",
	RT_MESSAGETABLE: "MessageTable",
	RT_GROUP_CURSOR: "GroupCursor",
	RT_GROUP_ICON:   "GroupIcon",
	RT_VERSION:      "Version",
	RT_DLGINCLUDE:   "DlgInclude",
	RT_PLUGPLAY:     "PlugPlay",
	RT_VXD:          "VXD",
	RT_ANICURSOR:    "AniCursor",
	RT_ANIICON:      "AniIcon",
	RT_HTML:         "HTML",
	RT_MANIFEST:     "RT_MANIFEST",
}

// ResourceTypeName maps a numeric resource type to its well-known name,
// falling back to the decimal ID.
func ResourceTypeName(id uint32) string {
	if name, ok := resourceTypeNames[id]; ok {
		return name
	}
	return strconv.FormatUint(uint64(id), 10)
}

// IMAGE_RESOURCE_DIRECTORY structure.
type resourceDirectory struct {
	Characteristics      uint32
	TimeDateStamp        uint32
	MajorVersion         uint16
	MinorVersion         uint16
	NumberOfNamedEntries uint16
	NumberOfIdEntries    uint16
}

// IMAGE_RESOURCE_DIRECTORY_ENTRY structure.
type resourceDirectoryEntry struct {
	NameOrID                uint32
	OffsetToDataOrDirectory uint32
}

// IMAGE_RESOURCE_DATA_ENTRY structure.
type resourceDataEntry struct {
	OffsetToData uint32
	Size         uint32
	CodePage     uint32
	Reserved     uint32
}

const (
	resourceDirectorySize = 16
	resourceEntrySize     = 8
	resourceHighBit       = 0x80000000
)

// ResourceRootName is the name of the node returned by Image.Resources.
const ResourceRootName = "ResourceRoot"

// ResourceNode is a directory or data entry of the resource tree. Offsets
// are relative to the start of the resource directory.
type ResourceNode struct {
	image  *Image
	parent *ResourceNode
	name   string
	leaf   bool
	offset uint32
	depth  int

	children       []*ResourceNode
	childrenLoaded bool
}

// Resources returns the root of the resource tree. An image without
// resources yields a root with no children.
func (img *Image) Resources() *ResourceNode {
	if img.resources == nil {
		img.resources = &ResourceNode{image: img, name: ResourceRootName}
	}
	return img.resources
}

// Parent returns the enclosing directory, or nil for the root.
func (n *ResourceNode) Parent() *ResourceNode { return n.parent }

// Name returns the entry name: a string name, a well-known type name, or a
// decimal ID.
func (n *ResourceNode) Name() string { return n.name }

// IsLeaf reports whether the node is a data entry.
func (n *ResourceNode) IsLeaf() bool { return n.leaf }

// Offset returns the node's offset within the resource directory.
func (n *ResourceNode) Offset() uint32 { return n.offset }

// Path joins the names from the root down to n with '/'.
func (n *ResourceNode) Path() string {
	var parts []string
	for p := n; p != nil && p.parent != nil; p = p.parent {
		parts = append(parts, p.name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

func (n *ResourceNode) String() string {
	if n.leaf {
		return fmt.Sprintf("%s (%d bytes)", n.name, n.Size())
	}
	return n.name
}

// Child returns the first child named name.
func (n *ResourceNode) Child(name string) *ResourceNode {
	for _, c := range n.Children() {
		if c.name == name {
			return c
		}
	}
	return nil
}

// Children returns the node's entries, read on first access. The count is
// capped at Options.MaxResourceChildren; a branch that cannot be read yields
// no children.
func (n *ResourceNode) Children() []*ResourceNode {
	if n.childrenLoaded {
		return n.children
	}
	n.childrenLoaded = true
	if n.leaf {
		return nil
	}
	children, ok := n.readChildren()
	if !ok {
		n.image.log.WithField("offset", n.offset).Debug("pe: dropping unreadable resource directory")
		return nil
	}
	n.children = children
	return n.children
}

func (n *ResourceNode) readChildren() ([]*ResourceNode, bool) {
	img := n.image
	root := img.Directory(DirectoryResource)
	if root.IsEmpty() {
		return nil, true
	}
	if n.depth >= img.opts.MaxResourceDepth {
		return nil, false
	}

	var hdr resourceDirectory
	if !img.readResource(root, n.offset, &hdr) {
		return nil, false
	}

	count := int(hdr.NumberOfNamedEntries) + int(hdr.NumberOfIdEntries)
	if count > img.opts.MaxResourceChildren {
		count = img.opts.MaxResourceChildren
	}

	children := make([]*ResourceNode, 0, count)
	for i := 0; i < count; i++ {
		var entry resourceDirectoryEntry
		entryOffset := n.offset + resourceDirectorySize + uint32(i*resourceEntrySize)
		if !img.readResource(root, entryOffset, &entry) {
			return nil, false
		}

		var name string
		if entry.NameOrID&resourceHighBit != 0 {
			s, ok := img.readResourceName(root, entry.NameOrID&^resourceHighBit)
			if !ok {
				return nil, false
			}
			name = s
		} else {
			name = ResourceTypeName(entry.NameOrID)
		}

		child := &ResourceNode{
			image:  img,
			parent: n,
			name:   name,
			leaf:   entry.OffsetToDataOrDirectory&resourceHighBit == 0,
			offset: entry.OffsetToDataOrDirectory &^ resourceHighBit,
			depth:  n.depth + 1,
		}
		if !child.leaf && child.revisits() {
			img.log.WithField("offset", child.offset).Debug("pe: resource directory cycle")
			continue
		}
		children = append(children, child)
	}
	return children, true
}

// revisits reports whether a directory node points at one of its ancestors.
func (n *ResourceNode) revisits() bool {
	for p := n.parent; p != nil; p = p.parent {
		if p.offset == n.offset {
			return true
		}
	}
	return false
}

func (img *Image) readResource(root DataDirectory, offset uint32, v interface{}) bool {
	rva := int64(root.VirtualAddress) + int64(offset)
	if rva > 0x7FFFFFFF {
		return false
	}
	off := img.RvaToOffset(int32(rva))
	if off < 0 {
		return false
	}
	return img.readStruct(int64(off), v)
}

// readResourceName decodes a length-prefixed UTF-16 string.
func (img *Image) readResourceName(root DataDirectory, offset uint32) (string, bool) {
	var length uint16
	if !img.readResource(root, offset, &length) {
		return "", false
	}
	chars := int(length)
	if chars > img.opts.MaxResourceNameLength {
		chars = img.opts.MaxResourceNameLength
	}
	if chars == 0 {
		return "", true
	}

	rva := int64(root.VirtualAddress) + int64(offset) + 2
	if rva > 0x7FFFFFFF {
		return "", false
	}
	buf := getBuffer(chars * 2)
	defer putBuffer(buf)
	got := img.Read(int32(rva), *buf)
	if got < len(*buf) {
		return "", false
	}
	return decodeUTF16((*buf)[:got]), true
}

func (n *ResourceNode) dataEntry() (resourceDataEntry, bool) {
	var entry resourceDataEntry
	if !n.leaf {
		return entry, false
	}
	ok := n.image.readResource(n.image.Directory(DirectoryResource), n.offset, &entry)
	return entry, ok
}

// Size returns the size of a leaf's data, or 0.
func (n *ResourceNode) Size() int {
	entry, ok := n.dataEntry()
	if !ok || entry.Size > 0x7FFFFFFF {
		return 0
	}
	return int(entry.Size)
}

// Read copies a leaf's data starting at offset into buf and returns the
// number of bytes read.
func (n *ResourceNode) Read(offset int, buf []byte) int {
	entry, ok := n.dataEntry()
	if !ok || offset < 0 || uint64(offset) >= uint64(entry.Size) {
		return 0
	}
	if rem := int(entry.Size) - offset; len(buf) > rem {
		buf = buf[:rem]
	}
	rva := int64(entry.OffsetToData) + int64(offset)
	if rva > 0x7FFFFFFF {
		return 0
	}
	return n.image.Read(int32(rva), buf)
}

// maxResourceDataSize bounds the copy made by Data.
const maxResourceDataSize = 64 << 20

// Data returns a copy of a leaf's data, truncated to what could be read.
func (n *ResourceNode) Data() []byte {
	size := n.Size()
	if size == 0 || size > maxResourceDataSize {
		return nil
	}
	data := make([]byte, size)
	return data[:n.Read(0, data)]
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func decodeUTF16(data []byte) string {
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}
	out, err := utf16le.NewDecoder().Bytes(data)
	if err != nil {
		return ""
	}
	return string(out)
}

func encodeUTF16(s string) []byte {
	out, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil
	}
	return out
}
