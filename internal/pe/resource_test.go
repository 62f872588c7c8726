package pe

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testResourceRVA = 0x600

type resEntry struct {
	nameOrID uint32
	target   uint32
}

func subdir(offset uint32) uint32 { return offset | resourceHighBit }
func named(offset uint32) uint32  { return offset | resourceHighBit }

// putResourceDir writes a directory header and its entries at offset, relative
// to the resource directory.
func (b *imageBuilder) putResourceDir(offset int, entries ...resEntry) {
	off := testResourceRVA + offset
	b.put16(off+14, uint16(len(entries)))
	for i, e := range entries {
		b.put32(off+resourceDirectorySize+i*resourceEntrySize, e.nameOrID)
		b.put32(off+resourceDirectorySize+i*resourceEntrySize+4, e.target)
	}
}

func (b *imageBuilder) putResourceData(offset int, rva, size uint32) {
	b.put32(testResourceRVA+offset, rva)
	b.put32(testResourceRVA+offset+4, size)
}

func (b *imageBuilder) putResourceName(offset int, name string) {
	b.put16(testResourceRVA+offset, uint16(len(name)))
	b.putBytes(testResourceRVA+offset+2, encodeUTF16(name))
}

var testManifest = []byte(`<assembly xmlns="urn:schemas-microsoft-com:asm.v1"/>`)

func versionBlob() []byte {
	blob := make([]byte, 0x40)
	copy(blob[6:], utf16z("VS_VERSION_INFO"))
	b := &imageBuilder{buf: blob}
	b.put16(fileVersionOffset, 2)   // minor
	b.put16(fileVersionOffset+2, 1) // major
	b.put16(fileVersionOffset+4, 4) // revision
	b.put16(fileVersionOffset+6, 3) // build

	pairs := []struct{ key, value string }{
		{"CompanyName", "Acme"},
		{"FileVersion", "1.2.3.4"},
		{"ProductName", "Widget"},
		{"OriginalFilename", "widget.dll"},
	}
	for _, p := range pairs {
		blob = append(blob, utf16z(p.key)...)
		if len(blob)%4 != 0 {
			blob = append(blob, 0, 0)
		}
		blob = append(blob, utf16z(p.value)...)
	}
	return blob
}

// resourceImage lays out a Version and a manifest resource, each under a
// type/name/language hierarchy.
func resourceImage() *imageBuilder {
	b := newImageBuilder(true, 0x2000)
	b.setDirectory(DirectoryResource, testResourceRVA, 0x400)

	b.putResourceDir(0x000,
		resEntry{RT_VERSION, subdir(0x100)},
		resEntry{RT_MANIFEST, subdir(0x200)},
	)
	b.putResourceDir(0x100, resEntry{1, subdir(0x180)})
	b.putResourceDir(0x180, resEntry{1033, 0x300})
	b.putResourceDir(0x200, resEntry{1, subdir(0x280)})
	b.putResourceDir(0x280, resEntry{1033, 0x310})

	version := versionBlob()
	b.putResourceData(0x300, 0xD00, uint32(len(version)))
	b.putBytes(0xD00, version)
	b.putResourceData(0x310, 0xC00, uint32(len(testManifest)))
	b.putBytes(0xC00, testManifest)
	return b
}

func TestResourceTree(t *testing.T) {
	img := resourceImage().open(t, Options{})

	root := img.Resources()
	assert.Equal(t, ResourceRootName, root.Name())
	assert.Nil(t, root.Parent())
	assert.Equal(t, "/", root.Path())

	children := root.Children()
	require.Len(t, children, 2)
	assert.Equal(t, "Version", children[0].Name())
	assert.Equal(t, "RT_MANIFEST", children[1].Name())
	assert.Same(t, root, children[0].Parent())

	manifest := root.Child("RT_MANIFEST")
	require.NotNil(t, manifest)
	require.Len(t, manifest.Children(), 1)
	lang := manifest.Children()[0].Child("1033")
	require.NotNil(t, lang)

	assert.True(t, lang.IsLeaf())
	assert.Empty(t, lang.Children())
	assert.Equal(t, "/RT_MANIFEST/Cursor/1033", lang.Path())
	assert.Equal(t, uint32(0x310), lang.Offset())
	assert.Equal(t, len(testManifest), lang.Size())
	assert.Equal(t, testManifest, lang.Data())
	assert.Contains(t, lang.String(), "1033 (")

	buf := make([]byte, 8)
	require.Equal(t, 8, lang.Read(1, buf))
	assert.Equal(t, testManifest[1:9], buf)

	tail := make([]byte, 16)
	assert.Equal(t, 4, lang.Read(len(testManifest)-4, tail))
	assert.Equal(t, 0, lang.Read(len(testManifest), tail))
	assert.Equal(t, 0, lang.Read(-1, tail))

	assert.Nil(t, root.Child("Icon"))
	assert.Zero(t, manifest.Size())
	assert.Nil(t, manifest.Data())
}

func TestResourceChildrenAreCached(t *testing.T) {
	img := resourceImage().open(t, Options{})
	first := img.Resources().Children()
	second := img.Resources().Children()
	require.NotEmpty(t, first)
	assert.Same(t, first[0], second[0])
	assert.Same(t, img.Resources(), img.Resources())
}

func TestVersionInfo(t *testing.T) {
	img := resourceImage().open(t, Options{})

	v := img.VersionInfo()
	require.NotNil(t, v)
	assert.Equal(t, "1.2.3.4", v.String())
	assert.Equal(t, uint16(1), v.Major)
	assert.Equal(t, uint16(2), v.Minor)
	assert.Equal(t, uint16(3), v.Build)
	assert.Equal(t, uint16(4), v.Revision)
	assert.Equal(t, "Acme", v.CompanyName)
	assert.Equal(t, "1.2.3.4", v.FileVersion)
	assert.Equal(t, "Widget", v.ProductName)
	assert.Equal(t, "widget.dll", v.OriginalFilename)
	assert.Empty(t, v.Comments)
}

func TestVersionInfoRejectsAmbiguousTree(t *testing.T) {
	b := resourceImage()
	// A second name under the Version type.
	b.putResourceDir(0x100, resEntry{1, subdir(0x180)}, resEntry{2, subdir(0x180)})
	img := b.open(t, Options{})

	require.Len(t, img.Resources().Child("Version").Children(), 2)
	assert.Nil(t, img.VersionInfo())
}

func TestParseVersionInfoTooSmall(t *testing.T) {
	assert.Nil(t, parseVersionInfo(make([]byte, minVersionResourceSize-1)))

	v := parseVersionInfo(make([]byte, minVersionResourceSize))
	require.NotNil(t, v)
	assert.Equal(t, "0.0.0.0", v.String())
}

func TestResourceChildCap(t *testing.T) {
	b := newImageBuilder(true, 0x2000)
	b.setDirectory(DirectoryResource, testResourceRVA, 0x800)

	// The root claims 10000 named entries, all sharing one name and one leaf.
	b.put16(testResourceRVA+12, 10000)
	for i := 0; i < DefaultMaxResourceChildren; i++ {
		off := testResourceRVA + resourceDirectorySize + i*resourceEntrySize
		b.put32(off, named(0x600))
		b.put32(off+4, 0x620)
	}
	b.putResourceName(0x600, "Foo")
	b.putResourceData(0x620, 0xE00, 4)

	t.Run("Default cap", func(t *testing.T) {
		img := b.open(t, Options{})
		children := img.Resources().Children()
		require.Len(t, children, DefaultMaxResourceChildren)
		for _, c := range children {
			assert.Equal(t, "Foo", c.Name())
			assert.True(t, c.IsLeaf())
		}
	})

	t.Run("Configured cap", func(t *testing.T) {
		img := b.open(t, Options{MaxResourceChildren: 4})
		assert.Len(t, img.Resources().Children(), 4)
	})

	t.Run("Name length cap", func(t *testing.T) {
		img := b.open(t, Options{MaxResourceChildren: 1, MaxResourceNameLength: 2})
		children := img.Resources().Children()
		require.Len(t, children, 1)
		assert.Equal(t, "Fo", children[0].Name())
	})
}

func TestResourceCycleSkipped(t *testing.T) {
	b := newImageBuilder(true, 0x2000)
	b.setDirectory(DirectoryResource, testResourceRVA, 0x400)
	b.putResourceDir(0x000,
		resEntry{RT_ICON, subdir(0x000)},
		resEntry{RT_RCDATA, subdir(0x100)},
	)
	b.putResourceDir(0x100, resEntry{7, subdir(0x000)}, resEntry{8, subdir(0x100)}, resEntry{1033, 0x300})
	b.putResourceData(0x300, 0xC00, 4)
	img := b.open(t, Options{})

	children := img.Resources().Children()
	require.Len(t, children, 1)
	assert.Equal(t, "RCData", children[0].Name())

	grand := children[0].Children()
	require.Len(t, grand, 1)
	assert.Equal(t, "1033", grand[0].Name())
	assert.True(t, grand[0].IsLeaf())
}

func TestCorruptResourceBranch(t *testing.T) {
	b := resourceImage()
	b.putResourceDir(0x000,
		resEntry{RT_VERSION, subdir(0x7FFFFFF0)},
		resEntry{RT_MANIFEST, subdir(0x200)},
	)
	img := b.open(t, Options{})

	children := img.Resources().Children()
	require.Len(t, children, 2)
	assert.Empty(t, children[0].Children())
	assert.Len(t, children[1].Children(), 1)
	assert.Nil(t, img.VersionInfo())
}

func TestUnreadableResourceName(t *testing.T) {
	b := resourceImage()
	b.putResourceDir(0x000,
		resEntry{named(0x7FFFFFF0), subdir(0x100)},
		resEntry{RT_MANIFEST, subdir(0x200)},
	)
	img := b.open(t, Options{})
	assert.Empty(t, img.Resources().Children())
}

func TestResourceDepthCap(t *testing.T) {
	img := resourceImage().open(t, Options{MaxResourceDepth: 1})

	children := img.Resources().Children()
	require.Len(t, children, 2)
	assert.Empty(t, children[0].Children())
}

func TestNoResources(t *testing.T) {
	img := newImageBuilder(false, 0x400).open(t, Options{})
	root := img.Resources()
	assert.Empty(t, root.Children())
	assert.Nil(t, img.VersionInfo())
}

func TestResourceTypeName(t *testing.T) {
	assert.Equal(t, "Version", ResourceTypeName(RT_VERSION))
	assert.Equal(t, "RT_MANIFEST", ResourceTypeName(RT_MANIFEST))
	assert.Equal(t, "GroupIcon", ResourceTypeName(RT_GROUP_ICON))
	assert.Equal(t, "1033", ResourceTypeName(1033))
}

func TestUTF16RoundTrip(t *testing.T) {
	encoded := encodeUTF16("Größe")
	assert.Equal(t, "Größe", decodeUTF16(encoded))
	// An odd trailing byte is ignored.
	assert.Equal(t, "Größe", decodeUTF16(append(bytes.Clone(encoded), 'x')))
}
