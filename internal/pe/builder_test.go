package pe

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// Layout of images produced by imageBuilder.
const (
	testPEOffset       = 0x80
	testFileHeader     = testPEOffset + 4
	testOptionalHeader = testFileHeader + fileHeaderSize
)

// imageBuilder assembles a synthetic PE image byte by byte.
type imageBuilder struct {
	buf      []byte
	pe64     bool
	sections int
}

func newImageBuilder(pe64 bool, size int) *imageBuilder {
	b := &imageBuilder{buf: make([]byte, size), pe64: pe64}

	b.put16(0, DosMagic)
	b.put32(peHeaderOffsetLocation, testPEOffset)
	b.put32(testPEOffset, NTSignature)

	machine, magic := uint16(MachineI386), uint16(OptionalMagic32)
	if pe64 {
		machine, magic = MachineAMD64, OptionalMagic64
	}
	b.put16(testFileHeader, machine)
	b.put32(testFileHeader+4, 0x5F3C1A2B) // TimeDateStamp
	b.put16(testFileHeader+16, uint16(b.optionalHeaderSize()))
	b.put16(testOptionalHeader, magic)
	b.put32(testOptionalHeader+16, 0x1000) // AddressOfEntryPoint
	b.put32(testOptionalHeader+56, uint32(size))
	b.put16(testOptionalHeader+68, SubsystemWindowsCUI)
	if pe64 {
		b.put32(testOptionalHeader+108, 16)
	} else {
		b.put32(testOptionalHeader+92, 16)
	}
	return b
}

func (b *imageBuilder) optionalHeaderSize() int {
	if b.pe64 {
		return optionalHeader64Size + 16*8
	}
	return optionalHeader32Size + 16*8
}

func (b *imageBuilder) directoryTable() int {
	if b.pe64 {
		return testOptionalHeader + optionalHeader64Size
	}
	return testOptionalHeader + optionalHeader32Size
}

func (b *imageBuilder) sectionTable() int {
	return testOptionalHeader + b.optionalHeaderSize()
}

func (b *imageBuilder) put16(off int, v uint16)    { binary.LittleEndian.PutUint16(b.buf[off:], v) }
func (b *imageBuilder) put32(off int, v uint32)    { binary.LittleEndian.PutUint32(b.buf[off:], v) }
func (b *imageBuilder) put64(off int, v uint64)    { binary.LittleEndian.PutUint64(b.buf[off:], v) }
func (b *imageBuilder) putBytes(off int, p []byte) { copy(b.buf[off:], p) }

func (b *imageBuilder) setImageBase(base uint64) {
	if b.pe64 {
		b.put64(testOptionalHeader+24, base)
	} else {
		b.put32(testOptionalHeader+28, uint32(base))
	}
}

func (b *imageBuilder) setChecksum(v uint32) {
	b.put32(testOptionalHeader+checksumFieldOffset, v)
}

func (b *imageBuilder) setDirectory(index int, rva, size uint32) {
	off := b.directoryTable() + index*8
	b.put32(off, rva)
	b.put32(off+4, size)
}

func (b *imageBuilder) addSection(name string, va, vsize, raw, rawSize, characteristics uint32) {
	off := b.sectionTable() + b.sections*sectionHeaderSize
	copy(b.buf[off:off+8], name)
	b.put32(off+8, vsize)
	b.put32(off+12, va)
	b.put32(off+16, rawSize)
	b.put32(off+20, raw)
	b.put32(off+36, characteristics)
	b.sections++
	b.put16(testFileHeader+2, uint16(b.sections))
}

func (b *imageBuilder) reader() *bytes.Reader {
	return bytes.NewReader(b.buf)
}

func bytesReader(p []byte) *bytes.Reader {
	return bytes.NewReader(p)
}

func (b *imageBuilder) open(t *testing.T, opts Options) *Image {
	t.Helper()
	img, err := New(b.reader(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = img.Close() })
	return img
}

func utf16z(s string) []byte {
	return append(encodeUTF16(s), 0, 0)
}
