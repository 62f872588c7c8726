// Package pe provides PE image reading and analysis capabilities.
//
// An Image reads headers, sections, relocations, resources and debug
// records from any seekable byte source: a file on disk, a memory-mapped or
// loaded process image, or an address range inside a crash dump. Malformed
// input never produces an error; it degrades to empty or zero results.
//
// An Image is not safe for concurrent use. Reads move a shared cursor and
// the lazily built caches (sections, PDB records, resource root, CLR header)
// are filled without synchronization.
package pe

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Programmer errors. Malformed image data is never reported through these.
var (
	ErrNilStream   = errors.New("pe: nil stream")
	ErrNotSeekable = errors.New("pe: stream is not seekable")
	ErrClosed      = errors.New("pe: image is closed")
)

// Default caps applied to resource traversal.
const (
	DefaultMaxResourceChildren   = 128
	DefaultMaxResourceNameLength = 512
	DefaultMaxResourceDepth      = 16
)

// Options configures how an Image reads its stream.
type Options struct {
	// LeaveOpen keeps the stream open when the Image is closed.
	LeaveOpen bool
	// IsVirtual marks the stream as an already-mapped image, where RVAs and
	// stream offsets are identical.
	IsVirtual bool
	// LoadedBase, when non-zero, rebases every read as if the image were
	// loaded at this address.
	LoadedBase uint64

	MaxResourceChildren   int
	MaxResourceNameLength int
	MaxResourceDepth      int

	// Logger receives debug records about skipped or malformed data.
	Logger logrus.FieldLogger
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		MaxResourceChildren:   DefaultMaxResourceChildren,
		MaxResourceNameLength: DefaultMaxResourceNameLength,
		MaxResourceDepth:      DefaultMaxResourceDepth,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxResourceChildren <= 0 {
		o.MaxResourceChildren = DefaultMaxResourceChildren
	}
	if o.MaxResourceNameLength <= 0 {
		o.MaxResourceNameLength = DefaultMaxResourceNameLength
	}
	if o.MaxResourceDepth <= 0 {
		o.MaxResourceDepth = DefaultMaxResourceDepth
	}
	if o.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.Logger = l
	}
	return o
}

// Image is a parsed PE image over a seekable stream.
type Image struct {
	stream io.ReadSeeker
	closer io.Closer
	opts   Options
	log    logrus.FieldLogger
	closed bool

	offset int64 // current stream cursor

	valid          bool
	peHeaderOffset int32
	fileHeader     FileHeader
	optional       OptionalHeader
	hasOptional    bool
	directories    [NumDirectories]DataDirectory
	sectionOffset  int64

	relocations []int64

	sections       []Section
	sectionsLoaded bool
	pdbs           []PdbInfo
	pdbsLoaded     bool
	resources      *ResourceNode
	cor            *CorHeader
	corLoaded      bool
}

// New reads the headers of the image in stream. The returned error is non-nil
// only for a nil or non-seekable stream; a malformed image yields an Image
// whose IsValid reports false.
func New(stream io.ReadSeeker, opts Options) (*Image, error) {
	if stream == nil {
		return nil, ErrNilStream
	}
	pos, err := stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, errors.Wrap(ErrNotSeekable, err.Error())
	}

	opts = opts.withDefaults()
	img := &Image{
		stream: stream,
		opts:   opts,
		log:    opts.Logger,
		offset: pos,
	}
	if c, ok := stream.(io.Closer); ok && !opts.LeaveOpen {
		img.closer = c
	}

	img.parseHeaders()
	if img.valid && opts.LoadedBase != 0 {
		img.relocations = img.buildRelocations()
	}
	return img, nil
}

// Close releases the stream unless the Image was opened with LeaveOpen.
func (img *Image) Close() error {
	if img.closed {
		return ErrClosed
	}
	img.closed = true
	if img.closer != nil {
		return img.closer.Close()
	}
	return nil
}

func (img *Image) parseHeaders() {
	var magic uint16
	if !img.readStruct(0, &magic) || magic != DosMagic {
		img.log.Debug("pe: missing DOS header")
		return
	}

	var peOffset int32
	if !img.readStruct(peHeaderOffsetLocation, &peOffset) || peOffset <= 0 {
		img.log.WithField("offset", peOffset).Debug("pe: bad PE header offset")
		return
	}

	var signature uint32
	if !img.readStruct(int64(peOffset), &signature) || signature != NTSignature {
		img.log.WithField("offset", peOffset).Debug("pe: missing PE signature")
		return
	}

	fileHeaderOffset := int64(peOffset) + 4
	if !img.readStruct(fileHeaderOffset, &img.fileHeader) {
		img.log.Debug("pe: truncated file header")
		return
	}
	img.peHeaderOffset = peOffset
	img.valid = true

	optionalOffset := fileHeaderOffset + fileHeaderSize
	img.sectionOffset = optionalOffset + int64(img.fileHeader.SizeOfOptionalHeader)

	var optMagic uint16
	if !img.readStruct(optionalOffset, &optMagic) {
		return
	}

	directoryOffset := optionalOffset
	if optMagic == OptionalMagic32 {
		var h optionalHeader32
		if !img.readStruct(optionalOffset, &h) {
			return
		}
		img.optional = h.normalize()
		directoryOffset += optionalHeader32Size
	} else {
		var h optionalHeader64
		if !img.readStruct(optionalOffset, &h) {
			return
		}
		img.optional = h.normalize()
		directoryOffset += optionalHeader64Size
	}
	img.hasOptional = true

	var dirs [NumDirectories]DataDirectory
	if !img.readStruct(directoryOffset, &dirs) {
		img.log.WithField("offset", directoryOffset).Debug("pe: truncated directory table")
		return
	}
	img.directories = dirs
}

// readStruct decodes a little-endian record at an absolute stream offset,
// through the relocation-aware reader.
func (img *Image) readStruct(offset int64, v interface{}) bool {
	size := binary.Size(v)
	if size <= 0 {
		return false
	}
	buf := getBuffer(size)
	defer putBuffer(buf)

	if img.ReadAtOffset(offset, *buf) != size {
		return false
	}
	_, err := binary.Decode(*buf, binary.LittleEndian, v)
	return err == nil
}

// IsValid reports whether the stream starts with valid DOS and PE headers.
func (img *Image) IsValid() bool { return img.valid }

// IsVirtual reports whether the image is read as an already-mapped layout.
func (img *Image) IsVirtual() bool { return img.opts.IsVirtual }

// LoadedBase returns the base address reads are rebased to, or 0.
func (img *Image) LoadedBase() uint64 { return img.opts.LoadedBase }

// IsPE64 reports whether the optional header is PE32+.
func (img *Image) IsPE64() bool {
	return img.hasOptional && img.optional.Magic != OptionalMagic32
}

// HasOptionalHeader reports whether the optional header could be read.
func (img *Image) HasOptionalHeader() bool { return img.hasOptional }

// PEHeaderOffset returns the file offset of the PE signature.
func (img *Image) PEHeaderOffset() int32 { return img.peHeaderOffset }

// FileHeader returns the COFF file header.
func (img *Image) FileHeader() FileHeader { return img.fileHeader }

// OptionalHeader returns the width-independent optional header fields.
func (img *Image) OptionalHeader() OptionalHeader { return img.optional }

// Machine returns the target machine type.
func (img *Image) Machine() uint16 { return img.fileHeader.Machine }

// IndexTimeStamp returns the COFF timestamp used in symbol store keys.
func (img *Image) IndexTimeStamp() uint32 { return img.fileHeader.TimeDateStamp }

// IndexFileSize returns SizeOfImage, used in symbol store keys.
func (img *Image) IndexFileSize() uint32 { return img.optional.SizeOfImage }

// ImageBase returns the preferred load address declared by the image.
func (img *Image) ImageBase() uint64 { return img.optional.ImageBase }

// Directory returns the data directory at index, or (0,0).
func (img *Image) Directory(index int) DataDirectory {
	if !img.valid || index < 0 || index >= NumDirectories {
		return DataDirectory{}
	}
	return img.directories[index]
}

func (img *Image) checkOpen() {
	if img.closed {
		panic(ErrClosed)
	}
}
