package pe

import (
	"encoding/binary"
	"io"
	"sort"
)

// Read reads len(buf) bytes at a relative virtual address and returns the
// number of bytes delivered. Unmapped addresses and short streams yield short
// reads, never errors.
func (img *Image) Read(rva int32, buf []byte) int {
	img.checkOpen()
	off := img.RvaToOffset(rva)
	if off < 0 {
		return 0
	}
	return img.ReadAtOffset(int64(off), buf)
}

// ReadAtOffset reads len(buf) bytes at an absolute stream offset. When the
// image was opened with a loaded base, every relocated field overlapping the
// request is rebased before it is returned, even if the request covers only
// part of the field.
func (img *Image) ReadAtOffset(offset int64, buf []byte) int {
	img.checkOpen()
	if len(buf) == 0 || offset < 0 {
		return 0
	}
	if len(img.relocations) == 0 {
		return img.readRaw(offset, buf)
	}
	return img.readRelocated(offset, buf)
}

func (img *Image) seekTo(offset int64) bool {
	if offset == img.offset {
		return true
	}
	pos, err := img.stream.Seek(offset, io.SeekStart)
	if err != nil || pos != offset {
		img.offset = -1
		return false
	}
	img.offset = pos
	return true
}

func (img *Image) readRaw(offset int64, buf []byte) int {
	if !img.seekTo(offset) {
		return 0
	}
	n, err := io.ReadFull(img.stream, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		// The stream position is unknown after a failed read.
		img.offset = -1
		return n
	}
	img.offset += int64(n)
	return n
}

// boundary classifies a stream offset against the relocation boundary list.
type boundary int

const (
	beforeAll boundary = iota
	betweenIntervals
	onOpen
	onClose
	insideInterval
)

// classify locates offset in the boundary list. The returned index is the
// first boundary >= offset.
func classify(bounds []int64, offset int64) (boundary, int) {
	i := sort.Search(len(bounds), func(i int) bool { return bounds[i] >= offset })
	switch {
	case i < len(bounds) && bounds[i] == offset && i%2 == 0:
		return onOpen, i
	case i < len(bounds) && bounds[i] == offset:
		return onClose, i
	case i%2 == 1:
		return insideInterval, i
	case i == 0:
		return beforeAll, i
	default:
		return betweenIntervals, i
	}
}

// window widens [first, last] so it fully contains every relocation interval
// it touches, without reaching into intervals it does not touch.
func (img *Image) window(first, last int64) (int64, int64) {
	bounds := img.relocations

	begin := first
	switch kind, i := classify(bounds, first); kind {
	case onClose, insideInterval:
		begin = bounds[i-1]
	}

	end := last
	switch kind, i := classify(bounds, last); kind {
	case onOpen:
		end = bounds[i+1]
	case insideInterval:
		end = bounds[i]
	}
	return begin, end
}

func (img *Image) readRelocated(offset int64, buf []byte) int {
	begin, end := img.window(offset, offset+int64(len(buf))-1)

	scratch := getBuffer(int(end - begin + 1))
	defer putBuffer(scratch)

	n := img.readRaw(begin, *scratch)
	data := (*scratch)[:n]
	img.applyRelocations(begin, data)

	head := int(offset - begin)
	if n <= head {
		return 0
	}
	return copy(buf, data[head:])
}

// applyRelocations rebases every interval lying entirely inside data, which
// starts at stream offset begin.
func (img *Image) applyRelocations(begin int64, data []byte) {
	if len(data) == 0 {
		return
	}
	bounds := img.relocations
	last := begin + int64(len(data)) - 1
	pairs := len(bounds) / 2

	k := sort.Search(pairs, func(k int) bool { return bounds[2*k] >= begin })
	for ; k < pairs; k++ {
		start, stop := bounds[2*k], bounds[2*k+1]
		if stop > last {
			break
		}
		field := data[start-begin : stop-begin+1]
		switch len(field) {
		case 4:
			v := binary.LittleEndian.Uint32(field)
			binary.LittleEndian.PutUint32(field, v-uint32(img.optional.ImageBase)+uint32(img.opts.LoadedBase))
		case 8:
			v := binary.LittleEndian.Uint64(field)
			binary.LittleEndian.PutUint64(field, v-img.optional.ImageBase+img.opts.LoadedBase)
		}
	}
}
