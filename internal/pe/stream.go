package pe

import (
	"bytes"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// OpenFile memory-maps the file at path and reads it as an on-disk image.
// The returned Image owns the mapping; LeaveOpen is ignored.
func OpenFile(path string, opts Options) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "打开PE文件失败")
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "获取文件信息失败")
	}

	src := &mappedFile{file: f}
	// mmap rejects empty files; an empty image simply reads as invalid.
	if stat.Size() > 0 {
		src.data, err = mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			_ = f.Close()
			return nil, errors.Wrap(err, "映射PE文件失败")
		}
	}
	src.Reader = bytes.NewReader(src.data)

	opts.LeaveOpen = false
	img, err := New(src, opts)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return img, nil
}

// mappedFile is a read-only mapping of a file.
type mappedFile struct {
	*bytes.Reader
	file *os.File
	data mmap.MMap
}

func (m *mappedFile) Close() error {
	var err error
	if m.data != nil {
		err = m.data.Unmap()
	}
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// AddressSpace is a sparse, possibly unreadable, virtual address range such
// as a crash dump or a live process.
type AddressSpace interface {
	ReadAt(p []byte, addr uint64) (int, error)
}

// AddressSpaceStream adapts an AddressSpace to io.ReadSeeker. Offset 0 maps
// to the base address given to NewAddressSpaceStream.
type AddressSpaceStream struct {
	as   AddressSpace
	base uint64
	size int64
	pos  int64
}

// NewAddressSpaceStream returns a stream over [base, base+size). A size of
// 0 leaves the stream unbounded.
func NewAddressSpaceStream(as AddressSpace, base uint64, size int64) *AddressSpaceStream {
	return &AddressSpaceStream{as: as, base: base, size: size}
}

func (s *AddressSpaceStream) Read(p []byte) (int, error) {
	if s.size > 0 {
		if s.pos >= s.size {
			return 0, io.EOF
		}
		if rem := s.size - s.pos; int64(len(p)) > rem {
			p = p[:rem]
		}
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := s.as.ReadAt(p, s.base+uint64(s.pos))
	s.pos += int64(n)
	if n == 0 && err == nil {
		// Unmapped memory: report it as the end of the stream.
		err = io.EOF
	}
	return n, err
}

func (s *AddressSpaceStream) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = s.pos + offset
	case io.SeekEnd:
		if s.size == 0 {
			return 0, errors.New("pe: unbounded address space has no end")
		}
		pos = s.size + offset
	default:
		return 0, errors.New("pe: invalid whence")
	}
	if pos < 0 {
		return 0, errors.New("pe: negative position")
	}
	s.pos = pos
	return pos, nil
}
